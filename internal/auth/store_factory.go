package auth

import (
	"log"

	"relaygate/pkg/interfaces"
)

// NewSessionStore picks the session backend from configuration: Redis when
// an address is given, a single-node in-memory table otherwise.
func NewSessionStore(redisAddr, redisPassword string, redisDB int) (interfaces.SessionStore, error) {
	if redisAddr == "" {
		log.Printf("session store: backend=memory")
		return NewMemorySessionStore(), nil
	}
	log.Printf("session store: backend=redis addr=%s db=%d", redisAddr, redisDB)
	return NewRedisSessionStore(redisAddr, redisPassword, redisDB)
}
