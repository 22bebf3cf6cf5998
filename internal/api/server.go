package api

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"relaygate/internal/mux"
	"relaygate/internal/registry"
)

// Server is the read-only diagnostics surface: no business logic, only
// snapshots of registry and multiplexer state serialized as JSON.
type Server struct {
	registry  *registry.Registry
	tunnels   *mux.Multiplexer
	startTime time.Time
	router    *http.ServeMux
}

func NewServer(reg *registry.Registry, tunnels *mux.Multiplexer) *Server {
	s := &Server{
		registry:  reg,
		tunnels:   tunnels,
		startTime: time.Now(),
		router:    http.NewServeMux(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Handle("/api/clients", s.jsonMiddleware(http.HandlerFunc(s.listClients)))
	s.router.Handle("/health", s.jsonMiddleware(http.HandlerFunc(s.healthCheck)))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// clientInfo is the wire form of one ClientConnection snapshot.
type clientInfo struct {
	ClientID      string    `json:"clientId"`
	RemoteAddr    string    `json:"remoteAddr"`
	Authenticated bool      `json:"authenticated"`
	UserID        string    `json:"userId,omitempty"`
	ConnectedAt   time.Time `json:"connectedAt"`
	LastActivity  time.Time `json:"lastActivity"`
	OpenTunnels   int       `json:"openTunnels"`
}

func (s *Server) listClients(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clients := s.registry.GetAll()
	infos := make([]clientInfo, 0, len(clients))
	for _, client := range clients {
		infos = append(infos, clientInfo{
			ClientID:      client.ClientID,
			RemoteAddr:    client.RemoteAddr,
			Authenticated: client.IsAuthenticated(),
			UserID:        client.UserID(),
			ConnectedAt:   client.ConnectedAt,
			LastActivity:  client.LastActivity(),
			OpenTunnels:   s.tunnels.Count(client.ClientID),
		})
	}

	s.sendJSON(w, map[string]interface{}{"clients": infos}, http.StatusOK)
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := s.registry.Stats()
	s.sendJSON(w, map[string]interface{}{
		"status":         "healthy",
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
		"clients":        stats["total_clients"],
		"authenticated":  stats["authenticated_clients"],
		"open_tunnels":   s.tunnels.Total(),
	}, http.StatusOK)
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) sendJSON(w http.ResponseWriter, payload interface{}, status int) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("diagnostics encode failed: %v", err)
	}
}

func (s *Server) sendError(w http.ResponseWriter, message string, status int) {
	s.sendJSON(w, map[string]string{"error": message}, status)
}
