package registry

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeTransport records sends and closes without a real socket.
type fakeTransport struct {
	mu       sync.Mutex
	sent     []interface{}
	closed   bool
	closeMsg string
}

func (f *fakeTransport) SendMessage(v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, v)
	return nil
}

func (f *fakeTransport) CloseWithStatus(reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.closeMsg = reason
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// spyCloser records cascading CloseAll calls from the registry.
type spyCloser struct {
	mu    sync.Mutex
	calls []string
}

func (s *spyCloser) CloseAll(clientID string) {
	s.mu.Lock()
	s.calls = append(s.calls, clientID)
	s.mu.Unlock()
}

func (s *spyCloser) callCount(clientID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, id := range s.calls {
		if id == clientID {
			count++
		}
	}
	return count
}

func TestRegistry_Register(t *testing.T) {
	reg := NewRegistry(&spyCloser{})

	client, err := reg.Register("client-1", &fakeTransport{}, "10.0.0.5:1234")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if client.ClientID != "client-1" || client.RemoteAddr != "10.0.0.5:1234" {
		t.Errorf("unexpected record: %+v", client)
	}
	if client.IsAuthenticated() {
		t.Error("fresh connection must start unauthenticated")
	}
	if client.ConnectedAt.IsZero() || client.LastActivity().IsZero() {
		t.Error("timestamps should be initialized")
	}
}

func TestRegistry_RegisterNilTransport(t *testing.T) {
	reg := NewRegistry(&spyCloser{})
	if _, err := reg.Register("client-1", nil, "addr"); !errors.Is(err, ErrNilTransport) {
		t.Errorf("expected ErrNilTransport, got %v", err)
	}
}

func TestRegistry_DuplicateClientID(t *testing.T) {
	reg := NewRegistry(&spyCloser{})

	if _, err := reg.Register("client-1", &fakeTransport{}, "a"); err != nil {
		t.Fatalf("first register failed: %v", err)
	}
	if _, err := reg.Register("client-1", &fakeTransport{}, "b"); !errors.Is(err, ErrClientAlreadyRegistered) {
		t.Errorf("expected ErrClientAlreadyRegistered, got %v", err)
	}
}

func TestRegistry_Attach(t *testing.T) {
	reg := NewRegistry(&spyCloser{})
	_, _ = reg.Register("client-1", &fakeTransport{}, "a")

	if err := reg.Attach("client-1", "tok-123", "alice"); err != nil {
		t.Fatalf("attach failed: %v", err)
	}

	client, _ := reg.Get("client-1")
	if !client.IsAuthenticated() {
		t.Error("attach must mark the connection authenticated")
	}
	if client.SessionToken() != "tok-123" || client.UserID() != "alice" {
		t.Errorf("unexpected session state: token=%s user=%s", client.SessionToken(), client.UserID())
	}

	if err := reg.Attach("ghost", "tok", "user"); !errors.Is(err, ErrClientNotFound) {
		t.Errorf("expected ErrClientNotFound, got %v", err)
	}
}

func TestRegistry_RemoveCascades(t *testing.T) {
	closer := &spyCloser{}
	reg := NewRegistry(closer)
	client, _ := reg.Register("client-1", &fakeTransport{}, "a")

	reg.Remove("client-1", client)

	if _, exists := reg.Get("client-1"); exists {
		t.Error("removed client should not be resolvable")
	}
	if closer.callCount("client-1") != 1 {
		t.Errorf("remove must cascade exactly one CloseAll, got %d", closer.callCount("client-1"))
	}

	// Idempotent: a second remove is a no-op and does not re-cascade.
	reg.Remove("client-1", client)
	if closer.callCount("client-1") != 1 {
		t.Error("repeated remove must not cascade again")
	}
}

func TestRegistry_RemoveIdentityChecked(t *testing.T) {
	closer := &spyCloser{}
	reg := NewRegistry(closer)

	first, _ := reg.Register("client-1", &fakeTransport{}, "a")
	reg.Remove("client-1", first)

	// Same ID reconnects; a stale teardown of the first instance must not
	// remove the new registration.
	second, _ := reg.Register("client-1", &fakeTransport{}, "b")
	reg.Remove("client-1", first)

	got, exists := reg.Get("client-1")
	if !exists || got != second {
		t.Error("stale remove must not displace a newer registration")
	}
}

func TestRegistry_GetAllAndStats(t *testing.T) {
	reg := NewRegistry(&spyCloser{})
	for i := 0; i < 3; i++ {
		_, _ = reg.Register(fmt.Sprintf("client-%d", i), &fakeTransport{}, "a")
	}
	_ = reg.Attach("client-0", "tok", "alice")

	if got := len(reg.GetAll()); got != 3 {
		t.Errorf("expected 3 clients, got %d", got)
	}

	stats := reg.Stats()
	if stats["total_clients"] != 3 {
		t.Errorf("expected total_clients=3, got %d", stats["total_clients"])
	}
	if stats["authenticated_clients"] != 1 {
		t.Errorf("expected authenticated_clients=1, got %d", stats["authenticated_clients"])
	}
}

func TestRegistry_Touch(t *testing.T) {
	reg := NewRegistry(&spyCloser{})
	client, _ := reg.Register("client-1", &fakeTransport{}, "a")

	before := client.LastActivity()
	time.Sleep(5 * time.Millisecond)
	reg.Touch("client-1")

	if !client.LastActivity().After(before) {
		t.Error("touch must advance last activity")
	}

	// Touching an unknown client is a no-op.
	reg.Touch("ghost")
}

func TestRegistry_SweepIdle(t *testing.T) {
	closer := &spyCloser{}
	reg := NewRegistry(closer)

	idleTransport := &fakeTransport{}
	_, _ = reg.Register("idle-client", idleTransport, "a")

	activeTransport := &fakeTransport{}
	_, _ = reg.Register("active-client", activeTransport, "b")

	time.Sleep(30 * time.Millisecond)
	reg.Touch("active-client")

	reg.sweepIdle(20 * time.Millisecond)

	if _, exists := reg.Get("idle-client"); exists {
		t.Error("idle client should be swept")
	}
	if !idleTransport.isClosed() {
		t.Error("sweep must close the idle transport")
	}
	if idleTransport.closeMsg != "idle timeout" {
		t.Errorf("close frame should carry the reason, got %q", idleTransport.closeMsg)
	}
	if closer.callCount("idle-client") != 1 {
		t.Error("sweep must cascade tunnel cleanup")
	}

	if _, exists := reg.Get("active-client"); !exists {
		t.Error("active client must survive the sweep")
	}
	if activeTransport.isClosed() {
		t.Error("active transport must stay open")
	}
}

func TestRegistry_ConcurrentRegisterRemove(t *testing.T) {
	reg := NewRegistry(&spyCloser{})

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("client-%d", n)
			client, err := reg.Register(id, &fakeTransport{}, "a")
			if err != nil {
				t.Errorf("register %s failed: %v", id, err)
				return
			}
			_ = reg.Attach(id, "tok", "user")
			reg.Touch(id)
			reg.Remove(id, client)
		}(i)
	}
	wg.Wait()

	if got := len(reg.GetAll()); got != 0 {
		t.Errorf("expected empty registry, got %d clients", got)
	}
}
