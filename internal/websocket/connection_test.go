package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// wsPair upgrades one server-side socket and dials it, returning the wrapped
// transport and the raw client side.
func wsPair(t *testing.T, bufferSize int, writeTimeout time.Duration) (*Connection, *websocket.Conn) {
	t.Helper()

	serverConn := make(chan *Connection, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		serverConn <- NewConnection(conn, bufferSize, writeTimeout)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { clientConn.Close() })

	select {
	case c := <-serverConn:
		t.Cleanup(func() { c.Close() })
		return c, clientConn
	case <-time.After(2 * time.Second):
		t.Fatal("server connection never arrived")
		return nil, nil
	}
}

func TestConnection_SendMessage(t *testing.T) {
	conn, client := wsPair(t, 16, time.Second)

	msg := map[string]string{"type": "HEARTBEAT_ACK", "note": "hello"}
	if err := conn.SendMessage(msg); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got map[string]string
	if err := client.ReadJSON(&got); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if got["type"] != "HEARTBEAT_ACK" || got["note"] != "hello" {
		t.Errorf("unexpected frame: %v", got)
	}
}

func TestConnection_ConcurrentWritersStayWhole(t *testing.T) {
	conn, client := wsPair(t, 256, 2*time.Second)

	const writers = 8
	const perWriter = 25

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				msg := map[string]interface{}{"writer": w, "seq": i}
				if err := conn.SendMessage(msg); err != nil {
					t.Errorf("writer %d send %d failed: %v", w, i, err)
					return
				}
			}
		}(w)
	}

	// Every frame must arrive as intact JSON; interleaved partial writes
	// would produce unparsable frames.
	seen := make(map[string]bool)
	_ = client.SetReadDeadline(time.Now().Add(5 * time.Second))
	for len(seen) < writers*perWriter {
		_, data, err := client.ReadMessage()
		if err != nil {
			t.Fatalf("read failed after %d frames: %v", len(seen), err)
		}
		var got struct {
			Writer int `json:"writer"`
			Seq    int `json:"seq"`
		}
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("frame corrupted: %q err=%v", data, err)
		}
		seen[fmt.Sprintf("%d/%d", got.Writer, got.Seq)] = true
	}
	wg.Wait()
}

func TestConnection_SendAfterClose(t *testing.T) {
	conn, _ := wsPair(t, 16, time.Second)

	if err := conn.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := conn.SendMessage(map[string]string{"k": "v"}); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("expected ErrConnectionClosed, got %v", err)
	}
}

func TestConnection_CloseIdempotent(t *testing.T) {
	conn, _ := wsPair(t, 16, time.Second)
	if err := conn.Close(); err != nil {
		t.Fatalf("first close failed: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}
}

func TestConnection_CloseWithStatusSendsCloseFrame(t *testing.T) {
	conn, client := wsPair(t, 16, time.Second)

	if err := conn.CloseWithStatus("too many protocol violations"); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := client.ReadMessage()
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		t.Fatalf("expected a close frame, got %v", err)
	}
	if closeErr.Code != websocket.ClosePolicyViolation {
		t.Errorf("expected policy violation close code, got %d", closeErr.Code)
	}
	if closeErr.Text != "too many protocol violations" {
		t.Errorf("close reason lost: %q", closeErr.Text)
	}
}

func TestConnection_UnmarshalableValue(t *testing.T) {
	conn, _ := wsPair(t, 16, time.Second)
	if err := conn.SendMessage(make(chan int)); !errors.Is(err, ErrInvalidJSON) {
		t.Errorf("expected ErrInvalidJSON, got %v", err)
	}
}
