package preview

import (
	"bytes"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func testHub(t *testing.T) (*Hub, string) {
	t.Helper()
	h := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		h.Close()
		srv.Close()
	})
	return h, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.ClientCount() == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("ClientCount() = %d, want %d", h.ClientCount(), n)
}

func TestHub_BroadcastReachesClients(t *testing.T) {
	h, url := testHub(t)
	a := dial(t, url)
	b := dial(t, url)
	waitClients(t, h, 2)

	frame := []byte{0xff, 0xd8, 0x42, 0xff, 0xd9}
	if got := h.Broadcast(frame); got != 2 {
		t.Fatalf("Broadcast() = %d, want 2", got)
	}

	for _, conn := range []*websocket.Conn{a, b} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		typ, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage() error = %v", err)
		}
		if typ != websocket.BinaryMessage || !bytes.Equal(msg, frame) {
			t.Errorf("message = %d %x, want binary %x", typ, msg, frame)
		}
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if sent, _ := h.Stats(); sent == 2 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	sent, _ := h.Stats()
	t.Errorf("sent = %d, want 2", sent)
}

func TestHub_ClientDisconnect(t *testing.T) {
	h, url := testHub(t)
	conn := dial(t, url)
	waitClients(t, h, 1)

	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()
	waitClients(t, h, 0)

	if got := h.Broadcast([]byte{1}); got != 0 {
		t.Errorf("Broadcast() with no clients = %d, want 0", got)
	}
}

func TestHub_CloseDisconnectsClients(t *testing.T) {
	h, url := testHub(t)
	conn := dial(t, url)
	waitClients(t, h, 1)

	h.Close()
	if h.ClientCount() != 0 {
		t.Errorf("ClientCount() after Close = %d", h.ClientCount())
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("ReadMessage() after hub Close error = nil")
	}
}
