package wsapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/prosemark/server/internal/hub"
)

// TestWritePumpSendsTryAgainLaterOnSessionOverflow drives a real
// upgrade/handshake and asserts the wire-level close code a
// backpressure-closed session produces is 1013 ("try again later",
// §4.5) rather than the websocket close opcode misencoded as a status.
func TestWritePumpSendsTryAgainLaterOnSessionOverflow(t *testing.T) {
	srv := &Server{log: zap.NewNop()}
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		sess := hub.NewSession("doc", 1)
		sess.Close() // simulates the outbound-queue-overflow disconnect
		srv.writePump(conn, sess)
	}))
	defer upstream.Close()

	wsURL := "ws" + strings.TrimPrefix(upstream.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	_, _, err = conn.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	if !ok {
		t.Fatalf("expected a *websocket.CloseError, got %T: %v", err, err)
	}
	if closeErr.Code != websocket.CloseTryAgainLater {
		t.Fatalf("close code = %d, want %d (CloseTryAgainLater)", closeErr.Code, websocket.CloseTryAgainLater)
	}
}
