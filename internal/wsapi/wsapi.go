// Package wsapi upgrades `GET /api/ws?slug=...&token=...` connections
// and pumps wire frames between the socket and internal/hub (§6, §3-4).
//
// Grounded on the teacher's agent/main.go serveWs/readPump/writePump
// (one goroutine reading, one writing, a buffered send channel in
// between), generalized from a single hardcoded document's `applyOp`/
// `hub.broadcast` pair into the hub's full join/edit/cursor/ime/
// profile/ping frame dispatch (§4.5).
package wsapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/prosemark/server/internal/apperr"
	"github.com/prosemark/server/internal/auth"
	"github.com/prosemark/server/internal/document"
	"github.com/prosemark/server/internal/hub"
	"github.com/prosemark/server/internal/proto"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server wires gorilla/websocket connections into a hub.
type Server struct {
	hub        *hub.Hub
	log        *zap.Logger
	queueSize  int
	ratePerSec float64
}

func New(h *hub.Hub, log *zap.Logger, queueSize int, ratePerSec float64) *Server {
	return &Server{hub: h, log: log, queueSize: queueSize, ratePerSec: ratePerSec}
}

// ServeHTTP handles the upgrade and starts a session's read/write
// pumps. It returns once the connection closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	slug := r.URL.Query().Get("slug")
	if slug == "" {
		http.Error(w, "missing slug", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}

	sess := hub.NewSession(slug, s.queueSize)
	limiter := rate.NewLimiter(rate.Limit(s.ratePerSec), int(s.ratePerSec))
	go s.writePump(conn, sess)
	s.readPump(conn, sess, slug, r, limiter)
}

func (s *Server) writePump(conn *websocket.Conn, sess *hub.Session) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()
	for {
		select {
		case frame, ok := <-sess.Outbound():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := conn.WriteJSON(frame); err != nil {
				return
			}
		case <-sess.Done():
			// outbound queue overflow (§4.5): 1013, "try again later"
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "try again later"))
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) readPump(conn *websocket.Conn, sess *hub.Session, slug string, initial *http.Request, limiter *rate.Limiter) {
	defer func() {
		s.hub.Unregister(sess)
		conn.Close()
	}()
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	tokenPassword, _ := auth.ExtractPassword(initial, slug)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame proto.ClientFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			s.log.Debug("ws: malformed frame", zap.Error(err))
			continue
		}
		if frame.Type == proto.FrameEdit && !limiter.Allow() {
			sess.Enqueue(errorFrame(sess.Slug, apperr.New(apperr.RateLimited, "too many edits, slow down")))
			continue
		}
		s.dispatch(sess, frame, tokenPassword)
	}
}

func (s *Server) dispatch(sess *hub.Session, frame proto.ClientFrame, tokenPassword string) {
	now := time.Now().UnixMilli()
	switch frame.Type {
	case proto.FrameJoin:
		password := tokenPassword
		snapshot, presenceSnap, err := s.hub.HandleJoin(sess, frame.ClientID, password, frame.Label, frame.Color, now)
		if err != nil {
			sess.Enqueue(errorFrame(sess.Slug, err))
			return
		}
		sess.Enqueue(snapshot)
		if snapshot.Auth == "ok" {
			sess.Enqueue(presenceSnap)
		}

	case proto.FrameEdit:
		if frame.Edit == nil {
			return
		}
		req := document.EditRequest{
			BaseRev:     frame.Edit.BaseRev,
			Ops:         proto.OpsToEngine(frame.Edit.Ops),
			AuthorID:    frame.Edit.AuthorID,
			OpID:        frame.Edit.OpID,
			CursorAfter: frame.Edit.CursorAfter,
			Ts:          frame.Edit.Ts,
		}
		// HandleEdit broadcasts `applied` to every session on this slug,
		// author included (§4.3 step 9) — nothing more to send here.
		if _, err := s.hub.HandleEdit(sess, req); err != nil {
			sess.Enqueue(errorFrame(sess.Slug, err))
			return
		}

	case proto.FrameCursor:
		if frame.Cursor == nil {
			return
		}
		s.hub.HandleCursor(sess, *frame.Cursor, now)

	case proto.FrameIme:
		if frame.Ime == nil {
			return
		}
		s.hub.HandleIme(sess, *frame.Ime, now)

	case proto.FrameProfile:
		s.hub.HandleProfile(sess, frame.Label, frame.Color, now)

	case proto.FramePing:
		sess.Enqueue(s.hub.HandlePing(sess, now))

	default:
		// unknown frame types are ignored, not fatal (§9)
	}
}

func errorFrame(slug string, err error) proto.ServerFrame {
	return proto.ServerFrame{Type: proto.FrameError, Slug: slug, Error: err.Error()}
}
