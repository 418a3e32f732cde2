package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"ResearchPipeline/internal/broadcast"
	"ResearchPipeline/internal/domain"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type snapshotFrame struct {
	Type     string           `json:"type"`
	Messages []domain.Message `json:"messages"`
}

type statusFrame struct {
	Type   string               `json:"type"`
	Status domain.RunStatusView `json:"status"`
}

// conversationSocket tails a conversation. The subscription is taken before
// the snapshot is read so no event falls between the two; clients dedupe by
// message id.
func (h *Handler) conversationSocket(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationId")
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	sub := h.hub.Subscribe(conversationID)
	defer h.hub.Unsubscribe(sub)

	msgs, err := h.research.Messages(r.Context(), conversationID)
	if err != nil {
		h.closeWithError(conn, err)
		return
	}
	if err := writeFrame(conn, snapshotFrame{Type: "snapshot", Messages: msgs}); err != nil {
		_ = conn.Close()
		return
	}
	h.pump(r.Context(), conn, sub)
}

// runSocket tails the progress of one run.
func (h *Handler) runSocket(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runId")
	view, err := h.research.Status(r.Context(), runID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	sub := h.hub.Subscribe(runID)
	defer h.hub.Unsubscribe(sub)

	if err := writeFrame(conn, statusFrame{Type: "status", Status: view}); err != nil {
		_ = conn.Close()
		return
	}
	h.pump(r.Context(), conn, sub)
}

// pump forwards events until the client goes away, the request ends, or the
// subscription is dropped.
func (h *Handler) pump(ctx context.Context, conn *websocket.Conn, sub *broadcast.Subscription) {
	defer conn.Close()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(4096)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.logger.Debug("websocket read ended", "error", err)
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				h.logger.Info("subscriber dropped", "scope", sub.Scope())
				closeConn(conn, websocket.CloseTryAgainLater, "subscriber fell behind")
				return
			}
			if err := writeFrame(conn, ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			return
		case <-ctx.Done():
			closeConn(conn, websocket.CloseGoingAway, "server shutting down")
			return
		}
	}
}

func (h *Handler) closeWithError(conn *websocket.Conn, err error) {
	code := websocket.CloseInternalServerErr
	if errors.Is(err, context.Canceled) {
		code = websocket.CloseGoingAway
	}
	closeConn(conn, code, err.Error())
	_ = conn.Close()
}

func writeFrame(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

func closeConn(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
