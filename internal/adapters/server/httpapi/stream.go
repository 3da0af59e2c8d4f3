package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hylla/shiftsync/internal/adapters/server/common"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Stream end reasons carried by the final bye frame.
const (
	byeSessionExpired = "session_expired"
	byeFeedError      = "feed_error"
)

// byeWriteTimeout bounds the final frame write after the session context ends.
const byeWriteTimeout = 5 * time.Second

// byeFrame tells a client where to resume after the server ends a stream.
type byeFrame struct {
	Watermark int64  `json:"watermark"`
	Reason    string `json:"reason"`
}

// wsFrame is one WebSocket message.
type wsFrame struct {
	Type      string                `json:"type"`
	Op        *common.OperationView `json:"op,omitempty"`
	Watermark int64                 `json:"watermark"`
	Reason    string                `json:"reason,omitempty"`
}

// handleEvents serves GET `/events` as a server-sent event stream.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if h.services.Feed == nil {
		writeNotImplemented(w, "operation feed")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, APIError{
			Code:    "streaming_unsupported",
			Message: "response writer does not support flushing",
		})
		return
	}
	req, err := subscribeRequest(r)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.MaxSession)
	defer cancel()
	stream, err := h.services.Feed.Subscribe(ctx, req)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ping := time.NewTicker(h.cfg.PingInterval)
	defer ping.Stop()
	for {
		select {
		case op, ok := <-stream.Ops():
			if !ok {
				if reason := h.byeReason(ctx, stream, req); reason != "" {
					_ = writeSSEBye(w, byeFrame{Watermark: stream.Watermark(), Reason: reason})
					flusher.Flush()
				}
				return
			}
			if err := writeSSEOp(w, common.NewOperationView(op)); err != nil {
				h.logger.Debug("sse client went away", "team", req.Team, "err", err)
				return
			}
			flusher.Flush()
		case <-ping.C:
			if err := writeSSEPing(w); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// handleWebSocket serves GET `/ws` with the same feed as `/events`.
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.services.Feed == nil {
		writeNotImplemented(w, "operation feed")
		return
	}
	req, err := subscribeRequest(r)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.MaxSession)
	defer cancel()
	stream, err := h.services.Feed.Subscribe(ctx, req)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.cfg.WSOriginPatterns,
	})
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "team", req.Team, "err", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream ended")

	// CloseRead cancels readCtx once the peer closes or sends an unexpected message.
	readCtx := conn.CloseRead(ctx)
	ping := time.NewTicker(h.cfg.PingInterval)
	defer ping.Stop()
	for {
		select {
		case op, ok := <-stream.Ops():
			if !ok {
				h.closeWebSocket(ctx, conn, stream, req)
				return
			}
			view := common.NewOperationView(op)
			if err := wsjson.Write(readCtx, conn, wsFrame{Type: "op", Op: &view, Watermark: op.Seq}); err != nil {
				h.logger.Debug("websocket client went away", "team", req.Team, "err", err)
				return
			}
		case <-readCtx.Done():
			h.closeWebSocket(ctx, conn, stream, req)
			return
		case <-ping.C:
			if err := conn.Ping(readCtx); err != nil {
				return
			}
		}
	}
}

// closeWebSocket sends the bye frame and a normal closure when the server ended the session.
func (h *Handler) closeWebSocket(sessionCtx context.Context, conn *websocket.Conn, stream common.OpStream, req common.SubscribeRequest) {
	reason := h.byeReason(sessionCtx, stream, req)
	if reason == "" {
		return
	}
	writeCtx, cancel := context.WithTimeout(context.Background(), byeWriteTimeout)
	defer cancel()
	_ = wsjson.Write(writeCtx, conn, wsFrame{Type: "bye", Watermark: stream.Watermark(), Reason: reason})
	_ = conn.Close(websocket.StatusNormalClosure, reason)
}

// byeReason reports why the server ended a stream, or "" when the client left first.
func (h *Handler) byeReason(sessionCtx context.Context, stream common.OpStream, req common.SubscribeRequest) string {
	if err := stream.Err(); err != nil {
		h.logger.Warn("change feed stream failed", "team", req.Team, "watermark", stream.Watermark(), "err", err)
		return byeFeedError
	}
	if errors.Is(sessionCtx.Err(), context.DeadlineExceeded) {
		return byeSessionExpired
	}
	return ""
}

// subscribeRequest parses stream filters; `since` wins over Last-Event-ID.
func subscribeRequest(r *http.Request) (common.SubscribeRequest, error) {
	query := r.URL.Query()
	rawSince := strings.TrimSpace(query.Get("since"))
	if rawSince == "" {
		rawSince = strings.TrimSpace(r.Header.Get("Last-Event-ID"))
	}
	since, err := parseInt64Query(rawSince, "since")
	if err != nil {
		return common.SubscribeRequest{}, err
	}
	return common.SubscribeRequest{
		Team:  strings.TrimSpace(query.Get("team")),
		Day:   strings.TrimSpace(query.Get("day")),
		Since: since,
	}, nil
}

// writeSSEOp writes one operation event whose id is its sequence number.
func writeSSEOp(w io.Writer, op common.OperationView) error {
	data, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("encode op %d: %w", op.Seq, err)
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: op\ndata: %s\n\n", op.Seq, data)
	return err
}

// writeSSEPing writes one keep-alive comment.
func writeSSEPing(w io.Writer) error {
	_, err := io.WriteString(w, ":ping\n\n")
	return err
}

// writeSSEBye writes the final event of a server-ended stream.
func writeSSEBye(w io.Writer, bye byeFrame) error {
	data, err := json.Marshal(bye)
	if err != nil {
		return fmt.Errorf("encode bye: %w", err)
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: bye\ndata: %s\n\n", bye.Watermark, data)
	return err
}
