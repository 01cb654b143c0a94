package web

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/invoicevox/internal/engine"
)

// eventWriteTimeout bounds a single websocket write. A client slower than
// this is disconnected.
const eventWriteTimeout = 5 * time.Second

// eventMessage is the JSON form of an [engine.Event].
type eventMessage struct {
	RequestID  string    `json:"request_id"`
	Key        string    `json:"key,omitempty"`
	State      string    `json:"state"`
	Time       time.Time `json:"time"`
	Error      string    `json:"error,omitempty"`
	PlaybackID string    `json:"playback_id,omitempty"`
	DurationMS int64     `json:"duration_ms,omitempty"`
}

func newEventMessage(ev engine.Event) eventMessage {
	m := eventMessage{
		RequestID:  ev.RequestID,
		Key:        ev.Key,
		State:      ev.State.String(),
		Time:       ev.Time,
		PlaybackID: ev.PlaybackID,
		DurationMS: ev.Duration.Milliseconds(),
	}
	if ev.Err != nil {
		m.Error = ev.Err.Error()
	}
	return m
}

// handleEvents handles GET /api/events. It upgrades to a websocket and sends
// one JSON text message per state transition until the client disconnects or
// the reader shuts down. The optional query parameter "key" restricts the
// stream to one supersede key.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Debug("web: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	filter := r.URL.Query().Get("key")
	events, unsubscribe := s.reader.Events().Subscribe(0)
	defer unsubscribe()

	// The feed is one-way; CloseRead discards client messages and cancels
	// ctx when the client goes away.
	ctx := conn.CloseRead(context.WithoutCancel(r.Context()))

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			if filter != "" && ev.Key != filter {
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
			err := wsjson.Write(wctx, conn, newEventMessage(ev))
			cancel()
			if err != nil {
				slog.Debug("web: event write failed", "err", err)
				return
			}
		}
	}
}
