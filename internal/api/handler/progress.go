package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/go4it/marketplace/internal/core"
	"github.com/go4it/marketplace/internal/model"
	"github.com/go4it/marketplace/internal/progress"
)

const (
	defaultHeartbeat = 15 * time.Second
	wsWriteTimeout   = 10 * time.Second
)

// Progress streams OrgApp progress, as server-sent events or over a
// WebSocket. Both start with a state snapshot and end after a terminal
// event; a client that is cut off re-fetches state by reconnecting.
type Progress struct {
	orch      *core.Orchestrator
	origins   []string
	heartbeat time.Duration
}

func NewProgress(orch *core.Orchestrator, allowedOrigins []string) *Progress {
	return &Progress{orch: orch, origins: allowedOrigins, heartbeat: defaultHeartbeat}
}

func (h *Progress) subscribe(w http.ResponseWriter, r *http.Request) (*progress.Subscription, bool) {
	orgID, appID, ok := orgAppParams(w, r)
	if !ok {
		return nil, false
	}
	sub, err := h.orch.Subscribe(r.Context(), orgID, appID)
	if err != nil {
		writeServiceError(w, r, err)
		return nil, false
	}
	return sub, true
}

// Stream serves text/event-stream. Each event's id is its sequence number.
// A stream that ends before its terminal event sends "resync" last.
func (h *Progress) Stream(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.subscribe(w, r)
	if !ok {
		return
	}
	defer sub.Close()

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	logger := zerolog.Ctx(r.Context())
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	finished := false
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		case ev, open := <-sub.Events():
			if !open {
				if !finished {
					// Lagged, or the hub shut down mid-deploy.
					fmt.Fprint(w, "event: resync\ndata: {}\n\n")
					_ = rc.Flush()
				}
				return
			}
			if err := writeSSE(w, ev); err != nil {
				logger.Debug().Err(err).Msg("progress stream write failed")
				return
			}
			finished = ev.Terminal()
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func writeSSE(w http.ResponseWriter, ev model.ProgressEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", ev.Seq, data)
	return err
}

// Socket serves the same stream over a WebSocket with one JSON message per
// event. A lagging client is closed with StatusTryAgainLater and a stream
// cut before its terminal event with StatusGoingAway.
func (h *Progress) Socket(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.subscribe(w, r)
	if !ok {
		return
	}
	defer sub.Close()

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		zerolog.Ctx(r.Context()).Debug().Err(err).Msg("websocket accept failed")
		return
	}
	defer ws.CloseNow()

	// Clients never send; CloseRead handles pings and cancels ctx on close.
	ctx := ws.CloseRead(r.Context())

	finished := false
	for {
		select {
		case <-ctx.Done():
			return
		case ev, open := <-sub.Events():
			if !open {
				ws.Close(socketCloseStatus(finished, sub.Lagged()))
				return
			}
			if err := writeWS(ctx, ws, ev); err != nil {
				return
			}
			finished = ev.Terminal()
		}
	}
}

// socketCloseStatus reports NormalClosure only once a terminal event went
// out; anything else tells the client to reconnect and re-read state.
func socketCloseStatus(finished, lagged bool) (websocket.StatusCode, string) {
	switch {
	case finished:
		return websocket.StatusNormalClosure, ""
	case lagged:
		return websocket.StatusTryAgainLater, "fell behind, re-fetch state"
	default:
		return websocket.StatusGoingAway, "server shutting down"
	}
}

func writeWS(ctx context.Context, ws *websocket.Conn, ev model.ProgressEvent) error {
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, ws, ev)
}
