package httpx

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/PumpeDie/teamup/internal/stream"
	"github.com/PumpeDie/teamup/internal/ws"
)

func wantsEventStream(req *http.Request) bool {
	return strings.Contains(req.Header.Get("Accept"), "text/event-stream")
}

// serveWatch opens a stream for the caller and delivers it over SSE or a
// websocket. The stream is opened before the protocol switch so that
// authorization failures still get a plain HTTP status. Each connection owns
// its stream and stops it when the client goes away.
func serveWatch[T any](r *Router, w http.ResponseWriter, req *http.Request, open func(context.Context) (*stream.Stream[T], error)) {
	sse := wantsEventStream(req)
	if !sse && !websocket.IsWebSocketUpgrade(req) {
		writeError(w, http.StatusBadRequest, "watch requires a websocket upgrade or Accept: text/event-stream")
		return
	}
	ctx, cancel := context.WithCancel(req.Context())
	defer cancel()
	s, err := open(ctx)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	if sse {
		client, err := ws.NewSSEClient(w, r.logger)
		if err != nil {
			s.Stop()
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		defer client.Close()
		if err := ws.Pump(s, client, req.Context().Done(), r.heartbeat); err != nil {
			r.logger.Warn("watch ended with error", "path", req.URL.Path, "error", err)
		}
		return
	}

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		s.Stop()
		r.logger.Warn("websocket upgrade failed", "error", err, "path", req.URL.Path)
		return
	}
	client := ws.NewClient(conn, r.logger)
	defer client.Close()
	gone := make(chan struct{})
	go client.Drain(gone)
	if err := ws.Pump(s, client, gone, r.heartbeat); err != nil {
		r.logger.Warn("watch ended with error", "path", req.URL.Path, "error", err)
	}
}
