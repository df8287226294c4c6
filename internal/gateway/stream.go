package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const (
	streamBuffer       = 64
	streamWriteTimeout = 5 * time.Second
)

// handleEventStream upgrades to a WebSocket and pushes every security
// event recorded from then on as one JSON text message. A subscriber that
// falls behind loses events rather than slowing the pipeline.
func (g *Gateway) handleEventStream() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			g.logger.Warn("event stream upgrade failed", "error", err)
			return
		}
		defer func() { _ = conn.CloseNow() }()

		// The stream is write-only; CloseRead handles control frames and
		// cancels ctx when the client goes away.
		ctx := conn.CloseRead(r.Context())

		events, unsubscribe := g.chat.Events().Subscribe(streamBuffer)
		defer unsubscribe()

		g.logger.Debug("event stream opened", "remote_addr", r.RemoteAddr)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				wctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
				err := wsjson.Write(wctx, conn, ev)
				cancel()
				if err != nil {
					g.logger.Debug("event stream closed", "error", err)
					return
				}
			}
		}
	}
}
