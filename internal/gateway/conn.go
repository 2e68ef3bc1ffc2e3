// ABOUTME: WebSocket endpoint serving one board client per connection
// ABOUTME: Reads request envelopes sequentially and drains the connection's room queue to the socket

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/2389/board-gateway/internal/auth"
	"github.com/2389/board-gateway/internal/protocol"
	"github.com/2389/board-gateway/internal/room"
)

const (
	// maxFrameBytes bounds a single request frame.
	maxFrameBytes = 1 << 20
	// writeTimeout bounds a single outbound frame write.
	writeTimeout = 10 * time.Second
)

// handleWebSocket upgrades the request and serves the connection until the
// client goes away. Requests on one connection are handled in order.
func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: g.config.Server.AllowedOrigins,
	})
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	c.SetReadLimit(maxFrameBytes)

	memberID := uuid.NewString()
	logger := g.logger.With("member", memberID)

	// The request context is canceled once the handler returns, which is
	// exactly the connection's lifetime.
	ctx, cancel := context.WithCancel(auth.ConnectionContext(r.Context(), r))
	defer cancel()

	queue := room.NewQueue(memberID, g.config.Board.SendBuffer)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		g.writeLoop(ctx, c, queue)
		cancel()
	}()

	g.connections.Add(1)
	logger.Info("client connected", "remote", r.RemoteAddr)

	g.readLoop(ctx, c, queue)

	g.rooms.LeaveAll(memberID)
	queue.Close()
	<-writerDone
	g.connections.Add(-1)

	_ = c.Close(websocket.StatusNormalClosure, "")
	logger.Info("client disconnected")
}

func (g *Gateway) readLoop(ctx context.Context, c *websocket.Conn, queue *room.Queue) {
	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				g.logger.Debug("websocket read ended", "member", queue.ID(), "error", err)
			}
			return
		}
		if typ != websocket.MessageText {
			g.rooms.Reply(queue, protocol.ErrorMessage(protocol.TypeError, "binary frames are not supported", nil))
			continue
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			g.rooms.Reply(queue, protocol.ErrorMessage(protocol.TypeError, "malformed request envelope", nil))
			continue
		}

		g.coordinator.Dispatch(ctx, queue, env)
	}
}

func (g *Gateway) writeLoop(ctx context.Context, c *websocket.Conn, queue *room.Queue) {
	for msg := range queue.C() {
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := wsjson.Write(wctx, c, msg)
		cancel()
		if err != nil {
			g.logger.Debug("websocket write failed", "member", queue.ID(), "error", err)
			return
		}
	}
}
