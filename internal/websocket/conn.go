package websocket

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bhandras/relay/internal/session"
	"github.com/bhandras/relay/pkg/logger"
	"github.com/gorilla/websocket"
)

const closeGracePeriod = time.Second

// conn adapts a gorilla connection to session.Transport and runs its read
// and write pumps.
type conn struct {
	ws     *websocket.Conn
	opts   Options
	cancel context.CancelFunc

	closeOnce sync.Once
}

// Close implements session.Transport. It may be called from any goroutine
// and returns immediately; the close frame is written in the background since
// the write pump can hold the write lock while blocked on a slow reader.
func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		go func() {
			deadline := time.Now().Add(closeGracePeriod)
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			_ = c.ws.Close()
		}()
		_ = c.ws.NetConn().SetReadDeadline(time.Now())
	})
	return nil
}

// readLoop feeds inbound text frames to handle in arrival order until the
// connection fails or ctx ends.
func (c *conn) readLoop(ctx context.Context, id string, handle func(context.Context, string, []byte)) {
	c.ws.SetReadLimit(c.opts.ReadLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			switch {
			case errors.Is(err, websocket.ErrReadLimit):
				logger.Infof("[ws] %s exceeded read limit", id)
			case websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived):
				logger.Debugf("[ws] %s read error: %v", id, err)
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		handle(ctx, id, data)
	}
}

// writeLoop drains the session's outbound queue and keeps the connection
// alive with pings. It is the only writer of data frames.
func (c *conn) writeLoop(s *session.Session) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case frame := <-s.Outbound():
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				logger.Debugf("[ws] %s write error: %v", s.ID(), err)
				_ = c.ws.Close()
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(c.opts.WriteTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				logger.Debugf("[ws] %s ping error: %v", s.ID(), err)
				_ = c.ws.Close()
				return
			}
		case <-s.Done():
			return
		}
	}
}
