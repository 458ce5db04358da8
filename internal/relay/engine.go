// Package relay is the protocol engine: it turns inbound client frames into
// store operations, subscription changes and outbound frames.
package relay

import (
	"context"
	"errors"

	"github.com/bhandras/relay/internal/session"
	"github.com/bhandras/relay/pkg/logger"
	"github.com/bhandras/relay/protocol/wire"
)

// Engine handles client messages for every session. Calls for one session
// must be serialized by the caller; calls for different sessions may run
// concurrently.
type Engine struct {
	cfg  Config
	deps Deps
}

// New builds an engine.
func New(cfg Config, deps Deps) *Engine {
	return &Engine{cfg: cfg, deps: deps}
}

// OnConnect greets a new session, sending the auth challenge when
// authentication is required.
func (e *Engine) OnConnect(sessionID string) {
	if !e.cfg.AuthRequired {
		return
	}
	e.sendChallenge(sessionID)
}

func (e *Engine) sendChallenge(sessionID string) {
	if challenge, ok := e.deps.Sessions.Challenge(sessionID); ok {
		e.send(sessionID, wire.AuthFrame(challenge))
	}
}

// HandleFrame processes one inbound frame. Protocol errors are reported to
// the client and never end the session.
func (e *Engine) HandleFrame(ctx context.Context, sessionID string, frame []byte) {
	e.deps.Sessions.Touch(sessionID)

	msg, err := wire.ParseClientMessage(frame)
	if err != nil {
		e.deps.Metrics.Frame("malformed")
		e.send(sessionID, wire.NoticeFrame(wire.Reason(wire.PrefixInvalid, "%v", err)))
		return
	}
	wire.DumpFrame(msg.Label, frame)
	logger.Tracef("[relay] %s <- %s", sessionID, frame)

	switch msg.Label {
	case wire.LabelEvent, wire.LabelReq, wire.LabelClose, wire.LabelAuth:
		e.deps.Metrics.Frame(msg.Label)
	default:
		e.deps.Metrics.Frame("unknown")
	}

	switch msg.Label {
	case wire.LabelEvent:
		e.handlePublish(ctx, sessionID, msg)
	case wire.LabelReq:
		e.handleSubscribe(ctx, sessionID, msg)
	case wire.LabelClose:
		e.handleUnsubscribe(sessionID, msg)
	case wire.LabelAuth:
		e.handleAuth(sessionID, msg)
	default:
		e.send(sessionID, wire.NoticeFrame(wire.Reason(wire.PrefixInvalid, "unknown message type: %s", msg.Label)))
	}
}

// send queues a frame and reports whether the session can still be written
// to. A session whose queue is full is torn down.
func (e *Engine) send(sessionID string, frame []byte) bool {
	err := e.deps.Sessions.Send(sessionID, frame)
	switch {
	case err == nil:
		return true
	case errors.Is(err, session.ErrQueueFull):
		logger.Warnf("[relay] session %s outbound queue full; disconnecting", sessionID)
		e.deps.Sessions.Close(sessionID, session.ReasonOverflow)
		return false
	default:
		logger.Debugf("[relay] drop frame for %s: %v", sessionID, err)
		return false
	}
}
