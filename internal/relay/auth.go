package relay

import (
	"github.com/bhandras/relay/pkg/logger"
	"github.com/bhandras/relay/protocol/wire"
)

func (e *Engine) handleAuth(sessionID string, msg wire.ClientMessage) {
	if len(msg.Args) < 1 {
		e.send(sessionID, wire.NoticeFrame(wire.Reason(wire.PrefixInvalid, "AUTH requires an event object")))
		return
	}
	raw := msg.Args[0]

	proof, err := wire.DecodeEvent(raw)
	if err != nil {
		e.send(sessionID, wire.OKFrame(wire.PeekEventID(raw), false, wire.Reason(wire.PrefixInvalid, "%v", err)))
		return
	}

	challenge, _ := e.deps.Sessions.Challenge(sessionID)
	pubkey, err := e.deps.Auth.Verify(challenge, proof, e.deps.Now())
	if err != nil {
		logger.Debugf("[relay] %s: auth failed: %v", sessionID, err)
		e.send(sessionID, wire.OKFrame(proof.ID, false, wire.Reason(wire.PrefixInvalid, "%v", err)))
		return
	}

	if err := e.deps.Sessions.Authenticate(sessionID, pubkey); err != nil {
		return
	}
	logger.Infof("[relay] %s authenticated as %s", sessionID, pubkey)
	e.send(sessionID, wire.OKFrame(proof.ID, true, ""))
}
