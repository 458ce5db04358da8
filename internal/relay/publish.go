package relay

import (
	"context"
	"encoding/json"

	"github.com/bhandras/relay/internal/crypto"
	"github.com/bhandras/relay/internal/ratelimit"
	"github.com/bhandras/relay/internal/store"
	"github.com/bhandras/relay/pkg/logger"
	"github.com/bhandras/relay/protocol/wire"
)

func (e *Engine) handlePublish(ctx context.Context, sessionID string, msg wire.ClientMessage) {
	if len(msg.Args) < 1 {
		e.send(sessionID, wire.NoticeFrame(wire.Reason(wire.PrefixInvalid, "EVENT requires an event object")))
		return
	}
	raw := msg.Args[0]

	ev, v := e.admitEvent(ctx, sessionID, raw)
	if !v.OK() {
		e.deps.Metrics.Event(v.Outcome())
		id := wire.PeekEventID(raw)
		logger.Debugf("[relay] %s: rejected event %s: %s", sessionID, id, v.Reason())
		e.send(sessionID, wire.OKFrame(id, false, v.Reason()))
		if v.prefix == wire.PrefixAuthRequired {
			e.sendChallenge(sessionID)
		}
		return
	}

	e.deps.Metrics.Event(v.Outcome())
	if !e.send(sessionID, wire.OKFrame(ev.ID, true, "")) {
		return
	}
	e.broadcast(sessionID, ev)
}

// admitEvent runs the publish pipeline. The first failing step decides the
// rejection reason; a nil event is returned on rejection.
func (e *Engine) admitEvent(ctx context.Context, sessionID string, raw json.RawMessage) (*wire.Event, verdict) {
	if !e.deps.Sessions.Allow(sessionID, ratelimit.ClassPublish) {
		return nil, reject(wire.PrefixRateLimited, "slow down")
	}

	ev, err := wire.DecodeEvent(raw)
	if err != nil {
		return nil, reject(wire.PrefixInvalid, "%v", err)
	}
	if v := e.checkStructure(ev, len(raw)); !v.OK() {
		return nil, v
	}

	if e.cfg.AuthRequired && !e.deps.Sessions.IsAuthenticated(sessionID, ev.PubKey) {
		return nil, reject(wire.PrefixAuthRequired, "please authenticate first")
	}

	if err := crypto.CheckEvent(e.deps.Verifier, ev); err != nil {
		return nil, reject(wire.PrefixInvalid, "%v", err)
	}

	if !e.deps.Policy.AuthorAllowed(ctx, ev.PubKey) {
		return nil, reject(wire.PrefixBlocked, "not in allowed cohort")
	}
	if !e.deps.Policy.KindAllowed(ctx, ev.Kind) {
		return nil, reject(wire.PrefixBlocked, "kind %d not allowed", ev.Kind)
	}

	if ev.Kind == wire.KindDeletion && e.cfg.EnableDeletion {
		if v := e.applyDeletion(ctx, ev); !v.OK() {
			return nil, v
		}
	}

	if ev.IsEphemeral() && e.cfg.EnableEphemeral {
		return ev, accept()
	}

	res, err := e.deps.Store.Put(ctx, ev)
	if err != nil {
		logger.Errorf("[relay] failed to save event %s: %v", ev.ID, err)
		return nil, reject(wire.PrefixError, "failed to save event")
	}
	if res == store.Duplicate {
		return nil, reject(wire.PrefixDuplicate, "event already exists")
	}
	return ev, accept()
}

func (e *Engine) checkStructure(ev *wire.Event, size int) verdict {
	switch {
	case !wire.IsLowerHex(ev.ID, 64):
		return reject(wire.PrefixInvalid, "id must be 64 lowercase hex characters")
	case !wire.IsLowerHex(ev.PubKey, 64):
		return reject(wire.PrefixInvalid, "pubkey must be 64 lowercase hex characters")
	case !wire.IsLowerHex(ev.Sig, 128):
		return reject(wire.PrefixInvalid, "sig must be 128 lowercase hex characters")
	case ev.CreatedAt < e.cfg.CreatedAtLower:
		return reject(wire.PrefixInvalid, "created_at too far in the past")
	case e.cfg.CreatedAtUpper > 0 && ev.CreatedAt > e.cfg.CreatedAtUpper:
		return reject(wire.PrefixInvalid, "created_at too far in the future")
	case e.cfg.MaxEventSize > 0 && size > e.cfg.MaxEventSize:
		return reject(wire.PrefixInvalid, "event too large")
	case ev.Kind == wire.KindClientAuth:
		return reject(wire.PrefixInvalid, "auth events must be sent with AUTH")
	}
	return accept()
}

// applyDeletion tombstones every event referenced by an "e" tag. References
// the author may not delete, or that do not exist, are skipped.
func (e *Engine) applyDeletion(ctx context.Context, ev *wire.Event) verdict {
	for _, target := range ev.Tags.Values("e") {
		res, err := e.deps.Store.Tombstone(ctx, target, ev.PubKey)
		if err != nil {
			logger.Errorf("[relay] failed to delete %s for %s: %v", target, ev.ID, err)
			return reject(wire.PrefixError, "failed to delete events")
		}
		if res != store.TombstoneOK {
			logger.Debugf("[relay] deletion %s skipped %s: %s", ev.ID, target, res)
		}
	}
	return accept()
}

// broadcast delivers ev to every other session's matching subscriptions.
func (e *Engine) broadcast(publisherID string, ev *wire.Event) {
	deliveries := e.deps.Sessions.Matching(ev, publisherID)
	sent := 0
	for _, d := range deliveries {
		if e.send(d.SessionID, wire.EventFrame(d.SubscriptionID, ev)) {
			sent++
		}
	}
	e.deps.Metrics.Delivered(sent)
}
