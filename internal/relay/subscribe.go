package relay

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/bhandras/relay/internal/ratelimit"
	"github.com/bhandras/relay/internal/session"
	"github.com/bhandras/relay/pkg/logger"
	"github.com/bhandras/relay/protocol/wire"
)

func (e *Engine) handleSubscribe(ctx context.Context, sessionID string, msg wire.ClientMessage) {
	if len(msg.Args) < 1 {
		e.send(sessionID, wire.NoticeFrame(wire.Reason(wire.PrefixInvalid, "%v", wire.ErrBadSubscriptionID)))
		return
	}
	subID, err := wire.DecodeSubscriptionID(msg.Args[0])
	if err != nil {
		e.send(sessionID, wire.NoticeFrame(wire.Reason(wire.PrefixInvalid, "%v", err)))
		return
	}

	filters, v := e.admitSubscription(sessionID, msg.Args[1:])
	if !v.OK() {
		logger.Debugf("[relay] %s: rejected subscription %s: %s", sessionID, subID, v.Reason())
		e.send(sessionID, wire.ClosedFrame(subID, v.Reason()))
		if v.prefix == wire.PrefixAuthRequired {
			e.sendChallenge(sessionID)
		}
		return
	}

	err = e.deps.Sessions.AddSubscription(sessionID, subID, filters)
	switch {
	case errors.Is(err, session.ErrTooManySubscriptions):
		e.send(sessionID, wire.ClosedFrame(subID, wire.Reason(wire.PrefixBlocked, "too many open subscriptions")))
		return
	case err != nil:
		logger.Debugf("[relay] %s: add subscription %s: %v", sessionID, subID, err)
		return
	}

	start := e.deps.Now()
	events, err := e.deps.Store.Query(ctx, filters)
	e.deps.Metrics.BacklogQuery(e.deps.Now().Sub(start))
	if err != nil {
		logger.Errorf("[relay] backlog query for %s/%s failed: %v", sessionID, subID, err)
		e.deps.Sessions.RemoveSubscription(sessionID, subID)
		e.send(sessionID, wire.ClosedFrame(subID, wire.Reason(wire.PrefixError, "failed to query events")))
		return
	}
	if e.cfg.MaxLimit > 0 && len(events) > e.cfg.MaxLimit {
		events = events[:e.cfg.MaxLimit]
	}

	for _, ev := range events {
		if !e.send(sessionID, wire.EventFrame(subID, ev)) {
			return
		}
	}
	e.send(sessionID, wire.EOSEFrame(subID))
}

// admitSubscription validates the filter arguments of a REQ and returns
// them with limits clamped.
func (e *Engine) admitSubscription(sessionID string, args []json.RawMessage) ([]wire.Filter, verdict) {
	if !e.deps.Sessions.Allow(sessionID, ratelimit.ClassSubscribe) {
		return nil, reject(wire.PrefixRateLimited, "slow down")
	}
	if len(args) == 0 {
		return nil, reject(wire.PrefixInvalid, "at least one filter required")
	}
	if e.cfg.MaxFilters > 0 && len(args) > e.cfg.MaxFilters {
		return nil, reject(wire.PrefixInvalid, "too many filters (max %d)", e.cfg.MaxFilters)
	}

	filters, err := wire.DecodeFilters(args)
	if err != nil {
		return nil, reject(wire.PrefixInvalid, "%v", err)
	}
	for i := range filters {
		if filters[i].Search != "" && !e.cfg.EnableSearch {
			return nil, reject(wire.PrefixInvalid, "search is not supported")
		}
		filters[i].Limit = e.cfg.clampLimit(filters[i].Limit)
	}

	if e.cfg.AuthRequired && !e.deps.Sessions.IsAuthenticated(sessionID, "") {
		return nil, reject(wire.PrefixAuthRequired, "please authenticate first")
	}
	return filters, accept()
}

func (e *Engine) handleUnsubscribe(sessionID string, msg wire.ClientMessage) {
	if len(msg.Args) < 1 {
		e.send(sessionID, wire.NoticeFrame(wire.Reason(wire.PrefixInvalid, "%v", wire.ErrBadSubscriptionID)))
		return
	}
	subID, err := wire.DecodeSubscriptionID(msg.Args[0])
	if err != nil {
		e.send(sessionID, wire.NoticeFrame(wire.Reason(wire.PrefixInvalid, "%v", err)))
		return
	}
	e.deps.Sessions.RemoveSubscription(sessionID, subID)
	e.send(sessionID, wire.ClosedFrame(subID, ""))
}
