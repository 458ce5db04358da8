package relay

import (
	"time"

	"github.com/bhandras/relay/internal/crypto"
	"github.com/bhandras/relay/internal/metrics"
	"github.com/bhandras/relay/internal/policy"
	"github.com/bhandras/relay/internal/ratelimit"
	"github.com/bhandras/relay/internal/session"
	"github.com/bhandras/relay/internal/store"
	"github.com/bhandras/relay/protocol/wire"
)

// Sessions is the subset of the session registry used by the engine.
type Sessions interface {
	Touch(sessionID string)
	Challenge(sessionID string) (string, bool)
	Allow(sessionID string, class ratelimit.Class) bool
	AddSubscription(sessionID, subID string, filters []wire.Filter) error
	RemoveSubscription(sessionID, subID string) bool
	Authenticate(sessionID, pubkey string) error
	IsAuthenticated(sessionID, pubkey string) bool
	Send(sessionID string, frame []byte) error
	Close(sessionID, reason string)
	Matching(ev *wire.Event, exclude string) []session.Delivery
}

// Challenger verifies authentication proofs.
type Challenger interface {
	Verify(challenge string, proof *wire.Event, now time.Time) (string, error)
}

// Deps holds the collaborators of the engine.
type Deps struct {
	Sessions Sessions
	Store    store.Store
	Policy   policy.Policy
	Verifier crypto.Verifier
	Auth     Challenger
	Metrics  *metrics.Metrics
	// Clock overrides time.Now in tests.
	Clock func() time.Time
}

// Now returns the current time from the injected clock.
func (d Deps) Now() time.Time {
	if d.Clock != nil {
		return d.Clock()
	}
	return time.Now()
}
