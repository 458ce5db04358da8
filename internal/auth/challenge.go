// Package auth implements the challenge-response flow that lets a client
// prove control of one or more author keys.
package auth

import (
	"errors"
	"time"

	"github.com/bhandras/relay/internal/crypto"
	"github.com/bhandras/relay/protocol/wire"
)

const (
	// ChallengeBytes is the amount of entropy in a challenge.
	ChallengeBytes = 16
	// DefaultWindow is how far a proof's created_at may drift from the
	// relay clock in either direction.
	DefaultWindow = 10 * time.Minute
)

var (
	// ErrWrongKind is returned for proofs that are not authentication events.
	ErrWrongKind = errors.New("auth event must be kind 22242")
	// ErrChallengeMismatch is returned when the proof does not carry the
	// outstanding challenge.
	ErrChallengeMismatch = errors.New("challenge mismatch")
	// ErrStale is returned when the proof timestamp is outside the window.
	ErrStale = errors.New("timestamp too old")
	// ErrNoChallenge is returned when the session was never issued one.
	ErrNoChallenge = errors.New("no challenge issued")
)

// Challenger issues challenges and verifies proofs against them.
type Challenger struct {
	verifier crypto.Verifier
	window   time.Duration
}

// NewChallenger returns a challenger using verifier for proof signatures.
// A non-positive window selects DefaultWindow.
func NewChallenger(verifier crypto.Verifier, window time.Duration) *Challenger {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Challenger{verifier: verifier, window: window}
}

// Issue returns a fresh, unpredictable challenge.
func (c *Challenger) Issue() (string, error) {
	return crypto.RandHex(ChallengeBytes)
}

// Verify checks proof against challenge and returns the proven author key.
//
// Checks run in a fixed order: kind, id and signature, challenge tag, then
// timestamp window.
func (c *Challenger) Verify(challenge string, proof *wire.Event, now time.Time) (string, error) {
	if challenge == "" {
		return "", ErrNoChallenge
	}
	if proof.Kind != wire.KindClientAuth {
		return "", ErrWrongKind
	}
	if err := crypto.CheckEvent(c.verifier, proof); err != nil {
		return "", err
	}

	tag, ok := proof.Tags.Find("challenge")
	if !ok || tag.Value() != challenge {
		return "", ErrChallengeMismatch
	}

	created := time.Unix(proof.CreatedAt, 0)
	if created.Before(now.Add(-c.window)) || created.After(now.Add(c.window)) {
		return "", ErrStale
	}
	return proof.PubKey, nil
}
