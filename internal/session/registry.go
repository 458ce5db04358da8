// Package session tracks connected clients: their subscriptions, proven
// keys, rate-limit buckets and outbound queues.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bhandras/relay/internal/filter"
	"github.com/bhandras/relay/internal/ratelimit"
	"github.com/bhandras/relay/pkg/logger"
	"github.com/bhandras/relay/protocol/wire"
	"github.com/google/uuid"
)

var (
	// ErrSessionNotFound is returned for operations on unknown sessions.
	ErrSessionNotFound = errors.New("session not found")
	// ErrTooManySubscriptions is returned when a session already holds the
	// maximum number of distinct subscriptions.
	ErrTooManySubscriptions = errors.New("too many subscriptions")
)

// Close reasons reported to the Observer.
const (
	ReasonClosed   = "closed"
	ReasonIdle     = "idle"
	ReasonOverflow = "overflow"
)

// Observer is notified of session lifecycle changes.
type Observer interface {
	SessionOpened()
	SessionClosed(reason string)
}

// Options configures a Registry.
type Options struct {
	// MaxSubscriptions caps distinct subscription ids per session.
	MaxSubscriptions int
	// QueueSize bounds each session's outbound queue.
	QueueSize int
	// RateLimits configures one bucket per action class.
	RateLimits map[ratelimit.Class]ratelimit.Config
	// AuthRequired makes Create issue a challenge for every session.
	AuthRequired bool
	// IssueChallenge produces fresh challenges.
	IssueChallenge func() (string, error)
	// IdleTimeout is how long a session may stay silent before the sweep
	// destroys it.
	IdleTimeout time.Duration
	// SweepInterval is how often Run looks for idle sessions.
	SweepInterval time.Duration
	// Observer receives lifecycle notifications. May be nil.
	Observer Observer
	// Now overrides the clock in tests.
	Now func() time.Time
	// NewID overrides session id generation in tests.
	NewID func() string
}

const (
	defaultQueueSize     = 256
	defaultIdleTimeout   = 30 * time.Minute
	defaultSweepInterval = 5 * time.Minute
)

// Delivery names one subscription a broadcast event must be sent to.
type Delivery struct {
	SessionID      string
	SubscriptionID string
}

// Stats is a point-in-time summary of the registry.
type Stats struct {
	Sessions      int `json:"sessions"`
	Subscriptions int `json:"subscriptions"`
	Authenticated int `json:"authenticated"`
}

// Registry owns every live session.
type Registry struct {
	opts Options

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) *Registry {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = defaultIdleTimeout
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = defaultSweepInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Registry{
		opts:     opts,
		sessions: make(map[string]*Session),
	}
}

// Create registers a new session for transport.
func (r *Registry) Create(transport Transport) (*Session, error) {
	s := newSession(r.opts.NewID(), transport, r.opts.Now(), r.opts.QueueSize, r.opts.RateLimits)
	if r.opts.AuthRequired {
		if err := r.issue(s); err != nil {
			return nil, err
		}
	}

	r.mu.Lock()
	r.sessions[s.id] = s
	r.mu.Unlock()

	if r.opts.Observer != nil {
		r.opts.Observer.SessionOpened()
	}
	logger.Debugf("[session] %s created", s.id)
	return s, nil
}

func (r *Registry) issue(s *Session) error {
	if r.opts.IssueChallenge == nil {
		return errors.New("no challenge issuer configured")
	}
	challenge, err := r.opts.IssueChallenge()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.challenge = challenge
	s.mu.Unlock()
	return nil
}

// Get returns the session with the given id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Destroy closes and removes a session. Destroying an unknown session is a
// no-op.
func (r *Registry) Destroy(id string) {
	r.Close(id, ReasonClosed)
}

// Close is Destroy with an explicit reason for the Observer.
func (r *Registry) Close(id, reason string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	s.close()
	if r.opts.Observer != nil {
		r.opts.Observer.SessionClosed(reason)
	}
	logger.Debugf("[session] %s destroyed (%s)", id, reason)
}

// AddSubscription registers or replaces a subscription.
func (r *Registry) AddSubscription(sessionID, subID string, filters []wire.Filter) error {
	s, ok := r.Get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	compiled := filter.CompileAll(filters)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.subs[subID]; !exists && r.opts.MaxSubscriptions > 0 && len(s.subs) >= r.opts.MaxSubscriptions {
		return ErrTooManySubscriptions
	}
	s.subs[subID] = compiled
	return nil
}

// RemoveSubscription drops a subscription and reports whether it existed.
func (r *Registry) RemoveSubscription(sessionID, subID string) bool {
	s, ok := r.Get(sessionID)
	if !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.subs[subID]; !exists {
		return false
	}
	delete(s.subs, subID)
	return true
}

// Subscriptions returns the ids of a session's open subscriptions.
func (r *Registry) Subscriptions(sessionID string) []string {
	s, ok := r.Get(sessionID)
	if !ok {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.subs))
	for id := range s.subs {
		out = append(out, id)
	}
	return out
}

// Authenticate records that the session proved control of pubkey.
func (r *Registry) Authenticate(sessionID, pubkey string) error {
	s, ok := r.Get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	s.mu.Lock()
	s.authed[pubkey] = struct{}{}
	s.mu.Unlock()
	return nil
}

// IsAuthenticated reports whether the session proved pubkey, or any key
// when pubkey is empty.
func (r *Registry) IsAuthenticated(sessionID, pubkey string) bool {
	s, ok := r.Get(sessionID)
	if !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if pubkey == "" {
		return len(s.authed) > 0
	}
	_, ok = s.authed[pubkey]
	return ok
}

// Challenge returns the session's outstanding challenge.
func (r *Registry) Challenge(sessionID string) (string, bool) {
	s, ok := r.Get(sessionID)
	if !ok {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.challenge, s.challenge != ""
}

// Touch marks inbound activity on the session.
func (r *Registry) Touch(sessionID string) {
	s, ok := r.Get(sessionID)
	if !ok {
		return
	}
	now := r.opts.Now()
	s.mu.Lock()
	s.lastActivity = now
	s.mu.Unlock()
}

// Allow takes a token from the session's bucket for class. Classes without a
// configured bucket are never limited.
func (r *Registry) Allow(sessionID string, class ratelimit.Class) bool {
	s, ok := r.Get(sessionID)
	if !ok {
		return false
	}
	s.mu.Lock()
	b := s.buckets[class]
	s.mu.Unlock()
	if b == nil {
		return true
	}
	return b.Allow(r.opts.Now())
}

// Send queues a frame for the session without blocking.
func (r *Registry) Send(sessionID string, frame []byte) error {
	s, ok := r.Get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	return s.send(frame)
}

// Matching returns one delivery per open subscription, on any session other
// than exclude, whose filters match ev.
func (r *Registry) Matching(ev *wire.Event, exclude string) []Delivery {
	target := filter.NewTarget(ev)

	var out []Delivery
	for _, s := range r.snapshot() {
		if s.id == exclude {
			continue
		}
		s.mu.Lock()
		for subID, set := range s.subs {
			if set.Match(target) {
				out = append(out, Delivery{SessionID: s.id, SubscriptionID: subID})
			}
		}
		s.mu.Unlock()
	}
	return out
}

// snapshot returns a copy of the live sessions so callers can iterate
// without holding the registry lock.
func (r *Registry) snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Stats summarizes the registry.
func (r *Registry) Stats() Stats {
	var st Stats
	for _, s := range r.snapshot() {
		st.Sessions++
		s.mu.Lock()
		st.Subscriptions += len(s.subs)
		if len(s.authed) > 0 {
			st.Authenticated++
		}
		s.mu.Unlock()
	}
	return st
}

// Sweep destroys sessions idle for longer than the idle timeout and returns
// how many were removed.
func (r *Registry) Sweep(now time.Time) int {
	var idle []string
	for _, s := range r.snapshot() {
		if now.Sub(s.LastActivity()) > r.opts.IdleTimeout {
			idle = append(idle, s.id)
		}
	}
	for _, id := range idle {
		r.Close(id, ReasonIdle)
	}
	if len(idle) > 0 {
		logger.Infof("[session] swept %d idle sessions", len(idle))
	}
	return len(idle)
}

// Run sweeps idle sessions every SweepInterval until ctx is done, then
// destroys every remaining session.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			for _, s := range r.snapshot() {
				r.Destroy(s.id)
			}
			return
		case <-ticker.C:
			r.Sweep(r.opts.Now())
		}
	}
}
