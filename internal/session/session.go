package session

import (
	"errors"
	"sync"
	"time"

	"github.com/bhandras/relay/internal/filter"
	"github.com/bhandras/relay/internal/ratelimit"
)

var (
	// ErrQueueFull is returned by Send when the session's outbound queue
	// cannot take another frame.
	ErrQueueFull = errors.New("outbound queue full")
	// ErrSessionClosed is returned by Send after the session was destroyed.
	ErrSessionClosed = errors.New("session closed")
)

// Transport is the connection a session writes to. Close must be safe to
// call more than once.
type Transport interface {
	Close() error
}

// Session is one client connection's protocol state. All mutation goes
// through the Registry.
type Session struct {
	id          string
	transport   Transport
	connectedAt time.Time

	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu           sync.Mutex
	subs         map[string]filter.Set
	authed       map[string]struct{}
	challenge    string
	lastActivity time.Time
	buckets      map[ratelimit.Class]*ratelimit.Bucket
}

func newSession(id string, transport Transport, now time.Time, queueSize int, limits map[ratelimit.Class]ratelimit.Config) *Session {
	s := &Session{
		id:           id,
		transport:    transport,
		connectedAt:  now,
		out:          make(chan []byte, queueSize),
		done:         make(chan struct{}),
		subs:         make(map[string]filter.Set),
		authed:       make(map[string]struct{}),
		lastActivity: now,
		buckets:      make(map[ratelimit.Class]*ratelimit.Bucket, len(limits)),
	}
	for class, cfg := range limits {
		s.buckets[class] = ratelimit.NewBucket(cfg)
	}
	return s
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// ConnectedAt returns when the session was created.
func (s *Session) ConnectedAt() time.Time {
	return s.connectedAt
}

// Outbound yields frames queued for the client, in order.
func (s *Session) Outbound() <-chan []byte {
	return s.out
}

// Done is closed once the session is destroyed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// LastActivity returns the time of the most recent inbound message.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

func (s *Session) send(frame []byte) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	select {
	case s.out <- frame:
		return nil
	default:
		return ErrQueueFull
	}
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.transport != nil {
			_ = s.transport.Close()
		}
	})
}
