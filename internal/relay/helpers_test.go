package relay

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/bhandras/relay/internal/auth"
	"github.com/bhandras/relay/internal/crypto"
	"github.com/bhandras/relay/internal/policy"
	"github.com/bhandras/relay/internal/ratelimit"
	"github.com/bhandras/relay/internal/session"
	"github.com/bhandras/relay/internal/store"
	"github.com/bhandras/relay/protocol/wire"
	"github.com/stretchr/testify/require"
)

var testNow = time.Unix(1_700_000_000, 0)

type nopTransport struct{}

func (nopTransport) Close() error { return nil }

type fakePolicy struct {
	authorAllowed func(pubkey string) bool
	kindAllowed   func(kind int) bool
}

func (p fakePolicy) AuthorAllowed(_ context.Context, pubkey string) bool {
	if p.authorAllowed == nil {
		return true
	}
	return p.authorAllowed(pubkey)
}

func (p fakePolicy) KindAllowed(_ context.Context, kind int) bool {
	if p.kindAllowed == nil {
		return true
	}
	return p.kindAllowed(kind)
}

// failingStore wraps a store and fails selected operations.
type failingStore struct {
	store.Store
	failPut   bool
	failQuery bool
}

func (s *failingStore) Put(ctx context.Context, ev *wire.Event) (store.PutResult, error) {
	if s.failPut {
		return 0, context.DeadlineExceeded
	}
	return s.Store.Put(ctx, ev)
}

func (s *failingStore) Query(ctx context.Context, filters []wire.Filter) ([]*wire.Event, error) {
	if s.failQuery {
		return nil, context.DeadlineExceeded
	}
	return s.Store.Query(ctx, filters)
}

type harness struct {
	t        *testing.T
	engine   *Engine
	registry *session.Registry
	store    store.Store
}

type harnessOption func(*Config, *Deps, *session.Options)

func withPolicy(p policy.Policy) harnessOption {
	return func(_ *Config, d *Deps, _ *session.Options) { d.Policy = p }
}

func withStore(s store.Store) harnessOption {
	return func(_ *Config, d *Deps, _ *session.Options) { d.Store = s }
}

func withConfig(fn func(*Config)) harnessOption {
	return func(c *Config, _ *Deps, _ *session.Options) { fn(c) }
}

func withRateLimit(class ratelimit.Class, cfg ratelimit.Config) harnessOption {
	return func(_ *Config, _ *Deps, o *session.Options) { o.RateLimits[class] = cfg }
}

func withMaxSubscriptions(n int) harnessOption {
	return func(_ *Config, _ *Deps, o *session.Options) { o.MaxSubscriptions = n }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	verifier := crypto.NewSchnorrVerifier()
	cfg := DefaultConfig()
	cfg.AuthRequired = false
	sessOpts := session.Options{
		MaxSubscriptions: 20,
		QueueSize:        64,
		RateLimits:       map[ratelimit.Class]ratelimit.Config{},
		Now:              func() time.Time { return testNow },
	}
	deps := Deps{
		Store:    store.NewMemory(),
		Policy:   policy.AllowAll{},
		Verifier: verifier,
		Auth:     auth.NewChallenger(verifier, 0),
		Clock:    func() time.Time { return testNow },
	}
	for _, opt := range opts {
		opt(&cfg, &deps, &sessOpts)
	}
	sessOpts.AuthRequired = cfg.AuthRequired
	sessOpts.IssueChallenge = auth.NewChallenger(verifier, 0).Issue

	registry := session.NewRegistry(sessOpts)
	deps.Sessions = registry
	return &harness{
		t:        t,
		engine:   New(cfg, deps),
		registry: registry,
		store:    deps.Store,
	}
}

// client is one connected test session.
type client struct {
	h    *harness
	sess *session.Session
}

func (h *harness) connect() *client {
	h.t.Helper()
	s, err := h.registry.Create(nopTransport{})
	require.NoError(h.t, err)
	h.engine.OnConnect(s.ID())
	return &client{h: h, sess: s}
}

func (c *client) sendRaw(frame string) {
	c.h.engine.HandleFrame(context.Background(), c.sess.ID(), []byte(frame))
}

func (c *client) send(parts ...any) {
	c.h.t.Helper()
	raw, err := json.Marshal(parts)
	require.NoError(c.h.t, err)
	c.h.engine.HandleFrame(context.Background(), c.sess.ID(), raw)
}

// frames drains every queued outbound frame.
func (c *client) frames() [][]json.RawMessage {
	c.h.t.Helper()
	var out [][]json.RawMessage
	for {
		select {
		case raw := <-c.sess.Outbound():
			var parts []json.RawMessage
			require.NoError(c.h.t, json.Unmarshal(raw, &parts))
			out = append(out, parts)
		default:
			return out
		}
	}
}

func label(t *testing.T, f []json.RawMessage) string {
	t.Helper()
	var s string
	require.NoError(t, json.Unmarshal(f[0], &s))
	return s
}

func str(t *testing.T, raw json.RawMessage) string {
	t.Helper()
	var s string
	require.NoError(t, json.Unmarshal(raw, &s))
	return s
}

// expectOK asserts the next frames contain exactly one OK for id.
func (c *client) expectOK(id string, accepted bool, reasonPrefix string) {
	t := c.h.t
	t.Helper()
	frames := c.frames()
	require.NotEmpty(t, frames)
	f := frames[0]
	require.Equal(t, wire.LabelOK, label(t, f))
	require.Equal(t, id, str(t, f[1]))
	var ok bool
	require.NoError(t, json.Unmarshal(f[2], &ok))
	require.Equal(t, accepted, ok, str(t, f[3]))
	require.Contains(t, str(t, f[3]), reasonPrefix)
}

type author struct {
	t      *testing.T
	signer *crypto.Signer
	seq    int
}

func newAuthor(t *testing.T) *author {
	t.Helper()
	s, err := crypto.GenerateSigner()
	require.NoError(t, err)
	return &author{t: t, signer: s}
}

func (a *author) event(kind int, content string, tags ...wire.Tag) *wire.Event {
	a.t.Helper()
	a.seq++
	if tags == nil {
		tags = wire.Tags{}
	}
	ev := &wire.Event{
		CreatedAt: testNow.Unix() + int64(a.seq),
		Kind:      kind,
		Tags:      tags,
		Content:   content,
	}
	require.NoError(a.t, a.signer.Sign(ev))
	return ev
}

func (a *author) authProof(challenge string) *wire.Event {
	return a.event(wire.KindClientAuth, "", wire.Tag{"challenge", challenge})
}
