package relay

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/bhandras/relay/internal/ratelimit"
	"github.com/bhandras/relay/internal/session"
	"github.com/bhandras/relay/internal/store"
	"github.com/bhandras/relay/protocol/wire"
	"github.com/stretchr/testify/require"
)

func TestPublishAcceptsAndBroadcasts(t *testing.T) {
	h := newHarness(t)
	alice := h.connect()
	bob := h.connect()
	carol := h.connect()

	bob.send("REQ", "notes", map[string]any{"kinds": []int{1}})
	bob.send("REQ", "also-notes", map[string]any{"kinds": []int{1, 2}})
	carol.send("REQ", "reactions", map[string]any{"kinds": []int{7}})
	require.Len(t, bob.frames(), 2)
	require.Len(t, carol.frames(), 1)

	ev := newAuthor(t).event(1, "hello")
	alice.send("EVENT", ev)
	alice.expectOK(ev.ID, true, "")

	got := bob.frames()
	require.Len(t, got, 2)
	subs := map[string]bool{}
	for _, f := range got {
		require.Equal(t, wire.LabelEvent, label(t, f))
		subs[str(t, f[1])] = true
		var delivered wire.Event
		require.NoError(t, json.Unmarshal(f[2], &delivered))
		require.Equal(t, ev.ID, delivered.ID)
	}
	require.True(t, subs["notes"])
	require.True(t, subs["also-notes"])

	require.Empty(t, carol.frames())
}

func TestPublisherDoesNotReceiveOwnEvent(t *testing.T) {
	h := newHarness(t)
	alice := h.connect()
	alice.send("REQ", "all", map[string]any{})
	alice.frames()

	ev := newAuthor(t).event(1, "echo?")
	alice.send("EVENT", ev)

	frames := alice.frames()
	require.Len(t, frames, 1)
	require.Equal(t, wire.LabelOK, label(t, frames[0]))
}

func TestPublishDuplicate(t *testing.T) {
	h := newHarness(t)
	alice := h.connect()
	bob := h.connect()
	bob.send("REQ", "all", map[string]any{})
	bob.frames()

	ev := newAuthor(t).event(1, "once")
	alice.send("EVENT", ev)
	alice.expectOK(ev.ID, true, "")
	require.Len(t, bob.frames(), 1)

	alice.send("EVENT", ev)
	alice.expectOK(ev.ID, false, "duplicate:")
	require.Empty(t, bob.frames())
	require.Equal(t, 1, h.store.(*store.Memory).Len())
}

func TestPublishValidation(t *testing.T) {
	a := newAuthor(t)

	tests := []struct {
		name   string
		mutate func(*wire.Event)
		config func(*Config)
		want   string
	}{
		{
			name:   "bad id",
			mutate: func(ev *wire.Event) { ev.ID = strings.Repeat("0", 64) },
			want:   "invalid:",
		},
		{
			name:   "uppercase pubkey",
			mutate: func(ev *wire.Event) { ev.PubKey = strings.ToUpper(ev.PubKey) },
			want:   "invalid:",
		},
		{
			name:   "short sig",
			mutate: func(ev *wire.Event) { ev.Sig = ev.Sig[:64] },
			want:   "invalid:",
		},
		{
			name:   "bad signature",
			mutate: func(ev *wire.Event) { ev.Sig = strings.Repeat("a", 128) },
			want:   "invalid:",
		},
		{
			name:   "tampered content",
			mutate: func(ev *wire.Event) { ev.Content = "changed" },
			want:   "invalid:",
		},
		{
			name:   "created_at too old",
			config: func(c *Config) { c.CreatedAtLower = testNow.Unix() + 1000 },
			want:   "invalid: created_at",
		},
		{
			name:   "created_at too new",
			config: func(c *Config) { c.CreatedAtUpper = testNow.Unix() - 1000 },
			want:   "invalid: created_at",
		},
		{
			name:   "too large",
			config: func(c *Config) { c.MaxEventSize = 100 },
			want:   "invalid: event too large",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var opts []harnessOption
			if tc.config != nil {
				opts = append(opts, withConfig(tc.config))
			}
			h := newHarness(t, opts...)
			c := h.connect()

			ev := a.event(1, "payload")
			if tc.mutate != nil {
				tc.mutate(ev)
			}
			c.send("EVENT", ev)

			frames := c.frames()
			require.Len(t, frames, 1)
			require.Equal(t, wire.LabelOK, label(t, frames[0]))
			require.Equal(t, ev.ID, str(t, frames[0][1]))
			require.Contains(t, str(t, frames[0][3]), tc.want)
			require.Zero(t, h.store.(*store.Memory).Len())
		})
	}
}

func TestPublishMalformedEventStillAnswersOK(t *testing.T) {
	h := newHarness(t)
	c := h.connect()

	id := strings.Repeat("ab", 32)
	c.sendRaw(`["EVENT",{"id":"` + id + `","kind":"one"}]`)

	frames := c.frames()
	require.Len(t, frames, 1)
	require.Equal(t, wire.LabelOK, label(t, frames[0]))
	require.Equal(t, id, str(t, frames[0][1]))
	require.True(t, strings.HasPrefix(str(t, frames[0][3]), "invalid:"))
}

func TestPublishRejectsAuthKindOverEvent(t *testing.T) {
	h := newHarness(t)
	c := h.connect()

	ev := newAuthor(t).authProof("whatever")
	c.send("EVENT", ev)
	c.expectOK(ev.ID, false, "invalid:")
}

func TestPublishPolicy(t *testing.T) {
	blockedAuthor := newAuthor(t)
	allowedAuthor := newAuthor(t)

	h := newHarness(t, withPolicy(fakePolicy{
		authorAllowed: func(pubkey string) bool { return pubkey != blockedAuthor.signer.PublicKey() },
		kindAllowed:   func(kind int) bool { return kind != 4 },
	}))
	c := h.connect()

	ev := blockedAuthor.event(1, "nope")
	c.send("EVENT", ev)
	c.expectOK(ev.ID, false, "blocked:")

	ev = allowedAuthor.event(4, "dm")
	c.send("EVENT", ev)
	c.expectOK(ev.ID, false, "blocked:")

	ev = allowedAuthor.event(1, "fine")
	c.send("EVENT", ev)
	c.expectOK(ev.ID, true, "")
}

func TestPublishRateLimited(t *testing.T) {
	h := newHarness(t, withRateLimit(ratelimit.ClassPublish, ratelimit.Config{Rate: 60, Capacity: 2}))
	c := h.connect()
	a := newAuthor(t)

	for i := 0; i < 2; i++ {
		ev := a.event(1, "burst")
		c.send("EVENT", ev)
		c.expectOK(ev.ID, true, "")
	}
	ev := a.event(1, "one too many")
	c.send("EVENT", ev)
	c.expectOK(ev.ID, false, "rate-limited:")
}

func TestPublishStoreFailure(t *testing.T) {
	h := newHarness(t, withStore(&failingStore{Store: store.NewMemory(), failPut: true}))
	c := h.connect()

	ev := newAuthor(t).event(1, "lost")
	c.send("EVENT", ev)
	c.expectOK(ev.ID, false, "error:")
}

func TestEphemeralEventsAreNotStored(t *testing.T) {
	h := newHarness(t)
	alice := h.connect()
	bob := h.connect()
	bob.send("REQ", "typing", map[string]any{"kinds": []int{20001}})
	bob.frames()

	ev := newAuthor(t).event(20001, "typing...")
	alice.send("EVENT", ev)
	alice.expectOK(ev.ID, true, "")
	require.Len(t, bob.frames(), 1)
	require.Zero(t, h.store.(*store.Memory).Len())
}

func TestDeletion(t *testing.T) {
	h := newHarness(t)
	c := h.connect()
	a := newAuthor(t)
	other := newAuthor(t)

	mine := a.event(1, "regret")
	theirs := other.event(1, "not yours")
	c.send("EVENT", mine)
	c.expectOK(mine.ID, true, "")
	c.send("EVENT", theirs)
	c.expectOK(theirs.ID, true, "")

	del := a.event(wire.KindDeletion, "",
		wire.Tag{"e", mine.ID},
		wire.Tag{"e", theirs.ID},
		wire.Tag{"e", strings.Repeat("f", 64)},
	)
	c.send("EVENT", del)
	c.expectOK(del.ID, true, "")

	c.send("REQ", "notes", map[string]any{"kinds": []int{1}})
	frames := c.frames()
	require.Len(t, frames, 2)
	var got wire.Event
	require.NoError(t, json.Unmarshal(frames[0][2], &got))
	require.Equal(t, theirs.ID, got.ID)
	require.Equal(t, wire.LabelEOSE, label(t, frames[1]))

	// The deletion request itself is kept.
	c.send("REQ", "deletions", map[string]any{"kinds": []int{wire.KindDeletion}})
	require.Len(t, c.frames(), 2)
}

func TestSubscribeBacklog(t *testing.T) {
	h := newHarness(t, withConfig(func(c *Config) { c.MaxLimit = 3 }))
	c := h.connect()
	a := newAuthor(t)

	var ids []string
	for i := 0; i < 5; i++ {
		ev := a.event(1, "note")
		c.send("EVENT", ev)
		c.expectOK(ev.ID, true, "")
		ids = append(ids, ev.ID)
	}

	// Two overlapping filters still yield each event once, capped at MaxLimit.
	c.send("REQ", "feed",
		map[string]any{"kinds": []int{1}, "limit": 10},
		map[string]any{"authors": []string{a.signer.PublicKey()}},
	)
	frames := c.frames()
	require.Len(t, frames, 4)
	for i, want := range []string{ids[4], ids[3], ids[2]} {
		require.Equal(t, wire.LabelEvent, label(t, frames[i]))
		require.Equal(t, "feed", str(t, frames[i][1]))
		var ev wire.Event
		require.NoError(t, json.Unmarshal(frames[i][2], &ev))
		require.Equal(t, want, ev.ID)
	}
	require.Equal(t, wire.LabelEOSE, label(t, frames[3]))
}

func TestSubscribeNoMatchesStillEndsBacklog(t *testing.T) {
	h := newHarness(t)
	c := h.connect()

	c.send("REQ", "empty", map[string]any{"kinds": []int{42}})
	frames := c.frames()
	require.Len(t, frames, 1)
	require.Equal(t, wire.LabelEOSE, label(t, frames[0]))
	require.Equal(t, "empty", str(t, frames[0][1]))
}

func TestSubscribeRejections(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		opts  []harnessOption
		want  string
	}{
		{
			name:  "no filters",
			frame: `["REQ","s"]`,
			want:  "invalid:",
		},
		{
			name:  "too many filters",
			frame: `["REQ","s",{},{},{}]`,
			opts:  []harnessOption{withConfig(func(c *Config) { c.MaxFilters = 2 })},
			want:  "invalid: too many filters",
		},
		{
			name:  "malformed filter",
			frame: `["REQ","s",{"kinds":"x"}]`,
			want:  "invalid:",
		},
		{
			name:  "search disabled",
			frame: `["REQ","s",{"search":"hello"}]`,
			opts:  []harnessOption{withConfig(func(c *Config) { c.EnableSearch = false })},
			want:  "invalid: search",
		},
		{
			name:  "rate limited",
			frame: `["REQ","s",{}]`,
			opts: []harnessOption{withRateLimit(ratelimit.ClassSubscribe,
				ratelimit.Config{Rate: 60, Capacity: 1})},
			want: "rate-limited:",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, tc.opts...)
			c := h.connect()
			if tc.want == "rate-limited:" {
				c.sendRaw(`["REQ","first",{}]`)
				c.frames()
			}

			c.sendRaw(tc.frame)
			frames := c.frames()
			require.Len(t, frames, 1)
			require.Equal(t, wire.LabelClosed, label(t, frames[0]))
			require.Equal(t, "s", str(t, frames[0][1]))
			require.True(t, strings.HasPrefix(str(t, frames[0][2]), tc.want), str(t, frames[0][2]))
			require.NotContains(t, h.registry.Subscriptions(c.sess.ID()), "s")
		})
	}
}

func TestSubscribeTooManySubscriptions(t *testing.T) {
	h := newHarness(t, withMaxSubscriptions(1))
	c := h.connect()

	c.send("REQ", "one", map[string]any{})
	c.frames()
	c.send("REQ", "two", map[string]any{})

	frames := c.frames()
	require.Len(t, frames, 1)
	require.Equal(t, wire.LabelClosed, label(t, frames[0]))
	require.True(t, strings.HasPrefix(str(t, frames[0][2]), "blocked:"))

	// Replacing an existing id stays within the cap.
	c.send("REQ", "one", map[string]any{"kinds": []int{1}})
	frames = c.frames()
	require.Len(t, frames, 1)
	require.Equal(t, wire.LabelEOSE, label(t, frames[0]))
}

func TestSubscribeStoreFailureClosesSubscription(t *testing.T) {
	h := newHarness(t, withStore(&failingStore{Store: store.NewMemory(), failQuery: true}))
	c := h.connect()

	c.send("REQ", "s", map[string]any{})
	frames := c.frames()
	require.Len(t, frames, 1)
	require.Equal(t, wire.LabelClosed, label(t, frames[0]))
	require.True(t, strings.HasPrefix(str(t, frames[0][2]), "error:"))
	require.Empty(t, h.registry.Subscriptions(c.sess.ID()))
}

func TestSubscribeMalformedIDIsNotice(t *testing.T) {
	h := newHarness(t)
	c := h.connect()

	c.sendRaw(`["REQ",42,{}]`)
	c.sendRaw(`["REQ","` + strings.Repeat("x", wire.MaxSubscriptionIDLength+1) + `",{}]`)

	frames := c.frames()
	require.Len(t, frames, 2)
	for _, f := range frames {
		require.Equal(t, wire.LabelNotice, label(t, f))
	}
}

func TestUnsubscribe(t *testing.T) {
	h := newHarness(t)
	alice := h.connect()
	bob := h.connect()

	bob.send("REQ", "keep", map[string]any{"kinds": []int{1}})
	bob.send("REQ", "drop", map[string]any{"kinds": []int{1}})
	bob.frames()

	bob.send("CLOSE", "drop")
	bob.send("CLOSE", "never-opened")
	frames := bob.frames()
	require.Len(t, frames, 2)
	for _, f := range frames {
		require.Equal(t, wire.LabelClosed, label(t, f))
		require.Equal(t, "", str(t, f[2]))
	}

	ev := newAuthor(t).event(1, "after close")
	alice.send("EVENT", ev)
	frames = bob.frames()
	require.Len(t, frames, 1)
	require.Equal(t, "keep", str(t, frames[0][1]))
}

func TestAuthRequiredFlow(t *testing.T) {
	h := newHarness(t, withConfig(func(c *Config) { c.AuthRequired = true }))
	c := h.connect()
	a := newAuthor(t)

	frames := c.frames()
	require.Len(t, frames, 1)
	require.Equal(t, wire.LabelAuth, label(t, frames[0]))
	challenge := str(t, frames[0][1])
	require.Len(t, challenge, 32)

	ev := a.event(1, "before auth")
	c.send("EVENT", ev)
	frames = c.frames()
	require.Len(t, frames, 2)
	require.Equal(t, wire.LabelOK, label(t, frames[0]))
	require.True(t, strings.HasPrefix(str(t, frames[0][3]), "auth-required:"))
	require.Equal(t, wire.LabelAuth, label(t, frames[1]))
	require.Equal(t, challenge, str(t, frames[1][1]))

	c.send("REQ", "s", map[string]any{})
	frames = c.frames()
	require.Equal(t, wire.LabelClosed, label(t, frames[0]))
	require.True(t, strings.HasPrefix(str(t, frames[0][2]), "auth-required:"))

	wrong := a.authProof("not-the-challenge")
	c.send("AUTH", wrong)
	c.expectOK(wrong.ID, false, "invalid:")

	proof := a.authProof(challenge)
	c.send("AUTH", proof)
	c.expectOK(proof.ID, true, "")

	ev = a.event(1, "after auth")
	c.send("EVENT", ev)
	c.expectOK(ev.ID, true, "")

	// A proven key does not cover other authors.
	ev = newAuthor(t).event(1, "impostor")
	c.send("EVENT", ev)
	c.expectOK(ev.ID, false, "auth-required:")
	c.frames()

	c.send("REQ", "s", map[string]any{})
	frames = c.frames()
	require.Equal(t, wire.LabelEvent, label(t, frames[0]))
}

func TestAuthRejectsStaleProof(t *testing.T) {
	h := newHarness(t, withConfig(func(c *Config) { c.AuthRequired = true }))
	c := h.connect()
	challenge := str(t, c.frames()[0][1])

	a := newAuthor(t)
	proof := &wire.Event{
		CreatedAt: testNow.Add(-time.Hour).Unix(),
		Kind:      wire.KindClientAuth,
		Tags:      wire.Tags{{"challenge", challenge}},
	}
	require.NoError(t, a.signer.Sign(proof))

	c.send("AUTH", proof)
	c.expectOK(proof.ID, false, "invalid:")
	require.False(t, h.registry.IsAuthenticated(c.sess.ID(), ""))
}

func TestMalformedFramesProduceNotice(t *testing.T) {
	h := newHarness(t)
	c := h.connect()

	for _, frame := range []string{
		`not json`,
		`{"type":"EVENT"}`,
		`[]`,
		`[42]`,
		`["PING"]`,
		`["EVENT"]`,
	} {
		c.sendRaw(frame)
		frames := c.frames()
		require.Len(t, frames, 1, frame)
		require.Equal(t, wire.LabelNotice, label(t, frames[0]), frame)
	}

	_, ok := h.registry.Get(c.sess.ID())
	require.True(t, ok)
}

func TestOverflowClosesSession(t *testing.T) {
	h := newHarness(t, func(_ *Config, _ *Deps, o *session.Options) { o.QueueSize = 2 })
	alice := h.connect()
	bob := h.connect()
	bob.send("REQ", "a", map[string]any{})
	bob.send("REQ", "b", map[string]any{})

	// Bob never drains; the broadcast overflows his queue.
	alice.send("EVENT", newAuthor(t).event(1, "flood"))

	_, ok := h.registry.Get(bob.sess.ID())
	require.False(t, ok)
	select {
	case <-bob.sess.Done():
	default:
		t.Fatal("session not closed")
	}
	_, ok = h.registry.Get(alice.sess.ID())
	require.True(t, ok)
}
