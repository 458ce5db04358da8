package filter

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/bhandras/relay/protocol/wire"
	"github.com/stretchr/testify/require"
)

func i64(v int64) *int64 { return &v }

func sampleEvent() *wire.Event {
	return &wire.Event{
		ID:        "id1",
		PubKey:    "alice",
		CreatedAt: 100,
		Kind:      1,
		Tags:      wire.Tags{{"e", "root"}, {"p", "bob"}, {"t"}},
		Content:   "Hello Nostr World",
	}
}

func TestEmptyFilterMatchesEverything(t *testing.T) {
	require.True(t, Matches(sampleEvent(), wire.Filter{}))
	require.True(t, Matches(&wire.Event{}, wire.Filter{}))
}

func TestMatchesConstraints(t *testing.T) {
	ev := sampleEvent()
	cases := []struct {
		name string
		f    wire.Filter
		want bool
	}{
		{"id hit", wire.Filter{IDs: []string{"x", "id1"}}, true},
		{"id miss", wire.Filter{IDs: []string{"x"}}, false},
		{"empty ids", wire.Filter{IDs: []string{}}, false},
		{"author", wire.Filter{Authors: []string{"alice"}}, true},
		{"author miss", wire.Filter{Authors: []string{"bob"}}, false},
		{"kind", wire.Filter{Kinds: []int{0, 1}}, true},
		{"kind miss", wire.Filter{Kinds: []int{7}}, false},
		{"since inclusive", wire.Filter{Since: i64(100)}, true},
		{"since after", wire.Filter{Since: i64(101)}, false},
		{"until inclusive", wire.Filter{Until: i64(100)}, true},
		{"until before", wire.Filter{Until: i64(99)}, false},
		{"tag or within type", wire.Filter{Tags: map[string][]string{"e": {"zzz", "root"}}}, true},
		{"tag and across types", wire.Filter{Tags: map[string][]string{"e": {"root"}, "p": {"carol"}}}, false},
		{"tag both", wire.Filter{Tags: map[string][]string{"e": {"root"}, "p": {"bob"}}}, true},
		{"tag without value", wire.Filter{Tags: map[string][]string{"t": {""}}}, false},
		{"tag empty list", wire.Filter{Tags: map[string][]string{"e": {}}}, false},
		{"search", wire.Filter{Search: "nostr hello"}, true},
		{"search miss", wire.Filter{Search: "nostr bye"}, false},
		{"combined", wire.Filter{Kinds: []int{1}, Authors: []string{"alice"}, Since: i64(50), Until: i64(150)}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Matches(ev, tc.f))
		})
	}
}

func TestSetMatchIsOr(t *testing.T) {
	ev := sampleEvent()
	set := CompileAll([]wire.Filter{{Kinds: []int{7}}, {Authors: []string{"alice"}}})
	require.True(t, set.Match(NewTarget(ev)))
	require.False(t, CompileAll(nil).Match(NewTarget(ev)))
}

func randomEvent(r *rand.Rand) *wire.Event {
	ev := &wire.Event{
		ID:        fmt.Sprintf("id%d", r.Intn(5)),
		PubKey:    fmt.Sprintf("pk%d", r.Intn(3)),
		CreatedAt: int64(r.Intn(20)),
		Kind:      r.Intn(4),
	}
	for n := r.Intn(3); n > 0; n-- {
		ev.Tags = append(ev.Tags, wire.Tag{[]string{"e", "p"}[r.Intn(2)], fmt.Sprintf("v%d", r.Intn(3))})
	}
	return ev
}

func randomFilter(r *rand.Rand) wire.Filter {
	var f wire.Filter
	if r.Intn(2) == 0 {
		f.IDs = []string{fmt.Sprintf("id%d", r.Intn(5))}
	}
	if r.Intn(2) == 0 {
		f.Authors = []string{fmt.Sprintf("pk%d", r.Intn(3)), fmt.Sprintf("pk%d", r.Intn(3))}
	}
	if r.Intn(2) == 0 {
		f.Kinds = []int{r.Intn(4)}
	}
	if r.Intn(3) == 0 {
		f.Since = i64(int64(r.Intn(20)))
	}
	if r.Intn(3) == 0 {
		f.Until = i64(int64(r.Intn(20)))
	}
	if r.Intn(3) == 0 {
		f.Tags = map[string][]string{"e": {fmt.Sprintf("v%d", r.Intn(3))}}
	}
	return f
}

func TestMatchesAnyIsDisjunction(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 2000; i++ {
		ev := randomEvent(r)
		filters := make([]wire.Filter, r.Intn(4))
		for j := range filters {
			filters[j] = randomFilter(r)
		}

		want := false
		for _, f := range filters {
			want = want || Matches(ev, f)
		}
		require.Equal(t, want, MatchesAny(ev, filters))
		require.Equal(t, want, CompileAll(filters).Match(NewTarget(ev)))
	}
}
