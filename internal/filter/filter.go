// Package filter decides whether events satisfy subscription filters.
//
// Filters are compiled once when a subscription is registered and events are
// indexed once per broadcast, so matching an event against every live
// subscription does not re-derive either side.
package filter

import (
	"strings"

	"github.com/bhandras/relay/protocol/wire"
)

type stringSet map[string]struct{}

func newStringSet(values []string) stringSet {
	if values == nil {
		return nil
	}
	s := make(stringSet, len(values))
	for _, v := range values {
		s[v] = struct{}{}
	}
	return s
}

// Filter is the compiled form of a wire.Filter.
//
// A nil set means the constraint is absent; a non-nil empty set matches
// nothing.
type Filter struct {
	ids     stringSet
	authors stringSet
	kinds   map[int]struct{}
	since   *int64
	until   *int64
	tags    map[string]stringSet
	terms   []string
}

// Compile converts a wire filter into its matching form.
func Compile(f wire.Filter) *Filter {
	c := &Filter{
		ids:     newStringSet(f.IDs),
		authors: newStringSet(f.Authors),
		since:   f.Since,
		until:   f.Until,
	}
	if f.Kinds != nil {
		c.kinds = make(map[int]struct{}, len(f.Kinds))
		for _, k := range f.Kinds {
			c.kinds[k] = struct{}{}
		}
	}
	if len(f.Tags) > 0 {
		c.tags = make(map[string]stringSet, len(f.Tags))
		for name, values := range f.Tags {
			set := newStringSet(values)
			if set == nil {
				set = stringSet{}
			}
			c.tags[name] = set
		}
	}
	if f.Search != "" {
		c.terms = strings.Fields(strings.ToLower(f.Search))
	}
	return c
}

// Target is an event prepared for matching against many filters.
type Target struct {
	ev      *wire.Event
	tags    map[string]stringSet
	content string
	lowered bool
}

// NewTarget indexes the event's tag values.
func NewTarget(ev *wire.Event) *Target {
	t := &Target{ev: ev, tags: make(map[string]stringSet)}
	for _, tag := range ev.Tags {
		if len(tag) < 2 {
			continue
		}
		set, ok := t.tags[tag[0]]
		if !ok {
			set = make(stringSet)
			t.tags[tag[0]] = set
		}
		set[tag[1]] = struct{}{}
	}
	return t
}

func (t *Target) lowerContent() string {
	if !t.lowered {
		t.content = strings.ToLower(t.ev.Content)
		t.lowered = true
	}
	return t.content
}

// Match reports whether the event satisfies every constraint of f.
func (f *Filter) Match(t *Target) bool {
	ev := t.ev
	if f.ids != nil {
		if _, ok := f.ids[ev.ID]; !ok {
			return false
		}
	}
	if f.authors != nil {
		if _, ok := f.authors[ev.PubKey]; !ok {
			return false
		}
	}
	if f.kinds != nil {
		if _, ok := f.kinds[ev.Kind]; !ok {
			return false
		}
	}
	if f.since != nil && ev.CreatedAt < *f.since {
		return false
	}
	if f.until != nil && ev.CreatedAt > *f.until {
		return false
	}
	for name, want := range f.tags {
		have := t.tags[name]
		if !intersects(want, have) {
			return false
		}
	}
	if len(f.terms) > 0 {
		content := t.lowerContent()
		for _, term := range f.terms {
			if !strings.Contains(content, term) {
				return false
			}
		}
	}
	return true
}

func intersects(a, b stringSet) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for v := range a {
		if _, ok := b[v]; ok {
			return true
		}
	}
	return false
}

// Set is an ordered, OR-combined list of compiled filters.
type Set []*Filter

// CompileAll compiles every filter of a subscription.
func CompileAll(filters []wire.Filter) Set {
	set := make(Set, 0, len(filters))
	for _, f := range filters {
		set = append(set, Compile(f))
	}
	return set
}

// Match reports whether at least one filter matches.
func (s Set) Match(t *Target) bool {
	for _, f := range s {
		if f.Match(t) {
			return true
		}
	}
	return false
}

// Matches reports whether ev satisfies f.
func Matches(ev *wire.Event, f wire.Filter) bool {
	return Compile(f).Match(NewTarget(ev))
}

// MatchesAny reports whether ev satisfies at least one of filters.
func MatchesAny(ev *wire.Event, filters []wire.Filter) bool {
	t := NewTarget(ev)
	for _, f := range filters {
		if Compile(f).Match(t) {
			return true
		}
	}
	return false
}
