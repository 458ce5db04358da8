// Package policy decides which authors and kinds the relay accepts.
package policy

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Policy is consulted for every event that passed signature checks.
type Policy interface {
	AuthorAllowed(ctx context.Context, pubkey string) bool
	KindAllowed(ctx context.Context, kind int) bool
}

// Allowlist is a Policy whose author list can be edited at runtime.
type Allowlist interface {
	Policy
	Add(ctx context.Context, pubkey string) error
	Remove(ctx context.Context, pubkey string) (bool, error)
	List(ctx context.Context) ([]string, error)
}

// AllowAll accepts every author and kind.
type AllowAll struct{}

func (AllowAll) AuthorAllowed(context.Context, string) bool { return true }
func (AllowAll) KindAllowed(context.Context, int) bool      { return true }

// Static is an in-process allowlist. An empty author list admits everyone;
// an empty kind list admits every kind.
type Static struct {
	mu      sync.RWMutex
	authors map[string]struct{}
	kinds   map[int]struct{}
}

// NewStatic builds a static policy from configured lists.
func NewStatic(authors []string, kinds []int) *Static {
	s := &Static{
		authors: make(map[string]struct{}, len(authors)),
		kinds:   make(map[int]struct{}, len(kinds)),
	}
	for _, a := range authors {
		if a = normalize(a); a != "" {
			s.authors[a] = struct{}{}
		}
	}
	for _, k := range kinds {
		s.kinds[k] = struct{}{}
	}
	return s
}

func normalize(pubkey string) string {
	return strings.ToLower(strings.TrimSpace(pubkey))
}

// AuthorAllowed implements Policy.
func (s *Static) AuthorAllowed(_ context.Context, pubkey string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.authors) == 0 {
		return true
	}
	_, ok := s.authors[pubkey]
	return ok
}

// KindAllowed implements Policy.
func (s *Static) KindAllowed(_ context.Context, kind int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.kinds) == 0 {
		return true
	}
	_, ok := s.kinds[kind]
	return ok
}

// Add implements Allowlist.
func (s *Static) Add(_ context.Context, pubkey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authors[normalize(pubkey)] = struct{}{}
	return nil
}

// Remove implements Allowlist.
func (s *Static) Remove(_ context.Context, pubkey string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := normalize(pubkey)
	_, ok := s.authors[key]
	delete(s.authors, key)
	return ok, nil
}

// List implements Allowlist.
func (s *Static) List(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.authors))
	for a := range s.authors {
		out = append(out, a)
	}
	sort.Strings(out)
	return out, nil
}
