package crypto

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru"
)

// CachingVerifier remembers successful verifications so events fanned in
// from several clients are only checked once.
type CachingVerifier struct {
	inner Verifier
	cache *lru.ARCCache
}

// NewCachingVerifier wraps inner with an ARC cache of size entries.
func NewCachingVerifier(inner Verifier, size int) (*CachingVerifier, error) {
	cache, err := lru.NewARC(size)
	if err != nil {
		return nil, fmt.Errorf("create signature cache: %w", err)
	}
	return &CachingVerifier{inner: inner, cache: cache}, nil
}

// Hash implements Verifier.
func (c *CachingVerifier) Hash(serialized []byte) string {
	return c.inner.Hash(serialized)
}

// Verify implements Verifier. Only positive results are cached.
func (c *CachingVerifier) Verify(id, pubkey, sig string) bool {
	key := id + pubkey + sig
	if c.cache.Contains(key) {
		return true
	}
	if !c.inner.Verify(id, pubkey, sig) {
		return false
	}
	c.cache.Add(key, struct{}{})
	return true
}

// Len returns the number of cached verifications.
func (c *CachingVerifier) Len() int {
	return c.cache.Len()
}
