// Package crypto holds the event hashing, signature and key helpers used by
// the relay.
package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/bhandras/relay/protocol/wire"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

var (
	// ErrIDMismatch is returned when an event id is not the hash of its
	// canonical serialization.
	ErrIDMismatch = errors.New("event id does not match content hash")
	// ErrBadSignature is returned when an event signature does not verify.
	ErrBadSignature = errors.New("signature verification failed")
)

// Verifier checks event signatures and computes event ids.
type Verifier interface {
	// Verify reports whether sig is a valid signature of id by pubkey. All
	// arguments are lowercase hex.
	Verify(id, pubkey, sig string) bool
	// Hash returns the lowercase hex sha256 of a canonical serialization.
	Hash(serialized []byte) string
}

// SchnorrVerifier verifies BIP-340 schnorr signatures over secp256k1.
type SchnorrVerifier struct{}

// NewSchnorrVerifier returns a stateless schnorr verifier.
func NewSchnorrVerifier() SchnorrVerifier {
	return SchnorrVerifier{}
}

// Hash implements Verifier.
func (SchnorrVerifier) Hash(serialized []byte) string {
	return Hash(serialized)
}

// Verify implements Verifier.
func (SchnorrVerifier) Verify(id, pubkey, sig string) bool {
	ok, err := VerifySignature(id, pubkey, sig)
	return err == nil && ok
}

// Hash returns the lowercase hex sha256 of b.
func Hash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// VerifySignature verifies a hex-encoded schnorr signature over a hex-encoded
// 32-byte digest.
func VerifySignature(idHex, pubkeyHex, sigHex string) (bool, error) {
	digest, err := hex.DecodeString(idHex)
	if err != nil || len(digest) != sha256.Size {
		return false, fmt.Errorf("invalid event id")
	}
	pkBytes, err := hex.DecodeString(pubkeyHex)
	if err != nil {
		return false, fmt.Errorf("failed to decode public key: %w", err)
	}
	pk, err := schnorr.ParsePubKey(pkBytes)
	if err != nil {
		return false, fmt.Errorf("failed to parse public key: %w", err)
	}
	sigBytes, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, fmt.Errorf("failed to decode signature: %w", err)
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return false, fmt.Errorf("failed to parse signature: %w", err)
	}
	return sig.Verify(digest, pk), nil
}

// CheckEvent verifies that ev's id is the hash of its canonical form and that
// its signature is valid.
func CheckEvent(v Verifier, ev *wire.Event) error {
	if v.Hash(ev.Serialize()) != ev.ID {
		return ErrIDMismatch
	}
	if !v.Verify(ev.ID, ev.PubKey, ev.Sig) {
		return ErrBadSignature
	}
	return nil
}
