package crypto

import (
	"encoding/hex"
	"fmt"

	"github.com/bhandras/relay/protocol/wire"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// Signer holds a secp256k1 private key and signs events with it.
type Signer struct {
	priv *btcec.PrivateKey
}

// GenerateSigner creates a signer with a fresh random key.
func GenerateSigner() (*Signer, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &Signer{priv: priv}, nil
}

// SignerFromHex loads a signer from a 32-byte hex private key.
func SignerFromHex(secretHex string) (*Signer, error) {
	raw, err := hex.DecodeString(secretHex)
	if err != nil || len(raw) != btcec.PrivKeyBytesLen {
		return nil, fmt.Errorf("invalid private key")
	}
	priv, _ := btcec.PrivKeyFromBytes(raw)
	return &Signer{priv: priv}, nil
}

// PublicKey returns the x-only public key as lowercase hex.
func (s *Signer) PublicKey() string {
	return hex.EncodeToString(schnorr.SerializePubKey(s.priv.PubKey()))
}

// SecretKey returns the private key as lowercase hex.
func (s *Signer) SecretKey() string {
	return hex.EncodeToString(s.priv.Serialize())
}

// Sign sets ev's pubkey, id and signature.
func (s *Signer) Sign(ev *wire.Event) error {
	ev.PubKey = s.PublicKey()
	if ev.Tags == nil {
		ev.Tags = wire.Tags{}
	}
	ev.ID = Hash(ev.Serialize())

	digest, err := hex.DecodeString(ev.ID)
	if err != nil {
		return fmt.Errorf("decode id: %w", err)
	}
	sig, err := schnorr.Sign(s.priv, digest)
	if err != nil {
		return fmt.Errorf("sign event: %w", err)
	}
	ev.Sig = hex.EncodeToString(sig.Serialize())
	return nil
}
