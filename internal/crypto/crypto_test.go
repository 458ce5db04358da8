package crypto

import (
	"strings"
	"testing"
	"time"

	"github.com/bhandras/relay/protocol/wire"
	"github.com/stretchr/testify/require"
)

func signedEvent(t *testing.T) (*Signer, *wire.Event) {
	t.Helper()
	s, err := GenerateSigner()
	require.NoError(t, err)
	ev := &wire.Event{CreatedAt: 1_700_000_000, Kind: 1, Tags: wire.Tags{{"t", "go"}}, Content: "hello"}
	require.NoError(t, s.Sign(ev))
	return s, ev
}

func TestSignAndVerify(t *testing.T) {
	s, ev := signedEvent(t)
	require.True(t, wire.IsLowerHex(ev.ID, 64))
	require.True(t, wire.IsLowerHex(ev.PubKey, 64))
	require.True(t, wire.IsLowerHex(ev.Sig, 128))
	require.Equal(t, s.PublicKey(), ev.PubKey)

	v := NewSchnorrVerifier()
	require.NoError(t, CheckEvent(v, ev))
}

func TestCheckEventDetectsTampering(t *testing.T) {
	_, ev := signedEvent(t)
	v := NewSchnorrVerifier()

	tampered := *ev
	tampered.Content = "bye"
	require.ErrorIs(t, CheckEvent(v, &tampered), ErrIDMismatch)

	_, ev2 := signedEvent(t)
	forged := *ev
	forged.Sig = ev2.Sig
	require.ErrorIs(t, CheckEvent(v, &forged), ErrBadSignature)
}

func TestVerifySignatureRejectsGarbage(t *testing.T) {
	_, ev := signedEvent(t)
	_, err := VerifySignature("zz", ev.PubKey, ev.Sig)
	require.Error(t, err)
	_, err = VerifySignature(ev.ID, strings.Repeat("0", 64), ev.Sig)
	require.Error(t, err)
	_, err = VerifySignature(ev.ID, ev.PubKey, "abcd")
	require.Error(t, err)
}

func TestSignerFromHexRoundTrip(t *testing.T) {
	s, err := GenerateSigner()
	require.NoError(t, err)
	loaded, err := SignerFromHex(s.SecretKey())
	require.NoError(t, err)
	require.Equal(t, s.PublicKey(), loaded.PublicKey())

	_, err = SignerFromHex("abc")
	require.Error(t, err)
}

type countingVerifier struct {
	SchnorrVerifier
	calls int
}

func (c *countingVerifier) Verify(id, pubkey, sig string) bool {
	c.calls++
	return c.SchnorrVerifier.Verify(id, pubkey, sig)
}

func TestCachingVerifier(t *testing.T) {
	_, ev := signedEvent(t)
	inner := &countingVerifier{}
	cv, err := NewCachingVerifier(inner, 16)
	require.NoError(t, err)

	require.NoError(t, CheckEvent(cv, ev))
	require.NoError(t, CheckEvent(cv, ev))
	require.Equal(t, 1, inner.calls)
	require.Equal(t, 1, cv.Len())

	bad := *ev
	bad.Sig = strings.Repeat("0", 128)
	require.False(t, cv.Verify(bad.ID, bad.PubKey, bad.Sig))
	require.False(t, cv.Verify(bad.ID, bad.PubKey, bad.Sig))
	require.Equal(t, 3, inner.calls)
}

func TestRandHex(t *testing.T) {
	a, err := RandHex(16)
	require.NoError(t, err)
	b, err := RandHex(16)
	require.NoError(t, err)
	require.Len(t, a, 32)
	require.NotEqual(t, a, b)

	_, err = RandBytes(nil)
	require.Error(t, err)
}

func TestJWTRoundTrip(t *testing.T) {
	m, err := NewJWTManager("secret")
	require.NoError(t, err)

	token, err := m.CreateToken("ops", time.Hour)
	require.NoError(t, err)
	claims, err := m.VerifyToken(token)
	require.NoError(t, err)
	require.Equal(t, "ops", claims.Subject)

	other, err := NewJWTManager("other")
	require.NoError(t, err)
	_, err = other.VerifyToken(token)
	require.Error(t, err)

	m.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, err := m.CreateToken("ops", time.Hour)
	require.NoError(t, err)
	_, err = m.VerifyToken(expired)
	require.Error(t, err)

	_, err = NewJWTManager("")
	require.Error(t, err)
}
