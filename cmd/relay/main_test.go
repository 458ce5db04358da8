package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bhandras/relay/internal/crypto"
	"github.com/bhandras/relay/internal/store"
	"github.com/bhandras/relay/protocol/wire"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestKeygen(t *testing.T) {
	out, err := execute(t, "keygen", "--qr=false")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	secret := strings.TrimPrefix(lines[0], "secret: ")
	pubkey := strings.TrimPrefix(lines[1], "pubkey: ")
	require.True(t, wire.IsLowerHex(pubkey, 64))

	signer, err := crypto.SignerFromHex(secret)
	require.NoError(t, err)
	require.Equal(t, pubkey, signer.PublicKey())
}

func TestKeygenQR(t *testing.T) {
	out, err := execute(t, "keygen", "--qr")
	require.NoError(t, err)
	require.Greater(t, len(strings.Split(strings.TrimSpace(out), "\n")), 10)
}

func TestAdminToken(t *testing.T) {
	t.Setenv("RELAY_CONFIG", "")
	t.Setenv("RELAY_ADMIN_SECRET", "cli-secret")

	out, err := execute(t, "admin-token", "--subject", "ops")
	require.NoError(t, err)

	jwtManager, err := crypto.NewJWTManager("cli-secret")
	require.NoError(t, err)
	claims, err := jwtManager.VerifyToken(strings.TrimSpace(out))
	require.NoError(t, err)
	require.Equal(t, "ops", claims.Subject)
}

func TestAdminTokenWithoutSecret(t *testing.T) {
	t.Setenv("RELAY_CONFIG", "")
	t.Setenv("RELAY_ADMIN_SECRET", "")

	_, err := execute(t, "admin-token")
	require.Error(t, err)
}

func TestCompact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.db")
	db, err := store.OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	out, err := execute(t, "compact", "--db", path)
	require.NoError(t, err)
	require.Equal(t, "compacted 0 deleted events\n", out)
}
