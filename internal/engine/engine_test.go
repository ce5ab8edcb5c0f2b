package engine_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"sealrelay/internal/crypto"
	"sealrelay/internal/domain"
	"sealrelay/internal/engine"
	"sealrelay/internal/store"
)

func makeIdentity(t *testing.T, user string) domain.Identity {
	t.Helper()
	xPriv, xPub, err := crypto.GenerateX25519()
	require.NoError(t, err)
	edPriv, edPub, err := crypto.GenerateEd25519()
	require.NoError(t, err)
	return domain.Identity{
		UserID: user,
		XPriv:  xPriv, XPub: xPub,
		EdPriv: edPriv, EdPub: edPub,
	}
}

func newEngine(t *testing.T, user string) (*engine.Engine, domain.Identity, domain.SessionStore) {
	t.Helper()
	id := makeIdentity(t, user)
	sessions := store.NewMemorySessionStore()
	return engine.New(id, sessions), id, sessions
}

func TestEncryptDecrypt_BootstrapRoundTrip(t *testing.T) {
	alice, _, _ := newEngine(t, "alice")
	bob, bobID, _ := newEngine(t, "bob")

	env, err := alice.Encrypt("bob", bobID.XPub, []byte("hi"))
	require.NoError(t, err)
	require.Equal(t, domain.EnvelopeVersionRatchet, env.Version)
	require.NotEmpty(t, env.Bootstrap, "first message must carry a bootstrap header")

	pt, err := bob.Decrypt("alice", env)
	require.NoError(t, err)
	require.Equal(t, "hi", string(pt))

	// Second message: no header, different ciphertext and IV.
	env2, err := alice.Encrypt("bob", bobID.XPub, []byte("there"))
	require.NoError(t, err)
	require.Empty(t, env2.Bootstrap)
	require.NotEqual(t, env.Data, env2.Data)
	require.NotEqual(t, env.IV, env2.IV)

	pt2, err := bob.Decrypt("alice", env2)
	require.NoError(t, err)
	require.Equal(t, "there", string(pt2))
}

func TestEncrypt_CommitsSessionOnFirstSend(t *testing.T) {
	alice, _, sessions := newEngine(t, "alice")
	_, bobID, _ := newEngine(t, "bob")

	_, ok, err := sessions.LoadSession("bob")
	require.NoError(t, err)
	require.False(t, ok)

	_, err = alice.Encrypt("bob", bobID.XPub, []byte("x"))
	require.NoError(t, err)

	st, ok, err := sessions.LoadSession("bob")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, st.ChainKeySend, 32)
	require.Len(t, st.ChainKeyRecv, 32)
}

func TestDecrypt_FailedAEADLeavesChainIntact(t *testing.T) {
	alice, _, _ := newEngine(t, "alice")
	bob, bobID, bobSessions := newEngine(t, "bob")

	// Establish the session on both sides.
	env, err := alice.Encrypt("bob", bobID.XPub, []byte("one"))
	require.NoError(t, err)
	_, err = bob.Decrypt("alice", env)
	require.NoError(t, err)

	before, ok, err := bobSessions.LoadSession("alice")
	require.NoError(t, err)
	require.True(t, ok)

	// Corrupt the next envelope; decrypt must fail without consuming a key.
	env2, err := alice.Encrypt("bob", bobID.XPub, []byte("two"))
	require.NoError(t, err)
	bad := env2
	bad.Data = env.Data // ciphertext from another message key
	_, err = bob.Decrypt("alice", bad)
	require.Error(t, err)

	after, ok, err := bobSessions.LoadSession("alice")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, before.ChainKeyRecv, after.ChainKeyRecv)

	// The intact envelope still decrypts with the pre-failure chain key.
	pt, err := bob.Decrypt("alice", env2)
	require.NoError(t, err)
	require.Equal(t, "two", string(pt))
}

func TestDecrypt_NoSessionNoHeader(t *testing.T) {
	alice, _, _ := newEngine(t, "alice")
	bob, bobID, _ := newEngine(t, "bob")

	env, err := alice.Encrypt("bob", bobID.XPub, []byte("hello"))
	require.NoError(t, err)
	env.Bootstrap = ""

	_, err = bob.Decrypt("alice", env)
	require.Error(t, err)
}

func TestLegacyHybrid_RoundTrip(t *testing.T) {
	alice, _, _ := newEngine(t, "alice")
	bob, bobID, _ := newEngine(t, "bob")

	env, err := alice.EncryptLegacy(bobID.XPub, []byte("old world"))
	require.NoError(t, err)
	require.Zero(t, env.Version)
	require.NotEmpty(t, env.WrappedKey)

	pt, err := bob.Decrypt("alice", env)
	require.NoError(t, err)
	require.Equal(t, "old world", string(pt))
}

func TestResetSession_NextSendBootstraps(t *testing.T) {
	alice, _, _ := newEngine(t, "alice")
	bob, bobID, _ := newEngine(t, "bob")

	env, err := alice.Encrypt("bob", bobID.XPub, []byte("a"))
	require.NoError(t, err)
	_, err = bob.Decrypt("alice", env)
	require.NoError(t, err)

	require.NoError(t, alice.ResetSession("bob"))

	env2, err := alice.Encrypt("bob", bobID.XPub, []byte("b"))
	require.NoError(t, err)
	require.NotEmpty(t, env2.Bootstrap)

	pt, err := bob.Decrypt("alice", env2)
	require.NoError(t, err)
	require.Equal(t, "b", string(pt))
}
