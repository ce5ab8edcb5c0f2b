package ratchet_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"sealrelay/internal/protocol/ratchet"
)

func TestAdvance_Deterministic(t *testing.T) {
	ck := bytes.Repeat([]byte{0x07}, ratchet.KeySize)

	mk1, next1, err := ratchet.Advance(ck)
	require.NoError(t, err)
	mk2, next2, err := ratchet.Advance(ck)
	require.NoError(t, err)

	require.Equal(t, mk1, mk2)
	require.Equal(t, next1, next2)
	require.NotEqual(t, mk1, next1)
	require.NotEqual(t, ck, next1)
}

func TestAdvance_RejectsBadKeySize(t *testing.T) {
	_, _, err := ratchet.Advance([]byte("short"))
	require.ErrorIs(t, err, ratchet.ErrBadKeySize)
}

func TestDeriveChains_MirroredHalves(t *testing.T) {
	root, err := ratchet.NewRootSecret()
	require.NoError(t, err)

	aSend, aRecv, err := ratchet.DeriveChains(root)
	require.NoError(t, err)
	bRecv, bSend, err := ratchet.DeriveChains(root)
	require.NoError(t, err)

	// The initiator's send chain is the responder's receive chain.
	require.Equal(t, aSend, bRecv)
	require.Equal(t, aRecv, bSend)
	require.NotEqual(t, aSend, aRecv)
}

func TestSealOpen_RoundTrip(t *testing.T) {
	mk, _, err := ratchet.Advance(bytes.Repeat([]byte{0x42}, ratchet.KeySize))
	require.NoError(t, err)

	iv, ct, err := ratchet.Seal(mk, []byte("hi"))
	require.NoError(t, err)
	require.Len(t, iv, ratchet.IVSize)

	pt, err := ratchet.Open(mk, iv, ct)
	require.NoError(t, err)
	require.Equal(t, []byte("hi"), pt)
}

func TestOpen_WrongKeyFails(t *testing.T) {
	mkA, _, err := ratchet.Advance(bytes.Repeat([]byte{0x01}, ratchet.KeySize))
	require.NoError(t, err)
	mkB, _, err := ratchet.Advance(bytes.Repeat([]byte{0x02}, ratchet.KeySize))
	require.NoError(t, err)

	iv, ct, err := ratchet.Seal(mkA, []byte("secret"))
	require.NoError(t, err)

	_, err = ratchet.Open(mkB, iv, ct)
	require.ErrorIs(t, err, ratchet.ErrAEADOpen)
}

func TestSeal_FreshIVPerMessage(t *testing.T) {
	mk, _, err := ratchet.Advance(bytes.Repeat([]byte{0x03}, ratchet.KeySize))
	require.NoError(t, err)

	iv1, ct1, err := ratchet.Seal(mk, []byte("msg"))
	require.NoError(t, err)
	iv2, ct2, err := ratchet.Seal(mk, []byte("msg"))
	require.NoError(t, err)

	require.NotEqual(t, iv1, iv2)
	require.NotEqual(t, ct1, ct2)
}

// Walking both chains in lockstep must keep Alice's send keys equal to
// Bob's receive keys for every message in order.
func TestChains_StayInLockstep(t *testing.T) {
	root, err := ratchet.NewRootSecret()
	require.NoError(t, err)

	aSend, _, err := ratchet.DeriveChains(root)
	require.NoError(t, err)
	bRecv, _, err := ratchet.DeriveChains(root)
	require.NoError(t, err)

	for i := 0; i < 16; i++ {
		aMK, aNext, err := ratchet.Advance(aSend)
		require.NoError(t, err)
		bMK, bNext, err := ratchet.Advance(bRecv)
		require.NoError(t, err)

		require.Equal(t, aMK, bMK, "message %d", i)
		aSend, bRecv = aNext, bNext
	}
}
