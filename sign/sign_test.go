package sign

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEd25519SignAndVerify(t *testing.T) {
	privKey, pubKey := GenED25519Keys()
	data := []byte("a proof text")

	sig := SignEd25519(privKey, data)
	ok, err := VerifySignEd25519(pubKey, data, sig)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifySignEd25519(pubKey, []byte("another text"), sig)
	require.NoError(t, err)
	assert.False(t, ok)

	_, otherPub := GenED25519Keys()
	ok, err = VerifySignEd25519(otherPub, data, sig)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = VerifySignEd25519([]byte("short"), data, sig)
	assert.Error(t, err)
}

func TestThresholdSignatures(t *testing.T) {
	shares, pubPoly := GenTSKeys(3, 4)
	data := []byte("a shared proof text")

	var partials [][]byte
	for i := 0; i < 3; i++ {
		partial := SignTSPartial(shares[i], data)
		require.NoError(t, VerifyTSPartial(pubPoly, data, partial))
		partials = append(partials, partial)
	}

	intact := AssembleIntactTSPartial(partials, pubPoly, data, 3, 4)
	ok, err := VerifyTS(pubPoly, data, intact)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = VerifyTS(pubPoly, []byte("another text"), intact)
	assert.Error(t, err)
}

func TestThresholdRecoverIsOrderIndependent(t *testing.T) {
	shares, pubPoly := GenTSKeys(3, 4)
	data := []byte("a shared proof text")

	a := SignTSPartial(shares[0], data)
	b := SignTSPartial(shares[2], data)
	c := SignTSPartial(shares[3], data)

	first := AssembleIntactTSPartial([][]byte{a, b, c}, pubPoly, data, 3, 4)
	second := AssembleIntactTSPartial([][]byte{c, a, b}, pubPoly, data, 3, 4)
	assert.Equal(t, first, second)
}

func TestTSKeyEncodeDecode(t *testing.T) {
	shares, pubPoly := GenTSKeys(3, 4)
	data := []byte("a shared proof text")

	pubAsBytes, err := EncodeTSPublicKey(pubPoly)
	require.NoError(t, err)
	decodedPub, err := DecodeTSPublicKey(pubAsBytes)
	require.NoError(t, err)

	shareAsBytes, err := EncodeTSPartialKey(shares[1])
	require.NoError(t, err)
	decodedShare, err := DecodeTSPartialKey(shareAsBytes)
	require.NoError(t, err)
	require.Equal(t, shares[1].I, decodedShare.I)

	// the decoded material still signs and verifies
	partial := SignTSPartial(decodedShare, data)
	assert.NoError(t, VerifyTSPartial(decodedPub, data, partial))
}
