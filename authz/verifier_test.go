package authz

import (
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/stretchr/testify/require"
)

func generateKey(t *testing.T) (*secp256k1.PrivateKey, []byte) {
	t.Helper()
	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	return priv, priv.PubKey().SerializeCompressed()
}

func TestValidatePublicKeyLength(t *testing.T) {
	_, pub := generateKey(t)
	require.NoError(t, ValidatePublicKey(pub))
	require.ErrorIs(t, ValidatePublicKey(pub[:32]), ErrInvalidPublicKey)
	require.ErrorIs(t, ValidatePublicKey(nil), ErrInvalidPublicKey)
}

func TestSecp256k1VerifierRoundTrip(t *testing.T) {
	priv, pub := generateKey(t)
	header := []byte("circuit-create-header-bytes")
	digest := sha256Sum(header)
	sig := ecdsa.Sign(priv, digest[:])

	v := Secp256k1Verifier{}
	ok, err := v.Verify(header, sig.Serialize(), pub)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = v.Verify([]byte("tampered"), sig.Serialize(), pub)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSecp256k1VerifierRejectsBadKey(t *testing.T) {
	v := Secp256k1Verifier{}
	_, err := v.Verify([]byte("x"), []byte("y"), []byte("short"))
	require.ErrorIs(t, err, ErrInvalidPublicKey)
}
