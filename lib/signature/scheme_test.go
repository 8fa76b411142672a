package signature

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ed25519"

	"github.com/Maphikza/cardano-community-suite/internal/apperrors"
)

func TestRegistryHasBuiltins(t *testing.T) {
	assert.Equal(t, []string{"ed25519", "schnorr-secp256k1"}, IDs())

	s, err := Get("")
	require.NoError(t, err)
	assert.Equal(t, DefaultSchemeID, s.ID())

	_, err = Get("rsa")
	assert.True(t, errors.Is(err, apperrors.ErrInvalidArgument))
}

func TestEd25519Verify(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	s, err := Get("ed25519")
	require.NoError(t, err)

	msg := []byte("I hereby verify my membership")
	sig, err := s.Sign(priv, msg)
	require.NoError(t, err)

	assert.NoError(t, s.Verify(pub, msg, sig))

	err = s.Verify(pub, []byte("something else"), sig)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidSignature))

	otherPub, _, _ := ed25519.GenerateKey(rand.Reader)
	err = s.Verify(otherPub, msg, sig)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidSignature))

	err = s.Verify(pub[:31], msg, sig)
	assert.True(t, errors.Is(err, apperrors.ErrMalformedInput))

	err = s.Verify(pub, msg, sig[:63])
	assert.True(t, errors.Is(err, apperrors.ErrMalformedInput))
}

func TestEd25519SignFromSeed(t *testing.T) {
	seed := make([]byte, ed25519.SeedSize)
	_, err := rand.Read(seed)
	require.NoError(t, err)
	s, _ := Get("ed25519")

	sig, err := s.Sign(seed, []byte("m"))
	require.NoError(t, err)
	pub := ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey)
	assert.NoError(t, s.Verify(pub, []byte("m"), sig))

	_, err = s.Sign(seed[:10], []byte("m"))
	assert.True(t, errors.Is(err, apperrors.ErrMalformedInput))
}

func TestSchnorrVerify(t *testing.T) {
	priv := make([]byte, 32)
	priv[31] = 7
	s, err := Get("schnorr-secp256k1")
	require.NoError(t, err)

	msg := []byte("challenge")
	sig, err := s.Sign(priv, msg)
	require.NoError(t, err)
	pub := SchnorrPublicKey(priv)

	assert.NoError(t, s.Verify(pub, msg, sig))
	assert.True(t, errors.Is(s.Verify(pub, []byte("other"), sig), apperrors.ErrInvalidSignature))
	assert.True(t, errors.Is(s.Verify(pub[:20], msg, sig), apperrors.ErrMalformedInput))
}

func TestDecodeBytes(t *testing.T) {
	raw := []byte{0xde, 0xad, 0xbe, 0xef, 0x01}

	for _, enc := range []string{
		hex.EncodeToString(raw),
		"0x" + hex.EncodeToString(raw),
		base64.StdEncoding.EncodeToString(raw),
		base64.RawURLEncoding.EncodeToString(raw),
	} {
		got, err := DecodeBytes(enc)
		require.NoError(t, err, enc)
		assert.Equal(t, raw, got, enc)
	}

	_, err := DecodeBytes("")
	assert.True(t, errors.Is(err, apperrors.ErrMalformedInput))
	_, err = DecodeBytes("!!not encoded!!")
	assert.True(t, errors.Is(err, apperrors.ErrMalformedInput))
}

func TestVerifyEncoded(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(rand.Reader)
	s, _ := Get("ed25519")
	sig := ed25519.Sign(priv, []byte("hello"))

	got, err := VerifyEncoded(s, hex.EncodeToString(pub), "hello", base64.StdEncoding.EncodeToString(sig))
	require.NoError(t, err)
	assert.Equal(t, []byte(pub), got)

	_, err = VerifyEncoded(s, "zz", "hello", hex.EncodeToString(sig))
	assert.True(t, errors.Is(err, apperrors.ErrMalformedInput))

	_, err = VerifyEncoded(s, hex.EncodeToString(pub), "goodbye", hex.EncodeToString(sig))
	assert.True(t, errors.Is(err, apperrors.ErrInvalidSignature))
}
