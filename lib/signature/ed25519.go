package signature

import (
	"github.com/pkg/errors"
	"golang.org/x/crypto/ed25519"

	"github.com/Maphikza/cardano-community-suite/internal/apperrors"
)

func init() {
	Register(edScheme{})
}

type edScheme struct{}

func (edScheme) ID() string { return "ed25519" }
func (edScheme) PublicKeySize() int { return ed25519.PublicKeySize }
func (edScheme) SignatureSize() int { return ed25519.SignatureSize }

func (edScheme) Verify(pub, msg, sig []byte) error {
	if len(pub) != ed25519.PublicKeySize {
		return errors.Wrapf(apperrors.ErrMalformedInput, "bad ed25519 public key size %d", len(pub))
	}
	if len(sig) != ed25519.SignatureSize {
		return errors.Wrapf(apperrors.ErrMalformedInput, "bad ed25519 signature size %d", len(sig))
	}
	if !ed25519.Verify(pub, msg, sig) {
		return errors.Wrap(apperrors.ErrInvalidSignature, "ed25519 signature verification failed")
	}
	return nil
}

// Sign accepts either a 32-byte seed or a 64-byte private key.
func (edScheme) Sign(priv, msg []byte) ([]byte, error) {
	switch len(priv) {
	case ed25519.SeedSize:
		priv = ed25519.NewKeyFromSeed(priv)
	case ed25519.PrivateKeySize:
	default:
		return nil, errors.Wrapf(apperrors.ErrMalformedInput, "bad ed25519 private key size %d", len(priv))
	}
	return ed25519.Sign(ed25519.PrivateKey(priv), msg), nil
}
