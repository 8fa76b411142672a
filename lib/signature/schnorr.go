package signature

import (
	"crypto/sha256"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/pkg/errors"

	"github.com/Maphikza/cardano-community-suite/internal/apperrors"
)

func init() {
	Register(schnorrScheme{})
}

// schnorrScheme is BIP-340 over secp256k1 with x-only public keys. The signed digest is
// sha256 of the message, matching what nostr and most secp256k1 wallets produce.
type schnorrScheme struct{}

func (schnorrScheme) ID() string { return "schnorr-secp256k1" }
func (schnorrScheme) PublicKeySize() int { return schnorr.PubKeyBytesLen }
func (schnorrScheme) SignatureSize() int { return schnorr.SignatureSize }

func (schnorrScheme) Verify(pub, msg, sig []byte) error {
	if len(pub) != schnorr.PubKeyBytesLen {
		return errors.Wrapf(apperrors.ErrMalformedInput, "bad schnorr public key size %d", len(pub))
	}
	if len(sig) != schnorr.SignatureSize {
		return errors.Wrapf(apperrors.ErrMalformedInput, "bad schnorr signature size %d", len(sig))
	}
	pubKey, err := schnorr.ParsePubKey(pub)
	if err != nil {
		return errors.Wrapf(apperrors.ErrMalformedInput, "parse schnorr public key: %v", err)
	}
	parsed, err := schnorr.ParseSignature(sig)
	if err != nil {
		return errors.Wrapf(apperrors.ErrMalformedInput, "parse schnorr signature: %v", err)
	}
	digest := sha256.Sum256(msg)
	if !parsed.Verify(digest[:], pubKey) {
		return errors.Wrap(apperrors.ErrInvalidSignature, "schnorr signature verification failed")
	}
	return nil
}

func (schnorrScheme) Sign(priv, msg []byte) ([]byte, error) {
	if len(priv) != btcec.PrivKeyBytesLen {
		return nil, errors.Wrapf(apperrors.ErrMalformedInput, "bad secp256k1 private key size %d", len(priv))
	}
	key, _ := btcec.PrivKeyFromBytes(priv)
	digest := sha256.Sum256(msg)
	sig, err := schnorr.Sign(key, digest[:])
	if err != nil {
		return nil, errors.Wrap(err, "schnorr sign")
	}
	return sig.Serialize(), nil
}

// SchnorrPublicKey returns the x-only public key for a secp256k1 private key.
func SchnorrPublicKey(priv []byte) []byte {
	_, pub := btcec.PrivKeyFromBytes(priv)
	return schnorr.SerializePubKey(pub)
}
