// Package keys generates and stores the Ed25519 signing keys members use to answer challenges.
package keys

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/ed25519"
	"golang.org/x/crypto/scrypt"

	"github.com/Maphikza/cardano-community-suite/internal/apperrors"
)

type KeyPair struct {
	Mnemonic   string
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

// Seed returns the 32-byte Ed25519 seed.
func (k *KeyPair) Seed() []byte {
	return k.PrivateKey.Seed()
}

// Generate creates a fresh 24-word mnemonic and the key derived from it.
func Generate(passphrase string) (*KeyPair, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return nil, errors.Wrap(err, "generate entropy")
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return nil, errors.Wrap(err, "generate mnemonic")
	}
	return FromMnemonic(mnemonic, passphrase)
}

// FromMnemonic derives the key from the first 32 bytes of the BIP-39 seed.
func FromMnemonic(mnemonic, passphrase string) (*KeyPair, error) {
	mnemonic = strings.Join(strings.Fields(mnemonic), " ")
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, passphrase)
	if err != nil {
		return nil, errors.Wrapf(apperrors.ErrInvalidArgument, "invalid mnemonic: %v", err)
	}
	priv := ed25519.NewKeyFromSeed(seed[:ed25519.SeedSize])
	return &KeyPair{
		Mnemonic:   mnemonic,
		PublicKey:  priv.Public().(ed25519.PublicKey),
		PrivateKey: priv,
	}, nil
}

// Sign signs msg with the private key.
func (k *KeyPair) Sign(msg []byte) []byte {
	return ed25519.Sign(k.PrivateKey, msg)
}

// File is the on-disk key format. Exactly one of Seed and EncryptedSeed is set.
type File struct {
	Scheme        string `json:"scheme"`
	PublicKey     string `json:"public_key"`
	Address       string `json:"address,omitempty"`
	Seed          string `json:"seed,omitempty"`
	EncryptedSeed string `json:"encrypted_seed,omitempty"`
}

// Save writes the key to path; the seed is encrypted when password is non-empty.
func (k *KeyPair) Save(path, password, address string) error {
	f := File{
		Scheme:    "ed25519",
		PublicKey: hex.EncodeToString(k.PublicKey),
		Address:   address,
	}
	seed := hex.EncodeToString(k.Seed())
	if password == "" {
		f.Seed = seed
	} else {
		enc, err := encrypt(seed, password)
		if err != nil {
			return err
		}
		f.EncryptedSeed = enc
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return errors.Wrap(err, "create key directory")
	}
	return errors.Wrap(os.WriteFile(path, data, 0o600), "write key file")
}

// Load reads a key file written by Save.
func Load(path, password string) (*KeyPair, *File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, errors.Wrap(err, "read key file")
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, nil, errors.Wrap(apperrors.ErrMalformedInput, "key file is not valid JSON")
	}

	seedHex := f.Seed
	if f.EncryptedSeed != "" {
		if password == "" {
			return nil, nil, errors.Wrap(apperrors.ErrInvalidArgument, "key file is encrypted, password required")
		}
		seedHex, err = decrypt(f.EncryptedSeed, password)
		if err != nil {
			return nil, nil, err
		}
	}
	seed, err := hex.DecodeString(seedHex)
	if err != nil || len(seed) != ed25519.SeedSize {
		return nil, nil, errors.Wrap(apperrors.ErrMalformedInput, "key file seed is malformed")
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &KeyPair{PublicKey: priv.Public().(ed25519.PublicKey), PrivateKey: priv}, &f, nil
}

func encrypt(plaintext string, password string) (string, error) {
	key, salt, err := deriveKey(password, nil)
	if err != nil {
		return "", err
	}
	iv := make([]byte, 12)
	if _, err := rand.Read(iv); err != nil {
		return "", err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	ciphertext := aesgcm.Seal(nil, iv, []byte(plaintext), nil)

	return base64.StdEncoding.EncodeToString(salt) + ":" +
		base64.StdEncoding.EncodeToString(iv) + ":" +
		base64.StdEncoding.EncodeToString(ciphertext), nil
}

func decrypt(ciphertext string, password string) (string, error) {
	parts := strings.Split(ciphertext, ":")
	if len(parts) != 3 {
		return "", errors.Wrap(apperrors.ErrMalformedInput, "invalid ciphertext format")
	}

	var raw [3][]byte
	for i, p := range parts {
		b, err := base64.StdEncoding.DecodeString(p)
		if err != nil {
			return "", errors.Wrap(apperrors.ErrMalformedInput, "invalid ciphertext encoding")
		}
		raw[i] = b
	}

	key, _, err := deriveKey(password, raw[0])
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	if len(raw[1]) != aesgcm.NonceSize() {
		return "", errors.Wrap(apperrors.ErrMalformedInput, "invalid ciphertext nonce")
	}
	plaintext, err := aesgcm.Open(nil, raw[1], raw[2], nil)
	if err != nil {
		return "", errors.Wrap(apperrors.ErrInvalidArgument, "wrong password or corrupted key file")
	}
	return string(plaintext), nil
}

func deriveKey(password string, salt []byte) ([]byte, []byte, error) {
	if salt == nil {
		salt = make([]byte, 32)
		if _, err := rand.Read(salt); err != nil {
			return nil, nil, err
		}
	}

	key, err := scrypt.Key([]byte(password), salt, 1<<15, 8, 1, 32)
	if err != nil {
		return nil, nil, err
	}
	return key, salt, nil
}
