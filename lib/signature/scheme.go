// Package signature holds the pluggable signature schemes used to check challenge answers.
// Schemes register themselves in init(); the verifier picks one by ID from configuration.
package signature

import (
	"encoding/base64"
	"encoding/hex"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/Maphikza/cardano-community-suite/internal/apperrors"
)

// DefaultSchemeID is the scheme used when configuration names none.
const DefaultSchemeID = "ed25519"

// Scheme verifies detached signatures over raw message bytes.
type Scheme interface {
	ID() string
	PublicKeySize() int
	SignatureSize() int

	// Verify returns nil when sig is a valid signature of msg under pub.
	// Wrong key or signature lengths fail with ErrMalformedInput,
	// a well-formed signature that does not match fails with ErrInvalidSignature.
	Verify(pub, msg, sig []byte) error

	// Sign signs msg with a private key in the scheme's native encoding.
	Sign(priv, msg []byte) ([]byte, error)
}

var registry = struct {
	sync.RWMutex
	lookup map[string]Scheme
}{lookup: map[string]Scheme{}}

// Register makes a scheme available by ID. Registering a second scheme under the same ID panics.
func Register(s Scheme) {
	registry.Lock()
	defer registry.Unlock()
	if _, dup := registry.lookup[s.ID()]; dup {
		panic("signature: scheme registered twice: " + s.ID())
	}
	registry.lookup[s.ID()] = s
}

// Get returns the scheme with the given ID; an empty id selects DefaultSchemeID.
func Get(id string) (Scheme, error) {
	if id == "" {
		id = DefaultSchemeID
	}
	registry.RLock()
	s, ok := registry.lookup[strings.ToLower(id)]
	registry.RUnlock()
	if !ok {
		return nil, errors.Wrapf(apperrors.ErrInvalidArgument, "unknown signature scheme %q", id)
	}
	return s, nil
}

// IDs lists the registered scheme IDs in sorted order.
func IDs() []string {
	registry.RLock()
	defer registry.RUnlock()
	ids := make([]string, 0, len(registry.lookup))
	for id := range registry.lookup {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DecodeBytes accepts hex (optionally 0x-prefixed) or any standard base64 variant.
func DecodeBytes(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.Wrap(apperrors.ErrMalformedInput, "empty value")
	}
	h := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if b, err := hex.DecodeString(h); err == nil {
		return b, nil
	}
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding,
	} {
		if b, err := enc.DecodeString(s); err == nil {
			return b, nil
		}
	}
	return nil, errors.Wrap(apperrors.ErrMalformedInput, "value is neither hex nor base64")
}

// VerifyEncoded decodes pub and sig with DecodeBytes, verifies them with s and returns the
// decoded public key.
func VerifyEncoded(s Scheme, pub, msg, sig string) ([]byte, error) {
	pubBytes, err := DecodeBytes(pub)
	if err != nil {
		return nil, errors.Wrap(err, "public key")
	}
	sigBytes, err := DecodeBytes(sig)
	if err != nil {
		return nil, errors.Wrap(err, "signature")
	}
	if err := s.Verify(pubBytes, []byte(msg), sigBytes); err != nil {
		return nil, err
	}
	return pubBytes, nil
}
