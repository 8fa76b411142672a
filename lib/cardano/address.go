// Package cardano decodes and builds Shelley-era addresses. Only the parts needed to tie a
// wallet address to the public key that signed a challenge are implemented.
package cardano

import (
	"bytes"
	"strings"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"

	"github.com/Maphikza/cardano-community-suite/internal/apperrors"
)

// KeyHashSize is the size of a blake2b-224 credential hash.
const KeyHashSize = 28

// Network identifiers carried in the low nibble of the header byte.
const (
	Testnet byte = 0
	Mainnet byte = 1
)

// AddressType is the high nibble of the header byte.
type AddressType byte

const (
	BaseKeyKey       AddressType = 0
	BaseScriptKey    AddressType = 1
	BaseKeyScript    AddressType = 2
	BaseScriptScript AddressType = 3
	PointerKey       AddressType = 4
	PointerScript    AddressType = 5
	EnterpriseKey    AddressType = 6
	EnterpriseScript AddressType = 7
	Byron            AddressType = 8
	RewardKey        AddressType = 14
	RewardScript     AddressType = 15
)

// ErrNotShelley is returned for strings that are not bech32 Shelley addresses at all,
// such as legacy Byron base58 addresses.
var ErrNotShelley = errors.New("not a shelley address")

type Address struct {
	HRP     string
	Type    AddressType
	Network byte
	Payload []byte
}

var hrps = map[string]bool{
	"addr": true, "addr_test": true, "stake": true, "stake_test": true,
}

// ParseAddress decodes a bech32 Shelley address. Strings that carry a Shelley prefix but do
// not decode fail with ErrMalformedInput; anything else yields ErrNotShelley.
func ParseAddress(s string) (*Address, error) {
	s = strings.TrimSpace(s)
	sep := strings.LastIndexByte(s, '1')
	if sep <= 0 || !hrps[strings.ToLower(s[:sep])] {
		return nil, ErrNotShelley
	}

	hrp, data, err := bech32.DecodeNoLimit(s)
	if err != nil {
		return nil, errors.Wrapf(apperrors.ErrMalformedInput, "bech32 decode: %v", err)
	}
	payload, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return nil, errors.Wrapf(apperrors.ErrMalformedInput, "bech32 convert: %v", err)
	}
	if len(payload) < 1+KeyHashSize {
		return nil, errors.Wrapf(apperrors.ErrMalformedInput, "address payload too short (%d bytes)", len(payload))
	}

	a := &Address{
		HRP:     hrp,
		Type:    AddressType(payload[0] >> 4),
		Network: payload[0] & 0x0f,
		Payload: payload,
	}

	stake := strings.HasPrefix(hrp, "stake")
	switch {
	case stake && a.Type != RewardKey && a.Type != RewardScript:
		return nil, errors.Wrapf(apperrors.ErrMalformedInput, "stake prefix with address type %d", a.Type)
	case !stake && (a.Type == RewardKey || a.Type == RewardScript || a.Type == Byron || a.Type > RewardScript):
		return nil, errors.Wrapf(apperrors.ErrMalformedInput, "payment prefix with address type %d", a.Type)
	}
	if a.Type <= BaseScriptScript && len(payload) != 1+2*KeyHashSize {
		return nil, errors.Wrapf(apperrors.ErrMalformedInput, "base address payload is %d bytes", len(payload))
	}
	if (a.Type == EnterpriseKey || a.Type == EnterpriseScript || a.Type >= RewardKey) && len(payload) != 1+KeyHashSize {
		return nil, errors.Wrapf(apperrors.ErrMalformedInput, "address payload is %d bytes", len(payload))
	}
	return a, nil
}

// PaymentKeyHash returns the payment credential when it is a key hash.
func (a *Address) PaymentKeyHash() ([]byte, bool) {
	switch a.Type {
	case BaseKeyKey, BaseKeyScript, PointerKey, EnterpriseKey:
		return a.Payload[1 : 1+KeyHashSize], true
	}
	return nil, false
}

// StakeKeyHash returns the staking credential when it is a key hash.
func (a *Address) StakeKeyHash() ([]byte, bool) {
	switch a.Type {
	case BaseKeyKey, BaseScriptKey:
		return a.Payload[1+KeyHashSize:], true
	case RewardKey:
		return a.Payload[1:], true
	}
	return nil, false
}

// IsStake reports whether the address is a reward (stake) address.
func (a *Address) IsStake() bool {
	return a.Type == RewardKey || a.Type == RewardScript
}

// KeyHash is blake2b-224 of a verification key.
func KeyHash(pub []byte) []byte {
	h, _ := blake2b.New(KeyHashSize, nil)
	h.Write(pub)
	return h.Sum(nil)
}

// MatchesPublicKey checks a wallet address against the key that signed for it.
// ok is false with a nil error when the address has no key-hash payment credential
// (script and legacy addresses), in which case the address can only be taken as claimed.
func MatchesPublicKey(address string, pub []byte) (match bool, ok bool, err error) {
	a, err := ParseAddress(address)
	if errors.Is(err, ErrNotShelley) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	var cred []byte
	if a.IsStake() {
		cred, ok = a.StakeKeyHash()
	} else {
		cred, ok = a.PaymentKeyHash()
	}
	if !ok {
		return false, false, nil
	}
	return bytes.Equal(cred, KeyHash(pub)), true, nil
}

// ValidateStakeAddress accepts only bech32 reward addresses.
func ValidateStakeAddress(s string) error {
	a, err := ParseAddress(s)
	if errors.Is(err, ErrNotShelley) {
		return errors.Wrapf(apperrors.ErrInvalidArgument, "%q is not a stake address", s)
	}
	if err != nil {
		return err
	}
	if !a.IsStake() {
		return errors.Wrapf(apperrors.ErrInvalidArgument, "%q is not a stake address", s)
	}
	return nil
}

// EnterpriseAddress builds an enterprise (payment-only) address for pub.
func EnterpriseAddress(pub []byte, network byte) (string, error) {
	payload := append([]byte{byte(EnterpriseKey)<<4 | network}, KeyHash(pub)...)
	return encode(paymentHRP(network), payload)
}

// BaseAddress builds a base address from a payment key and a stake key.
func BaseAddress(paymentPub, stakePub []byte, network byte) (string, error) {
	payload := []byte{byte(BaseKeyKey)<<4 | network}
	payload = append(payload, KeyHash(paymentPub)...)
	payload = append(payload, KeyHash(stakePub)...)
	return encode(paymentHRP(network), payload)
}

// RewardAddress builds a stake address for stakePub.
func RewardAddress(stakePub []byte, network byte) (string, error) {
	payload := append([]byte{byte(RewardKey)<<4 | network}, KeyHash(stakePub)...)
	hrp := "stake_test"
	if network == Mainnet {
		hrp = "stake"
	}
	return encode(hrp, payload)
}

// NetworkByName maps "mainnet" to Mainnet and anything else to Testnet.
func NetworkByName(name string) byte {
	if strings.EqualFold(name, "mainnet") {
		return Mainnet
	}
	return Testnet
}

func paymentHRP(network byte) string {
	if network == Mainnet {
		return "addr"
	}
	return "addr_test"
}

func encode(hrp string, payload []byte) (string, error) {
	conv, err := bech32.ConvertBits(payload, 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32.Encode(hrp, conv)
}
