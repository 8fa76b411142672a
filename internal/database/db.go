package statedb

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/Maphikza/cardano-community-suite/internal/apperrors"
	"github.com/Maphikza/cardano-community-suite/internal/models"
)

// checkBindable holds the register-after-verify preconditions shared by both backends.
// pairTaken reports whether a live entry already exists for the entry's wallet and community.
func checkBindable(ch *models.Challenge, entry *models.RegistryEntry, pairTaken bool) error {
	if pairTaken {
		return errors.Wrapf(apperrors.ErrConflict, "wallet %s is already registered for %s",
			entry.WalletAddress, entry.CommunityID)
	}
	if !ch.Consumed {
		return errors.Wrapf(apperrors.ErrNotVerified, "challenge %s", ch.ID)
	}
	if ch.ConsumedBy != entry.WalletAddress {
		return errors.Wrapf(apperrors.ErrChallengeMismatch, "challenge %s was verified by another wallet", ch.ID)
	}
	if ch.CommunityID != entry.CommunityID {
		return errors.Wrapf(apperrors.ErrChallengeMismatch, "challenge %s belongs to community %s", ch.ID, ch.CommunityID)
	}
	if entry.PublicKey != "" && !strings.EqualFold(entry.PublicKey, ch.ConsumedKey) {
		return errors.Wrapf(apperrors.ErrChallengeMismatch, "challenge %s was signed by another key", ch.ID)
	}
	if ch.Registered {
		return errors.Wrapf(apperrors.ErrAlreadyConsumed, "challenge %s already registered", ch.ID)
	}
	return nil
}
