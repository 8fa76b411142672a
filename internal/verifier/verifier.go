// Package verifier checks signed challenge responses and consumes the challenge on success.
//
// Checks run in a fixed order and stop at the first failure. Only the final
// compare-and-swap that marks the challenge consumed writes to the store.
package verifier

import (
	"context"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Maphikza/cardano-community-suite/internal/announce"
	"github.com/Maphikza/cardano-community-suite/internal/apperrors"
	"github.com/Maphikza/cardano-community-suite/internal/audit"
	statedb "github.com/Maphikza/cardano-community-suite/internal/database"
	"github.com/Maphikza/cardano-community-suite/internal/logger"
	"github.com/Maphikza/cardano-community-suite/internal/models"
	"github.com/Maphikza/cardano-community-suite/lib/cardano"
	"github.com/Maphikza/cardano-community-suite/lib/signature"
)

// MaxBatch is the largest batch VerifyBatch accepts.
const MaxBatch = 100

type Store interface {
	GetChallenge(ctx context.Context, id string) (*models.Challenge, error)
	ConsumeChallenge(ctx context.Context, req statedb.ConsumeRequest) error
}

// Enrollment carries the registry fields that VerifyAndRegister needs beyond the submission.
type Enrollment struct {
	CommunityID  string
	StakeAddress string
}

type Verifier interface {
	// Verify returns a result for every protocol outcome. The error is reserved for the
	// store being unreachable.
	Verify(ctx context.Context, sub models.Submission) (*models.VerificationResult, error)
	// VerifyAndRegister verifies and inserts the registry entry in the same transaction
	// that consumes the challenge.
	VerifyAndRegister(ctx context.Context, sub models.Submission, enroll Enrollment) (*models.VerificationResult, error)
	VerifyBatch(ctx context.Context, subs []models.Submission) (*models.BatchResult, error)
}

type Config struct {
	// Scheme is a signature scheme ID; empty means ed25519.
	Scheme string
	// AddressBinding requires Shelley key addresses to hash to the submitted public key.
	AddressBinding bool
	Clock          func() time.Time
}

type verifier struct {
	store    Store
	audit    audit.Logger
	notifier announce.Notifier
	scheme   signature.Scheme
	binding  bool
	now      func() time.Time
	log      *logrus.Entry
}

func NewVerifier(store Store, auditLog audit.Logger, cfg Config, log *logrus.Entry) (Verifier, error) {
	scheme, err := signature.Get(cfg.Scheme)
	if err != nil {
		return nil, err
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if auditLog == nil {
		auditLog = audit.Nop{}
	}
	return &verifier{
		store:    store,
		audit:    auditLog,
		notifier: announce.Nop{},
		scheme:   scheme,
		binding:  cfg.AddressBinding,
		now:      cfg.Clock,
		log:      logger.OrDiscard(log),
	}, nil
}

// WithNotifier sets the notifier told about entries created by VerifyAndRegister.
func WithNotifier(v Verifier, n announce.Notifier) Verifier {
	if impl, ok := v.(*verifier); ok && n != nil {
		impl.notifier = n
	}
	return v
}

func (v *verifier) Verify(ctx context.Context, sub models.Submission) (*models.VerificationResult, error) {
	return v.run(ctx, sub, nil)
}

func (v *verifier) VerifyAndRegister(ctx context.Context, sub models.Submission, enroll Enrollment) (*models.VerificationResult, error) {
	return v.run(ctx, sub, &enroll)
}

func (v *verifier) VerifyBatch(ctx context.Context, subs []models.Submission) (*models.BatchResult, error) {
	if len(subs) == 0 {
		return nil, errors.Wrap(apperrors.ErrInvalidArgument, "batch is empty")
	}
	if len(subs) > MaxBatch {
		return nil, errors.Wrapf(apperrors.ErrInvalidArgument, "batch of %d exceeds %d", len(subs), MaxBatch)
	}

	out := &models.BatchResult{Total: len(subs), Results: make([]*models.VerificationResult, 0, len(subs))}
	for _, sub := range subs {
		res, err := v.Verify(ctx, sub)
		if err != nil {
			// A store outage fails this item only; the rest of the batch still runs.
			res = &models.VerificationResult{ChallengeID: sub.ChallengeID, Reason: apperrors.Reason(err)}
		}
		if res.Valid {
			out.Verified++
		} else {
			out.Failed++
		}
		out.Results = append(out.Results, res)
	}
	return out, nil
}

func (v *verifier) run(ctx context.Context, sub models.Submission, enroll *Enrollment) (*models.VerificationResult, error) {
	log := v.log.WithFields(logrus.Fields{"challenge_id": sub.ChallengeID, "wallet": sub.WalletAddress})

	ch, pub, err := v.check(ctx, sub)
	var entry *models.RegistryEntry
	if err == nil && enroll != nil {
		entry, err = v.newEntry(ch, sub, pub, *enroll)
	}
	if err == nil {
		req := statedb.ConsumeRequest{
			ChallengeID: ch.ID,
			ConsumedBy:  sub.WalletAddress,
			PublicKey:   hex.EncodeToString(pub),
			At:          v.now().Unix(),
			Entry:       entry,
		}
		err = v.store.ConsumeChallenge(ctx, req)
	}

	reason := apperrors.Reason(err)
	community := ""
	if ch != nil {
		community = ch.CommunityID
	}
	v.record(ctx, models.OpVerify, sub, community, reason)
	if entry != nil {
		v.record(ctx, models.OpRegister, sub, community, reason)
	}

	switch reason {
	case "":
		log.Info("challenge verified")
		res := &models.VerificationResult{ChallengeID: sub.ChallengeID, Valid: true}
		if entry != nil {
			res.Entry = entry
			v.notifier.Registered(entry)
		}
		return res, nil
	case apperrors.ReasonUnavailable, apperrors.ReasonInternal:
		log.WithError(err).Error("verification aborted")
		return nil, apperrors.Unavailable(err, "verify")
	default:
		log.WithField("reason", reason).Debug("verification rejected")
		return &models.VerificationResult{ChallengeID: sub.ChallengeID, Reason: reason}, nil
	}
}

// check runs every read-only step and returns the challenge and the decoded public key.
func (v *verifier) check(ctx context.Context, sub models.Submission) (*models.Challenge, []byte, error) {
	if strings.TrimSpace(sub.ChallengeID) == "" {
		return nil, nil, errors.Wrap(apperrors.ErrInvalidArgument, "challenge_id is required")
	}
	if strings.TrimSpace(sub.WalletAddress) == "" {
		return nil, nil, errors.Wrap(apperrors.ErrInvalidArgument, "wallet_address is required")
	}

	ch, err := v.store.GetChallenge(ctx, sub.ChallengeID)
	if err != nil {
		return nil, nil, err
	}
	if ch.Consumed {
		return ch, nil, errors.Wrapf(apperrors.ErrAlreadyConsumed, "challenge %s", ch.ID)
	}
	if ch.ExpiredAt(v.now().Unix()) {
		return ch, nil, errors.Wrapf(apperrors.ErrExpired, "challenge %s", ch.ID)
	}
	if ch.ID != sub.ChallengeID {
		return ch, nil, errors.Wrapf(apperrors.ErrChallengeMismatch, "store returned %s for %s", ch.ID, sub.ChallengeID)
	}

	pub, err := signature.VerifyEncoded(v.scheme, sub.PublicKey, ch.Message, sub.Signature)
	if err != nil {
		return ch, nil, err
	}

	if v.binding {
		match, ok, err := cardano.MatchesPublicKey(sub.WalletAddress, pub)
		if err != nil {
			return ch, nil, err
		}
		if ok && !match {
			return ch, nil, errors.Wrapf(apperrors.ErrAddressMismatch, "%s", sub.WalletAddress)
		}
	}
	return ch, pub, nil
}

func (v *verifier) newEntry(ch *models.Challenge, sub models.Submission, pub []byte, enroll Enrollment) (*models.RegistryEntry, error) {
	if enroll.CommunityID != "" && enroll.CommunityID != ch.CommunityID {
		return nil, errors.Wrapf(apperrors.ErrChallengeMismatch, "challenge %s is for %s", ch.ID, ch.CommunityID)
	}
	if enroll.StakeAddress != "" {
		if err := cardano.ValidateStakeAddress(enroll.StakeAddress); err != nil {
			return nil, err
		}
	}
	now := v.now().Unix()
	return &models.RegistryEntry{
		ID:            uuid.NewString(),
		WalletAddress: sub.WalletAddress,
		StakeAddress:  enroll.StakeAddress,
		CommunityID:   ch.CommunityID,
		ChallengeID:   ch.ID,
		PublicKey:     hex.EncodeToString(pub),
		Status:        models.StatusVerified,
		VerifiedAt:    now,
		UpdatedAt:     now,
	}, nil
}

func (v *verifier) record(ctx context.Context, op string, sub models.Submission, community, reason string) {
	ev := &models.AuditEvent{
		Operation:     op,
		ChallengeID:   sub.ChallengeID,
		WalletAddress: sub.WalletAddress,
		CommunityID:   community,
		Success:       reason == "",
		Reason:        reason,
	}
	if err := v.audit.LogEvent(ctx, ev); err != nil {
		v.log.WithError(err).Warn("audit verify")
	}
}
