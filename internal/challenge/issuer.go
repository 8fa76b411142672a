package challenge

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Maphikza/cardano-community-suite/internal/apperrors"
	"github.com/Maphikza/cardano-community-suite/internal/audit"
	"github.com/Maphikza/cardano-community-suite/internal/logger"
	"github.com/Maphikza/cardano-community-suite/internal/models"
)

const (
	DefaultTTL       = time.Hour
	DefaultNonceSize = 32
	MinNonceSize     = 16

	messageTemplate = "I hereby verify my membership and sign this challenge for %s\n\nAction: %s\nNonce: %s\nIssued: %d"
)

// Store is the persistence the issuer needs.
type Store interface {
	SaveChallenge(ctx context.Context, c *models.Challenge) error
	GetChallenge(ctx context.Context, id string) (*models.Challenge, error)
	ListChallenges(ctx context.Context, filter models.ChallengeFilter) ([]*models.Challenge, error)
}

type IssueRequest struct {
	CommunityID   string
	Action        string
	CustomMessage string
}

// Issuer creates challenges and answers questions about them.
type Issuer interface {
	Issue(ctx context.Context, req IssueRequest) (*models.Challenge, error)
	Get(ctx context.Context, id string) (*models.Challenge, error)
	Validate(ctx context.Context, id string) (*models.ChallengeStatus, error)
	List(ctx context.Context, filter models.ChallengeFilter) ([]*models.Challenge, error)
}

type Config struct {
	TTL           time.Duration
	DefaultAction string
	NonceSize     int
	Clock         func() time.Time
}

type issuer struct {
	store  Store
	audit  audit.Logger
	log    *logrus.Entry
	ttl    time.Duration
	action string
	nonce  int
	now    func() time.Time
}

// NewIssuer builds an Issuer; zero Config fields take their defaults.
func NewIssuer(store Store, auditLog audit.Logger, cfg Config, log *logrus.Entry) (Issuer, error) {
	if cfg.TTL == 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.TTL < time.Second {
		return nil, errors.Wrapf(apperrors.ErrInvalidArgument, "challenge ttl %s is below one second", cfg.TTL)
	}
	if cfg.DefaultAction == "" {
		cfg.DefaultAction = models.DefaultAction
	}
	if cfg.NonceSize == 0 {
		cfg.NonceSize = DefaultNonceSize
	}
	if cfg.NonceSize < MinNonceSize {
		return nil, errors.Wrapf(apperrors.ErrInvalidArgument, "nonce size %d is below %d bytes", cfg.NonceSize, MinNonceSize)
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if auditLog == nil {
		auditLog = audit.Nop{}
	}
	return &issuer{
		store:  store,
		audit:  auditLog,
		log:    logger.OrDiscard(log),
		ttl:    cfg.TTL,
		action: cfg.DefaultAction,
		nonce:  cfg.NonceSize,
		now:    cfg.Clock,
	}, nil
}

func (i *issuer) Issue(ctx context.Context, req IssueRequest) (*models.Challenge, error) {
	community := strings.TrimSpace(req.CommunityID)
	if community == "" {
		return nil, errors.Wrap(apperrors.ErrInvalidArgument, "community_id is required")
	}
	action := strings.TrimSpace(req.Action)
	if action == "" {
		action = i.action
	}

	raw := make([]byte, i.nonce)
	if _, err := rand.Read(raw); err != nil {
		return nil, errors.Wrap(err, "generate nonce")
	}
	nonce := base64.StdEncoding.EncodeToString(raw)

	now := i.now().Unix()
	c := &models.Challenge{
		ID:          uuid.NewString(),
		CommunityID: community,
		Action:      action,
		Nonce:       nonce,
		IssuedAt:    now,
		Expiry:      now + int64(i.ttl/time.Second),
	}
	if req.CustomMessage != "" {
		c.Message = req.CustomMessage
	} else {
		c.Message = fmt.Sprintf(messageTemplate, community, action, nonce, now)
	}

	if err := i.store.SaveChallenge(ctx, c); err != nil {
		return nil, errors.Wrap(err, "save challenge")
	}

	if err := i.audit.LogEvent(ctx, &models.AuditEvent{
		Operation:   models.OpIssue,
		ChallengeID: c.ID,
		CommunityID: community,
		Success:     true,
	}); err != nil {
		i.log.WithError(err).Warn("audit issue")
	}
	i.log.WithFields(logrus.Fields{"challenge_id": c.ID, "community_id": community}).Debug("challenge issued")
	return c, nil
}

func (i *issuer) Get(ctx context.Context, id string) (*models.Challenge, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.Wrap(apperrors.ErrInvalidArgument, "challenge_id is required")
	}
	return i.store.GetChallenge(ctx, id)
}

func (i *issuer) Validate(ctx context.Context, id string) (*models.ChallengeStatus, error) {
	c, err := i.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := i.now().Unix()
	status := &models.ChallengeStatus{
		ChallengeID: c.ID,
		Expired:     c.ExpiredAt(now),
		Consumed:    c.Consumed,
	}
	status.Valid = !status.Expired && !status.Consumed
	if remaining := c.Expiry - now; remaining > 0 {
		status.TimeRemaining = remaining
	}
	return status, nil
}

func (i *issuer) List(ctx context.Context, filter models.ChallengeFilter) ([]*models.Challenge, error) {
	return i.store.ListChallenges(ctx, filter)
}
