package registry

import (
	"context"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/Maphikza/cardano-community-suite/internal/announce"
	"github.com/Maphikza/cardano-community-suite/internal/apperrors"
	"github.com/Maphikza/cardano-community-suite/internal/audit"
	"github.com/Maphikza/cardano-community-suite/internal/logger"
	"github.com/Maphikza/cardano-community-suite/internal/models"
	"github.com/Maphikza/cardano-community-suite/internal/oracle"
	"github.com/Maphikza/cardano-community-suite/lib/cardano"
	"github.com/Maphikza/cardano-community-suite/lib/signature"
)

// Store is the entry persistence the registry needs.
type Store interface {
	BindEntry(ctx context.Context, entry *models.RegistryEntry) error
	GetEntry(ctx context.Context, id string) (*models.RegistryEntry, error)
	FindEntry(ctx context.Context, wallet, communityID string) (*models.RegistryEntry, error)
	ListEntries(ctx context.Context, filter models.EntryFilter) ([]*models.RegistryEntry, error)
	UpdateEntryStatus(ctx context.Context, id, status string, at int64) (*models.RegistryEntry, error)
	DeleteEntry(ctx context.Context, id string) error
}

type RegisterRequest struct {
	WalletAddress string `json:"wallet_address" validate:"required"`
	StakeAddress  string `json:"stake_address,omitempty"`
	ChallengeID   string `json:"challenge_id" validate:"required"`
	CommunityID   string `json:"community_id" validate:"required"`
	PublicKey     string `json:"public_key,omitempty"`
}

// CommunityReport is the statistics of one community plus the stake its members hold.
type CommunityReport struct {
	CommunityID   string  `json:"community_id"`
	Total         int     `json:"total_users"`
	Verified      int     `json:"verified"`
	Pending       int     `json:"pending"`
	Suspended     int     `json:"suspended"`
	WithStake     int     `json:"with_stake_address"`
	StakeLovelace uint64  `json:"stake_lovelace"`
	StakeADA      float64 `json:"stake_ada"`
	StakeLookups  int     `json:"stake_lookups"`
	StakeFailures int     `json:"stake_failures"`
	GeneratedAt   int64   `json:"generated_at"`
}

type Registry interface {
	Register(ctx context.Context, req RegisterRequest) (*models.RegistryEntry, error)
	Find(ctx context.Context, wallet, communityID string) ([]*models.RegistryEntry, error)
	Get(ctx context.Context, id string) (*models.RegistryEntry, error)
	List(ctx context.Context, filter models.EntryFilter) ([]*models.RegistryEntry, error)
	Statistics(ctx context.Context) (*models.Statistics, error)
	UpdateStatus(ctx context.Context, id, status string) (*models.RegistryEntry, error)
	Delete(ctx context.Context, id string) error
	CommunityReport(ctx context.Context, communityID string) (*CommunityReport, error)
}

type Option func(*registry)

// WithOracle enables stake totals in community reports.
func WithOracle(o oracle.Oracle) Option {
	return func(r *registry) { r.oracle = o }
}

// WithNotifier is told about every new entry after it is committed.
func WithNotifier(n announce.Notifier) Option {
	return func(r *registry) {
		if n != nil {
			r.notifier = n
		}
	}
}

func WithClock(clock func() time.Time) Option {
	return func(r *registry) { r.now = clock }
}

type registry struct {
	store    Store
	audit    audit.Logger
	oracle   oracle.Oracle
	notifier announce.Notifier
	now      func() time.Time
	log      *logrus.Entry
}

func NewRegistry(store Store, auditLog audit.Logger, log *logrus.Entry, opts ...Option) Registry {
	if auditLog == nil {
		auditLog = audit.Nop{}
	}
	r := &registry{
		store:    store,
		audit:    auditLog,
		notifier: announce.Nop{},
		now:      time.Now,
		log:      logger.OrDiscard(log),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *registry) Register(ctx context.Context, req RegisterRequest) (*models.RegistryEntry, error) {
	req.WalletAddress = strings.TrimSpace(req.WalletAddress)
	req.CommunityID = strings.TrimSpace(req.CommunityID)
	req.StakeAddress = strings.TrimSpace(req.StakeAddress)
	switch {
	case req.WalletAddress == "":
		return nil, errors.Wrap(apperrors.ErrInvalidArgument, "wallet_address is required")
	case req.CommunityID == "":
		return nil, errors.Wrap(apperrors.ErrInvalidArgument, "community_id is required")
	case strings.TrimSpace(req.ChallengeID) == "":
		return nil, errors.Wrap(apperrors.ErrInvalidArgument, "challenge_id is required")
	}
	if req.StakeAddress != "" {
		if err := cardano.ValidateStakeAddress(req.StakeAddress); err != nil {
			return nil, err
		}
	}
	// The stored key always comes from verification; a supplied key must match it.
	claimedKey := ""
	if strings.TrimSpace(req.PublicKey) != "" {
		pub, err := signature.DecodeBytes(req.PublicKey)
		if err != nil {
			return nil, errors.Wrap(err, "public_key")
		}
		claimedKey = hex.EncodeToString(pub)
	}

	now := r.now().Unix()
	entry := &models.RegistryEntry{
		ID:            uuid.NewString(),
		WalletAddress: req.WalletAddress,
		StakeAddress:  req.StakeAddress,
		CommunityID:   req.CommunityID,
		ChallengeID:   req.ChallengeID,
		PublicKey:     claimedKey,
		Status:        models.StatusVerified,
		VerifiedAt:    now,
		UpdatedAt:     now,
	}
	err := r.store.BindEntry(ctx, entry)
	r.record(ctx, models.OpRegister, entry, err)
	if err != nil {
		return nil, err
	}

	r.log.WithFields(logrus.Fields{
		"entry_id":     entry.ID,
		"wallet":       entry.WalletAddress,
		"community_id": entry.CommunityID,
	}).Info("wallet registered")
	r.notifier.Registered(entry)
	return entry, nil
}

// Find returns the wallet's entries, narrowed to one community when communityID is set.
// An unregistered wallet yields an empty slice.
func (r *registry) Find(ctx context.Context, wallet, communityID string) ([]*models.RegistryEntry, error) {
	wallet = strings.TrimSpace(wallet)
	if wallet == "" {
		return nil, errors.Wrap(apperrors.ErrInvalidArgument, "wallet_address is required")
	}
	if communityID == "" {
		return r.store.ListEntries(ctx, models.EntryFilter{WalletAddress: wallet})
	}
	e, err := r.store.FindEntry(ctx, wallet, communityID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return []*models.RegistryEntry{}, nil
	}
	if err != nil {
		return nil, err
	}
	return []*models.RegistryEntry{e}, nil
}

func (r *registry) Get(ctx context.Context, id string) (*models.RegistryEntry, error) {
	return r.store.GetEntry(ctx, id)
}

func (r *registry) List(ctx context.Context, filter models.EntryFilter) ([]*models.RegistryEntry, error) {
	if filter.Status != "" && !validStatus(filter.Status) {
		return nil, errors.Wrapf(apperrors.ErrInvalidArgument, "unknown status %q", filter.Status)
	}
	return r.store.ListEntries(ctx, filter)
}

func (r *registry) Statistics(ctx context.Context) (*models.Statistics, error) {
	entries, err := r.store.ListEntries(ctx, models.EntryFilter{})
	if err != nil {
		return nil, err
	}

	stats := &models.Statistics{PerCommunity: map[string]int{}}
	for _, e := range entries {
		stats.Total++
		countStatus(e.Status, &stats.Verified, &stats.Pending, &stats.Suspended)
		stats.PerCommunity[e.CommunityID]++
	}
	stats.Communities = maps.Keys(stats.PerCommunity)
	slices.Sort(stats.Communities)
	stats.TotalCommunities = len(stats.Communities)
	return stats, nil
}

func (r *registry) UpdateStatus(ctx context.Context, id, status string) (*models.RegistryEntry, error) {
	if !validStatus(status) {
		return nil, errors.Wrapf(apperrors.ErrInvalidArgument, "unknown status %q", status)
	}
	e, err := r.store.UpdateEntryStatus(ctx, id, status, r.now().Unix())
	audited := e
	if audited == nil {
		audited = &models.RegistryEntry{ID: id}
	}
	r.record(ctx, models.OpStatus, audited, err)
	if err != nil {
		return nil, err
	}
	r.log.WithFields(logrus.Fields{"entry_id": id, "status": status}).Info("entry status changed")
	return e, nil
}

func (r *registry) Delete(ctx context.Context, id string) error {
	e, err := r.store.GetEntry(ctx, id)
	if err != nil {
		return err
	}
	err = r.store.DeleteEntry(ctx, id)
	r.record(ctx, models.OpDelete, e, err)
	if err != nil {
		return err
	}
	r.log.WithField("entry_id", id).Info("entry deleted")
	return nil
}

// CommunityReport never fails because of the oracle; lookups that fail are counted.
func (r *registry) CommunityReport(ctx context.Context, communityID string) (*CommunityReport, error) {
	if strings.TrimSpace(communityID) == "" {
		return nil, errors.Wrap(apperrors.ErrInvalidArgument, "community_id is required")
	}
	entries, err := r.store.ListEntries(ctx, models.EntryFilter{CommunityID: communityID})
	if err != nil {
		return nil, err
	}

	rep := &CommunityReport{CommunityID: communityID, GeneratedAt: r.now().Unix()}
	seen := map[string]bool{}
	for _, e := range entries {
		rep.Total++
		countStatus(e.Status, &rep.Verified, &rep.Pending, &rep.Suspended)
		if e.StakeAddress == "" {
			continue
		}
		rep.WithStake++
		if r.oracle == nil || seen[e.StakeAddress] {
			continue
		}
		seen[e.StakeAddress] = true

		rep.StakeLookups++
		info, err := r.oracle.LookupStake(ctx, e.StakeAddress)
		if err != nil {
			rep.StakeFailures++
			r.log.WithError(err).WithField("stake_address", e.StakeAddress).Warn("stake lookup failed")
			continue
		}
		rep.StakeLovelace += info.Amount
	}
	rep.StakeADA = float64(rep.StakeLovelace) / 1_000_000
	return rep, nil
}

func (r *registry) record(ctx context.Context, op string, e *models.RegistryEntry, err error) {
	ev := &models.AuditEvent{
		Operation:     op,
		ChallengeID:   e.ChallengeID,
		WalletAddress: e.WalletAddress,
		CommunityID:   e.CommunityID,
		Success:       err == nil,
		Reason:        apperrors.Reason(err),
	}
	if auditErr := r.audit.LogEvent(ctx, ev); auditErr != nil {
		r.log.WithError(auditErr).Warn("audit " + op)
	}
}

func validStatus(s string) bool {
	switch s {
	case models.StatusVerified, models.StatusPending, models.StatusSuspended:
		return true
	}
	return false
}

func countStatus(status string, verified, pending, suspended *int) {
	switch status {
	case models.StatusVerified:
		*verified++
	case models.StatusPending:
		*pending++
	case models.StatusSuspended:
		*suspended++
	}
}
