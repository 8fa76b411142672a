package statedb

import (
	"context"
	"fmt"

	"github.com/Maphikza/cardano-community-suite/internal/models"
)

// DatabaseType represents the type of database backend to use
type DatabaseType string

const (
	// DBTypeSQLite is the relational backend (default).
	DBTypeSQLite DatabaseType = "sqlite"
	// DBTypeBadger is the embedded key-value backend.
	DBTypeBadger DatabaseType = "badger"
)

// ConsumeRequest flips a challenge to consumed. When Entry is set the entry is inserted in
// the same transaction and the challenge is marked registered.
type ConsumeRequest struct {
	ChallengeID string
	ConsumedBy  string
	PublicKey   string // hex key that passed verification
	At          int64
	Entry       *models.RegistryEntry
}

// Store is the persistence capability behind the issuer, verifier and registry.
// Every method returns only after its write is durable. Implementations must be safe for
// concurrent use; the compare-and-swap methods are the only place consumption happens.
type Store interface {
	SaveChallenge(ctx context.Context, c *models.Challenge) error
	GetChallenge(ctx context.Context, id string) (*models.Challenge, error)
	ListChallenges(ctx context.Context, filter models.ChallengeFilter) ([]*models.Challenge, error)

	// ConsumeChallenge fails with ErrNotFound, ErrAlreadyConsumed or ErrConflict and writes
	// nothing on failure.
	ConsumeChallenge(ctx context.Context, req ConsumeRequest) error
	// BindEntry registers entry against a challenge already consumed by the same wallet for
	// the same community. The entry's PublicKey is replaced by the key that consumed the
	// challenge. Fails with ErrNotFound, ErrConflict (a live entry holds the wallet and
	// community), ErrNotVerified, ErrChallengeMismatch or ErrAlreadyConsumed (challenge
	// already bound).
	BindEntry(ctx context.Context, entry *models.RegistryEntry) error
	// PutEntry inserts an entry without touching challenges; used when copying stores.
	PutEntry(ctx context.Context, entry *models.RegistryEntry) error

	GetEntry(ctx context.Context, id string) (*models.RegistryEntry, error)
	FindEntry(ctx context.Context, wallet, communityID string) (*models.RegistryEntry, error)
	ListEntries(ctx context.Context, filter models.EntryFilter) ([]*models.RegistryEntry, error)
	UpdateEntryStatus(ctx context.Context, id, status string, at int64) (*models.RegistryEntry, error)
	DeleteEntry(ctx context.Context, id string) error

	// DeleteExpiredChallenges removes unconsumed challenges with expiry < before.
	DeleteExpiredChallenges(ctx context.Context, before int64) (int64, error)

	SaveAuditEvent(ctx context.Context, event *models.AuditEvent) error
	QueryAuditEvents(ctx context.Context, filter models.AuditFilter) ([]*models.AuditEvent, error)

	Close() error
}

// InitializeDatabase opens the store for the given backend.
func InitializeDatabase(dbType DatabaseType, dbPath string) (Store, error) {
	switch dbType {
	case DBTypeSQLite, "":
		return NewSQLiteStore(dbPath)
	case DBTypeBadger:
		return NewBadgerStore(dbPath)
	default:
		return nil, fmt.Errorf("unknown store backend %q", dbType)
	}
}
