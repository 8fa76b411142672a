package statedb

import (
	"time"

	"gorm.io/gorm"

	"github.com/Maphikza/cardano-community-suite/internal/models"
)

// SQLiteChallenge is an issued challenge. Only the consumed/registered columns are ever updated.
type SQLiteChallenge struct {
	ID          string `gorm:"primaryKey"`
	CommunityID string `gorm:"index"`
	Action      string
	Nonce       string `gorm:"uniqueIndex"`
	Message     string
	IssuedAt    int64 `gorm:"index"`
	Expiry      int64 `gorm:"index"`
	Consumed    bool  `gorm:"index"`
	ConsumedBy  string
	ConsumedAt  int64
	ConsumedKey string
	Registered  bool
	CreatedAt   time.Time
}

func (SQLiteChallenge) TableName() string { return "challenges" }

// SQLiteRegistryEntry is a verified membership. Uniqueness only covers live rows so that an
// administrative delete frees the (wallet, community) slot.
type SQLiteRegistryEntry struct {
	ID            string `gorm:"primaryKey"`
	WalletAddress string `gorm:"uniqueIndex:idx_wallet_community,where:deleted_at IS NULL"`
	CommunityID   string `gorm:"uniqueIndex:idx_wallet_community,where:deleted_at IS NULL;index"`
	ChallengeID   string `gorm:"uniqueIndex:idx_entry_challenge,where:deleted_at IS NULL"`
	StakeAddress  string
	PublicKey     string
	Status        string `gorm:"index"`
	VerifiedAt    int64  `gorm:"index"`
	ModifiedAt    int64
	CreatedAt     time.Time
	DeletedAt     gorm.DeletedAt `gorm:"index"`
}

func (SQLiteRegistryEntry) TableName() string { return "registry_entries" }

// SQLiteAuditEvent records one protocol operation.
type SQLiteAuditEvent struct {
	ID            string `gorm:"primaryKey"`
	Operation     string `gorm:"index"`
	ChallengeID   string `gorm:"index"`
	WalletAddress string
	CommunityID   string `gorm:"index"`
	Success       bool
	Reason        string
	Timestamp     int64 `gorm:"index"`
}

func (SQLiteAuditEvent) TableName() string { return "audit_events" }

func challengeToSQLite(c *models.Challenge) *SQLiteChallenge {
	return &SQLiteChallenge{
		ID:          c.ID,
		CommunityID: c.CommunityID,
		Action:      c.Action,
		Nonce:       c.Nonce,
		Message:     c.Message,
		IssuedAt:    c.IssuedAt,
		Expiry:      c.Expiry,
		Consumed:    c.Consumed,
		ConsumedBy:  c.ConsumedBy,
		ConsumedAt:  c.ConsumedAt,
		ConsumedKey: c.ConsumedKey,
		Registered:  c.Registered,
	}
}

func (c *SQLiteChallenge) toModel() *models.Challenge {
	return &models.Challenge{
		ID:          c.ID,
		CommunityID: c.CommunityID,
		Action:      c.Action,
		Nonce:       c.Nonce,
		Message:     c.Message,
		IssuedAt:    c.IssuedAt,
		Expiry:      c.Expiry,
		Consumed:    c.Consumed,
		ConsumedBy:  c.ConsumedBy,
		ConsumedAt:  c.ConsumedAt,
		ConsumedKey: c.ConsumedKey,
		Registered:  c.Registered,
	}
}

func entryToSQLite(e *models.RegistryEntry) *SQLiteRegistryEntry {
	return &SQLiteRegistryEntry{
		ID:            e.ID,
		WalletAddress: e.WalletAddress,
		CommunityID:   e.CommunityID,
		ChallengeID:   e.ChallengeID,
		StakeAddress:  e.StakeAddress,
		PublicKey:     e.PublicKey,
		Status:        e.Status,
		VerifiedAt:    e.VerifiedAt,
		ModifiedAt:    e.UpdatedAt,
	}
}

func (e *SQLiteRegistryEntry) toModel() *models.RegistryEntry {
	return &models.RegistryEntry{
		ID:            e.ID,
		WalletAddress: e.WalletAddress,
		StakeAddress:  e.StakeAddress,
		CommunityID:   e.CommunityID,
		ChallengeID:   e.ChallengeID,
		PublicKey:     e.PublicKey,
		Status:        e.Status,
		VerifiedAt:    e.VerifiedAt,
		UpdatedAt:     e.ModifiedAt,
	}
}

func auditToSQLite(a *models.AuditEvent) *SQLiteAuditEvent {
	return &SQLiteAuditEvent{
		ID:            a.ID,
		Operation:     a.Operation,
		ChallengeID:   a.ChallengeID,
		WalletAddress: a.WalletAddress,
		CommunityID:   a.CommunityID,
		Success:       a.Success,
		Reason:        a.Reason,
		Timestamp:     a.Timestamp,
	}
}

func (a *SQLiteAuditEvent) toModel() *models.AuditEvent {
	return &models.AuditEvent{
		ID:            a.ID,
		Operation:     a.Operation,
		ChallengeID:   a.ChallengeID,
		WalletAddress: a.WalletAddress,
		CommunityID:   a.CommunityID,
		Success:       a.Success,
		Reason:        a.Reason,
		Timestamp:     a.Timestamp,
	}
}
