package statedb

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Maphikza/cardano-community-suite/internal/apperrors"
	"github.com/Maphikza/cardano-community-suite/internal/models"
)

// SQLite pragmas: WAL with full sync so a committed write survives a crash, and immediate
// transactions so writers serialize at BEGIN rather than failing at COMMIT.
const sqliteParams = "_busy_timeout=5000&_journal_mode=WAL&_synchronous=FULL&_txlock=immediate"

type SQLiteStore struct {
	db *gorm.DB
}

// NewSQLiteStore opens (creating if needed) the SQLite database at dbPath and migrates it.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "failed to create directory")
		}
	}

	config := &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Error),
		TranslateError: true,
	}

	db, err := gorm.Open(sqlite.Open(dbPath+"?"+sqliteParams), config)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get sql handle")
	}
	// One connection: every write is serialized and compare-and-swap updates never race.
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(
		&SQLiteChallenge{},
		&SQLiteRegistryEntry{},
		&SQLiteAuditEvent{},
	)
	if err != nil {
		sqlDB.Close()
		return nil, errors.Wrap(err, "failed to migrate database")
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) SaveChallenge(ctx context.Context, c *models.Challenge) error {
	if err := s.db.WithContext(ctx).Create(challengeToSQLite(c)).Error; err != nil {
		if isDuplicate(err) {
			return errors.Wrapf(apperrors.ErrConflict, "challenge %s already exists", c.ID)
		}
		return apperrors.Unavailable(err, "save challenge")
	}
	return nil
}

func (s *SQLiteStore) GetChallenge(ctx context.Context, id string) (*models.Challenge, error) {
	return getChallenge(s.db.WithContext(ctx), id)
}

func getChallenge(db *gorm.DB, id string) (*models.Challenge, error) {
	var row SQLiteChallenge
	if err := db.Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(apperrors.ErrNotFound, "challenge %s", id)
		}
		return nil, apperrors.Unavailable(err, "get challenge")
	}
	return row.toModel(), nil
}

func (s *SQLiteStore) ListChallenges(ctx context.Context, filter models.ChallengeFilter) ([]*models.Challenge, error) {
	q := s.db.WithContext(ctx).Model(&SQLiteChallenge{})
	if filter.CommunityID != "" {
		q = q.Where("community_id = ?", filter.CommunityID)
	}
	if !filter.IncludeConsumed {
		q = q.Where("consumed = ?", false)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var rows []SQLiteChallenge
	if err := q.Order("issued_at desc, id").Find(&rows).Error; err != nil {
		return nil, apperrors.Unavailable(err, "list challenges")
	}
	out := make([]*models.Challenge, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel())
	}
	return out, nil
}

func (s *SQLiteStore) ConsumeChallenge(ctx context.Context, req ConsumeRequest) error {
	dbTx := s.db.WithContext(ctx).Begin()
	if dbTx.Error != nil {
		return apperrors.Unavailable(dbTx.Error, "begin consume")
	}

	res := dbTx.Model(&SQLiteChallenge{}).
		Where("id = ? AND consumed = ?", req.ChallengeID, false).
		Updates(map[string]interface{}{
			"consumed":     true,
			"consumed_by":  req.ConsumedBy,
			"consumed_key": req.PublicKey,
			"consumed_at":  req.At,
			"registered":   req.Entry != nil,
		})
	if res.Error != nil {
		dbTx.Rollback()
		return apperrors.Unavailable(res.Error, "consume challenge")
	}
	if res.RowsAffected == 0 {
		_, err := getChallenge(dbTx, req.ChallengeID)
		dbTx.Rollback()
		if err != nil {
			return err
		}
		return errors.Wrapf(apperrors.ErrAlreadyConsumed, "challenge %s", req.ChallengeID)
	}

	if req.Entry != nil {
		if err := createEntry(dbTx, req.Entry); err != nil {
			dbTx.Rollback()
			return err
		}
	}

	if err := dbTx.Commit().Error; err != nil {
		return apperrors.Unavailable(err, "commit consume")
	}
	return nil
}

func (s *SQLiteStore) BindEntry(ctx context.Context, entry *models.RegistryEntry) error {
	dbTx := s.db.WithContext(ctx).Begin()
	if dbTx.Error != nil {
		return apperrors.Unavailable(dbTx.Error, "begin register")
	}

	ch, err := getChallenge(dbTx, entry.ChallengeID)
	if err != nil {
		dbTx.Rollback()
		return err
	}
	var live int64
	if err := dbTx.Model(&SQLiteRegistryEntry{}).
		Where("wallet_address = ? AND community_id = ?", entry.WalletAddress, entry.CommunityID).
		Count(&live).Error; err != nil {
		dbTx.Rollback()
		return apperrors.Unavailable(err, "check registry entry")
	}
	if err := checkBindable(ch, entry, live > 0); err != nil {
		dbTx.Rollback()
		return err
	}
	entry.PublicKey = ch.ConsumedKey

	res := dbTx.Model(&SQLiteChallenge{}).
		Where("id = ? AND registered = ?", ch.ID, false).
		Update("registered", true)
	if res.Error != nil {
		dbTx.Rollback()
		return apperrors.Unavailable(res.Error, "bind challenge")
	}
	if res.RowsAffected == 0 {
		dbTx.Rollback()
		return errors.Wrapf(apperrors.ErrAlreadyConsumed, "challenge %s already registered", ch.ID)
	}

	if err := createEntry(dbTx, entry); err != nil {
		dbTx.Rollback()
		return err
	}

	if err := dbTx.Commit().Error; err != nil {
		return apperrors.Unavailable(err, "commit register")
	}
	return nil
}

func (s *SQLiteStore) PutEntry(ctx context.Context, entry *models.RegistryEntry) error {
	return createEntry(s.db.WithContext(ctx), entry)
}

func createEntry(db *gorm.DB, entry *models.RegistryEntry) error {
	if err := db.Create(entryToSQLite(entry)).Error; err != nil {
		if isDuplicate(err) {
			return errors.Wrapf(apperrors.ErrConflict, "wallet %s is already registered for %s",
				entry.WalletAddress, entry.CommunityID)
		}
		return apperrors.Unavailable(err, "insert registry entry")
	}
	return nil
}

func (s *SQLiteStore) GetEntry(ctx context.Context, id string) (*models.RegistryEntry, error) {
	var row SQLiteRegistryEntry
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(apperrors.ErrNotFound, "registry entry %s", id)
		}
		return nil, apperrors.Unavailable(err, "get registry entry")
	}
	return row.toModel(), nil
}

func (s *SQLiteStore) FindEntry(ctx context.Context, wallet, communityID string) (*models.RegistryEntry, error) {
	q := s.db.WithContext(ctx).Where("wallet_address = ?", wallet)
	if communityID != "" {
		q = q.Where("community_id = ?", communityID)
	}
	var row SQLiteRegistryEntry
	if err := q.Order("verified_at desc, id").First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(apperrors.ErrNotFound, "wallet %s", wallet)
		}
		return nil, apperrors.Unavailable(err, "find registry entry")
	}
	return row.toModel(), nil
}

func (s *SQLiteStore) ListEntries(ctx context.Context, filter models.EntryFilter) ([]*models.RegistryEntry, error) {
	q := s.db.WithContext(ctx).Model(&SQLiteRegistryEntry{})
	if filter.CommunityID != "" {
		q = q.Where("community_id = ?", filter.CommunityID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.WalletAddress != "" {
		q = q.Where("wallet_address = ?", filter.WalletAddress)
	}

	var rows []SQLiteRegistryEntry
	if err := q.Order("verified_at, id").Find(&rows).Error; err != nil {
		return nil, apperrors.Unavailable(err, "list registry entries")
	}
	out := make([]*models.RegistryEntry, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel())
	}
	return out, nil
}

func (s *SQLiteStore) UpdateEntryStatus(ctx context.Context, id, status string, at int64) (*models.RegistryEntry, error) {
	res := s.db.WithContext(ctx).Model(&SQLiteRegistryEntry{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"status": status, "modified_at": at})
	if res.Error != nil {
		return nil, apperrors.Unavailable(res.Error, "update registry entry")
	}
	if res.RowsAffected == 0 {
		return nil, errors.Wrapf(apperrors.ErrNotFound, "registry entry %s", id)
	}
	return s.GetEntry(ctx, id)
}

func (s *SQLiteStore) DeleteEntry(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&SQLiteRegistryEntry{})
	if res.Error != nil {
		return apperrors.Unavailable(res.Error, "delete registry entry")
	}
	if res.RowsAffected == 0 {
		return errors.Wrapf(apperrors.ErrNotFound, "registry entry %s", id)
	}
	return nil
}

func (s *SQLiteStore) DeleteExpiredChallenges(ctx context.Context, before int64) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("consumed = ? AND expiry < ?", false, before).
		Delete(&SQLiteChallenge{})
	if res.Error != nil {
		return 0, apperrors.Unavailable(res.Error, "delete expired challenges")
	}
	return res.RowsAffected, nil
}

func (s *SQLiteStore) SaveAuditEvent(ctx context.Context, event *models.AuditEvent) error {
	if err := s.db.WithContext(ctx).Create(auditToSQLite(event)).Error; err != nil {
		if isDuplicate(err) {
			return errors.Wrapf(apperrors.ErrConflict, "audit event %s already exists", event.ID)
		}
		return apperrors.Unavailable(err, "save audit event")
	}
	return nil
}

func (s *SQLiteStore) QueryAuditEvents(ctx context.Context, filter models.AuditFilter) ([]*models.AuditEvent, error) {
	q := s.db.WithContext(ctx).Model(&SQLiteAuditEvent{})
	if filter.Operation != "" {
		q = q.Where("operation = ?", filter.Operation)
	}
	if filter.CommunityID != "" {
		q = q.Where("community_id = ?", filter.CommunityID)
	}
	if filter.Since > 0 {
		q = q.Where("timestamp >= ?", filter.Since)
	}
	if filter.Until > 0 {
		q = q.Where("timestamp <= ?", filter.Until)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var rows []SQLiteAuditEvent
	if err := q.Order("timestamp desc, id").Find(&rows).Error; err != nil {
		return nil, apperrors.Unavailable(err, "query audit events")
	}
	out := make([]*models.AuditEvent, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel())
	}
	return out, nil
}

func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func isDuplicate(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(err.Error(), "UNIQUE constraint failed")
}
