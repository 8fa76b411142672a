package statedb

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/dgraph-io/badger/v3"
	"github.com/pkg/errors"

	"github.com/Maphikza/cardano-community-suite/internal/apperrors"
	"github.com/Maphikza/cardano-community-suite/internal/models"
)

const (
	prefixChallenge = "challenge/"
	prefixEntry     = "entry/"
	prefixDeleted   = "deleted/"
	prefixWallet    = "wallet/"
	prefixEntryByCh = "entrych/"
	prefixAudit     = "audit/"

	maxTxnAttempts = 5
	sweepChunk     = 500
)

func challengeKey(id string) []byte { return []byte(prefixChallenge + id) }
func entryKey(id string) []byte { return []byte(prefixEntry + id) }
func deletedKey(id string) []byte { return []byte(prefixDeleted + id) }
func entryByChKey(id string) []byte { return []byte(prefixEntryByCh + id) }

// walletKey indexes live entries by (wallet, community); NUL cannot appear in either part.
func walletKey(wallet, community string) []byte {
	return []byte(prefixWallet + wallet + "\x00" + community)
}

func auditKey(e *models.AuditEvent) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s", prefixAudit, e.Timestamp, e.ID))
}

// BadgerStore keeps challenges, entries and audit events in a badger KV store. Uniqueness is
// enforced by index keys written in the same transaction as the entry; badger's optimistic
// conflict detection turns concurrent writers of the same key into ErrConflict, which we retry.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens the store at dir; an empty dir opens an in-memory store.
func NewBadgerStore(dir string) (*BadgerStore, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "failed to create directory")
		}
		opts = badger.DefaultOptions(dir).WithSyncWrites(true)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open badger")
	}
	return &BadgerStore{db: db}, nil
}

// update runs fn in a read-write transaction, retrying when the transaction went stale.
// Errors returned by fn are final.
func (s *BadgerStore) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	var lastErr error
	for attempt := 0; attempt < maxTxnAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		txn := s.db.NewTransaction(true)
		if err := fn(txn); err != nil {
			txn.Discard()
			return err
		}
		err := txn.Commit()
		txn.Discard()
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrConflict) {
			return apperrors.Unavailable(err, "badger commit")
		}
		lastErr = err
	}
	return apperrors.Unavailable(lastErr, "badger txn retry limit exceeded")
}

func getJSON(txn *badger.Txn, key []byte, out interface{}) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
}

func setJSON(txn *badger.Txn, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

func exists(txn *badger.Txn, key []byte) (bool, error) {
	_, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

func txnChallenge(txn *badger.Txn, id string) (*models.Challenge, error) {
	var c models.Challenge
	if err := getJSON(txn, challengeKey(id), &c); err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, errors.Wrapf(apperrors.ErrNotFound, "challenge %s", id)
		}
		return nil, apperrors.Unavailable(err, "get challenge")
	}
	return &c, nil
}

func txnEntry(txn *badger.Txn, id string) (*models.RegistryEntry, error) {
	var e models.RegistryEntry
	if err := getJSON(txn, entryKey(id), &e); err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, errors.Wrapf(apperrors.ErrNotFound, "registry entry %s", id)
		}
		return nil, apperrors.Unavailable(err, "get registry entry")
	}
	return &e, nil
}

func insertEntry(txn *badger.Txn, e *models.RegistryEntry) error {
	for _, key := range [][]byte{walletKey(e.WalletAddress, e.CommunityID), entryByChKey(e.ChallengeID), entryKey(e.ID)} {
		taken, err := exists(txn, key)
		if err != nil {
			return apperrors.Unavailable(err, "check registry index")
		}
		if taken {
			return errors.Wrapf(apperrors.ErrConflict, "wallet %s is already registered for %s",
				e.WalletAddress, e.CommunityID)
		}
	}
	if err := setJSON(txn, entryKey(e.ID), e); err != nil {
		return apperrors.Unavailable(err, "put registry entry")
	}
	if err := txn.Set(walletKey(e.WalletAddress, e.CommunityID), []byte(e.ID)); err != nil {
		return apperrors.Unavailable(err, "put wallet index")
	}
	if err := txn.Set(entryByChKey(e.ChallengeID), []byte(e.ID)); err != nil {
		return apperrors.Unavailable(err, "put challenge index")
	}
	return nil
}

func (s *BadgerStore) SaveChallenge(ctx context.Context, c *models.Challenge) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		taken, err := exists(txn, challengeKey(c.ID))
		if err != nil {
			return apperrors.Unavailable(err, "check challenge")
		}
		if taken {
			return errors.Wrapf(apperrors.ErrConflict, "challenge %s already exists", c.ID)
		}
		if err := setJSON(txn, challengeKey(c.ID), c); err != nil {
			return apperrors.Unavailable(err, "put challenge")
		}
		return nil
	})
}

func (s *BadgerStore) GetChallenge(ctx context.Context, id string) (*models.Challenge, error) {
	var c *models.Challenge
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		c, err = txnChallenge(txn, id)
		return err
	})
	return c, err
}

// scan decodes every value under prefix into a fresh T and hands it to fn.
func scan[T any](txn *badger.Txn, prefix string, reverse bool, fn func(*T) bool) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	opts.Reverse = reverse
	it := txn.NewIterator(opts)
	defer it.Close()

	start := []byte(prefix)
	if reverse {
		start = append([]byte(prefix), 0xff)
	}
	for it.Seek(start); it.ValidForPrefix([]byte(prefix)); it.Next() {
		v := new(T)
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		}); err != nil {
			return err
		}
		if !fn(v) {
			return nil
		}
	}
	return nil
}

func (s *BadgerStore) ListChallenges(ctx context.Context, filter models.ChallengeFilter) ([]*models.Challenge, error) {
	var out []*models.Challenge
	err := s.db.View(func(txn *badger.Txn) error {
		return scan(txn, prefixChallenge, false, func(c *models.Challenge) bool {
			if filter.CommunityID != "" && c.CommunityID != filter.CommunityID {
				return true
			}
			if !filter.IncludeConsumed && c.Consumed {
				return true
			}
			out = append(out, c)
			return true
		})
	})
	if err != nil {
		return nil, apperrors.Unavailable(err, "list challenges")
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IssuedAt != out[j].IssuedAt {
			return out[i].IssuedAt > out[j].IssuedAt
		}
		return out[i].ID < out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *BadgerStore) ConsumeChallenge(ctx context.Context, req ConsumeRequest) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		c, err := txnChallenge(txn, req.ChallengeID)
		if err != nil {
			return err
		}
		if c.Consumed {
			return errors.Wrapf(apperrors.ErrAlreadyConsumed, "challenge %s", c.ID)
		}
		c.Consumed = true
		c.ConsumedBy = req.ConsumedBy
		c.ConsumedKey = req.PublicKey
		c.ConsumedAt = req.At
		c.Registered = req.Entry != nil
		if err := setJSON(txn, challengeKey(c.ID), c); err != nil {
			return apperrors.Unavailable(err, "put challenge")
		}
		if req.Entry != nil {
			return insertEntry(txn, req.Entry)
		}
		return nil
	})
}

func (s *BadgerStore) BindEntry(ctx context.Context, entry *models.RegistryEntry) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		c, err := txnChallenge(txn, entry.ChallengeID)
		if err != nil {
			return err
		}
		pairTaken, err := exists(txn, walletKey(entry.WalletAddress, entry.CommunityID))
		if err != nil {
			return apperrors.Unavailable(err, "check wallet index")
		}
		if err := checkBindable(c, entry, pairTaken); err != nil {
			return err
		}
		entry.PublicKey = c.ConsumedKey
		c.Registered = true
		if err := setJSON(txn, challengeKey(c.ID), c); err != nil {
			return apperrors.Unavailable(err, "put challenge")
		}
		return insertEntry(txn, entry)
	})
}

func (s *BadgerStore) PutEntry(ctx context.Context, entry *models.RegistryEntry) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		return insertEntry(txn, entry)
	})
}

func (s *BadgerStore) GetEntry(ctx context.Context, id string) (*models.RegistryEntry, error) {
	var e *models.RegistryEntry
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		e, err = txnEntry(txn, id)
		return err
	})
	return e, err
}

func (s *BadgerStore) FindEntry(ctx context.Context, wallet, communityID string) (*models.RegistryEntry, error) {
	entries, err := s.ListEntries(ctx, models.EntryFilter{WalletAddress: wallet, CommunityID: communityID})
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, errors.Wrapf(apperrors.ErrNotFound, "wallet %s", wallet)
	}
	// ListEntries is oldest first.
	return entries[len(entries)-1], nil
}

func (s *BadgerStore) ListEntries(ctx context.Context, filter models.EntryFilter) ([]*models.RegistryEntry, error) {
	var out []*models.RegistryEntry
	err := s.db.View(func(txn *badger.Txn) error {
		return scan(txn, prefixEntry, false, func(e *models.RegistryEntry) bool {
			switch {
			case filter.CommunityID != "" && e.CommunityID != filter.CommunityID:
			case filter.Status != "" && e.Status != filter.Status:
			case filter.WalletAddress != "" && e.WalletAddress != filter.WalletAddress:
			default:
				out = append(out, e)
			}
			return true
		})
	})
	if err != nil {
		return nil, apperrors.Unavailable(err, "list registry entries")
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].VerifiedAt != out[j].VerifiedAt {
			return out[i].VerifiedAt < out[j].VerifiedAt
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *BadgerStore) UpdateEntryStatus(ctx context.Context, id, status string, at int64) (*models.RegistryEntry, error) {
	var updated *models.RegistryEntry
	err := s.update(ctx, func(txn *badger.Txn) error {
		e, err := txnEntry(txn, id)
		if err != nil {
			return err
		}
		e.Status = status
		e.UpdatedAt = at
		if err := setJSON(txn, entryKey(id), e); err != nil {
			return apperrors.Unavailable(err, "put registry entry")
		}
		updated = e
		return nil
	})
	return updated, err
}

// DeleteEntry moves the entry under the deleted/ prefix and frees its index keys.
func (s *BadgerStore) DeleteEntry(ctx context.Context, id string) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		e, err := txnEntry(txn, id)
		if err != nil {
			return err
		}
		if err := setJSON(txn, deletedKey(id), e); err != nil {
			return apperrors.Unavailable(err, "archive registry entry")
		}
		for _, key := range [][]byte{entryKey(id), walletKey(e.WalletAddress, e.CommunityID), entryByChKey(e.ChallengeID)} {
			if err := txn.Delete(key); err != nil {
				return apperrors.Unavailable(err, "delete registry entry")
			}
		}
		return nil
	})
}

func (s *BadgerStore) DeleteExpiredChallenges(ctx context.Context, before int64) (int64, error) {
	var candidates []string
	err := s.db.View(func(txn *badger.Txn) error {
		return scan(txn, prefixChallenge, false, func(c *models.Challenge) bool {
			if !c.Consumed && c.Expiry < before {
				candidates = append(candidates, c.ID)
			}
			return true
		})
	})
	if err != nil {
		return 0, apperrors.Unavailable(err, "scan challenges")
	}

	var deleted int64
	for start := 0; start < len(candidates); start += sweepChunk {
		end := start + sweepChunk
		if end > len(candidates) {
			end = len(candidates)
		}
		var n int64
		err := s.update(ctx, func(txn *badger.Txn) error {
			n = 0
			for _, id := range candidates[start:end] {
				c, err := txnChallenge(txn, id)
				if errors.Is(err, apperrors.ErrNotFound) {
					continue
				}
				if err != nil {
					return err
				}
				// Re-checked inside the txn: a verify may have consumed it since the scan.
				if c.Consumed || c.Expiry >= before {
					continue
				}
				if err := txn.Delete(challengeKey(id)); err != nil {
					return apperrors.Unavailable(err, "delete challenge")
				}
				n++
			}
			return nil
		})
		if err != nil {
			return deleted, err
		}
		deleted += n
	}
	return deleted, nil
}

func (s *BadgerStore) SaveAuditEvent(ctx context.Context, event *models.AuditEvent) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		if err := setJSON(txn, auditKey(event), event); err != nil {
			return apperrors.Unavailable(err, "put audit event")
		}
		return nil
	})
}

func (s *BadgerStore) QueryAuditEvents(ctx context.Context, filter models.AuditFilter) ([]*models.AuditEvent, error) {
	var out []*models.AuditEvent
	err := s.db.View(func(txn *badger.Txn) error {
		return scan(txn, prefixAudit, true, func(e *models.AuditEvent) bool {
			switch {
			case filter.Operation != "" && e.Operation != filter.Operation:
			case filter.CommunityID != "" && e.CommunityID != filter.CommunityID:
			case filter.Since > 0 && e.Timestamp < filter.Since:
			case filter.Until > 0 && e.Timestamp > filter.Until:
			default:
				out = append(out, e)
			}
			return filter.Limit <= 0 || len(out) < filter.Limit
		})
	})
	if err != nil {
		return nil, apperrors.Unavailable(err, "query audit events")
	}
	return out, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
