package statedb

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Maphikza/cardano-community-suite/internal/apperrors"
	"github.com/Maphikza/cardano-community-suite/internal/models"
)

type backend struct {
	name string
	open func(t *testing.T) Store
}

func backends() []backend {
	return []backend{
		{"sqlite", func(t *testing.T) Store {
			s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "suite.db"))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		}},
		{"badger", func(t *testing.T) Store {
			s, err := NewBadgerStore("")
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		}},
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s Store)) {
	for _, b := range backends() {
		b := b
		t.Run(b.name, func(t *testing.T) {
			fn(t, b.open(t))
		})
	}
}

func testChallenge(id, community string, expiry int64) *models.Challenge {
	return &models.Challenge{
		ID:          id,
		CommunityID: community,
		Action:      models.DefaultAction,
		Nonce:       "nonce-" + id,
		Message:     "sign " + id,
		IssuedAt:    expiry - 3600,
		Expiry:      expiry,
	}
}

func testEntry(id, wallet, community, challengeID string) *models.RegistryEntry {
	return &models.RegistryEntry{
		ID:            id,
		WalletAddress: wallet,
		CommunityID:   community,
		ChallengeID:   challengeID,
		Status:        models.StatusVerified,
		VerifiedAt:    1000,
		UpdatedAt:     1000,
	}
}

func TestChallengeSaveGet(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		c := testChallenge("c1", "cardano-devs-ph", 5000)
		require.NoError(t, s.SaveChallenge(ctx, c))

		got, err := s.GetChallenge(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, c, got)

		err = s.SaveChallenge(ctx, c)
		assert.True(t, errors.Is(err, apperrors.ErrConflict))

		_, err = s.GetChallenge(ctx, "missing")
		assert.True(t, errors.Is(err, apperrors.ErrNotFound))
	})
}

func TestConsumeChallengeOnce(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.SaveChallenge(ctx, testChallenge("c1", "x", 5000)))

		require.NoError(t, s.ConsumeChallenge(ctx, ConsumeRequest{ChallengeID: "c1", ConsumedBy: "addr_a", At: 100}))
		err := s.ConsumeChallenge(ctx, ConsumeRequest{ChallengeID: "c1", ConsumedBy: "addr_a", At: 101})
		assert.True(t, errors.Is(err, apperrors.ErrAlreadyConsumed))

		c, err := s.GetChallenge(ctx, "c1")
		require.NoError(t, err)
		assert.True(t, c.Consumed)
		assert.False(t, c.Registered)
		assert.Equal(t, "addr_a", c.ConsumedBy)
		assert.Equal(t, int64(100), c.ConsumedAt)

		err = s.ConsumeChallenge(ctx, ConsumeRequest{ChallengeID: "nope"})
		assert.True(t, errors.Is(err, apperrors.ErrNotFound))
	})
}

func TestConsumeWithEntryIsAtomic(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.SaveChallenge(ctx, testChallenge("c1", "x", 5000)))
		require.NoError(t, s.SaveChallenge(ctx, testChallenge("c2", "x", 5000)))

		require.NoError(t, s.ConsumeChallenge(ctx, ConsumeRequest{
			ChallengeID: "c1", ConsumedBy: "addr_a", At: 100,
			Entry: testEntry("e1", "addr_a", "x", "c1"),
		}))
		c1, _ := s.GetChallenge(ctx, "c1")
		assert.True(t, c1.Registered)

		// Same wallet and community: the insert fails, so the challenge must stay unconsumed.
		err := s.ConsumeChallenge(ctx, ConsumeRequest{
			ChallengeID: "c2", ConsumedBy: "addr_a", At: 101,
			Entry: testEntry("e2", "addr_a", "x", "c2"),
		})
		assert.True(t, errors.Is(err, apperrors.ErrConflict))

		c2, err := s.GetChallenge(ctx, "c2")
		require.NoError(t, err)
		assert.False(t, c2.Consumed)

		entries, err := s.ListEntries(ctx, models.EntryFilter{})
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})
}

func TestBindEntry(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.SaveChallenge(ctx, testChallenge("c1", "x", 5000)))

		err := s.BindEntry(ctx, testEntry("e1", "addr_a", "x", "c1"))
		assert.True(t, errors.Is(err, apperrors.ErrNotVerified))

		require.NoError(t, s.ConsumeChallenge(ctx, ConsumeRequest{ChallengeID: "c1", ConsumedBy: "addr_a", PublicKey: "aa11", At: 100}))

		err = s.BindEntry(ctx, testEntry("e1", "addr_b", "x", "c1"))
		assert.True(t, errors.Is(err, apperrors.ErrChallengeMismatch))
		err = s.BindEntry(ctx, testEntry("e1", "addr_a", "y", "c1"))
		assert.True(t, errors.Is(err, apperrors.ErrChallengeMismatch))
		err = s.BindEntry(ctx, testEntry("e1", "addr_a", "x", "missing"))
		assert.True(t, errors.Is(err, apperrors.ErrNotFound))

		require.NoError(t, s.BindEntry(ctx, testEntry("e1", "addr_a", "x", "c1")))
		e1, err := s.GetEntry(ctx, "e1")
		require.NoError(t, err)
		assert.Equal(t, "aa11", e1.PublicKey)

		// Repeating the same registration hits the live (wallet, community) entry.
		err = s.BindEntry(ctx, testEntry("e2", "addr_a", "x", "c1"))
		assert.True(t, errors.Is(err, apperrors.ErrConflict), "got %v", err)

		// Once the entry is deleted the slot is free, but the challenge stays bound.
		require.NoError(t, s.DeleteEntry(ctx, "e1"))
		err = s.BindEntry(ctx, testEntry("e3", "addr_a", "x", "c1"))
		assert.True(t, errors.Is(err, apperrors.ErrAlreadyConsumed), "got %v", err)
	})
}

func TestBindEntryUsesVerifiedKey(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.SaveChallenge(ctx, testChallenge("c1", "x", 5000)))
		require.NoError(t, s.ConsumeChallenge(ctx, ConsumeRequest{ChallengeID: "c1", ConsumedBy: "addr_a", PublicKey: "aa11", At: 100}))

		c1, err := s.GetChallenge(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, "aa11", c1.ConsumedKey)

		forged := testEntry("e1", "addr_a", "x", "c1")
		forged.PublicKey = "bb22"
		err = s.BindEntry(ctx, forged)
		assert.True(t, errors.Is(err, apperrors.ErrChallengeMismatch), "got %v", err)
		_, err = s.GetEntry(ctx, "e1")
		assert.True(t, errors.Is(err, apperrors.ErrNotFound))

		claimed := testEntry("e1", "addr_a", "x", "c1")
		claimed.PublicKey = "AA11"
		require.NoError(t, s.BindEntry(ctx, claimed))
		e1, err := s.GetEntry(ctx, "e1")
		require.NoError(t, err)
		assert.Equal(t, "aa11", e1.PublicKey)
	})
}

func TestBindEntryConflictLeavesChallengeUnbound(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for _, id := range []string{"c1", "c2"} {
			require.NoError(t, s.SaveChallenge(ctx, testChallenge(id, "x", 5000)))
			require.NoError(t, s.ConsumeChallenge(ctx, ConsumeRequest{ChallengeID: id, ConsumedBy: "addr_a", At: 100}))
		}
		require.NoError(t, s.BindEntry(ctx, testEntry("e1", "addr_a", "x", "c1")))

		err := s.BindEntry(ctx, testEntry("e2", "addr_a", "x", "c2"))
		assert.True(t, errors.Is(err, apperrors.ErrConflict))

		c2, err := s.GetChallenge(ctx, "c2")
		require.NoError(t, err)
		assert.False(t, c2.Registered)
	})
}

func TestConcurrentConsumeSingleWinner(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.SaveChallenge(ctx, testChallenge("c1", "x", 5000)))

		const workers = 8
		var wins, consumed int32
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				err := s.ConsumeChallenge(ctx, ConsumeRequest{
					ChallengeID: "c1", ConsumedBy: "addr_a", At: 100,
					Entry: testEntry(fmt.Sprintf("e%d", i), "addr_a", "x", "c1"),
				})
				switch {
				case err == nil:
					atomic.AddInt32(&wins, 1)
				case errors.Is(err, apperrors.ErrAlreadyConsumed):
					atomic.AddInt32(&consumed, 1)
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, int32(1), wins)
		assert.Equal(t, int32(workers-1), consumed)
		entries, err := s.ListEntries(ctx, models.EntryFilter{})
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})
}

func TestConcurrentBindSameWallet(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		const workers = 6
		for i := 0; i < workers; i++ {
			id := fmt.Sprintf("c%d", i)
			require.NoError(t, s.SaveChallenge(ctx, testChallenge(id, "x", 5000)))
			require.NoError(t, s.ConsumeChallenge(ctx, ConsumeRequest{ChallengeID: id, ConsumedBy: "addr_a", At: 100}))
		}

		var wins int32
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				err := s.BindEntry(ctx, testEntry(fmt.Sprintf("e%d", i), "addr_a", "x", fmt.Sprintf("c%d", i)))
				if err == nil {
					atomic.AddInt32(&wins, 1)
					return
				}
				if !errors.Is(err, apperrors.ErrConflict) {
					t.Errorf("unexpected error: %v", err)
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, int32(1), wins)
		entries, err := s.ListEntries(ctx, models.EntryFilter{WalletAddress: "addr_a", CommunityID: "x"})
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})
}

func TestEntryQueries(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.PutEntry(ctx, testEntry("e1", "addr_a", "x", "c1")))
		e2 := testEntry("e2", "addr_a", "y", "c2")
		e2.VerifiedAt = 2000
		require.NoError(t, s.PutEntry(ctx, e2))
		require.NoError(t, s.PutEntry(ctx, testEntry("e3", "addr_b", "x", "c3")))

		got, err := s.FindEntry(ctx, "addr_a", "")
		require.NoError(t, err)
		assert.Equal(t, "e2", got.ID)

		got, err = s.FindEntry(ctx, "addr_a", "x")
		require.NoError(t, err)
		assert.Equal(t, "e1", got.ID)

		_, err = s.FindEntry(ctx, "addr_z", "")
		assert.True(t, errors.Is(err, apperrors.ErrNotFound))

		inX, err := s.ListEntries(ctx, models.EntryFilter{CommunityID: "x"})
		require.NoError(t, err)
		assert.Len(t, inX, 2)

		updated, err := s.UpdateEntryStatus(ctx, "e3", models.StatusSuspended, 3000)
		require.NoError(t, err)
		assert.Equal(t, models.StatusSuspended, updated.Status)
		assert.Equal(t, int64(3000), updated.UpdatedAt)

		suspended, err := s.ListEntries(ctx, models.EntryFilter{Status: models.StatusSuspended})
		require.NoError(t, err)
		require.Len(t, suspended, 1)
		assert.Equal(t, "e3", suspended[0].ID)

		_, err = s.UpdateEntryStatus(ctx, "nope", models.StatusVerified, 1)
		assert.True(t, errors.Is(err, apperrors.ErrNotFound))
	})
}

func TestDeleteEntryFreesSlot(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.PutEntry(ctx, testEntry("e1", "addr_a", "x", "c1")))
		assert.True(t, errors.Is(s.PutEntry(ctx, testEntry("e2", "addr_a", "x", "c2")), apperrors.ErrConflict))

		require.NoError(t, s.DeleteEntry(ctx, "e1"))
		assert.True(t, errors.Is(s.DeleteEntry(ctx, "e1"), apperrors.ErrNotFound))

		_, err := s.GetEntry(ctx, "e1")
		assert.True(t, errors.Is(err, apperrors.ErrNotFound))

		require.NoError(t, s.PutEntry(ctx, testEntry("e2", "addr_a", "x", "c2")))
	})
}

func TestDeleteExpiredChallenges(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.SaveChallenge(ctx, testChallenge("old", "x", 100)))
		require.NoError(t, s.SaveChallenge(ctx, testChallenge("old-used", "x", 100)))
		require.NoError(t, s.SaveChallenge(ctx, testChallenge("fresh", "x", 5000)))
		require.NoError(t, s.ConsumeChallenge(ctx, ConsumeRequest{ChallengeID: "old-used", ConsumedBy: "a", At: 50}))

		n, err := s.DeleteExpiredChallenges(ctx, 1000)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		_, err = s.GetChallenge(ctx, "old")
		assert.True(t, errors.Is(err, apperrors.ErrNotFound))
		_, err = s.GetChallenge(ctx, "old-used")
		assert.NoError(t, err)

		open, err := s.ListChallenges(ctx, models.ChallengeFilter{})
		require.NoError(t, err)
		require.Len(t, open, 1)
		assert.Equal(t, "fresh", open[0].ID)

		all, err := s.ListChallenges(ctx, models.ChallengeFilter{IncludeConsumed: true, CommunityID: "x"})
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})
}

func TestAuditEvents(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for i, op := range []string{models.OpIssue, models.OpVerify, models.OpVerify, models.OpRegister} {
			require.NoError(t, s.SaveAuditEvent(ctx, &models.AuditEvent{
				ID:          fmt.Sprintf("a%d", i),
				Operation:   op,
				CommunityID: "x",
				Success:     i != 1,
				Timestamp:   int64(100 + i),
			}))
		}

		verifies, err := s.QueryAuditEvents(ctx, models.AuditFilter{Operation: models.OpVerify})
		require.NoError(t, err)
		require.Len(t, verifies, 2)
		assert.Equal(t, "a2", verifies[0].ID, "newest first")

		limited, err := s.QueryAuditEvents(ctx, models.AuditFilter{Limit: 1})
		require.NoError(t, err)
		require.Len(t, limited, 1)
		assert.Equal(t, "a3", limited[0].ID)

		window, err := s.QueryAuditEvents(ctx, models.AuditFilter{Since: 101, Until: 102})
		require.NoError(t, err)
		assert.Len(t, window, 2)
	})
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "suite.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.SaveChallenge(ctx, testChallenge("c1", "x", 5000)))
	require.NoError(t, s.ConsumeChallenge(ctx, ConsumeRequest{
		ChallengeID: "c1", ConsumedBy: "addr_a", At: 1,
		Entry: testEntry("e1", "addr_a", "x", "c1"),
	}))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()
	e, err := s.GetEntry(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "addr_a", e.WalletAddress)
}

func TestBadgerSurvivesReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "kv")
	ctx := context.Background()

	s, err := NewBadgerStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.PutEntry(ctx, testEntry("e1", "addr_a", "x", "c1")))
	require.NoError(t, s.Close())

	s, err = NewBadgerStore(dir)
	require.NoError(t, err)
	defer s.Close()
	e, err := s.GetEntry(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "addr_a", e.WalletAddress)
}

func TestCopyStore(t *testing.T) {
	ctx := context.Background()
	b := backends()
	src, dst := b[1].open(t), b[0].open(t)

	require.NoError(t, src.SaveChallenge(ctx, testChallenge("c1", "x", 5000)))
	require.NoError(t, src.ConsumeChallenge(ctx, ConsumeRequest{
		ChallengeID: "c1", ConsumedBy: "addr_a", At: 1,
		Entry: testEntry("e1", "addr_a", "x", "c1"),
	}))
	require.NoError(t, src.SaveAuditEvent(ctx, &models.AuditEvent{ID: "a1", Operation: models.OpVerify, Timestamp: 1}))

	stats, err := CopyStore(ctx, src, dst)
	require.NoError(t, err)
	assert.Equal(t, &MigrationStats{Challenges: 1, Entries: 1, AuditEvents: 1}, stats)

	c, err := dst.GetChallenge(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, c.Consumed)

	again, err := CopyStore(ctx, src, dst)
	require.NoError(t, err)
	assert.Equal(t, 3, again.Skipped)
}

func TestInitializeDatabase(t *testing.T) {
	s, err := InitializeDatabase(DBTypeBadger, filepath.Join(t.TempDir(), "kv"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = InitializeDatabase("postgres", "")
	assert.Error(t, err)
}
