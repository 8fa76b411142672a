package statedb

import (
	"context"

	"github.com/pkg/errors"

	"github.com/Maphikza/cardano-community-suite/internal/apperrors"
	"github.com/Maphikza/cardano-community-suite/internal/models"
)

// MigrationStats reports what CopyStore moved.
type MigrationStats struct {
	Challenges  int `json:"challenges"`
	Entries     int `json:"entries"`
	AuditEvents int `json:"audit_events"`
	Skipped     int `json:"skipped"`
}

// CopyStore copies every challenge, live registry entry and audit event from src into dst.
// Records already present in dst are skipped, so an interrupted copy can be rerun.
func CopyStore(ctx context.Context, src, dst Store) (*MigrationStats, error) {
	stats := &MigrationStats{}

	challenges, err := src.ListChallenges(ctx, models.ChallengeFilter{IncludeConsumed: true})
	if err != nil {
		return stats, errors.Wrap(err, "read challenges")
	}
	for _, c := range challenges {
		if err := dst.SaveChallenge(ctx, c); err != nil {
			if errors.Is(err, apperrors.ErrConflict) {
				stats.Skipped++
				continue
			}
			return stats, errors.Wrapf(err, "copy challenge %s", c.ID)
		}
		stats.Challenges++
	}

	entries, err := src.ListEntries(ctx, models.EntryFilter{})
	if err != nil {
		return stats, errors.Wrap(err, "read registry entries")
	}
	for _, e := range entries {
		if err := dst.PutEntry(ctx, e); err != nil {
			if errors.Is(err, apperrors.ErrConflict) {
				stats.Skipped++
				continue
			}
			return stats, errors.Wrapf(err, "copy registry entry %s", e.ID)
		}
		stats.Entries++
	}

	events, err := src.QueryAuditEvents(ctx, models.AuditFilter{})
	if err != nil {
		return stats, errors.Wrap(err, "read audit events")
	}
	for _, ev := range events {
		if err := dst.SaveAuditEvent(ctx, ev); err != nil {
			if errors.Is(err, apperrors.ErrConflict) {
				stats.Skipped++
				continue
			}
			return stats, errors.Wrapf(err, "copy audit event %s", ev.ID)
		}
		stats.AuditEvents++
	}

	return stats, nil
}
