package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/Maphikza/cardano-community-suite/internal/models"
)

// Store is the slice of the persistence layer the audit log needs.
type Store interface {
	SaveAuditEvent(ctx context.Context, event *models.AuditEvent) error
	QueryAuditEvents(ctx context.Context, filter models.AuditFilter) ([]*models.AuditEvent, error)
}

// Logger records protocol operations and summarises them.
type Logger interface {
	LogEvent(ctx context.Context, event *models.AuditEvent) error
	VerificationLog(ctx context.Context, filter models.AuditFilter) (*Report, error)
}

// Report summarises verification attempts.
type Report struct {
	Total      int                  `json:"total"`
	Successful int                  `json:"successful"`
	Failed     int                  `json:"failed"`
	ByReason   map[string]int       `json:"by_reason"`
	Events     []*models.AuditEvent `json:"events"`
}

type logger struct {
	store Store
	clock func() time.Time
}

func NewLogger(store Store) Logger {
	return &logger{store: store, clock: time.Now}
}

// NewLoggerWithClock is NewLogger with an injected clock.
func NewLoggerWithClock(store Store, clock func() time.Time) Logger {
	return &logger{store: store, clock: clock}
}

func (l *logger) LogEvent(ctx context.Context, event *models.AuditEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp == 0 {
		event.Timestamp = l.clock().Unix()
	}

	if err := l.store.SaveAuditEvent(ctx, event); err != nil {
		return errors.Wrap(err, "failed to save audit event")
	}
	return nil
}

func (l *logger) VerificationLog(ctx context.Context, filter models.AuditFilter) (*Report, error) {
	filter.Operation = models.OpVerify
	events, err := l.store.QueryAuditEvents(ctx, filter)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query audit events")
	}

	report := &Report{ByReason: map[string]int{}, Events: events}
	for _, e := range events {
		report.Total++
		if e.Success {
			report.Successful++
			continue
		}
		report.Failed++
		report.ByReason[e.Reason]++
	}
	return report, nil
}

// Nop discards every event.
type Nop struct{}

func (Nop) LogEvent(context.Context, *models.AuditEvent) error { return nil }

func (Nop) VerificationLog(context.Context, models.AuditFilter) (*Report, error) {
	return &Report{ByReason: map[string]int{}}, nil
}
