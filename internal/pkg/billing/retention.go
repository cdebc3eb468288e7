package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/ManuelReschke/NewsDesk/app/models"
	"github.com/gofiber/fiber/v2/log"
)

const defaultPurgeBatch = 200

// Archiver stores purged subscriptions before they are deleted.
type Archiver interface {
	ArchiveSubscriptions(ctx context.Context, subs []models.Subscription) (string, error)
}

// Sweeper deletes terminal subscriptions that have not changed for longer
// than the retention age.
type Sweeper struct {
	repo      Repository
	age       time.Duration
	archiver  Archiver
	batchSize int
	now       func() time.Time
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithArchiver archives every batch before deleting it.
func WithArchiver(a Archiver) SweeperOption {
	return func(s *Sweeper) {
		s.archiver = a
	}
}

// WithBatchSize sets how many records are archived and deleted together.
func WithBatchSize(n int) SweeperOption {
	return func(s *Sweeper) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithSweepClock overrides the clock used to compute the cutoff.
func WithSweepClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) {
		s.now = now
	}
}

// NewSweeper creates a retention sweeper.
func NewSweeper(repo Repository, age time.Duration, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		repo:      repo,
		age:       age,
		batchSize: defaultPurgeBatch,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Purge removes expired terminal records batch by batch and returns how
// many were deleted. A batch whose archive fails is kept.
func (s *Sweeper) Purge(ctx context.Context) (int64, error) {
	if s.age <= 0 {
		return 0, fmt.Errorf("retention age must be positive, got %s", s.age)
	}
	cutoff := s.now().UTC().Add(-s.age)

	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		batch, err := s.repo.ListTerminalSubscriptionsBefore(ctx, cutoff, s.batchSize)
		if err != nil {
			return total, fmt.Errorf("list expired subscriptions: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		if s.archiver != nil {
			key, err := s.archiver.ArchiveSubscriptions(ctx, batch)
			if err != nil {
				return total, fmt.Errorf("archive batch: %w", err)
			}
			log.Infof("[Billing] Archived %d subscriptions to %s", len(batch), key)
		}

		ids := make([]uint, 0, len(batch))
		for _, sub := range batch {
			ids = append(ids, sub.ID)
		}
		deleted, err := s.repo.DeleteTerminalSubscriptions(ctx, ids)
		if err != nil {
			return total, fmt.Errorf("delete expired subscriptions: %w", err)
		}
		total += deleted
		if deleted == 0 || len(batch) < s.batchSize {
			break
		}
	}

	if total > 0 {
		log.Infof("[Billing] Retention sweep removed %d subscriptions older than %s", total, cutoff.Format(time.RFC3339))
	}
	return total, nil
}
