// Package scheduler runs the recurring maintenance jobs: expired challenge
// purge and queued-message retention.
package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	challengeReaperSpec = "@every 10m"
	queueReaperSpec     = "0 3 * * *" // daily at 03:00 UTC

	queueRetention = 30 * 24 * time.Hour
	jobTimeout     = time.Minute
)

type Scheduler struct {
	db   *sql.DB
	cron *cron.Cron
	log  *zap.Logger

	mu      sync.Mutex
	started bool
}

func New(db *sql.DB, log *zap.Logger) *Scheduler {
	return &Scheduler{
		db:   db,
		cron: cron.New(cron.WithLocation(time.UTC)),
		log:  log,
	}
}

// Start registers both jobs and starts the cron loop. Calling it twice is a
// no-op. Job failures are logged and never abort the process.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	if _, err := s.cron.AddFunc(challengeReaperSpec, func() {
		if _, err := s.ReapExpiredChallenges(context.Background()); err != nil {
			s.log.Error("challenge reaper failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule challenge reaper: %w", err)
	}

	if _, err := s.cron.AddFunc(queueReaperSpec, func() {
		if _, _, err := s.ReapQueuedMessages(context.Background()); err != nil {
			s.log.Error("queue reaper failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule queue reaper: %w", err)
	}

	s.cron.Start()
	s.started = true
	s.log.Info("scheduler started")
	return nil
}

// Stop cancels all scheduled ticks and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	<-s.cron.Stop().Done()
	s.started = false
	s.log.Info("scheduler stopped")
}

// ReapExpiredChallenges deletes authentication challenges past their expiry.
func (s *Scheduler) ReapExpiredChallenges(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM auth_challenges WHERE expires_at < $1`, time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to reap challenges: %w", err)
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if deleted > 0 {
		s.log.Info("reaped expired challenges", zap.Int64("count", deleted))
	}
	return deleted, nil
}

// ReapQueuedMessages deletes messages past their expiry, then messages older
// than the retention window regardless of expiry, and reports both counts.
func (s *Scheduler) ReapQueuedMessages(ctx context.Context) (int64, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	now := time.Now()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM queued_messages WHERE expires_at < $1`, now)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to reap expired messages: %w", err)
	}
	expired, err := res.RowsAffected()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read rows affected: %w", err)
	}

	res, err = s.db.ExecContext(ctx,
		`DELETE FROM queued_messages WHERE created_at < $1`, now.Add(-queueRetention))
	if err != nil {
		return expired, 0, fmt.Errorf("failed to reap stale messages: %w", err)
	}
	stale, err := res.RowsAffected()
	if err != nil {
		return expired, 0, fmt.Errorf("failed to read rows affected: %w", err)
	}

	s.log.Info("queue reaper finished",
		zap.Int64("expired", expired),
		zap.Int64("stale", stale))
	return expired, stale, nil
}
