// Package sweeper runs the periodic payment housekeeping: cancelling
// reproductions whose offer went unanswered and reminding customers
// halfway there. Both sweeps are idempotent, so overlapping processes or
// restarts cause no double work.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/leeszaal/deliver-go/internal/service/reproduction"
)

type Config struct {
	// Interval between sweep rounds.
	Interval time.Duration
	// RemindAfter is how long after the offer a reminder goes out.
	RemindAfter time.Duration
	// CancelAfter is how long after the offer an unanswered reproduction
	// is cancelled. Must exceed RemindAfter.
	CancelAfter time.Duration
}

type Sweeper struct {
	svc    *reproduction.Service
	cfg    Config
	logger *slog.Logger
}

func New(svc *reproduction.Service, cfg Config, logger *slog.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	if cfg.RemindAfter <= 0 {
		cfg.RemindAfter = 14 * 24 * time.Hour
	}
	if cfg.CancelAfter <= 0 {
		cfg.CancelAfter = 30 * 24 * time.Hour
	}

	return &Sweeper{svc: svc, cfg: cfg, logger: logger}
}

// Run blocks until ctx is cancelled, sweeping once immediately and then
// every interval.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	reminded, err := s.svc.SendReminders(ctx, s.cfg.RemindAfter)
	if err != nil {
		s.logger.Error("payment reminder sweep failed", "error", err)
	} else if reminded > 0 {
		s.logger.Info("payment reminders sent", "count", reminded)
	}

	cancelled, err := s.svc.CancelUnpaid(ctx, s.cfg.CancelAfter)
	if err != nil {
		s.logger.Error("unpaid cancellation sweep failed", "error", err)
	} else if cancelled > 0 {
		s.logger.Info("unpaid reproductions cancelled", "count", cancelled)
	}
}
