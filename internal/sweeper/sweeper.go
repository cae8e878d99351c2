// Package sweeper periodically persists lazy offer expiry and flags overdue
// replacement requests. Correctness never depends on it running.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"taskbridge/internal/engine"
)

// Result summarises one sweep.
type Result struct {
	ExpiredOffers       int       `json:"expired_offers"`
	OverdueReplacements int       `json:"overdue_replacements"`
	At                  time.Time `json:"at"`
}

type Sweeper struct {
	Engine   engine.Engine
	Schedule cron.Schedule
	Logger   *slog.Logger
}

// New parses spec as a standard cron expression or an @every descriptor.
func New(e engine.Engine, spec string) (*Sweeper, error) {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("sweeper schedule %q: %w", spec, err)
	}
	return &Sweeper{Engine: e, Schedule: sched}, nil
}

func (s *Sweeper) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// RunOnce expires stale offers and flags overdue replacements as of the engine clock.
func (s *Sweeper) RunOnce(ctx context.Context) (Result, error) {
	now := s.Engine.Clock()
	res := Result{At: now}
	expired, err := s.Engine.ExpireStaleOffers(ctx, engine.SystemActor, now)
	if err != nil {
		return res, fmt.Errorf("expire offers: %w", err)
	}
	res.ExpiredOffers = len(expired)
	flagged, err := s.Engine.FlagOverdueReplacements(ctx, engine.SystemActor, now)
	if err != nil {
		return res, fmt.Errorf("flag overdue replacements: %w", err)
	}
	res.OverdueReplacements = len(flagged)
	return res, nil
}

// Start sweeps on every schedule activation until ctx is done.
func (s *Sweeper) Start(ctx context.Context) {
	for {
		next := s.Schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		res, err := s.RunOnce(ctx)
		if err != nil {
			s.logger().Error("sweep failed", "err", err)
			continue
		}
		if res.ExpiredOffers > 0 || res.OverdueReplacements > 0 {
			s.logger().Info("sweep complete", "expired_offers", res.ExpiredOffers, "overdue_replacements", res.OverdueReplacements)
		}
	}
}
