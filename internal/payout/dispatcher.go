package payout

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"taskbridge/internal/repo"
)

const (
	defaultDispatchInterval = 2 * time.Second
	defaultDispatchBatch    = 50
)

// Dispatcher drains the completion-fact outbox into a Ledger in id order.
type Dispatcher struct {
	Repo     repo.Repo
	Ledger   Ledger
	Batch    int
	Interval time.Duration
	Logger   *slog.Logger
	Now      func() time.Time
}

func NewDispatcher(r repo.Repo, ledger Ledger, batch int) *Dispatcher {
	if batch <= 0 {
		batch = defaultDispatchBatch
	}
	return &Dispatcher{
		Repo:     r,
		Ledger:   ledger,
		Batch:    batch,
		Interval: defaultDispatchInterval,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (d *Dispatcher) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now().UTC()
}

// Start polls until ctx is done.
func (d *Dispatcher) Start(ctx context.Context) {
	for {
		if n, err := d.RunOnce(ctx); err != nil {
			d.logger().Warn("payout dispatch failed", "err", err, "delivered", n)
		}
		if err := sleepWithContext(ctx, d.Interval); err != nil {
			return
		}
	}
}

// RunOnce delivers pending facts oldest first. The first failure is recorded on its
// fact and ends the batch so later facts never overtake it.
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	if d == nil || d.Ledger == nil {
		return 0, fmt.Errorf("payout dispatcher is not configured")
	}
	facts, err := d.Repo.PendingCompletionFacts(ctx, nil, d.Batch)
	if err != nil {
		return 0, err
	}
	delivered := 0
	for _, fact := range facts {
		if err := d.Ledger.Record(ctx, fact); err != nil {
			if markErr := d.Repo.MarkFactFailed(ctx, nil, fact.ID, err.Error()); markErr != nil {
				return delivered, markErr
			}
			return delivered, fmt.Errorf("deliver fact %d for task %s: %w", fact.ID, fact.TaskID, err)
		}
		if err := d.Repo.MarkFactDelivered(ctx, nil, fact.ID, d.now()); err != nil {
			return delivered, err
		}
		delivered++
		d.logger().Info("payout fact delivered", "fact_id", fact.ID, "task_id", fact.TaskID)
	}
	return delivered, nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		d = defaultDispatchInterval
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
