// Package scheduler runs periodic maintenance of the audit log.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule prunes once a day at midnight.
const DefaultSchedule = "@daily"

// AuditPruner deletes audit events older than a cutoff. Satisfied by store.Store.
type AuditPruner interface {
	PruneAudit(ctx context.Context, before time.Time) (int64, error)
}

// Pruner deletes audit events older than the retention window on a cron schedule.
type Pruner struct {
	store     AuditPruner
	schedule  cron.Schedule
	expr      string
	retention time.Duration
	parser    cron.Parser
	logger    *slog.Logger
	now       func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex

	running atomic.Bool
}

// NewPruner creates a Pruner. An empty expr uses DefaultSchedule; retention
// must be positive.
func NewPruner(s AuditPruner, expr string, retention time.Duration, logger *slog.Logger) (*Pruner, error) {
	if expr == "" {
		expr = DefaultSchedule
	}
	if retention <= 0 {
		return nil, fmt.Errorf("audit retention must be positive, got %s", retention)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	p := &Pruner{
		store:     s,
		expr:      expr,
		retention: retention,
		parser:    cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
	schedule, err := p.parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse cron expression %q: %w", expr, err)
	}
	p.schedule = schedule
	return p, nil
}

// Start launches the background pruning loop.
func (p *Pruner) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.done != nil {
		p.mu.Unlock()
		return fmt.Errorf("pruner already started")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.mu.Unlock()

	go p.loop(loopCtx)
	p.logger.Info("audit pruner started",
		slog.String("schedule", p.expr),
		slog.String("retention", p.retention.String()),
	)
	return nil
}

func (p *Pruner) loop(ctx context.Context) {
	defer close(p.done)

	for {
		now := p.now()
		timer := time.NewTimer(p.schedule.Next(now).Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			p.tick(ctx)
		}
	}
}

// tick runs one prune, logging instead of returning errors.
func (p *Pruner) tick(ctx context.Context) {
	if _, err := p.RunOnce(ctx); err != nil {
		p.logger.Error("audit prune failed", slog.String("error", err.Error()))
	}
}

// RunOnce deletes events older than now minus the retention window and
// returns how many were removed. Overlapping runs are skipped.
func (p *Pruner) RunOnce(ctx context.Context) (int64, error) {
	if !p.running.CompareAndSwap(false, true) {
		p.logger.Debug("audit prune already running")
		return 0, nil
	}
	defer p.running.Store(false)

	cutoff := p.now().Add(-p.retention)
	n, err := p.store.PruneAudit(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune audit events before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	if n > 0 {
		p.logger.Info("pruned audit events", slog.Int64("count", n), slog.Time("before", cutoff))
	}
	return n, nil
}

// CalculateNextRun computes the next run time for a cron expression.
func (p *Pruner) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := p.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop shuts the loop down and waits for an in-flight prune to finish.
func (p *Pruner) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel == nil {
		return nil
	}

	p.cancel()
	<-p.done
	p.cancel = nil
	p.done = nil

	p.logger.Info("audit pruner stopped")
	return nil
}
