package history

import (
	"context"
	"time"
)

// defaultPruneInterval is how often the retention window is enforced when
// no cadence is configured. Pruning is cheap, so hourly is plenty.
const defaultPruneInterval = time.Hour

// Logger is the logging interface used by the pruner.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Pruner periodically removes delivery log rows older than the retention
// window. Prune failures are logged and retried on the next tick.
type Pruner struct {
	repo      Repository
	retention time.Duration
	interval  time.Duration
	logger    Logger
}

// NewPruner creates a pruner enforcing the given retention window. A
// non-positive interval falls back to defaultPruneInterval.
func NewPruner(repo Repository, retention, interval time.Duration) *Pruner {
	if interval <= 0 {
		interval = defaultPruneInterval
	}
	return &Pruner{
		repo:      repo,
		retention: retention,
		interval:  interval,
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the pruner.
func (p *Pruner) SetLogger(logger Logger) {
	p.logger = logger
}

// Run blocks, pruning once immediately and then on every tick, until ctx is
// cancelled. A non-positive retention window disables the loop entirely.
func (p *Pruner) Run(ctx context.Context) {
	if p.retention <= 0 {
		return
	}

	p.PruneOnce(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.PruneOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// PruneOnce enforces the retention window a single time.
func (p *Pruner) PruneOnce(ctx context.Context) {
	deleted, err := p.repo.Prune(ctx, p.retention)
	if err != nil {
		p.logger.Error("delivery log prune failed, will retry", "error", err)
		return
	}
	if deleted > 0 {
		p.logger.Info("delivery log pruned", "deleted", deleted, "retention", p.retention.String())
	}
}
