package review

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/everstacklabs/vigil/internal/watch"
)

// Runner owns the poll loop: it ticks the change detector, throttles review
// attempts with a cooldown, and routes results. The cooldown counts
// attempts, not successes — a burst of poll ticks collapses to one attempt
// regardless of how the review turns out.
type Runner struct {
	sched    *Scheduler
	detector *watch.Detector
	interval time.Duration
	cooldown *rate.Limiter
	refresh  func(context.Context) // optional per-tick hook, e.g. TTL-gated model refresh
	notify   func(Result)          // optional sink for surfaced results
}

// RunnerOption configures the Runner.
type RunnerOption func(*Runner)

// WithRefresh installs a hook invoked on every tick before change detection.
func WithRefresh(fn func(context.Context)) RunnerOption {
	return func(r *Runner) { r.refresh = fn }
}

// WithNotify installs a sink for completed review results.
func WithNotify(fn func(Result)) RunnerOption {
	return func(r *Runner) { r.notify = fn }
}

// NewRunner wires a scheduler to a change detector. interval is the poll
// period; cooldown is the minimum gap between automatic review attempts.
func NewRunner(sched *Scheduler, detector *watch.Detector, interval, cooldown time.Duration, opts ...RunnerOption) *Runner {
	r := &Runner{
		sched:    sched,
		detector: detector,
		interval: interval,
		cooldown: rate.NewLimiter(rate.Every(cooldown), 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start blocks, polling until the context is canceled.
func (r *Runner) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("shadow review loop stopped")
			return
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// Tick runs one poll cycle: refresh hook, change detection, cooldown gate,
// review attempt, result routing. Exported so a one-shot caller or test can
// drive the loop manually.
func (r *Runner) Tick(ctx context.Context) {
	if r.refresh != nil {
		r.refresh(ctx)
	}

	cs := r.detector.Check()
	if !cs.Changed() {
		return
	}
	slog.Debug("working tree changed",
		"added", len(cs.Added), "modified", len(cs.Modified), "deleted", len(cs.Deleted))

	if !r.cooldown.Allow() {
		return
	}

	result, ok := r.sched.RunShadowReview(ctx)
	if !ok {
		return
	}
	r.report(result)
}

// report surfaces warning, critical, and error results; a safe result only
// feeds the passive debug channel.
func (r *Runner) report(result Result) {
	switch result.Severity {
	case SeverityCritical:
		slog.Error("shadow review", "severity", result.Severity, "message", result.Message)
	case SeverityWarning, SeverityError:
		slog.Warn("shadow review", "severity", result.Severity, "message", result.Message)
	default:
		slog.Debug("shadow review clean")
	}
	if r.notify != nil {
		r.notify(result)
	}
}
