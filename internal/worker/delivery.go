package worker

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"mlsrelay/internal/domain"
	"mlsrelay/internal/observability/metrics"
	"mlsrelay/internal/store"
)

// Config tunes the claim/execute/ack loop.
type Config struct {
	Interval       time.Duration
	BatchSize      int
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	Lease          time.Duration
	PublishTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval:       15 * time.Second,
		BatchSize:      25,
		MaxAttempts:    8,
		BaseDelay:      30 * time.Second,
		MaxDelay:       30 * time.Minute,
		Lease:          2 * time.Minute,
		PublishTimeout: 10 * time.Second,
	}
}

// Worker drains the delivery task table: it atomically claims a batch of due
// pending tasks, publishes each one, and either marks it delivered,
// reschedules it with exponential backoff, or dead-letters it. Instances may
// overlap freely; the claim skips rows locked by a concurrent run.
type Worker struct {
	store  *store.Store
	pub    Publisher
	cfg    Config
	now    func() time.Time
	jitter func(time.Duration) time.Duration
}

func New(st *store.Store, pub Publisher, cfg Config) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	return &Worker{
		store:  st,
		pub:    pub,
		cfg:    cfg,
		now:    time.Now,
		jitter: defaultJitter,
	}
}

// WithClock injects the time source and jitter, for tests.
func (w *Worker) WithClock(now func() time.Time, jitter func(time.Duration) time.Duration) *Worker {
	w.now = now
	w.jitter = jitter
	return w
}

// Run loops until the context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := w.RunOnce(ctx); err != nil {
				slog.Error("delivery run failed", "error", err)
			} else if n > 0 {
				slog.Debug("delivery run finished", "processed", n)
			}
		}
	}
}

// RunOnce claims one batch of due tasks and processes it, returning how many
// tasks were handled.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	now := w.now().UTC()
	tasks, err := w.store.DeliveryTasks().ClaimDue(ctx, now, w.cfg.BatchSize, w.cfg.Lease)
	if err != nil {
		return 0, err
	}
	for _, task := range tasks {
		w.process(ctx, task)
	}
	return len(tasks), nil
}

func (w *Worker) process(ctx context.Context, task domain.DeliveryTask) {
	attempts := task.Attempts + 1

	pubCtx := ctx
	if w.cfg.PublishTimeout > 0 {
		var cancel context.CancelFunc
		pubCtx, cancel = context.WithTimeout(ctx, w.cfg.PublishTimeout)
		defer cancel()
	}
	err := w.pub.Publish(pubCtx, task)
	if err == nil {
		if err := w.store.DeliveryTasks().MarkDelivered(ctx, task.ID, attempts); err != nil {
			slog.Error("mark delivered failed", "error", err, "task_id", task.ID)
			return
		}
		metrics.DeliveryTasksTotal.WithLabelValues("delivered").Inc()
		slog.Info("task delivered", "task_id", task.ID, "kind", task.Kind, "attempts", attempts)
		return
	}

	if errors.Is(err, domain.ErrTerminal) || attempts >= w.cfg.MaxAttempts {
		if derr := w.store.DeliveryTasks().MarkDead(ctx, task.ID, attempts, err.Error()); derr != nil {
			slog.Error("mark dead failed", "error", derr, "task_id", task.ID)
			return
		}
		metrics.DeliveryTasksTotal.WithLabelValues("dead").Inc()
		slog.Warn("task dead-lettered", "task_id", task.ID, "kind", task.Kind, "attempts", attempts, "error", err)
		return
	}

	next := w.now().UTC().Add(w.backoff(attempts))
	if rerr := w.store.DeliveryTasks().Reschedule(ctx, task.ID, attempts, next, err.Error()); rerr != nil {
		slog.Error("reschedule failed", "error", rerr, "task_id", task.ID)
		return
	}
	metrics.DeliveryTasksTotal.WithLabelValues("retried").Inc()
	slog.Info("task rescheduled", "task_id", task.ID, "kind", task.Kind, "attempts", attempts, "next_attempt_at", next, "error", err)
}

// backoff returns min(base · 2^(attempts-1), cap) plus jitter.
func (w *Worker) backoff(attempts int) time.Duration {
	delay := w.cfg.BaseDelay
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= w.cfg.MaxDelay {
			delay = w.cfg.MaxDelay
			break
		}
	}
	if delay > w.cfg.MaxDelay {
		delay = w.cfg.MaxDelay
	}
	return delay + w.jitter(delay)
}

// defaultJitter adds up to 10% of the delay.
func defaultJitter(delay time.Duration) time.Duration {
	if delay <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(delay)/10 + 1))
}
