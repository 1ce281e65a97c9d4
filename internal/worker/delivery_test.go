package worker_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"mlsrelay/internal/domain"
	"mlsrelay/internal/relayjson"
	"mlsrelay/internal/store"
	"mlsrelay/internal/worker"
)

func setup(t *testing.T) *store.Store {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(domain.Models()...); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return store.New(db)
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time            { return c.t }
func (c *clock) advance(d time.Duration)   { c.t = c.t.Add(d) }
func noJitter(time.Duration) time.Duration { return 0 }

type stubPublisher struct {
	err   error
	calls int
}

func (p *stubPublisher) Publish(_ context.Context, _ domain.DeliveryTask) error {
	p.calls++
	return p.err
}

func enqueue(t *testing.T, st *store.Store, at time.Time) *domain.DeliveryTask {
	t.Helper()
	task := &domain.DeliveryTask{
		Kind:          "message.federate",
		Payload:       relayjson.JSON(`{"messageId":1}`),
		NextAttemptAt: at,
	}
	if err := st.DeliveryTasks().Enqueue(context.Background(), task); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return task
}

func TestDeliverySuccess(t *testing.T) {
	st := setup(t)
	clk := &clock{t: time.Now().UTC()}
	pub := &stubPublisher{}
	w := worker.New(st, pub, worker.Config{
		BatchSize: 10, MaxAttempts: 3,
		BaseDelay: 10 * time.Second, MaxDelay: time.Minute, Lease: time.Minute,
	}).WithClock(clk.now, noJitter)

	task := enqueue(t, st, clk.t.Add(-time.Second))

	n, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if n != 1 || pub.calls != 1 {
		t.Fatalf("expected one task published, got n=%d calls=%d", n, pub.calls)
	}

	got, err := st.DeliveryTasks().Get(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.TaskDelivered || got.Attempts != 1 {
		t.Fatalf("expected delivered after 1 attempt, got %s/%d", got.Status, got.Attempts)
	}
}

func TestDeliveryBackoffDoublesUntilCap(t *testing.T) {
	st := setup(t)
	clk := &clock{t: time.Now().UTC()}
	pub := &stubPublisher{err: errors.New("remote unavailable")}
	w := worker.New(st, pub, worker.Config{
		BatchSize: 10, MaxAttempts: 10,
		BaseDelay: 10 * time.Second, MaxDelay: 40 * time.Second, Lease: time.Minute,
	}).WithClock(clk.now, noJitter)

	task := enqueue(t, st, clk.t.Add(-time.Second))
	ctx := context.Background()

	// 10s, 20s, 40s, then pinned at the 40s cap.
	for _, want := range []time.Duration{10 * time.Second, 20 * time.Second, 40 * time.Second, 40 * time.Second} {
		if _, err := w.RunOnce(ctx); err != nil {
			t.Fatalf("run: %v", err)
		}
		got, err := st.DeliveryTasks().Get(ctx, task.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Status != domain.TaskPending {
			t.Fatalf("expected pending, got %s", got.Status)
		}
		if delta := got.NextAttemptAt.Sub(clk.t); delta != want {
			t.Fatalf("attempt %d: expected next attempt in %v, got %v", got.Attempts, want, delta)
		}
		if got.LastError == nil || *got.LastError == "" {
			t.Fatalf("expected last error to be recorded")
		}
		clk.advance(want + time.Second)
	}
}

func TestDeliveryDeadAfterMaxAttempts(t *testing.T) {
	st := setup(t)
	clk := &clock{t: time.Now().UTC()}
	pub := &stubPublisher{err: errors.New("remote unavailable")}
	w := worker.New(st, pub, worker.Config{
		BatchSize: 10, MaxAttempts: 3,
		BaseDelay: time.Second, MaxDelay: time.Minute, Lease: time.Minute,
	}).WithClock(clk.now, noJitter)

	task := enqueue(t, st, clk.t.Add(-time.Second))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := w.RunOnce(ctx); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		clk.advance(time.Hour)
	}

	got, err := st.DeliveryTasks().Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.TaskDead || got.Attempts != 3 {
		t.Fatalf("expected dead after 3 attempts, got %s/%d", got.Status, got.Attempts)
	}
	if pub.calls != 3 {
		t.Fatalf("expected 3 publish attempts, got %d", pub.calls)
	}

	// Dead tasks are never claimed again.
	if n, err := w.RunOnce(ctx); err != nil || n != 0 {
		t.Fatalf("expected empty run, got n=%d err=%v", n, err)
	}
}

func TestDeliveryTerminalErrorDeadLettersImmediately(t *testing.T) {
	st := setup(t)
	clk := &clock{t: time.Now().UTC()}
	pub := &stubPublisher{err: worker.ErrAccountDisconnected}
	w := worker.New(st, pub, worker.Config{
		BatchSize: 10, MaxAttempts: 8,
		BaseDelay: time.Second, MaxDelay: time.Minute, Lease: time.Minute,
	}).WithClock(clk.now, noJitter)

	task := enqueue(t, st, clk.t.Add(-time.Second))

	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	got, err := st.DeliveryTasks().Get(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.TaskDead || got.Attempts != 1 {
		t.Fatalf("expected dead on first attempt, got %s/%d", got.Status, got.Attempts)
	}
}

func TestClaimDueRespectsLease(t *testing.T) {
	st := setup(t)
	ctx := context.Background()
	now := time.Now().UTC()

	enqueue(t, st, now.Add(-time.Second))
	enqueue(t, st, now.Add(time.Hour)) // not due yet

	first, err := st.DeliveryTasks().ClaimDue(ctx, now, 10, time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("expected 1 due task, got %d", len(first))
	}

	// A concurrent run sees nothing while the lease holds.
	second, err := st.DeliveryTasks().ClaimDue(ctx, now, 10, time.Minute)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("leased task claimed twice")
	}

	// After the lease expires the task comes back.
	third, err := st.DeliveryTasks().ClaimDue(ctx, now.Add(2*time.Minute), 10, time.Minute)
	if err != nil {
		t.Fatalf("third claim: %v", err)
	}
	if len(third) != 1 {
		t.Fatalf("expected task back after lease expiry, got %d", len(third))
	}
}
