package dispatch

import (
	"context"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BTreeMap/OutreachPipe/internal/models"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry(WithRand(rand.New(rand.NewPCG(1, 1))))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := r.Stop(ctx); err != nil {
			t.Errorf("stop failed: %v", err)
		}
	})
	return r
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestScheduleAtMostOnePending(t *testing.T) {
	r := newTestRegistry(t)
	key := Key{Family: models.FamilyMorning, UserID: "u1"}
	bounds := models.DelayBounds{Min: time.Hour, Max: time.Hour}

	id1, ok := r.Schedule(key, bounds, func(context.Context, *Task) {})
	if !ok || id1 == "" {
		t.Fatal("expected first schedule to succeed")
	}
	id2, ok := r.Schedule(key, bounds, func(context.Context, *Task) {})
	if ok {
		t.Fatal("expected duplicate schedule to be a no-op")
	}
	if id2 != id1 {
		t.Errorf("expected existing task id %s, got %s", id1, id2)
	}
	if r.Len() != 1 {
		t.Errorf("expected 1 task, got %d", r.Len())
	}

	other := Key{Family: models.FamilyNight, UserID: "u1"}
	if _, ok := r.Schedule(other, bounds, func(context.Context, *Task) {}); !ok {
		t.Error("expected a different family for the same user to schedule")
	}
}

func TestScheduleDelayWithinBounds(t *testing.T) {
	now := time.Date(2025, 6, 1, 7, 0, 0, 0, time.UTC)
	r := NewRegistry(WithClock(func() time.Time { return now }))
	defer r.Stop(context.Background())

	bounds := models.DelayBounds{Min: time.Minute, Max: 40 * time.Minute}
	for i := 0; i < 25; i++ {
		key := Key{Family: models.FamilyMorning, UserID: string(rune('a' + i))}
		if _, ok := r.Schedule(key, bounds, func(context.Context, *Task) {}); !ok {
			t.Fatalf("schedule %d failed", i)
		}
	}
	for _, info := range r.Tasks() {
		delay := info.FireAt.Sub(info.IssuedAt)
		if delay < bounds.Min || delay > bounds.Max {
			t.Errorf("task %s delay %s outside bounds", info.ID, delay)
		}
		if info.State != StatePending {
			t.Errorf("task %s expected pending, got %s", info.ID, info.State)
		}
	}
}

func TestTaskFiresAndIsPruned(t *testing.T) {
	r := newTestRegistry(t)
	key := Key{Family: models.FamilyIdleTimeout, UserID: "u1"}
	var fired atomic.Bool

	r.Schedule(key, models.DelayBounds{}, func(ctx context.Context, task *Task) {
		if task.Claim() {
			fired.Store(true)
		}
	})

	waitFor(t, func() bool { return fired.Load() && !r.Pending(key) })
	if _, ok := r.Schedule(key, models.DelayBounds{Min: time.Hour, Max: time.Hour}, func(context.Context, *Task) {}); !ok {
		t.Error("expected key to be reusable after the task finished")
	}
}

func TestCancelAllForPreventsFire(t *testing.T) {
	r := newTestRegistry(t)
	var fired atomic.Bool
	fn := func(ctx context.Context, task *Task) {
		if task.Claim() {
			fired.Store(true)
		}
	}
	r.Schedule(Key{Family: models.FamilyIdleTimeout, UserID: "u1"}, models.DelayBounds{Min: 50 * time.Millisecond, Max: 50 * time.Millisecond}, fn)
	r.Schedule(Key{Family: models.FamilyLunch, UserID: "u1"}, models.DelayBounds{Min: 50 * time.Millisecond, Max: 50 * time.Millisecond}, fn)
	r.Schedule(Key{Family: models.FamilyLunch, UserID: "u2"}, models.DelayBounds{Min: time.Hour, Max: time.Hour}, fn)

	if n := r.CancelAllFor("u1"); n != 2 {
		t.Fatalf("expected 2 cancelled tasks, got %d", n)
	}
	if r.Len() != 1 {
		t.Errorf("expected only u2's task to remain, got %d", r.Len())
	}
	time.Sleep(100 * time.Millisecond)
	if fired.Load() {
		t.Error("cancelled task fired")
	}
}

func TestCancellationWinsBeforeClaim(t *testing.T) {
	r := newTestRegistry(t)
	key := Key{Family: models.FamilyIdleTimeout, UserID: "u1"}
	started := make(chan struct{})
	gate := make(chan struct{})
	claimed := make(chan bool, 1)

	r.Schedule(key, models.DelayBounds{}, func(ctx context.Context, task *Task) {
		close(started)
		<-gate
		claimed <- task.Claim()
	})

	<-started
	if n := r.CancelAllFor("u1"); n != 1 {
		t.Fatalf("expected pending task to be cancelled, got %d", n)
	}
	close(gate)
	if <-claimed {
		t.Error("claim succeeded after cancellation")
	}
}

func TestCancelAllForAbortsClaimedTask(t *testing.T) {
	r := newTestRegistry(t)
	key := Key{Family: models.FamilyIdleTimeout, UserID: "u1"}
	claimedCh := make(chan struct{})
	release := make(chan struct{})
	aborted := make(chan struct{})

	r.Schedule(key, models.DelayBounds{}, func(ctx context.Context, task *Task) {
		if task.Claim() {
			close(claimedCh)
		}
		<-ctx.Done()
		close(aborted)
		<-release
	})

	<-claimedCh
	if n := r.CancelAllFor("u1"); n != 0 {
		t.Errorf("expected firing task to keep its slot, cancelled %d", n)
	}
	select {
	case <-aborted:
	case <-time.After(time.Second):
		t.Fatal("in-flight task context was not cancelled")
	}
	if !r.Pending(key) {
		t.Error("firing task should still occupy its key")
	}
	if _, ok := r.Schedule(key, models.DelayBounds{}, func(context.Context, *Task) {}); ok {
		t.Error("expected schedule to be a no-op while a task is firing")
	}
	close(release)
	waitFor(t, func() bool { return !r.Pending(key) })
}

func TestConcurrentScheduleKeepsOneTask(t *testing.T) {
	r := newTestRegistry(t)
	key := Key{Family: models.FamilyDinner, UserID: "u1"}
	var scheduled atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := r.Schedule(key, models.DelayBounds{Min: time.Hour, Max: time.Hour}, func(context.Context, *Task) {}); ok {
				scheduled.Add(1)
			}
		}()
	}
	wg.Wait()
	if scheduled.Load() != 1 {
		t.Errorf("expected exactly one successful schedule, got %d", scheduled.Load())
	}
}

func TestStopCancelsOutstandingTasks(t *testing.T) {
	r := NewRegistry()
	var fired atomic.Bool
	inFlight := make(chan struct{})
	var sawCancel atomic.Bool

	r.Schedule(Key{Family: models.FamilyNight, UserID: "slow"}, models.DelayBounds{Min: time.Hour, Max: time.Hour}, func(context.Context, *Task) {
		fired.Store(true)
	})
	r.Schedule(Key{Family: models.FamilyNight, UserID: "busy"}, models.DelayBounds{}, func(ctx context.Context, task *Task) {
		task.Claim()
		close(inFlight)
		<-ctx.Done()
		sawCancel.Store(true)
	})
	<-inFlight

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.Stop(ctx); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if fired.Load() {
		t.Error("pending task fired during stop")
	}
	if !sawCancel.Load() {
		t.Error("in-flight task context was not cancelled")
	}
	if _, ok := r.Schedule(Key{Family: models.FamilyNight, UserID: "late"}, models.DelayBounds{}, func(context.Context, *Task) {}); ok {
		t.Error("expected schedule after stop to be rejected")
	}
}
