// Package dispatch provides the task registry for delayed, cancellable
// proactive sends.
//
// The registry holds at most one non-terminal task per (campaign family, user)
// key. A task sleeps for a randomized delay and then runs its callback, which
// must call Claim as the last cancellation point before any external effect.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/BTreeMap/OutreachPipe/internal/models"
)

// Key identifies the at-most-one pending task slot.
type Key struct {
	Family models.CampaignFamily
	UserID string
}

func (k Key) String() string {
	return string(k.Family) + "/" + k.UserID
}

// State is the lifecycle position of a task.
type State string

const (
	// StatePending means the task is waiting for its delay to elapse.
	StatePending State = "pending"
	// StateFiring means the task was claimed and is performing its send.
	StateFiring State = "firing"
)

// Func is the callback run when a task's delay elapses.
type Func func(ctx context.Context, task *Task)

// Task is one scheduled dispatch. Fields other than state are immutable.
type Task struct {
	ID       string
	Key      Key
	IssuedAt time.Time
	FireAt   time.Time

	reg       *Registry
	ctx       context.Context
	cancel    context.CancelFunc
	state     State
	cancelled bool
}

// Claim transitions the task to firing unless it was cancelled. Callers must
// not perform any externally visible effect when Claim returns false.
func (t *Task) Claim() bool {
	return t.reg.claim(t)
}

// TaskInfo describes a non-terminal task.
type TaskInfo struct {
	ID       string                `json:"id"`
	Family   models.CampaignFamily `json:"family"`
	UserID   string                `json:"user_id"`
	IssuedAt time.Time             `json:"issued_at"`
	FireAt   time.Time             `json:"fire_at"`
	State    State                 `json:"state"`
}

// Registry is the keyed set of pending dispatch tasks.
type Registry struct {
	mu      sync.Mutex
	tasks   map[Key]*Task
	rng     *rand.Rand
	now     func() time.Time
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopped bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithRand sets the random source used to draw delays.
func WithRand(rng *rand.Rand) Option {
	return func(r *Registry) { r.rng = rng }
}

// WithClock sets the clock used to stamp tasks.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts ...Option) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		tasks:  make(map[Key]*Task),
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.rng == nil {
		r.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	slog.Debug("Creating dispatch Registry")
	return r
}

// Schedule registers a task for key that runs fn after a delay drawn uniformly
// from bounds. It is a no-op returning the existing task id and false if a
// non-terminal task already exists for key, or if the registry is stopped.
func (r *Registry) Schedule(key Key, bounds models.DelayBounds, fn Func) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		slog.Debug("Registry Schedule: registry stopped, ignoring", "key", key.String())
		return "", false
	}
	if existing, ok := r.tasks[key]; ok {
		slog.Debug("Registry Schedule: task already pending for key", "key", key.String(), "task_id", existing.ID, "state", existing.state)
		return existing.ID, false
	}

	delay := r.drawDelayLocked(bounds)
	now := r.now()
	ctx, cancel := context.WithCancel(r.ctx)
	task := &Task{
		ID:       fmt.Sprintf("%s_%s_%d", key.Family, key.UserID, now.UnixNano()),
		Key:      key,
		IssuedAt: now,
		FireAt:   now.Add(delay),
		reg:      r,
		ctx:      ctx,
		cancel:   cancel,
		state:    StatePending,
	}
	r.tasks[key] = task

	r.wg.Add(1)
	go r.run(task, delay, fn)

	slog.Debug("Registry Schedule succeeded", "task_id", task.ID, "delay", delay, "fire_at", task.FireAt)
	return task.ID, true
}

func (r *Registry) drawDelayLocked(bounds models.DelayBounds) time.Duration {
	if bounds.Max <= bounds.Min {
		return max(bounds.Min, 0)
	}
	span := int64(bounds.Max - bounds.Min)
	return bounds.Min + time.Duration(r.rng.Int64N(span+1))
}

func (r *Registry) run(task *Task, delay time.Duration, fn Func) {
	defer r.wg.Done()
	defer r.finish(task)
	defer task.cancel()

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-task.ctx.Done():
		slog.Debug("Registry task cancelled before firing", "task_id", task.ID)
		return
	case <-timer.C:
	}

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("Registry task panicked", "task_id", task.ID, "panic", rec)
		}
	}()
	fn(task.ctx, task)
}

func (r *Registry) claim(task *Task) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if task.cancelled || task.ctx.Err() != nil {
		slog.Debug("Registry claim rejected for cancelled task", "task_id", task.ID)
		return false
	}
	task.state = StateFiring
	return true
}

// finish prunes a terminal task unless its slot was already reused.
func (r *Registry) finish(task *Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.tasks[task.Key]; ok && cur == task {
		delete(r.tasks, task.Key)
	}
}

// CancelAllFor cancels and prunes every pending task of userID. Tasks that
// were already claimed keep their key until they finish, but their context is
// cancelled so an in-flight send can abort. It returns the number of pending
// tasks cancelled.
func (r *Registry) CancelAllFor(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, firing := 0, 0
	for key, task := range r.tasks {
		if key.UserID != userID {
			continue
		}
		if task.state != StatePending {
			task.cancel()
			firing++
			continue
		}
		task.cancelled = true
		task.cancel()
		delete(r.tasks, key)
		n++
	}
	if n > 0 || firing > 0 {
		slog.Debug("Registry CancelAllFor cancelled tasks", "user_id", userID, "count", n, "in_flight", firing)
	}
	return n
}

// Pending reports whether a non-terminal task exists for key.
func (r *Registry) Pending(key Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tasks[key]
	return ok
}

// Len returns the number of non-terminal tasks.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// Tasks returns information about every non-terminal task ordered by fire time.
func (r *Registry) Tasks() []TaskInfo {
	r.mu.Lock()
	out := make([]TaskInfo, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, TaskInfo{
			ID:       t.ID,
			Family:   t.Key.Family,
			UserID:   t.Key.UserID,
			IssuedAt: t.IssuedAt,
			FireAt:   t.FireAt,
			State:    t.state,
		})
	}
	r.mu.Unlock()

	slices.SortFunc(out, func(a, b TaskInfo) int { return a.FireAt.Compare(b.FireAt) })
	return out
}

// Stop cancels every outstanding task, including ones mid-send, and waits for
// their goroutines to exit or for ctx to expire.
func (r *Registry) Stop(ctx context.Context) error {
	r.mu.Lock()
	r.stopped = true
	count := len(r.tasks)
	for _, t := range r.tasks {
		t.cancelled = true
	}
	r.mu.Unlock()
	r.cancel()

	slog.Debug("Registry stopping", "outstanding", count)
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("Registry stopped all tasks", "cancelled", count)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timed out waiting for dispatch tasks: %w", ctx.Err())
	}
}
