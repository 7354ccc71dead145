// Package outreach implements the proactive engagement engine.
//
// The engine runs one detection loop per enabled campaign family. Each loop
// scans the activity store on its poll interval, filters users through the
// whitelist, window and send-decision policies, and hands survivors to the
// dispatch registry with a randomized delay. When a task fires it re-validates
// the user against fresh state, claims the task and asks the Composer to
// produce and deliver the message.
package outreach

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/BTreeMap/OutreachPipe/internal/dispatch"
	"github.com/BTreeMap/OutreachPipe/internal/engagement"
	"github.com/BTreeMap/OutreachPipe/internal/models"
	"github.com/BTreeMap/OutreachPipe/internal/policy"
	"golang.org/x/sync/errgroup"
)

// Error variables for engine lifecycle failures
var (
	ErrAlreadyRunning = errors.New("outreach engine already running")
	ErrNilComposer    = errors.New("composer is required")
)

// Composer produces and delivers one proactive message. A nil error means the
// message reached the user.
type Composer interface {
	Compose(ctx context.Context, req models.ComposeRequest) error
}

// Catalog reports whether any prompt is configured for a category.
type Catalog interface {
	HasPrompts(category models.PromptCategory) bool
}

// FestivalSource names the festival falling on a date, or returns "".
type FestivalSource interface {
	FestivalOn(t time.Time) string
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the engine clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithRand sets the random source used for probability draws and selection.
func WithRand(rng *rand.Rand) Option {
	return func(e *Engine) { e.rng = rng }
}

// WithCatalog enables skipping candidates whose prompt category is empty.
func WithCatalog(c Catalog) Option {
	return func(e *Engine) { e.catalog = c }
}

// WithFestivals sets the source of festival hints.
func WithFestivals(f FestivalSource) Option {
	return func(e *Engine) { e.festivals = f }
}

// Engine is the engagement scheduler.
type Engine struct {
	settings  models.Settings
	loc       *time.Location
	composer  Composer
	catalog   Catalog
	festivals FestivalSource
	whitelist *policy.Whitelist
	tracker   *engagement.Tracker
	sent      *engagement.DailySentSets
	registry  *dispatch.Registry
	campaigns []*campaign
	now       func() time.Time

	rngMu sync.Mutex
	rng   *rand.Rand

	mu      sync.Mutex
	cancel  context.CancelFunc
	group   *errgroup.Group
	running bool
}

// New creates an Engine from validated settings.
func New(settings models.Settings, composer Composer, opts ...Option) (*Engine, error) {
	if composer == nil {
		return nil, ErrNilComposer
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid outreach settings: %w", err)
	}

	e := &Engine{
		settings: settings,
		loc:      settings.Location,
		composer: composer,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.loc == nil {
		e.loc = time.Local
	}
	if e.rng == nil {
		e.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	e.whitelist = policy.NewWhitelist(settings.Whitelist)
	e.tracker = engagement.NewTracker()
	e.sent = engagement.NewDailySentSets(e.loc)
	e.registry = dispatch.NewRegistry(
		dispatch.WithClock(e.now),
		dispatch.WithRand(rand.New(rand.NewPCG(e.rng.Uint64(), e.rng.Uint64()))),
	)
	e.campaigns = e.buildCampaigns()

	slog.Debug("Outreach engine created", "campaigns", len(e.campaigns), "location", e.loc.String(), "whitelist_enabled", settings.Whitelist.Enabled)
	return e, nil
}

// Start launches one detection loop per enabled campaign.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return ErrAlreadyRunning
	}

	// Loops recover their own faults and only exit on cancellation, so the
	// group is used to join them on Stop.
	loopCtx, cancel := context.WithCancel(ctx)
	g := new(errgroup.Group)
	for _, c := range e.campaigns {
		g.Go(func() error {
			e.runLoop(loopCtx, c)
			return nil
		})
	}
	e.cancel = cancel
	e.group = g
	e.running = true

	slog.Info("Outreach engine started", "loops", len(e.campaigns))
	return nil
}

// Stop cancels the detection loops and every outstanding dispatch task, then
// waits for them to exit or for ctx to expire. A stopped engine cannot be restarted.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	cancel, g, running := e.cancel, e.group, e.running
	e.running = false
	e.mu.Unlock()

	if running {
		cancel()
		done := make(chan error, 1)
		go func() { done <- g.Wait() }()
		select {
		case err := <-done:
			if err != nil {
				slog.Error("Outreach loop exited with error", "error", err)
			}
		case <-ctx.Done():
			return fmt.Errorf("timed out waiting for outreach loops: %w", ctx.Err())
		}
	}

	if err := e.registry.Stop(ctx); err != nil {
		return err
	}
	slog.Info("Outreach engine stopped")
	return nil
}

// OnUserMessage records an inbound message: the activity record is
// overwritten, the escalation ladder reset and the user's dispatches
// cancelled, including any send already in flight. It reports whether the
// message answers a proactive message.
//
// Activity is recorded before cancelling so that a tick running in between
// schedules against the new state, and any task issued before the message
// is either cancelled here or dropped when it fires.
func (e *Engine) OnUserMessage(msg models.InboundMessage) bool {
	if err := msg.Validate(); err != nil {
		slog.Warn("Outreach ignoring inbound message", "error", err)
		return false
	}
	now := msg.ReceivedAt
	if now.IsZero() {
		now = e.now()
	}

	replied := e.tracker.RecordActivity(msg.UserID, msg.ConversationRef, msg.OriginRef, now)
	cancelled := e.registry.CancelAllFor(msg.UserID)

	slog.Debug("Outreach inbound message recorded", "user_id", msg.UserID, "cancelled_tasks", cancelled, "replied_to_outreach", replied)
	return replied
}

// IsAwaitingReply reports whether the user's last proactive message is unanswered.
func (e *Engine) IsAwaitingReply(userID string) bool {
	return e.tracker.IsAwaitingReply(userID)
}

// ConsumeAwaitingReply clears the awaiting-reply flag, returning its previous value.
func (e *Engine) ConsumeAwaitingReply(userID string) bool {
	return e.tracker.ConsumeAwaitingReply(userID)
}

// Stage returns the user's escalation ladder stage.
func (e *Engine) Stage(userID string) models.Stage {
	return e.tracker.Stage(userID, e.settings.Idle.MaxConsecutive)
}

// PendingTasks lists the non-terminal dispatch tasks.
func (e *Engine) PendingTasks() []dispatch.TaskInfo {
	return e.registry.Tasks()
}

// ExportSnapshot captures activity, engagement state and daily sent-sets.
func (e *Engine) ExportSnapshot() models.Snapshot {
	activity, engagementStates := e.tracker.Export()
	return models.Snapshot{
		Version:    models.SnapshotVersion,
		TakenAt:    models.FormatTimestamp(e.now()),
		Activity:   activity,
		Engagement: engagementStates,
		DailySent:  e.sent.Export(),
	}
}

// ImportSnapshot replaces the engine state with snap.
func (e *Engine) ImportSnapshot(snap models.Snapshot) error {
	if err := snap.Validate(); err != nil {
		return fmt.Errorf("failed to import snapshot: %w", err)
	}
	if err := e.tracker.Import(snap.Activity, snap.Engagement); err != nil {
		return fmt.Errorf("failed to import snapshot: %w", err)
	}
	e.sent.Import(snap.DailySent)
	slog.Info("Outreach snapshot imported", "taken_at", snap.TakenAt, "users", len(snap.Activity), "engagement", len(snap.Engagement))
	return nil
}

func (e *Engine) draw(p float64) bool {
	switch {
	case p >= 1:
		return true
	case p <= 0:
		return false
	}
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return e.rng.Float64() < p
}
