package outreach

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/BTreeMap/OutreachPipe/internal/dispatch"
	"github.com/BTreeMap/OutreachPipe/internal/engagement"
	"github.com/BTreeMap/OutreachPipe/internal/models"
	"github.com/BTreeMap/OutreachPipe/internal/policy"
)

// runLoop ticks c until ctx is cancelled. A failing tick is logged and the
// loop keeps going.
func (e *Engine) runLoop(ctx context.Context, c *campaign) {
	slog.Info("Outreach loop started", "family", c.family, "poll_interval", c.settings.PollInterval)
	ticker := time.NewTicker(c.settings.PollInterval)
	defer ticker.Stop()

	faults := 0
	for {
		select {
		case <-ctx.Done():
			slog.Info("Outreach loop stopped", "family", c.family)
			return
		case <-ticker.C:
		}
		if err := e.safeTick(ctx, c); err != nil {
			faults++
			slog.Error("Outreach tick failed", "family", c.family, "error", err, "consecutive_faults", faults)
			continue
		}
		faults = 0
	}
}

func (e *Engine) safeTick(ctx context.Context, c *campaign) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tick panicked: %v", r)
			slog.Error("Outreach tick panic", "family", c.family, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	e.tick(ctx, c, e.now())
	return nil
}

// tick runs one detection pass of c and returns the number of tasks scheduled.
func (e *Engine) tick(ctx context.Context, c *campaign, now time.Time) int {
	if ctx.Err() != nil {
		return 0
	}
	local := now.In(e.loc)
	if c.family.DayBound() && e.sent.Refresh(c.family, now) {
		slog.Debug("Outreach daily sent-set reset", "family", c.family, "day", e.sent.DayOf(now))
	}
	if !c.gate(local) {
		return 0
	}

	var pool []engagement.Candidate
	for _, cand := range e.tracker.Candidates() {
		if !e.admissible(c, cand, now) {
			continue
		}
		if !e.draw(c.chance(cand, now)) {
			continue
		}
		pool = append(pool, cand)
	}
	if len(pool) == 0 {
		return 0
	}

	selected := pool
	if !c.selectAll {
		e.rngMu.Lock()
		selected = policy.SelectSubset(e.rng, pool, c.settings.Window.SelectionRatio, c.settings.Window.MinSelected)
		e.rngMu.Unlock()
	}

	scheduled := 0
	for _, cand := range selected {
		if e.schedule(c, cand, now) {
			scheduled++
		}
	}
	if scheduled > 0 {
		slog.Info("Outreach tick scheduled tasks", "family", c.family, "candidates", len(pool), "scheduled", scheduled)
	}
	return scheduled
}

// admissible applies every deterministic filter to a candidate.
func (e *Engine) admissible(c *campaign, cand engagement.Candidate, now time.Time) bool {
	userID := cand.Activity.UserID
	if !e.whitelist.IsEligibleUser(userID) {
		return false
	}
	if e.registry.Pending(dispatch.Key{Family: c.family, UserID: userID}) {
		return false
	}
	if c.settings.ExcludeDormant && policy.StageOf(cand.State.ConsecutiveCount, e.settings.Idle.MaxConsecutive) == models.StageDormant {
		return false
	}
	return c.eligible(cand, now)
}

func (e *Engine) schedule(c *campaign, cand engagement.Candidate, now time.Time) bool {
	userID := cand.Activity.UserID
	category, _, _ := c.tier(cand, now.In(e.loc))
	if e.catalog != nil && !e.catalog.HasPrompts(category) {
		slog.Warn("Outreach skipping candidate, no prompts configured", "family", c.family, "category", category, "user_id", userID)
		return false
	}

	issuedDay := e.sent.DayOf(now)
	key := dispatch.Key{Family: c.family, UserID: userID}
	_, ok := e.registry.Schedule(key, c.settings.Delay, func(ctx context.Context, task *dispatch.Task) {
		e.fire(ctx, c, task, issuedDay)
	})
	return ok
}

// fire re-validates the user against fresh state, claims the task and sends.
func (e *Engine) fire(ctx context.Context, c *campaign, task *dispatch.Task, issuedDay string) {
	userID := task.Key.UserID
	now := e.now()
	local := now.In(e.loc)

	cand, ok := e.tracker.View(userID)
	if !ok {
		slog.Debug("Outreach task dropped, user unknown", "task_id", task.ID)
		return
	}
	if !e.whitelist.IsEligibleUser(userID) {
		return
	}
	if c.settings.ExcludeDormant && policy.StageOf(cand.State.ConsecutiveCount, e.settings.Idle.MaxConsecutive) == models.StageDormant {
		return
	}
	if cand.Activity.LastActiveAt.After(task.IssuedAt) {
		slog.Debug("Outreach task dropped, user wrote after it was issued", "task_id", task.ID, "family", c.family)
		return
	}
	if !c.eligible(cand, now) {
		slog.Debug("Outreach task dropped, no longer eligible", "task_id", task.ID, "family", c.family)
		return
	}

	category, extra, attempt := c.tier(cand, local)
	if e.catalog != nil && !e.catalog.HasPrompts(category) {
		slog.Warn("Outreach task dropped, no prompts configured", "task_id", task.ID, "category", category)
		return
	}
	req := models.ComposeRequest{
		UserID:          userID,
		ConversationRef: cand.Activity.ConversationRef,
		OriginRef:       cand.Activity.OriginRef,
		Family:          c.family,
		Category:        category,
		TimePeriod:      policy.PeriodOf(local.Hour()),
		ExtraContext:    extra,
		Attempt:         attempt,
	}
	if e.festivals != nil {
		req.Festival = e.festivals.FestivalOn(local)
	}

	if !task.Claim() {
		return
	}
	if err := e.composer.Compose(ctx, req); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			slog.Info("Outreach send cancelled", "task_id", task.ID, "family", c.family, "user_id", userID)
			return
		}
		slog.Error("Outreach compose failed", "task_id", task.ID, "family", c.family, "user_id", userID, "error", err)
		return
	}

	st := e.tracker.RecordSend(userID, c.family, now, cand.Activity.LastActiveAt, e.settings.Idle.MaxConsecutive)
	if c.family.DayBound() && !e.sent.Mark(c.family, userID, issuedDay) {
		slog.Debug("Outreach daily mark dropped for previous day", "family", c.family, "user_id", userID, "day", issuedDay)
	}
	slog.Info("Outreach message sent", "task_id", task.ID, "family", c.family, "user_id", userID, "category", category, "consecutive_count", st.ConsecutiveCount)
}
