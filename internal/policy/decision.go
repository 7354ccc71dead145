package policy

import (
	"math"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/BTreeMap/OutreachPipe/internal/models"
)

// Ambient sharing probabilities for the weighted policy.
const (
	// SharingFirstProbability applies to a user who never received a sharing message.
	SharingFirstProbability = 0.5
	// SharingMaxProbability is reached once the max interval has elapsed.
	SharingMaxProbability = 0.8
)

// selectionEpsilon absorbs float error in ratio*n before rounding up.
const selectionEpsilon = 1e-9

// Idle reports whether the user has been silent for at least threshold.
func Idle(now, lastActive time.Time, threshold time.Duration) bool {
	return now.Sub(lastActive) >= threshold
}

// RecencyProbability returns the send probability for a repeat proactive
// message given the time since the previous one. A nil lastProactive yields
// the curve's prior. An empty curve never gates.
func RecencyProbability(now time.Time, lastProactive *time.Time, c models.RecencyCurve) float64 {
	if lastProactive == nil {
		return c.Prior
	}
	if len(c.Points) == 0 {
		return 1
	}
	elapsed := now.Sub(*lastProactive)
	if elapsed < c.Points[0].After {
		return 0
	}
	last := c.Points[len(c.Points)-1]
	if elapsed >= last.After {
		return last.Probability
	}
	for i := 0; i < len(c.Points)-1; i++ {
		lo, hi := c.Points[i], c.Points[i+1]
		if elapsed >= hi.After {
			continue
		}
		if c.Step {
			return lo.Probability
		}
		frac := float64(elapsed-lo.After) / float64(hi.After-lo.After)
		return lo.Probability + frac*(hi.Probability-lo.Probability)
	}
	return last.Probability
}

// SelectionSize returns max(minSelected, ceil(ratio*n)) clamped to n.
func SelectionSize(n int, ratio float64, minSelected int) int {
	if n <= 0 {
		return 0
	}
	size := int(math.Ceil(ratio*float64(n) - selectionEpsilon))
	size = max(size, minSelected, 0)
	return min(size, n)
}

// SelectSubset draws SelectionSize items uniformly without replacement.
// The input slice is not modified.
func SelectSubset[T any](rng *rand.Rand, items []T, ratio float64, minSelected int) []T {
	k := SelectionSize(len(items), ratio, minSelected)
	if k == 0 {
		return nil
	}
	pool := slices.Clone(items)
	for i := 0; i < k; i++ {
		j := i + rng.IntN(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	return pool[:k]
}

// SharingDue is the deterministic ambient sharing policy: due once
// minInterval has elapsed since the last sharing message, or if there was none.
func SharingDue(now time.Time, lastShared *time.Time, minInterval time.Duration) bool {
	if lastShared == nil {
		return true
	}
	return now.Sub(*lastShared) >= minInterval
}

// SharingProbability is the weighted ambient sharing policy. It rises
// linearly from 0 at the window's MinInterval to SharingMaxProbability at
// MaxInterval.
func SharingProbability(now time.Time, lastShared *time.Time, w models.CampaignWindow) float64 {
	if lastShared == nil {
		return SharingFirstProbability
	}
	elapsed := now.Sub(*lastShared)
	if elapsed < w.MinInterval {
		return 0
	}
	if w.MaxInterval <= w.MinInterval || elapsed >= w.MaxInterval {
		return SharingMaxProbability
	}
	frac := float64(elapsed-w.MinInterval) / float64(w.MaxInterval-w.MinInterval)
	return frac * SharingMaxProbability
}

// TierFor maps the number of the upcoming idle-timeout send to its prompt tier.
// Reaching the ceiling always selects the farewell tier.
func TierFor(count, maxConsecutive int) models.PromptCategory {
	switch {
	case count >= maxConsecutive:
		return models.CategoryFarewell
	case count <= 1:
		return models.CategoryFirstContact
	case count == 2:
		return models.CategoryMildConcern
	default:
		return models.CategoryLaterStage
	}
}

// StageOf maps a consecutive proactive count to its ladder stage.
func StageOf(count, maxConsecutive int) models.Stage {
	switch {
	case count <= 0:
		return models.StageActive
	case count >= maxConsecutive:
		return models.StageDormant
	default:
		return models.StageEscalating
	}
}
