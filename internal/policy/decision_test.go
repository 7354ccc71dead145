package policy

import (
	"math"
	"math/rand/v2"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/OutreachPipe/internal/models"
)

func TestIdleAtExactThreshold(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	threshold := 7200 * time.Second
	if !Idle(now, now.Add(-threshold), threshold) {
		t.Error("expected user to be idle exactly at the threshold")
	}
	if Idle(now, now.Add(-threshold+time.Second), threshold) {
		t.Error("expected user not to be idle one second before the threshold")
	}
}

func defaultCurve() models.RecencyCurve {
	return models.RecencyCurve{
		Prior: 0.5,
		Points: []models.RecencyPoint{
			{After: 6 * time.Hour, Probability: 0.2},
			{After: 12 * time.Hour, Probability: 0.5},
			{After: 24 * time.Hour, Probability: 0.9},
		},
	}
}

func TestRecencyProbability(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ago := func(d time.Duration) *time.Time {
		t := now.Add(-d)
		return &t
	}
	curve := defaultCurve()
	step := defaultCurve()
	step.Step = true

	tests := []struct {
		name  string
		last  *time.Time
		curve models.RecencyCurve
		want  float64
	}{
		{"first ever uses prior", nil, curve, 0.5},
		{"below floor", ago(5 * time.Hour), curve, 0},
		{"at floor", ago(6 * time.Hour), curve, 0.2},
		{"midway linear", ago(9 * time.Hour), curve, 0.35},
		{"midway step", ago(9 * time.Hour), step, 0.2},
		{"ceiling", ago(24 * time.Hour), curve, 0.9},
		{"beyond ceiling", ago(72 * time.Hour), curve, 0.9},
		{"no breakpoints", ago(time.Minute), models.RecencyCurve{}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RecencyProbability(now, tt.last, tt.curve)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("RecencyProbability() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRecencyProbabilityMonotonic(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	curve := defaultCurve()
	prev := -1.0
	for h := 0; h <= 48; h++ {
		last := now.Add(-time.Duration(h) * time.Hour)
		p := RecencyProbability(now, &last, curve)
		if p < prev {
			t.Fatalf("probability decreased at %dh: %v < %v", h, p, prev)
		}
		prev = p
	}
}

func TestSelectionSize(t *testing.T) {
	tests := []struct {
		n     int
		ratio float64
		min   int
		want  int
	}{
		{10, 0.4, 1, 4},
		{10, 0.3, 1, 3},
		{3, 0.4, 1, 2},
		{1, 0.4, 1, 1},
		{2, 0.1, 1, 1},
		{5, 0.0, 0, 0},
		{5, 0.1, 10, 5},
		{0, 0.4, 1, 0},
		{7, 1.0, 1, 7},
	}
	for _, tt := range tests {
		if got := SelectionSize(tt.n, tt.ratio, tt.min); got != tt.want {
			t.Errorf("SelectionSize(%d, %v, %d) = %d, want %d", tt.n, tt.ratio, tt.min, got, tt.want)
		}
	}
}

func TestSelectSubsetRatioOfTen(t *testing.T) {
	users := []string{"u0", "u1", "u2", "u3", "u4", "u5", "u6", "u7", "u8", "u9"}
	rng := rand.New(rand.NewPCG(42, 7))

	seen := make(map[string]bool)
	for run := 0; run < 20; run++ {
		picked := SelectSubset(rng, users, 0.4, 1)
		if len(picked) != 4 {
			t.Fatalf("run %d: expected 4 users, got %d", run, len(picked))
		}
		unique := make(map[string]bool)
		for _, u := range picked {
			if unique[u] {
				t.Fatalf("run %d: user %s selected twice", run, u)
			}
			if !slices.Contains(users, u) {
				t.Fatalf("run %d: unknown user %s", run, u)
			}
			unique[u] = true
		}
		seen[strings.Join(picked, ",")] = true
	}
	if len(seen) < 2 {
		t.Error("expected selections to vary across runs")
	}
	if users[0] != "u0" || users[9] != "u9" {
		t.Error("input slice was modified")
	}
}

func TestSelectSubsetDeterministicForSeed(t *testing.T) {
	users := []int{1, 2, 3, 4, 5, 6, 7, 8}
	a := SelectSubset(rand.New(rand.NewPCG(1, 2)), users, 0.5, 1)
	b := SelectSubset(rand.New(rand.NewPCG(1, 2)), users, 0.5, 1)
	if !slices.Equal(a, b) {
		t.Errorf("expected identical selections for the same seed, got %v and %v", a, b)
	}
}

func TestSharingPolicies(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	w := models.CampaignWindow{MinInterval: 180 * time.Minute, MaxInterval: 360 * time.Minute}
	ago := func(d time.Duration) *time.Time {
		t := now.Add(-d)
		return &t
	}

	if !SharingDue(now, nil, w.MinInterval) {
		t.Error("expected first sharing to be due")
	}
	if SharingDue(now, ago(179*time.Minute), w.MinInterval) {
		t.Error("expected sharing not due before the minimum interval")
	}
	if !SharingDue(now, ago(180*time.Minute), w.MinInterval) {
		t.Error("expected sharing due at the minimum interval")
	}

	if got := SharingProbability(now, nil, w); got != SharingFirstProbability {
		t.Errorf("first sharing probability = %v, want %v", got, SharingFirstProbability)
	}
	if got := SharingProbability(now, ago(time.Hour), w); got != 0 {
		t.Errorf("probability before min interval = %v, want 0", got)
	}
	if got := SharingProbability(now, ago(270*time.Minute), w); math.Abs(got-0.4) > 1e-9 {
		t.Errorf("probability halfway = %v, want 0.4", got)
	}
	if got := SharingProbability(now, ago(10*time.Hour), w); got != SharingMaxProbability {
		t.Errorf("probability past max interval = %v, want %v", got, SharingMaxProbability)
	}
}

func TestTierFor(t *testing.T) {
	tests := []struct {
		count, max int
		want       models.PromptCategory
	}{
		{1, 3, models.CategoryFirstContact},
		{2, 3, models.CategoryMildConcern},
		{3, 3, models.CategoryFarewell},
		{3, 5, models.CategoryLaterStage},
		{4, 5, models.CategoryLaterStage},
		{5, 5, models.CategoryFarewell},
		{1, 1, models.CategoryFarewell},
		{1, 2, models.CategoryFirstContact},
		{2, 2, models.CategoryFarewell},
	}
	for _, tt := range tests {
		if got := TierFor(tt.count, tt.max); got != tt.want {
			t.Errorf("TierFor(%d, %d) = %s, want %s", tt.count, tt.max, got, tt.want)
		}
	}
}

func TestStageOf(t *testing.T) {
	if StageOf(0, 3) != models.StageActive {
		t.Error("count 0 should be active")
	}
	if StageOf(2, 3) != models.StageEscalating {
		t.Error("count below max should be escalating")
	}
	if StageOf(3, 3) != models.StageDormant {
		t.Error("count at max should be dormant")
	}
}
