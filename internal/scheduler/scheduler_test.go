package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestSchedulerAddJob(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		wantErr bool
	}{
		{"five field", "* * * * *", false},
		{"every descriptor", "@every 5m", false},
		{"hourly descriptor", "@hourly", false},
		{"seconds field rejected", "*/5 * * * * *", true},
		{"garbage", "not a schedule", true},
	}

	s := NewScheduler()
	defer s.Stop(context.Background())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.AddJob(tt.expr, func() {})
			if (err != nil) != tt.wantErr {
				t.Errorf("AddJob(%q) error = %v, wantErr %v", tt.expr, err, tt.wantErr)
			}
		})
	}
	if s.Jobs() != 3 {
		t.Errorf("expected 3 registered jobs, got %d", s.Jobs())
	}
}

func TestSchedulerRunsAndStops(t *testing.T) {
	s := NewScheduler()
	var runs atomic.Int32
	if err := s.AddJob("@every 1s", func() { runs.Add(1) }); err != nil {
		t.Fatalf("AddJob failed: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if runs.Load() == 0 {
		t.Fatal("job never ran")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}

func TestSchedulerStopHonoursContext(t *testing.T) {
	s := NewScheduler()
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	defer close(release)
	if err := s.AddJob("@every 1s", func() {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
	}); err != nil {
		t.Fatalf("AddJob failed: %v", err)
	}

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("job never started")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Stop(ctx); err != context.DeadlineExceeded {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}
