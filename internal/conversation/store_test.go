package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestRecentUnknownConversation(t *testing.T) {
	s := NewMemoryStore(5)
	if _, err := s.Recent(context.Background(), "nope", 3); !errors.Is(err, ErrConversationNotFound) {
		t.Errorf("expected ErrConversationNotFound, got %v", err)
	}
}

func TestAppendRejectsEmptyRef(t *testing.T) {
	s := NewMemoryStore(5)
	if err := s.Append(context.Background(), "", Message{Role: RoleUser}); !errors.Is(err, ErrEmptyConversationRef) {
		t.Errorf("expected ErrEmptyConversationRef, got %v", err)
	}
}

func TestHistoryIsBounded(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(3)
	for i := 0; i < 5; i++ {
		if err := s.Append(ctx, "c1", Message{Role: RoleUser, Content: fmt.Sprint(i)}); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	tests := []struct {
		name string
		n    int
		want []string
	}{
		{"all", 0, []string{"2", "3", "4"}},
		{"last two", 2, []string{"3", "4"}},
		{"more than kept", 10, []string{"2", "3", "4"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Recent(ctx, "c1", tt.n)
			if err != nil {
				t.Fatalf("recent failed: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d messages, got %d", len(tt.want), len(got))
			}
			for i, m := range got {
				if m.Content != tt.want[i] {
					t.Errorf("message %d: expected %s, got %s", i, tt.want[i], m.Content)
				}
				if m.Timestamp.IsZero() {
					t.Errorf("message %d: timestamp not stamped", i)
				}
			}
		})
	}
}

func TestRecentReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)
	s.Append(ctx, "c1", Message{Role: RoleUser, Content: "hi"})
	got, _ := s.Recent(ctx, "c1", 0)
	got[0].Content = "mutated"
	again, _ := s.Recent(ctx, "c1", 0)
	if again[0].Content != "hi" {
		t.Error("caller mutation leaked into the store")
	}
}

func TestConcurrentAppend(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(DefaultHistoryLimit)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Append(ctx, fmt.Sprintf("c%d", i%4), Message{Role: RoleAssistant, Content: "x"})
		}(i)
	}
	wg.Wait()
	if s.Len() != 4 {
		t.Errorf("expected 4 conversations, got %d", s.Len())
	}
}
