package composer

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/OutreachPipe/internal/conversation"
	"github.com/BTreeMap/OutreachPipe/internal/models"
	"github.com/openai/openai-go"
)

type chatLine struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type fakeGenerator struct {
	mu    sync.Mutex
	reply string
	err   error
	calls [][]chatLine
}

func (g *fakeGenerator) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	lines := make([]chatLine, 0, len(messages))
	for _, m := range messages {
		data, err := json.Marshal(m)
		if err != nil {
			return "", err
		}
		var line chatLine
		if err := json.Unmarshal(data, &line); err != nil {
			return "", err
		}
		lines = append(lines, line)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, lines)
	return g.reply, g.err
}

func (g *fakeGenerator) last() []chatLine {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.calls) == 0 {
		return nil
	}
	return g.calls[len(g.calls)-1]
}

type sent struct{ to, body string }

type fakeSender struct {
	mu   sync.Mutex
	err  error
	sent []sent
}

func (s *fakeSender) SendMessage(ctx context.Context, to, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, sent{to, body})
	return nil
}

type brokenHistory struct{}

func (*brokenHistory) Append(ctx context.Context, ref string, msg conversation.Message) error {
	return nil
}

func (*brokenHistory) Recent(ctx context.Context, ref string, n int) ([]conversation.Message, error) {
	return nil, errors.New("history offline")
}

func request(category models.PromptCategory) models.ComposeRequest {
	return models.ComposeRequest{
		UserID:          "15551234567",
		ConversationRef: "whatsapp:15551234567",
		OriginRef:       "15551234567",
		Family:          models.FamilyMorning,
		Category:        category,
		TimePeriod:      models.PeriodEarlyMorning,
	}
}

func newTestComposer(gen Generator, sender Sender, history History, overrides map[models.PromptCategory][]string) *Composer {
	return New(NewCatalog(overrides), gen, sender, history, WithRand(rand.New(rand.NewPCG(1, 2))))
}

func TestComposeSendsAndRecordsMessage(t *testing.T) {
	gen := &fakeGenerator{reply: "  Good morning!  "}
	sender := &fakeSender{}
	history := conversation.NewMemoryStore(0)
	c := newTestComposer(gen, sender, history, map[models.PromptCategory][]string{
		models.CategoryMorning: {"Say good morning."},
	})

	req := request(models.CategoryMorning)
	req.Festival = "Midsummer"
	if err := c.Compose(context.Background(), req); err != nil {
		t.Fatalf("Compose failed: %v", err)
	}

	if len(sender.sent) != 1 || sender.sent[0] != (sent{"15551234567", "Good morning!"}) {
		t.Fatalf("unexpected deliveries: %+v", sender.sent)
	}

	lines := gen.last()
	if len(lines) != 2 || lines[0].Role != "system" || lines[1].Role != "user" {
		t.Fatalf("unexpected message layout: %+v", lines)
	}
	if lines[0].Content != DefaultPersona {
		t.Errorf("expected default persona, got %q", lines[0].Content)
	}
	for _, want := range []string{"Say good morning.", "early morning", "Today is Midsummer"} {
		if !strings.Contains(lines[1].Content, want) {
			t.Errorf("instruction %q missing %q", lines[1].Content, want)
		}
	}

	recorded, err := history.Recent(context.Background(), req.ConversationRef, 0)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(recorded) != 1 || recorded[0].Role != conversation.RoleAssistant || !recorded[0].Proactive || recorded[0].Content != "Good morning!" {
		t.Errorf("unexpected history: %+v", recorded)
	}
}

func TestComposeIncludesHistoryAndReplyAugmentation(t *testing.T) {
	ctx := context.Background()
	gen := &fakeGenerator{reply: "Glad you are back"}
	history := conversation.NewMemoryStore(0)
	req := request(models.CategoryFirstContact)
	req.ExtraContext = "This is contact attempt 1 of 3."
	now := time.Now()
	_ = history.Append(ctx, req.ConversationRef, conversation.Message{Role: conversation.RoleAssistant, Content: "Miss you", Timestamp: now, Proactive: true})
	_ = history.Append(ctx, req.ConversationRef, conversation.Message{Role: conversation.RoleUser, Content: "Hey, sorry!", Timestamp: now, RepliedToOutreach: true})

	c := newTestComposer(gen, &fakeSender{}, history, nil)
	if err := c.Compose(ctx, req); err != nil {
		t.Fatalf("Compose failed: %v", err)
	}

	lines := gen.last()
	if len(lines) != 4 {
		t.Fatalf("expected system, 2 history and instruction messages, got %+v", lines)
	}
	if !strings.Contains(lines[0].Content, ReplyAugmentation) {
		t.Errorf("expected reply augmentation in system prompt, got %q", lines[0].Content)
	}
	if lines[1].Role != "assistant" || lines[2].Role != "user" {
		t.Errorf("history roles out of order: %+v", lines[1:3])
	}
	if !strings.HasSuffix(lines[3].Content, "This is contact attempt 1 of 3.") {
		t.Errorf("expected extra context at end of instruction, got %q", lines[3].Content)
	}

	// The proactive message now ends the history, so the note is not repeated.
	if err := c.Compose(ctx, req); err != nil {
		t.Fatalf("second Compose failed: %v", err)
	}
	if strings.Contains(gen.last()[0].Content, ReplyAugmentation) {
		t.Error("reply augmentation applied twice")
	}
}

func TestComposeFailures(t *testing.T) {
	tests := []struct {
		name    string
		gen     *fakeGenerator
		sender  *fakeSender
		history History
		prompts map[models.PromptCategory][]string
		wantErr error
	}{
		{
			name:    "empty category",
			gen:     &fakeGenerator{reply: "hi"},
			sender:  &fakeSender{},
			history: conversation.NewMemoryStore(0),
			prompts: map[models.PromptCategory][]string{models.CategoryMorning: {}},
			wantErr: ErrNoPrompts,
		},
		{
			name:    "empty generation",
			gen:     &fakeGenerator{reply: "   "},
			sender:  &fakeSender{},
			history: conversation.NewMemoryStore(0),
			wantErr: ErrEmptyGeneration,
		},
		{
			name:    "generator error",
			gen:     &fakeGenerator{err: context.DeadlineExceeded},
			sender:  &fakeSender{},
			history: conversation.NewMemoryStore(0),
			wantErr: context.DeadlineExceeded,
		},
		{
			name:    "send error",
			gen:     &fakeGenerator{reply: "hi"},
			sender:  &fakeSender{err: errors.New("offline")},
			history: conversation.NewMemoryStore(0),
		},
		{
			name:    "history error",
			gen:     &fakeGenerator{reply: "hi"},
			sender:  &fakeSender{},
			history: &brokenHistory{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestComposer(tt.gen, tt.sender, tt.history, tt.prompts)
			err := c.Compose(context.Background(), request(models.CategoryMorning))
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
			if len(tt.sender.sent) != 0 {
				t.Errorf("expected nothing delivered, got %+v", tt.sender.sent)
			}
		})
	}
}

func TestCatalogOverrides(t *testing.T) {
	c := NewCatalog(map[models.PromptCategory][]string{
		models.CategoryLunch: {},
		"custom":             {"a", "b"},
	})
	if c.HasPrompts(models.CategoryLunch) {
		t.Error("empty override should disable lunch")
	}
	if !c.HasPrompts(models.CategoryDinner) {
		t.Error("defaults should survive for untouched categories")
	}
	for _, d := range []models.Daypart{models.DaypartMorning, models.DaypartAfternoon, models.DaypartEvening, models.DaypartLateNight} {
		if !c.HasPrompts(models.SharingCategory(d)) {
			t.Errorf("missing default sharing prompts for %s", d)
		}
	}
	got := c.Prompts("custom")
	got[0] = "mutated"
	if c.Prompts("custom")[0] != "a" {
		t.Error("Prompts must return a copy")
	}
}

func TestFestivalCalendar(t *testing.T) {
	cal := FestivalCalendar{"12-25": "Christmas", "01-01": "New Year's Day"}
	tests := []struct {
		date time.Time
		want string
	}{
		{time.Date(2025, 12, 25, 9, 0, 0, 0, time.UTC), "Christmas"},
		{time.Date(2026, 1, 1, 23, 0, 0, 0, time.UTC), "New Year's Day"},
		{time.Date(2025, 7, 4, 9, 0, 0, 0, time.UTC), ""},
	}
	for _, tt := range tests {
		if got := cal.FestivalOn(tt.date); got != tt.want {
			t.Errorf("FestivalOn(%s) = %q, want %q", tt.date.Format(time.DateOnly), got, tt.want)
		}
	}

	if err := cal.Validate(); err != nil {
		t.Errorf("valid calendar rejected: %v", err)
	}
	if err := (FestivalCalendar{"13-01": "bogus"}).Validate(); err == nil {
		t.Error("expected invalid month to be rejected")
	}
	if err := (FestivalCalendar{"02-29": "leap"}).Validate(); err != nil {
		t.Errorf("leap day rejected: %v", err)
	}
}
