// Package composer turns a compose request into a delivered proactive message.
//
// A Composer picks a prompt from the catalogue, frames it with the persona,
// the time-of-day and festival hints and the recent conversation, asks the
// generator for text and sends the result through the messaging transport.
package composer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/OutreachPipe/internal/conversation"
	"github.com/BTreeMap/OutreachPipe/internal/models"
	"github.com/openai/openai-go"
)

// Error variables for composition failures
var (
	ErrNoPrompts       = errors.New("no prompts configured for category")
	ErrEmptyGeneration = errors.New("generator returned empty text")
)

// DefaultPersona is the system prompt used when none is configured.
const DefaultPersona = "You are a friendly companion chatting with the user over WhatsApp. " +
	"Write like a person texting a friend: short, warm, casual, no lists, no emojis overload, one message only."

// ReplyAugmentation is added to the system prompt when the user's latest
// message answered a proactive message.
const ReplyAugmentation = "The user just replied to a message you reached out with. " +
	"Acknowledge that they came back and keep the conversation going naturally."

// DefaultHistoryLimit is how many past messages are sent to the generator.
const DefaultHistoryLimit = 20

// Generator produces text for a chat history.
type Generator interface {
	GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error)
}

// Sender delivers text to a recipient.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// History reads and records conversation messages.
type History interface {
	Append(ctx context.Context, ref string, msg conversation.Message) error
	Recent(ctx context.Context, ref string, n int) ([]conversation.Message, error)
}

// Opts holds optional composer settings.
type Opts struct {
	Persona      string
	HistoryLimit int
	Rand         *rand.Rand
}

// Option configures a Composer.
type Option func(*Opts)

// WithPersona replaces the default persona system prompt.
func WithPersona(persona string) Option {
	return func(o *Opts) { o.Persona = persona }
}

// WithHistoryLimit sets how many past messages are included.
func WithHistoryLimit(n int) Option {
	return func(o *Opts) { o.HistoryLimit = n }
}

// WithRand sets the random source used to pick prompts.
func WithRand(r *rand.Rand) Option {
	return func(o *Opts) { o.Rand = r }
}

// Composer generates and sends proactive messages.
type Composer struct {
	catalog      *Catalog
	gen          Generator
	sender       Sender
	history      History
	persona      string
	historyLimit int

	rngMu sync.Mutex
	rng   *rand.Rand
}

// New creates a Composer.
func New(catalog *Catalog, gen Generator, sender Sender, history History, opts ...Option) *Composer {
	cfg := Opts{Persona: DefaultPersona, HistoryLimit: DefaultHistoryLimit}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	}
	if strings.TrimSpace(cfg.Persona) == "" {
		cfg.Persona = DefaultPersona
	}
	return &Composer{
		catalog:      catalog,
		gen:          gen,
		sender:       sender,
		history:      history,
		persona:      cfg.Persona,
		historyLimit: cfg.HistoryLimit,
		rng:          cfg.Rand,
	}
}

// HasPrompts reports whether the catalogue can serve category.
func (c *Composer) HasPrompts(category models.PromptCategory) bool {
	return c.catalog.HasPrompts(category)
}

// Compose generates a message for req and sends it to req.OriginRef.
// The message is recorded in the conversation history after delivery.
func (c *Composer) Compose(ctx context.Context, req models.ComposeRequest) error {
	prompts := c.catalog.Prompts(req.Category)
	if len(prompts) == 0 {
		return fmt.Errorf("%w: %s", ErrNoPrompts, req.Category)
	}
	c.rngMu.Lock()
	prompt := prompts[c.rng.IntN(len(prompts))]
	c.rngMu.Unlock()

	past, err := c.history.Recent(ctx, req.ConversationRef, c.historyLimit)
	if err != nil && !errors.Is(err, conversation.ErrConversationNotFound) {
		return fmt.Errorf("failed to load conversation history: %w", err)
	}

	text, err := c.gen.GenerateWithMessages(ctx, c.buildMessages(req, prompt, past))
	if err != nil {
		return fmt.Errorf("failed to generate message: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyGeneration
	}

	if err := c.sender.SendMessage(ctx, req.OriginRef, text); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	slog.Debug("Proactive message delivered", "user_id", req.UserID, "family", req.Family, "category", req.Category)

	if err := c.history.Append(ctx, req.ConversationRef, conversation.Message{
		Role:      conversation.RoleAssistant,
		Content:   text,
		Timestamp: time.Now(),
		Proactive: true,
	}); err != nil {
		slog.Warn("Failed to record proactive message", "user_id", req.UserID, "error", err)
	}
	return nil
}

func (c *Composer) buildMessages(req models.ComposeRequest, prompt string, past []conversation.Message) []openai.ChatCompletionMessageParamUnion {
	system := c.persona
	if n := len(past); n > 0 && past[n-1].Role == conversation.RoleUser && past[n-1].RepliedToOutreach {
		system += "\n\n" + ReplyAugmentation
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(past)+2)
	messages = append(messages, openai.SystemMessage(system))
	for _, m := range past {
		if m.Role == conversation.RoleAssistant {
			messages = append(messages, openai.AssistantMessage(m.Content))
		} else {
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}
	messages = append(messages, openai.UserMessage(instruction(req, prompt)))
	return messages
}

func instruction(req models.ComposeRequest, prompt string) string {
	var b strings.Builder
	b.WriteString(prompt)
	if req.TimePeriod != "" {
		fmt.Fprintf(&b, " It is currently %s; stay consistent with your persona.", strings.ReplaceAll(string(req.TimePeriod), "_", " "))
	}
	if req.Festival != "" {
		fmt.Fprintf(&b, " Today is %s; weave it in naturally.", req.Festival)
	}
	if req.ExtraContext != "" {
		b.WriteString(" ")
		b.WriteString(req.ExtraContext)
	}
	return b.String()
}
