// Package config loads OutreachPipe's runtime configuration.
//
// Process settings such as credentials, paths and the transport come from the
// environment (optionally seeded from a .env file). Campaign tuning, prompt
// overrides, festivals and the persona come from a YAML file decoded on top
// of built-in defaults.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/BTreeMap/OutreachPipe/internal/models"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for OutreachPipe state data
	DefaultStateDir = "/var/lib/outreachpipe"
	// DefaultDBFileName is the default SQLite snapshot database filename
	DefaultDBFileName = "outreachpipe.db"
	// DefaultCampaignFile is the campaign YAML looked up in the state directory
	DefaultCampaignFile = "campaigns.yaml"
)

// Transports selectable through OUTREACHPIPE_TRANSPORT.
const (
	TransportWhatsApp = "whatsapp"
	TransportTwilio   = "twilio"
)

// Env holds configuration read from environment variables.
type Env struct {
	StateDir         string  `env:"OUTREACHPIPE_STATE_DIR" envDefault:"/var/lib/outreachpipe"`
	DatabaseURL      string  `env:"DATABASE_URL"`
	WhatsAppDSN      string  `env:"WHATSAPP_DB_DSN"`
	Transport        string  `env:"OUTREACHPIPE_TRANSPORT" envDefault:"whatsapp"`
	CampaignFile     string  `env:"OUTREACHPIPE_CAMPAIGNS"`
	OpenAIKey        string  `env:"OPENAI_API_KEY"`
	OpenAIModel      string  `env:"OPENAI_MODEL"`
	GenAIRateLimit   float64 `env:"GENAI_RATE_LIMIT" envDefault:"1"`
	GenAIDebug       bool    `env:"GENAI_DEBUG"`
	TwilioAccountSID string  `env:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken  string  `env:"TWILIO_AUTH_TOKEN"`
	TwilioFrom       string  `env:"TWILIO_WHATSAPP_FROM"`
	WebhookAddr      string  `env:"WEBHOOK_ADDR" envDefault:":8080"`
	WebhookPublicURL string  `env:"WEBHOOK_PUBLIC_URL"`
	LogLevel         string  `env:"LOG_LEVEL" envDefault:"info"`
	LogFile          string  `env:"LOG_FILE"`
}

// LoadEnv loads an optional .env file and parses the environment.
func LoadEnv() (Env, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	var cfg Env
	if err := env.Parse(&cfg); err != nil {
		return Env{}, fmt.Errorf("failed to parse environment: %w", err)
	}
	if cfg.WhatsAppDSN == "" {
		cfg.WhatsAppDSN = cfg.DatabaseURL
	}
	slog.Debug("environment variables loaded",
		"state_dir", cfg.StateDir,
		"database_url_set", cfg.DatabaseURL != "",
		"transport", cfg.Transport,
		"openai_api_key_set", cfg.OpenAIKey != "",
		"campaign_file", cfg.CampaignFile)
	return cfg, nil
}

// SnapshotDSN returns the snapshot database DSN, defaulting to SQLite in the state directory.
func (e Env) SnapshotDSN() string {
	if e.DatabaseURL != "" {
		return e.DatabaseURL
	}
	return filepath.Join(e.StateDir, DefaultDBFileName)
}

// CampaignPath returns the campaign YAML path.
func (e Env) CampaignPath() string {
	if e.CampaignFile != "" {
		return e.CampaignFile
	}
	return filepath.Join(e.StateDir, DefaultCampaignFile)
}

// Validate checks transport selection and credentials.
func (e Env) Validate() error {
	switch e.Transport {
	case TransportWhatsApp:
	case TransportTwilio:
		if e.TwilioAccountSID == "" || e.TwilioAuthToken == "" || e.TwilioFrom == "" {
			return errors.New("twilio transport requires TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_WHATSAPP_FROM")
		}
	default:
		return fmt.Errorf("unknown transport %q", e.Transport)
	}
	if e.GenAIRateLimit < 0 {
		return fmt.Errorf("genai rate limit cannot be negative: %v", e.GenAIRateLimit)
	}
	return nil
}

// Campaigns is the YAML campaign configuration.
type Campaigns struct {
	Timezone     string                                            `yaml:"timezone"`
	SaveSchedule string                                            `yaml:"save_schedule"`
	Persona      string                                            `yaml:"persona"`
	Whitelist    models.WhitelistSettings                          `yaml:"whitelist"`
	Idle         models.IdleSettings                               `yaml:"idle"`
	SharingMode  models.SharingMode                                `yaml:"sharing_mode"`
	Campaigns    map[models.CampaignFamily]models.CampaignSettings `yaml:"campaigns"`
	Prompts      map[models.PromptCategory][]string                `yaml:"prompts"`
	Festivals    map[string]string                                 `yaml:"festivals"`
}

// rawCampaigns decodes campaign entries lazily so each one can be merged
// onto its defaults.
type rawCampaigns struct {
	Timezone     *string                             `yaml:"timezone"`
	SaveSchedule *string                             `yaml:"save_schedule"`
	Persona      *string                             `yaml:"persona"`
	Whitelist    *models.WhitelistSettings           `yaml:"whitelist"`
	Idle         *yaml.Node                          `yaml:"idle"`
	SharingMode  *models.SharingMode                 `yaml:"sharing_mode"`
	Campaigns    map[models.CampaignFamily]yaml.Node `yaml:"campaigns"`
	Prompts      map[models.PromptCategory][]string  `yaml:"prompts"`
	Festivals    map[string]string                   `yaml:"festivals"`
}

// DefaultCampaigns returns the built-in campaign configuration.
func DefaultCampaigns() Campaigns {
	return Campaigns{
		Timezone:     "Local",
		SaveSchedule: "@every 5m",
		Idle: models.IdleSettings{
			TimeLimitEnabled:  true,
			InactiveThreshold: 2 * time.Hour,
			MaxConsecutive:    3,
			RecencyGate:       true,
			Recency: models.RecencyCurve{
				Prior: 0.5,
				Points: []models.RecencyPoint{
					{After: 6 * time.Hour, Probability: 0.2},
					{After: 12 * time.Hour, Probability: 0.5},
					{After: 24 * time.Hour, Probability: 0.9},
				},
			},
		},
		SharingMode: models.SharingDeterministic,
		Campaigns: map[models.CampaignFamily]models.CampaignSettings{
			models.FamilyIdleTimeout: {
				Window:       models.CampaignWindow{Enabled: true, StartHour: 8, EndHour: 23},
				Delay:        models.DelayBounds{Max: time.Hour},
				PollInterval: 30 * time.Second,
			},
			models.FamilyMorning: {
				Window:       models.CampaignWindow{Enabled: true, StartHour: 6, EndHour: 9, SelectionRatio: 0.4, MinSelected: 1},
				Delay:        models.DelayBounds{Min: time.Minute, Max: 40 * time.Minute},
				PollInterval: time.Minute,
			},
			models.FamilyNight: {
				Window:       models.CampaignWindow{Enabled: true, StartHour: 22, EndHour: 24, SelectionRatio: 0.4, MinSelected: 1},
				Delay:        models.DelayBounds{Min: time.Minute, Max: 40 * time.Minute},
				PollInterval: time.Minute,
			},
			models.FamilyLunch: {
				Window:       models.CampaignWindow{Enabled: true, StartHour: 11, EndHour: 13, SelectionRatio: 0.3, MinSelected: 1},
				Delay:        models.DelayBounds{Min: time.Minute, Max: 30 * time.Minute},
				PollInterval: 10 * time.Second,
			},
			models.FamilyDinner: {
				Window:       models.CampaignWindow{Enabled: true, StartHour: 17, EndHour: 19, SelectionRatio: 0.3, MinSelected: 1},
				Delay:        models.DelayBounds{Min: time.Minute, Max: 30 * time.Minute},
				PollInterval: 10 * time.Second,
			},
			models.FamilyAmbientSharing: {
				Window:       models.CampaignWindow{Enabled: true, StartHour: 8, EndHour: 23, MinInterval: 3 * time.Hour, MaxInterval: 6 * time.Hour, SelectionRatio: 1},
				Delay:        models.DelayBounds{Min: time.Minute, Max: 10 * time.Minute},
				PollInterval: 10 * time.Second,
			},
		},
		Prompts:   map[models.PromptCategory][]string{},
		Festivals: map[string]string{},
	}
}

// LoadCampaigns decodes path on top of DefaultCampaigns. A missing file
// yields the defaults. Campaign and idle entries override only the fields
// they set.
func LoadCampaigns(path string) (Campaigns, error) {
	cfg := DefaultCampaigns()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Info("No campaign file found, using defaults", "path", path)
			return cfg, nil
		}
		return Campaigns{}, fmt.Errorf("failed to read campaign file: %w", err)
	}

	var raw rawCampaigns
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Campaigns{}, fmt.Errorf("failed to parse campaign file: %w", err)
	}
	if err := raw.applyTo(&cfg); err != nil {
		return Campaigns{}, fmt.Errorf("failed to parse campaign file: %w", err)
	}
	slog.Debug("Campaign file loaded", "path", path, "campaigns", len(raw.Campaigns), "prompt_overrides", len(cfg.Prompts), "festivals", len(cfg.Festivals))
	return cfg, nil
}

func (r rawCampaigns) applyTo(cfg *Campaigns) error {
	if r.Timezone != nil {
		cfg.Timezone = *r.Timezone
	}
	if r.SaveSchedule != nil {
		cfg.SaveSchedule = *r.SaveSchedule
	}
	if r.Persona != nil {
		cfg.Persona = *r.Persona
	}
	if r.Whitelist != nil {
		cfg.Whitelist = *r.Whitelist
	}
	if r.SharingMode != nil {
		cfg.SharingMode = *r.SharingMode
	}
	if r.Idle != nil {
		if err := r.Idle.Decode(&cfg.Idle); err != nil {
			return fmt.Errorf("idle: %w", err)
		}
	}
	for family, node := range r.Campaigns {
		settings := cfg.Campaigns[family]
		if err := node.Decode(&settings); err != nil {
			return fmt.Errorf("campaign %s: %w", family, err)
		}
		cfg.Campaigns[family] = settings
	}
	for category, prompts := range r.Prompts {
		cfg.Prompts[category] = prompts
	}
	for date, name := range r.Festivals {
		cfg.Festivals[date] = name
	}
	return nil
}

// Location resolves the configured timezone.
func (c Campaigns) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Settings builds the validated engine settings.
func (c Campaigns) Settings() (models.Settings, error) {
	loc, err := c.Location()
	if err != nil {
		return models.Settings{}, err
	}
	s := models.Settings{
		Location:    loc,
		Whitelist:   c.Whitelist,
		Idle:        c.Idle,
		SharingMode: c.SharingMode,
		Campaigns:   c.Campaigns,
	}
	if err := s.Validate(); err != nil {
		return models.Settings{}, fmt.Errorf("invalid campaign settings: %w", err)
	}
	return s, nil
}
