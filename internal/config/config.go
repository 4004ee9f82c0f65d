// Package config resolves the daily runner configuration from defaults, an
// optional YAML pipeline file and environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/avidelta/nexus/internal/domain"
	"github.com/avidelta/nexus/internal/platform/env"
	"github.com/avidelta/nexus/internal/platform/objectstore"
)

const SchemaV1 = "nexus.daily.v1"

const (
	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"

	LedgerFile     = "file"
	LedgerPostgres = "postgres"
)

const (
	defaultRepo        = "dotlink-ops/nextjs"
	defaultModel       = "gpt-4-turbo-preview"
	defaultMaxTokens   = 500
	defaultTemperature = 0.7
	defaultMaxNotes    = 5
)

// StepOverride adjusts one step of the fixed daily pipeline.
type StepOverride struct {
	AllowFailure *bool `yaml:"allow_failure,omitempty"`
	Disabled     bool  `yaml:"disabled,omitempty"`
}

type OpenAIConfig struct {
	APIKey      string  `yaml:"-"`
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

func (c OpenAIConfig) Configured() bool { return c.APIKey != "" }

type GitHubConfig struct {
	Token             string   `yaml:"-"`
	Repo              string   `yaml:"repo"`
	BaseURL           string   `yaml:"base_url"`
	Labels            []string `yaml:"labels"`
	RequestsPerSecond float64  `yaml:"requests_per_second"`
}

func (c GitHubConfig) Configured() bool { return c.Token != "" && c.Repo != "" }

type SlackConfig struct {
	WebhookURL string `yaml:"-"`
	BotToken   string `yaml:"-"`
	ChannelID  string `yaml:"channel_id"`
	BaseURL    string `yaml:"base_url"`
}

func (c SlackConfig) PostConfigured() bool { return c.WebhookURL != "" }
func (c SlackConfig) ReadConfigured() bool { return c.BotToken != "" && c.ChannelID != "" }

type NotionConfig struct {
	Token       string `yaml:"-"`
	DatabaseID  string `yaml:"database_id"`
	DailyPageID string `yaml:"daily_page_id"`
	BaseURL     string `yaml:"base_url"`
}

func (c NotionConfig) IngestConfigured() bool { return c.Token != "" && c.DatabaseID != "" }
func (c NotionConfig) UpdateConfigured() bool { return c.Token != "" && c.DailyPageID != "" }

type CalendarConfig struct {
	ClientID     string `yaml:"-"`
	ClientSecret string `yaml:"-"`
	RefreshToken string `yaml:"-"`
	CalendarID   string `yaml:"calendar_id"`
	BaseURL      string `yaml:"base_url"`
	TokenURL     string `yaml:"token_url"`
}

func (c CalendarConfig) Configured() bool {
	return c.ClientID != "" && c.ClientSecret != "" && c.RefreshToken != ""
}

// Config is the resolved configuration of one daily run.
type Config struct {
	Schema string `yaml:"schema"`

	DemoMode bool      `yaml:"demo"`
	DryRun   bool      `yaml:"dry_run"`
	Trigger  string    `yaml:"trigger"`
	RunDate  time.Time `yaml:"-"`
	RunID    string    `yaml:"-"`

	Ledger    string `yaml:"ledger"`
	LedgerDir string `yaml:"ledger_dir"`

	NotesDir     string `yaml:"notes_dir"`
	MaxNotes     int    `yaml:"max_notes"`
	OutputDir    string `yaml:"output_dir"`
	SiteJSONPath string `yaml:"site_json_path"`
	Repo         string `yaml:"repo"`

	HTTPTimeout time.Duration `yaml:"http_timeout"`

	Steps map[string]StepOverride `yaml:"steps"`

	OpenAI   OpenAIConfig   `yaml:"openai"`
	GitHub   GitHubConfig   `yaml:"github"`
	Slack    SlackConfig    `yaml:"slack"`
	Notion   NotionConfig   `yaml:"notion"`
	Calendar CalendarConfig `yaml:"calendar"`

	ObjectStore objectstore.Config `yaml:"-"`
}

func Defaults() Config {
	return Config{
		Schema:      SchemaV1,
		Trigger:     TriggerScheduled,
		Ledger:      LedgerFile,
		LedgerDir:   "data/runs",
		NotesDir:    "data/notes",
		MaxNotes:    defaultMaxNotes,
		OutputDir:   "data",
		Repo:        defaultRepo,
		HTTPTimeout: 30 * time.Second,
		Steps:       map[string]StepOverride{},
		OpenAI: OpenAIConfig{
			BaseURL:     "https://api.openai.com/v1",
			Model:       defaultModel,
			MaxTokens:   defaultMaxTokens,
			Temperature: defaultTemperature,
		},
		GitHub: GitHubConfig{
			BaseURL:           "https://api.github.com",
			Labels:            []string{"automation", "daily-runner"},
			RequestsPerSecond: 1,
		},
		Slack:  SlackConfig{BaseURL: "https://slack.com/api"},
		Notion: NotionConfig{BaseURL: "https://api.notion.com/v1"},
		Calendar: CalendarConfig{
			CalendarID: "primary",
			BaseURL:    "https://www.googleapis.com/calendar/v3",
			TokenURL:   "https://oauth2.googleapis.com/token",
		},
	}
}

// Load resolves defaults, then the YAML file at path (when non-empty), then
// the environment. The result is not validated; callers apply flags first.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path = strings.TrimSpace(path); path != "" {
		blob, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := cfg.mergeYAML(blob); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) mergeYAML(blob []byte) error {
	var file Config
	if err := yaml.Unmarshal(blob, &file); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	if s := strings.TrimSpace(file.Schema); s != "" && s != SchemaV1 {
		return fmt.Errorf("config.schema must be %q", SchemaV1)
	}
	c.DemoMode = c.DemoMode || file.DemoMode
	c.DryRun = c.DryRun || file.DryRun
	setString(&c.Trigger, file.Trigger)
	setString(&c.Ledger, file.Ledger)
	setString(&c.LedgerDir, file.LedgerDir)
	setString(&c.NotesDir, file.NotesDir)
	setString(&c.OutputDir, file.OutputDir)
	setString(&c.SiteJSONPath, file.SiteJSONPath)
	setString(&c.Repo, file.Repo)
	if file.MaxNotes != 0 {
		c.MaxNotes = file.MaxNotes
	}
	if file.HTTPTimeout != 0 {
		c.HTTPTimeout = file.HTTPTimeout
	}
	for name, override := range file.Steps {
		c.Steps[name] = override
	}

	setString(&c.OpenAI.BaseURL, file.OpenAI.BaseURL)
	setString(&c.OpenAI.Model, file.OpenAI.Model)
	if file.OpenAI.MaxTokens != 0 {
		c.OpenAI.MaxTokens = file.OpenAI.MaxTokens
	}
	if file.OpenAI.Temperature != 0 {
		c.OpenAI.Temperature = file.OpenAI.Temperature
	}
	setString(&c.GitHub.Repo, file.GitHub.Repo)
	setString(&c.GitHub.BaseURL, file.GitHub.BaseURL)
	if len(file.GitHub.Labels) > 0 {
		c.GitHub.Labels = file.GitHub.Labels
	}
	if file.GitHub.RequestsPerSecond != 0 {
		c.GitHub.RequestsPerSecond = file.GitHub.RequestsPerSecond
	}
	setString(&c.Slack.ChannelID, file.Slack.ChannelID)
	setString(&c.Slack.BaseURL, file.Slack.BaseURL)
	setString(&c.Notion.DatabaseID, file.Notion.DatabaseID)
	setString(&c.Notion.DailyPageID, file.Notion.DailyPageID)
	setString(&c.Notion.BaseURL, file.Notion.BaseURL)
	setString(&c.Calendar.CalendarID, file.Calendar.CalendarID)
	setString(&c.Calendar.BaseURL, file.Calendar.BaseURL)
	setString(&c.Calendar.TokenURL, file.Calendar.TokenURL)
	return nil
}

func (c *Config) applyEnv() error {
	var err error
	if c.DemoMode, err = env.Bool("NEXUS_DEMO", c.DemoMode); err != nil {
		return err
	}
	if c.DryRun, err = env.Bool("NEXUS_DRY_RUN", c.DryRun); err != nil {
		return err
	}
	if c.MaxNotes, err = env.Int("NEXUS_MAX_NOTES", c.MaxNotes); err != nil {
		return err
	}
	if c.HTTPTimeout, err = env.Duration("NEXUS_HTTP_TIMEOUT", c.HTTPTimeout); err != nil {
		return err
	}
	c.Trigger = env.String("NEXUS_TRIGGER", c.Trigger)
	c.Ledger = env.String("NEXUS_LEDGER", c.Ledger)
	c.LedgerDir = env.String("NEXUS_LEDGER_DIR", c.LedgerDir)
	c.NotesDir = env.String("NOTES_SOURCE", c.NotesDir)
	c.OutputDir = env.String("OUTPUT_DIR", c.OutputDir)
	c.SiteJSONPath = env.String("NEXTJS_JSON_PATH", c.SiteJSONPath)

	c.OpenAI.APIKey = env.Secret("OPENAI_API_KEY")
	c.OpenAI.BaseURL = env.String("OPENAI_BASE_URL", c.OpenAI.BaseURL)
	c.OpenAI.Model = env.String("OPENAI_MODEL", c.OpenAI.Model)
	if c.OpenAI.MaxTokens, err = env.Int("MAX_TOKENS", c.OpenAI.MaxTokens); err != nil {
		return err
	}
	if c.OpenAI.Temperature, err = env.Float("TEMPERATURE", c.OpenAI.Temperature); err != nil {
		return err
	}

	c.GitHub.Token = env.Secret("GITHUB_TOKEN")
	if repo := env.Secret("REPO_NAME"); repo != "" {
		c.GitHub.Repo = repo
	} else if repo := env.Secret("GITHUB_REPO"); repo != "" {
		c.GitHub.Repo = repo
	}
	if c.GitHub.Repo != "" {
		c.Repo = c.GitHub.Repo
	}
	c.GitHub.Labels = env.List("GITHUB_LABELS", c.GitHub.Labels)
	if c.GitHub.RequestsPerSecond, err = env.Float("GITHUB_REQUESTS_PER_SECOND", c.GitHub.RequestsPerSecond); err != nil {
		return err
	}

	c.Slack.WebhookURL = env.Secret("SLACK_WEBHOOK_URL")
	c.Slack.BotToken = env.Secret("SLACK_BOT_TOKEN")
	c.Slack.ChannelID = env.String("SLACK_CHANNEL_ID", c.Slack.ChannelID)

	c.Notion.Token = env.Secret("NOTION_TOKEN")
	if c.Notion.Token == "" {
		c.Notion.Token = env.Secret("NOTION_API_KEY")
	}
	c.Notion.DatabaseID = env.String("NOTION_DATABASE_ID", c.Notion.DatabaseID)
	c.Notion.DailyPageID = env.String("NOTION_DAILY_PAGE_ID", c.Notion.DailyPageID)

	c.Calendar.ClientID = env.Secret("GOOGLE_CLIENT_ID")
	c.Calendar.ClientSecret = env.Secret("GOOGLE_CLIENT_SECRET")
	c.Calendar.RefreshToken = env.Secret("GOOGLE_REFRESH_TOKEN")
	c.Calendar.CalendarID = env.String("GOOGLE_CALENDAR_ID", c.Calendar.CalendarID)

	for _, pair := range env.List("NEXUS_STEP_ALLOW_FAILURE", nil) {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("parse NEXUS_STEP_ALLOW_FAILURE: %q is not step=bool", pair)
		}
		allow, perr := parseBool(value)
		if perr != nil {
			return fmt.Errorf("parse NEXUS_STEP_ALLOW_FAILURE: %w", perr)
		}
		override := c.Steps[strings.TrimSpace(name)]
		override.AllowFailure = &allow
		c.Steps[strings.TrimSpace(name)] = override
	}

	store, err := objectstore.ConfigFromEnv()
	if err != nil {
		return fmt.Errorf("object store: %w", err)
	}
	c.ObjectStore = store
	return nil
}

// Validate checks structural settings. Missing secrets are reported by
// MissingSecrets instead, since a live run fails them at preflight.
func (c Config) Validate() error {
	switch c.Trigger {
	case TriggerScheduled, TriggerManual:
	default:
		return fmt.Errorf("trigger must be %q or %q, got %q", TriggerScheduled, TriggerManual, c.Trigger)
	}
	switch c.Ledger {
	case LedgerFile:
		if strings.TrimSpace(c.LedgerDir) == "" {
			return errors.New("ledger_dir is required for the file ledger")
		}
	case LedgerPostgres:
	default:
		return fmt.Errorf("ledger must be %q or %q, got %q", LedgerFile, LedgerPostgres, c.Ledger)
	}
	if c.RunID != "" {
		if err := domain.ValidateRunID(c.RunID); err != nil {
			return fmt.Errorf("run id: %w", err)
		}
	}
	if strings.TrimSpace(c.OutputDir) == "" {
		return errors.New("output_dir is required")
	}
	if strings.TrimSpace(c.NotesDir) == "" {
		return errors.New("notes_dir is required")
	}
	if c.MaxNotes < 1 {
		return fmt.Errorf("max_notes must be positive, got %d", c.MaxNotes)
	}
	if c.HTTPTimeout <= 0 {
		return errors.New("http_timeout must be positive")
	}
	if c.OpenAI.MaxTokens <= 0 {
		return errors.New("openai.max_tokens must be positive")
	}
	if c.OpenAI.Temperature < 0 || c.OpenAI.Temperature > 2 {
		return fmt.Errorf("openai.temperature must be within [0, 2], got %v", c.OpenAI.Temperature)
	}
	if c.GitHub.RequestsPerSecond <= 0 {
		return errors.New("github.requests_per_second must be positive")
	}
	if repo := c.GitHub.Repo; repo != "" {
		owner, name, ok := strings.Cut(repo, "/")
		if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
			return fmt.Errorf("github repo must be owner/name, got %q", repo)
		}
	}
	for name := range c.Steps {
		if _, err := domain.ParseStepID(name); err != nil {
			return fmt.Errorf("steps.%s: %w", name, err)
		}
	}
	return nil
}

// MissingSecrets lists the credentials a live run needs but does not have.
func (c Config) MissingSecrets() []string {
	if c.DemoMode {
		return nil
	}
	missing := make([]string, 0, 3)
	if c.OpenAI.APIKey == "" {
		missing = append(missing, "OPENAI_API_KEY")
	}
	if c.GitHub.Token == "" {
		missing = append(missing, "GITHUB_TOKEN")
	}
	if c.GitHub.Repo == "" {
		missing = append(missing, "REPO_NAME")
	}
	return missing
}

// Override returns the configured override for a step.
func (c Config) Override(id domain.StepID) (StepOverride, bool) {
	override, ok := c.Steps[id.String()]
	return override, ok
}

// TriggerStep is the trigger step id of this run.
func (c Config) TriggerStep() domain.StepID {
	if c.Trigger == TriggerManual {
		return domain.StepTriggerManual
	}
	return domain.StepTriggerScheduled
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func parseBool(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes":
		return true, nil
	case "false", "0", "no":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool %q", v)
	}
}
