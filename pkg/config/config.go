// Package config loads the responder service configuration from a YAML
// file, a .env file and the process environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/cpunion/cast-bot/pkg/feed"
	"github.com/cpunion/cast-bot/pkg/llm"
	"github.com/cpunion/cast-bot/pkg/responder"
	"github.com/cpunion/cast-bot/pkg/types"
)

// Store drivers.
const (
	DriverSQLite = "sqlite"
	DriverJSONL  = "jsonl"
	DriverMemory = "memory"
)

// AgentConfig describes the account the service answers for.
type AgentConfig struct {
	ID       string `yaml:"id"`
	Handle   string `yaml:"handle"`
	Name     string `yaml:"name"`
	Bio      string `yaml:"bio"`
	SignerID string `yaml:"signer_id"`
}

// PollConfig tunes the poll cycle.
type PollConfig struct {
	IntervalSeconds  int           `yaml:"interval_seconds"`
	DryRun           bool          `yaml:"dry_run"`
	TrackedAuthors   []string      `yaml:"tracked_authors"`
	PerUserLimit     int           `yaml:"per_user_limit"`
	RecencyWindow    time.Duration `yaml:"recency_window"`
	MinTextLength    int           `yaml:"min_text_length"`
	MentionPageSize  int           `yaml:"mention_page_size"`
	TimelinePageSize int           `yaml:"timeline_page_size"`
	RespondPolicy    string        `yaml:"respond_policy"`
	ExcludeReplies   bool          `yaml:"exclude_replies"`
	Concurrency      int           `yaml:"concurrency"`
	MaxThreadDepth   int           `yaml:"max_thread_depth"`
}

// StoreConfig selects the memory store.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"` // Database file, or shard directory for jsonl
}

// FeedConfig points at the local forum and limits calls to it.
type FeedConfig struct {
	Path          string  `yaml:"path"` // Forum JSON file
	Name          string  `yaml:"name"`
	RatePerSecond float64 `yaml:"rate_per_second"` // 0 disables throttling
	Burst         int     `yaml:"burst"`
	MaxPostLength int     `yaml:"max_post_length"`
}

// LLMConfig selects the Gemini model.
type LLMConfig struct {
	Model           string  `yaml:"model"`
	ClassifierModel string  `yaml:"classifier_model"` // Defaults to Model
	APIKey          string  `yaml:"api_key"`
	Temperature     float32 `yaml:"temperature"`
	MaxOutputTokens int32   `yaml:"max_output_tokens"`
}

// LogConfig configures operator logs.
type LogConfig struct {
	Outcomes string `yaml:"outcomes"` // JSONL outcome log; empty disables
}

// Config is the full service configuration.
type Config struct {
	DataDir string `yaml:"data_dir"` // Connection registry and other local state

	Agent AgentConfig `yaml:"agent"`
	Poll  PollConfig  `yaml:"poll"`
	Store StoreConfig `yaml:"store"`
	Feed  FeedConfig  `yaml:"feed"`
	LLM   LLMConfig   `yaml:"llm"`
	Log   LogConfig   `yaml:"log"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DataDir: "./data",
		Poll: PollConfig{
			IntervalSeconds:  int(responder.DefaultPollInterval / time.Second),
			PerUserLimit:     responder.DefaultPerUserLimit,
			RecencyWindow:    responder.DefaultRecencyWindow,
			MinTextLength:    responder.DefaultMinTextLength,
			MentionPageSize:  responder.DefaultMentionPageSize,
			TimelinePageSize: responder.DefaultTimelinePageSize,
			RespondPolicy:    string(types.PolicyAdvisory),
			Concurrency:      1,
			MaxThreadDepth:   responder.DefaultMaxThreadDepth,
		},
		Store: StoreConfig{
			Driver: DriverSQLite,
			Path:   "./data/memory.db",
		},
		Feed: FeedConfig{
			Path:          "./data/forum.json",
			Name:          "cast-bot forum",
			Burst:         1,
			MaxPostLength: feed.DefaultMaxPostLength,
		},
		LLM: LLMConfig{
			Model: llm.DefaultModel,
		},
	}
}

// LoadDotEnv loads the given env files, .env when none are given. Missing
// files are skipped and variables already set are kept.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: load %s: %w", p, err)
		}
		log.Printf("[config] loaded env from %s", p)
	}
	return nil
}

// Load builds the configuration from defaults, the YAML file at path (if
// any) and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Printf("[config] %s not found, using defaults", path)
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("FEED_AGENT_ID", &c.Agent.ID)
	str("FEED_AGENT_HANDLE", &c.Agent.Handle)
	str("FEED_AGENT_NAME", &c.Agent.Name)
	str("FEED_SIGNER_ID", &c.Agent.SignerID)
	str("FEED_STORE_PATH", &c.Store.Path)
	str("FEED_FORUM_PATH", &c.Feed.Path)
	str("FEED_DATA_DIR", &c.DataDir)
	str("GOOGLE_MODEL", &c.LLM.Model)
	str("GOOGLE_API_KEY", &c.LLM.APIKey)

	if v, ok := lookup("FEED_POLL_INTERVAL"); ok && v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("config: FEED_POLL_INTERVAL: %w", err)
		}
		c.Poll.IntervalSeconds = n
	}
	if v, ok := lookup("FEED_DRY_RUN"); ok && v != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("config: FEED_DRY_RUN: %w", err)
		}
		c.Poll.DryRun = b
	}
	if v, ok := lookup("FEED_TARGET_USERS"); ok && strings.TrimSpace(v) != "" {
		c.Poll.TrackedAuthors = SplitList(v)
	}
	return nil
}

// SplitList splits a comma separated list, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Agent.ID) == "" {
		return errors.New("agent.id is required")
	}
	if c.Poll.IntervalSeconds <= 0 {
		return errors.New("poll.interval_seconds must be positive")
	}
	if c.Poll.RecencyWindow < 0 {
		return errors.New("poll.recency_window must not be negative")
	}
	if c.Poll.Concurrency < 0 {
		return errors.New("poll.concurrency must not be negative")
	}
	switch types.RespondPolicy(c.Poll.RespondPolicy) {
	case types.PolicyAdvisory, types.PolicyEnforce:
	default:
		return fmt.Errorf("poll.respond_policy %q is not advisory or enforce", c.Poll.RespondPolicy)
	}
	switch c.Store.Driver {
	case DriverSQLite, DriverJSONL:
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for driver %s", c.Store.Driver)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	if c.DataDir == "" {
		return errors.New("data_dir is required")
	}
	if c.Feed.Path == "" {
		return errors.New("feed.path is required")
	}
	if c.Feed.RatePerSecond < 0 || c.Feed.Burst < 0 {
		return errors.New("feed rate limits must not be negative")
	}
	return nil
}

// AgentHandle returns the agent handle, defaulting to its id.
func (c *Config) AgentHandle() string {
	if h := strings.TrimPrefix(c.Agent.Handle, "@"); h != "" {
		return h
	}
	return c.Agent.ID
}

// PollInterval returns the configured interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Poll.IntervalSeconds) * time.Second
}

// Responder converts the configuration for the orchestrator.
func (c *Config) Responder() responder.Config {
	return responder.Config{
		AgentID:          c.Agent.ID,
		AgentHandle:      c.AgentHandle(),
		AgentName:        c.Agent.Name,
		Bio:              c.Agent.Bio,
		SignerID:         c.Agent.SignerID,
		PollInterval:     c.PollInterval(),
		DryRun:           c.Poll.DryRun,
		TrackedAuthors:   c.Poll.TrackedAuthors,
		PerUserLimit:     c.Poll.PerUserLimit,
		RecencyWindow:    c.Poll.RecencyWindow,
		MinTextLength:    c.Poll.MinTextLength,
		MentionPageSize:  c.Poll.MentionPageSize,
		TimelinePageSize: c.Poll.TimelinePageSize,
		RespondPolicy:    types.RespondPolicy(c.Poll.RespondPolicy),
		ExcludeReplies:   c.Poll.ExcludeReplies,
		Concurrency:      c.Poll.Concurrency,
		MaxThreadDepth:   c.Poll.MaxThreadDepth,
	}
}
