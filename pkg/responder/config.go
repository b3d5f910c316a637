// Package responder polls the feed for posts addressed to or interesting
// to an agent and answers each of them at most once.
package responder

import (
	"errors"
	"time"

	"github.com/cpunion/cast-bot/pkg/types"
)

// Defaults for Config fields left zero.
const (
	DefaultPollInterval     = 120 * time.Second
	DefaultPerUserLimit     = 10
	DefaultRecencyWindow    = 24 * time.Hour
	DefaultMinTextLength    = 10
	DefaultMentionPageSize  = 10
	DefaultTimelinePageSize = 10
	DefaultMaxThreadDepth   = 32
	DefaultSource           = "forum"
)

// Config is the per-agent poll cycle configuration.
type Config struct {
	AgentID     string
	AgentHandle string
	AgentName   string
	Bio         string
	SignerID    string // Credential used to post; defaults to AgentID
	Source      string // Tag stored on memory records

	PollInterval time.Duration
	DryRun       bool

	TrackedAuthors []string // Handles sampled every cycle
	PerUserLimit   int
	RecencyWindow  time.Duration
	MinTextLength  int // Posts must be strictly longer; negative disables

	MentionPageSize  int
	TimelinePageSize int

	RespondPolicy  types.RespondPolicy
	ExcludeReplies bool // Drop replies from tracked-author sampling

	Concurrency    int // Candidates processed in parallel; 1 keeps cycles sequential
	MaxThreadDepth int
}

func (c Config) withDefaults() Config {
	if c.SignerID == "" {
		c.SignerID = c.AgentID
	}
	if c.AgentHandle == "" {
		c.AgentHandle = c.AgentID
	}
	if c.AgentName == "" {
		c.AgentName = c.AgentHandle
	}
	if c.Source == "" {
		c.Source = DefaultSource
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.PerUserLimit <= 0 {
		c.PerUserLimit = DefaultPerUserLimit
	}
	if c.RecencyWindow <= 0 {
		c.RecencyWindow = DefaultRecencyWindow
	}
	switch {
	case c.MinTextLength == 0:
		c.MinTextLength = DefaultMinTextLength
	case c.MinTextLength < 0: // Negative disables the filter
		c.MinTextLength = 0
	}
	if c.MentionPageSize <= 0 {
		c.MentionPageSize = DefaultMentionPageSize
	}
	if c.TimelinePageSize <= 0 {
		c.TimelinePageSize = DefaultTimelinePageSize
	}
	if c.RespondPolicy == "" {
		c.RespondPolicy = types.PolicyAdvisory
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.MaxThreadDepth <= 0 {
		c.MaxThreadDepth = DefaultMaxThreadDepth
	}
	return c
}

func (c Config) validate() error {
	if c.AgentID == "" {
		return errors.New("agent id is required")
	}
	switch c.RespondPolicy {
	case types.PolicyAdvisory, types.PolicyEnforce:
	default:
		return errors.New("respond policy must be advisory or enforce")
	}
	return nil
}
