// Package recent keeps a short rolling transcript per conversation room in
// an ADK session service.
package recent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"google.golang.org/adk/session"

	"github.com/cpunion/cast-bot/pkg/types"
)

// StateKey is the session state key holding the transcript.
const StateKey = "recent_messages"

const appName = "cast-bot"

// Tracker appends exchanged records to a per-room transcript.
type Tracker struct {
	mu sync.Mutex

	sessions    session.Service
	agentID     string
	agentHandle string
	maxChars    int

	known map[string]bool // Rooms with a session
}

// Config configures a Tracker.
type Config struct {
	Sessions    session.Service // Defaults to an in-memory service
	AgentID     string
	AgentHandle string
	MaxChars    int // Transcript size cap in runes, default 2000
}

// NewTracker creates a tracker.
func NewTracker(cfg Config) *Tracker {
	if cfg.Sessions == nil {
		cfg.Sessions = session.InMemoryService()
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = 2000
	}
	return &Tracker{
		sessions:    cfg.Sessions,
		agentID:     cfg.AgentID,
		agentHandle: cfg.AgentHandle,
		maxChars:    cfg.MaxChars,
		known:       make(map[string]bool),
	}
}

func (t *Tracker) session(ctx context.Context, roomID string) (session.Session, error) {
	get := func() (session.Session, error) {
		resp, err := t.sessions.Get(ctx, &session.GetRequest{
			AppName:   appName,
			UserID:    t.agentID,
			SessionID: roomID,
		})
		if err != nil {
			return nil, err
		}
		return resp.Session, nil
	}

	if t.known[roomID] {
		return get()
	}
	resp, err := t.sessions.Create(ctx, &session.CreateRequest{
		AppName:   appName,
		UserID:    t.agentID,
		SessionID: roomID,
		State: map[string]any{
			StateKey: "",
		},
	})
	if err != nil {
		// Created by another tracker sharing the service.
		sess, getErr := get()
		if getErr != nil {
			return nil, fmt.Errorf("failed to create session %s: %w", roomID, err)
		}
		t.known[roomID] = true
		return sess, nil
	}
	t.known[roomID] = true
	return resp.Session, nil
}

func transcript(sess session.Session) string {
	v, err := sess.State().Get(StateKey)
	if err != nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Recent returns the transcript for roomID, or "" if the room is unknown.
func (t *Tracker) Recent(ctx context.Context, roomID string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	sess, err := t.session(ctx, roomID)
	if err != nil {
		return "", err
	}
	return transcript(sess), nil
}

// Refresh appends records to the room transcript and returns the updated
// text.
func (t *Tracker) Refresh(ctx context.Context, roomID string, records []types.MemoryRecord) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	sess, err := t.session(ctx, roomID)
	if err != nil {
		return "", err
	}
	current := transcript(sess)

	var lines []string
	for _, rec := range records {
		if line := t.formatRecord(rec); line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return current, nil
	}

	updated := strings.Join(lines, "\n")
	if current != "" {
		updated = current + "\n" + updated
	}
	updated = truncateRunes(updated, t.maxChars)

	event := session.NewEvent("recent-update")
	event.Author = t.agentID
	event.Actions.StateDelta[StateKey] = updated
	if err := t.sessions.AppendEvent(ctx, sess, event); err != nil {
		return "", fmt.Errorf("failed to append recent messages: %w", err)
	}
	return updated, nil
}

func (t *Tracker) formatRecord(rec types.MemoryRecord) string {
	text := strings.TrimSpace(rec.Content.Text)
	if text == "" {
		return ""
	}
	who := "user"
	if rec.Kind == types.KindOutbound || rec.UserID == rec.AgentID {
		who = "@" + t.agentHandle
	}
	at := rec.CreatedAt
	if at.IsZero() {
		at = time.Now()
	}
	return fmt.Sprintf("%s %s: %s", at.UTC().Format(time.RFC3339), who, strings.ReplaceAll(text, "\n", " "))
}

// truncateRunes keeps the last maxChars runes of s.
func truncateRunes(s string, maxChars int) string {
	if maxChars <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[len(runes)-maxChars:])
}
