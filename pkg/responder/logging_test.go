package responder

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/cpunion/cast-bot/pkg/types"
)

func TestJSONLLogger_WritesOutcomes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "outcomes.jsonl")
	logger, err := NewJSONLLogger(path)
	if err != nil {
		t.Fatalf("NewJSONLLogger: %v", err)
	}

	f := newFixture()
	f.deps.Outcomes = logger
	o := f.orchestrator(t)
	ctx := context.Background()
	o.ProcessCandidate(ctx, mention("m1", "alice", "hey @castbot, what do you think?"))
	o.ProcessCandidate(ctx, mention("p2", "bot", "my own post"))
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer file.Close()

	var outcomes []Outcome
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var out Outcome
		if err := json.Unmarshal(scanner.Bytes(), &out); err != nil {
			t.Fatalf("decode line: %v", err)
		}
		outcomes = append(outcomes, out)
	}
	if len(outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(outcomes))
	}
	first := outcomes[0]
	if first.Stage != StageCompleted || first.Source != SourceDirect || first.Verdict != types.VerdictRespond {
		t.Fatalf("unexpected first outcome: %+v", first)
	}
	if len(first.SentIDs) != 1 || !first.Timestamp.Equal(testNow) {
		t.Fatalf("unexpected sent ids or timestamp: %+v", first)
	}
	if outcomes[1].Stage != StageSelf {
		t.Fatalf("unexpected second outcome: %+v", outcomes[1])
	}
}

func TestJSONLLogger_NilSafe(t *testing.T) {
	var l *JSONLLogger
	if err := l.LogOutcome(Outcome{}); err != nil {
		t.Fatalf("nil LogOutcome: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("nil Close: %v", err)
	}
}

func TestProcessedSet(t *testing.T) {
	s := NewProcessedSet()
	if !s.TryBegin("a") {
		t.Fatal("first claim should succeed")
	}
	if s.TryBegin("a") {
		t.Fatal("claim held by another worker should fail")
	}
	s.End("a")
	if !s.TryBegin("a") {
		t.Fatal("released claim should be available")
	}
	s.Add("a")
	s.End("a")
	if s.TryBegin("a") || !s.Has("a") || s.Len() != 1 {
		t.Fatal("answered post should stay closed")
	}
}

func TestNew_Validation(t *testing.T) {
	f := newFixture()
	f.cfg.AgentID = ""
	if _, err := New(f.cfg, f.deps); err == nil {
		t.Fatal("expected error for missing agent id")
	}

	f = newFixture()
	f.cfg.RespondPolicy = "sometimes"
	if _, err := New(f.cfg, f.deps); err == nil {
		t.Fatal("expected error for unknown policy")
	}

	f = newFixture()
	f.deps.Store = nil
	if _, err := New(f.cfg, f.deps); err == nil {
		t.Fatal("expected error for missing store")
	}

	f = newFixture()
	f.cfg.AgentHandle = ""
	f.cfg.AgentName = ""
	o := f.orchestrator(t)
	cfg := o.Config()
	if cfg.SignerID != "bot" || cfg.AgentHandle != "bot" || cfg.AgentName != "bot" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.PollInterval != DefaultPollInterval || cfg.RecencyWindow != DefaultRecencyWindow || cfg.RespondPolicy != types.PolicyAdvisory {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}
