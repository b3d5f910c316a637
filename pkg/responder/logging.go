package responder

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cpunion/cast-bot/pkg/types"
)

// Stage is where processing of a candidate ended.
type Stage string

const (
	StageDuplicate      Stage = "skip_duplicate"   // Settled earlier, or held by another worker
	StageSelf           Stage = "skip_self"        // Authored by the agent
	StageEmptyText      Stage = "skip_empty_text"  // Post has no text
	StagePolicySkip     Stage = "skip_policy"      // Verdict enforced as do-not-respond
	StageEmptyReply     Stage = "skip_empty_reply" // Generator produced nothing
	StageDryRun         Stage = "dry_run"          // Reply generated, not sent
	StageDispatchFailed Stage = "dispatch_failed"  // Gateway rejected the reply
	StageFailed         Stage = "failed"           // Store or generator error
	StageCompleted      Stage = "completed"
)

// Where a candidate came from.
const (
	SourceMention = "mention"
	SourceTracked = "tracked"
	SourceDirect  = "direct"
)

// Outcome describes how one candidate was handled.
type Outcome struct {
	Timestamp time.Time     `json:"timestamp"`
	AgentID   string        `json:"agent_id"`
	PostID    string        `json:"post_id"`
	AuthorID  string        `json:"author_id"`
	Source    string        `json:"source"`
	Stage     Stage         `json:"stage"`
	Verdict   types.Verdict `json:"verdict,omitempty"`
	Reply     string        `json:"reply,omitempty"`
	Action    string        `json:"action,omitempty"`
	SentIDs   []string      `json:"sent_ids,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// OutcomeLogger records candidate outcomes for operators.
type OutcomeLogger interface {
	LogOutcome(Outcome) error
	Close() error
}

// JSONLLogger writes each outcome as a JSON line.
type JSONLLogger struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
}

// NewJSONLLogger creates a JSONL logger appending to path.
func NewJSONLLogger(path string) (*JSONLLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return &JSONLLogger{
		file:   file,
		writer: bufio.NewWriter(file),
	}, nil
}

// LogOutcome writes a single outcome as JSONL.
func (l *JSONLLogger) LogOutcome(o Outcome) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}
	if _, err := l.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write outcome: %w", err)
	}
	return l.writer.Flush()
}

// Close closes the logger.
func (l *JSONLLogger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.writer != nil {
		_ = l.writer.Flush()
	}
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}
