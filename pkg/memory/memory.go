// Package memory implements the durable conversation memory used for
// idempotency checks.
//
// Records are content-addressed: every id is derived deterministically from
// the agent and the feed post it describes, so two processes that share a
// store agree on which posts are already handled.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/cpunion/cast-bot/pkg/types"
)

// ErrExists is returned by Create when a record with the same id is stored.
var ErrExists = errors.New("memory record already exists")

// Store is the read/write contract the responder relies on.
type Store interface {
	// GetByID returns the record or nil when none is stored.
	GetByID(ctx context.Context, id string) (*types.MemoryRecord, error)
	// Create stores a new record. It must fail with ErrExists when the id is
	// taken, atomically with respect to concurrent writers.
	Create(ctx context.Context, rec *types.MemoryRecord) error
	Close() error
}

var namespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("cast-bot/memory"))

func stringID(s string) string {
	return uuid.NewSHA1(namespace, []byte(s)).String()
}

// RecordID is the id of the inbound or outbound record for a post.
func RecordID(agentID, postID string) string {
	return stringID(postID + "-" + agentID)
}

// DispositionID is the id of the record that settles an inbound post.
func DispositionID(agentID, postID string) string {
	return stringID(postID + "-" + agentID + "#disposition")
}

// ConversationID names the conversation rooted at a candidate post.
func ConversationID(postID, agentID string) string {
	return postID + "-" + agentID
}

// RoomID maps a conversation id to a stable room id.
func RoomID(conversationID string) string {
	return stringID(conversationID)
}

// UserID maps a feed author id to a stable user id.
func UserID(authorID string) string {
	return stringID(authorID)
}

// InMemoryStore keeps records in a map. It is safe for concurrent use and
// does not survive restarts.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]types.MemoryRecord
	order   []string
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		records: make(map[string]types.MemoryRecord),
	}
}

// GetByID returns a copy of the stored record.
func (s *InMemoryStore) GetByID(ctx context.Context, id string) (*types.MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// Create stores a copy of rec.
func (s *InMemoryStore) Create(ctx context.Context, rec *types.MemoryRecord) error {
	if rec == nil || rec.ID == "" {
		return errors.New("memory record id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rec.ID]; ok {
		return ErrExists
	}
	s.records[rec.ID] = *rec
	s.order = append(s.order, rec.ID)
	return nil
}

// All returns the records in insertion order.
func (s *InMemoryStore) All() []types.MemoryRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.MemoryRecord, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.records[id])
	}
	return out
}

// Close is a no-op.
func (s *InMemoryStore) Close() error { return nil }
