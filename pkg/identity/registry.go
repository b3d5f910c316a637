// Package identity keeps track of the feed accounts an agent has talked to
// and the conversations it met them in.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// PeerState is how well the agent knows a feed account.
type PeerState string

const (
	PeerNew      PeerState = "new"
	PeerFamiliar PeerState = "familiar" // Replied to several times
	PeerRegular  PeerState = "regular"  // Frequent conversation partner
)

// Connection links a feed account to one conversation room.
type Connection struct {
	UserID      string    `json:"user_id"`
	RoomID      string    `json:"room_id"`
	AuthorID    string    `json:"author_id"`
	Handle      string    `json:"handle"`
	DisplayName string    `json:"display_name"`
	Source      string    `json:"source"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
}

// Peer aggregates everything known about one feed account.
type Peer struct {
	UserID       string    `json:"user_id"`
	Handle       string    `json:"handle"`
	DisplayName  string    `json:"display_name"`
	State        PeerState `json:"state"`
	Rooms        int       `json:"rooms"`
	Interactions int       `json:"interactions"`
	LastReply    time.Time `json:"last_reply,omitempty"`
}

// Registry is the agent's connection book, optionally persisted as JSON.
type Registry struct {
	mu     sync.RWMutex
	saveMu sync.Mutex

	AgentID     string                 `json:"agent_id"`
	Connections map[string]*Connection `json:"connections"` // Keyed by room/user
	Peers       map[string]*Peer       `json:"peers"`
	UpdatedAt   time.Time              `json:"updated_at"`

	// Persistence path; empty keeps the registry in memory only.
	dataPath string
	now      func() time.Time
}

// NewRegistry creates an empty registry. dataPath may be empty.
func NewRegistry(agentID, dataPath string) *Registry {
	return &Registry{
		AgentID:     agentID,
		Connections: make(map[string]*Connection),
		Peers:       make(map[string]*Peer),
		dataPath:    dataPath,
		now:         time.Now,
	}
}

// LoadRegistry loads a registry saved under dataPath, or returns an empty
// one if none exists yet.
func LoadRegistry(agentID, dataPath string) (*Registry, error) {
	r := NewRegistry(agentID, dataPath)
	if err := r.Load(); err != nil {
		return nil, err
	}
	return r, nil
}

func connectionKey(roomID, userID string) string {
	return roomID + "/" + userID
}

// EnsureConnection records that c.UserID takes part in c.RoomID. Calling it
// again for the same pair only refreshes the profile and last-seen time.
func (r *Registry) EnsureConnection(ctx context.Context, c Connection) error {
	if c.UserID == "" || c.RoomID == "" {
		return errors.New("connection requires user and room ids")
	}
	now := r.now()

	r.mu.Lock()
	key := connectionKey(c.RoomID, c.UserID)
	existing, ok := r.Connections[key]
	if ok {
		if c.Handle != "" {
			existing.Handle = c.Handle
		}
		if c.DisplayName != "" {
			existing.DisplayName = c.DisplayName
		}
		existing.LastSeen = now
	} else {
		c.FirstSeen = now
		c.LastSeen = now
		r.Connections[key] = &c
	}

	peer, ok := r.Peers[c.UserID]
	if !ok {
		peer = &Peer{UserID: c.UserID, State: PeerNew}
		r.Peers[c.UserID] = peer
	}
	if c.Handle != "" {
		peer.Handle = c.Handle
	}
	if c.DisplayName != "" {
		peer.DisplayName = c.DisplayName
	}
	peer.Rooms = r.countRoomsLocked(c.UserID)
	r.UpdatedAt = now
	r.mu.Unlock()

	return r.Save()
}

func (r *Registry) countRoomsLocked(userID string) int {
	n := 0
	for _, c := range r.Connections {
		if c.UserID == userID {
			n++
		}
	}
	return n
}

// RecordReply notes that the agent replied to userID.
func (r *Registry) RecordReply(ctx context.Context, userID string) error {
	r.mu.Lock()
	peer, ok := r.Peers[userID]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	peer.Interactions++
	peer.LastReply = r.now()

	if peer.Interactions >= 3 && peer.State == PeerNew {
		peer.State = PeerFamiliar
	}
	if peer.Interactions >= 10 && peer.State == PeerFamiliar {
		peer.State = PeerRegular
	}
	r.mu.Unlock()

	return r.Save()
}

// Connection returns a copy of the connection for room and user.
func (r *Registry) Connection(roomID, userID string) *Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.Connections[connectionKey(roomID, userID)]
	if !ok {
		return nil
	}
	cp := *c
	return &cp
}

// Peer returns a copy of the peer record.
func (r *Registry) Peer(userID string) *Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.Peers[userID]
	if !ok {
		return nil
	}
	cp := *p
	return &cp
}

// RegularPeers returns peers with the regular state, most active first.
func (r *Registry) RegularPeers() []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Peer, 0)
	for _, p := range r.Peers {
		if p.State == PeerRegular {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Interactions > out[j].Interactions })
	return out
}

// Save persists the registry to disk.
func (r *Registry) Save() error {
	if r.dataPath == "" {
		return nil
	}
	r.saveMu.Lock()
	defer r.saveMu.Unlock()
	r.mu.RLock()
	defer r.mu.RUnlock()

	if err := os.MkdirAll(r.dataPath, 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(r.dataPath, "connections.json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Load loads the registry from disk.
func (r *Registry) Load() error {
	if r.dataPath == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(r.dataPath, "connections.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil // No registry yet
		}
		return err
	}
	if err := json.Unmarshal(data, r); err != nil {
		return err
	}
	if r.Connections == nil {
		r.Connections = make(map[string]*Connection)
	}
	if r.Peers == nil {
		r.Peers = make(map[string]*Peer)
	}
	return nil
}
