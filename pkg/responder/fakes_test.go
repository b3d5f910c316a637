package responder

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cpunion/cast-bot/pkg/feed"
	"github.com/cpunion/cast-bot/pkg/generation"
	"github.com/cpunion/cast-bot/pkg/memory"
	"github.com/cpunion/cast-bot/pkg/types"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type replyCall struct {
	SignerID string
	Author   types.Author
	Content  types.Content
	Target   types.ReplyTarget
}

type fakeGateway struct {
	mu sync.Mutex

	mentions []types.Post
	authors  map[string]*types.Author // By handle
	recent   map[string][]types.Post  // By author id
	posts    map[string]types.Post
	timeline []types.Post

	mentionsErr error
	lookupErr   map[string]error
	fetchErr    map[string]error
	replyErr    error
	splitAt     int // Split replies into posts of this many words

	replies   []replyCall
	getPosts  int
	nextReply int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		authors:   map[string]*types.Author{},
		recent:    map[string][]types.Post{},
		posts:     map[string]types.Post{},
		lookupErr: map[string]error{},
		fetchErr:  map[string]error{},
	}
}

func (g *fakeGateway) addPost(p types.Post) types.Post {
	g.mu.Lock()
	defer g.mu.Unlock()
	if p.Author.ID == "" {
		p.Author = types.Author{ID: p.AuthorID, Handle: p.AuthorID}
	}
	g.posts[p.ID] = p
	return p
}

func (g *fakeGateway) GetMentions(ctx context.Context, agentID string, pageSize int) ([]types.Post, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.mentionsErr != nil {
		return nil, g.mentionsErr
	}
	out := append([]types.Post(nil), g.mentions...)
	if len(out) > pageSize {
		out = out[:pageSize]
	}
	return out, nil
}

func (g *fakeGateway) LookupAuthor(ctx context.Context, handle, viewerID string) (*types.Author, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.lookupErr[handle]; err != nil {
		return nil, err
	}
	a, ok := g.authors[handle]
	if !ok {
		return nil, feed.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (g *fakeGateway) FetchRecentPosts(ctx context.Context, authorID, viewerID string, limit int, includeReplies bool) ([]types.Post, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.fetchErr[authorID]; err != nil {
		return nil, err
	}
	var out []types.Post
	for _, p := range g.recent[authorID] {
		if !includeReplies && p.IsReply() {
			continue
		}
		out = append(out, p)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (g *fakeGateway) GetTimeline(ctx context.Context, agentID string, pageSize int) ([]types.Post, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]types.Post(nil), g.timeline...), nil
}

func (g *fakeGateway) GetPost(ctx context.Context, postID string) (*types.Post, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.getPosts++
	p, ok := g.posts[postID]
	if !ok {
		return nil, feed.ErrNotFound
	}
	return &p, nil
}

func (g *fakeGateway) PostReply(ctx context.Context, signerID string, author types.Author, content types.Content, target types.ReplyTarget) ([]types.Post, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.replies = append(g.replies, replyCall{SignerID: signerID, Author: author, Content: content, Target: target})
	if g.replyErr != nil {
		return nil, g.replyErr
	}

	parts := []string{content.Text}
	if g.splitAt > 0 {
		parts = nil
		words := strings.Fields(content.Text)
		for len(words) > 0 {
			n := min(g.splitAt, len(words))
			parts = append(parts, strings.Join(words[:n], " "))
			words = words[n:]
		}
	}

	parent := target
	sent := make([]types.Post, 0, len(parts))
	for _, text := range parts {
		g.nextReply++
		p := types.Post{
			ID:        fmt.Sprintf("0xreply%d", g.nextReply),
			AuthorID:  author.ID,
			Author:    author,
			Text:      text,
			CreatedAt: testNow,
			Parent:    &types.ParentRef{ID: parent.PostID, AuthorID: parent.AuthorID},
		}
		g.posts[p.ID] = p
		sent = append(sent, p)
		parent = types.ReplyTarget{AuthorID: author.ID, PostID: p.ID}
	}
	return sent, nil
}

func (g *fakeGateway) replyCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.replies)
}

type fakeGenerator struct {
	mu sync.Mutex

	verdict    types.Verdict
	verdictErr error
	reply      types.Content
	replyErr   error
	replyPanic string

	shouldCalls int
	replyCalls  int
	states      []generation.State
}

func (f *fakeGenerator) ShouldRespond(ctx context.Context, st generation.State) (types.Verdict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shouldCalls++
	if f.verdictErr != nil {
		return "", f.verdictErr
	}
	if f.verdict == "" {
		return types.VerdictRespond, nil
	}
	return f.verdict, nil
}

func (f *fakeGenerator) GenerateReply(ctx context.Context, st generation.State) (types.Content, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replyCalls++
	f.states = append(f.states, st)
	if f.replyPanic != "" {
		panic(f.replyPanic)
	}
	if f.replyErr != nil {
		return f.reply, f.replyErr
	}
	return f.reply, nil
}

func (f *fakeGenerator) calls() (should, reply int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.shouldCalls, f.replyCalls
}

// failingStore wraps a store and fails selected operations.
type failingStore struct {
	memory.Store
	createErr error
}

func (s *failingStore) Create(ctx context.Context, rec *types.MemoryRecord) error {
	if s.createErr != nil {
		return s.createErr
	}
	return s.Store.Create(ctx, rec)
}

type fixture struct {
	gw    *fakeGateway
	gen   *fakeGenerator
	store *memory.InMemoryStore
	cfg   Config
	deps  Deps
}

func newFixture() *fixture {
	gw := newFakeGateway()
	gen := &fakeGenerator{reply: types.Content{Text: "hello there", Action: types.ActionNone}}
	store := memory.NewInMemoryStore()
	cfg := Config{
		AgentID:     "bot",
		AgentHandle: "castbot",
		AgentName:   "Cast Bot",
	}
	return &fixture{
		gw:    gw,
		gen:   gen,
		store: store,
		cfg:   cfg,
		deps: Deps{
			Gateway:   gw,
			Store:     store,
			Generator: gen,
			Now:       func() time.Time { return testNow },
			Rand:      rand.New(rand.NewSource(1)),
		},
	}
}

func (f *fixture) orchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	o, err := New(f.cfg, f.deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o
}

func (f *fixture) recordsOfKind(kind types.RecordKind) []types.MemoryRecord {
	var out []types.MemoryRecord
	for _, r := range f.store.All() {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

func mention(id, author, text string) types.Post {
	return types.Post{
		ID:        id,
		AuthorID:  author,
		Author:    types.Author{ID: author, Handle: author, DisplayName: strings.ToUpper(author)},
		Text:      text,
		CreatedAt: testNow.Add(-time.Minute),
	}
}

var errBoom = errors.New("boom")
