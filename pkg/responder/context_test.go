package responder

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/cpunion/cast-bot/pkg/types"
)

func chainPosts(f *fixture, n int) types.Post {
	var parent *types.ParentRef
	var last types.Post
	for i := 0; i < n; i++ {
		p := mention(fmt.Sprintf("p%d", i), "alice", fmt.Sprintf("post %d", i))
		p.CreatedAt = testNow.Add(time.Duration(i) * time.Minute)
		p.Parent = parent
		last = f.gw.addPost(p)
		parent = &types.ParentRef{ID: p.ID, AuthorID: p.AuthorID}
	}
	return last
}

func threadIDs(thread []types.Post) string {
	ids := make([]string, len(thread))
	for i, p := range thread {
		ids[i] = p.ID
	}
	return strings.Join(ids, ",")
}

func TestBuildThread_OldestFirst(t *testing.T) {
	f := newFixture()
	leaf := chainPosts(f, 4)
	o := f.orchestrator(t)

	got := threadIDs(o.buildThread(context.Background(), leaf))
	if got != "p0,p1,p2,p3" {
		t.Fatalf("unexpected thread order: %s", got)
	}
}

func TestBuildThread_DepthCap(t *testing.T) {
	f := newFixture()
	f.cfg.MaxThreadDepth = 2
	leaf := chainPosts(f, 6)
	o := f.orchestrator(t)

	got := threadIDs(o.buildThread(context.Background(), leaf))
	if got != "p3,p4,p5" {
		t.Fatalf("expected two ancestors, got %s", got)
	}
}

func TestBuildThread_Loop(t *testing.T) {
	f := newFixture()
	a := mention("a", "alice", "first")
	b := mention("b", "bob", "second")
	a.Parent = &types.ParentRef{ID: "b", AuthorID: "bob"}
	b.Parent = &types.ParentRef{ID: "a", AuthorID: "alice"}
	f.gw.addPost(a)
	f.gw.addPost(b)
	o := f.orchestrator(t)

	got := o.buildThread(context.Background(), a)
	if threadIDs(got) != "b,a" {
		t.Fatalf("loop should stop the walk, got %s", threadIDs(got))
	}
	if f.gw.getPosts != 1 {
		t.Fatalf("expected 1 fetch, got %d", f.gw.getPosts)
	}
}

func TestBuildThread_MissingParent(t *testing.T) {
	f := newFixture()
	p := mention("leaf", "alice", "answering a deleted post")
	p.Parent = &types.ParentRef{ID: "deleted", AuthorID: "bob"}
	o := f.orchestrator(t)

	got := o.buildThread(context.Background(), p)
	if threadIDs(got) != "leaf" {
		t.Fatalf("missing parent should truncate, got %s", threadIDs(got))
	}
}

func TestFormatPost(t *testing.T) {
	p := types.Post{
		ID:       "0xabc",
		AuthorID: "alice",
		Author:   types.Author{ID: "alice", Handle: "alice", DisplayName: "Alice"},
		Text:     "hello",
		Parent:   &types.ParentRef{ID: "0xdef"},
	}
	want := "ID: 0xabc\nFrom: Alice (@alice)\nIn reply to: 0xdef\nText: hello"
	if got := FormatPost(p); got != want {
		t.Fatalf("FormatPost:\n%s\nwant:\n%s", got, want)
	}

	bare := types.Post{ID: "1", AuthorID: "u1", Text: "x"}
	if got := FormatPost(bare); got != "ID: 1\nFrom: u1 (@u1)\nText: x" {
		t.Fatalf("unexpected fallback format:\n%s", got)
	}
}

func TestFormatTimelineAndConversation(t *testing.T) {
	posts := []types.Post{
		{ID: "1", AuthorID: "a", Author: types.Author{Handle: "a"}, Text: "first", CreatedAt: testNow},
		{ID: "2", AuthorID: "b", Author: types.Author{Handle: "b"}, Text: "second", CreatedAt: testNow.Add(time.Minute)},
	}

	timeline := FormatTimeline("Cast Bot", posts)
	if !strings.HasPrefix(timeline, "# Cast Bot's Home Timeline\n") {
		t.Fatalf("unexpected timeline header:\n%s", timeline)
	}
	if !strings.Contains(timeline, "Text: first") || !strings.Contains(timeline, "Text: second") {
		t.Fatalf("timeline missing posts:\n%s", timeline)
	}

	conv := FormatConversation(posts)
	want := "@a (2026-03-01T12:00:00Z): first\n@b (2026-03-01T12:01:00Z): second"
	if conv != want {
		t.Fatalf("FormatConversation:\n%s\nwant:\n%s", conv, want)
	}
}
