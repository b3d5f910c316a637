package feed

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cpunion/cast-bot/pkg/types"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func newTestForum(t *testing.T, path string) *Forum {
	t.Helper()
	c := &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	f, err := OpenForum(ForumConfig{Path: path, Name: "test", MaxPostLength: 40, Now: c.now})
	if err != nil {
		t.Fatalf("OpenForum: %v", err)
	}
	for _, a := range []types.Author{
		{ID: "bot", Handle: "castbot", DisplayName: "Cast Bot"},
		{ID: "alice", Handle: "alice", DisplayName: "Alice"},
		{ID: "bob", Handle: "bob", DisplayName: "Bob"},
	} {
		if err := f.RegisterAuthor(a); err != nil {
			t.Fatalf("RegisterAuthor(%s): %v", a.ID, err)
		}
	}
	return f
}

func mustPublish(t *testing.T, f *Forum, author, text, parent string) *types.Post {
	t.Helper()
	p, err := f.Publish(author, text, parent)
	if err != nil {
		t.Fatalf("Publish(%s, %q): %v", author, text, err)
	}
	return p
}

func TestForum_Mentions(t *testing.T) {
	f := newTestForum(t, filepath.Join(t.TempDir(), "forum.json"))
	ctx := context.Background()

	own := mustPublish(t, f, "bot", "hello world", "")
	mustPublish(t, f, "alice", "hi @castbot how are you", "")
	mustPublish(t, f, "alice", "email me at x@castbot.io", "")
	mustPublish(t, f, "alice", "@castbotter is someone else", "")
	reply := mustPublish(t, f, "bob", "nice post", own.ID)
	mustPublish(t, f, "bot", "@castbot talking to myself", "")

	got, err := f.GetMentions(ctx, "bot", 10)
	if err != nil {
		t.Fatalf("GetMentions: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("mentions=%d, want 2: %+v", len(got), got)
	}
	if got[0].ID != reply.ID {
		t.Errorf("newest mention=%s, want reply %s", got[0].ID, reply.ID)
	}
	if got[1].Author.Handle != "alice" {
		t.Errorf("expected author profile to be filled, got %+v", got[1].Author)
	}

	got, err = f.GetMentions(ctx, "bot", 1)
	if err != nil || len(got) != 1 {
		t.Fatalf("page size not honored: %d %v", len(got), err)
	}
}

func TestForum_LookupAndRecentPosts(t *testing.T) {
	f := newTestForum(t, filepath.Join(t.TempDir(), "forum.json"))
	ctx := context.Background()

	root := mustPublish(t, f, "bob", "root post", "")
	mustPublish(t, f, "alice", "first", "")
	mustPublish(t, f, "alice", "a reply", root.ID)
	mustPublish(t, f, "alice", "third", "")

	a, err := f.LookupAuthor(ctx, "@Alice", "bot")
	if err != nil {
		t.Fatalf("LookupAuthor: %v", err)
	}
	if a.ID != "alice" {
		t.Fatalf("LookupAuthor=%+v", a)
	}
	if _, err := f.LookupAuthor(ctx, "nobody", "bot"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("LookupAuthor(nobody) err=%v, want ErrNotFound", err)
	}

	all, err := f.FetchRecentPosts(ctx, "alice", "bot", 10, true)
	if err != nil || len(all) != 3 {
		t.Fatalf("FetchRecentPosts(includeReplies)=%d %v, want 3", len(all), err)
	}
	if all[0].Text != "third" {
		t.Errorf("expected newest first, got %q", all[0].Text)
	}
	top, err := f.FetchRecentPosts(ctx, "alice", "bot", 10, false)
	if err != nil || len(top) != 2 {
		t.Fatalf("FetchRecentPosts(no replies)=%d %v, want 2", len(top), err)
	}
	limited, _ := f.FetchRecentPosts(ctx, "alice", "bot", 1, true)
	if len(limited) != 1 {
		t.Fatalf("limit not honored: %d", len(limited))
	}
}

func TestForum_Timeline(t *testing.T) {
	f := newTestForum(t, filepath.Join(t.TempDir(), "forum.json"))
	ctx := context.Background()

	mustPublish(t, f, "alice", "from alice", "")
	mustPublish(t, f, "bob", "from bob", "")
	mustPublish(t, f, "bot", "from bot", "")

	all, err := f.GetTimeline(ctx, "bot", 10)
	if err != nil || len(all) != 3 {
		t.Fatalf("GetTimeline without follows=%d %v, want 3", len(all), err)
	}

	if err := f.Follow("bot", "alice"); err != nil {
		t.Fatalf("Follow: %v", err)
	}
	got, err := f.GetTimeline(ctx, "bot", 10)
	if err != nil {
		t.Fatalf("GetTimeline: %v", err)
	}
	if len(got) != 2 || got[0].AuthorID != "bot" || got[1].AuthorID != "alice" {
		t.Fatalf("timeline=%+v", got)
	}
}

func TestForum_PostReplySplitsIntoChain(t *testing.T) {
	f := newTestForum(t, filepath.Join(t.TempDir(), "forum.json"))
	ctx := context.Background()

	target := mustPublish(t, f, "alice", "@castbot tell me a story", "")
	bot := types.Author{ID: "bot", Handle: "castbot"}
	text := "once upon a time there was a forum that only allowed very short posts so every story had to be told in parts"

	sent, err := f.PostReply(ctx, "bot", bot, types.Content{Text: text}, types.ReplyTarget{AuthorID: "alice", PostID: target.ID})
	if err != nil {
		t.Fatalf("PostReply: %v", err)
	}
	if len(sent) < 3 {
		t.Fatalf("expected reply split into several posts, got %d", len(sent))
	}
	if sent[0].Parent == nil || sent[0].Parent.ID != target.ID || sent[0].Parent.AuthorID != "alice" {
		t.Fatalf("first part parent=%+v", sent[0].Parent)
	}
	var joined []string
	for i, p := range sent {
		if len([]rune(p.Text)) > 40 {
			t.Errorf("part %d too long: %q", i, p.Text)
		}
		if i > 0 && p.Parent.ID != sent[i-1].ID {
			t.Errorf("part %d replies to %s, want %s", i, p.Parent.ID, sent[i-1].ID)
		}
		joined = append(joined, p.Text)
	}
	if strings.Join(joined, " ") != text {
		t.Fatalf("parts do not reassemble:\n%q\n%q", strings.Join(joined, " "), text)
	}

	thread, err := f.Thread(sent[len(sent)-1].ID)
	if err != nil {
		t.Fatalf("Thread: %v", err)
	}
	if len(thread) != len(sent)+1 || thread[0].ID != target.ID {
		t.Fatalf("thread=%d posts starting at %s", len(thread), thread[0].ID)
	}
}

func TestForum_PostReplyErrors(t *testing.T) {
	f := newTestForum(t, filepath.Join(t.TempDir(), "forum.json"))
	ctx := context.Background()
	bot := types.Author{ID: "bot", Handle: "castbot"}
	target := mustPublish(t, f, "alice", "hi", "")

	if _, err := f.PostReply(ctx, "bot", bot, types.Content{Text: "x"}, types.ReplyTarget{PostID: "0xmissing"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing target err=%v, want ErrNotFound", err)
	}
	if _, err := f.PostReply(ctx, "alice", bot, types.Content{Text: "x"}, types.ReplyTarget{PostID: target.ID}); err == nil {
		t.Error("expected signer mismatch error")
	}
	if _, err := f.PostReply(ctx, "bot", bot, types.Content{Text: "  "}, types.ReplyTarget{PostID: target.ID}); err == nil {
		t.Error("expected empty text error")
	}
	replies, _ := f.Replies(target.ID)
	if len(replies) != 0 {
		t.Fatalf("failed replies left %d posts behind", len(replies))
	}
}

func TestForum_ReloadsChangesFromOtherWriters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forum.json")
	a := newTestForum(t, path)

	b, err := OpenForum(ForumConfig{Path: path})
	if err != nil {
		t.Fatalf("OpenForum: %v", err)
	}
	p := mustPublish(t, b, "alice", "@castbot written elsewhere", "")

	got, err := a.GetPost(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("GetPost after external write: %v", err)
	}
	if got.Author.Handle != "alice" {
		t.Fatalf("author=%+v", got.Author)
	}
	if _, err := a.GetPost(context.Background(), "0xnope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetPost(missing) err=%v, want ErrNotFound", err)
	}
}

func TestForum_ConcurrentWritersKeepAllPosts(t *testing.T) {
	if !fileLocking {
		t.Skip("no advisory file locks on this platform")
	}
	path := filepath.Join(t.TempDir(), "forum.json")
	a := newTestForum(t, path)
	b, err := OpenForum(ForumConfig{Path: path})
	if err != nil {
		t.Fatalf("OpenForum: %v", err)
	}

	const perWriter = 20
	var wg sync.WaitGroup
	for name, f := range map[string]*Forum{"a": a, "b": b} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				if _, err := f.Publish("alice", fmt.Sprintf("%s post %d", name, i), ""); err != nil {
					t.Errorf("Publish(%s, %d): %v", name, i, err)
					return
				}
			}
		}()
	}
	wg.Wait()

	fresh, err := OpenForum(ForumConfig{Path: path})
	if err != nil {
		t.Fatalf("OpenForum: %v", err)
	}
	posts, err := fresh.Recent(0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(posts) != 2*perWriter {
		t.Fatalf("expected %d posts, got %d", 2*perWriter, len(posts))
	}
}

func TestSplitText(t *testing.T) {
	if got := SplitText("short", 10); len(got) != 1 || got[0] != "short" {
		t.Fatalf("SplitText(short)=%q", got)
	}
	if got := SplitText("   ", 10); len(got) != 0 {
		t.Fatalf("SplitText(blank)=%q", got)
	}
	got := SplitText("aaaa bbbb cccc", 9)
	if len(got) != 2 || got[0] != "aaaa bbbb" || got[1] != "cccc" {
		t.Fatalf("SplitText words=%q", got)
	}
	got = SplitText("abcdefghijkl", 5)
	if len(got) != 3 || got[0] != "abcde" || got[2] != "kl" {
		t.Fatalf("SplitText long word=%q", got)
	}
	got = SplitText("one two\n\nthree four", 12)
	if len(got) != 2 || got[0] != "one two" || got[1] != "three four" {
		t.Fatalf("SplitText paragraphs=%q", got)
	}
}
