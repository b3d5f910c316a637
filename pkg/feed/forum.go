package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cpunion/cast-bot/pkg/types"
)

// DefaultMaxPostLength is the longest post the forum accepts, in runes.
const DefaultMaxPostLength = 320

var postNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("cast-bot/forum"))

// Forum is a local feed persisted as a single JSON file.
//
// Several processes may share the file: every call reloads it when it
// changed on disk, and writes hold an advisory lock on path+".lock" across
// reload, change and a temp file rename.
type Forum struct {
	mu sync.Mutex

	path          string
	maxPostLength int
	now           func() time.Time

	data forumData
	byID map[string]int
	stat os.FileInfo // Of the file as last loaded or saved
}

type forumData struct {
	Name    string              `json:"name"`
	Authors []types.Author      `json:"authors"`
	Posts   []types.Post        `json:"posts"`   // Publish order
	Follows map[string][]string `json:"follows"` // Author ID -> followed author IDs
}

// ForumConfig configures a Forum.
type ForumConfig struct {
	Path          string // JSON file, created on first write
	Name          string
	MaxPostLength int
	Now           func() time.Time
}

// OpenForum opens the forum file at cfg.Path, creating an empty forum if the
// file does not exist.
func OpenForum(cfg ForumConfig) (*Forum, error) {
	if cfg.Path == "" {
		return nil, errors.New("forum path is required")
	}
	if cfg.MaxPostLength <= 0 {
		cfg.MaxPostLength = DefaultMaxPostLength
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	f := &Forum{
		path:          cfg.Path,
		maxPostLength: cfg.MaxPostLength,
		now:           cfg.Now,
		data:          forumData{Name: cfg.Name, Follows: map[string][]string{}},
		byID:          map[string]int{},
	}
	if err := f.reloadLocked(); err != nil {
		return nil, err
	}
	if f.data.Name == "" {
		f.data.Name = cfg.Name
	}
	return f, nil
}

// reloadLocked re-reads the file if it changed since the last load.
func (f *Forum) reloadLocked() error {
	info, err := os.Stat(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if f.stat != nil && os.SameFile(info, f.stat) &&
		info.ModTime().Equal(f.stat.ModTime()) && info.Size() == f.stat.Size() {
		return nil
	}

	raw, err := os.ReadFile(f.path)
	if err != nil {
		return err
	}
	var data forumData
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("failed to parse forum %s: %w", f.path, err)
	}
	if data.Follows == nil {
		data.Follows = map[string][]string{}
	}
	f.data = data
	f.byID = make(map[string]int, len(data.Posts))
	for i, p := range data.Posts {
		f.byID[p.ID] = i
	}
	f.stat = info
	return nil
}

func (f *Forum) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(&f.data, "", "  ")
	if err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return err
	}
	if info, err := os.Stat(f.path); err == nil {
		f.stat = info
	}
	return nil
}

// beginWrite takes the in-process and file locks and loads the latest data.
// The returned func releases both.
func (f *Forum) beginWrite() (func(), error) {
	f.mu.Lock()
	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	unlock, err := lockFile(f.path)
	if err != nil {
		f.mu.Unlock()
		return nil, fmt.Errorf("failed to lock forum %s: %w", f.path, err)
	}
	release := func() {
		unlock()
		f.mu.Unlock()
	}
	if err := f.reloadLocked(); err != nil {
		release()
		return nil, err
	}
	return release, nil
}

func (f *Forum) authorLocked(id string) (types.Author, bool) {
	for _, a := range f.data.Authors {
		if a.ID == id {
			return a, true
		}
	}
	return types.Author{}, false
}

func (f *Forum) authorByHandleLocked(handle string) (types.Author, bool) {
	handle = strings.TrimPrefix(handle, "@")
	for _, a := range f.data.Authors {
		if strings.EqualFold(a.Handle, handle) {
			return a, true
		}
	}
	return types.Author{}, false
}

// withAuthor fills the author profile of a stored post.
func (f *Forum) withAuthor(p types.Post) types.Post {
	if a, ok := f.authorLocked(p.AuthorID); ok {
		p.Author = a
	} else {
		p.Author = types.Author{ID: p.AuthorID}
	}
	return p
}

// newestFirst walks posts from the end and keeps those accepted by keep.
func (f *Forum) newestFirst(limit int, keep func(types.Post) bool) []types.Post {
	out := make([]types.Post, 0)
	for i := len(f.data.Posts) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		p := f.data.Posts[i]
		if keep(p) {
			out = append(out, f.withAuthor(p))
		}
	}
	return out
}

// RegisterAuthor creates or updates an account. Handles are unique.
func (f *Forum) RegisterAuthor(a types.Author) error {
	if a.ID == "" || a.Handle == "" {
		return errors.New("author id and handle are required")
	}
	a.Handle = strings.TrimPrefix(a.Handle, "@")

	release, err := f.beginWrite()
	if err != nil {
		return err
	}
	defer release()

	if other, ok := f.authorByHandleLocked(a.Handle); ok && other.ID != a.ID {
		return fmt.Errorf("handle @%s is taken by %s", a.Handle, other.ID)
	}
	for i := range f.data.Authors {
		if f.data.Authors[i].ID == a.ID {
			f.data.Authors[i] = a
			return f.saveLocked()
		}
	}
	f.data.Authors = append(f.data.Authors, a)
	return f.saveLocked()
}

// Follow makes followerID see followeeID's posts on its timeline.
func (f *Forum) Follow(followerID, followeeID string) error {
	release, err := f.beginWrite()
	if err != nil {
		return err
	}
	defer release()
	for _, id := range []string{followerID, followeeID} {
		if _, ok := f.authorLocked(id); !ok {
			return fmt.Errorf("author %s: %w", id, ErrNotFound)
		}
	}
	for _, id := range f.data.Follows[followerID] {
		if id == followeeID {
			return nil
		}
	}
	f.data.Follows[followerID] = append(f.data.Follows[followerID], followeeID)
	return f.saveLocked()
}

// Publish adds a post by authorID. parentID may be empty.
func (f *Forum) Publish(authorID, text, parentID string) (*types.Post, error) {
	release, err := f.beginWrite()
	if err != nil {
		return nil, err
	}
	defer release()
	p, err := f.publishLocked(authorID, text, parentID)
	if err != nil {
		return nil, err
	}
	if err := f.saveLocked(); err != nil {
		return nil, err
	}
	out := f.withAuthor(*p)
	return &out, nil
}

func (f *Forum) publishLocked(authorID, text, parentID string) (*types.Post, error) {
	if _, ok := f.authorLocked(authorID); !ok {
		return nil, fmt.Errorf("author %s: %w", authorID, ErrNotFound)
	}
	if len([]rune(text)) > f.maxPostLength {
		return nil, fmt.Errorf("post is %d characters, limit is %d", len([]rune(text)), f.maxPostLength)
	}

	now := f.now()
	p := types.Post{
		AuthorID:  authorID,
		Text:      text,
		CreatedAt: now,
	}
	if parentID != "" {
		i, ok := f.byID[parentID]
		if !ok {
			return nil, fmt.Errorf("parent %s: %w", parentID, ErrNotFound)
		}
		p.Parent = &types.ParentRef{ID: parentID, AuthorID: f.data.Posts[i].AuthorID}
	}
	seed := fmt.Sprintf("%s|%s|%s|%d|%d", authorID, parentID, text, now.UnixNano(), len(f.data.Posts))
	p.ID = "0x" + strings.ReplaceAll(uuid.NewSHA1(postNamespace, []byte(seed)).String(), "-", "")

	f.data.Posts = append(f.data.Posts, p)
	f.byID[p.ID] = len(f.data.Posts) - 1
	return &p, nil
}

// Recent returns the newest posts across the forum.
func (f *Forum) Recent(limit int) ([]types.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.reloadLocked(); err != nil {
		return nil, err
	}
	return f.newestFirst(limit, func(types.Post) bool { return true }), nil
}

// Replies returns the direct replies to postID, oldest first.
func (f *Forum) Replies(postID string) ([]types.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.reloadLocked(); err != nil {
		return nil, err
	}
	out := make([]types.Post, 0)
	for _, p := range f.data.Posts {
		if p.Parent != nil && p.Parent.ID == postID {
			out = append(out, f.withAuthor(p))
		}
	}
	return out, nil
}

// GetMentions implements Gateway. A mention is a post by someone else that
// contains @handle or replies to one of the agent's posts.
func (f *Forum) GetMentions(ctx context.Context, agentID string, pageSize int) ([]types.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.reloadLocked(); err != nil {
		return nil, err
	}
	agent, ok := f.authorLocked(agentID)
	if !ok {
		return nil, fmt.Errorf("agent %s: %w", agentID, ErrNotFound)
	}
	re := mentionPattern(agent.Handle)
	return f.newestFirst(pageSize, func(p types.Post) bool {
		if p.AuthorID == agentID {
			return false
		}
		if p.Parent != nil && p.Parent.AuthorID == agentID {
			return true
		}
		return re.MatchString(p.Text)
	}), nil
}

func mentionPattern(handle string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)(^|[^\w@])@` + regexp.QuoteMeta(handle) + `\b`)
}

// LookupAuthor implements Gateway.
func (f *Forum) LookupAuthor(ctx context.Context, handle, viewerID string) (*types.Author, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.reloadLocked(); err != nil {
		return nil, err
	}
	a, ok := f.authorByHandleLocked(handle)
	if !ok {
		return nil, fmt.Errorf("author @%s: %w", strings.TrimPrefix(handle, "@"), ErrNotFound)
	}
	return &a, nil
}

// FetchRecentPosts implements Gateway.
func (f *Forum) FetchRecentPosts(ctx context.Context, authorID, viewerID string, limit int, includeReplies bool) ([]types.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.reloadLocked(); err != nil {
		return nil, err
	}
	if _, ok := f.authorLocked(authorID); !ok {
		return nil, fmt.Errorf("author %s: %w", authorID, ErrNotFound)
	}
	return f.newestFirst(limit, func(p types.Post) bool {
		return p.AuthorID == authorID && (includeReplies || !p.IsReply())
	}), nil
}

// GetTimeline implements Gateway. The timeline holds the agent's own posts
// and those of the accounts it follows; an agent that follows nobody sees
// the whole forum.
func (f *Forum) GetTimeline(ctx context.Context, agentID string, pageSize int) ([]types.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.reloadLocked(); err != nil {
		return nil, err
	}
	follows := f.data.Follows[agentID]
	if len(follows) == 0 {
		return f.newestFirst(pageSize, func(types.Post) bool { return true }), nil
	}
	visible := map[string]bool{agentID: true}
	for _, id := range follows {
		visible[id] = true
	}
	return f.newestFirst(pageSize, func(p types.Post) bool { return visible[p.AuthorID] }), nil
}

// GetPost implements Gateway.
func (f *Forum) GetPost(ctx context.Context, postID string) (*types.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.reloadLocked(); err != nil {
		return nil, err
	}
	i, ok := f.byID[postID]
	if !ok {
		return nil, fmt.Errorf("post %s: %w", postID, ErrNotFound)
	}
	p := f.withAuthor(f.data.Posts[i])
	return &p, nil
}

// PostReply implements Gateway. Text longer than the post limit is split on
// word boundaries into a chain where each part replies to the previous one.
func (f *Forum) PostReply(ctx context.Context, signerID string, author types.Author, content types.Content, target types.ReplyTarget) ([]types.Post, error) {
	if strings.TrimSpace(content.Text) == "" {
		return nil, errors.New("reply text is empty")
	}
	if signerID != "" && signerID != author.ID {
		return nil, fmt.Errorf("signer %s cannot post as %s", signerID, author.ID)
	}

	release, err := f.beginWrite()
	if err != nil {
		return nil, err
	}
	defer release()
	i, ok := f.byID[target.PostID]
	if !ok {
		return nil, fmt.Errorf("reply target %s: %w", target.PostID, ErrNotFound)
	}
	if target.AuthorID != "" && f.data.Posts[i].AuthorID != target.AuthorID {
		return nil, fmt.Errorf("reply target %s is not by %s", target.PostID, target.AuthorID)
	}

	// Roll back on failure so a partial chain is never persisted.
	saved := len(f.data.Posts)
	rollback := func() {
		for _, p := range f.data.Posts[saved:] {
			delete(f.byID, p.ID)
		}
		f.data.Posts = f.data.Posts[:saved]
	}

	parent := target.PostID
	sent := make([]types.Post, 0, 1)
	for _, chunk := range SplitText(content.Text, f.maxPostLength) {
		p, err := f.publishLocked(author.ID, chunk, parent)
		if err != nil {
			rollback()
			return nil, err
		}
		sent = append(sent, f.withAuthor(*p))
		parent = p.ID
	}
	if err := f.saveLocked(); err != nil {
		rollback()
		return nil, fmt.Errorf("failed to save forum: %w", err)
	}
	return sent, nil
}

// Thread returns the ancestors of postID followed by the post itself,
// oldest first.
func (f *Forum) Thread(postID string) ([]types.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.reloadLocked(); err != nil {
		return nil, err
	}
	var chain []types.Post
	seen := map[string]bool{}
	for id := postID; id != "" && !seen[id]; {
		seen[id] = true
		i, ok := f.byID[id]
		if !ok {
			break
		}
		p := f.data.Posts[i]
		chain = append(chain, f.withAuthor(p))
		id = ""
		if p.Parent != nil {
			id = p.Parent.ID
		}
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("post %s: %w", postID, ErrNotFound)
	}
	slices.Reverse(chain)
	return chain, nil
}
