// Package feed defines the social feed boundary the responder talks to and
// provides a file-backed local implementation of it.
package feed

import (
	"context"
	"errors"

	"github.com/cpunion/cast-bot/pkg/types"
)

// ErrNotFound is returned when a post or author does not exist.
var ErrNotFound = errors.New("not found")

// Gateway is the feed API used by the responder. Implementations own the
// wire protocol, timeouts and retries.
type Gateway interface {
	// GetMentions returns posts that mention or reply to the agent, newest first.
	GetMentions(ctx context.Context, agentID string, pageSize int) ([]types.Post, error)
	// LookupAuthor resolves a handle as seen by viewerID.
	LookupAuthor(ctx context.Context, handle, viewerID string) (*types.Author, error)
	// FetchRecentPosts returns up to limit of the author's posts, newest first.
	FetchRecentPosts(ctx context.Context, authorID, viewerID string, limit int, includeReplies bool) ([]types.Post, error)
	// GetTimeline returns the agent's home timeline, newest first.
	GetTimeline(ctx context.Context, agentID string, pageSize int) ([]types.Post, error)
	// GetPost returns a single post or ErrNotFound.
	GetPost(ctx context.Context, postID string) (*types.Post, error)
	// PostReply publishes content as author, addressed to target. A long
	// reply may be published as several posts; all of them are returned in
	// publish order.
	PostReply(ctx context.Context, signerID string, author types.Author, content types.Content, target types.ReplyTarget) ([]types.Post, error)
}
