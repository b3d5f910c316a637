package feed

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/cpunion/cast-bot/pkg/types"
)

// Throttled wraps a Gateway and waits on a token bucket before every call.
type Throttled struct {
	next    Gateway
	limiter *rate.Limiter
}

// Throttle limits g to perSecond calls with the given burst. A non-positive
// rate returns g unchanged.
func Throttle(g Gateway, perSecond float64, burst int) Gateway {
	if perSecond <= 0 {
		return g
	}
	if burst <= 0 {
		burst = 1
	}
	return &Throttled{next: g, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (t *Throttled) wait(ctx context.Context) error {
	return t.limiter.Wait(ctx)
}

func (t *Throttled) GetMentions(ctx context.Context, agentID string, pageSize int) ([]types.Post, error) {
	if err := t.wait(ctx); err != nil {
		return nil, err
	}
	return t.next.GetMentions(ctx, agentID, pageSize)
}

func (t *Throttled) LookupAuthor(ctx context.Context, handle, viewerID string) (*types.Author, error) {
	if err := t.wait(ctx); err != nil {
		return nil, err
	}
	return t.next.LookupAuthor(ctx, handle, viewerID)
}

func (t *Throttled) FetchRecentPosts(ctx context.Context, authorID, viewerID string, limit int, includeReplies bool) ([]types.Post, error) {
	if err := t.wait(ctx); err != nil {
		return nil, err
	}
	return t.next.FetchRecentPosts(ctx, authorID, viewerID, limit, includeReplies)
}

func (t *Throttled) GetTimeline(ctx context.Context, agentID string, pageSize int) ([]types.Post, error) {
	if err := t.wait(ctx); err != nil {
		return nil, err
	}
	return t.next.GetTimeline(ctx, agentID, pageSize)
}

func (t *Throttled) GetPost(ctx context.Context, postID string) (*types.Post, error) {
	if err := t.wait(ctx); err != nil {
		return nil, err
	}
	return t.next.GetPost(ctx, postID)
}

func (t *Throttled) PostReply(ctx context.Context, signerID string, author types.Author, content types.Content, target types.ReplyTarget) ([]types.Post, error) {
	if err := t.wait(ctx); err != nil {
		return nil, err
	}
	return t.next.PostReply(ctx, signerID, author, content, target)
}
