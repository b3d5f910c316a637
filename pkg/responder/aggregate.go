package responder

import (
	"context"
	"fmt"
	"log"
	"strings"
	"unicode/utf8"

	"github.com/cpunion/cast-bot/pkg/types"
)

// Candidates returns the mentions of the agent followed by at most one
// sampled post per tracked author. A failing author is logged and skipped;
// a failing mention fetch fails the cycle.
func (o *Orchestrator) Candidates(ctx context.Context) ([]Candidate, error) {
	mentions, err := o.deps.Gateway.GetMentions(ctx, o.cfg.AgentID, o.cfg.MentionPageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch mentions: %w", err)
	}

	candidates := make([]Candidate, 0, len(mentions)+len(o.cfg.TrackedAuthors))
	for _, p := range mentions {
		candidates = append(candidates, Candidate{Post: p, Source: SourceMention})
	}

	for _, handle := range o.cfg.TrackedAuthors {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		handle = strings.TrimPrefix(strings.TrimSpace(handle), "@")
		if handle == "" {
			continue
		}
		if p, ok := o.sampleAuthor(ctx, handle); ok {
			candidates = append(candidates, Candidate{Post: p, Source: SourceTracked})
		}
	}
	return candidates, nil
}

func (o *Orchestrator) sampleAuthor(ctx context.Context, handle string) (types.Post, bool) {
	agent := o.cfg.AgentHandle

	author, err := o.deps.Gateway.LookupAuthor(ctx, handle, o.cfg.AgentID)
	if err != nil {
		log.Printf("[%s] failed to look up @%s: %v", agent, handle, err)
		return types.Post{}, false
	}
	if author == nil {
		log.Printf("[%s] tracked author @%s not found", agent, handle)
		return types.Post{}, false
	}

	posts, err := o.deps.Gateway.FetchRecentPosts(ctx, author.ID, o.cfg.AgentID, o.cfg.PerUserLimit, !o.cfg.ExcludeReplies)
	if err != nil {
		log.Printf("[%s] failed to fetch posts of @%s: %v", agent, handle, err)
		return types.Post{}, false
	}

	eligible := o.filterRecent(handle, posts)
	if len(eligible) == 0 {
		return types.Post{}, false
	}
	pick := eligible[o.randIntn(len(eligible))]
	if pick.Author.ID == "" {
		pick.Author = *author
	}
	log.Printf("[%s] picked %s from @%s (%d eligible)", agent, pick.ID, handle, len(eligible))
	return pick, true
}

// filterRecent keeps posts that are unanswered, inside the recency window
// and longer than the minimum text length.
func (o *Orchestrator) filterRecent(handle string, posts []types.Post) []types.Post {
	now := o.deps.Now()
	out := make([]types.Post, 0, len(posts))
	for _, p := range posts {
		isReply := p.IsReply()
		if o.processed.Has(p.ID) {
			continue
		}
		if now.Sub(p.CreatedAt) > o.cfg.RecencyWindow {
			continue
		}
		if utf8.RuneCountInString(p.Text) <= o.cfg.MinTextLength {
			continue
		}
		if isReply && o.cfg.ExcludeReplies {
			continue
		}
		log.Printf("[%s] @%s post %s eligible (reply=%t)", o.cfg.AgentHandle, handle, p.ID, isReply)
		out = append(out, p)
	}
	return out
}
