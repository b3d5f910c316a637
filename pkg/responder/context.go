package responder

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/cpunion/cast-bot/pkg/generation"
	"github.com/cpunion/cast-bot/pkg/identity"
	"github.com/cpunion/cast-bot/pkg/memory"
	"github.com/cpunion/cast-bot/pkg/types"
)

// conversation is the context assembled for one candidate.
type conversation struct {
	ID     string
	RoomID string
	UserID string
	Thread []types.Post // Oldest first, ends with the candidate
	State  generation.State
}

// buildContext assembles identity, thread and timeline for post. Every
// step degrades to an empty value on failure.
func (o *Orchestrator) buildContext(ctx context.Context, post types.Post) *conversation {
	conv := &conversation{ID: memory.ConversationID(post.ID, o.cfg.AgentID)}
	conv.RoomID = memory.RoomID(conv.ID)
	conv.UserID = memory.UserID(post.AuthorID)

	if o.deps.Connections != nil {
		err := o.deps.Connections.EnsureConnection(ctx, identity.Connection{
			UserID:      conv.UserID,
			RoomID:      conv.RoomID,
			AuthorID:    post.AuthorID,
			Handle:      post.Author.Handle,
			DisplayName: post.Author.DisplayName,
			Source:      o.cfg.Source,
		})
		if err != nil {
			log.Printf("[%s] failed to ensure connection for %s: %v", o.cfg.AgentHandle, post.AuthorID, err)
		}
	}

	o.composeState(ctx, post, conv)
	return conv
}

// composeState fills conv.Thread and conv.State for post.
func (o *Orchestrator) composeState(ctx context.Context, post types.Post, conv *conversation) {
	handle := o.cfg.AgentHandle
	conv.Thread = o.buildThread(ctx, post)

	timeline, err := o.deps.Gateway.GetTimeline(ctx, o.cfg.AgentID, o.cfg.TimelinePageSize)
	if err != nil {
		log.Printf("[%s] failed to fetch timeline: %v", handle, err)
	}

	var recent string
	if o.deps.Recent != nil {
		if recent, err = o.deps.Recent.Recent(ctx, conv.RoomID); err != nil {
			log.Printf("[%s] failed to load recent messages: %v", handle, err)
		}
	}

	conv.State = generation.State{
		AgentID:        o.cfg.AgentID,
		AgentName:      o.cfg.AgentName,
		AgentHandle:    o.cfg.AgentHandle,
		Bio:            o.cfg.Bio,
		RoomID:         conv.RoomID,
		UserID:         conv.UserID,
		Timeline:       FormatTimeline(o.cfg.AgentName, timeline),
		CurrentPost:    FormatPost(post),
		Conversation:   FormatConversation(conv.Thread),
		RecentMessages: recent,
	}
}

// buildThread walks parent links up to MaxThreadDepth ancestors. An
// unresolvable parent or a loop ends the walk.
func (o *Orchestrator) buildThread(ctx context.Context, post types.Post) []types.Post {
	chain := []types.Post{post}
	seen := map[string]bool{post.ID: true}

	cur := post
	for depth := 0; cur.IsReply() && depth < o.cfg.MaxThreadDepth; depth++ {
		parentID := cur.Parent.ID
		if seen[parentID] {
			log.Printf("[%s] thread loop at %s", o.cfg.AgentHandle, parentID)
			break
		}
		parent, err := o.deps.Gateway.GetPost(ctx, parentID)
		if err != nil || parent == nil {
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("[%s] thread truncated at %s: %v", o.cfg.AgentHandle, parentID, err)
			}
			break
		}
		seen[parentID] = true
		chain = append(chain, *parent)
		cur = *parent
	}

	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

func displayName(a types.Author, fallbackID string) string {
	if a.DisplayName != "" {
		return a.DisplayName
	}
	if a.Handle != "" {
		return a.Handle
	}
	return fallbackID
}

func handleOf(p types.Post) string {
	if p.Author.Handle != "" {
		return p.Author.Handle
	}
	return p.AuthorID
}

// FormatPost renders a post for a prompt.
func FormatPost(p types.Post) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "ID: %s\n", p.ID)
	fmt.Fprintf(&sb, "From: %s (@%s)\n", displayName(p.Author, p.AuthorID), handleOf(p))
	if p.IsReply() {
		fmt.Fprintf(&sb, "In reply to: %s\n", p.Parent.ID)
	}
	fmt.Fprintf(&sb, "Text: %s", p.Text)
	return sb.String()
}

// FormatTimeline renders the agent's home timeline, newest first.
func FormatTimeline(agentName string, posts []types.Post) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s's Home Timeline\n", agentName)
	for _, p := range posts {
		sb.WriteString("\n")
		sb.WriteString(FormatPost(p))
		sb.WriteString("\n")
	}
	return sb.String()
}

// FormatConversation renders a thread one post per line, oldest first.
func FormatConversation(thread []types.Post) string {
	lines := make([]string, 0, len(thread))
	for _, p := range thread {
		lines = append(lines, fmt.Sprintf("@%s (%s): %s",
			handleOf(p), p.CreatedAt.UTC().Format(time.RFC3339), p.Text))
	}
	return strings.Join(lines, "\n")
}
