// Package generation turns a composed conversation state into a
// should-respond verdict and reply content using a language model.
package generation

import (
	"context"
	"errors"

	"github.com/cpunion/cast-bot/pkg/types"
)

// ErrEmptyResponse is returned when the model produced no usable reply text.
var ErrEmptyResponse = errors.New("empty response from model")

// Service is the generation boundary used by the responder.
type Service interface {
	ShouldRespond(ctx context.Context, st State) (types.Verdict, error)
	GenerateReply(ctx context.Context, st State) (types.Content, error)
}

// State is the prompt-ready context for one candidate post.
type State struct {
	AgentID     string
	AgentName   string
	AgentHandle string
	Bio         string

	RoomID string
	UserID string

	Timeline       string // Formatted home timeline
	CurrentPost    string // Formatted candidate post
	Conversation   string // Formatted thread, oldest first
	RecentMessages string // Recent exchanges in this room
}

func (s State) vars() map[string]string {
	return map[string]string{
		"agentName":      s.AgentName,
		"agentHandle":    s.AgentHandle,
		"bio":            s.Bio,
		"timeline":       s.Timeline,
		"currentPost":    s.CurrentPost,
		"conversation":   s.Conversation,
		"recentMessages": s.RecentMessages,
	}
}
