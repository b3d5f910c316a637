package responder

import (
	"context"
	"errors"
	"log"

	"github.com/cpunion/cast-bot/pkg/actions"
	"github.com/cpunion/cast-bot/pkg/generation"
	"github.com/cpunion/cast-bot/pkg/types"
)

// ContinueHandler returns an action handler that lets the agent add one
// follow-up post under its own reply. The follow-up's own action tag is
// stored but not processed again.
func (o *Orchestrator) ContinueHandler() actions.Handler {
	return actions.HandlerFunc(o.continueThread)
}

func (o *Orchestrator) continueThread(ctx context.Context, b actions.Batch) error {
	if len(b.Outbound) == 0 {
		return nil
	}
	last := b.Outbound[len(b.Outbound)-1]

	lastPost, err := o.deps.Gateway.GetPost(ctx, last.PostID)
	if err != nil {
		return err
	}
	// Stay in the room of the original exchange.
	conv := &conversation{RoomID: b.Inbound.RoomID, UserID: b.Inbound.UserID}
	o.composeState(ctx, *lastPost, conv)

	content, err := o.deps.Generator.GenerateReply(ctx, conv.State)
	if err != nil {
		if errors.Is(err, generation.ErrEmptyResponse) {
			return nil
		}
		return err
	}
	if content.Text == "" {
		return nil
	}
	content.InReplyTo = last.ID
	content.Source = o.cfg.Source
	if content.Action == "" {
		content.Action = types.ActionNone
	}

	if o.cfg.DryRun {
		log.Printf("[%s] dry run, would continue %s: %s", o.cfg.AgentHandle, last.PostID, content.Text)
		return nil
	}

	target := types.ReplyTarget{AuthorID: o.cfg.AgentID, PostID: last.PostID}
	sent, err := o.deps.Gateway.PostReply(ctx, o.cfg.SignerID, o.agentAuthor(), content, target)
	if err != nil {
		return err
	}
	records := o.recordOutbound(ctx, conv, last.ID, content, sent)
	if o.deps.Recent != nil {
		if _, err := o.deps.Recent.Refresh(ctx, conv.RoomID, records); err != nil {
			log.Printf("[%s] failed to refresh recent messages: %v", o.cfg.AgentHandle, err)
		}
	}
	log.Printf("[%s] continued %s with %d post(s)", o.cfg.AgentHandle, b.Post.ID, len(sent))
	return nil
}
