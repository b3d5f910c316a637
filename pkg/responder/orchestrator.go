package responder

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cpunion/cast-bot/pkg/actions"
	"github.com/cpunion/cast-bot/pkg/feed"
	"github.com/cpunion/cast-bot/pkg/generation"
	"github.com/cpunion/cast-bot/pkg/identity"
	"github.com/cpunion/cast-bot/pkg/memory"
	"github.com/cpunion/cast-bot/pkg/types"
)

// Connections is the identity bookkeeping the responder keeps per author.
type Connections interface {
	EnsureConnection(ctx context.Context, c identity.Connection) error
	RecordReply(ctx context.Context, userID string) error
}

// RecentMessages keeps the rolling transcript of each room.
type RecentMessages interface {
	Recent(ctx context.Context, roomID string) (string, error)
	Refresh(ctx context.Context, roomID string, records []types.MemoryRecord) (string, error)
}

// ActionProcessor receives every dispatched exchange.
type ActionProcessor interface {
	Process(ctx context.Context, b actions.Batch) error
}

// Deps are the collaborators of an Orchestrator. Gateway, Store and
// Generator are required.
type Deps struct {
	Gateway   feed.Gateway
	Store     memory.Store
	Generator generation.Service

	Connections Connections
	Recent      RecentMessages
	Actions     ActionProcessor
	Outcomes    OutcomeLogger

	Now  func() time.Time
	Rand *rand.Rand
}

// Orchestrator runs poll cycles for one agent. Its ProcessedSet belongs to
// the instance, so several orchestrators can share a process.
type Orchestrator struct {
	cfg  Config
	deps Deps

	processed *ProcessedSet

	randMu sync.Mutex
}

// Candidate is a post selected for processing in a cycle.
type Candidate struct {
	Post   types.Post
	Source string
}

// New creates an orchestrator.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if deps.Gateway == nil || deps.Store == nil || deps.Generator == nil {
		return nil, errors.New("gateway, store and generator are required")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Rand == nil {
		deps.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Orchestrator{
		cfg:       cfg,
		deps:      deps,
		processed: NewProcessedSet(),
	}, nil
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config { return o.cfg }

// Processed returns the instance's processed set.
func (o *Orchestrator) Processed() *ProcessedSet { return o.processed }

func (o *Orchestrator) agentAuthor() types.Author {
	return types.Author{ID: o.cfg.AgentID, Handle: o.cfg.AgentHandle, DisplayName: o.cfg.AgentName}
}

func (o *Orchestrator) randIntn(n int) int {
	o.randMu.Lock()
	defer o.randMu.Unlock()
	return o.deps.Rand.Intn(n)
}

// RunCycle aggregates candidates and processes them. Failures of single
// candidates do not stop the cycle; they are joined into the returned error.
func (o *Orchestrator) RunCycle(ctx context.Context) error {
	candidates, err := o.Candidates(ctx)
	if err != nil {
		return err
	}
	log.Printf("[%s] cycle: %d candidates", o.cfg.AgentHandle, len(candidates))

	var (
		mu   sync.Mutex
		errs []error
	)
	collect := func(out Outcome) {
		if out.Stage != StageFailed {
			return
		}
		mu.Lock()
		errs = append(errs, fmt.Errorf("post %s: %s", out.PostID, out.Error))
		mu.Unlock()
	}

	if o.cfg.Concurrency <= 1 {
		for _, c := range candidates {
			if err := ctx.Err(); err != nil {
				return err
			}
			collect(o.process(ctx, c))
		}
		return errors.Join(errs...)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Concurrency)
	for _, c := range candidates {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			collect(o.process(gctx, c))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return errors.Join(errs...)
}

// ProcessCandidate runs the response pipeline for a single post.
func (o *Orchestrator) ProcessCandidate(ctx context.Context, post types.Post) Outcome {
	return o.process(ctx, Candidate{Post: post, Source: SourceDirect})
}

func (o *Orchestrator) process(ctx context.Context, c Candidate) Outcome {
	out := Outcome{
		AgentID:  o.cfg.AgentID,
		PostID:   c.Post.ID,
		AuthorID: c.Post.AuthorID,
		Source:   c.Source,
	}
	o.runRecovered(ctx, c.Post, &out)
	out.Timestamp = o.deps.Now()
	if o.deps.Outcomes != nil {
		if err := o.deps.Outcomes.LogOutcome(out); err != nil {
			log.Printf("[%s] failed to log outcome: %v", o.cfg.AgentHandle, err)
		}
	}
	return out
}

// runRecovered turns a panic in a collaborator into a failed outcome, so a
// worker goroutine never takes the process down.
func (o *Orchestrator) runRecovered(ctx context.Context, post types.Post, out *Outcome) {
	defer func() {
		if r := recover(); r != nil {
			o.fail(out, StageFailed, fmt.Errorf("panic: %v", r))
		}
	}()
	o.runPipeline(ctx, post, out)
}

func (o *Orchestrator) fail(out *Outcome, stage Stage, err error) {
	out.Stage = stage
	out.Error = err.Error()
	log.Printf("[%s] post %s: %s: %v", o.cfg.AgentHandle, out.PostID, stage, err)
}

func (o *Orchestrator) skip(out *Outcome, stage Stage, reason string) {
	out.Stage = stage
	log.Printf("[%s] skip post %s: %s", o.cfg.AgentHandle, out.PostID, reason)
}

func (o *Orchestrator) runPipeline(ctx context.Context, post types.Post, out *Outcome) {
	handle := o.cfg.AgentHandle

	// Fast, process-local layer.
	if !o.processed.TryBegin(post.ID) {
		o.skip(out, StageDuplicate, "already handled in this process")
		return
	}
	defer o.processed.End(post.ID)

	// Durable layer.
	settled, err := o.isSettled(ctx, post.ID)
	if err != nil {
		o.fail(out, StageFailed, err)
		return
	}
	if settled {
		o.skip(out, StageDuplicate, "already recorded")
		return
	}

	if post.AuthorID == o.cfg.AgentID {
		o.skip(out, StageSelf, "authored by agent")
		return
	}
	if post.Text == "" {
		o.skip(out, StageEmptyText, "no text")
		return
	}

	conv := o.buildContext(ctx, post)

	inbound, err := o.recordInbound(ctx, post, conv)
	if err != nil {
		o.fail(out, StageFailed, err)
		return
	}

	verdict, err := o.deps.Generator.ShouldRespond(ctx, conv.State)
	if err != nil {
		if o.cfg.RespondPolicy == types.PolicyEnforce {
			o.fail(out, StageFailed, fmt.Errorf("failed to classify: %w", err))
			return
		}
		log.Printf("[%s] should-respond failed for %s, continuing: %v", handle, post.ID, err)
	}
	out.Verdict = verdict
	log.Printf("[%s] should-respond for %s: %s (policy %s)", handle, post.ID, verdict, o.cfg.RespondPolicy)
	if o.cfg.RespondPolicy == types.PolicyEnforce && !verdict.ShouldRespond() {
		o.settle(ctx, post, conv, inbound.ID, types.DispositionDeclined)
		o.skip(out, StagePolicySkip, "verdict "+string(verdict))
		return
	}

	content, err := o.deps.Generator.GenerateReply(ctx, conv.State)
	if err != nil && !errors.Is(err, generation.ErrEmptyResponse) {
		o.fail(out, StageFailed, err)
		return
	}
	if content.Text == "" {
		o.settle(ctx, post, conv, inbound.ID, types.DispositionSilent)
		o.skip(out, StageEmptyReply, "generated reply is empty")
		return
	}
	content.InReplyTo = inbound.ID
	content.Source = o.cfg.Source
	if content.Action == "" {
		content.Action = types.ActionNone
	}
	out.Reply = content.Text
	out.Action = content.Action

	if o.cfg.DryRun {
		o.processed.Add(post.ID)
		out.Stage = StageDryRun
		log.Printf("[%s] dry run, would reply to %s: %s", handle, post.ID, content.Text)
		return
	}

	target := types.ReplyTarget{AuthorID: post.AuthorID, PostID: post.ID}
	sent, err := o.deps.Gateway.PostReply(ctx, o.cfg.SignerID, o.agentAuthor(), content, target)
	if err != nil {
		o.fail(out, StageDispatchFailed, err)
		return
	}

	o.processed.Add(post.ID)
	outbound := o.recordOutbound(ctx, conv, inbound.ID, content, sent)
	o.settle(ctx, post, conv, inbound.ID, types.DispositionReplied)
	for _, p := range sent {
		out.SentIDs = append(out.SentIDs, p.ID)
	}
	log.Printf("[%s] replied to %s with %d post(s)", handle, post.ID, len(sent))

	o.propagate(ctx, post, conv, *inbound, outbound, content.Action)
	out.Stage = StageCompleted
}

// isSettled reports whether the post already has a disposition record.
func (o *Orchestrator) isSettled(ctx context.Context, postID string) (bool, error) {
	rec, err := o.deps.Store.GetByID(ctx, memory.DispositionID(o.cfg.AgentID, postID))
	if err != nil {
		return false, fmt.Errorf("failed to check memory: %w", err)
	}
	return rec != nil, nil
}

// recordInbound creates the inbound record unless one exists.
func (o *Orchestrator) recordInbound(ctx context.Context, post types.Post, conv *conversation) (*types.MemoryRecord, error) {
	id := memory.RecordID(o.cfg.AgentID, post.ID)
	existing, err := o.deps.Store.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to check memory: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	rec := &types.MemoryRecord{
		ID:      id,
		Kind:    types.KindInbound,
		RoomID:  conv.RoomID,
		UserID:  conv.UserID,
		AgentID: o.cfg.AgentID,
		PostID:  post.ID,
		Content: types.Content{
			Text:   post.Text,
			Source: o.cfg.Source,
		},
		CreatedAt: post.CreatedAt,
	}
	if post.IsReply() {
		rec.Content.InReplyTo = memory.RecordID(o.cfg.AgentID, post.Parent.ID)
	}
	if err := o.deps.Store.Create(ctx, rec); err != nil {
		if errors.Is(err, memory.ErrExists) {
			return rec, nil
		}
		return nil, fmt.Errorf("failed to record inbound post: %w", err)
	}
	return rec, nil
}

// recordOutbound stores one record per sent post, each replying to the
// previous one. Store errors are logged; the reply is already public.
func (o *Orchestrator) recordOutbound(ctx context.Context, conv *conversation, inboundID string, content types.Content, sent []types.Post) []types.MemoryRecord {
	records := make([]types.MemoryRecord, 0, len(sent))
	prev := inboundID
	for _, p := range sent {
		rec := types.MemoryRecord{
			ID:      memory.RecordID(o.cfg.AgentID, p.ID),
			Kind:    types.KindOutbound,
			RoomID:  conv.RoomID,
			UserID:  memory.UserID(o.cfg.AgentID),
			AgentID: o.cfg.AgentID,
			PostID:  p.ID,
			Content: types.Content{
				Text:      p.Text,
				InReplyTo: prev,
				Action:    content.Action,
				Source:    content.Source,
			},
			CreatedAt: p.CreatedAt,
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = o.deps.Now()
		}
		if err := o.deps.Store.Create(ctx, &rec); err != nil && !errors.Is(err, memory.ErrExists) {
			log.Printf("[%s] failed to record outbound post %s: %v", o.cfg.AgentHandle, p.ID, err)
		}
		records = append(records, rec)
		prev = rec.ID
	}
	return records
}

// settle writes the disposition record that closes the post for good.
func (o *Orchestrator) settle(ctx context.Context, post types.Post, conv *conversation, inboundID, disposition string) {
	rec := &types.MemoryRecord{
		ID:      memory.DispositionID(o.cfg.AgentID, post.ID),
		Kind:    types.KindDisposition,
		RoomID:  conv.RoomID,
		UserID:  conv.UserID,
		AgentID: o.cfg.AgentID,
		PostID:  post.ID,
		Content: types.Content{
			InReplyTo: inboundID,
			Action:    disposition,
			Source:    o.cfg.Source,
		},
		CreatedAt: o.deps.Now(),
	}
	if err := o.deps.Store.Create(ctx, rec); err != nil && !errors.Is(err, memory.ErrExists) {
		log.Printf("[%s] failed to settle post %s: %v", o.cfg.AgentHandle, post.ID, err)
	}
}

func (o *Orchestrator) propagate(ctx context.Context, post types.Post, conv *conversation, inbound types.MemoryRecord, outbound []types.MemoryRecord, action string) {
	handle := o.cfg.AgentHandle
	if o.deps.Recent != nil {
		records := append([]types.MemoryRecord{inbound}, outbound...)
		if _, err := o.deps.Recent.Refresh(ctx, conv.RoomID, records); err != nil {
			log.Printf("[%s] failed to refresh recent messages: %v", handle, err)
		}
	}
	if o.deps.Connections != nil {
		if err := o.deps.Connections.RecordReply(ctx, conv.UserID); err != nil {
			log.Printf("[%s] failed to record reply: %v", handle, err)
		}
	}
	if o.deps.Actions != nil {
		batch := actions.Batch{
			Action:   action,
			Post:     post,
			Inbound:  inbound,
			Outbound: outbound,
		}
		if err := o.deps.Actions.Process(ctx, batch); err != nil {
			log.Printf("[%s] action processing failed: %v", handle, err)
		}
	}
}
