// Package actions routes dispatched replies to the handlers registered for
// the action tag the generator attached to them.
package actions

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/cpunion/cast-bot/pkg/types"
)

// Wildcard handlers receive every batch that carries an action.
const Wildcard = "*"

// Batch is one dispatched exchange.
type Batch struct {
	Action   string
	Post     types.Post           // The inbound post that was answered
	Inbound  types.MemoryRecord   // Its memory record
	Outbound []types.MemoryRecord // Records of the posts that were sent
}

// Handler performs the side effects of an action.
type Handler interface {
	Handle(ctx context.Context, b Batch) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, b Batch) error

func (f HandlerFunc) Handle(ctx context.Context, b Batch) error { return f(ctx, b) }

// Broker maps action tags to handlers.
type Broker struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{handlers: make(map[string][]Handler)}
}

func normalize(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

// Register adds h for the action name. Use Wildcard to observe all actions.
func (b *Broker) Register(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	name = normalize(name)
	b.handlers[name] = append(b.handlers[name], h)
}

// Unregister removes all handlers for name.
func (b *Broker) Unregister(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, normalize(name))
}

// Actions returns the registered action names.
func (b *Broker) Actions() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make([]string, 0, len(b.handlers))
	for name := range b.handlers {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}

// Process runs the handlers for the batch's action, then the wildcard
// handlers. Batches without an action, or tagged NONE, are a no-op. Handler
// errors are collected; one failing handler does not stop the others.
func (b *Broker) Process(ctx context.Context, batch Batch) error {
	action := normalize(batch.Action)
	if action == "" || action == types.ActionNone {
		return nil
	}
	batch.Action = action

	b.mu.RLock()
	targets := make([]Handler, 0, len(b.handlers[action])+len(b.handlers[Wildcard]))
	targets = append(targets, b.handlers[action]...)
	targets = append(targets, b.handlers[Wildcard]...)
	b.mu.RUnlock()

	if len(targets) == 0 {
		log.Printf("[actions] no handler for %s on post %s", action, batch.Post.ID)
		return nil
	}

	var errs []error
	for _, h := range targets {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := h.Handle(ctx, batch); err != nil {
			errs = append(errs, fmt.Errorf("action %s: %w", action, err))
		}
	}
	return errors.Join(errs...)
}
