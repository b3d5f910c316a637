package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"google.golang.org/adk/model"
	"google.golang.org/adk/session"

	"github.com/cpunion/cast-bot/pkg/actions"
	"github.com/cpunion/cast-bot/pkg/config"
	"github.com/cpunion/cast-bot/pkg/feed"
	"github.com/cpunion/cast-bot/pkg/generation"
	"github.com/cpunion/cast-bot/pkg/identity"
	"github.com/cpunion/cast-bot/pkg/llm"
	"github.com/cpunion/cast-bot/pkg/memory"
	"github.com/cpunion/cast-bot/pkg/recent"
	"github.com/cpunion/cast-bot/pkg/responder"
	"github.com/cpunion/cast-bot/pkg/types"
)

func main() {
	configPath := flag.String("config", "castbot.yaml", "Path to YAML config file")
	envFile := flag.String("env", ".env", "Path to .env file")
	dryRun := flag.Bool("dry-run", false, "Generate replies without posting them")
	once := flag.Bool("once", false, "Run a single cycle and exit")
	interval := flag.Duration("interval", 0, "Override the poll interval")
	storeDriver := flag.String("store", "", "Override store driver (sqlite, jsonl, memory)")
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		log.Fatalf("Failed to load env: %v", err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *dryRun {
		cfg.Poll.DryRun = true
	}
	if *interval > 0 {
		cfg.Poll.IntervalSeconds = max(1, int(interval.Seconds()))
	}
	if *storeDriver != "" {
		cfg.Store.Driver = *storeDriver
		if err := cfg.Validate(); err != nil {
			log.Fatalf("Invalid flags: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open memory store: %v", err)
	}

	gateway, err := openGateway(cfg)
	if err != nil {
		log.Fatalf("Failed to open forum: %v", err)
	}

	generator, err := newGenerator(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to create generator: %v", err)
	}

	registry, err := identity.LoadRegistry(cfg.Agent.ID, filepath.Join(cfg.DataDir, "identity"))
	if err != nil {
		log.Fatalf("Failed to load connections: %v", err)
	}

	var outcomes responder.OutcomeLogger
	if cfg.Log.Outcomes != "" {
		jl, err := responder.NewJSONLLogger(cfg.Log.Outcomes)
		if err != nil {
			log.Fatalf("Failed to create outcome log: %v", err)
		}
		outcomes = jl
	}
	closers := []io.Closer{store}
	if outcomes != nil {
		closers = append([]io.Closer{outcomes}, closers...)
	}

	tracker := recent.NewTracker(recent.Config{
		Sessions:    session.InMemoryService(),
		AgentID:     cfg.Agent.ID,
		AgentHandle: cfg.AgentHandle(),
	})

	broker := actions.NewBroker()
	orch, err := responder.New(cfg.Responder(), responder.Deps{
		Gateway:     gateway,
		Store:       store,
		Generator:   generator,
		Connections: registry,
		Recent:      tracker,
		Actions:     broker,
		Outcomes:    outcomes,
	})
	if err != nil {
		log.Fatalf("Failed to create responder: %v", err)
	}
	rc := orch.Config()
	broker.Register(types.ActionContinue, orch.ContinueHandler())
	broker.Register(actions.Wildcard, actions.HandlerFunc(func(ctx context.Context, b actions.Batch) error {
		log.Printf("[%s] action %s on %s (%d post(s) sent)", rc.AgentHandle, b.Action, b.Post.ID, len(b.Outbound))
		return nil
	}))

	fmt.Println("=== cast-bot responder ===")
	fmt.Printf("Agent: %s (@%s)\n", rc.AgentID, rc.AgentHandle)
	fmt.Printf("Forum: %s\n", cfg.Feed.Path)
	fmt.Printf("Store: %s %s\n", cfg.Store.Driver, cfg.Store.Path)
	fmt.Printf("Model: %s\n", cfg.LLM.Model)
	fmt.Printf("Interval: %s\n", rc.PollInterval)
	fmt.Printf("Tracked: %v\n", rc.TrackedAuthors)
	fmt.Printf("Policy: %s, dry run: %t\n\n", rc.RespondPolicy, rc.DryRun)

	if *once {
		if code := runSingle(ctx, orch, closers...); code != 0 {
			os.Exit(code)
		}
		return
	}

	defer closeAll(closers)

	sched := responder.NewScheduler(rc.AgentHandle, orch, rc.PollInterval)
	sched.SetOnCycle(func(n int, err error) {
		log.Printf("[%s] cycle %d done, %d post(s) answered", rc.AgentHandle, n, orch.Processed().Len())
	})
	sched.Start(ctx)

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	<-sigs
	log.Printf("[%s] shutting down, waiting for the current cycle", rc.AgentHandle)
	sched.Stop()

	done := make(chan struct{})
	go func() {
		sched.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-sigs:
		log.Printf("[%s] second signal, cancelling the current cycle", rc.AgentHandle)
		cancel()
		<-done
	}
}

// runSingle runs one cycle and closes the closers before returning the exit
// code, so buffered outcome lines survive a failed cycle.
func runSingle(ctx context.Context, cycle responder.Cycle, closers ...io.Closer) int {
	code := 0
	if err := cycle.RunCycle(ctx); err != nil {
		log.Printf("Cycle failed: %v", err)
		code = 1
	}
	closeAll(closers)
	return code
}

func closeAll(closers []io.Closer) {
	for _, c := range closers {
		if err := c.Close(); err != nil {
			log.Printf("[castbot] close failed: %v", err)
		}
	}
}

func openStore(cfg *config.Config) (memory.Store, error) {
	switch cfg.Store.Driver {
	case config.DriverSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0755); err != nil {
			return nil, err
		}
		return memory.OpenSQLite(cfg.Store.Path)
	case config.DriverJSONL:
		return memory.OpenShardStore(memory.ShardConfig{Dir: cfg.Store.Path})
	case config.DriverMemory:
		log.Printf("[castbot] using in-memory store, replies are not remembered across restarts")
		return memory.NewInMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

func openGateway(cfg *config.Config) (feed.Gateway, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Feed.Path), 0755); err != nil {
		return nil, err
	}
	forum, err := feed.OpenForum(feed.ForumConfig{
		Path:          cfg.Feed.Path,
		Name:          cfg.Feed.Name,
		MaxPostLength: cfg.Feed.MaxPostLength,
	})
	if err != nil {
		return nil, err
	}

	name := cfg.Agent.Name
	if name == "" {
		name = cfg.AgentHandle()
	}
	agent := types.Author{ID: cfg.Agent.ID, Handle: cfg.AgentHandle(), DisplayName: name}
	if err := forum.RegisterAuthor(agent); err != nil {
		return nil, fmt.Errorf("failed to register agent account: %w", err)
	}
	return feed.Throttle(forum, cfg.Feed.RatePerSecond, cfg.Feed.Burst), nil
}

func newGenerator(ctx context.Context, cfg *config.Config) (generation.Service, error) {
	primary, err := llm.NewGeminiModel(ctx, llm.GeminiConfig{APIKey: cfg.LLM.APIKey, Model: cfg.LLM.Model})
	if err != nil {
		return nil, err
	}
	var classifier model.LLM
	if cfg.LLM.ClassifierModel != "" && cfg.LLM.ClassifierModel != cfg.LLM.Model {
		classifier, err = llm.NewGeminiModel(ctx, llm.GeminiConfig{APIKey: cfg.LLM.APIKey, Model: cfg.LLM.ClassifierModel})
		if err != nil {
			return nil, err
		}
	}
	return generation.NewLLMService(generation.Config{
		Model:           primary,
		ClassifierModel: classifier,
		Temperature:     cfg.LLM.Temperature,
		MaxOutputTokens: cfg.LLM.MaxOutputTokens,
	})
}
