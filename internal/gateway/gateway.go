// Package gateway is the composition root: it wires config, memory, the
// model provider, tools, the background subsystems and the chat channel into
// one running agent.
package gateway

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/cobaltfox/aria/internal/action"
	"github.com/cobaltfox/aria/internal/bus"
	"github.com/cobaltfox/aria/internal/chat"
	"github.com/cobaltfox/aria/internal/config"
	"github.com/cobaltfox/aria/internal/goal"
	"github.com/cobaltfox/aria/internal/memory"
	"github.com/cobaltfox/aria/internal/persona"
	"github.com/cobaltfox/aria/internal/provider"
	"github.com/cobaltfox/aria/internal/scheduler"
	"github.com/cobaltfox/aria/internal/tool"
)

const outboundBufSize = 64

// compactionBatch bounds how many general facts one nightly compaction pass
// reads and how many provider tokens it can burn.
const compactionBatch = 50

const compactPrompt = `You maintain an assistant's long-term memory. Below is
a numbered list of remembered facts. Identify entries that restate another
entry's information. Reply with the indexes of entries to drop (keep the
earliest phrasing of each duplicate group). Return an empty list when every
entry is distinct.`

// Options carries test seams. Zero value uses real collaborators.
type Options struct {
	Provider   provider.Provider
	Messenger  chat.Messenger
	BotFactory chat.BotFactory
	SignalChan chan os.Signal
}

type Gateway struct {
	cfg        *config.Config
	mem        *memory.Engine
	provider   provider.Provider
	dispatcher *tool.Dispatcher
	outbound   *bus.Outbound
	signals    *chat.Signals
	messenger  chat.Messenger
	telegram   *chat.Telegram
	sched      *scheduler.Scheduler
	signalChan chan os.Signal
}

func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, Options{})
}

func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	g := &Gateway{
		cfg:        cfg,
		outbound:   bus.NewOutbound(outboundBufSize),
		signals:    chat.NewSignals(),
		signalChan: opts.SignalChan,
	}

	dbPath := strings.TrimSpace(cfg.Memory.DBPath)
	if dbPath == "" {
		dbPath = filepath.Join(config.ConfigDir(), "data", "aria.db")
	}
	mem, err := memory.NewEngine(dbPath, memory.Caps{
		UserFacts:    cfg.Memory.UserFactCap,
		GeneralFacts: cfg.Memory.GeneralFactCap,
	})
	if err != nil {
		return nil, fmt.Errorf("create memory engine: %w", err)
	}
	g.mem = mem

	if cfg.Memory.Embedding.Enabled {
		mem.SetEmbedder(memory.NewEmbedder(cfg.Memory.Embedding, cfg.Provider), cfg.Memory.Embedding.TimeoutMs)
	}

	p := opts.Provider
	if p == nil {
		p, err = provider.NewOpenAI(cfg.Provider)
		if err != nil {
			_ = mem.Close()
			return nil, err
		}
	}
	g.provider = p

	g.dispatcher = tool.NewDispatcher(tool.NewProviderGate(p), mem)
	g.dispatcher.AllowDangerous(cfg.Tools.DangerousAllow)
	sandboxCfg := cfg.Tools.Sandbox
	if sandboxCfg.WorkDir == "" {
		sandboxCfg.WorkDir = cfg.Workspace
	}
	err = tool.RegisterBuiltins(g.dispatcher, tool.BuiltinDeps{
		Memory:        mem,
		Notifier:      g.outbound,
		Sandbox:       tool.NewSandbox(sandboxCfg),
		DefaultChatID: cfg.Action.NotifyChat,
	})
	if err != nil {
		_ = mem.Close()
		return nil, fmt.Errorf("register tools: %w", err)
	}

	g.messenger = opts.Messenger
	if g.messenger == nil && cfg.Channels.Telegram.Enabled {
		factory := opts.BotFactory
		var tg *chat.Telegram
		if factory != nil {
			tg, err = chat.NewTelegramWithFactory(cfg.Channels.Telegram, g.signals, g.handleInbound, factory)
		} else {
			tg, err = chat.NewTelegram(cfg.Channels.Telegram, g.signals, g.handleInbound)
		}
		if err != nil {
			_ = mem.Close()
			return nil, fmt.Errorf("create telegram channel: %w", err)
		}
		g.telegram = tg
		g.messenger = tg
	}

	if err := g.buildScheduler(); err != nil {
		_ = mem.Close()
		return nil, err
	}
	return g, nil
}

func (g *Gateway) buildScheduler() error {
	cfg := g.cfg
	personaSeed := g.loadPersonaSeed()

	goalEngine := goal.NewEngine(g.mem, g.provider, g.dispatcher, g.outbound)
	actionLoop := action.NewLoop(g.mem, g.provider, g.dispatcher, g.outbound, action.Options{
		Probability:  cfg.Action.Probability,
		MaxTurns:     cfg.Action.MaxTurns,
		ExcludeTools: cfg.Action.ExcludeTools,
		NotifyChat:   cfg.Action.NotifyChat,
		Persona:      personaSeed,
	})
	evolver := persona.NewEvolver(g.mem, g.signals, cfg.Persona.Alpha, cfg.Persona.Epsilon)

	g.sched = scheduler.New(seconds(cfg.Scheduler.WakeSeconds))
	subsystems := []scheduler.Subsystem{
		{Name: "goal-decompose", Interval: seconds(cfg.Scheduler.DecomposeSeconds), Run: goalEngine.DecomposeTick},
		{Name: "goal-execute", Interval: seconds(cfg.Scheduler.ExecuteSeconds), Run: goalEngine.ExecuteTick},
		{Name: "action", Interval: seconds(cfg.Scheduler.ActionSeconds), Run: actionLoop.Tick},
		{Name: "persona-evolve", Interval: seconds(cfg.Scheduler.EvolveSeconds), Run: evolver.Tick},
		{Name: "interest-decay", Interval: seconds(cfg.Scheduler.DecaySeconds), Run: g.decayTick},
	}
	for _, sub := range subsystems {
		if err := g.sched.Register(sub); err != nil {
			return err
		}
	}
	if err := g.sched.AddCronJob("0 3 * * *", "fact-compaction", g.compactFacts); err != nil {
		return err
	}
	return nil
}

// loadPersonaSeed reads the workspace persona file plus a trait snapshot.
// Missing file is fine; the agent just runs without a seeded identity.
func (g *Gateway) loadPersonaSeed() string {
	var sb strings.Builder
	if data, err := os.ReadFile(filepath.Join(g.cfg.Workspace, "PERSONA.md")); err == nil {
		sb.Write(data)
		sb.WriteString("\n\n")
	}
	if traits, err := g.mem.GetTraits(); err == nil {
		sb.WriteString("Current personality traits:\n")
		for _, name := range memory.BaselineTraitNames() {
			fmt.Fprintf(&sb, "- %s: %.2f\n", name, traits[name])
		}
	}
	return sb.String()
}

func (g *Gateway) decayTick(context.Context) error {
	applied, err := g.mem.DecayInterests(
		time.Duration(g.cfg.Memory.DecayHours)*time.Hour,
		g.cfg.Memory.DecayRate,
	)
	if err != nil {
		return err
	}
	if applied {
		log.Printf("[gateway] interest decay applied")
	}
	return nil
}

type compactionVerdict struct {
	Drop []int `json:"drop" jsonschema:"indexes of redundant facts to remove"`
}

// compactFacts asks the provider which general facts restate each other and
// drops the redundant ones. Best effort: any failure leaves memory untouched.
func (g *Gateway) compactFacts() {
	facts, err := g.mem.GetFacts(memory.ScopeGeneral, "", "", compactionBatch)
	if err != nil {
		log.Printf("[gateway] compaction read: %v", err)
		return
	}
	if len(facts) < 2 {
		return
	}

	var list strings.Builder
	for i, f := range facts {
		fmt.Fprintf(&list, "%d. %s\n", i, f.Text)
	}
	schema, err := provider.SchemaFor[compactionVerdict]()
	if err != nil {
		log.Printf("[gateway] compaction schema: %v", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	resp, err := g.provider.Complete(ctx, provider.Request{
		Messages: []provider.Message{
			{Role: provider.RoleSystem, Content: compactPrompt},
			{Role: provider.RoleUser, Content: list.String()},
		},
		Schema:     schema,
		SchemaName: "fact_compaction",
	})
	if err != nil {
		log.Printf("[gateway] compaction provider: %v", err)
		return
	}
	var verdict compactionVerdict
	if err := provider.DecodeJSON(resp.JSON, &verdict); err != nil {
		log.Printf("[gateway] compaction parse: %v", err)
		return
	}

	dropped := 0
	for _, idx := range verdict.Drop {
		if idx < 0 || idx >= len(facts) {
			continue
		}
		if err := g.mem.DeleteFact(facts[idx].ID); err != nil {
			log.Printf("[gateway] compaction delete: %v", err)
			continue
		}
		dropped++
	}
	if dropped > 0 {
		log.Printf("[gateway] compaction dropped %d redundant facts", dropped)
	}
}

// handleInbound reacts to accepted chat messages: goal commands create
// goals, remember commands store facts, everything else only feeds history
// and signals in the channel layer.
func (g *Gateway) handleInbound(msg bus.InboundMessage) {
	log.Printf("[gateway] inbound from %s/%s: %s", msg.Channel, msg.SenderID, truncate(msg.Content, 80))

	switch {
	case strings.HasPrefix(msg.Content, "/goal "):
		desc := strings.TrimSpace(strings.TrimPrefix(msg.Content, "/goal "))
		if desc == "" {
			g.outbound.Notify(msg.ChatID, "Usage: /goal <what you want done>")
			return
		}
		id, err := g.mem.AddGoal(desc, 1, memory.GoalOrigin{ChatID: msg.ChatID, UserID: msg.SenderID})
		if err != nil {
			log.Printf("[gateway] add goal: %v", err)
			g.outbound.Notify(msg.ChatID, "Could not record that goal, sorry.")
			return
		}
		log.Printf("[gateway] goal %s queued", id)
		g.outbound.Notify(msg.ChatID, "Got it, I'll work on: "+desc)
	case strings.HasPrefix(msg.Content, "/remember "):
		text := strings.TrimSpace(strings.TrimPrefix(msg.Content, "/remember "))
		if text == "" {
			g.outbound.Notify(msg.ChatID, "Usage: /remember <fact>")
			return
		}
		result, err := g.mem.AddFact(memory.ScopeUser, msg.SenderID, text)
		if err != nil {
			log.Printf("[gateway] remember: %v", err)
			g.outbound.Notify(msg.ChatID, "Could not store that, sorry.")
			return
		}
		g.outbound.Notify(msg.ChatID, "Noted ("+result.String()+").")
	}
}

// Run starts everything and blocks until a shutdown signal arrives.
func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go g.dispatchOutbound(ctx)

	if g.telegram != nil {
		if err := g.telegram.Start(ctx); err != nil {
			return fmt.Errorf("start telegram: %w", err)
		}
	}

	go g.sched.Run(ctx)

	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	}

	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	log.Printf("[gateway] shutting down...")
	cancel()
	return g.Shutdown()
}

// dispatchOutbound delivers queued notifications. Without a messenger the
// queue still drains so publishers never see backpressure.
func (g *Gateway) dispatchOutbound(ctx context.Context) {
	for {
		select {
		case msg := <-g.outbound.Messages():
			if g.messenger == nil {
				log.Printf("[gateway] outbound (no channel): %s", truncate(msg.Content, 80))
				continue
			}
			if _, err := g.messenger.SendMessage(ctx, msg.ChatID, msg.Content); err != nil {
				log.Printf("[gateway] outbound send: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (g *Gateway) Shutdown() error {
	if g.telegram != nil {
		g.telegram.Stop()
	}
	if g.mem != nil {
		if err := g.mem.Close(); err != nil {
			log.Printf("[gateway] close memory engine warning: %v", err)
		}
	}
	log.Printf("[gateway] shutdown complete")
	return nil
}

// Memory exposes the store for the status CLI.
func (g *Gateway) Memory() *memory.Engine {
	return g.mem
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
