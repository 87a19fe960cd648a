package action

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cobaltfox/aria/internal/memory"
	"github.com/cobaltfox/aria/internal/provider"
	"github.com/cobaltfox/aria/internal/tool"
)

type scriptedProvider struct {
	responses []*provider.Response
	errs      []error
	requests  []provider.Request
}

func (p *scriptedProvider) Complete(_ context.Context, req provider.Request) (*provider.Response, error) {
	p.requests = append(p.requests, req)
	i := len(p.requests) - 1
	if i < len(p.errs) && p.errs[i] != nil {
		return nil, p.errs[i]
	}
	if i < len(p.responses) {
		return p.responses[i], nil
	}
	return nil, errors.New("no scripted response")
}

type recordingNotifier struct {
	msgs []string
}

func (n *recordingNotifier) Notify(chatID, text string) {
	n.msgs = append(n.msgs, chatID+": "+text)
}

type fixture struct {
	mem      *memory.Engine
	provider *scriptedProvider
	disp     *tool.Dispatcher
	notifier *recordingNotifier
	loop     *Loop
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	mem, err := memory.NewEngine(filepath.Join(t.TempDir(), "aria.db"), memory.Caps{UserFacts: 20, GeneralFacts: 20})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(func() { mem.Close() })

	f := &fixture{
		mem:      mem,
		provider: &scriptedProvider{},
		disp:     tool.NewDispatcher(nil, mem),
		notifier: &recordingNotifier{},
	}
	if opts.Probability == 0 {
		opts.Probability = 1.0
	}
	f.loop = NewLoop(mem, f.provider, f.disp, f.notifier, opts)
	f.loop.rng = func() float64 { return 0 } // always pass the gate
	return f
}

func (f *fixture) registerTool(t *testing.T, name string, handler tool.Handler) *int {
	t.Helper()
	calls := new(int)
	err := f.disp.Register(tool.Tool{
		Name: name,
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			*calls++
			return handler(ctx, args)
		},
	})
	if err != nil {
		t.Fatalf("Register %s: %v", name, err)
	}
	return calls
}

func lastLog(t *testing.T, mem *memory.Engine) memory.ActionLogEntry {
	t.Helper()
	logs, err := mem.GetActionLogs(1)
	if err != nil {
		t.Fatalf("GetActionLogs: %v", err)
	}
	if len(logs) == 0 {
		t.Fatal("no action log entry written")
	}
	return logs[0]
}

func TestTick_ProbabilityGateSkips(t *testing.T) {
	f := newFixture(t, Options{Probability: 0.3})
	f.loop.rng = func() float64 { return 0.9 } // above probability: skip

	if err := f.loop.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(f.provider.requests) != 0 {
		t.Fatal("provider consulted despite failed coin flip")
	}
	logs, err := f.mem.GetActionLogs(5)
	if err != nil {
		t.Fatalf("GetActionLogs: %v", err)
	}
	if len(logs) != 0 {
		t.Fatalf("skipped tick wrote %d log entries", len(logs))
	}
}

func TestTick_NoOpStillLogged(t *testing.T) {
	f := newFixture(t, Options{})
	f.provider.responses = []*provider.Response{{Content: "nothing worth doing"}}

	if err := f.loop.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	entry := lastLog(t, f.mem)
	if entry.ResultSummary != "no action" {
		t.Fatalf("summary = %q", entry.ResultSummary)
	}
	if entry.Reasoning != "nothing worth doing" {
		t.Fatalf("reasoning = %q", entry.Reasoning)
	}
	if len(f.notifier.msgs) != 0 {
		t.Fatalf("no-op tick notified: %v", f.notifier.msgs)
	}
}

func TestTick_ToolChainThenStop(t *testing.T) {
	f := newFixture(t, Options{MaxTurns: 3, NotifyChat: "owner"})
	calls := f.registerTool(t, "cheer", func(_ context.Context, args map[string]any) (string, error) {
		return "cheered", nil
	})
	f.provider.responses = []*provider.Response{
		{ToolCalls: []provider.ToolCall{{ID: "c1", Name: "cheer", Arguments: `{"mood":"up"}`}}},
		{Content: "that was enough"},
	}

	if err := f.loop.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if *calls != 1 {
		t.Fatalf("tool invoked %d times, want 1", *calls)
	}
	entry := lastLog(t, f.mem)
	if !strings.Contains(entry.ResultSummary, "cheer") {
		t.Fatalf("summary = %q", entry.ResultSummary)
	}
	if len(f.notifier.msgs) != 1 || !strings.HasPrefix(f.notifier.msgs[0], "owner:") {
		t.Fatalf("notifications = %v", f.notifier.msgs)
	}

	// The second provider turn must see the tool result as input.
	second := f.provider.requests[1]
	foundResult := false
	for _, m := range second.Messages {
		if m.Role == provider.RoleTool && m.Content == "cheered" {
			foundResult = true
		}
	}
	if !foundResult {
		t.Fatal("tool result not fed back to the provider")
	}
}

func TestTick_ToolErrorStopsChain(t *testing.T) {
	f := newFixture(t, Options{MaxTurns: 3})
	f.registerTool(t, "flaky", func(context.Context, map[string]any) (string, error) {
		return "", errors.New("nope")
	})
	f.provider.responses = []*provider.Response{
		{ToolCalls: []provider.ToolCall{{ID: "c1", Name: "flaky", Arguments: `{}`}}},
	}

	if err := f.loop.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	// Chain stopped after the failing call: only one provider turn happened.
	if len(f.provider.requests) != 1 {
		t.Fatalf("provider turns = %d, want 1", len(f.provider.requests))
	}
	entry := lastLog(t, f.mem)
	if !strings.Contains(entry.ResultSummary, "stopped") {
		t.Fatalf("summary = %q", entry.ResultSummary)
	}
	if len(f.notifier.msgs) != 0 {
		t.Fatalf("failed action notified: %v", f.notifier.msgs)
	}
}

func TestTick_TurnLimitBoundsChain(t *testing.T) {
	f := newFixture(t, Options{MaxTurns: 2})
	calls := f.registerTool(t, "poke", func(context.Context, map[string]any) (string, error) {
		return "poked", nil
	})
	// The model keeps asking for tools; the loop must cut it off.
	f.provider.responses = []*provider.Response{
		{ToolCalls: []provider.ToolCall{{ID: "c1", Name: "poke", Arguments: `{}`}}},
		{ToolCalls: []provider.ToolCall{{ID: "c2", Name: "poke", Arguments: `{}`}}},
		{ToolCalls: []provider.ToolCall{{ID: "c3", Name: "poke", Arguments: `{}`}}},
	}

	if err := f.loop.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if *calls != 2 {
		t.Fatalf("tool invoked %d times, want 2", *calls)
	}
	entry := lastLog(t, f.mem)
	if !strings.Contains(entry.ResultSummary, "turn limit") {
		t.Fatalf("summary = %q", entry.ResultSummary)
	}
}

func TestTick_ProviderErrorLogsNoDecision(t *testing.T) {
	f := newFixture(t, Options{})
	f.provider.errs = []error{errors.New("offline")}

	if err := f.loop.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	entry := lastLog(t, f.mem)
	if !strings.Contains(entry.ResultSummary, "provider error") {
		t.Fatalf("summary = %q", entry.ResultSummary)
	}
}

func TestTick_ExcludedToolsNotExposed(t *testing.T) {
	f := newFixture(t, Options{ExcludeTools: []string{"run_shell"}})
	f.registerTool(t, "run_shell", func(context.Context, map[string]any) (string, error) { return "", nil })
	f.registerTool(t, "cheer", func(context.Context, map[string]any) (string, error) { return "", nil })
	f.provider.responses = []*provider.Response{{Content: "idle"}}

	if err := f.loop.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	req := f.provider.requests[0]
	for _, spec := range req.Tools {
		if spec.Name == "run_shell" {
			t.Fatal("excluded tool exposed to the model")
		}
	}
	if len(req.Tools) != 1 {
		t.Fatalf("exposed tools = %d, want 1", len(req.Tools))
	}
}

func TestTick_SnapshotCarriesState(t *testing.T) {
	f := newFixture(t, Options{})
	if _, err := f.mem.AddGoal("water the plants", 1, memory.GoalOrigin{}); err != nil {
		t.Fatalf("AddGoal: %v", err)
	}
	goals, err := f.mem.GetGoals(memory.GoalPending, 1)
	if err != nil {
		t.Fatalf("GetGoals: %v", err)
	}
	active := memory.GoalActive
	plan := []memory.Step{{Description: "water"}}
	if err := f.mem.UpdateGoal(goals[0].ID, memory.GoalPatch{Status: &active, Plan: &plan}); err != nil {
		t.Fatalf("UpdateGoal: %v", err)
	}
	f.provider.responses = []*provider.Response{{Content: "idle"}}

	if err := f.loop.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	snapshot := f.provider.requests[0].Messages[1].Content
	if !strings.Contains(snapshot, "water the plants") {
		t.Fatalf("snapshot missing goal: %q", snapshot)
	}
	if !strings.Contains(snapshot, "curiosity") {
		t.Fatalf("snapshot missing traits: %q", snapshot)
	}
}
