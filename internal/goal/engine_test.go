package goal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/cobaltfox/aria/internal/memory"
	"github.com/cobaltfox/aria/internal/provider"
	"github.com/cobaltfox/aria/internal/tool"
)

type scriptedProvider struct {
	responses []*provider.Response
	errs      []error
	calls     int
}

func (p *scriptedProvider) Complete(_ context.Context, _ provider.Request) (*provider.Response, error) {
	i := p.calls
	p.calls++
	if i < len(p.errs) && p.errs[i] != nil {
		return nil, p.errs[i]
	}
	if i < len(p.responses) {
		return p.responses[i], nil
	}
	return nil, errors.New("no scripted response")
}

func planResponse(t *testing.T, d decomposition) *provider.Response {
	t.Helper()
	raw, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshal plan: %v", err)
	}
	return &provider.Response{Content: string(raw), JSON: raw}
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (n *recordingNotifier) Notify(chatID, text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, chatID+": "+text)
}

type fixture struct {
	mem      *memory.Engine
	provider *scriptedProvider
	disp     *tool.Dispatcher
	notifier *recordingNotifier
	engine   *Engine
}

func newFixture(t *testing.T) *fixture {
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
	f.engine = NewEngine(mem, f.provider, f.disp, f.notifier)
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

func TestDecomposeTick_ActivatesAchievableGoal(t *testing.T) {
	f := newFixture(t)
	id, err := f.mem.AddGoal("send a greeting", 1, memory.GoalOrigin{ChatID: "c1"})
	if err != nil {
		t.Fatalf("AddGoal: %v", err)
	}
	f.provider.responses = []*provider.Response{planResponse(t, decomposition{
		Achievable: true,
		Reasoning:  "one message suffices",
		Steps: []planStep{{
			Description: "greet the channel",
			ToolName:    "send_message",
			ToolArgs:    map[string]any{"chat_id": "c1", "text": "hi"},
		}},
	})}

	if err := f.engine.DecomposeTick(context.Background()); err != nil {
		t.Fatalf("DecomposeTick: %v", err)
	}

	g, err := f.mem.GetGoal(id)
	if err != nil {
		t.Fatalf("GetGoal: %v", err)
	}
	if g.Status != memory.GoalActive {
		t.Fatalf("status = %s, want active", g.Status)
	}
	if len(g.Plan) != 1 || g.Plan[0].ToolName != "send_message" {
		t.Fatalf("plan = %+v", g.Plan)
	}
	if g.CurrentStep != 0 {
		t.Fatalf("current step = %d, want 0", g.CurrentStep)
	}
}

func TestDecomposeTick_UnachievableGoalFails(t *testing.T) {
	f := newFixture(t)
	id, err := f.mem.AddGoal("travel to the moon", 1, memory.GoalOrigin{})
	if err != nil {
		t.Fatalf("AddGoal: %v", err)
	}
	f.provider.responses = []*provider.Response{planResponse(t, decomposition{
		Achievable: false,
		Reasoning:  "no launch capability",
	})}

	if err := f.engine.DecomposeTick(context.Background()); err != nil {
		t.Fatalf("DecomposeTick: %v", err)
	}

	g, err := f.mem.GetGoal(id)
	if err != nil {
		t.Fatalf("GetGoal: %v", err)
	}
	if g.Status != memory.GoalFailed {
		t.Fatalf("status = %s, want failed", g.Status)
	}
	if !strings.Contains(g.Reason, "launch") {
		t.Fatalf("reason = %q", g.Reason)
	}
}

func TestDecomposeTick_ProviderErrorFailsGoal(t *testing.T) {
	f := newFixture(t)
	id, err := f.mem.AddGoal("do something", 1, memory.GoalOrigin{})
	if err != nil {
		t.Fatalf("AddGoal: %v", err)
	}
	f.provider.errs = []error{errors.New("provider down")}

	if err := f.engine.DecomposeTick(context.Background()); err != nil {
		t.Fatalf("DecomposeTick: %v", err)
	}

	g, err := f.mem.GetGoal(id)
	if err != nil {
		t.Fatalf("GetGoal: %v", err)
	}
	if g.Status != memory.GoalFailed {
		t.Fatalf("status = %s, want failed", g.Status)
	}
}

// The greeting scenario end to end: pending -> active after decomposition,
// active -> completed after one execution tick, send_message invoked once.
func TestGreetingGoal_CompletesInOneExecutionTick(t *testing.T) {
	f := newFixture(t)
	id, err := f.mem.AddGoal("send a greeting to channel c1", 1, memory.GoalOrigin{ChatID: "c1"})
	if err != nil {
		t.Fatalf("AddGoal: %v", err)
	}
	sends := f.registerTool(t, "send_message", func(_ context.Context, args map[string]any) (string, error) {
		return "sent", nil
	})

	f.provider.responses = []*provider.Response{planResponse(t, decomposition{
		Achievable: true,
		Steps: []planStep{{
			Description: "greet",
			ToolName:    "send_message",
			ToolArgs:    map[string]any{"chat_id": "c1", "text": "hi"},
		}},
	})}
	if err := f.engine.DecomposeTick(context.Background()); err != nil {
		t.Fatalf("DecomposeTick: %v", err)
	}
	if err := f.engine.ExecuteTick(context.Background()); err != nil {
		t.Fatalf("ExecuteTick: %v", err)
	}

	g, err := f.mem.GetGoal(id)
	if err != nil {
		t.Fatalf("GetGoal: %v", err)
	}
	if g.Status != memory.GoalCompleted {
		t.Fatalf("status = %s, want completed", g.Status)
	}
	if g.CurrentStep != len(g.Plan) {
		t.Fatalf("current step = %d, plan length = %d", g.CurrentStep, len(g.Plan))
	}
	if *sends != 1 {
		t.Fatalf("send_message invoked %d times, want 1", *sends)
	}
}

// A handler that errors on its only step fails the goal in one tick and
// increments only the failure count.
func TestFailingStep_FailsGoalAfterOneTick(t *testing.T) {
	f := newFixture(t)
	id, err := f.mem.AddGoal("doomed", 1, memory.GoalOrigin{})
	if err != nil {
		t.Fatalf("AddGoal: %v", err)
	}
	calls := f.registerTool(t, "broken", func(context.Context, map[string]any) (string, error) {
		return "", errors.New("always fails")
	})

	f.provider.responses = []*provider.Response{planResponse(t, decomposition{
		Achievable: true,
		Steps:      []planStep{{Description: "try", ToolName: "broken"}},
	})}
	if err := f.engine.DecomposeTick(context.Background()); err != nil {
		t.Fatalf("DecomposeTick: %v", err)
	}
	if err := f.engine.ExecuteTick(context.Background()); err != nil {
		t.Fatalf("ExecuteTick: %v", err)
	}

	g, err := f.mem.GetGoal(id)
	if err != nil {
		t.Fatalf("GetGoal: %v", err)
	}
	if g.Status != memory.GoalFailed {
		t.Fatalf("status = %s, want failed", g.Status)
	}
	if !strings.Contains(g.Reason, "broken") {
		t.Fatalf("reason = %q", g.Reason)
	}
	if *calls != 1 {
		t.Fatalf("handler invoked %d times, want 1", *calls)
	}
	stat, err := f.mem.GetToolStat("broken")
	if err != nil {
		t.Fatalf("GetToolStat: %v", err)
	}
	if stat.FailureCount != 1 || stat.SuccessCount != 0 {
		t.Fatalf("stat = %+v", stat)
	}
}

func TestExecuteTick_ToollessStepAutoAdvances(t *testing.T) {
	f := newFixture(t)
	id, err := f.mem.AddGoal("think then act", 1, memory.GoalOrigin{})
	if err != nil {
		t.Fatalf("AddGoal: %v", err)
	}
	acts := f.registerTool(t, "act", func(context.Context, map[string]any) (string, error) {
		return "done", nil
	})

	f.provider.responses = []*provider.Response{planResponse(t, decomposition{
		Achievable: true,
		Steps: []planStep{
			{Description: "consider options"},
			{Description: "do it", ToolName: "act"},
		},
	})}
	if err := f.engine.DecomposeTick(context.Background()); err != nil {
		t.Fatalf("DecomposeTick: %v", err)
	}

	// First tick satisfies the toolless step without touching any tool.
	if err := f.engine.ExecuteTick(context.Background()); err != nil {
		t.Fatalf("ExecuteTick 1: %v", err)
	}
	g, err := f.mem.GetGoal(id)
	if err != nil {
		t.Fatalf("GetGoal: %v", err)
	}
	if g.Status != memory.GoalActive || g.CurrentStep != 1 {
		t.Fatalf("after tick 1: status = %s, step = %d", g.Status, g.CurrentStep)
	}
	if *acts != 0 {
		t.Fatalf("tool ran during toolless step")
	}

	// Second tick runs the tool step and completes the goal.
	if err := f.engine.ExecuteTick(context.Background()); err != nil {
		t.Fatalf("ExecuteTick 2: %v", err)
	}
	g, err = f.mem.GetGoal(id)
	if err != nil {
		t.Fatalf("GetGoal: %v", err)
	}
	if g.Status != memory.GoalCompleted {
		t.Fatalf("after tick 2: status = %s", g.Status)
	}
	if *acts != 1 {
		t.Fatalf("tool invoked %d times, want 1", *acts)
	}
}

func TestExecuteTick_OneGoalPerTick(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 2; i++ {
		id, err := f.mem.AddGoal(fmt.Sprintf("goal %d", i), 1, memory.GoalOrigin{})
		if err != nil {
			t.Fatalf("AddGoal: %v", err)
		}
		f.provider.responses = append(f.provider.responses, planResponse(t, decomposition{
			Achievable: true,
			Steps:      []planStep{{Description: "step", ToolName: "tick"}},
		}))
		_ = id
	}
	ticks := f.registerTool(t, "tick", func(context.Context, map[string]any) (string, error) {
		return "ok", nil
	})

	if err := f.engine.DecomposeTick(context.Background()); err != nil {
		t.Fatalf("DecomposeTick: %v", err)
	}
	if err := f.engine.ExecuteTick(context.Background()); err != nil {
		t.Fatalf("ExecuteTick: %v", err)
	}
	if *ticks != 1 {
		t.Fatalf("tool invoked %d times in one tick, want 1", *ticks)
	}
}

func TestExecuteTick_NoActiveGoals(t *testing.T) {
	f := newFixture(t)
	if err := f.engine.ExecuteTick(context.Background()); err != nil {
		t.Fatalf("ExecuteTick on empty store: %v", err)
	}
}

func TestDecomposeTick_NotifiesOriginChat(t *testing.T) {
	f := newFixture(t)
	if _, err := f.mem.AddGoal("greet", 1, memory.GoalOrigin{ChatID: "c9"}); err != nil {
		t.Fatalf("AddGoal: %v", err)
	}
	f.provider.responses = []*provider.Response{planResponse(t, decomposition{
		Achievable: true,
		Steps:      []planStep{{Description: "say hi"}},
	})}
	if err := f.engine.DecomposeTick(context.Background()); err != nil {
		t.Fatalf("DecomposeTick: %v", err)
	}
	if len(f.notifier.msgs) != 1 || !strings.HasPrefix(f.notifier.msgs[0], "c9:") {
		t.Fatalf("notifications = %v", f.notifier.msgs)
	}
}
