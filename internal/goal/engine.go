// Package goal turns natural-language goals into persisted step plans and
// walks them one step at a time, so a restart picks up mid-goal.
package goal

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/cobaltfox/aria/internal/memory"
	"github.com/cobaltfox/aria/internal/provider"
	"github.com/cobaltfox/aria/internal/tool"
)

// maxDecomposePerTick bounds provider calls in one decomposition pass.
const maxDecomposePerTick = 3

const decomposePrompt = `You are the planning module of an autonomous assistant.
Decompose the user goal into a short ordered list of concrete steps. A step
may name one of the available tools with JSON arguments, or carry no tool when
it is a pure reasoning/bookkeeping step. Judge honestly whether the goal is
achievable with the available tools; if it is not, say so with a reason and
return no steps.`

type planStep struct {
	Description string         `json:"description" jsonschema:"what this step accomplishes"`
	ToolName    string         `json:"tool_name,omitempty" jsonschema:"tool to invoke, if any"`
	ToolArgs    map[string]any `json:"tool_args,omitempty" jsonschema:"arguments for the tool"`
}

type decomposition struct {
	Achievable bool       `json:"achievable" jsonschema:"whether the goal can be achieved"`
	Reasoning  string     `json:"reasoning" jsonschema:"one-sentence justification"`
	Steps      []planStep `json:"steps" jsonschema:"ordered plan; empty when not achievable"`
}

// Engine drives goal decomposition and step execution.
type Engine struct {
	memory     *memory.Engine
	provider   provider.Provider
	dispatcher *tool.Dispatcher
	notifier   tool.Notifier
}

func NewEngine(mem *memory.Engine, p provider.Provider, d *tool.Dispatcher, n tool.Notifier) *Engine {
	return &Engine{memory: mem, provider: p, dispatcher: d, notifier: n}
}

// DecomposeTick plans up to a few pending goals. Each goal leaves pending on
// this tick: to active with a stored plan, or to failed when the model says
// the goal is unachievable or planning itself errors.
func (e *Engine) DecomposeTick(ctx context.Context) error {
	goals, err := e.memory.GetGoals(memory.GoalPending, maxDecomposePerTick)
	if err != nil {
		return fmt.Errorf("list pending goals: %w", err)
	}
	for _, g := range goals {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.decompose(ctx, g)
	}
	return nil
}

func (e *Engine) decompose(ctx context.Context, g memory.Goal) {
	plan, err := e.requestPlan(ctx, g)
	if err != nil {
		log.Printf("[goal] decompose %s: %v", g.ID, err)
		e.fail(g, "planning failed: "+err.Error())
		return
	}
	if !plan.Achievable || len(plan.Steps) == 0 {
		reason := plan.Reasoning
		if reason == "" {
			reason = "goal judged not achievable"
		}
		e.fail(g, reason)
		return
	}

	steps := make([]memory.Step, len(plan.Steps))
	for i, s := range plan.Steps {
		steps[i] = memory.Step{Description: s.Description, ToolName: s.ToolName, ToolArgs: s.ToolArgs}
	}
	status := memory.GoalActive
	if err := e.memory.UpdateGoal(g.ID, memory.GoalPatch{Status: &status, Plan: &steps}); err != nil {
		log.Printf("[goal] activate %s: %v", g.ID, err)
		return
	}
	log.Printf("[goal] activated %s with %d steps", g.ID, len(steps))
	e.notify(g, fmt.Sprintf("Working on it: %s (%d steps)", g.Description, len(steps)))
}

func (e *Engine) requestPlan(ctx context.Context, g memory.Goal) (*decomposition, error) {
	schema, err := provider.SchemaFor[decomposition]()
	if err != nil {
		return nil, fmt.Errorf("build plan schema: %w", err)
	}
	toolList, err := json.Marshal(e.dispatcher.Names())
	if err != nil {
		return nil, fmt.Errorf("encode tool list: %w", err)
	}
	resp, err := e.provider.Complete(ctx, provider.Request{
		Messages: []provider.Message{
			{Role: provider.RoleSystem, Content: decomposePrompt},
			{Role: provider.RoleUser, Content: fmt.Sprintf("Goal: %s\nAvailable tools: %s", g.Description, toolList)},
		},
		Schema:     schema,
		SchemaName: "goal_plan",
	})
	if err != nil {
		return nil, err
	}
	var plan decomposition
	if err := provider.DecodeJSON(resp.JSON, &plan); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}
	return &plan, nil
}

// ExecuteTick advances at most one active goal by one step. Tool steps go
// through the dispatcher; toolless steps are satisfied automatically. Every
// transition is persisted before the tick returns.
func (e *Engine) ExecuteTick(ctx context.Context) error {
	goals, err := e.memory.GetGoals(memory.GoalActive, 1)
	if err != nil {
		return fmt.Errorf("list active goals: %w", err)
	}
	if len(goals) == 0 {
		return nil
	}
	g := goals[0]

	if g.CurrentStep >= len(g.Plan) {
		// Plan exhausted without a failure on a previous tick.
		e.complete(g)
		return nil
	}
	step := g.Plan[g.CurrentStep]

	if step.ToolName != "" {
		result, err := e.dispatcher.Dispatch(ctx, step.ToolName, step.ToolArgs)
		if err != nil {
			e.fail(g, fmt.Sprintf("step %d (%s): %v", g.CurrentStep, step.ToolName, err))
			return nil
		}
		log.Printf("[goal] %s step %d (%s): %.80s", g.ID, g.CurrentStep, step.ToolName, result)
	}

	next := g.CurrentStep + 1
	if next >= len(g.Plan) {
		e.complete(g)
		return nil
	}
	if err := e.memory.UpdateGoal(g.ID, memory.GoalPatch{CurrentStep: &next}); err != nil {
		log.Printf("[goal] advance %s: %v", g.ID, err)
		return nil
	}
	e.notify(g, fmt.Sprintf("Progress on %q: step %d/%d done", g.Description, next, len(g.Plan)))
	return nil
}

func (e *Engine) complete(g memory.Goal) {
	status := memory.GoalCompleted
	last := len(g.Plan)
	if err := e.memory.UpdateGoal(g.ID, memory.GoalPatch{Status: &status, CurrentStep: &last}); err != nil {
		log.Printf("[goal] complete %s: %v", g.ID, err)
		return
	}
	log.Printf("[goal] completed %s", g.ID)
	e.notify(g, fmt.Sprintf("Done: %s", g.Description))
}

func (e *Engine) fail(g memory.Goal, reason string) {
	status := memory.GoalFailed
	if err := e.memory.UpdateGoal(g.ID, memory.GoalPatch{Status: &status, Reason: &reason}); err != nil {
		log.Printf("[goal] fail %s: %v", g.ID, err)
		return
	}
	log.Printf("[goal] failed %s: %s", g.ID, reason)
	e.notify(g, fmt.Sprintf("Could not finish %q: %s", g.Description, reason))
}

// notify emits best-effort progress to the goal's origin chat, if any.
func (e *Engine) notify(g memory.Goal, text string) {
	if e.notifier == nil || g.ChatID == "" {
		return
	}
	e.notifier.Notify(g.ChatID, text)
}
