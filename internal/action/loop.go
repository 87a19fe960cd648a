// Package action implements the autonomous decision loop: a probability-gated
// tick that asks the model whether to do anything right now, runs a short
// bounded chain of tool calls when it does, and always leaves an action-log
// entry behind.
package action

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"time"

	"github.com/cobaltfox/aria/internal/memory"
	"github.com/cobaltfox/aria/internal/provider"
	"github.com/cobaltfox/aria/internal/tool"
)

const (
	snapshotGoals   = 5
	snapshotActions = 5
)

const decidePrompt = `You are the autonomous impulse of a personal assistant.
Given your current personality, active goals and recent actions, decide
whether anything is worth doing right now. Most of the time the right answer
is to do nothing. If something is worth doing, call the appropriate tools;
otherwise reply briefly with why you are staying idle.`

// Loop runs one autonomous decision per tick, when the coin flip allows it.
type Loop struct {
	memory     *memory.Engine
	provider   provider.Provider
	dispatcher *tool.Dispatcher
	notifier   tool.Notifier

	probability  float64
	maxTurns     int
	excludeTools []string
	notifyChat   string
	persona      string

	// rng is replaceable in tests to force or suppress the gate.
	rng func() float64
}

type Options struct {
	Probability  float64
	MaxTurns     int
	ExcludeTools []string
	NotifyChat   string
	// Persona is prepended to the system prompt when set. The gateway loads
	// it from the workspace seed file.
	Persona string
}

func NewLoop(mem *memory.Engine, p provider.Provider, d *tool.Dispatcher, n tool.Notifier, opts Options) *Loop {
	maxTurns := opts.MaxTurns
	if maxTurns <= 0 {
		maxTurns = 2
	}
	return &Loop{
		memory:       mem,
		provider:     p,
		dispatcher:   d,
		notifier:     n,
		probability:  opts.Probability,
		maxTurns:     maxTurns,
		excludeTools: opts.ExcludeTools,
		notifyChat:   opts.NotifyChat,
		persona:      opts.Persona,
		rng:          rand.Float64,
	}
}

// Tick performs at most one decision cycle. Provider failures downgrade to a
// logged "no decision"; only the action log write can fail the tick.
func (l *Loop) Tick(ctx context.Context) error {
	if l.rng() >= l.probability {
		return nil
	}

	snapshot, err := l.buildSnapshot()
	if err != nil {
		return fmt.Errorf("build snapshot: %w", err)
	}

	outcome := l.decide(ctx, snapshot)
	entry := memory.ActionLogEntry{
		ToolName:      outcome.toolName,
		Arguments:     outcome.arguments,
		Reasoning:     outcome.reasoning,
		ResultSummary: outcome.summary,
	}
	if err := l.memory.AddActionLog(entry); err != nil {
		return fmt.Errorf("append action log: %w", err)
	}

	if outcome.acted && l.notifier != nil && l.notifyChat != "" {
		l.notifier.Notify(l.notifyChat, "Did something on my own: "+outcome.summary)
	}
	return nil
}

type outcome struct {
	acted     bool
	toolName  string
	arguments string
	reasoning string
	summary   string
}

func (l *Loop) decide(ctx context.Context, snapshot string) outcome {
	system := decidePrompt
	if l.persona != "" {
		system = l.persona + "\n\n" + decidePrompt
	}
	messages := []provider.Message{
		{Role: provider.RoleSystem, Content: system},
		{Role: provider.RoleUser, Content: snapshot},
	}
	specs := l.dispatcher.Specs(l.excludeTools)

	var (
		lastTools []string
		lastArgs  string
		reasoning string
		acted     bool
	)
	for turn := 0; turn < l.maxTurns; turn++ {
		resp, err := l.provider.Complete(ctx, provider.Request{
			Messages: messages,
			Tools:    specs,
		})
		if err != nil {
			log.Printf("[action] provider: %v", err)
			return outcome{reasoning: reasoning, summary: "no decision: provider error"}
		}
		if resp.Content != "" {
			reasoning = resp.Content
		}
		if len(resp.ToolCalls) == 0 {
			summary := "no action"
			if acted {
				summary = "acted: " + strings.Join(lastTools, ", ")
			}
			return outcome{
				acted:     acted,
				toolName:  strings.Join(lastTools, ","),
				arguments: lastArgs,
				reasoning: reasoning,
				summary:   summary,
			}
		}

		messages = append(messages, provider.Message{
			Role:      provider.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			args, err := decodeCallArgs(call.Arguments)
			if err != nil {
				log.Printf("[action] bad arguments for %s: %v", call.Name, err)
				return outcome{
					acted:     acted,
					toolName:  call.Name,
					arguments: call.Arguments,
					reasoning: reasoning,
					summary:   "stopped: malformed tool arguments",
				}
			}
			result, err := l.dispatcher.Dispatch(ctx, call.Name, args)
			lastTools = append(lastTools, call.Name)
			lastArgs = call.Arguments
			if err != nil {
				// A failed tool ends the chain immediately.
				return outcome{
					acted:     acted,
					toolName:  call.Name,
					arguments: call.Arguments,
					reasoning: reasoning,
					summary:   fmt.Sprintf("stopped: %v", err),
				}
			}
			acted = true
			messages = append(messages, provider.Message{
				Role:       provider.RoleTool,
				Content:    result,
				ToolCallID: call.ID,
			})
		}
	}

	return outcome{
		acted:     acted,
		toolName:  strings.Join(lastTools, ","),
		arguments: lastArgs,
		reasoning: reasoning,
		summary:   "turn limit reached after: " + strings.Join(lastTools, ", "),
	}
}

// buildSnapshot gathers the inputs the model decides from: a trait snippet,
// active goals and recent self-initiated actions.
func (l *Loop) buildSnapshot() (string, error) {
	traits, err := l.memory.GetTraits()
	if err != nil {
		return "", err
	}
	goals, err := l.memory.GetGoals(memory.GoalActive, snapshotGoals)
	if err != nil {
		return "", err
	}
	logs, err := l.memory.GetActionLogs(snapshotActions)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("Current traits:\n")
	for name, value := range traits {
		fmt.Fprintf(&b, "- %s: %.2f\n", name, value)
	}
	b.WriteString("Active goals:\n")
	if len(goals) == 0 {
		b.WriteString("- none\n")
	}
	for _, g := range goals {
		fmt.Fprintf(&b, "- %s (step %d/%d)\n", g.Description, g.CurrentStep, len(g.Plan))
	}
	b.WriteString("Recent autonomous actions:\n")
	if len(logs) == 0 {
		b.WriteString("- none\n")
	}
	for _, entry := range logs {
		fmt.Fprintf(&b, "- %s: %s\n", entry.ToolName, entry.ResultSummary)
	}
	fmt.Fprintf(&b, "Time: %s\n", time.Now().Format(time.RFC1123))
	return b.String(), nil
}

func decodeCallArgs(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := provider.DecodeJSON([]byte(raw), &args); err != nil {
		return nil, err
	}
	return args, nil
}
