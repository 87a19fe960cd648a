// Package tool implements the agent's tool registry and dispatch path: every
// tool invocation goes through argument validation, a safety gate for
// dangerous tools, panic containment and call-stat recording.
package tool

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/cobaltfox/aria/internal/provider"
)

// Handler executes one tool call. The returned string is the result text fed
// back to the model.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Tool is one registered capability.
type Tool struct {
	Name        string
	Description string
	Schema      *jsonschema.Schema
	Dangerous   bool
	Handler     Handler
}

var (
	ErrUnknownTool = errors.New("unknown tool")
	ErrBlocked     = errors.New("tool call blocked by safety gate")
)

// StatsRecorder receives the outcome of every dispatch. Satisfied by
// memory.Engine.
type StatsRecorder interface {
	RecordToolCall(name string, success bool, duration time.Duration) error
}

// Dispatcher owns the registry. Registration happens at startup; dispatch is
// safe for concurrent use afterwards.
type Dispatcher struct {
	mu    sync.RWMutex
	tools map[string]*Tool

	gate  SafetyGate
	stats StatsRecorder
	allow map[string]bool
}

func NewDispatcher(gate SafetyGate, stats StatsRecorder) *Dispatcher {
	return &Dispatcher{
		tools: make(map[string]*Tool),
		gate:  gate,
		stats: stats,
		allow: make(map[string]bool),
	}
}

// AllowDangerous exempts the named tools from the safety gate. Intended for
// operator-configured allow lists, set at startup.
func (d *Dispatcher) AllowDangerous(names []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, name := range names {
		d.allow[name] = true
	}
}

// Register adds a tool. Re-registering a name replaces the previous entry.
func (d *Dispatcher) Register(t Tool) error {
	if t.Name == "" {
		return fmt.Errorf("tool: empty name")
	}
	if t.Handler == nil {
		return fmt.Errorf("tool %s: nil handler", t.Name)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tools[t.Name] = &t
	return nil
}

// Get returns the named tool, or nil.
func (d *Dispatcher) Get(name string) *Tool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.tools[name]
}

// Names lists registered tool names sorted for stable prompts and logs.
func (d *Dispatcher) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.tools))
	for name := range d.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Specs exposes the registry to the model, skipping any excluded names.
func (d *Dispatcher) Specs(exclude []string) []provider.ToolSpec {
	skip := make(map[string]bool, len(exclude))
	for _, name := range exclude {
		skip[name] = true
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	specs := make([]provider.ToolSpec, 0, len(d.tools))
	for _, t := range d.tools {
		if skip[t.Name] {
			continue
		}
		specs = append(specs, provider.ToolSpec{
			Name:        t.Name,
			Description: t.Description,
			Schema:      t.Schema,
		})
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// Dispatch runs one tool call end to end. Dangerous tools consult the safety
// gate first; an unavailable gate blocks the call. Handler panics become
// errors. Every attempt that reaches a handler is recorded in tool stats.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, args map[string]any) (string, error) {
	t := d.Get(name)
	if t == nil {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	if t.Schema != nil {
		if err := validateArgs(t.Schema, args); err != nil {
			return "", fmt.Errorf("tool %s: %w", name, err)
		}
	}

	if t.Dangerous && !d.isAllowed(name) {
		if d.gate == nil {
			return "", fmt.Errorf("%w: %s: no safety gate configured", ErrBlocked, name)
		}
		verdict, err := d.gate.Check(ctx, name, args)
		if err != nil {
			return "", fmt.Errorf("%w: %s: gate unavailable: %v", ErrBlocked, name, err)
		}
		if !verdict.Safe {
			log.Printf("[tool] blocked %s: %s", name, verdict.Reason)
			return "", fmt.Errorf("%w: %s: %s", ErrBlocked, name, verdict.Reason)
		}
	}

	start := time.Now()
	result, err := d.invoke(ctx, t, args)
	elapsed := time.Since(start)

	if d.stats != nil {
		if statErr := d.stats.RecordToolCall(name, err == nil, elapsed); statErr != nil {
			log.Printf("[tool] record stats for %s: %v", name, statErr)
		}
	}
	if err != nil {
		return "", fmt.Errorf("tool %s: %w", name, err)
	}
	return result, nil
}

func (d *Dispatcher) isAllowed(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.allow[name]
}

func (d *Dispatcher) invoke(ctx context.Context, t *Tool, args map[string]any) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return t.Handler(ctx, args)
}

func validateArgs(schema *jsonschema.Schema, args map[string]any) error {
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return fmt.Errorf("resolve schema: %w", err)
	}
	instance := args
	if instance == nil {
		instance = map[string]any{}
	}
	if err := resolved.Validate(instance); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}
