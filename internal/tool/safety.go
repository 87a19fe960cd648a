package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cobaltfox/aria/internal/provider"
)

// Verdict is a safety-gate decision.
type Verdict struct {
	Safe   bool   `json:"safe"`
	Reason string `json:"reason"`
}

// SafetyGate decides whether a dangerous tool call may proceed. A non-nil
// error means the decision could not be obtained; callers must treat that as
// a block.
type SafetyGate interface {
	Check(ctx context.Context, name string, args map[string]any) (Verdict, error)
}

const gatePrompt = `You are a safety reviewer for an autonomous assistant.
Given a tool call the assistant wants to make, decide whether executing it is
safe. Destructive filesystem operations, credential exfiltration, package
installation, and anything that modifies the host outside the assistant
workspace are unsafe. Read-only inspection and workspace-local writes are
safe. Answer with your verdict and a one-sentence reason.`

// ProviderGate asks the model provider for a yes/no verdict on each call.
type ProviderGate struct {
	provider provider.Provider
}

func NewProviderGate(p provider.Provider) *ProviderGate {
	return &ProviderGate{provider: p}
}

func (g *ProviderGate) Check(ctx context.Context, name string, args map[string]any) (Verdict, error) {
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return Verdict{}, fmt.Errorf("encode args: %w", err)
	}
	schema, err := provider.SchemaFor[Verdict]()
	if err != nil {
		return Verdict{}, fmt.Errorf("build verdict schema: %w", err)
	}
	resp, err := g.provider.Complete(ctx, provider.Request{
		Messages: []provider.Message{
			{Role: provider.RoleSystem, Content: gatePrompt},
			{Role: provider.RoleUser, Content: fmt.Sprintf("Tool: %s\nArguments: %s", name, argsJSON)},
		},
		Schema:     schema,
		SchemaName: "safety_verdict",
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("safety check: %w", err)
	}
	var verdict Verdict
	if err := provider.DecodeJSON(resp.JSON, &verdict); err != nil {
		return Verdict{}, fmt.Errorf("parse verdict: %w", err)
	}
	return verdict, nil
}
