// Package provider defines the contract the agent core requires from a model
// provider: structured-JSON completion and named tool-call requests. Invalid
// or unparseable responses surface as errors, never as panics.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/kaptinlin/jsonrepair"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn of a completion conversation.
type Message struct {
	Role       Role
	Content    string
	ToolCallID string     // set on RoleTool results
	ToolCalls  []ToolCall // set on assistant turns that requested tools
}

// ToolCall is a named tool request with raw JSON arguments.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ToolSpec exposes one callable tool to the model.
type ToolSpec struct {
	Name        string
	Description string
	Schema      *jsonschema.Schema
}

// Request asks for one completion. When Schema is set the response payload is
// validated against it; when Tools are set the model may answer with tool-call
// requests instead of (or alongside) text.
type Request struct {
	Messages    []Message
	Schema      *jsonschema.Schema
	SchemaName  string
	Tools       []ToolSpec
	Temperature float64
	MaxTokens   int
}

// Response carries exactly one of: validated JSON (Schema requests), tool-call
// requests, or plain text content.
type Response struct {
	Content   string
	JSON      json.RawMessage
	ToolCalls []ToolCall
}

// Provider is the model-provider collaborator boundary.
type Provider interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// ErrEmptyResponse marks a completion that returned no usable payload.
var ErrEmptyResponse = errors.New("provider returned empty response")

// SchemaFor derives a JSON schema from a Go type.
func SchemaFor[T any]() (*jsonschema.Schema, error) {
	return jsonschema.For[T](nil)
}

// MustSchemaFor is SchemaFor for start-up registration paths where a bad
// schema is a programming error.
func MustSchemaFor[T any]() *jsonschema.Schema {
	s, err := SchemaFor[T]()
	if err != nil {
		panic(err)
	}
	return s
}

// DecodeJSON unmarshals model output into v, repairing malformed JSON once
// before giving up. Models routinely emit trailing commas or fenced output.
func DecodeJSON(data []byte, v any) error {
	err := json.Unmarshal(data, v)
	if err == nil {
		return nil
	}
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		fixed, repairErr := jsonrepair.JSONRepair(string(data))
		if repairErr != nil {
			return fmt.Errorf("repair json: %w", repairErr)
		}
		return json.Unmarshal([]byte(fixed), v)
	}
	return err
}

// ValidateAgainst checks raw JSON against a schema, repairing first when
// needed, and returns the (possibly repaired) payload.
func ValidateAgainst(schema *jsonschema.Schema, raw []byte) (json.RawMessage, error) {
	var instance any
	if err := DecodeJSON(raw, &instance); err != nil {
		return nil, fmt.Errorf("parse payload: %w", err)
	}
	if schema != nil {
		resolved, err := schema.Resolve(nil)
		if err != nil {
			return nil, fmt.Errorf("resolve schema: %w", err)
		}
		if err := resolved.Validate(instance); err != nil {
			return nil, fmt.Errorf("validate payload: %w", err)
		}
	}
	normalized, err := json.Marshal(instance)
	if err != nil {
		return nil, fmt.Errorf("re-encode payload: %w", err)
	}
	return normalized, nil
}
