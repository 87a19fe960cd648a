package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/cobaltfox/aria/internal/memory"
	"github.com/cobaltfox/aria/internal/provider"
)

// Notifier delivers an outbound chat message. Satisfied by the outbound bus.
type Notifier interface {
	Notify(chatID, text string)
}

// BuiltinDeps carries the collaborators the built-in tools close over.
type BuiltinDeps struct {
	Memory   *memory.Engine
	Notifier Notifier
	Sandbox  *Sandbox
	// DefaultChatID receives send_message output when the model omits a chat.
	DefaultChatID string
	HTTPClient    *http.Client
}

type sendMessageArgs struct {
	Text   string `json:"text" jsonschema:"the message text to send"`
	ChatID string `json:"chat_id,omitempty" jsonschema:"target chat; defaults to the owner chat"`
}

type rememberFactArgs struct {
	Content string `json:"content" jsonschema:"the fact to remember"`
	Scope   string `json:"scope,omitempty" jsonschema:"user or general; defaults to general"`
	Subject string `json:"subject,omitempty" jsonschema:"user id the fact is about, for user scope"`
}

type noteInterestArgs struct {
	Topic string  `json:"topic" jsonschema:"the interest topic"`
	Delta float64 `json:"delta,omitempty" jsonschema:"level adjustment in [-1,1]; defaults to 0.1"`
}

type runShellArgs struct {
	Command string `json:"command" jsonschema:"the shell command to run"`
}

type fetchURLArgs struct {
	URL string `json:"url" jsonschema:"the http(s) url to fetch"`
}

// RegisterBuiltins installs the core tool set on the dispatcher.
func RegisterBuiltins(d *Dispatcher, deps BuiltinDeps) error {
	httpClient := deps.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}

	builtins := []Tool{
		{
			Name:        "send_message",
			Description: "Send a chat message to the user.",
			Schema:      provider.MustSchemaFor[sendMessageArgs](),
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				var a sendMessageArgs
				if err := decodeArgs(args, &a); err != nil {
					return "", err
				}
				if a.Text == "" {
					return "", fmt.Errorf("text is required")
				}
				chatID := a.ChatID
				if chatID == "" {
					chatID = deps.DefaultChatID
				}
				if chatID == "" {
					return "", fmt.Errorf("no target chat")
				}
				deps.Notifier.Notify(chatID, a.Text)
				return "message sent", nil
			},
		},
		{
			Name:        "remember_fact",
			Description: "Store a durable fact in long-term memory.",
			Schema:      provider.MustSchemaFor[rememberFactArgs](),
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				var a rememberFactArgs
				if err := decodeArgs(args, &a); err != nil {
					return "", err
				}
				scope := memory.ScopeGeneral
				if a.Scope == string(memory.ScopeUser) {
					scope = memory.ScopeUser
				}
				result, err := deps.Memory.AddFact(scope, a.Subject, a.Content)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("fact %s", result), nil
			},
		},
		{
			Name:        "note_interest",
			Description: "Adjust the level of an interest topic.",
			Schema:      provider.MustSchemaFor[noteInterestArgs](),
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				var a noteInterestArgs
				if err := decodeArgs(args, &a); err != nil {
					return "", err
				}
				if a.Topic == "" {
					return "", fmt.Errorf("topic is required")
				}
				delta := a.Delta
				if delta == 0 {
					delta = 0.1
				}
				if err := deps.Memory.UpdateInterest(a.Topic, delta); err != nil {
					return "", err
				}
				level, err := deps.Memory.GetInterest(a.Topic)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("interest %q now %.2f", strings.ToLower(a.Topic), level), nil
			},
		},
		{
			Name:        "fetch_url",
			Description: "Fetch the body of an http(s) URL.",
			Schema:      provider.MustSchemaFor[fetchURLArgs](),
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				var a fetchURLArgs
				if err := decodeArgs(args, &a); err != nil {
					return "", err
				}
				if !strings.HasPrefix(a.URL, "http://") && !strings.HasPrefix(a.URL, "https://") {
					return "", fmt.Errorf("url must be http or https")
				}
				return fetchWithRetry(ctx, httpClient, a.URL)
			},
		},
		{
			Name:        "run_shell",
			Description: "Run a shell command in a resource-limited sandbox.",
			Schema:      provider.MustSchemaFor[runShellArgs](),
			Dangerous:   true,
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				var a runShellArgs
				if err := decodeArgs(args, &a); err != nil {
					return "", err
				}
				return deps.Sandbox.Run(ctx, a.Command)
			},
		},
	}

	for _, t := range builtins {
		if err := d.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// fetchWithRetry retries transient failures; 4xx responses are permanent.
func fetchWithRetry(ctx context.Context, client *http.Client, url string) (string, error) {
	op := func() (string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return "", backoff.Permanent(err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 {
			return "", fmt.Errorf("server error: %s", resp.Status)
		}
		if resp.StatusCode >= 400 {
			return "", backoff.Permanent(fmt.Errorf("request failed: %s", resp.Status))
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxSandboxOutput))
		if err != nil {
			return "", err
		}
		return string(body), nil
	}
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(3),
	)
}

func decodeArgs(args map[string]any, v any) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode arguments: %w", err)
	}
	if err := provider.DecodeJSON(raw, v); err != nil {
		return fmt.Errorf("decode arguments: %w", err)
	}
	return nil
}
