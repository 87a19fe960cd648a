package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

const (
	DefaultModel       = "gpt-4o-mini"
	DefaultMaxTokens   = 4096
	DefaultTemperature = 0.7

	DefaultWakeSeconds      = 15
	DefaultEvolveSeconds    = 1800
	DefaultDecomposeSeconds = 300
	DefaultExecuteSeconds   = 60
	DefaultActionSeconds    = 600
	DefaultDecaySeconds     = 3600

	DefaultUserFactCap    = 200
	DefaultGeneralFactCap = 500

	DefaultDecayIntervalHours = 24
	DefaultDecayRate          = 0.95

	DefaultActionProbability = 0.3
	DefaultActionMaxTurns    = 2

	DefaultSandboxTimeoutSec = 30
	DefaultSandboxCPUSeconds = 10
	DefaultSandboxMemoryMB   = 256

	DefaultEmbeddingBatchSize = 16
	DefaultEmbeddingTimeoutMs = 10000
)

type Config struct {
	Workspace string          `json:"workspace"`
	Provider  ProviderConfig  `json:"provider"`
	Memory    MemoryConfig    `json:"memory"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Action    ActionConfig    `json:"action"`
	Persona   PersonaConfig   `json:"persona"`
	Tools     ToolsConfig     `json:"tools"`
	Channels  ChannelsConfig  `json:"channels"`
}

type ProviderConfig struct {
	APIKey      string  `json:"apiKey"`
	BaseURL     string  `json:"baseUrl,omitempty"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"maxTokens"`
	Temperature float64 `json:"temperature"`
}

type MemoryConfig struct {
	DBPath         string          `json:"dbPath,omitempty"`
	UserFactCap    int             `json:"userFactCap"`
	GeneralFactCap int             `json:"generalFactCap"`
	DecayHours     int             `json:"decayHours"`
	DecayRate      float64         `json:"decayRate"`
	Embedding      EmbeddingConfig `json:"embedding"`
}

type EmbeddingConfig struct {
	Enabled   bool   `json:"enabled"`
	BaseURL   string `json:"baseUrl,omitempty"`
	APIKey    string `json:"apiKey,omitempty"`
	Model     string `json:"model,omitempty"`
	Dimension int    `json:"dimension,omitempty"`
	BatchSize int    `json:"batchSize,omitempty"`
	TimeoutMs int    `json:"timeoutMs,omitempty"`
}

// SchedulerConfig holds per-subsystem intervals in seconds. The wake period
// bounds how fast any interval can fire.
type SchedulerConfig struct {
	WakeSeconds      int `json:"wakeSeconds"`
	EvolveSeconds    int `json:"evolveSeconds"`
	DecomposeSeconds int `json:"decomposeSeconds"`
	ExecuteSeconds   int `json:"executeSeconds"`
	ActionSeconds    int `json:"actionSeconds"`
	DecaySeconds     int `json:"decaySeconds"`
}

type ActionConfig struct {
	Probability  float64  `json:"probability"`
	MaxTurns     int      `json:"maxTurns"`
	ExcludeTools []string `json:"excludeTools,omitempty"`
	NotifyChat   string   `json:"notifyChat,omitempty"`
}

type PersonaConfig struct {
	Alpha   float64 `json:"alpha"`
	Epsilon float64 `json:"epsilon"`
}

type ToolsConfig struct {
	DangerousAllow []string      `json:"dangerousAllow,omitempty"`
	Sandbox        SandboxConfig `json:"sandbox"`
}

type SandboxConfig struct {
	TimeoutSeconds int  `json:"timeoutSeconds"`
	CPUSeconds     int  `json:"cpuSeconds"`
	MemoryMB       int  `json:"memoryMb"`
	DisableNetwork bool `json:"disableNetwork"`
	WorkDir        string `json:"workDir,omitempty"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allowFrom,omitempty"`
	Proxy     string   `json:"proxy,omitempty"`
}

func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Workspace: filepath.Join(home, ".aria", "workspace"),
		Provider: ProviderConfig{
			Model:       DefaultModel,
			MaxTokens:   DefaultMaxTokens,
			Temperature: DefaultTemperature,
		},
		Memory: MemoryConfig{
			UserFactCap:    DefaultUserFactCap,
			GeneralFactCap: DefaultGeneralFactCap,
			DecayHours:     DefaultDecayIntervalHours,
			DecayRate:      DefaultDecayRate,
			Embedding: EmbeddingConfig{
				BatchSize: DefaultEmbeddingBatchSize,
				TimeoutMs: DefaultEmbeddingTimeoutMs,
			},
		},
		Scheduler: SchedulerConfig{
			WakeSeconds:      DefaultWakeSeconds,
			EvolveSeconds:    DefaultEvolveSeconds,
			DecomposeSeconds: DefaultDecomposeSeconds,
			ExecuteSeconds:   DefaultExecuteSeconds,
			ActionSeconds:    DefaultActionSeconds,
			DecaySeconds:     DefaultDecaySeconds,
		},
		Action: ActionConfig{
			Probability: DefaultActionProbability,
			MaxTurns:    DefaultActionMaxTurns,
		},
		Persona: PersonaConfig{
			Alpha:   0.02,
			Epsilon: 0.001,
		},
		Tools: ToolsConfig{
			Sandbox: SandboxConfig{
				TimeoutSeconds: DefaultSandboxTimeoutSec,
				CPUSeconds:     DefaultSandboxCPUSeconds,
				MemoryMB:       DefaultSandboxMemoryMB,
				DisableNetwork: true,
			},
		},
		Channels: ChannelsConfig{},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".aria")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	applyFloors(cfg)

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if key := os.Getenv("ARIA_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
	}
	if url := os.Getenv("ARIA_BASE_URL"); url != "" {
		cfg.Provider.BaseURL = url
	}
	if model := os.Getenv("ARIA_MODEL"); model != "" {
		cfg.Provider.Model = model
	}
	if token := os.Getenv("ARIA_TELEGRAM_TOKEN"); token != "" {
		cfg.Channels.Telegram.Token = token
		cfg.Channels.Telegram.Enabled = true
	}
	if dbPath := os.Getenv("ARIA_DB_PATH"); dbPath != "" {
		cfg.Memory.DBPath = dbPath
	}
	if p := os.Getenv("ARIA_ACTION_PROBABILITY"); p != "" {
		if parsed, err := strconv.ParseFloat(p, 64); err == nil {
			cfg.Action.Probability = parsed
		}
	}
	if v := os.Getenv("ARIA_EMBEDDING_ENABLED"); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			cfg.Memory.Embedding.Enabled = parsed
		}
	}
	if url := os.Getenv("ARIA_EMBEDDING_BASE_URL"); url != "" {
		cfg.Memory.Embedding.BaseURL = url
	}
	if model := os.Getenv("ARIA_EMBEDDING_MODEL"); model != "" {
		cfg.Memory.Embedding.Model = model
	}
}

func applyFloors(cfg *Config) {
	if cfg.Workspace == "" {
		cfg.Workspace = DefaultConfig().Workspace
	}
	if cfg.Scheduler.WakeSeconds <= 0 {
		cfg.Scheduler.WakeSeconds = DefaultWakeSeconds
	}
	if cfg.Scheduler.EvolveSeconds <= 0 {
		cfg.Scheduler.EvolveSeconds = DefaultEvolveSeconds
	}
	if cfg.Scheduler.DecomposeSeconds <= 0 {
		cfg.Scheduler.DecomposeSeconds = DefaultDecomposeSeconds
	}
	if cfg.Scheduler.ExecuteSeconds <= 0 {
		cfg.Scheduler.ExecuteSeconds = DefaultExecuteSeconds
	}
	if cfg.Scheduler.ActionSeconds <= 0 {
		cfg.Scheduler.ActionSeconds = DefaultActionSeconds
	}
	if cfg.Scheduler.DecaySeconds <= 0 {
		cfg.Scheduler.DecaySeconds = DefaultDecaySeconds
	}
	if cfg.Memory.UserFactCap <= 0 {
		cfg.Memory.UserFactCap = DefaultUserFactCap
	}
	if cfg.Memory.GeneralFactCap <= 0 {
		cfg.Memory.GeneralFactCap = DefaultGeneralFactCap
	}
	if cfg.Memory.DecayHours <= 0 {
		cfg.Memory.DecayHours = DefaultDecayIntervalHours
	}
	if cfg.Memory.DecayRate <= 0 || cfg.Memory.DecayRate >= 1 {
		cfg.Memory.DecayRate = DefaultDecayRate
	}
	if cfg.Action.Probability < 0 || cfg.Action.Probability > 1 {
		cfg.Action.Probability = DefaultActionProbability
	}
	if cfg.Action.MaxTurns <= 0 {
		cfg.Action.MaxTurns = DefaultActionMaxTurns
	}
	if cfg.Persona.Alpha <= 0 || cfg.Persona.Alpha >= 1 {
		cfg.Persona.Alpha = 0.02
	}
	if cfg.Persona.Epsilon <= 0 {
		cfg.Persona.Epsilon = 0.001
	}
	if cfg.Tools.Sandbox.TimeoutSeconds <= 0 {
		cfg.Tools.Sandbox.TimeoutSeconds = DefaultSandboxTimeoutSec
	}
	if cfg.Tools.Sandbox.CPUSeconds <= 0 {
		cfg.Tools.Sandbox.CPUSeconds = DefaultSandboxCPUSeconds
	}
	if cfg.Tools.Sandbox.MemoryMB <= 0 {
		cfg.Tools.Sandbox.MemoryMB = DefaultSandboxMemoryMB
	}
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}
