package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cobaltfox/aria/internal/config"
	"github.com/cobaltfox/aria/internal/gateway"
	"github.com/cobaltfox/aria/internal/memory"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "aria",
	Short: "aria - autonomous conversational agent",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the agent (channels + scheduler + tools)",
	RunE:  runGateway,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config and workspace",
	RunE:  runOnboard,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show aria status",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(runCmd, onboardCmd, statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.Provider.APIKey == "" {
		return fmt.Errorf("API key not set. Run 'aria onboard' or set ARIA_API_KEY / OPENAI_API_KEY")
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	return gw.Run(context.Background())
}

func runOnboard(cmd *cobra.Command, args []string) error {
	cfgPath := config.ConfigPath()

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := config.SaveConfig(config.DefaultConfig()); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("Created config: %s\n", cfgPath)
	} else {
		fmt.Printf("Config already exists: %s\n", cfgPath)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := os.MkdirAll(cfg.Workspace, 0755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	writeIfNotExists(filepath.Join(cfg.Workspace, "PERSONA.md"), defaultPersonaMD)

	fmt.Printf("Workspace ready: %s\n", cfg.Workspace)
	fmt.Println("\nNext steps:")
	fmt.Printf("  1. Edit %s to set your API key\n", cfgPath)
	fmt.Println("  2. Or set ARIA_API_KEY environment variable")
	fmt.Println("  3. Run 'aria run' to start the agent")

	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Config: error (%v)\n", err)
		return nil
	}

	fmt.Printf("Config: %s\n", config.ConfigPath())
	fmt.Printf("Workspace: %s\n", cfg.Workspace)
	fmt.Printf("Model: %s\n", cfg.Provider.Model)
	if cfg.Provider.APIKey != "" && len(cfg.Provider.APIKey) > 8 {
		masked := cfg.Provider.APIKey[:4] + "..." + cfg.Provider.APIKey[len(cfg.Provider.APIKey)-4:]
		fmt.Printf("API Key: %s\n", masked)
	} else if cfg.Provider.APIKey != "" {
		fmt.Println("API Key: set")
	} else {
		fmt.Println("API Key: not set")
	}
	fmt.Printf("Telegram: enabled=%v\n", cfg.Channels.Telegram.Enabled)
	fmt.Printf("Embeddings: enabled=%v\n", cfg.Memory.Embedding.Enabled)

	dbPath := cfg.Memory.DBPath
	if dbPath == "" {
		dbPath = filepath.Join(config.ConfigDir(), "data", "aria.db")
	}
	if _, err := os.Stat(dbPath); err != nil {
		fmt.Println("Memory: not initialized (run 'aria run' once)")
		return nil
	}

	mem, err := memory.NewEngine(dbPath, memory.Caps{
		UserFacts:    cfg.Memory.UserFactCap,
		GeneralFacts: cfg.Memory.GeneralFactCap,
	})
	if err != nil {
		fmt.Printf("Memory: error (%v)\n", err)
		return nil
	}
	defer mem.Close()

	if n, err := mem.CountFacts(memory.ScopeGeneral, ""); err == nil {
		fmt.Printf("General facts: %d\n", n)
	}
	for _, status := range []memory.GoalStatus{memory.GoalPending, memory.GoalActive} {
		if goals, err := mem.GetGoals(status, 100); err == nil {
			fmt.Printf("Goals %s: %d\n", status, len(goals))
		}
	}
	if interests, err := mem.ListInterests(5); err == nil && len(interests) > 0 {
		fmt.Println("Top interests:")
		for _, it := range interests {
			fmt.Printf("  %s: %.2f\n", it.Topic, it.Level)
		}
	}
	if stats, err := mem.GetToolStats(); err == nil && len(stats) > 0 {
		fmt.Println("Tool calls:")
		for _, s := range stats {
			fmt.Printf("  %s: %d ok / %d failed\n", s.ToolName, s.SuccessCount, s.FailureCount)
		}
	}

	return nil
}

func writeIfNotExists(path, content string) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		_ = os.WriteFile(path, []byte(content), 0644)
		fmt.Printf("  Created: %s\n", path)
	}
}

const defaultPersonaMD = `# Persona

You are Aria, an autonomous assistant with a persistent memory and a mind
of your own. You act on your goals between conversations, keep notes on
what you learn, and reach out when you have something worth saying.

Your personality:
- Curious about the topics your owner cares about
- Direct and warm, never verbose
- Honest about what you did and what failed
`
