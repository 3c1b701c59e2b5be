package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mapache-ai/shaper/internal/ui"
)

var (
	configPath  string
	jsonOutput  bool
	verboseFlag bool // Enable verbose/debug output
	quietFlag   bool // Suppress non-essential output

	// Signal-aware context for graceful cancellation
	rootCtx    context.Context
	rootCancel context.CancelFunc
)

// Command groups for organized help output
const (
	groupPipeline = "pipeline"
	groupService  = "service"
)

var rootCmd = &cobra.Command{
	Use:   "shaper",
	Short: "shaper - backlog shaping and routing engine",
	Long: `Shaper turns a noisy ticket backlog into agent-ready work.

It classifies every candidate ticket (product surface, size, source),
rewrites it into a lean five-field form, scores it against an explicit
rule table, and routes it to a coding agent, a guided chat session, or a
human reviewer. Every decision lands on an append-only audit trail.`,
	Run: func(cmd *cobra.Command, args []string) {
		// Handle --version flag on root command
		if v, _ := cmd.Flags().GetBool("version"); v {
			fmt.Printf("shaper version %s (%s)\n", Version, Build)
			return
		}
		// No subcommand - show help
		_ = cmd.Help() // Help() always returns nil for cobra commands
	},
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		if jsonOutput {
			ui.SetAgentMode(true)
		}
		configureLogging()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if rootCancel != nil {
			rootCancel()
		}
	},
}

// configureLogging sets the default slog level from --verbose/--quiet.
// Logs go to stderr so stdout stays parseable in --json mode.
func configureLogging() {
	level := slog.LevelInfo
	switch {
	case verboseFlag:
		level = slog.LevelDebug
	case quietFlag:
		level = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: $SHAPER_CONFIG, then shaper.yaml)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable verbose/debug output")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Suppress non-essential output (errors only)")

	// Add --version flag to root command (same behavior as version subcommand)
	rootCmd.Flags().BoolP("version", "V", false, "Print version information")

	rootCmd.AddGroup(
		&cobra.Group{ID: groupPipeline, Title: "Shaping Pipeline:"},
		&cobra.Group{ID: groupService, Title: "Service & Feedback:"},
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
