package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mapache-ai/shaper/internal/health"
	"github.com/mapache-ai/shaper/internal/ui"
)

var healthCmd = &cobra.Command{
	Use:     "health",
	GroupID: groupService,
	Short:   "Report collaborator health",
	Long: `Health rolls up the tracked state of every collaborator: consecutive
errors, last failure, and remaining API quota where the collaborator
reports one. Exit status is non-zero when any collaborator is unhealthy.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		rt, err := buildRuntime(rootCtx)
		if err != nil {
			fail(err)
		}
		defer rt.close()

		report := rt.eng.Health()

		if jsonOutput {
			_ = outputJSON(report)
		} else {
			printHealthReport(report)
		}

		if report.Status == health.StatusUnhealthy {
			rt.close()
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}

func printHealthReport(report health.Report) {
	fmt.Printf("%s %s\n", healthIcon(report.Status), report.Status)
	for _, c := range report.Collaborators {
		line := fmt.Sprintf("%s%s %s", ui.TreeChild, healthIcon(c.Status), c.Name)
		if c.ConsecutiveErrors > 0 {
			line += ui.RenderMuted(fmt.Sprintf("  %d consecutive error(s)", c.ConsecutiveErrors))
		}
		if c.QuotaLimit > 0 {
			line += ui.RenderMuted(fmt.Sprintf("  quota %d/%d", c.QuotaRemaining, c.QuotaLimit))
		}
		fmt.Println(line)
		if c.LastError != "" {
			fmt.Printf("%s%s\n", ui.TreeIndent+ui.TreeLast, ui.RenderMuted(c.LastError))
		}
	}
}

func healthIcon(s health.Status) string {
	switch s {
	case health.StatusHealthy:
		return ui.RenderPassIcon()
	case health.StatusDegraded:
		return ui.RenderWarnIcon()
	default:
		return ui.RenderFailIcon()
	}
}
