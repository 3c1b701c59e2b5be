package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mapache-ai/shaper/internal/learn"
	"github.com/mapache-ai/shaper/internal/ticket"
	"github.com/mapache-ai/shaper/internal/timeparsing"
	"github.com/mapache-ai/shaper/internal/ui"
)

var analyzeCmd = &cobra.Command{
	Use:     "analyze",
	GroupID: groupService,
	Short:   "Mine the audit trail for recurring failures and misroutes",
	Long: `Analyze reads the audit window and reports patterns worth fixing:
stages that keep failing on the same axis, and manual reviews that keep
overriding routing decisions. Findings are proposals only; nothing in
the pipeline changes unless a human acts on them.

With --file, each finding is filed as an improvement ticket on the
tracker. Filing is idempotent: re-filing the same finding is a no-op.`,
	Example: `  shaper analyze                    # default window from config
  shaper analyze --since -30d       # last thirty days
  shaper analyze --since "last monday" --file`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		sinceExpr, _ := cmd.Flags().GetString("since")
		file, _ := cmd.Flags().GetBool("file")

		rt, err := buildRuntime(rootCtx)
		if err != nil {
			fail(err)
		}
		defer rt.close()

		now := time.Now()
		since := now.AddDate(0, 0, -rt.cfg.Learn.WindowDays)
		if sinceExpr != "" {
			since, err = timeparsing.ParseRelativeTime(sinceExpr, now)
			if err != nil {
				fail(err)
			}
		}

		entries, err := rt.eng.Audit().Window(since, 0)
		if err != nil {
			fail(err)
		}
		findings := learn.Analyze(entries)

		var filed []*ticket.Ticket
		if file {
			for _, f := range findings {
				t, err := rt.eng.Recorder().File(rootCtx, f)
				if err != nil {
					fail(fmt.Errorf("filing %q: %w", f.Summary, err))
				}
				filed = append(filed, t)
			}
		}

		if jsonOutput {
			out := map[string]interface{}{
				"since":    since.Format(time.RFC3339),
				"entries":  len(entries),
				"findings": findings,
			}
			if file {
				out["filed"] = filed
			}
			_ = outputJSON(out)
			return
		}

		printFindings(findings, filed, since, len(entries))
	},
}

func init() {
	analyzeCmd.Flags().String("since", "", "Start of the analysis window (-30d, \"last monday\", 2026-08-01)")
	analyzeCmd.Flags().Bool("file", false, "File each finding as an improvement ticket")
	rootCmd.AddCommand(analyzeCmd)
}

func printFindings(findings []learn.Finding, filed []*ticket.Ticket, since time.Time, entryCount int) {
	header := fmt.Sprintf("%d audit entries since %s", entryCount, since.Format("2006-01-02"))
	if len(findings) == 0 {
		fmt.Printf("%s, no findings.\n", header)
		return
	}
	fmt.Println(ui.RenderMuted(header))
	fmt.Println()

	for i, f := range findings {
		fmt.Printf("%s %s\n", severityIcon(f.Severity), f.Summary)
		fmt.Printf("  %s%s\n", ui.TreeLast, ui.RenderMuted(f.Suggestion))
		if i < len(filed) && filed[i] != nil {
			fmt.Printf("  %s%s\n", ui.TreeLast,
				fmt.Sprintf("filed as %s", ui.RenderAccent(filed[i].Key)))
		}
	}

	fmt.Println()
	fmt.Println(ui.RenderMuted(fmt.Sprintf("%d finding(s)", len(findings))))
}

func severityIcon(s ticket.Severity) string {
	switch s {
	case ticket.SeverityHigh:
		return ui.RenderFailIcon()
	case ticket.SeverityMedium:
		return ui.RenderWarnIcon()
	default:
		return ui.RenderInfoIcon()
	}
}
