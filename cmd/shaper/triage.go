package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mapache-ai/shaper/internal/ticket"
	"github.com/mapache-ai/shaper/internal/ui"
)

var triageCmd = &cobra.Command{
	Use:     "triage [TICKET]",
	GroupID: groupPipeline,
	Short:   "Classify, rewrite, score, and route backlog tickets",
	Long: `Triage runs the full shaping pipeline over candidate tickets.

Without arguments it sweeps every candidate in the tracker. With a ticket
key it shapes just that ticket. Tickets whose content is unchanged since
the last run are skipped; terminal tickets (parked, discarded) are left
alone.`,
	Example: `  shaper triage              # sweep the whole backlog
  shaper triage ENG-1423     # re-shape one ticket
  shaper triage -p growth    # sweep one tracker project`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		project, _ := cmd.Flags().GetString("project")

		rt, err := buildRuntime(rootCtx)
		if err != nil {
			fail(err)
		}
		defer rt.close()

		var results []ticket.TriageResult
		if len(args) == 1 {
			res, err := rt.eng.TriageTicket(rootCtx, args[0])
			if err != nil {
				fail(err)
			}
			results = []ticket.TriageResult{*res}
		} else {
			results, err = rt.eng.Triage(rootCtx, project)
			if err != nil {
				fail(err)
			}
		}

		if jsonOutput {
			_ = outputJSON(results)
			return
		}
		printTriageResults(results)
	},
}

func init() {
	triageCmd.Flags().StringP("project", "p", "", "Limit the sweep to one tracker project")
	rootCmd.AddCommand(triageCmd)
}

func printTriageResults(results []ticket.TriageResult) {
	if len(results) == 0 {
		fmt.Println("No candidate tickets to triage.")
		return
	}

	var shaped, skipped, failed int
	for _, r := range results {
		switch {
		case r.Err != "":
			failed++
			fmt.Printf("%s %s %s\n", ui.RenderFailIcon(), r.Key, ui.RenderMuted(r.Err))
		case r.Skipped:
			skipped++
			fmt.Printf("%s %s %s\n", ui.RenderSkipIcon(), r.Key, ui.RenderMuted("unchanged since last run"))
		case r.Status == ticket.StatusReady:
			shaped++
			fmt.Printf("%s %s %s\n", ui.RenderPassIcon(), r.Key, routed(r))
		case r.Status == ticket.StatusShaped:
			shaped++
			fmt.Printf("%s %s %s\n", ui.RenderWarnIcon(), r.Key, ui.RenderMuted("shaped, awaiting review"))
		default:
			// parked or discarded
			shaped++
			fmt.Printf("%s %s %s\n", ui.RenderSkipIcon(), r.Key,
				ui.RenderMuted(string(r.Status)+": "+r.Rationale))
		}
	}

	fmt.Println()
	fmt.Println(ui.RenderMuted(fmt.Sprintf("%d shaped, %d unchanged, %d failed", shaped, skipped, failed)))
}

// routed formats the score and destination for a ready ticket.
func routed(r ticket.TriageResult) string {
	if r.Priority == nil || r.Routing == nil {
		return ""
	}
	route := ui.RouteStyle(string(r.Routing.Route)).Render(string(r.Routing.Route))
	return fmt.Sprintf("[%d → %s]", r.Priority.Score, route)
}
