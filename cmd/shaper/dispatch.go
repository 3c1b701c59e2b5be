package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mapache-ai/shaper/internal/ui"
)

var dispatchCmd = &cobra.Command{
	Use:     "dispatch-ready",
	GroupID: groupPipeline,
	Short:   "Hand agent-routed ready tickets to coding agents",
	Long: `Dispatch-ready walks the ready queue in priority order and starts an
agent session for each agent-routed ticket, posting the work brief. Chat
and manual tickets are reported but left in the queue. Dispatch stops at
the first code host failure so a flaky host cannot half-start a batch.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		limit, _ := cmd.Flags().GetInt("limit")

		rt, err := buildRuntime(rootCtx)
		if err != nil {
			fail(err)
		}
		defer rt.close()

		dispatches, err := rt.eng.DispatchReady(rootCtx, limit)
		if err != nil {
			fail(err)
		}

		if jsonOutput {
			_ = outputJSON(dispatches)
			return
		}

		if len(dispatches) == 0 {
			fmt.Println("Nothing to dispatch.")
			return
		}
		var started int
		for _, d := range dispatches {
			if d.Skipped {
				fmt.Printf("%s %s %s\n", ui.RenderSkipIcon(), d.Key, ui.RenderMuted(d.Reason))
				continue
			}
			started++
			fmt.Printf("%s %s → %s\n", ui.RenderPassIcon(), ui.RenderAccent(d.Key), d.Agent)
			if d.SessionRef != "" {
				fmt.Printf("  %s%s\n", ui.TreeLast, ui.RenderMuted(d.SessionRef))
			}
		}
		fmt.Println()
		fmt.Println(ui.RenderMuted(fmt.Sprintf("%d session(s) started", started)))
	},
}

func init() {
	dispatchCmd.Flags().IntP("limit", "n", 5, "Maximum number of tickets to dispatch")
	rootCmd.AddCommand(dispatchCmd)
}
