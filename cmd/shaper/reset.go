package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mapache-ai/shaper/internal/ui"
)

var resetCmd = &cobra.Command{
	Use:     "reset TICKET",
	GroupID: groupPipeline,
	Short:   "Return a parked or discarded ticket to the candidate pool",
	Long: `Reset is the only way out of a terminal state. The ticket's snapshot
is cleared so the next triage re-runs the full pipeline from scratch.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		rt, err := buildRuntime(rootCtx)
		if err != nil {
			fail(err)
		}
		defer rt.close()

		if err := rt.eng.Reset(rootCtx, args[0]); err != nil {
			fail(err)
		}

		if jsonOutput {
			_ = outputJSON(map[string]interface{}{
				"key":    args[0],
				"status": "candidate",
			})
			return
		}
		fmt.Printf("%s %s reset to candidate\n", ui.RenderPassIcon(), ui.RenderAccent(args[0]))
	},
}

func init() {
	rootCmd.AddCommand(resetCmd)
}
