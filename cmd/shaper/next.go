package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mapache-ai/shaper/internal/ui"
)

var nextCmd = &cobra.Command{
	Use:     "next",
	GroupID: groupPipeline,
	Short:   "Show ready tickets in dispatch order",
	Long: `Next lists ready tickets ordered by priority score, ties broken by
earliest creation. This is the queue dispatch-ready consumes from.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		limit, _ := cmd.Flags().GetInt("limit")

		rt, err := buildRuntime(rootCtx)
		if err != nil {
			fail(err)
		}
		defer rt.close()

		items, err := rt.eng.Next(rootCtx, limit)
		if err != nil {
			fail(err)
		}

		if jsonOutput {
			_ = outputJSON(items)
			return
		}

		if len(items) == 0 {
			fmt.Println("No ready tickets. Run 'shaper triage' to shape the backlog.")
			return
		}
		for i, item := range items {
			route := ui.RouteStyle(string(item.Route)).Render(string(item.Route))
			fmt.Printf("%d. [%d] %s: %s (%s)\n", i+1, item.Score, ui.RenderAccent(item.Key), item.Title, route)
		}
	},
}

func init() {
	nextCmd.Flags().IntP("limit", "n", 10, "Maximum number of tickets to show")
	rootCmd.AddCommand(nextCmd)
}
