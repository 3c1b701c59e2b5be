package main

import (
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
)

var cleanCmd = &cobra.Command{
	Use:     "clean-project PROJECT",
	GroupID: groupPipeline,
	Short:   "Re-shape every ticket in a tracker project",
	Long: `Clean-project forces the pipeline over every non-terminal ticket in a
project, ignoring content-hash skips. Use it after changing classifier
keywords or the priority rule table, when stored decisions are stale.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		skipConfirm, _ := cmd.Flags().GetBool("yes")
		project := args[0]

		// JSON mode is for scripts and agents; never block on a prompt there.
		if !skipConfirm && !jsonOutput {
			var confirmed bool
			prompt := huh.NewConfirm().
				Title(fmt.Sprintf("Re-shape every ticket in %s?", project)).
				Description("Terminal tickets stay terminal; everything else is re-classified, re-scored, and re-routed.").
				Affirmative("Re-shape").
				Negative("Cancel").
				Value(&confirmed)
			if err := prompt.Run(); err != nil {
				fail(err)
			}
			if !confirmed {
				fmt.Println("Cancelled.")
				return
			}
		}

		rt, err := buildRuntime(rootCtx)
		if err != nil {
			fail(err)
		}
		defer rt.close()

		results, err := rt.eng.CleanProject(rootCtx, project)
		if err != nil {
			fail(err)
		}

		if jsonOutput {
			_ = outputJSON(results)
			return
		}
		printTriageResults(results)
	},
}

func init() {
	cleanCmd.Flags().BoolP("yes", "y", false, "Skip the confirmation prompt")
	rootCmd.AddCommand(cleanCmd)
}
