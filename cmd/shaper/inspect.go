package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mapache-ai/shaper/internal/ticket"
	"github.com/mapache-ai/shaper/internal/ui"
)

var inspectCmd = &cobra.Command{
	Use:     "inspect TICKET",
	GroupID: groupPipeline,
	Short:   "Show the recorded shaping state for one ticket",
	Long: `Inspect reads the stored snapshot for a ticket: classification,
priority score with its rationale, and the routing decision with any
generated artifact. The pipeline only re-runs if no snapshot exists.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		full, _ := cmd.Flags().GetBool("full")
		noPager, _ := cmd.Flags().GetBool("no-pager")

		rt, err := buildRuntime(rootCtx)
		if err != nil {
			fail(err)
		}
		defer rt.close()

		insp, err := rt.eng.Inspect(rootCtx, args[0])
		if err != nil {
			fail(err)
		}

		if jsonOutput {
			_ = outputJSON(insp)
			return
		}

		content := formatInspection(insp, full)
		if err := ui.ToPager(content, ui.PagerOptions{NoPager: noPager}); err != nil {
			fail(err)
		}
	},
}

func init() {
	inspectCmd.Flags().Bool("full", false, "Show full artifacts (brief, prompt) without truncation")
	inspectCmd.Flags().Bool("no-pager", false, "Write directly to stdout, never page")
	rootCmd.AddCommand(inspectCmd)
}

func formatInspection(insp *ticket.Inspection, full bool) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "%s %s\n", ui.RenderAccent(insp.Key), statusBadge(insp.Status))
	if insp.Recomputed {
		fmt.Fprintf(&sb, "%s%s\n", ui.TreeLast, ui.RenderMuted("no snapshot on record, pipeline re-ran"))
	} else {
		fmt.Fprintf(&sb, "%s%s\n", ui.TreeLast,
			ui.RenderMuted(fmt.Sprintf("recorded %s  hash %s",
				insp.RecordedAt.Format("2006-01-02 15:04:05"),
				ui.TruncateSimple(insp.ContentHash, 12))))
	}

	if c := insp.Classification; c != nil {
		sb.WriteString("\n" + ui.RenderCategory("Classification") + "\n")
		fmt.Fprintf(&sb, "  source:   %s (%.2f)\n", c.Source, c.SourceConfidence)
		fmt.Fprintf(&sb, "  surfaces: %s (%.2f)\n", surfaceList(c.Surfaces), c.SurfaceConfidence)
		fmt.Fprintf(&sb, "  size:     %s (%.2f)\n", c.Size, c.SizeConfidence)
		if flags := classificationFlags(c); flags != "" {
			fmt.Fprintf(&sb, "  flags:    %s\n", flags)
		}
		if len(c.RepoRefs) > 0 {
			fmt.Fprintf(&sb, "  repos:    %s\n", strings.Join(c.RepoRefs, ", "))
		}
	}

	if p := insp.Priority; p != nil {
		sb.WriteString("\n" + ui.RenderCategory("Priority") + "\n")
		fmt.Fprintf(&sb, "  score: %d\n", p.Score)
		fmt.Fprintf(&sb, "  %s\n", ui.RenderMuted(p.Rationale))
	}

	if r := insp.Routing; r != nil {
		sb.WriteString("\n" + ui.RenderCategory("Routing") + "\n")
		route := ui.RouteStyle(string(r.Route)).Render(string(r.Route))
		fmt.Fprintf(&sb, "  route: %s\n", route)
		if r.NeedsReview {
			fmt.Fprintf(&sb, "  %s\n", ui.RenderWarn("flagged for human review"))
		}
		fmt.Fprintf(&sb, "  %s\n", ui.RenderMuted(r.Rationale))

		if r.Brief != nil {
			sb.WriteString("\n" + ui.RenderCategory("Agent Brief") + "\n")
			sb.WriteString(artifact(r.Brief.Markdown(), full))
		}
		if r.Prompt != "" {
			sb.WriteString("\n" + ui.RenderCategory("Chat Prompt") + "\n")
			sb.WriteString(artifact(r.Prompt, full))
		}
	}

	return sb.String()
}

func statusBadge(s ticket.Status) string {
	switch s {
	case ticket.StatusReady:
		return ui.RenderPass(string(s))
	case ticket.StatusShaped:
		return ui.RenderWarn(string(s))
	case ticket.StatusParked, ticket.StatusDiscarded:
		return ui.RenderMuted(string(s))
	default:
		return string(s)
	}
}

func surfaceList(surfaces []ticket.Surface) string {
	if len(surfaces) == 0 {
		return "none"
	}
	parts := make([]string, len(surfaces))
	for i, s := range surfaces {
		parts[i] = string(s)
	}
	return strings.Join(parts, ", ")
}

func classificationFlags(c *ticket.ClassificationResult) string {
	var flags []string
	if c.ValidatedSignal {
		flags = append(flags, "validated-signal")
	}
	if c.MaintenanceFlavored {
		flags = append(flags, "maintenance")
	}
	if c.MultiRepo {
		flags = append(flags, "multi-repo")
	}
	if c.Ambiguous {
		flags = append(flags, "ambiguous")
	}
	if c.Malformed {
		flags = append(flags, "malformed")
	}
	return strings.Join(flags, ", ")
}

// artifact renders a generated markdown artifact, truncated unless --full.
func artifact(md string, full bool) string {
	rendered := ui.RenderMarkdown(md)
	if !full {
		rendered = ui.TruncateLines(rendered, ui.DefaultMaxLines, ui.DefaultContextLines)
	}
	if !strings.HasSuffix(rendered, "\n") {
		rendered += "\n"
	}
	return rendered
}
