package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"pagetagger/internal/workspace"
)

func newStatsCommand(ctx *commandContext) *cobra.Command {
	var query string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show annotation progress per book",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withWorkspace(cmd.Context(), func(ws *workspace.Workspace) error {
				ids, err := ws.SearchBooks(query)
				if err != nil {
					return err
				}
				summaries := ws.Summarize(ids)
				stdout := cmd.OutOrStdout()
				if len(summaries) == 0 {
					fmt.Fprintln(stdout, "No books found")
					return nil
				}

				rows := make([][]string, 0, len(summaries)+1)
				var pages, annotated int
				for _, b := range summaries {
					title := ""
					if b.HasMeta {
						title = b.Metadata.ShortTitle(40)
					}
					rows = append(rows, []string{
						b.ID,
						title,
						strconv.Itoa(b.Pages),
						strconv.Itoa(b.Annotated),
						formatPercent(b.Completion),
					})
					pages += b.Pages
					annotated += b.Annotated
				}
				total := 0.0
				if pages > 0 {
					total = float64(annotated) / float64(pages) * 100
				}
				rows = append(rows, []string{"Total", "", strconv.Itoa(pages), strconv.Itoa(annotated), formatPercent(total)})

				table := renderTable(
					[]string{"Book", "Title", "Pages", "Annotated", "Complete"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight},
				)
				fmt.Fprint(stdout, table)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "Only books whose ID, title or author matches")
	return cmd
}

func formatPercent(v float64) string {
	return fmt.Sprintf("%.2f%%", v)
}
