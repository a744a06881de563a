package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"annolab/internal/insight"
	"annolab/internal/logging"
	"annolab/internal/store"
)

func newInsightCommand(ctx *commandContext) *cobra.Command {
	insightCmd := &cobra.Command{
		Use:   "insight",
		Short: "Annotator efficiency and project readiness reports",
	}

	insightCmd.AddCommand(newEfficiencyCommand(ctx))
	insightCmd.AddCommand(newAnnotatorReportCommand(ctx))

	return insightCmd
}

func newEfficiencyCommand(ctx *commandContext) *cobra.Command {
	var (
		userID    int64
		projectID int64
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "efficiency",
		Short: "Show an annotator's efficiency score",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID <= 0 {
				return fmt.Errorf("--user is required")
			}
			return ctx.withStore(func(st *store.Store) error {
				evaluator := insight.NewEvaluator(st, logging.NewNop())
				var scope *int64
				if projectID > 0 {
					scope = &projectID
				}
				score, err := evaluator.Efficiency(cmd.Context(), userID, scope)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, map[string]any{"user_id": userID, "efficiency": score})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "User %d efficiency: %.1f%%\n", userID, score)
				return nil
			})
		},
	}

	cmd.Flags().Int64Var(&userID, "user", 0, "Annotator user id")
	cmd.Flags().Int64Var(&projectID, "project", 0, "Limit the score to one project")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON instead of text")
	return cmd
}

func newAnnotatorReportCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "annotators <project-id>",
		Short: "Report per-annotator workload and efficiency for a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, err := parseID(args[0])
			if err != nil {
				return err
			}
			return ctx.withStore(func(st *store.Store) error {
				evaluator := insight.NewEvaluator(st, logging.NewNop())
				report, err := evaluator.AnnotatorReport(cmd.Context(), projectID)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, map[string]any{"annotators": report})
				}
				if len(report) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Project has no annotators on its roster")
					return nil
				}
				rows := make([][]string, 0, len(report))
				for _, stats := range report {
					rows = append(rows, []string{
						strconv.FormatInt(stats.UserID, 10),
						strconv.Itoa(stats.Claimed),
						strconv.Itoa(stats.InProgress),
						strconv.Itoa(stats.Skipped),
						strconv.Itoa(stats.Annotated),
						strconv.Itoa(stats.Accepted),
						strconv.Itoa(stats.Reworked),
						fmt.Sprintf("%.1f%%", stats.Efficiency),
					})
				}
				out := renderTable(
					[]tableColumn{
						numColumn("User"), numColumn("Claimed"), numColumn("In Progress"),
						numColumn("Skipped"), numColumn("Annotated"), numColumn("Accepted"),
						numColumn("Reworked"), numColumn("Efficiency"),
					},
					rows,
				)
				fmt.Fprintln(cmd.OutOrStdout(), out)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON instead of a table")
	return cmd
}
