package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"annolab/internal/store"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show per-project completion and export readiness",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(st *store.Store) error {
				projects, err := st.ListProjects(cmd.Context())
				if err != nil {
					return err
				}
				type projectStatus struct {
					ID        int64  `json:"id"`
					Name      string `json:"name"`
					Total     int    `json:"total_tasks"`
					Completed int    `json:"completed_tasks"`
					Ready     bool   `json:"ready_for_export"`
				}
				statuses := make([]projectStatus, 0, len(projects))
				for _, project := range projects {
					total, completed, err := st.TaskTally(cmd.Context(), project.ID)
					if err != nil {
						return err
					}
					statuses = append(statuses, projectStatus{
						ID:        project.ID,
						Name:      project.Name,
						Total:     total,
						Completed: completed,
						Ready:     project.Status == store.ProjectReadyForExport,
					})
				}
				if asJSON {
					return writeJSON(cmd, map[string]any{"projects": statuses})
				}
				if len(statuses) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No projects found")
					return nil
				}
				rows := make([][]string, 0, len(statuses))
				for _, status := range statuses {
					rows = append(rows, []string{
						strconv.FormatInt(status.ID, 10),
						status.Name,
						strconv.Itoa(status.Completed),
						strconv.Itoa(status.Total),
						yesNo(status.Ready),
					})
				}
				out := renderTable(
					[]tableColumn{
						numColumn("ID"), column("Project"), numColumn("Completed"),
						numColumn("Total"), column("Ready"),
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

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
