package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"annolab/internal/store"
)

func newTasksCommand(ctx *commandContext) *cobra.Command {
	tasksCmd := &cobra.Command{
		Use:   "tasks",
		Short: "Inspect labeling tasks",
	}

	tasksCmd.AddCommand(newTasksListCommand(ctx))
	tasksCmd.AddCommand(newTasksShowCommand(ctx))

	return tasksCmd
}

func newTasksListCommand(ctx *commandContext) *cobra.Command {
	var (
		batchID   int64
		projectID int64
		ownerID   int64
		status    string
		stage     string
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks matching the given filters",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := store.TaskFilter{}
			if batchID > 0 {
				filter.BatchID = &batchID
			}
			if projectID > 0 {
				filter.ProjectID = &projectID
			}
			if ownerID > 0 {
				filter.ClaimedBy = &ownerID
			}
			if trimmed := strings.TrimSpace(status); trimmed != "" {
				parsed, ok := store.ParseTaskStatus(trimmed)
				if !ok {
					return fmt.Errorf("unknown task status %q", trimmed)
				}
				filter.Status = &parsed
			}
			if trimmed := strings.TrimSpace(stage); trimmed != "" {
				parsed, ok := store.ParseStage(trimmed)
				if !ok {
					return fmt.Errorf("unknown pipeline stage %q", trimmed)
				}
				filter.Stage = &parsed
			}

			return ctx.withStore(func(st *store.Store) error {
				tasks, err := st.ListTasks(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, map[string]any{"tasks": tasks})
				}
				if len(tasks) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No tasks match the given filters")
					return nil
				}
				colorize := shouldColorize(cmd.OutOrStdout())
				rows := make([][]string, 0, len(tasks))
				for _, task := range tasks {
					rows = append(rows, []string{
						strconv.FormatInt(task.ID, 10),
						strconv.FormatInt(task.BatchID, 10),
						colorizeStatus(string(task.Status), colorize),
						displayLabel(string(task.Stage)),
						formatInt64Ptr(task.ClaimedBy),
						strconv.Itoa(task.ReworkCount),
						formatTimePtr(task.DueAt),
					})
				}
				out := renderTable(
					[]tableColumn{
						numColumn("ID"), numColumn("Batch"), column("Status"),
						column("Stage"), numColumn("Owner"), numColumn("Rework"),
						column("Due"),
					},
					rows,
				)
				fmt.Fprintln(cmd.OutOrStdout(), out)
				return nil
			})
		},
	}

	cmd.Flags().Int64Var(&batchID, "batch", 0, "Filter by batch id")
	cmd.Flags().Int64Var(&projectID, "project", 0, "Filter by project id")
	cmd.Flags().Int64Var(&ownerID, "owner", 0, "Filter by claiming user id")
	cmd.Flags().StringVar(&status, "status", "", "Filter by task status")
	cmd.Flags().StringVar(&stage, "stage", "", "Filter by pipeline stage")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON instead of a table")
	return cmd
}

func newTasksShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task with its annotation history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return ctx.withStore(func(st *store.Store) error {
				task, err := st.GetTask(cmd.Context(), id)
				if err != nil {
					return err
				}
				if task == nil {
					return fmt.Errorf("task %d not found", id)
				}
				annotations, err := st.ListAnnotations(cmd.Context(), id)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, map[string]any{"task": task, "annotations": annotations})
				}

				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				fmt.Fprintf(out, "Task %d (batch %d)\n", task.ID, task.BatchID)
				fmt.Fprintf(out, "  Status:   %s\n", colorizeStatus(string(task.Status), colorize))
				fmt.Fprintf(out, "  Stage:    %s\n", displayLabel(string(task.Stage)))
				fmt.Fprintf(out, "  Owner:    %s\n", formatInt64Ptr(task.ClaimedBy))
				fmt.Fprintf(out, "  Rework:   %d\n", task.ReworkCount)
				fmt.Fprintf(out, "  Due:      %s\n", formatTimePtr(task.DueAt))
				fmt.Fprintf(out, "  Created:  %s\n", formatTime(task.CreatedAt))
				if len(annotations) == 0 {
					fmt.Fprintln(out, "No annotations submitted yet")
					return nil
				}
				rows := make([][]string, 0, len(annotations))
				for _, annotation := range annotations {
					rows = append(rows, []string{
						strconv.FormatInt(annotation.ID, 10),
						strconv.FormatInt(annotation.UserID, 10),
						displayLabel(string(annotation.Stage)),
						formatTime(annotation.CreatedAt),
					})
				}
				table := renderTable(
					[]tableColumn{
						numColumn("Annotation"), numColumn("User"), column("Stage"),
						column("Submitted"),
					},
					rows,
				)
				fmt.Fprintln(out, table)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON instead of text")
	return cmd
}
