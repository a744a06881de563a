package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"annolab/internal/claims"
	"annolab/internal/logging"
	"annolab/internal/store"
)

func newRequestsCommand(ctx *commandContext) *cobra.Command {
	requestsCmd := &cobra.Command{
		Use:   "requests",
		Short: "Inspect and arbitrate claim requests",
	}

	requestsCmd.AddCommand(newRequestsListCommand(ctx))
	requestsCmd.AddCommand(newRequestsApproveCommand(ctx))
	requestsCmd.AddCommand(newRequestsRejectCommand(ctx))

	return requestsCmd
}

func newRequestsListCommand(ctx *commandContext) *cobra.Command {
	var (
		status    string
		taskID    int64
		requester int64
		projectID int64
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List claim requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := store.RequestFilter{}
			if trimmed := strings.TrimSpace(status); trimmed != "" {
				parsed := store.RequestStatus(trimmed)
				filter.Status = &parsed
			}
			if taskID > 0 {
				filter.TaskID = &taskID
			}
			if requester > 0 {
				filter.RequestedBy = &requester
			}
			if projectID > 0 {
				filter.ProjectID = &projectID
			}
			return ctx.withStore(func(st *store.Store) error {
				requests, err := st.ListClaimRequests(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, map[string]any{"requests": requests})
				}
				if len(requests) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No claim requests match the given filters")
					return nil
				}
				colorize := shouldColorize(cmd.OutOrStdout())
				rows := make([][]string, 0, len(requests))
				for _, request := range requests {
					rows = append(rows, []string{
						strconv.FormatInt(request.ID, 10),
						strconv.FormatInt(request.TaskID, 10),
						strconv.FormatInt(request.RequestedBy, 10),
						formatInt64Ptr(request.CurrentAssignee),
						colorizeStatus(string(request.Status), colorize),
						formatInt64Ptr(request.ApprovedBy),
						formatTime(request.CreatedAt),
					})
				}
				out := renderTable(
					[]tableColumn{
						numColumn("ID"), numColumn("Task"), numColumn("Requested By"),
						numColumn("Assignee"), column("Status"), numColumn("Decided By"),
						column("Filed"),
					},
					rows,
				)
				fmt.Fprintln(cmd.OutOrStdout(), out)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by request status (pending, approved, rejected)")
	cmd.Flags().Int64Var(&taskID, "task", 0, "Filter by task id")
	cmd.Flags().Int64Var(&requester, "requester", 0, "Filter by requesting user id")
	cmd.Flags().Int64Var(&projectID, "project", 0, "Filter by project id")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON instead of a table")
	return cmd
}

func newRequestsApproveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "approve <request-id>",
		Short: "Approve a pending claim request and transfer the task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return ctx.withStore(func(st *store.Store) error {
				service := claims.NewService(st, logging.NewNop())
				request, err := service.Approve(cmd.Context(), localActor(), id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Request %d approved; task %d now belongs to user %d\n",
					request.ID, request.TaskID, request.RequestedBy)
				return nil
			})
		},
	}
}

func newRequestsRejectCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reject <request-id>",
		Short: "Reject a pending claim request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return ctx.withStore(func(st *store.Store) error {
				service := claims.NewService(st, logging.NewNop())
				request, err := service.Reject(cmd.Context(), localActor(), id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Request %d rejected; task %d stays with its current owner\n",
					request.ID, request.TaskID)
				return nil
			})
		},
	}
}
