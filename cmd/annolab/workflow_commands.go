package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"annolab/internal/logging"
	"annolab/internal/store"
	"annolab/internal/workflow"
)

func newWorkflowCommand(ctx *commandContext) *cobra.Command {
	workflowCmd := &cobra.Command{
		Use:   "workflow",
		Short: "Inspect and build project workflow chains",
	}

	workflowCmd.AddCommand(newWorkflowShowCommand(ctx))
	workflowCmd.AddCommand(newWorkflowBuildCommand(ctx))
	workflowCmd.AddCommand(newWorkflowSpecsCommand(ctx))

	return workflowCmd
}

func newWorkflowShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <project-id>",
		Short: "Show the workflow nodes for a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, err := parseID(args[0])
			if err != nil {
				return err
			}
			return ctx.withStore(func(st *store.Store) error {
				instances, err := st.ListActivityInstances(cmd.Context(), projectID)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, map[string]any{"instances": instances})
				}
				if len(instances) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Project has no workflow; run `annolab workflow build` to create one")
					return nil
				}
				colorize := shouldColorize(cmd.OutOrStdout())
				rows := make([][]string, 0, len(instances))
				for _, instance := range instances {
					label := ""
					if value, ok := instance.Payload["label"].(string); ok {
						label = value
					}
					rows = append(rows, []string{
						instance.InstanceUID,
						label,
						displayLabel(string(instance.NodeType)),
						colorizeStatus(string(instance.Status), colorize),
						formatInt64Ptr(instance.OwnerID),
						strings.Join(instance.NextInstanceIDs, ", "),
					})
				}
				out := renderTable(
					[]tableColumn{
						column("UID"), column("Label"), column("Type"),
						column("Status"), numColumn("Owner"), column("Next"),
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

func newWorkflowBuildCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "build <project-id>",
		Short: "Build the default workflow chain for a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, err := parseID(args[0])
			if err != nil {
				return err
			}
			return ctx.withStore(func(st *store.Store) error {
				engine := workflow.NewEngine(st, logging.NewNop())
				if err := engine.EnsureSpecs(cmd.Context()); err != nil {
					return err
				}
				result, err := engine.BuildDefault(cmd.Context(), localActor(), projectID)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if !result.Created {
					fmt.Fprintf(out, "Project %d already has %d workflow nodes; nothing to do\n", projectID, result.Existing)
					return nil
				}
				fmt.Fprintf(out, "Built workflow chain for project %d with %d nodes\n", projectID, len(result.InstanceUIDs))
				return nil
			})
		},
	}
}

func newWorkflowSpecsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "specs",
		Short: "List the activity spec catalogue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(st *store.Store) error {
				engine := workflow.NewEngine(st, logging.NewNop())
				if err := engine.EnsureSpecs(cmd.Context()); err != nil {
					return err
				}
				specs, err := engine.ListSpecs(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, map[string]any{"specs": specs})
				}
				rows := make([][]string, 0, len(specs))
				for _, spec := range specs {
					rows = append(rows, []string{
						spec.SpecKey,
						spec.Name,
						displayLabel(string(spec.NodeType)),
						spec.APIEndpoint,
					})
				}
				out := renderTable(
					[]tableColumn{
						column("Key"), column("Name"), column("Type"), column("Endpoint"),
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
