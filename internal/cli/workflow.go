package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var workflowHeaders = []string{"ID", "DISPLAY_NAME", "CREATED_AT"}

func workflowRow(wf WorkflowResponse) []string {
	return []string{wf.ID, wf.DisplayName, formatTime(wf.CreatedAt)}
}

// NewWorkflowCmd создаёт группу команд для workflows и их schedules.
func NewWorkflowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "workflow",
		Aliases: []string{"wf"},
		Short:   "Manage workflows and their schedules",
	}

	cmd.AddCommand(
		newWorkflowCreateCmd(clientFn, outputFn),
		newWorkflowShowCmd(clientFn, outputFn),
		newWorkflowDeleteCmd(clientFn, outputFn),
		newWorkflowSchedulesCmd(clientFn, outputFn),
		newWorkflowLinkCmd(clientFn, outputFn),
	)

	return cmd
}

func newWorkflowCreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a workflow",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()
			wf, err := clientFn().CreateWorkflow(name)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Workflow created: %s", wf.ID))
			return out.Print(workflowHeaders, [][]string{workflowRow(*wf)}, wf)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Display name (required)")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

func newWorkflowShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show WORKFLOW_ID",
		Short: "Show a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wf, err := clientFn().GetWorkflow(args[0])
			if err != nil {
				return err
			}
			return outputFn().Print(workflowHeaders, [][]string{workflowRow(*wf)}, wf)
		},
	}
}

func newWorkflowDeleteCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "delete WORKFLOW_ID",
		Short: "Delete a workflow",
		Long:  "Delete a workflow. Schedules left without any active workflow are deleted too.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := clientFn().DeleteWorkflow(args[0]); err != nil {
				return err
			}
			outputFn().Success(fmt.Sprintf("Workflow deleted: %s", args[0]))
			return nil
		},
	}
}

func newWorkflowSchedulesCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "schedules WORKFLOW_ID",
		Short: "List schedules linked to a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			schedules, err := clientFn().ListWorkflowSchedules(args[0])
			if err != nil {
				return err
			}
			return outputFn().Print(scheduleHeaders, scheduleRows(schedules), schedules)
		},
	}
}

func newWorkflowLinkCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var clearAll bool

	cmd := &cobra.Command{
		Use:   "link WORKFLOW_ID [SCHEDULE_ID...]",
		Short: "Replace the set of schedules linked to a workflow",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) < 1 {
				return fmt.Errorf("requires WORKFLOW_ID")
			}
			if len(args) == 1 && !clearAll {
				return fmt.Errorf("pass at least one SCHEDULE_ID or --clear to unlink all")
			}
			if len(args) > 1 && clearAll {
				return fmt.Errorf("--clear cannot be combined with SCHEDULE_ID arguments")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()
			schedules, err := clientFn().ReplaceWorkflowSchedules(args[0], args[1:])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Workflow %s now has %d schedule(s)", args[0], len(schedules)))
			return out.Print(scheduleHeaders, scheduleRows(schedules), schedules)
		},
	}

	cmd.Flags().BoolVar(&clearAll, "clear", false, "Unlink all schedules")

	return cmd
}
