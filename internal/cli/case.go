package cli

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

// NewCaseCmd создаёт группу команд для управления cases.
func NewCaseCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "case",
		Short: "Manage cases",
	}

	cmd.AddCommand(
		newCaseCreateCmd(clientFn, outputFn),
		newCaseShowCmd(clientFn, outputFn),
		newCaseTasksCmd(clientFn, outputFn),
		newCaseReprocessCmd(clientFn, outputFn),
	)

	return cmd
}

var caseHeaders = []string{"ID", "CASE_TYPE", "EXTERNAL_ID", "STATE", "CREATED", "FINISHED"}

func caseRow(c *CaseResponse) []string {
	return []string{c.ID, c.CaseType, c.ExternalID, c.State, c.Created, c.Finished}
}

func newCaseCreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var params string
	var externalID string
	var assets []string
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "create CASE_TYPE",
		Short: "Create a new case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			req := CreateCaseRequest{
				CaseType:   args[0],
				ExternalID: externalID,
				Assets:     assets,
			}
			if params != "" {
				if !json.Valid([]byte(params)) {
					return fmt.Errorf("--params is not valid JSON")
				}
				req.Params = json.RawMessage(params)
			}

			id, err := client.CreateCase(req)
			if err != nil {
				return err
			}
			out.Success(fmt.Sprintf("Case created: %s", id))

			if wait <= 0 {
				return nil
			}
			c, err := client.GetCase(id, wait, false)
			if err != nil {
				return err
			}
			out.Print(caseHeaders, [][]string{caseRow(c)}, c)
			return nil
		},
	}

	cmd.Flags().StringVar(&params, "params", "", "Case params as JSON")
	cmd.Flags().StringVar(&externalID, "external-id", "", "External id")
	cmd.Flags().StringSliceVar(&assets, "asset", nil, "Asset id (repeatable)")
	cmd.Flags().DurationVar(&wait, "wait", 0, "Wait for the case to finish")

	return cmd
}

func newCaseShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var wait time.Duration
	var full bool

	cmd := &cobra.Command{
		Use:   "show ID",
		Short: "Show case details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			c, err := client.GetCase(args[0], wait, full)
			if err != nil {
				return err
			}

			out.Print(caseHeaders, [][]string{caseRow(c)}, c)
			return nil
		},
	}

	cmd.Flags().DurationVar(&wait, "wait", 0, "Wait for the case to finish")
	cmd.Flags().BoolVar(&full, "full", false, "Include archived tasks of a finished case")

	return cmd
}

func newCaseTasksCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "tasks CASE_ID",
		Short: "List tasks of a running case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			tasks, err := client.ListTasks(args[0])
			if err != nil {
				return err
			}

			headers := []string{"ID", "STEP", "WORKER", "INDEX", "CODE", "FINISHED", "ERROR"}
			rows := make([][]string, len(tasks))
			for i, t := range tasks {
				code := ""
				if t.ResponseCode != 0 {
					code = strconv.Itoa(t.ResponseCode)
				}
				rows[i] = []string{t.ID, t.Step, t.Worker, strconv.Itoa(t.StepIndex), code, t.Finished, t.Error}
			}

			out.Print(headers, rows, tasks)
			return nil
		},
	}
}

func newCaseReprocessCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var req ReprocessRequest

	cmd := &cobra.Command{
		Use:   "reprocess ID",
		Short: "Create a new case from a finished one, re-running selected tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			id, err := client.ReprocessCase(args[0], req)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Case reprocessed: %s", id))
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&req.Steps, "step", nil, "Re-run tasks of the step (repeatable)")
	cmd.Flags().StringSliceVar(&req.Workers, "worker", nil, "Re-run worker, WORKER or STEP.WORKER (repeatable)")
	cmd.Flags().StringSliceVar(&req.Tasks, "task", nil, "Re-run task by id (repeatable)")
	cmd.Flags().StringSliceVar(&req.ResponseCodes, "code", nil, "Re-run tasks with response code or range, e.g. 500-599 (repeatable)")

	return cmd
}
