package cli

import (
	"github.com/spf13/cobra"
)

// NewCronCmd создаёт группу команд для cron jobs.
func NewCronCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cron",
		Short: "Inspect cron jobs",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List cron jobs with next run time",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			jobs, err := client.ListCronJobs()
			if err != nil {
				return err
			}

			headers := []string{"CASE_TYPE", "EXPRESSION", "NEXT", "PREV"}
			rows := make([][]string, len(jobs))
			for i, j := range jobs {
				rows[i] = []string{j.CaseType, j.Expression, j.Next, j.Prev}
			}

			out.Print(headers, rows, jobs)
			return nil
		},
	})

	return cmd
}
