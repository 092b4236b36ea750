package cmd

import (
	"time"

	"shipsanity/pkg/api"

	"github.com/spf13/cobra"
)

var enqueueAt string

var enqueueCmd = &cobra.Command{
	Use:   "enqueue [scenario_id]",
	Short: "Queue a scenario run for the worker pool",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var req api.EnqueueRequest
		if enqueueAt != "" {
			at, err := time.Parse(time.RFC3339, enqueueAt)
			if err != nil {
				cmd.Printf("Invalid --at value %q: expected RFC3339, e.g. 2025-06-01T10:00:00Z\n", enqueueAt)
				return
			}
			req.AvailableAt = &at
		}

		client, ok := newClientFromConfig(cmd)
		if !ok {
			return
		}

		resp, err := client.Enqueue(args[0], req)
		if err != nil {
			cmd.Printf("Error: %v\n", err)
			return
		}

		cmd.Printf("🚀 Run queued!\nRun ID: %s\nJob ID: %s\n", resp.RunID, resp.JobID)
	},
}

var runCmd = &cobra.Command{
	Use:   "run [scenario_id]",
	Short: "Run a scenario synchronously and print the result",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client, ok := newClientFromConfig(cmd)
		if !ok {
			return
		}

		run, err := client.Run(args[0])
		if err != nil {
			cmd.Printf("Error: %v\n", err)
			return
		}

		printRun(cmd, *run)
	},
}

func digestRequest(delaySeconds int) api.DigestRequest {
	return api.DigestRequest{DelaySeconds: delaySeconds}
}

func init() {
	enqueueCmd.Flags().StringVar(&enqueueAt, "at", "", "Run no earlier than this RFC3339 time")

	rootCmd.AddCommand(enqueueCmd)
	rootCmd.AddCommand(runCmd)
}
