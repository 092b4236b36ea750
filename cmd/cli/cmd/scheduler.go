package cmd

import (
	"fmt"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var cronCmd = &cobra.Command{
	Use:   "cron",
	Short: "Run one scheduler tick",
	Long:  `Enqueue every scenario due this hour, schedule due digests, and sweep stale PENDING runs. This is what the external hourly cron calls.`,
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		client, ok := newClientFromConfig(cmd)
		if !ok {
			return
		}

		report, err := client.Cron()
		if err != nil {
			cmd.Printf("Error: %v\n", err)
			return
		}

		cmd.Printf("⏱  Tick complete: %d tenants, %d runs enqueued, %d digests, %d stale runs swept\n",
			report.Tenants, report.Enqueued, report.Digests, report.Swept)
	},
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Show job counts by state",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		client, ok := newClientFromConfig(cmd)
		if !ok {
			return
		}

		counts, err := client.QueueCounts()
		if err != nil {
			cmd.Printf("Error: %v\n", err)
			return
		}

		table := tablewriter.NewWriter(cmd.OutOrStdout())
		table.Header("Waiting", "Delayed", "Active", "Completed", "Failed")
		table.Append([]string{
			fmt.Sprint(counts.Waiting),
			fmt.Sprint(counts.Delayed),
			fmt.Sprint(counts.Active),
			fmt.Sprint(counts.Completed),
			fmt.Sprint(counts.Failed),
		})
		table.Render()
	},
}

var digestDelay int

var digestCmd = &cobra.Command{
	Use:   "digest [tenant_id]",
	Short: "Schedule a digest for a tenant",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client, ok := newClientFromConfig(cmd)
		if !ok {
			return
		}

		resp, err := client.Digest(args[0], digestRequest(digestDelay))
		if err != nil {
			cmd.Printf("Error: %v\n", err)
			return
		}

		cmd.Printf("📬 Digest scheduled!\nJob ID: %s\n", resp.JobID)
	},
}

func init() {
	digestCmd.Flags().IntVar(&digestDelay, "delay", 0, "Seconds to wait before sending")

	rootCmd.AddCommand(cronCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(digestCmd)
}
