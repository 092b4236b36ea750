package cmd

import (
	"fmt"
	"strings"
	"time"

	"shipsanity/pkg/api"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [run_id]",
	Short: "Get the result of a run",
	Long:  `Retrieve a run with its verdict (PENDING, PASS, WARN, FAIL, ERROR, BLOCKED), the delivery options returned at checkout, and every diagnostic finding.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client, ok := newClientFromConfig(cmd)
		if !ok {
			return
		}

		run, err := client.GetRun(args[0])
		if err != nil {
			if apiErr, ok := err.(*APIError); ok {
				cmd.Printf("Request failed with status code: %d\n", apiErr.StatusCode)
				return
			}
			cmd.Printf("Failed to send request: %v\n", err)
			return
		}

		printRun(cmd, *run)
	},
}

func printRun(cmd *cobra.Command, run api.RunResponse) {
	icon := statusIcon(run.Status)
	cmd.Printf("%s %sRun Details%s\n", icon, colorBold, colorReset)
	cmd.Println("──────────────────────────────")

	cmd.Printf("%sID:%s          %s\n", colorDim, colorReset, run.ID)
	cmd.Printf("%sScenario:%s    %s\n", colorDim, colorReset, run.ScenarioID)
	cmd.Printf("%sStatus:%s      %s\n", colorDim, colorReset, colorizeStatus(run.Status))

	if run.Subtotal != nil {
		cmd.Printf("%sSubtotal:%s    %s %s\n", colorDim, colorReset, run.Subtotal.Amount, run.Subtotal.CurrencyCode)
	}

	started := run.StartedAt
	cmd.Printf("%sStarted:%s     %s\n", colorDim, colorReset, formatTimeWithRelative(&started))
	if run.FinishedAt != nil {
		cmd.Printf("%sFinished:%s    %s %s(%s)%s\n", colorDim, colorReset,
			formatTimeWithRelative(run.FinishedAt),
			colorCyan, formatDuration(run.FinishedAt.Sub(run.StartedAt)), colorReset)
	} else {
		cmd.Printf("%sFinished:%s    -\n", colorDim, colorReset)
	}

	if run.CheckoutURL != "" {
		cmd.Printf("%sCheckout:%s    %s\n", colorDim, colorReset, run.CheckoutURL)
	}
	if run.ScreenshotURL != nil {
		cmd.Printf("%sScreenshot:%s  %s\n", colorDim, colorReset, *run.ScreenshotURL)
	}

	if len(run.Options) > 0 {
		cmd.Println()
		table := tablewriter.NewWriter(cmd.OutOrStdout())
		table.Header("Rate", "Handle", "Cost")
		for _, o := range run.Options {
			table.Append([]string{o.Title, o.Handle, o.Cost.Amount + " " + o.Cost.CurrencyCode})
		}
		table.Render()
	}

	if len(run.Findings) > 0 {
		cmd.Println()
		table := tablewriter.NewWriter(cmd.OutOrStdout())
		table.Header("Code", "Message", "Probable Causes")
		for _, f := range run.Findings {
			table.Append([]string{f.Code, f.Message, strings.Join(f.ProbableCauses, "; ")})
		}
		table.Render()
	}
}

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

func statusIcon(status string) string {
	switch status {
	case "PASS":
		return colorGreen + "✓" + colorReset
	case "FAIL", "ERROR":
		return colorRed + "✗" + colorReset
	case "WARN", "BLOCKED":
		return colorYellow + "⚠" + colorReset
	case "PENDING":
		return colorCyan + "◯" + colorReset
	default:
		return "•"
	}
}

func colorizeStatus(status string) string {
	icon := statusIcon(status)
	switch status {
	case "PASS":
		return icon + " " + colorGreen + status + colorReset
	case "FAIL", "ERROR":
		return icon + " " + colorRed + status + colorReset
	case "WARN", "BLOCKED":
		return icon + " " + colorYellow + status + colorReset
	case "PENDING":
		return icon + " " + colorCyan + status + colorReset
	default:
		return status
	}
}

func formatTimeWithRelative(t *time.Time) string {
	if t == nil {
		return "-"
	}
	relative := relativeTime(*t)
	return fmt.Sprintf("%s %s(%s ago)%s", t.Format("Mon, 02 Jan 2006 15:04:05 MST"), colorDim, relative, colorReset)
}

func relativeTime(t time.Time) string {
	duration := time.Since(t)

	if duration < time.Minute {
		return fmt.Sprintf("%ds", int(duration.Seconds()))
	} else if duration < time.Hour {
		return fmt.Sprintf("%dm", int(duration.Minutes()))
	} else if duration < 24*time.Hour {
		return fmt.Sprintf("%dh", int(duration.Hours()))
	}
	days := int(duration.Hours() / 24)
	if days == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", days)
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	} else if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	} else if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
