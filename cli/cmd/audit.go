package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"southwinds.dev/opvault/audit"
)

var (
	auditJsonOutput    bool
	auditSince         string
	auditUntil         string
	auditAction        string
	auditSuccessFilter string
	auditItemUUID      string
	auditLimit         int
	auditOffset        int
	auditFailuresOnly  bool
	auditDetails       bool
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query the vault access log",
	Long: `Query the vault access log.

Every session operation writes one event: unlocks, locks, listings,
credential reveals, item fetches. These commands filter and display the
recorded history.`,
}

var auditQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query audit events with filters",
	Long: `Query audit events with various filtering options.

Examples:
  # Failed operations in the last 24 hours
  opvault audit query --failures-only --since "$(date -d '24 hours ago' -Iseconds)"

  # Every reveal of one item
  opvault audit query --action VAULT_REVEAL --item-uuid "3F2A..."

  # A custom time range
  opvault audit query --since "2026-01-01T00:00:00Z" --until "2026-01-31T23:59:59Z"`,
	RunE: runAuditQuery,
}

var auditFailuresCmd = &cobra.Command{
	Use:   "failures",
	Short: "Show failed operations",
	Long: `Show failed operations for security monitoring.

Examples:
  # Failures in the last week
  opvault audit failures --since "$(date -d '7 days ago' -Iseconds)"`,
	RunE: runAuditFailures,
}

var auditUnlocksCmd = &cobra.Command{
	Use:   "unlocks",
	Short: "Show unlock and lock activity",
	Long: `Show unlock, lock and auto-lock events. Failed unlocks are the
first place to look for someone guessing at the master password.`,
	RunE: runAuditUnlocks,
}

var auditExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export audit events as JSON",
	Long: `Export audit events as JSON for compliance reporting.

Examples:
  # Export a month of activity
  opvault audit export --since "2026-01-01T00:00:00Z" --until "2026-01-31T23:59:59Z" > audit-report.json`,
	RunE: runAuditExport,
}

func init() {
	rootCmd.AddCommand(auditCmd)

	auditCmd.AddCommand(auditQueryCmd)
	auditCmd.AddCommand(auditFailuresCmd)
	auditCmd.AddCommand(auditUnlocksCmd)
	auditCmd.AddCommand(auditExportCmd)

	auditCmd.PersistentFlags().BoolVar(&auditJsonOutput, "json", false, "Output in JSON format")
	auditCmd.PersistentFlags().StringVar(&auditSince, "since", "", "Show events since this time (RFC3339 format)")
	auditCmd.PersistentFlags().StringVar(&auditUntil, "until", "", "Show events until this time (RFC3339 format)")
	auditCmd.PersistentFlags().IntVar(&auditLimit, "limit", 100, "Maximum number of events to return")
	auditCmd.PersistentFlags().IntVar(&auditOffset, "offset", 0, "Number of events to skip")
	auditCmd.PersistentFlags().BoolVar(&auditDetails, "details", false, "Show detailed event information")

	auditQueryCmd.Flags().StringVar(&auditAction, "action", "", "Filter by specific action")
	auditQueryCmd.Flags().StringVar(&auditSuccessFilter, "success", "", "Filter by success status (true/false)")
	auditQueryCmd.Flags().StringVar(&auditItemUUID, "item-uuid", "", "Filter by item UUID")
	auditQueryCmd.Flags().BoolVar(&auditFailuresOnly, "failures-only", false, "Show only failed events")

	auditFailuresCmd.Flags().StringVar(&auditAction, "action", "", "Filter by specific action")
	auditFailuresCmd.Flags().StringVar(&auditItemUUID, "item-uuid", "", "Filter by item UUID")
}

func runAuditQuery(cmd *cobra.Command, args []string) error {
	options, err := buildAuditQueryOptions()
	if err != nil {
		return err
	}
	return queryAuditLog(options)
}

func runAuditFailures(cmd *cobra.Command, args []string) error {
	options, err := buildAuditQueryOptions()
	if err != nil {
		return err
	}

	falseVal := false
	options.Success = &falseVal

	return queryAuditLog(options)
}

func runAuditUnlocks(cmd *cobra.Command, args []string) error {
	options, err := buildAuditQueryOptions()
	if err != nil {
		return err
	}
	options.UnlockEvents = true

	return queryAuditLog(options)
}

func runAuditExport(cmd *cobra.Command, args []string) error {
	options, err := buildAuditQueryOptions()
	if err != nil {
		return err
	}

	auditJsonOutput = true
	return queryAuditLog(options)
}

func buildAuditQueryOptions() (audit.QueryOptions, error) {
	options := audit.QueryOptions{
		Limit:  auditLimit,
		Offset: auditOffset,
	}

	if auditSince != "" {
		parsedTime, err := time.Parse(time.RFC3339, auditSince)
		if err != nil {
			return options, fmt.Errorf("invalid since time format: %w", err)
		}
		options.Since = &parsedTime
	}

	if auditUntil != "" {
		parsedTime, err := time.Parse(time.RFC3339, auditUntil)
		if err != nil {
			return options, fmt.Errorf("invalid until time format: %w", err)
		}
		options.Until = &parsedTime
	}

	if auditSuccessFilter != "" {
		success, err := strconv.ParseBool(auditSuccessFilter)
		if err != nil {
			return options, fmt.Errorf("invalid success filter format: %w", err)
		}
		options.Success = &success
	}

	if auditFailuresOnly {
		falseVal := false
		options.Success = &falseVal
	}

	options.Action = auditAction
	options.ItemUUID = auditItemUUID

	return options, nil
}

func queryAuditLog(options audit.QueryOptions) error {
	if !viper.GetBool("audit.enabled") {
		return fmt.Errorf("audit logging is disabled; enable audit.enabled to record and query events")
	}

	logger, err := newAuditLogger()
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	defer logger.Close()

	result, err := logger.Query(options)
	if err != nil {
		return fmt.Errorf("failed to query audit log: %w", err)
	}

	if auditJsonOutput {
		return json.NewEncoder(os.Stdout).Encode(result)
	}

	return displayAuditEvents(result.Events)
}

func displayAuditEvents(events []audit.Event) error {
	if len(events) == 0 {
		fmt.Println("No audit events found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)

	if auditDetails {
		for _, event := range events {
			fmt.Fprintf(w, "Event ID:\t%s\n", event.ID)
			fmt.Fprintf(w, "Timestamp:\t%s\n", event.Timestamp.Format("2006-01-02 15:04:05"))
			fmt.Fprintf(w, "Action:\t%s\n", event.Action)

			status := "SUCCESS"
			if !event.Success {
				status = "FAILED"
			}
			fmt.Fprintf(w, "Status:\t%s\n", status)

			if event.Error != "" {
				fmt.Fprintf(w, "Error:\t%s\n", event.Error)
			}
			if event.ItemUUID != "" {
				fmt.Fprintf(w, "Item UUID:\t%s\n", event.ItemUUID)
			}
			if event.VaultUUID != "" {
				fmt.Fprintf(w, "Vault UUID:\t%s\n", event.VaultUUID)
			}
			if event.Duration > 0 {
				fmt.Fprintf(w, "Duration:\t%dms\n", event.Duration)
			}

			if len(event.Metadata) > 0 {
				fmt.Fprintf(w, "Metadata:\t")
				for k, v := range event.Metadata {
					fmt.Fprintf(w, "%s=%v ", k, v)
				}
				fmt.Fprintf(w, "\n")
			}

			fmt.Fprintf(w, "────────────────────────────────────────\n")
		}
	} else {
		fmt.Fprintf(w, "TIMESTAMP\tACTION\tSTATUS\tITEM\tERROR\n")

		for _, event := range events {
			status := "SUCCESS"
			if !event.Success {
				status = "FAILED"
			}

			itemUUID := event.ItemUUID
			if itemUUID == "" {
				itemUUID = "-"
			}

			errMsg := event.Error
			if errMsg == "" {
				errMsg = "-"
			}

			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				event.Timestamp.Format("2006-01-02 15:04:05"),
				event.Action,
				status,
				itemUUID,
				errMsg,
			)
		}
	}

	return w.Flush()
}
