package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"southwinds.dev/keycache/audit"
)

var (
	auditJSONOutput    bool
	auditSince         string
	auditUntil         string
	auditAction        string
	auditSuccessFilter string
	auditFingerprint   string
	auditLimit         int
	auditOffset        int
	auditLifecycleOnly bool
	auditDetails       bool
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query and analyze the audit log",
	Long: `Query and analyze the key cache audit log written by the file audit logger.

Every change of cached state is recorded: keys cached, cleared and expired,
expiry alarms armed and cancelled, and any failures along the way.`,
}

var auditQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query audit events with filters",
	Long: `Query audit events with various filtering options.

Examples:
  # Everything, newest first
  keycache audit query

  # Key lifecycle only (cached, cleared, expired)
  keycache audit query --lifecycle-only

  # Expiry alarms that could not be armed
  keycache audit query --action EXPIRY_ARM_FAILED

  # Events for one key
  keycache audit query --fingerprint 1a2b3c4d5e6f7a8b`,
	RunE: runAuditQuery,
}

var auditFailuresCmd = &cobra.Command{
	Use:   "failures",
	Short: "Show failed operations",
	RunE:  runAuditFailures,
}

var auditStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show audit statistics",
	RunE:  runAuditStats,
}

func init() {
	rootCmd.AddCommand(auditCmd)

	auditCmd.AddCommand(auditQueryCmd)
	auditCmd.AddCommand(auditFailuresCmd)
	auditCmd.AddCommand(auditStatsCmd)

	auditCmd.PersistentFlags().BoolVar(&auditJSONOutput, "json", false, "Output in JSON format")
	auditCmd.PersistentFlags().StringVar(&auditSince, "since", "", "Show events since this time (RFC3339 format)")
	auditCmd.PersistentFlags().StringVar(&auditUntil, "until", "", "Show events until this time (RFC3339 format)")
	auditCmd.PersistentFlags().IntVar(&auditLimit, "limit", 100, "Maximum number of events to return")
	auditCmd.PersistentFlags().IntVar(&auditOffset, "offset", 0, "Number of events to skip")
	auditCmd.PersistentFlags().BoolVar(&auditDetails, "details", false, "Show detailed event information")

	auditQueryCmd.Flags().StringVar(&auditAction, "action", "", "Filter by specific action")
	auditQueryCmd.Flags().StringVar(&auditSuccessFilter, "success", "", "Filter by success status (true/false)")
	auditQueryCmd.Flags().StringVar(&auditFingerprint, "fingerprint", "", "Filter by key fingerprint")
	auditQueryCmd.Flags().BoolVar(&auditLifecycleOnly, "lifecycle-only", false, "Show only key cached, cleared and expired events")
}

func runAuditQuery(cmd *cobra.Command, args []string) error {
	options, err := buildQueryOptions()
	if err != nil {
		return err
	}
	return queryAndDisplay(cmd.OutOrStdout(), options)
}

func runAuditFailures(cmd *cobra.Command, args []string) error {
	options, err := buildQueryOptions()
	if err != nil {
		return err
	}
	failed := false
	options.Success = &failed
	return queryAndDisplay(cmd.OutOrStdout(), options)
}

func runAuditStats(cmd *cobra.Command, args []string) error {
	options, err := buildQueryOptions()
	if err != nil {
		return err
	}
	options.Limit = 0
	options.Offset = 0

	result, err := queryAudit(options)
	if err != nil {
		return err
	}

	stats := calculateAuditStats(result.Events)
	if auditJSONOutput {
		return writeJSON(cmd.OutOrStdout(), stats)
	}
	return displayAuditStats(cmd.OutOrStdout(), stats)
}

func buildQueryOptions() (audit.QueryOptions, error) {
	options := audit.QueryOptions{
		Limit:          auditLimit,
		Offset:         auditOffset,
		Action:         auditAction,
		KeyFingerprint: auditFingerprint,
		LifecycleOnly:  auditLifecycleOnly,
	}

	if auditSince != "" {
		parsed, err := time.Parse(time.RFC3339, auditSince)
		if err != nil {
			return options, fmt.Errorf("invalid since time format: %w", err)
		}
		options.Since = &parsed
	}

	if auditUntil != "" {
		parsed, err := time.Parse(time.RFC3339, auditUntil)
		if err != nil {
			return options, fmt.Errorf("invalid until time format: %w", err)
		}
		options.Until = &parsed
	}

	if auditSuccessFilter != "" {
		success, err := strconv.ParseBool(auditSuccessFilter)
		if err != nil {
			return options, fmt.Errorf("invalid success filter format: %w", err)
		}
		options.Success = &success
	}

	return options, nil
}

// queryAudit reads the configured audit log even when logging is switched off
func queryAudit(options audit.QueryOptions) (audit.QueryResult, error) {
	config := auditConfig()
	config.Enabled = true

	logger, err := audit.NewLogger(config)
	if err != nil {
		return audit.QueryResult{}, fmt.Errorf("failed to open audit log: %w", err)
	}
	defer logger.Close()

	result, err := logger.Query(options)
	if err != nil {
		return audit.QueryResult{}, fmt.Errorf("failed to query audit log: %w", err)
	}
	return result, nil
}

func queryAndDisplay(out io.Writer, options audit.QueryOptions) error {
	result, err := queryAudit(options)
	if err != nil {
		return err
	}

	if auditJSONOutput {
		return writeJSON(out, result)
	}
	if err = displayAuditEvents(out, result.Events); err != nil {
		return err
	}
	if result.HasMore {
		fmt.Fprintf(out, "\nShowing %d of %d matching events (use --offset for more)\n",
			len(result.Events), result.Filtered)
	}
	return nil
}

func displayAuditEvents(out io.Writer, events []audit.Event) error {
	if len(events) == 0 {
		fmt.Fprintln(out, "No audit events found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	if auditDetails {
		for _, event := range events {
			fmt.Fprintf(w, "Event ID:\t%s\n", event.ID)
			fmt.Fprintf(w, "Timestamp:\t%s\n", event.Timestamp.Format("2006-01-02 15:04:05"))
			fmt.Fprintf(w, "Instance:\t%s\n", event.Instance)
			fmt.Fprintf(w, "Action:\t%s\n", event.Action)
			fmt.Fprintf(w, "Status:\t%s\n", statusLabel(event.Success))

			if event.RequestID != "" {
				fmt.Fprintf(w, "Request ID:\t%s\n", event.RequestID)
			}
			if event.Error != "" {
				fmt.Fprintf(w, "Error:\t%s\n", event.Error)
			}
			if event.KeyFingerprint != "" {
				fmt.Fprintf(w, "Key:\t%s\n", event.KeyFingerprint)
			}

			if len(event.Metadata) > 0 {
				keys := make([]string, 0, len(event.Metadata))
				for k := range event.Metadata {
					keys = append(keys, k)
				}
				sort.Strings(keys)

				fmt.Fprintf(w, "Metadata:\t")
				for _, k := range keys {
					fmt.Fprintf(w, "%s=%v ", k, event.Metadata[k])
				}
				fmt.Fprintf(w, "\n")
			}

			fmt.Fprintf(w, "────────────────────────────────────────\n")
		}
		return w.Flush()
	}

	fmt.Fprintf(w, "TIMESTAMP\tINSTANCE\tACTION\tSTATUS\tKEY\tERROR\n")
	for _, event := range events {
		errorMsg := event.Error
		if len(errorMsg) > 40 {
			errorMsg = errorMsg[:40] + "..."
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			event.Timestamp.Format("2006-01-02 15:04:05"),
			event.Instance, event.Action, statusLabel(event.Success),
			event.KeyFingerprint, errorMsg)
	}
	return w.Flush()
}

func statusLabel(success bool) string {
	if success {
		return "SUCCESS"
	}
	return "FAILED"
}

// AuditStats summarises a range of audit events
type AuditStats struct {
	GeneratedAt      time.Time      `json:"generated_at"`
	TotalEvents      int            `json:"total_events"`
	SuccessfulEvents int            `json:"successful_events"`
	FailedEvents     int            `json:"failed_events"`
	ActionBreakdown  map[string]int `json:"action_breakdown"`
	KeysCached       int            `json:"keys_cached"`
	Expirations      int            `json:"expirations"`
	Clears           int            `json:"clears"`
	ArmFailures      int            `json:"arm_failures"`
	DistinctKeys     int            `json:"distinct_keys"`
	FirstEvent       *time.Time     `json:"first_event,omitempty"`
	LastEvent        *time.Time     `json:"last_event,omitempty"`
}

func calculateAuditStats(events []audit.Event) AuditStats {
	stats := AuditStats{
		GeneratedAt:     time.Now().UTC(),
		TotalEvents:     len(events),
		ActionBreakdown: make(map[string]int),
	}

	keys := make(map[string]struct{})
	for i := range events {
		event := events[i]

		if event.Success {
			stats.SuccessfulEvents++
		} else {
			stats.FailedEvents++
		}
		stats.ActionBreakdown[event.Action]++

		switch event.Action {
		case audit.ActionSecretCached:
			stats.KeysCached++
		case audit.ActionSecretExpired:
			stats.Expirations++
		case audit.ActionSecretCleared:
			stats.Clears++
		case audit.ActionExpiryArmFailed:
			stats.ArmFailures++
		}

		if event.KeyFingerprint != "" {
			keys[event.KeyFingerprint] = struct{}{}
		}

		ts := event.Timestamp
		if stats.FirstEvent == nil || ts.Before(*stats.FirstEvent) {
			stats.FirstEvent = &ts
		}
		if stats.LastEvent == nil || ts.After(*stats.LastEvent) {
			stats.LastEvent = &ts
		}
	}
	stats.DistinctKeys = len(keys)

	return stats
}

func displayAuditStats(out io.Writer, stats AuditStats) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	fmt.Fprintf(w, "Total Events:\t%d\n", stats.TotalEvents)
	fmt.Fprintf(w, "Successful:\t%d\n", stats.SuccessfulEvents)
	fmt.Fprintf(w, "Failed:\t%d\n", stats.FailedEvents)
	if stats.FirstEvent != nil {
		fmt.Fprintf(w, "Time Range:\t%s to %s\n",
			stats.FirstEvent.Format(time.RFC3339), stats.LastEvent.Format(time.RFC3339))
	}
	fmt.Fprintf(w, "Keys Cached:\t%d (%d distinct)\n", stats.KeysCached, stats.DistinctKeys)
	fmt.Fprintf(w, "Expirations:\t%d\n", stats.Expirations)
	fmt.Fprintf(w, "Clears:\t%d\n", stats.Clears)
	fmt.Fprintf(w, "Arm Failures:\t%d\n", stats.ArmFailures)

	actions := make([]string, 0, len(stats.ActionBreakdown))
	for action := range stats.ActionBreakdown {
		actions = append(actions, action)
	}
	sort.Slice(actions, func(i, j int) bool {
		ci, cj := stats.ActionBreakdown[actions[i]], stats.ActionBreakdown[actions[j]]
		if ci != cj {
			return ci > cj
		}
		return actions[i] < actions[j]
	})

	fmt.Fprintf(w, "\nACTION\tCOUNT\n")
	for _, action := range actions {
		fmt.Fprintf(w, "%s\t%d\n", action, stats.ActionBreakdown[action])
	}
	return w.Flush()
}

func writeJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
