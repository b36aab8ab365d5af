package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	logLimit     int
	logPruneDays int
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Inspect the vault activity log",
}

var logListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show recorded vault operations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		events, err := activityLog.List(logLimit)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			fmt.Println("No activity recorded")
			return nil
		}
		for _, e := range events {
			line := fmt.Sprintf("%s  %-20s %s", e.Timestamp, e.Operation, e.Result)
			if e.Detail != "" {
				line += "  (" + e.Detail + ")"
			}
			fmt.Println(line)
		}
		return nil
	},
}

var logVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check the activity log for tampering",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := activityLog.Verify()
		if err != nil {
			return err
		}
		if result.Valid {
			fmt.Printf("Activity log is intact (%d records)\n", result.Records)
			return nil
		}
		for _, e := range result.Errors {
			fmt.Fprintf(cmd.ErrOrStderr(), "Error: %s\n", e)
		}
		return fmt.Errorf("activity log failed verification")
	},
}

var logPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete old activity log entries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		deleted, err := activityLog.Prune(time.Duration(logPruneDays) * 24 * time.Hour)
		if err != nil {
			return err
		}
		fmt.Printf("Deleted %d entries\n", deleted)
		return nil
	},
}

func init() {
	logListCmd.Flags().IntVarP(&logLimit, "limit", "n", 50, "most recent entries to show (0 for all)")
	logPruneCmd.Flags().IntVar(&logPruneDays, "older-than", 365, "delete entries older than this many days")
	logCmd.AddCommand(logListCmd)
	logCmd.AddCommand(logVerifyCmd)
	logCmd.AddCommand(logPruneCmd)
	rootCmd.AddCommand(logCmd)
}
