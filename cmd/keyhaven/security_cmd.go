package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var securityStaleDays int

var securityCmd = &cobra.Command{
	Use:   "security",
	Short: "Score the password health of the vault",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		analyzer.WithStaleAfter(time.Duration(securityStaleDays) * 24 * time.Hour)

		report, err := analyzer.Analyze()
		if err != nil {
			return err
		}

		fmt.Printf("Security score: %d/100\n", report.Overall)
		fmt.Printf("  Strength:   %d/25\n", report.Components.Strength)
		fmt.Printf("  Uniqueness: %d/25\n", report.Components.Uniqueness)
		fmt.Printf("  Freshness:  %d/25\n", report.Components.Freshness)
		fmt.Printf("  Coverage:   %d/25\n", report.Components.Coverage)

		if len(report.Issues) > 0 {
			fmt.Println()
			for _, issue := range report.Issues {
				subject := issue.Title
				if len(issue.Titles) > 0 {
					subject = strings.Join(issue.Titles, ", ")
				}
				fmt.Printf("  [%s] %s: %s\n", issue.Severity, subject, issue.Description)
			}
		}
		if len(report.Suggestions) > 0 {
			fmt.Println()
			for _, s := range report.Suggestions {
				fmt.Printf("  - %s\n", s)
			}
		}
		return nil
	},
}

func init() {
	securityCmd.Flags().IntVar(&securityStaleDays, "stale-days", 90, "days before a password counts as stale")
	rootCmd.AddCommand(securityCmd)
}
