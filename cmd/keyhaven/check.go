package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/keyhaven/keyhaven/pkg/activity"
)

// checkCmd scans the vault for consistency problems.
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check the vault for consistency problems",
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := auditor.Check()
		if err != nil {
			return fmt.Errorf("check failed: %w", err)
		}

		for _, w := range result.Warnings {
			fmt.Printf("Warning: %s\n", w)
		}
		for _, e := range result.Errors {
			fmt.Printf("Error: %s\n", e)
		}

		if result.IsValid {
			fmt.Println("Vault is consistent")
			return nil
		}
		fmt.Printf("Found %d problems (run 'keyhaven repair' to fix)\n", len(result.Errors))
		return nil
	},
}

// repairCmd applies the automatic fixes.
var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Repair vault consistency problems",
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := auditor.Repair()
		if err != nil {
			return fmt.Errorf("repair failed: %w", err)
		}

		if len(result.Repaired) > 0 {
			recordActivity(activity.OpVaultRepair, "vault", activity.ResultSuccess,
				fmt.Sprintf("%d repairs", len(result.Repaired)))
		}

		for _, msg := range result.Repaired {
			fmt.Printf("Repaired: %s\n", msg)
		}
		for _, msg := range result.Failed {
			fmt.Printf("Failed: %s\n", msg)
		}

		if len(result.Repaired) == 0 && len(result.Failed) == 0 {
			fmt.Println("Nothing to repair")
		}
		return nil
	},
}
