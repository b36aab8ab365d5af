package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/keyhaven/keyhaven/pkg/activity"
	"github.com/keyhaven/keyhaven/pkg/backup"
)

// Export command flags
var (
	exportPassword string
	exportGroups   bool
	exportNotes    bool
	exportSettings bool
	exportHistory  bool
)

// Import command flags
var (
	importPassword string
	importStrategy string
	importValidate bool
	importDryRun   bool
)

// exportCmd writes a vault snapshot to a file.
var exportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Export the vault to a snapshot file",
	Long: `Export the vault to a snapshot file.

Secret values stay encrypted in the snapshot. With --password the
snapshot is wrapped in an AES encrypted archive.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := engine.Export(backup.ExportOptions{
			IncludeGroups:     exportGroups,
			IncludeNoteGroups: exportNotes,
			IncludeNotes:      exportNotes,
			IncludeSettings:   exportSettings,
			IncludeHistory:    exportHistory,
			ArchivePassword:   exportPassword,
		})
		if err != nil {
			return fmt.Errorf("export failed: %w", err)
		}

		if err := os.WriteFile(args[0], data, 0600); err != nil {
			return fmt.Errorf("failed to write snapshot: %w", err)
		}
		recordActivity(activity.OpVaultExport, args[0], activity.ResultSuccess, fmt.Sprintf("%d bytes", len(data)))

		fmt.Printf("Exported vault to %s (%d bytes)\n", args[0], len(data))
		return nil
	},
}

// importCmd merges a snapshot file into the vault.
var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import a snapshot file into the vault",
	Long: `Import a snapshot file into the vault.

Strategies:
  merge    overwrite entities matched by natural key (default)
  skip     keep existing entities, import only new ones
  replace  clear the vault before importing`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read snapshot: %w", err)
		}

		result, err := engine.Import(data, backup.ImportOptions{
			ArchivePassword:   importPassword,
			Strategy:          backup.Strategy(importStrategy),
			ValidateIntegrity: importValidate,
			DryRun:            importDryRun,
		})
		if err != nil {
			for _, msg := range resultMessages(result) {
				fmt.Fprintln(cmd.ErrOrStderr(), msg)
			}
			return fmt.Errorf("import failed: %w", err)
		}

		for _, msg := range resultMessages(result) {
			fmt.Fprintln(cmd.ErrOrStderr(), msg)
		}
		if importDryRun {
			fmt.Println("Snapshot is valid, nothing imported (dry run)")
			return nil
		}
		recordActivity(activity.OpVaultImport, args[0], activity.ResultSuccess,
			fmt.Sprintf("imported %d, skipped %d", result.Imported, result.Skipped))
		fmt.Printf("Imported %d entities, skipped %d\n", result.Imported, result.Skipped)
		return nil
	},
}

func resultMessages(result *backup.Result) []string {
	if result == nil {
		return nil
	}
	var msgs []string
	for _, w := range result.Warnings {
		msgs = append(msgs, "Warning: "+w)
	}
	for _, e := range result.Errors {
		msgs = append(msgs, "Error: "+e)
	}
	return msgs
}

func init() {
	exportCmd.Flags().StringVarP(&exportPassword, "password", "p", "", "Encrypt the snapshot archive with this password")
	exportCmd.Flags().BoolVar(&exportGroups, "groups", true, "Include credential groups")
	exportCmd.Flags().BoolVar(&exportNotes, "notes", true, "Include notes and note groups")
	exportCmd.Flags().BoolVar(&exportSettings, "settings", true, "Include settings")
	exportCmd.Flags().BoolVar(&exportHistory, "history", true, "Include password history")

	importCmd.Flags().StringVarP(&importPassword, "password", "p", "", "Password for an encrypted snapshot archive")
	importCmd.Flags().StringVar(&importStrategy, "strategy", "merge", "Conflict strategy: merge, skip, replace")
	importCmd.Flags().BoolVar(&importValidate, "validate", true, "Validate the snapshot before importing")
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "Validate only, import nothing")
}
