package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/keyhaven/keyhaven/pkg/activity"
	"github.com/keyhaven/keyhaven/pkg/backup"
	"github.com/keyhaven/keyhaven/pkg/config"
	"github.com/keyhaven/keyhaven/pkg/crypto"
	"github.com/keyhaven/keyhaven/pkg/integrity"
	"github.com/keyhaven/keyhaven/pkg/security"
	"github.com/keyhaven/keyhaven/pkg/store"
)

var (
	cfg    *config.Config
	db     *store.DB
	cipher *crypto.Cipher

	credentials *store.CredentialStore
	credGroups  *store.GroupStore
	noteGroups  *store.GroupStore
	notes       *store.NoteStore
	settings    *store.SettingsStore
	engine      *backup.Engine
	auditor     *integrity.Auditor
	analyzer    *security.Analyzer
	activityLog *activity.Logger
)

// recordActivity appends to the activity log. Logging problems are
// reported but never fail the command that triggered them.
func recordActivity(op, item, result, detail string) {
	if activityLog == nil {
		return
	}
	if err := activityLog.Record(op, item, result, detail); err != nil {
		fmt.Fprintf(rootCmd.ErrOrStderr(), "Warning: failed to record activity: %v\n", err)
	}
}

var rootCmd = &cobra.Command{
	Use:   "keyhaven",
	Short: "keyhaven is a local-first encrypted credential vault",
	Long:  `A single-user credential vault with field-level encryption, stored in SQLite.`,
	// PersistentPreRunE opens the vault before every subcommand.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		if cfg.UsingDefaultSecret() {
			fmt.Fprintln(cmd.ErrOrStderr(),
				"Warning: no encryption secret configured, using the built-in development secret")
		}

		db, err = store.Open(cfg.VaultDir)
		if err != nil {
			return fmt.Errorf("failed to open vault: %w", err)
		}

		cipher, err = crypto.New(cfg.EncryptionSecret)
		if err != nil {
			db.Close()
			return fmt.Errorf("failed to initialize encryption: %w", err)
		}

		credentials = store.NewCredentialStore(db, cipher)
		credGroups = store.NewCredentialGroupStore(db)
		noteGroups = store.NewNoteGroupStore(db)
		notes = store.NewNoteStore(db, cipher)
		settings = store.NewSettingsStore(db)
		engine = backup.New(db, cipher)
		auditor = integrity.New(db)
		analyzer = security.NewAnalyzer(credentials, cipher)

		activityLog, err = activity.NewLogger(filepath.Join(cfg.VaultDir, "activity"), cfg.EncryptionSecret)
		if err != nil {
			db.Close()
			return fmt.Errorf("failed to open activity log: %w", err)
		}

		if err := settings.Seed(); err != nil {
			db.Close()
			return fmt.Errorf("failed to seed settings: %w", err)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if db != nil {
			return db.Close()
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(staleCmd)
	rootCmd.AddCommand(groupCmd)
	rootCmd.AddCommand(noteCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(repairCmd)
}
