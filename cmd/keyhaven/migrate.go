package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/keyhaven/keyhaven/pkg/activity"
	"github.com/keyhaven/keyhaven/pkg/importer"
	"github.com/keyhaven/keyhaven/pkg/store"
)

var (
	migrateSource string
	migrateDryRun bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate <file>",
	Short: "Import an export file from another password manager",
	Long: `Parses a 1Password CSV, Bitwarden JSON or LastPass CSV export and
stores its logins as credentials and its secure notes as notes. Source
folders are recreated as groups. Items already in the vault are skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		parser, err := importer.GetParser(importer.Source(migrateSource))
		if err != nil {
			return err
		}

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", args[0], err)
		}

		result, err := parser.Parse(data)
		if err != nil {
			return err
		}

		for _, w := range result.Warnings {
			fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %s\n", w)
		}
		for _, s := range result.Skipped {
			fmt.Fprintf(cmd.ErrOrStderr(), "Skipped %q: %s\n", s.Name, s.Reason)
		}

		if migrateDryRun {
			fmt.Printf("Dry run: %d credentials and %d notes would be imported\n",
				len(result.Credentials), len(result.Notes))
			return nil
		}

		imported, skipped, failed := 0, 0, 0

		for _, item := range result.Credentials {
			groupID, err := ensureGroupPath(credGroups, item.GroupPath)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Warning: group %q: %v\n", item.GroupPath, err)
				groupID = nil
			}
			if _, err := credentials.FindByIdentity(item.Title, item.Username, groupID); err == nil {
				skipped++
				continue
			} else if !errors.Is(err, store.ErrCredentialNotFound) {
				return err
			}
			c := &store.Credential{
				Title:    item.Title,
				Username: item.Username,
				Password: item.Password,
				URL:      item.URL,
				Notes:    item.Notes,
				GroupID:  groupID,
			}
			if err := credentials.Save(c); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Error: credential %q: %v\n", item.Title, err)
				failed++
				continue
			}
			imported++
		}

		for _, item := range result.Notes {
			groupID, err := ensureGroupPath(noteGroups, item.GroupPath)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Warning: group %q: %v\n", item.GroupPath, err)
				groupID = nil
			}
			if _, err := notes.FindByIdentity(item.Title, groupID); err == nil {
				skipped++
				continue
			} else if !errors.Is(err, store.ErrNoteNotFound) {
				return err
			}
			n := &store.Note{
				Title:   item.Title,
				Content: item.Content,
				GroupID: groupID,
			}
			if err := notes.Save(n); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Error: note %q: %v\n", item.Title, err)
				failed++
				continue
			}
			imported++
		}

		recordActivity(activity.OpVaultMigrate, args[0], activity.ResultSuccess,
			fmt.Sprintf("imported %d, skipped %d, failed %d", imported, skipped, failed))
		fmt.Printf("Imported %d items (%d skipped, %d failed)\n", imported, skipped, failed)
		return nil
	},
}

// ensureGroupPath walks a slash or backslash separated folder path,
// creating missing groups along the way. An empty path means root.
func ensureGroupPath(gs *store.GroupStore, path string) (*int64, error) {
	path = strings.ReplaceAll(path, `\`, "/")

	var parent *int64
	for _, segment := range strings.Split(path, "/") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		g, err := gs.GetByName(segment, parent)
		if errors.Is(err, store.ErrGroupNotFound) {
			g = &store.Group{Name: segment, ParentID: parent}
			if err := gs.Save(g); err != nil {
				return nil, err
			}
		} else if err != nil {
			return nil, err
		}
		id := g.ID
		parent = &id
	}
	return parent, nil
}

func init() {
	migrateCmd.Flags().StringVar(&migrateSource, "from", "", "source format: "+strings.Join(importer.ValidSources(), ", "))
	migrateCmd.Flags().BoolVar(&migrateDryRun, "dry-run", false, "parse and report without writing")
	_ = migrateCmd.MarkFlagRequired("from")
	rootCmd.AddCommand(migrateCmd)
}
