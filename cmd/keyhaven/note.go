package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/keyhaven/keyhaven/pkg/activity"
	"github.com/keyhaven/keyhaven/pkg/store"
)

// Note command flags
var (
	noteGroup    string
	noteContent  string
	notePinned   bool
	noteArchived bool
)

// noteCmd is the parent command for secure note operations.
var noteCmd = &cobra.Command{
	Use:   "note",
	Short: "Secure note operations",
	Long: `Manage secure notes. Note content is encrypted at rest.

Pass content with --content or pipe it on standard input.`,
}

// noteAddCmd creates a note.
var noteAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Add a secure note",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		groupID, err := resolveGroup(noteGroups, noteGroup)
		if err != nil {
			return err
		}

		content := noteContent
		if content == "" {
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("failed to read note content: %w", err)
			}
			content = strings.TrimRight(string(data), "\n")
		}

		n := &store.Note{
			Title:   args[0],
			Content: content,
			GroupID: groupID,
			Pinned:  notePinned,
		}
		if err := notes.Save(n); err != nil {
			return fmt.Errorf("failed to save note: %w", err)
		}
		recordActivity(activity.OpNoteAdd, n.Title, activity.ResultSuccess, "")

		fmt.Printf("Note '%s' saved with id %d\n", n.Title, n.ID)
		return nil
	},
}

// noteGetCmd prints a note.
var noteGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show a note",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}

		n, err := notes.Get(id)
		if err != nil {
			return fmt.Errorf("failed to get note: %w", err)
		}

		fmt.Printf("Title: %s\n", n.Title)
		if n.Pinned {
			fmt.Println("Pinned: yes")
		}
		fmt.Println()
		fmt.Println(n.Content)
		return nil
	},
}

// noteListCmd lists notes, pinned first.
var noteListCmd = &cobra.Command{
	Use:   "list",
	Short: "List notes",
	RunE: func(cmd *cobra.Command, args []string) error {
		groupID, err := resolveGroup(noteGroups, noteGroup)
		if err != nil {
			return err
		}

		all, err := notes.List(groupID)
		if err != nil {
			return fmt.Errorf("failed to list notes: %w", err)
		}
		if len(all) == 0 {
			fmt.Println("No notes found")
			return nil
		}

		for _, n := range all {
			if noteArchived != n.Archived {
				continue
			}
			marker := " "
			if n.Pinned {
				marker = "*"
			}
			fmt.Printf("%s %d\t%s\n", marker, n.ID, n.Title)
		}
		return nil
	},
}

// noteSearchCmd searches note titles.
var noteSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search notes by title",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		matches, err := notes.SearchByTitle(args[0])
		if err != nil {
			return fmt.Errorf("search failed: %w", err)
		}
		if len(matches) == 0 {
			fmt.Println("No matches")
			return nil
		}
		for _, n := range matches {
			fmt.Printf("%d\t%s\n", n.ID, n.Title)
		}
		return nil
	},
}

// noteDeleteCmd deletes a note.
var noteDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a note",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}

		if err := notes.Delete(id); err != nil {
			return fmt.Errorf("failed to delete note: %w", err)
		}
		recordActivity(activity.OpNoteDelete, args[0], activity.ResultSuccess, "")

		fmt.Printf("Note %d deleted\n", id)
		return nil
	},
}

func init() {
	noteCmd.AddCommand(noteAddCmd)
	noteCmd.AddCommand(noteGetCmd)
	noteCmd.AddCommand(noteListCmd)
	noteCmd.AddCommand(noteSearchCmd)
	noteCmd.AddCommand(noteDeleteCmd)

	noteAddCmd.Flags().StringVarP(&noteGroup, "group", "g", "", "Note group name")
	noteAddCmd.Flags().StringVar(&noteContent, "content", "", "Note content (read from stdin if omitted)")
	noteAddCmd.Flags().BoolVar(&notePinned, "pinned", false, "Pin the note")

	noteListCmd.Flags().StringVarP(&noteGroup, "group", "g", "", "Filter by note group name")
	noteListCmd.Flags().BoolVar(&noteArchived, "archived", false, "Show archived notes instead of active ones")
}
