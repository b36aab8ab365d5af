package main

import (
	"fmt"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/keyhaven/keyhaven/pkg/activity"
	"github.com/keyhaven/keyhaven/pkg/store"
)

// Flags for add command
var (
	addUsername string
	addURL      string
	addNotes    string
	addGroup    string
)

// Flags for get command
var (
	getShowPassword bool
)

// Flags for list command
var (
	listGroup string
)

// Flags for search command
var (
	searchTitle    string
	searchUsername string
	searchURL      string
	searchGroup    string
)

// Flags for update/delete/history
var (
	updateReason string
	staleDays    int
)

func init() {
	addCmd.Flags().StringVarP(&addUsername, "username", "u", "", "Account username")
	addCmd.Flags().StringVar(&addURL, "url", "", "Site URL")
	addCmd.Flags().StringVar(&addNotes, "notes", "", "Free-form notes")
	addCmd.Flags().StringVarP(&addGroup, "group", "g", "", "Group name")

	getCmd.Flags().BoolVar(&getShowPassword, "show-password", false, "Print the decrypted password")

	listCmd.Flags().StringVarP(&listGroup, "group", "g", "", "Filter by group name")

	searchCmd.Flags().StringVar(&searchTitle, "title", "", "Filter by title substring")
	searchCmd.Flags().StringVar(&searchUsername, "username", "", "Filter by username substring")
	searchCmd.Flags().StringVar(&searchURL, "url", "", "Filter by URL substring")
	searchCmd.Flags().StringVarP(&searchGroup, "group", "g", "", "Filter by group name")

	updateCmd.Flags().StringVar(&updateReason, "reason", "manual change", "Reason recorded in password history")
	rootCmd.AddCommand(updateCmd)

	staleCmd.Flags().IntVar(&staleDays, "days", 90, "Age in days past which a password counts as stale")
}

// resolveGroup maps a top-level group name to its id.
func resolveGroup(gs *store.GroupStore, name string) (*int64, error) {
	if name == "" {
		return nil, nil
	}
	g, err := gs.GetByName(name, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve group %q: %w", name, err)
	}
	return &g.ID, nil
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", arg)
	}
	return id, nil
}

// promptPassword reads a password without echo.
func promptPassword(label string) (string, error) {
	fmt.Printf("%s: ", label)
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	fmt.Println()
	return string(passwordBytes), nil
}

// addCmd creates a credential
var addCmd = &cobra.Command{
	Use:   "add [title]",
	Short: "Adds a credential, prompting for the password",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		groupID, err := resolveGroup(credGroups, addGroup)
		if err != nil {
			return err
		}

		password, err := promptPassword("Enter password")
		if err != nil {
			return err
		}

		c := &store.Credential{
			Title:    args[0],
			Username: addUsername,
			Password: password,
			URL:      addURL,
			Notes:    addNotes,
			GroupID:  groupID,
		}
		if err := credentials.Save(c); err != nil {
			return fmt.Errorf("failed to save credential: %w", err)
		}
		recordActivity(activity.OpCredentialAdd, c.Title, activity.ResultSuccess, "")

		fmt.Printf("Credential '%s' saved with id %d\n", c.Title, c.ID)
		return nil
	},
}

// getCmd shows one credential
var getCmd = &cobra.Command{
	Use:   "get [id]",
	Short: "Shows a credential",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}

		c, err := credentials.Get(id)
		if err != nil {
			return fmt.Errorf("failed to get credential: %w", err)
		}

		fmt.Printf("Title:    %s\n", c.Title)
		fmt.Printf("Username: %s\n", c.Username)
		if c.URL != "" {
			fmt.Printf("URL:      %s\n", c.URL)
		}
		if c.Notes != "" {
			fmt.Printf("Notes:    %s\n", c.Notes)
		}
		if getShowPassword {
			fmt.Printf("Password: %s\n", c.Password)
		}
		fmt.Printf("Updated:  %s\n", c.UpdatedAt.Format("2006-01-02 15:04"))
		return nil
	},
}

// updateCmd changes a credential's password and records history
var updateCmd = &cobra.Command{
	Use:   "update [id]",
	Short: "Updates a credential's password, recording the change in history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}

		c, err := credentials.Get(id)
		if err != nil {
			return fmt.Errorf("failed to get credential: %w", err)
		}

		password, err := promptPassword("Enter new password")
		if err != nil {
			return err
		}
		c.Password = password

		if err := credentials.UpdateWithHistory(c, updateReason); err != nil {
			return fmt.Errorf("failed to update credential: %w", err)
		}
		recordActivity(activity.OpCredentialUpdate, c.Title, activity.ResultSuccess, updateReason)

		fmt.Printf("Credential '%s' updated\n", c.Title)
		return nil
	},
}

// listCmd lists credentials, optionally within one group
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Lists credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		groupID, err := resolveGroup(credGroups, listGroup)
		if err != nil {
			return err
		}

		creds, err := credentials.List(groupID)
		if err != nil {
			return fmt.Errorf("failed to list credentials: %w", err)
		}
		if len(creds) == 0 {
			fmt.Println("No credentials found")
			return nil
		}

		for _, c := range creds {
			line := fmt.Sprintf("%d\t%s\t%s", c.ID, c.Title, c.Username)
			if c.URL != "" {
				line += "\t" + c.URL
			}
			fmt.Println(line)
		}
		return nil
	},
}

// searchCmd runs keyword or field search
var searchCmd = &cobra.Command{
	Use:   "search [keyword]",
	Short: "Searches credentials by keyword and field filters",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		groupID, err := resolveGroup(credGroups, searchGroup)
		if err != nil {
			return err
		}

		q := store.AdvancedQuery{
			Title:    searchTitle,
			Username: searchUsername,
			URL:      searchURL,
			GroupID:  groupID,
		}
		if len(args) > 0 {
			q.Keyword = args[0]
		}

		creds, err := credentials.AdvancedSearch(q)
		if err != nil {
			return fmt.Errorf("search failed: %w", err)
		}
		if len(creds) == 0 {
			fmt.Println("No matches")
			return nil
		}

		for _, c := range creds {
			fmt.Printf("%d\t%s\t%s\n", c.ID, c.Title, c.Username)
		}
		return nil
	},
}

// deleteCmd deletes a credential
var deleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Deletes a credential",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}

		if err := credentials.Delete(id); err != nil {
			return fmt.Errorf("failed to delete credential: %w", err)
		}
		recordActivity(activity.OpCredentialDelete, args[0], activity.ResultSuccess, "")

		fmt.Printf("Credential %d deleted\n", id)
		return nil
	},
}

// historyCmd shows the password history of a credential
var historyCmd = &cobra.Command{
	Use:   "history [id]",
	Short: "Shows a credential's password history, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}

		entries, err := credentials.History(id)
		if err != nil {
			return fmt.Errorf("failed to load history: %w", err)
		}
		if len(entries) == 0 {
			fmt.Println("No history entries")
			return nil
		}

		for _, e := range entries {
			line := fmt.Sprintf("%s\t%s", e.ChangedAt.Format("2006-01-02 15:04"), e.Reason)
			fmt.Println(line)
		}
		return nil
	},
}

// staleCmd lists credentials whose password has not changed recently
var staleCmd = &cobra.Command{
	Use:   "stale",
	Short: "Lists credentials with passwords older than the given age",
	RunE: func(cmd *cobra.Command, args []string) error {
		age := time.Duration(staleDays) * 24 * time.Hour
		creds, err := credentials.StaleSince(age)
		if err != nil {
			return fmt.Errorf("failed to list stale credentials: %w", err)
		}
		if len(creds) == 0 {
			fmt.Println("No stale credentials")
			return nil
		}

		for _, c := range creds {
			fmt.Printf("%d\t%s\tlast changed %s\n", c.ID, c.Title, c.UpdatedAt.Format("2006-01-02"))
		}
		return nil
	},
}
