package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/keyhaven/keyhaven/pkg/store"
)

// Group command flags
var (
	groupParent string
	groupColor  string
	groupNotes  bool
)

// groupCmd is the parent command for group operations.
var groupCmd = &cobra.Command{
	Use:   "group",
	Short: "Group operations",
	Long: `Manage groups for organizing credentials and notes.

Groups form a hierarchy. Use path syntax (e.g., "Work/APIs") to address
nested groups. Pass --notes to operate on note groups instead of
credential groups.`,
}

// targetGroups selects the store the --notes flag points at.
func targetGroups() *store.GroupStore {
	if groupNotes {
		return noteGroups
	}
	return credGroups
}

// resolveGroupPath walks a slash-separated path segment by segment.
func resolveGroupPath(gs *store.GroupStore, path string) (*store.Group, error) {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	var current *store.Group
	for _, segment := range segments {
		var parentID *int64
		if current != nil {
			parentID = &current.ID
		}
		g, err := gs.GetByName(segment, parentID)
		if err != nil {
			if errors.Is(err, store.ErrGroupNotFound) {
				return nil, fmt.Errorf("group not found: %s", path)
			}
			return nil, fmt.Errorf("failed to resolve group %s: %w", path, err)
		}
		current = g
	}
	return current, nil
}

// groupCreateCmd creates a group.
var groupCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a group",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		gs := targetGroups()

		var parentID *int64
		if groupParent != "" {
			parent, err := resolveGroupPath(gs, groupParent)
			if err != nil {
				return err
			}
			parentID = &parent.ID
		}

		g := &store.Group{
			Name:     args[0],
			ParentID: parentID,
			Color:    groupColor,
		}
		if err := gs.Save(g); err != nil {
			if errors.Is(err, store.ErrGroupNameTaken) {
				return fmt.Errorf("a group named %q already exists in that location", g.Name)
			}
			return fmt.Errorf("failed to create group: %w", err)
		}

		fmt.Printf("Created group '%s' with id %d\n", g.Name, g.ID)
		return nil
	},
}

// groupListCmd lists groups flat, in tree order.
var groupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List groups",
	RunE: func(cmd *cobra.Command, args []string) error {
		groups, err := targetGroups().List()
		if err != nil {
			return fmt.Errorf("failed to list groups: %w", err)
		}
		if len(groups) == 0 {
			fmt.Println("No groups found")
			return nil
		}
		for _, g := range groups {
			fmt.Printf("%d\t%s\t%s\n", g.ID, g.Name, g.Color)
		}
		return nil
	},
}

// groupTreeCmd prints the hierarchy.
var groupTreeCmd = &cobra.Command{
	Use:   "tree",
	Short: "Show the group hierarchy",
	RunE: func(cmd *cobra.Command, args []string) error {
		roots, err := targetGroups().Tree()
		if err != nil {
			return fmt.Errorf("failed to build group tree: %w", err)
		}
		if len(roots) == 0 {
			fmt.Println("No groups found")
			return nil
		}
		for _, root := range roots {
			printTree(root, 0)
		}
		return nil
	},
}

func printTree(node *store.GroupNode, depth int) {
	fmt.Printf("%s%s\n", strings.Repeat("  ", depth), node.Name)
	for _, child := range node.Children {
		printTree(child, depth+1)
	}
}

// groupRenameCmd renames a group in place.
var groupRenameCmd = &cobra.Command{
	Use:   "rename <path> <new-name>",
	Short: "Rename a group",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		gs := targetGroups()

		g, err := resolveGroupPath(gs, args[0])
		if err != nil {
			return err
		}

		g.Name = args[1]
		if err := gs.Save(g); err != nil {
			if errors.Is(err, store.ErrGroupNameTaken) {
				return fmt.Errorf("a group named %q already exists in the same location", g.Name)
			}
			return fmt.Errorf("failed to rename group: %w", err)
		}

		fmt.Printf("Renamed group: %s -> %s\n", args[0], args[1])
		return nil
	},
}

// groupMoveCmd reparents a group.
var groupMoveCmd = &cobra.Command{
	Use:   "move <path> <new-parent-path>",
	Short: "Move a group to a new parent",
	Long: `Move a group under a new parent group.

Use empty string "" or "/" to move to root level.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		gs := targetGroups()

		g, err := resolveGroupPath(gs, args[0])
		if err != nil {
			return err
		}

		var newParentID *int64
		if args[1] != "" && args[1] != "/" {
			parent, err := resolveGroupPath(gs, args[1])
			if err != nil {
				return err
			}
			newParentID = &parent.ID
		}

		g.ParentID = newParentID
		if err := gs.Save(g); err != nil {
			if errors.Is(err, store.ErrGroupCycle) {
				return errors.New("cannot move a group into its own subtree")
			}
			if errors.Is(err, store.ErrGroupNameTaken) {
				return fmt.Errorf("a group named %q already exists in the target location", g.Name)
			}
			return fmt.Errorf("failed to move group: %w", err)
		}

		fmt.Printf("Moved group: %s\n", args[0])
		return nil
	},
}

// groupDeleteCmd deletes a group. Members and child groups are detached,
// not deleted.
var groupDeleteCmd = &cobra.Command{
	Use:   "delete <path>",
	Short: "Delete a group, detaching its contents",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		gs := targetGroups()

		g, err := resolveGroupPath(gs, args[0])
		if err != nil {
			return err
		}

		if err := gs.Delete(g.ID); err != nil {
			return fmt.Errorf("failed to delete group: %w", err)
		}

		fmt.Printf("Deleted group: %s\n", args[0])
		return nil
	},
}

func init() {
	groupCmd.AddCommand(groupCreateCmd)
	groupCmd.AddCommand(groupListCmd)
	groupCmd.AddCommand(groupTreeCmd)
	groupCmd.AddCommand(groupRenameCmd)
	groupCmd.AddCommand(groupMoveCmd)
	groupCmd.AddCommand(groupDeleteCmd)

	groupCmd.PersistentFlags().BoolVar(&groupNotes, "notes", false, "Operate on note groups")

	groupCreateCmd.Flags().StringVar(&groupParent, "parent", "", "Parent group path")
	groupCreateCmd.Flags().StringVar(&groupColor, "color", "", "Group color (blue, green, red, yellow, purple, orange, teal, pink, gray)")
}
