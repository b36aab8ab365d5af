package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/keyhaven/keyhaven/internal/cli"
)

// Settings command flags
var (
	settingCategory string
	settingResetAll bool
)

// configCmd is the parent command for vault settings.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Vault settings operations",
}

// configGetCmd prints setting values. Glob patterns match several keys.
var configGetCmd = &cobra.Command{
	Use:   "get <key>...",
	Short: "Show settings by key or glob pattern",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		keys, err := expandSettingKeys(args)
		if err != nil {
			return err
		}
		for _, key := range keys {
			st, err := settings.Get(key)
			if err != nil {
				return fmt.Errorf("failed to get setting: %w", err)
			}
			if len(keys) == 1 {
				fmt.Println(st.Value)
			} else {
				fmt.Printf("%s\t%s\n", st.Key, st.Value)
			}
		}
		return nil
	},
}

// configSetCmd updates a setting, validating against its declared type.
var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change a setting",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := settings.Set(args[0], args[1]); err != nil {
			return fmt.Errorf("failed to set %s: %w", args[0], err)
		}
		fmt.Printf("Set %s = %s\n", args[0], args[1])
		return nil
	},
}

// configListCmd lists settings, optionally for one category.
var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		all, err := settings.Export(settingCategory)
		if err != nil {
			return fmt.Errorf("failed to list settings: %w", err)
		}
		if len(all) == 0 {
			fmt.Println("No settings found")
			return nil
		}
		for _, st := range all {
			fmt.Printf("%s\t%s\t(%s, %s)\n", st.Key, st.Value, st.Type, st.Category)
		}
		return nil
	},
}

// configResetCmd restores defaults for matching keys or the whole vault.
var configResetCmd = &cobra.Command{
	Use:   "reset [key]...",
	Short: "Restore settings to their defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		if settingResetAll {
			if err := settings.ResetAll(); err != nil {
				return fmt.Errorf("failed to reset settings: %w", err)
			}
			fmt.Println("All settings restored to defaults")
			return nil
		}
		if len(args) == 0 {
			return errors.New("specify a key or pass --all")
		}
		keys, err := expandSettingKeys(args)
		if err != nil {
			return err
		}
		for _, key := range keys {
			if err := settings.ResetKey(key); err != nil {
				return fmt.Errorf("failed to reset %s: %w", key, err)
			}
			fmt.Printf("Setting %s restored to its default\n", key)
		}
		return nil
	},
}

// expandSettingKeys resolves key arguments, including glob patterns,
// against the keys currently stored in the vault.
func expandSettingKeys(patterns []string) ([]string, error) {
	all, err := settings.Export("")
	if err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	keys := make([]string, 0, len(all))
	for _, st := range all {
		keys = append(keys, st.Key)
	}
	return cli.ExpandKeyPatterns(patterns, keys)
}

func init() {
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configResetCmd)

	configListCmd.Flags().StringVar(&settingCategory, "category", "", "Filter by category (general, security, backup, appearance)")
	configResetCmd.Flags().BoolVar(&settingResetAll, "all", false, "Reset every setting")
}
