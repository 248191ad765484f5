package main

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"slowjams/internal/settings"
	"slowjams/internal/stage"
)

func newSettingsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Manage stored preferences",
		Long:  "Reads and writes operator preferences in the shared database. Categories: general, conversion, processing.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newSettingsListCommand(ctx))
	cmd.AddCommand(newSettingsGetCommand(ctx))
	cmd.AddCommand(newSettingsSetCommand(ctx))
	cmd.AddCommand(newSettingsUnsetCommand(ctx))
	cmd.AddCommand(newSettingsResetCommand(ctx))
	cmd.AddCommand(newSettingsDefaultsCommand(ctx))
	return cmd
}

func withSettings(ctx *commandContext, fn func(cmd *cobra.Command, store *settings.Store) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		store, _, err := ctx.openStore()
		if err != nil {
			return err
		}
		defer store.Close()
		return fn(cmd, settings.NewStore(store))
	}
}

func settingsCategories() []string {
	return []string{settings.CategoryGeneral, settings.CategoryConversion, settings.CategoryProcessing}
}

func validCategory(category string) error {
	for _, known := range settingsCategories() {
		if category == known {
			return nil
		}
	}
	return fmt.Errorf("unknown category %q; expected one of general, conversion, processing", category)
}

func newSettingsListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list [category]",
		Short: "List stored settings",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			categories := settingsCategories()
			if len(args) == 1 {
				if err := validCategory(args[0]); err != nil {
					return err
				}
				categories = args[:1]
			}
			return withSettings(ctx, func(cmd *cobra.Command, store *settings.Store) error {
				return runSettingsList(cmd, store, categories)
			})(cmd, args)
		},
	}
}

func runSettingsList(cmd *cobra.Command, store *settings.Store, categories []string) error {
	rows := make([][]string, 0)
	for _, category := range categories {
		values, err := store.Category(cmd.Context(), category)
		if err != nil {
			return err
		}
		keys := make([]string, 0, len(values))
		for key := range values {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			rows = append(rows, []string{category, key, truncate(values[key], 64)})
		}
	}
	if len(rows) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No settings stored; built-in defaults apply.")
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderTable(
		[]string{"Category", "Key", "Value"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft},
	))
	return nil
}

func newSettingsGetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "get <category> <key>",
		Short: "Print one setting",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validCategory(args[0]); err != nil {
				return err
			}
			return withSettings(ctx, func(cmd *cobra.Command, store *settings.Store) error {
				value, ok, err := store.Get(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("setting %s/%s is not set", args[0], args[1])
				}
				fmt.Fprintln(cmd.OutOrStdout(), value)
				return nil
			})(cmd, args)
		},
	}
}

func newSettingsSetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "set <category> <key> <value>",
		Short: "Store one setting",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validCategory(args[0]); err != nil {
				return err
			}
			return withSettings(ctx, func(cmd *cobra.Command, store *settings.Store) error {
				if err := store.Set(cmd.Context(), args[0], args[1], args[2]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Set %s/%s.\n", args[0], args[1])
				return nil
			})(cmd, args)
		},
	}
}

func newSettingsUnsetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "unset <category> <key>",
		Short: "Remove one setting",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validCategory(args[0]); err != nil {
				return err
			}
			return withSettings(ctx, func(cmd *cobra.Command, store *settings.Store) error {
				removed, err := store.Delete(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				if !removed {
					fmt.Fprintf(cmd.OutOrStdout(), "Setting %s/%s was not set.\n", args[0], args[1])
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s/%s.\n", args[0], args[1])
				return nil
			})(cmd, args)
		},
	}
}

func newSettingsResetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <category>",
		Short: "Remove every setting in a category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validCategory(args[0]); err != nil {
				return err
			}
			return withSettings(ctx, func(cmd *cobra.Command, store *settings.Store) error {
				removed, err := store.ResetCategory(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d setting(s) from %s.\n", removed, args[0])
				return nil
			})(cmd, args)
		},
	}
}

func newSettingsDefaultsCommand(ctx *commandContext) *cobra.Command {
	var (
		preset string
		speed  float64
		pitch  float64
	)

	cmd := &cobra.Command{
		Use:   "defaults",
		Short: "Show or update the default stage parameters",
		Long:  "Prints the parameter snapshot applied to new jobs. Flags update and persist it.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSettings(ctx, func(cmd *cobra.Command, store *settings.Store) error {
				return runSettingsDefaults(cmd, store, preset, speed, pitch)
			})(cmd, args)
		},
	}

	cmd.Flags().StringVar(&preset, "preset", "", "Replace the defaults with a named preset")
	cmd.Flags().Float64Var(&speed, "speed", 0, "Update the default speed factor")
	cmd.Flags().Float64Var(&pitch, "pitch", 0, "Update the default pitch shift in semitones")
	return cmd
}

func runSettingsDefaults(cmd *cobra.Command, store *settings.Store, preset string, speed, pitch float64) error {
	params, err := store.DefaultParams(cmd.Context())
	if err != nil {
		return err
	}

	dirty := false
	if preset != "" {
		next, ok := stage.Preset(preset)
		if !ok {
			return fmt.Errorf("unknown preset %q", preset)
		}
		params = next
		dirty = true
	}
	if speed > 0 {
		params.SpeedFactor = speed
		dirty = true
	}
	if cmd.Flags().Changed("pitch") {
		params.PitchEnabled = pitch != 0
		params.PitchSemitones = pitch
		dirty = true
	}

	if dirty {
		if err := store.SetDefaultParams(cmd.Context(), params); err != nil {
			return err
		}
	}

	encoded, err := json.MarshalIndent(params, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
	return nil
}
