package commands

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/SpatiumPortae/quickshare/cmd/quickshare/config"
	"github.com/alecthomas/chroma/quick"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var ErrUnknownConfigKey = errors.New("unknown config key")

func Config() *cobra.Command {

	pathCmd := &cobra.Command{
		Use:   "path",
		Short: "Output the path of the config file",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(viper.ConfigFileUsed())
		},
	}

	viewCmd := &cobra.Command{
		Use:   "view",
		Short: "View the configured options",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := viper.ConfigFileUsed()
			contents, err := os.ReadFile(configPath)
			if err != nil {
				return fmt.Errorf("config file (%s) could not be read: %w", configPath, err)
			}
			if err := quick.Highlight(os.Stdout, string(contents), "yaml", "terminal256", "onedark"); err != nil {
				// Failed to highlight output, output un-highlighted config file contents.
				fmt.Println(string(contents))
			}
			if changed := changedKeys(); len(changed) > 0 {
				fmt.Printf("\nchanged from defaults: %s\n", strings.Join(changed, ", "))
			}
			return nil
		},
	}

	setCmd := &cobra.Command{
		Use:   "set key value",
		Short: "Set a single option",
		Args:  cobra.ExactArgs(2),
		ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
			if len(args) > 0 {
				return nil, cobra.ShellCompDirectiveNoFileComp
			}
			return configKeys(), cobra.ShellCompDirectiveNoFileComp
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return setConfigValue(args[0], args[1])
		},
	}

	editCmd := &cobra.Command{
		Use:   "edit",
		Short: "Edit the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := viper.ConfigFileUsed()
			// Strip arguments from editor variable -- allows exec.Command to lookup the editor executable correctly.
			editor, _, _ := strings.Cut(os.Getenv("EDITOR"), " ")
			if len(editor) == 0 {
				//lint:ignore ST1005 error string is command output
				return fmt.Errorf(
					"Could not find default editor (is the $EDITOR variable set?)\nOptionally you can open the file (%s) manually", configPath,
				)
			}

			editorCmd := exec.Command(editor, configPath)
			editorCmd.Stdin = os.Stdin
			editorCmd.Stdout = os.Stdout
			editorCmd.Stderr = os.Stderr
			if err := editorCmd.Run(); err != nil {
				return fmt.Errorf("failed to open file (%s) in editor (%s): %w", configPath, editor, err)
			}
			return nil
		},
	}

	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Reset to the default configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := viper.ConfigFileUsed()
			if err := os.WriteFile(configPath, config.GetDefault().Yaml(), 0o644); err != nil {
				return fmt.Errorf("config file (%s) could not be written to: %w", configPath, err)
			}
			return nil
		},
	}

	configCmd := &cobra.Command{
		Use:       "config",
		Short:     "View and configure options",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{pathCmd.Name(), viewCmd.Name(), setCmd.Name(), editCmd.Name(), resetCmd.Name()},
		Run:       func(cmd *cobra.Command, args []string) {},
	}

	configCmd.AddCommand(pathCmd)
	configCmd.AddCommand(viewCmd)
	configCmd.AddCommand(setCmd)
	configCmd.AddCommand(editCmd)
	configCmd.AddCommand(resetCmd)

	return configCmd
}

func configKeys() []string {
	var keys []string
	for k := range config.GetDefault().Map() {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// changedKeys lists the keys whose effective value differs from the default.
func changedKeys() []string {
	var changed []string
	for _, k := range configKeys() {
		if !config.IsDefault(k) {
			changed = append(changed, k)
		}
	}
	return changed
}

// setConfigValue validates value for key and writes it to the config file.
// The file is left untouched if the resulting config does not load.
func setConfigValue(key, value string) error {
	if _, ok := config.GetDefault().Map()[key]; !ok {
		return fmt.Errorf("%w %q, expected one of: %s", ErrUnknownConfigKey, key, strings.Join(configKeys(), ", "))
	}
	previous := viper.Get(key)
	viper.Set(key, value)
	cfg, err := config.Load()
	if err != nil {
		viper.Set(key, previous)
		return err
	}
	if key == "engine" {
		if err := validateAddress(cfg.Engine); err != nil {
			viper.Set(key, previous)
			return fmt.Errorf("%w: (%s) is not a valid engine address", err, cfg.Engine)
		}
	}

	configPath := viper.ConfigFileUsed()
	if err := os.WriteFile(configPath, cfg.Yaml(), 0o644); err != nil {
		return fmt.Errorf("config file (%s) could not be written to: %w", configPath, err)
	}
	return nil
}
