package main

import (
	"fmt"
	"os"

	"github.com/SpatiumPortae/quickshare/cmd/quickshare/commands"
	"github.com/SpatiumPortae/quickshare/cmd/quickshare/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "v0.1.0"

// rootCmd is the top level `quickshare` command on which the other subcommands are attached to.
var rootCmd = &cobra.Command{
	Use:   "quickshare",
	Short: "Quickshare coordinates file and text transfers with nearby devices.",
}

// Entry point of the application.
func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initViperConfig)

	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log debug information to a file on the format `.quickshare-[command].log` in the current directory")
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	rootCmd.AddCommand(commands.Run(version))
	rootCmd.AddCommand(commands.Send(version))
	rootCmd.AddCommand(commands.Serve(version))
	rootCmd.AddCommand(commands.Config())
	rootCmd.AddCommand(commands.Version(version))
}

func initViperConfig() {
	if err := config.Init(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
