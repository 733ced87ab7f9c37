package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/SpatiumPortae/quickshare/internal/engine"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func Version(version string) *cobra.Command {
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Display the installed version of quickshare",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := viper.BindPFlag("engine", cmd.Flags().Lookup("engine")); err != nil {
				return fmt.Errorf("binding engine flag: %w", err)
			}
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
			if check, _ := cmd.Flags().GetBool("engine-version"); !check {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			engineVer, err := engine.Version(ctx, viper.GetString("engine"))
			if err != nil {
				fmt.Printf("engine: unavailable (%v)\n", err)
				return
			}
			fmt.Printf("engine: %s\n", engineVer)
		},
	}
	versionCmd.Flags().Bool("engine-version", false, "Also display the version of the transfer engine")
	versionCmd.Flags().StringP("engine", "e", "", engineFlagDesc)
	return versionCmd
}
