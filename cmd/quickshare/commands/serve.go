package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/SpatiumPortae/quickshare/cmd/quickshare/config"
	"github.com/SpatiumPortae/quickshare/internal/api"
	"github.com/SpatiumPortae/quickshare/internal/logger"
	"github.com/SpatiumPortae/quickshare/internal/semver"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func Serve(version string) *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the local control api",
		Long:  "The serve command runs the coordinator without a terminal interface and exposes it on a local http api.",
		Args:  cobra.MatchAll(cobra.ExactArgs(0), cobra.NoArgs),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := viper.BindPFlag("api_port", cmd.Flags().Lookup("port")); err != nil {
				return fmt.Errorf("binding port flag: %w", err)
			}
			if err := viper.BindPFlag("engine", cmd.Flags().Lookup("engine")); err != nil {
				return fmt.Errorf("binding engine flag: %w", err)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ver, err := semver.Parse(version)
			if err != nil {
				return fmt.Errorf("server requires version to be set: %w", err)
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := validateAddress(cfg.Engine); err != nil {
				return fmt.Errorf("%w: (%s) is not a valid engine address", err, cfg.Engine)
			}
			l := logger.New()
			defer func() { _ = l.Sync() }()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()
			origins, _ := cmd.Flags().GetStringSlice("allow-origin")
			return handleServeCommand(ctx, ver, cfg, l, api.WithAllowedOrigins(origins...))
		},
	}
	serveCmd.Flags().IntP("port", "p", 0, "port to serve the control api on")
	serveCmd.Flags().StringP("engine", "e", "", engineFlagDesc)
	serveCmd.Flags().StringSlice("allow-origin", nil, "Origin host patterns (e.g. localhost:*) of browser frontends allowed to use the api")
	return serveCmd
}

func handleServeCommand(ctx context.Context, ver semver.Version, cfg config.Config, logger *zap.Logger, opts ...api.Option) error {
	if err := checkEngineVersion(ctx, ver.String(), cfg.Engine); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	group, ctx := errgroup.WithContext(ctx)
	c, err := startCoordinator(ctx, cfg.Engine, logger)
	if err != nil {
		return err
	}
	server := api.NewServer(cfg.ApiPort, ver, c, logger, opts...)
	group.Go(func() error {
		return server.Serve(ctx)
	})
	// The api has nothing to serve once the engine connection is gone.
	group.Go(func() error {
		defer cancel()
		return c.Wait()
	})
	return group.Wait()
}
