package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/SpatiumPortae/quickshare/cmd/quickshare/config"
	"github.com/SpatiumPortae/quickshare/cmd/quickshare/tui/sessions"
	"github.com/SpatiumPortae/quickshare/internal/semver"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// -------------------------------------------------------- Run --------------------------------------------------------

func Run(version string) *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Receive and follow transfers",
		Long:  "The run command connects to the transfer engine, asks for consent on incoming transfers and shows the progress of every transfer.",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := viper.BindPFlag("engine", cmd.Flags().Lookup("engine")); err != nil {
				return fmt.Errorf("binding engine flag: %w", err)
			}
			if err := viper.BindPFlag("tui_style", cmd.Flags().Lookup("tui-style")); err != nil {
				return fmt.Errorf("binding tui-style flag: %w", err)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := validateAddress(cfg.Engine); err != nil {
				return fmt.Errorf("%w: (%s) is not a valid engine address", err, cfg.Engine)
			}

			logger, err := setupLoggingFromViper("run")
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			switch cfg.TuiStyle {
			case config.StyleRich:
				if err := handleRunCommand(ctx, version, cfg, logger); err != nil {
					return fmt.Errorf("running rich run command: %w", err)
				}
			case config.StyleRaw:
				if err := handleRunCommandRaw(ctx, version, cfg, logger); err != nil {
					return fmt.Errorf("running raw run command: %w", err)
				}
			default:
				return errors.New("invalid tui style provided")
			}
			return nil
		},
	}
	runCmd.Flags().StringP("engine", "e", "", engineFlagDesc)
	runCmd.Flags().StringP("tui-style", "s", "", tuiStyleFlagDesc)
	return runCmd
}

// ------------------------------------------------------ Handlers -----------------------------------------------------

// handleRunCommand is the interactive sessions application.
func handleRunCommand(ctx context.Context, version string, cfg config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c, err := startCoordinator(ctx, cfg.Engine, logger)
	if err != nil {
		return err
	}
	notes, unsubscribe := c.Subscribe(64)
	defer unsubscribe()

	opts := []sessions.Option{sessions.WithClipboard(cfg.CopyTextToClipboard)}
	if ver, err := semver.Parse(version); err == nil {
		opts = append(opts, sessions.WithVersion(ver, cfg.Engine))
	}
	if _, err := sessions.New(ctx, c, notes, opts...).Run(); err != nil {
		return fmt.Errorf("running sessions tui: %w", err)
	}
	fmt.Println("")

	cancel()
	return c.Wait()
}

func handleRunCommandRaw(ctx context.Context, version string, cfg config.Config, logger *zap.Logger) error {
	if err := checkEngineVersion(ctx, version, cfg.Engine); err != nil {
		return err
	}
	c, err := startCoordinator(ctx, cfg.Engine, logger)
	if err != nil {
		return err
	}
	notes, unsubscribe := c.Subscribe(64)
	defer unsubscribe()

	go func() {
		if err := readCommands(ctx, os.Stdin, c, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("reading commands from stdin", zap.Error(err))
		}
	}()

	fmt.Println("waiting for transfers, press ctrl+c to quit")
	view := newRawView(os.Stdout)
	// The router closes every subscription when it stops.
	for n := range notes {
		view.handle(n)
	}
	return c.Wait()
}
