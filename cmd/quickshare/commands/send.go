package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/SpatiumPortae/quickshare/cmd/quickshare/config"
	"github.com/SpatiumPortae/quickshare/internal/router"
	"github.com/SpatiumPortae/quickshare/protocol/transfer"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/exp/slices"
)

var (
	ErrDeviceNotFound  = errors.New("no nearby device matches")
	ErrTransferFailed  = errors.New("transfer did not finish")
	ErrNothingToSend   = errors.New("provide either files or --text")
	ErrTooMuchToSend   = errors.New("files and --text can not be sent together")
	errSessionsStopped = errors.New("coordinator stopped")
)

// -------------------------------------------------------- Send -------------------------------------------------------

func Send(version string) *cobra.Command {
	sendCmd := &cobra.Command{
		Use:   "send --to device [file1 file2...]",
		Short: "Send files or text to a nearby device",
		Long:  "The send command sends one or more files, or a piece of text, to a nearby device found by name or id.",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := viper.BindPFlag("engine", cmd.Flags().Lookup("engine")); err != nil {
				return fmt.Errorf("binding engine flag: %w", err)
			}
			if err := viper.BindPFlag("discovery_timeout", cmd.Flags().Lookup("timeout")); err != nil {
				return fmt.Errorf("binding timeout flag: %w", err)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			text, _ := cmd.Flags().GetString("text")
			target, _ := cmd.Flags().GetString("to")
			switch {
			case text == "" && len(args) == 0:
				return ErrNothingToSend
			case text != "" && len(args) > 0:
				return ErrTooMuchToSend
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := validateAddress(cfg.Engine); err != nil {
				return fmt.Errorf("%w: (%s) is not a valid engine address", err, cfg.Engine)
			}

			req := transfer.SendRequest{}
			if text != "" {
				req.Text = &transfer.Text{Payload: text, Type: "text/plain"}
			} else if req.Files, err = absPaths(args); err != nil {
				return err
			}
			if err := handleSendCommand(version, cfg, target, req); err != nil {
				return fmt.Errorf("running send command: %w", err)
			}
			return nil
		},
	}
	sendCmd.Flags().StringP("to", "t", "", "Name or id of the nearby device to send to")
	sendCmd.Flags().String("text", "", "Send this text instead of files")
	sendCmd.Flags().StringP("engine", "e", "", engineFlagDesc)
	sendCmd.Flags().Duration("timeout", 0, "How long to wait for the device to be discovered")
	_ = sendCmd.MarkFlagRequired("to")
	return sendCmd
}

// ------------------------------------------------------ Handlers -----------------------------------------------------

func handleSendCommand(version string, cfg config.Config, target string, req transfer.SendRequest) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	logger, err := setupLoggingFromViper("send")
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if err := checkEngineVersion(ctx, version, cfg.Engine); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c, err := startCoordinator(ctx, cfg.Engine, logger)
	if err != nil {
		return err
	}
	notes, unsubscribe := c.Subscribe(64)
	defer unsubscribe()

	fmt.Printf("looking for %q...\n", target)
	ep, err := waitForEndpoint(ctx, c, notes, target, cfg.DiscoveryTimeout)
	if err != nil {
		return err
	}
	req.DisplayName = ep.Name
	req.Address = ep.Address()
	id, err := c.Send(ctx, req)
	if err != nil {
		return fmt.Errorf("requesting transfer: %w", err)
	}

	sendErr := followTransfer(notes, id, newRawView(os.Stdout))
	cancel()
	if err := c.Wait(); err != nil && sendErr == nil {
		return err
	}
	return sendErr
}

type endpointLister interface {
	Endpoints(ctx context.Context) ([]transfer.Endpoint, error)
}

// waitForEndpoint returns the nearby endpoint whose id or name matches target,
// looking again whenever a notification arrives, for at most timeout.
func waitForEndpoint(ctx context.Context, l endpointLister, notes <-chan router.Notification, target string, timeout time.Duration) (transfer.Endpoint, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		eps, err := l.Endpoints(ctx)
		if err != nil {
			return transfer.Endpoint{}, fmt.Errorf("listing nearby devices: %w", err)
		}
		i := slices.IndexFunc(eps, func(ep transfer.Endpoint) bool {
			return ep.ID == target || strings.EqualFold(ep.Name, target)
		})
		if i >= 0 {
			return eps[i], nil
		}

		select {
		case _, ok := <-notes:
			if !ok {
				return transfer.Endpoint{}, errSessionsStopped
			}
		case <-deadline.C:
			return transfer.Endpoint{}, fmt.Errorf("%w %q within %s", ErrDeviceNotFound, target, timeout)
		case <-ctx.Done():
			return transfer.Endpoint{}, ctx.Err()
		}
	}
}

// followTransfer shows the progress of the transfer with the given id until
// it ends.
func followTransfer(notes <-chan router.Notification, id transfer.ID, view *rawView) error {
	for n := range notes {
		if n.Session == nil || n.Session.ID != id {
			continue
		}
		view.handle(n)
		snap := n.Session
		if !snap.State.IsTerminal() {
			continue
		}
		if snap.State == transfer.Finished {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrTransferFailed, snap.FailureReason)
	}
	return errSessionsStopped
}

func absPaths(paths []string) ([]string, error) {
	res := make([]string, 0, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("resolving %q: %w", p, err)
		}
		if _, err := os.Stat(abs); err != nil {
			return nil, fmt.Errorf("unable to open file %q: %w", p, err)
		}
		res = append(res, abs)
	}
	return res, nil
}
