package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/SpatiumPortae/quickshare/internal/engine"
	"github.com/SpatiumPortae/quickshare/internal/logger"
	"github.com/SpatiumPortae/quickshare/internal/router"
	"github.com/SpatiumPortae/quickshare/internal/semver"
	"github.com/SpatiumPortae/quickshare/protocol/transfer"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	engineFlagDesc = `Address of the transfer engine. Accepted formats:
  - 127.0.0.1:9300
  - [::1]:9300
  - localhost
	`
	tuiStyleFlagDesc = "Style of the tui (rich|raw)"
)

var validate = validator.New()
var ErrInvalidAddress = errors.New("invalid address provided")

// validateAddress validates a hostname or IP, optionally with a port.
func validateAddress(addr string) error {

	// IPv4 and IPv6 address validation.
	err := validate.Var(addr, "ip")
	if err == nil {
		return nil
	}

	// IPv4 or IPv6 or domain or localhost.
	err = validate.Var(addr, "hostname")
	if err == nil {
		return nil
	}

	// IPv4 or domain or localhost and a port. Or just a shortand port (:1234).
	err = validate.Var(addr, "hostname_port")
	if err == nil {
		return nil
	}

	// The hostname_port validator does not accept IPv6 host and port combinations.
	_, port, hostPortErr := net.SplitHostPort(addr)
	if p, err := strconv.Atoi(port); err != nil || p < 0 || p > 65535 {
		return ErrInvalidAddress
	}
	if hostPortErr == nil {
		return nil
	}

	return ErrInvalidAddress
}

// setupLoggingFromViper returns a logger writing to `.quickshare-[cmd].log`
// when verbose is set, and a no-op logger otherwise.
func setupLoggingFromViper(cmd string) (*zap.Logger, error) {
	l, err := logger.NewFile(viper.GetBool("verbose"), fmt.Sprintf(".quickshare-%s.log", cmd))
	if err != nil {
		return nil, fmt.Errorf("could not log to the provided file: %w", err)
	}
	return l, nil
}

// checkEngineVersion refuses to talk to an engine with an incompatible
// version. A client built without a version skips the check.
func checkEngineVersion(ctx context.Context, version string, engineAddr string) error {
	ver, err := semver.Parse(version)
	if err != nil {
		return nil
	}
	engineVer, err := engine.Version(ctx, engineAddr)
	if err != nil {
		return fmt.Errorf("fetching version from engine: %w", err)
	}
	if !ver.Compatible(engineVer) {
		return fmt.Errorf("incompatible version %s -> %s", ver, engineVer)
	}
	return nil
}

// coordinator is a running router connected to the engine.
type coordinator struct {
	*router.Router
	group *errgroup.Group
}

// startCoordinator dials the engine and runs the engine client and the
// router until ctx is cancelled or the engine connection ends.
func startCoordinator(ctx context.Context, engineAddr string, logger *zap.Logger) (*coordinator, error) {
	client, err := engine.Dial(ctx, engineAddr, engine.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("connecting to engine (%s): %w", engineAddr, err)
	}
	outbound := make(chan transfer.Msg, 16)
	r := router.New(outbound, router.WithLogger(logger))

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return client.Run(ctx, outbound)
	})
	group.Go(func() error {
		return r.Run(ctx, router.Inbound{
			Events:    client.Events(),
			Endpoints: client.Endpoints(),
		})
	})
	return &coordinator{Router: r, group: group}, nil
}

// Wait blocks until the engine client and the router have stopped.
func (c *coordinator) Wait() error {
	if err := c.group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
