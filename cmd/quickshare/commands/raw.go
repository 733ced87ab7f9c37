package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/SpatiumPortae/quickshare/internal/router"
	"github.com/SpatiumPortae/quickshare/internal/session"
	"github.com/SpatiumPortae/quickshare/protocol/transfer"
	"github.com/schollz/progressbar/v3"
)

// actor is the part of the router the raw commands drive.
type actor interface {
	Act(ctx context.Context, id transfer.ID, a session.Action) error
	Dismiss(ctx context.Context, id transfer.ID) error
}

// rawView prints notifications as plain lines and draws a progress bar per
// running transfer.
type rawView struct {
	out      io.Writer
	bars     map[transfer.ID]*progressbar.ProgressBar
	prompted map[transfer.ID]uint64
}

func newRawView(out io.Writer) *rawView {
	return &rawView{
		out:      out,
		bars:     make(map[transfer.ID]*progressbar.ProgressBar),
		prompted: make(map[transfer.ID]uint64),
	}
}

func (v *rawView) handle(n router.Notification) {
	switch n.Kind {
	case router.EndpointChanged:
		if n.Endpoint == nil {
			return
		}
		if n.Endpoint.Present {
			fmt.Fprintf(v.out, "device %q (%s) is nearby\n", n.Endpoint.Name, n.Endpoint.ID)
		} else {
			fmt.Fprintf(v.out, "device %q (%s) went away\n", n.Endpoint.Name, n.Endpoint.ID)
		}
		return
	case router.SessionEvicted:
		if n.Session != nil {
			v.finish(n.Session.ID)
			delete(v.prompted, n.Session.ID)
		}
		return
	}
	if n.Session == nil {
		return
	}

	snap := *n.Session
	switch {
	case snap.AwaitingConsent():
		if gen, ok := v.prompted[snap.ID]; ok && gen == snap.Generation {
			return
		}
		v.prompted[snap.ID] = snap.Generation
		fmt.Fprintf(v.out, "%s wants to send %s", peer(snap), payload(snap))
		if snap.PinCode != "" {
			fmt.Fprintf(v.out, " (PIN %s)", snap.PinCode)
		}
		fmt.Fprintf(v.out, "\n  accept %[1]s | decline %[1]s\n", snap.ID)

	case snap.State.IsTransferring():
		bar := v.bar(snap)
		_ = bar.Set64(int64(snap.AckBytes))

	case snap.State == transfer.Finished:
		v.finish(snap.ID)
		fmt.Fprintf(v.out, "transfer %s finished\n", snap.ID)
		if snap.Kind == session.KindReceive.Name() && snap.TextPayload != "" {
			fmt.Fprintln(v.out, snap.TextPayload)
		}

	case snap.FailureReason != "":
		v.finish(snap.ID)
		fmt.Fprintf(v.out, "transfer %s failed: %s\n", snap.ID, snap.FailureReason)
	}
}

func (v *rawView) bar(snap session.Snapshot) *progressbar.ProgressBar {
	if bar, ok := v.bars[snap.ID]; ok {
		return bar
	}
	total := int64(snap.TotalBytes)
	if total <= 0 {
		total = -1
	}
	verb := "receiving"
	if snap.Kind == session.KindSend.Name() {
		verb = "sending"
	}
	bar := progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(v.out),
		progressbar.OptionSetDescription(fmt.Sprintf("%s %s", verb, payload(snap))),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(v.out, "\n")
		}),
	)
	v.bars[snap.ID] = bar
	return bar
}

func (v *rawView) finish(id transfer.ID) {
	bar, ok := v.bars[id]
	if !ok {
		return
	}
	delete(v.bars, id)
	_ = bar.Exit()
	fmt.Fprint(v.out, "\n")
}

var errUnknownCommand = errors.New("unknown command, expected one of: accept, decline, cancel, dismiss followed by a transfer id")

// readCommands reads `<verb> <id>` lines from in until it is exhausted or
// ctx is cancelled, and applies them to c. Failures are reported on out.
func readCommands(ctx context.Context, in io.Reader, c actor, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if err := runCommand(ctx, c, fields); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
	return scanner.Err()
}

func runCommand(ctx context.Context, c actor, fields []string) error {
	if len(fields) != 2 {
		return errUnknownCommand
	}
	id := transfer.ID(fields[1])
	switch strings.ToLower(fields[0]) {
	case "accept", "y", "yes":
		return c.Act(ctx, id, session.ConsentAccept)
	case "decline", "n", "no":
		return c.Act(ctx, id, session.ConsentDecline)
	case "cancel":
		return c.Act(ctx, id, session.TransferCancel)
	case "dismiss":
		return c.Dismiss(ctx, id)
	default:
		return errUnknownCommand
	}
}

func peer(snap session.Snapshot) string {
	if snap.DeviceName == "" {
		return "unknown device"
	}
	return snap.DeviceName
}

func payload(snap session.Snapshot) string {
	if snap.IsText() {
		if snap.TextDescription != "" {
			return fmt.Sprintf("text %q", snap.TextDescription)
		}
		return "text"
	}
	if len(snap.Files) == 1 {
		return "1 file"
	}
	return fmt.Sprintf("%d files", len(snap.Files))
}
