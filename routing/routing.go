// Package routing is the Routing Driver (C4): applies routing-engine
// directives (OSPF cost, static routes, generic config) and reads the
// running config, via the container gateway into each router's
// routing-engine shell (e.g. FRR's vtysh).
package routing

import (
	"context"
	"strings"

	"github.com/ais-netlab/chaos/cgw"
	"github.com/ais-netlab/chaos/cmn/cos"
)

// Driver drives the routing-engine shell inside router containers.
type Driver struct {
	gw cgw.Gateway
}

func New(gw cgw.Gateway) *Driver { return &Driver{gw: gw} }

// ApplyDirectives enters configuration mode, emits each directive
// verbatim, persists, and returns (stdout, exit). No parsing of the
// directive set is performed (§4.3).
func (d *Driver) ApplyDirectives(ctx context.Context, node string, lines []string) (string, int, error) {
	script := "configure terminal\n" + strings.Join(lines, "\n") + "\nend\nwrite memory\n"
	res, err := d.gw.Exec(ctx, node, "vtysh", "-c", script)
	if err != nil {
		return "", 0, &cos.ErrContainerUnavailable{Container: node, Cause: err}
	}
	if res.Exit != 0 {
		return res.Stdout, res.Exit, &cos.ErrRoutingFailed{Stderr: res.Stderr, Exit: res.Exit}
	}
	return res.Stdout, res.Exit, nil
}

// ReadRunningConfig returns the node's full running configuration text.
func (d *Driver) ReadRunningConfig(ctx context.Context, node string) (string, error) {
	res, err := d.gw.Exec(ctx, node, "vtysh", "-c", "show running-config")
	if err != nil {
		return "", &cos.ErrContainerUnavailable{Container: node, Cause: err}
	}
	if res.Exit != 0 {
		return "", &cos.ErrRoutingFailed{Stderr: res.Stderr, Exit: res.Exit}
	}
	return cleanConfig(res.Stdout), nil
}

// ApplyFullConfig submits text to node's routing engine in configuration
// mode and persists it. Separator/header lines are stripped before
// submission. The routing engine's reload facility is not used: lines in
// the running config that text does not contain are left in place, so
// this is not a full replacement.
func (d *Driver) ApplyFullConfig(ctx context.Context, node, text string) error {
	clean := cleanConfig(text)
	script := "configure terminal\n" + clean + "\nend\nwrite memory\n"
	res, err := d.gw.Exec(ctx, node, "vtysh", "-c", script)
	if err != nil {
		return &cos.ErrContainerUnavailable{Container: node, Cause: err}
	}
	if res.Exit != 0 {
		return &cos.ErrRoutingFailed{Stderr: res.Stderr, Exit: res.Exit}
	}
	return nil
}

// cleanConfig strips the separator/header lines ("Building configuration...",
// "Current configuration:", "!" banner lines) that the routing engine
// prepends to `show running-config` output, so the text can be fed back
// in verbatim via ApplyFullConfig.
func cleanConfig(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		trimmed := strings.TrimSpace(l)
		switch {
		case trimmed == "":
			continue
		case strings.HasPrefix(trimmed, "Building configuration"):
			continue
		case strings.HasPrefix(trimmed, "Current configuration"):
			continue
		case trimmed == "!":
			continue
		default:
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}
