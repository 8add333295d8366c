// Package unpaper wraps the external unpaper page-cleanup filter:
// availability probing, argument construction and per-image
// invocation. The filter removes scan noise and borders and can split
// dual-page scans; its algorithms are entirely the tool's business.
// This package only owns the invocation contract.
package unpaper

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Layout shapes how the filter interprets page geometry.
type Layout int

const (
	LayoutNone Layout = iota
	LayoutSingle
	LayoutDouble
)

// String returns the tool's spelling of the layout.
func (l Layout) String() string {
	switch l {
	case LayoutSingle:
		return "single"
	case LayoutDouble:
		return "double"
	default:
		return "none"
	}
}

// ParseLayout converts a configuration string to a Layout.
func ParseLayout(s string) (Layout, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return LayoutNone, nil
	case "single":
		return LayoutSingle, nil
	case "double":
		return LayoutDouble, nil
	default:
		return LayoutNone, fmt.Errorf("unknown layout %q (none, single, double)", s)
	}
}

// OutputPages is the filter's page-split setting: 0 leaves splitting
// off, 1 and 2 request that many output pages per input sheet.
type OutputPages int

// Valid reports whether the value is one the tool accepts.
func (o OutputPages) Valid() bool { return o == 0 || o == 1 || o == 2 }

// Options carries the caller-supplied shaping options.
type Options struct {
	Layout      Layout
	OutputPages OutputPages
	PreRotate   int // fixed pre-rotation angle; 0 = none
}

// Args builds the unpaper argument list. With full set, the
// conservative defaults are included first: they disable the filter's
// aggressive behaviors (blanking narrow columns, border/center
// alignment, gray/black area removal) that destroy content on real
// scans.
func Args(opts Options, full bool) []string {
	var args []string
	if full {
		args = append(args,
			"--mask-scan-size", "100",
			"--no-border-align",
			"--no-mask-center",
			"--no-grayfilter",
			"--no-blackfilter",
		)
	}
	if opts.Layout != LayoutNone {
		args = append(args, "--layout", opts.Layout.String())
	}
	if opts.PreRotate != 0 {
		args = append(args, "--pre-rotate", strconv.Itoa(opts.PreRotate))
	}
	if opts.OutputPages == 1 || opts.OutputPages == 2 {
		args = append(args, "--output-pages", strconv.Itoa(int(opts.OutputPages)))
	}
	return args
}

// Probe checks whether the unpaper binary is available by asking for
// its version. Unavailability is not an error condition for the
// pipeline, since the scan-cleanup stage degrades to passing raw
// rasters through, so the result is a boolean plus the version string.
func Probe(ctx context.Context) (string, bool) {
	out, err := exec.CommandContext(ctx, "unpaper", "--version").CombinedOutput()
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(string(out)), true
}

// Run invokes unpaper on a single image. The returned error carries
// the exact command line so a failing page can be reproduced by hand.
func Run(ctx context.Context, in, out string, dpi int, args []string) error {
	cmdArgs := append([]string{"-v", "--dpi", strconv.Itoa(dpi)}, args...)
	cmdArgs = append(cmdArgs, in, out)

	cmd := exec.CommandContext(ctx, "unpaper", cmdArgs...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("unpaper failed for %s\ncommand: unpaper %s\noutput: %s: %w",
			in, strings.Join(cmdArgs, " "), strings.TrimSpace(string(output)), err)
	}
	return nil
}
