package flightcheck

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/flightcheck/flightcheck/types"
)

// ConsoleReporter renders a finalized result tree as a table on stdout
type ConsoleReporter struct {
	log log.Logger
}

// NewConsoleReporter creates a console reporter
func NewConsoleReporter(logger log.Logger) *ConsoleReporter {
	if logger == nil {
		logger = log.New()
	}
	return &ConsoleReporter{log: logger}
}

// Report renders the tree with one row per node, indented by depth, and a
// footer carrying the aggregate step counts.
func (r *ConsoleReporter) Report(root *types.Node) error {
	if root == nil {
		return fmt.Errorf("no result tree to report")
	}
	if !root.Finalized() {
		return fmt.Errorf("result tree is not finalized")
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Type", "Name", "Status", "Duration", "Message"})

	appendRows(t, root, 0)

	stats := root.Stats()
	t.AppendFooter(table.Row{
		"",
		fmt.Sprintf("%d steps", stats.Total),
		root.Status(),
		formatDuration(resultDuration(root)),
		fmt.Sprintf("%d passed, %d failed, %d errored, %d skipped (%.1f%% pass rate)",
			stats.Passed, stats.Failed, stats.Errored, stats.Skipped, stats.PassRate),
	})

	switch root.Status() {
	case types.StatusPassed:
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	case types.StatusSkipped:
		t.SetStyle(table.StyleColoredBlackOnYellowWhite)
	default:
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	}
	t.Style().Format.Footer = text.FormatDefault
	t.Render()
	return nil
}

func appendRows(t table.Writer, node *types.Node, depth int) {
	indent := strings.Repeat("  ", depth)
	var message string
	if res := node.Result(); res != nil {
		message = res.Message
		if res.Err != nil {
			message = res.Err.Error()
		}
	}
	t.AppendRow(table.Row{
		string(node.Kind),
		indent + node.Name,
		node.Status(),
		formatDuration(resultDuration(node)),
		message,
	})
	if node.Kind == types.KindSuite {
		t.AppendSeparator()
	}
	for _, child := range node.Children {
		appendRows(t, child, depth+1)
	}
}

func resultDuration(node *types.Node) time.Duration {
	if res := node.Result(); res != nil {
		return res.Duration()
	}
	return 0
}

// formatDuration rounds durations for display: sub-millisecond values keep
// microsecond precision, everything else gets three significant places.
func formatDuration(d time.Duration) string {
	if d == 0 {
		return "-"
	}
	if d < time.Millisecond {
		return d.Round(time.Microsecond).String()
	}
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(10 * time.Millisecond).String()
}

// Summary produces a one-line account of a finalized run, suitable for error
// messages and log lines.
func Summary(root *types.Node) string {
	stats := root.Stats()
	return fmt.Sprintf("%s: %d/%d steps passed (%d failed, %d errored, %d skipped)",
		root.Status(), stats.Passed, stats.Total, stats.Failed, stats.Errored, stats.Skipped)
}
