package components

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/cdcstream/pgoutputcdc/internal/metrics"
)

var throughputValueStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFFFF"))

// RenderThroughput renders the events/sec rate, the total event count broken
// down by pgoutput message kind, and the collector's overall error count.
func RenderThroughput(snap metrics.Snapshot, width int) string {
	rate := throughputValueStyle.Render(fmt.Sprintf("%.1f events/s", snap.EventsPerSec))
	total := formatCount(snap.TotalEvents)

	var kinds []string
	for k := range snap.EventCounts {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	var breakdown []string
	for _, k := range kinds {
		breakdown = append(breakdown, fmt.Sprintf("%s=%d", k, snap.EventCounts[k]))
	}

	errStr := ""
	if snap.ErrorCount > 0 {
		errStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
		errStr = fmt.Sprintf("  Errors: %s", errStyle.Render(fmt.Sprintf("%d", snap.ErrorCount)))
	}

	return fmt.Sprintf("  %s  |  Total: %s (%s)%s",
		rate, total, strings.Join(breakdown, " "), errStr)
}

func formatCount(n int64) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	case n >= 1_000:
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	default:
		return fmt.Sprintf("%d", n)
	}
}
