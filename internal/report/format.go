package report

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/highbeam/settingswatch/internal/gitint"
	"github.com/highbeam/settingswatch/internal/ipc"
	"github.com/highbeam/settingswatch/internal/settings"
	"github.com/highbeam/settingswatch/internal/store"
)

// ANSI escape codes for terminal formatting.
const (
	bold   = "\033[1m"
	red    = "\033[31m"
	green  = "\033[32m"
	yellow = "\033[33m"
	reset  = "\033[0m"
)

// Outcome display order.
var outcomeOrder = []string{"applied", "unchanged", "invalid", "missing", "error"}

// FormatStatus formats daemon StatusData as a terminal-friendly table.
func FormatStatus(status *ipc.StatusData) string {
	return formatStatusAt(status, time.Now())
}

func formatStatusAt(status *ipc.StatusData, now time.Time) string {
	var b strings.Builder

	b.WriteString(bold + "settingswatch - Daemon Status" + reset + "\n")
	b.WriteString(strings.Repeat("=", 40) + "\n\n")

	fmt.Fprintf(&b, "%-20s %s\n", "Uptime:", status.Uptime)
	fmt.Fprintf(&b, "%-20s %s\n", "Run ID:", status.RunID)
	fmt.Fprintf(&b, "%-20s %s\n", "Settings File:", status.SettingsPath)
	fmt.Fprintf(&b, "%-20s %s%s%s\n", "Watch State:", colorForState(status.WatchState), status.WatchState, reset)
	fmt.Fprintf(&b, "%-20s %s\n", "Hesitation:", (time.Duration(status.HesitationMS) * time.Millisecond).String())
	fmt.Fprintf(&b, "%-20s %s\n", "Debug:", onOff(status.Debug))
	fmt.Fprintf(&b, "%-20s %s\n", "Active Digest:", shortDigest(status.ActiveDigest))
	fmt.Fprintf(&b, "%-20s %s\n", "DB Size:", humanize.IBytes(uint64(max(status.DBSizeBytes, 0))))
	fmt.Fprintf(&b, "%-20s %s\n", "Reloads:", humanize.Comma(status.ReloadsCount))

	if r := status.LastReload; r != nil {
		fmt.Fprintf(&b, "%-20s %s%s%s (%s, %s)\n", "Last Reload:",
			colorForOutcome(r.Outcome), r.Outcome, reset,
			r.Trigger, humanize.RelTime(r.Timestamp, now, "ago", "from now"))
	} else {
		fmt.Fprintf(&b, "%-20s %s\n", "Last Reload:", "(none)")
	}

	w := status.Watcher
	fmt.Fprintf(&b, "\n%sWatcher%s\n", bold, reset)
	b.WriteString(strings.Repeat("-", 30) + "\n")
	fmt.Fprintf(&b, "%-20s %d\n", "Raw events:", w.RawEvents)
	fmt.Fprintf(&b, "%-20s %d\n", "Coalesced:", w.Coalesced)
	fmt.Fprintf(&b, "%-20s %d\n", "Changes reported:", w.Firings)
	fmt.Fprintf(&b, "%-20s %d\n", "Source errors:", w.SourceErrors)
	fmt.Fprintf(&b, "%-20s %d\n", "Inits:", w.Inits)

	return b.String()
}

// FormatHistory formats the reload history as a terminal-friendly table.
func FormatHistory(h *History) string {
	return formatHistoryAt(h, time.Now())
}

func formatHistoryAt(h *History, now time.Time) string {
	var b strings.Builder

	b.WriteString(bold + "settingswatch - Reload History" + reset + "\n")
	b.WriteString(strings.Repeat("=", 40) + "\n\n")

	fmt.Fprintf(&b, "Total reloads: %s\n", humanize.Comma(h.Total))
	if h.Total > 0 {
		var parts []string
		for _, o := range outcomeOrder {
			if n := h.ByOutcome[o]; n > 0 {
				parts = append(parts, fmt.Sprintf("%s %s", humanize.Comma(n), o))
			}
		}
		fmt.Fprintf(&b, "Outcomes:      %s\n", strings.Join(parts, ", "))
	}
	if la := h.LastApplied; la != nil {
		fmt.Fprintf(&b, "Last applied:  %s %s (%s)\n",
			shortDigest(la.Digest), revisionOf(la), humanize.RelTime(la.Timestamp, now, "ago", "from now"))
	}
	b.WriteString("\n")

	if len(h.Reloads) == 0 {
		b.WriteString("No reloads recorded.\n")
		return b.String()
	}

	b.WriteString(strings.Repeat("-", 86) + "\n")
	fmt.Fprintf(&b, "%-16s %-13s %-10s %-12s %9s %-22s\n", "When", "Trigger", "Outcome", "Digest", "Size", "Revision")
	b.WriteString(strings.Repeat("-", 86) + "\n")

	for _, r := range h.Reloads {
		fmt.Fprintf(&b, "%-16s %-13s %s%-10s%s %-12s %9s %-22s\n",
			humanize.RelTime(r.Timestamp, now, "ago", "from now"),
			r.Trigger,
			colorForOutcome(r.Outcome), r.Outcome, reset,
			shortDigest(r.Digest),
			sizeOf(r),
			revisionOf(&r),
		)
		if r.Error != "" {
			fmt.Fprintf(&b, "  %s%s%s\n", red, r.Error, reset)
		}
	}

	return b.String()
}

// FormatRecord formats the result of a single reload on one line.
func FormatRecord(r *settings.Record) string {
	line := fmt.Sprintf("%s%s%s %s", colorForOutcome(string(r.Outcome)), r.Outcome, reset, r.Path)
	if r.Digest != "" {
		line += fmt.Sprintf(" digest=%s size=%s", shortDigest(r.Digest), humanize.IBytes(uint64(max(r.Size, 0))))
	}
	if !r.Revision.IsZero() {
		line += " rev=" + r.Revision.String()
	}
	if r.Err != "" {
		line += " error=" + r.Err
	}
	return line
}

// FormatJSON marshals any value as indented JSON.
func FormatJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"error": %q}`, err.Error())
	}
	return string(data)
}

func colorForOutcome(outcome string) string {
	switch outcome {
	case "applied":
		return green
	case "missing":
		return yellow
	case "invalid", "error":
		return red
	default:
		return ""
	}
}

func colorForState(state string) string {
	switch state {
	case "watching":
		return green
	case "disabled", "closed":
		return red
	default:
		return yellow
	}
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func shortDigest(d string) string {
	if d == "" {
		return "-"
	}
	if len(d) > 12 {
		return d[:12]
	}
	return d
}

func sizeOf(r store.ReloadRecord) string {
	if r.Digest == "" {
		return "-"
	}
	return humanize.IBytes(uint64(max(r.SizeBytes, 0)))
}

func revisionOf(r *store.ReloadRecord) string {
	return gitint.Revision{Commit: r.Revision, Branch: r.Branch, Dirty: r.Dirty}.String()
}
