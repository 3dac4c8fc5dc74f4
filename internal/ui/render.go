package ui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/pomosync/pomosync/internal/orchestrator"
	"github.com/pomosync/pomosync/internal/schema"
)

// ShortIDLength is how many characters of an id are shown in lists.
const ShortIDLength = 8

// ShortID abbreviates an id for display.
func ShortID(id string) string {
	if len(id) <= ShortIDLength {
		return id
	}
	return id[:ShortIDLength]
}

// Truncate shortens s to at most width cells, ending in "…" when cut.
func Truncate(s string, width int) string {
	if width <= 0 {
		return ""
	}
	if lipgloss.Width(s) <= width {
		return s
	}
	runes := []rune(s)
	for len(runes) > 0 && lipgloss.Width(string(runes))+1 > width {
		runes = runes[:len(runes)-1]
	}
	return string(runes) + "…"
}

// Badge renders a sync state with its color.
func (p *Printer) Badge(state orchestrator.SyncState) string {
	label := string(state)
	switch state {
	case orchestrator.StateSynced:
		return p.Pass("✓ " + label)
	case orchestrator.StatePartial:
		return p.Warn("⚠ " + label)
	case orchestrator.StateError:
		return p.Fail("✗ " + label)
	case orchestrator.StateSyncing:
		return p.Info("↻ " + label)
	default:
		return p.Muted("· " + label)
	}
}

// Since formats how long ago t was, or "never" for the zero time.
func Since(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d/time.Minute))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d/time.Hour))
	default:
		return fmt.Sprintf("%dd ago", int(d/(24*time.Hour)))
	}
}

// TaskTable renders active tasks one per line: short id, version, a pending
// marker and the text truncated to the printer width.
func (p *Printer) TaskTable(tasks []schema.Task) string {
	if len(tasks) == 0 {
		return p.Muted("No tasks") + "\n"
	}

	var sb strings.Builder
	for _, t := range tasks {
		marker := " "
		if t.SyncStatus == schema.SyncPending {
			marker = p.Warn("•")
		}
		prefix := fmt.Sprintf("%-*s  v%-3d %s ", ShortIDLength, ShortID(t.ID), t.EffectiveVersion(), marker)
		text := Truncate(t.Text, p.width-lipgloss.Width(prefix))
		sb.WriteString(p.Muted(prefix[:ShortIDLength]))
		sb.WriteString(prefix[ShortIDLength:])
		sb.WriteString(text)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// StatsSummary renders a day's completed tasks and sessions.
func (p *Printer) StatsSummary(day string, completed []schema.CompletedTask, sessions []schema.WorkSession) string {
	var sb strings.Builder
	sb.WriteString(p.Header("Stats for "+day) + "\n\n")

	total := 0
	perTask := make(map[string]int)
	for _, s := range sessions {
		total += s.Duration
		perTask[s.TaskText] += s.Duration
	}
	fmt.Fprintf(&sb, "  Sessions:  %d (%s)\n", len(sessions), formatMinutes(total))
	fmt.Fprintf(&sb, "  Completed: %d\n", len(completed))

	if len(perTask) > 0 {
		sb.WriteString("\n" + p.Accent("  Focus time by task") + "\n")
		names := make([]string, 0, len(perTask))
		for name := range perTask {
			names = append(names, name)
		}
		sort.Slice(names, func(i, j int) bool {
			if perTask[names[i]] != perTask[names[j]] {
				return perTask[names[i]] > perTask[names[j]]
			}
			return names[i] < names[j]
		})
		for _, name := range names {
			fmt.Fprintf(&sb, "    %6s  %s\n", formatMinutes(perTask[name]), Truncate(name, p.width-14))
		}
	}

	if len(completed) > 0 {
		sb.WriteString("\n" + p.Accent("  Completed tasks") + "\n")
		for _, c := range completed {
			sb.WriteString("    " + p.Pass("✓") + " " + Truncate(c.Text, p.width-6) + "\n")
		}
	}
	return sb.String()
}

// StatusReport renders an orchestrator status.
func (p *Printer) StatusReport(st orchestrator.Status, endpoint string, now time.Time) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Sync:      %s\n", p.Badge(st.State))
	if endpoint == "" {
		endpoint = p.Muted("(not configured)")
	}
	fmt.Fprintf(&sb, "Endpoint:  %s\n", endpoint)
	fmt.Fprintf(&sb, "Last sync: %s\n", Since(st.LastSync, now))
	fmt.Fprintf(&sb, "Pending:   %d\n", st.Pending)
	if st.ServerVersion > 0 {
		fmt.Fprintf(&sb, "Server:    v%d\n", st.ServerVersion)
	}

	for _, name := range []string{orchestrator.PhaseTasks, orchestrator.PhaseStats, orchestrator.PhaseArchived} {
		ph, ok := st.Phases[name]
		if !ok {
			continue
		}
		switch {
		case ph.Failed():
			fmt.Fprintf(&sb, "  %-9s %s %s\n", name, p.Fail("failed"), ph.Error)
		case ph.Skipped != "":
			fmt.Fprintf(&sb, "  %-9s %s\n", name, p.Muted("skipped: "+ph.Skipped))
		default:
			fmt.Fprintf(&sb, "  %-9s %s +%d ~%d -%d\n", name, p.Pass("ok"), ph.Added, ph.Updated, ph.Removed)
		}
	}
	return sb.String()
}

func formatMinutes(m int) string {
	if m < 60 {
		return fmt.Sprintf("%dm", m)
	}
	return fmt.Sprintf("%dh%02dm", m/60, m%60)
}
