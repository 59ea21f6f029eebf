package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"sqlrestore/internal/logger"
	"sqlrestore/internal/plan"
)

// Color palette shared with the rest of the tool: semantic colors,
// plain [OK]/[FAIL]/[SKIP] prefixes, no emoticons.
var (
	frameStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("6"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244"))
)

// WriteJSON streams results as one JSON array.
func WriteJSON(w io.Writer, results []RestoreResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}

// WriteSkip prints the [SKIP] badge for a database that produced no
// restore results: skipped databases attempt nothing, so the skip
// notice travels outside the result list.
func WriteSkip(w io.Writer, database, reason string) {
	logger.WarnColor.Fprint(w, "[SKIP] ")
	fmt.Fprintf(w, "%s: %s\n", database, reason)
}

// WriteBadges prints one [OK]/[FAIL] line per result.
func WriteBadges(w io.Writer, results []RestoreResult) {
	for _, r := range results {
		switch {
		case r.Success:
			logger.SuccessColor.Fprint(w, "[OK]   ")
			fmt.Fprintf(w, "%s %s %s (%s)\n", r.Database, strings.ToUpper(r.Action), r.BackupFiles, r.RestoreTime)
		default:
			logger.ErrorColor.Fprint(w, "[FAIL] ")
			fmt.Fprintf(w, "%s %s %s: %s\n", r.Database, strings.ToUpper(r.Action), r.BackupFiles, r.Error)
		}
	}
}

// WriteTable renders results as a framed table.
func WriteTable(w io.Writer, results []RestoreResult) {
	if len(results) == 0 {
		fmt.Fprintln(w, dimStyle.Render("no restore results"))
		return
	}

	headers := []string{"Database", "Action", "Files", "Size", "Target", "Elapsed", "Status"}
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		status := "OK"
		if !r.Success {
			status = "FAIL"
		}
		rows = append(rows, []string{
			truncate(r.Database, 24),
			r.Action,
			truncate(r.BackupFiles, 40),
			r.BackupSize,
			truncate(r.RestoreTargetTime, 24),
			r.RestoreTime,
			status,
		})
	}
	fmt.Fprintln(w, frameStyle.Render(renderColumns(headers, rows)))
}

// PlanTable renders a restore plan before execution: one row per step.
func PlanTable(w io.Writer, steps []plan.Step) {
	if len(steps) == 0 {
		fmt.Fprintln(w, dimStyle.Render("empty plan"))
		return
	}

	headers := []string{"#", "Database", "Action", "Files", "First LSN", "Recovery", "Stop"}
	rows := make([][]string, 0, len(steps))
	for i := range steps {
		s := &steps[i]
		recovery := "RECOVERY"
		switch {
		case s.StandbyFile != "":
			recovery = "STANDBY"
		case s.NoRecovery:
			recovery = "NORECOVERY"
		}
		stop := targetTime(s)
		rows = append(rows, []string{
			fmt.Sprintf("%d", i+1),
			truncate(s.Database, 24),
			s.Action.String(),
			truncate(leafNames(s.Files), 40),
			s.FirstLSN.String(),
			recovery,
			truncate(stop, 24),
		})
	}
	fmt.Fprintln(w, frameStyle.Render(renderColumns(headers, rows)))
}

// renderColumns lays out left-aligned columns sized to their content.
func renderColumns(headers []string, rows [][]string) string {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = runewidth.StringWidth(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if w := runewidth.StringWidth(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	var b strings.Builder
	for i, h := range headers {
		if i > 0 {
			b.WriteString("  ")
		}
		b.WriteString(headerStyle.Render(runewidth.FillRight(h, widths[i])))
	}
	for _, row := range rows {
		b.WriteString("\n")
		for i, cell := range row {
			if i > 0 {
				b.WriteString("  ")
			}
			b.WriteString(runewidth.FillRight(cell, widths[i]))
		}
	}
	return b.String()
}

// truncate shortens a cell with an ellipsis, multibyte-safe.
func truncate(s string, width int) string {
	if runewidth.StringWidth(s) <= width {
		return s
	}
	return runewidth.Truncate(s, width, "...")
}
