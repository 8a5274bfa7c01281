package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/starford/grandlibs/internal/ledger"
	"github.com/starford/grandlibs/internal/provision"
	"github.com/starford/grandlibs/internal/service"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// table lays out rows in left-aligned columns sized to their widest cell.
type table struct {
	header []string
	rows   [][]string
	styles [][]lipgloss.Style
}

func (t *table) add(style []lipgloss.Style, cells ...string) {
	t.rows = append(t.rows, cells)
	t.styles = append(t.styles, style)
}

func (t *table) String() string {
	widths := make([]int, len(t.header))
	for i, h := range t.header {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}

	var b strings.Builder
	line := func(cells []string, style func(i int) lipgloss.Style) {
		parts := make([]string, len(cells))
		for i, cell := range cells {
			parts[i] = style(i).Width(widths[i]).Render(cell)
		}
		b.WriteString(strings.TrimRight(strings.Join(parts, "  "), " "))
		b.WriteByte('\n')
	}
	line(t.header, func(int) lipgloss.Style { return headerStyle })
	for r, row := range t.rows {
		line(row, func(i int) lipgloss.Style {
			if i < len(t.styles[r]) {
				return t.styles[r][i]
			}
			return lipgloss.NewStyle()
		})
	}
	return b.String()
}

func short(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}

func yesNo(v bool) (string, lipgloss.Style) {
	if v {
		return "yes", okStyle
	}
	return "no", warnStyle
}

func renderStatus(libs []service.LibraryStatus) string {
	t := &table{header: []string{"LIBRARY", "PINNED", "INSTALLED", "UP TO DATE", "PATCHSET", "INSTALLED AT"}}
	for _, l := range libs {
		installed, at := "-", "-"
		if l.Installed != "" {
			installed = short(l.Installed)
		}
		if !l.InstalledAt.IsZero() {
			at = l.InstalledAt.Local().Format("2006-01-02 15:04")
		}
		upToDate, upStyle := yesNo(l.UpToDate)
		patchset, patchStyle := yesNo(l.PatchsetCurrent)
		plain := lipgloss.NewStyle()
		t.add([]lipgloss.Style{plain, dimStyle, plain, upStyle, patchStyle, dimStyle},
			l.Name, short(l.Pinned), installed, upToDate, patchset, at)
	}
	return t.String()
}

func renderInstall(results []*provision.Result) string {
	t := &table{header: []string{"LIBRARY", "REVISION", "ACTION", "ARTIFACT", "TIME"}}
	for _, r := range results {
		action, style := "built", okStyle
		if r.Skipped {
			action, style = "up to date", dimStyle
		}
		if n := len(r.Assets); n > 0 {
			action += fmt.Sprintf(" +%d assets", n)
		}
		plain := lipgloss.NewStyle()
		t.add([]lipgloss.Style{plain, dimStyle, style, plain, dimStyle},
			r.Library, short(r.Revision), action, r.Artifact, r.Duration.Round(time.Millisecond).String())
	}
	return t.String()
}

func renderHistory(entries []ledger.Entry) string {
	if len(entries) == 0 {
		return dimStyle.Render("no provisioning attempts recorded") + "\n"
	}
	t := &table{header: []string{"STARTED", "LIBRARY", "REVISION", "STATUS", "DURATION", "ERROR"}}
	for _, e := range entries {
		style := okStyle
		switch e.Status {
		case ledger.StatusFailed:
			style = errStyle
		case ledger.StatusSkipped:
			style = dimStyle
		}
		msg, _, _ := strings.Cut(e.Error, "\n")
		plain := lipgloss.NewStyle()
		t.add([]lipgloss.Style{dimStyle, plain, dimStyle, style, dimStyle, errStyle},
			e.StartedAt.Local().Format("2006-01-02 15:04:05"), e.Library, short(e.Revision),
			string(e.Status), e.Duration.Round(time.Millisecond).String(), msg)
	}
	return t.String()
}
