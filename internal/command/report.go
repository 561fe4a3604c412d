package command

import (
	"fmt"
	"io"
	"os"
	"strings"

	"charm.land/lipgloss/v2"
	"github.com/rivo/uniseg"
	"golang.org/x/term"

	"github.com/joeycumines/cardrunner/internal/runner"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	countStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	whereStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
)

// useColor applies the "color" option: always, never, or auto, which styles
// output only when w is a terminal.
func useColor(mode string, w io.Writer) bool {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "always":
		return true
	case "never":
		return false
	}
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// location names where a record came from: "page.handler:line", or
// "page.object.handler:line" for objects.
func location(rec runner.ErrorRecord) string {
	where := rec.Page
	if rec.Object != "" && rec.Object != rec.Page {
		where += "." + rec.Object
	}
	return fmt.Sprintf("%s.%s:%d", where, rec.Handler, rec.Line)
}

// pad right-pads s to width terminal cells.
func pad(s string, width int) string {
	if n := uniseg.StringWidth(s); n < width {
		return s + strings.Repeat(" ", width-n)
	}
	return s
}

// writeReport prints records as a table of count, location and message.
func writeReport(w io.Writer, records []runner.ErrorRecord, styled bool) {
	if len(records) == 0 {
		return
	}
	rows := [][3]string{{"COUNT", "WHERE", "MESSAGE"}}
	for _, rec := range records {
		rows = append(rows, [3]string{fmt.Sprintf("x%d", rec.Count), location(rec), rec.Message})
	}
	var widths [2]int
	for _, row := range rows {
		for i := range widths {
			widths[i] = max(widths[i], uniseg.StringWidth(row[i]))
		}
	}

	render := func(style lipgloss.Style, s string) string {
		if !styled {
			return s
		}
		return style.Render(s)
	}
	fmt.Fprintf(w, "%d distinct error(s):\n", len(records))
	for i, row := range rows {
		count, where, msg := pad(row[0], widths[0]), pad(row[1], widths[1]), row[2]
		if i == 0 {
			fmt.Fprintf(w, "  %s  %s  %s\n", render(headerStyle, count), render(headerStyle, where), render(headerStyle, msg))
			continue
		}
		fmt.Fprintf(w, "  %s  %s  %s\n", render(countStyle, count), render(whereStyle, where), msg)
	}
}
