// Package termview renders a calendar month for the terminal.
package termview

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"sevcal/internal/index"
	"sevcal/internal/model"
)

const cellWidth = 6

// View holds the styles of one output stream.
type View struct {
	weekStart time.Weekday
	today     string

	header   lipgloss.Style
	empty    lipgloss.Style
	day      lipgloss.Style
	todayS   lipgloss.Style
	blackout lipgloss.Style
	confirm  lipgloss.Style
	vendor   lipgloss.Style
	perform  lipgloss.Style
	legend   lipgloss.Style
}

// New builds a View for w. Colors are dropped when w is not a terminal.
func New(w io.Writer, weekStart time.Weekday, today time.Time, s model.Settings) *View {
	r := lipgloss.NewRenderer(w)
	return &View{
		weekStart: weekStart,
		today:     today.Format(time.DateOnly),
		header:    r.NewStyle().Foreground(lipgloss.Color("241")).Bold(true),
		empty:     r.NewStyle().Foreground(lipgloss.Color("244")),
		day:       r.NewStyle().Foreground(lipgloss.Color("15")),
		todayS:    r.NewStyle().Underline(true),
		blackout:  r.NewStyle().Foreground(lipgloss.Color("9")),
		confirm:   r.NewStyle().Bold(true),
		vendor:    r.NewStyle().Foreground(lipgloss.Color(s.VendorColor)),
		perform:   r.NewStyle().Foreground(lipgloss.Color(s.PerformerColor)),
		legend:    r.NewStyle().Italic(true).Foreground(lipgloss.Color("241")),
	}
}

// ParseWeekStart maps the config value onto a weekday. Anything but
// "sunday" starts the week on Monday.
func ParseWeekStart(s string) time.Weekday {
	if strings.EqualFold(s, "sunday") {
		return time.Sunday
	}
	return time.Monday
}

// Month renders the grid of one month followed by the entries placed in it.
func (v *View) Month(year int, month time.Month, idx *index.Index, s model.Settings) string {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1)

	var b strings.Builder
	b.WriteString(v.header.Render(first.Format("January 2006")))
	b.WriteString("\n")

	for i := 0; i < 7; i++ {
		wd := time.Weekday((int(v.weekStart) + i) % 7)
		b.WriteString(v.header.Render(pad(wd.String()[:2], cellWidth)))
	}
	b.WriteString("\n")

	offset := (int(first.Weekday()) - int(v.weekStart) + 7) % 7
	for i := 0; i < offset; i++ {
		b.WriteString(v.empty.Render(pad("", cellWidth)))
	}
	col := offset
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		b.WriteString(v.cell(d, idx))
		col++
		if col == 7 {
			b.WriteString("\n")
			col = 0
		}
	}
	if col != 0 {
		b.WriteString("\n")
	}

	b.WriteString(v.legend.Render("x blackout  * confirmed  n entries"))
	b.WriteString("\n")

	from, to := first.Format(time.DateOnly), last.Format(time.DateOnly)
	for _, date := range idx.Range(from, to) {
		for _, e := range idx.On(date) {
			b.WriteString(v.entryLine(date, e, s))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func (v *View) cell(d time.Time, idx *index.Index) string {
	date := d.Format(time.DateOnly)
	entries := idx.On(date)

	marker := ""
	switch {
	case idx.IsBlackout(date):
		marker = "x"
	case hasConfirmed(entries):
		marker = "*"
	case len(entries) > 0:
		marker = fmt.Sprint(len(entries))
	}
	text := pad(fmt.Sprintf("%2d%s", d.Day(), marker), cellWidth)

	style := v.day
	switch {
	case idx.IsBlackout(date):
		style = v.blackout
	case hasConfirmed(entries):
		style = v.confirm
	}
	if date == v.today {
		style = style.Inherit(v.todayS)
	}
	return style.Render(text)
}

func (v *View) entryLine(date string, e index.Entry, s model.Settings) string {
	var roles []string
	if e.Entry.VendorActive() {
		roles = append(roles, v.vendor.Render(s.VendorLabel+": "+string(e.Entry.StatusVendor)))
	}
	if e.Entry.PerformerActive() {
		roles = append(roles, v.perform.Render(s.PerformerLabel+": "+string(e.Entry.StatusPerformer)))
	}
	title := e.Title
	if title == "" {
		title = "(untitled)"
	}
	return fmt.Sprintf("%s  %s  %s", date, title, strings.Join(roles, ", "))
}

func hasConfirmed(entries []index.Entry) bool {
	for _, e := range entries {
		if e.Entry.HasConfirmed() {
			return true
		}
	}
	return false
}

func pad(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}
