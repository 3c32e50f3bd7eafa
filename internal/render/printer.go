package render

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/itsmostafa/runpad/internal/session"
)

type styles struct {
	// gutter for line numbers
	gutter lipgloss.Style

	// source for the script text
	source lipgloss.Style

	log    lipgloss.Style
	info   lipgloss.Style
	warn   lipgloss.Style
	err    lipgloss.Style
	ret    lipgloss.Style
	dim    lipgloss.Style
	ok     lipgloss.Style
	header lipgloss.Style
	box    lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		gutter: r.NewStyle().Foreground(lipgloss.Color("240")),
		source: r.NewStyle().Foreground(lipgloss.Color("252")),
		log:    r.NewStyle().Foreground(lipgloss.Color("255")),
		info:   r.NewStyle().Foreground(lipgloss.Color("81")),
		warn:   r.NewStyle().Foreground(lipgloss.Color("220")),
		err:    r.NewStyle().Foreground(lipgloss.Color("196")),
		ret:    r.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
		dim:    r.NewStyle().Foreground(lipgloss.Color("240")),
		ok:     r.NewStyle().Foreground(lipgloss.Color("42")),
		header: r.NewStyle().Bold(true).Foreground(lipgloss.Color("160")),
		box: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("160")).
			Padding(0, 1),
	}
}

var markers = map[string]string{
	"log":      "›",
	"info":     "ℹ",
	"warn":     "⚠",
	"error":    "✖",
	KindReturn: "➜",
}

// Printer writes styled output to one writer. Colors are only emitted when
// the writer is a color-capable terminal.
type Printer struct {
	w io.Writer
	s styles
}

// NewPrinter creates a printer for w.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w, s: newStyles(lipgloss.NewRenderer(w))}
}

func (p *Printer) style(kind string) lipgloss.Style {
	switch kind {
	case "info":
		return p.s.info
	case "warn":
		return p.s.warn
	case "error":
		return p.s.err
	case KindReturn:
		return p.s.ret
	default:
		return p.s.log
	}
}

// Inline prints source with every entry directly under the line it belongs
// to. Entries without a usable line are printed after the source.
func (p *Printer) Inline(source string, entries []Entry) {
	lines := strings.Split(strings.TrimRight(source, "\n"), "\n")
	grouped := byLine(entries, len(lines))
	width := len(fmt.Sprint(len(lines)))

	for i, text := range lines {
		n := i + 1
		fmt.Fprintf(p.w, "%s %s\n",
			p.s.gutter.Render(fmt.Sprintf("%*d │", width, n)),
			p.s.source.Render(text))
		for _, e := range grouped[n] {
			p.entry(width, e)
		}
	}
	if rest := grouped[0]; len(rest) > 0 {
		fmt.Fprintln(p.w, p.s.dim.Render(strings.Repeat("─", width+2)))
		for _, e := range rest {
			p.entry(width, e)
		}
	}
}

// Transcript prints entries without source, one per line with its line
// number. Used when the source is not at hand.
func (p *Printer) Transcript(entries []Entry) {
	for _, e := range entries {
		loc := "   -"
		if e.Line > 0 {
			loc = fmt.Sprintf("%4d", e.Line)
		}
		fmt.Fprintf(p.w, "%s %s %s\n", p.s.gutter.Render(loc), p.marker(e.Kind), p.style(e.Kind).Render(e.Text()))
	}
}

func (p *Printer) entry(width int, e Entry) {
	pad := strings.Repeat(" ", width) + "   "
	text := strings.ReplaceAll(e.Text(), "\n", "\n"+pad+"  ")
	fmt.Fprintf(p.w, "%s%s %s\n", pad, p.marker(e.Kind), p.style(e.Kind).Render(text))
}

func (p *Printer) marker(kind string) string {
	m, ok := markers[kind]
	if !ok {
		m = markers["log"]
	}
	return p.style(kind).Render(m)
}

// Clear wipes the terminal before a fresh run.
func (p *Printer) Clear() {
	fmt.Fprint(p.w, "\x1b[H\x1b[2J")
}

// Header prints a boxed title with dim metadata lines.
func (p *Printer) Header(title string, meta ...string) {
	content := p.s.header.Render(title)
	for _, m := range meta {
		content += "\n" + p.s.dim.Render(m)
	}
	fmt.Fprintln(p.w, p.s.box.Render(content))
}

// Packages prints an installed package listing, sorted by name.
func (p *Printer) Packages(pkgs map[string]string) {
	if len(pkgs) == 0 {
		fmt.Fprintln(p.w, p.s.dim.Render("No packages installed"))
		return
	}
	names := make([]string, 0, len(pkgs))
	for name := range pkgs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(p.w, "%s %s\n", name, p.s.dim.Render(pkgs[name]))
	}
}

// Package prints the outcome of an install or uninstall.
func (p *Printer) Package(verb, name string, resp session.PackageResponse) {
	if resp.Success {
		fmt.Fprintf(p.w, "%s %s %s\n", p.s.ok.Render("✔"), verb, name)
		return
	}
	fmt.Fprintf(p.w, "%s %s %s failed\n%s\n", p.s.err.Render("✖"), verb, name, resp.Error)
}

// Status prints a one-line run summary.
func (p *Printer) Status(resp session.RunResponse) {
	switch {
	case resp.Superseded:
		fmt.Fprintln(p.w, p.s.dim.Render("superseded"))
	case resp.Success:
		fmt.Fprintln(p.w, p.s.ok.Render("✔ done"))
	default:
		fmt.Fprintln(p.w, p.s.err.Render("✖ failed"))
	}
}
