package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/roach88/mcpcheck/internal/compliance"
)

// Status colors.
var (
	colorPass  = lipgloss.Color("#00D26A")
	colorFail  = lipgloss.Color("#FF3838")
	colorSkip  = lipgloss.Color("#FFB800")
	colorMuted = lipgloss.Color("#6B7280")
)

// styles renders report text. The zero-property styles used without color
// pass strings through unchanged.
type styles struct {
	pass    lipgloss.Style
	fail    lipgloss.Style
	skip    lipgloss.Style
	heading lipgloss.Style
	muted   lipgloss.Style
}

func newStyles(color bool) styles {
	if !color {
		plain := lipgloss.NewStyle()
		return styles{pass: plain, fail: plain, skip: plain, heading: plain, muted: plain}
	}
	return styles{
		pass:    lipgloss.NewStyle().Foreground(colorPass).Bold(true),
		fail:    lipgloss.NewStyle().Foreground(colorFail).Bold(true),
		skip:    lipgloss.NewStyle().Foreground(colorSkip),
		heading: lipgloss.NewStyle().Bold(true).Underline(true),
		muted:   lipgloss.NewStyle().Foreground(colorMuted),
	}
}

// useColor reports whether w is a terminal and color was not turned off
// with --no-color or NO_COLOR.
func useColor(opts *RootOptions, w io.Writer) bool {
	if opts.NoColor || os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

var titleCaser = cases.Title(language.English)

// categoryTitle turns "error_handling" into "Error Handling".
func categoryTitle(c compliance.Category) string {
	if c == compliance.CategoryJSONRPC {
		return "JSON-RPC"
	}
	return titleCaser.String(strings.ReplaceAll(string(c), "_", " "))
}

// runReport is the output of the run and history commands: one suite
// result, or several from a multi-server run.
type runReport struct {
	results []*compliance.SuiteResult
	styles  styles
}

// MarshalJSON emits a single result as an object and several as an array.
func (r runReport) MarshalJSON() ([]byte, error) {
	if len(r.results) == 1 {
		return json.Marshal(r.results[0])
	}
	return json.Marshal(r.results)
}

func (r runReport) RenderText(w io.Writer) error {
	for i, res := range r.results {
		if i > 0 {
			fmt.Fprintln(w)
		}
		renderSuite(w, res, r.styles)
	}
	return nil
}

func (r runReport) failed() int {
	n := 0
	for _, res := range r.results {
		n += res.Failed
	}
	return n
}

func renderSuite(w io.Writer, res *compliance.SuiteResult, st styles) {
	fmt.Fprintf(w, "%s: %s %s\n", res.Name, res.Server, st.muted.Render("(run "+res.RunID+")"))

	byCat := res.ByCategory()
	for _, cat := range compliance.Categories {
		tests := byCat[cat]
		if len(tests) == 0 {
			continue
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, st.heading.Render(categoryTitle(cat)))
		for _, tc := range tests {
			renderCase(w, tc, st)
		}
	}

	fmt.Fprintln(w)
	summary := fmt.Sprintf("%d passed, %d failed, %d skipped in %dms",
		res.Passed, res.Failed, res.Skipped, res.DurationMs)
	if res.OK() {
		fmt.Fprintln(w, st.pass.Render(summary))
	} else {
		fmt.Fprintln(w, st.fail.Render(summary))
	}
}

func renderCase(w io.Writer, tc compliance.TestCase, st styles) {
	elapsed := st.muted.Render(fmt.Sprintf("(%dms)", tc.DurationMs))
	switch tc.Status {
	case compliance.StatusPassed:
		fmt.Fprintf(w, "  %s %s %s\n", st.pass.Render("✓"), tc.Name, elapsed)
	case compliance.StatusSkipped:
		fmt.Fprintf(w, "  %s %s %s\n", st.skip.Render("-"), tc.Name, st.skip.Render("skipped: "+tc.Error))
	default:
		fmt.Fprintf(w, "  %s %s %s\n", st.fail.Render("✗"), tc.Name, elapsed)
		fmt.Fprintf(w, "      %s\n", st.fail.Render(tc.Error))
		if tc.Detail != "" {
			for _, line := range strings.Split(strings.TrimRight(tc.Detail, "\n"), "\n") {
				fmt.Fprintf(w, "      %s\n", st.muted.Render(line))
			}
		}
	}
}
