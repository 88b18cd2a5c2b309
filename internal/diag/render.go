package diag

import (
	"fmt"
	"io"

	"mlc/internal/source"
)

// Render writes a terminal report for the diagnostics of one unit. The
// presenter only reads the diagnostic model, never stage internals, so it
// works for any mix of stages.
func Render(w io.Writer, unit *source.Unit, diags List) {
	for _, d := range diags {
		fmt.Fprintf(w, "%s: %s [%s/%s] %s\n", d.Location, d.Severity, d.Stage, d.Code, d.Message)
		if unit != nil && d.Location.Unit == unit.Path {
			if line := unit.Line(d.Location.Span.Start.Line); line != "" {
				fmt.Fprintf(w, "  | %s\n", line)
				caret := d.Location.Span.Start.Column
				if caret < 1 {
					caret = 1
				}
				fmt.Fprintf(w, "  | %*s\n", caret, "^")
			}
		}
		if d.SuggestedFix != "" {
			fmt.Fprintf(w, "  fix: %s\n", d.SuggestedFix)
		}
	}
	errs := diags.CountSeverity(Error)
	crits := diags.CountSeverity(Critical)
	warns := diags.CountSeverity(Warning)
	if errs+crits+warns > 0 {
		fmt.Fprintf(w, "%d critical, %d errors, %d warnings\n", crits, errs, warns)
	}
}
