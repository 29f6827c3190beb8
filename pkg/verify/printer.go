package verify

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
)

const (
	heavyRule = "═══════════════════════════════════════════════════════════════════"
	lightRule = "─────────────────────────────────────────────────────────────────────"
)

// PrintReport writes the full report
func (r *Report) PrintReport(w io.Writer) {
	bold := color.New(color.Bold).SprintFunc()

	fmt.Fprintln(w)
	fmt.Fprintln(w, heavyRule)
	fmt.Fprintf(w, "  Verification Report: %s (%s)\n", bold(r.Environment), r.Region)
	fmt.Fprintln(w, heavyRule)
	fmt.Fprintf(w, "  Run ID:     %s\n", r.RunID)
	fmt.Fprintf(w, "  Checked At: %s\n", r.CheckedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "  Duration:   %s\n", r.Duration.Round(time.Millisecond))
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Overall Status: %s %s\n", statusIcon(r.OverallStatus), strings.ToUpper(string(r.OverallStatus)))
	fmt.Fprintln(w)

	fmt.Fprintln(w, lightRule)
	fmt.Fprintln(w, "  Summary")
	fmt.Fprintln(w, lightRule)
	fmt.Fprintf(w, "  Total Checks:    %d\n", r.Summary.TotalChecks)
	fmt.Fprintf(w, "  Passed:          %d\n", r.Summary.PassedChecks)
	fmt.Fprintf(w, "  Failed:          %d\n", r.Summary.FailedChecks)
	fmt.Fprintf(w, "  Errors:          %d\n", r.Summary.ErrorChecks)
	fmt.Fprintf(w, "  Skipped:         %d\n", r.Summary.SkippedChecks)
	fmt.Fprintln(w)

	fmt.Fprintln(w, lightRule)
	fmt.Fprintln(w, "  Detailed Checks")
	fmt.Fprintln(w, lightRule)
	fmt.Fprintln(w)

	suite := ""
	for _, check := range r.Checks {
		if check.Suite != suite {
			suite = check.Suite
			fmt.Fprintf(w, "  [%s]\n", bold(suite))
		}
		fmt.Fprintf(w, "  %s %s (%s)\n", statusIcon(check.Status), check.Name, check.Duration.Round(time.Millisecond))
		if check.Status != StatusPassed {
			fmt.Fprintf(w, "     Message: %s\n", check.Message)
		}
		for _, detail := range check.Details {
			fmt.Fprintf(w, "       - %s\n", detail)
		}
	}
	fmt.Fprintln(w)

	if len(r.Recommendations) > 0 {
		fmt.Fprintln(w, lightRule)
		fmt.Fprintln(w, "  Recommendations")
		fmt.Fprintln(w, lightRule)
		for i, rec := range r.Recommendations {
			fmt.Fprintf(w, "  %d. %s\n", i+1, rec)
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, heavyRule)
}

// PrintCompact writes a short summary listing only the failing checks
func (r *Report) PrintCompact(w io.Writer) {
	fmt.Fprintf(w, "\n%s %s/%s - %s\n", statusIcon(r.OverallStatus), r.Environment, r.Region, strings.ToUpper(string(r.OverallStatus)))
	fmt.Fprintf(w, "   Checks: %d total, %d passed, %d failed, %d errors, %d skipped\n",
		r.Summary.TotalChecks, r.Summary.PassedChecks, r.Summary.FailedChecks, r.Summary.ErrorChecks, r.Summary.SkippedChecks)

	for _, check := range r.Failures() {
		fmt.Fprintf(w, "   %s %s/%s: %s\n", statusIcon(check.Status), check.Suite, check.Name, check.Message)
	}
	fmt.Fprintln(w)
}

func statusIcon(status CheckStatus) string {
	switch status {
	case StatusPassed:
		return color.GreenString("[OK]")
	case StatusFailed:
		return color.RedString("[FAIL]")
	case StatusError:
		return color.MagentaString("[ERR]")
	case StatusSkipped:
		return color.YellowString("[SKIP]")
	default:
		return "[?]"
	}
}
