package render

import (
	"fmt"
	"strings"

	humanize "github.com/dustin/go-humanize"

	"github.com/ALT-F4-LLC/litepool/internal/stress"
)

// StressMarkdown formats a stress result as a markdown report.
func StressMarkdown(res *stress.Result) string {
	var b strings.Builder

	verdict := "PASS"
	if !res.OK() {
		verdict = "FAIL"
	}
	fmt.Fprintf(&b, "# Stress run %s\n\n", verdict)
	fmt.Fprintf(&b, "Run `%s` finished in %s.\n\n", res.RunID, res.Elapsed.Round(1e6))

	b.WriteString("| Table | Rows | Expected | |\n|---|---:|---:|---|\n")
	for _, t := range res.Tables {
		mark := "ok"
		if !t.OK() {
			mark = "**mismatch**"
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", t.Name, humanize.Comma(int64(t.Rows)), humanize.Comma(int64(t.Expected)), mark)
	}

	b.WriteString("\n")
	fmt.Fprintf(&b, "- Reads: %s\n", humanize.Comma(res.Reads))
	fmt.Fprintf(&b, "- Writes: %s in %s transactions\n", humanize.Comma(res.Writes), humanize.Comma(res.Transactions))
	fmt.Fprintf(&b, "- Peak concurrent readers: %d\n", res.MaxReaders)
	if secs := res.Elapsed.Seconds(); secs > 0 {
		ops := float64(res.Reads+res.Writes) / secs
		fmt.Fprintf(&b, "- Throughput: %s ops/s\n", humanize.CommafWithDigits(ops, 0))
	}
	fmt.Fprintf(&b, "- Serialization violations: %d\n", res.Violations)

	return b.String()
}

// RenderStressReport renders the stress report for the terminal.
func RenderStressReport(res *stress.Result) (string, error) {
	return RenderMarkdown(StressMarkdown(res))
}
