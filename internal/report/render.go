// Package report renders run reports and publishes them to sinks.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"

	"specsync/pkg/domain"
)

// Supported render formats.
const (
	FormatMarkdown = "markdown"
	FormatJSON     = "json"
)

// Render writes r to w in the given format.
func Render(w io.Writer, r domain.Report, format string) error {
	var (
		out []byte
		err error
	)
	switch format {
	case FormatJSON:
		out, err = JSON(r)
		if err != nil {
			return err
		}
		out = append(out, '\n')
	case FormatMarkdown, "":
		out = []byte(Markdown(r))
	default:
		return fmt.Errorf("unknown report format %s", format)
	}
	_, err = w.Write(out)
	return err
}

// JSON encodes the report with error strings filled in from Err.
func JSON(r domain.Report) ([]byte, error) {
	return json.MarshalIndent(withErrors(r), "", "  ")
}

func withErrors(r domain.Report) domain.Report {
	out := r
	out.Domains = make([]domain.DomainReport, len(r.Domains))
	for i, d := range r.Domains {
		if d.Err != nil && d.Error == "" {
			d.Error = d.Err.Error()
		}
		out.Domains[i] = d
	}
	return out
}

var summaryHeader = []string{
	"Domain", "Version", "Written", "Added", "Refreshed", "Unchanged",
	"Stale", "Retired", "Archived", "Conflicted", "Quarantined", "Warnings", "Error",
}

// Markdown renders a summary table and the persisted record totals, followed by
// quarantine, conflict and warning details.
func Markdown(r domain.Report) string {
	r = withErrors(r)
	var b strings.Builder
	fmt.Fprintf(&b, "# specsync run %s\n\n", r.RunID)
	if !r.StartedAt.IsZero() {
		fmt.Fprintf(&b, "Started %s, took %s.\n\n", r.StartedAt.UTC().Format("2006-01-02T15:04:05Z"), r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	}

	rows := make([][]string, 0, len(r.Domains))
	for _, d := range r.Domains {
		version := strconv.FormatInt(d.Version, 10)
		if d.Written && d.PriorVersion != d.Version {
			version = fmt.Sprintf("%d -> %d", d.PriorVersion, d.Version)
		}
		rows = append(rows, []string{
			string(d.Domain),
			version,
			yesNo(d.Written),
			strconv.Itoa(len(d.Added)),
			strconv.Itoa(len(d.Refreshed)),
			strconv.Itoa(len(d.Unchanged)),
			strconv.Itoa(len(d.Stale)),
			strconv.Itoa(len(d.Retired)),
			strconv.Itoa(len(d.Archived)),
			strconv.Itoa(len(d.Conflicted)),
			strconv.Itoa(len(d.Quarantined)),
			strconv.Itoa(len(d.Warnings)),
			cell(d.Error),
		})
	}
	writeTable(&b, summaryHeader, rows)

	if len(r.Domains) > 0 {
		totals := make([][]string, 0, len(r.Domains))
		for _, d := range r.Domains {
			totals = append(totals, []string{
				string(d.Domain),
				strconv.Itoa(d.Totals.Active),
				strconv.Itoa(d.Totals.Stale),
				strconv.Itoa(d.Totals.Archived),
				strconv.Itoa(d.Totals.Total()),
			})
		}
		b.WriteString("\n## Records\n\n")
		writeTable(&b, []string{"Domain", "Active", "Stale", "Archived", "Total"}, totals)
	}

	var quarantined, conflicts, warnings [][]string
	for _, d := range r.Domains {
		for _, q := range d.Quarantined {
			detail := q.Detail
			if len(q.Cycle) > 0 {
				detail = strings.Join(q.Cycle, " -> ")
			}
			quarantined = append(quarantined, []string{string(d.Domain), cell(q.ID), string(q.Reason), cell(q.Field), cell(detail)})
		}
		for _, c := range d.Conflicted {
			conflicts = append(conflicts, []string{string(d.Domain), cell(c.ID), c.Field})
		}
		for _, w := range d.Warnings {
			warnings = append(warnings, []string{string(d.Domain), cell(w.ID), w.Field, cell(w.Detail)})
		}
	}
	if len(quarantined) > 0 {
		b.WriteString("\n## Quarantined\n\n")
		writeTable(&b, []string{"Domain", "ID", "Reason", "Field", "Detail"}, quarantined)
	}
	if len(conflicts) > 0 {
		b.WriteString("\n## Curator conflicts\n\n")
		writeTable(&b, []string{"Domain", "ID", "Field"}, conflicts)
	}
	if len(warnings) > 0 {
		b.WriteString("\n## Warnings\n\n")
		writeTable(&b, []string{"Domain", "ID", "Field", "Detail"}, warnings)
	}
	return b.String()
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

// cell escapes pipes and newlines so a value stays inside its column.
func cell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.Join(strings.Fields(s), " ")
}

// writeTable pads every column to its widest display width.
func writeTable(b *strings.Builder, header []string, rows [][]string) {
	widths := make([]int, len(header))
	measure := func(row []string) {
		for i := 0; i < len(row) && i < len(widths); i++ {
			if w := runewidth.StringWidth(row[i]); w > widths[i] {
				widths[i] = w
			}
		}
	}
	measure(header)
	for _, row := range rows {
		measure(row)
	}
	// Ensure min width for separator
	for i := range widths {
		if widths[i] < 3 {
			widths[i] = 3
		}
	}

	writeRow := func(row []string, separator bool) {
		b.WriteString("|")
		for j := range widths {
			b.WriteString(" ")
			if separator {
				b.WriteString(strings.Repeat("-", widths[j]))
			} else {
				content := ""
				if j < len(row) {
					content = row[j]
				}
				b.WriteString(content)
				if padding := widths[j] - runewidth.StringWidth(content); padding > 0 {
					b.WriteString(strings.Repeat(" ", padding))
				}
			}
			b.WriteString(" |")
		}
		b.WriteString("\n")
	}
	writeRow(header, false)
	writeRow(nil, true)
	for _, row := range rows {
		writeRow(row, false)
	}
}
