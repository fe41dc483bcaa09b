// Package report renders human-facing summaries of every command on an
// io.Writer, usually stdout. Colour is only emitted when the writer is a
// terminal.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"

	"github.com/tordrt/seedkit/internal/coverage"
	"github.com/tordrt/seedkit/internal/enumerate"
	"github.com/tordrt/seedkit/internal/generate"
	"github.com/tordrt/seedkit/internal/importer"
	"github.com/tordrt/seedkit/internal/schema"
	"github.com/tordrt/seedkit/internal/supabase"
	"github.com/tordrt/seedkit/internal/tts"
)

type styles struct {
	title  lipgloss.Style
	ok     lipgloss.Style
	warn   lipgloss.Style
	bad    lipgloss.Style
	muted  lipgloss.Style
	header lipgloss.Style
	cell   lipgloss.Style
	border lipgloss.Style
}

// Printer writes report sections. Write errors are sticky: after the first
// one nothing else is written and Err returns it.
type Printer struct {
	w      io.Writer
	styles styles
	err    error
}

// New returns a Printer whose styles are bound to w's terminal profile.
func New(w io.Writer) *Printer {
	r := lipgloss.NewRenderer(w)
	return &Printer{
		w: w,
		styles: styles{
			title:  r.NewStyle().Bold(true).Underline(true),
			ok:     r.NewStyle().Foreground(lipgloss.Color("2")),
			warn:   r.NewStyle().Foreground(lipgloss.Color("3")),
			bad:    r.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
			muted:  r.NewStyle().Foreground(lipgloss.Color("8")),
			header: r.NewStyle().Bold(true).Padding(0, 1),
			cell:   r.NewStyle().Padding(0, 1),
			border: r.NewStyle().Foreground(lipgloss.Color("8")),
		},
	}
}

func (p *Printer) Err() error { return p.err }

func (p *Printer) printf(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}

func (p *Printer) println(s string) {
	p.printf("%s\n", s)
}

// Title prints a section heading preceded by a blank line.
func (p *Printer) Title(s string) {
	p.printf("\n%s\n", p.styles.title.Render(s))
}

// Line prints one plain line.
func (p *Printer) Line(format string, args ...any) {
	p.printf(format+"\n", args...)
}

func (p *Printer) table(headers []string, rows [][]string) {
	if len(rows) == 0 {
		p.println(p.styles.muted.Render("  (none)"))
		return
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(p.styles.border).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return p.styles.header
			}
			return p.styles.cell
		})
	p.println(t.String())
}

// Coverage describes one expected-versus-present comparison.
type Coverage struct {
	// Expected and Present label the scanned columns, e.g. "practice_problems.rule_id".
	Expected     string
	Present      string
	ExpectedScan enumerate.Result
	PresentScan  enumerate.Result
	Result       coverage.Result
	// ShowPresent also lists every covered key.
	ShowPresent bool
}

func (p *Printer) Coverage(c Coverage) {
	res := c.Result
	p.Title("Coverage: " + c.Expected + " -> " + c.Present)
	p.Line("  Expected:  %s (%s rows scanned, %s pages)", humanize.Comma(int64(res.TotalExpected)),
		humanize.Comma(int64(c.ExpectedScan.Rows)), humanize.Comma(int64(c.ExpectedScan.Pages)))
	p.Line("  Present:   %s distinct in %s (%s rows scanned)", humanize.Comma(int64(c.PresentScan.Keys.Len())),
		c.Present, humanize.Comma(int64(c.PresentScan.Rows)))
	p.Line("  Covered:   %s", humanize.Comma(int64(res.Covered.Len())))
	p.Line("  Missing:   %s", humanize.Comma(int64(res.Missing.Len())))

	pct := fmt.Sprintf("%d%%", res.Percentage)
	switch {
	case res.TotalExpected == 0:
		p.Line("  Coverage:  %s", p.styles.muted.Render(pct+" (nothing expected)"))
	case res.Complete():
		p.Line("  Coverage:  %s", p.styles.ok.Render(pct))
	default:
		p.Line("  Coverage:  %s", p.styles.warn.Render(pct))
	}

	p.scanNote(c.Expected, c.ExpectedScan)
	p.scanNote(c.Present, c.PresentScan)

	if res.Missing.Len() > 0 {
		p.Title(fmt.Sprintf("Missing (%d)", res.Missing.Len()))
		for _, k := range res.Missing.Sorted() {
			p.Line("  - %s", k)
		}
	} else if res.TotalExpected > 0 {
		p.println(p.styles.ok.Render("  Every expected key is present."))
	}

	if c.ShowPresent && res.Covered.Len() > 0 {
		p.Title(fmt.Sprintf("Present (%d)", res.Covered.Len()))
		for _, k := range res.Covered.Sorted() {
			p.Line("  + %s", k)
		}
	}
}

// scanNote flags scans whose key set may be short.
func (p *Printer) scanNote(label string, r enumerate.Result) {
	if r.Truncated {
		p.println(p.styles.warn.Render(fmt.Sprintf("  note: %s scan stopped at the row cap after %s rows; results may be incomplete",
			label, humanize.Comma(int64(r.Rows)))))
	}
	if r.Err != nil {
		p.println(p.styles.bad.Render(fmt.Sprintf("  note: %s scan failed after %s rows: %v", label, humanize.Comma(int64(r.Rows)), r.Err)))
	}
}

// Count is one row of a counts table. Err replaces the number when set.
type Count struct {
	Table  string
	Filter string
	Rows   int64
	Err    error
}

func (p *Printer) Counts(title string, counts []Count) {
	p.Title(title)
	rows := make([][]string, 0, len(counts))
	var total int64
	for _, c := range counts {
		n := humanize.Comma(c.Rows)
		if c.Err != nil {
			n = p.styles.bad.Render("error: " + c.Err.Error())
		} else {
			total += c.Rows
		}
		rows = append(rows, []string{c.Table, c.Filter, n})
	}
	p.table([]string{"Table", "Filter", "Rows"}, rows)
	if len(counts) > 1 {
		p.Line("  Total: %s", humanize.Comma(total))
	}
}

// Import is the outcome of importing one file.
type Import struct {
	Name   string
	File   string
	Result importer.Result
	// Sidecar is where unimported items were written, if anywhere.
	Sidecar      string
	SidecarItems int
	// Err is set when the file could not be read or imported at all.
	Err error
}

func (p *Printer) Imports(imports []Import) {
	p.Title("Import")
	rows := make([][]string, 0, len(imports))
	var total, imported, skipped, failed int
	for _, im := range imports {
		r := im.Result
		status := p.styles.ok.Render("ok")
		switch {
		case im.Err != nil:
			status = p.styles.bad.Render("error")
		case !r.OK():
			status = p.styles.warn.Render("partial")
		}
		rows = append(rows, []string{
			im.Name,
			r.Table,
			humanize.Comma(int64(r.Total)),
			humanize.Comma(int64(r.Imported)),
			humanize.Comma(int64(r.Skipped)),
			humanize.Comma(int64(len(r.Rejected))),
			humanize.Comma(int64(len(r.Failures))),
			status,
		})
		total += r.Total
		imported += r.Imported
		skipped += r.Skipped
		failed += r.FailedItems() + len(r.Rejected)
	}
	p.table([]string{"Name", "Table", "Items", "Imported", "Skipped", "Rejected", "Failed batches", "Status"}, rows)
	p.Line("  Imported %s of %s items", humanize.Comma(int64(imported)), humanize.Comma(int64(total)))
	if skipped > 0 {
		p.Line("  Skipped %s items already present", humanize.Comma(int64(skipped)))
	}

	for _, im := range imports {
		if im.Err != nil {
			p.println(p.styles.bad.Render(fmt.Sprintf("  %s: %v", im.Name, im.Err)))
			continue
		}
		for _, f := range im.Result.Failures {
			p.Line("  %s: batch %d (items %d-%d) failed: %v", im.Name, f.Batch, f.Start, f.End-1, f.Err)
		}
		for _, rj := range im.Result.Rejected {
			p.Line("  %s: item %d rejected: %v", im.Name, rj.Index, rj.Err)
		}
		if im.Sidecar != "" && im.SidecarItems > 0 {
			p.Line("  %s: %d unimported items written to %s", im.Name, im.SidecarItems, im.Sidecar)
		}
	}
	if failed > 0 {
		p.println(p.styles.warn.Render(fmt.Sprintf("  %s items were not imported", humanize.Comma(int64(failed)))))
	}
}

func (p *Printer) Generation(plan string, s generate.Stats) {
	p.Title("Generation: " + plan)
	p.Line("  Jobs:      %s (started at %d)", humanize.Comma(int64(s.Jobs)), s.Resumed)
	p.Line("  Calls:     %s", humanize.Comma(int64(s.Calls)))
	p.Line("  Items:     %s", humanize.Comma(int64(s.Items)))
	if s.Skipped > 0 {
		p.Line("  Skipped:   %s invalid items", humanize.Comma(int64(s.Skipped)))
	}
	if s.Errors > 0 {
		p.Line("  Errors:    %s", p.styles.warn.Render(humanize.Comma(int64(s.Errors))))
	} else {
		p.Line("  Errors:    0")
	}
	if s.Output != "" {
		p.Line("  Output:    %s", s.Output)
	}
	p.Line("  Elapsed:   %s", s.Elapsed.Round(time.Second))
	if len(s.Failed) > 0 {
		p.Title(fmt.Sprintf("Failed jobs (%d)", len(s.Failed)))
		for _, k := range s.Failed {
			p.Line("  - %s", k)
		}
	}
}

func (p *Printer) Buckets(buckets []supabase.Bucket) {
	p.Title("Buckets")
	rows := make([][]string, 0, len(buckets))
	for _, b := range buckets {
		limit := "-"
		if b.FileSizeLimit != nil {
			limit = humanize.IBytes(uint64(*b.FileSizeLimit))
		}
		mime := "-"
		if len(b.AllowedMimeTypes) > 0 {
			mime = strings.Join(b.AllowedMimeTypes, ", ")
		}
		rows = append(rows, []string{b.Name, yesNo(b.Public), limit, mime})
	}
	p.table([]string{"Name", "Public", "Size limit", "MIME types"}, rows)
}

// BucketEnsured reports the result of an ensure call.
func (p *Printer) BucketEnsured(b *supabase.Bucket, created bool) {
	if created {
		p.Line("%s bucket %s (public: %s)", p.styles.ok.Render("created"), b.Name, yesNo(b.Public))
		return
	}
	p.Line("bucket %s already exists (public: %s)", b.Name, yesNo(b.Public))
}

func (p *Printer) Objects(bucket, prefix string, objs []supabase.Object) {
	p.Title("Objects in " + strings.TrimSuffix(bucket+"/"+prefix, "/"))
	rows := make([][]string, 0, len(objs))
	for _, o := range objs {
		size := "dir"
		if n := o.Size(); n >= 0 {
			size = humanize.IBytes(uint64(n))
		}
		updated := "-"
		if !o.UpdatedAt.IsZero() {
			updated = humanize.Time(o.UpdatedAt)
		}
		rows = append(rows, []string{o.Name, size, updated})
	}
	p.table([]string{"Name", "Size", "Updated"}, rows)
}

// Tables prints which of the requested tables exist.
func (p *Printer) Tables(tables []schema.Table) {
	p.Title("Tables")
	rows := make([][]string, 0, len(tables))
	for _, t := range tables {
		state := p.styles.ok.Render("exists")
		if !t.Exists {
			state = p.styles.bad.Render("missing")
		}
		rows = append(rows, []string{t.Name, state})
	}
	p.table([]string{"Table", "State"}, rows)
}

func (p *Printer) Columns(t schema.Table) {
	p.Title("Columns of " + t.Name)
	if !t.Exists {
		p.println(p.styles.bad.Render("  table does not exist"))
		return
	}
	rows := make([][]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		var flags []string
		if c.IsPrimaryKey {
			flags = append(flags, "pk")
		}
		if c.IsUnique {
			flags = append(flags, "unique")
		}
		def := ""
		if c.DefaultValue != nil {
			def = *c.DefaultValue
		}
		rows = append(rows, []string{c.Name, c.Type, yesNo(c.Nullable), def, strings.Join(flags, ",")})
	}
	p.table([]string{"Column", "Type", "Nullable", "Default", "Flags"}, rows)
}

// MissingColumns lists columns a caller wanted but the table lacks.
func (p *Printer) MissingColumns(table string, missing []string) {
	if len(missing) == 0 {
		p.println(p.styles.ok.Render("  all required columns present in " + table))
		return
	}
	p.println(p.styles.bad.Render(fmt.Sprintf("  %s is missing: %s", table, strings.Join(missing, ", "))))
}

// Invocation prints one edge function smoke call.
func (p *Printer) Invocation(inv supabase.Invocation) {
	p.Title("Function " + inv.Function)
	status := p.styles.ok.Render(fmt.Sprintf("%d", inv.Status))
	if !inv.OK() {
		status = p.styles.bad.Render(fmt.Sprintf("%d", inv.Status))
	}
	p.Line("  Status:    %s", status)
	p.Line("  Duration:  %s", inv.Duration.Round(time.Millisecond))
	body := strings.TrimSpace(string(inv.Body))
	if len(body) > 2000 {
		body = body[:2000] + "..."
	}
	if body != "" {
		p.Line("  Body:      %s", body)
	}
}

// Voices lists available voices; current is marked.
func (p *Printer) Voices(voices []tts.Voice, current string) {
	p.Title("Voices")
	rows := make([][]string, 0, len(voices))
	for _, v := range voices {
		mark := ""
		if v.VoiceID == current {
			mark = "*"
		}
		rows = append(rows, []string{mark, v.Name, v.VoiceID, v.Category})
	}
	p.table([]string{"", "Name", "ID", "Category"}, rows)
}

// Purge reports rows removed from a table.
func (p *Printer) Purge(table string, filters []string, deleted int64) {
	p.Line("deleted %s rows from %s where %s", humanize.Comma(deleted), table, strings.Join(filters, " and "))
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
