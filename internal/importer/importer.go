// Package importer inserts content items into a table in fixed-size batches.
// A failed batch is recorded and skipped; batches are never resubmitted.
package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tordrt/seedkit/internal/content"
	"github.com/tordrt/seedkit/internal/db"
	"github.com/tordrt/seedkit/internal/logging"
	"github.com/tordrt/seedkit/internal/metrics"
	"go.uber.org/zap"
)

// Inserter is the part of db.Store the importer needs.
type Inserter interface {
	Upsert(ctx context.Context, table string, rows []map[string]any, on db.Conflict) (int64, error)
}

// Range is a half-open interval of item indices.
type Range struct {
	Start, End int
}

func (r Range) Len() int { return r.End - r.Start }

// Chunks splits n items into consecutive ranges of at most size items.
func Chunks(n, size int) []Range {
	if n <= 0 || size <= 0 {
		return nil
	}
	out := make([]Range, 0, (n+size-1)/size)
	for start := 0; start < n; start += size {
		out = append(out, Range{Start: start, End: min(start+size, n)})
	}
	return out
}

// Failure is one batch that did not insert. Start and End index the rows
// handed to Import.
type Failure struct {
	Batch int
	Start int
	End   int
	Err   error
}

// Rejection is one item dropped before insert.
type Rejection struct {
	Index int
	Err   error
}

// Result summarizes one import. Imported counts rows written; Skipped
// counts rows left out because an equal key was already stored, which only
// happens when duplicates are skipped.
type Result struct {
	Table    string
	Total    int
	Imported int
	Skipped  int
	Batches  int
	Failures []Failure
	Rejected []Rejection

	// source maps row positions back to input item positions when some
	// items were rejected before batching.
	source []int
}

// FailedItems counts items in failed batches.
func (r Result) FailedItems() int {
	n := 0
	for _, f := range r.Failures {
		n += f.End - f.Start
	}
	return n
}

// OK reports whether every item made it in.
func (r Result) OK() bool {
	return len(r.Failures) == 0 && len(r.Rejected) == 0
}

// sourceIndex maps a row position to the input item position.
func (r Result) sourceIndex(row int) int {
	if r.source == nil {
		return row
	}
	return r.source[row]
}

// Importer writes rows through an Inserter, batchSize rows per statement.
type Importer struct {
	store     Inserter
	batchSize int
	conflict  db.Conflict
	log       *zap.Logger
	metrics   *metrics.Metrics
}

// New returns an Importer that fails a batch on any key conflict. A nil
// logger or metrics disables them.
func New(store Inserter, batchSize int, log *zap.Logger, m *metrics.Metrics) (*Importer, error) {
	if store == nil {
		return nil, errors.New("importer needs a store")
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be > 0, got %d", batchSize)
	}
	return &Importer{store: store, batchSize: batchSize, log: logging.OrNop(log), metrics: m}, nil
}

// WithConflict returns a copy of im that resolves key conflicts as on
// says, so a file can be imported again without failing on rows that
// are already there.
func (im *Importer) WithConflict(on db.Conflict) *Importer {
	cp := *im
	cp.conflict = on
	return &cp
}

// Import inserts rows chunk by chunk. Batch errors are collected and the
// remaining batches still run; only a cancelled context stops early, in which
// case the unattempted batches are reported as failures too.
func (im *Importer) Import(ctx context.Context, table string, rows []map[string]any) Result {
	res := Result{Table: table, Total: len(rows)}
	log := im.log.With(zap.String("table", table))

	for i, r := range Chunks(len(rows), im.batchSize) {
		res.Batches++
		var err error
		if err = ctx.Err(); err == nil {
			var n int64
			n, err = im.store.Upsert(ctx, table, rows[r.Start:r.End], im.conflict)
			if err == nil {
				written := min(int(n), r.Len())
				res.Imported += written
				if im.conflict.Action == db.ConflictIgnore {
					res.Skipped += r.Len() - written
				}
				im.metrics.RowsImported(table, written)
				log.Debug("batch imported", zap.Int("batch", i), zap.Int("rows", written))
				continue
			}
		}
		res.Failures = append(res.Failures, Failure{Batch: i, Start: r.Start, End: r.End, Err: err})
		im.metrics.BatchFailed(table)
		log.Error("batch failed", zap.Int("batch", i), zap.Int("start", r.Start), zap.Int("end", r.End), zap.Error(err))
	}

	log.Info("import finished",
		zap.Int("total", res.Total),
		zap.Int("imported", res.Imported),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed_batches", len(res.Failures)))
	return res
}

// ImportRecords decodes raws as kind and imports the valid ones. With an
// empty kind each item must be a JSON object and is inserted as-is.
func (im *Importer) ImportRecords(ctx context.Context, table string, kind content.Kind, raws []json.RawMessage) Result {
	rows := make([]map[string]any, 0, len(raws))
	source := make([]int, 0, len(raws))
	var rejected []Rejection

	for i, raw := range raws {
		row, err := decodeRow(kind, raw)
		if err != nil {
			rejected = append(rejected, Rejection{Index: i, Err: err})
			im.log.Warn("item rejected", zap.String("table", table), zap.Int("index", i), zap.Error(err))
			continue
		}
		rows = append(rows, row)
		source = append(source, i)
	}
	if len(rejected) > 0 {
		im.metrics.Rejected(table, len(rejected))
	}

	res := im.Import(ctx, table, rows)
	res.Total = len(raws)
	res.Rejected = rejected
	res.source = source
	return res
}

func decodeRow(kind content.Kind, raw json.RawMessage) (map[string]any, error) {
	if kind != "" {
		rec, err := content.DecodeValid(kind, raw)
		if err != nil {
			return nil, err
		}
		return rec.Row(), nil
	}
	var row map[string]any
	if err := json.Unmarshal(raw, &row); err != nil || row == nil {
		return nil, errors.New("item is not a JSON object")
	}
	if len(row) == 0 {
		return nil, errors.New("item has no fields")
	}
	return row, nil
}
