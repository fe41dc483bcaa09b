// Package enumerate walks one column of a table page by page and collects
// its distinct non-empty values.
package enumerate

import (
	"context"
	"fmt"

	"github.com/tordrt/seedkit/internal/coverage"
	"github.com/tordrt/seedkit/internal/logging"
	"github.com/tordrt/seedkit/internal/metrics"
	"go.uber.org/zap"
)

// PageSource is the part of db.Store the enumerator needs.
type PageSource interface {
	FetchColumn(ctx context.Context, table, column string, offset, limit int) ([]*string, error)
}

// Options bounds a scan.
type Options struct {
	// PageSize is the number of rows per request. Must be > 0.
	PageSize int
	// MaxRows caps the rows scanned; 0 means no cap.
	MaxRows int
}

// Result is what a scan collected. A scan that hit MaxRows or a fetch error
// still returns every key seen up to that point.
type Result struct {
	Keys  coverage.KeySet
	Pages int
	Rows  int
	// Truncated is set when MaxRows stopped the scan with rows remaining.
	Truncated bool
	// Err is the fetch error that ended the scan early, if any.
	Err error
}

// Complete reports whether the scan reached the end of the table.
func (r Result) Complete() bool {
	return !r.Truncated && r.Err == nil
}

// Enumerator scans columns of one PageSource.
type Enumerator struct {
	src     PageSource
	opts    Options
	log     *zap.Logger
	metrics *metrics.Metrics
}

// New checks opts and returns an Enumerator reading from src.
func New(src PageSource, opts Options, log *zap.Logger, m *metrics.Metrics) (*Enumerator, error) {
	if opts.PageSize <= 0 {
		return nil, fmt.Errorf("page size must be > 0, got %d", opts.PageSize)
	}
	if opts.MaxRows < 0 {
		return nil, fmt.Errorf("max rows must be >= 0, got %d", opts.MaxRows)
	}
	return &Enumerator{src: src, opts: opts, log: logging.OrNop(log), metrics: m}, nil
}

// Column collects the distinct values of table.column.
//
// Each request asks for one row more than it keeps. A response that is not
// longer than the page ends the scan, so a table of N rows costs exactly
// ceil(N/PageSize) requests (one request when the table is empty).
func (e *Enumerator) Column(ctx context.Context, table, column string) Result {
	res := Result{Keys: coverage.NewKeySet()}
	log := e.log.With(zap.String("table", table), zap.String("column", column))

	offset := 0
	for {
		limit := e.opts.PageSize
		if e.opts.MaxRows > 0 {
			if remaining := e.opts.MaxRows - offset; remaining < limit {
				limit = remaining
			}
		}

		vals, err := e.src.FetchColumn(ctx, table, column, offset, limit+1)
		res.Pages++
		e.metrics.PageFetched(table)
		if err != nil {
			res.Err = fmt.Errorf("failed to fetch %s.%s at offset %d: %w", table, column, offset, err)
			log.Warn("enumeration stopped early", zap.Int("offset", offset), zap.Error(err))
			return res
		}

		more := len(vals) > limit
		if more {
			vals = vals[:limit]
		}
		for _, v := range vals {
			if v != nil {
				res.Keys.Add(*v)
			}
		}
		res.Rows += len(vals)
		offset += len(vals)

		log.Debug("page fetched", zap.Int("offset", offset), zap.Int("rows", len(vals)), zap.Int("keys", res.Keys.Len()))

		if !more {
			return res
		}
		if e.opts.MaxRows > 0 && offset >= e.opts.MaxRows {
			res.Truncated = true
			log.Warn("enumeration truncated at row cap", zap.Int("max_rows", e.opts.MaxRows))
			return res
		}
	}
}
