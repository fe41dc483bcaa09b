package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/tordrt/seedkit/internal/db"
	"github.com/tordrt/seedkit/internal/supabase"
)

type filter struct {
	column string
	value  string
}

// parseFilters parses repeated --where col=value flags.
func parseFilters(raw []string) ([]filter, error) {
	out := make([]filter, 0, len(raw))
	for _, w := range raw {
		col, val, ok := strings.Cut(w, "=")
		col = strings.TrimSpace(col)
		if !ok || col == "" {
			return nil, fmt.Errorf("invalid --where %q (want column=value)", w)
		}
		out = append(out, filter{column: col, value: val})
	}
	return out, nil
}

func predicates(fs []filter) []db.Predicate {
	out := make([]db.Predicate, len(fs))
	for i, f := range fs {
		out[i] = db.Predicate{Column: f.column, Value: f.value}
	}
	return out
}

func restFilters(fs []filter) []supabase.Filter {
	out := make([]supabase.Filter, len(fs))
	for i, f := range fs {
		out[i] = supabase.Filter{Column: f.column, Value: f.value}
	}
	return out
}

func filterStrings(fs []filter) []string {
	parts := make([]string, len(fs))
	for i, f := range fs {
		parts[i] = f.column + "=" + f.value
	}
	return parts
}

func describeFilters(fs []filter) string {
	return strings.Join(filterStrings(fs), ",")
}

// interruptible returns a context cancelled on SIGINT or SIGTERM so long
// runs can save their progress before exiting.
func interruptible(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}
