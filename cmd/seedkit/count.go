package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tordrt/seedkit/internal/config"
	"github.com/tordrt/seedkit/internal/report"
	"github.com/tordrt/seedkit/internal/supabase"
)

func newCountCmd(root *rootOptions) *cobra.Command {
	var (
		where []string
		rest  bool
		tier  string
	)

	cmd := &cobra.Command{
		Use:   "count TABLE...",
		Short: "Print exact row counts",
		Long: `Count prints the exact number of rows of each table, optionally filtered by
column=value equality. With --rest the count goes through the REST gateway
using the chosen key tier, which shows what row-level security lets that tier
see.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			filters, err := parseFilters(where)
			if err != nil {
				return err
			}

			var reqs []config.Requirement
			var t supabase.Tier
			if rest {
				if t, err = supabase.ParseTier(tier); err != nil {
					return err
				}
				reqs = append(reqs, config.NeedProject)
				if t == supabase.TierAnon {
					reqs = append(reqs, config.NeedAnonKey)
				} else {
					reqs = append(reqs, config.NeedServiceKey)
				}
			} else {
				reqs = append(reqs, config.NeedDatabase)
			}

			rt, err := newRuntime(cmd, root, reqs...)
			if err != nil {
				return err
			}
			defer rt.finish(&err)

			ctx := cmd.Context()
			counts := make([]report.Count, 0, len(args))
			title := "Row counts"

			if rest {
				title += " (" + string(t) + " key)"
				sb, err := rt.Supabase()
				if err != nil {
					return err
				}
				for _, table := range args {
					n, cerr := sb.CountRows(ctx, t, table, restFilters(filters)...)
					if cerr != nil {
						rt.log.Warn("count failed", zap.String("table", table), zap.Error(cerr))
					}
					counts = append(counts, report.Count{Table: table, Filter: describeFilters(filters), Rows: n, Err: cerr})
				}
			} else {
				st, err := rt.Store(ctx)
				if err != nil {
					return err
				}
				for _, table := range args {
					n, cerr := st.Count(ctx, table, predicates(filters)...)
					if cerr != nil {
						rt.log.Warn("count failed", zap.String("table", table), zap.Error(cerr))
					}
					counts = append(counts, report.Count{Table: table, Filter: describeFilters(filters), Rows: n, Err: cerr})
				}
			}

			rt.out.Counts(title, counts)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringArrayVar(&where, "where", nil, "Filter as column=value (repeatable)")
	f.BoolVar(&rest, "rest", false, "Count through the REST gateway instead of a direct connection")
	f.StringVar(&tier, "tier", "service", "Key tier for --rest: service or anon")
	return cmd
}
