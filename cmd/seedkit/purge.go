package main

import (
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tordrt/seedkit/internal/config"
)

func newPurgeCmd(root *rootOptions) *cobra.Command {
	var (
		where []string
		yes   bool
	)

	cmd := &cobra.Command{
		Use:   "purge TABLE",
		Short: "Delete rows matching a filter",
		Long: `Purge deletes the rows of TABLE that match every --where column=value filter.
Without --yes it only reports how many rows would be deleted. A filter is
always required; purge never empties a whole table.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			filters, err := parseFilters(where)
			if err != nil {
				return err
			}
			if len(filters) == 0 {
				return errors.New("at least one --where filter is required")
			}

			rt, err := newRuntime(cmd, root, config.NeedDatabase)
			if err != nil {
				return err
			}
			defer rt.finish(&err)

			ctx := cmd.Context()
			st, err := rt.Store(ctx)
			if err != nil {
				return err
			}

			table := args[0]
			preds := predicates(filters)
			if !yes {
				n, err := st.Count(ctx, table, preds...)
				if err != nil {
					return err
				}
				rt.out.Line("%d rows in %s match %s; re-run with --yes to delete them", n, table, describeFilters(filters))
				return nil
			}

			n, err := st.Delete(ctx, table, preds...)
			if err != nil {
				return err
			}
			rt.log.Info("rows deleted", zap.String("table", table), zap.Int64("rows", n))
			rt.out.Purge(table, filterStrings(filters), n)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringArrayVar(&where, "where", nil, "Filter as column=value (repeatable, all must match)")
	f.BoolVar(&yes, "yes", false, "Actually delete the matching rows")
	return cmd
}
