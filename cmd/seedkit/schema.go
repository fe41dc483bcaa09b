package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tordrt/seedkit/internal/config"
	"github.com/tordrt/seedkit/internal/schema"
)

func newSchemaCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Check tables and columns",
	}

	exists := &cobra.Command{
		Use:   "exists TABLE...",
		Short: "Report which tables exist",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
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

			tables := make([]schema.Table, 0, len(args))
			var missing []string
			for _, name := range args {
				ok, err := st.TableExists(ctx, name)
				if err != nil {
					return err
				}
				tables = append(tables, schema.Table{Name: name, Exists: ok})
				if !ok {
					missing = append(missing, name)
				}
			}
			rt.out.Tables(tables)
			if len(missing) > 0 {
				return fmt.Errorf("missing tables: %s", strings.Join(missing, ", "))
			}
			return nil
		},
	}

	var require []string
	columns := &cobra.Command{
		Use:   "columns TABLE",
		Short: "List a table's columns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
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

			t := schema.Table{Name: args[0]}
			if t.Exists, err = st.TableExists(ctx, t.Name); err != nil {
				return err
			}
			if t.Exists {
				if t.Columns, err = st.Columns(ctx, t.Name); err != nil {
					return err
				}
			}
			rt.out.Columns(t)
			if !t.Exists {
				return fmt.Errorf("table %s does not exist", t.Name)
			}

			if len(require) > 0 {
				missing := t.MissingColumns(require)
				rt.out.MissingColumns(t.Name, missing)
				if len(missing) > 0 {
					return fmt.Errorf("%s is missing columns: %s", t.Name, strings.Join(missing, ", "))
				}
			}
			return nil
		},
	}
	columns.Flags().StringSliceVar(&require, "require", nil, "Fail unless these columns exist (comma-separated)")

	cmd.AddCommand(exists, columns)
	return cmd
}
