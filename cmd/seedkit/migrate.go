package main

import (
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tordrt/seedkit/internal/config"
	"github.com/tordrt/seedkit/internal/migrate"
)

func newMigrateCmd(root *rootOptions) *cobra.Command {
	var (
		dir       string
		direction string
		steps     int
	)

	cmd := &cobra.Command{
		Use:   "migrate [FILE.sql]",
		Short: "Apply a SQL file or a migrations directory",
		Long: `With FILE.sql, migrate executes that file against the database as one batch.
With --dir, it applies the versioned migrations in the directory through
golang-migrate (PostgreSQL only) in the given direction.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			if len(args) == 1 && dir != "" {
				return errors.New("pass either FILE.sql or --dir, not both")
			}
			if len(args) == 0 && dir == "" {
				return errors.New("pass a FILE.sql or --dir")
			}

			rt, err := newRuntime(cmd, root, config.NeedDatabase)
			if err != nil {
				return err
			}
			defer rt.finish(&err)

			ctx := cmd.Context()

			if len(args) == 1 {
				st, err := rt.Store(ctx)
				if err != nil {
					return err
				}
				if err := migrate.ApplyFile(ctx, st, args[0]); err != nil {
					return err
				}
				rt.log.Info("migration applied", zap.String("file", args[0]))
				rt.out.Line("applied %s", args[0])
				return nil
			}

			out, err := migrate.Run(dir, rt.cfg.Database.URL, migrate.Direction(direction), steps)
			if err != nil {
				return err
			}
			rt.log.Info("migrations finished", zap.Uint("version", out.Version), zap.Bool("dirty", out.Dirty), zap.Bool("no_change", out.NoChange))
			switch {
			case out.NoChange:
				rt.out.Line("no change, database at version %d", out.Version)
			case out.Dirty:
				rt.out.Line("migrated %s to version %d (dirty)", direction, out.Version)
			default:
				rt.out.Line("migrated %s to version %d", direction, out.Version)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&dir, "dir", "", "Migrations directory or source URL (e.g. file://migrations)")
	f.StringVar(&direction, "direction", "up", "Migration direction: up or down")
	f.IntVar(&steps, "steps", 0, "Apply at most this many migrations, 0 for all")
	return cmd
}
