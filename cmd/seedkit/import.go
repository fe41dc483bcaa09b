package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tordrt/seedkit/internal/config"
	"github.com/tordrt/seedkit/internal/content"
	"github.com/tordrt/seedkit/internal/importer"
	"github.com/tordrt/seedkit/internal/migrate"
	"github.com/tordrt/seedkit/internal/report"
)

func newImportCmd(root *rootOptions) *cobra.Command {
	var (
		table     string
		kind      string
		batchSize int
		manifest  string
		noSidecar bool
		conflict  string
		skipDups  bool
	)

	cmd := &cobra.Command{
		Use:   "import [FILE]",
		Short: "Insert a JSON array of items into a table in batches",
		Long: `Import reads a JSON array of content items and inserts it in fixed-size
batches. Items of a known --kind are validated first and rejected one by one.
A failed batch is reported and skipped, never retried; the items that did not
make it in are written next to the input as FILE.failed.json so a later run
can import just those.

With --on-conflict COLUMNS an item whose key is already stored overwrites
the stored row; add --ignore-duplicates to leave the stored row alone and
skip the item instead. Either way the import can be re-run safely.

With --manifest, every file listed in the manifest is imported in order
after its optional prepare SQL has been applied. Entries without their own
on_conflict or ignore_duplicates use the flags.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			var entries []importer.Entry
			var prepare string

			switch {
			case manifest != "" && len(args) > 0:
				return errors.New("pass either FILE or --manifest, not both")
			case manifest != "":
				m, err := importer.LoadManifest(manifest)
				if err != nil {
					return err
				}
				entries, prepare = m.Imports, m.Prepare
			case len(args) == 1:
				e := importer.Entry{File: args[0], Table: table}
				if kind != "" {
					if e.Kind, err = content.ParseKind(kind); err != nil {
						return err
					}
				}
				if e.Table == "" {
					e.Table = e.Kind.DefaultTable()
				}
				if e.Table == "" {
					return errors.New("--table is required when --kind is not set")
				}
				e.Name = strings.TrimSuffix(filepath.Base(e.File), filepath.Ext(e.File))
				entries = []importer.Entry{e}
			default:
				return errors.New("pass a FILE or --manifest")
			}
			for i := range entries {
				if entries[i].OnConflict == "" && !entries[i].IgnoreDuplicates {
					entries[i].OnConflict, entries[i].IgnoreDuplicates = conflict, skipDups
				}
			}

			rt, err := newRuntime(cmd, root, config.NeedDatabase)
			if err != nil {
				return err
			}
			defer rt.finish(&err)

			ctx, cancel := interruptible(cmd.Context())
			defer cancel()

			st, err := rt.Store(ctx)
			if err != nil {
				return err
			}

			if prepare != "" {
				if err := migrate.ApplyFile(ctx, st, prepare); err != nil {
					rt.log.Warn("prepare step failed, importing anyway", zap.String("file", prepare), zap.Error(err))
				} else {
					rt.log.Info("applied prepare step", zap.String("file", prepare))
				}
			}

			if batchSize == 0 {
				batchSize = rt.cfg.Import.BatchSize
			}
			im, err := importer.New(st, batchSize, rt.log, rt.metrics)
			if err != nil {
				return err
			}

			results := make([]report.Import, 0, len(entries))
			var failedFiles int
			for _, e := range entries {
				if ctx.Err() != nil {
					break
				}
				r := importEntry(ctx, rt, im, e, !noSidecar)
				if r.Err != nil {
					failedFiles++
				}
				results = append(results, r)
			}

			rt.out.Imports(results)
			if err := ctx.Err(); err != nil {
				return err
			}
			if failedFiles > 0 {
				return fmt.Errorf("%d of %d files could not be imported", failedFiles, len(entries))
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&table, "table", "", "Target table (default: the kind's table)")
	f.StringVar(&kind, "kind", "", "Item kind to validate against: "+kindList())
	f.IntVar(&batchSize, "batch-size", 0, "Items per insert statement (default: import.batch_size)")
	f.StringVar(&manifest, "manifest", "", "YAML manifest listing files to import")
	f.BoolVar(&noSidecar, "no-failed-file", false, "Do not write FILE.failed.json for unimported items")
	f.StringVar(&conflict, "on-conflict", "", "Comma-separated key columns; existing rows with the same key are updated")
	f.BoolVar(&skipDups, "ignore-duplicates", false, "Skip items whose key is already stored instead of failing the batch")
	return cmd
}

func importEntry(ctx context.Context, rt *runtime, im *importer.Importer, e importer.Entry, sidecar bool) report.Import {
	out := report.Import{Name: e.Name, File: e.File}
	log := rt.log.With(zap.String("table", e.Table), zap.String("file", e.File))

	raws, err := importer.ReadItems(e.File)
	if err != nil {
		log.Error("failed to read items", zap.Error(err))
		out.Err = err
		out.Result.Table = e.Table
		return out
	}

	on := e.Conflict()
	out.Result = im.WithConflict(on).ImportRecords(ctx, e.Table, e.Kind, raws)
	log.Info("import finished",
		zap.Stringer("on_conflict", on),
		zap.Int("items", out.Result.Total),
		zap.Int("imported", out.Result.Imported),
		zap.Int("skipped", out.Result.Skipped),
		zap.Int("failed_batches", len(out.Result.Failures)),
		zap.Int("rejected", len(out.Result.Rejected)))

	if sidecar {
		path := importer.FailedPath(e.File)
		n, err := importer.WriteFailed(path, raws, out.Result)
		if err != nil {
			log.Error("failed to write failed items", zap.String("path", path), zap.Error(err))
		} else if n > 0 {
			out.Sidecar, out.SidecarItems = path, n
		}
	}
	return out
}

func kindList() string {
	kinds := content.Kinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return strings.Join(names, ", ")
}
