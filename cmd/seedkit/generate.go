package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tordrt/seedkit/internal/config"
	"github.com/tordrt/seedkit/internal/db"
	"github.com/tordrt/seedkit/internal/generate"
	"github.com/tordrt/seedkit/internal/importer"
	"github.com/tordrt/seedkit/internal/report"
)

func newGenerateCmd(root *rootOptions) *cobra.Command {
	var (
		runID      string
		checkpoint string
		limit      int
		reset      bool
		outputDir  string
		importTo   bool
		batchSize  int
		conflict   string
		skipDups   bool
	)

	cmd := &cobra.Command{
		Use:   "generate PLAN.yaml",
		Short: "Generate content items from a prompt plan",
		Long: `Generate expands the plan's prompt matrix and sends one chat-completion request
per job, paced by a token bucket that slows down on rate-limit answers. The
JSON items in each answer are validated and appended to the plan's output
file. Progress is checkpointed, so an interrupted or failed run picks up at
the next unfinished job when started again with the same run id.

With --import, the items generated by this invocation are also inserted into
the plan's table after every checkpoint. Failed batches are reported and the
run goes on; the output file still holds every item, so a later
"seedkit import --on-conflict ..." can fill the gaps.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			plan, err := generate.LoadPlan(args[0])
			if err != nil {
				return err
			}
			if runID == "" {
				runID = plan.Name
			}

			reqs := []config.Requirement{config.NeedGeneration}
			if checkpoint == "redis" {
				reqs = append(reqs, config.NeedRedis)
			} else if checkpoint != "file" {
				return fmt.Errorf("invalid --checkpoint %q (must be 'file' or 'redis')", checkpoint)
			}
			if importTo {
				reqs = append(reqs, config.NeedDatabase)
			}

			rt, err := newRuntime(cmd, root, reqs...)
			if err != nil {
				return err
			}
			defer rt.finish(&err)

			ctx, cancel := interruptible(cmd.Context())
			defer cancel()

			gc := rt.cfg.Generation
			if outputDir == "" {
				outputDir = rt.cfg.OutputDir
			}

			completer, err := generate.NewOpenAICompleter(generate.OpenAIOptions{
				BaseURL: gc.BaseURL,
				APIKey:  gc.APIKey,
				Model:   gc.Model,
				Timeout: gc.RequestTimeout,
			})
			if err != nil {
				return err
			}
			pacer, err := generate.NewPacer(generate.PacerOptions{
				RequestsPerMinute: gc.RequestsPerMinute,
				Burst:             gc.Burst,
				MaxRetries:        gc.MaxRetries,
				BackoffInitial:    gc.BackoffInitial,
				BackoffMax:        gc.BackoffMax,
			}, rt.log, rt.metrics)
			if err != nil {
				return err
			}

			var store generate.CheckpointStore
			if checkpoint == "redis" {
				rs, err := generate.OpenRedisCheckpointStore(ctx, rt.cfg.Redis.URL)
				if err != nil {
					return err
				}
				defer func() {
					if err := rs.Close(); err != nil {
						rt.log.Warn("failed to close redis connection", zap.Error(err))
					}
				}()
				store = rs
			} else {
				store = generate.NewFileCheckpointStore(outputDir)
			}

			var imports []report.Import
			var onFlush generate.FlushFunc
			if importTo {
				st, err := rt.Store(ctx)
				if err != nil {
					return err
				}
				if batchSize == 0 {
					batchSize = rt.cfg.Import.BatchSize
				}
				im, err := importer.New(st, batchSize, rt.log, rt.metrics)
				if err != nil {
					return err
				}
				onFlush = importFlushed(rt, im.WithConflict(db.NewConflict(conflict, skipDups)), plan, &imports)
			}

			gen, err := generate.New(completer, pacer, store, generate.Options{
				RunID:           runID,
				OutputDir:       outputDir,
				CheckpointEvery: gc.CheckpointEvery,
				Limit:           limit,
				Temperature:     gc.Temperature,
				MaxTokens:       gc.MaxTokens,
				OnFlush:         onFlush,
			}, rt.log, rt.metrics)
			if err != nil {
				return err
			}

			if reset {
				if err := gen.Reset(ctx); err != nil {
					return err
				}
				rt.log.Info("checkpoint cleared", zap.String("plan_run", runID))
			}

			rt.log.Info("starting generation",
				zap.String("plan", plan.Name),
				zap.String("model", gc.Model),
				zap.Float64("requests_per_minute", pacer.RequestsPerMinute()))

			stats, err := gen.Run(ctx, plan)
			rt.out.Generation(plan.Name, stats)
			if importTo {
				rt.out.Imports(imports)
			}
			return err
		},
	}

	f := cmd.Flags()
	f.StringVar(&runID, "run-id", "", "Checkpoint key for this run (default: plan name)")
	f.StringVar(&checkpoint, "checkpoint", "file", "Checkpoint store: file or redis")
	f.IntVar(&limit, "limit", 0, "Attempt at most this many jobs in this invocation, 0 for all")
	f.BoolVar(&reset, "reset", false, "Discard the run's checkpoint and start from the first job")
	f.StringVar(&outputDir, "output-dir", "", "Directory for output and checkpoint files (default: output_dir)")
	f.BoolVar(&importTo, "import", false, "Insert new items into the plan's table after every checkpoint")
	f.IntVar(&batchSize, "batch-size", 0, "Items per insert statement with --import (default: import.batch_size)")
	f.StringVar(&conflict, "on-conflict", "", "Comma-separated key columns for --import; existing rows with the same key are updated")
	f.BoolVar(&skipDups, "ignore-duplicates", false, "With --import, skip items whose key is already stored")
	return cmd
}

// importFlushed inserts each flushed slice of the output file into the
// plan's table and appends the outcome to imports.
func importFlushed(rt *runtime, im *importer.Importer, plan *generate.Plan, imports *[]report.Import) generate.FlushFunc {
	return func(ctx context.Context, first int, items []json.RawMessage) error {
		name := fmt.Sprintf("%s[%d:%d]", plan.Name, first, first+len(items))
		res := im.ImportRecords(ctx, plan.Table, plan.Kind, items)
		rt.log.Info("imported generated items",
			zap.String("table", plan.Table),
			zap.String("items", name),
			zap.Int("imported", res.Imported),
			zap.Int("skipped", res.Skipped),
			zap.Int("failed_batches", len(res.Failures)))
		*imports = append(*imports, report.Import{Name: name, File: plan.Output, Result: res})
		return nil
	}
}
