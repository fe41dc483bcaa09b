package generate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/tordrt/seedkit/internal/content"
	"github.com/tordrt/seedkit/internal/logging"
	"github.com/tordrt/seedkit/internal/metrics"
	"go.uber.org/zap"
)

// FlushFunc receives the items written to the output file since the previous
// flush. first is the position of items[0] in that file.
type FlushFunc func(ctx context.Context, first int, items []json.RawMessage) error

// Options configures a Generator. RunID keys the checkpoint.
type Options struct {
	RunID string
	// OutputDir is prepended to relative plan outputs.
	OutputDir string
	// CheckpointEvery flushes output and checkpoint after this many new items.
	CheckpointEvery int
	// Limit caps the number of jobs attempted in this invocation; 0 means all.
	Limit       int
	Temperature float64
	MaxTokens   int
	// OnFlush, if set, is called after each checkpoint with the items
	// generated in this invocation that it has not seen yet.
	OnFlush FlushFunc
}

// Stats summarises one invocation.
type Stats struct {
	Jobs  int
	Calls int
	Items int
	// Errors counts jobs that produced nothing: failed calls and unparseable responses.
	Errors int
	// Skipped counts individual items dropped by validation.
	Skipped int
	// Resumed is the job index this invocation started from.
	Resumed int
	Failed  []string
	Output  string
	Elapsed time.Duration
}

// Generator sends a plan's prompts to a Completer and collects the answers.
type Generator struct {
	completer Completer
	pacer     *Pacer
	store     CheckpointStore
	opts      Options
	log       *zap.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// New returns a Generator. CheckpointEvery defaults to 50.
func New(c Completer, p *Pacer, store CheckpointStore, opts Options, log *zap.Logger, m *metrics.Metrics) (*Generator, error) {
	if c == nil || p == nil || store == nil {
		return nil, errors.New("generator needs a completer, a pacer and a checkpoint store")
	}
	if opts.RunID == "" {
		return nil, errors.New("run id is required")
	}
	if opts.CheckpointEvery <= 0 {
		opts.CheckpointEvery = 50
	}
	return &Generator{
		completer: c,
		pacer:     p,
		store:     store,
		opts:      opts,
		log:       logging.OrNop(log).With(zap.String("generation_run", opts.RunID)),
		metrics:   m,
		now:       time.Now,
	}, nil
}

// Run walks the plan's jobs from the stored checkpoint. Failed calls and
// unparseable answers are logged and recorded in the checkpoint and the run
// moves on to the next job. On cancellation the progress made so far is
// saved before returning the context error.
func (g *Generator) Run(ctx context.Context, plan *Plan) (Stats, error) {
	start := g.now()
	var stats Stats

	jobs, err := plan.Jobs()
	if err != nil {
		return stats, err
	}
	stats.Jobs = len(jobs)

	unlock, err := g.store.Lock(ctx, g.opts.RunID)
	if err != nil {
		return stats, err
	}
	defer func() {
		if err := unlock(); err != nil {
			g.log.Warn("failed to release run lock", zap.Error(err))
		}
	}()

	cp, err := g.store.Load(ctx, g.opts.RunID)
	if err != nil {
		return stats, err
	}

	output := plan.Output
	if !filepath.IsAbs(output) {
		output = filepath.Join(g.opts.OutputDir, output)
	}
	stats.Output = output

	var sink *Sink
	if cp == nil {
		cp = &Checkpoint{RunID: g.opts.RunID, Plan: plan.Name}
		sink = &Sink{path: output}
	} else {
		if cp.Plan != plan.Name {
			return stats, fmt.Errorf("run %s belongs to plan %q, not %q", g.opts.RunID, cp.Plan, plan.Name)
		}
		if sink, err = OpenSink(output); err != nil {
			return stats, err
		}
		if sink.Len() < cp.Items {
			g.log.Warn("output file has fewer items than the checkpoint", zap.Int("file", sink.Len()), zap.Int("checkpoint", cp.Items))
		}
		sink.Truncate(cp.Items)
		stats.Resumed = cp.Next
		g.log.Info("resuming run", zap.Int("next", cp.Next), zap.Int("items", cp.Items))
	}

	handed := sink.Len()
	save := func() error {
		if err := sink.Flush(); err != nil {
			return err
		}
		cp.Items = sink.Len()
		cp.UpdatedAt = g.now().UTC()
		if err := g.store.Save(context.WithoutCancel(ctx), cp); err != nil {
			return err
		}
		if g.opts.OnFlush == nil || sink.Len() == handed {
			return nil
		}
		first := handed
		handed = sink.Len()
		return g.opts.OnFlush(context.WithoutCancel(ctx), first, sink.Since(first))
	}

	temperature := g.opts.Temperature
	if plan.Temperature != nil {
		temperature = *plan.Temperature
	}
	maxTokens := g.opts.MaxTokens
	if plan.MaxTokens > 0 {
		maxTokens = plan.MaxTokens
	}

	sinceSave := 0
	attempted := 0
	for _, job := range jobs[min(cp.Next, len(jobs)):] {
		if g.opts.Limit > 0 && attempted >= g.opts.Limit {
			break
		}
		if ctx.Err() != nil {
			break
		}
		attempted++
		log := g.log.With(zap.Int("job", job.Index), zap.String("key", job.Key))

		var text string
		var callTime time.Duration
		err := g.pacer.Do(ctx, func(ctx context.Context) error {
			stats.Calls++
			callStart := time.Now()
			out, err := g.completer.Complete(ctx, Request{
				System:      plan.System,
				Prompt:      job.Prompt,
				Temperature: temperature,
				MaxTokens:   maxTokens,
			})
			elapsed := time.Since(callStart)
			callTime = elapsed
			var rl *RateLimitError
			switch {
			case errors.As(err, &rl):
				g.metrics.GenerationCall("throttled", elapsed)
			case err != nil:
				g.metrics.GenerationCall("error", elapsed)
			}
			text = out
			return err
		})
		if err != nil {
			if ctx.Err() != nil {
				// interrupted mid-call; the job is retried on resume
				break
			}
			stats.Errors++
			cp.Errors++
			cp.Failed = append(cp.Failed, job.Key)
			cp.Next = job.Index + 1
			log.Error("generation call failed", zap.Error(err))
			continue
		}

		recs, invalid, err := content.ParseRecords(plan.Kind, text)
		cp.Next = job.Index + 1
		if err != nil {
			g.metrics.GenerationCall("parse_error", callTime)
			stats.Errors++
			cp.Errors++
			cp.Failed = append(cp.Failed, job.Key)
			log.Error("failed to parse response", zap.Error(err))
			continue
		}
		g.metrics.GenerationCall("ok", callTime)
		for _, e := range invalid {
			log.Warn("item rejected", zap.Error(e))
		}
		stats.Skipped += len(invalid)

		if err := sink.Add(recs...); err != nil {
			return stats, err
		}
		stats.Items += len(recs)
		sinceSave += len(recs)
		g.metrics.ItemsGenerated(len(recs))
		log.Info("job done", zap.Int("items", len(recs)), zap.Int("rejected", len(invalid)), zap.Int("total", sink.Len()))

		if sinceSave >= g.opts.CheckpointEvery {
			if err := save(); err != nil {
				return stats, err
			}
			sinceSave = 0
		}
	}

	stats.Failed = cp.Failed
	if err := save(); err != nil {
		return stats, err
	}
	stats.Elapsed = g.now().Sub(start)

	if err := ctx.Err(); err != nil {
		g.log.Warn("run interrupted, progress saved", zap.Int("next", cp.Next))
		return stats, err
	}
	return stats, nil
}

// Reset forgets the checkpoint of a run so the next Run starts over.
func (g *Generator) Reset(ctx context.Context) error {
	return g.store.Delete(ctx, g.opts.RunID)
}
