// Package batch implements the orchestrator that drives one run over a
// record set: idempotency check, URL dedup, sequential resolution on a single
// background worker, merge-back, and persist.
package batch

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/patchtrace/patchtrace/internal/advisory"
	"github.com/patchtrace/patchtrace/internal/dataset"
	"github.com/patchtrace/patchtrace/internal/progress"
)

// ErrRunCanceled is returned when the context is canceled mid-run; the
// dataset on disk is left untouched.
var ErrRunCanceled = errors.New("run canceled")

// Options are the caller-facing knobs of one run.
type Options struct {
	ForceRerun   bool
	CreateBackup bool
}

// Orchestrator owns the per-run state. Construct one per invocation or reuse
// across runs; runs themselves never overlap.
type Orchestrator struct {
	resolver advisory.Resolver
	prober   advisory.Prober
	emitter  progress.Emitter
	dsCfg    dataset.Config
	logger   *zap.Logger
}

// New constructs an Orchestrator.
func New(
	resolver advisory.Resolver,
	prober advisory.Prober,
	emitter progress.Emitter,
	dsCfg dataset.Config,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		resolver: resolver,
		prober:   prober,
		emitter:  emitter,
		dsCfg:    dsCfg,
		logger:   logger,
	}
}

// Run executes one batch over the dataset at path. Per-URL failures never
// abort the run; only dataset I/O errors and cancellation do. A dataset that
// already carries the completion marker is rejected with AlreadyDone unless
// ForceRerun is set.
func (o *Orchestrator) Run(ctx context.Context, path string, opts Options) (advisory.Summary, error) {
	start := time.Now()

	ds, err := dataset.Load(path, o.dsCfg)
	if err != nil {
		return advisory.Summary{}, err
	}
	if err := ds.CheckWritable(); err != nil {
		return advisory.Summary{}, err
	}

	if ds.Processed() && !opts.ForceRerun {
		o.logger.Info("dataset already processed; pass force to rerun", zap.String("path", path))
		return advisory.Summary{AlreadyDone: true}, nil
	}

	unique, invalid := uniqueURLs(ds)
	caps := o.prober.Probe(ctx)
	runID := progress.UUIDToBytes(uuid.New())
	total := len(unique) + len(invalid)

	o.emit(progress.Event{
		RunID: runID,
		TS:    time.Now().UTC(),
		Stage: progress.StageRunStart,
		Total: total,
	})

	// Malformed URLs never reach a fetch; they complete immediately so the
	// counters observers see add up to the same total as the summary.
	results := make(map[string]advisory.Result, total)
	for raw, text := range invalid {
		results[raw] = advisory.Result{
			URL:       raw,
			Status:    advisory.StatusFailed,
			Kind:      advisory.ErrorMalformedURL,
			ErrorText: text,
		}
		o.emit(progress.Event{
			RunID:   runID,
			TS:      time.Now().UTC(),
			Stage:   progress.StageURLDone,
			URL:     raw,
			Status:  advisory.StatusFailed,
			Current: len(results),
			Total:   total,
			Note:    text,
		})
	}

	o.resolveAll(ctx, runID, unique, results, total, caps)

	if ctx.Err() != nil {
		o.emit(progress.Event{
			RunID: runID,
			TS:    time.Now().UTC(),
			Stage: progress.StageRunError,
			Dur:   time.Since(start),
			Note:  "canceled",
		})
		return advisory.Summary{}, ErrRunCanceled
	}

	mergeBack(ds, results)
	ds.StampMarker(time.Now())

	if err := ds.Persist(opts.CreateBackup); err != nil {
		o.emit(progress.Event{
			RunID: runID,
			TS:    time.Now().UTC(),
			Stage: progress.StageRunError,
			Dur:   time.Since(start),
			Note:  err.Error(),
		})
		return advisory.Summary{}, err
	}

	summary := summarize(results, time.Since(start))
	o.emit(progress.Event{
		RunID: runID,
		TS:    time.Now().UTC(),
		Stage: progress.StageRunDone,
		Dur:   summary.Elapsed,
	})
	o.logger.Info("batch run complete",
		zap.Int("total_urls", summary.TotalURLs),
		zap.Int("success", summary.SuccessCount),
		zap.Int("failed", summary.FailedCount),
		zap.Int("empty", summary.EmptyCount),
		zap.Int("links_found", summary.LinksFound),
		zap.Duration("elapsed", summary.Elapsed),
	)
	return summary, nil
}

// resolveAll runs the resolver over the unique URL set sequentially on a
// single background worker, filling results in place. The map is owned by the
// worker until the done channel closes, so no lock is needed here; observers
// see progress only through the hub. Current continues from whatever the
// caller already completed without a fetch.
func (o *Orchestrator) resolveAll(
	ctx context.Context,
	runID [16]byte,
	unique []string,
	results map[string]advisory.Result,
	total int,
	caps advisory.CapabilitySet,
) {
	offset := total - len(unique)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for i, url := range unique {
			if ctx.Err() != nil {
				return
			}
			o.emit(progress.Event{
				RunID: runID,
				TS:    time.Now().UTC(),
				Stage: progress.StageURLStart,
				URL:   url,
				Site:  advisory.Domain(url),
			})

			result := o.resolver.Resolve(ctx, url, caps)
			results[url] = result

			links := 0
			if result.Remediation != nil {
				links = len(result.Remediation.DownloadLinks)
			}
			o.emit(progress.Event{
				RunID:   runID,
				TS:      time.Now().UTC(),
				Stage:   progress.StageURLDone,
				URL:     url,
				Site:    advisory.Domain(url),
				Status:  result.Status,
				Current: offset + i + 1,
				Total:   total,
				Links:   links,
				Dur:     result.Timings.Total,
				Note:    result.ErrorText,
			})
		}
	}()

	<-done
}

func (o *Orchestrator) emit(evt progress.Event) {
	if o.emitter != nil {
		o.emitter.Emit(evt)
	}
}

// uniqueURLs flattens every record's URL cell into a deduplicated slice in
// first-encounter order. URLs that fail normalization are collected
// separately so they surface as failed results without a fetch.
func uniqueURLs(ds *dataset.Dataset) ([]string, map[string]string) {
	seen := make(map[string]struct{})
	var unique []string
	invalid := make(map[string]string)

	for row := 0; row < ds.Len(); row++ {
		for _, raw := range ds.URLs(row) {
			normalized, err := advisory.NormalizeURL(raw)
			if err != nil {
				if _, ok := invalid[raw]; !ok {
					invalid[raw] = err.Error()
				}
				continue
			}
			if _, ok := seen[normalized]; ok {
				continue
			}
			seen[normalized] = struct{}{}
			unique = append(unique, normalized)
		}
	}
	return unique, invalid
}

func summarize(results map[string]advisory.Result, elapsed time.Duration) advisory.Summary {
	summary := advisory.Summary{
		TotalURLs:      len(results),
		Elapsed:        elapsed,
		ErrorBreakdown: make(map[advisory.ErrorKind]int),
	}
	for _, r := range results {
		switch r.Status {
		case advisory.StatusSuccess:
			summary.SuccessCount++
		case advisory.StatusEmpty:
			summary.EmptyCount++
		default:
			summary.FailedCount++
		}
		if r.Kind != advisory.ErrorNone {
			summary.ErrorBreakdown[r.Kind]++
		}
		if r.Remediation != nil {
			summary.LinksFound += len(r.Remediation.DownloadLinks)
		}
	}
	return summary
}
