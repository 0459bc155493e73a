// Package pipeline wires extraction, deduplication, classification and
// alerting into one scan loop over a page.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/pevans/buloradar/alert"
	"github.com/pevans/buloradar/classifier"
	"github.com/pevans/buloradar/content"
	"github.com/pevans/buloradar/dedup"
	"github.com/pevans/buloradar/extractor"
	"github.com/pevans/buloradar/page"
	"github.com/pevans/buloradar/watcher"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// ErrNoVerdict is returned by Retrigger for units that were never resolved.
var ErrNoVerdict = errors.New("no cached verdict for unit")

// Classifier produces a verdict for one unit. classifier.Client is the
// production implementation.
type Classifier interface {
	Classify(ctx context.Context, unit content.Unit) (content.Verdict, error)
}

// Options configures a pipeline.
type Options struct {
	Extractor extractor.Config
	Dedup     dedup.Config
	Alert     alert.Config
	Watcher   watcher.Config
	// Concurrency bounds classifications in flight at once.
	Concurrency int
	// ScanChunk is how many units a scan extracts before it releases the
	// page so host writes can go through.
	ScanChunk int

	Logger   *zap.Logger
	Metrics  *Metrics
	Listener alert.Listener

	DedupOptions []dedup.Option
}

// DefaultScanChunk is the number of units extracted per page view.
const DefaultScanChunk = 256

// DefaultOptions returns the default component configs and five concurrent
// classifications.
func DefaultOptions() Options {
	return Options{
		Extractor:   extractor.DefaultConfig(),
		Dedup:       dedup.DefaultConfig(),
		Alert:       alert.DefaultConfig(),
		Watcher:     watcher.DefaultConfig(),
		Concurrency: 5,
		ScanChunk:   DefaultScanChunk,
	}
}

// ScanResult counts what one scan did with the units it found.
type ScanResult struct {
	Units      int
	Forwarded  int
	Suppressed int
	Resolved   int
}

// Pipeline scans one page. All of its state, including the verdict cache,
// lives and dies with the page.
type Pipeline struct {
	page       *page.Page
	classifier Classifier
	extractor  *extractor.Extractor
	dedup      *dedup.Deduplicator
	renderer   *alert.Renderer
	watcherCfg watcher.Config
	logger     *zap.Logger
	metrics    *Metrics

	scanChunk int
	sem       chan struct{}
	wg        sync.WaitGroup

	mu        sync.Mutex
	presented map[string]content.Verdict
}

// New builds a pipeline over pg.
func New(pg *page.Page, clf Classifier, opts Options) (*Pipeline, error) {
	if pg == nil {
		return nil, errors.New("page is required")
	}
	if clf == nil {
		return nil, errors.New("classifier is required")
	}

	// Alerts are mounted inside the page and are never scanned.
	extCfg := opts.Extractor
	extCfg.ExcludeSelectors = append(slices.Clone(extCfg.ExcludeSelectors), alert.ContainerSelector)

	ext, err := extractor.New(extCfg)
	if err != nil {
		return nil, fmt.Errorf("invalid extractor config: %w", err)
	}

	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultOptions().Concurrency
	}
	if opts.ScanChunk <= 0 {
		opts.ScanChunk = DefaultScanChunk
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewMetrics(prometheus.NewRegistry())
	}

	return &Pipeline{
		page:       pg,
		classifier: clf,
		extractor:  ext,
		dedup:      dedup.New(opts.Dedup, opts.DedupOptions...),
		renderer:   alert.NewRenderer(pg, opts.Alert, opts.Listener),
		watcherCfg: opts.Watcher,
		logger:     logger.With(zap.String("page_url", pg.URL())),
		metrics:    metrics,
		scanChunk:  opts.ScanChunk,
		sem:        make(chan struct{}, opts.Concurrency),
		presented:  make(map[string]content.Verdict),
	}, nil
}

// Scan extracts every unit from the page and routes it through the
// deduplicator. Forwarded units are classified in the background; use Wait
// to block until they finish.
//
// Extraction runs in chunks of ScanChunk units, each under its own read
// view, so host writes wait for at most one chunk. A write between chunks
// is seen by the rest of the scan only where it touches nodes already
// matched; the mutation notification schedules a fresh scan for the rest.
func (p *Pipeline) Scan(ctx context.Context) (ScanResult, error) {
	var result ScanResult

	p.metrics.Scans.Inc()

	var next func() (content.Unit, bool)
	var stop func()
	defer func() {
		if stop != nil {
			stop()
		}
	}()

	for done := false; !done; {
		batch := make([]content.Unit, 0, p.scanChunk)
		err := p.page.View(func(doc *goquery.Document) {
			if next == nil {
				next, stop = iter.Pull(p.extractor.Extract(doc, p.page.URL()))
			}
			for len(batch) < p.scanChunk {
				unit, ok := next()
				if !ok {
					done = true
					return
				}
				batch = append(batch, unit)
			}
		})
		if err != nil {
			return result, err
		}

		var cached []content.Verdict
		for _, unit := range batch {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			result.Units++
			p.metrics.UnitsExtracted.WithLabelValues(string(unit.Kind)).Inc()

			out := p.dedup.Submit(unit)
			p.metrics.Submissions.WithLabelValues(out.Status.String()).Inc()

			switch out.Status {
			case dedup.StatusResolved:
				result.Resolved++
				cached = append(cached, *out.Verdict)
			case dedup.StatusSuppressed:
				result.Suppressed++
			case dedup.StatusForwarded:
				result.Forwarded++
				p.dispatch(ctx, unit)
			}
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}

		for _, v := range cached {
			p.present(v)
		}
	}

	p.logger.Debug("Scan complete",
		zap.Int("units", result.Units),
		zap.Int("forwarded", result.Forwarded),
		zap.Int("suppressed", result.Suppressed),
		zap.Int("resolved", result.Resolved))

	return result, nil
}

// Resubmit classifies a failed unit again without waiting for its record to
// expire. It reports whether a classification was started.
func (p *Pipeline) Resubmit(ctx context.Context, unit content.Unit) bool {
	out := p.dedup.Retry(unit)
	p.metrics.Submissions.WithLabelValues(out.Status.String()).Inc()

	switch out.Status {
	case dedup.StatusForwarded:
		p.dispatch(ctx, unit)
		return true
	case dedup.StatusResolved:
		p.present(*out.Verdict)
	}
	return false
}

// Retrigger shows the alert for a resolved unit again, even if the user
// dismissed it.
func (p *Pipeline) Retrigger(unitID string) error {
	v, ok := p.dedup.Verdict(unitID)
	if !ok {
		return ErrNoVerdict
	}
	if _, err := p.renderer.Render(v); err != nil {
		return err
	}

	p.mu.Lock()
	p.presented[unitID] = v
	p.mu.Unlock()
	p.metrics.AlertsRendered.Inc()
	return nil
}

// Watch runs an initial scan and then rescans on page mutations, debounced
// by the watcher window. It blocks until ctx is done.
func (p *Pipeline) Watch(ctx context.Context) error {
	w := watcher.New(p.watcherCfg, func() {
		if _, err := p.Scan(ctx); err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Warn("Rescan failed", zap.Error(err))
		}
	})
	defer w.Stop()
	p.page.Observe(w.Notify)

	if _, err := p.Scan(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	return nil
}

// Wait blocks until every classification started so far has finished.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// Flagged returns the verdicts currently presented, ordered by title.
func (p *Pipeline) Flagged() []content.Verdict {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]content.Verdict, 0, len(p.presented))
	for _, v := range p.presented {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Title != out[j].Title {
			return out[i].Title < out[j].Title
		}
		return out[i].UnitID < out[j].UnitID
	})
	return out
}

// Renderer exposes the alert renderer, mainly so hosts can look up handles.
func (p *Pipeline) Renderer() *alert.Renderer {
	return p.renderer
}

// Deduplicator exposes the submission records.
func (p *Pipeline) Deduplicator() *dedup.Deduplicator {
	return p.dedup
}

// Close unloads the page. Classifications still in flight are abandoned and
// their results dropped.
func (p *Pipeline) Close() {
	p.page.Close()
	p.dedup.Reset()

	p.mu.Lock()
	clear(p.presented)
	p.mu.Unlock()
}

// dispatch classifies unit in the background. The call is detached from
// ctx's cancellation: a scan ending does not cancel its classifications,
// the classifier timeout bounds them instead.
func (p *Pipeline) dispatch(ctx context.Context, unit content.Unit) {
	ctx = context.WithoutCancel(ctx)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		p.sem <- struct{}{}
		p.metrics.InFlight.Inc()
		start := time.Now()
		verdict, err := p.classifier.Classify(ctx, unit)
		p.metrics.ClassifyDuration.Observe(time.Since(start).Seconds())
		p.metrics.InFlight.Dec()
		<-p.sem

		p.handleResult(unit, verdict, err)
	}()
}

func (p *Pipeline) handleResult(unit content.Unit, verdict content.Verdict, err error) {
	fields := []zap.Field{
		zap.String("unit_id", unit.ID),
		zap.String("kind", string(unit.Kind)),
	}

	if p.page.Closed() {
		p.metrics.DiscardedLateTotal.Inc()
		p.logger.Debug("Dropping verdict for closed page", fields...)
		return
	}

	switch {
	case err == nil:
		if !p.dedup.Resolve(unit.ID, verdict) {
			p.metrics.DiscardedLateTotal.Inc()
			p.logger.Debug("Dropping verdict for evicted submission", fields...)
			return
		}
		verdict.UnitID = unit.ID
		if !verdict.IsFlagged {
			p.metrics.Classifications.WithLabelValues("clean").Inc()
			return
		}
		p.metrics.Classifications.WithLabelValues("flagged").Inc()
		p.logger.Info("Flagged content", append(fields, zap.String("title", verdict.Title))...)
		p.present(verdict)

	case errors.Is(err, classifier.ErrInvalidResponse):
		p.dedup.Fail(unit.ID)
		p.metrics.Classifications.WithLabelValues("invalid_response").Inc()
		p.logger.Debug("Discarding invalid verdict", append(fields, zap.Error(err))...)

	case errors.Is(err, classifier.ErrTimeout):
		p.dedup.Fail(unit.ID)
		p.metrics.Classifications.WithLabelValues("timeout").Inc()
		p.logger.Warn("Classification timed out", append(fields, zap.Error(err))...)

	default:
		p.dedup.Fail(unit.ID)
		p.metrics.Classifications.WithLabelValues("network_error").Inc()
		p.logger.Warn("Classification failed", append(fields, zap.Error(err))...)
	}
}

// present renders a flagged verdict unless it has already been shown.
func (p *Pipeline) present(v content.Verdict) {
	if !v.IsFlagged {
		return
	}

	p.mu.Lock()
	if _, ok := p.presented[v.UnitID]; ok {
		p.mu.Unlock()
		return
	}
	p.presented[v.UnitID] = v
	p.mu.Unlock()

	if _, err := p.renderer.Render(v); err != nil {
		// Forget it so a later scan can try again once the mount exists.
		p.mu.Lock()
		delete(p.presented, v.UnitID)
		p.mu.Unlock()

		p.metrics.RenderFailures.Inc()
		p.logger.Warn("Failed to render alert",
			zap.String("unit_id", v.UnitID),
			zap.Error(err))
		return
	}
	p.metrics.AlertsRendered.Inc()
}
