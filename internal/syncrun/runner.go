// Package syncrun orchestrates a synchronization run: one pipeline per domain
// (extract, normalize, validate, merge, write), staged by cross-domain
// references and retried on compare-and-swap conflicts.
package syncrun

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"specsync/internal/config"
	"specsync/internal/extract"
	"specsync/internal/logger"
	"specsync/internal/merge"
	"specsync/internal/normalize"
	"specsync/internal/observability"
	"specsync/internal/validate"
	"specsync/internal/writer"
	"specsync/pkg/domain"
)

// ErrNoExtractor is reported for a domain without a registered extractor.
var ErrNoExtractor = errors.New("no extractor registered")

// Runner executes synchronization runs against one document store.
type Runner struct {
	store       domain.DocumentStore
	writer      *writer.Writer
	extractors  map[domain.Domain]domain.Extractor
	fallback    domain.Extractor
	normalizers *normalize.Registry
	cfg         config.Config
	log         *logger.Logger
	metrics     observability.MetricsRecorder
	tracer      observability.Tracer
	now         func() time.Time
	newRunID    func() string
	sleep       func(ctx context.Context, d time.Duration) error
}

// Option configures a Runner.
type Option func(r *Runner)

// WithConfig replaces the default configuration.
func WithConfig(cfg config.Config) Option {
	return func(r *Runner) {
		r.cfg = cfg
	}
}

// WithLogger sets the run logger.
func WithLogger(log *logger.Logger) Option {
	return func(r *Runner) {
		r.log = log
	}
}

// WithMetrics sets the stage metrics recorder. A recorder that also
// implements observability.DomainRecorder receives every domain report.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(r *Runner) {
		r.metrics = m
	}
}

// WithTracer sets the stage tracer.
func WithTracer(t observability.Tracer) Option {
	return func(r *Runner) {
		r.tracer = t
	}
}

// WithExtractor registers the extractor for one domain.
func WithExtractor(d domain.Domain, ex domain.Extractor) Option {
	return func(r *Runner) {
		r.extractors[d] = ex
	}
}

// WithDefaultExtractor serves every domain without a dedicated extractor.
func WithDefaultExtractor(ex domain.Extractor) Option {
	return func(r *Runner) {
		r.fallback = ex
	}
}

// WithNormalizers replaces the built-in normalizer registry.
func WithNormalizers(reg *normalize.Registry) Option {
	return func(r *Runner) {
		r.normalizers = reg
	}
}

// New constructs a Runner over store.
func New(store domain.DocumentStore, opts ...Option) (*Runner, error) {
	if store == nil {
		return nil, errors.New("document store is required")
	}
	r := &Runner{
		store:       store,
		writer:      writer.New(store),
		extractors:  make(map[domain.Domain]domain.Extractor),
		normalizers: normalize.Default(),
		cfg:         config.Default(),
		log:         logger.Discard(),
		metrics:     observability.NoopMetrics{},
		tracer:      observability.NoopTracer{},
		now:         time.Now,
		newRunID:    uuid.NewString,
		sleep:       sleepContext,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.normalizers == nil {
		return nil, errors.New("normalizer registry is required")
	}
	if r.cfg.Sync.Retry.MaxAttempts < 1 {
		r.cfg.Sync.Retry.MaxAttempts = 1
	}
	return r, nil
}

// Run synchronizes domains, or the configured domains when none are given.
// Per-domain failures are reported in the returned report and never abort the
// other domains; an error is returned only when the run cannot be planned.
func (r *Runner) Run(ctx context.Context, domains ...domain.Domain) (domain.Report, error) {
	if len(domains) == 0 {
		configured, err := r.cfg.Domains()
		if err != nil {
			return domain.Report{}, err
		}
		domains = configured
	}
	for _, d := range domains {
		if !d.Valid() {
			return domain.Report{}, fmt.Errorf("%w: %s", domain.ErrUnknownDomain, d)
		}
		if _, ok := r.normalizers.Lookup(d); !ok {
			return domain.Report{}, fmt.Errorf("no normalizer for %s: %w", d, domain.ErrUnknownDomain)
		}
	}
	stages, err := Stages(domains)
	if err != nil {
		return domain.Report{}, fmt.Errorf("plan run: %w", err)
	}

	report := domain.Report{RunID: r.newRunID(), StartedAt: r.now().UTC()}
	log := r.log.With("run_id", report.RunID)
	log.Info("sync run started", "domains", len(domains), "stages", len(stages))

	refs := validate.NewReferences()
	r.indexFiles(ctx, refs, log)
	r.publishPersisted(ctx, refs, domains, log)

	results := make(map[domain.Domain]domain.DomainReport, len(domains))
	for _, stage := range stages {
		reports := make([]domain.DomainReport, len(stage))
		g, gctx := errgroup.WithContext(ctx)
		if n := r.cfg.Sync.Concurrency; n > 0 {
			g.SetLimit(n)
		}
		for i, d := range stage {
			i, d := i, d
			g.Go(func() error {
				reports[i] = r.runDomain(gctx, report.RunID, d, refs, log)
				return nil
			})
		}
		_ = g.Wait()
		for _, rep := range reports {
			results[rep.Domain] = rep
		}
	}

	for _, d := range domains {
		rep := results[d]
		if rep.Err != nil {
			rep.Error = rep.Err.Error()
		}
		if rec, ok := r.metrics.(observability.DomainRecorder); ok {
			rec.RecordDomain(ctx, rep)
		}
		report.Domains = append(report.Domains, rep)
	}
	report.FinishedAt = r.now().UTC()
	log.Info("sync run finished",
		"failed", len(report.Failed()),
		"duration_ms", report.FinishedAt.Sub(report.StartedAt).Milliseconds(),
	)
	return report, nil
}

// indexFiles installs the project file index for soft file references.
func (r *Runner) indexFiles(ctx context.Context, refs *validate.References, log *logger.Logger) {
	if !r.cfg.Project.IndexFiles {
		return
	}
	files, err := extract.IndexTree(ctx, r.cfg.Project.Root)
	if err != nil {
		log.Warn("project file index unavailable, skipping file reference checks", "error", err)
		return
	}
	refs.SetFiles(files)
}

// publishPersisted makes the stored records of domains outside this run
// resolvable as reference targets.
func (r *Runner) publishPersisted(ctx context.Context, refs *validate.References, running []domain.Domain, log *logger.Logger) {
	inRun := make(map[domain.Domain]bool, len(running))
	for _, d := range running {
		inRun[d] = true
	}
	for _, d := range domain.AllDomains() {
		if inRun[d] {
			continue
		}
		doc, err := writer.Load(ctx, r.store, d)
		if err != nil {
			log.Warn("persisted document unavailable for reference checks", "domain", string(d), "error", err)
			continue
		}
		refs.Publish(d, doc.Records)
	}
}

// observe wraps one pipeline stage in a span and a latency observation.
func (r *Runner) observe(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, span := r.tracer.Start(ctx, op)
	start := time.Now()
	err := fn(ctx)
	r.metrics.Observe(ctx, op, err == nil, time.Since(start))
	span.End(err)
	return err
}

func (r *Runner) extractor(d domain.Domain) domain.Extractor {
	if ex, ok := r.extractors[d]; ok {
		return ex
	}
	return r.fallback
}

// extract runs the domain's extractor under the configured timeout. Any
// failure degrades to an empty failed FactSet.
func (r *Runner) extract(ctx context.Context, d domain.Domain, log *logger.Logger) domain.FactSet {
	var facts domain.FactSet
	err := r.observe(ctx, "extract", func(ctx context.Context) error {
		ex := r.extractor(d)
		if ex == nil {
			return &domain.ExtractionError{Domain: d, Err: ErrNoExtractor}
		}
		if timeout := r.cfg.ExtractorTimeout(); timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		set, err := ex.Scan(ctx, r.cfg.Project.Root, domain.ExtractorConfig{Domain: d, Options: r.cfg.Sync.ExtractorOptions})
		if err != nil {
			var extractErr *domain.ExtractionError
			if !errors.As(err, &extractErr) {
				err = &domain.ExtractionError{Domain: d, Err: err}
			}
			return err
		}
		if set.Domain == "" {
			set.Domain = d
		}
		if set.Domain != d {
			return &domain.ExtractionError{Domain: d, Err: fmt.Errorf("extractor returned facts for %s", set.Domain)}
		}
		facts = set
		return nil
	})
	if err != nil {
		log.Warn("extractor failed, keeping persisted records", "error", err)
		return domain.FailedFactSet(d)
	}
	if !facts.Complete() {
		log.Warn("extractor run incomplete, nothing will be retired", "status", string(facts.Status), "facts", len(facts.Facts))
	}
	return facts
}

// runDomain executes one domain's pipeline and never returns an error; the
// outcome is carried by the report.
func (r *Runner) runDomain(ctx context.Context, runID string, d domain.Domain, refs *validate.References, runLog *logger.Logger) domain.DomainReport {
	start := time.Now()
	log := runLog.With("domain", string(d))
	rep := domain.DomainReport{Domain: d}
	ctx = observability.WithLabels(ctx, observability.Labels{RunID: runID, Domain: d})

	if err := ctx.Err(); err != nil {
		rep.Err = err
		return r.finish(rep, start, log)
	}

	facts := r.extract(ctx, d, log)
	rep.ExtractorFailed = !facts.Complete()

	var normalized normalize.Result
	err := r.observe(ctx, "normalize", func(context.Context) error {
		var err error
		normalized, err = r.normalizers.Normalize(facts)
		return err
	})
	if err != nil {
		rep.Err = err
		return r.finish(rep, start, log)
	}
	rep.Notes = len(normalized.Notes)
	for _, n := range normalized.Notes {
		log.Debug("normalizer coerced a value", "index", n.Index, "id", n.ID, "field", n.Field, "detail", n.Detail)
	}

	policy := merge.Policy{ExtractorFailed: rep.ExtractorFailed, Rederive: r.cfg.Rederive(d)}
	retry := r.cfg.Sync.Retry
	for attempt := 1; ; attempt++ {
		rep.Attempts = attempt
		if attempt > 1 {
			if err := r.sleep(ctx, retry.GetRetryDelay(attempt)); err != nil {
				rep.Err = err
				break
			}
		}
		prev, err := writer.Load(ctx, r.store, d)
		if err != nil {
			rep.Err = err
			break
		}
		rep.PriorVersion = prev.Version
		rep.Version = prev.Version
		rep.Totals = prev.Totals()

		refs.Publish(d, merge.Retained(prev, rep.ExtractorFailed))
		var outcome validate.Outcome
		_ = r.observe(ctx, "validate", func(context.Context) error {
			outcome = validate.Validate(d, normalized.Candidates, refs)
			return nil
		})
		rep.Quarantined = outcome.Quarantined
		rep.Warnings = outcome.Warnings

		var merged domain.Document
		_ = r.observe(ctx, "merge", func(context.Context) error {
			merged, rep.Diff = merge.Merge(outcome.Accepted, prev, policy)
			return nil
		})

		var res writer.Result
		err = r.observe(ctx, "write", func(ctx context.Context) error {
			var err error
			res, err = r.writer.Write(ctx, merged, prev, refs)
			return err
		})
		if errors.Is(err, domain.ErrConflict) && attempt < retry.MaxAttempts {
			log.Warn("document changed concurrently, retrying", "attempt", attempt, "error", err)
			continue
		}
		if err != nil {
			rep.Err = err
			refs.Publish(d, prev.Records)
			break
		}
		rep.Version = res.Version
		rep.Written = res.Written
		rep.Totals = merged.Totals()
		refs.Publish(d, merged.Records)
		break
	}
	return r.finish(rep, start, log)
}

func (r *Runner) finish(rep domain.DomainReport, start time.Time, log *logger.Logger) domain.DomainReport {
	rep.Duration = time.Since(start)
	if rep.Err != nil {
		log.Error("domain sync failed", "attempts", rep.Attempts, "error", rep.Err)
		return rep
	}
	log.Debug("domain pipeline complete",
		"version", rep.Version,
		"written", rep.Written,
		"quarantined", len(rep.Quarantined),
		"attempts", rep.Attempts,
	)
	return rep
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
