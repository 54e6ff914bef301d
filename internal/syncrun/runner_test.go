package syncrun

//go:generate mockgen -destination=mocks/mocks.go -package=mocks specsync/pkg/domain Extractor,DocumentStore

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"specsync/internal/config"
	"specsync/internal/infra/persistence/memory"
	"specsync/internal/observability"
	"specsync/internal/syncrun/mocks"
	"specsync/pkg/domain"
)

// =============================================================================
// Runner Test Suite
// =============================================================================
// The runner wires every pipeline stage together. These tests run whole
// domains against the in-memory store and use mocks where a failure has to be
// injected at a precise point.

type RunnerSuite struct {
	suite.Suite
	ctrl  *gomock.Controller
	store *memory.Store
	cfg   config.Config
	ctx   context.Context
}

func TestRunnerSuite(t *testing.T) {
	suite.Run(t, new(RunnerSuite))
}

func (s *RunnerSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.store = memory.NewStore()
	s.cfg = config.Default()
	s.ctx = context.Background()
}

func (s *RunnerSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *RunnerSuite) newRunner(store domain.DocumentStore, opts ...Option) *Runner {
	r, err := New(store, append([]Option{WithConfig(s.cfg)}, opts...)...)
	s.Require().NoError(err)
	r.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return r
}

func staticFacts(status domain.RunStatus, facts ...domain.Fact) domain.Extractor {
	return domain.ExtractorFunc(func(_ context.Context, _ string, cfg domain.ExtractorConfig) (domain.FactSet, error) {
		return domain.FactSet{Domain: cfg.Domain, Status: status, Facts: facts}, nil
	})
}

func issueFact(id, title, kind string) domain.Fact {
	return domain.Fact{"id": id, "title": title, "type": kind, "severity": "high"}
}

func featureFact(name string, dependsOn ...any) domain.Fact {
	return domain.Fact{"name": name, "status": "implemented", "depends_on": dependsOn}
}

func (s *RunnerSuite) load(d domain.Domain) domain.Document {
	stored, err := s.store.Load(s.ctx, d)
	s.Require().NoError(err)
	doc, err := domain.DecodeDocument(stored.Data)
	s.Require().NoError(err)
	return doc
}

// curate stands in for a human editing the stored document between runs.
func (s *RunnerSuite) curate(d domain.Domain, edit func(*domain.Record)) {
	doc := s.load(d)
	for i := range doc.Records {
		edit(&doc.Records[i])
	}
	prior := doc.Version
	doc.Version++
	data, err := domain.EncodeDocument(doc)
	s.Require().NoError(err)
	s.Require().NoError(s.store.CompareAndSwap(s.ctx, d, prior, data))
}

func domainReport(r domain.Report, d domain.Domain) domain.DomainReport {
	for _, rep := range r.Domains {
		if rep.Domain == d {
			return rep
		}
	}
	return domain.DomainReport{}
}

// =============================================================================
// Construction
// =============================================================================

func (s *RunnerSuite) TestNew() {
	s.Run("nil store returns error", func() {
		_, err := New(nil)
		s.Error(err)
		s.Contains(err.Error(), "document store is required")
	})

	s.Run("nil registry returns error", func() {
		_, err := New(s.store, WithNormalizers(nil))
		s.Error(err)
	})

	s.Run("unknown domain is rejected before running", func() {
		r := s.newRunner(s.store)
		_, err := r.Run(s.ctx, domain.Domain("todos"))
		s.ErrorIs(err, domain.ErrUnknownDomain)
	})
}

// =============================================================================
// Pipeline behavior
// =============================================================================

func (s *RunnerSuite) TestRerunOverUnchangedFactsIsIdempotent() {
	metrics := observability.NewExpvarMetricsRecorder("")
	tracer := observability.NewJSONTracer(nil)
	ex := staticFacts(domain.RunComplete,
		issueFact("ISS-1", "Slow query", "performance"),
		issueFact("ISS-2", "Leaked handle", "bug"),
	)
	r := s.newRunner(s.store, WithExtractor(domain.DomainIssues, ex), WithMetrics(metrics), WithTracer(tracer))

	first, err := r.Run(s.ctx, domain.DomainIssues)
	s.Require().NoError(err)
	s.Require().Len(first.Domains, 1)
	s.Require().NoError(first.Domains[0].Err)
	s.True(first.Domains[0].Written)
	s.Equal(int64(1), first.Domains[0].Version)
	s.ElementsMatch([]string{"ISS-1", "ISS-2"}, first.Domains[0].Added)
	before, _ := s.store.Load(s.ctx, domain.DomainIssues)

	second, err := r.Run(s.ctx, domain.DomainIssues)
	s.Require().NoError(err)
	rep := second.Domains[0]
	s.False(rep.Written)
	s.Equal(int64(1), rep.Version)
	s.Empty(rep.Added)
	s.ElementsMatch([]string{"ISS-1", "ISS-2"}, rep.Unchanged)
	after, _ := s.store.Load(s.ctx, domain.DomainIssues)
	s.True(bytes.Equal(before.Data, after.Data), "document bytes changed on an identical re-run")
	s.NotEqual(first.RunID, second.RunID)

	snap := metrics.Snapshot()
	s.Equal(int64(2), snap.Results["write"]["success"])
	s.Equal(int64(2), snap.Records["issues"]["added"])
	s.Equal(int64(1), snap.Versions["issues"])
	spans := tracer.Entries()
	s.Require().NotEmpty(spans)
	for _, span := range spans {
		s.Equal(domain.DomainIssues, span.Domain)
		s.NotEmpty(span.RunID)
	}
}

func (s *RunnerSuite) TestExtractorFailureMarksRecordsStale() {
	ex := mocks.NewMockExtractor(s.ctrl)
	gomock.InOrder(
		ex.EXPECT().Scan(gomock.Any(), gomock.Any(), gomock.Any()).Return(domain.FactSet{
			Domain: domain.DomainIssues,
			Facts:  []domain.Fact{issueFact("ISS-1", "Slow query", "performance"), issueFact("ISS-2", "Leak", "bug")},
		}, nil),
		ex.EXPECT().Scan(gomock.Any(), gomock.Any(), gomock.Any()).Return(domain.FactSet{}, errors.New("scanner crashed")),
	)
	r := s.newRunner(s.store, WithExtractor(domain.DomainIssues, ex))

	_, err := r.Run(s.ctx, domain.DomainIssues)
	s.Require().NoError(err)
	report, err := r.Run(s.ctx, domain.DomainIssues)
	s.Require().NoError(err)

	rep := report.Domains[0]
	s.NoError(rep.Err)
	s.True(rep.ExtractorFailed)
	s.Empty(rep.Retired)
	s.ElementsMatch([]string{"ISS-1", "ISS-2"}, rep.Stale)
	s.Equal(int64(2), rep.Version)
	for _, rec := range s.load(domain.DomainIssues).Records {
		s.Equal(domain.StatusStale, rec.Status)
	}
}

func (s *RunnerSuite) TestPartialRunNeverRetires() {
	r := s.newRunner(s.store, WithExtractor(domain.DomainIssues, staticFacts(domain.RunComplete,
		issueFact("ISS-1", "Slow query", "performance"),
		issueFact("ISS-2", "Leak", "bug"),
	)))
	_, err := r.Run(s.ctx, domain.DomainIssues)
	s.Require().NoError(err)

	partial := s.newRunner(s.store, WithExtractor(domain.DomainIssues, staticFacts(domain.RunPartial,
		issueFact("ISS-1", "Slow query", "performance"),
	)))
	report, err := partial.Run(s.ctx, domain.DomainIssues)
	s.Require().NoError(err)
	s.True(report.Domains[0].ExtractorFailed)
	s.Equal([]string{"ISS-2"}, report.Domains[0].Stale)
	s.Empty(report.Domains[0].Retired)

	complete := s.newRunner(s.store, WithExtractor(domain.DomainIssues, staticFacts(domain.RunComplete,
		issueFact("ISS-1", "Slow query", "performance"),
	)))
	report, err = complete.Run(s.ctx, domain.DomainIssues)
	s.Require().NoError(err)
	s.Equal([]string{"ISS-2"}, report.Domains[0].Retired)
	s.Len(s.load(domain.DomainIssues).Records, 1)
}

func (s *RunnerSuite) TestMissingExtractorDegrades() {
	r := s.newRunner(s.store)
	report, err := r.Run(s.ctx, domain.DomainLessons)
	s.Require().NoError(err)
	rep := report.Domains[0]
	s.NoError(rep.Err)
	s.True(rep.ExtractorFailed)
	s.True(rep.Written)
	s.Equal(int64(1), rep.Version)
}

func (s *RunnerSuite) TestCycleMembersAreQuarantined() {
	r := s.newRunner(s.store, WithDefaultExtractor(staticFacts(domain.RunComplete,
		featureFact("a", "b"),
		featureFact("b", "a"),
		featureFact("c"),
	)))
	report, err := r.Run(s.ctx, domain.DomainFeatures)
	s.Require().NoError(err)
	rep := report.Domains[0]
	s.Require().NoError(rep.Err)

	reasons := make(map[string]domain.Reason)
	for _, q := range rep.Quarantined {
		reasons[q.ID] = q.Reason
	}
	s.Equal(map[string]domain.Reason{"a": domain.ReasonCycleDetected, "b": domain.ReasonCycleDetected}, reasons)
	s.Equal([]string{"c"}, s.load(domain.DomainFeatures).IDs())
}

func (s *RunnerSuite) TestFeaturesWriteBeforeCriticalPaths() {
	r := s.newRunner(s.store,
		WithExtractor(domain.DomainFeatures, staticFacts(domain.RunComplete, featureFact("checkout"))),
		WithExtractor(domain.DomainCriticalPaths, staticFacts(domain.RunComplete,
			domain.Fact{"name": "Buy item", "features": []any{"checkout"}},
			domain.Fact{"name": "Haunted flow", "features": []any{"ghost"}},
		)),
	)
	report, err := r.Run(s.ctx, domain.DomainCriticalPaths, domain.DomainFeatures)
	s.Require().NoError(err)
	s.Require().Len(report.Domains, 2)
	s.Equal(domain.DomainCriticalPaths, report.Domains[0].Domain)

	paths := report.Domains[0]
	s.Require().NoError(paths.Err)
	s.Equal([]string{"buy-item"}, paths.Added)
	s.Require().Len(paths.Quarantined, 1)
	s.Equal(domain.ReasonDanglingHardReference, paths.Quarantined[0].Reason)
	s.Equal("haunted-flow", paths.Quarantined[0].ID)
}

func (s *RunnerSuite) TestPersistedDomainsResolveReferences() {
	seed := s.newRunner(s.store, WithExtractor(domain.DomainFeatures, staticFacts(domain.RunComplete, featureFact("search"))))
	_, err := seed.Run(s.ctx, domain.DomainFeatures)
	s.Require().NoError(err)

	r := s.newRunner(s.store, WithExtractor(domain.DomainCriticalPaths, staticFacts(domain.RunComplete,
		domain.Fact{"name": "Find item", "features": []any{"search"}},
	)))
	report, err := r.Run(s.ctx, domain.DomainCriticalPaths)
	s.Require().NoError(err)
	s.Empty(report.Domains[0].Quarantined)
	s.Equal([]string{"find-item"}, report.Domains[0].Added)
}

func (s *RunnerSuite) TestRetiredFeatureKeepsCuratedPathWritable() {
	first := s.newRunner(s.store,
		WithExtractor(domain.DomainFeatures, staticFacts(domain.RunComplete, featureFact("checkout"))),
		WithExtractor(domain.DomainCriticalPaths, staticFacts(domain.RunComplete,
			domain.Fact{"name": "Buy", "features": []any{"checkout"}},
		)),
	)
	_, err := first.Run(s.ctx, domain.DomainFeatures, domain.DomainCriticalPaths)
	s.Require().NoError(err)
	s.Require().Equal([]string{"buy"}, s.load(domain.DomainCriticalPaths).IDs())

	coverage := 80
	s.curate(domain.DomainCriticalPaths, func(rec *domain.Record) {
		cp := rec.Payload.(domain.CriticalPath)
		cp.Coverage = &coverage
		rec.Payload = cp
	})

	empty := s.newRunner(s.store, WithDefaultExtractor(staticFacts(domain.RunComplete)))
	for run := 2; run <= 3; run++ {
		report, err := empty.Run(s.ctx, domain.DomainFeatures, domain.DomainCriticalPaths)
		s.Require().NoError(err)
		s.Empty(report.Failed(), "run %d", run)

		if run == 2 {
			s.Equal([]string{"checkout"}, domainReport(report, domain.DomainFeatures).Retired)
		}
		paths := domainReport(report, domain.DomainCriticalPaths)
		s.NoError(paths.Err, "run %d", run)
		s.Equal([]string{"buy"}, paths.Stale)
		s.Equal(domain.StatusTotals{Stale: 1}, paths.Totals)
		s.Require().Len(paths.Warnings, 1, "run %d", run)
		s.Equal("buy", paths.Warnings[0].ID)
		s.Equal("features", paths.Warnings[0].Field)
		s.Contains(paths.Warnings[0].Detail, `features "checkout" not found`)
	}

	kept := s.load(domain.DomainCriticalPaths).Records
	s.Require().Len(kept, 1)
	s.Equal(domain.StatusStale, kept[0].Status)
	s.Empty(s.load(domain.DomainFeatures).Records)
}

func (s *RunnerSuite) TestResolvedIssueCountsAsArchived() {
	r := s.newRunner(s.store, WithExtractor(domain.DomainIssues, staticFacts(domain.RunComplete,
		issueFact("ISS-1", "Slow query", "performance"),
		issueFact("ISS-2", "Leak", "bug"),
	)))
	report, err := r.Run(s.ctx, domain.DomainIssues)
	s.Require().NoError(err)
	s.Equal(domain.StatusTotals{Active: 2}, report.Domains[0].Totals)

	s.curate(domain.DomainIssues, func(rec *domain.Record) {
		if rec.ID != "ISS-2" {
			return
		}
		issue := rec.Payload.(domain.Issue)
		issue.Resolved = true
		rec.Payload = issue
	})

	report, err = r.Run(s.ctx, domain.DomainIssues)
	s.Require().NoError(err)
	rep := report.Domains[0]
	s.Require().NoError(rep.Err)
	s.Equal([]string{"ISS-2"}, rep.Archived)
	s.Equal(domain.StatusTotals{Active: 1, Archived: 1}, rep.Totals)
}

// =============================================================================
// Concurrency control
// =============================================================================

func (s *RunnerSuite) TestConflictIsRetriedAgainstFreshDocument() {
	competing := domain.NewDocument(domain.DomainIssues)
	competing.Version = 1
	competing.Records = []domain.Record{{
		ID:         "ISS-9",
		Status:     domain.StatusActive,
		Provenance: domain.Provenance{Source: domain.SourceCurator},
		Payload:    domain.Issue{Title: "Manual note", IssueType: domain.IssueDocumentation, Severity: domain.SeverityLow},
	}}
	data, err := domain.EncodeDocument(competing)
	s.Require().NoError(err)

	var fired atomic.Bool
	s.store.BeforeSwap = func(d domain.Domain) {
		if d != domain.DomainIssues || !fired.CompareAndSwap(false, true) {
			return
		}
		s.NoError(s.store.CompareAndSwap(s.ctx, d, 0, data))
	}

	r := s.newRunner(s.store, WithExtractor(domain.DomainIssues, staticFacts(domain.RunComplete,
		issueFact("ISS-1", "Slow query", "performance"),
	)))
	report, err := r.Run(s.ctx, domain.DomainIssues)
	s.Require().NoError(err)

	rep := report.Domains[0]
	s.Require().NoError(rep.Err)
	s.Equal(2, rep.Attempts)
	s.Equal(int64(1), rep.PriorVersion)
	s.Equal(int64(2), rep.Version)
	s.ElementsMatch([]string{"ISS-1", "ISS-9"}, s.load(domain.DomainIssues).IDs())
}

func (s *RunnerSuite) TestConflictRetriesAreBounded() {
	s.cfg.Sync.Retry.MaxAttempts = 2
	store := mocks.NewMockDocumentStore(s.ctrl)
	store.EXPECT().Load(gomock.Any(), gomock.Any()).Return(domain.StoredDocument{}, domain.ErrNotFound).AnyTimes()
	store.EXPECT().CompareAndSwap(gomock.Any(), domain.DomainIssues, int64(0), gomock.Any()).
		Return(&domain.ConflictError{Domain: domain.DomainIssues, Expected: 0, Current: 3}).Times(2)

	var delays []time.Duration
	r := s.newRunner(store, WithExtractor(domain.DomainIssues, staticFacts(domain.RunComplete,
		issueFact("ISS-1", "Slow query", "performance"),
	)))
	r.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	report, err := r.Run(s.ctx, domain.DomainIssues)
	s.Require().NoError(err)

	rep := report.Domains[0]
	s.ErrorIs(rep.Err, domain.ErrConflict)
	s.Equal(2, rep.Attempts)
	s.False(rep.Written)
	s.NotEmpty(rep.Error)
	s.Equal([]time.Duration{s.cfg.Sync.Retry.GetRetryDelay(2)}, delays)
}

func (s *RunnerSuite) TestStoreFailureIsFatalForOneDomainOnly() {
	store := mocks.NewMockDocumentStore(s.ctrl)
	store.EXPECT().Load(gomock.Any(), gomock.Any()).Return(domain.StoredDocument{}, domain.ErrNotFound).AnyTimes()
	store.EXPECT().CompareAndSwap(gomock.Any(), domain.DomainIssues, gomock.Any(), gomock.Any()).Return(errors.New("disk full"))
	store.EXPECT().CompareAndSwap(gomock.Any(), domain.DomainEnv, int64(0), gomock.Any()).Return(nil)

	r := s.newRunner(store,
		WithExtractor(domain.DomainIssues, staticFacts(domain.RunComplete, issueFact("ISS-1", "Slow query", "performance"))),
		WithExtractor(domain.DomainEnv, staticFacts(domain.RunComplete, domain.Fact{"name": "DATABASE_URL", "required": true})),
	)
	report, err := r.Run(s.ctx, domain.DomainIssues, domain.DomainEnv)
	s.Require().NoError(err)

	var writeErr *domain.WriteError
	s.Require().ErrorAs(report.Domains[0].Err, &writeErr)
	s.Equal("cas", writeErr.Op)
	s.NoError(report.Domains[1].Err)
	s.True(report.Domains[1].Written)
	s.Len(report.Failed(), 1)
}

func (s *RunnerSuite) TestCancelledRunWritesNothing() {
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()
	r := s.newRunner(s.store, WithDefaultExtractor(staticFacts(domain.RunComplete, issueFact("ISS-1", "Slow query", "performance"))))
	report, err := r.Run(ctx, domain.DomainIssues)
	s.Require().NoError(err)
	s.ErrorIs(report.Domains[0].Err, context.Canceled)
	s.Empty(s.store.Domains())
}

func TestStagesOrderReferencedDomainsFirst(t *testing.T) {
	stages, err := Stages([]domain.Domain{domain.DomainCriticalPaths, domain.DomainIssues, domain.DomainFeatures})
	if err != nil {
		t.Fatalf("stages: %v", err)
	}
	if len(stages) != 2 {
		t.Fatalf("expected 2 stages, got %v", stages)
	}
	if stages[0][0] != domain.DomainFeatures || stages[0][1] != domain.DomainIssues || stages[1][0] != domain.DomainCriticalPaths {
		t.Fatalf("unexpected order %v", stages)
	}

	stages, err = Stages([]domain.Domain{domain.DomainCriticalPaths})
	if err != nil || len(stages) != 1 {
		t.Fatalf("referenced domain outside the run must not add a stage: %v %v", stages, err)
	}
}
