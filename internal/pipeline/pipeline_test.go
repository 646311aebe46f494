package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"auditflow/internal/config"
	"auditflow/internal/reflection"
	"auditflow/internal/risk"
	"auditflow/internal/schema"
)

// ── Stage stubs ──────────────────────────────────────────────────────────────

type stubIngestor struct {
	docs []schema.DocumentBlock
}

func (s *stubIngestor) Ingest(_ []string) ([]schema.DocumentBlock, []string) {
	return s.docs, nil
}

func (s *stubIngestor) ScanDirs(_ []string) []string { return nil }

type stubEvaluator struct {
	violations []schema.Violation
	panicWith  any
}

func (s *stubEvaluator) Evaluate(_ context.Context, _ []schema.Rule, _ []schema.DocumentBlock) ([]schema.Violation, []string) {
	if s.panicWith != nil {
		panic(s.panicWith)
	}
	return s.violations, nil
}

// stubReflector applies a scripted result per invocation and records calls.
type stubReflector struct {
	results []reflection.Result
	calls   int
}

func (s *stubReflector) Run(_ context.Context, violations []schema.Violation, _ []schema.Rule, _ int) reflection.Result {
	s.calls++
	if s.calls <= len(s.results) {
		return s.results[s.calls-1]
	}
	// Default: keep everything unchanged, still uncertain.
	return reflection.Result{Violations: violations, NeedsRefinement: true}
}

type stubBuilder struct{ built int }

func (s *stubBuilder) Build(state *AuditState) *schema.AuditReport {
	s.built++
	report := &schema.AuditReport{Violations: state.Violations}
	if state.RiskScores != nil {
		report.RiskAssessment = *state.RiskScores
	}
	return report
}

type stubDispatcher struct {
	err        error
	dispatched int
}

func (s *stubDispatcher) Dispatch(_ *AuditState) error {
	s.dispatched++
	return s.err
}

// ── Helpers ──────────────────────────────────────────────────────────────────

func testConfig() config.Config {
	cfg := config.Default()
	cfg.RulesDir = "nonexistent" // forces builtin rule fallback when used
	return cfg
}

func realClassifier(cfg config.Config) Classifier {
	return risk.New(
		risk.Weights{High: cfg.HighWeight, Medium: cfg.MediumWeight, Low: cfg.LowWeight},
		risk.Thresholds{
			CriticalComplianceFloor: cfg.CriticalComplianceFloor,
			HighComplianceFloor:     cfg.HighComplianceFloor,
			ModerateComplianceFloor: cfg.ModerateComplianceFloor,
			HighSeverityMax:         cfg.HighSeverityThreshold,
			MediumCountMax:          cfg.MediumCountThreshold,
			PassThreshold:           cfg.PassThreshold,
		},
	)
}

func fixedRules(n int) []schema.Rule {
	rs := make([]schema.Rule, n)
	for i := range rs {
		rs[i] = schema.Rule{ID: "R-00" + string(rune('1'+i)), Name: "Rule", Severity: schema.SeverityHigh, Category: "security"}
	}
	return rs
}

func newTestPipeline(cfg config.Config, deps Deps) *Pipeline {
	if deps.LoadRules == nil {
		rs := fixedRules(5)
		deps.LoadRules = func(string) ([]schema.Rule, []string) { return rs, nil }
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(cfg, deps, logger)
}

func oneDoc() []schema.DocumentBlock {
	return []schema.DocumentBlock{{
		Metadata: schema.DocumentMeta{FileName: "main.py"},
		DocType:  schema.DocCode,
		Content:  "print('hi')",
	}}
}

// ── Tests ────────────────────────────────────────────────────────────────────

func TestRunCleanAudit(t *testing.T) {
	cfg := testConfig()
	builder := &stubBuilder{}
	dispatcher := &stubDispatcher{}
	reflector := &stubReflector{}
	p := newTestPipeline(cfg, Deps{
		Ingestor:   &stubIngestor{docs: oneDoc()},
		Evaluator:  &stubEvaluator{},
		Classifier: realClassifier(cfg),
		Reflector:  reflector,
		Builder:    builder,
		Dispatcher: dispatcher,
	})

	state := p.Run(context.Background(), NewAuditState([]string{"main.py"}))

	if state.ProcessingStage != StageDone {
		t.Errorf("final stage = %q, want done", state.ProcessingStage)
	}
	if !state.AuditPassed {
		t.Error("clean audit should pass")
	}
	if reflector.calls != 0 {
		t.Errorf("reflection ran %d times with no violations, want 0", reflector.calls)
	}
	if builder.built != 1 || dispatcher.dispatched != 1 {
		t.Errorf("report built %d / dispatched %d times, want 1/1", builder.built, dispatcher.dispatched)
	}
	if len(state.Errors) != 0 {
		t.Errorf("unexpected errors: %v", state.Errors)
	}
}

func TestRunReflectionDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.EnableReflection = false
	reflector := &stubReflector{}
	uncertain := []schema.Violation{{RuleID: "R-001", Severity: schema.SeverityHigh, Confidence: 0.5}}
	p := newTestPipeline(cfg, Deps{
		Ingestor:   &stubIngestor{docs: oneDoc()},
		Evaluator:  &stubEvaluator{violations: uncertain},
		Classifier: realClassifier(cfg),
		Reflector:  reflector,
		Builder:    &stubBuilder{},
		Dispatcher: &stubDispatcher{},
	})

	state := p.Run(context.Background(), NewAuditState([]string{"main.py"}))

	if reflector.calls != 0 {
		t.Errorf("reflection ran %d times while disabled, want 0", reflector.calls)
	}
	if len(state.ReflectionNotes) != 0 {
		t.Errorf("reflection notes present while disabled: %v", state.ReflectionNotes)
	}
	if state.FinalReport == nil {
		t.Error("report not generated")
	}
}

func TestRunReflectionRemovesFalsePositive(t *testing.T) {
	cfg := testConfig()
	reflector := &stubReflector{results: []reflection.Result{{
		Violations: nil, // the single finding was judged invalid
		Notes: []schema.ReflectionNote{{
			Iteration:   1,
			ActionTaken: schema.ActionRemoved,
		}},
		NeedsRefinement: false,
	}}}
	p := newTestPipeline(cfg, Deps{
		Ingestor:   &stubIngestor{docs: oneDoc()},
		Evaluator:  &stubEvaluator{violations: []schema.Violation{{RuleID: "R-001", Severity: schema.SeverityHigh, Confidence: 0.5}}},
		Classifier: realClassifier(cfg),
		Reflector:  reflector,
		Builder:    &stubBuilder{},
		Dispatcher: &stubDispatcher{},
	})

	state := p.Run(context.Background(), NewAuditState([]string{"main.py"}))

	if reflector.calls != 1 {
		t.Errorf("reflection ran %d times, want 1", reflector.calls)
	}
	if state.CurrentIteration != 1 {
		t.Errorf("iteration = %d, want 1", state.CurrentIteration)
	}
	if len(state.Violations) != 0 {
		t.Errorf("removed violation still present: %+v", state.Violations)
	}
	if state.NeedsRefinement {
		t.Error("needs refinement should be false after removal")
	}
	if len(state.ReflectionNotes) != 1 {
		t.Errorf("got %d reflection notes, want 1", len(state.ReflectionNotes))
	}
}

func TestRunReflectionIterationBound(t *testing.T) {
	// The reflector never resolves uncertainty; the loop must still stop at
	// the configured maximum.
	cfg := testConfig()
	cfg.MaxReflectionIterations = 2
	reflector := &stubReflector{} // default result keeps violations uncertain
	p := newTestPipeline(cfg, Deps{
		Ingestor:   &stubIngestor{docs: oneDoc()},
		Evaluator:  &stubEvaluator{violations: []schema.Violation{{RuleID: "R-001", Severity: schema.SeverityLow, Confidence: 0.4}}},
		Classifier: realClassifier(cfg),
		Reflector:  reflector,
		Builder:    &stubBuilder{},
		Dispatcher: &stubDispatcher{},
	})

	state := p.Run(context.Background(), NewAuditState([]string{"main.py"}))

	if reflector.calls != 2 {
		t.Errorf("reflection ran %d times, want exactly 2", reflector.calls)
	}
	if state.CurrentIteration != 2 {
		t.Errorf("iteration = %d, want 2", state.CurrentIteration)
	}
	if state.ProcessingStage != StageDone {
		t.Errorf("final stage = %q, want done", state.ProcessingStage)
	}
}

func TestRunRescoresOnLoopBack(t *testing.T) {
	// The first pass drops one of two findings but stays uncertain, so the
	// loop re-enters risk classification and must score the refined set.
	cfg := testConfig()
	initial := []schema.Violation{
		{RuleID: "R-001", Severity: schema.SeverityHigh, Confidence: 0.5},
		{RuleID: "R-002", Severity: schema.SeverityHigh, Confidence: 0.5},
	}
	survivor := initial[:1]
	reflector := &stubReflector{results: []reflection.Result{
		{Violations: survivor, NeedsRefinement: true},
		{Violations: survivor, NeedsRefinement: false},
	}}
	p := newTestPipeline(cfg, Deps{
		Ingestor:   &stubIngestor{docs: oneDoc()},
		Evaluator:  &stubEvaluator{violations: initial},
		Classifier: realClassifier(cfg),
		Reflector:  reflector,
		Builder:    &stubBuilder{},
		Dispatcher: &stubDispatcher{},
	})

	state := p.Run(context.Background(), NewAuditState([]string{"main.py"}))

	if reflector.calls != 2 {
		t.Fatalf("reflection ran %d times, want 2", reflector.calls)
	}
	if state.RiskScores == nil {
		t.Fatal("risk scores missing")
	}
	// Five rules, one high violation: weighted 3 of max 15 leaves 80.0. The
	// two-violation score would have been 60.0.
	if state.RiskScores.CompliancePercentage != 80.0 {
		t.Errorf("final compliance = %v, want 80.0 for the refined set",
			state.RiskScores.CompliancePercentage)
	}
	if len(state.Violations) != 1 {
		t.Errorf("got %d violations, want 1 survivor", len(state.Violations))
	}
}

func TestRunStagePanicIsContained(t *testing.T) {
	cfg := testConfig()
	builder := &stubBuilder{}
	dispatcher := &stubDispatcher{}
	p := newTestPipeline(cfg, Deps{
		Ingestor:   &stubIngestor{docs: oneDoc()},
		Evaluator:  &stubEvaluator{panicWith: errors.New("model exploded")},
		Classifier: realClassifier(cfg),
		Reflector:  &stubReflector{},
		Builder:    builder,
		Dispatcher: dispatcher,
	})

	state := p.Run(context.Background(), NewAuditState([]string{"main.py"}))

	if state.ProcessingStage != StageDone {
		t.Errorf("final stage = %q, want done", state.ProcessingStage)
	}
	if len(state.Errors) != 1 {
		t.Fatalf("got %d errors, want 1: %v", len(state.Errors), state.Errors)
	}
	if builder.built != 1 || dispatcher.dispatched != 1 {
		t.Error("run must still produce and dispatch a report after a stage failure")
	}
}

func TestRunNoDocumentsWarns(t *testing.T) {
	cfg := testConfig()
	p := newTestPipeline(cfg, Deps{
		Ingestor:   &stubIngestor{},
		Evaluator:  &stubEvaluator{},
		Classifier: realClassifier(cfg),
		Reflector:  &stubReflector{},
		Builder:    &stubBuilder{},
		Dispatcher: &stubDispatcher{},
	})

	state := p.Run(context.Background(), NewAuditState(nil))

	found := false
	for _, w := range state.Warnings {
		if w == "No documents to evaluate" {
			found = true
		}
	}
	if !found {
		t.Errorf("missing empty-corpus warning, got %v", state.Warnings)
	}
	if state.FinalReport == nil {
		t.Error("report must be produced even with nothing to evaluate")
	}
}

func TestRunDispatchErrorRecorded(t *testing.T) {
	cfg := testConfig()
	p := newTestPipeline(cfg, Deps{
		Ingestor:   &stubIngestor{docs: oneDoc()},
		Evaluator:  &stubEvaluator{},
		Classifier: realClassifier(cfg),
		Reflector:  &stubReflector{},
		Builder:    &stubBuilder{},
		Dispatcher: &stubDispatcher{err: errors.New("disk full")},
	})

	state := p.Run(context.Background(), NewAuditState([]string{"main.py"}))

	if len(state.Errors) != 1 {
		t.Fatalf("got %d errors, want 1: %v", len(state.Errors), state.Errors)
	}
	if state.ProcessingStage != StageDone {
		t.Error("dispatch failure must not halt the run")
	}
}

func TestPreliminaryMatches(t *testing.T) {
	cfg := testConfig()
	rs := fixedRules(2)
	violations := []schema.Violation{
		{RuleID: rs[0].ID, Severity: schema.SeverityHigh, Confidence: 0.9},
		{RuleID: rs[0].ID, Severity: schema.SeverityHigh, Confidence: 0.9},
	}
	p := newTestPipeline(cfg, Deps{
		Ingestor:   &stubIngestor{docs: oneDoc()},
		Evaluator:  &stubEvaluator{violations: violations},
		Classifier: realClassifier(cfg),
		Reflector:  &stubReflector{},
		Builder:    &stubBuilder{},
		Dispatcher: &stubDispatcher{},
		LoadRules:  func(string) ([]schema.Rule, []string) { return rs, nil },
	})

	state := p.Run(context.Background(), NewAuditState([]string{"main.py"}))

	if got := state.PreliminaryMatches[rs[0].ID].ViolationsFound; got != 2 {
		t.Errorf("matches for %s = %d, want 2", rs[0].ID, got)
	}
	if got := state.PreliminaryMatches[rs[1].ID].ViolationsFound; got != 0 {
		t.Errorf("matches for %s = %d, want 0", rs[1].ID, got)
	}
}
