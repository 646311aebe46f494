// Package pipeline wires the audit stages into a fixed workflow with a
// bounded reflection loop. The topology is hard-wired: ingestion →
// rule_retrieval → compliance_evaluation → risk_classification →
// {reflection ⇄ risk_classification} → report_generation → output_dispatch.
//
// Every stage is a total function over the shared AuditState: internal
// failures are caught at the stage boundary and appended to state.Errors so
// the run always proceeds to completion with a best-effort report.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"auditflow/internal/config"
	"auditflow/internal/reflection"
	"auditflow/internal/rules"
	"auditflow/internal/schema"
)

// Stage identifies a workflow stage.
type Stage string

const (
	StageInitialized          Stage = "initialized"
	StageIngestion            Stage = "ingestion"
	StageRuleRetrieval        Stage = "rule_retrieval"
	StageComplianceEvaluation Stage = "compliance_evaluation"
	StageRiskClassification   Stage = "risk_classification"
	StageReflection           Stage = "reflection"
	StageReportGeneration     Stage = "report_generation"
	StageOutputDispatch       Stage = "output_dispatch"
	StageDone                 Stage = "done"
)

// Ingestor produces document blocks from input paths.
type Ingestor interface {
	Ingest(paths []string) ([]schema.DocumentBlock, []string)
	ScanDirs(dirs []string) []string
}

// Evaluator produces violations from rules and documents.
type Evaluator interface {
	Evaluate(ctx context.Context, rules []schema.Rule, docs []schema.DocumentBlock) ([]schema.Violation, []string)
}

// Classifier scores a violation set.
type Classifier interface {
	Classify(violations []schema.Violation, rules []schema.Rule) schema.RiskScore
	Passed(score schema.RiskScore) bool
}

// Reflector re-examines uncertain violations.
type Reflector interface {
	Run(ctx context.Context, violations []schema.Violation, rules []schema.Rule, iteration int) reflection.Result
}

// ReportBuilder assembles the final audit report from the state.
type ReportBuilder interface {
	Build(state *AuditState) *schema.AuditReport
}

// Dispatcher delivers the finished report (console, files, ...).
type Dispatcher interface {
	Dispatch(state *AuditState) error
}

// Deps are the stage implementations the pipeline orchestrates.
type Deps struct {
	Ingestor   Ingestor
	Evaluator  Evaluator
	Classifier Classifier
	Reflector  Reflector
	Builder    ReportBuilder
	Dispatcher Dispatcher
	// LoadRules defaults to rules.Load when nil.
	LoadRules func(dir string) ([]schema.Rule, []string)
}

// Pipeline executes the audit workflow over a single AuditState.
type Pipeline struct {
	cfg    config.Config
	deps   Deps
	logger *slog.Logger
}

// New constructs a Pipeline.
func New(cfg config.Config, deps Deps, logger *slog.Logger) *Pipeline {
	if deps.LoadRules == nil {
		deps.LoadRules = rules.Load
	}
	return &Pipeline{cfg: cfg, deps: deps, logger: logger}
}

// Run drives the state machine from ingestion to completion and returns the
// same state it was given. Errors never abort the traversal.
func (p *Pipeline) Run(ctx context.Context, state *AuditState) *AuditState {
	stage := StageIngestion
	for stage != StageDone {
		state.ProcessingStage = stage
		p.logger.Info("stage start", "stage", stage)
		p.runStage(ctx, stage, state)
		stage = p.next(stage, state)
	}
	state.ProcessingStage = StageDone
	return state
}

// runStage executes one stage behind a recover barrier so no failure can
// escape the stage boundary.
func (p *Pipeline) runStage(ctx context.Context, stage Stage, state *AuditState) {
	defer func() {
		if r := recover(); r != nil {
			state.AddError(fmt.Sprintf("%s error: %v", stage, r))
			p.logger.Error("stage failed", "stage", stage, "panic", r)
		}
	}()

	switch stage {
	case StageIngestion:
		p.ingestion(state)
	case StageRuleRetrieval:
		p.ruleRetrieval(state)
	case StageComplianceEvaluation:
		p.complianceEvaluation(ctx, state)
	case StageRiskClassification:
		p.riskClassification(state)
	case StageReflection:
		p.reflection(ctx, state)
	case StageReportGeneration:
		state.FinalReport = p.deps.Builder.Build(state)
	case StageOutputDispatch:
		if err := p.deps.Dispatcher.Dispatch(state); err != nil {
			state.AddError(fmt.Sprintf("output dispatch error: %v", err))
		}
	}
}

// next resolves the outgoing edge of a stage against the current state.
func (p *Pipeline) next(stage Stage, state *AuditState) Stage {
	switch stage {
	case StageIngestion:
		return StageRuleRetrieval
	case StageRuleRetrieval:
		return StageComplianceEvaluation
	case StageComplianceEvaluation:
		return StageRiskClassification
	case StageRiskClassification:
		if p.shouldReflect(state) {
			return StageReflection
		}
		return StageReportGeneration
	case StageReflection:
		if p.needsMoreReflection(state) {
			// Loop back and re-score the refined violation set.
			return StageRiskClassification
		}
		return StageReportGeneration
	case StageReportGeneration:
		return StageOutputDispatch
	default:
		return StageDone
	}
}

// shouldReflect is the conditional edge out of risk classification.
func (p *Pipeline) shouldReflect(state *AuditState) bool {
	if !p.cfg.EnableReflection || !state.ReflectionEnabled {
		return false
	}
	if len(state.Violations) == 0 {
		return false
	}
	if state.CurrentIteration >= p.cfg.MaxReflectionIterations {
		return false
	}
	return len(state.UncertainViolations(p.cfg.ConfidenceThreshold)) > 0
}

// needsMoreReflection is the conditional edge out of reflection.
func (p *Pipeline) needsMoreReflection(state *AuditState) bool {
	if state.CurrentIteration >= p.cfg.MaxReflectionIterations {
		return false
	}
	if !state.NeedsRefinement {
		return false
	}
	return len(state.UncertainViolations(p.cfg.ConfidenceThreshold)) > 0
}

func (p *Pipeline) ingestion(state *AuditState) {
	if len(state.RawInputPaths) == 0 {
		state.RawInputPaths = p.deps.Ingestor.ScanDirs(p.cfg.DocsDirs)
		p.logger.Info("gathered files from configured directories", "count", len(state.RawInputPaths))
	}
	docs, warnings := p.deps.Ingestor.Ingest(state.RawInputPaths)
	state.Documents = docs
	state.AddWarnings(warnings...)
	p.logger.Info("ingestion complete", "documents", len(docs))
}

func (p *Pipeline) ruleRetrieval(state *AuditState) {
	loaded, warnings := p.deps.LoadRules(p.cfg.RulesDir)
	state.Rules = loaded
	state.ActiveRuleCategories = rules.Categories(loaded)
	state.AddWarnings(warnings...)
	p.logger.Info("rule retrieval complete", "rules", len(loaded), "categories", state.ActiveRuleCategories)
}

func (p *Pipeline) complianceEvaluation(ctx context.Context, state *AuditState) {
	if len(state.Documents) == 0 {
		state.AddWarnings("No documents to evaluate")
		return
	}
	if len(state.Rules) == 0 {
		state.AddWarnings("No rules loaded for evaluation")
		return
	}

	violations, warnings := p.deps.Evaluator.Evaluate(ctx, state.Rules, state.Documents)
	state.Violations = violations
	state.AddWarnings(warnings...)

	for _, rule := range state.Rules {
		count := 0
		for _, v := range violations {
			if v.RuleID == rule.ID {
				count++
			}
		}
		state.PreliminaryMatches[rule.ID] = RuleMatch{RuleName: rule.Name, ViolationsFound: count}
	}
	p.logger.Info("compliance evaluation complete", "violations", len(violations))
}

func (p *Pipeline) riskClassification(state *AuditState) {
	score := p.deps.Classifier.Classify(state.Violations, state.Rules)
	state.RiskScores = &score
	state.AuditPassed = p.deps.Classifier.Passed(score)
	p.logger.Info("risk classification complete",
		"compliance", score.CompliancePercentage,
		"overall_risk", score.OverallRisk,
		"high", score.HighCount, "medium", score.MediumCount, "low", score.LowCount,
	)
}

func (p *Pipeline) reflection(ctx context.Context, state *AuditState) {
	// Entry guard mirrors the routing conditions so a direct invocation of
	// this stage can never exceed the iteration bound.
	if !p.cfg.EnableReflection || !state.ReflectionEnabled {
		p.logger.Info("reflection disabled, skipping")
		return
	}
	if state.CurrentIteration >= p.cfg.MaxReflectionIterations {
		p.logger.Info("maximum reflection iterations reached", "max", p.cfg.MaxReflectionIterations)
		return
	}
	if len(state.UncertainViolations(p.cfg.ConfidenceThreshold)) == 0 {
		p.logger.Info("no uncertain violations, reflection not needed")
		return
	}

	before := len(state.Violations)
	result := p.deps.Reflector.Run(ctx, state.Violations, state.Rules, state.CurrentIteration+1)
	state.Violations = result.Violations
	state.ReflectionNotes = append(state.ReflectionNotes, result.Notes...)
	state.CurrentIteration++
	state.NeedsRefinement = result.NeedsRefinement

	p.logger.Info("reflection complete",
		"iteration", state.CurrentIteration,
		"retained", len(result.Violations),
		"removed", before-len(result.Violations),
	)
}
