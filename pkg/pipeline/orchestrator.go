// Package pipeline drives a single CI failure from stored event to
// merge-ready pull request. The orchestrator owns the run state
// machine; every transition is persisted before the side effect it
// authorizes.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"remedy-copilot/pkg/adapters"
	"remedy-copilot/pkg/analysis"
	"remedy-copilot/pkg/consensus"
	"remedy-copilot/pkg/diff"
	"remedy-copilot/pkg/gitrepo"
	"remedy-copilot/pkg/governor"
	"remedy-copilot/pkg/patch"
	"remedy-copilot/pkg/plan"
	"remedy-copilot/pkg/policy"
	"remedy-copilot/pkg/scm"
	"remedy-copilot/pkg/store"
	"remedy-copilot/pkg/types"
)

// PatchValidator is the sandbox seam; satisfied by sandbox.Validator.
type PatchValidator interface {
	Validate(ctx context.Context, req *types.ValidationRequest, adapter adapters.Adapter) *types.ValidationResult
}

// Config holds orchestrator tunables.
type Config struct {
	CloneTimeout time.Duration
	CloneDepth   int
	BranchPrefix string
}

// DefaultConfig returns the orchestrator defaults.
func DefaultConfig() Config {
	return Config{
		CloneTimeout: 120 * time.Second,
		CloneDepth:   50,
		BranchPrefix: "fix",
	}
}

// Orchestrator executes the fix pipeline for one run at a time.
type Orchestrator struct {
	events     store.EventStore
	runs       store.RunStore
	contexts   *ContextBuilder
	rca        *analysis.Engine
	registry   *adapters.Registry
	planner    plan.Planner
	policy     *policy.Engine
	generator  *patch.Generator
	git        *gitrepo.Manager
	validator  PatchValidator
	consensus  *consensus.Coordinator
	guardrails *Guardrails
	redactor   *policy.Redactor
	pr         scm.PROrchestrator
	cfg        Config
	logger     zerolog.Logger
}

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	Events     store.EventStore
	Runs       store.RunStore
	Contexts   *ContextBuilder
	RCA        *analysis.Engine
	Registry   *adapters.Registry
	Planner    plan.Planner
	Policy     *policy.Engine
	Generator  *patch.Generator
	Git        *gitrepo.Manager
	Validator  PatchValidator
	Consensus  *consensus.Coordinator
	Guardrails *Guardrails
	Redactor   *policy.Redactor
	PR         scm.PROrchestrator
}

// New creates an orchestrator.
func New(deps Deps, cfg Config, logger zerolog.Logger) *Orchestrator {
	if cfg.CloneTimeout <= 0 {
		cfg.CloneTimeout = DefaultConfig().CloneTimeout
	}
	if cfg.CloneDepth <= 0 {
		cfg.CloneDepth = DefaultConfig().CloneDepth
	}
	if cfg.BranchPrefix == "" {
		cfg.BranchPrefix = DefaultConfig().BranchPrefix
	}
	return &Orchestrator{
		events:     deps.Events,
		runs:       deps.Runs,
		contexts:   deps.Contexts,
		rca:        deps.RCA,
		registry:   deps.Registry,
		planner:    deps.Planner,
		policy:     deps.Policy,
		generator:  deps.Generator,
		git:        deps.Git,
		validator:  deps.Validator,
		consensus:  deps.Consensus,
		guardrails: deps.Guardrails,
		redactor:   deps.Redactor,
		pr:         deps.PR,
		cfg:        cfg,
		logger:     logger.With().Str("component", "orchestrator").Logger(),
	}
}

// Execute runs the state machine for one run. It is designed to be
// called under the governor, which guarantees single-flight per run
// key. On every exit path the redacted provenance artifact is persisted
// and the clone is removed.
func (o *Orchestrator) Execute(ctx context.Context, run *types.FixPipelineRun) (err error) {
	event, err := o.events.Get(ctx, run.EventID)
	if err != nil {
		return fmt.Errorf("load event %s: %w", run.EventID, err)
	}

	clonePath := ""
	defer func() {
		o.finishRun(run, event)
		if clonePath != "" {
			o.git.Cleanup(clonePath)
		}
	}()

	log := o.logger.With().Str("run_id", run.ID).Str("repo", event.Repo).Logger()
	log.Info().Str("status", string(run.Status)).Int("attempt", run.AttemptCount).Msg("pipeline run started")

	// stage 1: failure context + root cause
	o.startStage(ctx, run, "context")
	bundle, err := o.contexts.Build(ctx, event)
	if err != nil {
		return o.retryable(ctx, run, "context", fmt.Errorf("build failure context: %w", err))
	}
	rcaResult, err := o.rca.Analyze(ctx, bundle)
	if err != nil {
		return o.retryable(ctx, run, "context", fmt.Errorf("root cause analysis: %w", err))
	}
	o.putArtifact(run, types.ArtifactContext, bundle)
	o.putArtifact(run, types.ArtifactRCA, rcaResult)
	o.endStage(ctx, run, "")

	if err := o.cancelled(ctx, run); err != nil {
		return err
	}

	// stage 2: adapter selection
	o.startStage(ctx, run, "adapter_selection")
	selection := o.registry.Select(bundle.LogText, nil)
	if selection == nil {
		return o.terminate(ctx, run, types.RunPlanBlocked, "no adapter matched the failure")
	}
	adapter := selection.Adapter
	run.AdapterName = selection.Name
	o.putArtifact(run, types.ArtifactDetection, selection.Detection)
	o.transition(ctx, run, types.RunAdapterSelected)
	o.endStage(ctx, run, selection.Name)

	// stage 3: plan generation
	o.startStage(ctx, run, "plan")
	fixPlan, err := o.planner.GeneratePlan(ctx, bundle, rcaResult, adapter)
	if err != nil {
		if errors.Is(err, plan.ErrNoPlan) {
			return o.terminate(ctx, run, types.RunPlanBlocked, "no plan could be generated")
		}
		return o.terminate(ctx, run, types.RunPlanBlocked, "plan generation failed: "+err.Error())
	}
	if reason := planOutsideAdapter(fixPlan, adapter); reason != "" {
		return o.terminate(ctx, run, types.RunPlanBlocked, reason)
	}
	o.putArtifact(run, types.ArtifactPlan, fixPlan)
	o.endStage(ctx, run, fixPlan.Category)

	// stage 4: plan policy + consensus
	o.startStage(ctx, run, "plan_policy")
	planDecision := o.policy.EvaluatePlan(policy.PlanIntent{
		TargetFiles:    fixPlan.Files,
		Category:       fixPlan.Category,
		OperationTypes: operationTypes(fixPlan),
	})
	o.putArtifact(run, types.ArtifactPlanPolicy, planDecision)

	agreement := o.consensus.Decide(fixPlan, planDecision, adapter)
	o.putArtifact(run, types.ArtifactConsensus, agreement)
	if !agreement.Accepted {
		return o.terminate(ctx, run, types.RunPlanBlocked, "consensus: "+agreement.State)
	}
	o.transition(ctx, run, types.RunPlanReady)
	o.endStage(ctx, run, "")

	if err := o.cancelled(ctx, run); err != nil {
		return err
	}

	// stage 5: clone and re-selection with the real file list
	o.startStage(ctx, run, "clone")
	clonePath, err = os.MkdirTemp("", "fixrun-")
	if err != nil {
		return fmt.Errorf("create clone dir: %w", err)
	}
	if err := o.git.Clone(ctx, clonePath, gitrepo.CloneOptions{
		URL:       event.RepoURL,
		Branch:    event.Branch,
		CommitSHA: event.CommitSHA,
		Depth:     o.cfg.CloneDepth,
		Timeout:   o.cfg.CloneTimeout,
	}); err != nil {
		return o.retryable(ctx, run, "clone", err)
	}
	if files, lerr := o.git.ListFiles(clonePath); lerr == nil {
		if second := o.registry.Select(bundle.LogText, files); second != nil && second.Name != selection.Name {
			log.Info().Str("was", selection.Name).Str("now", second.Name).Msg("adapter superseded by file evidence")
			adapter = second.Adapter
			run.AdapterName = second.Name
			o.putArtifact(run, types.ArtifactDetection, second.Detection)
			if reason := planOutsideAdapter(fixPlan, adapter); reason != "" {
				return o.terminate(ctx, run, types.RunPlanBlocked, reason)
			}
		}
	}
	o.endStage(ctx, run, "")

	// stage 6: patch generation
	o.startStage(ctx, run, "patch")
	patchOut, err := o.generator.Generate(clonePath, fixPlan)
	if err != nil {
		return o.terminate(ctx, run, types.RunPatchBlocked, "patch generation failed: "+err.Error())
	}
	if reason := diffOutsidePlan(patchOut.DiffText, fixPlan); reason != "" {
		return o.terminate(ctx, run, types.RunPatchBlocked, reason)
	}
	run.PatchDiff = patchOut.DiffText
	o.putArtifact(run, types.ArtifactPatchStats, patchOut.Stats)
	o.endStage(ctx, run, "")

	// stage 7: patch policy
	o.startStage(ctx, run, "patch_policy")
	patchDecision := o.policy.EvaluatePatch(patchOut.DiffText)
	o.putArtifact(run, types.ArtifactPatchPol, patchDecision)
	if !patchDecision.Allowed {
		return o.terminate(ctx, run, types.RunPatchBlocked, violationSummary(patchDecision))
	}
	o.endStage(ctx, run, patchDecision.PRLabel)

	// stage 8: dry-run apply
	o.startStage(ctx, run, "patch_check")
	if err := o.git.CheckPatch(ctx, clonePath, patchOut.DiffText); err != nil {
		return o.terminate(ctx, run, types.RunPatchBlocked, "patch dry-run failed: "+err.Error())
	}
	o.endStage(ctx, run, "")

	// stage 9: guardrails on the assembled suggestion
	o.startStage(ctx, run, "guardrails")
	if blocked := o.guardrails.Check(&FixSuggestion{Plan: fixPlan, DiffText: patchOut.DiffText, Stats: patchOut.Stats}); len(blocked) > 0 {
		return o.terminate(ctx, run, types.RunPatchBlocked, "guardrails: "+strings.Join(blocked, "; "))
	}
	o.transition(ctx, run, types.RunPatchReady)
	o.endStage(ctx, run, "")

	if err := o.cancelled(ctx, run); err != nil {
		return err
	}

	// stage 10: sandbox validation
	o.startStage(ctx, run, "validation")
	validation := o.validator.Validate(ctx, &types.ValidationRequest{
		FixID:       run.ID,
		EventID:     event.ID,
		RepoURL:     event.RepoURL,
		Branch:      event.Branch,
		CommitSHA:   event.CommitSHA,
		Diff:        patchOut.DiffText,
		AdapterName: run.AdapterName,
	}, adapter)
	o.putArtifact(run, types.ArtifactValidation, validation)
	switch validation.Status {
	case types.ValidationPassed:
		o.transition(ctx, run, types.RunValidationPassed)
		o.endStage(ctx, run, string(validation.Status))
	case types.ValidationError:
		return o.retryable(ctx, run, "validation", errors.New(validation.ErrorMessage))
	default:
		o.endStage(ctx, run, string(validation.Status))
		return o.terminate(ctx, run, types.RunValidationFailed, "validation "+string(validation.Status))
	}

	// stages 11-12: idempotent PR creation
	o.startStage(ctx, run, "pull_request")
	if alreadyCreated(run) {
		o.transition(ctx, run, types.RunPRCreated)
		o.endStage(ctx, run, "already created")
		return nil
	}

	files, err := o.generator.ApplyToFiles(clonePath, fixPlan)
	if err != nil {
		return o.terminate(ctx, run, types.RunPRFailed, "assemble pr contents: "+err.Error())
	}
	prResult, err := o.pr.CreatePRForFix(ctx, &scm.PRRequest{
		Repo:      event.Repo,
		BaseRef:   event.Branch,
		HeadRef:   fmt.Sprintf("%s/%s", o.cfg.BranchPrefix, strings.ToLower(run.ID)),
		Title:     prTitle(fixPlan),
		Body:      prBody(fixPlan, patchDecision, validation),
		Diff:      patchOut.DiffText,
		Files:     files,
		CommitSHA: event.CommitSHA,
		Label:     patchDecision.PRLabel,
	})
	if prResult != nil {
		o.putArtifact(run, types.ArtifactPR, prResult)
	}
	if err != nil {
		return o.terminate(ctx, run, types.RunPRFailed, "pr creation failed: "+err.Error())
	}
	run.LastPRURL = prResult.URL
	o.transition(ctx, run, types.RunPRCreated)
	o.endStage(ctx, run, prResult.URL)
	log.Info().Str("pr_url", prResult.URL).Msg("pipeline run completed")
	return nil
}

// --- stage bookkeeping ---

func (o *Orchestrator) startStage(ctx context.Context, run *types.FixPipelineRun, stage string) {
	run.Timeline = append(run.Timeline, types.TimelineEntry{
		Stage:     stage,
		Status:    "started",
		StartedAt: time.Now().UTC(),
	})
	o.persist(ctx, run)
}

func (o *Orchestrator) endStage(ctx context.Context, run *types.FixPipelineRun, detail string) {
	if len(run.Timeline) == 0 {
		return
	}
	entry := &run.Timeline[len(run.Timeline)-1]
	entry.Status = "finished"
	entry.FinishedAt = time.Now().UTC()
	entry.Detail = o.redactor.Mask(detail)
	o.persist(ctx, run)
}

func (o *Orchestrator) transition(ctx context.Context, run *types.FixPipelineRun, status types.RunStatus) {
	run.Status = status
	o.persist(ctx, run)
}

// terminate moves the run to a terminal state with the blocking reason.
// The reason is redacted before it touches the run record: blocked
// reasons carry upstream error text that may quote log output.
func (o *Orchestrator) terminate(ctx context.Context, run *types.FixPipelineRun, status types.RunStatus, reason string) error {
	reason = o.redactor.Mask(reason)
	run.Status = status
	run.BlockedReason = reason
	if len(run.Timeline) > 0 {
		entry := &run.Timeline[len(run.Timeline)-1]
		if entry.FinishedAt.IsZero() {
			entry.Status = "blocked"
			entry.FinishedAt = time.Now().UTC()
			entry.Detail = reason
		}
	}
	o.persist(ctx, run)
	o.logger.Warn().Str("run_id", run.ID).Str("status", string(status)).Str("reason", reason).Msg("run terminated")
	return nil
}

// retryable records the failure without a terminal state so the
// dispatcher can reschedule the run. The message is redacted before
// persisting: validation errors carry container and log output.
func (o *Orchestrator) retryable(ctx context.Context, run *types.FixPipelineRun, stage string, err error) error {
	msg := o.redactor.Mask(err.Error())
	run.ErrorMessage = msg
	if len(run.Timeline) > 0 {
		entry := &run.Timeline[len(run.Timeline)-1]
		if entry.FinishedAt.IsZero() {
			entry.Status = "failed"
			entry.FinishedAt = time.Now().UTC()
			entry.Detail = msg
		}
	}
	o.persist(ctx, run)
	return &governor.RetryableError{Reason: stage + ": " + msg}
}

func (o *Orchestrator) cancelled(ctx context.Context, run *types.FixPipelineRun) error {
	if ctx.Err() == nil {
		return nil
	}
	run.Status = types.RunCancelled
	run.ErrorMessage = o.redactor.Mask(ctx.Err().Error())
	o.persist(context.WithoutCancel(ctx), run)
	return ctx.Err()
}

func (o *Orchestrator) persist(ctx context.Context, run *types.FixPipelineRun) {
	if err := o.runs.Update(ctx, run); err != nil {
		o.logger.Error().Err(err).Str("run_id", run.ID).Msg("failed to persist run")
	}
}

// putArtifact serializes and redacts a stage artifact onto the run.
func (o *Orchestrator) putArtifact(run *types.FixPipelineRun, kind types.ArtifactKind, v interface{}) {
	data, err := o.redactor.MaskJSON(v)
	if err != nil {
		o.logger.Error().Err(err).Str("kind", string(kind)).Msg("failed to serialize artifact")
		return
	}
	run.SetArtifact(kind, data)
}

// finishRun builds and persists the provenance artifact on every exit.
func (o *Orchestrator) finishRun(run *types.FixPipelineRun, event *types.PipelineEvent) {
	data, err := buildProvenance(run, event, o.redactor)
	if err != nil {
		o.logger.Error().Err(err).Str("run_id", run.ID).Msg("failed to build provenance")
		return
	}
	run.SetArtifact(types.ArtifactProvenance, data)
	o.persist(context.Background(), run)
}

// --- helpers ---

func planOutsideAdapter(p *types.FixPlan, adapter adapters.Adapter) string {
	if !adapters.AllowedCategory(adapter, p.Category) {
		return fmt.Sprintf("plan category %s not allowed by adapter %s", p.Category, adapter.Name())
	}
	for _, op := range p.Operations {
		if !adapters.AllowedType(adapter, op.Type) {
			return fmt.Sprintf("operation %s not allowed by adapter %s", op.Type, adapter.Name())
		}
	}
	return ""
}

// diffOutsidePlan enforces patch files ⊆ plan files as defense in depth.
func diffOutsidePlan(diffText string, p *types.FixPlan) string {
	if diffText == "" {
		return "patch produced no changes"
	}
	parsed, err := diff.Parse(diffText)
	if err != nil {
		return "generated diff does not parse: " + err.Error()
	}
	allowed := make(map[string]bool, len(p.Files))
	for _, f := range p.Files {
		allowed[f] = true
	}
	for _, path := range parsed.Paths() {
		if !allowed[path] {
			return "patch touches file outside plan: " + path
		}
	}
	return ""
}

func operationTypes(p *types.FixPlan) []types.OperationType {
	seen := make(map[types.OperationType]bool)
	var out []types.OperationType
	for _, op := range p.Operations {
		if !seen[op.Type] {
			seen[op.Type] = true
			out = append(out, op.Type)
		}
	}
	return out
}

func violationSummary(d *types.PolicyDecision) string {
	codes := make([]string, 0, len(d.Violations))
	for _, v := range d.Violations {
		if v.Severity == types.SeverityBlock {
			codes = append(codes, v.Code)
		}
	}
	return "policy blocked: " + strings.Join(codes, ", ")
}

func alreadyCreated(run *types.FixPipelineRun) bool {
	if run.LastPRURL != "" {
		return true
	}
	if data := run.Artifact(types.ArtifactPR); data != nil {
		var pr types.PRResult
		if json.Unmarshal(data, &pr) == nil && pr.Status == "created" {
			return true
		}
	}
	return false
}

func prTitle(p *types.FixPlan) string {
	return "fix: " + p.RootCause
}

func prBody(p *types.FixPlan, decision *types.PolicyDecision, validation *types.ValidationResult) string {
	var sb strings.Builder
	sb.WriteString("Automated fix for a CI failure.\n\n")
	fmt.Fprintf(&sb, "**Root cause**: %s\n", p.RootCause)
	fmt.Fprintf(&sb, "**Category**: %s (confidence %.2f)\n", p.Category, p.Confidence)
	fmt.Fprintf(&sb, "**Danger score**: %d (%s)\n", decision.DangerScore, decision.PRLabel)
	fmt.Fprintf(&sb, "**Validation**: %s, %d passed / %d failed (%s)\n",
		validation.Status, validation.TestsPassed, validation.TestsFailed, validation.FrameworkDetected)
	sb.WriteString("\nOperations:\n")
	for _, op := range p.Operations {
		fmt.Fprintf(&sb, "- `%s` on `%s`: %s\n", op.Type, op.File, op.Rationale)
	}
	return sb.String()
}
