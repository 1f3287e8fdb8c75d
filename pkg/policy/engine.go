package policy

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog"

	"remedy-copilot/pkg/diff"
	"remedy-copilot/pkg/types"
)

// PlanIntent is the pre-patch view of a plan handed to EvaluatePlan.
type PlanIntent struct {
	TargetFiles    []string              `json:"target_files"`
	Category       string                `json:"category"`
	OperationTypes []types.OperationType `json:"operation_types"`
}

// Engine evaluates plan intents and patches against a SafetyPolicy.
// The engine itself is stateless; the policy is immutable after load.
type Engine struct {
	policy *SafetyPolicy
	logger zerolog.Logger
}

// NewEngine creates a policy engine for the given policy.
func NewEngine(policy *SafetyPolicy, logger zerolog.Logger) *Engine {
	return &Engine{
		policy: policy,
		logger: logger.With().Str("component", "policy_engine").Logger(),
	}
}

// Policy returns the engine's immutable policy.
func (e *Engine) Policy() *SafetyPolicy { return e.policy }

// EvaluatePlan applies the path rules to a plan's target files and scores
// category risk before any patch exists.
func (e *Engine) EvaluatePlan(intent PlanIntent) *types.PolicyDecision {
	d := &types.PolicyDecision{Allowed: true}

	for _, file := range intent.TargetFiles {
		e.checkPath(d, file)
	}
	e.scorePathRisk(d, intent.TargetFiles)
	e.scoreCategoryRisk(d, intent.Category)
	for _, op := range intent.OperationTypes {
		e.scoreCategoryRisk(d, string(op))
	}

	e.finalize(d)
	e.logger.Debug().
		Bool("allowed", d.Allowed).
		Int("danger_score", d.DangerScore).
		Str("category", intent.Category).
		Msg("plan intent evaluated")
	return d
}

// EvaluatePatch parses the diff, applies path rules to every touched file,
// enforces the patch limits, and scans the full diff text for secrets.
func (e *Engine) EvaluatePatch(diffText string) *types.PolicyDecision {
	d := &types.PolicyDecision{Allowed: true}

	parsed, err := diff.Parse(diffText)
	if err != nil {
		d.Violations = append(d.Violations, types.Violation{
			Code:     "malformed_diff",
			Severity: types.SeverityBlock,
			Message:  err.Error(),
		})
		e.finalize(d)
		return d
	}

	for _, f := range parsed.Files {
		e.checkPath(d, f.Path)
	}

	limits := e.policy.PatchLimits
	if limits.MaxFiles > 0 && parsed.TotalFiles > limits.MaxFiles {
		d.Violations = append(d.Violations, types.Violation{
			Code:     "max_files",
			Severity: types.SeverityBlock,
			Message:  fmt.Sprintf("patch touches %d files, limit is %d", parsed.TotalFiles, limits.MaxFiles),
		})
	}
	if limits.MaxLinesAdded > 0 && parsed.TotalLinesAdded > limits.MaxLinesAdded {
		d.Violations = append(d.Violations, types.Violation{
			Code:     "max_lines_added",
			Severity: types.SeverityBlock,
			Message:  fmt.Sprintf("patch adds %d lines, limit is %d", parsed.TotalLinesAdded, limits.MaxLinesAdded),
		})
	}
	if limits.MaxLinesRemoved > 0 && parsed.TotalLinesRemoved > limits.MaxLinesRemoved {
		d.Violations = append(d.Violations, types.Violation{
			Code:     "max_lines_removed",
			Severity: types.SeverityBlock,
			Message:  fmt.Sprintf("patch removes %d lines, limit is %d", parsed.TotalLinesRemoved, limits.MaxLinesRemoved),
		})
	}
	if limits.MaxDiffBytes > 0 && parsed.Bytes > limits.MaxDiffBytes {
		d.Violations = append(d.Violations, types.Violation{
			Code:     "max_diff_bytes",
			Severity: types.SeverityBlock,
			Message:  fmt.Sprintf("patch is %d bytes, limit is %d", parsed.Bytes, limits.MaxDiffBytes),
		})
	}

	if e.scanSecrets(d, diffText) {
		d.DangerScore += e.policy.Danger.SecretWeight
		d.DangerReasons = append(d.DangerReasons, types.DangerReason{
			Code:    "secret-risk",
			Weight:  e.policy.Danger.SecretWeight,
			Message: "secret-like content detected in diff",
		})
	}

	e.scorePathRisk(d, parsed.Paths())
	e.scoreSize(d, parsed)

	e.finalize(d)
	e.logger.Debug().
		Bool("allowed", d.Allowed).
		Int("danger_score", d.DangerScore).
		Int("files", parsed.TotalFiles).
		Msg("patch evaluated")
	return d
}

// checkPath appends forbidden_path / path_not_allowed violations for one file.
func (e *Engine) checkPath(d *types.PolicyDecision, file string) {
	for _, pat := range e.policy.Paths.Forbidden {
		if matchGlob(pat, file) {
			d.Violations = append(d.Violations, types.Violation{
				Code:     "forbidden_path",
				Severity: types.SeverityBlock,
				Message:  fmt.Sprintf("%s matches forbidden pattern %s", file, pat),
				File:     file,
			})
			return
		}
	}
	if len(e.policy.Paths.Allowed) == 0 {
		return
	}
	for _, pat := range e.policy.Paths.Allowed {
		if matchGlob(pat, file) {
			return
		}
	}
	d.Violations = append(d.Violations, types.Violation{
		Code:     "path_not_allowed",
		Severity: types.SeverityBlock,
		Message:  fmt.Sprintf("%s matches no allowed pattern", file),
		File:     file,
	})
}

func (e *Engine) scorePathRisk(d *types.PolicyDecision, files []string) {
	for _, file := range files {
		for _, pw := range e.policy.Danger.PathRisk {
			if matchGlob(pw.Pattern, file) {
				d.DangerScore += pw.Weight
				d.DangerReasons = append(d.DangerReasons, types.DangerReason{
					Code:    "path-risk",
					Weight:  pw.Weight,
					Message: fmt.Sprintf("%s matches sensitive pattern %s", file, pw.Pattern),
				})
				break
			}
		}
	}
}

func (e *Engine) scoreCategoryRisk(d *types.PolicyDecision, category string) {
	w, ok := e.policy.Danger.CategoryRisk[category]
	if !ok || w == 0 {
		return
	}
	d.DangerScore += w
	d.DangerReasons = append(d.DangerReasons, types.DangerReason{
		Code:    "category-risk",
		Weight:  w,
		Message: fmt.Sprintf("category %s carries inherent risk", category),
	})
}

func (e *Engine) scoreSize(d *types.PolicyDecision, parsed *diff.ParsedDiff) {
	dw := e.policy.Danger
	if dw.PerFile > 0 && parsed.TotalFiles > dw.FileThreshold {
		w := (parsed.TotalFiles - dw.FileThreshold) * dw.PerFile
		d.DangerScore += w
		d.DangerReasons = append(d.DangerReasons, types.DangerReason{
			Code:    "file-count",
			Weight:  w,
			Message: fmt.Sprintf("%d files changed, threshold is %d", parsed.TotalFiles, dw.FileThreshold),
		})
	}
	touched := parsed.TotalLinesAdded + parsed.TotalLinesRemoved
	if dw.PerLineBlock > 0 && dw.LineBlockSize > 0 && touched > dw.LineThreshold {
		w := ((touched - dw.LineThreshold) / dw.LineBlockSize) * dw.PerLineBlock
		if w > 0 {
			d.DangerScore += w
			d.DangerReasons = append(d.DangerReasons, types.DangerReason{
				Code:    "lines-touched",
				Weight:  w,
				Message: fmt.Sprintf("%d lines touched, threshold is %d", touched, dw.LineThreshold),
			})
		}
	}
}

// scanSecrets reports whether any forbidden pattern matches and records
// BLOCK violations without echoing the matched content.
func (e *Engine) scanSecrets(d *types.PolicyDecision, text string) bool {
	found := false
	for i, re := range e.policy.SecretPatterns() {
		if re.MatchString(text) {
			found = true
			d.Violations = append(d.Violations, types.Violation{
				Code:     "secret_detected",
				Severity: types.SeverityBlock,
				Message:  fmt.Sprintf("content matches forbidden secret pattern #%d", i+1),
			})
		}
	}
	return found
}

// finalize derives Allowed and PRLabel from the accumulated violations
// and danger score.
func (e *Engine) finalize(d *types.PolicyDecision) {
	d.Allowed = !d.Blocked()
	if d.Allowed && d.DangerScore <= e.policy.Danger.SafeMax {
		d.PRLabel = types.PRLabelSafe
	} else {
		d.PRLabel = types.PRLabelNeedsReview
	}
}

// matchGlob matches a doublestar pattern against a slash-normalized path.
// A bare filename pattern also matches the basename at any depth.
func matchGlob(pattern, path string) bool {
	path = strings.ReplaceAll(path, "\\", "/")
	if ok, err := doublestar.Match(pattern, path); err == nil && ok {
		return true
	}
	if !strings.Contains(pattern, "/") {
		base := path
		if idx := strings.LastIndexByte(path, '/'); idx >= 0 {
			base = path[idx+1:]
		}
		if ok, err := doublestar.Match(pattern, base); err == nil && ok {
			return true
		}
	}
	return false
}
