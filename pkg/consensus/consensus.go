// Package consensus combines planner, critic, and safety verdicts into
// a single accept/reject decision for a generated fix. The safety
// verdict is a hard veto, the others weigh an agreement score.
package consensus

import (
	"fmt"

	"github.com/rs/zerolog"

	"remedy-copilot/pkg/adapters"
	"remedy-copilot/pkg/types"
)

const defaultMinAgreement = 0.6

// Coordinator builds the candidate set and decides.
type Coordinator struct {
	minAgreement float64
	logger       zerolog.Logger
}

// NewCoordinator creates a coordinator with the default agreement
// threshold.
func NewCoordinator(logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		minAgreement: defaultMinAgreement,
		logger:       logger.With().Str("component", "consensus").Logger(),
	}
}

// Decide evaluates the plan against the policy decision and the
// adapter's file support. A disallowed policy decision always yields
// rejected_safety_veto, regardless of planner confidence.
func (c *Coordinator) Decide(plan *types.FixPlan, policy *types.PolicyDecision, adapter adapters.Adapter) *types.ConsensusDecision {
	decision := &types.ConsensusDecision{}

	if plan == nil || len(plan.Operations) == 0 {
		decision.State = types.ConsensusPlannerMissing
		decision.Reason = "planner produced no operations"
		return c.finish(decision)
	}
	decision.Candidates = append(decision.Candidates, types.ConsensusCandidate{
		Role:       "planner",
		Verdict:    "propose",
		Confidence: plan.Confidence,
		Notes:      plan.RootCause,
	})

	// safety agent: hard veto on any policy block
	safety := types.ConsensusCandidate{Role: "safety", Verdict: "approve", Confidence: 1.0}
	if policy != nil && !policy.Allowed {
		safety.Verdict = "veto"
		safety.Notes = fmt.Sprintf("%d policy violations", len(policy.Violations))
		decision.Candidates = append(decision.Candidates, safety)
		decision.State = types.ConsensusSafetyVeto
		decision.Reason = "policy engine blocked the plan"
		return c.finish(decision)
	}
	decision.Candidates = append(decision.Candidates, safety)

	// critic agent: structural review of the plan
	critic := c.critique(plan, adapter)
	decision.Candidates = append(decision.Candidates, critic)
	if critic.Verdict == "reject" {
		decision.State = types.ConsensusUnsupportedFiles
		decision.Reason = critic.Notes
		return c.finish(decision)
	}

	agreement := (plan.Confidence + critic.Confidence) / 2
	if agreement < c.minAgreement {
		decision.State = types.ConsensusLowAgreement
		decision.Reason = fmt.Sprintf("agreement %.2f below threshold %.2f", agreement, c.minAgreement)
		return c.finish(decision)
	}

	decision.State = types.ConsensusAccepted
	decision.Accepted = true
	return c.finish(decision)
}

// critique checks that the plan stays within the selected adapter's
// vocabulary and that its confidence is self-consistent.
func (c *Coordinator) critique(plan *types.FixPlan, adapter adapters.Adapter) types.ConsensusCandidate {
	candidate := types.ConsensusCandidate{Role: "critic", Verdict: "approve", Confidence: 0.9}

	if adapter != nil {
		if !adapters.AllowedCategory(adapter, plan.Category) {
			candidate.Verdict = "reject"
			candidate.Confidence = 0
			candidate.Notes = fmt.Sprintf("category %s outside adapter %s", plan.Category, adapter.Name())
			return candidate
		}
		for _, op := range plan.Operations {
			if !adapters.AllowedType(adapter, op.Type) {
				candidate.Verdict = "reject"
				candidate.Confidence = 0
				candidate.Notes = fmt.Sprintf("operation %s outside adapter %s", op.Type, adapter.Name())
				return candidate
			}
		}
	}
	if err := plan.Validate(); err != nil {
		candidate.Verdict = "reject"
		candidate.Confidence = 0
		candidate.Notes = err.Error()
		return candidate
	}
	if plan.Confidence < 0.5 {
		candidate.Confidence = plan.Confidence
		candidate.Notes = "low planner confidence"
	}
	return candidate
}

func (c *Coordinator) finish(d *types.ConsensusDecision) *types.ConsensusDecision {
	c.logger.Debug().
		Str("state", d.State).
		Bool("accepted", d.Accepted).
		Str("reason", d.Reason).
		Msg("consensus decided")
	return d
}
