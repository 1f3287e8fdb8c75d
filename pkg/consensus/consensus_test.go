package consensus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remedy-copilot/pkg/adapters"
	"remedy-copilot/pkg/logger"
	"remedy-copilot/pkg/types"
)

func goodPlan() *types.FixPlan {
	return &types.FixPlan{
		RootCause:  "requests missing",
		Category:   "python_missing_dependency",
		Confidence: 0.9,
		Files:      []string{"pyproject.toml"},
		Operations: []types.FixOperation{{
			Type:    types.OpAddDependency,
			File:    "pyproject.toml",
			Details: map[string]string{"name": "requests", "spec": "^1.0.0"},
		}},
	}
}

func TestDecideAcceptsAgreedPlan(t *testing.T) {
	c := NewCoordinator(logger.Nop())
	d := c.Decide(goodPlan(), &types.PolicyDecision{Allowed: true}, adapters.NewPythonAdapter())

	assert.Equal(t, types.ConsensusAccepted, d.State)
	assert.True(t, d.Accepted)
	require.Len(t, d.Candidates, 3)
}

func TestDecideSafetyVetoOverridesPlannerConfidence(t *testing.T) {
	c := NewCoordinator(logger.Nop())
	plan := goodPlan()
	plan.Confidence = 0.99

	d := c.Decide(plan, &types.PolicyDecision{
		Allowed:    false,
		Violations: []types.Violation{{Code: "forbidden_path", Severity: types.SeverityBlock}},
	}, adapters.NewPythonAdapter())

	assert.Equal(t, types.ConsensusSafetyVeto, d.State)
	assert.False(t, d.Accepted)
}

func TestDecideRejectsMissingPlan(t *testing.T) {
	c := NewCoordinator(logger.Nop())
	d := c.Decide(nil, &types.PolicyDecision{Allowed: true}, adapters.NewPythonAdapter())
	assert.Equal(t, types.ConsensusPlannerMissing, d.State)
}

func TestDecideRejectsAdapterMismatch(t *testing.T) {
	c := NewCoordinator(logger.Nop())
	plan := goodPlan()
	plan.Category = "docker_pin_base_image"

	d := c.Decide(plan, &types.PolicyDecision{Allowed: true}, adapters.NewPythonAdapter())
	assert.Equal(t, types.ConsensusUnsupportedFiles, d.State)
}

func TestDecideRejectsLowAgreement(t *testing.T) {
	c := NewCoordinator(logger.Nop())
	plan := goodPlan()
	plan.Confidence = 0.2

	d := c.Decide(plan, &types.PolicyDecision{Allowed: true}, adapters.NewPythonAdapter())
	assert.Equal(t, types.ConsensusLowAgreement, d.State)
	assert.False(t, d.Accepted)
}
