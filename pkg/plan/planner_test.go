package plan

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remedy-copilot/pkg/adapters"
	"remedy-copilot/pkg/ai"
	"remedy-copilot/pkg/logger"
	"remedy-copilot/pkg/logparse"
	"remedy-copilot/pkg/types"
)

func bundleFromLog(log string) *types.FailureContextBundle {
	return &types.FailureContextBundle{LogText: log, Parsed: logparse.Parse(log)}
}

func rcaFor(category types.FailureCategory) *types.RCAResult {
	return &types.RCAResult{
		Classification:    types.Classification{Category: category, Confidence: 0.95},
		PrimaryHypothesis: types.Hypothesis{Description: "missing dependency", Confidence: 0.95},
	}
}

func TestRulePlannerPythonMissingDependency(t *testing.T) {
	p := NewRulePlanner(logger.Nop())
	bundle := bundleFromLog("ModuleNotFoundError: No module named 'requests'\n")
	bundle.ChangedFiles = []string{"pyproject.toml"}

	plan, err := p.GeneratePlan(context.Background(), bundle, rcaFor(types.CategoryDependency), adapters.NewPythonAdapter())
	require.NoError(t, err)

	assert.Equal(t, "python_missing_dependency", plan.Category)
	require.Len(t, plan.Operations, 1)
	op := plan.Operations[0]
	assert.Equal(t, types.OpAddDependency, op.Type)
	assert.Equal(t, "pyproject.toml", op.File)
	assert.Equal(t, "requests", op.Details["name"])
	assert.Contains(t, plan.Files, op.File)
}

func TestRulePlannerGoMissingModule(t *testing.T) {
	p := NewRulePlanner(logger.Nop())
	bundle := bundleFromLog("main.go:4:2: no required module provides package github.com/acme/foo; to add it:\n")

	plan, err := p.GeneratePlan(context.Background(), bundle, rcaFor(types.CategoryDependency), adapters.NewGoAdapter())
	require.NoError(t, err)

	assert.Equal(t, "go_missing_module", plan.Category)
	assert.Equal(t, "go.mod", plan.Operations[0].File)
	assert.Equal(t, "github.com/acme/foo", plan.Operations[0].Details["name"])
}

func TestRulePlannerNodeIgnoresRelativeImports(t *testing.T) {
	p := NewRulePlanner(logger.Nop())
	bundle := bundleFromLog("Error: Cannot find module './lib/helpers'\n")

	_, err := p.GeneratePlan(context.Background(), bundle, rcaFor(types.CategoryDependency), adapters.NewNodeAdapter())
	assert.ErrorIs(t, err, ErrNoPlan)
}

func TestRulePlannerDeterministic(t *testing.T) {
	p := NewRulePlanner(logger.Nop())
	bundle := bundleFromLog("ModuleNotFoundError: No module named 'requests'\n")

	a, err := p.GeneratePlan(context.Background(), bundle, rcaFor(types.CategoryDependency), adapters.NewPythonAdapter())
	require.NoError(t, err)
	b, err := p.GeneratePlan(context.Background(), bundle, rcaFor(types.CategoryDependency), adapters.NewPythonAdapter())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestLLMPlannerParsesValidPlan(t *testing.T) {
	client := &ai.FakeLLMClient{Responses: []string{"```json\n" + `{
		"root_cause": "requests missing",
		"category": "python_missing_dependency",
		"confidence": 0.9,
		"files": ["pyproject.toml"],
		"operations": [{
			"type": "add_dependency",
			"file": "pyproject.toml",
			"details": {"name": "requests", "spec": "^2.28.0"},
			"rationale": "declare it",
			"evidence": ["ModuleNotFoundError"]
		}]
	}` + "\n```"}}
	p := NewLLMPlanner(client, logger.Nop())

	plan, err := p.GeneratePlan(context.Background(), bundleFromLog("x"), rcaFor(types.CategoryDependency), adapters.NewPythonAdapter())
	require.NoError(t, err)
	assert.Equal(t, "requests", plan.Operations[0].Details["name"])
	assert.NotEmpty(t, client.Prompts)
}

func TestLLMPlannerRejectsSchemaViolations(t *testing.T) {
	client := &ai.FakeLLMClient{Responses: []string{`{"category": "x"}`}}
	p := NewLLMPlanner(client, logger.Nop())

	_, err := p.GeneratePlan(context.Background(), bundleFromLog("x"), rcaFor(types.CategoryDependency), adapters.NewPythonAdapter())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema")
}

func TestLLMPlannerRejectsOperationOutsidePlanFiles(t *testing.T) {
	client := &ai.FakeLLMClient{Responses: []string{`{
		"root_cause": "x", "category": "python_missing_dependency", "confidence": 0.9,
		"files": ["pyproject.toml"],
		"operations": [{"type": "add_dependency", "file": "other.toml"}]
	}`}}
	p := NewLLMPlanner(client, logger.Nop())

	_, err := p.GeneratePlan(context.Background(), bundleFromLog("x"), rcaFor(types.CategoryDependency), adapters.NewPythonAdapter())
	require.Error(t, err)
}

func TestLLMPlannerRejectsDisallowedOperationType(t *testing.T) {
	client := &ai.FakeLLMClient{Responses: []string{`{
		"root_cause": "x", "category": "python_missing_dependency", "confidence": 0.9,
		"files": ["Dockerfile"],
		"operations": [{"type": "update_config", "file": "Dockerfile"}]
	}`}}
	p := NewLLMPlanner(client, logger.Nop())

	// The python adapter does not allow update_config.
	_, err := p.GeneratePlan(context.Background(), bundleFromLog("x"), rcaFor(types.CategoryDependency), adapters.NewPythonAdapter())
	require.Error(t, err)
}
