package analysis

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remedy-copilot/pkg/logger"
	"remedy-copilot/pkg/logparse"
	"remedy-copilot/pkg/types"
)

func bundleFromLog(log string) *types.FailureContextBundle {
	return &types.FailureContextBundle{
		LogText: log,
		Parsed:  logparse.Parse(log),
	}
}

func TestClassifyMissingPythonModule(t *testing.T) {
	bundle := bundleFromLog(`Traceback (most recent call last):
  File "src/app.py", line 3, in <module>
    import requests
ModuleNotFoundError: No module named 'requests'
`)
	c := NewClassifier().Classify(bundle)

	assert.Equal(t, types.CategoryDependency, c.Category)
	assert.GreaterOrEqual(t, c.Confidence, 0.9)
	assert.Contains(t, c.Indicators, "python_missing_module")
}

func TestClassifyGoMissingModule(t *testing.T) {
	bundle := bundleFromLog("main.go:5:2: no required module provides package github.com/acme/foo\n")
	c := NewClassifier().Classify(bundle)
	assert.Equal(t, types.CategoryDependency, c.Category)
}

func TestClassifyTimeoutForcesFlaky(t *testing.T) {
	bundle := bundleFromLog("--- FAIL: TestSlow (300.00s)\npanic: test timed out after 5m0s\n")
	c := NewClassifier().Classify(bundle)
	assert.Equal(t, types.CategoryFlaky, c.Category)
}

func TestClassifyTimeoutWithInfraSignalsStaysInfra(t *testing.T) {
	bundle := bundleFromLog("request timed out\nconnection refused while pulling image\n")
	c := NewClassifier().Classify(bundle)
	assert.Equal(t, types.CategoryInfrastructure, c.Category)
}

func TestClassifyUnknown(t *testing.T) {
	bundle := bundleFromLog("all fine here\nnothing to see\n")
	c := NewClassifier().Classify(bundle)
	assert.Equal(t, types.CategoryUnknown, c.Category)
	assert.Less(t, c.Confidence, 0.5)
}

func TestClassifySecondaryCategory(t *testing.T) {
	bundle := bundleFromLog(`ModuleNotFoundError: No module named 'requests'
src/main.c:3:1: error: unknown type name
`)
	c := NewClassifier().Classify(bundle)
	assert.Equal(t, types.CategoryDependency, c.Category)
	assert.Equal(t, types.CategoryCode, c.SecondaryCategory)
}

func TestAnalyzeAffectedFilesFromFrames(t *testing.T) {
	bundle := bundleFromLog(`Traceback (most recent call last):
  File "src/app.py", line 3, in <module>
    import requests
ModuleNotFoundError: No module named 'requests'
`)
	bundle.ChangedFiles = []string{"requirements.txt", "README.md"}

	engine := NewEngine(nil, logger.Nop())
	result, err := engine.Analyze(context.Background(), bundle)
	require.NoError(t, err)

	require.NotEmpty(t, result.AffectedFiles)
	assert.Equal(t, "src/app.py", result.AffectedFiles[0].Path)
	assert.InDelta(t, 0.9, result.AffectedFiles[0].Relevance, 0.001)

	// Dependency category doubles the changed-file bonus for manifest files.
	var reqRel, readmeRel float64
	for _, f := range result.AffectedFiles {
		switch f.Path {
		case "requirements.txt":
			reqRel = f.Relevance
		case "README.md":
			readmeRel = f.Relevance
		}
	}
	assert.Greater(t, reqRel, readmeRel)
}

func TestAnalyzeAlternativesCapped(t *testing.T) {
	bundle := bundleFromLog("ModuleNotFoundError: No module named 'x'\nsyntax error near token\n")
	bundle.ChangedFiles = []string{"a.py", "b.py"}
	bundle.ExecutionTimeSeconds = 120

	engine := NewEngine(nil, logger.Nop())
	result, err := engine.Analyze(context.Background(), bundle)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(result.AlternativeHypotheses), 3)
	assert.NotEmpty(t, result.PrimaryHypothesis.Description)
}

type fakeSimilarity struct {
	incidents []types.SimilarIncident
}

func (f *fakeSimilarity) Search(_ context.Context, _ string, _ int) ([]types.SimilarIncident, error) {
	return f.incidents, nil
}

func TestAnalyzeSimilarityThreshold(t *testing.T) {
	sim := &fakeSimilarity{incidents: []types.SimilarIncident{
		{ID: "a", Similarity: 0.8},
		{ID: "b", Similarity: 0.2},
	}}
	engine := NewEngine(sim, logger.Nop())

	result, err := engine.Analyze(context.Background(), bundleFromLog("ModuleNotFoundError: No module named 'x'\n"))
	require.NoError(t, err)
	require.Len(t, result.SimilarIncidents, 1)
	assert.Equal(t, "a", result.SimilarIncidents[0].ID)
}
