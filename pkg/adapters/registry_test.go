package adapters

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remedy-copilot/pkg/logger"
	"remedy-copilot/pkg/types"
)

func TestSelectPythonFromLogAndFiles(t *testing.T) {
	r := DefaultRegistry(logger.Nop())

	sel := r.Select(
		"Traceback (most recent call last):\nModuleNotFoundError: No module named 'requests'\n",
		[]string{"pyproject.toml", "src/app.py"},
	)
	require.NotNil(t, sel)
	assert.Equal(t, "python", sel.Name)
	assert.Equal(t, "python_missing_dependency", sel.Detection.Category)
	assert.GreaterOrEqual(t, sel.Detection.Confidence, 0.5)
	assert.NotEmpty(t, sel.Detection.EvidenceLines)
}

func TestSelectGoFromLog(t *testing.T) {
	r := DefaultRegistry(logger.Nop())

	sel := r.Select(
		"go: downloading\nmain.go:4:2: no required module provides package github.com/acme/foo\n",
		[]string{"go.mod", "main.go"},
	)
	require.NotNil(t, sel)
	assert.Equal(t, "go", sel.Name)
	assert.Equal(t, "go_missing_module", sel.Detection.Category)
}

func TestSelectDockerLowestPriority(t *testing.T) {
	r := DefaultRegistry(logger.Nop())

	sel := r.Select(
		"#8 ERROR: failed to solve: python:3.15: manifest for python:3.15 not found\n",
		[]string{"Dockerfile"},
	)
	require.NotNil(t, sel)
	assert.Equal(t, "docker", sel.Name)
}

func TestSelectNoneBelowThreshold(t *testing.T) {
	r := DefaultRegistry(logger.Nop())
	sel := r.Select("some unrelated output\n", []string{"README.md"})
	assert.Nil(t, sel)
}

func TestAllowedTypeAndCategory(t *testing.T) {
	py := NewPythonAdapter()

	assert.True(t, AllowedType(py, types.OpAddDependency))
	assert.False(t, AllowedType(py, types.OpUpdateConfig))
	assert.True(t, AllowedCategory(py, "python_missing_dependency"))
	assert.False(t, AllowedCategory(py, "go_missing_module"))
}

func TestRegistryGet(t *testing.T) {
	r := DefaultRegistry(logger.Nop())
	assert.NotNil(t, r.Get("node"))
	assert.Nil(t, r.Get("rust"))
}
