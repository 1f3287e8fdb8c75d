package adapters

import (
	"regexp"
	"strings"
	"time"

	"remedy-copilot/pkg/types"
)

var pyLogMarkers = []*regexp.Regexp{
	regexp.MustCompile(`ModuleNotFoundError: No module named`),
	regexp.MustCompile(`Traceback \(most recent call last\):`),
	regexp.MustCompile(`(?m)^(?:ERROR|FAILED) .*\.py`),
	regexp.MustCompile(`(?i)pip install`),
	regexp.MustCompile(`pytest`),
}

// PythonAdapter covers pip/poetry projects tested with pytest.
type PythonAdapter struct{}

// NewPythonAdapter returns the Python adapter.
func NewPythonAdapter() *PythonAdapter { return &PythonAdapter{} }

func (a *PythonAdapter) Name() string { return "python" }

func (a *PythonAdapter) Detect(logText string, repoFiles []string) Detection {
	det := Detection{RepoLanguage: "python"}
	for _, re := range pyLogMarkers {
		if m := re.FindString(logText); m != "" {
			det.Confidence += 0.25
			det.EvidenceLines = append(det.EvidenceLines, m)
		}
	}
	if containsFile(repoFiles, "pyproject.toml") || containsFile(repoFiles, "requirements.txt") || containsFile(repoFiles, "setup.py") {
		det.Confidence += 0.35
	}
	if det.Confidence > 1 {
		det.Confidence = 1
	}
	switch {
	case strings.Contains(logText, "No module named"):
		det.Category = "python_missing_dependency"
	case strings.Contains(logText, "ImportError"):
		det.Category = "python_missing_dependency"
	default:
		det.Category = "python_test_failure"
	}
	return det
}

func (a *PythonAdapter) AllowedFixTypes() []types.OperationType {
	return []types.OperationType{types.OpAddDependency, types.OpPinDependency, types.OpRemoveUnused}
}

func (a *PythonAdapter) AllowedCategories() []string {
	return []string{"python_missing_dependency", "python_test_failure", "python_unused_import"}
}

func (a *PythonAdapter) ValidationSteps(repoPath string) []Step {
	install := []string{"pip", "install", "-e", "."}
	if fileExists(repoPath, "requirements.txt") {
		install = []string{"pip", "install", "-r", "requirements.txt"}
	}
	return []Step{
		{Name: "install", Command: install, Timeout: 3 * time.Minute},
		{Name: "test", Command: []string{"pytest", "-x", "-q"}, Timeout: 5 * time.Minute},
	}
}

func (a *PythonAdapter) NeedsNetwork() bool { return true }
