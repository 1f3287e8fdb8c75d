package adapters

import (
	"regexp"
	"strings"
	"time"

	"remedy-copilot/pkg/types"
)

var goLogMarkers = []*regexp.Regexp{
	regexp.MustCompile(`no required module provides package`),
	regexp.MustCompile(`missing go\.sum entry`),
	regexp.MustCompile(`(?m)^--- FAIL:`),
	regexp.MustCompile(`(?m)^panic: `),
	regexp.MustCompile(`(?m)^go: `),
}

// GoAdapter covers Go modules tested with go test.
type GoAdapter struct{}

// NewGoAdapter returns the Go adapter.
func NewGoAdapter() *GoAdapter { return &GoAdapter{} }

func (a *GoAdapter) Name() string { return "go" }

func (a *GoAdapter) Detect(logText string, repoFiles []string) Detection {
	det := Detection{RepoLanguage: "go"}
	for _, re := range goLogMarkers {
		if m := re.FindString(logText); m != "" {
			det.Confidence += 0.25
			det.EvidenceLines = append(det.EvidenceLines, m)
		}
	}
	if containsFile(repoFiles, "go.mod") {
		det.Confidence += 0.35
	}
	if det.Confidence > 1 {
		det.Confidence = 1
	}
	switch {
	case strings.Contains(logText, "no required module provides package"),
		strings.Contains(logText, "missing go.sum entry"):
		det.Category = "go_missing_module"
	default:
		det.Category = "go_test_failure"
	}
	return det
}

func (a *GoAdapter) AllowedFixTypes() []types.OperationType {
	return []types.OperationType{types.OpAddDependency, types.OpPinDependency, types.OpUpdateConfig}
}

func (a *GoAdapter) AllowedCategories() []string {
	return []string{"go_missing_module", "go_test_failure", "go_sum_drift"}
}

func (a *GoAdapter) ValidationSteps(repoPath string) []Step {
	return []Step{
		{Name: "install", Command: []string{"go", "mod", "download"}, Timeout: 3 * time.Minute},
		{Name: "test", Command: []string{"go", "test", "./..."}, Timeout: 5 * time.Minute},
	}
}

func (a *GoAdapter) NeedsNetwork() bool { return true }
