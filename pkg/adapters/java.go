package adapters

import (
	"regexp"
	"strings"
	"time"

	"remedy-copilot/pkg/types"
)

var javaLogMarkers = []*regexp.Regexp{
	regexp.MustCompile(`package [\w.]+ does not exist`),
	regexp.MustCompile(`(?m)^\[ERROR\]`),
	regexp.MustCompile(`(?m)^\s*at [\w.$]+\([\w.$]+\.java:\d+\)`),
	regexp.MustCompile(`(?i)(maven|gradle)`),
}

// JavaAdapter covers Maven and Gradle projects.
type JavaAdapter struct{}

// NewJavaAdapter returns the Java adapter.
func NewJavaAdapter() *JavaAdapter { return &JavaAdapter{} }

func (a *JavaAdapter) Name() string { return "java" }

func (a *JavaAdapter) Detect(logText string, repoFiles []string) Detection {
	det := Detection{RepoLanguage: "java"}
	for _, re := range javaLogMarkers {
		if m := re.FindString(logText); m != "" {
			det.Confidence += 0.25
			det.EvidenceLines = append(det.EvidenceLines, m)
		}
	}
	if containsFile(repoFiles, "pom.xml") || containsFile(repoFiles, "build.gradle") {
		det.Confidence += 0.35
	}
	if det.Confidence > 1 {
		det.Confidence = 1
	}
	if strings.Contains(logText, "does not exist") || strings.Contains(logText, "Could not resolve dependencies") {
		det.Category = "java_missing_dependency"
	} else {
		det.Category = "java_test_failure"
	}
	return det
}

func (a *JavaAdapter) AllowedFixTypes() []types.OperationType {
	return []types.OperationType{types.OpAddDependency, types.OpPinDependency}
}

func (a *JavaAdapter) AllowedCategories() []string {
	return []string{"java_missing_dependency", "java_test_failure"}
}

func (a *JavaAdapter) ValidationSteps(repoPath string) []Step {
	if fileExists(repoPath, "build.gradle") {
		return []Step{
			{Name: "test", Command: []string{"gradle", "test", "--no-daemon"}, Timeout: 10 * time.Minute},
		}
	}
	return []Step{
		{Name: "test", Command: []string{"mvn", "-B", "test"}, Timeout: 10 * time.Minute},
	}
}

func (a *JavaAdapter) NeedsNetwork() bool { return true }
