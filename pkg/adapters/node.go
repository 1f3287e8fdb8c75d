package adapters

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"remedy-copilot/pkg/types"
)

var nodeLogMarkers = []*regexp.Regexp{
	regexp.MustCompile(`Cannot find module '`),
	regexp.MustCompile(`npm ERR!`),
	regexp.MustCompile(`(?m)^\s+at .*\.(?:js|ts):\d+:\d+`),
	regexp.MustCompile(`(?i)(jest|mocha)`),
}

// NodeAdapter covers npm/yarn projects tested with jest or mocha.
type NodeAdapter struct{}

// NewNodeAdapter returns the Node adapter.
func NewNodeAdapter() *NodeAdapter { return &NodeAdapter{} }

func (a *NodeAdapter) Name() string { return "node" }

func (a *NodeAdapter) Detect(logText string, repoFiles []string) Detection {
	det := Detection{RepoLanguage: "javascript"}
	for _, re := range nodeLogMarkers {
		if m := re.FindString(logText); m != "" {
			det.Confidence += 0.25
			det.EvidenceLines = append(det.EvidenceLines, m)
		}
	}
	if containsFile(repoFiles, "package.json") {
		det.Confidence += 0.35
	}
	if det.Confidence > 1 {
		det.Confidence = 1
	}
	if strings.Contains(logText, "Cannot find module") {
		det.Category = "node_missing_dependency"
	} else {
		det.Category = "node_test_failure"
	}
	return det
}

func (a *NodeAdapter) AllowedFixTypes() []types.OperationType {
	return []types.OperationType{types.OpAddDependency, types.OpPinDependency, types.OpUpdateConfig}
}

func (a *NodeAdapter) AllowedCategories() []string {
	return []string{"node_missing_dependency", "node_test_failure", "node_lockfile_drift"}
}

func (a *NodeAdapter) ValidationSteps(repoPath string) []Step {
	install := []string{"npm", "install"}
	if fileExists(repoPath, "package-lock.json") {
		install = []string{"npm", "ci"}
	}
	return []Step{
		{Name: "install", Command: install, Timeout: 5 * time.Minute},
		{Name: "test", Command: []string{"npm", "test", "--", "--watch=false"}, Timeout: 5 * time.Minute},
	}
}

func (a *NodeAdapter) NeedsNetwork() bool { return true }

// fileExists checks for a file relative to the repo path. An empty repo
// path means the repo has not been cloned yet.
func fileExists(repoPath, name string) bool {
	if repoPath == "" {
		return false
	}
	_, err := os.Stat(filepath.Join(repoPath, name))
	return err == nil
}
