package adapters

import (
	"regexp"

	"remedy-copilot/pkg/types"
)

var dockerLogMarkers = []*regexp.Regexp{
	regexp.MustCompile(`(?i)failed to solve`),
	regexp.MustCompile(`(?m)^#\d+ ERROR`),
	regexp.MustCompile(`(?i)manifest for \S+ not found`),
	regexp.MustCompile(`(?i)error response from daemon`),
	regexp.MustCompile(`(?i)docker buildx? build`),
}

// DockerAdapter covers image build failures. It is last in priority so
// language adapters win when a language signal is present.
type DockerAdapter struct{}

// NewDockerAdapter returns the Docker adapter.
func NewDockerAdapter() *DockerAdapter { return &DockerAdapter{} }

func (a *DockerAdapter) Name() string { return "docker" }

func (a *DockerAdapter) Detect(logText string, repoFiles []string) Detection {
	det := Detection{RepoLanguage: "dockerfile", Category: "docker_pin_base_image"}
	for _, re := range dockerLogMarkers {
		if m := re.FindString(logText); m != "" {
			det.Confidence += 0.25
			det.EvidenceLines = append(det.EvidenceLines, m)
		}
	}
	if containsFile(repoFiles, "Dockerfile") {
		det.Confidence += 0.35
	}
	if det.Confidence > 1 {
		det.Confidence = 1
	}
	return det
}

func (a *DockerAdapter) AllowedFixTypes() []types.OperationType {
	return []types.OperationType{types.OpUpdateConfig, types.OpPinDependency}
}

func (a *DockerAdapter) AllowedCategories() []string {
	return []string{"docker_pin_base_image", "docker_build_failure"}
}

// ValidationSteps is nil: a Docker fix is validated by rebuilding the
// image, which the sandbox does through its framework default.
func (a *DockerAdapter) ValidationSteps(repoPath string) []Step { return nil }

func (a *DockerAdapter) NeedsNetwork() bool { return true }
