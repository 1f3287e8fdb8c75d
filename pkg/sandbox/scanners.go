package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"remedy-copilot/pkg/runner"
	"remedy-copilot/pkg/types"
)

const scanTimeout = 2 * time.Minute

// Scanner runs one security tool against a checked-out working tree.
type Scanner interface {
	Name() string
	Scan(ctx context.Context, repoPath string) (types.ScanOutcome, error)
}

// GitleaksScanner looks for committed secrets in the working tree. Any
// finding blocks the validation.
type GitleaksScanner struct {
	runner runner.CommandRunner
	logger zerolog.Logger
}

func NewGitleaksScanner(r runner.CommandRunner, logger zerolog.Logger) *GitleaksScanner {
	return &GitleaksScanner{runner: r, logger: logger.With().Str("component", "gitleaks").Logger()}
}

func (s *GitleaksScanner) Name() string { return "gitleaks" }

func (s *GitleaksScanner) Scan(ctx context.Context, repoPath string) (types.ScanOutcome, error) {
	out := types.ScanOutcome{Tool: "gitleaks"}
	res, err := s.runner.Run(ctx, repoPath, scanTimeout,
		"gitleaks", "detect", "--source", ".", "--no-git", "--report-format", "json", "--report-path", "/dev/stdout", "--exit-code", "2")
	if err != nil {
		return out, fmt.Errorf("gitleaks: %w", err)
	}
	// exit 2 means leaks found, anything else non-zero is a tool failure
	switch res.ExitCode {
	case 0:
		out.Passed = true
	case 2:
		out.Findings = countJSONArray(res.Output)
		if out.Findings == 0 {
			out.Findings = 1
		}
		out.Blocking = true
		out.Detail = "secrets detected in working tree"
	default:
		return out, fmt.Errorf("gitleaks exited %d: %s", res.ExitCode, firstLine(res.Output))
	}
	return out, nil
}

// TrivyScanner scans the dependency tree for known vulnerabilities.
// Critical findings block, lower severities are reported only.
type TrivyScanner struct {
	runner runner.CommandRunner
	logger zerolog.Logger
}

func NewTrivyScanner(r runner.CommandRunner, logger zerolog.Logger) *TrivyScanner {
	return &TrivyScanner{runner: r, logger: logger.With().Str("component", "trivy").Logger()}
}

func (s *TrivyScanner) Name() string { return "trivy" }

type trivyReport struct {
	Results []struct {
		Vulnerabilities []struct {
			Severity string `json:"Severity"`
		} `json:"Vulnerabilities"`
	} `json:"Results"`
}

func (s *TrivyScanner) Scan(ctx context.Context, repoPath string) (types.ScanOutcome, error) {
	out := types.ScanOutcome{Tool: "trivy"}
	res, err := s.runner.Run(ctx, repoPath, scanTimeout,
		"trivy", "fs", "--scanners", "vuln", "--format", "json", "--quiet", ".")
	if err != nil {
		return out, fmt.Errorf("trivy: %w", err)
	}
	if res.ExitCode != 0 {
		return out, fmt.Errorf("trivy exited %d: %s", res.ExitCode, firstLine(res.Output))
	}

	var report trivyReport
	if jerr := json.Unmarshal([]byte(res.Output), &report); jerr != nil {
		return out, fmt.Errorf("trivy output: %w", jerr)
	}
	critical := 0
	for _, r := range report.Results {
		for _, v := range r.Vulnerabilities {
			out.Findings++
			if v.Severity == "CRITICAL" {
				critical++
			}
		}
	}
	out.Passed = critical == 0
	out.Blocking = critical > 0
	if critical > 0 {
		out.Detail = fmt.Sprintf("%d critical vulnerabilities", critical)
	}
	return out, nil
}

// GenerateSBOM produces a CycloneDX SBOM for the tree via syft when the
// tool is installed. Absence of syft is not an error, the SBOM is
// optional.
func GenerateSBOM(ctx context.Context, r runner.CommandRunner, repoPath string) string {
	if _, err := exec.LookPath("syft"); err != nil {
		return ""
	}
	res, err := r.Run(ctx, repoPath, scanTimeout, "syft", "scan", "dir:.", "-o", "cyclonedx-json")
	if err != nil || res.ExitCode != 0 {
		return ""
	}
	return res.Output
}

func countJSONArray(output string) int {
	var items []json.RawMessage
	if err := json.Unmarshal([]byte(strings.TrimSpace(output)), &items); err != nil {
		return 0
	}
	return len(items)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
