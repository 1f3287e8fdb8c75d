// Package sandbox validates a generated patch by cloning the failing
// revision, applying the diff, and running the repo's tests inside a
// locked-down container, followed by security scans of the tree.
package sandbox

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"remedy-copilot/pkg/adapters"
	"remedy-copilot/pkg/gitrepo"
	"remedy-copilot/pkg/runner"
	"remedy-copilot/pkg/types"
)

const defaultCloneDepth = 50

// Config bounds the validator's resource use.
type Config struct {
	TestTimeout time.Duration
	MemoryLimit string
	CPULimit    string
	CloneDepth  int
	EnableSBOM  bool
}

// DefaultConfig returns the validator defaults.
func DefaultConfig() Config {
	return Config{
		TestTimeout: 5 * time.Minute,
		MemoryLimit: "2g",
		CPULimit:    "2",
		CloneDepth:  defaultCloneDepth,
	}
}

// Validator executes the clone, patch, test, and scan sequence.
type Validator struct {
	git      *gitrepo.Manager
	runtime  ContainerRuntime
	runner   runner.CommandRunner
	scanners []Scanner
	cfg      Config
	logger   zerolog.Logger
}

// NewValidator wires a validator. Scanners may be empty.
func NewValidator(git *gitrepo.Manager, rt ContainerRuntime, r runner.CommandRunner, scanners []Scanner, cfg Config, logger zerolog.Logger) *Validator {
	if cfg.TestTimeout <= 0 {
		cfg.TestTimeout = DefaultConfig().TestTimeout
	}
	if cfg.CloneDepth <= 0 {
		cfg.CloneDepth = defaultCloneDepth
	}
	return &Validator{
		git:      git,
		runtime:  rt,
		runner:   r,
		scanners: scanners,
		cfg:      cfg,
		logger:   logger.With().Str("component", "validator").Logger(),
	}
}

// Validate runs the full sequence for one request. The adapter supplies
// validation steps and the network requirement; a nil adapter falls
// back to framework defaults with the network off.
func (v *Validator) Validate(ctx context.Context, req *types.ValidationRequest, adapter adapters.Adapter) *types.ValidationResult {
	start := time.Now()
	result := &types.ValidationResult{Status: types.ValidationPending, Scans: map[string]types.ScanOutcome{}}
	defer func() {
		result.ExecutionTimeSeconds = time.Since(start).Seconds()
	}()

	fail := func(status types.ValidationStatus, err error) *types.ValidationResult {
		result.Status = status
		result.ErrorMessage = err.Error()
		v.logger.Warn().Err(err).Str("fix_id", req.FixID).Str("status", string(status)).Msg("validation aborted")
		return result
	}

	// phase 1: clone
	result.Status = types.ValidationCloning
	repoPath, err := os.MkdirTemp("", "fixval-")
	if err != nil {
		return fail(types.ValidationError, fmt.Errorf("create checkout dir: %w", err))
	}
	defer v.git.Cleanup(repoPath)

	if err := v.git.Clone(ctx, repoPath, gitrepo.CloneOptions{
		URL:       req.RepoURL,
		Branch:    req.Branch,
		CommitSHA: req.CommitSHA,
		Depth:     v.cfg.CloneDepth,
	}); err != nil {
		return fail(types.ValidationError, err)
	}

	// phase 2: patch, dry-run first
	result.Status = types.ValidationPatching
	if err := v.git.CheckPatch(ctx, repoPath, req.Diff); err != nil {
		return fail(types.ValidationError, err)
	}
	if err := v.git.ApplyPatch(ctx, repoPath, req.Diff); err != nil {
		return fail(types.ValidationError, err)
	}

	// phase 3: framework detection
	fw := DetectFramework(repoPath)
	if fw == nil {
		return fail(types.ValidationError, fmt.Errorf("no test framework detected"))
	}
	result.FrameworkDetected = fw.Name

	// phase 4: container
	networkOn := adapter != nil && adapter.NeedsNetwork()
	containerID, err := v.runtime.Create(ctx, ContainerSpec{
		Image:       fw.Image,
		RepoPath:    repoPath,
		WorkDir:     "/workspace",
		NetworkOn:   networkOn,
		MemoryLimit: v.cfg.MemoryLimit,
		CPULimit:    v.cfg.CPULimit,
	})
	if err != nil {
		return fail(types.ValidationError, err)
	}
	defer v.runtime.Cleanup(context.WithoutCancel(ctx), containerID)

	installCmds, testCmd, testTimeout := v.resolveSteps(adapter, repoPath, fw)

	// phase 5: install
	result.Status = types.ValidationInstalling
	for _, cmd := range installCmds {
		res, err := v.runtime.Exec(ctx, containerID, testTimeout, cmd)
		if err != nil {
			return fail(types.ValidationError, fmt.Errorf("install step: %w", err))
		}
		result.Logs += res.Output
		if res.TimedOut {
			result.Status = types.ValidationTimeout
			result.TimedOut = true
			return result
		}
		if res.ExitCode != 0 {
			result.Status = types.ValidationFailed
			result.ExitCode = res.ExitCode
			return result
		}
	}

	// phase 6: tests
	result.Status = types.ValidationRunning
	res, err := v.runtime.Exec(ctx, containerID, testTimeout, testCmd)
	if err != nil {
		result.Status = types.ValidationError
		result.ErrorMessage = err.Error()
		return result
	}
	result.Logs += res.Output
	result.ExitCode = res.ExitCode
	result.TimedOut = res.TimedOut
	passed, failed, skipped := parseTestCounts(fw.Name, res.Output)
	result.TestsPassed = passed
	result.TestsFailed = failed
	result.TestsSkipped = skipped
	result.TestsTotal = passed + failed + skipped

	// Parsed counts outrank the exit code: a wrapper script can swallow
	// the test runner's status. The exit code decides only when no
	// framework summary was found in the output.
	switch {
	case res.TimedOut:
		result.Status = types.ValidationTimeout
		return result
	case result.TestsTotal > 0 && result.TestsFailed > 0:
		result.Status = types.ValidationFailed
	case result.TestsTotal > 0:
		result.Status = types.ValidationPassed
	case res.ExitCode != 0:
		result.Status = types.ValidationFailed
	default:
		result.Status = types.ValidationPassed
	}

	// phase 7: scans, host-side against the patched tree
	for _, s := range v.scanners {
		outcome, serr := s.Scan(ctx, repoPath)
		if serr != nil {
			v.logger.Warn().Err(serr).Str("scanner", s.Name()).Msg("scan failed, recording as inconclusive")
			outcome = types.ScanOutcome{Tool: s.Name(), Detail: serr.Error()}
		}
		result.Scans[s.Name()] = outcome
	}
	if v.cfg.EnableSBOM {
		result.SBOM = GenerateSBOM(ctx, v.runner, repoPath)
	}

	if result.Status == types.ValidationPassed && result.BlockedByScan() {
		result.Status = types.ValidationFailed
	}

	v.logger.Info().
		Str("fix_id", req.FixID).
		Str("status", string(result.Status)).
		Str("framework", result.FrameworkDetected).
		Int("tests_failed", result.TestsFailed).
		Msg("validation finished")
	return result
}

// resolveSteps picks adapter-declared steps when present, otherwise the
// framework defaults. The last adapter step is the test command, the
// rest are install.
func (v *Validator) resolveSteps(adapter adapters.Adapter, repoPath string, fw *Framework) (installs [][]string, test []string, timeout time.Duration) {
	timeout = v.cfg.TestTimeout
	if adapter != nil {
		if steps := adapter.ValidationSteps(repoPath); len(steps) > 0 {
			for _, s := range steps[:len(steps)-1] {
				installs = append(installs, s.Command)
			}
			last := steps[len(steps)-1]
			if last.Timeout > 0 && last.Timeout < timeout {
				timeout = last.Timeout
			}
			return installs, last.Command, timeout
		}
	}
	return [][]string{fw.Install}, fw.Test, timeout
}
