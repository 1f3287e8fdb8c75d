// Package runner wraps subprocess execution behind an interface so the
// git, sandbox, and validation layers can be tested without spawning
// processes.
package runner

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"
)

// RunResult captures the combined output and exit disposition of a
// finished command.
type RunResult struct {
	Output   string        `json:"output"`
	ExitCode int           `json:"exit_code"`
	TimedOut bool          `json:"timed_out"`
	Duration time.Duration `json:"duration"`
}

// CommandRunner executes a command in dir with the given timeout. A
// zero timeout means the context's own deadline applies.
type CommandRunner interface {
	Run(ctx context.Context, dir string, timeout time.Duration, args ...string) (*RunResult, error)
}

// Default runs commands via os/exec with combined output capture.
type Default struct{}

var _ CommandRunner = (*Default)(nil)

func (d *Default) Run(ctx context.Context, dir string, timeout time.Duration, args ...string) (*RunResult, error) {
	if len(args) == 0 {
		return nil, errors.New("no command given")
	}
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	cmd := exec.CommandContext(runCtx, args[0], args[1:]...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()

	result := &RunResult{
		Output:   string(out),
		Duration: time.Since(start),
		TimedOut: errors.Is(runCtx.Err(), context.DeadlineExceeded),
	}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		result.ExitCode = 0
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode()
		err = nil
	default:
		return result, err
	}
	return result, nil
}

// FakeCall records one invocation of the fake runner.
type FakeCall struct {
	Dir  string
	Args []string
}

// FakeResponse scripts the fake's reply for a command whose joined args
// contain Match.
type FakeResponse struct {
	Match    string
	Output   string
	ExitCode int
	TimedOut bool
	Err      error
}

// Fake replays scripted responses, in declaration order, first match
// wins. Unmatched commands succeed with empty output. Hook, when set,
// observes every call and can simulate filesystem side effects.
type Fake struct {
	Responses []FakeResponse
	Calls     []FakeCall
	Hook      func(dir string, args []string)
}

var _ CommandRunner = (*Fake)(nil)

func (f *Fake) Run(_ context.Context, dir string, _ time.Duration, args ...string) (*RunResult, error) {
	f.Calls = append(f.Calls, FakeCall{Dir: dir, Args: args})
	if f.Hook != nil {
		f.Hook(dir, args)
	}
	joined := strings.Join(args, " ")
	for _, r := range f.Responses {
		if strings.Contains(joined, r.Match) {
			if r.Err != nil {
				return nil, r.Err
			}
			return &RunResult{Output: r.Output, ExitCode: r.ExitCode, TimedOut: r.TimedOut}, nil
		}
	}
	return &RunResult{}, nil
}
