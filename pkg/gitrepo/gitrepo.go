// Package gitrepo provides the git operations the pipeline needs:
// shallow clones pinned to a commit, patch dry-runs and application,
// and gitignore-aware file enumeration.
package gitrepo

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/rs/zerolog"

	"remedy-copilot/pkg/runner"
)

const (
	defaultCloneTimeout = 120 * time.Second
	defaultPatchTimeout = 30 * time.Second
)

// GitError carries a categorized git failure.
type GitError struct {
	Type    string `json:"type"` // auth_error, network_error, invalid_repo, patch_error, clone_error
	Message string `json:"message"`
	Output  string `json:"output"`
}

func (e *GitError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// CloneOptions configure a repository checkout.
type CloneOptions struct {
	URL       string
	Branch    string
	CommitSHA string
	Depth     int
	Timeout   time.Duration
	AuthToken string
}

// Manager runs git against a working tree.
type Manager struct {
	runner runner.CommandRunner
	logger zerolog.Logger
}

// NewManager creates a git manager backed by the given runner.
func NewManager(r runner.CommandRunner, logger zerolog.Logger) *Manager {
	return &Manager{
		runner: r,
		logger: logger.With().Str("component", "git").Logger(),
	}
}

// Clone checks the repository out into targetDir. When CommitSHA is set
// the clone is deepened as needed and the tree is detached at that
// commit, so validation runs against the exact failing revision.
func (m *Manager) Clone(ctx context.Context, targetDir string, opts CloneOptions) error {
	if opts.URL == "" {
		return &GitError{Type: "invalid_repo", Message: "repository URL is required"}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultCloneTimeout
	}

	args := []string{"git", "clone"}
	if opts.Depth > 0 {
		args = append(args, "--depth", fmt.Sprintf("%d", opts.Depth), "--single-branch")
	}
	if opts.Branch != "" {
		args = append(args, "--branch", opts.Branch)
	}
	args = append(args, authURL(opts.URL, opts.AuthToken), targetDir)

	m.logger.Info().
		Str("repo_url", opts.URL).
		Str("branch", opts.Branch).
		Str("commit", opts.CommitSHA).
		Msg("cloning repository")

	res, err := m.runner.Run(ctx, "", timeout, args...)
	if err != nil {
		return &GitError{Type: "clone_error", Message: err.Error()}
	}
	if res.TimedOut {
		return &GitError{Type: "network_error", Message: "clone timed out", Output: res.Output}
	}
	if res.ExitCode != 0 {
		return &GitError{Type: categorize(res.Output), Message: "git clone failed", Output: res.Output}
	}

	if opts.CommitSHA != "" {
		return m.checkoutCommit(ctx, targetDir, opts.CommitSHA, timeout)
	}
	return nil
}

func (m *Manager) checkoutCommit(ctx context.Context, repoPath, sha string, timeout time.Duration) error {
	res, err := m.runner.Run(ctx, repoPath, timeout, "git", "checkout", "--detach", sha)
	if err != nil {
		return &GitError{Type: "clone_error", Message: err.Error()}
	}
	if res.ExitCode == 0 {
		return nil
	}
	// shallow clone may not contain the commit yet
	if fetch, ferr := m.runner.Run(ctx, repoPath, timeout, "git", "fetch", "--unshallow", "origin"); ferr != nil || fetch.ExitCode != 0 {
		return &GitError{Type: "invalid_repo", Message: "commit not reachable", Output: res.Output}
	}
	res, err = m.runner.Run(ctx, repoPath, timeout, "git", "checkout", "--detach", sha)
	if err != nil || res.ExitCode != 0 {
		return &GitError{Type: "invalid_repo", Message: "commit not found after unshallow", Output: res.Output}
	}
	return nil
}

// CheckPatch dry-runs the diff with git apply --check. A non-zero exit
// is a patch_error with git's reasoning attached.
func (m *Manager) CheckPatch(ctx context.Context, repoPath, diffText string) error {
	return m.applyPatch(ctx, repoPath, diffText, true)
}

// ApplyPatch applies the diff to the working tree.
func (m *Manager) ApplyPatch(ctx context.Context, repoPath, diffText string) error {
	return m.applyPatch(ctx, repoPath, diffText, false)
}

func (m *Manager) applyPatch(ctx context.Context, repoPath, diffText string, checkOnly bool) error {
	tmp, err := os.CreateTemp("", "fix-*.diff")
	if err != nil {
		return fmt.Errorf("write patch file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(diffText); err != nil {
		tmp.Close()
		return fmt.Errorf("write patch file: %w", err)
	}
	tmp.Close()

	args := []string{"git", "apply", "--whitespace=nowarn"}
	if checkOnly {
		args = append(args, "--check")
	}
	args = append(args, tmp.Name())

	res, err := m.runner.Run(ctx, repoPath, defaultPatchTimeout, args...)
	if err != nil {
		return &GitError{Type: "patch_error", Message: err.Error()}
	}
	if res.ExitCode != 0 {
		return &GitError{Type: "patch_error", Message: "git apply failed", Output: res.Output}
	}
	return nil
}

// HeadCommit returns the SHA the working tree is checked out at.
func (m *Manager) HeadCommit(ctx context.Context, repoPath string) (string, error) {
	res, err := m.runner.Run(ctx, repoPath, defaultPatchTimeout, "git", "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", &GitError{Type: "invalid_repo", Message: "rev-parse failed", Output: res.Output}
	}
	return strings.TrimSpace(res.Output), nil
}

// ListFiles walks the tree and returns repo-relative paths, honoring
// .gitignore and skipping the .git directory.
func (m *Manager) ListFiles(repoPath string) ([]string, error) {
	var ignorer *gitignore.GitIgnore
	if ign, err := gitignore.CompileIgnoreFile(filepath.Join(repoPath, ".gitignore")); err == nil {
		ignorer = ign
	}

	var files []string
	err := filepath.WalkDir(repoPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, rerr := filepath.Rel(repoPath, path)
		if rerr != nil {
			return rerr
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			if ignorer != nil && rel != "." && ignorer.MatchesPath(rel+"/") {
				return filepath.SkipDir
			}
			return nil
		}
		if ignorer != nil && ignorer.MatchesPath(rel) {
			return nil
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list repository files: %w", err)
	}
	return files, nil
}

// Cleanup removes a checkout created by Clone.
func (m *Manager) Cleanup(repoPath string) {
	if repoPath == "" {
		return
	}
	if err := os.RemoveAll(repoPath); err != nil {
		m.logger.Warn().Err(err).Str("path", repoPath).Msg("failed to remove checkout")
	}
}

func authURL(url, token string) string {
	if token != "" && strings.HasPrefix(url, "https://") {
		return strings.Replace(url, "https://", "https://x-access-token:"+token+"@", 1)
	}
	return url
}

func categorize(output string) string {
	out := strings.ToLower(output)
	switch {
	case strings.Contains(out, "authentication") || strings.Contains(out, "permission denied") || strings.Contains(out, "unauthorized"):
		return "auth_error"
	case strings.Contains(out, "could not resolve") || strings.Contains(out, "connection") || strings.Contains(out, "timed out"):
		return "network_error"
	case strings.Contains(out, "not found") || strings.Contains(out, "does not exist"):
		return "invalid_repo"
	default:
		return "clone_error"
	}
}
