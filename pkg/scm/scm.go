// Package scm abstracts the source-control host. The pipeline needs
// three things from it: commit metadata, failed job logs, and pull
// request creation.
package scm

import (
	"context"

	"remedy-copilot/pkg/types"
)

// Commit is the metadata the context builder attaches to a failure.
type Commit struct {
	SHA          string   `json:"sha"`
	Message      string   `json:"message"`
	Author       string   `json:"author"`
	ChangedFiles []string `json:"changed_files"`
}

// RepositoryProvider reads commit data and job logs from the host.
type RepositoryProvider interface {
	GetCommit(ctx context.Context, repo, sha string) (*Commit, error)
	DownloadJobLogs(ctx context.Context, repo, jobID string) (string, error)
}

// PRRequest describes the pull request to open for a validated fix.
// Files carries the post-patch content per touched path; providers that
// commit through a content API use it instead of the raw diff.
type PRRequest struct {
	Repo      string
	BaseRef   string
	HeadRef   string
	Title     string
	Body      string
	Diff      string
	Files     map[string]string
	CommitSHA string
	Label     string
}

// PROrchestrator creates pull requests. Implementations must be safe
// to call at most once per run; the pipeline enforces idempotency
// through the persisted PR state.
type PROrchestrator interface {
	CreatePRForFix(ctx context.Context, req *PRRequest) (*types.PRResult, error)
}
