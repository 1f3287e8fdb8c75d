package pipeline

import (
	"context"

	"github.com/rs/zerolog"

	"remedy-copilot/pkg/logparse"
	"remedy-copilot/pkg/scm"
	"remedy-copilot/pkg/types"
)

const maxContextLogBytes = 10 << 20

// ContextBuilder aggregates the observability artifacts for a failure:
// job logs from the provider, commit metadata, and the parsed log
// structure.
type ContextBuilder struct {
	provider scm.RepositoryProvider
	logger   zerolog.Logger
}

// NewContextBuilder creates a context builder.
func NewContextBuilder(provider scm.RepositoryProvider, logger zerolog.Logger) *ContextBuilder {
	return &ContextBuilder{
		provider: provider,
		logger:   logger.With().Str("component", "context_builder").Logger(),
	}
}

// Build downloads and parses the failure context. Commit metadata is
// best effort, log retrieval is not.
func (b *ContextBuilder) Build(ctx context.Context, event *types.PipelineEvent) (*types.FailureContextBundle, error) {
	logText, err := b.provider.DownloadJobLogs(ctx, event.Repo, event.JobID)
	if err != nil {
		return nil, err
	}
	truncated := false
	if len(logText) > maxContextLogBytes {
		logText = logText[:maxContextLogBytes]
		truncated = true
	}

	bundle := &types.FailureContextBundle{
		EventID:      event.ID,
		Repo:         event.Repo,
		LogText:      logText,
		LogTruncated: truncated,
		Parsed:       logparse.Parse(logText),
	}

	if commit, cerr := b.provider.GetCommit(ctx, event.Repo, event.CommitSHA); cerr == nil {
		bundle.ChangedFiles = commit.ChangedFiles
		bundle.CommitMessage = commit.Message
	} else {
		b.logger.Warn().Err(cerr).Str("sha", event.CommitSHA).Msg("commit metadata unavailable")
	}
	return bundle, nil
}
