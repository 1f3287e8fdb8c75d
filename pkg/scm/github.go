package scm

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/go-github/v45/github"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"

	"remedy-copilot/pkg/types"
)

const maxLogBytes = 10 << 20 // byte ceiling for downloaded job logs

// GitHubClient talks to the GitHub API for commit metadata, job logs,
// and PR creation. All calls go through a circuit breaker so a GitHub
// outage degrades fast instead of piling up worker tasks.
type GitHubClient struct {
	client  *github.Client
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  zerolog.Logger
}

var (
	_ RepositoryProvider = (*GitHubClient)(nil)
	_ PROrchestrator     = (*GitHubClient)(nil)
)

// NewGitHubClient creates a token-authenticated client.
func NewGitHubClient(ctx context.Context, token string, logger zerolog.Logger) *GitHubClient {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	tc := oauth2.NewClient(ctx, ts)

	log := logger.With().Str("component", "github").Logger()
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "github",
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("from", from.String()).Str("to", to.String()).Msg("github breaker state changed")
		},
	})

	return &GitHubClient{
		client:  github.NewClient(tc),
		http:    tc,
		breaker: breaker,
		logger:  log,
	}
}

// GetCommit returns the commit message, author, and changed files.
func (g *GitHubClient) GetCommit(ctx context.Context, repo, sha string) (*Commit, error) {
	owner, name := types.SplitRepo(repo)
	res, err := g.breaker.Execute(func() (interface{}, error) {
		commit, _, err := g.client.Repositories.GetCommit(ctx, owner, name, sha, nil)
		return commit, err
	})
	if err != nil {
		return nil, fmt.Errorf("get commit %s: %w", sha, err)
	}
	rc := res.(*github.RepositoryCommit)

	out := &Commit{SHA: sha}
	if rc.Commit != nil {
		out.Message = rc.Commit.GetMessage()
		if rc.Commit.Author != nil {
			out.Author = rc.Commit.Author.GetName()
		}
	}
	for _, f := range rc.Files {
		out.ChangedFiles = append(out.ChangedFiles, f.GetFilename())
	}
	return out, nil
}

// DownloadJobLogs fetches the raw log text for a failed Actions job,
// truncated at the byte ceiling.
func (g *GitHubClient) DownloadJobLogs(ctx context.Context, repo, jobID string) (string, error) {
	owner, name := types.SplitRepo(repo)
	id, err := strconv.ParseInt(jobID, 10, 64)
	if err != nil {
		return "", fmt.Errorf("job id %q is not numeric: %w", jobID, err)
	}

	res, err := g.breaker.Execute(func() (interface{}, error) {
		url, _, err := g.client.Actions.GetWorkflowJobLogs(ctx, owner, name, id, true)
		return url, err
	})
	if err != nil {
		return "", fmt.Errorf("resolve job log url: %w", err)
	}
	logURL := res.(*url.URL).String()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, logURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := g.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("download job logs: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download job logs: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxLogBytes))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// CreatePRForFix commits the patched files onto a new branch off the
// failing commit and opens a labeled pull request.
func (g *GitHubClient) CreatePRForFix(ctx context.Context, req *PRRequest) (*types.PRResult, error) {
	owner, name := types.SplitRepo(req.Repo)

	result, err := g.breaker.Execute(func() (interface{}, error) {
		return g.createPR(ctx, owner, name, req)
	})
	if err != nil {
		g.logger.Error().Err(err).Str("repo", req.Repo).Msg("pr creation failed")
		return &types.PRResult{Status: "failed"}, err
	}
	return result.(*types.PRResult), nil
}

func (g *GitHubClient) createPR(ctx context.Context, owner, name string, req *PRRequest) (*types.PRResult, error) {
	baseSHA := req.CommitSHA
	if baseSHA == "" {
		ref, _, err := g.client.Git.GetRef(ctx, owner, name, "refs/heads/"+req.BaseRef)
		if err != nil {
			return nil, fmt.Errorf("resolve base ref: %w", err)
		}
		baseSHA = ref.Object.GetSHA()
	}

	// tree with the patched files on top of the base commit
	var entries []*github.TreeEntry
	for path, content := range req.Files {
		entries = append(entries, &github.TreeEntry{
			Path:    github.String(path),
			Mode:    github.String("100644"),
			Type:    github.String("blob"),
			Content: github.String(content),
		})
	}
	tree, _, err := g.client.Git.CreateTree(ctx, owner, name, baseSHA, entries)
	if err != nil {
		return nil, fmt.Errorf("create tree: %w", err)
	}

	commit, _, err := g.client.Git.CreateCommit(ctx, owner, name, &github.Commit{
		Message: github.String(req.Title),
		Tree:    tree,
		Parents: []*github.Commit{{SHA: github.String(baseSHA)}},
	})
	if err != nil {
		return nil, fmt.Errorf("create commit: %w", err)
	}

	branchRef := "refs/heads/" + req.HeadRef
	if _, _, err := g.client.Git.CreateRef(ctx, owner, name, &github.Reference{
		Ref:    github.String(branchRef),
		Object: &github.GitObject{SHA: commit.SHA},
	}); err != nil {
		return nil, fmt.Errorf("create branch: %w", err)
	}

	pr, _, err := g.client.PullRequests.Create(ctx, owner, name, &github.NewPullRequest{
		Title: github.String(req.Title),
		Head:  github.String(req.HeadRef),
		Base:  github.String(req.BaseRef),
		Body:  github.String(req.Body),
	})
	if err != nil {
		return nil, fmt.Errorf("create pull request: %w", err)
	}

	if req.Label != "" {
		if _, _, err := g.client.Issues.AddLabelsToIssue(ctx, owner, name, pr.GetNumber(), []string{req.Label}); err != nil {
			g.logger.Warn().Err(err).Int("pr", pr.GetNumber()).Msg("failed to label pull request")
		}
	}

	g.logger.Info().Str("url", pr.GetHTMLURL()).Int("number", pr.GetNumber()).Msg("pull request created")
	return &types.PRResult{
		Status: "created",
		URL:    pr.GetHTMLURL(),
		Number: pr.GetNumber(),
		Branch: req.HeadRef,
		Label:  req.Label,
	}, nil
}
