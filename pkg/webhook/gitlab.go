package webhook

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"remedy-copilot/pkg/types"
)

// GitLabHandler verifies and normalizes GitLab CI job hooks.
type GitLabHandler struct {
	Secret string
}

var _ Handler = (*GitLabHandler)(nil)

func (h *GitLabHandler) Provider() types.Provider { return types.ProviderGitLab }

// Verify compares X-Gitlab-Token in constant time.
func (h *GitLabHandler) Verify(header http.Header, _ []byte) error {
	token := header.Get("X-Gitlab-Token")
	if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(h.Secret)) != 1 {
		return ErrBadSignature
	}
	return nil
}

type gitlabJobPayload struct {
	ObjectKind  string  `json:"object_kind"`
	BuildID     int64   `json:"build_id"`
	PipelineID  int64   `json:"pipeline_id"`
	BuildName   string  `json:"build_name"`
	BuildStage  string  `json:"build_stage"`
	BuildStatus string  `json:"build_status"`
	SHA         string  `json:"sha"`
	Ref         string  `json:"ref"`
	Duration    float64 `json:"build_duration"`
	Project     struct {
		PathWithNamespace string `json:"path_with_namespace"`
		GitHTTPURL        string `json:"git_http_url"`
	} `json:"project"`
}

func (h *GitLabHandler) Parse(_ http.Header, body []byte) (*types.PipelineEvent, error) {
	var p gitlabJobPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if p.ObjectKind != "build" || p.BuildID == 0 {
		return nil, fmt.Errorf("%w: expected a build hook", ErrMalformed)
	}
	if !acceptedConclusion(p.BuildStatus) {
		return nil, ErrIgnored
	}

	repo := p.Project.PathWithNamespace
	pipelineID := fmt.Sprintf("%d", p.PipelineID)
	jobID := fmt.Sprintf("%d", p.BuildID)
	branch := strings.TrimPrefix(p.Ref, "refs/heads/")

	return &types.PipelineEvent{
		IdempotencyKey: types.BuildIdempotencyKey(types.ProviderGitLab, repo, pipelineID, jobID, 1),
		Provider:       types.ProviderGitLab,
		Repo:           repo,
		RepoURL:        p.Project.GitHTTPURL,
		PipelineID:     pipelineID,
		JobID:          jobID,
		Attempt:        1,
		CommitSHA:      p.SHA,
		Branch:         branch,
		Stage:          p.BuildStage,
		FailureType:    types.FailureTypeTest,
		Status:         types.EventStatusPending,
		RawPayload:     rawPayload(body),
		CorrelationID:  uuid.NewString(),
		EventTimestamp: time.Now().UTC(),
	}, nil
}
