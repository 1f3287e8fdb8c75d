package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"remedy-copilot/pkg/types"
)

// GitHubHandler verifies and normalizes GitHub Actions workflow_job
// events.
type GitHubHandler struct {
	Secret string
}

var _ Handler = (*GitHubHandler)(nil)

func (h *GitHubHandler) Provider() types.Provider { return types.ProviderGitHub }

// Verify checks X-Hub-Signature-256 against the HMAC-SHA256 of the raw
// body.
func (h *GitHubHandler) Verify(header http.Header, body []byte) error {
	sig := header.Get("X-Hub-Signature-256")
	if !strings.HasPrefix(sig, "sha256=") {
		return ErrBadSignature
	}
	mac := hmac.New(sha256.New, []byte(h.Secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(sig), []byte(expected)) {
		return ErrBadSignature
	}
	return nil
}

type githubWorkflowJobPayload struct {
	Action      string `json:"action"`
	WorkflowJob struct {
		ID          int64     `json:"id"`
		RunID       int64     `json:"run_id"`
		RunAttempt  int       `json:"run_attempt"`
		Name        string    `json:"name"`
		Status      string    `json:"status"`
		Conclusion  string    `json:"conclusion"`
		HeadSHA     string    `json:"head_sha"`
		HeadBranch  string    `json:"head_branch"`
		CompletedAt time.Time `json:"completed_at"`
	} `json:"workflow_job"`
	Repository struct {
		FullName string `json:"full_name"`
		CloneURL string `json:"clone_url"`
	} `json:"repository"`
}

func (h *GitHubHandler) Parse(header http.Header, body []byte) (*types.PipelineEvent, error) {
	var p githubWorkflowJobPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if p.WorkflowJob.ID == 0 || p.Repository.FullName == "" {
		return nil, fmt.Errorf("%w: missing workflow_job or repository", ErrMalformed)
	}
	if p.Action != "completed" || !acceptedConclusion(p.WorkflowJob.Conclusion) {
		return nil, ErrIgnored
	}

	attempt := p.WorkflowJob.RunAttempt
	if attempt == 0 {
		attempt = 1
	}
	pipelineID := fmt.Sprintf("%d", p.WorkflowJob.RunID)
	jobID := fmt.Sprintf("%d", p.WorkflowJob.ID)

	correlation := header.Get("X-GitHub-Delivery")
	if correlation == "" {
		correlation = uuid.NewString()
	}
	timestamp := p.WorkflowJob.CompletedAt
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}

	return &types.PipelineEvent{
		IdempotencyKey: types.BuildIdempotencyKey(types.ProviderGitHub, p.Repository.FullName, pipelineID, jobID, attempt),
		Provider:       types.ProviderGitHub,
		Repo:           p.Repository.FullName,
		RepoURL:        p.Repository.CloneURL,
		PipelineID:     pipelineID,
		JobID:          jobID,
		Attempt:        attempt,
		CommitSHA:      p.WorkflowJob.HeadSHA,
		Branch:         p.WorkflowJob.HeadBranch,
		Stage:          p.WorkflowJob.Name,
		FailureType:    failureTypeFor(p.WorkflowJob.Conclusion),
		Status:         types.EventStatusPending,
		RawPayload:     rawPayload(body),
		CorrelationID:  correlation,
		EventTimestamp: timestamp,
	}, nil
}

func failureTypeFor(conclusion string) types.FailureType {
	switch conclusion {
	case "timed_out", "timeout":
		return types.FailureTypeTimeout
	default:
		return types.FailureTypeTest
	}
}
