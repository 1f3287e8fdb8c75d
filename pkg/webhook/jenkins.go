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

// JenkinsHandler verifies and normalizes Jenkins notification-plugin
// payloads.
type JenkinsHandler struct {
	Secret string
}

var _ Handler = (*JenkinsHandler)(nil)

func (h *JenkinsHandler) Provider() types.Provider { return types.ProviderJenkins }

// Verify accepts either X-Jenkins-Token or a bearer token.
func (h *JenkinsHandler) Verify(header http.Header, _ []byte) error {
	token := header.Get("X-Jenkins-Token")
	if token == "" {
		token = strings.TrimPrefix(header.Get("Authorization"), "Bearer ")
	}
	if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(h.Secret)) != 1 {
		return ErrBadSignature
	}
	return nil
}

type jenkinsPayload struct {
	Name  string `json:"name"`
	URL   string `json:"url"`
	Build struct {
		Number int64  `json:"number"`
		Phase  string `json:"phase"`
		Status string `json:"status"`
		SCM    struct {
			URL    string `json:"url"`
			Branch string `json:"branch"`
			Commit string `json:"commit"`
		} `json:"scm"`
	} `json:"build"`
}

func (h *JenkinsHandler) Parse(_ http.Header, body []byte) (*types.PipelineEvent, error) {
	var p jenkinsPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if p.Name == "" || p.Build.Number == 0 {
		return nil, fmt.Errorf("%w: missing job name or build number", ErrMalformed)
	}
	status := strings.ToLower(p.Build.Status)
	if p.Build.Phase != "COMPLETED" && p.Build.Phase != "FINALIZED" {
		return nil, ErrIgnored
	}
	if status != "failure" && status != "aborted" {
		return nil, ErrIgnored
	}

	repo := repoFromGitURL(p.Build.SCM.URL)
	if repo == "" {
		repo = p.Name
	}
	jobID := fmt.Sprintf("%d", p.Build.Number)
	branch := strings.TrimPrefix(p.Build.SCM.Branch, "origin/")

	return &types.PipelineEvent{
		IdempotencyKey: types.BuildIdempotencyKey(types.ProviderJenkins, repo, p.Name, jobID, 1),
		Provider:       types.ProviderJenkins,
		Repo:           repo,
		RepoURL:        p.Build.SCM.URL,
		PipelineID:     p.Name,
		JobID:          jobID,
		Attempt:        1,
		CommitSHA:      p.Build.SCM.Commit,
		Branch:         branch,
		Stage:          p.Name,
		FailureType:    types.FailureTypeBuild,
		Status:         types.EventStatusPending,
		RawPayload:     rawPayload(body),
		CorrelationID:  uuid.NewString(),
		EventTimestamp: time.Now().UTC(),
	}, nil
}

// repoFromGitURL extracts owner/name from an https or ssh git URL.
func repoFromGitURL(url string) string {
	url = strings.TrimSuffix(url, ".git")
	if idx := strings.Index(url, ":"); strings.HasPrefix(url, "git@") && idx >= 0 {
		return url[idx+1:]
	}
	parts := strings.Split(url, "/")
	if len(parts) >= 2 {
		return parts[len(parts)-2] + "/" + parts[len(parts)-1]
	}
	return ""
}
