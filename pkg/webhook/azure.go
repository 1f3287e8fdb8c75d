package webhook

import (
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"remedy-copilot/pkg/types"
)

// AzureDevOpsHandler verifies and normalizes Azure DevOps
// build.complete service hooks.
type AzureDevOpsHandler struct {
	Secret string
}

var _ Handler = (*AzureDevOpsHandler)(nil)

func (h *AzureDevOpsHandler) Provider() types.Provider { return types.ProviderAzureDevOps }

// Verify checks the password half of HTTP basic auth against the
// shared secret. The username half is ignored.
func (h *AzureDevOpsHandler) Verify(header http.Header, _ []byte) error {
	auth := header.Get("Authorization")
	encoded, ok := strings.CutPrefix(auth, "Basic ")
	if !ok {
		return ErrBadSignature
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return ErrBadSignature
	}
	_, password, found := strings.Cut(string(decoded), ":")
	if !found || subtle.ConstantTimeCompare([]byte(password), []byte(h.Secret)) != 1 {
		return ErrBadSignature
	}
	return nil
}

type azurePayload struct {
	EventType string    `json:"eventType"`
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdDate"`
	Resource  struct {
		ID            int64  `json:"id"`
		BuildNumber   string `json:"buildNumber"`
		Status        string `json:"status"`
		Result        string `json:"result"`
		SourceVersion string `json:"sourceVersion"`
		SourceBranch  string `json:"sourceBranch"`
		Definition    struct {
			Name string `json:"name"`
		} `json:"definition"`
		Repository struct {
			Name      string `json:"name"`
			RemoteURL string `json:"remoteUrl"`
		} `json:"repository"`
	} `json:"resource"`
}

func (h *AzureDevOpsHandler) Parse(_ http.Header, body []byte) (*types.PipelineEvent, error) {
	var p azurePayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if p.Resource.ID == 0 {
		return nil, fmt.Errorf("%w: missing build resource", ErrMalformed)
	}
	if p.EventType != "build.complete" || !acceptedConclusion(p.Resource.Result) {
		return nil, ErrIgnored
	}

	repo := p.Resource.Repository.Name
	pipelineID := p.Resource.Definition.Name
	jobID := fmt.Sprintf("%d", p.Resource.ID)
	branch := strings.TrimPrefix(p.Resource.SourceBranch, "refs/heads/")

	correlation := p.ID
	if correlation == "" {
		correlation = uuid.NewString()
	}
	timestamp := p.CreatedAt
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}

	return &types.PipelineEvent{
		IdempotencyKey: types.BuildIdempotencyKey(types.ProviderAzureDevOps, repo, pipelineID, jobID, 1),
		Provider:       types.ProviderAzureDevOps,
		Repo:           repo,
		RepoURL:        p.Resource.Repository.RemoteURL,
		PipelineID:     pipelineID,
		JobID:          jobID,
		Attempt:        1,
		CommitSHA:      p.Resource.SourceVersion,
		Branch:         branch,
		Stage:          p.Resource.Definition.Name,
		FailureType:    types.FailureTypeBuild,
		Status:         types.EventStatusPending,
		RawPayload:     rawPayload(body),
		CorrelationID:  correlation,
		EventTimestamp: timestamp,
	}, nil
}
