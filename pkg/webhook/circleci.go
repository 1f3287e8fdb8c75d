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

// CircleCIHandler verifies and normalizes CircleCI v2 job-completed
// webhooks.
type CircleCIHandler struct {
	Secret string
}

var _ Handler = (*CircleCIHandler)(nil)

func (h *CircleCIHandler) Provider() types.Provider { return types.ProviderCircleCI }

// Verify checks the circleci-signature header, which carries one or
// more comma-separated versioned signatures (v1=<hex> is HMAC-SHA256).
func (h *CircleCIHandler) Verify(header http.Header, body []byte) error {
	var provided string
	for _, part := range strings.Split(header.Get("circleci-signature"), ",") {
		if v, ok := strings.CutPrefix(strings.TrimSpace(part), "v1="); ok {
			provided = v
			break
		}
	}
	if provided == "" {
		return ErrBadSignature
	}
	mac := hmac.New(sha256.New, []byte(h.Secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(provided), []byte(expected)) {
		return ErrBadSignature
	}
	return nil
}

type circleCIPayload struct {
	Type       string    `json:"type"`
	ID         string    `json:"id"`
	HappenedAt time.Time `json:"happened_at"`
	Job        struct {
		Number int64  `json:"number"`
		Name   string `json:"name"`
		Status string `json:"status"`
	} `json:"job"`
	Pipeline struct {
		ID     string `json:"id"`
		Number int64  `json:"number"`
		VCS    struct {
			Revision  string `json:"revision"`
			Branch    string `json:"branch"`
			OriginURL string `json:"origin_repository_url"`
		} `json:"vcs"`
	} `json:"pipeline"`
	Project struct {
		Slug string `json:"slug"` // e.g. gh/acme/app
	} `json:"project"`
}

func (h *CircleCIHandler) Parse(_ http.Header, body []byte) (*types.PipelineEvent, error) {
	var p circleCIPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if p.Job.Number == 0 || p.Project.Slug == "" {
		return nil, fmt.Errorf("%w: missing job or project", ErrMalformed)
	}
	if p.Type != "job-completed" || !acceptedConclusion(p.Job.Status) {
		return nil, ErrIgnored
	}

	repo := strings.TrimPrefix(strings.TrimPrefix(p.Project.Slug, "gh/"), "bb/")
	pipelineID := p.Pipeline.ID
	if pipelineID == "" {
		pipelineID = fmt.Sprintf("%d", p.Pipeline.Number)
	}
	jobID := fmt.Sprintf("%d", p.Job.Number)

	correlation := p.ID
	if correlation == "" {
		correlation = uuid.NewString()
	}
	timestamp := p.HappenedAt
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}

	return &types.PipelineEvent{
		IdempotencyKey: types.BuildIdempotencyKey(types.ProviderCircleCI, repo, pipelineID, jobID, 1),
		Provider:       types.ProviderCircleCI,
		Repo:           repo,
		RepoURL:        p.Pipeline.VCS.OriginURL,
		PipelineID:     pipelineID,
		JobID:          jobID,
		Attempt:        1,
		CommitSHA:      p.Pipeline.VCS.Revision,
		Branch:         p.Pipeline.VCS.Branch,
		Stage:          p.Job.Name,
		FailureType:    types.FailureTypeTest,
		Status:         types.EventStatusPending,
		RawPayload:     rawPayload(body),
		CorrelationID:  correlation,
		EventTimestamp: timestamp,
	}, nil
}
