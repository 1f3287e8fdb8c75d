// Package types holds the domain model shared across the fix pipeline:
// normalized CI events, failure context, fix plans, policy decisions,
// validation results and the pipeline run aggregate.
package types

import (
	"fmt"
	"strings"
	"time"
)

// Provider identifies the CI system an event originated from.
type Provider string

const (
	ProviderGitHub      Provider = "github"
	ProviderGitLab      Provider = "gitlab"
	ProviderCircleCI    Provider = "circleci"
	ProviderJenkins     Provider = "jenkins"
	ProviderAzureDevOps Provider = "azure_devops"
)

// FailureType classifies the failed pipeline stage at ingestion time.
type FailureType string

const (
	FailureTypeBuild          FailureType = "build"
	FailureTypeTest           FailureType = "test"
	FailureTypeDeploy         FailureType = "deploy"
	FailureTypeInfrastructure FailureType = "infrastructure"
	FailureTypeTimeout        FailureType = "timeout"
)

// EventStatus tracks the ingestion lifecycle of a pipeline event.
// The status only ever advances.
type EventStatus string

const (
	EventStatusPending    EventStatus = "pending"
	EventStatusDispatched EventStatus = "dispatched"
	EventStatusProcessing EventStatus = "processing"
	EventStatusCompleted  EventStatus = "completed"
	EventStatusFailed     EventStatus = "failed"
)

// Rank orders the lifecycle so stores can refuse status regressions.
// Completed and failed are both terminal.
func (s EventStatus) Rank() int {
	switch s {
	case EventStatusDispatched:
		return 1
	case EventStatusProcessing:
		return 2
	case EventStatusCompleted, EventStatusFailed:
		return 3
	}
	return 0
}

// PipelineEvent is a normalized CI failure notification.
type PipelineEvent struct {
	ID             string                 `json:"id"`
	IdempotencyKey string                 `json:"idempotency_key"`
	Provider       Provider               `json:"provider"`
	Repo           string                 `json:"repo"` // owner/name
	RepoURL        string                 `json:"repo_url,omitempty"`
	PipelineID     string                 `json:"pipeline_id"`
	JobID          string                 `json:"job_id"`
	Attempt        int                    `json:"attempt"`
	CommitSHA      string                 `json:"commit_sha"`
	Branch         string                 `json:"branch"`
	Stage          string                 `json:"stage"`
	FailureType    FailureType            `json:"failure_type"`
	Status         EventStatus            `json:"status"`
	ErrorMessage   string                 `json:"error_message,omitempty"`
	RawPayload     map[string]interface{} `json:"raw_payload,omitempty"`
	CorrelationID  string                 `json:"correlation_id"`
	EventTimestamp time.Time              `json:"event_timestamp"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

// BuildIdempotencyKey derives the globally unique key used for
// deduplication and for the run key.
func BuildIdempotencyKey(provider Provider, repo, pipelineID, jobID string, attempt int) string {
	return fmt.Sprintf("%s:%s:%s:%s:%d", provider, repo, pipelineID, jobID, attempt)
}

// SplitRepo splits an "owner/name" slug. The second return is empty
// when the slug has no owner part.
func SplitRepo(repo string) (owner, name string) {
	parts := strings.SplitN(repo, "/", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return "", repo
}
