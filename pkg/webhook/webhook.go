// Package webhook verifies and normalizes CI provider notifications.
// Each provider implements the same narrow capability surface; a
// registry maps the provider slug to its implementation.
package webhook

import (
	"encoding/json"
	"errors"
	"net/http"

	"remedy-copilot/pkg/types"
)

var (
	// ErrBadSignature means the request failed provider verification.
	ErrBadSignature = errors.New("webhook signature verification failed")
	// ErrIgnored means the payload is valid but not a failure we act on.
	ErrIgnored = errors.New("event ignored")
	// ErrMalformed means the payload could not be parsed.
	ErrMalformed = errors.New("malformed webhook payload")
)

// Secrets holds the per-provider shared secrets. Empty entries disable
// the provider.
type Secrets struct {
	GitHub      string
	GitLab      string
	CircleCI    string
	Jenkins     string
	AzureDevOps string
}

// Handler is one provider's verification and normalization logic.
type Handler interface {
	Provider() types.Provider
	// Verify checks the request's authentication against the raw body.
	Verify(header http.Header, body []byte) error
	// Parse normalizes the payload into a PipelineEvent. Returns
	// ErrIgnored for payloads that are not failed/cancelled/timed-out
	// job completions.
	Parse(header http.Header, body []byte) (*types.PipelineEvent, error)
}

// Registry maps provider slugs to handlers.
type Registry struct {
	handlers map[types.Provider]Handler
}

// NewRegistry builds the registry for all providers with a configured
// secret.
func NewRegistry(secrets Secrets) *Registry {
	r := &Registry{handlers: make(map[types.Provider]Handler)}
	if secrets.GitHub != "" {
		r.register(&GitHubHandler{Secret: secrets.GitHub})
	}
	if secrets.GitLab != "" {
		r.register(&GitLabHandler{Secret: secrets.GitLab})
	}
	if secrets.CircleCI != "" {
		r.register(&CircleCIHandler{Secret: secrets.CircleCI})
	}
	if secrets.Jenkins != "" {
		r.register(&JenkinsHandler{Secret: secrets.Jenkins})
	}
	if secrets.AzureDevOps != "" {
		r.register(&AzureDevOpsHandler{Secret: secrets.AzureDevOps})
	}
	return r
}

func (r *Registry) register(h Handler) {
	r.handlers[h.Provider()] = h
}

// Get returns the handler for a provider slug, or nil.
func (r *Registry) Get(provider string) Handler {
	return r.handlers[types.Provider(provider)]
}

// acceptedConclusion reports whether a job conclusion warrants a fix
// attempt.
func acceptedConclusion(c string) bool {
	switch c {
	case "failure", "failed", "cancelled", "canceled", "timed_out", "timeout":
		return true
	}
	return false
}

func rawPayload(body []byte) map[string]interface{} {
	m := map[string]interface{}{}
	// Callers decode the body first, so this cannot fail.
	_ = json.Unmarshal(body, &m)
	return m
}
