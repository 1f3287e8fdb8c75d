package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remedy-copilot/pkg/types"
)

const githubJobFailed = `{
  "action": "completed",
  "workflow_job": {
    "id": 42, "run_id": 100, "run_attempt": 2, "name": "test",
    "status": "completed", "conclusion": "failure",
    "head_sha": "abc123", "head_branch": "main"
  },
  "repository": {"full_name": "acme/app", "clone_url": "https://github.com/acme/app.git"}
}`

func githubSig(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestGitHubVerify(t *testing.T) {
	h := &GitHubHandler{Secret: "hunter2"}
	body := []byte(githubJobFailed)

	good := http.Header{}
	good.Set("X-Hub-Signature-256", githubSig("hunter2", body))
	assert.NoError(t, h.Verify(good, body))

	bad := http.Header{}
	bad.Set("X-Hub-Signature-256", githubSig("wrong-secret", body))
	assert.ErrorIs(t, h.Verify(bad, body), ErrBadSignature)

	assert.ErrorIs(t, h.Verify(http.Header{}, body), ErrBadSignature)
}

func TestGitHubParseFailedJob(t *testing.T) {
	h := &GitHubHandler{Secret: "hunter2"}
	header := http.Header{}
	header.Set("X-GitHub-Delivery", "delivery-1")

	event, err := h.Parse(header, []byte(githubJobFailed))
	require.NoError(t, err)

	assert.Equal(t, types.ProviderGitHub, event.Provider)
	assert.Equal(t, "acme/app", event.Repo)
	assert.Equal(t, "github:acme/app:100:42:2", event.IdempotencyKey)
	assert.Equal(t, "abc123", event.CommitSHA)
	assert.Equal(t, "main", event.Branch)
	assert.Equal(t, "delivery-1", event.CorrelationID)
	assert.Equal(t, types.EventStatusPending, event.Status)
	assert.NotEmpty(t, event.RawPayload)
}

func TestGitHubParseIgnoresSuccess(t *testing.T) {
	h := &GitHubHandler{Secret: "hunter2"}
	body := `{"action":"completed","workflow_job":{"id":42,"run_id":100,"conclusion":"success"},"repository":{"full_name":"acme/app"}}`
	_, err := h.Parse(http.Header{}, []byte(body))
	assert.ErrorIs(t, err, ErrIgnored)
}

func TestGitHubParseMalformed(t *testing.T) {
	h := &GitHubHandler{Secret: "hunter2"}
	_, err := h.Parse(http.Header{}, []byte(`{"action":`))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = h.Parse(http.Header{}, []byte(`{"action":"completed"}`))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestGitLabVerifyAndParse(t *testing.T) {
	h := &GitLabHandler{Secret: "gl-token"}

	header := http.Header{}
	header.Set("X-Gitlab-Token", "gl-token")
	assert.NoError(t, h.Verify(header, nil))

	header.Set("X-Gitlab-Token", "nope")
	assert.ErrorIs(t, h.Verify(header, nil), ErrBadSignature)

	body := `{
	  "object_kind": "build", "build_id": 7, "pipeline_id": 3,
	  "build_name": "rspec", "build_stage": "test", "build_status": "failed",
	  "sha": "def456", "ref": "refs/heads/develop",
	  "project": {"path_with_namespace": "acme/app", "git_http_url": "https://gitlab.com/acme/app.git"}
	}`
	event, err := h.Parse(http.Header{}, []byte(body))
	require.NoError(t, err)
	assert.Equal(t, "gitlab:acme/app:3:7:1", event.IdempotencyKey)
	assert.Equal(t, "develop", event.Branch)
	assert.Equal(t, "test", event.Stage)
}

func TestCircleCIVerifyAndParse(t *testing.T) {
	h := &CircleCIHandler{Secret: "cc-secret"}
	body := []byte(`{
	  "type": "job-completed", "id": "wh-1",
	  "job": {"number": 9, "name": "build-and-test", "status": "failed"},
	  "pipeline": {"id": "p-1", "vcs": {"revision": "fed789", "branch": "main"}},
	  "project": {"slug": "gh/acme/app"}
	}`)

	mac := hmac.New(sha256.New, []byte("cc-secret"))
	mac.Write(body)
	header := http.Header{}
	header.Set("circleci-signature", "v1="+hex.EncodeToString(mac.Sum(nil)))
	assert.NoError(t, h.Verify(header, body))

	header.Set("circleci-signature", "v1=deadbeef")
	assert.ErrorIs(t, h.Verify(header, body), ErrBadSignature)

	event, err := h.Parse(http.Header{}, body)
	require.NoError(t, err)
	assert.Equal(t, "circleci:acme/app:p-1:9:1", event.IdempotencyKey)
	assert.Equal(t, "wh-1", event.CorrelationID)
}

func TestJenkinsVerifyAndParse(t *testing.T) {
	h := &JenkinsHandler{Secret: "jk-secret"}

	header := http.Header{}
	header.Set("Authorization", "Bearer jk-secret")
	assert.NoError(t, h.Verify(header, nil))

	header = http.Header{}
	header.Set("X-Jenkins-Token", "jk-secret")
	assert.NoError(t, h.Verify(header, nil))

	assert.ErrorIs(t, (&JenkinsHandler{Secret: "jk-secret"}).Verify(http.Header{}, nil), ErrBadSignature)

	body := `{
	  "name": "nightly", "url": "job/nightly/",
	  "build": {
	    "number": 77, "phase": "COMPLETED", "status": "FAILURE",
	    "scm": {"url": "https://github.com/acme/app.git", "branch": "origin/main", "commit": "aaa111"}
	  }
	}`
	event, err := h.Parse(http.Header{}, []byte(body))
	require.NoError(t, err)
	assert.Equal(t, "acme/app", event.Repo)
	assert.Equal(t, "main", event.Branch)
	assert.Equal(t, "jenkins:acme/app:nightly:77:1", event.IdempotencyKey)
}

func TestJenkinsIgnoresStartedPhase(t *testing.T) {
	h := &JenkinsHandler{Secret: "jk-secret"}
	body := `{"name":"nightly","build":{"number":78,"phase":"STARTED","status":""}}`
	_, err := h.Parse(http.Header{}, []byte(body))
	assert.ErrorIs(t, err, ErrIgnored)
}

func TestAzureDevOpsVerifyAndParse(t *testing.T) {
	h := &AzureDevOpsHandler{Secret: "az-secret"}

	header := http.Header{}
	header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("hook:az-secret")))
	assert.NoError(t, h.Verify(header, nil))

	header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("hook:nope")))
	assert.ErrorIs(t, h.Verify(header, nil), ErrBadSignature)

	body := `{
	  "eventType": "build.complete", "id": "az-1",
	  "resource": {
	    "id": 55, "status": "completed", "result": "failed",
	    "sourceVersion": "bbb222", "sourceBranch": "refs/heads/main",
	    "definition": {"name": "ci"},
	    "repository": {"name": "acme/app", "remoteUrl": "https://dev.azure.com/acme/app"}
	  }
	}`
	event, err := h.Parse(http.Header{}, []byte(body))
	require.NoError(t, err)
	assert.Equal(t, "azure_devops:acme/app:ci:55:1", event.IdempotencyKey)
	assert.Equal(t, "main", event.Branch)
}

func TestRegistryOnlyServesConfiguredProviders(t *testing.T) {
	r := NewRegistry(Secrets{GitHub: "a", GitLab: "b"})
	assert.NotNil(t, r.Get("github"))
	assert.NotNil(t, r.Get("gitlab"))
	assert.Nil(t, r.Get("circleci"))
	assert.Nil(t, r.Get("unknown"))
}
