package scm

import (
	"context"

	"remedy-copilot/pkg/types"
)

// FakeProvider serves scripted commits and logs for tests.
type FakeProvider struct {
	Commits map[string]*Commit // keyed by sha
	Logs    map[string]string  // keyed by job id
	Err     error
}

var _ RepositoryProvider = (*FakeProvider)(nil)

func (f *FakeProvider) GetCommit(_ context.Context, _ string, sha string) (*Commit, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	if c, ok := f.Commits[sha]; ok {
		return c, nil
	}
	return &Commit{SHA: sha}, nil
}

func (f *FakeProvider) DownloadJobLogs(_ context.Context, _ string, jobID string) (string, error) {
	if f.Err != nil {
		return "", f.Err
	}
	return f.Logs[jobID], nil
}

// FakePROrchestrator records PR requests and returns a scripted result.
type FakePROrchestrator struct {
	Result   *types.PRResult
	Err      error
	Requests []*PRRequest
}

var _ PROrchestrator = (*FakePROrchestrator)(nil)

func (f *FakePROrchestrator) CreatePRForFix(_ context.Context, req *PRRequest) (*types.PRResult, error) {
	f.Requests = append(f.Requests, req)
	if f.Err != nil {
		return &types.PRResult{Status: "failed"}, f.Err
	}
	if f.Result != nil {
		return f.Result, nil
	}
	return &types.PRResult{Status: "created", URL: "https://github.com/acme/app/pull/1", Number: 1, Branch: req.HeadRef, Label: req.Label}, nil
}
