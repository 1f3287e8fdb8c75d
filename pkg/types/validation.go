package types

// ValidationStatus tracks the sandbox validation phases and outcome.
type ValidationStatus string

const (
	ValidationPending    ValidationStatus = "pending"
	ValidationCloning    ValidationStatus = "cloning"
	ValidationPatching   ValidationStatus = "patching"
	ValidationInstalling ValidationStatus = "installing"
	ValidationRunning    ValidationStatus = "running"
	ValidationPassed     ValidationStatus = "passed"
	ValidationFailed     ValidationStatus = "failed"
	ValidationTimeout    ValidationStatus = "timeout"
	ValidationError      ValidationStatus = "error"
)

// ScanOutcome is the result of one security scan run inside the sandbox.
type ScanOutcome struct {
	Tool     string `json:"tool"`
	Passed   bool   `json:"passed"`
	Findings int    `json:"findings"`
	Blocking bool   `json:"blocking"`
	Detail   string `json:"detail,omitempty"`
}

// ValidationRequest asks the sandbox to validate a patch against a repo.
type ValidationRequest struct {
	FixID           string   `json:"fix_id"`
	EventID         string   `json:"event_id"`
	RepoURL         string   `json:"repo_url"`
	Branch          string   `json:"branch"`
	CommitSHA       string   `json:"commit_sha"`
	Diff            string   `json:"diff"`
	AdapterName     string   `json:"adapter_name"`
	ValidationSteps []string `json:"validation_steps,omitempty"`
}

// ValidationResult is the sandbox outcome for one patch.
// Status is passed only when no test failed and no scan blocked.
type ValidationResult struct {
	Status               ValidationStatus       `json:"status"`
	TestsPassed          int                    `json:"tests_passed"`
	TestsFailed          int                    `json:"tests_failed"`
	TestsSkipped         int                    `json:"tests_skipped"`
	TestsTotal           int                    `json:"tests_total"`
	FrameworkDetected    string                 `json:"framework_detected,omitempty"`
	Logs                 string                 `json:"logs,omitempty"`
	Scans                map[string]ScanOutcome `json:"scans,omitempty"`
	SBOM                 string                 `json:"sbom,omitempty"`
	ExitCode             int                    `json:"exit_code"`
	TimedOut             bool                   `json:"timed_out"`
	ExecutionTimeSeconds float64                `json:"execution_time_seconds"`
	ErrorMessage         string                 `json:"error_message,omitempty"`
}

// BlockedByScan reports whether any scan outcome is blocking.
func (r *ValidationResult) BlockedByScan() bool {
	for _, s := range r.Scans {
		if s.Blocking {
			return true
		}
	}
	return false
}
