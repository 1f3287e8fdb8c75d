package types

import "time"

// RunStatus is the pipeline run state machine. The *_blocked, *_failed,
// pr_created and cancelled states are terminal.
type RunStatus string

const (
	RunPending          RunStatus = "pending"
	RunAdapterSelected  RunStatus = "adapter_selected"
	RunPlanReady        RunStatus = "plan_ready"
	RunPatchReady       RunStatus = "patch_ready"
	RunValidationPassed RunStatus = "validation_passed"
	RunPRCreated        RunStatus = "pr_created"
	RunPlanBlocked      RunStatus = "plan_blocked"
	RunPatchBlocked     RunStatus = "patch_blocked"
	RunValidationFailed RunStatus = "validation_failed"
	RunPRFailed         RunStatus = "pr_failed"
	RunCancelled        RunStatus = "cancelled"
)

// Terminal reports whether a status ends the run.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunPRCreated, RunPlanBlocked, RunPatchBlocked, RunValidationFailed, RunPRFailed, RunCancelled:
		return true
	}
	return false
}

// ArtifactKind addresses one opaque stage artifact persisted on a run.
type ArtifactKind string

const (
	ArtifactDetection  ArtifactKind = "detection"
	ArtifactContext    ArtifactKind = "context"
	ArtifactRCA        ArtifactKind = "rca"
	ArtifactPlan       ArtifactKind = "plan"
	ArtifactPlanPolicy ArtifactKind = "plan_policy"
	ArtifactPatchStats ArtifactKind = "patch_stats"
	ArtifactPatchPol   ArtifactKind = "patch_policy"
	ArtifactValidation ArtifactKind = "validation"
	ArtifactConsensus  ArtifactKind = "consensus"
	ArtifactPR         ArtifactKind = "pr"
	ArtifactProvenance ArtifactKind = "artifact"
)

// TimelineEntry records one orchestrator step with its timings.
type TimelineEntry struct {
	Stage      string    `json:"stage"`
	Status     string    `json:"status"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	Detail     string    `json:"detail,omitempty"`
}

// FixPipelineRun is the central aggregate mutated by the orchestrator.
// Stage artifacts are serialized independently and addressed by kind.
type FixPipelineRun struct {
	ID            string                  `json:"id"`
	EventID       string                  `json:"event_id"`
	RunKey        string                  `json:"run_key"`
	Status        RunStatus               `json:"status"`
	AttemptCount  int                     `json:"attempt_count"`
	BlockedReason string                  `json:"blocked_reason,omitempty"`
	AdapterName   string                  `json:"adapter_name,omitempty"`
	PatchDiff     string                  `json:"patch_diff,omitempty"`
	LastPRURL     string                  `json:"last_pr_url,omitempty"`
	ErrorMessage  string                  `json:"error_message,omitempty"`
	Artifacts     map[ArtifactKind][]byte `json:"artifacts,omitempty"`
	Timeline      []TimelineEntry         `json:"timeline,omitempty"`
	CreatedAt     time.Time               `json:"created_at"`
	UpdatedAt     time.Time               `json:"updated_at"`
}

// SetArtifact stores serialized bytes under the given kind.
func (r *FixPipelineRun) SetArtifact(kind ArtifactKind, data []byte) {
	if r.Artifacts == nil {
		r.Artifacts = make(map[ArtifactKind][]byte)
	}
	r.Artifacts[kind] = data
}

// Artifact returns the serialized bytes for a kind, or nil.
func (r *FixPipelineRun) Artifact(kind ArtifactKind) []byte {
	return r.Artifacts[kind]
}

// PRResult is the outcome of PR creation by the external orchestrator.
type PRResult struct {
	Status string `json:"status"` // created, failed
	URL    string `json:"url,omitempty"`
	Number int    `json:"number,omitempty"`
	Branch string `json:"branch,omitempty"`
	Label  string `json:"label,omitempty"`
}

// ConsensusCandidate is one agent's verdict on a fix.
type ConsensusCandidate struct {
	Role       string  `json:"role"` // planner, critic, safety
	Verdict    string  `json:"verdict"`
	Confidence float64 `json:"confidence"`
	Notes      string  `json:"notes,omitempty"`
}

// Consensus states.
const (
	ConsensusAccepted         = "accepted"
	ConsensusSafetyVeto       = "rejected_safety_veto"
	ConsensusLowAgreement     = "rejected_low_agreement"
	ConsensusUnsupportedFiles = "rejected_unsupported_files"
	ConsensusPlannerMissing   = "rejected_planner_missing"
)

// ConsensusDecision is the joint planner/critic/safety decision.
type ConsensusDecision struct {
	State      string               `json:"state"`
	Accepted   bool                 `json:"accepted"`
	Reason     string               `json:"reason,omitempty"`
	Candidates []ConsensusCandidate `json:"candidates,omitempty"`
}

// ProvenanceArtifact is the immutable, redacted end-of-run record.
type ProvenanceArtifact struct {
	RunID      string                 `json:"run_id"`
	FailureID  string                 `json:"failure_id"`
	Repo       string                 `json:"repo"`
	StartedAt  time.Time              `json:"started_at"`
	FinishedAt time.Time              `json:"finished_at"`
	Status     RunStatus              `json:"status"`
	Adapter    string                 `json:"adapter,omitempty"`
	Plan       *FixPlan               `json:"plan,omitempty"`
	Policy     *PolicyDecision        `json:"policy,omitempty"`
	DiffStats  *DiffStats             `json:"diff_stats,omitempty"`
	Scans      map[string]ScanOutcome `json:"scans,omitempty"`
	Validation *ValidationResult      `json:"validation,omitempty"`
	Consensus  *ConsensusDecision     `json:"consensus,omitempty"`
	Evidence   []string               `json:"evidence,omitempty"`
	Timeline   []TimelineEntry        `json:"timeline,omitempty"`
}
