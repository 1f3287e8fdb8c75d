package pipeline

import (
	"encoding/json"
	"time"

	"remedy-copilot/pkg/policy"
	"remedy-copilot/pkg/types"
)

// buildProvenance assembles the redacted end-of-run artifact from the
// run's persisted stage artifacts. Decoding failures for individual
// artifacts are tolerated, provenance is best effort but always built.
func buildProvenance(run *types.FixPipelineRun, event *types.PipelineEvent, redactor *policy.Redactor) ([]byte, error) {
	artifact := types.ProvenanceArtifact{
		RunID:      run.ID,
		FailureID:  run.EventID,
		Status:     run.Status,
		Adapter:    run.AdapterName,
		StartedAt:  run.CreatedAt,
		FinishedAt: time.Now().UTC(),
		Timeline:   run.Timeline,
	}
	if event != nil {
		artifact.Repo = event.Repo
	}

	if data := run.Artifact(types.ArtifactPlan); data != nil {
		var plan types.FixPlan
		if json.Unmarshal(data, &plan) == nil {
			artifact.Plan = &plan
		}
	}
	if data := run.Artifact(types.ArtifactPatchPol); data != nil {
		var decision types.PolicyDecision
		if json.Unmarshal(data, &decision) == nil {
			artifact.Policy = &decision
		}
	} else if data := run.Artifact(types.ArtifactPlanPolicy); data != nil {
		var decision types.PolicyDecision
		if json.Unmarshal(data, &decision) == nil {
			artifact.Policy = &decision
		}
	}
	if data := run.Artifact(types.ArtifactPatchStats); data != nil {
		var stats types.DiffStats
		if json.Unmarshal(data, &stats) == nil {
			artifact.DiffStats = &stats
		}
	}
	if data := run.Artifact(types.ArtifactValidation); data != nil {
		var validation types.ValidationResult
		if json.Unmarshal(data, &validation) == nil {
			validation.Logs = "" // raw logs stay on the validation artifact
			artifact.Validation = &validation
			artifact.Scans = validation.Scans
		}
	}
	if data := run.Artifact(types.ArtifactConsensus); data != nil {
		var consensus types.ConsensusDecision
		if json.Unmarshal(data, &consensus) == nil {
			artifact.Consensus = &consensus
		}
	}

	return redactor.MaskJSON(&artifact)
}
