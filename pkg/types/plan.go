package types

// OperationType is the bounded vocabulary of typed fix operations.
type OperationType string

const (
	OpAddDependency OperationType = "add_dependency"
	OpPinDependency OperationType = "pin_dependency"
	OpUpdateConfig  OperationType = "update_config"
	OpRemoveUnused  OperationType = "remove_unused"
)

// FixOperation is one typed edit against a named file.
type FixOperation struct {
	Type      OperationType     `json:"type"`
	File      string            `json:"file"`
	Details   map[string]string `json:"details,omitempty"`
	Rationale string            `json:"rationale,omitempty"`
	Evidence  []string          `json:"evidence,omitempty"`
}

// FixPlan is the declarative description of the intended change.
// Every operation's file must appear in Files.
type FixPlan struct {
	RootCause  string         `json:"root_cause"`
	Category   string         `json:"category"`
	Confidence float64        `json:"confidence"`
	Files      []string       `json:"files"`
	Operations []FixOperation `json:"operations"`
}

// Validate checks the plan's structural invariants.
func (p *FixPlan) Validate() error {
	files := make(map[string]bool, len(p.Files))
	for _, f := range p.Files {
		files[f] = true
	}
	for _, op := range p.Operations {
		if !files[op.File] {
			return &PlanInvariantError{File: op.File, Op: string(op.Type)}
		}
	}
	return nil
}

// PlanInvariantError reports an operation whose file is not listed in the plan.
type PlanInvariantError struct {
	File string
	Op   string
}

func (e *PlanInvariantError) Error() string {
	return "plan operation " + e.Op + " targets file not listed in plan: " + e.File
}

// DiffStats are the measured dimensions of a generated diff.
type DiffStats struct {
	FilesChanged      []string `json:"files_changed"`
	TotalFiles        int      `json:"total_files"`
	TotalLinesAdded   int      `json:"total_lines_added"`
	TotalLinesRemoved int      `json:"total_lines_removed"`
	DiffBytes         int      `json:"diff_bytes"`
}

// PatchOutput is the generated unified diff plus its stats.
type PatchOutput struct {
	DiffText string    `json:"diff_text"`
	Stats    DiffStats `json:"stats"`
}
