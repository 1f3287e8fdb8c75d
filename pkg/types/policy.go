package types

// ViolationSeverity grades a policy violation. BLOCK violations make the
// decision disallowed; WARN violations are advisory.
type ViolationSeverity string

const (
	SeverityBlock ViolationSeverity = "BLOCK"
	SeverityWarn  ViolationSeverity = "WARN"
)

// Violation is a single policy rule failure.
type Violation struct {
	Code     string            `json:"code"`
	Severity ViolationSeverity `json:"severity"`
	Message  string            `json:"message"`
	File     string            `json:"file,omitempty"`
}

// DangerReason is one additive contribution to the danger score.
type DangerReason struct {
	Code    string `json:"code"`
	Weight  int    `json:"weight"`
	Message string `json:"message"`
}

// PR labels derived from a policy decision.
const (
	PRLabelSafe        = "safe"
	PRLabelNeedsReview = "needs-review"
)

// PolicyDecision is the outcome of evaluating a plan intent or a patch.
type PolicyDecision struct {
	Allowed       bool           `json:"allowed"`
	Violations    []Violation    `json:"violations,omitempty"`
	DangerScore   int            `json:"danger_score"`
	DangerReasons []DangerReason `json:"danger_reasons,omitempty"`
	PRLabel       string         `json:"pr_label"`
}

// Blocked reports whether any violation carries BLOCK severity.
func (d *PolicyDecision) Blocked() bool {
	for _, v := range d.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}
