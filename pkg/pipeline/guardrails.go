package pipeline

import (
	"fmt"
	"regexp"
	"strings"

	"remedy-copilot/pkg/diff"
	"remedy-copilot/pkg/policy"
	"remedy-copilot/pkg/types"
)

// FixSuggestion is the assembled change handed to the final guardrail
// check before validation.
type FixSuggestion struct {
	Plan     *types.FixPlan
	DiffText string
	Stats    types.DiffStats
}

// last line of defense, independent from the policy engine
var destructivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)rm\s+-rf?\s+[/~]`),
	regexp.MustCompile(`(?i)(curl|wget)[^\n|]*\|\s*(ba)?sh`),
	regexp.MustCompile(`(?i)chmod\s+777`),
	regexp.MustCompile(`(?i)\bDROP\s+(TABLE|DATABASE)\b`),
	regexp.MustCompile(`(?i)git\s+push\s+(-f|--force)`),
	regexp.MustCompile(`(?i)mkfs\.`),
	regexp.MustCompile(`:\(\)\s*\{\s*:\|:`),
}

// Guardrails re-checks the assembled suggestion for size, secrets,
// destructive commands, and diff syntax.
type Guardrails struct {
	secretPatterns []*regexp.Regexp
	maxDiffBytes   int
}

// NewGuardrails builds guardrails from the active policy.
func NewGuardrails(p *policy.SafetyPolicy) *Guardrails {
	return &Guardrails{
		secretPatterns: p.SecretPatterns(),
		maxDiffBytes:   p.PatchLimits.MaxDiffBytes,
	}
}

// Check returns the blocking reasons, empty when the suggestion is
// clean.
func (g *Guardrails) Check(s *FixSuggestion) []string {
	var blocked []string

	if g.maxDiffBytes > 0 && len(s.DiffText) > g.maxDiffBytes {
		blocked = append(blocked, fmt.Sprintf("diff size %d exceeds %d bytes", len(s.DiffText), g.maxDiffBytes))
	}

	added := addedLines(s.DiffText)
	for _, re := range g.secretPatterns {
		if re.MatchString(added) {
			blocked = append(blocked, "secret-like content in additions")
			break
		}
	}
	for _, re := range destructivePatterns {
		if re.MatchString(added) {
			blocked = append(blocked, fmt.Sprintf("destructive command pattern %q", re.String()))
			break
		}
	}

	if _, err := diff.Parse(s.DiffText); err != nil {
		blocked = append(blocked, "diff does not parse: "+err.Error())
	}
	return blocked
}

func addedLines(diffText string) string {
	var sb strings.Builder
	for _, l := range strings.Split(diffText, "\n") {
		if strings.HasPrefix(l, "+") && !strings.HasPrefix(l, "+++") {
			sb.WriteString(l[1:])
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}
