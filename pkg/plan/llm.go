package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"remedy-copilot/pkg/adapters"
	"remedy-copilot/pkg/ai"
	"remedy-copilot/pkg/types"
)

const planPrompt = `You are generating a minimal fix plan for a CI failure.

Root cause analysis:
%s

Failure evidence (parsed from logs):
%s

The fix must be expressed as typed operations. Allowed operation types for
this repository: %s. Allowed plan categories: %s.

Respond with a single JSON object and nothing else, matching this shape:
{
  "root_cause": "one sentence",
  "category": "<one allowed category>",
  "confidence": 0.0,
  "files": ["path"],
  "operations": [
    {"type": "<allowed type>", "file": "path", "details": {"name": "...", "spec": "..."},
     "rationale": "why", "evidence": ["log line"]}
  ]
}
Every operation file must be listed in files. Keep the plan as small as possible.`

const planSchemaJSON = `{
  "type": "object",
  "required": ["root_cause", "category", "confidence", "files", "operations"],
  "properties": {
    "root_cause": {"type": "string", "minLength": 1},
    "category": {"type": "string", "minLength": 1},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "files": {"type": "array", "minItems": 1, "items": {"type": "string", "minLength": 1}},
    "operations": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["type", "file"],
        "properties": {
          "type": {"type": "string", "enum": ["add_dependency", "pin_dependency", "update_config", "remove_unused"]},
          "file": {"type": "string", "minLength": 1},
          "details": {"type": "object"},
          "rationale": {"type": "string"},
          "evidence": {"type": "array", "items": {"type": "string"}}
        }
      }
    }
  }
}`

var planSchema = jsonschema.MustCompileString("fixplan.json", planSchemaJSON)

// LLMPlanner builds a prompt from the RCA and context, calls the language
// model, and parses the strict plan schema.
type LLMPlanner struct {
	client ai.LLMClient
	logger zerolog.Logger
}

// NewLLMPlanner creates an LLM-backed planner.
func NewLLMPlanner(client ai.LLMClient, logger zerolog.Logger) *LLMPlanner {
	return &LLMPlanner{
		client: client,
		logger: logger.With().Str("component", "llm_planner").Logger(),
	}
}

// GeneratePlan implements Planner.
func (p *LLMPlanner) GeneratePlan(ctx context.Context, bundle *types.FailureContextBundle, rca *types.RCAResult, adapter adapters.Adapter) (*types.FixPlan, error) {
	rcaJSON, err := json.MarshalIndent(rca, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal rca for prompt: %w", err)
	}
	evidence := evidenceText(bundle)

	typeNames := make([]string, 0, 4)
	for _, t := range adapter.AllowedFixTypes() {
		typeNames = append(typeNames, string(t))
	}
	prompt := fmt.Sprintf(planPrompt,
		string(rcaJSON),
		evidence,
		strings.Join(typeNames, ", "),
		strings.Join(adapter.AllowedCategories(), ", "),
	)

	completion, err := p.client.GetChatCompletion(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("llm plan generation: %w", err)
	}

	plan, err := parsePlanJSON(completion)
	if err != nil {
		return nil, err
	}
	if err := validateAgainstAdapter(plan, adapter); err != nil {
		return nil, err
	}
	p.logger.Debug().
		Str("category", plan.Category).
		Float64("confidence", plan.Confidence).
		Msg("llm plan generated")
	return plan, nil
}

// parsePlanJSON strips code fences, validates against the plan schema,
// and decodes the plan.
func parsePlanJSON(completion string) (*types.FixPlan, error) {
	text := strings.TrimSpace(completion)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var decoded interface{}
	if err := json.Unmarshal([]byte(text), &decoded); err != nil {
		return nil, fmt.Errorf("llm returned invalid JSON: %w", err)
	}
	if err := planSchema.Validate(decoded); err != nil {
		return nil, fmt.Errorf("llm plan failed schema validation: %w", err)
	}

	var plan types.FixPlan
	if err := json.Unmarshal([]byte(text), &plan); err != nil {
		return nil, fmt.Errorf("decode llm plan: %w", err)
	}
	return &plan, nil
}

func evidenceText(bundle *types.FailureContextBundle) string {
	var sb strings.Builder
	for _, t := range bundle.Parsed.StackTraces {
		fmt.Fprintf(&sb, "%s: %s\n", t.Exception, t.Message)
	}
	for _, f := range bundle.Parsed.TestFailures {
		fmt.Fprintf(&sb, "failed test: %s %s\n", f.Name, f.Message)
	}
	for _, b := range bundle.Parsed.BuildErrors {
		fmt.Fprintf(&sb, "build error: %s\n", b.Message)
	}
	if sb.Len() == 0 {
		for _, l := range bundle.Parsed.Summary.Tail {
			sb.WriteString(l)
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}
