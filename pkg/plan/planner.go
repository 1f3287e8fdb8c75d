// Package plan generates FixPlans from root-cause analysis output. Two
// interchangeable generators exist: a deterministic rule-based planner
// for the bounded fix categories, and an LLM-backed planner whose output
// is schema-validated before use.
package plan

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"remedy-copilot/pkg/adapters"
	"remedy-copilot/pkg/types"
)

// ErrNoPlan is returned when no plan can be derived for the failure.
var ErrNoPlan = errors.New("no fix plan could be generated")

// Planner produces a FixPlan for an analyzed failure. The returned plan
// always satisfies operation.file ∈ plan.files and only uses operation
// types the adapter allows.
type Planner interface {
	GeneratePlan(ctx context.Context, bundle *types.FailureContextBundle, rca *types.RCAResult, adapter adapters.Adapter) (*types.FixPlan, error)
}

var (
	pyMissingRe   = regexp.MustCompile(`No module named '([^']+)'`)
	nodeMissingRe = regexp.MustCompile(`Cannot find module '([^']+)'`)
	goMissingRe   = regexp.MustCompile(`no required module provides package (\S+?)[;\s]`)
	javaMissingRe = regexp.MustCompile(`package ([\w.]+) does not exist`)
	dockerTagRe   = regexp.MustCompile(`manifest for (\S+?):(\S+) not found`)
)

// RulePlanner synthesizes minimal plans for the known fix categories
// directly from parsed log text. Same input, same plan.
type RulePlanner struct {
	logger zerolog.Logger
}

// NewRulePlanner creates the deterministic planner.
func NewRulePlanner(logger zerolog.Logger) *RulePlanner {
	return &RulePlanner{logger: logger.With().Str("component", "rule_planner").Logger()}
}

// GeneratePlan implements Planner.
func (p *RulePlanner) GeneratePlan(ctx context.Context, bundle *types.FailureContextBundle, rca *types.RCAResult, adapter adapters.Adapter) (*types.FixPlan, error) {
	text := bundle.LogText + "\n" + joinTraceHeaders(bundle)

	var built *types.FixPlan
	switch adapter.Name() {
	case "python":
		built = p.pythonPlan(text, bundle)
	case "node":
		built = p.nodePlan(text)
	case "go":
		built = p.goPlan(text)
	case "java":
		built = p.javaPlan(text)
	case "docker":
		built = p.dockerPlan(text)
	}
	if built == nil {
		return nil, ErrNoPlan
	}

	built.Confidence = rca.Classification.Confidence
	if built.RootCause == "" {
		built.RootCause = rca.PrimaryHypothesis.Description
	}
	if err := validateAgainstAdapter(built, adapter); err != nil {
		return nil, err
	}
	p.logger.Debug().
		Str("category", built.Category).
		Int("operations", len(built.Operations)).
		Msg("deterministic plan generated")
	return built, nil
}

func (p *RulePlanner) pythonPlan(text string, bundle *types.FailureContextBundle) *types.FixPlan {
	m := pyMissingRe.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	name := m[1]
	file := "requirements.txt"
	if hasFile(bundle.ChangedFiles, "pyproject.toml") || !hasFile(bundle.ChangedFiles, "requirements.txt") {
		file = "pyproject.toml"
	}
	return &types.FixPlan{
		RootCause: fmt.Sprintf("Python module %q is imported but not declared as a dependency", name),
		Category:  "python_missing_dependency",
		Files:     []string{file},
		Operations: []types.FixOperation{{
			Type:      types.OpAddDependency,
			File:      file,
			Details:   map[string]string{"name": name, "spec": "^1.0.0"},
			Rationale: "declare the missing module so installs pull it in",
			Evidence:  []string{m[0]},
		}},
	}
}

func (p *RulePlanner) nodePlan(text string) *types.FixPlan {
	m := nodeMissingRe.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	name := m[1]
	if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "/") {
		// relative imports are code bugs, not dependency gaps
		return nil
	}
	return &types.FixPlan{
		RootCause: fmt.Sprintf("Node module %q is required but not declared in package.json", name),
		Category:  "node_missing_dependency",
		Files:     []string{"package.json"},
		Operations: []types.FixOperation{{
			Type:      types.OpAddDependency,
			File:      "package.json",
			Details:   map[string]string{"name": name, "spec": "^1.0.0"},
			Rationale: "declare the missing module in dependencies",
			Evidence:  []string{m[0]},
		}},
	}
}

func (p *RulePlanner) goPlan(text string) *types.FixPlan {
	m := goMissingRe.FindStringSubmatch(text + " ")
	if m == nil {
		return nil
	}
	pkg := strings.TrimSuffix(m[1], ";")
	module := modulePathOf(pkg)
	return &types.FixPlan{
		RootCause: fmt.Sprintf("Go package %s is imported but its module is not required", pkg),
		Category:  "go_missing_module",
		Files:     []string{"go.mod"},
		Operations: []types.FixOperation{{
			Type:      types.OpAddDependency,
			File:      "go.mod",
			Details:   map[string]string{"name": module, "spec": "v1.0.0"},
			Rationale: "add the missing module to the require block",
			Evidence:  []string{strings.TrimSpace(m[0])},
		}},
	}
}

func (p *RulePlanner) javaPlan(text string) *types.FixPlan {
	m := javaMissingRe.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	pkg := m[1]
	group, artifact := mavenCoordinatesOf(pkg)
	return &types.FixPlan{
		RootCause: fmt.Sprintf("Java package %s cannot be resolved at compile time", pkg),
		Category:  "java_missing_dependency",
		Files:     []string{"pom.xml"},
		Operations: []types.FixOperation{{
			Type:      types.OpAddDependency,
			File:      "pom.xml",
			Details:   map[string]string{"groupId": group, "artifactId": artifact, "version": "1.0.0"},
			Rationale: "declare the dependency providing the unresolved package",
			Evidence:  []string{m[0]},
		}},
	}
}

func (p *RulePlanner) dockerPlan(text string) *types.FixPlan {
	m := dockerTagRe.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	image, tag := m[1], m[2]
	return &types.FixPlan{
		RootCause: fmt.Sprintf("base image %s:%s does not exist in the registry", image, tag),
		Category:  "docker_pin_base_image",
		Files:     []string{"Dockerfile"},
		Operations: []types.FixOperation{{
			Type:      types.OpUpdateConfig,
			File:      "Dockerfile",
			Details:   map[string]string{"image": image, "tag": "latest"},
			Rationale: "pin the base image to an existing tag",
			Evidence:  []string{m[0]},
		}},
	}
}

// validateAgainstAdapter enforces the planner contract: operations stay
// within the adapter's fix type and category vocabulary, and every
// operation file is listed in the plan.
func validateAgainstAdapter(plan *types.FixPlan, adapter adapters.Adapter) error {
	if err := plan.Validate(); err != nil {
		return err
	}
	if !adapters.AllowedCategory(adapter, plan.Category) {
		return fmt.Errorf("plan category %q not allowed by adapter %s", plan.Category, adapter.Name())
	}
	for _, op := range plan.Operations {
		if !adapters.AllowedType(adapter, op.Type) {
			return fmt.Errorf("operation type %q not allowed by adapter %s", op.Type, adapter.Name())
		}
	}
	return nil
}

func joinTraceHeaders(bundle *types.FailureContextBundle) string {
	var sb strings.Builder
	for _, t := range bundle.Parsed.StackTraces {
		sb.WriteString(t.Exception)
		sb.WriteString(": ")
		sb.WriteString(t.Message)
		sb.WriteByte('\n')
	}
	return sb.String()
}

func hasFile(files []string, name string) bool {
	for _, f := range files {
		if f == name || strings.HasSuffix(f, "/"+name) {
			return true
		}
	}
	return false
}

// modulePathOf guesses the module path for an imported package: for
// host/owner/repo/sub/pkg the module is the first three segments.
func modulePathOf(pkg string) string {
	parts := strings.Split(pkg, "/")
	if len(parts) > 3 && strings.Contains(parts[0], ".") {
		return strings.Join(parts[:3], "/")
	}
	return pkg
}

// mavenCoordinatesOf derives plausible coordinates from a package name:
// the group is the first three dot segments, the artifact the last one.
func mavenCoordinatesOf(pkg string) (group, artifact string) {
	parts := strings.Split(pkg, ".")
	if len(parts) >= 3 {
		return strings.Join(parts[:len(parts)-1], "."), parts[len(parts)-1]
	}
	return pkg, parts[len(parts)-1]
}
