// Package analysis turns a failure context bundle into a classification
// and a root-cause analysis result.
package analysis

import (
	"regexp"
	"sort"
	"strings"

	"remedy-copilot/pkg/types"
)

const classifyTailBytes = 10 * 1024

// Rule is one classification rule. Patterns are matched against the
// combined error text; the highest-confidence matching rule wins.
type Rule struct {
	Name       string
	Category   types.FailureCategory
	Patterns   []*regexp.Regexp
	Confidence float64
	Reason     string
}

var timeoutRe = regexp.MustCompile(`(?i)(timed? ?out|deadline exceeded|cancelled after)`)

var infraRe = regexp.MustCompile(`(?i)(no space left on device|connection refused|could not resolve host|dns|service unavailable|503|i/o error|network is unreachable)`)

func defaultRules() []Rule {
	mk := func(name string, cat types.FailureCategory, conf float64, reason string, pats ...string) Rule {
		r := Rule{Name: name, Category: cat, Confidence: conf, Reason: reason}
		for _, p := range pats {
			r.Patterns = append(r.Patterns, regexp.MustCompile(p))
		}
		return r
	}
	return []Rule{
		mk("python_missing_module", types.CategoryDependency, 0.95,
			"an imported Python module is not installed",
			`ModuleNotFoundError: No module named`, `ImportError: No module named`),
		mk("node_missing_module", types.CategoryDependency, 0.95,
			"a required Node module is not installed",
			`Cannot find module '`, `(?i)npm ERR!.*(ERESOLVE|404)`),
		mk("go_missing_module", types.CategoryDependency, 0.95,
			"a Go module dependency is missing",
			`no required module provides package`, `missing go\.sum entry`),
		mk("java_missing_dependency", types.CategoryDependency, 0.9,
			"a Java dependency cannot be resolved",
			`package [\w.]+ does not exist`, `Could not resolve dependencies`),
		mk("dependency_conflict", types.CategoryDependency, 0.8,
			"dependency versions conflict",
			`(?i)version conflict`, `(?i)incompatible versions`),
		mk("compile_error", types.CategoryCode, 0.85,
			"the code does not compile",
			`error\[E\d+\]`, `\.\w+:\d+:\d+:\s+(?:fatal )?error:`, `(?i)syntax ?error`, `undefined: \w+`),
		mk("assertion_failure", types.CategoryTest, 0.8,
			"a test assertion failed",
			`AssertionError`, `--- FAIL:`, `(?i)expected .* (but was|got|received)`),
		mk("config_error", types.CategoryConfiguration, 0.8,
			"configuration is missing or invalid",
			`(?i)missing (required )?(env|environment variable|config)`, `(?i)invalid configuration`,
			`(?i)(yaml|json|toml).*(parse|unmarshal|decode) error`, `(?i)unknown flag`),
		mk("secret_or_auth", types.CategorySecurity, 0.85,
			"an authentication or secret problem occurred",
			`(?i)(401|403) (unauthorized|forbidden)`, `(?i)bad credentials`, `(?i)permission denied \(publickey\)`,
			`(?i)(leaked|exposed) (secret|credential)`),
		mk("infrastructure", types.CategoryInfrastructure, 0.85,
			"the failure originates in CI infrastructure",
			infraRe.String(), `(?i)runner? (lost|disconnected)`, `(?i)docker daemon is not running`),
		mk("flaky_timeout", types.CategoryFlaky, 0.6,
			"the job timed out, which usually indicates flakiness",
			timeoutRe.String()),
	}
}

// Classifier applies an ordered rule set to a failure context.
type Classifier struct {
	rules []Rule
}

// NewClassifier returns a classifier with the built-in rule set.
func NewClassifier() *Classifier {
	return &Classifier{rules: defaultRules()}
}

// Classify scans the combined error text of the bundle and returns the
// top-ranked category. Timeout indicators force the flaky category unless
// explicit infrastructure patterns also match.
func (c *Classifier) Classify(bundle *types.FailureContextBundle) types.Classification {
	text := classificationText(bundle)

	var matched []Rule
	indicators := []string{}
	for _, rule := range c.rules {
		for _, re := range rule.Patterns {
			if loc := re.FindString(text); loc != "" {
				matched = append(matched, rule)
				indicators = append(indicators, rule.Name)
				break
			}
		}
	}

	if len(matched) == 0 {
		return types.Classification{
			Category:   types.CategoryUnknown,
			Confidence: 0.1,
			Reasoning:  "no classification rule matched",
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Confidence > matched[j].Confidence
	})

	top := matched[0]
	result := types.Classification{
		Category:   top.Category,
		Confidence: top.Confidence,
		Reasoning:  top.Reason,
		Indicators: indicators,
	}
	for _, m := range matched[1:] {
		if m.Category != top.Category {
			result.SecondaryCategory = m.Category
			break
		}
	}

	// Timeouts look flaky unless the log also shows hard infra signals.
	if timeoutRe.MatchString(text) && result.Category != types.CategoryFlaky {
		if !infraRe.MatchString(text) {
			result.SecondaryCategory = result.Category
			result.Category = types.CategoryFlaky
			result.Reasoning = "timeout indicators dominate: " + result.Reasoning
		}
	}
	return result
}

// classificationText builds the bounded text the rules scan: all errors,
// stack trace headers, test failure messages, build errors, and the last
// 10 KiB of raw log.
func classificationText(bundle *types.FailureContextBundle) string {
	var sb strings.Builder
	for _, e := range bundle.Parsed.Errors {
		sb.WriteString(e.Text)
		sb.WriteByte('\n')
	}
	for _, t := range bundle.Parsed.StackTraces {
		sb.WriteString(t.Exception)
		if t.Message != "" {
			sb.WriteString(": ")
			sb.WriteString(t.Message)
		}
		sb.WriteByte('\n')
	}
	for _, f := range bundle.Parsed.TestFailures {
		sb.WriteString(f.Name)
		if f.Message != "" {
			sb.WriteString(" ")
			sb.WriteString(f.Message)
		}
		sb.WriteByte('\n')
	}
	for _, b := range bundle.Parsed.BuildErrors {
		sb.WriteString(b.Message)
		sb.WriteByte('\n')
	}
	tail := bundle.LogText
	if len(tail) > classifyTailBytes {
		tail = tail[len(tail)-classifyTailBytes:]
	}
	sb.WriteString(tail)
	return sb.String()
}
