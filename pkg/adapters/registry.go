// Package adapters holds the language/toolchain adapters. Each adapter
// detects its applicability from log text and repo files, and gates which
// operation types and plan categories the orchestrator may use.
package adapters

import (
	"time"

	"github.com/rs/zerolog"

	"remedy-copilot/pkg/types"
)

// DefaultMinConfidence is the detection threshold for adapter selection.
const DefaultMinConfidence = 0.5

// Detection is an adapter's self-assessment against a failure.
type Detection struct {
	RepoLanguage  string   `json:"repo_language"`
	Category      string   `json:"category"`
	Confidence    float64  `json:"confidence"`
	EvidenceLines []string `json:"evidence_lines,omitempty"`
}

// Step is one concrete sandbox command prescribed by an adapter.
type Step struct {
	Name    string        `json:"name"`
	Command []string      `json:"command"`
	Timeout time.Duration `json:"timeout,omitempty"`
}

// Adapter is a language/toolchain-specific module.
type Adapter interface {
	Name() string
	Detect(logText string, repoFiles []string) Detection
	AllowedFixTypes() []types.OperationType
	AllowedCategories() []string
	// ValidationSteps returns install+test commands for the sandbox, or
	// nil to let the validator fall back to framework defaults.
	ValidationSteps(repoPath string) []Step
	// NeedsNetwork reports whether the sandbox must allow egress, e.g.
	// for package installation.
	NeedsNetwork() bool
}

// Selection pairs the winning adapter with its detection.
type Selection struct {
	Adapter   Adapter   `json:"-"`
	Name      string    `json:"adapter"`
	Detection Detection `json:"detection"`
}

// Registry holds the ordered adapters. Order is priority: the first
// adapter whose detection clears the threshold wins.
type Registry struct {
	adapters      []Adapter
	minConfidence float64
	logger        zerolog.Logger
}

// NewRegistry creates a registry with the given adapters in priority order.
func NewRegistry(logger zerolog.Logger, adapters ...Adapter) *Registry {
	return &Registry{
		adapters:      adapters,
		minConfidence: DefaultMinConfidence,
		logger:        logger.With().Str("component", "adapter_registry").Logger(),
	}
}

// DefaultRegistry returns the registry with the built-in adapters.
func DefaultRegistry(logger zerolog.Logger) *Registry {
	return NewRegistry(logger,
		NewPythonAdapter(),
		NewNodeAdapter(),
		NewGoAdapter(),
		NewJavaAdapter(),
		NewDockerAdapter(),
	)
}

// Select returns the first adapter whose detection confidence clears the
// threshold, or nil when none matches.
func (r *Registry) Select(logText string, repoFiles []string) *Selection {
	for _, a := range r.adapters {
		det := a.Detect(logText, repoFiles)
		if det.Confidence >= r.minConfidence {
			r.logger.Debug().
				Str("adapter", a.Name()).
				Float64("confidence", det.Confidence).
				Str("category", det.Category).
				Msg("adapter selected")
			return &Selection{Adapter: a, Name: a.Name(), Detection: det}
		}
	}
	r.logger.Debug().Msg("no adapter cleared the confidence threshold")
	return nil
}

// Get returns an adapter by name, or nil.
func (r *Registry) Get(name string) Adapter {
	for _, a := range r.adapters {
		if a.Name() == name {
			return a
		}
	}
	return nil
}

// containsFile reports whether the file list carries the exact basename
// at the repo root or any depth.
func containsFile(files []string, name string) bool {
	for _, f := range files {
		if f == name {
			return true
		}
		if idx := lastSlash(f); idx >= 0 && f[idx+1:] == name {
			return true
		}
	}
	return false
}

func lastSlash(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			return i
		}
	}
	return -1
}

// allowed reports membership of t in the adapter's fix type vocabulary.
func allowed(ts []types.OperationType, t types.OperationType) bool {
	for _, x := range ts {
		if x == t {
			return true
		}
	}
	return false
}

// AllowedType checks a single operation type against an adapter.
func AllowedType(a Adapter, t types.OperationType) bool {
	return allowed(a.AllowedFixTypes(), t)
}

// AllowedCategory checks a plan category against an adapter.
func AllowedCategory(a Adapter, category string) bool {
	for _, c := range a.AllowedCategories() {
		if c == category {
			return true
		}
	}
	return false
}
