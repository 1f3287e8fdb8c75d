package analysis

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"remedy-copilot/pkg/types"
)

const (
	frameRelevance       = 0.9
	changedFileBonus     = 0.15
	similarityThreshold  = 0.3
	maxAlternatives      = 3
	maxSimilarIncidents  = 5
)

// SimilarityStore looks up prior incidents by text similarity. The engine
// works without one; attach it when a vector store is available.
type SimilarityStore interface {
	Search(ctx context.Context, text string, limit int) ([]types.SimilarIncident, error)
}

// Engine synthesizes a root-cause analysis from the classification, stack
// frames, and recently changed files.
type Engine struct {
	classifier *Classifier
	similarity SimilarityStore
	logger     zerolog.Logger
}

// NewEngine creates an RCA engine. similarity may be nil.
func NewEngine(similarity SimilarityStore, logger zerolog.Logger) *Engine {
	return &Engine{
		classifier: NewClassifier(),
		similarity: similarity,
		logger:     logger.With().Str("component", "rca_engine").Logger(),
	}
}

// Analyze produces the RCA result for one failure bundle.
func (e *Engine) Analyze(ctx context.Context, bundle *types.FailureContextBundle) (*types.RCAResult, error) {
	classification := e.classifier.Classify(bundle)

	result := &types.RCAResult{
		Classification:    classification,
		AffectedFiles:     affectedFiles(bundle, classification.Category),
		SuggestedPatterns: suggestedPatterns(classification.Category),
	}

	result.PrimaryHypothesis, result.AlternativeHypotheses = hypotheses(bundle, classification)

	if e.similarity != nil {
		incidents, err := e.similarity.Search(ctx, classificationText(bundle), maxSimilarIncidents)
		if err != nil {
			e.logger.Warn().Err(err).Msg("similarity lookup failed, continuing without incidents")
		} else {
			for _, inc := range incidents {
				if inc.Similarity >= similarityThreshold {
					result.SimilarIncidents = append(result.SimilarIncidents, inc)
				}
			}
		}
	}

	e.logger.Debug().
		Str("category", string(classification.Category)).
		Float64("confidence", classification.Confidence).
		Int("affected_files", len(result.AffectedFiles)).
		Msg("root cause analysis completed")
	return result, nil
}

// affectedFiles ranks files: stack frames dominate, recently changed
// files get a category-sensitive bonus.
func affectedFiles(bundle *types.FailureContextBundle, category types.FailureCategory) []types.AffectedFile {
	relevance := map[string]float64{}
	reason := map[string]string{}

	for _, trace := range bundle.Parsed.StackTraces {
		for _, frame := range trace.Frames {
			if frame.File == "" || isVendoredPath(frame.File) {
				continue
			}
			if relevance[frame.File] < frameRelevance {
				relevance[frame.File] = frameRelevance
				reason[frame.File] = "appears in stack trace"
			}
		}
	}

	for _, file := range bundle.ChangedFiles {
		bonus := changedFileBonus
		if categoryRelevantFile(category, file) {
			bonus *= 2
		}
		relevance[file] += bonus
		if reason[file] == "" {
			reason[file] = "recently changed"
		} else {
			reason[file] += ", recently changed"
		}
	}

	files := make([]types.AffectedFile, 0, len(relevance))
	for path, rel := range relevance {
		if rel > 1.0 {
			rel = 1.0
		}
		files = append(files, types.AffectedFile{Path: path, Relevance: rel, Reason: reason[path]})
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].Relevance != files[j].Relevance {
			return files[i].Relevance > files[j].Relevance
		}
		return files[i].Path < files[j].Path
	})
	return files
}

// categoryRelevantFile reports whether a changed file is typically
// implicated for the given failure category.
func categoryRelevantFile(category types.FailureCategory, file string) bool {
	base := file
	if idx := strings.LastIndexByte(file, '/'); idx >= 0 {
		base = file[idx+1:]
	}
	switch category {
	case types.CategoryDependency:
		switch base {
		case "pyproject.toml", "requirements.txt", "package.json", "package-lock.json",
			"go.mod", "go.sum", "pom.xml", "build.gradle", "Gemfile", "Cargo.toml":
			return true
		}
	case types.CategoryConfiguration:
		if base == ".env" || strings.HasSuffix(base, ".yml") || strings.HasSuffix(base, ".yaml") ||
			strings.HasSuffix(base, ".toml") || strings.HasSuffix(base, ".ini") || strings.HasSuffix(base, ".conf") {
			return true
		}
	case types.CategoryInfrastructure:
		if base == "Dockerfile" || strings.HasPrefix(base, "docker-compose") || strings.HasSuffix(base, ".tf") {
			return true
		}
	case types.CategoryTest:
		if strings.Contains(file, "test") || strings.Contains(file, "spec") {
			return true
		}
	}
	return false
}

func isVendoredPath(path string) bool {
	return strings.Contains(path, "site-packages/") ||
		strings.Contains(path, "node_modules/") ||
		strings.Contains(path, "/vendor/") ||
		strings.HasPrefix(path, "/usr/")
}

// hypotheses derives the primary hypothesis and up to three alternatives.
func hypotheses(bundle *types.FailureContextBundle, classification types.Classification) (types.Hypothesis, []types.Hypothesis) {
	var evidence []string
	for _, t := range bundle.Parsed.StackTraces {
		if t.IsRootCause {
			evidence = append(evidence, t.Exception+": "+t.Message)
		}
	}
	for _, f := range bundle.Parsed.TestFailures {
		evidence = append(evidence, "failed test "+f.Name)
		if len(evidence) >= 5 {
			break
		}
	}
	for _, b := range bundle.Parsed.BuildErrors {
		evidence = append(evidence, b.Message)
		if len(evidence) >= 5 {
			break
		}
	}

	primary := types.Hypothesis{
		Description: fmt.Sprintf("%s failure: %s", classification.Category, classification.Reasoning),
		Confidence:  classification.Confidence,
		Evidence:    evidence,
	}

	var alts []types.Hypothesis
	if classification.SecondaryCategory != "" {
		alts = append(alts, types.Hypothesis{
			Description: fmt.Sprintf("alternatively a %s failure", classification.SecondaryCategory),
			Confidence:  classification.Confidence * 0.6,
		})
	}
	if len(bundle.ChangedFiles) > 0 {
		alts = append(alts, types.Hypothesis{
			Description: "a recent change introduced the regression",
			Confidence:  0.4,
			Evidence:    firstN(bundle.ChangedFiles, 3),
		})
	}
	if bundle.ExecutionTimeSeconds > 0 && classification.Category != types.CategoryFlaky {
		alts = append(alts, types.Hypothesis{
			Description: "environmental slowness or resource contention",
			Confidence:  0.2,
		})
	}
	if len(alts) > maxAlternatives {
		alts = alts[:maxAlternatives]
	}
	return primary, alts
}

func suggestedPatterns(category types.FailureCategory) []string {
	switch category {
	case types.CategoryDependency:
		return []string{"add_dependency", "pin_dependency"}
	case types.CategoryConfiguration:
		return []string{"update_config"}
	case types.CategoryCode:
		return []string{"remove_unused"}
	case types.CategoryFlaky:
		return []string{"retry"}
	default:
		return nil
	}
}

func firstN(ss []string, n int) []string {
	if len(ss) <= n {
		return append([]string(nil), ss...)
	}
	return append([]string(nil), ss[:n]...)
}
