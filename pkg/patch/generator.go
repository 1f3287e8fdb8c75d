// Package patch turns a FixPlan into a reproducible unified diff. Typed
// operations rewrite file text directly so that the same plan against
// the same tree always yields the same bytes.
package patch

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"remedy-copilot/pkg/types"
)

// Generator applies plan operations to a checked-out repository and
// emits the resulting diff. It never writes to the repository.
type Generator struct {
	logger zerolog.Logger
}

// NewGenerator creates a patch generator.
func NewGenerator(logger zerolog.Logger) *Generator {
	return &Generator{logger: logger.With().Str("component", "patch_generator").Logger()}
}

// Generate reads each plan file (missing files read as empty), applies
// the operations targeting it in order, and diffs the normalized result
// against the normalized pre-image. Files whose operations produce no
// net change do not appear in the diff.
func (g *Generator) Generate(repoPath string, plan *types.FixPlan) (*types.PatchOutput, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}

	files := make([]string, len(plan.Files))
	copy(files, plan.Files)
	sort.Strings(files)

	var diffText strings.Builder
	stats := types.DiffStats{}

	for _, file := range files {
		original, err := readRepoFile(repoPath, file)
		if err != nil {
			return nil, err
		}
		before := Normalize(original)

		after := before
		for _, op := range plan.Operations {
			if op.File != file {
				continue
			}
			after, err = applyOperation(after, op)
			if err != nil {
				return nil, err
			}
			after = Normalize(after)
		}

		fileDiff := unifiedDiff(file, before, after)
		if fileDiff == "" {
			continue
		}
		diffText.WriteString(fileDiff)
		stats.FilesChanged = append(stats.FilesChanged, file)
		added, removed := countChanges(fileDiff)
		stats.TotalLinesAdded += added
		stats.TotalLinesRemoved += removed
	}

	stats.TotalFiles = len(stats.FilesChanged)
	stats.DiffBytes = diffText.Len()

	g.logger.Debug().
		Int("files", stats.TotalFiles).
		Int("lines_added", stats.TotalLinesAdded).
		Int("lines_removed", stats.TotalLinesRemoved).
		Msg("patch generated")

	return &types.PatchOutput{DiffText: diffText.String(), Stats: stats}, nil
}

// ApplyToFiles returns the post-operation content for each plan file
// whose operations produced a net change, keyed by repo-relative path.
// The PR layer commits these contents instead of re-applying the diff.
func (g *Generator) ApplyToFiles(repoPath string, plan *types.FixPlan) (map[string]string, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	out := make(map[string]string)
	for _, file := range plan.Files {
		original, err := readRepoFile(repoPath, file)
		if err != nil {
			return nil, err
		}
		before := Normalize(original)
		after := before
		for _, op := range plan.Operations {
			if op.File != file {
				continue
			}
			after, err = applyOperation(after, op)
			if err != nil {
				return nil, err
			}
			after = Normalize(after)
		}
		if after != before {
			out[file] = after
		}
	}
	return out, nil
}

// Normalize strips trailing whitespace per line and enforces exactly
// one trailing newline on non-empty content.
func Normalize(content string) string {
	if content == "" {
		return ""
	}
	lines := strings.Split(content, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t\r")
	}
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}

func readRepoFile(repoPath, file string) (string, error) {
	full := filepath.Join(repoPath, filepath.FromSlash(file))
	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read %s: %w", file, err)
	}
	return string(data), nil
}

func countChanges(fileDiff string) (added, removed int) {
	for _, l := range strings.Split(fileDiff, "\n") {
		switch {
		case strings.HasPrefix(l, "+++"), strings.HasPrefix(l, "---"):
		case strings.HasPrefix(l, "+"):
			added++
		case strings.HasPrefix(l, "-"):
			removed++
		}
	}
	return added, removed
}
