// Package diff parses unified diffs and measures them. It is the single
// source of truth for diff measurement used by the policy engine and the
// patch generator.
package diff

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// FileDiff is one file's portion of a unified diff.
type FileDiff struct {
	Path         string `json:"path"`
	OldPath      string `json:"old_path,omitempty"`
	IsNew        bool   `json:"is_new,omitempty"`
	IsDeleted    bool   `json:"is_deleted,omitempty"`
	LinesAdded   int    `json:"lines_added"`
	LinesRemoved int    `json:"lines_removed"`
	Hunks        int    `json:"hunks"`
}

// ParsedDiff enumerates the files touched by a diff with aggregate counts.
type ParsedDiff struct {
	Files             []FileDiff `json:"files"`
	TotalFiles        int        `json:"total_files"`
	TotalLinesAdded   int        `json:"total_lines_added"`
	TotalLinesRemoved int        `json:"total_lines_removed"`
	Bytes             int        `json:"bytes"`
}

// Paths returns the normalized paths of all touched files.
func (d *ParsedDiff) Paths() []string {
	paths := make([]string, 0, len(d.Files))
	for _, f := range d.Files {
		paths = append(paths, f.Path)
	}
	return paths
}

// MalformedDiffError reports a structurally invalid unified diff.
type MalformedDiffError struct {
	Line   int
	Reason string
}

func (e *MalformedDiffError) Error() string {
	return fmt.Sprintf("malformed diff at line %d: %s", e.Line, e.Reason)
}

// Parse parses a unified diff. It fails when the ---/+++/@@ headers are
// absent or out of order. The +/- counters exclude the header lines.
func Parse(diffText string) (*ParsedDiff, error) {
	if strings.TrimSpace(diffText) == "" {
		return nil, &MalformedDiffError{Line: 0, Reason: "empty diff"}
	}

	parsed := &ParsedDiff{Bytes: len(diffText)}
	lines := strings.Split(diffText, "\n")

	var current *FileDiff
	var oldPath string
	sawOld := false // saw "---" waiting for "+++"
	// remaining body lines declared by the active hunk header; while
	// either is positive, ---/+++ prefixed lines are hunk content, not
	// file headers
	oldRem, newRem := 0, 0

	flush := func() {
		if current != nil {
			parsed.Files = append(parsed.Files, *current)
			current = nil
		}
	}

	for i, line := range lines {
		n := i + 1

		if oldRem > 0 || newRem > 0 {
			switch {
			case strings.HasPrefix(line, "+"):
				current.LinesAdded++
				parsed.TotalLinesAdded++
				newRem--
			case strings.HasPrefix(line, "-"):
				current.LinesRemoved++
				parsed.TotalLinesRemoved++
				oldRem--
			case strings.HasPrefix(line, `\`):
				// "\ No newline at end of file" does not count
			case strings.HasPrefix(line, " ") || line == "":
				oldRem--
				newRem--
			default:
				return nil, &MalformedDiffError{Line: n, Reason: "hunk body shorter than declared"}
			}
			continue
		}

		switch {
		case strings.HasPrefix(line, "--- "):
			if sawOld {
				return nil, &MalformedDiffError{Line: n, Reason: "consecutive --- headers"}
			}
			flush()
			oldPath = normalizePath(strings.TrimPrefix(line, "--- "))
			sawOld = true

		case strings.HasPrefix(line, "+++ "):
			if !sawOld {
				return nil, &MalformedDiffError{Line: n, Reason: "+++ header without preceding ---"}
			}
			newPath := normalizePath(strings.TrimPrefix(line, "+++ "))
			fd := FileDiff{OldPath: oldPath}
			switch {
			case newPath == "/dev/null":
				fd.Path = oldPath
				fd.IsDeleted = true
			case oldPath == "/dev/null":
				fd.Path = newPath
				fd.IsNew = true
			default:
				fd.Path = newPath
			}
			current = &fd
			sawOld = false

		case strings.HasPrefix(line, "@@"):
			if current == nil {
				return nil, &MalformedDiffError{Line: n, Reason: "hunk header before file headers"}
			}
			var ok bool
			oldRem, newRem, ok = parseHunkHeader(line)
			if !ok {
				return nil, &MalformedDiffError{Line: n, Reason: "invalid hunk header"}
			}
			current.Hunks++
		}
	}
	if sawOld {
		return nil, &MalformedDiffError{Line: len(lines), Reason: "--- header without matching +++"}
	}
	flush()

	if len(parsed.Files) == 0 {
		return nil, &MalformedDiffError{Line: 0, Reason: "no file headers found"}
	}
	hunks := 0
	for _, f := range parsed.Files {
		hunks += f.Hunks
	}
	if hunks == 0 {
		return nil, &MalformedDiffError{Line: 0, Reason: "no hunk headers found"}
	}

	parsed.TotalFiles = len(parsed.Files)
	return parsed, nil
}

var hunkHeaderRe = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

// parseHunkHeader returns the old and new body line counts declared by
// an @@ header. An omitted count means one line.
func parseHunkHeader(line string) (oldCount, newCount int, ok bool) {
	m := hunkHeaderRe.FindStringSubmatch(line)
	if m == nil {
		return 0, 0, false
	}
	oldCount, newCount = 1, 1
	if m[2] != "" {
		oldCount, _ = strconv.Atoi(m[2])
	}
	if m[4] != "" {
		newCount, _ = strconv.Atoi(m[4])
	}
	return oldCount, newCount, true
}

// normalizePath strips a/ b/ and ./ prefixes, converts backslashes, and
// drops any trailing tab-separated timestamp some diff tools emit.
func normalizePath(p string) string {
	if idx := strings.IndexByte(p, '\t'); idx >= 0 {
		p = p[:idx]
	}
	p = strings.TrimSpace(p)
	if p == "/dev/null" {
		return p
	}
	p = strings.ReplaceAll(p, "\\", "/")
	for _, prefix := range []string{"a/", "b/", "./"} {
		if strings.HasPrefix(p, prefix) {
			p = strings.TrimPrefix(p, prefix)
			break
		}
	}
	return p
}
