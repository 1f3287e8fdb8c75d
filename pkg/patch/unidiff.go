package patch

import (
	"fmt"
	"strings"
)

const diffContextLines = 3

type editKind int

const (
	editEqual editKind = iota
	editDelete
	editInsert
)

type edit struct {
	kind editKind
	text string
}

// unifiedDiff renders a unified diff between two normalized contents.
// It returns "" when the contents are equal. An empty old content is
// rendered as a file creation against /dev/null.
func unifiedDiff(path, oldContent, newContent string) string {
	if oldContent == newContent {
		return ""
	}
	a := splitLines(oldContent)
	b := splitLines(newContent)
	edits := diffEdits(a, b)

	var sb strings.Builder
	if oldContent == "" {
		sb.WriteString("--- /dev/null\n")
	} else {
		sb.WriteString("--- a/" + path + "\n")
	}
	if newContent == "" {
		sb.WriteString("+++ /dev/null\n")
	} else {
		sb.WriteString("+++ b/" + path + "\n")
	}

	for _, h := range buildHunks(edits, diffContextLines) {
		fmt.Fprintf(&sb, "@@ -%s +%s @@\n", rangeSpec(h.aStart, h.aCount), rangeSpec(h.bStart, h.bCount))
		for _, e := range h.edits {
			switch e.kind {
			case editEqual:
				sb.WriteString(" " + e.text + "\n")
			case editDelete:
				sb.WriteString("-" + e.text + "\n")
			case editInsert:
				sb.WriteString("+" + e.text + "\n")
			}
		}
	}
	return sb.String()
}

func rangeSpec(start, count int) string {
	if count == 1 {
		return fmt.Sprintf("%d", start)
	}
	if count == 0 {
		// per unified diff convention the start is the line before
		return fmt.Sprintf("%d,0", start-1)
	}
	return fmt.Sprintf("%d,%d", start, count)
}

func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	lines := strings.Split(content, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// diffEdits computes a line-level edit script via LCS dynamic programming.
// Inputs are small config and source files, quadratic cost is fine.
func diffEdits(a, b []string) []edit {
	n, m := len(a), len(b)
	lcs := make([][]int, n+1)
	for i := range lcs {
		lcs[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if a[i] == b[j] {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else if lcs[i+1][j] >= lcs[i][j+1] {
				lcs[i][j] = lcs[i+1][j]
			} else {
				lcs[i][j] = lcs[i][j+1]
			}
		}
	}

	edits := make([]edit, 0, n+m)
	i, j := 0, 0
	for i < n && j < m {
		switch {
		case a[i] == b[j]:
			edits = append(edits, edit{editEqual, a[i]})
			i++
			j++
		case lcs[i+1][j] >= lcs[i][j+1]:
			edits = append(edits, edit{editDelete, a[i]})
			i++
		default:
			edits = append(edits, edit{editInsert, b[j]})
			j++
		}
	}
	for ; i < n; i++ {
		edits = append(edits, edit{editDelete, a[i]})
	}
	for ; j < m; j++ {
		edits = append(edits, edit{editInsert, b[j]})
	}
	return edits
}

type hunk struct {
	aStart, aCount int
	bStart, bCount int
	edits          []edit
}

// buildHunks groups changed edits into hunks with the given amount of
// surrounding context, merging groups whose gaps are within 2*context.
func buildHunks(edits []edit, context int) []hunk {
	var hunks []hunk

	// positions of non-equal edits
	changed := make([]int, 0, len(edits))
	for idx, e := range edits {
		if e.kind != editEqual {
			changed = append(changed, idx)
		}
	}
	if len(changed) == 0 {
		return nil
	}

	// group change indices
	type span struct{ from, to int }
	var spans []span
	cur := span{changed[0], changed[0]}
	for _, idx := range changed[1:] {
		if idx-cur.to <= 2*context+1 {
			cur.to = idx
			continue
		}
		spans = append(spans, cur)
		cur = span{idx, idx}
	}
	spans = append(spans, cur)

	// line numbers per edit index
	aLine := make([]int, len(edits)+1)
	bLine := make([]int, len(edits)+1)
	al, bl := 1, 1
	for idx, e := range edits {
		aLine[idx] = al
		bLine[idx] = bl
		switch e.kind {
		case editEqual:
			al++
			bl++
		case editDelete:
			al++
		case editInsert:
			bl++
		}
	}
	aLine[len(edits)] = al
	bLine[len(edits)] = bl

	for _, sp := range spans {
		from := sp.from - context
		if from < 0 {
			from = 0
		}
		to := sp.to + context
		if to > len(edits)-1 {
			to = len(edits) - 1
		}
		h := hunk{aStart: aLine[from], bStart: bLine[from]}
		for idx := from; idx <= to; idx++ {
			e := edits[idx]
			h.edits = append(h.edits, e)
			switch e.kind {
			case editEqual:
				h.aCount++
				h.bCount++
			case editDelete:
				h.aCount++
			case editInsert:
				h.bCount++
			}
		}
		hunks = append(hunks, h)
	}
	return hunks
}
