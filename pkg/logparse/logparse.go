// Package logparse extracts structured failure information from raw CI
// log text: stack traces, test failures, build errors and generic error
// lines. Parsing is pure; the same input always yields the same output.
package logparse

import (
	"regexp"
	"strconv"
	"strings"

	"remedy-copilot/pkg/types"
)

const (
	summaryHeadLines = 10
	summaryTailLines = 20
)

var (
	pyFrameRe     = regexp.MustCompile(`^\s+File "([^"]+)", line (\d+)(?:, in (\S+))?`)
	pyExceptionRe = regexp.MustCompile(`^(\w[\w.]*(?:Error|Exception|Warning|Interrupt|Exit))(?::\s*(.*))?$`)

	jsErrorRe = regexp.MustCompile(`^(?:Uncaught )?(\w*(?:Error|Exception)):\s*(.*)$`)
	jsFrameRe = regexp.MustCompile(`^\s+at\s+(?:(\S+)\s+\()?([^()]+?):(\d+):(\d+)\)?\s*$`)

	javaExceptionRe = regexp.MustCompile(`^(?:Exception in thread "[^"]*"\s+)?([\w.$]+(?:Exception|Error)):?\s*(.*)$`)
	javaCausedByRe  = regexp.MustCompile(`^Caused by:\s+([\w.$]+(?:Exception|Error)):?\s*(.*)$`)
	javaFrameRe     = regexp.MustCompile(`^\s*at\s+([\w.$<>]+)\(([^:)]+)(?::(\d+))?\)`)

	goPanicRe = regexp.MustCompile(`^panic:\s*(.*)$`)
	goFileRe  = regexp.MustCompile(`^\s+(\S+\.go):(\d+)(?:\s+\+0x[0-9a-f]+)?$`)
	goFuncRe  = regexp.MustCompile(`^(\S+\([^)]*\))$`)

	pytestFailedRe  = regexp.MustCompile(`^FAILED\s+([^\s:]+)::(\S+?)(?:\s+-\s+(.*))?$`)
	pytestVerboseRe = regexp.MustCompile(`^([^\s:]+\.py)::(\S+)\s+FAILED`)
	jestFailRe      = regexp.MustCompile(`^\s*[✕✗×]\s+(.+?)(?:\s+\(\d+\s*m?s\))?$`)
	goTestFailRe    = regexp.MustCompile(`^--- FAIL:\s+(\S+)\s+\(([\d.]+)s\)`)
	junitSummaryRe  = regexp.MustCompile(`Tests run:\s*(\d+),\s*Failures:\s*(\d+),\s*Errors:\s*(\d+)`)
	junitFailRe     = regexp.MustCompile(`^\[ERROR\]\s+(\S+)\s+--\s+Time elapsed`)

	gccErrorRe  = regexp.MustCompile(`^([^\s:]+):(\d+):(\d+):\s+(?:fatal )?error:\s+(.*)$`)
	rustErrorRe = regexp.MustCompile(`^error\[(E\d+)\]:\s+(.*)$`)
	npmErrorRe  = regexp.MustCompile(`^npm ERR!\s*(?:code\s+(\S+))?\s*(.*)$`)

	genericErrorRe = regexp.MustCompile(`(?i)\b(error|fatal|failed|failure)\b`)
)

// Parse extracts structured errors from the given log text.
func Parse(logText string) types.ParsedLog {
	lines := strings.Split(logText, "\n")
	out := types.ParsedLog{
		Errors:       []types.LogError{},
		StackTraces:  []types.StackTrace{},
		TestFailures: []types.TestFailure{},
		BuildErrors:  []types.BuildError{},
	}

	consumed := make([]bool, len(lines))
	extractPythonTraces(lines, consumed, &out)
	extractJavaTraces(lines, consumed, &out)
	extractJSTraces(lines, consumed, &out)
	extractGoPanics(lines, consumed, &out)
	extractTestFailures(lines, &out)
	extractBuildErrors(lines, consumed, &out)
	extractGenericErrors(lines, consumed, &out)

	out.Summary = buildSummary(lines, &out)
	return out
}

func extractPythonTraces(lines []string, consumed []bool, out *types.ParsedLog) {
	for i := 0; i < len(lines); i++ {
		if !strings.HasPrefix(strings.TrimSpace(lines[i]), "Traceback (most recent call last):") {
			continue
		}
		start := i
		trace := types.StackTrace{Language: "python", IsRootCause: true}
		j := i + 1
		for j < len(lines) {
			if m := pyFrameRe.FindStringSubmatch(lines[j]); m != nil {
				line, _ := strconv.Atoi(m[2])
				trace.Frames = append(trace.Frames, types.StackFrame{File: m[1], Line: line, Function: m[3]})
				j++
				// skip the source line echoed under the frame
				if j < len(lines) && strings.HasPrefix(lines[j], "    ") && pyFrameRe.FindStringSubmatch(lines[j]) == nil {
					j++
				}
				continue
			}
			if m := pyExceptionRe.FindStringSubmatch(strings.TrimSpace(lines[j])); m != nil {
				trace.Exception = m[1]
				trace.Message = m[2]
				j++
			}
			break
		}
		if trace.Exception != "" || len(trace.Frames) > 0 {
			trace.Raw = strings.Join(lines[start:j], "\n")
			markRange(consumed, start, j)
			out.StackTraces = append(out.StackTraces, trace)
		}
		i = j - 1
	}
}

// extractJavaTraces collapses "Caused by:" chains into consecutive traces
// and marks the last cause in each chain as the root cause.
func extractJavaTraces(lines []string, consumed []bool, out *types.ParsedLog) {
	for i := 0; i < len(lines); i++ {
		if consumed[i] {
			continue
		}
		m := javaExceptionRe.FindStringSubmatch(strings.TrimSpace(lines[i]))
		if m == nil || !strings.Contains(m[1], ".") {
			continue
		}
		// require at least one frame to avoid matching prose
		if i+1 >= len(lines) || javaFrameRe.FindStringSubmatch(lines[i+1]) == nil {
			continue
		}

		chainStart := len(out.StackTraces)
		j := i
		for j < len(lines) {
			var em []string
			if j == i {
				em = m
			} else {
				em = javaCausedByRe.FindStringSubmatch(strings.TrimSpace(lines[j]))
			}
			if em == nil {
				break
			}
			trace := types.StackTrace{Language: "java", Exception: em[1], Message: em[2]}
			start := j
			j++
			for j < len(lines) {
				fm := javaFrameRe.FindStringSubmatch(lines[j])
				if fm == nil {
					if strings.Contains(lines[j], "... ") && strings.Contains(lines[j], " more") {
						j++
						continue
					}
					break
				}
				line := 0
				if fm[3] != "" {
					line, _ = strconv.Atoi(fm[3])
				}
				trace.Frames = append(trace.Frames, types.StackFrame{File: fm[2], Line: line, Function: fm[1]})
				j++
			}
			trace.Raw = strings.Join(lines[start:j], "\n")
			markRange(consumed, start, j)
			out.StackTraces = append(out.StackTraces, trace)
		}
		if len(out.StackTraces) > chainStart {
			out.StackTraces[len(out.StackTraces)-1].IsRootCause = true
		}
		i = j - 1
	}
}

func extractJSTraces(lines []string, consumed []bool, out *types.ParsedLog) {
	for i := 0; i < len(lines); i++ {
		if consumed[i] {
			continue
		}
		m := jsErrorRe.FindStringSubmatch(strings.TrimSpace(lines[i]))
		if m == nil {
			continue
		}
		if i+1 >= len(lines) || jsFrameRe.FindStringSubmatch(lines[i+1]) == nil {
			continue
		}
		trace := types.StackTrace{Language: "javascript", Exception: m[1], Message: m[2], IsRootCause: true}
		start := i
		j := i + 1
		for j < len(lines) {
			fm := jsFrameRe.FindStringSubmatch(lines[j])
			if fm == nil {
				break
			}
			line, _ := strconv.Atoi(fm[3])
			trace.Frames = append(trace.Frames, types.StackFrame{File: fm[2], Line: line, Function: fm[1]})
			j++
		}
		trace.Raw = strings.Join(lines[start:j], "\n")
		markRange(consumed, start, j)
		out.StackTraces = append(out.StackTraces, trace)
		i = j - 1
	}
}

func extractGoPanics(lines []string, consumed []bool, out *types.ParsedLog) {
	for i := 0; i < len(lines); i++ {
		if consumed[i] {
			continue
		}
		m := goPanicRe.FindStringSubmatch(lines[i])
		if m == nil {
			continue
		}
		trace := types.StackTrace{Language: "go", Exception: "panic", Message: m[1], IsRootCause: true}
		start := i
		j := i + 1
		var pendingFunc string
		for j < len(lines) {
			l := lines[j]
			if strings.HasPrefix(l, "goroutine ") || strings.TrimSpace(l) == "" {
				j++
				continue
			}
			if fm := goFileRe.FindStringSubmatch(l); fm != nil {
				line, _ := strconv.Atoi(fm[2])
				trace.Frames = append(trace.Frames, types.StackFrame{File: fm[1], Line: line, Function: pendingFunc})
				pendingFunc = ""
				j++
				continue
			}
			if fm := goFuncRe.FindStringSubmatch(strings.TrimSpace(l)); fm != nil && !strings.HasPrefix(l, " ") {
				pendingFunc = fm[1]
				j++
				continue
			}
			break
		}
		trace.Raw = strings.Join(lines[start:j], "\n")
		markRange(consumed, start, j)
		out.StackTraces = append(out.StackTraces, trace)
		i = j - 1
	}
}

func extractTestFailures(lines []string, out *types.ParsedLog) {
	for _, raw := range lines {
		line := strings.TrimRight(raw, "\r")
		if m := pytestFailedRe.FindStringSubmatch(line); m != nil {
			out.TestFailures = append(out.TestFailures, types.TestFailure{
				Framework: "pytest", File: m[1], Name: m[2], Message: m[3],
			})
			continue
		}
		if m := pytestVerboseRe.FindStringSubmatch(line); m != nil {
			out.TestFailures = append(out.TestFailures, types.TestFailure{
				Framework: "pytest", File: m[1], Name: m[2],
			})
			continue
		}
		if m := jestFailRe.FindStringSubmatch(line); m != nil {
			out.TestFailures = append(out.TestFailures, types.TestFailure{
				Framework: "jest", Name: strings.TrimSpace(m[1]),
			})
			continue
		}
		if m := goTestFailRe.FindStringSubmatch(line); m != nil {
			out.TestFailures = append(out.TestFailures, types.TestFailure{
				Framework: "go test", Name: m[1],
			})
			continue
		}
		if m := junitFailRe.FindStringSubmatch(line); m != nil {
			out.TestFailures = append(out.TestFailures, types.TestFailure{
				Framework: "junit", Name: m[1],
			})
			continue
		}
	}
}

func extractBuildErrors(lines []string, consumed []bool, out *types.ParsedLog) {
	for i, raw := range lines {
		if consumed[i] {
			continue
		}
		line := strings.TrimRight(raw, "\r")
		if m := gccErrorRe.FindStringSubmatch(line); m != nil {
			ln, _ := strconv.Atoi(m[2])
			col, _ := strconv.Atoi(m[3])
			out.BuildErrors = append(out.BuildErrors, types.BuildError{
				Tool: "cc", File: m[1], Line: ln, Column: col, Message: m[4],
			})
			consumed[i] = true
			continue
		}
		if m := rustErrorRe.FindStringSubmatch(line); m != nil {
			out.BuildErrors = append(out.BuildErrors, types.BuildError{
				Tool: "rustc", Code: m[1], Message: m[2],
			})
			consumed[i] = true
			continue
		}
		if m := npmErrorRe.FindStringSubmatch(line); m != nil {
			msg := strings.TrimSpace(m[2])
			if msg == "" && m[1] == "" {
				continue
			}
			out.BuildErrors = append(out.BuildErrors, types.BuildError{
				Tool: "npm", Code: m[1], Message: msg,
			})
			consumed[i] = true
			continue
		}
	}
}

func extractGenericErrors(lines []string, consumed []bool, out *types.ParsedLog) {
	for i, raw := range lines {
		if consumed[i] {
			continue
		}
		line := strings.TrimSpace(strings.TrimRight(raw, "\r"))
		if line == "" {
			continue
		}
		if genericErrorRe.MatchString(line) {
			out.Errors = append(out.Errors, types.LogError{Line: i + 1, Text: line})
		}
	}
}

func buildSummary(lines []string, out *types.ParsedLog) types.LogSummary {
	head := lines
	if len(head) > summaryHeadLines {
		head = head[:summaryHeadLines]
	}
	tail := lines
	if len(tail) > summaryTailLines {
		tail = tail[len(tail)-summaryTailLines:]
	}
	return types.LogSummary{
		TotalLines:   len(lines),
		ErrorCount:   len(out.Errors),
		TraceCount:   len(out.StackTraces),
		TestFailures: len(out.TestFailures),
		BuildErrors:  len(out.BuildErrors),
		Head:         append([]string(nil), head...),
		Tail:         append([]string(nil), tail...),
	}
}

func markRange(consumed []bool, from, to int) {
	for i := from; i < to && i < len(consumed); i++ {
		consumed[i] = true
	}
}
