package logparse

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pythonLog = `Collecting dependencies
Traceback (most recent call last):
  File "src/app.py", line 3, in <module>
    import requests
ModuleNotFoundError: No module named 'requests'
Process exited with code 1
`

func TestParsePythonTraceback(t *testing.T) {
	out := Parse(pythonLog)

	require.Len(t, out.StackTraces, 1)
	trace := out.StackTraces[0]
	assert.Equal(t, "python", trace.Language)
	assert.Equal(t, "ModuleNotFoundError", trace.Exception)
	assert.Equal(t, "No module named 'requests'", trace.Message)
	require.Len(t, trace.Frames, 1)
	assert.Equal(t, "src/app.py", trace.Frames[0].File)
	assert.Equal(t, 3, trace.Frames[0].Line)
	assert.True(t, trace.IsRootCause)
}

func TestParseJavaCausedByChain(t *testing.T) {
	log := `Exception in thread "main" java.lang.RuntimeException: wrapper
	at com.acme.App.main(App.java:10)
Caused by: java.lang.NullPointerException: inner detail
	at com.acme.Service.run(Service.java:42)
	... 1 more
`
	out := Parse(log)

	require.Len(t, out.StackTraces, 2)
	assert.Equal(t, "java.lang.RuntimeException", out.StackTraces[0].Exception)
	assert.False(t, out.StackTraces[0].IsRootCause)
	assert.Equal(t, "java.lang.NullPointerException", out.StackTraces[1].Exception)
	assert.True(t, out.StackTraces[1].IsRootCause, "last cause in the chain is the root cause")
	assert.Equal(t, "Service.java", out.StackTraces[1].Frames[0].File)
	assert.Equal(t, 42, out.StackTraces[1].Frames[0].Line)
}

func TestParseJavaScriptErrorWithFrames(t *testing.T) {
	log := `TypeError: Cannot read properties of undefined
    at processOrder (src/orders.js:17:12)
    at src/index.js:4:3
`
	out := Parse(log)

	require.Len(t, out.StackTraces, 1)
	trace := out.StackTraces[0]
	assert.Equal(t, "javascript", trace.Language)
	assert.Equal(t, "TypeError", trace.Exception)
	require.Len(t, trace.Frames, 2)
	assert.Equal(t, "src/orders.js", trace.Frames[0].File)
	assert.Equal(t, 17, trace.Frames[0].Line)
	assert.Equal(t, "processOrder", trace.Frames[0].Function)
}

func TestParseGoPanic(t *testing.T) {
	log := `panic: runtime error: index out of range [3] with length 2

goroutine 1 [running]:
main.lookup(...)
	/app/main.go:22 +0x1d
main.main()
	/app/main.go:11 +0x25
exit status 2
`
	out := Parse(log)

	require.Len(t, out.StackTraces, 1)
	trace := out.StackTraces[0]
	assert.Equal(t, "go", trace.Language)
	assert.Contains(t, trace.Message, "index out of range")
	require.Len(t, trace.Frames, 2)
	assert.Equal(t, "/app/main.go", trace.Frames[0].File)
	assert.Equal(t, 22, trace.Frames[0].Line)
}

func TestParseTestFailures(t *testing.T) {
	log := `tests/test_auth.py::test_login FAILED
FAILED tests/test_auth.py::test_logout - AssertionError: expected 200
  ✕ renders the header (23 ms)
--- FAIL: TestParseConfig (0.03s)
`
	out := Parse(log)

	require.Len(t, out.TestFailures, 4)
	assert.Equal(t, "pytest", out.TestFailures[0].Framework)
	assert.Equal(t, "test_logout", out.TestFailures[1].Name)
	assert.Equal(t, "AssertionError: expected 200", out.TestFailures[1].Message)
	assert.Equal(t, "jest", out.TestFailures[2].Framework)
	assert.Equal(t, "renders the header", out.TestFailures[2].Name)
	assert.Equal(t, "go test", out.TestFailures[3].Framework)
	assert.Equal(t, "TestParseConfig", out.TestFailures[3].Name)
}

func TestParseBuildErrors(t *testing.T) {
	log := `src/main.c:14:5: error: expected ';' before 'return'
error[E0308]: mismatched types
npm ERR! code ERESOLVE
npm ERR! Could not resolve dependency tree
`
	out := Parse(log)

	require.Len(t, out.BuildErrors, 4)
	assert.Equal(t, "cc", out.BuildErrors[0].Tool)
	assert.Equal(t, 14, out.BuildErrors[0].Line)
	assert.Equal(t, "rustc", out.BuildErrors[1].Tool)
	assert.Equal(t, "E0308", out.BuildErrors[1].Code)
	assert.Equal(t, "npm", out.BuildErrors[2].Tool)
	assert.Equal(t, "ERESOLVE", out.BuildErrors[2].Code)
}

func TestSummaryHeadTailAndCounts(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 50; i++ {
		sb.WriteString("line\n")
	}
	sb.WriteString("ERROR something broke\n")

	out := Parse(sb.String())
	assert.Len(t, out.Summary.Head, 10)
	assert.Len(t, out.Summary.Tail, 20)
	assert.Equal(t, 1, out.Summary.ErrorCount)
	assert.Equal(t, out.Summary.ErrorCount, len(out.Errors))
}

func TestParseIsDeterministic(t *testing.T) {
	a := Parse(pythonLog)
	b := Parse(pythonLog)
	assert.Equal(t, a, b)
}
