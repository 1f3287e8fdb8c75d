package types

// StackFrame is a single frame extracted from a stack trace.
type StackFrame struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Function string `json:"function,omitempty"`
}

// StackTrace is one exception chain extracted from log output.
type StackTrace struct {
	Language    string       `json:"language"`
	Exception   string       `json:"exception"`
	Message     string       `json:"message"`
	Frames      []StackFrame `json:"frames"`
	IsRootCause bool         `json:"is_root_cause"`
	Raw         string       `json:"raw,omitempty"`
}

// TestFailure is a single failed test extracted from log output.
type TestFailure struct {
	Framework string `json:"framework"`
	Name      string `json:"name"`
	File      string `json:"file,omitempty"`
	Line      int    `json:"line,omitempty"`
	Message   string `json:"message,omitempty"`
}

// BuildError is a compiler or packaging error extracted from log output.
type BuildError struct {
	Tool    string `json:"tool"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// LogError is a generic error line that did not match a structured pattern.
type LogError struct {
	Line int    `json:"line"`
	Text string `json:"text"`
}

// LogSummary carries the head and tail of a log plus extraction counts.
type LogSummary struct {
	TotalLines   int      `json:"total_lines"`
	ErrorCount   int      `json:"error_count"`
	TraceCount   int      `json:"trace_count"`
	TestFailures int      `json:"test_failures"`
	BuildErrors  int      `json:"build_errors"`
	Head         []string `json:"head"`
	Tail         []string `json:"tail"`
}

// ParsedLog is the structured output of the log parser.
type ParsedLog struct {
	Errors       []LogError    `json:"errors"`
	StackTraces  []StackTrace  `json:"stack_traces"`
	TestFailures []TestFailure `json:"test_failures"`
	BuildErrors  []BuildError  `json:"build_errors"`
	Summary      LogSummary    `json:"summary"`
}

// FailureContextBundle aggregates the observability artifacts gathered
// for one pipeline event before analysis.
type FailureContextBundle struct {
	EventID              string             `json:"event_id"`
	Repo                 string             `json:"repo"`
	LogText              string             `json:"log_text,omitempty"`
	LogTruncated         bool               `json:"log_truncated"`
	Parsed               ParsedLog          `json:"parsed"`
	ChangedFiles         []string           `json:"changed_files,omitempty"`
	CommitMessage        string             `json:"commit_message,omitempty"`
	ExecutionTimeSeconds float64            `json:"execution_time_seconds,omitempty"`
	StepTimings          map[string]float64 `json:"step_timings,omitempty"`
}

// FailureCategory is the analyzed root-cause category, distinct from the
// coarse FailureType reported by the CI provider.
type FailureCategory string

const (
	CategoryInfrastructure FailureCategory = "infrastructure"
	CategoryDependency     FailureCategory = "dependency"
	CategoryCode           FailureCategory = "code"
	CategoryConfiguration  FailureCategory = "configuration"
	CategoryTest           FailureCategory = "test"
	CategoryFlaky          FailureCategory = "flaky"
	CategorySecurity       FailureCategory = "security"
	CategoryUnknown        FailureCategory = "unknown"
)

// Classification is the rule-based category decision for a failure.
type Classification struct {
	Category          FailureCategory `json:"category"`
	Confidence        float64         `json:"confidence"`
	Reasoning         string          `json:"reasoning"`
	Indicators        []string        `json:"indicators,omitempty"`
	SecondaryCategory FailureCategory `json:"secondary_category,omitempty"`
}

// Hypothesis is one candidate explanation produced by root-cause analysis.
type Hypothesis struct {
	Description string   `json:"description"`
	Confidence  float64  `json:"confidence"`
	Evidence    []string `json:"evidence,omitempty"`
}

// AffectedFile ranks a file by its estimated relevance to the failure.
type AffectedFile struct {
	Path      string  `json:"path"`
	Relevance float64 `json:"relevance"`
	Reason    string  `json:"reason,omitempty"`
}

// SimilarIncident is a prior failure retrieved from the similarity store.
type SimilarIncident struct {
	ID         string  `json:"id"`
	Similarity float64 `json:"similarity"`
	Summary    string  `json:"summary,omitempty"`
	Resolution string  `json:"resolution,omitempty"`
}

// RCAResult is the full root-cause analysis output for one failure.
type RCAResult struct {
	Classification        Classification    `json:"classification"`
	PrimaryHypothesis     Hypothesis        `json:"primary_hypothesis"`
	AlternativeHypotheses []Hypothesis      `json:"alternative_hypotheses,omitempty"`
	AffectedFiles         []AffectedFile    `json:"affected_files,omitempty"`
	SimilarIncidents      []SimilarIncident `json:"similar_incidents,omitempty"`
	SuggestedPatterns     []string          `json:"suggested_patterns,omitempty"`
}
