package sandbox

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Framework describes a detected test framework and its default
// install and test commands.
type Framework struct {
	Name    string
	Image   string
	Install []string
	Test    []string
}

var frameworks = []struct {
	name    string
	markers []string
	detect  func(repoPath string) bool
	fw      Framework
}{
	{
		name:    "pytest",
		markers: []string{"pytest.ini", "conftest.py", "pyproject.toml", "requirements.txt", "setup.py"},
		fw: Framework{
			Name:    "pytest",
			Image:   "python:3.12-slim",
			Install: []string{"sh", "-c", "pip install -e . 2>/dev/null || pip install -r requirements.txt"},
			Test:    []string{"python", "-m", "pytest", "-x", "-q"},
		},
	},
	{
		name:    "jest",
		markers: []string{"package.json"},
		detect:  func(p string) bool { return packageJSONMentions(p, "jest") },
		fw: Framework{
			Name:    "jest",
			Image:   "node:20-slim",
			Install: []string{"sh", "-c", "npm ci || npm install"},
			Test:    []string{"npx", "jest", "--ci"},
		},
	},
	{
		name:    "mocha",
		markers: []string{"package.json"},
		detect:  func(p string) bool { return packageJSONMentions(p, "mocha") },
		fw: Framework{
			Name:    "mocha",
			Image:   "node:20-slim",
			Install: []string{"sh", "-c", "npm ci || npm install"},
			Test:    []string{"npx", "mocha"},
		},
	},
	{
		name:    "npm",
		markers: []string{"package.json"},
		fw: Framework{
			Name:    "npm",
			Image:   "node:20-slim",
			Install: []string{"sh", "-c", "npm ci || npm install"},
			Test:    []string{"npm", "test"},
		},
	},
	{
		name:    "gotest",
		markers: []string{"go.mod"},
		fw: Framework{
			Name:    "go test",
			Image:   "golang:1.22",
			Install: []string{"go", "mod", "download"},
			Test:    []string{"go", "test", "./..."},
		},
	},
	{
		name:    "maven",
		markers: []string{"pom.xml"},
		fw: Framework{
			Name:    "maven",
			Image:   "maven:3.9-eclipse-temurin-17",
			Install: []string{"mvn", "-B", "dependency:resolve"},
			Test:    []string{"mvn", "-B", "test"},
		},
	},
	{
		name:    "gradle",
		markers: []string{"build.gradle", "build.gradle.kts"},
		fw: Framework{
			Name:    "gradle",
			Image:   "gradle:8-jdk17",
			Install: []string{"gradle", "dependencies", "--quiet"},
			Test:    []string{"gradle", "test"},
		},
	},
	{
		name:    "cargo",
		markers: []string{"Cargo.toml"},
		fw: Framework{
			Name:    "cargo",
			Image:   "rust:1.79-slim",
			Install: []string{"cargo", "fetch"},
			Test:    []string{"cargo", "test"},
		},
	},
	{
		name:    "rspec",
		markers: []string{"Gemfile", ".rspec"},
		fw: Framework{
			Name:    "rspec",
			Image:   "ruby:3.3-slim",
			Install: []string{"bundle", "install"},
			Test:    []string{"bundle", "exec", "rspec"},
		},
	},
}

// DetectFramework inspects the checkout and returns the best matching
// test framework, or nil when nothing is recognized.
func DetectFramework(repoPath string) *Framework {
	for _, c := range frameworks {
		matched := false
		for _, marker := range c.markers {
			if _, err := os.Stat(filepath.Join(repoPath, marker)); err == nil {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		if c.detect != nil && !c.detect(repoPath) {
			continue
		}
		fw := c.fw
		return &fw
	}
	return nil
}

func packageJSONMentions(repoPath, name string) bool {
	data, err := os.ReadFile(filepath.Join(repoPath, "package.json"))
	if err != nil {
		return false
	}
	return strings.Contains(string(data), `"`+name+`"`)
}

// test summary patterns per framework family
var (
	pytestPassedRe  = regexp.MustCompile(`(\d+) passed`)
	pytestFailedRe  = regexp.MustCompile(`(\d+) failed`)
	pytestSkippedRe = regexp.MustCompile(`(\d+) skipped`)
	pytestErrorRe   = regexp.MustCompile(`(\d+) error`)
	jestSummaryRe   = regexp.MustCompile(`Tests:\s+(?:(\d+) failed, )?(?:(\d+) skipped, )?(\d+) passed, (\d+) total`)
	goFailRe        = regexp.MustCompile(`(?m)^--- FAIL`)
	goPassRe        = regexp.MustCompile(`(?m)^--- PASS`)
	mavenSummaryRe  = regexp.MustCompile(`Tests run: (\d+), Failures: (\d+), Errors: (\d+), Skipped: (\d+)`)
)

func lastCount(re *regexp.Regexp, output string) int {
	ms := re.FindAllStringSubmatch(output, -1)
	if len(ms) == 0 {
		return 0
	}
	return atoi(ms[len(ms)-1][1])
}

// parseTestCounts extracts pass/fail/skip counts from raw test output.
// Unknown formats report zero counts, the exit code still decides the
// outcome.
func parseTestCounts(framework, output string) (passed, failed, skipped int) {
	switch framework {
	case "pytest":
		passed = lastCount(pytestPassedRe, output)
		failed = lastCount(pytestFailedRe, output) + lastCount(pytestErrorRe, output)
		skipped = lastCount(pytestSkippedRe, output)
	case "jest", "mocha", "npm":
		if m := jestSummaryRe.FindStringSubmatch(output); m != nil {
			failed = atoi(m[1])
			skipped = atoi(m[2])
			passed = atoi(m[3])
		}
	case "go test":
		passed = len(goPassRe.FindAllString(output, -1))
		failed = len(goFailRe.FindAllString(output, -1))
	case "maven", "gradle":
		if m := mavenSummaryRe.FindStringSubmatch(output); m != nil {
			total := atoi(m[1])
			failed = atoi(m[2]) + atoi(m[3])
			skipped = atoi(m[4])
			passed = total - failed - skipped
		}
	}
	return passed, failed, skipped
}

func atoi(s string) int {
	if s == "" {
		return 0
	}
	n, _ := strconv.Atoi(s)
	return n
}
