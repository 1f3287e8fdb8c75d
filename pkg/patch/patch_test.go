package patch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remedy-copilot/pkg/logger"
	"remedy-copilot/pkg/types"
)

func writeRepoFile(t *testing.T, dir, name, content string) {
	t.Helper()
	full := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func addDepPlan(file, name, spec string) *types.FixPlan {
	return &types.FixPlan{
		RootCause: "missing dependency",
		Category:  "dependency",
		Files:     []string{file},
		Operations: []types.FixOperation{{
			Type:    types.OpAddDependency,
			File:    file,
			Details: map[string]string{"name": name, "spec": spec},
		}},
	}
}

func TestGeneratePyprojectKeepsLexicalOrder(t *testing.T) {
	dir := t.TempDir()
	writeRepoFile(t, dir, "pyproject.toml", `[tool.poetry]
name = "app"
version = "0.1.0"

[tool.poetry.dependencies]
python = "^3.11"
flask = "^2.3"
zope-interface = "^6.0"

[tool.poetry.dev-dependencies]
pytest = "^7.0"
`)

	g := NewGenerator(logger.Nop())
	out, err := g.Generate(dir, addDepPlan("pyproject.toml", "requests", "^1.0.0"))
	require.NoError(t, err)

	assert.Contains(t, out.DiffText, "+requests = \"^1.0.0\"")
	assert.Equal(t, []string{"pyproject.toml"}, out.Stats.FilesChanged)
	assert.Equal(t, 1, out.Stats.TotalLinesAdded)
	assert.Equal(t, 0, out.Stats.TotalLinesRemoved)

	// requests lands between flask and zope-interface, python stays first
	idxPython := indexOf(out.DiffText, " python = ")
	idxFlask := indexOf(out.DiffText, " flask = ")
	idxRequests := indexOf(out.DiffText, "+requests = ")
	idxZope := indexOf(out.DiffText, " zope-interface = ")
	require.True(t, idxPython >= 0 && idxFlask >= 0 && idxRequests >= 0 && idxZope >= 0, out.DiffText)
	assert.Less(t, idxPython, idxFlask)
	assert.Less(t, idxFlask, idxRequests)
	assert.Less(t, idxRequests, idxZope)
}

func TestGenerateGoModInsideRequireBlock(t *testing.T) {
	dir := t.TempDir()
	writeRepoFile(t, dir, "go.mod", `module example.com/app

go 1.22

require (
	github.com/rs/zerolog v1.32.0
	gopkg.in/yaml.v3 v3.0.1
)
`)

	g := NewGenerator(logger.Nop())
	plan := addDepPlan("go.mod", "github.com/acme/foo", "v1.0.0")
	out, err := g.Generate(dir, plan)
	require.NoError(t, err)

	assert.Contains(t, out.DiffText, "+\tgithub.com/acme/foo v1.0.0")
	// inside the block means before the closing paren
	idxEntry := indexOf(out.DiffText, "+\tgithub.com/acme/foo v1.0.0")
	idxClose := indexOf(out.DiffText, "\n )")
	require.True(t, idxEntry >= 0 && idxClose >= 0, out.DiffText)
	assert.Less(t, idxEntry, idxClose)

	// byte-for-byte reproducible
	again, err := g.Generate(dir, plan)
	require.NoError(t, err)
	assert.Equal(t, out.DiffText, again.DiffText)
}

func TestGenerateGoModWithoutRequireBlockIsTypedError(t *testing.T) {
	dir := t.TempDir()
	writeRepoFile(t, dir, "go.mod", "module example.com/app\n\ngo 1.22\n")

	g := NewGenerator(logger.Nop())
	_, err := g.Generate(dir, addDepPlan("go.mod", "github.com/acme/foo", "v1.0.0"))
	var opErr *OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, types.OpAddDependency, opErr.Op)
	assert.Equal(t, "go.mod", opErr.File)
}

func TestGenerateRequirementsReplacesCaseInsensitive(t *testing.T) {
	dir := t.TempDir()
	writeRepoFile(t, dir, "requirements.txt", "Flask==2.0.1\nrequests>=2.20\n")

	g := NewGenerator(logger.Nop())
	out, err := g.Generate(dir, addDepPlan("requirements.txt", "flask", "2.3.0"))
	require.NoError(t, err)

	assert.Contains(t, out.DiffText, "-Flask==2.0.1")
	assert.Contains(t, out.DiffText, "+flask==2.3.0")
	assert.NotContains(t, out.DiffText, "-requests")
}

func TestGenerateRequirementsAppendsWhenMissing(t *testing.T) {
	dir := t.TempDir()
	writeRepoFile(t, dir, "requirements.txt", "flask==2.0.1\n")

	g := NewGenerator(logger.Nop())
	out, err := g.Generate(dir, addDepPlan("requirements.txt", "requests", "^2.28.0"))
	require.NoError(t, err)
	assert.Contains(t, out.DiffText, "+requests>=2.28.0")
}

func TestGenerateCreatesMissingFileAgainstDevNull(t *testing.T) {
	dir := t.TempDir()

	g := NewGenerator(logger.Nop())
	out, err := g.Generate(dir, addDepPlan("requirements.txt", "requests", "2.28.0"))
	require.NoError(t, err)
	assert.Contains(t, out.DiffText, "--- /dev/null")
	assert.Contains(t, out.DiffText, "+++ b/requirements.txt")
	assert.Contains(t, out.DiffText, "+requests==2.28.0")
}

func TestGeneratePackageJSONPreservesFormatting(t *testing.T) {
	dir := t.TempDir()
	writeRepoFile(t, dir, "package.json", `{
  "name": "app",
  "dependencies": {
    "express": "^4.18.0"
  },
  "devDependencies": {}
}
`)

	g := NewGenerator(logger.Nop())
	out, err := g.Generate(dir, addDepPlan("package.json", "left-pad", "^1.3.0"))
	require.NoError(t, err)

	assert.Contains(t, out.DiffText, `+    "left-pad": "^1.3.0"`)
	assert.Contains(t, out.DiffText, `+    "express": "^4.18.0",`)
	assert.NotContains(t, out.DiffText, "-  \"name\"")
}

func TestGeneratePomInsertsVersionAfterArtifactID(t *testing.T) {
	dir := t.TempDir()
	writeRepoFile(t, dir, "pom.xml", `<project>
    <dependencies>
        <dependency>
            <groupId>org.apache.commons</groupId>
            <artifactId>commons-lang3</artifactId>
        </dependency>
    </dependencies>
</project>
`)

	plan := &types.FixPlan{
		Category: "dependency",
		Files:    []string{"pom.xml"},
		Operations: []types.FixOperation{{
			Type:    types.OpPinDependency,
			File:    "pom.xml",
			Details: map[string]string{"groupId": "org.apache.commons", "artifactId": "commons-lang3", "version": "3.14.0"},
		}},
	}
	g := NewGenerator(logger.Nop())
	out, err := g.Generate(dir, plan)
	require.NoError(t, err)

	assert.Contains(t, out.DiffText, "+            <version>3.14.0</version>")
	idxArtifact := indexOf(out.DiffText, " <artifactId>commons-lang3</artifactId>")
	idxVersion := indexOf(out.DiffText, "+            <version>")
	assert.Less(t, idxArtifact, idxVersion)
}

func TestGeneratePomLeavesExistingVersionAlone(t *testing.T) {
	dir := t.TempDir()
	content := `<project>
    <dependencies>
        <dependency>
            <groupId>org.apache.commons</groupId>
            <artifactId>commons-lang3</artifactId>
            <version>3.12.0</version>
        </dependency>
    </dependencies>
</project>
`
	writeRepoFile(t, dir, "pom.xml", content)

	plan := &types.FixPlan{
		Category: "dependency",
		Files:    []string{"pom.xml"},
		Operations: []types.FixOperation{{
			Type:    types.OpPinDependency,
			File:    "pom.xml",
			Details: map[string]string{"artifactId": "commons-lang3", "version": "3.14.0"},
		}},
	}
	g := NewGenerator(logger.Nop())
	out, err := g.Generate(dir, plan)
	require.NoError(t, err)
	assert.Empty(t, out.DiffText)
	assert.Empty(t, out.Stats.FilesChanged)
}

func TestGenerateDockerfilePinsFromAndCleansAptCache(t *testing.T) {
	dir := t.TempDir()
	writeRepoFile(t, dir, "Dockerfile", `FROM python:3.12-nosuchtag
RUN apt-get update && apt-get install -y curl
COPY . /app
`)

	plan := &types.FixPlan{
		Category: "config",
		Files:    []string{"Dockerfile"},
		Operations: []types.FixOperation{{
			Type:    types.OpUpdateConfig,
			File:    "Dockerfile",
			Details: map[string]string{"image": "python", "tag": "3.12-slim"},
		}},
	}
	g := NewGenerator(logger.Nop())
	out, err := g.Generate(dir, plan)
	require.NoError(t, err)

	assert.Contains(t, out.DiffText, "+FROM python:3.12-slim")
	assert.Contains(t, out.DiffText, "rm -rf /var/lib/apt/lists/*")
}

func TestGenerateRemovesPythonImport(t *testing.T) {
	dir := t.TempDir()
	writeRepoFile(t, dir, "app/util.py", `import os, sys
import json

print(os.getpid())
`)

	plan := &types.FixPlan{
		Category: "unused_import",
		Files:    []string{"app/util.py"},
		Operations: []types.FixOperation{
			{Type: types.OpRemoveUnused, File: "app/util.py", Details: map[string]string{"name": "sys"}},
			{Type: types.OpRemoveUnused, File: "app/util.py", Details: map[string]string{"name": "json"}},
		},
	}
	g := NewGenerator(logger.Nop())
	out, err := g.Generate(dir, plan)
	require.NoError(t, err)

	assert.Contains(t, out.DiffText, "-import os, sys")
	assert.Contains(t, out.DiffText, "+import os")
	assert.Contains(t, out.DiffText, "-import json")
}

func TestGenerateSkipsFilesWithoutOperations(t *testing.T) {
	dir := t.TempDir()
	writeRepoFile(t, dir, "requirements.txt", "flask==2.0.1\n")
	writeRepoFile(t, dir, "README.md", "hello   \n\n\n")

	plan := addDepPlan("requirements.txt", "requests", "2.28.0")
	plan.Files = append(plan.Files, "README.md")

	g := NewGenerator(logger.Nop())
	out, err := g.Generate(dir, plan)
	require.NoError(t, err)
	assert.Equal(t, []string{"requirements.txt"}, out.Stats.FilesChanged)
	assert.NotContains(t, out.DiffText, "README.md")
}

func TestNormalizeStripsTrailingWhitespace(t *testing.T) {
	assert.Equal(t, "a\nb\n", Normalize("a  \nb\t\n\n\n"))
	assert.Equal(t, "", Normalize(""))
	assert.Equal(t, "", Normalize("\n\n"))
	assert.Equal(t, "x\n", Normalize("x"))
}

func TestUnifiedDiffRoundTripsThroughParser(t *testing.T) {
	out := unifiedDiff("go.mod", "module a\n\nrequire (\n\tx v1\n)\n", "module a\n\nrequire (\n\tx v1\n\ty v2\n)\n")
	assert.Contains(t, out, "--- a/go.mod")
	assert.Contains(t, out, "+++ b/go.mod")
	assert.Contains(t, out, "@@ -")
	assert.Contains(t, out, "+\ty v2")
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}
