package patch

import (
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"

	"remedy-copilot/pkg/types"
)

// OpError reports an operation that could not be applied to the file it
// targets, such as a missing dependency section or require block.
type OpError struct {
	Op     types.OperationType
	File   string
	Reason string
}

func (e *OpError) Error() string {
	return fmt.Sprintf("cannot apply %s to %s: %s", e.Op, e.File, e.Reason)
}

// applyOperation dispatches a single typed operation to its file-type
// handler and returns the rewritten content.
func applyOperation(content string, op types.FixOperation) (string, error) {
	base := path.Base(op.File)
	switch op.Type {
	case types.OpAddDependency, types.OpPinDependency:
		switch base {
		case "pyproject.toml":
			return upsertPyproject(content, op)
		case "requirements.txt":
			return upsertRequirements(content, op)
		case "package.json":
			return upsertPackageJSON(content, op)
		case "go.mod":
			return upsertGoMod(content, op)
		case "pom.xml":
			return upsertPom(content, op)
		}
		return "", &OpError{op.Type, op.File, "no dependency handler for this file type"}
	case types.OpUpdateConfig:
		switch base {
		case "Dockerfile":
			return updateDockerfile(content, op)
		case "package-lock.json":
			return updatePackageLock(content, op)
		case "go.sum":
			return touchGoSum(content, op)
		}
		return "", &OpError{op.Type, op.File, "no config handler for this file type"}
	case types.OpRemoveUnused:
		if strings.HasSuffix(base, ".py") {
			return removePythonImport(content, op)
		}
		return "", &OpError{op.Type, op.File, "remove_unused only supports python sources"}
	}
	return "", &OpError{op.Type, op.File, "unknown operation type"}
}

// upsertPyproject inserts or replaces a dependency inside the poetry
// dependencies table, keeping entries in lexical order. The python
// interpreter constraint stays first regardless of ordering.
func upsertPyproject(content string, op types.FixOperation) (string, error) {
	name := op.Details["name"]
	spec := op.Details["spec"]
	if name == "" {
		return "", &OpError{op.Type, op.File, "missing dependency name"}
	}
	lines := splitLines(content)

	start := -1
	for i, l := range lines {
		if strings.TrimSpace(l) == "[tool.poetry.dependencies]" || strings.TrimSpace(l) == "[project.dependencies]" {
			start = i + 1
			break
		}
	}
	if start == -1 {
		return "", &OpError{op.Type, op.File, "no dependencies table found"}
	}
	end := len(lines)
	for i := start; i < len(lines); i++ {
		if strings.HasPrefix(strings.TrimSpace(lines[i]), "[") {
			end = i
			break
		}
	}
	// keep trailing blank lines with the next section, not the table
	tableEnd := end
	for tableEnd > start && strings.TrimSpace(lines[tableEnd-1]) == "" {
		tableEnd--
	}

	type depLine struct {
		key  string
		text string
	}
	var head []string
	var deps []depLine
	for _, l := range lines[start:tableEnd] {
		trimmed := strings.TrimSpace(l)
		key := strings.TrimSpace(strings.SplitN(trimmed, "=", 2)[0])
		if trimmed == "" || strings.HasPrefix(trimmed, "#") || key == "python" {
			head = append(head, l)
			continue
		}
		if !strings.EqualFold(key, name) {
			deps = append(deps, depLine{key, l})
		}
	}
	deps = append(deps, depLine{name, fmt.Sprintf("%s = %q", name, spec)})
	sort.Slice(deps, func(i, j int) bool { return deps[i].key < deps[j].key })

	rebuilt := make([]string, 0, len(lines))
	rebuilt = append(rebuilt, lines[:start]...)
	rebuilt = append(rebuilt, head...)
	for _, d := range deps {
		rebuilt = append(rebuilt, d.text)
	}
	rebuilt = append(rebuilt, lines[tableEnd:]...)
	return joinLines(rebuilt), nil
}

// upsertRequirements replaces the whole line when the requirement name
// matches case-insensitively, otherwise appends a new one.
func upsertRequirements(content string, op types.FixOperation) (string, error) {
	name := op.Details["name"]
	spec := op.Details["spec"]
	if name == "" {
		return "", &OpError{op.Type, op.File, "missing dependency name"}
	}
	entry := name + specToRequirement(spec)

	lines := splitLines(content)
	for i, l := range lines {
		existing := requirementName(l)
		if existing != "" && strings.EqualFold(existing, name) {
			lines[i] = entry
			return joinLines(lines), nil
		}
	}
	lines = append(lines, entry)
	return joinLines(lines), nil
}

var requirementNameRe = regexp.MustCompile(`^\s*([A-Za-z0-9._-]+)`)

func requirementName(line string) string {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "-") {
		return ""
	}
	m := requirementNameRe.FindStringSubmatch(trimmed)
	if m == nil {
		return ""
	}
	return m[1]
}

// specToRequirement maps a caret-style spec to a pip version constraint.
func specToRequirement(spec string) string {
	if spec == "" {
		return ""
	}
	if strings.HasPrefix(spec, "^") {
		return ">=" + strings.TrimPrefix(spec, "^")
	}
	if strings.ContainsAny(spec, "<>=!~") {
		return spec
	}
	return "==" + spec
}

// upsertPackageJSON edits the dependencies object textually so that key
// ordering and formatting of the rest of the file survive untouched.
func upsertPackageJSON(content string, op types.FixOperation) (string, error) {
	name := op.Details["name"]
	spec := op.Details["spec"]
	if name == "" {
		return "", &OpError{op.Type, op.File, "missing dependency name"}
	}
	lines := splitLines(content)

	start := -1
	for i, l := range lines {
		if strings.Contains(l, `"dependencies"`) && strings.Contains(l, "{") {
			start = i
			break
		}
	}
	if start == -1 {
		return "", &OpError{op.Type, op.File, "no dependencies object found"}
	}
	end := -1
	for i := start + 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "}" || strings.TrimSpace(lines[i]) == "}," {
			end = i
			break
		}
	}
	if end == -1 {
		return "", &OpError{op.Type, op.File, "unterminated dependencies object"}
	}

	needle := `"` + name + `"`
	for i := start + 1; i < end; i++ {
		if strings.Contains(lines[i], needle) {
			indent := lines[i][:len(lines[i])-len(strings.TrimLeft(lines[i], " \t"))]
			comma := ""
			if strings.HasSuffix(strings.TrimSpace(lines[i]), ",") {
				comma = ","
			}
			lines[i] = fmt.Sprintf(`%s%q: %q%s`, indent, name, spec, comma)
			return joinLines(lines), nil
		}
	}

	indent := "    "
	if end > start+1 {
		prev := lines[end-1]
		indent = prev[:len(prev)-len(strings.TrimLeft(prev, " \t"))]
		if !strings.HasSuffix(strings.TrimSpace(prev), ",") {
			lines[end-1] = prev + ","
		}
	}
	entry := fmt.Sprintf(`%s%q: %q`, indent, name, spec)
	rebuilt := make([]string, 0, len(lines)+1)
	rebuilt = append(rebuilt, lines[:end]...)
	rebuilt = append(rebuilt, entry)
	rebuilt = append(rebuilt, lines[end:]...)
	return joinLines(rebuilt), nil
}

// upsertGoMod adds or replaces a module inside the require ( ... ) block.
func upsertGoMod(content string, op types.FixOperation) (string, error) {
	name := op.Details["name"]
	version := op.Details["spec"]
	if name == "" {
		return "", &OpError{op.Type, op.File, "missing module path"}
	}
	lines := splitLines(content)

	start, end := -1, -1
	for i, l := range lines {
		if strings.TrimSpace(l) == "require (" {
			start = i
			continue
		}
		if start != -1 && strings.TrimSpace(l) == ")" {
			end = i
			break
		}
	}
	if start == -1 || end == -1 {
		return "", &OpError{op.Type, op.File, "no require block found"}
	}

	entry := "\t" + name + " " + version
	for i := start + 1; i < end; i++ {
		fields := strings.Fields(lines[i])
		if len(fields) >= 1 && fields[0] == name {
			lines[i] = entry
			return joinLines(lines), nil
		}
	}
	rebuilt := make([]string, 0, len(lines)+1)
	rebuilt = append(rebuilt, lines[:end]...)
	rebuilt = append(rebuilt, entry)
	rebuilt = append(rebuilt, lines[end:]...)
	return joinLines(rebuilt), nil
}

// upsertPom updates the version element following the matching
// artifactId, or inserts a full dependency element before
// </dependencies>. A version already present on the coordinate is left
// alone.
func upsertPom(content string, op types.FixOperation) (string, error) {
	group := op.Details["groupId"]
	artifact := op.Details["artifactId"]
	version := op.Details["version"]
	if artifact == "" {
		return "", &OpError{op.Type, op.File, "missing artifactId"}
	}
	lines := splitLines(content)

	needle := "<artifactId>" + artifact + "</artifactId>"
	for i, l := range lines {
		if !strings.Contains(l, needle) {
			continue
		}
		// existing <version> on this coordinate wins
		for j := i + 1; j < len(lines) && j <= i+3; j++ {
			if strings.Contains(lines[j], "<version>") {
				return content, nil
			}
			if strings.Contains(lines[j], "</dependency>") || strings.Contains(lines[j], "</plugin>") {
				break
			}
		}
		indent := l[:len(l)-len(strings.TrimLeft(l, " \t"))]
		entry := indent + "<version>" + version + "</version>"
		rebuilt := make([]string, 0, len(lines)+1)
		rebuilt = append(rebuilt, lines[:i+1]...)
		rebuilt = append(rebuilt, entry)
		rebuilt = append(rebuilt, lines[i+1:]...)
		return joinLines(rebuilt), nil
	}

	closeIdx := -1
	for i, l := range lines {
		if strings.Contains(l, "</dependencies>") {
			closeIdx = i
			break
		}
	}
	if closeIdx == -1 {
		return "", &OpError{op.Type, op.File, "no dependencies element found"}
	}
	indent := "        "
	block := []string{
		indent + "<dependency>",
		indent + "    <groupId>" + group + "</groupId>",
		indent + "    <artifactId>" + artifact + "</artifactId>",
		indent + "    <version>" + version + "</version>",
		indent + "</dependency>",
	}
	rebuilt := make([]string, 0, len(lines)+len(block))
	rebuilt = append(rebuilt, lines[:closeIdx]...)
	rebuilt = append(rebuilt, block...)
	rebuilt = append(rebuilt, lines[closeIdx:]...)
	return joinLines(rebuilt), nil
}

var dockerFromRe = regexp.MustCompile(`^(\s*FROM\s+)(\S+?)(:\S+)?(\s+AS\s+\S+)?\s*$`)

// updateDockerfile pins the FROM instruction for the named image and
// appends apt cache cleanup to bare apt-get install RUN lines.
func updateDockerfile(content string, op types.FixOperation) (string, error) {
	image := op.Details["image"]
	tag := op.Details["tag"]
	lines := splitLines(content)

	pinned := false
	for i, l := range lines {
		m := dockerFromRe.FindStringSubmatch(l)
		if m == nil {
			continue
		}
		if image != "" && m[2] != image {
			continue
		}
		newTag := tag
		if newTag == "" {
			newTag = "latest"
		}
		lines[i] = m[1] + m[2] + ":" + newTag + m[4]
		pinned = true
	}
	if image != "" && !pinned {
		return "", &OpError{op.Type, op.File, "no FROM instruction for image " + image}
	}

	for i, l := range lines {
		if strings.Contains(l, "apt-get install") && !strings.Contains(l, "rm -rf /var/lib/apt/lists") {
			lines[i] = l + " && rm -rf /var/lib/apt/lists/*"
		}
	}
	return joinLines(lines), nil
}

// updatePackageLock bumps the top-level version fields for the named
// package. Full lockfile regeneration is the validator's job, this only
// keeps the declared root entry consistent with package.json.
func updatePackageLock(content string, op types.FixOperation) (string, error) {
	name := op.Details["name"]
	spec := op.Details["spec"]
	if name == "" {
		return "", &OpError{op.Type, op.File, "missing package name"}
	}
	lines := splitLines(content)
	needle := `"` + name + `"`
	changed := false
	for i, l := range lines {
		if strings.Contains(l, needle) && strings.Contains(l, ":") && !strings.Contains(l, "{") {
			indent := l[:len(l)-len(strings.TrimLeft(l, " \t"))]
			comma := ""
			if strings.HasSuffix(strings.TrimSpace(l), ",") {
				comma = ","
			}
			lines[i] = fmt.Sprintf(`%s%q: %q%s`, indent, name, spec, comma)
			changed = true
		}
	}
	if !changed {
		return "", &OpError{op.Type, op.File, "package not present in lockfile"}
	}
	return joinLines(lines), nil
}

// touchGoSum marks the checksum file for regeneration by the validator.
func touchGoSum(content string, op types.FixOperation) (string, error) {
	name := op.Details["name"]
	version := op.Details["spec"]
	if name == "" || version == "" {
		return content, nil
	}
	marker := "// " + name + " " + version + " pending go mod tidy"
	if strings.Contains(content, marker) {
		return content, nil
	}
	lines := splitLines(content)
	lines = append(lines, marker)
	return joinLines(lines), nil
}

var pyImportRe = regexp.MustCompile(`^(\s*)(from\s+(\S+)\s+import\s+(.+)|import\s+(.+))$`)

// removePythonImport deletes the named import. When the line imports
// several names the remaining ones are kept, otherwise the whole line
// goes.
func removePythonImport(content string, op types.FixOperation) (string, error) {
	name := op.Details["name"]
	if name == "" {
		return "", &OpError{op.Type, op.File, "missing import name"}
	}
	lines := splitLines(content)
	out := make([]string, 0, len(lines))
	removed := false
	for _, l := range lines {
		m := pyImportRe.FindStringSubmatch(l)
		if m == nil {
			out = append(out, l)
			continue
		}
		var names string
		if m[3] != "" {
			names = m[4]
		} else {
			names = m[5]
		}
		kept := make([]string, 0, 4)
		matchedHere := false
		for _, n := range strings.Split(names, ",") {
			n = strings.TrimSpace(n)
			base := strings.TrimSpace(strings.SplitN(n, " as ", 2)[0])
			if base == name || (m[3] != "" && m[3] == name) {
				matchedHere = true
				continue
			}
			kept = append(kept, n)
		}
		if !matchedHere {
			out = append(out, l)
			continue
		}
		removed = true
		if len(kept) == 0 || (m[3] != "" && m[3] == name) {
			continue
		}
		if m[3] != "" {
			out = append(out, m[1]+"from "+m[3]+" import "+strings.Join(kept, ", "))
		} else {
			out = append(out, m[1]+"import "+strings.Join(kept, ", "))
		}
	}
	if !removed {
		return "", &OpError{op.Type, op.File, "import " + name + " not found"}
	}
	return joinLines(out), nil
}

func joinLines(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}
