package diff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDiff = `--- a/requirements.txt
+++ b/requirements.txt
@@ -1,3 +1,4 @@
 flask==2.0.1
 pytest==7.0.0
+requests==2.28.0
 gunicorn==20.1.0
--- a/src/app.py
+++ b/src/app.py
@@ -10,7 +10,6 @@
 import os
-import unused_module
 import sys
`

func TestParseCountsFilesAndLines(t *testing.T) {
	parsed, err := Parse(sampleDiff)
	require.NoError(t, err)

	assert.Equal(t, 2, parsed.TotalFiles)
	assert.Equal(t, []string{"requirements.txt", "src/app.py"}, parsed.Paths())
	assert.Equal(t, 1, parsed.TotalLinesAdded)
	assert.Equal(t, 1, parsed.TotalLinesRemoved)
	assert.Equal(t, len(sampleDiff), parsed.Bytes)
}

func TestParseExcludesHeaderLinesFromCounts(t *testing.T) {
	parsed, err := Parse(sampleDiff)
	require.NoError(t, err)

	// The +++ and --- headers must not be counted as additions/removals.
	assert.Equal(t, 1, parsed.Files[0].LinesAdded)
	assert.Equal(t, 0, parsed.Files[0].LinesRemoved)
	assert.Equal(t, 0, parsed.Files[1].LinesAdded)
	assert.Equal(t, 1, parsed.Files[1].LinesRemoved)
}

func TestParseNewAndDeletedFiles(t *testing.T) {
	text := `--- /dev/null
+++ b/newfile.txt
@@ -0,0 +1,2 @@
+hello
+world
--- a/oldfile.txt
+++ /dev/null
@@ -1,1 +0,0 @@
-bye
`
	parsed, err := Parse(text)
	require.NoError(t, err)
	require.Len(t, parsed.Files, 2)

	assert.True(t, parsed.Files[0].IsNew)
	assert.Equal(t, "newfile.txt", parsed.Files[0].Path)
	assert.True(t, parsed.Files[1].IsDeleted)
	assert.Equal(t, "oldfile.txt", parsed.Files[1].Path)
}

func TestParsePathNormalization(t *testing.T) {
	text := "--- a/./sub\\dir\\file.go\n+++ b/./sub\\dir\\file.go\n@@ -1,1 +1,1 @@\n-a\n+b\n"
	parsed, err := Parse(text)
	require.NoError(t, err)
	assert.Equal(t, "sub/dir/file.go", parsed.Files[0].Path)
}

func TestParseHunkBodyLinesStartingWithHeaderMarkers(t *testing.T) {
	// A removed line whose content begins "-- " renders as "--- " in the
	// hunk; the declared line counts keep it from being read as a file
	// header. Same for additions rendering as "+++ ".
	text := "--- a/notes.md\n+++ b/notes.md\n@@ -1,3 +1,3 @@\n heading\n--- old separator\n+++ new separator\n footer\n"
	parsed, err := Parse(text)
	require.NoError(t, err)

	require.Len(t, parsed.Files, 1)
	assert.Equal(t, "notes.md", parsed.Files[0].Path)
	assert.Equal(t, 1, parsed.Files[0].Hunks)
	assert.Equal(t, 1, parsed.Files[0].LinesRemoved)
	assert.Equal(t, 1, parsed.Files[0].LinesAdded)
}

func TestParseMalformed(t *testing.T) {
	cases := map[string]string{
		"empty":            "",
		"no headers":       "just some text\nwith no diff markers\n",
		"hunk before file": "@@ -1,1 +1,1 @@\n-a\n+b\n",
		"plus without minus": "+++ b/file.txt\n@@ -1 +1 @@\n-a\n+b\n",
		"no hunks":         "--- a/file.txt\n+++ b/file.txt\n",
		"bad hunk header":  "--- a/file.txt\n+++ b/file.txt\n@@ bogus @@\n-a\n+b\n",
		"short hunk body":  "--- a/file.txt\n+++ b/file.txt\n@@ -1,2 +1,2 @@\n-a\nnot diff content\n",
	}
	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(text)
			require.Error(t, err)
			var malformed *MalformedDiffError
			assert.ErrorAs(t, err, &malformed)
		})
	}
}
