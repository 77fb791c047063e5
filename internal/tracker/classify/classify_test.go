package classify

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategorize(t *testing.T) {
	c := New(nil, nil, 1000)

	cases := []struct {
		name string
		path string
		want Category
	}{
		{"word document", "/share/report.docx", Main},
		{"spreadsheet", "/share/budget.xlsx", Main},
		{"pdf", "/share/manual.pdf", Main},
		{"plain text", "/share/notes.txt", Main},
		{"cad drawing", "/projects/site.dwg", Main},
		{"geo project", "/projects/survey.crproj", Main},
		{"archive", "/share/backup.zip", Main},
		{"uppercase extension", "/share/PHOTO.JPG", Main},

		{"office owner file", "/share/~$report.docx", Temporary},
		{"tmp suffix", "/share/save.tmp", Temporary},
		{"hex tmp name", "/share/ABCD1234.tmp", Temporary},
		{"word working file", "/share/~WRL0005.tmp", Temporary},
		{"cad backup", "/projects/site.bak", Temporary},
		{"cad lock", "/projects/site.dwl", Temporary},
		{"double tmp extension", "/share/report.tmp.1", Temporary},
		{"short all caps no extension", "/share/1A2B3C", Temporary},
		{"short hex lowercase no extension", "/share/deadbeef", Temporary},

		{"log file", "/share/app.log", Ignore},
		{"desktop ini", "/share/desktop.ini", Ignore},
		{"ds store", "/share/.DS_Store", Ignore},
		{"unknown extension", "/share/program.exe", Ignore},
		{"no extension ordinary word", "/share/readme", Ignore},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, c.Categorize(tc.path))
		})
	}
}

func TestCategorizeIgnoredDirs(t *testing.T) {
	c := New(nil, []string{"recycle", "$RECYCLE.BIN"}, 1000)

	assert.Equal(t, Ignore, c.Categorize("/share/recycle/report.docx"))
	assert.Equal(t, Ignore, c.Categorize("/share/$recycle.bin/report.docx"))
	assert.Equal(t, Main, c.Categorize("/share/docs/report.docx"))

	assert.True(t, c.InIgnoredDir("/share/Recycle/x.docx"))
	assert.False(t, c.InIgnoredDir("/share/docs/x.docx"))
}

func TestCategorizeExtraPatterns(t *testing.T) {
	c := New([]string{"*.quarantine", "draft-*"}, nil, 1000)

	assert.Equal(t, Ignore, c.Categorize("/share/report.docx.quarantine"))
	assert.Equal(t, Ignore, c.Categorize("/share/draft-report.docx"))
	assert.Equal(t, Main, c.Categorize("/share/report.docx"))
}

func TestCategorizeCacheReset(t *testing.T) {
	c := New(nil, nil, 2)

	// Overflow the cache; categories must survive the wholesale clear.
	assert.Equal(t, Main, c.Categorize("/a/one.docx"))
	assert.Equal(t, Main, c.Categorize("/a/two.docx"))
	assert.Equal(t, Main, c.Categorize("/a/three.docx"))
	assert.Equal(t, Main, c.Categorize("/a/one.docx"))
}

func TestMatchesPattern(t *testing.T) {
	cases := []struct {
		filename string
		pattern  string
		want     bool
	}{
		{"report.tmp", "*.tmp", true},
		{"report.docx", "*.tmp", false},
		{"~$report.docx", "~$", true},
		{"report.docx", "~$", false},
		{"site.bak", ".bak", true},
		{"desktop.ini", "desktop.ini", true},
		{"a-draft-b.docx", "a-*-b.docx", true},
		{"draft-x", "draft-*", true},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, matchesPattern(tc.filename, tc.pattern),
			"%q vs %q", tc.filename, tc.pattern)
	}
}

func TestMonitorable(t *testing.T) {
	c := New(nil, nil, 1000)
	dir := t.TempDir()

	small := filepath.Join(dir, "small.docx")
	require.NoError(t, os.WriteFile(small, []byte("x"), 0o644))
	assert.False(t, c.Monitorable(small), "below the minimum size")

	full := filepath.Join(dir, "full.docx")
	require.NoError(t, os.WriteFile(full, []byte("enough content here"), 0o644))
	assert.True(t, c.Monitorable(full))

	missing := filepath.Join(dir, "missing.docx")
	assert.False(t, c.Monitorable(missing))

	temp := filepath.Join(dir, "work.tmp")
	require.NoError(t, os.WriteFile(temp, []byte("enough content here"), 0o644))
	assert.False(t, c.Monitorable(temp))
}
