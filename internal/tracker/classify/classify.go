// Package classify maps file paths to monitoring categories. The
// decision is cheap and deterministic: pattern tables plus a bounded
// per-path cache.
package classify

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

type Category string

const (
	// Main files open edit sessions.
	Main Category = "MAIN"
	// Temporary files never open sessions but stay visible to the
	// rename-chain logic (save flows route through them).
	Temporary Category = "TEMPORARY"
	// Ignore files are dropped at the door.
	Ignore Category = "IGNORE"
)

// mainExtensions is the closed-world allow-list: office documents,
// PDF and text, CAD formats, geo project files, archives and images.
var mainExtensions = map[string]bool{
	".doc": true, ".docx": true, ".xls": true, ".xlsx": true,
	".ppt": true, ".pptx": true, ".rtf": true,
	".pdf": true, ".txt": true, ".md": true,
	".odt": true, ".ods": true, ".odp": true,
	".dwg": true, ".dxf": true, ".dgn": true, ".rvt": true,
	".rfa": true, ".rte": true, ".sat": true, ".ipt": true,
	".iam": true, ".prt": true, ".asm": true, ".sldprt": true, ".sldasm": true,
	".3dm": true, ".skp": true, ".max": true, ".blend": true,
	".mb": true, ".ma": true,
	".crproj": true, ".credoproj": true, ".gpx": true, ".kml": true, ".kmz": true,
	".zip": true, ".rar": true, ".7z": true, ".iso": true,
	".jpg": true, ".jpeg": true, ".png": true, ".bmp": true,
	".tiff": true, ".tif": true,
}

// temporaryPatterns are static suffix/prefix markers of temp files:
// generic temp suffixes, Office working-file prefixes, CAD backup and
// lock suffixes.
var temporaryPatterns = []string{
	".tmp", ".temp", ".crdownload", ".part",
	"~$", "~wr", "~wrd", "~wrl", "~rf",
	".bak", ".dwl", ".dwl2", ".sv$", ".autosave",
	".lock", ".lck",
}

var ignorePatterns = []string{
	".log", ".cache", ".ds_store", ".thumb", ".thumbs",
	"desktop.ini", ".tmp.metadata",
}

// temporaryRegexps catch the generative temp-file shapes Office and
// CAD tools produce: hex names with or without an extension, short
// all-caps names, Word/Excel working files, double .tmp extensions.
var temporaryRegexps = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^[0-9A-F]{4,16}$`),
	regexp.MustCompile(`(?i)^[0-9A-F]{4,16}\.tmp$`),
	regexp.MustCompile(`(?i)^[0-9A-F]{4,16}\.temp$`),
	regexp.MustCompile(`^[A-Z0-9]{4,8}$`),
	regexp.MustCompile(`^[A-Z0-9]{4,8}\.tmp$`),
	regexp.MustCompile(`(?i)^~wrl\d+\.tmp$`),
	regexp.MustCompile(`(?i)^~wrd\d+\.tmp$`),
	regexp.MustCompile(`(?i)^~rf.*\.tmp$`),
	regexp.MustCompile(`(?i)^.*\.tmp\..+$`),
	regexp.MustCompile(`^~\$`),
}

// Classifier categorizes paths, with operator-supplied extra ignore
// rules layered on top of the built-in tables.
type Classifier struct {
	extraIgnorePatterns []string
	ignoreDirs          []string
	cacheLimit          int

	mu    sync.Mutex
	cache map[string]Category
}

func New(extraIgnorePatterns, ignoreDirs []string, cacheLimit int) *Classifier {
	dirs := make([]string, 0, len(ignoreDirs))
	for _, d := range ignoreDirs {
		dirs = append(dirs, strings.ToLower(filepath.Clean(d)))
	}
	return &Classifier{
		extraIgnorePatterns: extraIgnorePatterns,
		ignoreDirs:          dirs,
		cacheLimit:          cacheLimit,
		cache:               make(map[string]Category),
	}
}

// Categorize maps a path to its category. Results are cached per path;
// the cache is cleared wholesale when it outgrows the limit.
func (c *Classifier) Categorize(path string) Category {
	c.mu.Lock()
	if len(c.cache) > c.cacheLimit {
		c.cache = make(map[string]Category)
		log.Debug().Msg("category cache cleared")
	}
	if cat, ok := c.cache[path]; ok {
		c.mu.Unlock()
		return cat
	}
	c.mu.Unlock()

	cat := c.categorize(path)

	c.mu.Lock()
	c.cache[path] = cat
	c.mu.Unlock()
	return cat
}

func (c *Classifier) categorize(path string) Category {
	filename := filepath.Base(path)

	if c.isIgnored(filename) {
		return Ignore
	}
	if isTemporary(filename) {
		return Temporary
	}
	if mainExtensions[strings.ToLower(filepath.Ext(filename))] {
		if c.inIgnoredDir(path) {
			return Ignore
		}
		return Main
	}
	// Closed world: unknown file types are not monitored.
	return Ignore
}

// InIgnoredDir reports whether any path element is on the ignore-dirs
// list.
func (c *Classifier) InIgnoredDir(path string) bool {
	return c.inIgnoredDir(path)
}

func (c *Classifier) inIgnoredDir(path string) bool {
	if len(c.ignoreDirs) == 0 {
		return false
	}
	parts := strings.Split(strings.ToLower(filepath.Clean(path)), string(filepath.Separator))
	for _, dir := range c.ignoreDirs {
		for _, part := range parts {
			if part == dir {
				return true
			}
		}
	}
	return false
}

func (c *Classifier) isIgnored(filename string) bool {
	lower := strings.ToLower(filename)
	for _, pattern := range ignorePatterns {
		if matchesPattern(lower, pattern) {
			return true
		}
	}
	for _, pattern := range c.extraIgnorePatterns {
		if matchesPattern(lower, strings.ToLower(pattern)) {
			return true
		}
	}
	return false
}

func isTemporary(filename string) bool {
	lower := strings.ToLower(filename)
	for _, pattern := range temporaryPatterns {
		if matchesPattern(lower, pattern) {
			return true
		}
	}
	for _, re := range temporaryRegexps {
		if re.MatchString(filename) {
			return true
		}
	}

	// No extension and a short all-caps or hex name: the dominant
	// Office/Windows transient naming convention. A heuristic, so user
	// files matching it are misclassified knowingly.
	if !strings.Contains(filename, ".") && len(filename) >= 4 && len(filename) <= 8 && isAlnum(filename) {
		upper := strings.ToUpper(filename)
		if filename == upper || isHex(upper) {
			return true
		}
	}
	return false
}

// matchesPattern handles the pattern grammar: "*.tmp" suffix, "~*"
// prefix, glob with interior wildcards, ".bak"-style suffix markers,
// "~$"-style prefix markers and exact names.
func matchesPattern(filename, pattern string) bool {
	switch {
	case strings.HasPrefix(pattern, "*"):
		return strings.HasSuffix(filename, pattern[1:])
	case strings.HasSuffix(pattern, "*"):
		return strings.HasPrefix(filename, pattern[:len(pattern)-1])
	case strings.Contains(pattern, "*"):
		ok, err := filepath.Match(pattern, filename)
		return err == nil && ok
	case strings.HasPrefix(pattern, "."):
		return strings.HasSuffix(filename, pattern)
	case strings.HasPrefix(pattern, "~"):
		return strings.HasPrefix(filename, pattern)
	default:
		return filename == pattern
	}
}

func isAlnum(s string) bool {
	for _, r := range s {
		if !('0' <= r && r <= '9' || 'a' <= r && r <= 'z' || 'A' <= r && r <= 'Z') {
			return false
		}
	}
	return len(s) > 0
}

func isHex(s string) bool {
	for _, r := range s {
		if !('0' <= r && r <= '9' || 'A' <= r && r <= 'F') {
			return false
		}
	}
	return len(s) > 0
}

// MinMainFileSize filters out placeholder files that some applications
// create before first save.
const MinMainFileSize = 10

// Monitorable reports whether an on-disk file should be tracked:
// MAIN category, not inside an ignored directory, and at least
// MinMainFileSize bytes.
func (c *Classifier) Monitorable(path string) bool {
	if c.Categorize(path) != Main {
		return false
	}
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Size() >= MinMainFileSize
}
