// Package discovery walks a project tree and resolves which files are
// in-scope for indexing, per spec.md's file-enumeration step inside the
// smart indexer's Full/Incremental/Reconcile strategies. Adapted from the
// teacher's internal/indexer/discovery.go, generalized from a fixed
// code/docs split to a single include/exclude glob set plus a
// language-by-extension resolver, since the core indexer treats all
// in-scope files uniformly (language is metadata on a chunk, not a
// discovery-time fork).
package discovery

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

// Discovery walks a project root applying include/exclude glob patterns.
type Discovery struct {
	rootDir         string
	includePatterns []glob.Glob
	excludePatterns []glob.Glob
}

// New compiles include/exclude glob patterns rooted at rootDir.
func New(rootDir string, includePatterns, excludePatterns []string) (*Discovery, error) {
	d := &Discovery{rootDir: rootDir}
	for _, p := range includePatterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, err
		}
		d.includePatterns = append(d.includePatterns, g)
		if rest, ok := strings.CutPrefix(p, "**/"); ok {
			d.includePatterns = append(d.includePatterns, glob.MustCompile(rest, '/'))
		}
	}
	for _, p := range excludePatterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, err
		}
		d.excludePatterns = append(d.excludePatterns, g)
		if rest, ok := strings.CutPrefix(p, "**/"); ok {
			d.excludePatterns = append(d.excludePatterns, glob.MustCompile(rest, '/'))
		}
	}
	return d, nil
}

// File is one discovered file, relative path plus its on-disk mtime.
type File struct {
	Path     string // relative to the project root
	AbsPath  string
	ModTime  int64 // unix seconds
	Language string
}

// Discover walks the project root and returns every in-scope file.
func (d *Discovery) Discover() ([]File, error) {
	var out []File
	err := filepath.Walk(d.rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		relPath, relErr := filepath.Rel(d.rootDir, path)
		if relErr != nil {
			return relErr
		}
		relPath = filepath.ToSlash(relPath)

		if info.IsDir() {
			if d.shouldIgnore(relPath + "/**") {
				return filepath.SkipDir
			}
			return nil
		}
		if d.shouldIgnore(relPath) {
			return nil
		}
		if len(d.includePatterns) > 0 && !d.matchesAny(d.includePatterns, relPath) {
			return nil
		}

		out = append(out, File{
			Path:     relPath,
			AbsPath:  path,
			ModTime:  info.ModTime().Unix(),
			Language: LanguageForExt(filepath.Ext(relPath)),
		})
		return nil
	})
	return out, err
}

func (d *Discovery) shouldIgnore(relPath string) bool {
	if strings.HasPrefix(relPath, ".code-indexer/") || relPath == ".code-indexer" {
		return true
	}
	if strings.HasPrefix(relPath, ".git/") || relPath == ".git" {
		return true
	}
	return d.matchesAny(d.excludePatterns, relPath)
}

func (d *Discovery) matchesAny(patterns []glob.Glob, path string) bool {
	for _, p := range patterns {
		if p.Match(path) {
			return true
		}
	}
	return false
}

// languageByExt maps common source extensions to a normalized language tag,
// used to populate Chunk.Language for the query pipeline's language filter.
var languageByExt = map[string]string{
	".go":   "go",
	".py":   "python",
	".js":   "javascript",
	".jsx":  "javascript",
	".ts":   "typescript",
	".tsx":  "typescript",
	".java": "java",
	".rb":   "ruby",
	".rs":   "rust",
	".c":    "c",
	".h":    "c",
	".cpp":  "cpp",
	".hpp":  "cpp",
	".cc":   "cpp",
	".cs":   "csharp",
	".php":  "php",
	".md":   "markdown",
	".yaml": "yaml",
	".yml":  "yaml",
	".json": "json",
	".sh":   "shell",
}

// LanguageForExt normalizes a file extension (including the leading dot)
// into a language tag, falling back to "text" for unrecognized extensions.
func LanguageForExt(ext string) string {
	if lang, ok := languageByExt[strings.ToLower(ext)]; ok {
		return lang
	}
	return "text"
}
