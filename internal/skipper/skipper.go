// Package skipper compiles an ignore-rule strategy string into a Skipper
// that filters (subPath, isDir) candidates, grounded on the teacher's
// gitignore-dialect ignore list.
package skipper

import (
	"bufio"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

// defaultIgnoreLines are always compiled in, ahead of anything a strategy
// string adds, matching the teacher's baseline noise filter.
var defaultIgnoreLines = []string{
	"driftignore",
	"**/*.conflicted/",
	".git",
	"*.tmp",
	"*.log",
	"logs/",
	".DS_Store",
	"Thumbs.db",
	"index.lock",
	"__pycache__/",
	".ipynb_checkpoints/",
	".vscode",
	".idea",
}

// Skipper evaluates a compiled set of ignore rules against candidate paths.
type Skipper struct {
	ignore *gitignore.GitIgnore
}

// Compile builds a Skipper from a gitignore-dialect strategy string (one
// pattern per line). An empty strategy compiles to just the defaults.
func Compile(strategy string) *Skipper {
	lines := append([]string{}, defaultIgnoreLines...)
	for _, line := range strings.Split(strategy, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return &Skipper{ignore: gitignore.CompileIgnoreLines(lines...)}
}

// CompileFile loads a strategy from an ignore file under root (e.g.
// "driftignore"), falling back to just the defaults if the file is absent.
func CompileFile(root, fileName string) *Skipper {
	path := filepath.Join(root, fileName)
	f, err := os.Open(path)
	if err != nil {
		return Compile("")
	}
	defer f.Close()

	var sb strings.Builder
	scanner := bufio.NewScanner(f)
	rules := 0
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		sb.WriteString(line)
		sb.WriteByte('\n')
		rules++
	}
	if err := scanner.Err(); err != nil {
		slog.Warn("error reading ignore file", "path", path, "error", err)
	} else {
		slog.Debug("loaded ignore file", "path", path, "rules", rules)
	}
	return Compile(sb.String())
}

// Allows reports whether subPath survives the compiled ignore rules. It
// implements walker.Skipper.
func (s *Skipper) Allows(subPath string, isDir bool) bool {
	if subPath == "" {
		return true
	}
	candidate := subPath
	if isDir && !strings.HasSuffix(candidate, "/") {
		candidate += "/"
	}
	return !s.ignore.MatchesPath(candidate)
}

// Process filters a batch of (subPath, isDir) candidates relative to the
// root this Skipper was compiled for, matching the Skipper.process(root, pairs) -> filtered pairs collaborator
// contract used by SkipActor.
func (s *Skipper) Process(pairs []Candidate) []Candidate {
	var kept []Candidate
	for _, p := range pairs {
		if s.Allows(p.SubPath, p.IsDir) {
			kept = append(kept, p)
		}
	}
	return kept
}

// Candidate is one (subPath, isDir) pair awaiting an ignore-rule verdict.
type Candidate struct {
	SubPath string
	IsDir   bool
}
