package sandbox

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

const (
	DefaultMaxMatches  = 200
	MaxMatchesPerFile  = 50
	MaxMatchContent    = 250
	MaxSearchOutput    = 1 << 20
	maxRipgrepLine     = 64 << 10
	maxSearchFileBytes = 10 << 20

	TruncationMessage = "\n[Results truncated due to size limits. Use more specific patterns or file filters to narrow your search.]"
)

// SearchTextArgs are the arguments of the searchText tool. Explanation is
// required and only recorded; it does not affect the search.
type SearchTextArgs struct {
	Query          string `json:"query"`
	CaseSensitive  bool   `json:"caseSensitive,omitempty"`
	IncludePattern string `json:"includePattern,omitempty"`
	ExcludePattern string `json:"excludePattern,omitempty"`
	MaxMatches     int    `json:"maxMatches,omitempty"`
	Explanation    string `json:"explanation"`
}

// SearchMatch is a single matching line.
type SearchMatch struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Content string `json:"content"`
}

// SearchTextResult is returned by SearchText. Output is the rendered
// "file:line:content" listing, ending in TruncationMessage when Truncated.
type SearchTextResult struct {
	Matches    []SearchMatch `json:"matches"`
	MatchCount int           `json:"matchCount"`
	FileCount  int           `json:"fileCount"`
	Truncated  bool          `json:"truncated"`
	Output     string        `json:"output"`
}

// SearchText runs a regular-expression search over the workspace. It uses
// ripgrep when available and falls back to an in-process scan with the
// same limits. No matches is a successful, empty result.
func (w *Workspace) SearchText(ctx context.Context, args SearchTextArgs) (*SearchTextResult, error) {
	if te := checkCtx(ctx); te != nil {
		return nil, te
	}
	if strings.TrimSpace(args.Query) == "" {
		return nil, toolErr(CodeMissingQuery, "missing required parameter: query")
	}
	if strings.TrimSpace(args.Explanation) == "" {
		return nil, toolErr(CodeMissingExplanation, "missing required parameter: explanation")
	}
	expr := args.Query
	if !args.CaseSensitive {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, wrapErr(CodeInvalidQuery, err, "invalid search pattern %q", args.Query)
	}
	for _, p := range []string{args.IncludePattern, args.ExcludePattern} {
		if p != "" && !doublestar.ValidatePattern(p) {
			return nil, toolErr(CodeInvalidArguments, "invalid file pattern %q", p)
		}
	}
	if args.MaxMatches <= 0 {
		args.MaxMatches = DefaultMaxMatches
	}

	ctx, cancel := context.WithTimeout(ctx, w.opts.SearchTimeout)
	defer cancel()

	c := newMatchCollector(args.MaxMatches)
	if w.rgPath != "" {
		err = w.searchRipgrep(ctx, args, c)
	} else {
		err = w.searchNative(ctx, re, args, c)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, wrapErr(CodeCancelled, err, "search cancelled")
		}
		var te *ToolError
		if errors.As(err, &te) {
			return nil, te
		}
		if !errors.Is(err, context.DeadlineExceeded) {
			return nil, wrapErr(CodeSearchError, err, "search for %q failed", args.Query)
		}
		// A timed-out search still reports what it found.
		c.truncated = true
	}
	return c.result(), nil
}

// matchCollector enforces the match, per-file and byte limits.
type matchCollector struct {
	max       int
	perFile   map[string]int
	matches   []SearchMatch
	out       bytes.Buffer
	truncated bool
}

func newMatchCollector(max int) *matchCollector {
	return &matchCollector{max: max, perFile: make(map[string]int)}
}

// add records a match and reports whether more matches are wanted.
func (c *matchCollector) add(file string, line int, content string) bool {
	if c.full() {
		c.truncated = true
		return false
	}
	if c.perFile[file] >= MaxMatchesPerFile {
		return true
	}
	content = strings.TrimRight(content, "\r\n")
	if r := []rune(content); len(r) > MaxMatchContent {
		content = string(r[:MaxMatchContent]) + "..."
	}
	rendered := fmt.Sprintf("%s:%d:%s\n", file, line, content)
	if c.out.Len()+len(rendered) > MaxSearchOutput {
		c.truncated = true
		return false
	}
	c.out.WriteString(rendered)
	c.perFile[file]++
	c.matches = append(c.matches, SearchMatch{File: file, Line: line, Content: content})
	return true
}

func (c *matchCollector) full() bool {
	return len(c.matches) >= c.max || c.truncated
}

func (c *matchCollector) result() *SearchTextResult {
	res := &SearchTextResult{
		Matches:    c.matches,
		MatchCount: len(c.matches),
		FileCount:  len(c.perFile),
		Truncated:  c.truncated,
		Output:     c.out.String(),
	}
	if res.Matches == nil {
		res.Matches = []SearchMatch{}
	}
	if res.Truncated {
		res.Output += TruncationMessage
	}
	return res
}

func (w *Workspace) searchRipgrep(ctx context.Context, args SearchTextArgs, c *matchCollector) error {
	rgArgs := []string{
		"--line-number", "--with-filename", "--no-heading", "--null",
		"--color", "never",
		"--max-count", strconv.Itoa(MaxMatchesPerFile),
	}
	if !args.CaseSensitive {
		rgArgs = append(rgArgs, "-i")
	}
	for _, name := range []string{"node_modules", ".git", ".next"} {
		rgArgs = append(rgArgs, "--glob", "!"+name)
	}
	if args.IncludePattern != "" {
		rgArgs = append(rgArgs, "--glob", args.IncludePattern)
	}
	if args.ExcludePattern != "" {
		rgArgs = append(rgArgs, "--glob", "!"+args.ExcludePattern)
	}
	rgArgs = append(rgArgs, "-e", args.Query, ".")

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	cmd := exec.CommandContext(runCtx, w.rgPath, rgArgs...)
	cmd.Dir = w.root
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}

	stoppedEarly := false
	reader := bufio.NewReaderSize(stdout, 64*1024)
	for {
		raw, readErr := readLinePrefix(reader, maxRipgrepLine)
		if readErr != nil {
			break
		}
		file, line, content, ok := parseRipgrepLine(raw)
		if !ok {
			continue
		}
		if !c.add(file, line, content) {
			stoppedEarly = true
			stop()
			break
		}
	}
	_, _ = io.Copy(io.Discard, stdout)
	waitErr := cmd.Wait()

	if stoppedEarly {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) && exitErr.ExitCode() == 1 {
		return nil
	}
	if waitErr != nil {
		msg := strings.TrimSpace(stderr.String())
		if strings.Contains(msg, "regex parse error") {
			return toolErr(CodeInvalidQuery, "invalid search pattern: %s", msg)
		}
		if msg == "" {
			msg = waitErr.Error()
		}
		return fmt.Errorf("ripgrep: %s", msg)
	}
	return nil
}

// readLinePrefix returns the next line with at most limit bytes kept. The
// remainder of a longer line, such as one from a minified bundle, is read
// and discarded.
func readLinePrefix(r *bufio.Reader, limit int) (string, error) {
	var buf []byte
	for {
		chunk, isPrefix, err := r.ReadLine()
		if err != nil {
			if len(buf) > 0 {
				return string(buf), nil
			}
			return "", err
		}
		if room := limit - len(buf); room > 0 {
			if len(chunk) > room {
				chunk = chunk[:room]
			}
			buf = append(buf, chunk...)
		}
		if !isPrefix {
			return string(buf), nil
		}
	}
}

// parseRipgrepLine splits "path\x00line:content" as produced by --null.
func parseRipgrepLine(s string) (string, int, string, bool) {
	file, rest, ok := strings.Cut(s, "\x00")
	if !ok {
		return "", 0, "", false
	}
	num, content, ok := strings.Cut(rest, ":")
	if !ok {
		return "", 0, "", false
	}
	line, err := strconv.Atoi(num)
	if err != nil {
		return "", 0, "", false
	}
	return filepath.ToSlash(strings.TrimPrefix(file, "./")), line, content, true
}

func (w *Workspace) searchNative(ctx context.Context, re *regexp.Regexp, args SearchTextArgs, c *matchCollector) error {
	return filepath.WalkDir(w.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == w.root {
				return err
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p == w.root {
			return nil
		}
		name := d.Name()
		if d.IsDir() {
			if ignoredNames[name] {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel := w.Rel(p)
		if !matchFileFilter(args.IncludePattern, rel, true) || matchFileFilter(args.ExcludePattern, rel, false) {
			return nil
		}
		if info, err := d.Info(); err != nil || info.Size() > maxSearchFileBytes {
			return nil
		}
		if !searchFile(p, rel, re, c) {
			return fs.SkipAll
		}
		return nil
	})
}

// searchFile scans one file and reports whether the search should go on.
func searchFile(abs, rel string, re *regexp.Regexp, c *matchCollector) bool {
	data, err := os.ReadFile(abs)
	if err != nil {
		return true
	}
	head := data
	if len(head) > 8000 {
		head = head[:8000]
	}
	if bytes.IndexByte(head, 0) >= 0 {
		return true
	}
	line := 0
	for len(data) > 0 {
		line++
		var text []byte
		if i := bytes.IndexByte(data, '\n'); i >= 0 {
			text, data = data[:i], data[i+1:]
		} else {
			text, data = data, nil
		}
		if re.Match(text) {
			if !c.add(rel, line, string(text)) {
				return false
			}
			if c.perFile[rel] >= MaxMatchesPerFile {
				return true
			}
		}
	}
	return true
}

// matchFileFilter matches a glob against the base name, or the whole
// relative path when the glob contains a slash. An empty glob returns
// emptyResult.
func matchFileFilter(pattern, rel string, emptyResult bool) bool {
	if pattern == "" {
		return emptyResult
	}
	target := rel
	if !strings.Contains(pattern, "/") {
		target = filepath.Base(rel)
	}
	ok, _ := doublestar.Match(pattern, target)
	return ok
}
