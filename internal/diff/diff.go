// Package diff computes line-level change statistics between two versions
// of a file.
package diff

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// LineDiff is the number of lines inserted and deleted between two texts.
type LineDiff struct {
	LinesAdded   uint `json:"linesAdded"`
	LinesRemoved uint `json:"linesRemoved"`
}

// ComputeLineDiff returns the added and removed line counts needed to turn
// oldText into newText. Lines matched by the longest-common-subsequence pass
// are never counted, and a replaced block counts on both sides.
func ComputeLineDiff(oldText, newText string) LineDiff {
	if oldText == newText {
		return LineDiff{}
	}

	a := SplitLines(oldText)
	b := SplitLines(newText)

	// Autojunk would treat frequent lines (blank lines, closing braces) as
	// noise on files over 200 lines and inflate the counts.
	m := difflib.NewMatcherWithJunk(a, b, false, nil)

	var d LineDiff
	for _, op := range m.GetOpCodes() {
		switch op.Tag {
		case 'i':
			d.LinesAdded += uint(op.J2 - op.J1)
		case 'd':
			d.LinesRemoved += uint(op.I2 - op.I1)
		case 'r':
			d.LinesAdded += uint(op.J2 - op.J1)
			d.LinesRemoved += uint(op.I2 - op.I1)
		}
	}
	return d
}

// CountLines returns the number of lines in text. A trailing newline does
// not start a new line, so "x\ny\n" has two lines and "" has none.
func CountLines(text string) uint {
	return uint(len(SplitLines(text)))
}

// SplitLines splits text into lines, keeping each line's terminator.
func SplitLines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.SplitAfter(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
