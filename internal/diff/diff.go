// Package diff computes phrase-level text differences between a draft and an
// AI suggestion and shapes them into per-line records for display.
package diff

import (
	"strings"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Kind tags a segment or a rendered line.
type Kind string

const (
	Equal    Kind = "equal"
	Deleted  Kind = "deleted"
	Inserted Kind = "inserted"
)

// Segment is a run of text that is common to both inputs, only in the
// original, or only in the modified text.
type Segment struct {
	Kind Kind   `json:"kind"`
	Text string `json:"text"`
}

// Compute returns the ordered segments turning original into modified.
// Equal+Deleted segments rebuild original and Equal+Inserted rebuild modified.
func Compute(original, modified string) []Segment {
	if original == modified {
		if original == "" {
			return []Segment{}
		}
		return []Segment{{Kind: Equal, Text: original}}
	}
	// diffmatchpatch works on runes and would rewrite invalid bytes.
	if !utf8.ValidString(original) || !utf8.ValidString(modified) {
		return computeBytes(original, modified)
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(original, modified, false)
	diffs = dmp.DiffCleanupSemantic(diffs)

	segments := make([]Segment, 0, len(diffs))
	for _, d := range diffs {
		if d.Text == "" {
			continue
		}
		kind := Equal
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			kind = Deleted
		case diffmatchpatch.DiffInsert:
			kind = Inserted
		}
		segments = appendSegment(segments, kind, d.Text)
	}
	return segments
}

// computeBytes is a coarse fallback: common prefix and suffix, one delete and
// one insert in between.
func computeBytes(original, modified string) []Segment {
	prefix := 0
	for prefix < len(original) && prefix < len(modified) && original[prefix] == modified[prefix] {
		prefix++
	}
	suffix := 0
	for suffix < len(original)-prefix && suffix < len(modified)-prefix &&
		original[len(original)-1-suffix] == modified[len(modified)-1-suffix] {
		suffix++
	}

	segments := make([]Segment, 0, 4)
	segments = appendSegment(segments, Equal, original[:prefix])
	segments = appendSegment(segments, Deleted, original[prefix:len(original)-suffix])
	segments = appendSegment(segments, Inserted, modified[prefix:len(modified)-suffix])
	segments = appendSegment(segments, Equal, original[len(original)-suffix:])
	return segments
}

func appendSegment(segments []Segment, kind Kind, text string) []Segment {
	if text == "" {
		return segments
	}
	if n := len(segments); n > 0 && segments[n-1].Kind == kind {
		segments[n-1].Text += text
		return segments
	}
	return append(segments, Segment{Kind: kind, Text: text})
}

// Original rebuilds the first input from segments.
func Original(segments []Segment) string {
	return join(segments, Deleted)
}

// Modified rebuilds the second input from segments.
func Modified(segments []Segment) string {
	return join(segments, Inserted)
}

func join(segments []Segment, keep Kind) string {
	var b strings.Builder
	for _, s := range segments {
		if s.Kind == Equal || s.Kind == keep {
			b.WriteString(s.Text)
		}
	}
	return b.String()
}

// Line is one rendered row of a diff view.
type Line struct {
	Kind   Kind   `json:"kind"`
	Marker string `json:"marker"`
	Text   string `json:"text"`
}

// RenderLines splits every segment on newlines. The empty piece that follows
// a segment's final newline is dropped so it never shows as a blank row.
func RenderLines(segments []Segment) []Line {
	lines := make([]Line, 0, len(segments))
	for _, s := range segments {
		parts := strings.Split(s.Text, "\n")
		for i, part := range parts {
			if part == "" && i == len(parts)-1 {
				continue
			}
			lines = append(lines, Line{Kind: s.Kind, Marker: marker(s.Kind), Text: part})
		}
	}
	return lines
}

func marker(kind Kind) string {
	switch kind {
	case Deleted:
		return "-"
	case Inserted:
		return "+"
	default:
		return " "
	}
}

// Summary counts changed characters on each side.
type Summary struct {
	Inserted int `json:"inserted"`
	Deleted  int `json:"deleted"`
}

func Summarize(segments []Segment) Summary {
	var sum Summary
	for _, s := range segments {
		switch s.Kind {
		case Inserted:
			sum.Inserted += utf8.RuneCountInString(s.Text)
		case Deleted:
			sum.Deleted += utf8.RuneCountInString(s.Text)
		}
	}
	return sum
}
