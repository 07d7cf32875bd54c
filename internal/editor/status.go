// Package editor holds the per-field content lifecycle of a grant form:
// status classification, progress, and the AI-assisted editing session.
package editor

import (
	"strings"

	"akademik/api/internal/store"
)

// Status is the display state of a field.
type Status string

const (
	StatusEmpty       Status = "empty"
	StatusDraft       Status = "draft"
	StatusAISuggested Status = "ai-suggested"
	StatusCompleted   Status = "completed"
)

// ClassifyContent derives a status from raw content. Precedence is
// completed, then ai-suggested, then draft, then empty.
func ClassifyContent(draft string, final *string, suggestion string) Status {
	switch {
	case final != nil && strings.TrimSpace(*final) != "":
		return StatusCompleted
	case strings.TrimSpace(suggestion) != "":
		return StatusAISuggested
	case strings.TrimSpace(draft) != "":
		return StatusDraft
	default:
		return StatusEmpty
	}
}

// Classify returns the status of a persisted section given its transient
// suggestion, which may be empty.
func Classify(section store.Section, suggestion string) Status {
	return ClassifyContent(section.DraftContent, section.FinalContent, suggestion)
}

// Badge is the label and icon shown for a status.
type Badge struct {
	Label   string `json:"label"`
	Variant string `json:"variant"`
	Icon    string `json:"icon"`
}

var badges = map[Status]Badge{
	StatusCompleted:   {Label: "Tamamlandı", Variant: "completed", Icon: "✓"},
	StatusAISuggested: {Label: "AI Önerisi", Variant: "ai-suggested", Icon: "✨"},
	StatusDraft:       {Label: "Taslak", Variant: "draft", Icon: "📝"},
	StatusEmpty:       {Label: "Boş", Variant: "empty", Icon: "○"},
}

// BadgeFor looks up the badge of a status. Unknown values render as empty.
func BadgeFor(status Status) Badge {
	if b, ok := badges[status]; ok {
		return b
	}
	return badges[StatusEmpty]
}

// StatusCounts tallies sections per status.
type StatusCounts struct {
	Total       int `json:"total"`
	Completed   int `json:"completed"`
	AISuggested int `json:"aiSuggested"`
	Draft       int `json:"draft"`
	Empty       int `json:"empty"`
}

func (c *StatusCounts) add(status Status) {
	c.Total++
	switch status {
	case StatusCompleted:
		c.Completed++
	case StatusAISuggested:
		c.AISuggested++
	case StatusDraft:
		c.Draft++
	default:
		c.Empty++
	}
}

// CountStatuses classifies every section. suggestions is keyed by section id
// and may be nil.
func CountStatuses(sections []store.Section, suggestions map[string]string) StatusCounts {
	var counts StatusCounts
	for _, section := range sections {
		counts.add(Classify(section, suggestions[section.ID]))
	}
	return counts
}
