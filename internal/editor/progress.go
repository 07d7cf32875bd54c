package editor

import (
	"strings"

	"akademik/api/internal/store"
)

// Progress reports how many sections carry accepted content.
type Progress struct {
	Completed  int `json:"completed"`
	Total      int `json:"total"`
	Percentage int `json:"percentage"`
}

// Aggregate computes completion over sections. An empty list yields zeros.
func Aggregate(sections []store.Section) Progress {
	completed := 0
	for _, section := range sections {
		if isFinal(section.FinalContent) {
			completed++
		}
	}
	return newProgress(completed, len(sections))
}

func newProgress(completed, total int) Progress {
	return Progress{
		Completed:  completed,
		Total:      total,
		Percentage: percentage(completed, total),
	}
}

// percentage rounds 100*completed/total half away from zero. Both operands
// are non-negative, so integer arithmetic is exact.
func percentage(completed, total int) int {
	if total <= 0 {
		return 0
	}
	return (200*completed + total) / (2 * total)
}

func isFinal(final *string) bool {
	return final != nil && strings.TrimSpace(*final) != ""
}
