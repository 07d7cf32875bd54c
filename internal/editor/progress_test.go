package editor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"akademik/api/internal/store"
)

func sectionsWithFinals(completed, total int) []store.Section {
	out := make([]store.Section, total)
	for i := 0; i < completed; i++ {
		out[i].FinalContent = strPtr("kabul edildi")
	}
	return out
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name      string
		completed int
		total     int
		want      Progress
	}{
		{"empty list", 0, 0, Progress{0, 0, 0}},
		{"one of four", 1, 4, Progress{1, 4, 25}},
		{"all done", 7, 7, Progress{7, 7, 100}},
		{"none done", 0, 3, Progress{0, 3, 0}},
		{"one third rounds down", 1, 3, Progress{1, 3, 33}},
		{"two thirds rounds up", 2, 3, Progress{2, 3, 67}},
		{"half rounds away from zero", 1, 8, Progress{1, 8, 13}},
		{"another half", 3, 8, Progress{3, 8, 38}},
		{"one of two hundred", 1, 200, Progress{1, 200, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Aggregate(sectionsWithFinals(tt.completed, tt.total)))
		})
	}
}

func TestAggregate_BlankFinalNotCompleted(t *testing.T) {
	sections := []store.Section{
		{FinalContent: strPtr(" \n ")},
		{FinalContent: strPtr("tamam")},
	}
	assert.Equal(t, Progress{Completed: 1, Total: 2, Percentage: 50}, Aggregate(sections))
}

func TestAggregate_PercentageBounds(t *testing.T) {
	for total := 0; total <= 40; total++ {
		for completed := 0; completed <= total; completed++ {
			p := Aggregate(sectionsWithFinals(completed, total))
			assert.GreaterOrEqual(t, p.Percentage, 0)
			assert.LessOrEqual(t, p.Percentage, 100)
		}
	}
}
