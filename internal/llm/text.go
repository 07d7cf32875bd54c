package llm

import (
	"fmt"
	"strings"
)

var markupReplacer = strings.NewReplacer("**", "", "__", "", "##", "")

// PostProcess collapses whitespace and strips simple markdown emphasis and
// heading markers from model output.
func PostProcess(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	text = markupReplacer.Replace(text)
	return strings.TrimSpace(text)
}

// CountWords counts whitespace separated words.
func CountWords(text string) int {
	return len(strings.Fields(text))
}

// WordLimitResult reports whether text fits a section's word limits.
type WordLimitResult struct {
	Valid     bool   `json:"valid"`
	WordCount int    `json:"wordCount"`
	Message   string `json:"message"`
}

// CheckWordLimit validates text against limits. Zero disables a limit.
func CheckWordLimit(text string, minWords, maxWords int) WordLimitResult {
	n := CountWords(text)
	if minWords > 0 && n < minWords {
		return WordLimitResult{
			WordCount: n,
			Message:   fmt.Sprintf("Metin çok kısa. En az %d kelime olmalı (şu an: %d)", minWords, n),
		}
	}
	if maxWords > 0 && n > maxWords {
		return WordLimitResult{
			WordCount: n,
			Message:   fmt.Sprintf("Metin çok uzun. En fazla %d kelime olmalı (şu an: %d)", maxWords, n),
		}
	}
	return WordLimitResult{Valid: true, WordCount: n, Message: "OK"}
}
