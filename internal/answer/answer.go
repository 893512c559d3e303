// Package answer splits a model reply into its ANSWER and SUMMARY sections.
package answer

import (
	"strings"
)

const (
	answerLabel  = "ANSWER:"
	summaryLabel = "SUMMARY:"
)

// Parse splits raw once on the first literal "SUMMARY:". A leading "ANSWER:"
// is stripped case-insensitively. summary is nil when the section is missing
// or blank. Parse never fails; a reply that ignores the format comes back
// whole as the answer.
func Parse(raw string) (answer string, summary *string) {
	head, tail, found := strings.Cut(raw, summaryLabel)

	answer = strings.TrimSpace(head)
	if len(answer) >= len(answerLabel) && strings.EqualFold(answer[:len(answerLabel)], answerLabel) {
		answer = strings.TrimSpace(answer[len(answerLabel):])
	}

	if !found {
		return answer, nil
	}
	if s := strings.TrimSpace(tail); s != "" {
		summary = &s
	}
	return answer, summary
}
