// Package appointment extracts appointment-relevant sentences from the Plan
// section of a SOAP note so they can be surfaced to the patient as a warning.
package appointment

import (
	"regexp"
	"strings"
)

const maxDetails = 5

var (
	followUpPattern = regexp.MustCompile(`(?i)follow-?up|scheduled|at\s+\d{1,2}\s+(?:am|pm)|date|time|in\s+\d+\s+day|in\s+\d+\s+week|check\s+recovery|come\s+in\s+earlier`)

	generalPattern = regexp.MustCompile(`(?i)appointment|visit|consult`)

	// Medication-dosage lines often mention timing words; they are never
	// appointment details and must not leak into the warning box.
	medicationPattern = regexp.MustCompile(`(?i)prescribed|tablet|capsule|syrup|mg|ml|dosage|teaspoon`)
)

var emergencyPhrases = []string{
	"symptoms worsen",
	"develop high fever",
	"shortness of breath",
	"chest pain",
	"emergency department",
}

var indicatorKeywords = []string{
	"appointment",
	"follow-up",
	"scheduled",
	"emergency department",
}

// ExtractDetails returns the appointment-relevant sentences of planText in
// original order, first occurrence only, capped at five. A plan with no
// appointment-indicating keyword at all returns nil without a per-sentence
// scan.
func ExtractDetails(planText string) []string {
	lower := strings.ToLower(planText)

	indicated := false
	for _, kw := range indicatorKeywords {
		if strings.Contains(lower, kw) {
			indicated = true
			break
		}
	}
	if !indicated {
		return nil
	}

	var details []string
	seen := make(map[string]bool)
	for _, sentence := range splitSentences(planText) {
		trimmed := strings.TrimSpace(sentence)
		if trimmed == "" {
			continue
		}
		lowerTrimmed := strings.ToLower(trimmed)

		strong := followUpPattern.MatchString(lowerTrimmed)
		emergency := isEmergency(lowerTrimmed)
		general := generalPattern.MatchString(lowerTrimmed)
		medication := medicationPattern.MatchString(lowerTrimmed)

		keep := strong || emergency || (general && !medication)
		if keep && !seen[trimmed] {
			seen[trimmed] = true
			details = append(details, trimmed)
		}
	}

	if len(details) > maxDetails {
		details = details[:maxDetails]
	}
	return details
}

func isEmergency(sentence string) bool {
	for _, phrase := range emergencyPhrases {
		if strings.Contains(sentence, phrase) {
			return true
		}
	}
	return false
}

// splitSentences cuts text after sentence-terminal punctuation, keeping the
// terminator with its sentence.
func splitSentences(text string) []string {
	var sentences []string
	start := 0
	for i, r := range text {
		switch r {
		case '.', '!', '?', ';':
			sentences = append(sentences, text[start:i+1])
			start = i + 1
		}
	}
	if start < len(text) {
		sentences = append(sentences, text[start:])
	}
	return sentences
}
