// Package classify routes an incoming question to the patient-specific
// or general-knowledge backend using ordered phrase tables.
package classify

import "strings"

// QueryType is the routing decision for one question.
type QueryType string

const (
	// PatientSpecific routes to the direct model call with the full
	// patient context.
	PatientSpecific QueryType = "direct"
	// General routes to the retrieval-augmented knowledge base call.
	General QueryType = "kb"
)

// patientPhrases are strong indicators the question is about the
// patient's own record. Checked first; a match wins immediately.
var patientPhrases = []string{
	"my ", "i was", "was i", "did i", "when did i", "have i",
	"am i", "do i have", "what did i", "where was i",
	"this", "that", "said", "those", "these",
	"at these", "during this", "for this", "for those",
	"prescribed to me", "diagnosed with", "admitted for",
	"most recent", "last time", "latest",
}

// generalPhrases indicate a general medical-knowledge question.
// Checked second, and overridden when a patient token is also present.
var generalPhrases = []string{
	"what does ", "what is ", "what are ", "how does ", "why does ",
	"explain ", "define ", "what causes ",
	"side effects of", "symptoms of", "treatment for",
	"difference between", "types of",
	"used for", "work", "mechanism",
}

// patientTokens are the short forms that pull an otherwise-general
// question back to the patient's record.
var patientTokens = []string{
	"my", "i ", "me", "this", "that", "these", "those",
}

// Classify decides the routing for a question. The phrase tables are
// heuristics, not a language model: patient-referential phrases always
// win, and ambiguous questions default to patient-specific so a
// personal clinical question is never answered from the public corpus.
func Classify(question string) QueryType {
	q := strings.ToLower(question)

	for _, phrase := range patientPhrases {
		if strings.Contains(q, phrase) {
			return PatientSpecific
		}
	}

	for _, phrase := range generalPhrases {
		if strings.Contains(q, phrase) {
			for _, token := range patientTokens {
				if strings.Contains(q, token) {
					return PatientSpecific
				}
			}
			return General
		}
	}

	// Default to patient-specific for ambiguous cases.
	return PatientSpecific
}
