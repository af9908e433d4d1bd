package record

import (
	"regexp"
	"strings"
	"time"

	"github.com/ash-1hat/Pre-Screening-Tool/internal/dialogue"
)

// Record is the persisted outcome of one pre-screening interview.
type Record struct {
	SessionID             string        `json:"session_id"`
	PatientName           string        `json:"patient_name"`
	Timestamp             time.Time     `json:"timestamp"`
	TypeOfVisit           string        `json:"type_of_visit"`
	ChiefComplaint        string        `json:"chief_complaint"`
	SymptomsMentioned     []string      `json:"symptoms_mentioned"`
	InvestigativeHistory  string        `json:"investigative_history"`
	PossibleDiagnosis     string        `json:"possible_diagnosis"`
	RecommendedDepartment string        `json:"suggested_department"`
	RecommendedDoctor     string        `json:"suggested_doctor"`
	ConfidenceLevel       int           `json:"confidence_level"`
	AIModelUsed           string        `json:"ai_model_used"`
	Conversation          []dialogue.QA `json:"conversation"`
}

// Build assembles the record for a finished interview.
func Build(sessionID string, patient dialogue.Patient, history []dialogue.QA, a dialogue.Assessment, visitType, model string) Record {
	return Record{
		SessionID:             sessionID,
		PatientName:           patient.Name,
		Timestamp:             time.Now(),
		TypeOfVisit:           visitType,
		ChiefComplaint:        ExtractChiefComplaint(a.Summary, history),
		SymptomsMentioned:     ExtractSymptoms(history),
		InvestigativeHistory:  a.Summary,
		PossibleDiagnosis:     a.PossibleDiagnosis,
		RecommendedDepartment: a.RecommendedDepartment,
		RecommendedDoctor:     a.RecommendedDoctor,
		ConfidenceLevel:       a.ConfidenceLevel,
		AIModelUsed:           model,
		Conversation:          history,
	}
}

var symptomKeywords = []string{
	"pain", "ache", "hurt", "sore", "tender",
	"swelling", "swollen", "inflammation", "bloated",
	"fever", "temperature", "hot", "chills",
	"nausea", "vomiting", "dizzy", "headache",
	"cough", "breathless", "shortness of breath",
	"fatigue", "tired", "weakness", "exhausted",
	"bleeding", "discharge", "rash", "itching",
	"cramping", "spasms", "stiffness", "numbness",
}

var bodyParts = []string{"knee", "back", "chest", "head", "stomach", "leg", "arm", "neck"}

// ExtractSymptoms pulls short symptom phrases from the visitor's answers by
// keyword match with a little surrounding context, capped at five.
func ExtractSymptoms(history []dialogue.QA) []string {
	var symptoms []string
	seen := map[string]bool{}
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			return
		}
		seen[s] = true
		symptoms = append(symptoms, s)
	}

	for _, qa := range history {
		answer := strings.ToLower(qa.Answer)
		question := strings.ToLower(qa.Question)

		for _, keyword := range symptomKeywords {
			if !strings.Contains(answer, keyword) {
				continue
			}
			words := strings.Fields(answer)
			for i, word := range words {
				if !strings.Contains(word, keyword) {
					continue
				}
				start := i - 2
				if start < 0 {
					start = 0
				}
				end := i + 3
				if end > len(words) {
					end = len(words)
				}
				add(strings.Join(words[start:end], " "))
			}
		}

		// Questions naming a body part with a problem imply a symptom too.
		for _, part := range bodyParts {
			if strings.Contains(question, part) &&
				(strings.Contains(question, "pain") || strings.Contains(question, "hurt") || strings.Contains(question, "problem")) {
				add(part + " pain")
			}
		}
	}

	if len(symptoms) > 5 {
		symptoms = symptoms[:5]
	}
	return symptoms
}

var complaintPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)presents with ([^.]+)`),
	regexp.MustCompile(`(?i)chief complaint[:\s]+([^.]+)`),
	regexp.MustCompile(`(?i)complains of ([^.]+)`),
	regexp.MustCompile(`(?i)reports ([^.]+)`),
	regexp.MustCompile(`(?i)experiencing ([^.]+)`),
}

var spacesRe = regexp.MustCompile(`\s+`)

// ExtractChiefComplaint finds the presenting complaint in the assessment
// summary, falling back to the first answer when the opening question asked
// for it directly.
func ExtractChiefComplaint(summary string, history []dialogue.QA) string {
	for _, re := range complaintPatterns {
		if m := re.FindStringSubmatch(summary); m != nil {
			complaint := spacesRe.ReplaceAllString(strings.TrimSpace(m[1]), " ")
			return clip(complaint, 100)
		}
	}

	if len(history) > 0 {
		question := strings.ToLower(history[0].Question)
		answer := history[0].Answer
		for _, hint := range []string{"main", "chief", "primary", "feeling", "bring you"} {
			if strings.Contains(question, hint) {
				return clip(answer, 100)
			}
		}
	}
	return "General consultation"
}

func clip(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
