package dialogue

import (
	"context"
	"strings"
	"testing"
)

func TestExtractQuestionPlainText(t *testing.T) {
	q := extractQuestion("How long have you had this pain?")
	if q != "How long have you had this pain?" {
		t.Fatalf("got %q", q)
	}
}

func TestExtractQuestionDirectJSON(t *testing.T) {
	q := extractQuestion(`{"question": "Where exactly is the pain located?"}`)
	if q != "Where exactly is the pain located?" {
		t.Fatalf("got %q", q)
	}
}

func TestExtractQuestionFencedJSON(t *testing.T) {
	raw := "```json\n{\"question\": \"Does anything make it worse?\"}\n```"
	q := extractQuestion(raw)
	if q != "Does anything make it worse?" {
		t.Fatalf("got %q", q)
	}
}

func TestExtractQuestionMalformedJSONPassthrough(t *testing.T) {
	raw := `{"question": broken`
	if q := extractQuestion(raw); q != raw {
		t.Fatalf("malformed JSON should pass through, got %q", q)
	}
}

func TestCompletionMarkers(t *testing.T) {
	if !isCompletionMarker("ASSESSMENT_READY") {
		t.Fatal("bare marker not detected")
	}
	if !isCompletionMarker("I have enough information. ASSESSMENT_READY.") {
		t.Fatal("embedded marker not detected")
	}
	if !isCompletionMarker("INTERVIEW_COMPLETE") {
		t.Fatal("followup marker not detected")
	}
	if isCompletionMarker("Is the assessment ready for review?") {
		t.Fatal("false positive on plain text")
	}
}

func TestParseAssessmentDirectJSON(t *testing.T) {
	raw := `{"investigative_history":"Patient presents with knee pain for two weeks.","possible_diagnosis":"Possible meniscus strain","confidence_level":80,"recommended_department":"Orthopedics","recommended_doctor":"Dr. Kumar"}`
	a := parseAssessment(raw)
	if a.Summary != "Patient presents with knee pain for two weeks." {
		t.Fatalf("summary = %q", a.Summary)
	}
	if a.PossibleDiagnosis != "Possible meniscus strain" {
		t.Fatalf("diagnosis = %q", a.PossibleDiagnosis)
	}
	if a.ConfidenceLevel != 80 {
		t.Fatalf("confidence = %d", a.ConfidenceLevel)
	}
	if a.RecommendedDepartment != "Orthopedics" {
		t.Fatalf("department = %q", a.RecommendedDepartment)
	}
	if a.RecommendedDoctor != "Dr. Kumar" {
		t.Fatalf("doctor = %q", a.RecommendedDoctor)
	}
}

func TestParseAssessmentFencedJSON(t *testing.T) {
	raw := "Here is the summary.\n```json\n{\"investigative_history\":\"Chest discomfort on exertion.\",\"recommended_department\":\"Cardiology\"}\n```"
	a := parseAssessment(raw)
	if a.Summary != "Chest discomfort on exertion." {
		t.Fatalf("summary = %q", a.Summary)
	}
	if a.RecommendedDepartment != "Cardiology" {
		t.Fatalf("department = %q", a.RecommendedDepartment)
	}
	// Defaults survive fields the block omitted.
	if a.ConfidenceLevel != 70 {
		t.Fatalf("confidence = %d", a.ConfidenceLevel)
	}
	if a.RecommendedDoctor != "Visit hospital reception" {
		t.Fatalf("doctor = %q", a.RecommendedDoctor)
	}
}

func TestParseAssessmentProseFallsBackToPatterns(t *testing.T) {
	raw := "The patient reports lower back pain.\nrecommended_department: Orthopedics\n"
	a := parseAssessment(raw)
	if a.RecommendedDepartment != "Orthopedics" {
		t.Fatalf("department = %q", a.RecommendedDepartment)
	}
	if !strings.Contains(a.Summary, "lower back pain") {
		t.Fatalf("summary lost: %q", a.Summary)
	}
}

func TestParseAssessmentDefaults(t *testing.T) {
	a := parseAssessment("unstructured text with nothing useful")
	if a.RecommendedDepartment != "General Medicine" {
		t.Fatalf("department = %q", a.RecommendedDepartment)
	}
	if a.RecommendedDoctor != "Visit hospital reception" {
		t.Fatalf("doctor = %q", a.RecommendedDoctor)
	}
}

func TestComputeProgress(t *testing.T) {
	p := ComputeProgress(3, 6, 1, 2)
	if p.CompletionPercent != 50 {
		t.Fatalf("percent = %v", p.CompletionPercent)
	}
	if p.CurrentQuestion != 3 || p.MaxQuestions != 6 || p.UnknownCount != 1 || p.MaxUnknowns != 2 {
		t.Fatalf("unexpected progress %+v", p)
	}
	if over := ComputeProgress(9, 6, 0, 2); over.CompletionPercent != 100 {
		t.Fatalf("percent not capped: %v", over.CompletionPercent)
	}
	if zero := ComputeProgress(1, 0, 0, 2); zero.CompletionPercent != 0 {
		t.Fatalf("zero max percent = %v", zero.CompletionPercent)
	}
}

func TestFormatHistory(t *testing.T) {
	got := formatHistory([]QA{
		{Question: "What brings you in?", Answer: "Knee pain"},
		{Question: "How long?", Answer: "Two weeks"},
	})
	want := "Q1: What brings you in?\nA1: Knee pain\n\nQ2: How long?\nA2: Two weeks\n\n"
	if got != want {
		t.Fatalf("history = %q", got)
	}
	if formatHistory(nil) != "" {
		t.Fatal("empty history should render empty")
	}
}

func TestBuildQuestionPromptVariants(t *testing.T) {
	base := Snapshot{
		Patient:        Patient{Name: "Asha", Age: 34, Gender: "female", Language: "ta"},
		QuestionNumber: 1,
		MaxQuestions:   6,
		MaxUnknowns:    2,
	}

	primary := buildQuestionPrompt(base)
	if !strings.Contains(primary, "Question 1/6") {
		t.Fatalf("missing question counter: %s", primary)
	}
	if !strings.Contains(primary, "No previous questions") {
		t.Fatal("missing empty-history hint")
	}
	if strings.Contains(primary, "Respond in Tamil") {
		t.Fatal("primary first question should not force Tamil")
	}

	followup := base
	followup.Variant = VariantFollowup
	p := buildQuestionPrompt(followup)
	if !strings.Contains(p, "Treatment Adherence") {
		t.Fatal("followup question 1 should be in the adherence section")
	}
	if !strings.Contains(p, "Respond in Tamil") {
		t.Fatal("followup first question for Tamil speaker should force Tamil")
	}

	followup.QuestionNumber = 4
	followup.History = []QA{{Question: "q", Answer: "a"}}
	p = buildQuestionPrompt(followup)
	if !strings.Contains(p, "Condition Assessment") {
		t.Fatal("followup question 4 should be in the assessment section")
	}
	if !strings.Contains(p, "same language the patient used") {
		t.Fatal("later questions should mirror the patient's language")
	}
}

func TestNewGeminiExpertRequiresKey(t *testing.T) {
	if _, err := NewGeminiExpert(context.Background(), "", ""); err == nil {
		t.Fatal("expected error for missing key")
	}
}
