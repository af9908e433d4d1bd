package dialogue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"strings"

	"google.golang.org/genai"
)

// Completion markers the model emits instead of a question when it has
// gathered enough information.
const (
	assessmentReadyMarker   = "ASSESSMENT_READY"
	interviewCompleteMarker = "INTERVIEW_COMPLETE"
)

const (
	firstQuestionFallback = "What is your main health concern or symptom that brought you here today?"
	nextQuestionFallback  = "Could you please tell me about your main health concern today?"
	probeQuestionFallback = "Can you tell me more about your symptoms?"
)

// followupFallbacks are canned follow-up visit questions, indexed by question
// number.
var followupFallbacks = []string{
	"How have you been feeling since your last visit?",
	"Are you taking your prescribed medications as directed?",
	"Have you noticed any changes in your condition?",
	"Are you experiencing any new symptoms?",
	"How has your treatment been working for you?",
	"Is there anything specific that's been bothering you?",
}

const interviewSystemPrompt = `You are a medical intake assistant conducting a short pre-screening interview before a doctor consultation. Ask ONE focused question at a time about the patient's symptoms, their onset, severity, and relevant history. Never diagnose or prescribe during the interview. When you have gathered enough information, respond with exactly ASSESSMENT_READY instead of a question.`

const followupSystemPrompt = `You are a medical intake assistant conducting a follow-up visit check. Questions 1-3 cover treatment adherence (medications, instructions, side effects); later questions cover condition assessment (changes since the last visit, new symptoms). Ask ONE question at a time. When you have gathered enough information, respond with exactly INTERVIEW_COMPLETE instead of a question.`

const assessmentSystemPrompt = `You are a medical expert writing a pre-consultation summary for a doctor. Respond with JSON containing the fields investigative_history, possible_diagnosis, confidence_level, recommended_department and recommended_doctor.`

// GeminiExpert generates interview questions and the final assessment with
// the Gemini API.
type GeminiExpert struct {
	client *genai.Client
	model  string
}

// NewGeminiExpert creates a Gemini-backed dialogue service.
func NewGeminiExpert(ctx context.Context, apiKey, model string) (*GeminiExpert, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("dialogue: gemini api key missing")
	}
	if model == "" {
		model = "gemini-2.5-flash-lite"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("dialogue: create gemini client: %w", err)
	}
	return &GeminiExpert{client: client, model: model}, nil
}

func (g *GeminiExpert) StartInterview(ctx context.Context, snap Snapshot) (Result, error) {
	snap.QuestionNumber = 1
	snap.History = nil
	return g.nextQuestion(ctx, snap, firstQuestionFallback)
}

func (g *GeminiExpert) SubmitAnswer(ctx context.Context, snap Snapshot, answer string) (Result, error) {
	fallback := nextQuestionFallback
	if snap.Variant == VariantFollowup {
		idx := snap.QuestionNumber - 1
		if idx < 0 {
			idx = 0
		}
		if idx >= len(followupFallbacks) {
			idx = len(followupFallbacks) - 1
		}
		fallback = followupFallbacks[idx]
	} else if len(snap.History) > 0 {
		fallback = probeQuestionFallback
	}
	return g.nextQuestion(ctx, snap, fallback)
}

func (g *GeminiExpert) nextQuestion(ctx context.Context, snap Snapshot, fallback string) (Result, error) {
	prompt := buildQuestionPrompt(snap)
	system := interviewSystemPrompt
	if snap.Variant == VariantFollowup {
		system = followupSystemPrompt
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		MaxOutputTokens:   500,
		Temperature:       genai.Ptr[float32](0.7),
	})
	if err != nil {
		return Result{}, fmt.Errorf("dialogue: generate question: %w", err)
	}

	raw := strings.TrimSpace(resp.Text())
	if raw == "" {
		log.Printf("dialogue: empty model response, using fallback question")
		raw = fallback
	}
	if isCompletionMarker(raw) {
		return Result{
			Complete: true,
			Progress: ComputeProgress(snap.QuestionNumber, snap.MaxQuestions, snap.UnknownCount, snap.MaxUnknowns),
		}, nil
	}

	question := extractQuestion(raw)
	if question == "" {
		question = fallback
	}
	return Result{
		Question: question,
		Progress: ComputeProgress(snap.QuestionNumber, snap.MaxQuestions, snap.UnknownCount, snap.MaxUnknowns),
	}, nil
}

func (g *GeminiExpert) GenerateAssessment(ctx context.Context, snap Snapshot) (Assessment, error) {
	prompt := buildAssessmentPrompt(snap)
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(assessmentSystemPrompt, genai.RoleUser),
		MaxOutputTokens:   2000,
		Temperature:       genai.Ptr[float32](0.3),
	})
	if err != nil {
		return Assessment{}, fmt.Errorf("dialogue: generate assessment: %w", err)
	}
	return parseAssessment(resp.Text()), nil
}

// buildQuestionPrompt renders the snapshot into the user turn for question
// generation.
func buildQuestionPrompt(snap Snapshot) string {
	history := formatHistory(snap.History)
	if history == "" {
		history = "No previous questions - start with chief complaint"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Generate the next medical question for the patient (Question %d/%d).\n\n",
		snap.QuestionNumber, snap.MaxQuestions)
	fmt.Fprintf(&b, "Patient Context: %s, %dy, %s\n", snap.Patient.Name, snap.Patient.Age, snap.Patient.Gender)
	fmt.Fprintf(&b, "Unknown answers so far: %d/%d\n", snap.UnknownCount, snap.MaxUnknowns)
	fmt.Fprintf(&b, "Conversation History:\n%s\n", history)
	if snap.Variant == VariantFollowup {
		section := "Condition Assessment"
		if snap.QuestionNumber <= 3 {
			section = "Treatment Adherence"
		}
		fmt.Fprintf(&b, "\nCurrent section: %s\n", section)
	}
	switch {
	case snap.Variant == VariantFollowup && snap.QuestionNumber == 1 && snap.Patient.Language == "ta":
		b.WriteString("\nIMPORTANT: Respond in Tamil.")
	case len(snap.History) > 0:
		b.WriteString("\nIMPORTANT: Respond in the same language the patient used in their last answer.")
	}
	b.WriteString("\n\nInstructions: Ask ONE focused medical question.")
	return b.String()
}

func buildAssessmentPrompt(snap Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write the pre-consultation assessment for %s (%dy, %s) based on this interview:\n\n",
		snap.Patient.Name, snap.Patient.Age, snap.Patient.Gender)
	b.WriteString(formatHistory(snap.History))
	return b.String()
}

// formatHistory renders completed exchanges as Q1/A1 blocks.
func formatHistory(history []QA) string {
	var b strings.Builder
	for i, qa := range history {
		fmt.Fprintf(&b, "Q%d: %s\nA%d: %s\n\n", i+1, qa.Question, i+1, qa.Answer)
	}
	return b.String()
}

func isCompletionMarker(text string) bool {
	return strings.Contains(text, assessmentReadyMarker) || strings.Contains(text, interviewCompleteMarker)
}

// extractQuestion unwraps a question that arrived as JSON or a fenced JSON
// block; anything else passes through as-is.
func extractQuestion(raw string) string {
	raw = strings.TrimSpace(raw)
	candidate := raw
	if strings.HasPrefix(raw, "```") {
		start := strings.Index(raw, "{")
		end := strings.LastIndex(raw, "}")
		if start == -1 || end <= start {
			return raw
		}
		candidate = raw[start : end+1]
	} else if !(strings.HasPrefix(raw, "{") && strings.HasSuffix(raw, "}")) {
		return raw
	}
	var parsed struct {
		Question string `json:"question"`
	}
	if err := json.Unmarshal([]byte(candidate), &parsed); err != nil || parsed.Question == "" {
		return raw
	}
	return parsed.Question
}

var (
	fencedJSONRe = regexp.MustCompile("(?s)```json\\s*(\\{.*?\\})\\s*```")
	deptRes      = []*regexp.Regexp{
		regexp.MustCompile(`(?i)"recommended_department":\s*"([^"]+)"`),
		regexp.MustCompile(`(?i)recommended_department[:\s]+([A-Za-z ]+)`),
		regexp.MustCompile(`(?i)department[:\s]+([A-Za-z ]+)`),
	}
)

// parseAssessment recovers the structured assessment from a model reply that
// may be clean JSON, a fenced JSON block, or loose prose.
func parseAssessment(raw string) Assessment {
	raw = strings.TrimSpace(raw)
	a := Assessment{
		Summary:           raw,
		PossibleDiagnosis: "Assessment based on interview responses",
		ConfidenceLevel:   70,
	}

	var parsed Assessment
	if err := json.Unmarshal([]byte(raw), &parsed); err == nil {
		a = merge(a, parsed)
	} else if m := fencedJSONRe.FindStringSubmatch(raw); m != nil {
		if err := json.Unmarshal([]byte(m[1]), &parsed); err == nil {
			a = merge(a, parsed)
		}
	}

	if a.RecommendedDepartment == "" {
		for _, re := range deptRes {
			if m := re.FindStringSubmatch(raw); m != nil {
				a.RecommendedDepartment = strings.TrimSpace(m[1])
				break
			}
		}
	}
	if a.RecommendedDepartment == "" {
		a.RecommendedDepartment = "General Medicine"
	}
	if a.RecommendedDoctor == "" {
		a.RecommendedDoctor = "Visit hospital reception"
	}
	return a
}

func merge(base, parsed Assessment) Assessment {
	if parsed.Summary != "" {
		base.Summary = parsed.Summary
	}
	if parsed.PossibleDiagnosis != "" {
		base.PossibleDiagnosis = parsed.PossibleDiagnosis
	}
	if parsed.ConfidenceLevel != 0 {
		base.ConfidenceLevel = parsed.ConfidenceLevel
	}
	base.RecommendedDepartment = parsed.RecommendedDepartment
	base.RecommendedDoctor = parsed.RecommendedDoctor
	return base
}
