package dialogue

import "context"

// Variant selects the interview style: a fresh pre-screening or a follow-up
// visit check on an existing treatment plan.
type Variant string

const (
	VariantPrimary  Variant = "primary"
	VariantFollowup Variant = "followup"
)

// Patient is the registration context handed to the expert. Language is a
// BCP-47-ish short code, currently "en" or "ta".
type Patient struct {
	Name     string
	Age      int
	Gender   string
	Language string
}

// QA is one completed exchange.
type QA struct {
	Question string
	Answer   string
}

// Snapshot is the immutable view of an interview the expert reasons over.
// History holds completed exchanges; QuestionNumber is the 1-based number of
// the question being generated next.
type Snapshot struct {
	Patient        Patient
	Variant        Variant
	History        []QA
	QuestionNumber int
	UnknownCount   int
	MaxQuestions   int
	MaxUnknowns    int
}

// Progress mirrors the interview counters for the kiosk UI.
type Progress struct {
	CurrentQuestion   int     `json:"current_question"`
	MaxQuestions      int     `json:"max_questions"`
	UnknownCount      int     `json:"unknown_count"`
	MaxUnknowns       int     `json:"max_unknowns"`
	CompletionPercent float64 `json:"completion_percent"`
}

// ComputeProgress derives the UI progress for a snapshot.
func ComputeProgress(current, max, unknown, maxUnknown int) Progress {
	pct := 0.0
	if max > 0 {
		pct = float64(current) / float64(max) * 100
		if pct > 100 {
			pct = 100
		}
	}
	return Progress{
		CurrentQuestion:   current,
		MaxQuestions:      max,
		UnknownCount:      unknown,
		MaxUnknowns:       maxUnknown,
		CompletionPercent: pct,
	}
}

// Result is the expert's reply to a start or answer request. Complete means
// the expert has enough information and the interview should move to
// assessment instead of asking Question.
type Result struct {
	Question string
	Complete bool
	Progress Progress
}

// Assessment is the expert's final write-up.
type Assessment struct {
	Summary               string `json:"investigative_history"`
	PossibleDiagnosis     string `json:"possible_diagnosis"`
	ConfidenceLevel       int    `json:"confidence_level"`
	RecommendedDepartment string `json:"recommended_department"`
	RecommendedDoctor     string `json:"recommended_doctor"`
}

// Service is the opaque dialogue boundary the interview machine talks to.
type Service interface {
	StartInterview(ctx context.Context, snap Snapshot) (Result, error)
	SubmitAnswer(ctx context.Context, snap Snapshot, answer string) (Result, error)
	GenerateAssessment(ctx context.Context, snap Snapshot) (Assessment, error)
}
