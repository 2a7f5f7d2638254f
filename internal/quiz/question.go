package quiz

// Variant is the closed set of question types the engine understands.
// Validators and the auto-advance table both dispatch exhaustively on
// it; adding a variant without updating them is a compile-visible gap.
type Variant string

const (
	MultipleChoice Variant = "multiple_choice"
	YesNo          Variant = "yes_no"
	FillInGaps     Variant = "fill_in_gaps"
	DragOrder      Variant = "drag_order"
	Matching       Variant = "matching"
	ShortAnswer    Variant = "short_answer"
	Scenario       Variant = "scenario"
	FileUpload     Variant = "file_upload"
)

// Question is one quiz question. Only the fields relevant to the
// question's variant are populated; the rest stay zero.
type Question struct {
	ID       string  `json:"id"`
	Variant  Variant `json:"type"`
	Prompt   string  `json:"prompt"`
	Required bool    `json:"required"`
	Points   float64 `json:"points"`
	Category string  `json:"category,omitempty"`

	Options       []string `json:"options,omitempty"`        // multiple_choice, scenario
	Template      string   `json:"template,omitempty"`       // fill_in_gaps
	OrderItems    []string `json:"order_items,omitempty"`    // drag_order
	LeftColumn    []string `json:"left_column,omitempty"`    // matching
	RightColumn   []string `json:"right_column,omitempty"`   // matching
	MaxLength     int      `json:"max_length,omitempty"`     // short_answer
	ScenarioText  string   `json:"scenario_text,omitempty"`  // scenario
	AcceptedTypes []string `json:"accepted_types,omitempty"` // file_upload
}

// Answer holds a crew member's answer to one question. Like Question,
// only the field for the question's variant is meaningful.
type Answer struct {
	Index *int     `json:"index,omitempty"` // multiple_choice, scenario
	Bool  *bool    `json:"bool,omitempty"`  // yes_no
	Text  string   `json:"text,omitempty"`  // short_answer
	Order []string `json:"order,omitempty"` // drag_order
	Pairs []*int   `json:"pairs,omitempty"` // matching: right index per left row, nil unmatched
	Gaps  []string `json:"gaps,omitempty"`  // fill_in_gaps: one entry per blank
	File  string   `json:"file,omitempty"`  // file_upload: stored file name

	// FileUploaded reports that the upload itself succeeded. A file
	// name alone is not enough: the reference and the value must both
	// be present for the answer to count.
	FileUploaded bool `json:"file_uploaded,omitempty"`
}

// Session is one quiz attempt as issued by the shore backend. The
// session id is the authority for submission.
type Session struct {
	ID                  string     `json:"session_id"`
	Phase               int        `json:"phase"`
	Questions           []Question `json:"questions"`
	TimeLimitMinutes    int        `json:"time_limit"`
	PassingScorePercent int        `json:"passing_score"`
}

// SubmittedAnswer is the normalized wire shape for one answer.
type SubmittedAnswer struct {
	QuestionID string `json:"questionId"`
	Answer     Answer `json:"answer"`
}
