package training

// Item is one unit of training content within a phase. Completion is
// tracked by the tracker's completion set, never on the item itself.
type Item struct {
	Number   int    `json:"item_number"`
	Title    string `json:"title"`
	Category string `json:"category,omitempty"`
	Content  string `json:"content,omitempty"` // empty in the fallback shape
}

// Phase is one of the three onboarding phases. Immutable once fetched.
type Phase struct {
	Number         int      `json:"phase_number"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	TimeLimitHours int      `json:"time_limit_hours"`
	Items          []Item   `json:"items"`
	MediaFiles     []string `json:"media_files,omitempty"`
}
