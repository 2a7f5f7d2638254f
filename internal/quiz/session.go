package quiz

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marinersgate/crewtrain/internal/offline"
	"github.com/marinersgate/crewtrain/internal/sched"
)

// Status is the controller's lifecycle state.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

const (
	tickInterval     = time.Second
	autoAdvanceDelay = 1500 * time.Millisecond
)

// Result is the shore's verdict on a submitted attempt.
type Result struct {
	Passed         bool    `json:"passed"`
	Score          float64 `json:"score"`
	TotalQuestions int     `json:"total_questions,omitempty"`
}

// HistoryEntry is one past attempt from the shore's quiz history.
type HistoryEntry struct {
	Phase          int       `json:"phase"`
	Passed         bool      `json:"passed"`
	Score          float64   `json:"score"`
	TotalQuestions int       `json:"total_questions"`
	CompletedAt    time.Time `json:"completed_at"`
}

// Service is the shore surface the controller consumes.
type Service interface {
	FetchQuiz(ctx context.Context, phase int) (Session, error)
	SubmitQuiz(ctx context.Context, phase int, sessionID string, answers []SubmittedAnswer, completedAt time.Time) (Result, error)
	QuizHistory(ctx context.Context) ([]HistoryEntry, error)
}

var (
	ErrNotInProgress    = errors.New("quiz is not in progress")
	ErrAlreadySubmitted = errors.New("quiz already submitted")
	ErrUnknownQuestion  = errors.New("unknown question id")
	ErrSessionAbsent    = errors.New("no active quiz session, fetch again")

	// ErrSessionExpired: the session id is no longer valid shore-side.
	// The stored id must be cleared and a fresh session fetched.
	ErrSessionExpired = errors.New("quiz session expired or not found")
)

// Controller owns one phase's quiz lifecycle: fetch, answer, countdown,
// submit. All timer work goes through the scheduler so it can be torn
// down deterministically and driven by hand in tests.
type Controller struct {
	phase  int
	svc    Service
	store  offline.Store
	online func() bool
	sched  sched.Scheduler
	emit   func(event string, data map[string]interface{})

	mu          sync.Mutex
	status      Status
	showResults bool
	session     *Session
	answers     map[string]Answer
	current     int
	remaining   int
	result      *Result
	submitted   bool
	tick        sched.Ticket
	advance     sched.Ticket
}

func NewController(phase int, svc Service, store offline.Store, online func() bool, scheduler sched.Scheduler, emit func(string, map[string]interface{})) *Controller {
	if emit == nil {
		emit = func(string, map[string]interface{}) {}
	}
	if online == nil {
		online = func() bool { return true }
	}
	return &Controller{
		phase:   phase,
		svc:     svc,
		store:   store,
		online:  online,
		sched:   scheduler,
		emit:    emit,
		status:  StatusNotStarted,
		answers: map[string]Answer{},
	}
}

// Start drives the controller out of not_started: consult history (a
// passed phase goes straight to results and is never retaken), restore
// any reload-surviving progress, fetch a fresh session, start the
// countdown.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.status == StatusCompleted {
		c.mu.Unlock()
		return nil
	}
	// An in_progress attempt with a live session id needs no restart; one
	// whose id was invalidated shore-side gets a fresh session instead.
	if c.status == StatusInProgress && c.session != nil && c.session.ID != "" {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if hist, err := c.svc.QuizHistory(ctx); err != nil {
		// Best effort: an unreachable history must not block the quiz.
		log.Printf("quiz: history fetch failed, continuing: %v", err)
	} else {
		for _, h := range hist {
			if h.Phase == c.phase && h.Passed {
				c.mu.Lock()
				c.status = StatusCompleted
				c.showResults = true
				c.result = &Result{Passed: true, Score: h.Score, TotalQuestions: h.TotalQuestions}
				c.mu.Unlock()
				return nil
			}
		}
	}

	snap, restored, err := c.store.GetProgress(ctx, c.phase)
	if err != nil {
		log.Printf("quiz: progress restore failed, starting clean: %v", err)
		restored = false
	}

	s, err := c.svc.FetchQuiz(ctx, c.phase)
	if err != nil {
		// A stale session id must not outlive its session.
		c.clearStoredSession(ctx, snap, restored)
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tick != nil {
		c.tick.Cancel()
		c.tick = nil
	}
	c.session = &s
	c.answers = map[string]Answer{}
	c.current = 0
	if restored && (snap.SessionID == "" || snap.SessionID == s.ID) {
		if len(snap.Answers) > 0 {
			if err := json.Unmarshal(snap.Answers, &c.answers); err != nil {
				log.Printf("quiz: malformed stored answers, discarding: %v", err)
				c.answers = map[string]Answer{}
			}
		}
		if snap.CurrentIndex >= 0 && snap.CurrentIndex < len(s.Questions) {
			c.current = snap.CurrentIndex
		}
	}
	c.normalizeGapAnswers()

	c.status = StatusInProgress
	c.showResults = false
	c.submitted = false
	c.remaining = s.TimeLimitMinutes * 60
	c.persistLocked(ctx)

	c.tick = c.sched.Every(tickInterval, c.onTick)
	return nil
}

// clearStoredSession empties the mirrored session id while keeping any
// typed answers around for the retry.
func (c *Controller) clearStoredSession(ctx context.Context, snap offline.Snapshot, restored bool) {
	if !restored {
		return
	}
	snap.SessionID = ""
	snap.SavedAt = c.sched.Now()
	if err := c.store.SaveProgress(ctx, snap); err != nil {
		log.Printf("quiz: clear stored session id: %v", err)
	}
}

// normalizeGapAnswers refits restored fill_in_gaps answers to the
// current templates; a length mismatch means the stored values cannot
// be trusted to line up with the blanks.
func (c *Controller) normalizeGapAnswers() {
	for _, q := range c.session.Questions {
		if q.Variant != FillInGaps {
			continue
		}
		a, ok := c.answers[q.ID]
		if !ok {
			continue
		}
		a.Gaps = ResizeGaps(a.Gaps, BlankCount(q.Template))
		c.answers[q.ID] = a
	}
}

func (c *Controller) onTick() {
	c.mu.Lock()
	if c.status != StatusInProgress || c.submitted {
		c.mu.Unlock()
		return
	}
	c.remaining--
	remaining := c.remaining
	if remaining <= 0 && c.tick != nil {
		// Zero stops the interval no matter how the submit goes; the
		// countdown must never fire twice.
		c.tick.Cancel()
		c.tick = nil
	}
	c.mu.Unlock()

	c.emit("tick", map[string]interface{}{"phase": c.phase, "remaining": remaining})

	if remaining <= 0 {
		// Time is up: exactly one auto-submit, with whatever answers
		// exist right now.
		if _, _, err := c.Submit(context.Background()); err != nil && !errors.Is(err, ErrAlreadySubmitted) {
			log.Printf("quiz: auto-submit failed: %v", err)
		}
	}
}

// SetAnswer records an answer. Local persistence happens synchronously
// before any auto-advance is scheduled, so a crash between the two
// never loses what was typed. A new answer cancels any pending advance;
// only the latest one's timer survives.
func (c *Controller) SetAnswer(ctx context.Context, questionID string, a Answer) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status != StatusInProgress {
		return ErrNotInProgress
	}
	q, ok := c.questionLocked(questionID)
	if !ok {
		return ErrUnknownQuestion
	}
	if q.Variant == FillInGaps {
		a.Gaps = ResizeGaps(a.Gaps, BlankCount(q.Template))
	}
	c.answers[questionID] = a
	c.persistLocked(ctx)

	if c.advance != nil {
		c.advance.Cancel()
		c.advance = nil
	}
	if AutoAdvances(q.Variant) && IsAnswered(q, a) {
		c.advance = c.sched.After(autoAdvanceDelay, func() {
			c.autoAdvance(questionID)
		})
	}
	return nil
}

func (c *Controller) autoAdvance(questionID string) {
	c.mu.Lock()
	if c.status != StatusInProgress {
		c.mu.Unlock()
		return
	}
	// Only advance if the question is still the current one.
	if c.current >= len(c.session.Questions) || c.session.Questions[c.current].ID != questionID {
		c.mu.Unlock()
		return
	}
	c.advance = nil
	c.advanceLocked(context.Background())
	idx := c.current
	c.mu.Unlock()

	c.emit("auto_advance", map[string]interface{}{"phase": c.phase, "index": idx})
}

// Next is the manual advance. It cancels any pending auto-advance.
func (c *Controller) Next(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusInProgress {
		return ErrNotInProgress
	}
	if c.advance != nil {
		c.advance.Cancel()
		c.advance = nil
	}
	c.advanceLocked(ctx)
	return nil
}

func (c *Controller) advanceLocked(ctx context.Context) {
	if c.current < len(c.session.Questions)-1 {
		c.current++
		c.persistLocked(ctx)
	}
}

// Goto jumps to a question by index; navigation cancels any pending
// auto-advance like a manual "next" would.
func (c *Controller) Goto(ctx context.Context, index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusInProgress {
		return ErrNotInProgress
	}
	if index < 0 || index >= len(c.session.Questions) {
		return errors.New("question index out of range")
	}
	if c.advance != nil {
		c.advance.Cancel()
		c.advance = nil
	}
	c.current = index
	c.persistLocked(ctx)
	return nil
}

// Submit finishes the attempt. Online it is a single shore call;
// offline it produces exactly one queue entry and no network traffic.
// The queued flag reports which path was taken.
func (c *Controller) Submit(ctx context.Context) (Result, bool, error) {
	c.mu.Lock()
	if c.status == StatusCompleted || c.submitted {
		c.mu.Unlock()
		return Result{}, false, ErrAlreadySubmitted
	}
	if c.status != StatusInProgress {
		c.mu.Unlock()
		return Result{}, false, ErrNotInProgress
	}
	if c.session == nil || c.session.ID == "" {
		c.mu.Unlock()
		return Result{}, false, ErrSessionAbsent
	}
	c.submitted = true
	sessionID := c.session.ID
	normalized := c.normalizedLocked()
	completedAt := c.sched.Now()

	if !c.online() {
		payload, err := json.Marshal(normalized)
		if err != nil {
			c.submitted = false
			c.mu.Unlock()
			return Result{}, false, err
		}
		entry := offline.QueueEntry{
			ID:          uuid.NewString(),
			Phase:       c.phase,
			Answers:     payload,
			Score:       nil, // resolved later by the sync daemon
			SessionID:   sessionID,
			CompletedAt: completedAt,
			State:       offline.StateQueued,
		}
		if err := c.store.MarkCompleted(ctx, entry); err != nil {
			c.submitted = false
			c.mu.Unlock()
			return Result{}, false, err
		}
		c.completeLocked(nil)
		c.mu.Unlock()
		c.emit("submitted", map[string]interface{}{"phase": c.phase, "queued": true, "entry_id": entry.ID})
		return Result{}, true, nil
	}
	c.mu.Unlock()

	res, err := c.svc.SubmitQuiz(ctx, c.phase, sessionID, normalized, completedAt)

	c.mu.Lock()
	if err != nil {
		c.submitted = false
		if errors.Is(err, ErrSessionExpired) {
			// The id is dead shore-side: forget it everywhere and make
			// the caller fetch a fresh session. Answers stay in memory.
			c.session.ID = ""
			c.persistLocked(ctx)
		}
		c.mu.Unlock()
		return Result{}, false, err
	}
	c.completeLocked(&res)
	if err := c.store.Clear(ctx, c.phase); err != nil {
		log.Printf("quiz: clear progress after submit: %v", err)
	}
	c.mu.Unlock()
	c.emit("submitted", map[string]interface{}{"phase": c.phase, "queued": false, "passed": res.Passed})
	return res, false, nil
}

// completeLocked transitions to completed and tears the timers down so
// nothing can fire against a finished attempt.
func (c *Controller) completeLocked(res *Result) {
	c.status = StatusCompleted
	c.showResults = true
	c.result = res
	if c.tick != nil {
		c.tick.Cancel()
		c.tick = nil
	}
	if c.advance != nil {
		c.advance.Cancel()
		c.advance = nil
	}
}

func (c *Controller) normalizedLocked() []SubmittedAnswer {
	out := make([]SubmittedAnswer, 0, len(c.answers))
	for _, q := range c.session.Questions {
		if a, ok := c.answers[q.ID]; ok {
			out = append(out, SubmittedAnswer{QuestionID: q.ID, Answer: a})
		}
	}
	return out
}

func (c *Controller) questionLocked(id string) (Question, bool) {
	for _, q := range c.session.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

func (c *Controller) persistLocked(ctx context.Context) {
	payload, err := json.Marshal(c.answers)
	if err != nil {
		log.Printf("quiz: marshal answers: %v", err)
		return
	}
	sessionID := ""
	if c.session != nil {
		sessionID = c.session.ID
	}
	snap := offline.Snapshot{
		Phase:        c.phase,
		Answers:      payload,
		CurrentIndex: c.current,
		SessionID:    sessionID,
		SavedAt:      c.sched.Now(),
	}
	if err := c.store.SaveProgress(ctx, snap); err != nil {
		log.Printf("quiz: save progress: %v", err)
	}
}

// Stop tears down every timer. Call on shutdown or when the view is
// closed; a timer firing against a dismissed quiz is a leak.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tick != nil {
		c.tick.Cancel()
		c.tick = nil
	}
	if c.advance != nil {
		c.advance.Cancel()
		c.advance = nil
	}
}

// View is an immutable snapshot of controller state for the UI.
type View struct {
	Phase        int               `json:"phase"`
	Status       Status            `json:"status"`
	ShowResults  bool              `json:"show_results"`
	SessionID    string            `json:"session_id,omitempty"`
	Questions    []Question        `json:"questions,omitempty"`
	Answers      map[string]Answer `json:"answers"`
	CurrentIndex int               `json:"current_index"`
	Remaining    int               `json:"remaining_seconds"`
	Result       *Result           `json:"result,omitempty"`
	Answered     map[string]bool   `json:"answered"`
}

func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := View{
		Phase:        c.phase,
		Status:       c.status,
		ShowResults:  c.showResults,
		CurrentIndex: c.current,
		Remaining:    c.remaining,
		Result:       c.result,
		Answers:      map[string]Answer{},
		Answered:     map[string]bool{},
	}
	if c.session != nil {
		v.SessionID = c.session.ID
		v.Questions = c.session.Questions
		for _, q := range c.session.Questions {
			a := c.answers[q.ID]
			v.Answered[q.ID] = IsAnswered(q, a)
		}
	}
	for k, a := range c.answers {
		v.Answers[k] = a
	}
	return v
}
