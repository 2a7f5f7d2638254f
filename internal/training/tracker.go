package training

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/marinersgate/crewtrain/internal/sched"
)

// PhaseService is the shore surface the tracker consumes.
// PhaseDetails is the rich primary source; Phase is the reduced
// fallback used when the primary is unavailable.
type PhaseService interface {
	PhaseDetails(ctx context.Context, phase int) (Phase, []int, error)
	Phase(ctx context.Context, phase int) (Phase, []int, error)
	CompleteItem(ctx context.Context, phase, itemNumber int) error
	UncompleteItem(ctx context.Context, phase, itemNumber int) error
}

// autoNavigateSeconds is the celebration countdown before the agent
// hands off to the quiz.
const autoNavigateSeconds = 10

var ErrNotLoaded = errors.New("phase not loaded")
var ErrUnknownItem = errors.New("unknown item number")

// Tracker owns per-item completion state for one phase: derive the
// completion set from shore data, resume at the first incomplete item,
// and detect the moment the phase becomes fully complete.
type Tracker struct {
	phase int
	svc   PhaseService
	// hasQuizResult gates the auto-navigate countdown: a phase whose
	// quiz was already taken never auto-navigates.
	hasQuizResult func(ctx context.Context, phase int) (bool, error)
	sched         sched.Scheduler
	emit          func(event string, data map[string]interface{})

	mu          sync.Mutex
	detail      Phase
	completed   map[int]bool
	index       int
	loaded      bool
	reduced     bool // served from the fallback source, no rich content
	elapsed     int
	elapsedTick sched.Ticket
	celebrating bool
	countdown   sched.Ticket
	countdownAt int
}

func NewTracker(phase int, svc PhaseService, hasQuizResult func(context.Context, int) (bool, error), scheduler sched.Scheduler, emit func(string, map[string]interface{})) *Tracker {
	if emit == nil {
		emit = func(string, map[string]interface{}) {}
	}
	if hasQuizResult == nil {
		hasQuizResult = func(context.Context, int) (bool, error) { return false, nil }
	}
	return &Tracker{
		phase:         phase,
		svc:           svc,
		hasQuizResult: hasQuizResult,
		sched:         scheduler,
		emit:          emit,
		completed:     map[int]bool{},
	}
}

// NewCompletionSet derives the completion set from the shore's
// completed-item list. Unknown ids are kept: the set must always be
// re-derivable from server truth, even when the item list lags behind.
func NewCompletionSet(completedItems []int) map[int]bool {
	set := make(map[int]bool, len(completedItems))
	for _, n := range completedItems {
		set[n] = true
	}
	return set
}

// FirstIncompleteIndex picks the resume position: the first item not in
// the completed set, or the last item when everything is done. A
// returning crew member resumes, never restarts.
func FirstIncompleteIndex(items []Item, completed map[int]bool) int {
	for i, it := range items {
		if !completed[it.Number] {
			return i
		}
	}
	if len(items) == 0 {
		return 0
	}
	return len(items) - 1
}

// Load fetches the phase, preferring the rich source and falling back
// to the reduced one. Both failing is a retryable error, never a crash.
func (t *Tracker) Load(ctx context.Context) error {
	detail, completedItems, err := t.svc.PhaseDetails(ctx, t.phase)
	reduced := false
	if err != nil {
		log.Printf("training: phase %d details unavailable, trying fallback: %v", t.phase, err)
		detail, completedItems, err = t.svc.Phase(ctx, t.phase)
		if err != nil {
			return fmt.Errorf("load phase %d: %w", t.phase, err)
		}
		reduced = true
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.detail = detail
	t.reduced = reduced
	t.completed = NewCompletionSet(completedItems)
	t.index = FirstIncompleteIndex(detail.Items, t.completed)
	t.loaded = true
	t.elapsed = 0
	if t.elapsedTick != nil {
		t.elapsedTick.Cancel()
	}
	t.elapsedTick = t.sched.Every(time.Second, func() {
		t.mu.Lock()
		t.elapsed++
		t.mu.Unlock()
	})
	return nil
}

// MarkComplete transitions an item incomplete→completed. The explicit
// "mark complete" action and the implicit advance both land here, so
// the two paths cannot diverge. The local update is optimistic; the
// shore mutation is idempotent and its failure only logs, because the
// completion set is re-derived from shore truth on next load.
func (t *Tracker) MarkComplete(ctx context.Context, itemNumber int) error {
	t.mu.Lock()
	if !t.loaded {
		t.mu.Unlock()
		return ErrNotLoaded
	}
	if _, ok := t.itemLocked(itemNumber); !ok {
		t.mu.Unlock()
		return ErrUnknownItem
	}
	if t.completed[itemNumber] {
		t.mu.Unlock()
		return nil
	}

	prev := t.completedCountLocked()
	t.completed[itemNumber] = true
	now := t.completedCountLocked()
	total := len(t.detail.Items)
	justCompleted := prev < total && now == total && prev > 0
	t.mu.Unlock()

	if err := t.svc.CompleteItem(ctx, t.phase, itemNumber); err != nil {
		log.Printf("training: complete item %d/%d: %v", t.phase, itemNumber, err)
	}

	if justCompleted {
		t.celebrate(ctx)
	}
	return nil
}

// MarkIncomplete is the correction affordance: completed→incomplete.
func (t *Tracker) MarkIncomplete(ctx context.Context, itemNumber int) error {
	t.mu.Lock()
	if !t.loaded {
		t.mu.Unlock()
		return ErrNotLoaded
	}
	if _, ok := t.itemLocked(itemNumber); !ok {
		t.mu.Unlock()
		return ErrUnknownItem
	}
	if !t.completed[itemNumber] {
		t.mu.Unlock()
		return nil
	}
	delete(t.completed, itemNumber)
	// The phase is no longer complete; a pending auto-navigate would
	// now be wrong.
	t.stopCountdownLocked()
	t.celebrating = false
	t.mu.Unlock()

	if err := t.svc.UncompleteItem(ctx, t.phase, itemNumber); err != nil {
		log.Printf("training: uncomplete item %d/%d: %v", t.phase, itemNumber, err)
	}
	return nil
}

// Advance completes the current item as a side effect and moves to the
// next one, converging on MarkComplete's exact semantics.
func (t *Tracker) Advance(ctx context.Context) error {
	t.mu.Lock()
	if !t.loaded {
		t.mu.Unlock()
		return ErrNotLoaded
	}
	if len(t.detail.Items) == 0 {
		t.mu.Unlock()
		return nil
	}
	current := t.detail.Items[t.index].Number
	t.mu.Unlock()

	if err := t.MarkComplete(ctx, current); err != nil {
		return err
	}

	t.mu.Lock()
	if t.index < len(t.detail.Items)-1 {
		t.index++
	}
	t.mu.Unlock()
	return nil
}

// Goto moves the viewing index without completing anything.
func (t *Tracker) Goto(index int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.loaded {
		return ErrNotLoaded
	}
	if index < 0 || index >= len(t.detail.Items) {
		return errors.New("item index out of range")
	}
	t.index = index
	return nil
}

func (t *Tracker) celebrate(ctx context.Context) {
	t.mu.Lock()
	if t.elapsedTick != nil {
		t.elapsedTick.Cancel()
		t.elapsedTick = nil
	}
	t.celebrating = true
	t.mu.Unlock()

	t.emit("celebration", map[string]interface{}{"phase": t.phase})

	has, err := t.hasQuizResult(ctx, t.phase)
	if err != nil {
		// Unknown history: do not auto-navigate into a quiz that may
		// already be done.
		log.Printf("training: quiz history check failed, skipping auto-navigate: %v", err)
		return
	}
	if has {
		return
	}

	t.mu.Lock()
	t.countdownAt = autoNavigateSeconds
	t.countdown = t.sched.Every(time.Second, t.onCountdownTick)
	t.mu.Unlock()
}

func (t *Tracker) onCountdownTick() {
	t.mu.Lock()
	if t.countdown == nil {
		t.mu.Unlock()
		return
	}
	t.countdownAt--
	remaining := t.countdownAt
	if remaining <= 0 {
		t.stopCountdownLocked()
	}
	t.mu.Unlock()

	if remaining > 0 {
		t.emit("countdown", map[string]interface{}{"phase": t.phase, "remaining": remaining})
		return
	}
	t.emit("auto_navigate", map[string]interface{}{"phase": t.phase})
}

// CancelCountdown stops the auto-navigate countdown for good; the crew
// member stays on the celebration view until they choose to move.
func (t *Tracker) CancelCountdown() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopCountdownLocked()
}

func (t *Tracker) stopCountdownLocked() {
	if t.countdown != nil {
		t.countdown.Cancel()
		t.countdown = nil
	}
	t.countdownAt = 0
}

// Close tears down every timer.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.elapsedTick != nil {
		t.elapsedTick.Cancel()
		t.elapsedTick = nil
	}
	t.stopCountdownLocked()
}

func (t *Tracker) itemLocked(number int) (Item, bool) {
	for _, it := range t.detail.Items {
		if it.Number == number {
			return it, true
		}
	}
	return Item{}, false
}

func (t *Tracker) completedCountLocked() int {
	n := 0
	for _, it := range t.detail.Items {
		if t.completed[it.Number] {
			n++
		}
	}
	return n
}

// View is an immutable snapshot of tracker state for the UI.
type View struct {
	Phase          Phase  `json:"phase"`
	Completed      []int  `json:"completed_items"`
	CurrentIndex   int    `json:"current_index"`
	ElapsedSeconds int    `json:"elapsed_seconds"`
	Celebrating    bool   `json:"celebrating"`
	CountdownAt    int    `json:"countdown_remaining,omitempty"`
	Reduced        bool   `json:"reduced_content,omitempty"`
	Loaded         bool   `json:"loaded"`
}

func (t *Tracker) View() View {
	t.mu.Lock()
	defer t.mu.Unlock()
	v := View{
		Phase:          t.detail,
		CurrentIndex:   t.index,
		ElapsedSeconds: t.elapsed,
		Celebrating:    t.celebrating,
		CountdownAt:    t.countdownAt,
		Reduced:        t.reduced,
		Loaded:         t.loaded,
	}
	for _, it := range t.detail.Items {
		if t.completed[it.Number] {
			v.Completed = append(v.Completed, it.Number)
		}
	}
	return v
}

// CurrentItem returns the item under the viewing index.
func (t *Tracker) CurrentItem() (Item, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.loaded || t.index < 0 || t.index >= len(t.detail.Items) {
		return Item{}, false
	}
	return t.detail.Items[t.index], true
}
