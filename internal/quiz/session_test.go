package quiz_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/marinersgate/crewtrain/internal/offline"
	"github.com/marinersgate/crewtrain/internal/quiz"
	"github.com/marinersgate/crewtrain/internal/sched"
)

type fakeService struct {
	session    quiz.Session
	fetchErr   error
	fetchCalls int

	history    []quiz.HistoryEntry
	historyErr error

	result      quiz.Result
	submitErr   error
	submitCalls int
	lastAnswers []quiz.SubmittedAnswer
}

func (f *fakeService) FetchQuiz(_ context.Context, phase int) (quiz.Session, error) {
	f.fetchCalls++
	if f.fetchErr != nil {
		return quiz.Session{}, f.fetchErr
	}
	s := f.session
	s.Phase = phase
	return s, nil
}

func (f *fakeService) SubmitQuiz(_ context.Context, _ int, _ string, answers []quiz.SubmittedAnswer, _ time.Time) (quiz.Result, error) {
	f.submitCalls++
	f.lastAnswers = answers
	if f.submitErr != nil {
		return quiz.Result{}, f.submitErr
	}
	return f.result, nil
}

func (f *fakeService) QuizHistory(context.Context) ([]quiz.HistoryEntry, error) {
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	return f.history, nil
}

func twoChoiceSession(n int) quiz.Session {
	s := quiz.Session{ID: "sess-1", TimeLimitMinutes: 30, PassingScorePercent: 70}
	for i := 0; i < n; i++ {
		s.Questions = append(s.Questions, quiz.Question{
			ID:      fmt.Sprintf("q%d", i+1),
			Variant: quiz.MultipleChoice,
			Options: []string{"a", "b", "c"},
			Points:  1,
		})
	}
	return s
}

func newController(t *testing.T, svc *fakeService, online bool) (*quiz.Controller, *offline.MemoryStore, *sched.Manual) {
	t.Helper()
	store := offline.NewMemoryStore()
	clock := sched.NewManual(time.Unix(1700000000, 0))
	c := quiz.NewController(2, svc, store, func() bool { return online }, clock, nil)
	return c, store, clock
}

func TestStart_AlreadyPassedShowsResultsImmediately(t *testing.T) {
	svc := &fakeService{history: []quiz.HistoryEntry{{Phase: 2, Passed: true, Score: 92}}}
	c, _, _ := newController(t, svc, true)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v := c.View()
	if v.Status != quiz.StatusCompleted || !v.ShowResults {
		t.Fatalf("expected completed+showResults, got %s showResults=%v", v.Status, v.ShowResults)
	}
	if svc.fetchCalls != 0 {
		t.Fatalf("a passed quiz must never be refetched; got %d fetches", svc.fetchCalls)
	}
}

func TestStart_RestoresSnapshotForSameSession(t *testing.T) {
	svc := &fakeService{session: twoChoiceSession(3)}
	c, store, clock := newController(t, svc, true)

	answers := map[string]quiz.Answer{"q1": {Index: intp(2)}}
	buf, _ := json.Marshal(answers)
	_ = store.SaveProgress(context.Background(), offline.Snapshot{
		Phase: 2, Answers: buf, CurrentIndex: 1, SessionID: "sess-1", SavedAt: clock.Now(),
	})

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v := c.View()
	if v.CurrentIndex != 1 {
		t.Fatalf("expected restored index 1, got %d", v.CurrentIndex)
	}
	if a := v.Answers["q1"]; a.Index == nil || *a.Index != 2 {
		t.Fatalf("expected restored answer for q1, got %+v", a)
	}
	if v.Remaining != 30*60 {
		t.Fatalf("expected full time limit %d, got %d", 30*60, v.Remaining)
	}
}

func TestStart_FetchErrorClearsStoredSessionID(t *testing.T) {
	svc := &fakeService{fetchErr: errors.New("shore unreachable")}
	c, store, clock := newController(t, svc, true)

	buf, _ := json.Marshal(map[string]quiz.Answer{"q1": {Index: intp(0)}})
	_ = store.SaveProgress(context.Background(), offline.Snapshot{
		Phase: 2, Answers: buf, CurrentIndex: 0, SessionID: "stale", SavedAt: clock.Now(),
	})

	if err := c.Start(context.Background()); err == nil {
		t.Fatalf("expected fetch error")
	}
	snap, ok, _ := store.GetProgress(context.Background(), 2)
	if !ok {
		t.Fatalf("answers must survive a fetch failure")
	}
	if snap.SessionID != "" {
		t.Fatalf("stale session id must not outlive the fetch error, got %q", snap.SessionID)
	}
}

func TestStart_DiscardsSnapshotFromDifferentSession(t *testing.T) {
	svc := &fakeService{session: twoChoiceSession(2)}
	c, store, clock := newController(t, svc, true)

	buf, _ := json.Marshal(map[string]quiz.Answer{"q1": {Index: intp(0)}})
	_ = store.SaveProgress(context.Background(), offline.Snapshot{
		Phase: 2, Answers: buf, CurrentIndex: 1, SessionID: "old-session", SavedAt: clock.Now(),
	})

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v := c.View()
	if len(v.Answers) != 0 || v.CurrentIndex != 0 {
		t.Fatalf("answers from another session must be discarded, got %+v index %d", v.Answers, v.CurrentIndex)
	}
}

func TestTimer_ExpiryAutoSubmitsExactlyOnce(t *testing.T) {
	svc := &fakeService{session: quiz.Session{
		ID:               "sess-1",
		TimeLimitMinutes: 1,
		Questions:        twoChoiceSession(2).Questions,
	}}
	c, _, clock := newController(t, svc, true)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_ = c.SetAnswer(context.Background(), "q1", quiz.Answer{Index: intp(1)})

	clock.Advance(60 * time.Second)
	if svc.submitCalls != 1 {
		t.Fatalf("expected exactly 1 auto-submit after 60 ticks, got %d", svc.submitCalls)
	}
	if len(svc.lastAnswers) != 1 || svc.lastAnswers[0].QuestionID != "q1" {
		t.Fatalf("auto-submit must carry the answers that exist at expiry, got %+v", svc.lastAnswers)
	}

	// More ticks must not re-fire: the interval stops at zero.
	clock.Advance(30 * time.Second)
	if svc.submitCalls != 1 {
		t.Fatalf("timer re-fired: %d submits", svc.submitCalls)
	}
	if v := c.View(); v.Status != quiz.StatusCompleted {
		t.Fatalf("expected completed after auto-submit, got %s", v.Status)
	}
}

func TestAutoAdvance_SecondAnswerCancelsFirst(t *testing.T) {
	svc := &fakeService{session: twoChoiceSession(3)}
	c, _, clock := newController(t, svc, true)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_ = c.SetAnswer(context.Background(), "q1", quiz.Answer{Index: intp(0)})
	clock.Advance(time.Second)
	// Changing the answer before the delay elapses abandons the first
	// scheduled advance.
	_ = c.SetAnswer(context.Background(), "q1", quiz.Answer{Index: intp(2)})
	clock.Advance(2 * time.Second)

	v := c.View()
	if v.CurrentIndex != 1 {
		t.Fatalf("expected exactly one advance to index 1, got %d", v.CurrentIndex)
	}
	if a := v.Answers["q1"]; a.Index == nil || *a.Index != 2 {
		t.Fatalf("latest answer must win, got %+v", a)
	}
}

func TestAutoAdvance_NeverFiresForReviewVariants(t *testing.T) {
	svc := &fakeService{session: quiz.Session{
		ID:               "sess-1",
		TimeLimitMinutes: 30,
		Questions: []quiz.Question{
			{ID: "q1", Variant: quiz.DragOrder, OrderItems: []string{"a", "b"}},
			{ID: "q2", Variant: quiz.ShortAnswer, MaxLength: 50},
		},
	}}
	c, _, clock := newController(t, svc, true)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_ = c.SetAnswer(context.Background(), "q1", quiz.Answer{Order: []string{"b", "a"}})
	clock.Advance(5 * time.Second)
	if v := c.View(); v.CurrentIndex != 0 {
		t.Fatalf("drag_order must not auto-advance, moved to %d", v.CurrentIndex)
	}
}

func TestManualNext_CancelsPendingAutoAdvance(t *testing.T) {
	svc := &fakeService{session: twoChoiceSession(3)}
	c, _, clock := newController(t, svc, true)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_ = c.SetAnswer(context.Background(), "q1", quiz.Answer{Index: intp(0)})
	if err := c.Next(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	clock.Advance(3 * time.Second)
	if v := c.View(); v.CurrentIndex != 1 {
		t.Fatalf("manual next then stale auto-advance: index %d, want 1", v.CurrentIndex)
	}
}

func TestSubmit_OfflineQueuesExactlyOnce(t *testing.T) {
	svc := &fakeService{session: twoChoiceSession(2)}
	c, store, _ := newController(t, svc, false)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_ = c.SetAnswer(context.Background(), "q1", quiz.Answer{Index: intp(1)})

	_, queued, err := c.Submit(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !queued {
		t.Fatalf("offline submit must queue")
	}
	if svc.submitCalls != 0 {
		t.Fatalf("offline submit made %d network calls", svc.submitCalls)
	}
	entries, _ := store.PendingEntries(context.Background())
	if len(entries) != 1 {
		t.Fatalf("expected exactly 1 queue entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Score != nil {
		t.Fatalf("offline score must stay unresolved, got %v", *e.Score)
	}
	if e.SessionID != "sess-1" {
		t.Fatalf("queue entry must carry the session id, got %q", e.SessionID)
	}
	if _, ok, _ := store.GetProgress(context.Background(), 2); ok {
		t.Fatalf("in-progress storage must be removed so the attempt cannot be resubmitted")
	}
	if v := c.View(); v.Status != quiz.StatusCompleted || !v.ShowResults {
		t.Fatalf("offline submit must complete locally, got %s showResults=%v", v.Status, v.ShowResults)
	}

	if _, _, err := c.Submit(context.Background()); !errors.Is(err, quiz.ErrAlreadySubmitted) {
		t.Fatalf("second submit must be rejected, got %v", err)
	}
}

func TestSubmit_OnlineSingleCallNoQueue(t *testing.T) {
	svc := &fakeService{session: twoChoiceSession(2), result: quiz.Result{Passed: true, Score: 100}}
	c, store, _ := newController(t, svc, true)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_ = c.SetAnswer(context.Background(), "q1", quiz.Answer{Index: intp(0)})
	_ = c.SetAnswer(context.Background(), "q2", quiz.Answer{Index: intp(1)})

	res, queued, err := c.Submit(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if queued {
		t.Fatalf("online submit must not queue")
	}
	if !res.Passed {
		t.Fatalf("expected pass result")
	}
	if svc.submitCalls != 1 {
		t.Fatalf("expected exactly 1 network call, got %d", svc.submitCalls)
	}
	if entries, _ := store.PendingEntries(context.Background()); len(entries) != 0 {
		t.Fatalf("online submit produced %d queue entries", len(entries))
	}
	if _, ok, _ := store.GetProgress(context.Background(), 2); ok {
		t.Fatalf("progress must be cleared after a successful submit")
	}
}

func TestSubmit_SessionExpiredClearsIDKeepsAnswers(t *testing.T) {
	svc := &fakeService{session: twoChoiceSession(2)}
	svc.submitErr = fmt.Errorf("submit: %w", quiz.ErrSessionExpired)
	c, store, _ := newController(t, svc, true)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_ = c.SetAnswer(context.Background(), "q1", quiz.Answer{Index: intp(1)})

	_, _, err := c.Submit(context.Background())
	if !errors.Is(err, quiz.ErrSessionExpired) {
		t.Fatalf("expected session expired, got %v", err)
	}
	v := c.View()
	if v.SessionID != "" {
		t.Fatalf("expired session id must be cleared, got %q", v.SessionID)
	}
	if a := v.Answers["q1"]; a.Index == nil || *a.Index != 1 {
		t.Fatalf("in-memory answers must survive a session error, got %+v", a)
	}
	snap, ok, _ := store.GetProgress(context.Background(), 2)
	if !ok || snap.SessionID != "" {
		t.Fatalf("stored session id must be cleared, ok=%v id=%q", ok, snap.SessionID)
	}
}

func TestSubmit_TransientErrorIsRetryable(t *testing.T) {
	svc := &fakeService{session: twoChoiceSession(2)}
	svc.submitErr = errors.New("gateway timeout")
	c, _, _ := newController(t, svc, true)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_ = c.SetAnswer(context.Background(), "q1", quiz.Answer{Index: intp(1)})

	if _, _, err := c.Submit(context.Background()); err == nil {
		t.Fatalf("expected transient error")
	}
	// The failure is retryable: the attempt is still in progress.
	svc.submitErr = nil
	if _, _, err := c.Submit(context.Background()); err != nil {
		t.Fatalf("retry after transient failure: %v", err)
	}
	if svc.submitCalls != 2 {
		t.Fatalf("expected 2 calls (failure + retry), got %d", svc.submitCalls)
	}
}

func TestRestore_GapAnswersRefitToTemplate(t *testing.T) {
	svc := &fakeService{session: quiz.Session{
		ID:               "sess-1",
		TimeLimitMinutes: 10,
		Questions: []quiz.Question{
			{ID: "q1", Variant: quiz.FillInGaps, Template: "The ___ is ___."},
		},
	}}
	c, store, clock := newController(t, svc, true)

	buf, _ := json.Marshal(map[string]quiz.Answer{"q1": {Gaps: []string{"anchor"}}})
	_ = store.SaveProgress(context.Background(), offline.Snapshot{
		Phase: 2, Answers: buf, SessionID: "sess-1", SavedAt: clock.Now(),
	})

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	a := c.View().Answers["q1"]
	if len(a.Gaps) != 2 {
		t.Fatalf("length-1 gap answer must be reinitialized to 2 blanks, got %v", a.Gaps)
	}
	if a.Gaps[0] != "" || a.Gaps[1] != "" {
		t.Fatalf("reinitialized gaps must be empty, got %v", a.Gaps)
	}
}
