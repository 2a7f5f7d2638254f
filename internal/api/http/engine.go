package http

import (
	"context"
	"sync"

	"github.com/marinersgate/crewtrain/internal/offline"
	"github.com/marinersgate/crewtrain/internal/quiz"
	"github.com/marinersgate/crewtrain/internal/sched"
	"github.com/marinersgate/crewtrain/internal/training"
)

// Engine holds the per-phase trackers and quiz controllers behind the
// gateway. One engine serves one crew member (the device's user).
type Engine struct {
	phaseSvc training.PhaseService
	quizSvc  quiz.Service
	store    offline.Store
	monitor  *offline.Monitor
	sched    sched.Scheduler
	emit     func(event string, data map[string]interface{})

	mu       sync.Mutex
	trackers map[int]*training.Tracker
	quizzes  map[int]*quiz.Controller
}

func NewEngine(phaseSvc training.PhaseService, quizSvc quiz.Service, store offline.Store, monitor *offline.Monitor, scheduler sched.Scheduler, emit func(string, map[string]interface{})) *Engine {
	if emit == nil {
		emit = func(string, map[string]interface{}) {}
	}
	return &Engine{
		phaseSvc: phaseSvc,
		quizSvc:  quizSvc,
		store:    store,
		monitor:  monitor,
		sched:    scheduler,
		emit:     emit,
		trackers: map[int]*training.Tracker{},
		quizzes:  map[int]*quiz.Controller{},
	}
}

func (e *Engine) tracker(phase int) *training.Tracker {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.trackers[phase]
	if !ok {
		t = training.NewTracker(phase, e.phaseSvc, e.hasQuizResult, e.sched, e.emit)
		e.trackers[phase] = t
	}
	return t
}

func (e *Engine) controller(phase int) *quiz.Controller {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.quizzes[phase]
	if !ok {
		c = quiz.NewController(phase, e.quizSvc, e.store, e.monitor.Online, e.sched, e.emit)
		e.quizzes[phase] = c
	}
	return c
}

func (e *Engine) hasQuizResult(ctx context.Context, phase int) (bool, error) {
	hist, err := e.quizSvc.QuizHistory(ctx)
	if err != nil {
		return false, err
	}
	for _, h := range hist {
		if h.Phase == phase {
			return true, nil
		}
	}
	return false, nil
}

// Close tears down every live tracker and controller.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, t := range e.trackers {
		t.Close()
	}
	for _, c := range e.quizzes {
		c.Stop()
	}
}
