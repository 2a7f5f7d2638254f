package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/marinersgate/crewtrain/internal/quiz"
)

// Mount wires the engine's operations onto a chi router. The device UI
// is the only consumer.
func (e *Engine) Mount(r chi.Router) {
	r.Route("/phases/{phase}", func(pr chi.Router) {
		pr.Get("/", e.getPhase)
		pr.Post("/items/{item}/complete", e.completeItem)
		pr.Post("/items/{item}/uncomplete", e.uncompleteItem)
		pr.Post("/advance", e.advance)
		pr.Post("/goto", e.gotoItem)
		pr.Post("/countdown/cancel", e.cancelCountdown)

		pr.Route("/quiz", func(qr chi.Router) {
			qr.Get("/", e.getQuiz)
			qr.Post("/start", e.startQuiz)
			qr.Post("/answers", e.setAnswer)
			qr.Post("/next", e.nextQuestion)
			qr.Post("/goto", e.gotoQuestion)
			qr.Post("/submit", e.submitQuiz)
		})
	})

	r.Get("/queue", e.listQueue)
	r.Post("/link", e.setLink)
}

func phaseParam(r *http.Request) (int, bool) {
	n, err := strconv.Atoi(chi.URLParam(r, "phase"))
	if err != nil || n < 1 || n > 3 {
		return 0, false
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (e *Engine) getPhase(w http.ResponseWriter, r *http.Request) {
	phase, ok := phaseParam(r)
	if !ok {
		http.Error(w, "phase must be 1-3", 400)
		return
	}
	t := e.tracker(phase)
	if !t.View().Loaded {
		if err := t.Load(r.Context()); err != nil {
			// Retryable: the UI shows a reload action.
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error(), "retryable": "true"})
			return
		}
	}
	writeJSON(w, 200, t.View())
}

func (e *Engine) completeItem(w http.ResponseWriter, r *http.Request) {
	e.itemMutation(w, r, true)
}

func (e *Engine) uncompleteItem(w http.ResponseWriter, r *http.Request) {
	e.itemMutation(w, r, false)
}

func (e *Engine) itemMutation(w http.ResponseWriter, r *http.Request, complete bool) {
	phase, ok := phaseParam(r)
	if !ok {
		http.Error(w, "phase must be 1-3", 400)
		return
	}
	item, err := strconv.Atoi(chi.URLParam(r, "item"))
	if err != nil {
		http.Error(w, "bad item number", 400)
		return
	}
	t := e.tracker(phase)
	if complete {
		err = t.MarkComplete(r.Context(), item)
	} else {
		err = t.MarkIncomplete(r.Context(), item)
	}
	if err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	writeJSON(w, 200, t.View())
}

func (e *Engine) advance(w http.ResponseWriter, r *http.Request) {
	phase, ok := phaseParam(r)
	if !ok {
		http.Error(w, "phase must be 1-3", 400)
		return
	}
	t := e.tracker(phase)
	if err := t.Advance(r.Context()); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	writeJSON(w, 200, t.View())
}

func (e *Engine) gotoItem(w http.ResponseWriter, r *http.Request) {
	phase, ok := phaseParam(r)
	if !ok {
		http.Error(w, "phase must be 1-3", 400)
		return
	}
	var req struct {
		Index int `json:"index"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", 400)
		return
	}
	t := e.tracker(phase)
	if err := t.Goto(req.Index); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	writeJSON(w, 200, t.View())
}

func (e *Engine) cancelCountdown(w http.ResponseWriter, r *http.Request) {
	phase, ok := phaseParam(r)
	if !ok {
		http.Error(w, "phase must be 1-3", 400)
		return
	}
	e.tracker(phase).CancelCountdown()
	w.WriteHeader(204)
}

func (e *Engine) startQuiz(w http.ResponseWriter, r *http.Request) {
	phase, ok := phaseParam(r)
	if !ok {
		http.Error(w, "phase must be 1-3", 400)
		return
	}
	c := e.controller(phase)
	if err := c.Start(r.Context()); err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error(), "retryable": "true"})
		return
	}
	writeJSON(w, 200, c.View())
}

func (e *Engine) getQuiz(w http.ResponseWriter, r *http.Request) {
	phase, ok := phaseParam(r)
	if !ok {
		http.Error(w, "phase must be 1-3", 400)
		return
	}
	writeJSON(w, 200, e.controller(phase).View())
}

func (e *Engine) setAnswer(w http.ResponseWriter, r *http.Request) {
	phase, ok := phaseParam(r)
	if !ok {
		http.Error(w, "phase must be 1-3", 400)
		return
	}
	var req struct {
		QuestionID string      `json:"question_id"`
		Answer     quiz.Answer `json:"answer"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", 400)
		return
	}
	if req.QuestionID == "" {
		http.Error(w, "question_id required", 400)
		return
	}
	c := e.controller(phase)
	if err := c.SetAnswer(r.Context(), req.QuestionID, req.Answer); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	writeJSON(w, 200, c.View())
}

func (e *Engine) nextQuestion(w http.ResponseWriter, r *http.Request) {
	phase, ok := phaseParam(r)
	if !ok {
		http.Error(w, "phase must be 1-3", 400)
		return
	}
	c := e.controller(phase)
	if err := c.Next(r.Context()); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	writeJSON(w, 200, c.View())
}

func (e *Engine) gotoQuestion(w http.ResponseWriter, r *http.Request) {
	phase, ok := phaseParam(r)
	if !ok {
		http.Error(w, "phase must be 1-3", 400)
		return
	}
	var req struct {
		Index int `json:"index"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", 400)
		return
	}
	c := e.controller(phase)
	if err := c.Goto(r.Context(), req.Index); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	writeJSON(w, 200, c.View())
}

func (e *Engine) submitQuiz(w http.ResponseWriter, r *http.Request) {
	phase, ok := phaseParam(r)
	if !ok {
		http.Error(w, "phase must be 1-3", 400)
		return
	}
	c := e.controller(phase)
	res, queued, err := c.Submit(r.Context())
	switch {
	case err == nil && queued:
		writeJSON(w, http.StatusAccepted, map[string]interface{}{"queued": true, "view": c.View()})
	case err == nil:
		writeJSON(w, 200, map[string]interface{}{"queued": false, "result": res, "view": c.View()})
	case errors.Is(err, quiz.ErrSessionExpired):
		// The UI must fetch a fresh session; typed answers survive.
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, quiz.ErrAlreadySubmitted):
		http.Error(w, err.Error(), 409)
	default:
		// Transient: the UI shows a toast and keeps the answers.
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error(), "retryable": "true"})
	}
}

func (e *Engine) listQueue(w http.ResponseWriter, r *http.Request) {
	entries, err := e.store.PendingEntries(r.Context())
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, 200, map[string]interface{}{"entries": entries, "online": e.monitor.Online()})
}

// setLink is fed by the platform's link watcher, an external
// collaborator that knows the actual connectivity state.
func (e *Engine) setLink(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Online bool `json:"online"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", 400)
		return
	}
	e.monitor.SetOnline(r.Context(), req.Online)
	writeJSON(w, 200, map[string]bool{"online": e.monitor.Online()})
}
