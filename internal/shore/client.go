package shore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/marinersgate/crewtrain/internal/quiz"
	"github.com/marinersgate/crewtrain/internal/training"
)

// Client talks to the shore backend. It satisfies the service
// interfaces declared by the training tracker and the quiz controller.
type Client struct {
	base  string
	token string
	http  *http.Client
}

type Config struct {
	BaseURL string
	Token   string // shore-issued crew access token
	Timeout time.Duration
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		base:  strings.TrimSuffix(cfg.BaseURL, "/"),
		token: cfg.Token,
		http:  &http.Client{Timeout: timeout},
	}
}

// completedList decodes the shore's completedItems field defensively: a
// list of {item_number} objects, a list of bare numbers, or garbage. A
// malformed payload reads as empty so a crew member is never blocked by
// a data-shape error; they start from the beginning instead.
type completedList []int

func (c *completedList) UnmarshalJSON(b []byte) error {
	var objs []struct {
		Number int `json:"item_number"`
	}
	if err := json.Unmarshal(b, &objs); err == nil {
		out := make([]int, 0, len(objs))
		for _, o := range objs {
			if o.Number > 0 {
				out = append(out, o.Number)
			}
		}
		*c = out
		return nil
	}
	var nums []int
	if err := json.Unmarshal(b, &nums); err == nil {
		*c = nums
		return nil
	}
	log.Printf("shore: malformed completedItems payload, treating as empty")
	*c = nil
	return nil
}

type phaseResponse struct {
	Title          string        `json:"title"`
	Description    string        `json:"description"`
	TimeLimitHours int           `json:"time_limit_hours"`
	Items          []itemDTO     `json:"items"`
	CompletedItems completedList `json:"completed_items"`
	MediaFiles     []string      `json:"media_files"`
}

type itemDTO struct {
	Number   int    `json:"item_number"`
	Title    string `json:"title"`
	Category string `json:"category"`
	Content  string `json:"content"`
}

func (r phaseResponse) phase(number int) training.Phase {
	items := make([]training.Item, 0, len(r.Items))
	for _, it := range r.Items {
		items = append(items, training.Item{
			Number: it.Number, Title: it.Title, Category: it.Category, Content: it.Content,
		})
	}
	return training.Phase{
		Number:         number,
		Title:          r.Title,
		Description:    r.Description,
		TimeLimitHours: r.TimeLimitHours,
		Items:          items,
		MediaFiles:     r.MediaFiles,
	}
}

// PhaseDetails fetches the rich phase shape (item content included).
func (c *Client) PhaseDetails(ctx context.Context, phase int) (training.Phase, []int, error) {
	var resp phaseResponse
	if err := c.get(ctx, fmt.Sprintf("/api/training/phases/%d/details", phase), &resp); err != nil {
		return training.Phase{}, nil, err
	}
	return resp.phase(phase), resp.CompletedItems, nil
}

// Phase is the reduced fallback: same structure, no rich item content.
func (c *Client) Phase(ctx context.Context, phase int) (training.Phase, []int, error) {
	var resp phaseResponse
	if err := c.get(ctx, fmt.Sprintf("/api/training/phases/%d", phase), &resp); err != nil {
		return training.Phase{}, nil, err
	}
	return resp.phase(phase), resp.CompletedItems, nil
}

// CompleteItem marks an item complete. The shore treats it as
// idempotent; calling it twice for the same item is harmless.
func (c *Client) CompleteItem(ctx context.Context, phase, itemNumber int) error {
	return c.post(ctx, fmt.Sprintf("/api/training/phases/%d/items/%d/complete", phase, itemNumber), nil, nil)
}

func (c *Client) UncompleteItem(ctx context.Context, phase, itemNumber int) error {
	return c.post(ctx, fmt.Sprintf("/api/training/phases/%d/items/%d/uncomplete", phase, itemNumber), nil, nil)
}

// FetchQuiz requests a fresh quiz session. Never cached: a cached
// response would serve a stale session id.
func (c *Client) FetchQuiz(ctx context.Context, phase int) (quiz.Session, error) {
	var s quiz.Session
	if err := c.get(ctx, fmt.Sprintf("/api/quiz/%d", phase), &s); err != nil {
		return quiz.Session{}, err
	}
	s.Phase = phase
	return s, nil
}

type submitRequest struct {
	Answers       []quiz.SubmittedAnswer `json:"answers"`
	QuizSessionID string                 `json:"quizSessionId"`
	Phase         int                    `json:"phase"`
	CompletedAt   time.Time              `json:"completedAt"`
}

// SubmitQuiz posts a completed attempt and returns the shore's verdict.
func (c *Client) SubmitQuiz(ctx context.Context, phase int, sessionID string, answers []quiz.SubmittedAnswer, completedAt time.Time) (quiz.Result, error) {
	req := submitRequest{Answers: answers, QuizSessionID: sessionID, Phase: phase, CompletedAt: completedAt}
	var res quiz.Result
	if err := c.post(ctx, fmt.Sprintf("/api/quiz/%d/submit", phase), req, &res); err != nil {
		return quiz.Result{}, err
	}
	return res, nil
}

func (c *Client) QuizHistory(ctx context.Context) ([]quiz.HistoryEntry, error) {
	var out []quiz.HistoryEntry
	if err := c.get(ctx, "/api/quiz/history", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-store")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode/100 != 2 {
		var e struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		msg := res.Status
		if buf, err := io.ReadAll(io.LimitReader(res.Body, 4096)); err == nil {
			if json.Unmarshal(buf, &e) == nil {
				if e.Error != "" {
					msg = e.Error
				} else if e.Message != "" {
					msg = e.Message
				}
			}
		}
		return classify(res.StatusCode, msg)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(res.Body).Decode(out)
}
