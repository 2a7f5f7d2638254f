package notify

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The device UI is served from the same box; origins are already
	// constrained by the gateway's CORS policy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Event is one engine event pushed to the device UI: countdown ticks,
// celebration, auto-advance, submissions, link changes.
type Event struct {
	Type string                 `json:"type"`
	At   time.Time              `json:"at"`
	Data map[string]interface{} `json:"data,omitempty"`
}

// client wraps a UI connection with a write lock. Events come from many
// goroutines at once (timer ticks, auto-advance callbacks, handlers)
// and the websocket allows only one concurrent writer per connection.
type client struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *client) write(ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(ev)
}

// Hub fans engine events out to connected UI clients.
type Hub struct {
	mu      sync.RWMutex
	clients []*client
	secret  []byte // empty disables the token check (trusted local UI)
}

func NewHub(secret string) *Hub {
	return &Hub{secret: []byte(secret)}
}

// HandleWebSocket upgrades a UI connection, optionally checking a
// token query parameter against the shared device secret.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if len(h.secret) > 0 {
		tokenStr := r.URL.Query().Get("token")
		if tokenStr == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
			return h.secret, nil
		})
		if err != nil || !token.Valid {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("notify: websocket upgrade failed: %v", err)
		return
	}
	c := &client{conn: conn}

	h.mu.Lock()
	h.clients = append(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	log.Printf("notify: ui connected (total: %d)", n)

	go func() {
		defer h.drop(c)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *Hub) drop(c *client) {
	c.conn.Close()
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, cc := range h.clients {
		if cc == c {
			h.clients = append(h.clients[:i], h.clients[i+1:]...)
			break
		}
	}
}

// Publish sends an event to every connected client. Dead connections
// are dropped on write failure.
func (h *Hub) Publish(eventType string, data map[string]interface{}) {
	ev := Event{Type: eventType, At: time.Now(), Data: data}

	h.mu.RLock()
	clients := append([]*client{}, h.clients...)
	h.mu.RUnlock()

	for _, c := range clients {
		if err := c.write(ev); err != nil {
			h.drop(c)
		}
	}
}
