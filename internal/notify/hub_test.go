package notify_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/marinersgate/crewtrain/internal/notify"
)

func dialHub(t *testing.T, hub *notify.Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	// The server registers the connection just after the handshake;
	// publish until the first event arrives so the storm below runs
	// against a registered client.
	ready := make(chan struct{})
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-ready:
				return
			case <-stop:
				return
			default:
				hub.Publish("hello", nil)
				time.Sleep(5 * time.Millisecond)
			}
		}
	}()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err != nil {
		close(stop)
		t.Fatalf("first event never arrived: %v", err)
	}
	close(ready)
	_ = conn.SetReadDeadline(time.Time{})
	return conn
}

func TestPublish_ConcurrentEmittersOneClient(t *testing.T) {
	hub := notify.NewHub("")
	conn := dialHub(t, hub)

	var received int64
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
			atomic.AddInt64(&received, 1)
		}
	}()

	// Every timer goroutine and handler shares one emit; the hub must
	// survive them all publishing at once to the same connection.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				hub.Publish("tick", map[string]interface{}{"emitter": n, "seq": j})
			}
		}(i)
	}
	wg.Wait()

	conn.Close()
	<-done

	if atomic.LoadInt64(&received) == 0 {
		t.Fatalf("no events reached the client")
	}
}

func TestHandleWebSocket_RejectsMissingToken(t *testing.T) {
	hub := notify.NewHub("device-secret")
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatalf("expected handshake rejection")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}
}
