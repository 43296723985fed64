package cloud

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeCloud is a minimal cloud endpoint for client tests.
type fakeCloud struct {
	mu       sync.Mutex
	upgrader websocket.Upgrader
	conns    []*websocket.Conn
	inits    []ConnectionInitPayload
	binary   [][]byte
	server   *httptest.Server
}

func newFakeCloud(t *testing.T) *fakeCloud {
	t.Helper()
	fc := &fakeCloud{}
	fc.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := fc.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fc.mu.Lock()
		fc.conns = append(fc.conns, conn)
		fc.mu.Unlock()
		go fc.readLoop(conn)
	}))
	t.Cleanup(fc.server.Close)
	return fc
}

func (fc *fakeCloud) readLoop(conn *websocket.Conn) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		fc.mu.Lock()
		if msgType == websocket.BinaryMessage {
			fc.binary = append(fc.binary, data)
		} else {
			var env Envelope
			if json.Unmarshal(data, &env) == nil && env.Type == TypeConnectionInit {
				var init ConnectionInitPayload
				json.Unmarshal(env.Payload, &init)
				fc.inits = append(fc.inits, init)
			}
		}
		fc.mu.Unlock()
	}
}

func (fc *fakeCloud) url() string {
	return "ws" + strings.TrimPrefix(fc.server.URL, "http")
}

func (fc *fakeCloud) connCount() int {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return len(fc.conns)
}

func (fc *fakeCloud) conn(i int) *websocket.Conn {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if i >= len(fc.conns) {
		return nil
	}
	return fc.conns[i]
}

func (fc *fakeCloud) initCount() int {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return len(fc.inits)
}

func (fc *fakeCloud) binaryCount() int {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return len(fc.binary)
}

func (fc *fakeCloud) send(t *testing.T, i int, env Envelope) {
	t.Helper()
	conn := fc.conn(i)
	if conn == nil {
		t.Fatalf("no server connection %d", i)
	}
	if err := conn.WriteJSON(env); err != nil {
		t.Fatalf("server write failed: %v", err)
	}
}

func testClientConfig(url string) Config {
	cfg := DefaultClientConfig(url, "test-token")
	cfg.InitSettleDelay = 5 * time.Millisecond
	cfg.ReconnectInterval = 20 * time.Millisecond
	cfg.MaxReconnectAttempts = 5
	cfg.SkipReachabilityProbe = true
	return cfg
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestClientHandshakeAndDispatch(t *testing.T) {
	fc := newFakeCloud(t)
	c := NewClient(testClientConfig(fc.url()))
	defer c.Disconnect()

	displayed := make(chan DisplayEventPayload, 1)
	c.OnMessage(TypeDisplayEvent, func(payload json.RawMessage) {
		var ev DisplayEventPayload
		if err := json.Unmarshal(payload, &ev); err == nil {
			displayed <- ev
		}
	})

	if err := c.Connect(); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if c.Status() != StatusConnected {
		t.Errorf("status %v after connect, want connected", c.Status())
	}

	// connection_init carries the auth token and session id.
	waitFor(t, time.Second, func() bool { return fc.initCount() == 1 })
	fc.mu.Lock()
	init := fc.inits[0]
	fc.mu.Unlock()
	if init.AuthToken != "test-token" {
		t.Errorf("init token %q, want %q", init.AuthToken, "test-token")
	}
	if init.SessionID != c.SessionID() {
		t.Errorf("init session %q, want %q", init.SessionID, c.SessionID())
	}

	// Inbound display intents reach the registered handler.
	payload, _ := json.Marshal(DisplayEventPayload{
		View:   "normal",
		Layout: DisplayLayout{LayoutType: "text_wall", Text: "hello"},
	})
	fc.send(t, 0, Envelope{Type: TypeDisplayEvent, Payload: payload})

	select {
	case ev := <-displayed:
		if ev.Layout.Text != "hello" {
			t.Errorf("display text %q, want %q", ev.Layout.Text, "hello")
		}
	case <-time.After(time.Second):
		t.Fatal("display event never dispatched")
	}
}

func TestUnknownTypeIgnored(t *testing.T) {
	fc := newFakeCloud(t)
	c := NewClient(testClientConfig(fc.url()))
	defer c.Disconnect()

	got := make(chan struct{}, 1)
	c.OnMessage(TypeConnectionAck, func(json.RawMessage) { got <- struct{}{} })

	if err := c.Connect(); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	waitFor(t, time.Second, func() bool { return fc.connCount() == 1 })

	fc.send(t, 0, Envelope{Type: "mystery_type"})
	fc.send(t, 0, Envelope{Type: TypeConnectionAck})

	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("known message after unknown one never dispatched")
	}
}

func TestAudioDrainsAfterReconnect(t *testing.T) {
	fc := newFakeCloud(t)
	c := NewClient(testClientConfig(fc.url()))
	defer c.Disconnect()

	// Frames queued while disconnected are buffered, not lost.
	c.SendAudio([]byte{0x01})
	c.SendAudio([]byte{0x02})
	if c.Ring().Len() != 2 {
		t.Fatalf("ring holds %d frames, want 2", c.Ring().Len())
	}

	if err := c.Connect(); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	waitFor(t, time.Second, func() bool { return fc.binaryCount() == 2 })
	c.SendAudio([]byte{0x03})
	waitFor(t, time.Second, func() bool { return fc.binaryCount() == 3 })
}

func TestClientReconnects(t *testing.T) {
	fc := newFakeCloud(t)
	cfg := testClientConfig(fc.url())

	statuses := make(chan Status, 16)
	c := NewClient(cfg)
	c.OnStatus(func(s Status) { statuses <- s })
	defer c.Disconnect()

	if err := c.Connect(); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	waitFor(t, time.Second, func() bool { return fc.connCount() == 1 })

	// Server drops the session; the client redials on its own.
	fc.conn(0).Close()
	waitFor(t, 2*time.Second, func() bool { return fc.connCount() >= 2 })
	waitFor(t, 2*time.Second, func() bool { return c.Status() == StatusConnected })

	// Attempt counter reset on success: a second drop reconnects too.
	fc.conn(1).Close()
	waitFor(t, 2*time.Second, func() bool { return fc.connCount() >= 3 })
}

func TestAuthErrorStopsReconnect(t *testing.T) {
	fc := newFakeCloud(t)
	c := NewClient(testClientConfig(fc.url()))
	defer c.Disconnect()

	if err := c.Connect(); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	waitFor(t, time.Second, func() bool { return fc.connCount() == 1 })

	fc.send(t, 0, Envelope{Type: TypeAuthError})
	waitFor(t, time.Second, func() bool { return c.Status() == StatusError || fcAuthSeen(c) })
	fc.conn(0).Close()

	waitFor(t, time.Second, func() bool { return c.Status() == StatusError })

	// No redial happens on bad credentials.
	time.Sleep(100 * time.Millisecond)
	if fc.connCount() != 1 {
		t.Errorf("client redialed %d times after auth error", fc.connCount()-1)
	}
}

func fcAuthSeen(c *Client) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authFailed
}
