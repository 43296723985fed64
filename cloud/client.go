package cloud

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	ping "github.com/prometheus-community/pro-bing"
)

// Status is the CloudSession connection state.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	default:
		return "disconnected"
	}
}

// Config holds the cloud session settings.
type Config struct {
	URL                   string
	AuthToken             string
	ReconnectInterval     time.Duration
	MaxReconnectAttempts  int
	InitSettleDelay       time.Duration
	RingCapacity          int
	HandshakeTimeout      time.Duration
	SkipReachabilityProbe bool
}

// DefaultClientConfig returns the settings used in production.
func DefaultClientConfig(wsURL, authToken string) Config {
	return Config{
		URL:                  wsURL,
		AuthToken:            authToken,
		ReconnectInterval:    5 * time.Second,
		MaxReconnectAttempts: 10,
		InitSettleDelay:      300 * time.Millisecond,
		RingCapacity:         100,
		HandshakeTimeout:     10 * time.Second,
	}
}

// Handler consumes one inbound control message's payload.
type Handler func(payload json.RawMessage)

// Client is the cloud transport: one WebSocket session carrying JSON control
// messages and binary audio frames, with supervised reconnect and a bounded
// drop-oldest outbound audio buffer.
type Client struct {
	cfg       Config
	sessionID string
	ring      *FrameRing

	mu         sync.RWMutex
	conn       *websocket.Conn
	status     Status
	attempts   int
	authFailed bool

	handlers      map[string]Handler
	binaryHandler func(data []byte)
	statusCb      func(Status)

	writeMu    sync.Mutex
	stopChan   chan struct{}
	stopOnce   sync.Once
	senderOnce sync.Once
}

// NewClient builds a client; Connect establishes the session.
func NewClient(cfg Config) *Client {
	if cfg.RingCapacity <= 0 {
		cfg.RingCapacity = 100
	}
	return &Client{
		cfg:       cfg,
		sessionID: uuid.NewString(),
		ring:      NewFrameRing(cfg.RingCapacity),
		handlers:  make(map[string]Handler),
		stopChan:  make(chan struct{}),
	}
}

// SessionID returns the id carried in connection_init.
func (c *Client) SessionID() string { return c.sessionID }

// Status returns the current session state.
func (c *Client) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Ring exposes the outbound audio buffer, mainly for status reporting.
func (c *Client) Ring() *FrameRing { return c.ring }

// OnMessage registers the handler for one control message type. Types with
// no handler are logged and ignored, never fatal.
func (c *Client) OnMessage(msgType string, h Handler) {
	c.mu.Lock()
	c.handlers[msgType] = h
	c.mu.Unlock()
}

// OnBinary registers the sink for inbound binary frames.
func (c *Client) OnBinary(h func(data []byte)) {
	c.mu.Lock()
	c.binaryHandler = h
	c.mu.Unlock()
}

// OnStatus registers the session status callback.
func (c *Client) OnStatus(cb func(Status)) {
	c.mu.Lock()
	c.statusCb = cb
	c.mu.Unlock()
}

// Connect dials the cloud and starts the receive and sender loops. Later
// disconnects reconnect automatically; the initial dial reports its error
// to the caller instead.
func (c *Client) Connect() error {
	c.setStatus(StatusConnecting)
	if err := c.dial(); err != nil {
		c.setStatus(StatusError)
		return err
	}
	return nil
}

// Disconnect ends the session for good; no reconnect follows.
func (c *Client) Disconnect() {
	c.stopOnce.Do(func() { close(c.stopChan) })
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	c.setStatus(StatusDisconnected)
	log.Println("CLOUD: disconnected")
}

func (c *Client) dial() error {
	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	conn, _, err := dialer.Dial(c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("cloud dial: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.attempts = 0
	c.mu.Unlock()
	c.setStatus(StatusConnected)
	log.Printf("CLOUD: connected, session %s", c.sessionID)

	go c.readLoop(conn)
	c.senderOnce.Do(func() { go c.senderLoop() })
	c.ring.wake()

	// The server expects a short settle before the init message.
	go func() {
		select {
		case <-time.After(c.cfg.InitSettleDelay):
		case <-c.stopChan:
			return
		}
		err := c.sendEnvelope(TypeConnectionInit, ConnectionInitPayload{
			AuthToken: c.cfg.AuthToken,
			SessionID: c.sessionID,
		})
		if err != nil {
			log.Printf("CLOUD: connection_init failed: %v", err)
		}
	}()
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("CLOUD: PANIC in read loop: %v", r)
		}
		c.handleDisconnect(conn)
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType == websocket.BinaryMessage {
			c.mu.RLock()
			h := c.binaryHandler
			c.mu.RUnlock()
			if h != nil {
				h(data)
			}
			continue
		}
		c.handleControl(data)
	}
}

// handleControl dispatches one inbound JSON message by its type field.
func (c *Client) handleControl(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Printf("CLOUD: malformed control message dropped: %v", err)
		return
	}

	if env.Type == TypeAuthError {
		// Credentials are bad; retrying with the same token is pointless.
		log.Println("CLOUD: auth error, reconnect disabled until new credentials")
		c.mu.Lock()
		c.authFailed = true
		c.mu.Unlock()
	}

	c.mu.RLock()
	h, ok := c.handlers[env.Type]
	c.mu.RUnlock()
	if !ok {
		log.Printf("CLOUD: no handler for message type %q, ignored", env.Type)
		return
	}
	h(env.Payload)
}

// handleDisconnect runs once per dropped connection and decides whether the
// supervised reconnect kicks in.
func (c *Client) handleDisconnect(conn *websocket.Conn) {
	conn.Close()
	c.mu.Lock()
	if c.conn != conn {
		// A newer session already replaced this one.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	authFailed := c.authFailed
	c.mu.Unlock()

	select {
	case <-c.stopChan:
		return
	default:
	}

	if authFailed {
		c.setStatus(StatusError)
		return
	}

	log.Println("CLOUD: connection lost, reconnecting")
	c.setStatus(StatusConnecting)
	go c.reconnectLoop()
}

// reconnectLoop retries at a fixed interval up to the configured bound. An
// unreachable network skips the dial without consuming an attempt; the
// attempt counter resets on success.
func (c *Client) reconnectLoop() {
	for {
		select {
		case <-time.After(c.cfg.ReconnectInterval):
		case <-c.stopChan:
			return
		}

		c.mu.RLock()
		attempts := c.attempts
		authFailed := c.authFailed
		c.mu.RUnlock()
		if authFailed {
			c.setStatus(StatusError)
			return
		}
		if attempts >= c.cfg.MaxReconnectAttempts {
			log.Printf("CLOUD: giving up after %d reconnect attempts", attempts)
			c.setStatus(StatusError)
			return
		}

		if !c.reachable() {
			log.Println("CLOUD: host unreachable, deferring reconnect")
			continue
		}

		c.mu.Lock()
		c.attempts++
		attempt := c.attempts
		c.mu.Unlock()

		if err := c.dial(); err != nil {
			log.Printf("CLOUD: reconnect attempt %d failed: %v", attempt, err)
			continue
		}
		log.Printf("CLOUD: reconnected on attempt %d", attempt)
		return
	}
}

// reachable probes the cloud host before burning a reconnect attempt on a
// dead network.
func (c *Client) reachable() bool {
	if c.cfg.SkipReachabilityProbe {
		return true
	}
	u, err := url.Parse(c.cfg.URL)
	if err != nil || u.Hostname() == "" {
		return true
	}
	pinger, err := ping.NewPinger(u.Hostname())
	if err != nil {
		// Can't probe; let the dial decide.
		return true
	}
	pinger.Count = 1
	pinger.Timeout = 1 * time.Second
	pinger.SetPrivileged(true)
	if err := pinger.Run(); err != nil {
		return true
	}
	return pinger.Statistics().PacketsRecv > 0
}

// SendControl writes one JSON control message; it fails fast when the
// session is down rather than queueing.
func (c *Client) SendControl(v interface{}) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("cloud session not connected")
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(v)
}

func (c *Client) sendEnvelope(msgType string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.SendControl(Envelope{Type: msgType, Payload: raw})
}

// SendEvent publishes a typed control message upstream.
func (c *Client) SendEvent(msgType string, payload interface{}) error {
	return c.sendEnvelope(msgType, payload)
}

// SendAudio enqueues one encoded frame. The bounded ring absorbs it whether
// or not the session is up; overflow drops the oldest frame.
func (c *Client) SendAudio(frame []byte) {
	c.ring.Push(frame)
}

// senderLoop drains the audio ring while connected. A frame that cannot be
// transmitted is re-queued under the same drop-oldest bound rather than
// discarded silently.
func (c *Client) senderLoop() {
	for {
		select {
		case <-c.stopChan:
			return
		case <-c.ring.C():
		}

		for {
			c.mu.RLock()
			conn := c.conn
			c.mu.RUnlock()
			if conn == nil {
				break
			}
			frame, ok := c.ring.Pop()
			if !ok {
				break
			}
			c.writeMu.Lock()
			err := conn.WriteMessage(websocket.BinaryMessage, frame)
			c.writeMu.Unlock()
			if err != nil {
				c.ring.Requeue(frame)
				break
			}
		}
	}
}

func (c *Client) setStatus(s Status) {
	c.mu.Lock()
	changed := c.status != s
	c.status = s
	cb := c.statusCb
	c.mu.Unlock()
	if changed && cb != nil {
		cb(s)
	}
}
