package websocket

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"topicmeet/internal/infrastructure/metrics"
	"topicmeet/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 * 1024
	sendBufferSize = 64
)

// Client is one WebSocket connection. Everything a client starts
// (heartbeats, listeners) is tracked on it and released when the
// connection ends.
type Client struct {
	UserID string
	Conn   *websocket.Conn
	Send   chan []byte

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	resources map[string]func()
	order     []string
	closed    bool
	sendOnce  sync.Once
}

func NewClient(ctx context.Context, userID string, conn *websocket.Conn) *Client {
	ctx, cancel := context.WithCancel(ctx)
	return &Client{
		UserID:    userID,
		Conn:      conn,
		Send:      make(chan []byte, sendBufferSize),
		ctx:       ctx,
		cancel:    cancel,
		resources: make(map[string]func()),
	}
}

// Context is cancelled when the connection ends.
func (c *Client) Context() context.Context {
	return c.ctx
}

// Track registers release under key. A resource already tracked under the
// same key is released first. Tracking on a closed client releases
// immediately.
func (c *Client) Track(key string, release func()) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		release()
		return
	}
	old, ok := c.resources[key]
	c.resources[key] = release
	if !ok {
		c.order = append(c.order, key)
	}
	c.mu.Unlock()

	if ok {
		old()
	}
}

// Release runs and forgets the resource under key. It reports whether one
// was tracked.
func (c *Client) Release(key string) bool {
	c.mu.Lock()
	release, ok := c.resources[key]
	if ok {
		delete(c.resources, key)
		c.order = removeKey(c.order, key)
	}
	c.mu.Unlock()

	if ok {
		release()
	}
	return ok
}

func (c *Client) Tracked(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.resources[key]
	return ok
}

// CountPrefix reports how many tracked keys start with prefix.
func (c *Client) CountPrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, k := range c.order {
		if strings.HasPrefix(k, prefix) {
			n++
		}
	}
	return n
}

// releaseAll runs every tracked release, newest first.
func (c *Client) releaseAll() {
	c.mu.Lock()
	c.closed = true
	order := c.order
	resources := c.resources
	c.order = nil
	c.resources = make(map[string]func())
	c.mu.Unlock()

	for i := len(order) - 1; i >= 0; i-- {
		resources[order[i]]()
	}
}

func removeKey(keys []string, key string) []string {
	for i, k := range keys {
		if k == key {
			return append(keys[:i], keys[i+1:]...)
		}
	}
	return keys
}

func (c *Client) closeSend() {
	c.sendOnce.Do(func() { close(c.Send) })
}

// Manager keeps the open connections of every user. A user may hold
// several connections at once.
type Manager struct {
	clients map[string]map[*Client]struct{}
	mutex   sync.RWMutex
	// live counts registered clients whose read pump has not finished
	// releasing yet.
	live sync.WaitGroup
}

func NewManager() *Manager {
	return &Manager{
		clients: make(map[string]map[*Client]struct{}),
	}
}

func (m *Manager) Register(c *Client) {
	m.mutex.Lock()
	set, ok := m.clients[c.UserID]
	if !ok {
		set = make(map[*Client]struct{})
		m.clients[c.UserID] = set
	}
	set[c] = struct{}{}
	m.live.Add(1)
	m.mutex.Unlock()

	metrics.IncWSActive()
	logger.Debug("Client registered: %s", c.UserID)
}

func (m *Manager) Unregister(c *Client) {
	m.mutex.Lock()
	set, ok := m.clients[c.UserID]
	if ok {
		if _, ok = set[c]; ok {
			delete(set, c)
			if len(set) == 0 {
				delete(m.clients, c.UserID)
			}
		}
	}
	m.mutex.Unlock()

	if ok {
		m.live.Done()
		c.closeSend()
		metrics.DecWSActive()
		logger.Debug("Client unregistered: %s", c.UserID)
	}
}

func (m *Manager) clientsOf(userID string) []*Client {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	out := make([]*Client, 0, len(m.clients[userID]))
	for c := range m.clients[userID] {
		out = append(out, c)
	}
	return out
}

// SendToUser queues message on every connection of the user. A connection
// whose buffer is full is dropped.
func (m *Manager) SendToUser(userID string, message []byte) {
	for _, c := range m.clientsOf(userID) {
		if !c.Queue(message) {
			logger.Warn("Dropping slow client of %s", userID)
			c.Conn.Close()
		}
	}
}

// DisconnectUser closes every connection of the user. Their read pumps
// then release whatever the sessions held.
func (m *Manager) DisconnectUser(userID string) int {
	clients := m.clientsOf(userID)
	for _, c := range clients {
		c.Conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "signed out"),
			time.Now().Add(writeWait))
		c.Conn.Close()
	}
	return len(clients)
}

func (m *Manager) ConnectedUsers() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.clients)
}

func (m *Manager) IsConnected(userID string) bool {
	return m.Connections(userID) > 0
}

func (m *Manager) Connections(userID string) int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.clients[userID])
}

// CloseAll closes every connection and waits until each session has
// released what it held, or ctx ends.
func (m *Manager) CloseAll(ctx context.Context) error {
	m.mutex.RLock()
	var all []*Client
	for _, set := range m.clients {
		for c := range set {
			all = append(all, c)
		}
	}
	m.mutex.RUnlock()

	for _, c := range all {
		c.Conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		c.Conn.Close()
	}

	done := make(chan struct{})
	go func() {
		m.live.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Queue puts message on the send buffer without blocking.
func (c *Client) Queue(message []byte) (ok bool) {
	defer func() {
		// Send is closed once the client is unregistered.
		if recover() != nil {
			ok = false
		}
	}()

	select {
	case c.Send <- message:
		return true
	default:
		return false
	}
}

// ReadPump reads messages from the connection and hands them to router
// until the connection fails. It releases the client's resources and
// unregisters it on every exit path.
func (c *Client) ReadPump(m *Manager, router *Router) {
	defer func() {
		c.cancel()
		c.releaseAll()
		m.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("WebSocket read error for %s: %v", c.UserID, err)
			}
			return
		}
		router.Dispatch(c, message)
	}
}

// WritePump writes queued messages and keeps the connection alive with
// pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Warn("WebSocket write error for %s: %v", c.UserID, err)
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
