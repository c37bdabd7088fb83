package sockets

import (
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var ErrClosed = errors.New("closed connection")

type Connection interface {
	Send(msg Msg) error
	io.Closer
}

// Msg is the message structure.
type Msg struct {
	Body []byte
}

// Conn is one accepted websocket client. Writes go through a bounded queue
// so a slow client never blocks a broadcast.
type Conn struct {
	ws      *websocket.Conn
	hub     *Hub
	send    chan []byte
	once    sync.Once
	closing chan struct{}
}

// Closes the connection.
func (c *Conn) Close() error {
	c.once.Do(func() {
		close(c.closing)
		c.hub.remove(c)
	})
	return nil
}

func (c *Conn) Send(msg Msg) error {
	select {
	case <-c.closing:
		return ErrClosed
	default:
	}
	select {
	case c.send <- msg.Body:
		return nil
	default:
		c.Close()
		return errors.New("send queue full")
	}
}

func (c *Conn) writeLoop() {
	var ping <-chan time.Time
	if c.hub.pingInterval > 0 {
		ticker := time.NewTicker(c.hub.pingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}
	defer c.ws.Close()

	for {
		select {
		case <-c.closing:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.hub.writeTimeout))
			return
		case body := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.hub.writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, body); err != nil {
				c.hub.fail(err)
				c.Close()
				return
			}
		case <-ping:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.hub.writeTimeout)); err != nil {
				c.hub.fail(err)
				c.Close()
				return
			}
		}
	}
}

// readLoop discards client messages and notices when the client goes away.
func (c *Conn) readLoop() {
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.hub.fail(err)
			}
			c.Close()
			return
		}
	}
}

// Hub accepts websocket clients and broadcasts to all of them.
type Hub struct {
	upgrader     websocket.Upgrader
	pingInterval time.Duration
	writeTimeout time.Duration
	queueSize    int
	onError      func(err error)
	onConnected  func(Connection)

	mu     sync.Mutex
	conns  map[*Conn]struct{}
	closed bool
}

func New(opts ...func(*Hub)) *Hub {
	h := &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		writeTimeout: 10 * time.Second,
		queueSize:    32,
		conns:        make(map[*Conn]struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.fail(err)
		return
	}
	c := &Conn{
		ws:      ws,
		hub:     h,
		send:    make(chan []byte, h.queueSize),
		closing: make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		ws.Close()
		return
	}
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	go c.writeLoop()
	go c.readLoop()
	if h.onConnected != nil {
		h.onConnected(c)
	}
}

// Broadcast queues body for every client.
func (h *Hub) Broadcast(body []byte) {
	for _, c := range h.connections() {
		_ = c.Send(Msg{Body: body})
	}
}

func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	for _, c := range h.connections() {
		c.Close()
	}
	return nil
}

func (h *Hub) connections() []*Conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Conn, 0, len(h.conns))
	for c := range h.conns {
		out = append(out, c)
	}
	return out
}

func (h *Hub) remove(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, c)
}

func (h *Hub) fail(err error) {
	if h.onError != nil {
		h.onError(err)
	}
}
