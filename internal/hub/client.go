package hub

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	logx "studiorelay/pkg/logx"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Overlay documents are small;
	// this bound only guards against runaway frames.
	maxMessageSize = 1 << 20

	sendBufferSize = 64
)

// ConnState is the connection lifecycle: connecting → open → closing → closed.
// Only open connections are eligible fan-out targets.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Client is one duplex channel to a viewer or controller.
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	log  logx.Logger

	state atomic.Int32

	// sendMu orders enqueue against shutdown: shutdown is called from the
	// client's own Run goroutine while the relay loop is publishing, and a
	// send must never race the close.
	sendMu sync.Mutex
	closed bool
	send   chan []byte
}

func NewClient(h *Hub, conn *websocket.Conn, log logx.Logger) *Client {
	id := ulid.Make().String()
	return &Client{
		id:   id,
		hub:  h,
		conn: conn,
		log:  log.With(logx.String("client", id)),
		send: make(chan []byte, sendBufferSize),
	}
}

func (c *Client) ID() string { return c.id }

func (c *Client) State() ConnState { return ConnState(c.state.Load()) }

// MarkOpen transitions connecting → open after the init snapshot has been
// queued. Fan-out skips the client until then.
func (c *Client) MarkOpen() {
	c.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen))
}

// Outbox exposes the serialized frames queued for the peer, normally
// drained by Run's write pump. Embedders (and tests) may consume it
// directly when they own the transport.
func (c *Client) Outbox() <-chan []byte { return c.send }

// Send queues a message for this connection only. Used for the handshake
// init snapshot, which is a per-connection contract and must not go through
// Publish. It reports whether the message was queued.
func (c *Client) Send(data []byte) bool { return c.enqueue(data) }

// enqueue offers a serialized message to the client's writer without
// blocking. It reports whether the message was queued. A shut-down client
// silently refuses the message.
func (c *Client) enqueue(data []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// shutdown moves the client out of the fan-out set and wakes the writePump.
// Idempotent; called by the hub on unregister.
func (c *Client) shutdown() {
	c.state.Store(int32(StateClosing))
	c.sendMu.Lock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	c.sendMu.Unlock()
}

// Run drives the read and write pumps until the peer disconnects, a
// transport error occurs, or ctx is canceled. Each inbound frame is handed
// to onFrame; a malformed frame is the handler's problem and never
// terminates the connection.
func (c *Client) Run(ctx context.Context, onFrame func(frame []byte)) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.writePump()
	}()

	c.readPump(ctx, onFrame)

	// Reader is gone: take the client out of the registry (closing the send
	// channel), let the writer drain and exit.
	c.hub.Unregister(c)
	<-done
	c.state.Store(int32(StateClosed))
	_ = c.conn.Close()
}

func (c *Client) readPump(ctx context.Context, onFrame func(frame []byte)) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if ctx.Err() != nil {
			return
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("read failed", logx.Err(err))
			} else {
				c.log.Debug("client disconnected")
			}
			return
		}
		onFrame(data)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.log.Debug("write failed", logx.Err(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
