package devserver

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lumen-dev/lumen/pkg/protocol"
)

// sendQueueSize bounds the per-connection outbound queue. Writes are FIFO;
// the queue is drained by a single writer goroutine per connection.
const sendQueueSize = 32

// client is one connected live instance.
type client struct {
	id       string
	instance string
	conn     *websocket.Conn
	logger   *slog.Logger

	send chan []byte
	done chan struct{}

	closeOnce sync.Once

	mu          sync.Mutex
	ready       bool
	awaitingAck bool
	pending     *protocol.Reload // Newest un-sent reload while awaiting an ack
	ackedSeq    uint64
	lastPong    time.Time
}

func newClient(id, instance string, conn *websocket.Conn, logger *slog.Logger) *client {
	return &client{
		id:       id,
		instance: instance,
		conn:     conn,
		logger:   logger.With("client", id),
		send:     make(chan []byte, sendQueueSize),
		done:     make(chan struct{}),
		lastPong: time.Now(),
	}
}

// enqueue places an encoded message on the FIFO send queue.
func (c *client) enqueue(data []byte) {
	select {
	case c.send <- data:
	case <-c.done:
	}
}

// enqueueMessage encodes and queues a protocol message.
func (c *client) enqueueMessage(mt protocol.MessageType, msg any) {
	data, err := protocol.EncodeMessage(mt, msg)
	if err != nil {
		c.logger.Error("encode error", "type", mt, "error", err)
		return
	}
	c.enqueue(data)
}

// offerReload delivers a reload, superseding any un-acked predecessor.
// A reload goes on the wire only when the client has sent Ready and has
// acked the previous reload; until then only the newest one is kept in the
// pending slot. An older reload is never delivered after a newer one.
func (c *client) offerReload(r *protocol.Reload) {
	c.mu.Lock()
	if !c.ready || c.awaitingAck {
		c.pending = r
		c.mu.Unlock()
		return
	}
	c.awaitingAck = true
	c.mu.Unlock()

	c.enqueueMessage(protocol.MsgReload, r)
}

// handleAck processes a client ack, releasing or forwarding the pending
// reload.
func (c *client) handleAck(ack *protocol.Ack) {
	c.mu.Lock()
	c.ackedSeq = ack.Seq
	next := c.pending
	c.pending = nil
	if next == nil {
		c.awaitingAck = false
	}
	c.mu.Unlock()

	if !ack.Applied {
		c.logger.Warn("client failed to apply reload", "seq", ack.Seq)
	}
	if next != nil {
		c.enqueueMessage(protocol.MsgReload, next)
	}
}

// markReady records that the client finished applying its initial program
// and flushes the newest pending reload, if any.
func (c *client) markReady() {
	c.mu.Lock()
	c.ready = true
	next := c.pending
	c.pending = nil
	if next != nil {
		c.awaitingAck = true
	}
	c.mu.Unlock()

	if next != nil {
		c.enqueueMessage(protocol.MsgReload, next)
	}
}

// markPong records heartbeat liveness.
func (c *client) markPong() {
	c.mu.Lock()
	c.lastPong = time.Now()
	c.mu.Unlock()
}

// sincePong returns how long ago the last pong (or the handshake) was.
func (c *client) sincePong() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastPong)
}

// writeLoop drains the send queue. Per-connection message order is FIFO by
// construction: exactly one writer per connection.
func (c *client) writeLoop() {
	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				c.logger.Debug("write error", "error", err)
				c.close(protocol.CloseReason("write error"))
				return
			}
		case <-c.done:
			return
		}
	}
}

// close sends a close frame with the given reason and tears the connection
// down. Safe to call from any goroutine, more than once.
func (c *client) close(reason protocol.CloseReason) {
	c.closeOnce.Do(func() {
		close(c.done)
		deadline := time.Now().Add(time.Second)
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(reason)),
			deadline)
		c.conn.Close()
	})
}
