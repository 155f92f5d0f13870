// Package devserver accepts persistent connections from running live
// instances and pushes reloads, compile errors, and heartbeats to them
// over the wire protocol.
package devserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lumen-dev/lumen/internal/bus"
	"github.com/lumen-dev/lumen/internal/errors"
	"github.com/lumen-dev/lumen/internal/metrics"
	"github.com/lumen-dev/lumen/pkg/protocol"
)

// Options configures the dev server.
type Options struct {
	// Addr is the listen address, e.g. "localhost:9876".
	Addr string

	// HeartbeatInterval is the ping cadence per connection. A connection
	// that misses two intervals without a pong is closed.
	HeartbeatInterval time.Duration

	// Logger receives server logs.
	Logger *slog.Logger

	// Bus receives ClientConnected/ClientDisconnected events.
	Bus *bus.Bus

	// Metrics receives connection counters. Optional.
	Metrics *metrics.Metrics

	// Gatherer backs the /metrics endpoint. Defaults to the global one.
	Gatherer prometheus.Gatherer

	// Status is polled by the /statusz endpoint. Optional.
	Status func() string

	// OnStateReport is invoked when a client volunteers a state snapshot.
	// Optional.
	OnStateReport func(clientID string, entries []protocol.StateEntry)
}

// Server is the multi-client dev server.
type Server struct {
	opts     Options
	logger   *slog.Logger
	upgrader websocket.Upgrader

	httpServer *http.Server
	listener   net.Listener

	nextID atomic.Uint64

	mu      sync.Mutex
	clients map[string]*client
	closed  bool

	heartbeatStop chan struct{}
}

// New creates a dev server.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 10 * time.Second
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		opts:   opts,
		logger: opts.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true // Local dev tool; all origins accepted
			},
		},
		clients:       make(map[string]*client),
		heartbeatStop: make(chan struct{}),
	}
	return s
}

// Start binds the listen address and begins serving. The bind happens
// synchronously so port conflicts surface immediately.
func (s *Server) Start(ctx context.Context) error {
	r := chi.NewRouter()
	r.Get("/livereload", s.handleLivereload)
	r.Get("/statusz", s.handleStatusz)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))

	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("devserver: listen on %s: %w", s.opts.Addr, err)
	}
	s.listener = ln
	s.httpServer = &http.Server{Handler: r}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("serve error", "error", err)
		}
	}()
	go s.heartbeatLoop()

	s.logger.Info("dev server listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address, once Start has succeeded.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.opts.Addr
	}
	return s.listener.Addr().String()
}

// handleLivereload upgrades the connection and runs the handshake. A
// version mismatch closes the connection with no further messages.
func (s *Server) handleLivereload(w http.ResponseWriter, req *http.Request) {
	conn, err := s.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}

	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return
	}

	mt, msg, err := protocol.DecodeMessage(raw)
	if err != nil || mt != protocol.MsgClientHello {
		s.rejectHandshake(conn, protocol.HandshakeInvalidFormat, protocol.CloseMalformed)
		return
	}

	hello := msg.(*protocol.ClientHello)
	if hello.Version != protocol.Version {
		s.logger.Warn("rejecting client",
			"error", errors.New("E301"),
			"client_version", hello.Version,
			"server_version", protocol.Version)
		s.rejectHandshake(conn, protocol.HandshakeVersionMismatch, protocol.CloseVersionMismatch)
		return
	}

	id := fmt.Sprintf("c%d", s.nextID.Add(1))
	accepted, err := protocol.EncodeMessage(protocol.MsgServerHello, &protocol.ServerHello{
		Status:   protocol.HandshakeOK,
		ClientID: id,
	})
	if err != nil {
		conn.Close()
		return
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, accepted); err != nil {
		conn.Close()
		return
	}

	conn.SetReadDeadline(time.Time{})
	c := newClient(id, hello.Instance, conn, s.logger)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		c.close(protocol.CloseShutdown)
		return
	}
	s.clients[id] = c
	s.mu.Unlock()

	if s.opts.Metrics != nil {
		s.opts.Metrics.ConnectedClients.Inc()
	}
	s.publish(bus.Event{Kind: bus.KindClientConnected, At: time.Now(), ClientID: id})
	s.logger.Info("client connected", "client", id, "instance", hello.Instance)

	go c.writeLoop()
	s.readLoop(c)
}

// rejectHandshake sends a failing ServerHello and closes the connection.
// Nothing else is ever exchanged on a rejected connection.
func (s *Server) rejectHandshake(conn *websocket.Conn, status protocol.HandshakeStatus, reason protocol.CloseReason) {
	if data, err := protocol.EncodeMessage(protocol.MsgServerHello, &protocol.ServerHello{Status: status}); err == nil {
		conn.SetWriteDeadline(time.Now().Add(time.Second))
		conn.WriteMessage(websocket.BinaryMessage, data)
	}
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, string(reason)),
		time.Now().Add(time.Second))
	conn.Close()
}

// readLoop consumes post-handshake messages from one client. It returns
// when the connection dies; only this connection is affected by its own
// protocol errors.
func (s *Server) readLoop(c *client) {
	defer s.dropClient(c, "connection closed")

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		mt, msg, err := protocol.DecodeMessage(raw)
		if err != nil {
			c.logger.Warn("malformed message",
				"error", errors.New("E302").Wrap(err))
			c.close(protocol.CloseMalformed)
			return
		}

		switch mt {
		case protocol.MsgReady:
			c.markReady()

		case protocol.MsgAck:
			c.handleAck(msg.(*protocol.Ack))

		case protocol.MsgPong:
			c.markPong()

		case protocol.MsgStateReport:
			if s.opts.OnStateReport != nil {
				s.opts.OnStateReport(c.id, msg.(*protocol.StateReport).Entries)
			}

		default:
			c.logger.Warn("unexpected message",
				"type", mt,
				"error", errors.New("E302"))
			c.close(protocol.CloseMalformed)
			return
		}
	}
}

// dropClient unregisters and closes a client.
func (s *Server) dropClient(c *client, reason string) {
	c.close(protocol.CloseReason(reason))

	s.mu.Lock()
	_, present := s.clients[c.id]
	delete(s.clients, c.id)
	s.mu.Unlock()
	if !present {
		return
	}

	if s.opts.Metrics != nil {
		s.opts.Metrics.ConnectedClients.Dec()
	}
	s.publish(bus.Event{Kind: bus.KindClientDisconnected, At: time.Now(), ClientID: c.id, Reason: reason})
	s.logger.Info("client disconnected", "client", c.id, "reason", reason)
}

// heartbeatLoop pings every connection on a fixed interval and closes the
// ones that stopped answering. A dead connection never affects the others.
func (s *Server) heartbeatLoop() {
	ticker := time.NewTicker(s.opts.HeartbeatInterval)
	defer ticker.Stop()

	var seq uint64
	for {
		select {
		case <-s.heartbeatStop:
			return
		case <-ticker.C:
			seq++
			for _, c := range s.snapshotClients() {
				if c.sincePong() > 2*s.opts.HeartbeatInterval {
					s.dropClient(c, string(protocol.CloseHeartbeat))
					continue
				}
				c.enqueueMessage(protocol.MsgPing, &protocol.PingPong{Seq: seq})
			}
		}
	}
}

// BroadcastReload sends a reload to every connected client. Clients that
// have not acked a previous reload get only this newest one.
func (s *Server) BroadcastReload(r *protocol.Reload) {
	clients := s.snapshotClients()
	for _, c := range clients {
		c.offerReload(r)
	}
	if s.opts.Metrics != nil {
		s.opts.Metrics.ReloadBroadcasts.Inc()
	}
	s.logger.Info("reload broadcast", "seq", r.Seq, "clients", len(clients))
}

// BroadcastCompileError sends diagnostics to every connected client.
func (s *Server) BroadcastCompileError(ce *protocol.CompileError) {
	for _, c := range s.snapshotClients() {
		c.enqueueMessage(protocol.MsgCompileError, ce)
	}
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Close stops the server, closing every client connection with an explicit
// reason.
func (s *Server) Close(reason protocol.CloseReason) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	close(s.heartbeatStop)
	for _, c := range clients {
		s.dropClient(c, string(reason))
	}

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(ctx)
	}
}

// snapshotClients copies the client list out from under the lock.
func (s *Server) snapshotClients() []*client {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, c)
	}
	return out
}

// publish emits a bus event when a bus is configured.
func (s *Server) publish(ev bus.Event) {
	if s.opts.Bus != nil {
		s.opts.Bus.Publish(ev)
	}
}

// handleStatusz serves a small JSON status document.
func (s *Server) handleStatusz(w http.ResponseWriter, _ *http.Request) {
	status := "running"
	if s.opts.Status != nil {
		status = s.opts.Status()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":           status,
		"clients":          s.ClientCount(),
		"protocol_version": protocol.Version,
	})
}
