// Package frontend serves the line protocol clients use to drive the
// simulator. Each request is one line:
//
//	command|arg1|arg2|...
//
// and is answered with ok|command[|result] or error|command|message[|result].
// Results that are not strings are JSON encoded.
package frontend

import (
	"bufio"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"

	"github.com/stagesim/pioneer/internal/device"
	"github.com/stagesim/pioneer/internal/dispatcher"
	"github.com/stagesim/pioneer/internal/queue"
	"github.com/stagesim/pioneer/internal/util"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
)

const (
	// maxLineSize bounds a single request line.
	maxLineSize = 64 * 1024
	// outboxLimit bounds the replies and packets waiting for a slow client.
	outboxLimit = 1024

	cmdSubscribe   = "subscribe"
	cmdUnsubscribe = "unsubscribe"
	cmdPacket      = "position.data"
)

// ErrNotListening is returned by Serve before Listen succeeded.
var ErrNotListening = errors.New("frontend is not listening")

// Handler routes a parsed request. *dispatcher.Dispatcher satisfies it.
type Handler interface {
	Dispatch(dispatcher.Event) (any, error)
}

// Server accepts line protocol clients over TCP or any reader/writer pair.
type Server struct {
	handler Handler
	logger  *slog.Logger

	mu      sync.Mutex
	ln      net.Listener
	conns   map[net.Conn]struct{}
	clients map[*client]struct{}
	closed  bool
	wg      sync.WaitGroup
}

// New creates a Server. A nil logger uses slog.Default().
func New(handler Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		handler: handler,
		logger:  logger.With("component", "frontend"),
		conns:   make(map[net.Conn]struct{}),
		clients: make(map[*client]struct{}),
	}
}

// HandleLine dispatches one request line and returns the reply. Blank
// lines yield an empty reply.
func (s *Server) HandleLine(line string) string {
	line = strings.TrimSpace(line)
	if line == "" {
		return ""
	}
	fields := util.SplitFields(line, util.FieldSeparator)
	command := util.TrimQuotes(strings.TrimSpace(fields[0]))

	result, err := s.handler.Dispatch(dispatcher.Event{
		Command: command,
		Args:    fields[1:],
	})
	if err != nil {
		reply := "error|" + command + "|" + sanitize(err.Error())
		if result != nil {
			reply += "|" + formatResult(result)
		}
		return reply
	}
	if result == nil {
		return "ok|" + command
	}
	return "ok|" + command + "|" + formatResult(result)
}

func formatResult(v any) string {
	if s, ok := v.(string); ok {
		return sanitize(s)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sanitize(fmt.Sprintf("%v", v))
	}
	return string(b)
}

// sanitize keeps a value on a single line.
func sanitize(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}

// ServeConn answers requests read from r on w until r is exhausted or ctx
// is done. Queued replies are flushed before it returns.
func (s *Server) ServeConn(ctx context.Context, r io.Reader, w io.Writer) error {
	c := newClient(w)
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	go c.writeLoop()
	defer func() {
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
		c.stop()
	}()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxLineSize)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case cmdSubscribe:
			c.subscribed.Store(true)
			c.send("ok|" + cmdSubscribe)
		case cmdUnsubscribe:
			c.subscribed.Store(false)
			c.send("ok|" + cmdUnsubscribe)
		default:
			c.send(s.HandleLine(line))
		}
	}
	return scanner.Err()
}

// Broadcast queues line for every subscribed client.
func (s *Server) Broadcast(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		if c.subscribed.Load() {
			c.send(line)
		}
	}
}

// PacketSink streams odometry records to subscribed clients as hex.
func (s *Server) PacketSink() device.PacketSink {
	return func(id string, packet []byte) {
		s.Broadcast(cmdPacket + "|" + id + "|" + hex.EncodeToString(packet))
	}
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Listen opens the TCP listener and returns its address.
func (s *Server) Listen(addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.closed = false
	s.mu.Unlock()
	s.logger.Info("frontend listening", "address", ln.Addr().String())
	return ln.Addr(), nil
}

// Serve accepts connections until ctx is done or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return ErrNotListening
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-stop:
		}
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() {
				s.wg.Wait()
				return nil
			}
			return fmt.Errorf("accepting connection: %w", err)
		}

		if !s.track(conn) {
			_ = conn.Close()
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)

			remote := conn.RemoteAddr().String()
			s.logger.Debug("client connected", "remote", remote)
			if err := s.ServeConn(ctx, conn, conn); err != nil && !s.isClosed() {
				s.logger.Warn("client connection failed", "remote", remote, "error", err)
			}
			s.logger.Debug("client disconnected", "remote", remote)
		}()
	}
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	_ = conn.Close()
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close stops accepting and disconnects every client.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var err error
	if s.ln != nil {
		err = multierr.Append(err, s.ln.Close())
	}
	for conn := range s.conns {
		err = multierr.Append(err, ignoreClosed(conn.Close()))
	}
	return err
}

func ignoreClosed(err error) error {
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// client owns the outbox of one connection. Replies and streamed packets
// share it so a slow reader cannot block the simulator.
type client struct {
	w          io.Writer
	outbox     *queue.Queue[string]
	notify     chan struct{}
	done       chan struct{}
	finished   chan struct{}
	subscribed atomic.Bool
	broken     atomic.Bool
}

func newClient(w io.Writer) *client {
	return &client{
		w:        w,
		outbox:   queue.NewBounded[string](outboxLimit),
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
}

func (c *client) send(line string) {
	if line == "" || c.broken.Load() {
		return
	}
	c.outbox.Push(line)
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *client) writeLoop() {
	defer close(c.finished)
	for {
		select {
		case <-c.notify:
			c.flush()
		case <-c.done:
			c.flush()
			return
		}
	}
}

func (c *client) flush() {
	for !c.broken.Load() {
		line, ok := c.outbox.Pop()
		if !ok {
			return
		}
		if _, err := io.WriteString(c.w, line+"\n"); err != nil {
			c.broken.Store(true)
		}
	}
}

// stop flushes what is queued and ends the write loop.
func (c *client) stop() {
	close(c.done)
	<-c.finished
}
