// Package server hosts one foliant database behind a TCP listener.
//
// The protocol is the client package's: newline-delimited JSON, one
// response envelope per request, in order, per connection. Each connection
// gets its own goroutine; the database itself serializes writers, so the
// server adds no locking of its own.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/foliantdb/foliant/pkg/engine"
	"github.com/foliantdb/foliant/pkg/foliant"
)

// OpCompact is the reserved wire operation that triggers a log compaction.
// It is handled here, not in the engine: compaction belongs to the
// persistence core, and it runs on the asking connection's goroutine so the
// caller gets its outcome.
const OpCompact = "compact"

// response is the wire envelope, one per request.
type response struct {
	OK     bool   `json:"ok"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Options configure a server.
type Options struct {
	// Logger receives connection lifecycle and failure diagnostics.
	// Defaults to a disabled logger.
	Logger *slog.Logger

	// ConnTimeout is the per-connection idle read deadline. Zero means no
	// deadline: a silent client holds its goroutine forever.
	ConnTimeout time.Duration

	// CloseTimeout is the drain budget handed to the database when the
	// server shuts down.
	CloseTimeout time.Duration
}

// Server hosts one database instance.
type Server struct {
	db   *foliant.DB
	log  *slog.Logger
	opts Options

	mu       sync.Mutex
	listener net.Listener
	stopping bool

	stop     chan struct{}
	handlers sync.WaitGroup
}

// New returns a server for db. The server owns db from here on: Shutdown
// closes it.
func New(db *foliant.DB, opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	return &Server{
		db:   db,
		log:  log,
		opts: opts,
		stop: make(chan struct{}),
	}
}

// ListenAndServe binds addr and serves until Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown closes it. It returns nil
// on a clean shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()

	if s.stopping {
		s.mu.Unlock()
		_ = ln.Close()

		return errors.New("server: already shut down")
	}

	s.listener = ln
	s.mu.Unlock()

	s.log.Info("listening", "addr", ln.Addr().String())

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.stop:
				return nil
			default:
			}

			s.log.Warn("accept failed", "error", err)

			continue
		}

		s.handlers.Add(1)

		go func() {
			defer s.handlers.Done()

			s.handle(conn)
		}()
	}
}

// Shutdown stops accepting, waits for in-flight handlers (bounded by ctx),
// then closes the database with the configured drain budget. Connections
// still open when ctx ends are abandoned to their own read deadlines.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()

	if s.stopping {
		s.mu.Unlock()

		return foliant.ErrClosed
	}

	s.stopping = true
	close(s.stop)

	if s.listener != nil {
		_ = s.listener.Close()
	}

	s.mu.Unlock()

	s.log.Info("shutting down")

	drained := make(chan struct{})

	go func() {
		s.handlers.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-ctx.Done():
		s.log.Warn("shutdown proceeding with connections still open", "error", context.Cause(ctx))
	}

	err := s.db.Close(s.opts.CloseTimeout)
	if err != nil {
		return fmt.Errorf("close database: %w", err)
	}

	s.log.Info("shut down")

	return nil
}

// handle runs one connection's request loop.
func (s *Server) handle(conn net.Conn) {
	defer func() { _ = conn.Close() }()

	log := s.log.With("conn", uuid.NewString(), "remote", conn.RemoteAddr().String())
	log.Debug("connected")

	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)

	for {
		select {
		case <-s.stop:
			log.Debug("dropping connection for shutdown")

			return
		default:
		}

		if s.opts.ConnTimeout > 0 {
			err := conn.SetReadDeadline(time.Now().Add(s.opts.ConnTimeout))
			if err != nil {
				return
			}
		}

		line, err := reader.ReadBytes('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug("read failed", "error", err)
			}

			return
		}

		resp := s.execute(line)

		payload, err := json.Marshal(resp)
		if err != nil {
			// Results come from the engine's own JSON round-trip, so this
			// is a bug, not a client problem. Drop the connection rather
			// than leave it waiting for an envelope that cannot exist.
			log.Error("unencodable response", "error", err)

			return
		}

		payload = append(payload, '\n')

		_, err = writer.Write(payload)
		if err == nil {
			err = writer.Flush()
		}

		if err != nil {
			log.Debug("write failed", "error", err)

			return
		}
	}
}

// execute runs one request line against the database and shapes the
// envelope. Usage failures become ok=false envelopes; the connection stays
// healthy.
func (s *Server) execute(line []byte) response {
	var q engine.Query

	err := json.Unmarshal(line, &q)
	if err != nil {
		return response{Error: fmt.Sprintf("invalid query: %v", err)}
	}

	if q.Op == OpCompact {
		performed, err := s.db.Compact(context.Background())
		if err != nil {
			return response{Error: err.Error()}
		}

		return response{OK: true, Result: map[string]any{"compacted": performed}}
	}

	result, err := s.db.Query(context.Background(), q)
	if err != nil {
		return response{Error: err.Error()}
	}

	return response{OK: true, Result: result}
}
