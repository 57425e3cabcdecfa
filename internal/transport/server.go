// Package transport serves the experiment protocol as newline-delimited
// JSON over TCP.
//
// Each line a client writes is one request; the server answers with
// exactly one line. Requests from every connection funnel into the
// engine's request loop, so they are applied one at a time in arrival
// order. An exit request closes its connection after the reply.
package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/psyserve/internal/core"
)

// DefaultMaxLineBytes bounds a single request line.
const DefaultMaxLineBytes = 4 << 20

// Handler answers one request. *engine.Engine satisfies it through Submit.
type Handler interface {
	Submit(ctx context.Context, req core.Request) (core.Response, error)
}

// Server accepts protocol connections.
type Server struct {
	Handler      Handler
	Logger       *slog.Logger
	MaxLineBytes int

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
}

// NewServer returns a server dispatching to h.
func NewServer(h Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		Handler:      h,
		Logger:       logger,
		MaxLineBytes: DefaultMaxLineBytes,
	}
}

// ListenAndServe listens on addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then closes the
// listener and every open connection and waits for their handlers.
// Returns nil on a clean shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)
	s.Logger.Info("listening", "addr", ln.Addr().String())

	g.Go(func() error {
		<-gctx.Done()
		ln.Close()
		s.closeAll()
		return nil
	})

	g.Go(func() error {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("accept: %w", err)
			}
			if !s.track(conn) {
				conn.Close()
				return nil
			}
			g.Go(func() error {
				defer s.untrack(conn)
				s.serveConn(gctx, conn)
				return nil
			})
		}
	})

	err := g.Wait()
	s.Logger.Info("listener closed", "addr", ln.Addr().String())
	return err
}

// track registers conn for shutdown. It reports false once shutdown began.
func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if s.conns == nil {
		s.conns = make(map[net.Conn]struct{})
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
	conn.Close()
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for conn := range s.conns {
		conn.Close()
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	remote := conn.RemoteAddr().String()
	s.Logger.Info("client connected", "remote", remote)
	defer s.Logger.Info("client disconnected", "remote", remote)

	maxLine := s.MaxLineBytes
	if maxLine <= 0 {
		maxLine = DefaultMaxLineBytes
	}
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64<<10), maxLine)

	w := bufio.NewWriter(conn)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req core.Request
		var reply any
		if err := json.Unmarshal(line, &req); err != nil {
			reply = core.Reply(core.NewProtocolError("malformed request: %v", err))
		} else {
			resp, err := s.Handler.Submit(ctx, req)
			if err != nil {
				reply = core.Reply(err)
			} else {
				reply = resp
			}
		}

		if err := enc.Encode(reply); err != nil {
			s.Logger.Warn("encode reply", "remote", remote, "error", err)
			return
		}
		if err := w.Flush(); err != nil {
			s.Logger.Warn("write reply", "remote", remote, "error", err)
			return
		}

		if req.Type == core.MessageExit {
			return
		}
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.Logger.Warn("read request", "remote", remote, "error", err)
	}
}
