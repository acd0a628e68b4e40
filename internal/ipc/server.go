package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"
)

const maxRequestBytes = 64 << 10

// Handler processes one IPC command request.
type Handler interface {
	Handle(context.Context, Request) Response
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(context.Context, Request) Response

func (f HandlerFunc) Handle(ctx context.Context, req Request) Response {
	return f(ctx, req)
}

// Server answers one request per connection.
type Server struct {
	Handler Handler
	Logger  *slog.Logger
	// IdleTimeout bounds how long a client may take to send its request.
	IdleTimeout time.Duration
}

// Serve runs a Server with default settings.
func Serve(ctx context.Context, listener net.Listener, handler Handler) error {
	return (&Server{Handler: handler}).Serve(ctx, listener)
}

// Serve accepts clients until ctx ends or the listener closes. In-flight
// requests are drained before it returns.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	stop := context.AfterFunc(ctx, func() { _ = listener.Close() })
	defer stop()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept IPC connection: %w", err)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.serveConn(ctx, conn)
		}()
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	idle := s.IdleTimeout
	if idle <= 0 {
		idle = 2 * time.Second
	}
	_ = conn.SetReadDeadline(time.Now().Add(idle))

	req, err := readRequest(conn)
	if err != nil {
		s.logger().Debug("ipc request rejected", "error", err.Error())
		_ = reply(conn, Response{Error: err.Error()})
		return
	}

	_ = conn.SetReadDeadline(time.Time{})
	resp := s.Handler.Handle(ctx, req)
	if err := reply(conn, resp); err != nil {
		s.logger().Debug("ipc reply failed", "command", req.Command, "error", err.Error())
	}
}

func (s *Server) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.Logger
}

func readRequest(r io.Reader) (Request, error) {
	line, err := bufio.NewReader(io.LimitReader(r, maxRequestBytes)).ReadBytes('\n')
	if err != nil {
		return Request{}, fmt.Errorf("read request: %w", err)
	}

	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return Request{}, fmt.Errorf("decode request: %w", err)
	}
	req.Command = strings.ToLower(strings.TrimSpace(req.Command))
	if req.Command == "" {
		return Request{}, errors.New("decode request: missing command")
	}
	return req, nil
}

func reply(w io.Writer, resp Response) error {
	return json.NewEncoder(w).Encode(resp)
}
