package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"time"
)

// Send performs one request/response exchange with the owner. timeout
// bounds the whole exchange.
func Send(ctx context.Context, path string, req Request, timeout time.Duration) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return Response{}, err
	}
	defer conn.Close()

	deadline, _ := ctx.Deadline()
	if err := conn.SetDeadline(deadline); err != nil {
		return Response{}, fmt.Errorf("set deadline: %w", err)
	}

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return Response{}, fmt.Errorf("encode request: %w", err)
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}

	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}

// Probe checks whether a responsive owner is currently listening on path.
func Probe(ctx context.Context, path string, timeout time.Duration) (bool, error) {
	_, err := Send(ctx, path, Request{Command: "status"}, timeout)
	switch {
	case err == nil:
		return true, nil
	case noOwner(err):
		return false, nil
	default:
		return false, fmt.Errorf("probe socket: %w", err)
	}
}

// Forward sends req to the owner session. handled is false when no owner
// is listening; a response with OK=false is returned as an error.
func Forward(ctx context.Context, path string, req Request, timeout time.Duration) (Response, bool, error) {
	resp, err := Send(ctx, path, req, timeout)
	if err != nil {
		if noOwner(err) {
			return Response{}, false, nil
		}
		return Response{}, true, fmt.Errorf("forward command %q: %w", req.Command, err)
	}
	if !resp.OK {
		msg := resp.Error
		if msg == "" {
			msg = fmt.Sprintf("command %q rejected", req.Command)
		}
		return resp, true, errors.New(msg)
	}
	return resp, true, nil
}

// noOwner reports dial failures that mean nobody is listening: the socket
// file is gone or nothing accepts on it.
func noOwner(err error) bool {
	return errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ECONNREFUSED)
}
