// Package realtime is a minimal Socket.IO client for the interview channel:
// it announces the session, ships recorded answers and relays transcripts.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
)

// Event names exchanged with the interview service.
const (
	EventStartInterview   = "start_interview"
	EventSendAudioChunk   = "send_audio_chunk"
	EventTranscriptResult = "transcript_result"
	EventConnected        = "connected"
	EventQuestionAudio    = "question_audio"
	EventError            = "error"
)

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second
	eventBuffer      = 64
)

// ErrClosed is returned by operations on a closed connection.
var ErrClosed = errors.New("realtime channel closed")

// Event is one inbound server event. Data is the first event argument.
type Event struct {
	Name string
	Data json.RawMessage
}

// Transcript returns the text of a transcript_result event.
func (e Event) Transcript() (string, bool) {
	if e.Name != EventTranscriptResult {
		return "", false
	}
	var payload struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(e.Data, &payload); err != nil {
		return "", false
	}
	return payload.Text, true
}

// Announcement binds the channel to an interview run.
type Announcement struct {
	SessionID    string `json:"session_id"`
	ResponseID   string `json:"response_id"`
	SessionToken string `json:"session_token"`
}

// Conn is one Socket.IO connection on the default namespace.
type Conn struct {
	ws     *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex

	ackMu   sync.Mutex
	nextAck int
	acks    map[int]chan json.RawMessage

	pingWindow time.Duration
	events     chan Event
	done       chan struct{}
	readDone   chan struct{}
	closeOnce  sync.Once
	errMu      sync.Mutex
	err        error
}

// Dialer opens connections to one service.
type Dialer struct {
	BaseURL    string
	SocketPath string
	Logger     *slog.Logger
}

// Dial connects, completes the Engine.IO and Socket.IO handshakes and starts
// the read loop.
func (d Dialer) Dial(ctx context.Context) (*Conn, error) {
	endpoint, err := SocketURL(d.BaseURL, d.SocketPath)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	ws, resp, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("connect %s: HTTP %d: %w", endpoint, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("connect %s: %w", endpoint, err)
	}

	logger := d.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	c := &Conn{
		ws:       ws,
		logger:   logger,
		acks:     make(map[int]chan json.RawMessage),
		events:   make(chan Event, eventBuffer),
		done:     make(chan struct{}),
		readDone: make(chan struct{}),
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = ws.SetReadDeadline(deadline)
	} else {
		_ = ws.SetReadDeadline(time.Now().Add(handshakeTimeout))
	}
	if err := c.handshake(); err != nil {
		_ = ws.Close()
		return nil, err
	}

	go c.readLoop()
	return c, nil
}

// SocketURL maps an http(s) service root to its Engine.IO websocket endpoint.
func SocketURL(baseURL string, socketPath string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base url scheme %q", u.Scheme)
	}
	if socketPath == "" {
		socketPath = "/socket.io/"
	}
	if !strings.HasSuffix(socketPath, "/") {
		socketPath += "/"
	}
	u.Path = strings.TrimRight(u.Path, "/") + socketPath
	u.RawQuery = url.Values{"EIO": {"4"}, "transport": {"websocket"}}.Encode()
	return u.String(), nil
}

func (c *Conn) handshake() error {
	_, msg, err := c.ws.ReadMessage()
	if err != nil {
		return fmt.Errorf("read open packet: %w", err)
	}
	if len(msg) == 0 || msg[0] != engineOpen {
		return fmt.Errorf("unexpected open packet %q", truncate(string(msg)))
	}
	var open struct {
		SID          string `json:"sid"`
		PingInterval int    `json:"pingInterval"`
		PingTimeout  int    `json:"pingTimeout"`
	}
	if err := json.Unmarshal(msg[1:], &open); err != nil {
		return fmt.Errorf("decode open packet: %w", err)
	}
	c.pingWindow = time.Duration(open.PingInterval+open.PingTimeout) * time.Millisecond

	if err := c.writeText(string([]byte{engineMessage, ioConnect})); err != nil {
		return fmt.Errorf("send connect: %w", err)
	}

	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			return fmt.Errorf("read connect reply: %w", err)
		}
		switch {
		case len(msg) == 1 && msg[0] == enginePing:
			if err := c.writeText(string(enginePong)); err != nil {
				return fmt.Errorf("send pong: %w", err)
			}
			continue
		case len(msg) < 2 || msg[0] != engineMessage:
			continue
		}

		p, err := decodeMessage(string(msg[1:]))
		if err != nil {
			return err
		}
		switch p.kind {
		case ioConnect:
			c.logger.Debug("realtime channel connected", "engine_sid", open.SID)
			return nil
		case ioConnectError:
			return fmt.Errorf("socket.io connect refused: %s", connectErrorMessage(p.data))
		}
	}
}

// Events delivers inbound events in arrival order. It is closed when the
// connection ends.
func (c *Conn) Events() <-chan Event {
	return c.events
}

// Done is closed when the connection ends for any reason.
func (c *Conn) Done() <-chan struct{} {
	return c.readDone
}

// Err reports why the read loop stopped, if it stopped abnormally.
func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Announce emits start_interview and waits for the server acknowledgement.
// A negative acknowledgement is returned as an error.
func (c *Conn) Announce(ctx context.Context, a Announcement) error {
	id, wait := c.registerAck()
	defer c.dropAck(id)

	frame, err := encodeEvent(id, EventStartInterview, a)
	if err != nil {
		return err
	}
	if err := c.writeText(frame); err != nil {
		return err
	}

	select {
	case data := <-wait:
		return ackResult(data)
	case <-c.readDone:
		return ErrClosed
	case <-ctx.Done():
		return fmt.Errorf("%s acknowledgement: %w", EventStartInterview, ctx.Err())
	}
}

// SendAudio ships one finalized recording as a binary send_audio_chunk event.
func (c *Conn) SendAudio(clip []byte) error {
	if len(clip) == 0 {
		return errors.New("audio clip is empty")
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed() {
		return ErrClosed
	}

	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.ws.WriteMessage(websocket.TextMessage, []byte(encodeBinaryEvent(EventSendAudioChunk))); err != nil {
		return fmt.Errorf("send %s header: %w", EventSendAudioChunk, err)
	}
	if err := c.ws.WriteMessage(websocket.BinaryMessage, clip); err != nil {
		return fmt.Errorf("send %s payload: %w", EventSendAudioChunk, err)
	}
	return nil
}

// Close disconnects once. Later calls are no-ops.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.ws.SetWriteDeadline(time.Now().Add(time.Second))
		_ = c.ws.WriteMessage(websocket.TextMessage, []byte{engineMessage, ioDisconnect})
		close(c.done)
		err = c.ws.Close()
		c.writeMu.Unlock()
		<-c.readDone
	})
	return err
}

func (c *Conn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Conn) writeText(frame string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed() {
		return ErrClosed
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, []byte(frame))
}

func (c *Conn) readLoop() {
	defer close(c.readDone)
	defer close(c.events)

	for {
		c.extendReadDeadline()
		kind, msg, err := c.ws.ReadMessage()
		if err != nil {
			if !c.closed() {
				c.setErr(err)
				c.logger.Warn("realtime channel read failed", "error", err.Error())
			}
			return
		}
		if kind != websocket.TextMessage || len(msg) == 0 {
			continue
		}

		switch msg[0] {
		case enginePing:
			if err := c.writeText(string(enginePong)); err != nil && !c.closed() {
				c.setErr(err)
				return
			}
		case engineClose:
			return
		case enginePong, engineNoop:
		case engineMessage:
			if stop := c.handleMessage(string(msg[1:])); stop {
				return
			}
		}
	}
}

func (c *Conn) handleMessage(raw string) bool {
	p, err := decodeMessage(raw)
	if err != nil {
		c.logger.Debug("realtime packet ignored", "error", err.Error())
		return false
	}

	switch p.kind {
	case ioDisconnect:
		return true
	case ioAck:
		c.resolveAck(p.ackID, p.data)
	case ioEvent:
		name, data, err := splitEvent(p.data)
		if err != nil {
			c.logger.Debug("realtime event ignored", "error", err.Error())
			return false
		}
		select {
		case c.events <- Event{Name: name, Data: data}:
		case <-c.done:
			return true
		}
	}
	return false
}

func (c *Conn) extendReadDeadline() {
	if c.pingWindow > 0 {
		_ = c.ws.SetReadDeadline(time.Now().Add(c.pingWindow))
		return
	}
	_ = c.ws.SetReadDeadline(time.Time{})
}

func (c *Conn) setErr(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

func (c *Conn) registerAck() (int, chan json.RawMessage) {
	c.ackMu.Lock()
	defer c.ackMu.Unlock()
	id := c.nextAck
	c.nextAck++
	ch := make(chan json.RawMessage, 1)
	c.acks[id] = ch
	return id, ch
}

func (c *Conn) dropAck(id int) {
	c.ackMu.Lock()
	defer c.ackMu.Unlock()
	delete(c.acks, id)
}

func (c *Conn) resolveAck(id int, data json.RawMessage) {
	c.ackMu.Lock()
	ch, ok := c.acks[id]
	delete(c.acks, id)
	c.ackMu.Unlock()
	if ok {
		ch <- data
	}
}

// ackResult interprets `[{"ok": bool, "error": "..."}]`. An ack without an
// ok field counts as success.
func ackResult(data json.RawMessage) error {
	var args []json.RawMessage
	if err := json.Unmarshal(data, &args); err != nil || len(args) == 0 {
		return nil
	}
	var reply struct {
		OK    *bool  `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(args[0], &reply); err != nil {
		return nil
	}
	if reply.OK != nil && !*reply.OK {
		if reply.Error == "" {
			reply.Error = "rejected"
		}
		return fmt.Errorf("%s: %s", EventStartInterview, reply.Error)
	}
	return nil
}

func connectErrorMessage(data json.RawMessage) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &payload); err == nil && payload.Message != "" {
		return payload.Message
	}
	if len(data) == 0 {
		return "no reason given"
	}
	return string(data)
}

func truncate(s string) string {
	n := 64
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
