package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Engine.IO v4 packet types.
const (
	engineOpen    = '0'
	engineClose   = '1'
	enginePing    = '2'
	enginePong    = '3'
	engineMessage = '4'
	engineNoop    = '6'
)

// Socket.IO v5 packet types, carried inside an Engine.IO message.
const (
	ioConnect      = '0'
	ioDisconnect   = '1'
	ioEvent        = '2'
	ioAck          = '3'
	ioConnectError = '4'
	ioBinaryEvent  = '5'
	ioBinaryAck    = '6'
)

const noAck = -1

type packet struct {
	kind        byte
	attachments int
	namespace   string
	ackID       int
	data        json.RawMessage
}

// decodeMessage parses the Socket.IO part of an Engine.IO message, i.e.
// everything after the leading '4'.
func decodeMessage(raw string) (packet, error) {
	if raw == "" {
		return packet{}, errors.New("empty socket.io packet")
	}
	p := packet{kind: raw[0], namespace: "/", ackID: noAck}
	rest := raw[1:]

	if p.kind == ioBinaryEvent || p.kind == ioBinaryAck {
		dash := strings.IndexByte(rest, '-')
		if dash <= 0 {
			return packet{}, fmt.Errorf("binary packet without attachment count: %q", raw)
		}
		n, err := strconv.Atoi(rest[:dash])
		if err != nil {
			return packet{}, fmt.Errorf("attachment count: %w", err)
		}
		p.attachments = n
		rest = rest[dash+1:]
	}

	if strings.HasPrefix(rest, "/") {
		comma := strings.IndexByte(rest, ',')
		if comma < 0 {
			p.namespace = rest
			return p, nil
		}
		p.namespace = rest[:comma]
		rest = rest[comma+1:]
	}

	digits := 0
	for digits < len(rest) && rest[digits] >= '0' && rest[digits] <= '9' {
		digits++
	}
	if digits > 0 {
		id, err := strconv.Atoi(rest[:digits])
		if err != nil {
			return packet{}, fmt.Errorf("ack id: %w", err)
		}
		p.ackID = id
		rest = rest[digits:]
	}

	if rest != "" {
		if !json.Valid([]byte(rest)) {
			return packet{}, fmt.Errorf("invalid packet payload: %q", raw)
		}
		p.data = json.RawMessage(rest)
	}
	return p, nil
}

// encodeEvent renders `42[ackID]["name",args...]`.
func encodeEvent(ackID int, name string, args ...any) (string, error) {
	payload := append([]any{name}, args...)
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", name, err)
	}
	var b strings.Builder
	b.WriteByte(engineMessage)
	b.WriteByte(ioEvent)
	if ackID != noAck {
		b.WriteString(strconv.Itoa(ackID))
	}
	b.Write(data)
	return b.String(), nil
}

// encodeBinaryEvent renders the text half of an event with one binary
// attachment. The attachment itself follows as a separate binary frame.
func encodeBinaryEvent(name string) string {
	return fmt.Sprintf(`%c%c1-["%s",{"_placeholder":true,"num":0}]`, engineMessage, ioBinaryEvent, name)
}

// splitEvent returns the event name and its first argument.
func splitEvent(data json.RawMessage) (string, json.RawMessage, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return "", nil, fmt.Errorf("event payload: %w", err)
	}
	if len(parts) == 0 {
		return "", nil, errors.New("event payload is empty")
	}
	var name string
	if err := json.Unmarshal(parts[0], &name); err != nil {
		return "", nil, fmt.Errorf("event name: %w", err)
	}
	if len(parts) == 1 {
		return name, nil, nil
	}
	return name, parts[1], nil
}
