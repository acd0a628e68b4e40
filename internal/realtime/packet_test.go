package realtime

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeMessage(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		kind      byte
		namespace string
		ackID     int
		attach    int
		data      string
	}{
		{name: "connect", raw: `0{"sid":"abc"}`, kind: ioConnect, namespace: "/", ackID: noAck, data: `{"sid":"abc"}`},
		{name: "event", raw: `2["transcript_result",{"text":"hi"}]`, kind: ioEvent, namespace: "/", ackID: noAck, data: `["transcript_result",{"text":"hi"}]`},
		{name: "ack", raw: `312[{"ok":true}]`, kind: ioAck, namespace: "/", ackID: 12, data: `[{"ok":true}]`},
		{name: "namespaced event", raw: `2/admin,7["x"]`, kind: ioEvent, namespace: "/admin", ackID: 7, data: `["x"]`},
		{name: "binary event", raw: `51-["send_audio_chunk",{"_placeholder":true,"num":0}]`, kind: ioBinaryEvent, namespace: "/", ackID: noAck, attach: 1, data: `["send_audio_chunk",{"_placeholder":true,"num":0}]`},
		{name: "disconnect", raw: `1`, kind: ioDisconnect, namespace: "/", ackID: noAck},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p, err := decodeMessage(tc.raw)
			require.NoError(t, err)
			require.Equal(t, tc.kind, p.kind)
			require.Equal(t, tc.namespace, p.namespace)
			require.Equal(t, tc.ackID, p.ackID)
			require.Equal(t, tc.attach, p.attachments)
			if tc.data == "" {
				require.Empty(t, p.data)
				return
			}
			require.JSONEq(t, tc.data, string(p.data))
		})
	}
}

func TestDecodeMessageRejectsGarbage(t *testing.T) {
	_, err := decodeMessage("")
	require.Error(t, err)

	_, err = decodeMessage(`2[not json`)
	require.Error(t, err)

	_, err = decodeMessage(`5["missing attachment count"]`)
	require.Error(t, err)
}

func TestEncodeEvent(t *testing.T) {
	frame, err := encodeEvent(noAck, "transcript_result", map[string]string{"text": "a"})
	require.NoError(t, err)
	require.Equal(t, `42["transcript_result",{"text":"a"}]`, frame)

	frame, err = encodeEvent(3, EventStartInterview, Announcement{SessionID: "s1", ResponseID: "r1", SessionToken: "t1"})
	require.NoError(t, err)
	require.Equal(t, `423["start_interview",{"session_id":"s1","response_id":"r1","session_token":"t1"}]`, frame)
}

func TestEncodeBinaryEventRoundTrips(t *testing.T) {
	frame := encodeBinaryEvent(EventSendAudioChunk)
	require.Equal(t, `451-["send_audio_chunk",{"_placeholder":true,"num":0}]`, frame)

	p, err := decodeMessage(frame[1:])
	require.NoError(t, err)
	require.Equal(t, byte(ioBinaryEvent), p.kind)
	require.Equal(t, 1, p.attachments)
}

func TestSplitEvent(t *testing.T) {
	name, data, err := splitEvent(json.RawMessage(`["transcript_result",{"text":"a"}]`))
	require.NoError(t, err)
	require.Equal(t, EventTranscriptResult, name)
	require.JSONEq(t, `{"text":"a"}`, string(data))

	name, data, err = splitEvent(json.RawMessage(`["ping"]`))
	require.NoError(t, err)
	require.Equal(t, "ping", name)
	require.Nil(t, data)

	_, _, err = splitEvent(json.RawMessage(`[]`))
	require.Error(t, err)
	_, _, err = splitEvent(json.RawMessage(`[1]`))
	require.Error(t, err)
}

func TestAckResult(t *testing.T) {
	require.NoError(t, ackResult(json.RawMessage(`[{"ok":true}]`)))
	require.NoError(t, ackResult(json.RawMessage(`[]`)))
	require.NoError(t, ackResult(json.RawMessage(`["fine"]`)))

	err := ackResult(json.RawMessage(`[{"ok":false,"error":"Invalid session token"}]`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "Invalid session token")

	err = ackResult(json.RawMessage(`[{"ok":false}]`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "rejected")
}

func TestEventTranscript(t *testing.T) {
	text, ok := Event{Name: EventTranscriptResult, Data: json.RawMessage(`{"text":"hello"}`)}.Transcript()
	require.True(t, ok)
	require.Equal(t, "hello", text)

	_, ok = Event{Name: EventConnected, Data: json.RawMessage(`{"sid":"x"}`)}.Transcript()
	require.False(t, ok)

	_, ok = Event{Name: EventTranscriptResult, Data: json.RawMessage(`"bare"`)}.Transcript()
	require.False(t, ok)
}

func TestSocketURL(t *testing.T) {
	got, err := SocketURL("http://127.0.0.1:8000", "/socket.io/")
	require.NoError(t, err)
	require.Equal(t, "ws://127.0.0.1:8000/socket.io/?EIO=4&transport=websocket", got)

	got, err = SocketURL("https://interviews.example.com/base/", "/socket.io")
	require.NoError(t, err)
	require.Equal(t, "wss://interviews.example.com/base/socket.io/?EIO=4&transport=websocket", got)

	_, err = SocketURL("ftp://example.com", "/socket.io/")
	require.Error(t, err)
}
