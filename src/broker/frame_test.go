package broker

import (
	"testing"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	f := frame.New(frame.SUBSCRIBE, frame.Id, "sub-0", frame.Destination, "/topic/a:b\nc")
	f.Body = []byte(`{"x":1}`)

	data, err := encodeFrame(f)
	require.NoError(t, err)
	frames, err := decodeFrames(data)
	require.NoError(t, err)
	require.Len(t, frames, 1)

	got := frames[0]
	assert.Equal(t, frame.SUBSCRIBE, got.Command)
	assert.Equal(t, "/topic/a:b\nc", got.Header.Get(frame.Destination))
	assert.Equal(t, "7", got.Header.Get(frame.ContentLength))
	assert.Equal(t, `{"x":1}`, string(got.Body))
}

func TestDecodeFramesSkipsHeartbeats(t *testing.T) {
	data := []byte("\n\nMESSAGE\ndestination:/topic/x\n\nhello\x00\n\nRECEIPT\nreceipt-id:7\n\n\x00\n")

	frames, err := decodeFrames(data)
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, "hello", string(frames[0].Body))
	assert.Equal(t, "7", frames[1].Header.Get(frame.ReceiptId))

	frames, err = decodeFrames([]byte("\n"))
	require.NoError(t, err)
	assert.Empty(t, frames)
}

func TestDecodeFrameContentLengthAllowsNUL(t *testing.T) {
	data := []byte("MESSAGE\ncontent-length:3\n\na\x00b\x00")
	frames, err := decodeFrames(data)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, []byte("a\x00b"), frames[0].Body)
}

func TestDecodeFrameErrors(t *testing.T) {
	for _, data := range []string{
		"MESSAGE\ndestination:/x\n\nno terminator",
		"MESSAGE\ncontent-length:99\n\nshort\x00",
	} {
		_, err := decodeFrames([]byte(data))
		assert.ErrorIs(t, err, errMalformedFrame, data)
	}
}

func TestRepeatedHeaderFirstWins(t *testing.T) {
	frames, err := decodeFrames([]byte("MESSAGE\nfoo:1\nfoo:2\n\n\x00"))
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, "1", frames[0].Header.Get("foo"))
	assert.Equal(t, "1", headerMap(frames[0].Header)["foo"])
}

func TestHeartbeatNegotiation(t *testing.T) {
	assert.Equal(t, 10*time.Second, negotiate(10*time.Second, 4*time.Second))
	assert.Zero(t, negotiate(0, 4*time.Second))
	assert.Zero(t, negotiate(10*time.Second, 0))
}

func TestParseSockJS(t *testing.T) {
	msgs, err := parseSockJS([]byte("o"))
	require.NoError(t, err)
	assert.Empty(t, msgs)

	msgs, err = parseSockJS([]byte(`a["one","two"]` + "\n"))
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("one"), []byte("two")}, msgs)

	_, err = parseSockJS([]byte(`c[3000,"Go away!"]`))
	var closeErr *SockJSCloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, 3000, closeErr.Code)
	assert.Equal(t, "Go away!", closeErr.Reason)

	_, err = parseSockJS([]byte("z"))
	assert.Error(t, err)
}

func TestWebSocketURL(t *testing.T) {
	assert.Equal(t, "ws://h/ws", WebSocketURL("http://h/ws"))
	assert.Equal(t, "wss://h/ws", WebSocketURL("https://h/ws"))
	assert.Equal(t, "ws://h/ws", WebSocketURL("ws://h/ws"))
}
