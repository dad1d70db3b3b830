package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/CXLMemUring/Splash/internal/gptr"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{MsgType: MsgPut, MsgLen: 40, Src: 1, Dst: 2, RequestID: 0xDEADBEEF}
	buf := make([]byte, HeaderSize)
	h.Encode(buf)

	got := DecodeHeader(buf)
	require.Equal(t, h, got)
}

func TestBodyRoundTrip(t *testing.T) {
	b := Body{Ptr: gptr.Ptr{NodeID: 3, SegmentID: 0, Flags: 0, Offset: 9000}, Size: 64, Value: 7}
	buf := make([]byte, BodySize)
	b.Encode(buf)

	got := DecodeBody(buf)
	require.Equal(t, b, got)
}

func TestFrameWriteAndReadFrame(t *testing.T) {
	payload := []byte("hello pgas")
	f := NewFrame(MsgGetResp, 1, 0, 42, Body{Size: uint64(len(payload))}, payload)

	var buf bytes.Buffer
	_, err := f.WriteTo(&buf)
	require.NoError(t, err)

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, f.Header.MsgType, got.Header.MsgType)
	require.Equal(t, f.Header.RequestID, got.Header.RequestID)
	require.Equal(t, payload, got.Payload)
}

// TestCASFieldReuse locks in the bit-compatible CAS wire layout: Value
// carries expected, Size carries desired.
func TestCASFieldReuse(t *testing.T) {
	body := Body{Value: 10, Size: 20}
	buf := make([]byte, BodySize)
	body.Encode(buf)

	got := DecodeBody(buf)
	require.Equal(t, uint64(10), got.Value)
	require.Equal(t, uint64(20), got.Size)
}

func TestMsgTypeString(t *testing.T) {
	require.Equal(t, "GET", MsgGet.String())
	require.Equal(t, "BARRIER_RESP", MsgBarrierResp.String())
	require.Contains(t, MsgType(999).String(), "999")
}

func TestReadFrameRejectsShortLen(t *testing.T) {
	h := Header{MsgType: MsgGet, MsgLen: BodySize - 1, Src: 0, Dst: 1}
	buf := make([]byte, HeaderSize)
	h.Encode(buf)

	_, err := ReadFrame(bytes.NewReader(buf))
	require.Error(t, err)
}
