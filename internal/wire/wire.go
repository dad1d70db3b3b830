// Package wire implements the on-the-wire frame format exchanged between
// nodes: a fixed 24-byte header, a fixed 32-byte body, and a variable-length
// payload. Every multi-byte field is little-endian, encoded with
// encoding/binary the same way the source message queue encoded its
// headers, rather than reinterpreting struct memory across the wire.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/CXLMemUring/Splash/internal/gptr"
)

// MsgType enumerates every frame kind the engine exchanges.
type MsgType uint32

const (
	MsgGet MsgType = iota + 1
	MsgGetResp
	MsgPut
	MsgPutResp
	MsgAtomicFAA
	MsgAtomicCAS
	MsgAtomicFetchAnd
	MsgAtomicFetchOr
	MsgAtomicResp
	MsgBarrier
	MsgBarrierResp
	MsgAlloc
	MsgAllocResp
	MsgFree
)

func (t MsgType) String() string {
	switch t {
	case MsgGet:
		return "GET"
	case MsgGetResp:
		return "GET_RESP"
	case MsgPut:
		return "PUT"
	case MsgPutResp:
		return "PUT_RESP"
	case MsgAtomicFAA:
		return "ATOMIC_FAA"
	case MsgAtomicCAS:
		return "ATOMIC_CAS"
	case MsgAtomicFetchAnd:
		return "ATOMIC_FETCH_AND"
	case MsgAtomicFetchOr:
		return "ATOMIC_FETCH_OR"
	case MsgAtomicResp:
		return "ATOMIC_RESP"
	case MsgBarrier:
		return "BARRIER"
	case MsgBarrierResp:
		return "BARRIER_RESP"
	case MsgAlloc:
		return "ALLOC"
	case MsgAllocResp:
		return "ALLOC_RESP"
	case MsgFree:
		return "FREE"
	default:
		return fmt.Sprintf("MsgType(%d)", uint32(t))
	}
}

const (
	// HeaderSize is the fixed size, in bytes, of the frame header.
	HeaderSize = 24
	// BodySize is the fixed size, in bytes, of the frame body (ptr + size +
	// value), before any trailing variable-length payload.
	BodySize = 32
)

// Header precedes every frame on the wire.
type Header struct {
	MsgType   MsgType
	MsgLen    uint32 // byte length of body + payload that follows this header
	Src       uint16
	Dst       uint16
	RequestID uint64
}

// Encode writes h's 24-byte wire representation into b, which must be at
// least HeaderSize bytes long.
func (h Header) Encode(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], uint32(h.MsgType))
	binary.LittleEndian.PutUint32(b[4:8], h.MsgLen)
	binary.LittleEndian.PutUint16(b[8:10], h.Src)
	binary.LittleEndian.PutUint16(b[10:12], h.Dst)
	binary.LittleEndian.PutUint64(b[16:24], h.RequestID)
}

// DecodeHeader reads a Header from its 24-byte wire representation.
func DecodeHeader(b []byte) Header {
	return Header{
		MsgType:   MsgType(binary.LittleEndian.Uint32(b[0:4])),
		MsgLen:    binary.LittleEndian.Uint32(b[4:8]),
		Src:       binary.LittleEndian.Uint16(b[8:10]),
		Dst:       binary.LittleEndian.Uint16(b[10:12]),
		RequestID: binary.LittleEndian.Uint64(b[16:24]),
	}
}

// Body carries the fixed-size fields common to every request/response:
// a global pointer, a size (allocation size, transfer length, or response
// byte count depending on MsgType), and a value (atomic operand/result,
// ALLOC alignment, or PUT_RESP status).
type Body struct {
	Ptr   gptr.Ptr
	Size  uint64
	Value uint64
}

// Encode writes b's 32-byte wire representation into dst.
func (bd Body) Encode(dst []byte) {
	binary.LittleEndian.PutUint16(dst[0:2], bd.Ptr.NodeID)
	binary.LittleEndian.PutUint16(dst[2:4], bd.Ptr.SegmentID)
	binary.LittleEndian.PutUint32(dst[4:8], bd.Ptr.Flags)
	binary.LittleEndian.PutUint64(dst[8:16], bd.Ptr.Offset)
	binary.LittleEndian.PutUint64(dst[16:24], bd.Size)
	binary.LittleEndian.PutUint64(dst[24:32], bd.Value)
}

// DecodeBody reads a Body from its 32-byte wire representation.
func DecodeBody(b []byte) Body {
	return Body{
		Ptr: gptr.Ptr{
			NodeID:    binary.LittleEndian.Uint16(b[0:2]),
			SegmentID: binary.LittleEndian.Uint16(b[2:4]),
			Flags:     binary.LittleEndian.Uint32(b[4:8]),
			Offset:    binary.LittleEndian.Uint64(b[8:16]),
		},
		Size:  binary.LittleEndian.Uint64(b[16:24]),
		Value: binary.LittleEndian.Uint64(b[24:32]),
	}
}

// Frame is a complete message: header, body, and an optional trailing
// payload (PUT data, GET_RESP data).
type Frame struct {
	Header  Header
	Body    Body
	Payload []byte
}

// NewFrame builds a frame with MsgLen computed from the body and payload.
func NewFrame(msgType MsgType, src, dst uint16, requestID uint64, body Body, payload []byte) Frame {
	return Frame{
		Header: Header{
			MsgType:   msgType,
			MsgLen:    uint32(BodySize + len(payload)),
			Src:       src,
			Dst:       dst,
			RequestID: requestID,
		},
		Body:    body,
		Payload: payload,
	}
}

// WriteTo serializes the frame onto w as a single contiguous write.
func (f Frame) WriteTo(w io.Writer) (int64, error) {
	buf := make([]byte, HeaderSize+BodySize+len(f.Payload))
	f.Header.Encode(buf[0:HeaderSize])
	f.Body.Encode(buf[HeaderSize : HeaderSize+BodySize])
	copy(buf[HeaderSize+BodySize:], f.Payload)

	n, err := w.Write(buf)
	return int64(n), err
}

// ReadFrame reads one complete frame from r, blocking until the header,
// body, and declared payload have all arrived.
func ReadFrame(r io.Reader) (Frame, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return Frame{}, fmt.Errorf("wire: read header: %w", err)
	}
	header := DecodeHeader(headerBuf)
	if header.MsgLen < BodySize {
		return Frame{}, fmt.Errorf("wire: msg_len %d shorter than body", header.MsgLen)
	}

	rest := make([]byte, header.MsgLen)
	if _, err := io.ReadFull(r, rest); err != nil {
		return Frame{}, fmt.Errorf("wire: read body: %w", err)
	}

	return Frame{
		Header:  header,
		Body:    DecodeBody(rest[:BodySize]),
		Payload: rest[BodySize:],
	}, nil
}
