package fastcgi

import (
	"encoding/binary"
	"fmt"
)

// FastCGI 1.0 protocol constants
const (
	// Version1 is the FastCGI protocol version
	Version1 uint8 = 1

	// Record types
	TypeBeginRequest    uint8 = 1
	TypeAbortRequest    uint8 = 2
	TypeEndRequest      uint8 = 3
	TypeParams          uint8 = 4
	TypeStdin           uint8 = 5
	TypeStdout          uint8 = 6
	TypeStderr          uint8 = 7
	TypeData            uint8 = 8
	TypeGetValues       uint8 = 9
	TypeGetValuesResult uint8 = 10
	TypeUnknownType     uint8 = 11

	// Roles
	RoleResponder  uint16 = 1
	RoleAuthorizer uint16 = 2
	RoleFilter     uint16 = 3

	// Flags
	FlagKeepConn uint8 = 1

	// Protocol status codes
	StatusRequestComplete uint8 = 0
	StatusCantMultiplex   uint8 = 1
	StatusOverloaded      uint8 = 2
	StatusUnknownRole     uint8 = 3

	// Header size
	HeaderSize = 8

	// Max record content length
	MaxContentLength = 65535
)

// ProtocolError reports a malformed or unexpected byte sequence on the wire.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "fastcgi: protocol error: " + e.Reason
}

func protocolErrorf(format string, args ...interface{}) error {
	return &ProtocolError{Reason: fmt.Sprintf(format, args...)}
}

// Header represents a FastCGI record header
type Header struct {
	Version       uint8
	Type          uint8
	RequestID     uint16
	ContentLength uint16
	PaddingLength uint8
	Reserved      uint8
}

// Encode encodes a header into bytes
func (h *Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	buf[0] = h.Version
	buf[1] = h.Type
	binary.BigEndian.PutUint16(buf[2:4], h.RequestID)
	binary.BigEndian.PutUint16(buf[4:6], h.ContentLength)
	buf[6] = h.PaddingLength
	buf[7] = h.Reserved
	return buf
}

// DecodeHeader decodes a header from bytes
func DecodeHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, protocolErrorf("invalid header length: %d", len(data))
	}
	h := &Header{
		Version:       data[0],
		Type:          data[1],
		RequestID:     binary.BigEndian.Uint16(data[2:4]),
		ContentLength: binary.BigEndian.Uint16(data[4:6]),
		PaddingLength: data[6],
		Reserved:      data[7],
	}
	if h.Version != Version1 {
		return nil, protocolErrorf("unsupported version: %d", h.Version)
	}
	return h, nil
}

// BeginRequestBody represents the body of a BeginRequest record
type BeginRequestBody struct {
	Role     uint16
	Flags    uint8
	Reserved [5]uint8
}

// Encode encodes a BeginRequest body into bytes
func (b *BeginRequestBody) Encode() []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint16(buf[0:2], b.Role)
	buf[2] = b.Flags
	copy(buf[3:8], b.Reserved[:])
	return buf
}

// EndRequestBody represents the body of an EndRequest record
type EndRequestBody struct {
	AppStatus      uint32
	ProtocolStatus uint8
	Reserved       [3]uint8
}

// DecodeEndRequestBody decodes an EndRequest body from bytes
func DecodeEndRequestBody(data []byte) (*EndRequestBody, error) {
	if len(data) < 8 {
		return nil, protocolErrorf("invalid EndRequest body length: %d", len(data))
	}
	body := &EndRequestBody{
		AppStatus:      binary.BigEndian.Uint32(data[0:4]),
		ProtocolStatus: data[4],
	}
	copy(body.Reserved[:], data[5:8])
	return body, nil
}

// Record represents a complete FastCGI record
type Record struct {
	Header  *Header
	Content []byte
}

// NewRecord creates a new record with the given type, request ID, and content.
// Content is padded to an 8-byte boundary on encode.
func NewRecord(typ uint8, requestID uint16, content []byte) *Record {
	return &Record{
		Header: &Header{
			Version:       Version1,
			Type:          typ,
			RequestID:     requestID,
			ContentLength: uint16(len(content)),
			PaddingLength: uint8((8 - (len(content) % 8)) % 8),
		},
		Content: content,
	}
}

// Encode encodes a record into bytes
func (r *Record) Encode() []byte {
	headerBytes := r.Header.Encode()
	result := make([]byte, 0, len(headerBytes)+len(r.Content)+int(r.Header.PaddingLength))
	result = append(result, headerBytes...)
	result = append(result, r.Content...)
	result = append(result, make([]byte, r.Header.PaddingLength)...)
	return result
}
