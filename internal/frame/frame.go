// Package frame defines the fixed-size wire frame shared by both peers and
// the CRC-32 integrity code that protects its payload.
//
// Wire layout (little-endian, one frame per datagram):
//
//	sequence(4) | ack(4) | payload(capacity) | length(8) | checksum(4)
//
// The checksum always covers the whole payload region, padding included,
// so unused payload bytes must be zero before a frame is sealed.
package frame

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"arqcopier/internal/errors"
)

// DefaultCapacity is the payload size used when the peers agree on nothing else.
const DefaultCapacity = 512

// TerminalAck is the acknowledgment value meaning "transfer complete".
const TerminalAck int32 = -1

const (
	seqOffset = 0
	ackOffset = 4
	// payload starts right after the two int32 fields
	payloadOffset = 8
	// length(8) + checksum(4)
	trailerSize = 12
)

// Frame is one unit on the wire, either a data frame or an acknowledgment.
type Frame struct {
	Sequence int32
	Ack      int32
	Payload  []byte
	Length   uint64
	Checksum uint32
}

// Checksum computes the integrity code of a payload region
func Checksum(payload []byte) uint32 {
	return crc32.ChecksumIEEE(payload)
}

// Verify reports whether code is the integrity code of payload
func Verify(payload []byte, code uint32) bool {
	return Checksum(payload) == code
}

// Valid reports whether the frame checksum matches its payload
func (f *Frame) Valid() bool {
	return Verify(f.Payload, f.Checksum)
}

// Seal recomputes the checksum over the full payload
func (f *Frame) Seal() {
	f.Checksum = Checksum(f.Payload)
}

// IsFinal reports whether this data frame carries the last chunk of a file
func (f *Frame) IsFinal(capacity int) bool {
	return f.Length < uint64(capacity)
}

// IsTerminal reports whether this acknowledgment ends the transfer
func (f *Frame) IsTerminal() bool {
	return f.Ack == TerminalAck
}

// Data returns the valid prefix of the payload
func (f *Frame) Data() []byte {
	return f.Payload[:f.Length]
}

// Codec encodes and decodes frames of one fixed capacity
type Codec struct {
	capacity int
}

// NewCodec returns a codec for the given chunk capacity
func NewCodec(capacity int) (*Codec, error) {
	if capacity <= 0 {
		return nil, errors.NewValidationError("chunk_size", capacity, "capacity must be positive")
	}
	return &Codec{capacity: capacity}, nil
}

// Capacity returns the payload capacity
func (c *Codec) Capacity() int {
	return c.capacity
}

// Size returns the encoded size of every frame
func (c *Codec) Size() int {
	return payloadOffset + c.capacity + trailerSize
}

// NewFrame returns a zeroed frame with a full-capacity payload
func (c *Codec) NewFrame() *Frame {
	return &Frame{Payload: make([]byte, c.capacity)}
}

// Data builds a sealed data frame. chunk is copied and the remainder of the
// payload is zero-filled.
func (c *Codec) Data(seq int32, chunk []byte) (*Frame, error) {
	if len(chunk) > c.capacity {
		return nil, errors.NewProtocolError("build_data",
			fmt.Sprintf("chunk of %d bytes exceeds capacity %d", len(chunk), c.capacity), nil)
	}
	f := c.NewFrame()
	f.Sequence = seq
	copy(f.Payload, chunk)
	f.Length = uint64(len(chunk))
	f.Seal()
	return f, nil
}

// Ack builds a sealed acknowledgment frame
func (c *Codec) Ack(ack int32) *Frame {
	f := c.NewFrame()
	f.Ack = ack
	f.Seal()
	return f
}

// Encode writes f into buf, which is grown when too small, and returns the
// encoded bytes.
func (c *Codec) Encode(f *Frame, buf []byte) []byte {
	size := c.Size()
	if cap(buf) < size {
		buf = make([]byte, size)
	}
	buf = buf[:size]

	binary.LittleEndian.PutUint32(buf[seqOffset:], uint32(f.Sequence))
	binary.LittleEndian.PutUint32(buf[ackOffset:], uint32(f.Ack))

	payload := buf[payloadOffset : payloadOffset+c.capacity]
	n := copy(payload, f.Payload)
	clear(payload[n:])

	trailer := buf[payloadOffset+c.capacity:]
	binary.LittleEndian.PutUint64(trailer[0:8], f.Length)
	binary.LittleEndian.PutUint32(trailer[8:12], f.Checksum)
	return buf
}

// Decode parses b into f. The payload of f is reused when it already has the
// codec capacity. Decode does not verify the checksum; callers use Valid.
func (c *Codec) Decode(b []byte, f *Frame) error {
	if len(b) != c.Size() {
		return errors.NewProtocolError("decode_frame",
			fmt.Sprintf("datagram of %d bytes, want %d", len(b), c.Size()), nil)
	}

	f.Sequence = int32(binary.LittleEndian.Uint32(b[seqOffset:]))
	f.Ack = int32(binary.LittleEndian.Uint32(b[ackOffset:]))

	if len(f.Payload) != c.capacity {
		f.Payload = make([]byte, c.capacity)
	}
	copy(f.Payload, b[payloadOffset:payloadOffset+c.capacity])

	trailer := b[payloadOffset+c.capacity:]
	f.Length = binary.LittleEndian.Uint64(trailer[0:8])
	f.Checksum = binary.LittleEndian.Uint32(trailer[8:12])

	if f.Sequence != 0 && f.Sequence != 1 {
		return errors.NewProtocolError("decode_frame", fmt.Sprintf("sequence %d is not a single bit", f.Sequence), nil)
	}
	if f.Length > uint64(c.capacity) {
		return errors.NewProtocolError("decode_frame",
			fmt.Sprintf("length %d exceeds capacity %d", f.Length, c.capacity), nil)
	}
	return nil
}

// Flip returns the other sequence value
func Flip(seq int32) int32 {
	if seq == 0 {
		return 1
	}
	return 0
}
