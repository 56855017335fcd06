// Package protocol implements the binary attach protocol spoken between the
// agent and an attached development tool.
//
// Wire format, all integers big-endian:
//
//	magic(4) version(1) serializerId(1) commandId(1) resultFlag(1) bodyLength(4) body(N)
//
// The body encoding is owned by each message variant; encode and decode are
// mutual inverses for every registered variant.
package protocol

import (
	"errors"
	"fmt"
)

// Magic identifies an attach protocol frame. A stream that does not start
// with it is not speaking this protocol.
const Magic uint32 = 20240508

// Version is the current protocol version.
const Version byte = 1

// SerializerBinary is the only body serialization scheme currently defined.
const SerializerBinary byte = 1

// Result flags, meaningful on responses.
const (
	ResultFail    byte = 0
	ResultSuccess byte = 1
)

// ErrBadMagic is returned when a frame header does not begin with Magic.
// The stream is not resynchronizable after this; callers must close it.
var ErrBadMagic = errors.New("bad protocol magic")

// UnknownCommandError is returned when a frame carries a command ID with no
// registered message variant.
type UnknownCommandError struct {
	Command byte
}

func (e *UnknownCommandError) Error() string {
	return fmt.Sprintf("unknown command id %d", e.Command)
}

// Message is one typed protocol payload. Implementations own their body
// layout; UnmarshalBody must invert MarshalBody.
type Message interface {
	Command() byte
	MarshalBody() ([]byte, error)
	UnmarshalBody(b []byte) error
}

// Frame is one unit of the wire protocol: the header fields plus the decoded
// message. The command ID is derived from the message.
type Frame struct {
	Version    byte
	Serializer byte
	ResultFlag byte
	Message    Message
}

// NewFrame wraps a message in a frame with current-version defaults and a
// success result flag.
func NewFrame(msg Message) *Frame {
	return &Frame{
		Version:    Version,
		Serializer: SerializerBinary,
		ResultFlag: ResultSuccess,
		Message:    msg,
	}
}

// NewFailureFrame wraps a message in a frame flagged as a failure.
func NewFailureFrame(msg Message) *Frame {
	f := NewFrame(msg)
	f.ResultFlag = ResultFail
	return f
}

// Success reports whether the frame's result flag indicates success.
func (f *Frame) Success() bool {
	return f.ResultFlag == ResultSuccess
}
