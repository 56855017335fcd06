package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// ReadFrame reads exactly one frame from r, blocking until the frame is
// complete or the stream errors.
//
// Decode failures come in two flavors: stream errors (including timeouts on a
// read deadline) surface as-is, and protocol errors surface as ErrBadMagic or
// *UnknownCommandError. In both protocol-error cases the read position is
// indeterminate; the connection must be closed.
func ReadFrame(r io.Reader) (*Frame, error) {
	var magicBuf [4]byte
	if _, err := io.ReadFull(r, magicBuf[:]); err != nil {
		return nil, err
	}
	if magic := binary.BigEndian.Uint32(magicBuf[:]); magic != Magic {
		return nil, fmt.Errorf("%w: got %d", ErrBadMagic, magic)
	}

	var meta [3]byte // version, serializer id, command id
	if _, err := io.ReadFull(r, meta[:]); err != nil {
		return nil, fmt.Errorf("reading frame header: %w", err)
	}
	msg, ok := NewMessage(meta[2])
	if !ok {
		return nil, &UnknownCommandError{Command: meta[2]}
	}

	var tail [5]byte // result flag, body length
	if _, err := io.ReadFull(r, tail[:]); err != nil {
		return nil, fmt.Errorf("reading frame header: %w", err)
	}
	bodyLen := binary.BigEndian.Uint32(tail[1:])
	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("reading %d-byte frame body: %w", bodyLen, err)
	}

	if err := msg.UnmarshalBody(body); err != nil {
		return nil, fmt.Errorf("decoding command %d body: %w", meta[2], err)
	}

	return &Frame{
		Version:    meta[0],
		Serializer: meta[1],
		ResultFlag: tail[0],
		Message:    msg,
	}, nil
}

// Encode serializes a frame into its wire representation.
func Encode(f *Frame) ([]byte, error) {
	body, err := f.Message.MarshalBody()
	if err != nil {
		return nil, fmt.Errorf("encoding command %d body: %w", f.Message.Command(), err)
	}

	buf := make([]byte, 0, 12+len(body))
	buf = binary.BigEndian.AppendUint32(buf, Magic)
	buf = append(buf, f.Version, SerializerBinary, f.Message.Command(), f.ResultFlag)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(body)))
	buf = append(buf, body...)
	return buf, nil
}

// WriteFrame encodes f and writes it to w in one call.
func WriteFrame(w io.Writer, f *Frame) error {
	b, err := Encode(f)
	if err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}
