package genl

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/danmuck/genlecho/internal/protocol/attr"
	"github.com/danmuck/genlecho/internal/protocol/nlmsg"
)

const HeaderLen = 4

var (
	ErrShortHeader        = errors.New("genl: short command header")
	ErrUnsupportedVersion = errors.New("genl: unsupported version")
	ErrFrameTooLarge      = errors.New("genl: frame too large")
)

// Header is the command header that precedes the attribute stream.
type Header struct {
	Command  uint8
	Version  uint8
	Reserved uint16
}

// Frame is one decoded command header plus its attributes.
type Frame struct {
	Header Header
	Attrs  []attr.Attr
}

// Limits constrains frame size to what one datagram can carry.
type Limits struct {
	MaxMessageBytes int
}

func DefaultLimits() Limits {
	return Limits{MaxMessageBytes: 8192}
}

// AttributeError wraps a decode failure in the attribute stream.
type AttributeError struct {
	Command uint8
	Err     error
}

func (e AttributeError) Error() string {
	return fmt.Sprintf("genl: command=%d attributes: %v", e.Command, e.Err)
}

func (e AttributeError) Unwrap() error {
	return e.Err
}

// Build encodes the command header followed by attrs.
func Build(command, version uint8, attrs []attr.Attr, limits Limits) ([]byte, error) {
	body, err := attr.Marshal(attrs)
	if err != nil {
		return nil, err
	}
	size := HeaderLen + len(body)
	if limits.MaxMessageBytes > 0 && nlmsg.HeaderLen+size > limits.MaxMessageBytes {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, nlmsg.HeaderLen+size, limits.MaxMessageBytes)
	}
	buf := make([]byte, size)
	buf[0] = command
	buf[1] = version
	copy(buf[HeaderLen:], body)
	return buf, nil
}

// Parse decodes b and checks the header version against version.
func Parse(b []byte, version uint8) (Frame, error) {
	h, err := ParseHeader(b)
	if err != nil {
		return Frame{}, err
	}
	if h.Version != version {
		return Frame{}, fmt.Errorf("%w: got %d want %d", ErrUnsupportedVersion, h.Version, version)
	}
	attrs, err := attr.Unmarshal(b[HeaderLen:])
	if err != nil {
		return Frame{}, AttributeError{Command: h.Command, Err: err}
	}
	return Frame{Header: h, Attrs: attrs}, nil
}

// ParseHeader decodes only the command header.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, ErrShortHeader
	}
	return Header{
		Command:  b[0],
		Version:  b[1],
		Reserved: binary.NativeEndian.Uint16(b[2:4]),
	}, nil
}
