// Package nlmsg owns the outer transport header that carries one command frame
// per message.
package nlmsg

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const HeaderLen = 16

// Reserved message types. Service ids start above these.
const (
	TypeNoop  uint16 = 0x1
	TypeError uint16 = 0x2
	TypeDone  uint16 = 0x3
)

const (
	FlagRequest uint16 = 0x1
	FlagMulti   uint16 = 0x2
	FlagAck     uint16 = 0x4
	FlagEcho    uint16 = 0x8
)

var (
	ErrShortHeader    = errors.New("nlmsg: short header")
	ErrInvalidLength  = errors.New("nlmsg: invalid message length")
	ErrShortErrorBody = errors.New("nlmsg: short error payload")
)

// Header is the fixed outer header. Seq and Port together form the origin
// token a reply must carry back.
type Header struct {
	Length uint32
	Type   uint16
	Flags  uint16
	Seq    uint32
	Port   uint32
}

// Message is one outer header plus its payload.
type Message struct {
	Header Header
	Data   []byte
}

func align(n int) int {
	return (n + 3) &^ 3
}

// MarshalBinary encodes m, computing the length field.
func (m Message) MarshalBinary() ([]byte, error) {
	length := HeaderLen + len(m.Data)
	if uint64(length) > uint64(^uint32(0)) {
		return nil, ErrInvalidLength
	}
	buf := make([]byte, align(length))
	h := m.Header
	h.Length = uint32(length)
	putHeader(buf, h)
	copy(buf[HeaderLen:], m.Data)
	return buf, nil
}

func putHeader(b []byte, h Header) {
	binary.NativeEndian.PutUint32(b[0:4], h.Length)
	binary.NativeEndian.PutUint16(b[4:6], h.Type)
	binary.NativeEndian.PutUint16(b[6:8], h.Flags)
	binary.NativeEndian.PutUint32(b[8:12], h.Seq)
	binary.NativeEndian.PutUint32(b[12:16], h.Port)
}

func parseHeader(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, ErrShortHeader
	}
	return Header{
		Length: binary.NativeEndian.Uint32(b[0:4]),
		Type:   binary.NativeEndian.Uint16(b[4:6]),
		Flags:  binary.NativeEndian.Uint16(b[6:8]),
		Seq:    binary.NativeEndian.Uint32(b[8:12]),
		Port:   binary.NativeEndian.Uint32(b[12:16]),
	}, nil
}

// Unmarshal decodes every message packed into one datagram.
func Unmarshal(b []byte) ([]Message, error) {
	msgs := make([]Message, 0, 1)
	for offset := 0; offset < len(b); {
		h, err := parseHeader(b[offset:])
		if err != nil {
			return nil, err
		}
		if h.Length < HeaderLen || int(h.Length) > len(b)-offset {
			return nil, fmt.Errorf("%w: len=%d remaining=%d", ErrInvalidLength, h.Length, len(b)-offset)
		}
		data := make([]byte, int(h.Length)-HeaderLen)
		copy(data, b[offset+HeaderLen:offset+int(h.Length)])
		msgs = append(msgs, Message{Header: h, Data: data})
		offset += align(int(h.Length))
	}
	return msgs, nil
}

// ErrorBody is the payload of a TypeError message: a negative errno (zero for
// an acknowledgment) followed by the header of the offending request.
type ErrorBody struct {
	Code     int32
	Original Header
}

func NewError(to Header, code int32) Message {
	buf := make([]byte, 4+HeaderLen)
	binary.NativeEndian.PutUint32(buf[0:4], uint32(code))
	putHeader(buf[4:], to)
	return Message{
		Header: Header{Type: TypeError, Seq: to.Seq, Port: to.Port},
		Data:   buf,
	}
}

func ParseError(m Message) (ErrorBody, error) {
	if len(m.Data) < 4+HeaderLen {
		return ErrorBody{}, ErrShortErrorBody
	}
	h, err := parseHeader(m.Data[4:])
	if err != nil {
		return ErrorBody{}, err
	}
	return ErrorBody{
		Code:     int32(binary.NativeEndian.Uint32(m.Data[0:4])),
		Original: h,
	}, nil
}
