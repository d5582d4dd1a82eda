package attr

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	HeaderLen = 4
	Alignment = 4

	// Type tag flag bits; the low 14 bits carry the attribute type.
	FlagNested       uint16 = 1 << 15
	FlagNetByteOrder uint16 = 1 << 14
	TypeMask         uint16 = 0x3fff

	maxLen = int(^uint16(0))
)

var (
	ErrBufferTooShort = errors.New("attr: buffer too short for attribute header")
	ErrAttrTooLarge   = errors.New("attr: declared length exceeds remaining buffer")
	ErrInvalidLength  = errors.New("attr: declared length smaller than header")
	ErrValueTooLarge  = errors.New("attr: value too large")
	ErrTypeMismatch   = errors.New("attr: value shape mismatch")
)

// Attr is one raw attribute. Type has the flag bits removed; they are kept in
// Nested and NetByteOrder so a decoded attribute re-encodes unchanged.
type Attr struct {
	Type         uint16
	Nested       bool
	NetByteOrder bool
	Data         []byte
}

// Align rounds n up to the attribute alignment boundary.
func Align(n int) int {
	return (n + Alignment - 1) &^ (Alignment - 1)
}

// Len is the value of the attribute's length field: header plus unpadded payload.
func (a Attr) Len() int {
	return HeaderLen + len(a.Data)
}

// Size is the number of bytes the attribute occupies on the wire, padding included.
func (a Attr) Size() int {
	return Align(a.Len())
}

func Marshal(attrs []Attr) ([]byte, error) {
	total := 0
	for _, a := range attrs {
		if a.Len() > maxLen {
			return nil, fmt.Errorf("%w: type=%d len=%d", ErrValueTooLarge, a.Type, a.Len())
		}
		total += a.Size()
	}
	buf := make([]byte, total)
	offset := 0
	for _, a := range attrs {
		offset += put(buf[offset:], a)
	}
	return buf, nil
}

// put writes a into b and returns the padded size. The padding bytes of b are
// left zero because b comes from a fresh allocation.
func put(b []byte, a Attr) int {
	typ := a.Type & TypeMask
	if a.Nested {
		typ |= FlagNested
	}
	if a.NetByteOrder {
		typ |= FlagNetByteOrder
	}
	binary.NativeEndian.PutUint16(b[0:2], uint16(a.Len()))
	binary.NativeEndian.PutUint16(b[2:4], typ)
	copy(b[HeaderLen:], a.Data)
	return a.Size()
}

// Unmarshal decodes an attribute stream. Padding after the final attribute may
// be absent.
func Unmarshal(b []byte) ([]Attr, error) {
	attrs := make([]Attr, 0, 4)
	for offset := 0; offset < len(b); {
		remaining := len(b) - offset
		if remaining < HeaderLen {
			return nil, fmt.Errorf("%w: offset=%d remaining=%d", ErrBufferTooShort, offset, remaining)
		}
		length := int(binary.NativeEndian.Uint16(b[offset : offset+2]))
		typ := binary.NativeEndian.Uint16(b[offset+2 : offset+4])
		if length < HeaderLen {
			return nil, fmt.Errorf("%w: offset=%d len=%d", ErrInvalidLength, offset, length)
		}
		if length > remaining {
			return nil, fmt.Errorf("%w: offset=%d len=%d remaining=%d", ErrAttrTooLarge, offset, length, remaining)
		}
		data := make([]byte, length-HeaderLen)
		copy(data, b[offset+HeaderLen:offset+length])
		attrs = append(attrs, Attr{
			Type:         typ & TypeMask,
			Nested:       typ&FlagNested != 0,
			NetByteOrder: typ&FlagNetByteOrder != 0,
			Data:         data,
		})
		offset += Align(length)
	}
	return attrs, nil
}

// Get returns the first attribute of the given type.
func Get(attrs []Attr, typ uint16) (Attr, bool) {
	for _, a := range attrs {
		if a.Type == typ {
			return a, true
		}
	}
	return Attr{}, false
}
