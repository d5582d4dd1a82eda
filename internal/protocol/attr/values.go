package attr

import (
	"bytes"
	"encoding/binary"
)

// NewString creates a NUL-terminated string attribute.
func NewString(typ uint16, v string) Attr {
	buf := make([]byte, len(v)+1)
	copy(buf, v)
	return Attr{Type: typ, Data: buf}
}

// NewUint16 creates a host-order uint16 attribute.
func NewUint16(typ uint16, v uint16) Attr {
	buf := make([]byte, 2)
	binary.NativeEndian.PutUint16(buf, v)
	return Attr{Type: typ, Data: buf}
}

// NewUint32 creates a host-order uint32 attribute.
func NewUint32(typ uint16, v uint32) Attr {
	buf := make([]byte, 4)
	binary.NativeEndian.PutUint32(buf, v)
	return Attr{Type: typ, Data: buf}
}

func NewBytes(typ uint16, v []byte) Attr {
	buf := make([]byte, len(v))
	copy(buf, v)
	return Attr{Type: typ, Data: buf}
}

// NewNested creates an attribute whose payload is the encoded children.
func NewNested(typ uint16, children []Attr) (Attr, error) {
	data, err := Marshal(children)
	if err != nil {
		return Attr{}, err
	}
	return Attr{Type: typ, Nested: true, Data: data}, nil
}

// Text returns the payload as a string cut at the first NUL.
func (a Attr) Text() string {
	if i := bytes.IndexByte(a.Data, 0); i >= 0 {
		return string(a.Data[:i])
	}
	return string(a.Data)
}

func (a Attr) Uint16() (uint16, error) {
	if len(a.Data) != 2 {
		return 0, ErrTypeMismatch
	}
	return binary.NativeEndian.Uint16(a.Data), nil
}

func (a Attr) Uint32() (uint32, error) {
	if len(a.Data) != 4 {
		return 0, ErrTypeMismatch
	}
	return binary.NativeEndian.Uint32(a.Data), nil
}

// Children decodes the payload as a nested attribute stream.
func (a Attr) Children() ([]Attr, error) {
	return Unmarshal(a.Data)
}
