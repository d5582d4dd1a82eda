package echo

import (
	"bytes"
	"fmt"

	"github.com/danmuck/genlecho/internal/protocol/attr"
)

// Attribute is one typed testgenl attribute. The set is closed: MessageAttr,
// DataAttr, and UnknownAttr for tags this version does not know.
type Attribute interface {
	AttrType() uint16
	raw() attr.Attr
}

type MessageAttr struct {
	Text string
}

func (MessageAttr) AttrType() uint16 { return AttrMessage }

func (a MessageAttr) raw() attr.Attr { return attr.NewString(AttrMessage, a.Text) }

type DataAttr struct {
	Value uint32
}

func (DataAttr) AttrType() uint16 { return AttrData }

func (a DataAttr) raw() attr.Attr { return attr.NewUint32(AttrData, a.Value) }

// UnknownAttr keeps an unrecognized or malformed attribute as raw bytes.
type UnknownAttr struct {
	Type         uint16
	Nested       bool
	NetByteOrder bool
	Raw          []byte
}

func (a UnknownAttr) AttrType() uint16 { return a.Type }

func (a UnknownAttr) raw() attr.Attr {
	return attr.Attr{Type: a.Type, Nested: a.Nested, NetByteOrder: a.NetByteOrder, Data: bytes.Clone(a.Raw)}
}

func (a UnknownAttr) String() string {
	return fmt.Sprintf("unknown(type=%d len=%d)", a.Type, len(a.Raw))
}

// FromRaw maps raw attributes onto the typed set. Payloads whose shape does
// not match their tag stay raw.
func FromRaw(raw []attr.Attr) []Attribute {
	out := make([]Attribute, 0, len(raw))
	for _, a := range raw {
		out = append(out, fromRaw(a))
	}
	return out
}

func fromRaw(a attr.Attr) Attribute {
	switch a.Type {
	case AttrMessage:
		if !a.Nested && !a.NetByteOrder && bytes.IndexByte(a.Data, 0) >= 0 {
			return MessageAttr{Text: a.Text()}
		}
	case AttrData:
		if v, err := a.Uint32(); err == nil && !a.Nested && !a.NetByteOrder {
			return DataAttr{Value: v}
		}
	}
	return UnknownAttr{Type: a.Type, Nested: a.Nested, NetByteOrder: a.NetByteOrder, Raw: bytes.Clone(a.Data)}
}

func toRaw(attrs []Attribute) []attr.Attr {
	raw := make([]attr.Attr, 0, len(attrs))
	for _, a := range attrs {
		raw = append(raw, a.raw())
	}
	return raw
}

func EncodeAttributes(attrs []Attribute) ([]byte, error) {
	return attr.Marshal(toRaw(attrs))
}

func DecodeAttributes(b []byte) ([]Attribute, error) {
	raw, err := attr.Unmarshal(b)
	if err != nil {
		return nil, err
	}
	return FromRaw(raw), nil
}
