package attr

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestMarshalUnmarshalRoundTripPreservesUnknown(t *testing.T) {
	in := []Attr{
		NewString(1, "Hello generic netlink!"),
		NewUint32(2, 9527),
		NewBytes(77, []byte{0xAA, 0xBB, 0xCC}), // unknown type
	}
	b, err := Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	out, err := Unmarshal(b)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("expected %d attrs, got %d", len(in), len(out))
	}
	for i := range in {
		if out[i].Type != in[i].Type || !bytes.Equal(out[i].Data, in[i].Data) {
			t.Fatalf("attr %d mismatch: got=%+v want=%+v", i, out[i], in[i])
		}
	}
	if got := out[0].Text(); got != "Hello generic netlink!" {
		t.Fatalf("unexpected text: %q", got)
	}
	if v, err := out[1].Uint32(); err != nil || v != 9527 {
		t.Fatalf("unexpected u32: %d err=%v", v, err)
	}
}

func TestFlagBitsSurviveReencode(t *testing.T) {
	wire := make([]byte, 8)
	binary.NativeEndian.PutUint16(wire[0:2], 8)
	binary.NativeEndian.PutUint16(wire[2:4], FlagNetByteOrder|5)
	binary.BigEndian.PutUint32(wire[4:8], 9527)

	attrs, err := Unmarshal(wire)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(attrs) != 1 || attrs[0].Type != 5 || !attrs[0].NetByteOrder || attrs[0].Nested {
		t.Fatalf("unexpected decode: %+v", attrs)
	}
	again, err := Marshal(attrs)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !bytes.Equal(again, wire) {
		t.Fatalf("re-encode changed bytes: got=% x want=% x", again, wire)
	}
}

func TestMarshalPadsStringsToAlignment(t *testing.T) {
	for _, s := range []string{"", "a", "ab", "abc", "abcd", "I am message from kernel!"} {
		a := NewString(1, s)
		b, err := Marshal([]Attr{a})
		if err != nil {
			t.Fatalf("marshal %q: %v", s, err)
		}
		if len(b)%Alignment != 0 {
			t.Fatalf("encoded size %d for %q is not aligned", len(b), s)
		}
		declared := int(binary.NativeEndian.Uint16(b[0:2]))
		if declared != HeaderLen+len(s)+1 {
			t.Fatalf("declared length %d for %q, want %d", declared, s, HeaderLen+len(s)+1)
		}
		for _, pad := range b[declared:] {
			if pad != 0 {
				t.Fatalf("non-zero padding for %q: %v", s, b[declared:])
			}
		}
	}
}

func TestUnmarshalAcceptsMissingFinalPadding(t *testing.T) {
	b, err := Marshal([]Attr{NewUint32(2, 1), NewString(1, "abc\x00x")})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	declared := int(binary.NativeEndian.Uint16(b[8:10]))
	out, err := Unmarshal(b[:8+declared])
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(out) != 2 || out[1].Text() != "abc" {
		t.Fatalf("unexpected attrs: %+v", out)
	}
}

func TestUnmarshalTruncatedHeaderIsDeterministic(t *testing.T) {
	_, err := Unmarshal([]byte{8, 0})
	if !errors.Is(err, ErrBufferTooShort) {
		t.Fatalf("expected ErrBufferTooShort, got %v", err)
	}
}

func TestUnmarshalTruncatedValueIsDeterministic(t *testing.T) {
	b, err := Marshal([]Attr{NewString(1, "Hello generic netlink!")})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for cut := HeaderLen; cut < 12; cut++ {
		_, err := Unmarshal(b[:cut])
		if !errors.Is(err, ErrAttrTooLarge) {
			t.Fatalf("cut=%d: expected ErrAttrTooLarge, got %v", cut, err)
		}
	}
}

func TestUnmarshalRejectsLengthBelowHeader(t *testing.T) {
	b := make([]byte, 8)
	binary.NativeEndian.PutUint16(b[0:2], 2)
	binary.NativeEndian.PutUint16(b[2:4], 1)
	_, err := Unmarshal(b)
	if !errors.Is(err, ErrInvalidLength) {
		t.Fatalf("expected ErrInvalidLength, got %v", err)
	}
}

func TestNestedAttributes(t *testing.T) {
	nested, err := NewNested(7, []Attr{NewString(1, "testgroup"), NewUint32(2, 3)})
	if err != nil {
		t.Fatalf("nested: %v", err)
	}
	b, err := Marshal([]Attr{nested})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if typ := binary.NativeEndian.Uint16(b[2:4]); typ&FlagNested == 0 {
		t.Fatalf("expected nested flag in type tag %#x", typ)
	}
	out, err := Unmarshal(b)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out[0].Type != 7 || !out[0].Nested {
		t.Fatalf("unexpected outer attr: %+v", out[0])
	}
	children, err := out[0].Children()
	if err != nil {
		t.Fatalf("children: %v", err)
	}
	if len(children) != 2 || children[0].Text() != "testgroup" {
		t.Fatalf("unexpected children: %+v", children)
	}
}

func TestUint32RejectsWrongWidth(t *testing.T) {
	if _, err := NewUint16(2, 5).Uint32(); !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("expected ErrTypeMismatch, got %v", err)
	}
}

func TestGetFindsByTypeNotPosition(t *testing.T) {
	attrs := []Attr{NewUint32(2, 7438), NewString(1, "first")}
	a, ok := Get(attrs, 1)
	if !ok || a.Text() != "first" {
		t.Fatalf("lookup by type failed: %+v ok=%v", a, ok)
	}
	if _, ok := Get(attrs, 3); ok {
		t.Fatalf("unexpected attr for type 3")
	}
}
