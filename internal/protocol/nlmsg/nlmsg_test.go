package nlmsg

import (
	"bytes"
	"errors"
	"testing"
)

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	in := Message{
		Header: Header{Type: 0x11, Flags: FlagRequest, Seq: 1, Port: 4242},
		Data:   []byte{1, 1, 0, 0, 5},
	}
	b, err := in.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if len(b)%4 != 0 {
		t.Fatalf("datagram not aligned: %d", len(b))
	}
	out, err := Unmarshal(b)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 message, got %d", len(out))
	}
	got := out[0]
	if got.Header.Length != uint32(HeaderLen+len(in.Data)) {
		t.Fatalf("unexpected length field %d", got.Header.Length)
	}
	if got.Header.Type != 0x11 || got.Header.Seq != 1 || got.Header.Port != 4242 || got.Header.Flags != FlagRequest {
		t.Fatalf("header mismatch: %+v", got.Header)
	}
	if !bytes.Equal(got.Data, in.Data) {
		t.Fatalf("payload mismatch: %v", got.Data)
	}
}

func TestUnmarshalMultipleMessages(t *testing.T) {
	a, _ := Message{Header: Header{Type: 0x10, Seq: 1}, Data: []byte{1, 2, 3}}.MarshalBinary()
	b, _ := Message{Header: Header{Type: TypeDone, Seq: 1}}.MarshalBinary()
	out, err := Unmarshal(append(a, b...))
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(out) != 2 || out[1].Header.Type != TypeDone {
		t.Fatalf("unexpected messages: %+v", out)
	}
}

func TestUnmarshalShortHeader(t *testing.T) {
	_, err := Unmarshal([]byte{1, 2, 3})
	if !errors.Is(err, ErrShortHeader) {
		t.Fatalf("expected ErrShortHeader, got %v", err)
	}
}

func TestUnmarshalLengthPastBuffer(t *testing.T) {
	b, _ := Message{Header: Header{Type: 0x11}, Data: []byte{1, 2, 3, 4}}.MarshalBinary()
	_, err := Unmarshal(b[:HeaderLen+2])
	if !errors.Is(err, ErrInvalidLength) {
		t.Fatalf("expected ErrInvalidLength, got %v", err)
	}
}

func TestErrorMessageRoundTrip(t *testing.T) {
	req := Header{Length: 40, Type: 0x11, Flags: FlagRequest, Seq: 9, Port: 77}
	msg := NewError(req, -22)
	if msg.Header.Type != TypeError || msg.Header.Seq != 9 || msg.Header.Port != 77 {
		t.Fatalf("unexpected error header: %+v", msg.Header)
	}
	body, err := ParseError(msg)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if body.Code != -22 || body.Original != req {
		t.Fatalf("unexpected error body: %+v", body)
	}
	if _, err := ParseError(Message{Header: Header{Type: TypeError}}); !errors.Is(err, ErrShortErrorBody) {
		t.Fatalf("expected ErrShortErrorBody, got %v", err)
	}
}

func TestSequenceStartsAtOne(t *testing.T) {
	var s Sequence
	if s.Next() != 1 || s.Next() != 2 {
		t.Fatalf("unexpected sequence")
	}
	s.n.Store(^uint32(0))
	if got := s.Next(); got != 1 {
		t.Fatalf("expected wrap to skip zero, got %d", got)
	}
}
