//go:build linux

package netlinkchan

import (
	"bytes"
	"errors"
	"testing"

	"github.com/danmuck/genlecho/internal/channel"
	"github.com/danmuck/genlecho/internal/protocol/nlmsg"
)

func TestMessageConversion(t *testing.T) {
	in := nlmsg.Message{
		Header: nlmsg.Header{Type: 0x1c, Flags: nlmsg.FlagRequest, Seq: 3, Port: 0},
		Data:   []byte{1, 1, 0, 0},
	}
	nm := toNetlink(in)
	if uint16(nm.Header.Type) != 0x1c || uint16(nm.Header.Flags) != nlmsg.FlagRequest || nm.Header.Sequence != 3 {
		t.Fatalf("unexpected netlink header: %+v", nm.Header)
	}
	nm.Header.Length = 20
	nm.Header.PID = 4242
	out := fromNetlink(nm)
	if out.Header.Length != 20 || out.Header.Port != 4242 || out.Header.Seq != 3 {
		t.Fatalf("unexpected header: %+v", out.Header)
	}
	if !bytes.Equal(out.Data, in.Data) {
		t.Fatalf("payload mismatch: %v", out.Data)
	}
}

func TestSendRejectsUnsupportedDestinations(t *testing.T) {
	c := &Conn{maxSize: 64}
	if err := c.Send(channel.Multicast(1), nlmsg.Message{}); !errors.Is(err, channel.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported for multicast, got %v", err)
	}
	if err := c.Send(channel.Unicast(99), nlmsg.Message{}); !errors.Is(err, channel.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported for peer port, got %v", err)
	}
	big := nlmsg.Message{Data: make([]byte, 64)}
	if err := c.Send(channel.Unicast(channel.ResponderPort), big); !errors.Is(err, channel.ErrMessageTooLarge) {
		t.Fatalf("expected ErrMessageTooLarge, got %v", err)
	}
}

func TestClosedConnRejectsSend(t *testing.T) {
	c := &Conn{maxSize: 64}
	c.closed.Store(true)
	if err := c.Send(channel.Unicast(channel.ResponderPort), nlmsg.Message{}); !errors.Is(err, channel.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := c.JoinGroup(1); !errors.Is(err, channel.ErrClosed) {
		t.Fatalf("expected ErrClosed from JoinGroup, got %v", err)
	}
}
