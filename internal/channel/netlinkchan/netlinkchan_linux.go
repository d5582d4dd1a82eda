//go:build linux

package netlinkchan

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"

	"github.com/danmuck/genlecho/internal/channel"
	"github.com/danmuck/genlecho/internal/protocol/nlmsg"
	"github.com/mdlayher/netlink"
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

type Conn struct {
	c       *netlink.Conn
	maxSize int
	closed  atomic.Bool

	mu   sync.Mutex
	last nlmsg.Header
}

var _ channel.Channel = (*Conn)(nil)

func Dial(opts Options) (*Conn, error) {
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = DefaultOptions().MaxMessageSize
	}
	c, err := netlink.Dial(unix.NETLINK_GENERIC, nil)
	if err != nil {
		return nil, fmt.Errorf("netlinkchan: dial: %w", err)
	}
	log.Debug().Int("max_message_size", opts.MaxMessageSize).Msg("netlinkchan.Dial")
	return &Conn{c: c, maxSize: opts.MaxMessageSize}, nil
}

func (c *Conn) Send(to channel.Addr, msg nlmsg.Message) error {
	if c.closed.Load() {
		return channel.ErrClosed
	}
	if err := checkDestination(to); err != nil {
		return err
	}
	if size := nlmsg.HeaderLen + len(msg.Data); size > c.maxSize {
		return fmt.Errorf("%w: %d > %d", channel.ErrMessageTooLarge, size, c.maxSize)
	}
	sent, err := c.c.Send(toNetlink(msg))
	if err != nil {
		return c.mapErr(err)
	}
	c.mu.Lock()
	c.last = fromNetlink(sent).Header
	c.mu.Unlock()
	return nil
}

// Receive returns the next batch of messages. The socket reports kernel error
// replies as errors; they are turned back into TypeError messages addressed
// to the last request so callers see the same stream as on the bus.
func (c *Conn) Receive() ([]nlmsg.Message, error) {
	msgs, err := c.c.Receive()
	if err != nil {
		if c.closed.Load() {
			return nil, channel.ErrClosed
		}
		var errno unix.Errno
		if errors.As(err, &errno) {
			c.mu.Lock()
			last := c.last
			c.mu.Unlock()
			log.Debug().Err(err).Uint32("seq", last.Seq).Msg("netlinkchan.Receive kernel error reply")
			return []nlmsg.Message{nlmsg.NewError(last, -int32(errno))}, nil
		}
		return nil, c.mapErr(err)
	}
	out := make([]nlmsg.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, fromNetlink(m))
	}
	return out, nil
}

func (c *Conn) JoinGroup(group uint32) error {
	if c.closed.Load() {
		return channel.ErrClosed
	}
	return c.mapErr(c.c.JoinGroup(group))
}

func (c *Conn) LeaveGroup(group uint32) error {
	if c.closed.Load() {
		return channel.ErrClosed
	}
	return c.mapErr(c.c.LeaveGroup(group))
}

func (c *Conn) MaxMessageSize() int {
	return c.maxSize
}

func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.c.Close()
}

func (c *Conn) mapErr(err error) error {
	if err == nil {
		return nil
	}
	if c.closed.Load() || errors.Is(err, net.ErrClosed) || errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("%w: %v", channel.ErrClosed, err)
	}
	return fmt.Errorf("netlinkchan: %w", err)
}

func toNetlink(m nlmsg.Message) netlink.Message {
	return netlink.Message{
		Header: netlink.Header{
			Type:     netlink.HeaderType(m.Header.Type),
			Flags:    netlink.HeaderFlags(m.Header.Flags),
			Sequence: m.Header.Seq,
			PID:      m.Header.Port,
		},
		Data: m.Data,
	}
}

func fromNetlink(m netlink.Message) nlmsg.Message {
	return nlmsg.Message{
		Header: nlmsg.Header{
			Length: m.Header.Length,
			Type:   uint16(m.Header.Type),
			Flags:  uint16(m.Header.Flags),
			Seq:    m.Header.Sequence,
			Port:   m.Header.PID,
		},
		Data: m.Data,
	}
}
