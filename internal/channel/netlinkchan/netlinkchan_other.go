//go:build !linux

package netlinkchan

import (
	"fmt"
	"runtime"

	"github.com/danmuck/genlecho/internal/channel"
	"github.com/danmuck/genlecho/internal/protocol/nlmsg"
)

type Conn struct{}

var _ channel.Channel = (*Conn)(nil)

func Dial(Options) (*Conn, error) {
	return nil, fmt.Errorf("%w: generic netlink on %s", channel.ErrUnsupported, runtime.GOOS)
}

func (*Conn) Send(to channel.Addr, _ nlmsg.Message) error {
	if err := checkDestination(to); err != nil {
		return err
	}
	return channel.ErrUnsupported
}

func (*Conn) Receive() ([]nlmsg.Message, error) { return nil, channel.ErrUnsupported }
func (*Conn) JoinGroup(uint32) error             { return channel.ErrUnsupported }
func (*Conn) LeaveGroup(uint32) error            { return channel.ErrUnsupported }
func (*Conn) MaxMessageSize() int                { return 0 }
func (*Conn) Close() error                       { return nil }
