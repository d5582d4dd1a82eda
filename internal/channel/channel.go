// Package channel is the transport boundary: a message-oriented, connectionless
// endpoint supporting unicast to a port and multicast to a group.
//
// Implementations:
// - bus: in-process bus with a built-in service directory
// - netlinkchan: Linux generic netlink socket
package channel

import (
	"errors"

	"github.com/danmuck/genlecho/internal/protocol/nlmsg"
)

var (
	ErrClosed          = errors.New("channel: closed")
	ErrMessageTooLarge = errors.New("channel: message too large")
	ErrNoRoute         = errors.New("channel: no route to destination")
	ErrUnsupported     = errors.New("channel: operation not supported")
)

// ResponderPort is the port of the privileged side; requests are sent here.
const ResponderPort uint32 = 0

// Addr is a send destination. A non-zero Group selects multicast.
type Addr struct {
	Port  uint32
	Group uint32
}

func Unicast(port uint32) Addr {
	return Addr{Port: port}
}

func Multicast(group uint32) Addr {
	return Addr{Group: group}
}

// Channel is one endpoint. It is used by a single goroutine at a time, except
// Close, which may be called concurrently to unblock Receive.
type Channel interface {
	Send(to Addr, msg nlmsg.Message) error
	// Receive blocks until at least one message arrives or the channel closes.
	Receive() ([]nlmsg.Message, error)
	JoinGroup(group uint32) error
	LeaveGroup(group uint32) error
	MaxMessageSize() int
	Close() error
}

// ServiceSpec is what a responder registers: a named service, its commands,
// and its multicast group names.
type ServiceSpec struct {
	Name     string
	Version  uint8
	Commands []uint8
	Groups   []string
}

// Service is a registered ServiceSpec with its assigned ids.
type Service struct {
	ID      uint16
	Name    string
	Version uint8
	Groups  map[string]uint32
}

// Registrar is implemented by channels whose owner may register services.
type Registrar interface {
	Register(spec ServiceSpec) (Service, error)
	Unregister(name string) error
}
