package bus

import (
	"sync"

	"github.com/danmuck/genlecho/internal/channel"
	"github.com/danmuck/genlecho/internal/protocol/nlmsg"
)

// Conn is one bus endpoint.
type Conn struct {
	bus   *Bus
	port  uint32
	queue chan []byte
	done  chan struct{}

	closeOnce sync.Once
	closeErr  error

	// guarded by bus.mu
	groups   map[uint32]struct{}
	services []string
}

var (
	_ channel.Channel   = (*Conn)(nil)
	_ channel.Registrar = (*Conn)(nil)
)

func (c *Conn) Port() uint32 {
	return c.port
}

func (c *Conn) Send(to channel.Addr, msg nlmsg.Message) error {
	if c.closed() {
		return channel.ErrClosed
	}
	return c.bus.route(c, to, msg)
}

func (c *Conn) Receive() ([]nlmsg.Message, error) {
	select {
	case <-c.done:
		return nil, channel.ErrClosed
	case raw := <-c.queue:
		return nlmsg.Unmarshal(raw)
	}
}

func (c *Conn) JoinGroup(group uint32) error {
	if c.closed() {
		return channel.ErrClosed
	}
	return c.bus.join(c, group)
}

func (c *Conn) LeaveGroup(group uint32) error {
	if c.closed() {
		return channel.ErrClosed
	}
	c.bus.leave(c, group)
	return nil
}

func (c *Conn) MaxMessageSize() int {
	return c.bus.opts.MaxMessageSize
}

// Register makes this endpoint the owner of a new service. Requests for the
// service id sent to the responder port are delivered here.
func (c *Conn) Register(spec channel.ServiceSpec) (channel.Service, error) {
	if c.closed() {
		return channel.Service{}, channel.ErrClosed
	}
	return c.bus.register(c, spec)
}

func (c *Conn) Unregister(name string) error {
	return c.bus.unregister(c, name)
}

// Close unregisters every service this endpoint owns and unblocks Receive.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.closeErr = c.bus.detach(c)
	})
	return c.closeErr
}

func (c *Conn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
