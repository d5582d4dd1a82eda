// Package bus is an in-process channel implementation. It routes requests
// addressed to the responder port by service id, fans multicast out to group
// members, and answers control lookups from its own directory.Registry.
package bus

import (
	"fmt"
	"sync"

	"github.com/danmuck/genlecho/internal/channel"
	"github.com/danmuck/genlecho/internal/directory"
	"github.com/danmuck/genlecho/internal/protocol/genl"
	"github.com/danmuck/genlecho/internal/protocol/nlmsg"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
)

type Options struct {
	MaxMessageSize int
	// QueueLen is the per-endpoint receive backlog; datagrams beyond it are
	// dropped.
	QueueLen int
}

func DefaultOptions() Options {
	return Options{MaxMessageSize: 8192, QueueLen: 64}
}

type Bus struct {
	opts     Options
	registry *directory.Registry

	mu       sync.RWMutex
	ports    map[uint32]*Conn
	members  map[uint32]map[uint32]*Conn
	owners   map[uint16]*Conn
	nextPort uint32
}

func New(opts Options) *Bus {
	def := DefaultOptions()
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = def.MaxMessageSize
	}
	if opts.QueueLen <= 0 {
		opts.QueueLen = def.QueueLen
	}
	return &Bus{
		opts:     opts,
		registry: directory.NewRegistry(),
		ports:    make(map[uint32]*Conn),
		members:  make(map[uint32]map[uint32]*Conn),
		owners:   make(map[uint16]*Conn),
		nextPort: 1000,
	}
}

func (b *Bus) Registry() *directory.Registry {
	return b.registry
}

// Dial opens a new endpoint with an automatically assigned port.
func (b *Bus) Dial() *Conn {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextPort++
	c := &Conn{
		bus:    b,
		port:   b.nextPort,
		queue:  make(chan []byte, b.opts.QueueLen),
		done:   make(chan struct{}),
		groups: make(map[uint32]struct{}),
	}
	b.ports[c.port] = c
	log.Debug().Uint32("port", c.port).Msg("bus.Dial")
	return c
}

// Close closes every endpoint still attached.
func (b *Bus) Close() error {
	b.mu.RLock()
	conns := make([]*Conn, 0, len(b.ports))
	for _, c := range b.ports {
		conns = append(conns, c)
	}
	b.mu.RUnlock()
	var err error
	for _, c := range conns {
		err = multierr.Append(err, c.Close())
	}
	return err
}

func (b *Bus) route(from *Conn, to channel.Addr, msg nlmsg.Message) error {
	if to.Group != 0 {
		return b.multicast(to.Group, msg)
	}
	if to.Port != channel.ResponderPort {
		b.mu.RLock()
		dst, ok := b.ports[to.Port]
		b.mu.RUnlock()
		if !ok {
			return fmt.Errorf("%w: port %d", channel.ErrNoRoute, to.Port)
		}
		return b.deliver(dst, msg)
	}

	msg.Header.Port = from.port
	if msg.Header.Type == directory.ControlID {
		return b.deliver(from, b.registry.HandleControl(msg))
	}
	b.mu.RLock()
	owner, ok := b.owners[msg.Header.Type]
	b.mu.RUnlock()
	if !ok {
		log.Debug().Uint16("type", msg.Header.Type).Msg("bus.route no owner for service")
		return b.deliver(from, nlmsg.NewError(msg.Header, -nlmsg.ErrnoNoEntry))
	}
	h, err := genl.ParseHeader(msg.Data)
	if err != nil {
		log.Debug().Uint16("type", msg.Header.Type).Err(err).Msg("bus.route short generic header")
		return b.deliver(from, nlmsg.NewError(msg.Header, -nlmsg.ErrnoInvalid))
	}
	if !b.registry.Supports(msg.Header.Type, h.Command) {
		log.Debug().Uint16("type", msg.Header.Type).Uint8("cmd", h.Command).Msg("bus.route command not registered")
		return b.deliver(from, nlmsg.NewError(msg.Header, -nlmsg.ErrnoNotSupported))
	}
	return b.deliver(owner, msg)
}

func (b *Bus) multicast(group uint32, msg nlmsg.Message) error {
	if !b.registry.HasGroup(group) {
		return fmt.Errorf("%w: group %d", channel.ErrNoRoute, group)
	}
	b.mu.RLock()
	dsts := make([]*Conn, 0, len(b.members[group]))
	for _, c := range b.members[group] {
		dsts = append(dsts, c)
	}
	b.mu.RUnlock()
	for _, c := range dsts {
		if err := b.deliver(c, msg); err != nil {
			return err
		}
	}
	return nil
}

// deliver encodes msg as one datagram and queues it without blocking.
func (b *Bus) deliver(dst *Conn, msg nlmsg.Message) error {
	raw, err := msg.MarshalBinary()
	if err != nil {
		return err
	}
	if len(raw) > b.opts.MaxMessageSize {
		return fmt.Errorf("%w: %d > %d", channel.ErrMessageTooLarge, len(raw), b.opts.MaxMessageSize)
	}
	select {
	case <-dst.done:
		return nil
	default:
	}
	select {
	case dst.queue <- raw:
	default:
		log.Warn().Uint32("port", dst.port).Msg("bus.deliver receive queue full, datagram dropped")
	}
	return nil
}

func (b *Bus) join(c *Conn, group uint32) error {
	if !b.registry.HasGroup(group) {
		return fmt.Errorf("%w: group %d", channel.ErrNoRoute, group)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.members[group]
	if !ok {
		set = make(map[uint32]*Conn)
		b.members[group] = set
	}
	set[c.port] = c
	c.groups[group] = struct{}{}
	return nil
}

func (b *Bus) leave(c *Conn, group uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.members[group], c.port)
	delete(c.groups, group)
}

func (b *Bus) register(c *Conn, spec channel.ServiceSpec) (channel.Service, error) {
	svc, err := b.registry.Register(spec)
	if err != nil {
		return channel.Service{}, err
	}
	b.mu.Lock()
	b.owners[svc.ID] = c
	c.services = append(c.services, svc.Name)
	b.mu.Unlock()
	return svc, nil
}

func (b *Bus) unregister(c *Conn, name string) error {
	svc, ok := b.registry.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %s", directory.ErrNotFound, name)
	}
	b.mu.Lock()
	if b.owners[svc.ID] != c {
		b.mu.Unlock()
		return fmt.Errorf("bus: service %s not owned by port %d", name, c.port)
	}
	delete(b.owners, svc.ID)
	for i, n := range c.services {
		if n == name {
			c.services = append(c.services[:i], c.services[i+1:]...)
			break
		}
	}
	for _, gid := range svc.Groups {
		delete(b.members, gid)
	}
	b.mu.Unlock()
	return b.registry.Unregister(name)
}

func (b *Bus) detach(c *Conn) error {
	b.mu.RLock()
	services := append([]string(nil), c.services...)
	b.mu.RUnlock()
	var err error
	for _, name := range services {
		err = multierr.Append(err, b.unregister(c, name))
	}
	b.mu.Lock()
	delete(b.ports, c.port)
	for group := range c.groups {
		delete(b.members[group], c.port)
	}
	b.mu.Unlock()
	return err
}
