package directory

import (
	"fmt"
	"strings"

	"github.com/danmuck/genlecho/internal/channel"
	"github.com/danmuck/genlecho/internal/protocol/attr"
	"github.com/danmuck/genlecho/internal/protocol/genl"
	"github.com/danmuck/genlecho/internal/protocol/nlmsg"
	"github.com/rs/zerolog/log"
)

// Address is the resolved addressing for one service: its message type and,
// when a group was requested, the multicast group id.
type Address struct {
	ServiceID uint16
	GroupID   uint32
	HasGroup  bool
}

// Resolver performs control lookups over a channel. Lookups block on the
// channel with no timeout.
type Resolver struct {
	ch  channel.Channel
	seq *nlmsg.Sequence
}

func NewResolver(ch channel.Channel, seq *nlmsg.Sequence) *Resolver {
	if seq == nil {
		seq = &nlmsg.Sequence{}
	}
	return &Resolver{ch: ch, seq: seq}
}

// Family fetches the full registration record of a service.
func (r *Resolver) Family(name string) (channel.Service, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return channel.Service{}, fmt.Errorf("%w: empty service name", ErrNotFound)
	}
	return r.getFamily(attr.NewString(AttrFamilyName, name), name)
}

// FamilyByID fetches a registration record by service id.
func (r *Resolver) FamilyByID(id uint16) (channel.Service, error) {
	return r.getFamily(attr.NewUint16(AttrFamilyID, id), fmt.Sprintf("id=%d", id))
}

func (r *Resolver) getFamily(key attr.Attr, label string) (channel.Service, error) {
	data, err := genl.Build(CmdGetFamily, ControlVersion, []attr.Attr{key},
		genl.Limits{MaxMessageBytes: r.ch.MaxMessageSize()})
	if err != nil {
		return channel.Service{}, err
	}
	seq := r.seq.Next()
	req := nlmsg.Message{
		Header: nlmsg.Header{Type: ControlID, Flags: nlmsg.FlagRequest, Seq: seq},
		Data:   data,
	}
	if err := r.ch.Send(channel.Unicast(channel.ResponderPort), req); err != nil {
		return channel.Service{}, fmt.Errorf("directory: send getfamily: %w", err)
	}
	for {
		msgs, err := r.ch.Receive()
		if err != nil {
			return channel.Service{}, fmt.Errorf("directory: receive getfamily: %w", err)
		}
		for _, m := range msgs {
			if m.Header.Seq != seq {
				log.Debug().
					Uint32("seq", m.Header.Seq).
					Uint32("want", seq).
					Msg("directory.Resolver.getFamily skip unrelated message")
				continue
			}
			svc, done, err := r.handleReply(label, m)
			if done {
				return svc, err
			}
		}
	}
}

func (r *Resolver) handleReply(name string, m nlmsg.Message) (channel.Service, bool, error) {
	switch m.Header.Type {
	case nlmsg.TypeError:
		body, err := nlmsg.ParseError(m)
		if err != nil {
			return channel.Service{}, true, fmt.Errorf("%w: %v", ErrBadReply, err)
		}
		switch body.Code {
		case 0:
			return channel.Service{}, false, nil
		case -nlmsg.ErrnoNoEntry:
			return channel.Service{}, true, fmt.Errorf("%w: service %s", ErrNotFound, name)
		default:
			return channel.Service{}, true, fmt.Errorf("directory: getfamily %s failed errno=%d", name, -body.Code)
		}
	case ControlID:
		f, err := genl.Parse(m.Data, ControlVersion)
		if err != nil {
			return channel.Service{}, true, fmt.Errorf("%w: %v", ErrBadReply, err)
		}
		svc, err := decodeFamily(f)
		return svc, true, err
	default:
		return channel.Service{}, false, nil
	}
}

// ResolveService returns the service id registered under name.
func (r *Resolver) ResolveService(name string) (uint16, error) {
	svc, err := r.Family(name)
	if err != nil {
		return 0, err
	}
	return svc.ID, nil
}

// ResolveGroupByID returns the id of group within the service registered
// under serviceID.
func (r *Resolver) ResolveGroupByID(serviceID uint16, group string) (uint32, error) {
	svc, err := r.FamilyByID(serviceID)
	if err != nil {
		return 0, err
	}
	return lookupGroup(svc, group)
}

// ResolveGroup returns the id of group within service.
func (r *Resolver) ResolveGroup(service, group string) (uint32, error) {
	svc, err := r.Family(service)
	if err != nil {
		return 0, err
	}
	return lookupGroup(svc, group)
}

// Resolve returns the service id and, when group is not empty, the group id,
// from a single lookup.
func (r *Resolver) Resolve(service, group string) (Address, error) {
	svc, err := r.Family(service)
	if err != nil {
		return Address{}, err
	}
	addr := Address{ServiceID: svc.ID}
	if strings.TrimSpace(group) == "" {
		return addr, nil
	}
	gid, err := lookupGroup(svc, group)
	if err != nil {
		return Address{}, err
	}
	addr.GroupID = gid
	addr.HasGroup = true
	return addr, nil
}

func lookupGroup(svc channel.Service, group string) (uint32, error) {
	gid, ok := svc.Groups[strings.TrimSpace(group)]
	if !ok {
		return 0, fmt.Errorf("%w: group %s in service %s", ErrNotFound, group, svc.Name)
	}
	return gid, nil
}
