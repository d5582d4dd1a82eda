package directory

import (
	"fmt"
	"maps"
	"strings"
	"sync"

	"github.com/danmuck/genlecho/internal/channel"
	"github.com/danmuck/genlecho/internal/protocol/attr"
	"github.com/danmuck/genlecho/internal/protocol/genl"
	"github.com/danmuck/genlecho/internal/protocol/nlmsg"
	"github.com/rs/zerolog/log"
)

const (
	firstServiceID uint16 = ControlID + 1
	firstGroupID   uint32 = 1
)

type entry struct {
	svc        channel.Service
	groupOrder []string
	commands   map[uint8]struct{}
}

// Registry is the table of registered services. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	byName    map[string]*entry
	byID      map[uint16]*entry
	nextID    uint16
	nextGroup uint32
}

func NewRegistry() *Registry {
	return &Registry{
		byName:    make(map[string]*entry),
		byID:      make(map[uint16]*entry),
		nextID:    firstServiceID,
		nextGroup: firstGroupID,
	}
}

// Register adds the service, then each of its groups. A bad group rolls the
// service registration back.
func (r *Registry) Register(spec channel.ServiceSpec) (channel.Service, error) {
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return channel.Service{}, fmt.Errorf("%w: missing name", ErrInvalidSpec)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[name]; ok || name == ControlName {
		return channel.Service{}, fmt.Errorf("%w: %s", ErrExists, name)
	}
	e := &entry{
		svc: channel.Service{
			ID:      r.nextID,
			Name:    name,
			Version: spec.Version,
			Groups:  make(map[string]uint32, len(spec.Groups)),
		},
		commands: make(map[uint8]struct{}, len(spec.Commands)),
	}
	for _, cmd := range spec.Commands {
		e.commands[cmd] = struct{}{}
	}
	r.byName[name] = e
	r.byID[e.svc.ID] = e

	for _, group := range spec.Groups {
		if err := r.addGroupLocked(e, group); err != nil {
			delete(r.byName, name)
			delete(r.byID, e.svc.ID)
			return channel.Service{}, err
		}
	}
	r.nextID++
	log.Info().
		Str("service", name).
		Uint16("id", e.svc.ID).
		Int("groups", len(e.groupOrder)).
		Msg("directory.Registry.Register")
	return copyService(e.svc), nil
}

func (r *Registry) addGroupLocked(e *entry, group string) error {
	group = strings.TrimSpace(group)
	if group == "" {
		return fmt.Errorf("%w: empty group name", ErrInvalidSpec)
	}
	if _, ok := e.svc.Groups[group]; ok {
		return fmt.Errorf("%w: group %s", ErrExists, group)
	}
	e.svc.Groups[group] = r.nextGroup
	e.groupOrder = append(e.groupOrder, group)
	r.nextGroup++
	return nil
}

func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byName[strings.TrimSpace(name)]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(r.byName, e.svc.Name)
	delete(r.byID, e.svc.ID)
	log.Info().Str("service", e.svc.Name).Msg("directory.Registry.Unregister")
	return nil
}

func (r *Registry) Lookup(name string) (channel.Service, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byName[name]
	if !ok {
		return channel.Service{}, false
	}
	return copyService(e.svc), true
}

func (r *Registry) LookupID(id uint16) (channel.Service, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byID[id]
	if !ok {
		return channel.Service{}, false
	}
	return copyService(e.svc), true
}

// Supports reports whether service id registered cmd.
func (r *Registry) Supports(id uint16, cmd uint8) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byID[id]
	if !ok {
		return false
	}
	_, ok = e.commands[cmd]
	return ok
}

// HasGroup reports whether group id belongs to any registered service.
func (r *Registry) HasGroup(id uint32) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.byID {
		for _, gid := range e.svc.Groups {
			if gid == id {
				return true
			}
		}
	}
	return false
}

// HandleControl answers one control request with either a NEWFAMILY reply or
// an error message.
func (r *Registry) HandleControl(req nlmsg.Message) nlmsg.Message {
	h, err := genl.ParseHeader(req.Data)
	if err != nil {
		return nlmsg.NewError(req.Header, -nlmsg.ErrnoInvalid)
	}
	if h.Command != CmdGetFamily {
		return nlmsg.NewError(req.Header, -nlmsg.ErrnoNotSupported)
	}
	attrs, err := attr.Unmarshal(req.Data[genl.HeaderLen:])
	if err != nil {
		return nlmsg.NewError(req.Header, -nlmsg.ErrnoInvalid)
	}

	var (
		e     *entry
		found bool
	)
	r.mu.RLock()
	if a, ok := attr.Get(attrs, AttrFamilyName); ok {
		e, found = r.byName[a.Text()]
	} else if a, ok := attr.Get(attrs, AttrFamilyID); ok {
		if id, err := a.Uint16(); err == nil {
			e, found = r.byID[id]
		}
	}
	var (
		svc   channel.Service
		order []string
	)
	if found {
		svc = copyService(e.svc)
		order = append([]string(nil), e.groupOrder...)
	}
	r.mu.RUnlock()

	if !found {
		log.Debug().Uint32("seq", req.Header.Seq).Msg("directory.Registry.HandleControl not found")
		return nlmsg.NewError(req.Header, -nlmsg.ErrnoNoEntry)
	}
	replyAttrs, err := encodeFamily(svc, order)
	if err != nil {
		return nlmsg.NewError(req.Header, -nlmsg.ErrnoInvalid)
	}
	data, err := genl.Build(CmdNewFamily, ControlVersion, replyAttrs, genl.Limits{})
	if err != nil {
		return nlmsg.NewError(req.Header, -nlmsg.ErrnoInvalid)
	}
	return nlmsg.Message{
		Header: nlmsg.Header{Type: ControlID, Seq: req.Header.Seq, Port: req.Header.Port},
		Data:   data,
	}
}

func copyService(svc channel.Service) channel.Service {
	out := svc
	out.Groups = maps.Clone(svc.Groups)
	return out
}
