package directory

import (
	"errors"
	"fmt"

	"github.com/danmuck/genlecho/internal/channel"
	"github.com/danmuck/genlecho/internal/protocol/attr"
	"github.com/danmuck/genlecho/internal/protocol/genl"
)

// Control service wire constants.
const (
	ControlID      uint16 = 0x10
	ControlName           = "nlctrl"
	ControlVersion uint8  = 2

	CmdNewFamily uint8 = 1
	CmdGetFamily uint8 = 3

	AttrFamilyID    uint16 = 1
	AttrFamilyName  uint16 = 2
	AttrVersion     uint16 = 3
	AttrMcastGroups uint16 = 7

	AttrGroupName uint16 = 1
	AttrGroupID   uint16 = 2
)

var (
	ErrNotFound    = errors.New("directory: not found")
	ErrExists      = errors.New("directory: already registered")
	ErrInvalidSpec = errors.New("directory: invalid service spec")
	ErrBadReply    = errors.New("directory: malformed control reply")
)

// encodeFamily builds the attributes of a NEWFAMILY reply.
func encodeFamily(svc channel.Service, groupOrder []string) ([]attr.Attr, error) {
	attrs := []attr.Attr{
		attr.NewUint16(AttrFamilyID, svc.ID),
		attr.NewString(AttrFamilyName, svc.Name),
		attr.NewUint32(AttrVersion, uint32(svc.Version)),
	}
	if len(groupOrder) == 0 {
		return attrs, nil
	}
	entries := make([]attr.Attr, 0, len(groupOrder))
	for i, name := range groupOrder {
		entry, err := attr.NewNested(uint16(i+1), []attr.Attr{
			attr.NewString(AttrGroupName, name),
			attr.NewUint32(AttrGroupID, svc.Groups[name]),
		})
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	groups, err := attr.NewNested(AttrMcastGroups, entries)
	if err != nil {
		return nil, err
	}
	return append(attrs, groups), nil
}

// decodeFamily reads a NEWFAMILY reply. Attributes it does not use are
// skipped.
func decodeFamily(f genl.Frame) (channel.Service, error) {
	svc := channel.Service{Groups: make(map[string]uint32)}
	idAttr, ok := attr.Get(f.Attrs, AttrFamilyID)
	if !ok {
		return channel.Service{}, fmt.Errorf("%w: missing family id", ErrBadReply)
	}
	id, err := idAttr.Uint16()
	if err != nil {
		return channel.Service{}, fmt.Errorf("%w: family id: %v", ErrBadReply, err)
	}
	svc.ID = id
	if a, ok := attr.Get(f.Attrs, AttrFamilyName); ok {
		svc.Name = a.Text()
	}
	if a, ok := attr.Get(f.Attrs, AttrVersion); ok {
		if v, err := a.Uint32(); err == nil {
			svc.Version = uint8(v)
		}
	}
	groups, ok := attr.Get(f.Attrs, AttrMcastGroups)
	if !ok {
		return svc, nil
	}
	entries, err := groups.Children()
	if err != nil {
		return channel.Service{}, fmt.Errorf("%w: groups: %v", ErrBadReply, err)
	}
	for _, entry := range entries {
		fields, err := entry.Children()
		if err != nil {
			return channel.Service{}, fmt.Errorf("%w: group entry: %v", ErrBadReply, err)
		}
		nameAttr, okName := attr.Get(fields, AttrGroupName)
		idAttr, okID := attr.Get(fields, AttrGroupID)
		if !okName || !okID {
			continue
		}
		gid, err := idAttr.Uint32()
		if err != nil {
			return channel.Service{}, fmt.Errorf("%w: group id: %v", ErrBadReply, err)
		}
		svc.Groups[nameAttr.Text()] = gid
	}
	return svc, nil
}
