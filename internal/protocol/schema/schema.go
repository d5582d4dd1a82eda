package schema

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/danmuck/genlecho/internal/protocol/attr"
	"github.com/rs/zerolog/log"
)

// ErrInvalidArgument is the class of every policy violation.
var ErrInvalidArgument = errors.New("schema: invalid argument")

// Kind is the expected payload shape of one attribute type.
type Kind uint8

const (
	KindBinary Kind = iota
	KindU16
	KindU32
	KindNulString
	KindNested
)

func (k Kind) String() string {
	switch k {
	case KindU16:
		return "u16"
	case KindU32:
		return "u32"
	case KindNulString:
		return "nul_string"
	case KindNested:
		return "nested"
	default:
		return "binary"
	}
}

type Rule struct {
	Type     uint16
	Kind     Kind
	Required bool
}

// Policy lists the known attributes of one command.
type Policy struct {
	Command uint8
	Rules   []Rule
}

type ValidationError struct {
	Command  uint8
	AttrType uint16
	Reason   string
}

func (e ValidationError) Error() string {
	if e.AttrType == 0 {
		return fmt.Sprintf("schema: command=%d: %s", e.Command, e.Reason)
	}
	return fmt.Sprintf("schema: command=%d attr=%d: %s", e.Command, e.AttrType, e.Reason)
}

func (e ValidationError) Unwrap() error {
	return ErrInvalidArgument
}

// Validate checks the shape of every known attribute, then that every
// required attribute is present. Unknown attribute types are ignored.
func (p Policy) Validate(attrs []attr.Attr) error {
	log.Debug().Uint8("command", p.Command).Int("attrs", len(attrs)).Msg("schema.Validate")
	rules := make(map[uint16]Rule, len(p.Rules))
	for _, r := range p.Rules {
		rules[r.Type] = r
	}
	seen := make(map[uint16]struct{}, len(attrs))
	for _, a := range attrs {
		r, ok := rules[a.Type]
		if !ok {
			continue
		}
		if _, dup := seen[a.Type]; dup {
			return p.reject(a.Type, "duplicate attribute")
		}
		seen[a.Type] = struct{}{}
		if !shapeOK(a, r.Kind) {
			return p.reject(a.Type, fmt.Sprintf("malformed %s payload len=%d", r.Kind, len(a.Data)))
		}
	}
	for _, r := range p.Rules {
		if !r.Required {
			continue
		}
		if _, ok := seen[r.Type]; !ok {
			return p.reject(r.Type, "missing required attribute")
		}
	}
	return nil
}

func (p Policy) reject(typ uint16, reason string) error {
	log.Debug().
		Uint8("command", p.Command).
		Uint16("attr", typ).
		Str("reason", reason).
		Msg("schema.Validate rejected")
	return ValidationError{Command: p.Command, AttrType: typ, Reason: reason}
}

func shapeOK(a attr.Attr, k Kind) bool {
	switch k {
	case KindU16:
		return len(a.Data) == 2
	case KindU32:
		return len(a.Data) == 4
	case KindNulString:
		return bytes.IndexByte(a.Data, 0) >= 0
	case KindNested:
		if !a.Nested {
			return false
		}
		_, err := a.Children()
		return err == nil
	default:
		return true
	}
}
