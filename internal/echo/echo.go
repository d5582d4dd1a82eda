package echo

import (
	"errors"
	"fmt"

	"github.com/danmuck/genlecho/internal/protocol/genl"
	"github.com/danmuck/genlecho/internal/protocol/schema"
)

const (
	ServiceName = "testgenl"
	GroupName   = "testgroup"
	Version     = uint8(1)
)

type Command uint8

const (
	CmdUnspec Command = iota
	CmdEcho
	CmdNotify
)

func (c Command) String() string {
	switch c {
	case CmdEcho:
		return "echo"
	case CmdNotify:
		return "notify"
	case CmdUnspec:
		return "unspec"
	default:
		return fmt.Sprintf("command(%d)", uint8(c))
	}
}

const (
	AttrUnspec uint16 = iota
	AttrMessage
	AttrData
)

var ErrInvalidArgument = schema.ErrInvalidArgument

// Policies is the attribute policy per command.
var Policies = map[Command]schema.Policy{
	CmdEcho: {
		Command: uint8(CmdEcho),
		Rules: []schema.Rule{
			{Type: AttrMessage, Kind: schema.KindNulString, Required: true},
			{Type: AttrData, Kind: schema.KindU32, Required: true},
		},
	},
	CmdNotify: {
		Command: uint8(CmdNotify),
		Rules: []schema.Rule{
			{Type: AttrMessage, Kind: schema.KindNulString, Required: true},
			{Type: AttrData, Kind: schema.KindU32, Required: true},
		},
	},
}

// Payload is the MESSAGE/DATA pair carried by ECHO and NOTIFY.
type Payload struct {
	Message string
	Data    uint32
}

func (p Payload) Attributes() []Attribute {
	return []Attribute{MessageAttr{Text: p.Message}, DataAttr{Value: p.Data}}
}

// PayloadFrom looks MESSAGE and DATA up by tag. Either one missing is
// ErrInvalidArgument.
func PayloadFrom(attrs []Attribute) (Payload, error) {
	var (
		p          Payload
		hasMessage bool
		hasData    bool
	)
	for _, a := range attrs {
		switch v := a.(type) {
		case MessageAttr:
			p.Message = v.Text
			hasMessage = true
		case DataAttr:
			p.Data = v.Value
			hasData = true
		}
	}
	if !hasMessage || !hasData {
		return Payload{}, fmt.Errorf("%w: require message and data", ErrInvalidArgument)
	}
	return p, nil
}

// Message is one decoded testgenl frame.
type Message struct {
	Command    Command
	Version    uint8
	Attributes []Attribute
}

// Build encodes cmd and attrs into a frame no larger than limits allows.
func Build(cmd Command, attrs []Attribute, limits genl.Limits) ([]byte, error) {
	return genl.Build(uint8(cmd), Version, toRaw(attrs), limits)
}

// Parse decodes a frame. It does not apply the command policy; see Validate.
func Parse(b []byte) (Message, error) {
	f, err := genl.Parse(b, Version)
	if err != nil {
		return Message{}, err
	}
	return Message{
		Command:    Command(f.Header.Command),
		Version:    f.Header.Version,
		Attributes: FromRaw(f.Attrs),
	}, nil
}

// Validate applies the command's attribute policy. Commands without a policy
// pass.
func Validate(m Message) error {
	policy, ok := Policies[m.Command]
	if !ok {
		return nil
	}
	return policy.Validate(toRaw(m.Attributes))
}

// IsDecodeError reports whether err came from a malformed frame rather than a
// policy violation.
func IsDecodeError(err error) bool {
	var attrErr genl.AttributeError
	return errors.As(err, &attrErr) ||
		errors.Is(err, genl.ErrShortHeader) ||
		errors.Is(err, genl.ErrUnsupportedVersion)
}
