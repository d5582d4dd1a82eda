// Package requester is the unprivileged side of the testgenl exchange. It
// resolves the service, joins its multicast group, sends ECHO requests and
// turns inbound ECHO and NOTIFY frames into events.
package requester

import (
	"errors"
	"fmt"

	"github.com/danmuck/genlecho/internal/channel"
	"github.com/danmuck/genlecho/internal/directory"
	"github.com/danmuck/genlecho/internal/echo"
	"github.com/danmuck/genlecho/internal/observability"
	"github.com/danmuck/genlecho/internal/protocol/genl"
	"github.com/danmuck/genlecho/internal/protocol/nlmsg"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
)

var ErrRemote = errors.New("requester: remote error")

const (
	RequestMessage        = "Hello generic netlink!"
	RequestData    uint32 = 9527
)

type EventKind int

const (
	EventReply EventKind = iota + 1
	EventNotify
)

func (k EventKind) String() string {
	switch k {
	case EventReply:
		return "reply"
	case EventNotify:
		return "notify"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is one decoded ECHO or NOTIFY frame.
type Event struct {
	Kind    EventKind
	Header  nlmsg.Header
	Payload echo.Payload
}

type Config struct {
	Service    string
	Group      string
	DumpFrames bool
	Logger     *zerolog.Logger
	// Sequence is shared with the resolver; nil allocates one.
	Sequence *nlmsg.Sequence
	OnEvent  func(Event)
}

func DefaultConfig() Config {
	return Config{Service: echo.ServiceName, Group: echo.GroupName}
}

type Requester struct {
	ch     channel.Channel
	cfg    Config
	log    zerolog.Logger
	seq    *nlmsg.Sequence
	addr   directory.Address
	limits genl.Limits
}

// Connect resolves the service and group over ch and joins the group. Any
// failure here is fatal to startup.
func Connect(ch channel.Channel, cfg Config) (*Requester, error) {
	def := DefaultConfig()
	if cfg.Service == "" {
		cfg.Service = def.Service
	}
	if cfg.Group == "" {
		cfg.Group = def.Group
	}
	if cfg.Sequence == nil {
		cfg.Sequence = &nlmsg.Sequence{}
	}
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	r := &Requester{
		ch:     ch,
		cfg:    cfg,
		log:    logger.With().Str("role", observability.RoleRequester).Logger(),
		seq:    cfg.Sequence,
		limits: genl.Limits{MaxMessageBytes: ch.MaxMessageSize()},
	}

	addr, err := directory.NewResolver(ch, r.seq).Resolve(cfg.Service, cfg.Group)
	if err != nil {
		return nil, fmt.Errorf("requester: resolve %s/%s: %w", cfg.Service, cfg.Group, err)
	}
	if addr.HasGroup {
		if err := ch.JoinGroup(addr.GroupID); err != nil {
			return nil, fmt.Errorf("requester: join group %d: %w", addr.GroupID, err)
		}
	}
	r.addr = addr
	r.log.Info().
		Str("service", cfg.Service).
		Uint16("service_id", addr.ServiceID).
		Str("group", cfg.Group).
		Uint32("group_id", addr.GroupID).
		Msg("requester.Connect resolved")
	return r, nil
}

func (r *Requester) Address() directory.Address {
	return r.addr
}

// SendEcho sends an ECHO request and returns its sequence number.
func (r *Requester) SendEcho(p echo.Payload) (uint32, error) {
	data, err := echo.Build(echo.CmdEcho, p.Attributes(), r.limits)
	if err != nil {
		return 0, fmt.Errorf("requester: build echo: %w", err)
	}
	seq := r.seq.Next()
	msg := nlmsg.Message{
		Header: nlmsg.Header{Type: r.addr.ServiceID, Flags: nlmsg.FlagRequest, Seq: seq},
		Data:   data,
	}
	if r.cfg.DumpFrames {
		r.log.Debug().Msg("requester.SendEcho request frame\n" + genl.Dump(msg))
	}
	if err := r.ch.Send(channel.Unicast(channel.ResponderPort), msg); err != nil {
		observability.RecordDropped(observability.RoleRequester, observability.ReasonSendFailed)
		return 0, fmt.Errorf("requester: send echo: %w", err)
	}
	observability.RecordSent(observability.RoleRequester, echo.CmdEcho.String(), "unicast")
	r.log.Info().Str("message", p.Message).Uint32("data", p.Data).Uint32("seq", seq).Msg("requester.SendEcho sent")
	return seq, nil
}

// Run receives until the channel is closed. Malformed or unexpected frames
// are logged and skipped.
func (r *Requester) Run() error {
	for {
		msgs, err := r.ch.Receive()
		if err != nil {
			if errors.Is(err, channel.ErrClosed) {
				r.log.Info().Msg("requester.Run channel closed")
				return nil
			}
			observability.RecordDropped(observability.RoleRequester, observability.ReasonDecode)
			r.log.Error().Err(err).Msg("requester.Run receive failed")
			continue
		}
		for _, m := range msgs {
			if _, _, err := r.Handle(m); err != nil {
				r.log.Warn().Err(err).Uint32("seq", m.Header.Seq).Msg("requester.Run message dropped")
			}
		}
	}
}

// Handle dispatches one inbound message. ok is false when m produced no event.
func (r *Requester) Handle(m nlmsg.Message) (ev Event, ok bool, err error) {
	switch m.Header.Type {
	case nlmsg.TypeError:
		body, perr := nlmsg.ParseError(m)
		if perr != nil {
			observability.RecordDropped(observability.RoleRequester, observability.ReasonDecode)
			return Event{}, false, perr
		}
		if body.Code == 0 {
			return Event{}, false, nil
		}
		observability.RecordDropped(observability.RoleRequester, observability.ReasonRemoteError)
		return Event{}, false, fmt.Errorf("%w: code=%d seq=%d", ErrRemote, body.Code, body.Original.Seq)
	case nlmsg.TypeNoop, nlmsg.TypeDone:
		return Event{}, false, nil
	case r.addr.ServiceID:
	default:
		observability.RecordDropped(observability.RoleRequester, observability.ReasonForeign)
		r.log.Debug().Uint16("type", m.Header.Type).Msg("requester.Handle foreign type skipped")
		return Event{}, false, nil
	}

	if r.cfg.DumpFrames {
		r.log.Debug().Msg("requester.Handle frame\n" + genl.Dump(m))
	}
	msg, err := echo.Parse(m.Data)
	if err != nil {
		observability.RecordDropped(observability.RoleRequester, observability.ReasonDecode)
		return Event{}, false, err
	}

	var kind EventKind
	switch msg.Command {
	case echo.CmdEcho:
		kind = EventReply
	case echo.CmdNotify:
		kind = EventNotify
	default:
		r.log.Debug().Stringer("command", msg.Command).Msg("requester.Handle unknown command skipped")
		return Event{}, false, nil
	}

	if err := echo.Validate(msg); err != nil {
		observability.RecordDropped(observability.RoleRequester, observability.ReasonInvalid)
		return Event{}, false, err
	}
	p, err := echo.PayloadFrom(msg.Attributes)
	if err != nil {
		observability.RecordDropped(observability.RoleRequester, observability.ReasonInvalid)
		return Event{}, false, err
	}
	observability.RecordReceived(observability.RoleRequester, msg.Command.String())

	switch kind {
	case EventReply:
		r.log.Info().Str("message", p.Message).Uint32("data", p.Data).Uint32("seq", m.Header.Seq).Msg("receive reply")
	case EventNotify:
		r.log.Info().Str("message", p.Message).Uint32("data", p.Data).Msg("receive broadcast")
	}
	ev = Event{Kind: kind, Header: m.Header, Payload: p}
	if r.cfg.OnEvent != nil {
		r.cfg.OnEvent(ev)
	}
	return ev, true, nil
}

// Close leaves the group and closes the channel.
func (r *Requester) Close() error {
	var err error
	if r.addr.HasGroup {
		if lerr := r.ch.LeaveGroup(r.addr.GroupID); lerr != nil && !errors.Is(lerr, channel.ErrClosed) {
			err = multierr.Append(err, lerr)
		}
	}
	return multierr.Append(err, r.ch.Close())
}
