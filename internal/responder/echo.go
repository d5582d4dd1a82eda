package responder

import (
	"fmt"

	"github.com/danmuck/genlecho/internal/channel"
	"github.com/danmuck/genlecho/internal/echo"
	"github.com/danmuck/genlecho/internal/observability"
	"github.com/danmuck/genlecho/internal/protocol/genl"
	"github.com/danmuck/genlecho/internal/protocol/nlmsg"
)

type State int32

const (
	StateIdle State = iota
	StateValidating
	StateExecuting
	StateReplying
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateValidating:
		return "validating"
	case StateExecuting:
		return "executing"
	case StateReplying:
		return "replying"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

func (r *Responder) setState(s State) {
	prev := State(r.state.Swap(int32(s)))
	r.log.Trace().Stringer("from", prev).Stringer("to", s).Msg("responder.state")
}

func (r *Responder) handleEcho(hdr nlmsg.Header, msg echo.Message) error {
	defer r.setState(StateIdle)

	r.setState(StateValidating)
	if err := echo.Validate(msg); err != nil {
		observability.RecordDropped(observability.RoleResponder, observability.ReasonInvalid)
		r.log.Error().Err(err).Uint32("seq", hdr.Seq).Msg("responder.handleEcho require message and data")
		r.reject(hdr, nlmsg.ErrnoInvalid)
		return err
	}
	req, err := echo.PayloadFrom(msg.Attributes)
	if err != nil {
		observability.RecordDropped(observability.RoleResponder, observability.ReasonInvalid)
		r.reject(hdr, nlmsg.ErrnoInvalid)
		return err
	}
	r.log.Info().
		Str("message", req.Message).
		Uint32("data", req.Data).
		Uint32("port", hdr.Port).
		Uint32("seq", hdr.Seq).
		Msg("receive from requester")

	r.setState(StateExecuting)
	out, err := r.cfg.Processor(req)
	if err != nil {
		r.log.Error().Err(err).Uint32("seq", hdr.Seq).Msg("responder.handleEcho processor failed")
		r.reject(hdr, nlmsg.ErrnoInvalid)
		return err
	}

	r.setState(StateReplying)
	// DATA precedes MESSAGE on the wire; receivers look attributes up by tag.
	attrs := []echo.Attribute{echo.DataAttr{Value: out.Data}, echo.MessageAttr{Text: out.Message}}

	notify, err := r.build(echo.CmdNotify, nlmsg.Header{Seq: hdr.Seq, Port: hdr.Port}, attrs)
	if err != nil {
		return err
	}
	if err := r.ch.Send(channel.Multicast(r.groupID), notify); err != nil {
		r.log.Warn().Err(err).Uint32("group", r.groupID).Msg("responder.handleEcho multicast failed")
	} else {
		observability.RecordSent(observability.RoleResponder, echo.CmdNotify.String(), "multicast")
	}

	reply, err := r.build(echo.CmdEcho, nlmsg.Header{Seq: hdr.Seq, Port: hdr.Port}, attrs)
	if err != nil {
		return err
	}
	if r.cfg.DumpFrames {
		r.log.Debug().Msg("responder.handleEcho reply frame\n" + genl.Dump(reply))
	}
	if err := r.ch.Send(channel.Unicast(hdr.Port), reply); err != nil {
		r.log.Error().Err(err).Uint32("port", hdr.Port).Msg("responder.handleEcho reply failed")
		return err
	}
	observability.RecordSent(observability.RoleResponder, echo.CmdEcho.String(), "unicast")
	return nil
}

// build frames cmd for this service, carrying the request's origin token.
func (r *Responder) build(cmd echo.Command, origin nlmsg.Header, attrs []echo.Attribute) (nlmsg.Message, error) {
	data, err := echo.Build(cmd, attrs, r.limits)
	if err != nil {
		r.log.Error().Err(err).Stringer("command", cmd).Msg("responder.build failed")
		return nlmsg.Message{}, err
	}
	return nlmsg.Message{
		Header: nlmsg.Header{Type: r.svc.ID, Seq: origin.Seq, Port: origin.Port},
		Data:   data,
	}, nil
}
