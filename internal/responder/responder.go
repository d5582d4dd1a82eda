// Package responder owns the privileged side of the testgenl exchange.
//
// Lifecycle:
// - Start registers the service and its multicast group
// - Serve receives and handles requests one at a time until the channel closes
// - Close unregisters and closes the channel
//
// Each request runs Idle -> Validating -> Executing -> Replying -> Idle. A
// failed exchange is reported to its requester and dropped; it never stops
// Serve.
package responder

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/danmuck/genlecho/internal/channel"
	"github.com/danmuck/genlecho/internal/echo"
	"github.com/danmuck/genlecho/internal/observability"
	"github.com/danmuck/genlecho/internal/protocol/genl"
	"github.com/danmuck/genlecho/internal/protocol/nlmsg"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
	"golang.org/x/time/rate"
)

var (
	ErrNotStarted         = errors.New("responder: not started")
	ErrUnsupportedCommand = errors.New("responder: unsupported command")
	ErrRateLimited        = errors.New("responder: rate limited")
	ErrForeignService     = errors.New("responder: message for another service")
)

const (
	ReplyMessage        = "I am message from kernel!"
	ReplyData    uint32 = 7438
)

// Processor is the Executing step: it turns a validated request payload into
// the payload sent back in NOTIFY and ECHO.
type Processor func(req echo.Payload) (echo.Payload, error)

// FixedReply answers every request with ReplyMessage and ReplyData.
func FixedReply(echo.Payload) (echo.Payload, error) {
	return echo.Payload{Message: ReplyMessage, Data: ReplyData}, nil
}

type Config struct {
	Service    string
	Group      string
	DumpFrames bool
	// RequestRate is the sustained requests per second accepted; zero
	// disables limiting.
	RequestRate  float64
	RequestBurst int
	Processor    Processor
	Logger       *zerolog.Logger
}

func DefaultConfig() Config {
	return Config{
		Service:   echo.ServiceName,
		Group:     echo.GroupName,
		Processor: FixedReply,
	}
}

type handlerFunc func(r *Responder, hdr nlmsg.Header, msg echo.Message) error

type Responder struct {
	ch       channel.Channel
	reg      channel.Registrar
	cfg      Config
	log      zerolog.Logger
	limits   genl.Limits
	limiter  *rate.Limiter
	handlers map[echo.Command]handlerFunc

	svc     channel.Service
	groupID uint32
	// started is set once by Start and never cleared, so a Serve loop that
	// races Close still reaches Receive and observes channel.ErrClosed.
	started    atomic.Bool
	registered atomic.Bool
	state      atomic.Int32
}

func New(ch channel.Channel, reg channel.Registrar, cfg Config) *Responder {
	def := DefaultConfig()
	if cfg.Service == "" {
		cfg.Service = def.Service
	}
	if cfg.Group == "" {
		cfg.Group = def.Group
	}
	if cfg.Processor == nil {
		cfg.Processor = def.Processor
	}
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	r := &Responder{
		ch:     ch,
		reg:    reg,
		cfg:    cfg,
		log:    logger.With().Str("role", observability.RoleResponder).Logger(),
		limits: genl.Limits{MaxMessageBytes: ch.MaxMessageSize()},
		handlers: map[echo.Command]handlerFunc{
			echo.CmdEcho: (*Responder).handleEcho,
		},
	}
	if cfg.RequestRate > 0 {
		burst := cfg.RequestBurst
		if burst <= 0 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(cfg.RequestRate), burst)
	}
	return r
}

// Start registers the service with its commands and group.
func (r *Responder) Start() error {
	commands := make([]uint8, 0, len(r.handlers))
	for cmd := range r.handlers {
		commands = append(commands, uint8(cmd))
	}
	svc, err := r.reg.Register(channel.ServiceSpec{
		Name:     r.cfg.Service,
		Version:  echo.Version,
		Commands: commands,
		Groups:   []string{r.cfg.Group},
	})
	if err != nil {
		return fmt.Errorf("responder: register %s: %w", r.cfg.Service, err)
	}
	r.svc = svc
	r.groupID = svc.Groups[r.cfg.Group]
	r.registered.Store(true)
	r.started.Store(true)
	r.log.Info().
		Str("service", svc.Name).
		Uint16("service_id", svc.ID).
		Str("group", r.cfg.Group).
		Uint32("group_id", r.groupID).
		Msg("responder.Start registered")
	return nil
}

func (r *Responder) Service() channel.Service {
	return r.svc
}

func (r *Responder) State() State {
	return State(r.state.Load())
}

// Serve handles inbound requests until the channel is closed.
func (r *Responder) Serve() error {
	if !r.started.Load() {
		return ErrNotStarted
	}
	for {
		msgs, err := r.ch.Receive()
		if err != nil {
			if errors.Is(err, channel.ErrClosed) {
				r.log.Info().Msg("responder.Serve channel closed")
				return nil
			}
			observability.RecordDropped(observability.RoleResponder, observability.ReasonDecode)
			r.log.Error().Err(err).Msg("responder.Serve receive failed")
			continue
		}
		for _, m := range msgs {
			_ = r.Handle(m)
		}
	}
}

// Handle runs one exchange for m. Errors are logged and counted here; the
// return value is informational.
func (r *Responder) Handle(m nlmsg.Message) error {
	if !r.started.Load() {
		return ErrNotStarted
	}
	if m.Header.Type != r.svc.ID {
		observability.RecordDropped(observability.RoleResponder, observability.ReasonForeign)
		r.log.Debug().Uint16("type", m.Header.Type).Msg("responder.Handle foreign message dropped")
		return fmt.Errorf("%w: type=%d", ErrForeignService, m.Header.Type)
	}
	if r.limiter != nil && !r.limiter.Allow() {
		observability.RecordDropped(observability.RoleResponder, observability.ReasonRateLimited)
		r.log.Warn().Uint32("port", m.Header.Port).Uint32("seq", m.Header.Seq).Msg("responder.Handle rate limited")
		r.reject(m.Header, nlmsg.ErrnoInvalid)
		return ErrRateLimited
	}
	if r.cfg.DumpFrames {
		r.log.Debug().Msg("responder.Handle request frame\n" + genl.Dump(m))
	}

	msg, err := echo.Parse(m.Data)
	if err != nil {
		observability.RecordDropped(observability.RoleResponder, observability.ReasonDecode)
		r.log.Error().Err(err).Uint32("seq", m.Header.Seq).Msg("responder.Handle decode failed")
		r.reject(m.Header, nlmsg.ErrnoInvalid)
		return err
	}
	handler, ok := r.handlers[msg.Command]
	if !ok {
		observability.RecordDropped(observability.RoleResponder, observability.ReasonUnsupported)
		r.log.Warn().Stringer("command", msg.Command).Msg("responder.Handle unsupported command")
		r.reject(m.Header, nlmsg.ErrnoNotSupported)
		return fmt.Errorf("%w: %s", ErrUnsupportedCommand, msg.Command)
	}
	observability.RecordReceived(observability.RoleResponder, msg.Command.String())
	return handler(r, m.Header, msg)
}

// Close unregisters the service and closes the channel. It is safe to call
// while Serve runs and more than once.
func (r *Responder) Close() error {
	var err error
	if r.registered.CompareAndSwap(true, false) {
		err = multierr.Append(err, r.reg.Unregister(r.cfg.Service))
	}
	return multierr.Append(err, r.ch.Close())
}

// reject reports errno back to the requester of h, if h was a request.
func (r *Responder) reject(h nlmsg.Header, errno int32) {
	if h.Flags&nlmsg.FlagRequest == 0 {
		return
	}
	if err := r.ch.Send(channel.Unicast(h.Port), nlmsg.NewError(h, -errno)); err != nil {
		r.log.Error().Err(err).Uint32("port", h.Port).Msg("responder.reject send failed")
	}
}
