package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/danmuck/genlecho/internal/echo"
	"github.com/danmuck/genlecho/internal/requester"
	"github.com/rs/zerolog/log"
)

var errNoReply = errors.New("no reply")

type outcome struct {
	reply  requester.Event
	notify *requester.Event
}

// eventSink buffers requester events for awaitOutcome and streamEvents.
func eventSink() (chan requester.Event, func(requester.Event)) {
	events := make(chan requester.Event, 8)
	return events, func(ev requester.Event) {
		select {
		case events <- ev:
		default:
			log.Warn().Stringer("kind", ev.Kind).Msg("event buffer full, dropped")
		}
	}
}

// awaitOutcome waits for the reply to seq and the group notification. A
// missing notification is tolerated once the reply has arrived.
func awaitOutcome(ctx context.Context, events <-chan requester.Event, seq uint32, wait time.Duration) (outcome, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	var (
		out      outcome
		gotReply bool
	)
	for !gotReply || out.notify == nil {
		select {
		case ev := <-events:
			switch ev.Kind {
			case requester.EventReply:
				if ev.Header.Seq != seq {
					log.Debug().Uint32("seq", ev.Header.Seq).Uint32("want", seq).Msg("stale reply skipped")
					continue
				}
				out.reply = ev
				gotReply = true
			case requester.EventNotify:
				ev := ev
				out.notify = &ev
			}
		case <-timer.C:
			if gotReply {
				log.Warn().Dur("wait", wait).Msg("no group notification before deadline")
				return out, nil
			}
			return outcome{}, fmt.Errorf("%w for seq %d within %s", errNoReply, seq, wait)
		case <-ctx.Done():
			return outcome{}, ctx.Err()
		}
	}
	return out, nil
}

// streamEvents prints every event as it arrives until ctx is done. It is the
// long-running form of the requester loop and applies no deadline of its own.
func streamEvents(ctx context.Context, w io.Writer, events <-chan requester.Event) error {
	for {
		select {
		case ev := <-events:
			printEvent(w, ev)
		case <-ctx.Done():
			return nil
		}
	}
}

func printOutcome(w io.Writer, sent echo.Payload, out outcome) {
	printSent(w, sent)
	printEvent(w, out.reply)
	if out.notify != nil {
		printEvent(w, *out.notify)
	}
}

func printSent(w io.Writer, sent echo.Payload) {
	fmt.Fprintf(w, "sent      message=%q data=%d\n", sent.Message, sent.Data)
}

func printEvent(w io.Writer, ev requester.Event) {
	switch ev.Kind {
	case requester.EventReply:
		fmt.Fprintf(w, "reply     message=%q data=%d seq=%d\n", ev.Payload.Message, ev.Payload.Data, ev.Header.Seq)
	case requester.EventNotify:
		fmt.Fprintf(w, "broadcast message=%q data=%d\n", ev.Payload.Message, ev.Payload.Data)
	}
}
