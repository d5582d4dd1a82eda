package requester_test

import (
	"errors"
	"testing"
	"time"

	"github.com/danmuck/genlecho/internal/channel"
	"github.com/danmuck/genlecho/internal/channel/bus"
	"github.com/danmuck/genlecho/internal/directory"
	"github.com/danmuck/genlecho/internal/echo"
	"github.com/danmuck/genlecho/internal/protocol/genl"
	"github.com/danmuck/genlecho/internal/protocol/nlmsg"
	"github.com/danmuck/genlecho/internal/requester"
	"github.com/danmuck/genlecho/internal/responder"
	"github.com/danmuck/genlecho/internal/testutil/testlog"
)

func startResponder(t *testing.T, b *bus.Bus) *responder.Responder {
	t.Helper()
	conn := b.Dial()
	r := responder.New(conn, conn, responder.DefaultConfig())
	if err := r.Start(); err != nil {
		t.Fatalf("responder start: %v", err)
	}
	return r
}

func TestEchoExchangeEndToEnd(t *testing.T) {
	testlog.Start(t)
	b := bus.New(bus.DefaultOptions())
	defer b.Close()

	resp := startResponder(t, b)
	serveDone := make(chan error, 1)
	go func() { serveDone <- resp.Serve() }()

	events := make(chan requester.Event, 4)
	req, err := requester.Connect(b.Dial(), requester.Config{
		OnEvent: func(ev requester.Event) { events <- ev },
	})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if got := req.Address(); got.ServiceID != resp.Service().ID || !got.HasGroup {
		t.Fatalf("unexpected address %+v", got)
	}
	runDone := make(chan error, 1)
	go func() { runDone <- req.Run() }()

	seq, err := req.SendEcho(echo.Payload{Message: requester.RequestMessage, Data: requester.RequestData})
	if err != nil {
		t.Fatalf("send echo: %v", err)
	}

	got := make(map[requester.EventKind]requester.Event)
	for len(got) < 2 {
		select {
		case ev := <-events:
			got[ev.Kind] = ev
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for events, have %v", got)
		}
	}
	reply, notify := got[requester.EventReply], got[requester.EventNotify]
	if reply.Header.Seq != seq {
		t.Fatalf("reply seq %d, want %d", reply.Header.Seq, seq)
	}
	for _, ev := range []requester.Event{reply, notify} {
		if ev.Payload.Message != responder.ReplyMessage || ev.Payload.Data != responder.ReplyData {
			t.Fatalf("%s: unexpected payload %+v", ev.Kind, ev.Payload)
		}
	}

	if err := req.Close(); err != nil {
		t.Fatalf("requester close: %v", err)
	}
	if err := resp.Close(); err != nil {
		t.Fatalf("responder close: %v", err)
	}
	for name, ch := range map[string]chan error{"run": runDone, "serve": serveDone} {
		select {
		case err := <-ch:
			if err != nil {
				t.Fatalf("%s: %v", name, err)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("%s did not return after close", name)
		}
	}
}

func TestConnectUnknownServiceFails(t *testing.T) {
	testlog.Start(t)
	b := bus.New(bus.DefaultOptions())
	defer b.Close()
	_, err := requester.Connect(b.Dial(), requester.DefaultConfig())
	if !errors.Is(err, directory.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestConnectUnknownGroupFails(t *testing.T) {
	testlog.Start(t)
	b := bus.New(bus.DefaultOptions())
	defer b.Close()
	startResponder(t, b)
	_, err := requester.Connect(b.Dial(), requester.Config{Group: "nosuchgroup"})
	if !errors.Is(err, directory.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func connected(t *testing.T) (*requester.Requester, uint16) {
	t.Helper()
	testlog.Start(t)
	b := bus.New(bus.DefaultOptions())
	t.Cleanup(func() { _ = b.Close() })
	resp := startResponder(t, b)
	req, err := requester.Connect(b.Dial(), requester.DefaultConfig())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	return req, resp.Service().ID
}

func frame(t *testing.T, typ uint16, cmd echo.Command, attrs []echo.Attribute) nlmsg.Message {
	t.Helper()
	data, err := echo.Build(cmd, attrs, genl.DefaultLimits())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return nlmsg.Message{Header: nlmsg.Header{Type: typ, Seq: 1}, Data: data}
}

func TestHandleSkipsUnknownCommand(t *testing.T) {
	req, id := connected(t)
	payload := echo.Payload{Message: "x", Data: 1}.Attributes()
	ev, ok, err := req.Handle(frame(t, id, echo.Command(7), payload))
	if ok || err != nil {
		t.Fatalf("expected silent skip, got %+v ok=%v err=%v", ev, ok, err)
	}
	if _, ok, err := req.Handle(frame(t, 0x7e, echo.CmdEcho, payload)); ok || err != nil {
		t.Fatalf("expected foreign type skip, got ok=%v err=%v", ok, err)
	}
}

func TestHandleNotifyWithAttributesInAnyOrder(t *testing.T) {
	req, id := connected(t)
	attrs := []echo.Attribute{
		echo.DataAttr{Value: 7438},
		echo.UnknownAttr{Type: 9, Raw: []byte{1, 2, 3, 4}},
		echo.MessageAttr{Text: "I am message from kernel!"},
	}
	ev, ok, err := req.Handle(frame(t, id, echo.CmdNotify, attrs))
	if err != nil || !ok {
		t.Fatalf("handle: ok=%v err=%v", ok, err)
	}
	if ev.Kind != requester.EventNotify || ev.Payload.Data != 7438 || ev.Payload.Message != "I am message from kernel!" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestHandleDropsInvalidReply(t *testing.T) {
	req, id := connected(t)
	_, ok, err := req.Handle(frame(t, id, echo.CmdEcho, []echo.Attribute{echo.MessageAttr{Text: "only message"}}))
	if ok || !errors.Is(err, echo.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got ok=%v err=%v", ok, err)
	}
	bad := nlmsg.Message{Header: nlmsg.Header{Type: id}, Data: []byte{1}}
	if _, ok, err := req.Handle(bad); ok || err == nil {
		t.Fatalf("expected decode error, got ok=%v err=%v", ok, err)
	}
}

func TestHandleRemoteError(t *testing.T) {
	req, id := connected(t)
	msg := nlmsg.NewError(nlmsg.Header{Type: id, Seq: 4}, -nlmsg.ErrnoInvalid)
	if _, _, err := req.Handle(msg); !errors.Is(err, requester.ErrRemote) {
		t.Fatalf("expected ErrRemote, got %v", err)
	}
	ack := nlmsg.NewError(nlmsg.Header{Type: id, Seq: 4}, 0)
	if _, ok, err := req.Handle(ack); ok || err != nil {
		t.Fatalf("expected ack to be ignored, got ok=%v err=%v", ok, err)
	}
}

func TestRunSkipsMalformedFramesAndKeepsReceiving(t *testing.T) {
	testlog.Start(t)
	b := bus.New(bus.DefaultOptions())
	defer b.Close()
	resp := startResponder(t, b)
	id := resp.Service().ID

	conn := b.Dial()
	events := make(chan requester.Event, 4)
	req, err := requester.Connect(conn, requester.Config{
		OnEvent: func(ev requester.Event) { events <- ev },
	})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	runDone := make(chan error, 1)
	go func() { runDone <- req.Run() }()

	peer := b.Dial()
	frames := []nlmsg.Message{
		{Header: nlmsg.Header{Type: id, Seq: 1}, Data: []byte{1}},
		frame(t, id, echo.CmdEcho, []echo.Attribute{echo.MessageAttr{Text: "only message"}}),
		frame(t, id, echo.CmdNotify, echo.Payload{Message: responder.ReplyMessage, Data: responder.ReplyData}.Attributes()),
	}
	for _, m := range frames {
		if err := peer.Send(channel.Unicast(conn.Port()), m); err != nil {
			t.Fatalf("send: %v", err)
		}
	}

	select {
	case ev := <-events:
		if ev.Kind != requester.EventNotify || ev.Payload.Data != responder.ReplyData {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run stopped delivering after malformed frames")
	}
	select {
	case ev := <-events:
		t.Fatalf("malformed frame produced an event: %+v", ev)
	default:
	}

	if err := req.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case err := <-runDone:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not return after close")
	}
}

func TestEventKindString(t *testing.T) {
	if requester.EventReply.String() != "reply" || requester.EventKind(0).String() != "event(0)" {
		t.Fatalf("unexpected event kind names")
	}
}
