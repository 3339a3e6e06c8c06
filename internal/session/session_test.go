package session

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/ircterm/internal/client"
	"github.com/omochice/ircterm/pkg/protocol"
)

var fixedTime = time.Date(2024, 3, 9, 14, 5, 0, 0, time.UTC)

type fakePipeline struct {
	mu        sync.Mutex
	started   []protocol.Event
	submitted []protocol.Event
	shutdown  bool
	err       error

	events chan protocol.Event
	errs   chan error
}

func newFakePipeline() *fakePipeline {
	return &fakePipeline{
		events: make(chan protocol.Event, 16),
		errs:   make(chan error, 16),
	}
}

func (p *fakePipeline) Start(first ...protocol.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started = append(p.started, first...)
	return nil
}

func (p *fakePipeline) Submit(ctx context.Context, ev protocol.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.shutdown {
		return client.ErrClosed
	}
	p.submitted = append(p.submitted, ev)
	return nil
}

func (p *fakePipeline) Events() <-chan protocol.Event { return p.events }
func (p *fakePipeline) Errors() <-chan error          { return p.errs }

func (p *fakePipeline) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shutdown = true
	return nil
}

func (p *fakePipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *fakePipeline) Stats() client.Stats { return client.Stats{} }

func (p *fakePipeline) sent() []protocol.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]protocol.Event(nil), p.submitted...)
}

func (p *fakePipeline) isShutdown() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shutdown
}

// recordSink collects records; it is only called from the session loop.
type recordSink struct {
	mu      sync.Mutex
	records []Record
}

func (s *recordSink) Render(r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
	return nil
}

func (s *recordSink) all() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Record(nil), s.records...)
}

func (s *recordSink) events() []Record {
	var out []Record
	for _, r := range s.all() {
		if r.Kind == KindEvent {
			out = append(out, r)
		}
	}
	return out
}

type result struct {
	status ExitStatus
	err    error
}

func runSession(t *testing.T, ctx context.Context, pipe *fakePipeline, cfg Config) (*Session, *recordSink, <-chan result) {
	t.Helper()

	sink := &recordSink{}
	cfg.Now = func() time.Time { return fixedTime }
	if cfg.Register.Nickname == "" {
		cfg.Register = protocol.Register{Nickname: "alice", Username: "alice", Realname: "Alice A"}
	}

	s := New(func(context.Context) (Pipeline, error) { return pipe, nil }, sink, cfg)

	done := make(chan result, 1)
	go func() {
		status, err := s.Run(ctx)
		done <- result{status, err}
	}()

	select {
	case <-s.Active():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not become active")
	}
	return s, sink, done
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before timeout")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func wait(t *testing.T, done <-chan result) result {
	t.Helper()
	select {
	case r := <-done:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end")
		return result{}
	}
}

func TestSession_RegistersAndJoins(t *testing.T) {
	pipe := newFakePipeline()
	_, _, _ = runSession(t, context.Background(), pipe, Config{Channels: []string{"#go", "#irc"}})

	pipe.mu.Lock()
	defer pipe.mu.Unlock()
	assert.Equal(t, []protocol.Event{
		protocol.Register{Nickname: "alice", Username: "alice", Realname: "Alice A"},
		protocol.Join{Channel: "#go"},
		protocol.Join{Channel: "#irc"},
	}, pipe.started)
}

func TestSession_RendersEvents(t *testing.T) {
	pipe := newFakePipeline()
	_, sink, _ := runSession(t, context.Background(), pipe, Config{})

	pipe.events <- protocol.PrivateMessage{Source: "nick", Target: "#chan", Text: "hello there"}
	pipe.events <- protocol.Unrecognized{Raw: ":srv 001 alice :Welcome"}

	waitFor(t, func() bool { return len(sink.events()) == 2 })

	got := sink.events()
	assert.Equal(t, Record{
		Time:    fixedTime,
		Kind:    KindEvent,
		Command: "PRIVMSG",
		Source:  "nick",
		Text:    "PRIVMSG #chan hello there",
	}, got[0])
	assert.Equal(t, ":srv 001 alice :Welcome", got[1].Text)
}

func TestSession_RendersPipelineErrors(t *testing.T) {
	pipe := newFakePipeline()
	_, sink, _ := runSession(t, context.Background(), pipe, Config{})

	pipe.errs <- errors.New("failed to read: timeout")

	waitFor(t, func() bool {
		for _, r := range sink.all() {
			if r.Kind == KindError && r.Text == "failed to read: timeout" {
				return true
			}
		}
		return false
	})
}

func TestSession_QuitExitsZero(t *testing.T) {
	pipe := newFakePipeline()
	s, _, done := runSession(t, context.Background(), pipe, Config{})

	require.NoError(t, s.Send(context.Background(), protocol.Quit{Reason: "bye"}))

	r := wait(t, done)
	assert.Equal(t, ExitQuit, r.status)
	assert.NoError(t, r.err)
	assert.Equal(t, StateClosed, s.State())
	assert.True(t, pipe.isShutdown())
	assert.Equal(t, []protocol.Event{protocol.Quit{Reason: "bye"}}, pipe.sent())

	select {
	case <-s.Closed():
	default:
		t.Error("Closed() not closed after Run returned")
	}
}

func TestSession_PeerCloseIsDistinct(t *testing.T) {
	pipe := newFakePipeline()
	s, sink, done := runSession(t, context.Background(), pipe, Config{})

	close(pipe.events)

	r := wait(t, done)
	assert.Equal(t, ExitDisconnected, r.status)
	assert.NotEqual(t, ExitQuit, r.status)
	assert.Error(t, r.err)
	assert.Equal(t, StateClosed, s.State())
	assert.True(t, pipe.isShutdown())

	last := sink.all()[len(sink.all())-1]
	assert.Equal(t, KindInfo, last.Kind)
}

func TestSession_PipelineFailure(t *testing.T) {
	pipe := newFakePipeline()
	boom := errors.New("3 consecutive write errors: broken pipe")
	pipe.err = boom
	_, sink, done := runSession(t, context.Background(), pipe, Config{})

	close(pipe.events)

	r := wait(t, done)
	assert.Equal(t, ExitDisconnected, r.status)
	assert.ErrorIs(t, r.err, boom)

	last := sink.all()[len(sink.all())-1]
	assert.Equal(t, KindError, last.Kind)
	assert.Contains(t, last.Text, "broken pipe")
}

func TestSession_InterruptSendsQuit(t *testing.T) {
	pipe := newFakePipeline()
	ctx, cancel := context.WithCancel(context.Background())
	_, _, done := runSession(t, ctx, pipe, Config{QuitMessage: "interrupted"})

	cancel()

	r := wait(t, done)
	assert.Equal(t, ExitQuit, r.status)
	assert.Equal(t, []protocol.Event{protocol.Quit{Reason: "interrupted"}}, pipe.sent())
}

func TestSession_EchoesOwnMessages(t *testing.T) {
	pipe := newFakePipeline()
	s, sink, _ := runSession(t, context.Background(), pipe, Config{})

	require.NoError(t, s.Send(context.Background(), protocol.PrivateMessage{Target: "#go", Text: "hi all"}))
	require.NoError(t, s.Send(context.Background(), protocol.Join{Channel: "#go"}))

	waitFor(t, func() bool { return len(sink.events()) == 1 })

	got := sink.events()[0]
	assert.Equal(t, "alice", got.Source)
	assert.Equal(t, "PRIVMSG #go hi all", got.Text)
	assert.Equal(t, []protocol.Event{
		protocol.PrivateMessage{Target: "#go", Text: "hi all"},
		protocol.Join{Channel: "#go"},
	}, pipe.sent())
}

func TestSession_SendBeforeActive(t *testing.T) {
	s := New(func(context.Context) (Pipeline, error) { return newFakePipeline(), nil }, &recordSink{}, Config{})

	assert.ErrorIs(t, s.Send(context.Background(), protocol.Quit{}), ErrNotActive)
	assert.Equal(t, StateConnecting, s.State())
}

func TestSession_DialFailure(t *testing.T) {
	refused := errors.New("connection refused")
	s := New(func(context.Context) (Pipeline, error) { return nil, refused }, &recordSink{}, Config{})

	status, err := s.Run(context.Background())
	assert.Equal(t, ExitFailure, status)
	assert.ErrorIs(t, err, refused)
	assert.Equal(t, StateClosed, s.State())

	select {
	case <-s.Active():
		t.Error("Active() closed for a session that never connected")
	case <-s.Closed():
	default:
		t.Error("Closed() not closed after a failed dial")
	}
}

func TestSession_ID(t *testing.T) {
	a := New(nil, &recordSink{}, Config{})
	b := New(nil, &recordSink{}, Config{})
	assert.Len(t, a.ID(), 36)
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestFormat(t *testing.T) {
	tests := []struct {
		name string
		r    Record
		want string
	}{
		{
			name: "event with source",
			r:    Record{Time: fixedTime, Kind: KindEvent, Source: "nick", Text: "PRIVMSG #chan hello there"},
			want: "14:05 <nick> PRIVMSG #chan hello there",
		},
		{
			name: "event without source",
			r:    Record{Time: fixedTime, Kind: KindEvent, Text: "PING srv"},
			want: "14:05 PING srv",
		},
		{
			name: "info",
			r:    Record{Time: fixedTime, Kind: KindInfo, Text: "registering as alice"},
			want: "14:05 * registering as alice",
		},
		{
			name: "error",
			r:    Record{Time: fixedTime, Kind: KindError, Text: "failed to read: timeout"},
			want: "14:05 Error: failed to read: timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Format(tt.r))
		})
	}
}

func TestMultiSink(t *testing.T) {
	var a, b bytes.Buffer
	failing := SinkFunc(func(Record) error { return errors.New("disk full") })

	sink := MultiSink{NewWriterSink(&a), failing, NewWriterSink(&b)}
	err := sink.Render(Record{Time: fixedTime, Kind: KindInfo, Text: "hello"})

	assert.EqualError(t, err, "disk full")
	assert.Equal(t, "14:05 * hello\n", a.String())
	assert.Equal(t, "14:05 * hello\n", b.String())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "active", StateActive.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "State(42)", State(42).String())
	assert.Equal(t, "disconnected", ExitDisconnected.String())
}
