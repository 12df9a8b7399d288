package session_test

import (
	"context"
	"slices"
	"sync"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/victornm/livequiz/internal/event"
	"github.com/victornm/livequiz/internal/session"
)

// fakeBroadcaster records every message per receiving connection.
type fakeBroadcaster struct {
	mu    sync.Mutex
	rooms map[string][]string
	inbox map[string][]session.Message
}

func newFakeBroadcaster() *fakeBroadcaster {
	return &fakeBroadcaster{
		rooms: make(map[string][]string),
		inbox: make(map[string][]session.Message),
	}
}

func (f *fakeBroadcaster) Subscribe(code, connID string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !slices.Contains(f.rooms[code], connID) {
		f.rooms[code] = append(f.rooms[code], connID)
	}
}

func (f *fakeBroadcaster) SendToOne(connID string, m session.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.inbox[connID] = append(f.inbox[connID], m)
}

func (f *fakeBroadcaster) SendToRoom(code string, m session.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, c := range f.rooms[code] {
		f.inbox[c] = append(f.inbox[c], m)
	}
}

func (f *fakeBroadcaster) messages(connID string) []session.Message {
	f.mu.Lock()
	defer f.mu.Unlock()

	return slices.Clone(f.inbox[connID])
}

func (f *fakeBroadcaster) types(connID string) []string {
	var ts []string
	for _, m := range f.messages(connID) {
		ts = append(ts, m.Type)
	}
	return ts
}

// last returns the most recent message of type typ sent to connID.
func (f *fakeBroadcaster) last(connID, typ string) (session.Message, bool) {
	ms := f.messages(connID)
	for i := len(ms) - 1; i >= 0; i-- {
		if ms[i].Type == typ {
			return ms[i], true
		}
	}
	return session.Message{}, false
}

func (f *fakeBroadcaster) count(connID, typ string) int {
	n := 0
	for _, m := range f.messages(connID) {
		if m.Type == typ {
			n++
		}
	}
	return n
}

type fixture struct {
	clock *clockwork.FakeClock
	out   *fakeBroadcaster
	bus   *event.Bus
	reg   *session.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		clock: clockwork.NewFakeClock(),
		out:   newFakeBroadcaster(),
		bus:   event.NewBus(),
	}
	f.reg = session.NewRegistry(session.Config{
		Broadcaster: f.out,
		EventBus:    f.bus,
		Clock:       f.clock,
	})
	t.Cleanup(func() {
		f.reg.Close()
		f.bus.Stop()
	})

	return f
}

// game creates a session hosted by "host" with the given questions approved and the
// given players joined, one connection per player named "conn-<name>".
func (f *fixture) game(t *testing.T, questions []session.QuestionInput, players ...string) *session.Session {
	t.Helper()
	ctx := context.Background()

	s, err := f.reg.Create(ctx, "host")
	require.NoError(t, err)

	for _, q := range questions {
		require.NoError(t, s.SubmitQuestion(ctx, "host", q))
		require.NoError(t, s.ApproveQuestion(ctx, q.Text))
	}
	for _, p := range players {
		require.NoError(t, s.Join(ctx, "conn-"+p, p))
	}

	return s
}

func question(text, correct string) session.QuestionInput {
	return session.QuestionInput{
		Text:    text,
		Options: []string{"one", "two", "three", "four"},
		Correct: correct,
	}
}
