package session

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/event"
	"github.com/victornm/livequiz/internal/telemetry"
)

const (
	codeMin          = 100000
	codeMax          = 999999
	maxCodeAttempts  = 32
	defaultReapEvery = time.Minute
)

type Config struct {
	Broadcaster Broadcaster
	EventBus    *event.Bus

	// Clock defaults to the real clock.
	Clock clockwork.Clock

	// IdleTimeout is how long a session may go without a command before Run removes
	// it. Zero keeps sessions forever.
	IdleTimeout time.Duration
	// ReapInterval is how often Run looks for idle sessions.
	ReapInterval time.Duration

	// NewCode overrides the game code generator, for tests.
	NewCode func() (string, error)
}

// Registry owns the live sessions, keyed by game code.
type Registry struct {
	out      Broadcaster
	bus      *event.Bus
	clock    clockwork.Clock
	idle     time.Duration
	interval time.Duration
	newCode  func() (string, error)

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry(c Config) *Registry {
	r := &Registry{
		out:      c.Broadcaster,
		bus:      c.EventBus,
		clock:    c.Clock,
		idle:     c.IdleTimeout,
		interval: c.ReapInterval,
		newCode:  c.NewCode,
		sessions: make(map[string]*Session),
	}

	if r.clock == nil {
		r.clock = clockwork.NewRealClock()
	}
	if r.interval <= 0 {
		r.interval = defaultReapEvery
	}
	if r.newCode == nil {
		r.newCode = randomCode
	}

	return r
}

// randomCode returns a uniformly random six digit code.
func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeMax-codeMin+1))
	if err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return strconv.FormatInt(n.Int64()+codeMin, 10), nil
}

// Create opens a session hosted by hostConnID and sends it the game code.
func (r *Registry) Create(ctx context.Context, hostConnID string) (*Session, error) {
	s, err := r.insert(hostConnID)
	if err != nil {
		return nil, err
	}

	r.out.SendToOne(hostConnID, newMessage(MessageGameCode, s.code))

	telemetry.GamesCreated.Inc()
	telemetry.ActiveSessions.Inc()
	slog.InfoContext(ctx, "session: created", "code", s.code, "host", hostConnID)
	return s, nil
}

func (r *Registry) insert(host string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for range maxCodeAttempts {
		code, err := r.newCode()
		if err != nil {
			return nil, errors.Internal(fmt.Errorf("generate game code: %w", err))
		}
		if _, taken := r.sessions[code]; taken {
			continue
		}

		s := newSession(code, host, r.clock, r.out, r.bus)
		r.sessions[code] = s
		return s, nil
	}

	return nil, errors.New(errors.CodeInternal,
		errors.WithMessagef("no free game code after %d attempts", maxCodeAttempts),
	)
}

// Lookup finds a session by code, ignoring surrounding spaces.
func (r *Registry) Lookup(code string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[strings.TrimSpace(code)]
	return s, ok
}

func (r *Registry) get(code string) (*Session, error) {
	s, ok := r.Lookup(code)
	if !ok {
		return nil, errors.NotFound("game %q not found", code)
	}
	return s, nil
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sessions)
}

// Remove drops a session and disarms its timer.
func (r *Registry) Remove(code string) bool {
	r.mu.Lock()
	s, ok := r.sessions[code]
	delete(r.sessions, code)
	r.mu.Unlock()

	if !ok {
		return false
	}

	s.close()
	telemetry.ActiveSessions.Dec()
	return true
}

// Reap removes the sessions idle for longer than the idle timeout and returns their codes.
func (r *Registry) Reap(ctx context.Context) []string {
	if r.idle <= 0 {
		return nil
	}

	deadline := r.clock.Now().Add(-r.idle)

	r.mu.RLock()
	var idle []string
	for code, s := range r.sessions {
		if s.LastActive().Before(deadline) {
			idle = append(idle, code)
		}
	}
	r.mu.RUnlock()

	var removed []string
	for _, code := range idle {
		if r.Remove(code) {
			removed = append(removed, code)
			slog.InfoContext(ctx, "session: reaped idle session", "code", code)
		}
	}
	return removed
}

// Run reaps idle sessions until ctx is done.
func (r *Registry) Run(ctx context.Context) error {
	if r.idle <= 0 {
		<-ctx.Done()
		return nil
	}

	t := r.clock.NewTicker(r.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.Chan():
			r.Reap(ctx)
		}
	}
}

// Close removes every session.
func (r *Registry) Close() {
	r.mu.RLock()
	codes := make([]string, 0, len(r.sessions))
	for code := range r.sessions {
		codes = append(codes, code)
	}
	r.mu.RUnlock()

	for _, code := range codes {
		r.Remove(code)
	}
}

// Join adds a player to the game code. Unknown codes are answered with joinDenied.
func (r *Registry) Join(ctx context.Context, code, connID, name string) error {
	s, ok := r.Lookup(code)
	if !ok {
		r.deny(ctx, code, connID)
		return nil
	}
	return s.Join(ctx, connID, name)
}

// Rejoin reattaches a player to the game code. Unknown codes are answered with joinDenied.
func (r *Registry) Rejoin(ctx context.Context, code, connID, name string) error {
	s, ok := r.Lookup(code)
	if !ok {
		r.deny(ctx, code, connID)
		return nil
	}
	return s.Rejoin(ctx, connID, name)
}

func (r *Registry) deny(ctx context.Context, code, connID string) {
	r.out.SendToOne(connID, newMessage(MessageJoinDenied, nil))
	slog.InfoContext(ctx, "session: join denied", "code", code, "conn", connID)
}

func (r *Registry) Start(ctx context.Context, code, connID string) error {
	s, err := r.get(code)
	if err != nil {
		return err
	}
	return s.Start(ctx, connID)
}

func (r *Registry) Next(ctx context.Context, code string) error {
	s, err := r.get(code)
	if err != nil {
		return err
	}
	return s.Next(ctx)
}

func (r *Registry) SubmitQuestion(ctx context.Context, code, connID string, in QuestionInput) error {
	s, err := r.get(code)
	if err != nil {
		return err
	}
	return s.SubmitQuestion(ctx, connID, in)
}

func (r *Registry) ApproveQuestion(ctx context.Context, code, text string) error {
	s, err := r.get(code)
	if err != nil {
		return err
	}
	return s.ApproveQuestion(ctx, text)
}

// SubmitAnswer records an answer. Answers to unknown codes are dropped.
func (r *Registry) SubmitAnswer(ctx context.Context, code, connID, choice string) error {
	s, ok := r.Lookup(code)
	if !ok {
		slog.DebugContext(ctx, "session: answer for unknown game", "code", code, "conn", connID)
		return nil
	}
	return s.SubmitAnswer(ctx, connID, choice)
}
