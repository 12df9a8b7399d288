package session

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/event"
	"github.com/victornm/livequiz/internal/telemetry"
)

// State is the lifecycle phase of a session.
type State string

const (
	StateLobby    State = "lobby"
	StateActive   State = "active"
	StateEnded    State = "ended"
	StateFinished State = "finished"
)

// Session is one game: its host, players, question pools and the round in play.
// All state is guarded by mu; every exported method is safe for concurrent use.
type Session struct {
	code  string
	host  string
	clock clockwork.Clock
	out   Broadcaster
	bus   *event.Bus

	mu         sync.Mutex
	players    []*domain.Player // join order
	byConn     map[string]*domain.Player
	pending    []domain.Question
	approved   []domain.Question
	index      int // -1 before the first start, len(approved) once finished
	round      *Round
	createdAt  time.Time
	lastActive time.Time
}

func newSession(code, host string, clock clockwork.Clock, out Broadcaster, bus *event.Bus) *Session {
	now := clock.Now()
	return &Session{
		code:       code,
		host:       host,
		clock:      clock,
		out:        out,
		bus:        bus,
		byConn:     make(map[string]*domain.Player),
		index:      -1,
		createdAt:  now,
		lastActive: now,
	}
}

func (s *Session) Code() string { return s.code }

// Host returns the connection id of the host.
func (s *Session) Host() string { return s.host }

func (s *Session) touch() { s.lastActive = s.clock.Now() }

// Join adds a player under connID. Joining again from the same connection renames
// the player and resets its score.
func (s *Session) Join(ctx context.Context, connID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.InvalidArgument("player name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	if p, ok := s.byConn[connID]; ok {
		p.Name = name
		p.Score = decimal.Zero
	} else {
		s.addPlayerLocked(connID, name)
	}

	s.out.Subscribe(s.code, connID)
	s.out.SendToOne(connID, newMessage(MessageJoinAccepted, nil))
	s.out.SendToOne(s.host, newMessage(MessagePlayerJoined, PlayerJoined{Name: name}))

	telemetry.PlayersJoined.WithLabelValues("join").Inc()
	slog.InfoContext(ctx, "session: player joined", "code", s.code, "name", name, "conn", connID)
	return nil
}

// Rejoin reattaches the first player named name to connID, keeping its score, its
// place in the join order and any answer it gave in the current round. Unknown names
// join as new players.
func (s *Session) Rejoin(ctx context.Context, connID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.InvalidArgument("player name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	p := s.playerByNameLocked(name)
	if p == nil {
		if other, ok := s.byConn[connID]; ok {
			s.removePlayerLocked(other)
		}
		s.addPlayerLocked(connID, name)
		s.out.SendToOne(s.host, newMessage(MessagePlayerJoined, PlayerJoined{Name: name}))
	} else if p.ConnID != connID {
		if other, ok := s.byConn[connID]; ok {
			s.removePlayerLocked(other)
		}
		old := p.ConnID
		delete(s.byConn, old)
		p.ConnID = connID
		s.byConn[connID] = p

		if s.round != nil {
			if a, ok := s.round.answers[old]; ok {
				delete(s.round.answers, old)
				s.round.answers[connID] = a
			}
		}
	}

	s.out.Subscribe(s.code, connID)
	s.out.SendToOne(connID, newMessage(MessageJoinAccepted, nil))

	if r := s.round; r != nil && !r.ended {
		if _, answered := r.answers[connID]; !answered {
			s.out.SendToOne(connID, r.startedMessage(s.clock.Now(), len(s.approved)))
		}
	}

	telemetry.PlayersJoined.WithLabelValues("rejoin").Inc()
	slog.InfoContext(ctx, "session: player rejoined", "code", s.code, "name", name, "conn", connID)
	return nil
}

func (s *Session) addPlayerLocked(connID, name string) *domain.Player {
	p := &domain.Player{ConnID: connID, Name: name, Score: decimal.Zero}
	s.players = append(s.players, p)
	s.byConn[connID] = p
	return p
}

func (s *Session) removePlayerLocked(p *domain.Player) {
	delete(s.byConn, p.ConnID)
	for i, q := range s.players {
		if q == p {
			s.players = append(s.players[:i], s.players[i+1:]...)
			return
		}
	}
}

func (s *Session) playerByNameLocked(name string) *domain.Player {
	for _, p := range s.players {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// Players returns a copy of the players in join order.
func (s *Session) Players() []domain.Player {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.playersLocked()
}

func (s *Session) playersLocked() []domain.Player {
	ps := make([]domain.Player, 0, len(s.players))
	for _, p := range s.players {
		ps = append(ps, *p)
	}
	return ps
}

// Leaderboard ranks the players by total score, ties in join order.
func (s *Session) Leaderboard() domain.Leaderboard {
	s.mu.Lock()
	defer s.mu.Unlock()

	return domain.Rank(s.code, s.playersLocked())
}

func (s *Session) leaderboardLocked() domain.Leaderboard {
	return domain.Rank(s.code, s.playersLocked())
}

// Snapshot is a read-only view of a session.
type Snapshot struct {
	Code       string
	State      State
	Round      int
	Questions  int
	Pending    int
	Players    []domain.Player
	CreatedAt  time.Time
	LastActive time.Time
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Snapshot{
		Code:       s.code,
		State:      s.stateLocked(),
		Round:      s.index,
		Questions:  len(s.approved),
		Pending:    len(s.pending),
		Players:    s.playersLocked(),
		CreatedAt:  s.createdAt,
		LastActive: s.lastActive,
	}
}

func (s *Session) stateLocked() State {
	switch {
	case s.round != nil && !s.round.ended:
		return StateActive
	case s.round != nil:
		return StateEnded
	case s.index >= 0:
		return StateFinished
	default:
		return StateLobby
	}
}

// LastActive reports when the session last handled a command.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastActive
}

// close disarms the round timer. The session must not be used afterwards.
func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopRoundLocked()
}
