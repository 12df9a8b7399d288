package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/score"
	"github.com/victornm/livequiz/internal/telemetry"
)

// TimeLimit is how long players have to answer a question.
const TimeLimit = score.TimeBudget

const (
	TriggerTimeout = "timeout"
	TriggerQuorum  = "quorum"
	TriggerManual  = "manual"
)

// Round is the play of one question.
type Round struct {
	index     int
	question  domain.Question
	startedAt time.Time
	answers   map[string]Answer // by connection id
	ended     bool
	timer     clockwork.Timer
}

// Answer is the first answer a player gave in a round.
type Answer struct {
	Choice  domain.Choice
	Elapsed time.Duration
	Order   int
	Points  decimal.Decimal
}

func (r *Round) startedMessage(now time.Time, total int) Message {
	left := TimeLimit - now.Sub(r.startedAt)
	return newMessage(MessageQuestionStarted, QuestionStarted{
		Text:      r.question.Text,
		Options:   r.question.Options,
		TimeLimit: max(left, 0).Milliseconds(),
		Index:     r.index,
		Total:     total,
	})
}

// Start plays the approved questions from the first one. Without approved questions
// only the caller is told, with noQuestions.
func (s *Session) Start(ctx context.Context, connID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	if len(s.approved) == 0 {
		s.out.SendToOne(connID, newMessage(MessageNoQuestions, nil))
		return nil
	}

	s.stopRoundLocked()
	s.index = -1
	s.advanceLocked(ctx)
	return nil
}

// Next skips to the next question, or finishes the game after the last one. The round
// in play, if any, is abandoned without results. It does nothing once the game is over.
func (s *Session) Next(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	if s.index >= 0 && s.index >= len(s.approved) {
		slog.DebugContext(ctx, "session: next after game over", "code", s.code)
		return nil
	}

	s.advanceLocked(ctx)
	return nil
}

func (s *Session) advanceLocked(ctx context.Context) {
	s.stopRoundLocked()
	s.index++

	if s.index >= len(s.approved) {
		s.finishLocked(ctx)
		return
	}

	r := &Round{
		index:     s.index,
		question:  s.approved[s.index],
		startedAt: s.clock.Now(),
		answers:   make(map[string]Answer),
	}
	r.timer = s.clock.AfterFunc(TimeLimit, func() { s.expire(r) })
	s.round = r

	m := r.startedMessage(r.startedAt, len(s.approved))
	s.out.SendToRoom(s.code, m)
	s.out.SendToOne(s.host, m)

	slog.InfoContext(ctx, "session: question started", "code", s.code, "index", r.index, "players", len(s.players))
}

func (s *Session) finishLocked(ctx context.Context) {
	s.index = len(s.approved)

	m := newMessage(MessageGameOver, nil)
	s.out.SendToOne(s.host, m)
	s.out.SendToRoom(s.code, m)

	s.bus.Publish(ctx, domain.EventGameFinished{
		Code:        s.code,
		Questions:   len(s.approved),
		Leaderboard: s.leaderboardLocked(),
		FinishedAt:  s.clock.Now(),
	})

	telemetry.GamesFinished.Inc()
	slog.InfoContext(ctx, "session: game over", "code", s.code, "questions", len(s.approved))
}

// stopRoundLocked drops the round in play without resolving it.
func (s *Session) stopRoundLocked() {
	if s.round == nil {
		return
	}
	if !s.round.ended {
		s.round.timer.Stop()
	}
	s.round = nil
}

func (s *Session) expire(r *Round) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.resolveLocked(context.Background(), r, TriggerTimeout)
}

// Resolve ends the round in play and delivers its results. It reports whether a round
// was resolved; a round is resolved at most once.
func (s *Session) Resolve(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.resolveLocked(ctx, s.round, TriggerManual)
}

func (s *Session) resolveLocked(ctx context.Context, r *Round, trigger string) bool {
	if r == nil || s.round != r || r.ended {
		return false
	}
	r.ended = true
	if trigger != TriggerTimeout {
		r.timer.Stop()
	}

	correct := r.question.Correct
	for _, p := range s.players {
		res := QuestionResult{
			CorrectAnswer: correct,
			Score:         p.Score.InexactFloat64(),
		}
		if a, ok := r.answers[p.ConnID]; ok {
			c := a.Choice
			res.YourAnswer = &c
			res.Correct = c == correct
		}
		s.out.SendToOne(p.ConnID, newMessage(MessageQuestionResult, res))
	}

	lb := s.leaderboardLocked()
	s.out.SendToOne(s.host, newMessage(MessageQuestionEnded, QuestionEnded{CorrectAnswer: correct}))
	s.out.SendToOne(s.host, leaderboardMessage(lb))

	s.bus.Publish(ctx, domain.EventRoundResolved{
		Code:        s.code,
		Round:       r.index,
		Correct:     correct,
		Trigger:     trigger,
		Leaderboard: lb,
	})

	telemetry.RoundsResolved.WithLabelValues(trigger).Inc()
	slog.InfoContext(ctx, "session: round resolved",
		"code", s.code,
		"index", r.index,
		"trigger", trigger,
		"answers", len(r.answers),
	)
	return true
}

// SubmitAnswer records the first answer of the player on connID for the round in play.
// Answers from unknown connections, outside a round or repeated are ignored. A choice
// other than the correct one, including one outside A to D, is recorded as wrong and
// scores nothing. The round resolves as soon as every player has answered.
func (s *Session) SubmitAnswer(ctx context.Context, connID, choice string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byConn[connID]
	if !ok {
		slog.DebugContext(ctx, "session: answer from unknown connection", "code", s.code, "conn", connID)
		return nil
	}

	r := s.round
	if r == nil || r.ended {
		return nil
	}
	if _, dup := r.answers[connID]; dup {
		return nil
	}

	if choice == "" {
		return errors.InvalidArgument("answer is required")
	}

	// Any other choice is recorded as given and only an exact match is correct.
	c := domain.Choice(choice)
	correct := c == r.question.Correct

	s.touch()
	now := s.clock.Now()
	a := Answer{
		Choice:  c,
		Elapsed: now.Sub(r.startedAt),
		Order:   len(r.answers),
	}
	a.Points = score.Points(correct, a.Elapsed, a.Order)
	r.answers[connID] = a
	p.Score = p.Score.Add(a.Points)

	s.out.SendToOne(connID, yourScoreMessage(p.Score))
	s.out.SendToOne(s.host, leaderboardMessage(s.leaderboardLocked()))

	s.bus.Publish(ctx, domain.EventScoreUpdated{Score: domain.Score{
		Code:       s.code,
		Name:       p.Name,
		Points:     a.Points,
		TotalScore: p.Score,
		UpdateTime: now,
	}})

	telemetry.ObserveAnswer(correct)
	slog.DebugContext(ctx, "session: answer accepted",
		"code", s.code,
		"name", p.Name,
		"order", a.Order,
		"points", a.Points.String(),
	)

	if len(r.answers) >= len(s.players) {
		s.resolveLocked(ctx, r, TriggerQuorum)
	}
	return nil
}
