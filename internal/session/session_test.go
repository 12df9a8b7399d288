package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/event"
	"github.com/victornm/livequiz/internal/session"
)

func TestSession_FullGame(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	resolved := make(chan domain.EventRoundResolved, 1)
	finished := make(chan domain.EventGameFinished, 1)
	f.bus.Subscribe(domain.EventNameRoundResolved, func(_ context.Context, e event.Event) error {
		resolved <- e.(domain.EventRoundResolved)
		return nil
	})
	f.bus.Subscribe(domain.EventNameGameFinished, func(_ context.Context, e event.Event) error {
		finished <- e.(domain.EventGameFinished)
		return nil
	})

	s := f.game(t, []session.QuestionInput{question("2 + 2?", "B")}, "alice", "bob")
	require.NoError(t, s.Start(ctx, "host"))

	for _, conn := range []string{"host", "conn-alice", "conn-bob"} {
		m, ok := f.out.last(conn, session.MessageQuestionStarted)
		require.True(t, ok, "%s should receive the question", conn)
		require.Equal(t, session.QuestionStarted{
			Text:      "2 + 2?",
			Options:   [4]string{"one", "two", "three", "four"},
			TimeLimit: 20000,
			Index:     0,
			Total:     1,
		}, m.Data)
	}
	assert.Equal(t, session.StateActive, s.Snapshot().State)

	f.clock.Advance(time.Second)
	require.NoError(t, s.SubmitAnswer(ctx, "conn-alice", "B"))
	m, _ := f.out.last("conn-alice", session.MessageYourScore)
	assert.Equal(t, session.YourScore{Score: 975}, m.Data)

	require.NoError(t, s.SubmitAnswer(ctx, "conn-bob", "A"))
	m, _ = f.out.last("conn-bob", session.MessageYourScore)
	assert.Equal(t, session.YourScore{Score: 0}, m.Data)

	b, a := domain.ChoiceB, domain.ChoiceA
	m, ok := f.out.last("conn-alice", session.MessageQuestionResult)
	require.True(t, ok, "every answered: the round should resolve at once")
	assert.Equal(t, session.QuestionResult{Correct: true, CorrectAnswer: b, YourAnswer: &b, Score: 975}, m.Data)
	m, _ = f.out.last("conn-bob", session.MessageQuestionResult)
	assert.Equal(t, session.QuestionResult{Correct: false, CorrectAnswer: b, YourAnswer: &a, Score: 0}, m.Data)

	m, _ = f.out.last("host", session.MessageQuestionEnded)
	assert.Equal(t, session.QuestionEnded{CorrectAnswer: b}, m.Data)
	m, _ = f.out.last("host", session.MessageLeaderboard)
	assert.Equal(t, []session.LeaderboardEntry{{Name: "alice", Score: 975}, {Name: "bob", Score: 0}}, m.Data)
	assert.Equal(t, session.StateEnded, s.Snapshot().State)

	select {
	case e := <-resolved:
		assert.Equal(t, "quorum", e.Trigger)
		assert.Equal(t, domain.ChoiceB, e.Correct)
		require.Len(t, e.Leaderboard.Entries, 2)
		assert.True(t, decimal.NewFromInt(975).Equal(e.Leaderboard.Entries[0].Score))
	case <-time.After(time.Second):
		t.Fatal("round.resolved was not published")
	}

	// The stopped timer must not resolve the round again.
	f.clock.Advance(session.TimeLimit)
	assert.Never(t, func() bool { return f.out.count("conn-alice", session.MessageQuestionResult) > 1 },
		50*time.Millisecond, 5*time.Millisecond)

	require.NoError(t, s.Next(ctx))
	for _, conn := range []string{"host", "conn-alice", "conn-bob"} {
		assert.Equal(t, 1, f.out.count(conn, session.MessageGameOver), conn)
	}
	assert.Equal(t, session.StateFinished, s.Snapshot().State)

	select {
	case e := <-finished:
		assert.Equal(t, 1, e.Questions)
		assert.Equal(t, "alice", e.Leaderboard.Entries[0].Name)
	case <-time.After(time.Second):
		t.Fatal("game.finished was not published")
	}

	require.NoError(t, s.Next(ctx))
	assert.Equal(t, 1, f.out.count("host", session.MessageGameOver), "next after game over is ignored")
}

func TestSession_TimeoutResolves(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	s := f.game(t, []session.QuestionInput{question("Capital of France?", "c")}, "alice", "bob")
	require.NoError(t, s.Start(ctx, "host"))
	require.NoError(t, s.SubmitAnswer(ctx, "conn-alice", "C"))

	f.clock.Advance(session.TimeLimit)

	require.Eventually(t, func() bool {
		return f.out.count("conn-bob", session.MessageQuestionResult) == 1
	}, time.Second, 5*time.Millisecond)

	c := domain.ChoiceC
	m, _ := f.out.last("conn-bob", session.MessageQuestionResult)
	assert.Equal(t, session.QuestionResult{Correct: false, CorrectAnswer: c, YourAnswer: nil, Score: 0}, m.Data)
	m, _ = f.out.last("conn-alice", session.MessageQuestionResult)
	assert.Equal(t, session.QuestionResult{Correct: true, CorrectAnswer: c, YourAnswer: &c, Score: 1000}, m.Data)

	require.NoError(t, s.SubmitAnswer(ctx, "conn-bob", "C"))
	assert.Zero(t, f.out.count("conn-bob", session.MessageYourScore), "answers after the round are ignored")
	assert.False(t, s.Resolve(ctx), "a round resolves once")
}

func TestSession_SubmitAnswer(t *testing.T) {
	t.Parallel()

	type outputs struct {
		scores map[string]float64
		err    error
	}

	tests := map[string]struct {
		act    func(ctx context.Context, f *fixture, s *session.Session) error
		assert func(t *testing.T, out outputs)
	}{
		"later answers should pay an order penalty": {
			act: func(ctx context.Context, f *fixture, s *session.Session) error {
				_ = s.SubmitAnswer(ctx, "conn-alice", "A")
				_ = s.SubmitAnswer(ctx, "conn-bob", "A")
				return s.SubmitAnswer(ctx, "conn-carol", "A")
			},
			assert: func(t *testing.T, out outputs) {
				require.NoError(t, out.err)
				assert.Equal(t, map[string]float64{"alice": 1000, "bob": 950, "carol": 900}, out.scores)
			},
		},

		"only the first answer of a player should count": {
			act: func(ctx context.Context, f *fixture, s *session.Session) error {
				_ = s.SubmitAnswer(ctx, "conn-alice", "D")
				return s.SubmitAnswer(ctx, "conn-alice", "A")
			},
			assert: func(t *testing.T, out outputs) {
				require.NoError(t, out.err)
				assert.Equal(t, map[string]float64{"alice": 0, "bob": 0, "carol": 0}, out.scores)
			},
		},

		"a choice outside A to D should be recorded as a wrong answer": {
			act: func(ctx context.Context, f *fixture, s *session.Session) error {
				err := s.SubmitAnswer(ctx, "conn-alice", "E")
				f.clock.Advance(time.Second)
				_ = s.SubmitAnswer(ctx, "conn-bob", "A")
				_ = s.SubmitAnswer(ctx, "conn-alice", "A")
				return err
			},
			assert: func(t *testing.T, out outputs) {
				require.NoError(t, out.err)
				// bob answered second: 1000 - 25 - 50
				assert.Equal(t, map[string]float64{"alice": 0, "bob": 925, "carol": 0}, out.scores)
			},
		},

		"choices should match the correct answer exactly": {
			act: func(ctx context.Context, f *fixture, s *session.Session) error {
				return s.SubmitAnswer(ctx, "conn-alice", "a")
			},
			assert: func(t *testing.T, out outputs) {
				require.NoError(t, out.err)
				assert.Equal(t, map[string]float64{"alice": 0, "bob": 0, "carol": 0}, out.scores)
			},
		},

		"an empty answer should be rejected without recording it": {
			act: func(ctx context.Context, f *fixture, s *session.Session) error {
				err := s.SubmitAnswer(ctx, "conn-alice", "")
				f.clock.Advance(10 * time.Second)
				_ = s.SubmitAnswer(ctx, "conn-alice", "A")
				return err
			},
			assert: func(t *testing.T, out outputs) {
				assert.True(t, errors.HasCode(out.err, errors.CodeInvalidArgument))
				assert.Equal(t, map[string]float64{"alice": 750, "bob": 0, "carol": 0}, out.scores)
			},
		},

		"answers from unknown connections should be ignored": {
			act: func(ctx context.Context, f *fixture, s *session.Session) error {
				return s.SubmitAnswer(ctx, "stranger", "A")
			},
			assert: func(t *testing.T, out outputs) {
				require.NoError(t, out.err)
				assert.Equal(t, map[string]float64{"alice": 0, "bob": 0, "carol": 0}, out.scores)
			},
		},

		"the slowest answer should still earn the minimum": {
			act: func(ctx context.Context, f *fixture, s *session.Session) error {
				_ = s.SubmitAnswer(ctx, "conn-bob", "B")
				_ = s.SubmitAnswer(ctx, "conn-carol", "C")
				f.clock.Advance(19 * time.Second)
				return s.SubmitAnswer(ctx, "conn-alice", "A")
			},
			assert: func(t *testing.T, out outputs) {
				require.NoError(t, out.err)
				assert.Equal(t, map[string]float64{"alice": 500, "bob": 0, "carol": 0}, out.scores)
			},
		},
	}

	for name, tc := range tests {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			f := newFixture(t)

			s := f.game(t, []session.QuestionInput{question("First letter?", "A")}, "alice", "bob", "carol")
			require.NoError(t, s.Start(ctx, "host"))

			err := tc.act(ctx, f, s)

			scores := make(map[string]float64)
			for _, p := range s.Players() {
				scores[p.Name] = p.Score.InexactFloat64()
			}
			tc.assert(t, outputs{scores: scores, err: err})
		})
	}
}

func TestSession_StartWithoutQuestions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	s := f.game(t, nil, "alice")
	require.NoError(t, s.Start(ctx, "conn-alice"))

	assert.Equal(t, 1, f.out.count("conn-alice", session.MessageNoQuestions))
	assert.Zero(t, f.out.count("host", session.MessageNoQuestions))
	assert.Zero(t, f.out.count("conn-alice", session.MessageQuestionStarted))
	assert.Equal(t, session.StateLobby, s.Snapshot().State)
}

func TestSession_NextAbandonsRound(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	s := f.game(t, []session.QuestionInput{question("q1", "A"), question("q2", "B")}, "alice")
	require.NoError(t, s.Start(ctx, "host"))
	f.clock.Advance(5 * time.Second)

	require.NoError(t, s.Next(ctx))
	m, _ := f.out.last("conn-alice", session.MessageQuestionStarted)
	assert.Equal(t, "q2", m.Data.(session.QuestionStarted).Text)
	assert.Equal(t, 1, m.Data.(session.QuestionStarted).Index)

	f.clock.Advance(session.TimeLimit)
	require.Eventually(t, func() bool {
		return f.out.count("conn-alice", session.MessageQuestionResult) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return f.out.count("conn-alice", session.MessageQuestionResult) > 1 },
		50*time.Millisecond, 5*time.Millisecond)

	m, _ = f.out.last("conn-alice", session.MessageQuestionResult)
	assert.Equal(t, domain.ChoiceB, m.Data.(session.QuestionResult).CorrectAnswer)
}

func TestSession_StartRestarts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	s := f.game(t, []session.QuestionInput{question("q1", "A"), question("q2", "B")}, "alice")
	require.NoError(t, s.Start(ctx, "host"))
	require.NoError(t, s.Next(ctx))
	require.NoError(t, s.Start(ctx, "host"))

	m, _ := f.out.last("conn-alice", session.MessageQuestionStarted)
	assert.Equal(t, "q1", m.Data.(session.QuestionStarted).Text)
	assert.Equal(t, 0, s.Snapshot().Round)
}

func TestSession_Join(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	s := f.game(t, nil)

	err := s.Join(ctx, "c1", "   ")
	assert.True(t, errors.HasCode(err, errors.CodeInvalidArgument))

	require.NoError(t, s.Join(ctx, "c1", " alice "))
	require.NoError(t, s.Join(ctx, "c2", "alice"))
	assert.Equal(t, []string{session.MessageJoinAccepted}, f.out.types("c1"))

	m, _ := f.out.last("host", session.MessagePlayerJoined)
	assert.Equal(t, session.PlayerJoined{Name: "alice"}, m.Data)
	assert.Equal(t, 2, f.out.count("host", session.MessagePlayerJoined))

	require.NoError(t, s.Join(ctx, "c1", "carol"))
	ps := s.Players()
	require.Len(t, ps, 2, "joining again from a connection renames its player")
	assert.Equal(t, "carol", ps[0].Name)
	assert.Equal(t, "c1", ps[0].ConnID)
}

func TestSession_Rejoin(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	s := f.game(t, []session.QuestionInput{question("q1", "A")}, "alice", "bob")
	require.NoError(t, s.Start(ctx, "host"))

	f.clock.Advance(2 * time.Second)
	require.NoError(t, s.SubmitAnswer(ctx, "conn-alice", "A"))

	require.NoError(t, s.Rejoin(ctx, "conn-alice-2", "alice"))
	assert.Equal(t, []string{session.MessageJoinAccepted}, f.out.types("conn-alice-2"),
		"an answered round is not replayed")

	f.clock.Advance(3 * time.Second)
	require.NoError(t, s.Rejoin(ctx, "conn-bob-2", "bob"))
	m, ok := f.out.last("conn-bob-2", session.MessageQuestionStarted)
	require.True(t, ok, "an unanswered round is replayed")
	assert.Equal(t, int64(15000), m.Data.(session.QuestionStarted).TimeLimit)

	ps := s.Players()
	require.Len(t, ps, 2)
	assert.Equal(t, "alice", ps[0].Name, "rejoin keeps the join position")
	assert.Equal(t, "conn-alice-2", ps[0].ConnID)
	assert.True(t, decimal.NewFromInt(950).Equal(ps[0].Score))

	require.NoError(t, s.SubmitAnswer(ctx, "conn-bob", "A"))
	assert.Zero(t, f.out.count("conn-bob", session.MessageYourScore), "the old connection is detached")

	require.NoError(t, s.SubmitAnswer(ctx, "conn-bob-2", "B"))
	require.NoError(t, s.SubmitAnswer(ctx, "conn-bob-2", "A"))
	assert.Equal(t, 1, f.out.count("conn-bob-2", session.MessageYourScore), "a rejoined player answers once")
	assert.True(t, s.Players()[1].Score.IsZero())
	a := domain.ChoiceA
	m, ok = f.out.last("conn-alice-2", session.MessageQuestionResult)
	require.True(t, ok, "the moved answer counts toward the quorum")
	assert.Equal(t, session.QuestionResult{Correct: true, CorrectAnswer: a, YourAnswer: &a, Score: 950}, m.Data)

	require.NoError(t, s.Rejoin(ctx, "conn-carol", "carol"))
	m, _ = f.out.last("host", session.MessagePlayerJoined)
	assert.Equal(t, session.PlayerJoined{Name: "carol"}, m.Data, "an unknown name joins as a new player")
	assert.Len(t, s.Players(), 3)
}

func TestSession_RejoinAnswersOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	s := f.game(t, []session.QuestionInput{question("q1", "A")}, "alice", "bob", "carol")
	require.NoError(t, s.Start(ctx, "host"))

	f.clock.Advance(time.Second)
	require.NoError(t, s.SubmitAnswer(ctx, "conn-bob", "A"))
	require.NoError(t, s.Rejoin(ctx, "conn-bob-2", "bob"))

	f.clock.Advance(time.Second)
	require.NoError(t, s.SubmitAnswer(ctx, "conn-bob-2", "A"))
	assert.Zero(t, f.out.count("conn-bob-2", session.MessageYourScore))

	ps := s.Players()
	require.Len(t, ps, 3)
	assert.True(t, decimal.NewFromInt(975).Equal(ps[1].Score), "got %s", ps[1].Score)

	require.NoError(t, s.SubmitAnswer(ctx, "conn-alice", "B"))
	assert.Zero(t, f.out.count("conn-alice", session.MessageQuestionResult), "two answers of three players")
	require.NoError(t, s.SubmitAnswer(ctx, "conn-carol", "A"))
	assert.Equal(t, 1, f.out.count("conn-bob-2", session.MessageQuestionResult))
}

func TestSession_OutOfRangeAnswerCountsTowardQuorum(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	s := f.game(t, []session.QuestionInput{question("q1", "A")}, "alice", "bob")
	require.NoError(t, s.Start(ctx, "host"))

	require.NoError(t, s.SubmitAnswer(ctx, "conn-alice", "E"))
	m, _ := f.out.last("conn-alice", session.MessageYourScore)
	assert.Equal(t, session.YourScore{Score: 0}, m.Data)

	require.NoError(t, s.SubmitAnswer(ctx, "conn-bob", "A"))

	e, a := domain.Choice("E"), domain.ChoiceA
	m, ok := f.out.last("conn-alice", session.MessageQuestionResult)
	require.True(t, ok, "both players answered")
	assert.Equal(t, session.QuestionResult{Correct: false, CorrectAnswer: a, YourAnswer: &e, Score: 0}, m.Data)
	m, _ = f.out.last("conn-bob", session.MessageQuestionResult)
	assert.Equal(t, session.QuestionResult{Correct: true, CorrectAnswer: a, YourAnswer: &a, Score: 950}, m.Data)
}

func TestSession_SubmitQuestion(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		input session.QuestionInput
		valid bool
	}{
		"a complete question is accepted": {
			input: question("Largest planet?", " d "),
			valid: true,
		},
		"text is required": {
			input: question("  ", "A"),
		},
		"exactly four options are required": {
			input: session.QuestionInput{Text: "t", Options: []string{"a", "b", "c"}, Correct: "A"},
		},
		"options must not be empty": {
			input: session.QuestionInput{Text: "t", Options: []string{"a", "", "c", "d"}, Correct: "A"},
		},
		"the correct answer must be a choice": {
			input: question("t", "E"),
		},
	}

	for name, tc := range tests {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			s := f.game(t, nil)

			err := s.SubmitQuestion(context.Background(), "host", tc.input)
			if !tc.valid {
				assert.True(t, errors.HasCode(err, errors.CodeInvalidArgument), "got %v", err)
				assert.Empty(t, s.Pending())
				return
			}

			require.NoError(t, err)
			require.Len(t, s.Pending(), 1)
			assert.Equal(t, domain.ChoiceD, s.Pending()[0].Correct)
		})
	}
}

func TestSession_ApproveQuestion(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	s := f.game(t, nil, "alice")
	require.NoError(t, s.SubmitQuestion(ctx, "conn-alice", question("same", "A")))
	require.NoError(t, s.SubmitQuestion(ctx, "stranger", question("same", "B")))

	assert.Equal(t, []string{
		session.MessageGameCode,
		session.MessagePlayerJoined,
		session.MessageNewPendingQuestion,
		session.MessagePendingUpdated,
		session.MessageNewPendingQuestion,
		session.MessagePendingUpdated,
	}, f.out.types("host"))

	pending := s.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, "alice", pending[0].Author)
	assert.Equal(t, "Unknown", pending[1].Author)

	require.NoError(t, s.ApproveQuestion(ctx, "other"))
	assert.Len(t, s.Pending(), 2, "unmatched text changes nothing")
	assert.Zero(t, f.out.count("host", session.MessageQuestionApproved))

	require.NoError(t, s.ApproveQuestion(ctx, "same"))
	approved := s.Approved()
	require.Len(t, approved, 1)
	assert.Equal(t, domain.ChoiceA, approved[0].Correct, "the first match is approved")
	assert.Equal(t, "Unknown", s.Pending()[0].Author)

	m, _ := f.out.last("host", session.MessageQuestionApproved)
	assert.Equal(t, session.QuestionApproved{Count: 1}, m.Data)
	m, _ = f.out.last("host", session.MessagePendingUpdated)
	assert.Len(t, m.Data, 1)

	require.NoError(t, s.SubmitQuestion(ctx, "conn-alice", question("  padded ", "C")))
	require.NoError(t, s.ApproveQuestion(ctx, "  padded "))
	assert.Len(t, s.Approved(), 2, "the submitted text matches as sent")
}
