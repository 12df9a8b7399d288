package session

import (
	"context"
	"log/slog"
	"strings"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
)

const unknownAuthor = "Unknown"

// QuestionInput is a question as submitted by a participant.
type QuestionInput struct {
	Text    string   `json:"text"`
	Options []string `json:"options"`
	Correct string   `json:"correct"`
}

func (in QuestionInput) validate() (domain.Question, error) {
	var q domain.Question

	q.Text = strings.TrimSpace(in.Text)
	if q.Text == "" {
		return q, errors.InvalidArgument("question text is required")
	}

	if len(in.Options) != len(q.Options) {
		return q, errors.InvalidArgument("question needs exactly %d options, got %d", len(q.Options), len(in.Options))
	}
	for i, o := range in.Options {
		o = strings.TrimSpace(o)
		if o == "" {
			return q, errors.InvalidArgument("option %s is empty", domain.Choices[i])
		}
		q.Options[i] = o
	}

	c, ok := domain.ParseChoice(in.Correct)
	if !ok {
		return q, errors.InvalidArgument("correct answer must be one of A, B, C, D, got %q", in.Correct)
	}
	q.Correct = c

	return q, nil
}

// SubmitQuestion queues a question for the host to approve. The author is the name of
// the player on connID, or "Unknown".
func (s *Session) SubmitQuestion(ctx context.Context, connID string, in QuestionInput) error {
	q, err := in.validate()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	q.Author = unknownAuthor
	if p, ok := s.byConn[connID]; ok {
		q.Author = p.Name
	}
	s.pending = append(s.pending, q)

	s.out.SendToOne(s.host, newMessage(MessageNewPendingQuestion, q))
	s.out.SendToOne(s.host, pendingMessage(s.pending))

	slog.InfoContext(ctx, "session: question submitted", "code", s.code, "author", q.Author, "pending", len(s.pending))
	return nil
}

// ApproveQuestion moves the first pending question whose text equals text to the end of
// the approved list. Texts are compared without surrounding spaces, as they are stored.
// Unmatched text changes nothing.
func (s *Session) ApproveQuestion(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	for i, q := range s.pending {
		if q.Text != text {
			continue
		}

		s.pending = append(s.pending[:i], s.pending[i+1:]...)
		s.approved = append(s.approved, q)

		s.out.SendToOne(s.host, pendingMessage(s.pending))
		s.out.SendToOne(s.host, newMessage(MessageQuestionApproved, QuestionApproved{Count: len(s.approved)}))

		slog.InfoContext(ctx, "session: question approved", "code", s.code, "approved", len(s.approved))
		return nil
	}

	slog.DebugContext(ctx, "session: no pending question matches", "code", s.code, "text", text)
	return nil
}

// Pending returns a copy of the questions waiting for approval.
func (s *Session) Pending() []domain.Question {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]domain.Question{}, s.pending...)
}

// Approved returns a copy of the questions that will be played, in play order.
func (s *Session) Approved() []domain.Question {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]domain.Question{}, s.approved...)
}
