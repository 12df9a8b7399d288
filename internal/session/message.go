package session

import (
	"github.com/shopspring/decimal"

	"github.com/victornm/livequiz/internal/domain"
)

// Broadcaster delivers messages to connections. Implementations must not block:
// they are called while a session is locked.
type Broadcaster interface {
	// Subscribe adds the connection to the room of the game code.
	Subscribe(code, connID string)
	SendToOne(connID string, m Message)
	SendToRoom(code string, m Message)
}

// Message is an outbound event.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

const (
	MessageGameCode           = "gameCode"
	MessageJoinAccepted       = "joinAccepted"
	MessageJoinDenied         = "joinDenied"
	MessagePlayerJoined       = "playerJoined"
	MessageNewPendingQuestion = "newPendingQuestion"
	MessagePendingUpdated     = "pendingUpdated"
	MessageQuestionApproved   = "questionApproved"
	MessageNoQuestions        = "noQuestions"
	MessageQuestionStarted    = "questionStarted"
	MessageQuestionEnded      = "questionEnded"
	MessageQuestionResult     = "questionResult"
	MessageLeaderboard        = "leaderboard"
	MessageYourScore          = "yourScore"
	MessageGameOver           = "gameOver"
	MessageError              = "error"
)

type (
	PlayerJoined struct {
		Name string `json:"name"`
	}

	QuestionApproved struct {
		Count int `json:"count"`
	}

	// QuestionStarted never carries the correct choice.
	QuestionStarted struct {
		Text    string    `json:"text"`
		Options [4]string `json:"options"`
		// TimeLimit is the time left to answer, in milliseconds.
		TimeLimit int64 `json:"timeLimit"`
		Index     int   `json:"index"`
		Total     int   `json:"total"`
	}

	QuestionEnded struct {
		CorrectAnswer domain.Choice `json:"correctAnswer"`
	}

	QuestionResult struct {
		Correct       bool           `json:"correct"`
		CorrectAnswer domain.Choice  `json:"correctAnswer"`
		YourAnswer    *domain.Choice `json:"yourAnswer"`
		Score         float64        `json:"score"`
	}

	YourScore struct {
		Score float64 `json:"score"`
	}

	LeaderboardEntry struct {
		Name  string  `json:"name"`
		Score float64 `json:"score"`
	}

	ErrorMessage struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
)

func newMessage(typ string, data any) Message {
	return Message{Type: typ, Data: data}
}

func leaderboardMessage(l domain.Leaderboard) Message {
	entries := make([]LeaderboardEntry, 0, len(l.Entries))
	for _, e := range l.Entries {
		entries = append(entries, LeaderboardEntry{Name: e.Name, Score: e.Score.InexactFloat64()})
	}
	return newMessage(MessageLeaderboard, entries)
}

func yourScoreMessage(total decimal.Decimal) Message {
	return newMessage(MessageYourScore, YourScore{Score: total.InexactFloat64()})
}

func pendingMessage(pending []domain.Question) Message {
	return newMessage(MessagePendingUpdated, append([]domain.Question{}, pending...))
}
