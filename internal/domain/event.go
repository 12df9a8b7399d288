package domain

import "time"

const (
	EventNameScoreUpdated       = "score.updated"
	EventNameRoundResolved      = "round.resolved"
	EventNameGameFinished       = "game.finished"
	EventNameLeaderboardUpdated = "leaderboard.updated"
)

type EventScoreUpdated struct {
	Score Score
}

func (EventScoreUpdated) Name() string { return EventNameScoreUpdated }

// EventRoundResolved is published once per round, after results were delivered.
type EventRoundResolved struct {
	Code        string
	Round       int
	Correct     Choice
	Trigger     string
	Leaderboard Leaderboard
}

func (EventRoundResolved) Name() string { return EventNameRoundResolved }

type EventGameFinished struct {
	Code        string
	Questions   int
	Leaderboard Leaderboard
	FinishedAt  time.Time
}

func (EventGameFinished) Name() string { return EventNameGameFinished }

type EventLeaderboardUpdated struct {
	Leaderboard Leaderboard
}

func (EventLeaderboardUpdated) Name() string { return EventNameLeaderboardUpdated }
