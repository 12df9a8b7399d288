package domain

import (
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Choice identifies one of the four options of a question.
type Choice string

const (
	ChoiceA Choice = "A"
	ChoiceB Choice = "B"
	ChoiceC Choice = "C"
	ChoiceD Choice = "D"
)

// Choices lists the valid choices in option order.
var Choices = [4]Choice{ChoiceA, ChoiceB, ChoiceC, ChoiceD}

// ParseChoice normalizes s (surrounding spaces, lower case) and reports whether it names a valid choice.
func ParseChoice(s string) (Choice, bool) {
	c := Choice(strings.ToUpper(strings.TrimSpace(s)))
	return c, slices.Contains(Choices[:], c)
}

// Question is a multiple choice question with exactly four options.
type Question struct {
	Text    string    `json:"text"`
	Options [4]string `json:"options"`
	Correct Choice    `json:"correct"`
	Author  string    `json:"author"`
}

// Player is a participant of a game session. Name is the stable identity,
// ConnID the volatile transport handle that changes on rejoin.
type Player struct {
	ConnID string
	Name   string
	Score  decimal.Decimal
}

// Score represents a player's score change within a game session.
type Score struct {
	Code       string
	Name       string
	Points     decimal.Decimal
	TotalScore decimal.Decimal
	UpdateTime time.Time
}

// Leaderboard represents a list of players and their scores within a game session.
// The list is sorted by score in descending order.
type Leaderboard struct {
	Code    string
	Entries []LeaderboardEntry
}

type LeaderboardEntry struct {
	Name  string
	Score decimal.Decimal
}

// Rank builds the leaderboard of players, highest score first. Players with equal
// scores keep the order they are given in.
func Rank(code string, players []Player) Leaderboard {
	entries := make([]LeaderboardEntry, 0, len(players))
	for _, p := range players {
		entries = append(entries, LeaderboardEntry{Name: p.Name, Score: p.Score})
	}

	slices.SortStableFunc(entries, func(a, b LeaderboardEntry) int {
		return b.Score.Cmp(a.Score)
	})

	return Leaderboard{Code: code, Entries: entries}
}
