package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/victornm/livequiz/internal/domain"
)

const maxConcurrent = 100

// Redis is the publishing side of a Redis pub/sub client.
type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type (
	Notification struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}

	Leaderboard struct {
		Code    string             `json:"code"`
		Entries []LeaderboardEntry `json:"entries"`
	}

	LeaderboardEntry struct {
		Name  string `json:"name"`
		Score string `json:"score"`
	}
)

func toLeaderboard(l domain.Leaderboard) Leaderboard {
	data := Leaderboard{
		Code:    l.Code,
		Entries: make([]LeaderboardEntry, 0, len(l.Entries)),
	}
	for _, e := range l.Entries {
		data.Entries = append(data.Entries, LeaderboardEntry{
			Name:  e.Name,
			Score: e.Score.String(),
		})
	}
	return data
}

// PublishLeaderboardUpdated notifies observers of a game channel and of every player's
// channel that the leaderboard changed.
func (a *API) PublishLeaderboardUpdated(ctx context.Context, e domain.EventLeaderboardUpdated) error {
	data := toLeaderboard(e.Leaderboard)

	var eg errgroup.Group
	eg.SetLimit(maxConcurrent)

	eg.Go(func() error {
		return a.publishNotification(ctx, a.gameChannel(data.Code), e.Name(), data)
	})
	for _, entry := range data.Entries {
		eg.Go(func() error {
			return a.publishNotification(ctx, a.playerChannel(data.Code, entry.Name), e.Name(), data)
		})
	}

	return eg.Wait()
}

func (a *API) publishNotification(ctx context.Context, channel, event string, data any) error {
	n := Notification{
		Event: event,
		Data:  data,
	}

	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", event, err)
	}

	return a.redis.Publish(ctx, channel, b).Err()
}

func (a *API) gameChannel(code string) string {
	return fmt.Sprintf("%s:game:%s", a.prefix, code)
}

func (a *API) playerChannel(code, name string) string {
	return fmt.Sprintf("%s:game:%s:player:%s", a.prefix, code, name)
}
