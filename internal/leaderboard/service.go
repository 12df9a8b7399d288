// Package leaderboard mirrors game leaderboards into Redis sorted sets so that they can
// be read by other processes, and announces changes as leaderboard.updated events.
//
// The in-memory session stays authoritative. Redis orders equal scores by member name,
// not by join order.
package leaderboard

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/event"
)

const (
	publishInterval = 200 * time.Millisecond
	defaultTTL      = time.Hour
)

type Config struct {
	EventBus *event.Bus
	Redis    redis.UniversalClient
	Prefix   string
	// TTL is how long a leaderboard is kept after its game finished.
	TTL time.Duration
}

type Service struct {
	eb     *event.Bus
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewService(c Config) *Service {
	s := &Service{
		eb:     c.EventBus,
		redis:  c.Redis,
		prefix: c.Prefix,
		ttl:    c.TTL,
	}
	if s.ttl <= 0 {
		s.ttl = defaultTTL
	}

	s.eb.Subscribe(domain.EventNameScoreUpdated, func(ctx context.Context, e event.Event) error {
		return s.UpdateLeaderboard(ctx, e.(domain.EventScoreUpdated))
	})
	s.eb.Subscribe(domain.EventNameRoundResolved, func(ctx context.Context, e event.Event) error {
		return s.SyncLeaderboard(ctx, e.(domain.EventRoundResolved).Leaderboard)
	})
	s.eb.Subscribe(domain.EventNameGameFinished, func(ctx context.Context, e event.Event) error {
		return s.FinishLeaderboard(ctx, e.(domain.EventGameFinished))
	})

	return s
}

// GetLeaderboard returns the mirrored leaderboard of a game, highest score first.
func (s *Service) GetLeaderboard(ctx context.Context, code string) (*domain.Leaderboard, error) {
	res, err := s.redis.ZRevRangeWithScores(ctx, s.leaderboardKey(code), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("get leaderboard: %w", err)
	}

	if len(res) == 0 {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("leaderboard not found: game=%s", code))
	}

	entries := make([]domain.LeaderboardEntry, 0, len(res))
	for _, z := range res {
		entries = append(entries, domain.LeaderboardEntry{
			Name:  z.Member.(string),
			Score: decimal.NewFromFloat(z.Score),
		})
	}

	return &domain.Leaderboard{
		Code:    code,
		Entries: entries,
	}, nil
}

// UpdateLeaderboard overwrites the player's total score.
func (s *Service) UpdateLeaderboard(ctx context.Context, e domain.EventScoreUpdated) error {
	sc := e.Score

	if err := s.redis.ZAdd(ctx, s.leaderboardKey(sc.Code), redis.Z{
		Score:  sc.TotalScore.InexactFloat64(),
		Member: sc.Name,
	}).Err(); err != nil {
		return fmt.Errorf("update leaderboard: %w", err)
	}

	return s.schedulePublishLeaderboard(ctx, sc.Code, sc.UpdateTime)
}

// SyncLeaderboard replaces the mirrored leaderboard with l and publishes it right away.
// Players that scored nothing yet are only known here.
func (s *Service) SyncLeaderboard(ctx context.Context, l domain.Leaderboard) error {
	if err := s.replace(ctx, l); err != nil {
		return err
	}
	return s.publishLeaderboard(ctx, l.Code, time.Now())
}

// FinishLeaderboard stores the final standings and lets them expire after the TTL.
func (s *Service) FinishLeaderboard(ctx context.Context, e domain.EventGameFinished) error {
	if err := s.replace(ctx, e.Leaderboard); err != nil {
		return err
	}

	if err := s.redis.Expire(ctx, s.leaderboardKey(e.Code), s.ttl).Err(); err != nil {
		return fmt.Errorf("expire leaderboard: %w", err)
	}

	return s.publishLeaderboard(ctx, e.Code, e.FinishedAt)
}

func (s *Service) replace(ctx context.Context, l domain.Leaderboard) error {
	if len(l.Entries) == 0 {
		return nil
	}

	key := s.leaderboardKey(l.Code)
	members := make([]redis.Z, 0, len(l.Entries))
	for _, e := range l.Entries {
		members = append(members, redis.Z{Score: e.Score.InexactFloat64(), Member: e.Name})
	}

	_, err := s.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, key)
		p.ZAdd(ctx, key, members...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("replace leaderboard: %w", err)
	}
	return nil
}

// schedulePublishLeaderboard publishes at most one leaderboard per game and publish
// interval. The SETNX key also keeps several instances from publishing the same change.
func (s *Service) schedulePublishLeaderboard(ctx context.Context, code string, at time.Time) error {
	ok, err := s.redis.SetNX(ctx, s.leaderboardTimeKey(code), at.UnixMilli(), publishInterval).Result()
	if err != nil {
		return fmt.Errorf("setnx: %w", err)
	}

	if !ok {
		return nil
	}

	return s.publishLeaderboard(ctx, code, at)
}

func (s *Service) publishLeaderboard(ctx context.Context, code string, at time.Time) error {
	l, err := s.GetLeaderboard(ctx, code)
	if err != nil {
		if errors.HasCode(err, errors.CodeNotFound) {
			return nil
		}
		return fmt.Errorf("get leaderboard failed: game=%s: %w", code, err)
	}

	s.eb.Publish(ctx, domain.EventLeaderboardUpdated{
		Leaderboard: *l,
	})

	return s.redis.Set(ctx, s.leaderboardTimeKey(code), at.UnixMilli(), publishInterval).Err()
}

func (s *Service) leaderboardKey(code string) string {
	return fmt.Sprintf("%s:%s:leaderboard", s.prefix, code)
}

func (s *Service) leaderboardTimeKey(code string) string {
	return fmt.Sprintf("%s:%s:time", s.prefix, code)
}
