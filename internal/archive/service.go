// Package archive stores the final standings of finished games in Postgres.
package archive

import (
	"context"
	_ "embed"
	stderrors "errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/event"
)

//go:embed schema.sql
var schema string

// DB is satisfied by *pgxpool.Pool.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type Config struct {
	DB       DB
	EventBus *event.Bus
}

type Service struct {
	db DB
}

func NewService(c Config) *Service {
	s := &Service{db: c.DB}

	c.EventBus.Subscribe(domain.EventNameGameFinished, func(ctx context.Context, e event.Event) error {
		_, err := s.Save(ctx, e.(domain.EventGameFinished))
		return err
	})

	return s
}

// Migrate creates the archive tables if they do not exist.
func (s *Service) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate archive: %w", err)
	}
	return nil
}

// Save records a finished game and its leaderboard, and returns the id of the record.
func (s *Service) Save(ctx context.Context, e domain.EventGameFinished) (_ uuid.UUID, err error) {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("generate game ID: %w", err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	const (
		insGameStmt   = `INSERT INTO games (game_id, code, questions, finished_at) VALUES ($1, $2, $3, $4);`
		insResultStmt = `INSERT INTO game_results (game_id, rank, name, score) VALUES ($1, $2, $3, $4::numeric);`
	)

	_, err = tx.Exec(ctx, insGameStmt, id, e.Code, e.Questions, e.FinishedAt)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert game: %w", err)
	}

	for i, entry := range e.Leaderboard.Entries {
		_, err = tx.Exec(ctx, insResultStmt, id, i+1, entry.Name, entry.Score.String())
		if err != nil {
			return uuid.Nil, fmt.Errorf("insert result: %w", err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("commit: %w", err)
	}

	slog.InfoContext(ctx, "archive: game saved", "code", e.Code, "game_id", id, "players", len(e.Leaderboard.Entries))
	return id, nil
}
