package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/victornm/livequiz/internal/api"
	"github.com/victornm/livequiz/internal/archive"
	"github.com/victornm/livequiz/internal/event"
	"github.com/victornm/livequiz/internal/leaderboard"
	"github.com/victornm/livequiz/internal/session"
	"github.com/victornm/livequiz/internal/telemetry"
)

type RedisConfig struct {
	Addrs  []string
	Pass   string
	Prefix string
}

type PostgresConfig struct {
	Addr string
	User string
	Pass string
	Name string
}

type Config struct {
	HTTP struct {
		Port           int32
		AllowedOrigins []string
		// PublicURL is the page players open to join a game.
		PublicURL string
	}

	GRPC struct {
		Port int32
	}

	Game struct {
		IdleTimeout  time.Duration
		ReapInterval time.Duration
	}

	Log struct {
		Level  string
		Format string
	}

	// Redis and Postgres are optional: a section without addresses is skipped.
	Redis struct {
		Leaderboard RedisConfig
		Pubsub      RedisConfig
	}

	Postgres struct {
		Archive PostgresConfig
	}
}

// DefaultConfig returns the configuration used for keys missing from the config file.
func DefaultConfig() Config {
	var c Config
	c.HTTP.Port = 8080
	c.HTTP.AllowedOrigins = []string{"*"}
	c.GRPC.Port = 9090
	c.Game.IdleTimeout = 2 * time.Hour
	c.Game.ReapInterval = time.Minute
	c.Log.Level = "info"
	c.Log.Format = "json"
	c.Redis.Leaderboard.Prefix = "livequiz"
	c.Redis.Pubsub.Prefix = "livequiz"
	return c
}

type Server struct {
	c Config

	eb  *event.Bus
	hub *api.Hub

	infra struct {
		redis struct {
			leaderboard redis.UniversalClient
			pubsub      redis.UniversalClient
		}

		postgres struct {
			archive *pgxpool.Pool
		}
	}

	service struct {
		registry    *session.Registry
		leaderboard *leaderboard.Service
		archive     *archive.Service
	}

	http   *http.Server
	grpc   *grpc.Server
	cancel context.CancelFunc
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	s.eb = event.NewBus()
	s.hub = api.NewHub(api.DefaultHubConfig())

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	if err := s.initService(); err != nil {
		return nil, fmt.Errorf("server: init service: %w", err)
	}

	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := s.initPostgres(); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	return nil
}

func (s *Server) initRedis() error {
	connect := func(c RedisConfig) (redis.UniversalClient, error) {
		if len(c.Addrs) == 0 {
			return nil, nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		r := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    c.Addrs,
			Password: c.Pass,
		})

		if err := telemetry.MonitorRedis(r); err != nil {
			return nil, err
		}

		if err := r.Ping(ctx).Err(); err != nil {
			return nil, err
		}

		return r, nil
	}

	var err error
	s.infra.redis.leaderboard, err = connect(s.c.Redis.Leaderboard)
	if err != nil {
		return fmt.Errorf("leaderboard: %w", err)
	}

	s.infra.redis.pubsub, err = connect(s.c.Redis.Pubsub)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}

	return nil
}

func (s *Server) initPostgres() (err error) {
	connect := func(c PostgresConfig) (*pgxpool.Pool, error) {
		if c.Addr == "" {
			return nil, nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s", c.User, c.Pass, c.Addr, c.Name))
		if err != nil {
			return nil, err
		}

		db, err := pgxpool.NewWithConfig(ctx, cc)
		if err != nil {
			return nil, err
		}

		if err := db.Ping(ctx); err != nil {
			db.Close()
			return nil, err
		}

		return db, nil
	}

	s.infra.postgres.archive, err = connect(s.c.Postgres.Archive)
	if err != nil {
		return fmt.Errorf("archive: %w", err)
	}

	return nil
}

func (s *Server) initService() error {
	s.service.registry = session.NewRegistry(session.Config{
		Broadcaster:  s.hub,
		EventBus:     s.eb,
		IdleTimeout:  s.c.Game.IdleTimeout,
		ReapInterval: s.c.Game.ReapInterval,
	})

	if s.infra.redis.leaderboard != nil {
		s.service.leaderboard = leaderboard.NewService(leaderboard.Config{
			EventBus: s.eb,
			Redis:    s.infra.redis.leaderboard,
			Prefix:   s.c.Redis.Leaderboard.Prefix,
		})
	}

	if s.infra.postgres.archive != nil {
		s.service.archive = archive.NewService(archive.Config{
			DB:       s.infra.postgres.archive,
			EventBus: s.eb,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.service.archive.Migrate(ctx); err != nil {
			return err
		}
	}

	return nil
}

func (s *Server) initAPI() {
	e := gin.New()
	e.Use(gin.Recovery())
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")

	s.grpc = grpc.NewServer(telemetry.GRPCServerInterceptor())

	c := cors.New(cors.Options{
		AllowedOrigins: s.c.HTTP.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})

	ac := api.Config{
		GRPC:         s.grpc,
		HTTP:         e,
		EventBus:     s.eb,
		Registry:     s.service.registry,
		Hub:          s.hub,
		Leaderboard:  s.service.leaderboard,
		PubsubPrefix: s.c.Redis.Pubsub.Prefix,
		PublicURL:    s.c.HTTP.PublicURL,
		CheckOrigin: func(r *http.Request) bool {
			return r.Header.Get("Origin") == "" || c.OriginAllowed(r)
		},
	}
	// a nil client must stay a nil interface
	if s.infra.redis.pubsub != nil {
		ac.Redis = s.infra.redis.pubsub
	}
	api.New(ac)

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           c.Handler(e),
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.c.GRPC.Port))
	if err != nil {
		slog.ErrorContext(ctx, "grpc server: listen failed", "error", err)
		panic(err)
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: gRPC listening on port %d", s.c.GRPC.Port))
		return s.grpc.Serve(lis)
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	eg.Go(func() error {
		return s.service.registry.Run(ctx)
	})

	err = eg.Wait()
	if err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if s.cancel != nil {
		s.cancel()
	}

	s.grpc.GracefulStop()
	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	s.hub.Close()
	s.service.registry.Close()
	s.eb.Stop()

	for name, r := range map[string]redis.UniversalClient{
		"leaderboard": s.infra.redis.leaderboard,
		"pubsub":      s.infra.redis.pubsub,
	} {
		if r == nil {
			continue
		}
		if err := r.Close(); err != nil {
			slog.ErrorContext(ctx, "server: close redis failed", "client", name, "error", err)
		}
	}
	if s.infra.postgres.archive != nil {
		s.infra.postgres.archive.Close()
	}

	slog.InfoContext(ctx, "server: shutdown completed")
}
