package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"google.golang.org/grpc"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/event"
	"github.com/victornm/livequiz/internal/leaderboard"
	"github.com/victornm/livequiz/internal/session"
)

const timeFormat = time.RFC3339

type Config struct {
	GRPC     *grpc.Server
	HTTP     *gin.Engine
	EventBus *event.Bus
	Registry *session.Registry
	Hub      *Hub

	// Leaderboard and Redis are optional. Without them leaderboards are only served
	// from live sessions and nothing is published to Redis.
	Leaderboard  *leaderboard.Service
	Redis        Redis
	PubsubPrefix string

	// PublicURL is the page players open to join; it is encoded in QR codes.
	PublicURL   string
	CheckOrigin func(r *http.Request) bool
}

type API struct {
	reg *session.Registry
	hub *Hub
	ls  *leaderboard.Service
	d   *Dispatcher

	upgrader  websocket.Upgrader
	publicURL string

	redis  Redis
	prefix string
}

func New(c Config) *API {
	a := &API{
		reg:       c.Registry,
		hub:       c.Hub,
		ls:        c.Leaderboard,
		d:         NewDispatcher(c.Registry, c.Hub),
		publicURL: c.PublicURL,
		redis:     c.Redis,
		prefix:    c.PubsubPrefix,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     c.CheckOrigin,
		},
	}

	// gRPC APIs
	if c.GRPC != nil {
		RegisterQuizServiceServer(c.GRPC, a)
	}

	// HTTP and websocket APIs
	if c.HTTP != nil {
		a.registerRoutes(c.HTTP)
	}

	// Register event handlers
	if a.redis != nil {
		c.EventBus.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
			return a.PublishLeaderboardUpdated(ctx, e.(domain.EventLeaderboardUpdated))
		})
	}

	return a
}
