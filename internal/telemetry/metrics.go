package telemetry

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "livequiz"

var (
	GamesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "games_created_total",
		Help:      "Number of game sessions created.",
	})

	GamesFinished = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "games_finished_total",
		Help:      "Number of game sessions that went past their last question.",
	})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_sessions",
		Help:      "Number of game sessions held in memory.",
	})

	PlayersJoined = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "players_joined_total",
		Help:      "Number of accepted joins, by kind (join, rejoin).",
	}, []string{"kind"})

	AnswersAccepted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "answers_accepted_total",
		Help:      "Number of answers recorded, by correctness.",
	}, []string{"correct"})

	RoundsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rounds_resolved_total",
		Help:      "Number of rounds resolved, by trigger (timeout, quorum, manual).",
	}, []string{"trigger"})

	Connections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "websocket_connections",
		Help:      "Number of open websocket connections.",
	})
)

func ObserveAnswer(correct bool) {
	AnswersAccepted.WithLabelValues(strconv.FormatBool(correct)).Inc()
}
