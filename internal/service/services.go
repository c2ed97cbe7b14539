package service

import (
	"slotbook/internal/clock"
	redisx "slotbook/internal/redis"
	postgres "slotbook/internal/repository/postgres"
	redisrepo "slotbook/internal/repository/redis"
	"slotbook/internal/service/booking"
	"slotbook/internal/service/events"
	"slotbook/internal/service/query"
	"slotbook/internal/service/series"
)

type Services struct {
	Booking *booking.Service
	Series  *series.Service
	Events  *events.Service
	Query   *query.Service
}

type Config struct {
	Query query.Config
}

func NewServices(
	store *postgres.Store,
	cache *redisrepo.Cache,
	pubsub *redisx.SlotsPubSub,
	limiter *redisrepo.SlidingWindowLimiter,
	clk clock.Clock,
	cfg Config,
) *Services {
	return &Services{
		Booking: booking.New(store, cache, pubsub, limiter, clk),
		Series:  series.New(store, cache, pubsub, clk),
		Events:  events.New(store, cache),
		Query:   query.New(store, cache, cfg.Query),
	}
}
