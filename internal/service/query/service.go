// Package query is the read side: cached event summaries, slot
// availability, a user's bookings and notifications. Cached values are
// only ever served outside write transactions; every write path derives
// occupancy from the booking rows it locked.
package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"slotbook/internal/domain"
	redisx "slotbook/internal/redis"
	"slotbook/internal/repository"
	redisrepo "slotbook/internal/repository/redis"
)

var (
	// ErrEventNotFound is returned when the event does not exist.
	ErrEventNotFound = errors.New("event not found")
	// ErrSlotNotFound is returned when the slot does not exist.
	ErrSlotNotFound = errors.New("slot not found")
	// ErrNotificationNotFound is returned when the notification does not
	// exist or belongs to another user.
	ErrNotificationNotFound = errors.New("notification not found")
)

// Repository is the read surface the query service needs. All methods run
// outside any transaction.
type Repository interface {
	SlotAvailability(ctx context.Context, slotID int64) (*domain.SlotAvailability, error)
	EventWithSlots(ctx context.Context, eventID int64) (*domain.EventWithSlots, error)
	ListEvents(ctx context.Context, f domain.EventFilter) ([]domain.EventListItem, error)
	ListUserBookings(ctx context.Context, userID int64) ([]domain.BookingWithSlot, error)
	ListNotifications(ctx context.Context, userID int64, limit int) ([]domain.Notification, error)
	MarkNotificationRead(ctx context.Context, id uuid.UUID, userID int64) error
}

type Config struct {
	SummaryTTL      time.Duration
	AvailabilityTTL time.Duration
}

type Service struct {
	repo  Repository
	cache *redisrepo.Cache
	cfg   Config
}

func New(repo Repository, cache *redisrepo.Cache, cfg Config) *Service {
	if cfg.SummaryTTL <= 0 {
		cfg.SummaryTTL = 15 * time.Second
	}
	if cfg.AvailabilityTTL <= 0 {
		cfg.AvailabilityTTL = 3 * time.Second
	}

	return &Service{repo: repo, cache: cache, cfg: cfg}
}

// EventSummary returns the event with its slots and derived availability,
// served from redis when warm.
func (s *Service) EventSummary(ctx context.Context, eventID int64) (*domain.EventWithSlots, error) {
	const op = "service.query.EventSummary"

	load := func(ctx context.Context) (*domain.EventWithSlots, error) {
		return s.repo.EventWithSlots(ctx, eventID)
	}

	var (
		ev  *domain.EventWithSlots
		err error
	)
	if s.cache != nil {
		ev, err = redisrepo.GetOrSetJSON(ctx, s.cache, redisx.KeyEventSummary(eventID), s.cfg.SummaryTTL, load)
	} else {
		ev, err = load(ctx)
	}
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrEventNotFound)
		}

		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return ev, nil
}

// SlotAvailability returns the derived capacity ledger for one slot. The
// value is a short-lived cached snapshot for display; allocation decisions
// never consult it.
func (s *Service) SlotAvailability(ctx context.Context, slotID int64) (*domain.SlotAvailability, error) {
	const op = "service.query.SlotAvailability"

	load := func(ctx context.Context) (*domain.SlotAvailability, error) {
		return s.repo.SlotAvailability(ctx, slotID)
	}

	var (
		av  *domain.SlotAvailability
		err error
	)
	if s.cache != nil {
		av, err = redisrepo.GetOrSetJSON(ctx, s.cache, redisx.KeySlotAvailability(slotID), s.cfg.AvailabilityTTL, load)
	} else {
		av, err = load(ctx)
	}
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrSlotNotFound)
		}

		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return av, nil
}

// ListEvents returns a page of upcoming active events with availability.
// The smart order only ranks by preference tags when the caller is known.
func (s *Service) ListEvents(ctx context.Context, f domain.EventFilter) ([]domain.EventListItem, error) {
	const op = "service.query.ListEvents"

	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	if f.UserID < 0 {
		f.UserID = 0
	}

	events, err := s.repo.ListEvents(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return events, nil
}

// UserBookings returns the user's bookings, newest first, with their slot
// and event context.
func (s *Service) UserBookings(ctx context.Context, userID int64) ([]domain.BookingWithSlot, error) {
	const op = "service.query.UserBookings"

	bookings, err := s.repo.ListUserBookings(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return bookings, nil
}

// UserNotifications returns the user's most recent notifications.
func (s *Service) UserNotifications(ctx context.Context, userID int64, limit int) ([]domain.Notification, error) {
	const op = "service.query.UserNotifications"

	if limit <= 0 || limit > 100 {
		limit = 50
	}

	ns, err := s.repo.ListNotifications(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return ns, nil
}

// MarkNotificationRead marks one of the user's notifications as read.
func (s *Service) MarkNotificationRead(ctx context.Context, userID int64, id uuid.UUID) error {
	const op = "service.query.MarkNotificationRead"

	if err := s.repo.MarkNotificationRead(ctx, id, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%s:%w", op, ErrNotificationNotFound)
		}

		return fmt.Errorf("%s:%w", op, err)
	}

	return nil
}
