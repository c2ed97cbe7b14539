package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"slotbook/internal/clock"
	"slotbook/internal/domain"
	"slotbook/internal/repository"
	redisrepo "slotbook/internal/repository/redis"
	"slotbook/internal/uow"
)

// GracePeriod is how long after a full cancellation the booking can be
// restored via Undo.
const GracePeriod = 24 * time.Hour

// Repository is the persistence surface the booking service needs. All
// *ForUpdate methods must be called inside a transaction opened by WithTx;
// they take row locks that live until commit.
type Repository interface {
	uow.TxRunner

	SlotForUpdate(ctx context.Context, slotID int64) (*domain.Slot, error)
	BookedSpots(ctx context.Context, slotID int64) (int, error)
	HasOverlappingBooking(ctx context.Context, userID, slotID int64, start, end time.Time) (bool, error)
	HasEventBooking(ctx context.Context, userID, eventID int64) (bool, error)
	InsertBooking(ctx context.Context, b *domain.Booking) error
	BookingForUpdate(ctx context.Context, id uuid.UUID) (*domain.Booking, error)
	UpdateBookingSpots(ctx context.Context, id uuid.UUID, spots int, now time.Time) error
	MarkBookingCancelled(ctx context.Context, id uuid.UUID, now time.Time) error
	RestoreBooking(ctx context.Context, id uuid.UUID, now time.Time) error
	WaitlistBookings(ctx context.Context, slotID int64) ([]domain.Booking, error)
	PromoteBooking(ctx context.Context, id uuid.UUID, now time.Time) error
	InsertNotification(ctx context.Context, n *domain.Notification) error
}

// SlotPublisher pushes slot-changed notices to interested listeners after
// the capacity transaction commits.
type SlotPublisher interface {
	PublishSlotChanged(ctx context.Context, slotID, eventID int64) error
}

// Limiter throttles allocation attempts per caller key.
type Limiter interface {
	Allow(ctx context.Context, key string) (allowed bool, current int64, retryAfter time.Duration, err error)
}

type Service struct {
	repo    Repository
	cache   *redisrepo.Cache
	pubsub  SlotPublisher
	limiter Limiter
	clock   clock.Clock
	uow     *uow.UoW
}

func New(
	repo Repository,
	cache *redisrepo.Cache,
	pubsub SlotPublisher,
	limiter Limiter,
	clk clock.Clock,
) *Service {
	if clk == nil {
		clk = clock.NewSystem()
	}

	return &Service{
		repo:    repo,
		cache:   cache,
		pubsub:  pubsub,
		limiter: limiter,
		clock:   clk,
		uow:     uow.New(repo),
	}
}

// Result is the outcome of an allocation.
type Result struct {
	BookingID uuid.UUID
	Status    domain.BookingStatus
}

// Allocate books spots on a slot, or joins the waitlist when the slot is
// full. Remaining capacity is derived from the booked rows under the slot's
// row lock, so concurrent requests for the last spots serialize and exactly
// one wins.
//
// Returns:
//   - booking.ErrSlotNotFound if the slot does not exist.
//   - booking.ErrInvalidSpots if spots is outside the allowed range.
//   - booking.ErrOverlapConflict if the user holds an active booking on an
//     overlapping slot.
//   - booking.ErrDuplicateEventBooking if the user holds an active booking
//     for the same event.
//   - *booking.NotEnoughSpotsError if the request fits neither the remaining
//     capacity nor the waitlist.
//   - *booking.RateLimitedError if the caller key is over the rate limit.
func (s *Service) Allocate(
	ctx context.Context,
	userID, slotID int64,
	spots int,
	rlKey string,
) (Result, error) {
	const op = "service.booking.Allocate"

	if spots < domain.MinSpotsPerBooking || spots > domain.MaxSpotsPerBooking {
		return Result{}, fmt.Errorf("%s:%w", op, ErrInvalidSpots)
	}

	if s.limiter != nil && rlKey != "" {
		ok, _, retry, err := s.limiter.Allow(ctx, rlKey)
		if err != nil {
			return Result{}, fmt.Errorf("%s:%w", op, err)
		}
		if !ok {
			return Result{}, fmt.Errorf("%s:%w", op, &RateLimitedError{RetryAfter: retry})
		}
	}

	var res Result

	err := s.uow.Do(ctx, func(ctx context.Context, after func(uow.AfterCommit)) error {
		slot, err := s.repo.SlotForUpdate(ctx, slotID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%s:%w", op, ErrSlotNotFound)
			}

			return fmt.Errorf("%s:%w", op, err)
		}

		overlap, err := s.repo.HasOverlappingBooking(ctx, userID, slotID, slot.Start, slot.End)
		if err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}
		if overlap {
			return fmt.Errorf("%s:%w", op, ErrOverlapConflict)
		}

		dup, err := s.repo.HasEventBooking(ctx, userID, slot.EventID)
		if err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}
		if dup {
			return fmt.Errorf("%s:%w", op, ErrDuplicateEventBooking)
		}

		taken, err := s.repo.BookedSpots(ctx, slotID)
		if err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}

		remaining := slot.Capacity - taken

		status := domain.BookingBooked
		switch {
		case remaining >= spots:
			status = domain.BookingBooked
		case remaining == 0:
			// Full slot: the request queues at the tail of the waitlist.
			status = domain.BookingWaitlist
		default:
			// Some spots are free but not enough. Waitlisting here would
			// strand free capacity behind a request that cannot fit, so the
			// caller is told to retry with fewer spots.
			return fmt.Errorf("%s:%w", op, &NotEnoughSpotsError{
				Requested: spots,
				Available: remaining,
			})
		}

		now := s.clock.Now()
		b := &domain.Booking{
			ID:        uuid.New(),
			UserID:    userID,
			SlotID:    slotID,
			Spots:     spots,
			Status:    status,
			CreatedAt: now,
			UpdatedAt: now,
		}

		if err := s.repo.InsertBooking(ctx, b); err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}

		res = Result{BookingID: b.ID, Status: status}

		s.invalidateAfterCommit(after, slotID, slot.EventID)

		return nil
	})
	if err != nil {
		return Result{}, err
	}

	return res, nil
}

// Cancel cancels a booking. With spotsToCancel == 0 the whole booking is
// cancelled and the undo grace window starts. With spotsToCancel > 0 only
// that many spots are released and the booking stays active with the rest;
// partial cancellations are not undoable. Either way the freed capacity is
// offered to the waitlist before the transaction commits.
//
// Returns:
//   - booking.ErrBookingNotFound if the booking does not exist.
//   - booking.ErrNotOwner if the caller does not own the booking.
//   - booking.ErrAlreadyCancelled if the booking is already cancelled.
//   - booking.ErrInvalidSpots if spotsToCancel is negative.
//   - booking.ErrUseFullCancellation if spotsToCancel covers every spot.
func (s *Service) Cancel(
	ctx context.Context,
	userID int64,
	bookingID uuid.UUID,
	spotsToCancel int,
) error {
	const op = "service.booking.Cancel"

	if spotsToCancel < 0 {
		return fmt.Errorf("%s:%w", op, ErrInvalidSpots)
	}

	return s.uow.Do(ctx, func(ctx context.Context, after func(uow.AfterCommit)) error {
		b, err := s.repo.BookingForUpdate(ctx, bookingID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%s:%w", op, ErrBookingNotFound)
			}

			return fmt.Errorf("%s:%w", op, err)
		}

		if b.UserID != userID {
			return fmt.Errorf("%s:%w", op, ErrNotOwner)
		}

		if b.Status == domain.BookingCancelled {
			return fmt.Errorf("%s:%w", op, ErrAlreadyCancelled)
		}

		// Lock order is always booking row first, slot row second.
		slot, err := s.repo.SlotForUpdate(ctx, b.SlotID)
		if err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}

		now := s.clock.Now()

		if spotsToCancel > 0 {
			if spotsToCancel >= b.Spots {
				return fmt.Errorf("%s:%w", op, ErrUseFullCancellation)
			}

			if err := s.repo.UpdateBookingSpots(ctx, bookingID, b.Spots-spotsToCancel, now); err != nil {
				return fmt.Errorf("%s:%w", op, err)
			}
		} else {
			if err := s.repo.MarkBookingCancelled(ctx, bookingID, now); err != nil {
				return fmt.Errorf("%s:%w", op, err)
			}
		}

		if err := s.promote(ctx, slot, now); err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}

		s.invalidateAfterCommit(after, slot.ID, slot.EventID)

		return nil
	})
}

// Undo restores a fully cancelled booking within the grace period. The slot
// may have filled up in the meantime, so capacity is re-derived under the
// slot lock; a restore never evicts promoted waitlisters.
//
// Returns:
//   - booking.ErrBookingNotFound if the booking does not exist.
//   - booking.ErrNotOwner if the caller does not own the booking.
//   - booking.ErrNotCancelled if the booking is not cancelled.
//   - booking.ErrUndoExpired if the grace period has passed.
//   - booking.ErrUndoCapacity if the slot cannot absorb the booking anymore.
func (s *Service) Undo(ctx context.Context, userID int64, bookingID uuid.UUID) error {
	const op = "service.booking.Undo"

	return s.uow.Do(ctx, func(ctx context.Context, after func(uow.AfterCommit)) error {
		b, err := s.repo.BookingForUpdate(ctx, bookingID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%s:%w", op, ErrBookingNotFound)
			}

			return fmt.Errorf("%s:%w", op, err)
		}

		if b.UserID != userID {
			return fmt.Errorf("%s:%w", op, ErrNotOwner)
		}

		if b.Status != domain.BookingCancelled || b.CancelledAt == nil {
			return fmt.Errorf("%s:%w", op, ErrNotCancelled)
		}

		now := s.clock.Now()
		if now.Sub(*b.CancelledAt) > GracePeriod {
			return fmt.Errorf("%s:%w", op, ErrUndoExpired)
		}

		slot, err := s.repo.SlotForUpdate(ctx, b.SlotID)
		if err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}

		taken, err := s.repo.BookedSpots(ctx, b.SlotID)
		if err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}

		if slot.Capacity-taken < b.Spots {
			return fmt.Errorf("%s:%w", op, ErrUndoCapacity)
		}

		if err := s.repo.RestoreBooking(ctx, bookingID, now); err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}

		s.invalidateAfterCommit(after, slot.ID, slot.EventID)

		return nil
	})
}

// promote walks the slot's waitlist in arrival order and promotes every
// entry that fits the remaining capacity, skipping over ones that do not.
// Capacity is re-derived from the booked rows rather than trusting the
// caller's idea of how much was freed, since several releases can land in
// the same transaction. Must run under the slot's row lock.
func (s *Service) promote(ctx context.Context, slot *domain.Slot, now time.Time) error {
	taken, err := s.repo.BookedSpots(ctx, slot.ID)
	if err != nil {
		return err
	}

	available := slot.Capacity - taken
	if available <= 0 {
		return nil
	}

	wl, err := s.repo.WaitlistBookings(ctx, slot.ID)
	if err != nil {
		return err
	}

	for _, w := range wl {
		if w.Spots > available {
			continue
		}

		if err := s.repo.PromoteBooking(ctx, w.ID, now); err != nil {
			return err
		}

		available -= w.Spots

		// Notification delivery is best effort and must never undo a
		// promotion that already happened.
		payload, _ := json.Marshal(map[string]any{
			"slot_id": slot.ID,
			"spots":   w.Spots,
		})
		_ = s.repo.InsertNotification(ctx, &domain.Notification{
			ID:        uuid.New(),
			UserID:    w.UserID,
			Type:      domain.NotificationWaitlistPromoted,
			Payload:   payload,
			CreatedAt: now,
		})

		if available == 0 {
			break
		}
	}

	return nil
}

func (s *Service) invalidateAfterCommit(after func(uow.AfterCommit), slotID, eventID int64) {
	if s.cache == nil && s.pubsub == nil {
		return
	}

	after(func(ctx context.Context) {
		if s.cache != nil {
			_ = s.cache.InvalidateSlot(ctx, slotID, eventID)
		}
		if s.pubsub != nil {
			_ = s.pubsub.PublishSlotChanged(ctx, slotID, eventID)
		}
	})
}
