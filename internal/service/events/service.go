package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"slotbook/internal/domain"
	"slotbook/internal/recurrence"
	"slotbook/internal/repository"
	redisrepo "slotbook/internal/repository/redis"
	"slotbook/internal/uow"
)

// Repository is the persistence surface the events service needs.
type Repository interface {
	uow.TxRunner

	CreateEvent(ctx context.Context, e *domain.Event) (int64, error)
	EventForUpdate(ctx context.Context, id int64) (*domain.Event, error)
	UpdateEvent(ctx context.Context, e *domain.Event) error
	DeleteEvent(ctx context.Context, id int64) error
	CreateSlot(ctx context.Context, slot *domain.Slot) (int64, error)
	SlotsForUpdate(ctx context.Context, eventID int64) ([]domain.Slot, error)
	PrimarySlotForUpdate(ctx context.Context, eventID int64) (*domain.Slot, error)
	UpdateSlot(ctx context.Context, slotID int64, start, end time.Time, capacity int) error

	BookedSpots(ctx context.Context, slotID int64) (int, error)
	ActiveBookingCount(ctx context.Context, slotID int64) (int64, error)
}

type Service struct {
	repo  Repository
	cache *redisrepo.Cache
	uow   *uow.UoW
}

func New(repo Repository, cache *redisrepo.Cache) *Service {
	return &Service{
		repo:  repo,
		cache: cache,
		uow:   uow.New(repo),
	}
}

// CreateInput describes a standalone event and its first slot.
type CreateInput struct {
	Title       string
	Description string
	Date        string // YYYY-MM-DD
	Location    string
	Category    string
	StartTime   string // HH:MM or HH:MM:SS
	EndTime     string
	Capacity    int
}

// Create makes a standalone event with one slot in a single transaction.
func (s *Service) Create(ctx context.Context, userID int64, in CreateInput) (int64, error) {
	const op = "service.events.Create"

	if in.Capacity <= 0 {
		return 0, fmt.Errorf("%s:%w", op, ErrInvalidCapacity)
	}

	start, end, err := slotWindow(in.Date, in.StartTime, in.EndTime)
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, err)
	}

	var eventID int64

	err = s.uow.Do(ctx, func(ctx context.Context, _ func(uow.AfterCommit)) error {
		id, err := s.repo.CreateEvent(ctx, &domain.Event{
			Title:            in.Title,
			Description:      in.Description,
			Date:             in.Date,
			Location:         in.Location,
			Category:         in.Category,
			CreatedBy:        userID,
			OccurrenceStatus: domain.OccurrenceActive,
		})
		if err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}

		if _, err := s.repo.CreateSlot(ctx, &domain.Slot{
			EventID:  id,
			Start:    start,
			End:      end,
			Capacity: in.Capacity,
		}); err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}

		eventID = id

		return nil
	})
	if err != nil {
		return 0, err
	}

	return eventID, nil
}

// UpdateInput carries optional event and primary-slot changes. Nil means
// "leave unchanged".
type UpdateInput struct {
	Title       *string
	Description *string
	Date        *string
	Location    *string
	Category    *string
	StartTime   *string
	EndTime     *string
	Capacity    *int
}

// Update mutates the event and, when time or capacity fields are present,
// its primary slot. Capacity may not drop below the spots already booked.
//
// Returns:
//   - events.ErrEventNotFound, events.ErrNotCreator
//   - events.ErrCapacityBelowBooked, events.ErrInvalidCapacity
//   - events.ErrInvalidTimeWindow
func (s *Service) Update(ctx context.Context, userID int64, role domain.Role, eventID int64, in UpdateInput) error {
	const op = "service.events.Update"

	return s.uow.Do(ctx, func(ctx context.Context, after func(uow.AfterCommit)) error {
		ev, err := s.lockManagedEvent(ctx, userID, role, eventID)
		if err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}

		if in.Title != nil {
			ev.Title = *in.Title
		}
		if in.Description != nil {
			ev.Description = *in.Description
		}
		if in.Location != nil {
			ev.Location = *in.Location
		}
		if in.Category != nil {
			ev.Category = *in.Category
		}
		if in.Date != nil {
			if _, err := recurrence.ParseDate(*in.Date); err != nil {
				return fmt.Errorf("%s:%w", op, err)
			}
			ev.Date = *in.Date
		}

		touchSlot := in.Date != nil || in.StartTime != nil || in.EndTime != nil || in.Capacity != nil
		if touchSlot {
			if err := s.updatePrimarySlot(ctx, ev, in); err != nil {
				return fmt.Errorf("%s:%w", op, err)
			}
		}

		if err := s.repo.UpdateEvent(ctx, ev); err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}

		if s.cache != nil {
			after(func(ctx context.Context) {
				_ = s.cache.InvalidateEvent(ctx, eventID)
			})
		}

		return nil
	})
}

func (s *Service) updatePrimarySlot(ctx context.Context, ev *domain.Event, in UpdateInput) error {
	slot, err := s.repo.PrimarySlotForUpdate(ctx, ev.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrSlotNotFound
		}

		return err
	}

	startTime := slot.Start.Format("15:04:05")
	if in.StartTime != nil {
		if startTime, err = recurrence.NormalizeTime(*in.StartTime); err != nil {
			return err
		}
	}
	endTime := slot.End.Format("15:04:05")
	if in.EndTime != nil {
		if endTime, err = recurrence.NormalizeTime(*in.EndTime); err != nil {
			return err
		}
	}
	if startTime >= endTime {
		return ErrInvalidTimeWindow
	}

	capacity := slot.Capacity
	if in.Capacity != nil {
		capacity = *in.Capacity
		if capacity <= 0 {
			return ErrInvalidCapacity
		}

		booked, err := s.repo.BookedSpots(ctx, slot.ID)
		if err != nil {
			return err
		}
		if capacity < booked {
			return ErrCapacityBelowBooked
		}
	}

	start, err := recurrence.CombineUTC(ev.Date, startTime)
	if err != nil {
		return err
	}
	end, err := recurrence.CombineUTC(ev.Date, endTime)
	if err != nil {
		return err
	}

	return s.repo.UpdateSlot(ctx, slot.ID, start, end, capacity)
}

// AddSlot appends another bookable slot to the event.
func (s *Service) AddSlot(
	ctx context.Context,
	userID int64,
	role domain.Role,
	eventID int64,
	startTime, endTime string,
	capacity int,
) (int64, error) {
	const op = "service.events.AddSlot"

	if capacity <= 0 {
		return 0, fmt.Errorf("%s:%w", op, ErrInvalidCapacity)
	}

	var slotID int64

	err := s.uow.Do(ctx, func(ctx context.Context, _ func(uow.AfterCommit)) error {
		ev, err := s.lockManagedEvent(ctx, userID, role, eventID)
		if err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}

		start, end, err := slotWindow(ev.Date, startTime, endTime)
		if err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}

		id, err := s.repo.CreateSlot(ctx, &domain.Slot{
			EventID:  eventID,
			Start:    start,
			End:      end,
			Capacity: capacity,
		})
		if err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}

		slotID = id

		return nil
	})
	if err != nil {
		return 0, err
	}

	return slotID, nil
}

// Delete removes the event and its slots, but only when no slot carries a
// live booking. Cancelled bookings do not block deletion.
//
// Returns:
//   - events.ErrEventNotFound, events.ErrNotCreator
//   - events.ErrHasLiveBookings
func (s *Service) Delete(ctx context.Context, userID int64, role domain.Role, eventID int64) error {
	const op = "service.events.Delete"

	return s.uow.Do(ctx, func(ctx context.Context, after func(uow.AfterCommit)) error {
		if _, err := s.lockManagedEvent(ctx, userID, role, eventID); err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}

		slots, err := s.repo.SlotsForUpdate(ctx, eventID)
		if err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}

		for _, sl := range slots {
			n, err := s.repo.ActiveBookingCount(ctx, sl.ID)
			if err != nil {
				return fmt.Errorf("%s:%w", op, err)
			}
			if n > 0 {
				return fmt.Errorf("%s:%w", op, ErrHasLiveBookings)
			}
		}

		if err := s.repo.DeleteEvent(ctx, eventID); err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}

		if s.cache != nil {
			after(func(ctx context.Context) {
				_ = s.cache.InvalidateEvent(ctx, eventID)
			})
		}

		return nil
	})
}

// lockManagedEvent loads the event under its row lock and checks that the
// caller created it or is an admin.
func (s *Service) lockManagedEvent(ctx context.Context, userID int64, role domain.Role, eventID int64) (*domain.Event, error) {
	ev, err := s.repo.EventForUpdate(ctx, eventID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrEventNotFound
		}

		return nil, err
	}

	if ev.CreatedBy != userID && role != domain.RoleAdmin {
		return nil, ErrNotCreator
	}

	return ev, nil
}

func slotWindow(date, startTime, endTime string) (time.Time, time.Time, error) {
	st, err := recurrence.NormalizeTime(startTime)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	et, err := recurrence.NormalizeTime(endTime)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if st >= et {
		return time.Time{}, time.Time{}, ErrInvalidTimeWindow
	}

	start, err := recurrence.CombineUTC(date, st)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := recurrence.CombineUTC(date, et)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}

	return start, end, nil
}
