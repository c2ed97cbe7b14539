package series

import (
	"context"
	"errors"
	"fmt"
	"time"

	"slotbook/internal/clock"
	"slotbook/internal/domain"
	"slotbook/internal/recurrence"
	"slotbook/internal/repository"
	redisrepo "slotbook/internal/repository/redis"
	"slotbook/internal/uow"
)

// Repository is the persistence surface the series service needs.
type Repository interface {
	uow.TxRunner

	CreateSeries(ctx context.Context, series *domain.RecurrenceSeries) (int64, error)
	SeriesForUpdate(ctx context.Context, id int64) (*domain.RecurrenceSeries, error)
	UpdateSeries(ctx context.Context, series *domain.RecurrenceSeries) error
	ActiveOccurrencesFrom(ctx context.Context, seriesID int64, fromDate string) ([]domain.Event, error)

	CreateEvent(ctx context.Context, e *domain.Event) (int64, error)
	EventForUpdate(ctx context.Context, id int64) (*domain.Event, error)
	UpdateEvent(ctx context.Context, e *domain.Event) error
	CreateSlot(ctx context.Context, slot *domain.Slot) (int64, error)
	SlotsForUpdate(ctx context.Context, eventID int64) ([]domain.Slot, error)
	PrimarySlotForUpdate(ctx context.Context, eventID int64) (*domain.Slot, error)
	UpdateSlot(ctx context.Context, slotID int64, start, end time.Time, capacity int) error

	BookedSpots(ctx context.Context, slotID int64) (int, error)
	ActiveBookingCount(ctx context.Context, slotID int64) (int64, error)
	CancelBookingsBySlots(ctx context.Context, slotIDs []int64, now time.Time) (int64, error)
}

// SlotPublisher pushes slot-changed notices to interested listeners after
// the editing transaction commits.
type SlotPublisher interface {
	PublishSlotChanged(ctx context.Context, slotID, eventID int64) error
}

type Service struct {
	repo   Repository
	cache  *redisrepo.Cache
	pubsub SlotPublisher
	clock  clock.Clock
	uow    *uow.UoW
}

func New(
	repo Repository,
	cache *redisrepo.Cache,
	pubsub SlotPublisher,
	clk clock.Clock,
) *Service {
	if clk == nil {
		clk = clock.NewSystem()
	}

	return &Service{
		repo:   repo,
		cache:  cache,
		pubsub: pubsub,
		clock:  clk,
		uow:    uow.New(repo),
	}
}

// CreateInput is a full recurrence rule plus the descriptive fields shared
// by every generated occurrence.
type CreateInput struct {
	Title         string
	Description   string
	Location      string
	Category      string
	Frequency     domain.Frequency
	IntervalCount int
	Weekdays      []int
	StartDate     string
	UntilDate     string
	StartTime     string
	EndTime       string
	Capacity      int
	Timezone      string
}

type CreateResult struct {
	SeriesID        int64
	OccurrenceCount int
	FirstDate       string
	LastDate        string
}

// Create expands the rule into dated occurrences and materializes the
// series row plus one event and one slot per date, all in one transaction.
// Either the whole series exists afterwards or none of it does.
//
// Returns:
//   - series.ErrInvalidCapacity, series.ErrInvalidTimeWindow for bad fields.
//   - recurrence sentinel errors for a bad rule.
func (s *Service) Create(ctx context.Context, userID int64, in CreateInput) (CreateResult, error) {
	const op = "service.series.Create"

	if in.Capacity <= 0 {
		return CreateResult{}, fmt.Errorf("%s:%w", op, ErrInvalidCapacity)
	}

	startTime, err := recurrence.NormalizeTime(in.StartTime)
	if err != nil {
		return CreateResult{}, fmt.Errorf("%s:%w", op, err)
	}
	endTime, err := recurrence.NormalizeTime(in.EndTime)
	if err != nil {
		return CreateResult{}, fmt.Errorf("%s:%w", op, err)
	}
	if startTime >= endTime {
		return CreateResult{}, fmt.Errorf("%s:%w", op, ErrInvalidTimeWindow)
	}

	interval := in.IntervalCount
	if interval < 1 {
		interval = 1
	}
	weekdays := recurrence.NormalizeWeekdays(in.Weekdays)

	dates, err := recurrence.Expand(recurrence.Rule{
		Frequency:     in.Frequency,
		IntervalCount: interval,
		Weekdays:      weekdays,
		StartDate:     in.StartDate,
		UntilDate:     in.UntilDate,
	})
	if err != nil {
		return CreateResult{}, fmt.Errorf("%s:%w", op, err)
	}
	if len(dates) == 0 {
		return CreateResult{}, fmt.Errorf("%s:%w", op, recurrence.ErrNoOccurrences)
	}

	series := &domain.RecurrenceSeries{
		Title:         in.Title,
		Description:   in.Description,
		Location:      in.Location,
		Category:      in.Category,
		CreatedBy:     userID,
		Frequency:     in.Frequency,
		IntervalCount: interval,
		Weekdays:      weekdays,
		StartDate:     in.StartDate,
		UntilDate:     in.UntilDate,
		StartTime:     startTime,
		EndTime:       endTime,
		Capacity:      in.Capacity,
		Timezone:      in.Timezone,
	}

	var res CreateResult

	err = s.uow.Do(ctx, func(ctx context.Context, _ func(uow.AfterCommit)) error {
		id, err := s.repo.CreateSeries(ctx, series)
		if err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}

		for _, date := range dates {
			if err := s.materializeOccurrence(ctx, series, id, date); err != nil {
				return fmt.Errorf("%s:%w", op, err)
			}
		}

		res = CreateResult{
			SeriesID:        id,
			OccurrenceCount: len(dates),
			FirstDate:       dates[0],
			LastDate:        dates[len(dates)-1],
		}

		return nil
	})
	if err != nil {
		return CreateResult{}, err
	}

	return res, nil
}

// materializeOccurrence creates the event row and its single slot for one
// generated date. Time-of-day values are combined with the date as naive
// UTC, ignoring the series timezone field; occurrences therefore keep the
// same absolute instant offsets across DST boundaries.
func (s *Service) materializeOccurrence(
	ctx context.Context,
	series *domain.RecurrenceSeries,
	seriesID int64,
	date string,
) error {
	occDate := date
	eventID, err := s.repo.CreateEvent(ctx, &domain.Event{
		Title:              series.Title,
		Description:        series.Description,
		Date:               date,
		Location:           series.Location,
		Category:           series.Category,
		CreatedBy:          series.CreatedBy,
		RecurrenceSeriesID: &seriesID,
		OccurrenceDate:     &occDate,
		OccurrenceStatus:   domain.OccurrenceActive,
	})
	if err != nil {
		return err
	}

	start, err := recurrence.CombineUTC(date, series.StartTime)
	if err != nil {
		return err
	}
	end, err := recurrence.CombineUTC(date, series.EndTime)
	if err != nil {
		return err
	}

	_, err = s.repo.CreateSlot(ctx, &domain.Slot{
		EventID:  eventID,
		Start:    start,
		End:      end,
		Capacity: series.Capacity,
	})
	return err
}

// Action names for EditOccurrence.
const (
	ActionCancel = "cancel"
	ActionUpdate = "update"
)

// OccurrenceUpdate carries the optional fields of an occurrence edit. Nil
// means "leave unchanged".
type OccurrenceUpdate struct {
	Title       *string
	Description *string
	Location    *string
	Category    *string
	Date        *string
	StartTime   *string
	EndTime     *string
	Capacity    *int
}

// EditOccurrence cancels or updates a single occurrence of the series.
// Cancelling also cancels every live booking on the occurrence's slots, with
// no undo window. Updating touches only this occurrence and marks it as
// modified, which detaches it from future forward edits of the series.
//
// Returns:
//   - series.ErrSeriesNotFound, series.ErrEventNotFound, series.ErrNotInSeries
//   - series.ErrNotCreator if the caller did not create the series.
//   - series.ErrOccurrenceCancelled when updating a cancelled occurrence.
//   - series.ErrCapacityBelowBooked when lowering capacity under booked spots.
func (s *Service) EditOccurrence(
	ctx context.Context,
	userID, seriesID, eventID int64,
	action string,
	upd OccurrenceUpdate,
) error {
	const op = "service.series.EditOccurrence"

	if action != ActionCancel && action != ActionUpdate {
		return fmt.Errorf("%s:%w", op, ErrInvalidAction)
	}

	return s.uow.Do(ctx, func(ctx context.Context, after func(uow.AfterCommit)) error {
		if _, err := s.lockOwnedSeries(ctx, userID, seriesID); err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}

		ev, err := s.repo.EventForUpdate(ctx, eventID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%s:%w", op, ErrEventNotFound)
			}

			return fmt.Errorf("%s:%w", op, err)
		}

		if ev.RecurrenceSeriesID == nil || *ev.RecurrenceSeriesID != seriesID {
			return fmt.Errorf("%s:%w", op, ErrNotInSeries)
		}

		if action == ActionCancel {
			slotIDs, err := s.cancelOccurrence(ctx, ev, true)
			if err != nil {
				return fmt.Errorf("%s:%w", op, err)
			}

			s.invalidateEventAfterCommit(after, ev.ID, slotIDs...)

			return nil
		}

		if ev.OccurrenceStatus == domain.OccurrenceCancelled {
			return fmt.Errorf("%s:%w", op, ErrOccurrenceCancelled)
		}

		slotID, err := s.updateOccurrence(ctx, ev, upd)
		if err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}

		s.invalidateEventAfterCommit(after, ev.ID, slotID)

		return nil
	})
}

func (s *Service) updateOccurrence(ctx context.Context, ev *domain.Event, upd OccurrenceUpdate) (int64, error) {
	slot, err := s.repo.PrimarySlotForUpdate(ctx, ev.ID)
	if err != nil {
		return 0, err
	}

	if upd.Title != nil {
		ev.Title = *upd.Title
	}
	if upd.Description != nil {
		ev.Description = *upd.Description
	}
	if upd.Location != nil {
		ev.Location = *upd.Location
	}
	if upd.Category != nil {
		ev.Category = *upd.Category
	}
	if upd.Date != nil {
		if _, err := recurrence.ParseDate(*upd.Date); err != nil {
			return 0, err
		}
		// occurrence_date keeps the series mapping, only the visible
		// calendar date moves.
		ev.Date = *upd.Date
	}

	startTime := slot.Start.Format("15:04:05")
	if upd.StartTime != nil {
		if startTime, err = recurrence.NormalizeTime(*upd.StartTime); err != nil {
			return 0, err
		}
	}
	endTime := slot.End.Format("15:04:05")
	if upd.EndTime != nil {
		if endTime, err = recurrence.NormalizeTime(*upd.EndTime); err != nil {
			return 0, err
		}
	}
	if startTime >= endTime {
		return 0, ErrInvalidTimeWindow
	}

	capacity := slot.Capacity
	if upd.Capacity != nil {
		capacity = *upd.Capacity
		if capacity <= 0 {
			return 0, ErrInvalidCapacity
		}

		booked, err := s.repo.BookedSpots(ctx, slot.ID)
		if err != nil {
			return 0, err
		}
		if capacity < booked {
			return 0, ErrCapacityBelowBooked
		}
	}

	start, err := recurrence.CombineUTC(ev.Date, startTime)
	if err != nil {
		return 0, err
	}
	end, err := recurrence.CombineUTC(ev.Date, endTime)
	if err != nil {
		return 0, err
	}

	if err := s.repo.UpdateSlot(ctx, slot.ID, start, end, capacity); err != nil {
		return 0, err
	}

	ev.ModifiedFromSeries = true

	return slot.ID, s.repo.UpdateEvent(ctx, ev)
}

// ForwardChanges carries the rule overrides of a forward edit. Nil means
// "keep the series' current value".
type ForwardChanges struct {
	Title         *string
	Description   *string
	Location      *string
	Category      *string
	Frequency     *domain.Frequency
	IntervalCount *int
	Weekdays      *[]int
	UntilDate     *string
	StartTime     *string
	EndTime       *string
	Capacity      *int
	Timezone      *string
}

type ForwardResult struct {
	AppliedChanges        int
	PreservedWithBookings int
}

// EditForward rewrites the series from effectiveDate onward. Occurrences
// carrying live bookings, and occurrences edited independently, are
// preserved untouched; the rest are reassigned in order to the dates the
// new rule generates, with extras created and surplus cancelled. The series
// row takes the new rule values and its version is bumped.
//
// Returns:
//   - series.ErrSeriesNotFound, series.ErrNotCreator
//   - series.ErrInvalidCapacity, series.ErrInvalidTimeWindow
//   - recurrence sentinel errors for a bad new rule.
func (s *Service) EditForward(
	ctx context.Context,
	userID, seriesID int64,
	effectiveDate string,
	changes ForwardChanges,
) (ForwardResult, error) {
	const op = "service.series.EditForward"

	if _, err := recurrence.ParseDate(effectiveDate); err != nil {
		return ForwardResult{}, fmt.Errorf("%s:%w", op, err)
	}

	var res ForwardResult

	err := s.uow.Do(ctx, func(ctx context.Context, after func(uow.AfterCommit)) error {
		series, err := s.lockOwnedSeries(ctx, userID, seriesID)
		if err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}

		if err := applyForwardChanges(series, changes); err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}

		newDates, err := recurrence.Expand(recurrence.Rule{
			Frequency:     series.Frequency,
			IntervalCount: series.IntervalCount,
			Weekdays:      series.Weekdays,
			StartDate:     effectiveDate,
			UntilDate:     series.UntilDate,
		})
		if err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}

		occs, err := s.repo.ActiveOccurrencesFrom(ctx, seriesID, effectiveDate)
		if err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}

		reconcilable, preserved, err := s.partitionOccurrences(ctx, occs)
		if err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}

		applied := 0

		n := len(reconcilable)
		if len(newDates) < n {
			n = len(newDates)
		}

		for i := 0; i < n; i++ {
			slotID, err := s.remapOccurrence(ctx, series, &reconcilable[i], newDates[i])
			if err != nil {
				return fmt.Errorf("%s:%w", op, err)
			}
			s.invalidateEventAfterCommit(after, reconcilable[i].ID, slotID)
			applied++
		}

		for _, date := range newDates[n:] {
			if err := s.materializeOccurrence(ctx, series, seriesID, date); err != nil {
				return fmt.Errorf("%s:%w", op, err)
			}
			applied++
		}

		for i := n; i < len(reconcilable); i++ {
			slotIDs, err := s.cancelOccurrence(ctx, &reconcilable[i], true)
			if err != nil {
				return fmt.Errorf("%s:%w", op, err)
			}
			s.invalidateEventAfterCommit(after, reconcilable[i].ID, slotIDs...)
			applied++
		}

		if err := s.repo.UpdateSeries(ctx, series); err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}

		res = ForwardResult{
			AppliedChanges:        applied,
			PreservedWithBookings: len(preserved),
		}

		return nil
	})
	if err != nil {
		return ForwardResult{}, err
	}

	return res, nil
}

// Delete cancels every active occurrence from fromDate onward, bookings
// included. Past occurrences are untouched; the series row stays, so its
// history remains visible.
func (s *Service) Delete(ctx context.Context, userID, seriesID int64, fromDate string) (int, error) {
	const op = "service.series.Delete"

	if fromDate == "" {
		fromDate = s.clock.Now().UTC().Format("2006-01-02")
	} else if _, err := recurrence.ParseDate(fromDate); err != nil {
		return 0, fmt.Errorf("%s:%w", op, err)
	}

	cancelled := 0

	err := s.uow.Do(ctx, func(ctx context.Context, after func(uow.AfterCommit)) error {
		if _, err := s.lockOwnedSeries(ctx, userID, seriesID); err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}

		occs, err := s.repo.ActiveOccurrencesFrom(ctx, seriesID, fromDate)
		if err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}

		for i := range occs {
			slotIDs, err := s.cancelOccurrence(ctx, &occs[i], false)
			if err != nil {
				return fmt.Errorf("%s:%w", op, err)
			}
			s.invalidateEventAfterCommit(after, occs[i].ID, slotIDs...)
			cancelled++
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	return cancelled, nil
}

// lockOwnedSeries loads the series under its row lock and checks ownership.
func (s *Service) lockOwnedSeries(ctx context.Context, userID, seriesID int64) (*domain.RecurrenceSeries, error) {
	series, err := s.repo.SeriesForUpdate(ctx, seriesID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSeriesNotFound
		}

		return nil, err
	}

	if series.CreatedBy != userID {
		return nil, ErrNotCreator
	}

	return series, nil
}

// cancelOccurrence cancels the occurrence's live bookings and marks the
// occurrence cancelled. markModified distinguishes targeted edits from a
// whole-series deletion.
func (s *Service) cancelOccurrence(ctx context.Context, ev *domain.Event, markModified bool) ([]int64, error) {
	slots, err := s.repo.SlotsForUpdate(ctx, ev.ID)
	if err != nil {
		return nil, err
	}

	slotIDs := make([]int64, 0, len(slots))
	for _, sl := range slots {
		slotIDs = append(slotIDs, sl.ID)
	}

	if _, err := s.repo.CancelBookingsBySlots(ctx, slotIDs, s.clock.Now()); err != nil {
		return nil, err
	}

	ev.OccurrenceStatus = domain.OccurrenceCancelled
	if markModified {
		ev.ModifiedFromSeries = true
	}

	return slotIDs, s.repo.UpdateEvent(ctx, ev)
}

// remapOccurrence reassigns a booking-free occurrence to a freshly
// generated date and realigns it with the series rule.
func (s *Service) remapOccurrence(
	ctx context.Context,
	series *domain.RecurrenceSeries,
	ev *domain.Event,
	date string,
) (int64, error) {
	slot, err := s.repo.PrimarySlotForUpdate(ctx, ev.ID)
	if err != nil {
		return 0, err
	}

	start, err := recurrence.CombineUTC(date, series.StartTime)
	if err != nil {
		return 0, err
	}
	end, err := recurrence.CombineUTC(date, series.EndTime)
	if err != nil {
		return 0, err
	}

	if err := s.repo.UpdateSlot(ctx, slot.ID, start, end, series.Capacity); err != nil {
		return 0, err
	}

	occDate := date
	ev.Title = series.Title
	ev.Description = series.Description
	ev.Location = series.Location
	ev.Category = series.Category
	ev.Date = date
	ev.OccurrenceDate = &occDate

	return slot.ID, s.repo.UpdateEvent(ctx, ev)
}

// partitionOccurrences splits active occurrences into freely reconcilable
// ones and preserved ones. An occurrence is preserved when any of its slots
// carries a live booking, or when it was edited independently of the series.
func (s *Service) partitionOccurrences(
	ctx context.Context,
	occs []domain.Event,
) (reconcilable, preserved []domain.Event, err error) {
	for _, occ := range occs {
		if occ.ModifiedFromSeries {
			continue
		}

		slots, err := s.repo.SlotsForUpdate(ctx, occ.ID)
		if err != nil {
			return nil, nil, err
		}

		live := false
		for _, sl := range slots {
			n, err := s.repo.ActiveBookingCount(ctx, sl.ID)
			if err != nil {
				return nil, nil, err
			}
			if n > 0 {
				live = true
				break
			}
		}

		if live {
			preserved = append(preserved, occ)
		} else {
			reconcilable = append(reconcilable, occ)
		}
	}

	return reconcilable, preserved, nil
}

func applyForwardChanges(series *domain.RecurrenceSeries, c ForwardChanges) error {
	if c.Title != nil {
		series.Title = *c.Title
	}
	if c.Description != nil {
		series.Description = *c.Description
	}
	if c.Location != nil {
		series.Location = *c.Location
	}
	if c.Category != nil {
		series.Category = *c.Category
	}
	if c.Frequency != nil {
		series.Frequency = *c.Frequency
	}
	if c.IntervalCount != nil {
		series.IntervalCount = *c.IntervalCount
		if series.IntervalCount < 1 {
			series.IntervalCount = 1
		}
	}
	if c.Weekdays != nil {
		series.Weekdays = recurrence.NormalizeWeekdays(*c.Weekdays)
	}
	if c.UntilDate != nil {
		if _, err := recurrence.ParseDate(*c.UntilDate); err != nil {
			return err
		}
		series.UntilDate = *c.UntilDate
	}

	var err error
	if c.StartTime != nil {
		if series.StartTime, err = recurrence.NormalizeTime(*c.StartTime); err != nil {
			return err
		}
	}
	if c.EndTime != nil {
		if series.EndTime, err = recurrence.NormalizeTime(*c.EndTime); err != nil {
			return err
		}
	}
	if series.StartTime >= series.EndTime {
		return ErrInvalidTimeWindow
	}

	if c.Capacity != nil {
		if *c.Capacity <= 0 {
			return ErrInvalidCapacity
		}
		series.Capacity = *c.Capacity
	}
	if c.Timezone != nil && *c.Timezone != "" {
		series.Timezone = *c.Timezone
	}

	return nil
}

func (s *Service) invalidateEventAfterCommit(after func(uow.AfterCommit), eventID int64, slotIDs ...int64) {
	if s.cache == nil && s.pubsub == nil {
		return
	}

	after(func(ctx context.Context) {
		if s.cache != nil {
			_ = s.cache.InvalidateEvent(ctx, eventID)
			for _, id := range slotIDs {
				_ = s.cache.InvalidateSlot(ctx, id, eventID)
			}
		}
		if s.pubsub != nil {
			for _, id := range slotIDs {
				_ = s.pubsub.PublishSlotChanged(ctx, id, eventID)
			}
		}
	})
}
