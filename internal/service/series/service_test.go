package series

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slotbook/internal/clock"
	"slotbook/internal/domain"
	"slotbook/internal/recurrence"
	"slotbook/internal/repository"
)

type fakeRepo struct {
	mu       sync.Mutex
	series   map[int64]*domain.RecurrenceSeries
	events   map[int64]*domain.Event
	slots    map[int64]*domain.Slot
	bookings map[uuid.UUID]*domain.Booking
	nextID   int64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		series:   make(map[int64]*domain.RecurrenceSeries),
		events:   make(map[int64]*domain.Event),
		slots:    make(map[int64]*domain.Slot),
		bookings: make(map[uuid.UUID]*domain.Booking),
	}
}

func (f *fakeRepo) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fn(ctx)
}

func (f *fakeRepo) id() int64 {
	f.nextID++
	return f.nextID
}

func (f *fakeRepo) CreateSeries(_ context.Context, s *domain.RecurrenceSeries) (int64, error) {
	cp := *s
	cp.ID = f.id()
	cp.SeriesVersion = 1
	f.series[cp.ID] = &cp
	return cp.ID, nil
}

func (f *fakeRepo) SeriesForUpdate(_ context.Context, id int64) (*domain.RecurrenceSeries, error) {
	s, ok := f.series[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeRepo) UpdateSeries(_ context.Context, s *domain.RecurrenceSeries) error {
	cur, ok := f.series[s.ID]
	if !ok {
		return repository.ErrNotFound
	}
	cp := *s
	cp.SeriesVersion = cur.SeriesVersion + 1
	f.series[s.ID] = &cp
	return nil
}

func (f *fakeRepo) ActiveOccurrencesFrom(_ context.Context, seriesID int64, fromDate string) ([]domain.Event, error) {
	var out []domain.Event
	for _, e := range f.events {
		if e.RecurrenceSeriesID == nil || *e.RecurrenceSeriesID != seriesID {
			continue
		}
		if e.OccurrenceStatus != domain.OccurrenceActive {
			continue
		}
		if e.OccurrenceDate == nil || *e.OccurrenceDate < fromDate {
			continue
		}
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		return *out[i].OccurrenceDate < *out[j].OccurrenceDate
	})
	return out, nil
}

func (f *fakeRepo) CreateEvent(_ context.Context, e *domain.Event) (int64, error) {
	cp := *e
	cp.ID = f.id()
	f.events[cp.ID] = &cp
	return cp.ID, nil
}

func (f *fakeRepo) EventForUpdate(_ context.Context, id int64) (*domain.Event, error) {
	e, ok := f.events[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (f *fakeRepo) UpdateEvent(_ context.Context, e *domain.Event) error {
	if _, ok := f.events[e.ID]; !ok {
		return repository.ErrNotFound
	}
	cp := *e
	f.events[e.ID] = &cp
	return nil
}

func (f *fakeRepo) CreateSlot(_ context.Context, s *domain.Slot) (int64, error) {
	cp := *s
	cp.ID = f.id()
	f.slots[cp.ID] = &cp
	return cp.ID, nil
}

func (f *fakeRepo) SlotsForUpdate(_ context.Context, eventID int64) ([]domain.Slot, error) {
	var out []domain.Slot
	for _, s := range f.slots {
		if s.EventID == eventID {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (f *fakeRepo) PrimarySlotForUpdate(_ context.Context, eventID int64) (*domain.Slot, error) {
	slots, _ := f.SlotsForUpdate(nil, eventID)
	if len(slots) == 0 {
		return nil, repository.ErrNotFound
	}
	return &slots[0], nil
}

func (f *fakeRepo) UpdateSlot(_ context.Context, slotID int64, start, end time.Time, capacity int) error {
	s, ok := f.slots[slotID]
	if !ok {
		return repository.ErrNotFound
	}
	s.Start, s.End, s.Capacity = start, end, capacity
	return nil
}

func (f *fakeRepo) BookedSpots(_ context.Context, slotID int64) (int, error) {
	total := 0
	for _, b := range f.bookings {
		if b.SlotID == slotID && b.Status == domain.BookingBooked {
			total += b.Spots
		}
	}
	return total, nil
}

func (f *fakeRepo) ActiveBookingCount(_ context.Context, slotID int64) (int64, error) {
	var n int64
	for _, b := range f.bookings {
		if b.SlotID == slotID && (b.Status == domain.BookingBooked || b.Status == domain.BookingWaitlist) {
			n++
		}
	}
	return n, nil
}

func (f *fakeRepo) CancelBookingsBySlots(_ context.Context, slotIDs []int64, now time.Time) (int64, error) {
	var n int64
	for _, b := range f.bookings {
		for _, id := range slotIDs {
			if b.SlotID == id && (b.Status == domain.BookingBooked || b.Status == domain.BookingWaitlist) {
				b.Status = domain.BookingCancelled
				b.UpdatedAt = now
				n++
			}
		}
	}
	return n, nil
}

func (f *fakeRepo) addBooking(slotID int64, spots int, status domain.BookingStatus) uuid.UUID {
	id := uuid.New()
	f.bookings[id] = &domain.Booking{
		ID: id, UserID: 99, SlotID: slotID, Spots: spots, Status: status,
	}
	return id
}

// eventsOf returns the series' events ordered by occurrence date.
func (f *fakeRepo) eventsOf(seriesID int64) []*domain.Event {
	var out []*domain.Event
	for _, e := range f.events {
		if e.RecurrenceSeriesID != nil && *e.RecurrenceSeriesID == seriesID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return *out[i].OccurrenceDate < *out[j].OccurrenceDate })
	return out
}

func (f *fakeRepo) slotOf(t *testing.T, eventID int64) *domain.Slot {
	t.Helper()
	for _, s := range f.slots {
		if s.EventID == eventID {
			return s
		}
	}
	t.Fatalf("no slot for event %d", eventID)
	return nil
}

var testNow = time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)

func newTestService(repo *fakeRepo) *Service {
	return New(repo, nil, nil, clock.NewFixed(testNow))
}

func weeklyInput() CreateInput {
	return CreateInput{
		Title:         "Morning Yoga",
		Description:   "Sun salutations",
		Location:      "Studio A",
		Category:      "fitness",
		Frequency:     domain.FrequencyWeekly,
		IntervalCount: 1,
		Weekdays:      []int{1, 3},
		StartDate:     "2024-01-01",
		UntilDate:     "2024-01-15",
		StartTime:     "09:00",
		EndTime:       "10:00",
		Capacity:      8,
		Timezone:      "UTC",
	}
}

func TestCreateMaterializesOccurrences(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)

	res, err := svc.Create(context.Background(), 1, weeklyInput())
	require.NoError(t, err)

	assert.Equal(t, 5, res.OccurrenceCount)
	assert.Equal(t, "2024-01-01", res.FirstDate)
	assert.Equal(t, "2024-01-15", res.LastDate)

	s := repo.series[res.SeriesID]
	require.NotNil(t, s)
	assert.Equal(t, 1, s.SeriesVersion)
	assert.Equal(t, "09:00:00", s.StartTime)

	events := repo.eventsOf(res.SeriesID)
	require.Len(t, events, 5)

	var dates []string
	for _, e := range events {
		dates = append(dates, e.Date)
		assert.Equal(t, domain.OccurrenceActive, e.OccurrenceStatus)
		assert.False(t, e.ModifiedFromSeries)

		slot := repo.slotOf(t, e.ID)
		assert.Equal(t, 8, slot.Capacity)
		assert.Equal(t, 9, slot.Start.Hour())
		assert.Equal(t, 10, slot.End.Hour())
		assert.Equal(t, e.Date, slot.Start.Format("2006-01-02"))
	}
	assert.Equal(t, []string{"2024-01-01", "2024-01-03", "2024-01-08", "2024-01-10", "2024-01-15"}, dates)
}

func TestCreateValidation(t *testing.T) {
	svc := newTestService(newFakeRepo())
	ctx := context.Background()

	in := weeklyInput()
	in.Capacity = 0
	_, err := svc.Create(ctx, 1, in)
	assert.ErrorIs(t, err, ErrInvalidCapacity)

	in = weeklyInput()
	in.StartTime = "10:00"
	in.EndTime = "09:00"
	_, err = svc.Create(ctx, 1, in)
	assert.ErrorIs(t, err, ErrInvalidTimeWindow)

	in = weeklyInput()
	in.StartDate = "2024-02-01"
	in.UntilDate = "2024-01-01"
	_, err = svc.Create(ctx, 1, in)
	assert.ErrorIs(t, err, recurrence.ErrStartAfterUntil)

	// A monthly rule anchored on the 31st over a month without one.
	in = weeklyInput()
	in.Frequency = domain.FrequencyMonthly
	in.Weekdays = nil
	in.StartDate = "2024-01-31"
	in.UntilDate = "2024-02-29"
	in.StartDate = "2024-02-01" // anchor day 1, but range ends before next month's 1st
	in.UntilDate = "2024-02-01"
	_, err = svc.Create(ctx, 1, in)
	require.NoError(t, err) // single occurrence on the anchor day itself

	in.StartDate = "2024-01-31"
	in.UntilDate = "2024-02-29"
	res, err := svc.Create(ctx, 1, in)
	require.NoError(t, err)
	assert.Equal(t, 1, res.OccurrenceCount) // only Jan 31, Feb has no 31st
}

func TestEditOccurrenceCancel(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	res, err := svc.Create(ctx, 1, weeklyInput())
	require.NoError(t, err)

	target := repo.eventsOf(res.SeriesID)[0]
	slot := repo.slotOf(t, target.ID)
	bID := repo.addBooking(slot.ID, 2, domain.BookingBooked)
	wID := repo.addBooking(slot.ID, 1, domain.BookingWaitlist)

	require.NoError(t, svc.EditOccurrence(ctx, 1, res.SeriesID, target.ID, ActionCancel, OccurrenceUpdate{}))

	ev := repo.events[target.ID]
	assert.Equal(t, domain.OccurrenceCancelled, ev.OccurrenceStatus)
	assert.True(t, ev.ModifiedFromSeries)

	// Both live bookings are cancelled with no undo window.
	assert.Equal(t, domain.BookingCancelled, repo.bookings[bID].Status)
	assert.Nil(t, repo.bookings[bID].CancelledAt)
	assert.Equal(t, domain.BookingCancelled, repo.bookings[wID].Status)
}

func TestEditOccurrenceUpdate(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	res, err := svc.Create(ctx, 1, weeklyInput())
	require.NoError(t, err)

	target := repo.eventsOf(res.SeriesID)[1]
	origOcc := *target.OccurrenceDate

	title := "Evening Yoga"
	startT := "18:00"
	endT := "19:30"
	capacity := 12
	require.NoError(t, svc.EditOccurrence(ctx, 1, res.SeriesID, target.ID, ActionUpdate, OccurrenceUpdate{
		Title:     &title,
		StartTime: &startT,
		EndTime:   &endT,
		Capacity:  &capacity,
	}))

	ev := repo.events[target.ID]
	assert.Equal(t, "Evening Yoga", ev.Title)
	assert.True(t, ev.ModifiedFromSeries)
	assert.Equal(t, origOcc, *ev.OccurrenceDate)

	slot := repo.slotOf(t, target.ID)
	assert.Equal(t, 18, slot.Start.Hour())
	assert.Equal(t, 12, slot.Capacity)
}

func TestEditOccurrenceGuards(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	res, err := svc.Create(ctx, 1, weeklyInput())
	require.NoError(t, err)
	target := repo.eventsOf(res.SeriesID)[0]

	err = svc.EditOccurrence(ctx, 2, res.SeriesID, target.ID, ActionCancel, OccurrenceUpdate{})
	assert.ErrorIs(t, err, ErrNotCreator)

	err = svc.EditOccurrence(ctx, 1, res.SeriesID, target.ID, "reschedule", OccurrenceUpdate{})
	assert.ErrorIs(t, err, ErrInvalidAction)

	err = svc.EditOccurrence(ctx, 1, res.SeriesID+1000, target.ID, ActionCancel, OccurrenceUpdate{})
	assert.ErrorIs(t, err, ErrSeriesNotFound)

	other, err := svc.Create(ctx, 1, weeklyInput())
	require.NoError(t, err)
	foreign := repo.eventsOf(other.SeriesID)[0]
	err = svc.EditOccurrence(ctx, 1, res.SeriesID, foreign.ID, ActionCancel, OccurrenceUpdate{})
	assert.ErrorIs(t, err, ErrNotInSeries)

	// Capacity cannot drop below booked spots.
	slot := repo.slotOf(t, target.ID)
	repo.addBooking(slot.ID, 4, domain.BookingBooked)
	three := 3
	err = svc.EditOccurrence(ctx, 1, res.SeriesID, target.ID, ActionUpdate, OccurrenceUpdate{Capacity: &three})
	assert.ErrorIs(t, err, ErrCapacityBelowBooked)

	badStart := "20:00"
	badEnd := "19:00"
	err = svc.EditOccurrence(ctx, 1, res.SeriesID, target.ID, ActionUpdate, OccurrenceUpdate{
		StartTime: &badStart, EndTime: &badEnd,
	})
	assert.ErrorIs(t, err, ErrInvalidTimeWindow)
}

func TestEditForwardPreservesBookedOccurrences(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	// Daily series, 4 occurrences: Jan 1..4.
	in := weeklyInput()
	in.Frequency = domain.FrequencyDaily
	in.Weekdays = nil
	in.StartDate = "2024-01-01"
	in.UntilDate = "2024-01-04"
	res, err := svc.Create(ctx, 1, in)
	require.NoError(t, err)
	require.Equal(t, 4, res.OccurrenceCount)

	events := repo.eventsOf(res.SeriesID)
	booked := events[1] // Jan 2 carries a live booking
	repo.addBooking(repo.slotOf(t, booked.ID).ID, 2, domain.BookingBooked)

	// New rule from Jan 1: every other day until Jan 5 -> Jan 1, 3, 5.
	two := 2
	until := "2024-01-05"
	capacity := 20
	fres, err := svc.EditForward(ctx, 1, res.SeriesID, "2024-01-01", ForwardChanges{
		IntervalCount: &two,
		UntilDate:     &until,
		Capacity:      &capacity,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, fres.PreservedWithBookings)
	assert.Equal(t, 3, fres.AppliedChanges)

	// Booked occurrence untouched.
	assert.Equal(t, "2024-01-02", repo.events[booked.ID].Date)
	assert.Equal(t, domain.OccurrenceActive, repo.events[booked.ID].OccurrenceStatus)
	assert.Equal(t, 8, repo.slotOf(t, booked.ID).Capacity)

	// The three reconcilable occurrences took the three new dates.
	var activeDates []string
	for _, e := range repo.eventsOf(res.SeriesID) {
		if e.OccurrenceStatus == domain.OccurrenceActive && e.ID != booked.ID {
			activeDates = append(activeDates, e.Date)
			assert.Equal(t, 20, repo.slotOf(t, e.ID).Capacity)
		}
	}
	sort.Strings(activeDates)
	assert.Equal(t, []string{"2024-01-01", "2024-01-03", "2024-01-05"}, activeDates)

	assert.Equal(t, 2, repo.series[res.SeriesID].SeriesVersion)
}

func TestEditForwardCancelsSurplusAndCreatesExtras(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	in := weeklyInput()
	in.Frequency = domain.FrequencyDaily
	in.Weekdays = nil
	in.StartDate = "2024-01-01"
	in.UntilDate = "2024-01-04"
	res, err := svc.Create(ctx, 1, in)
	require.NoError(t, err)

	// Shrink: only Jan 1 remains -> 3 surplus occurrences cancelled.
	until := "2024-01-01"
	fres, err := svc.EditForward(ctx, 1, res.SeriesID, "2024-01-01", ForwardChanges{UntilDate: &until})
	require.NoError(t, err)
	assert.Equal(t, 4, fres.AppliedChanges) // 1 remapped + 3 cancelled
	assert.Equal(t, 0, fres.PreservedWithBookings)

	active := 0
	for _, e := range repo.eventsOf(res.SeriesID) {
		if e.OccurrenceStatus == domain.OccurrenceActive {
			active++
		}
	}
	assert.Equal(t, 1, active)

	// Grow again: Jan 1..3 -> two freshly created occurrences.
	until = "2024-01-03"
	fres, err = svc.EditForward(ctx, 1, res.SeriesID, "2024-01-01", ForwardChanges{UntilDate: &until})
	require.NoError(t, err)
	assert.Equal(t, 3, fres.AppliedChanges) // 1 remapped + 2 created

	active = 0
	for _, e := range repo.eventsOf(res.SeriesID) {
		if e.OccurrenceStatus == domain.OccurrenceActive {
			active++
		}
	}
	assert.Equal(t, 3, active)
	assert.Equal(t, 3, repo.series[res.SeriesID].SeriesVersion)
}

func TestEditForwardSkipsModifiedOccurrences(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	in := weeklyInput()
	in.Frequency = domain.FrequencyDaily
	in.Weekdays = nil
	in.StartDate = "2024-01-01"
	in.UntilDate = "2024-01-03"
	res, err := svc.Create(ctx, 1, in)
	require.NoError(t, err)

	detached := repo.eventsOf(res.SeriesID)[0]
	title := "Special edition"
	require.NoError(t, svc.EditOccurrence(ctx, 1, res.SeriesID, detached.ID, ActionUpdate, OccurrenceUpdate{Title: &title}))

	capacity := 15
	_, err = svc.EditForward(ctx, 1, res.SeriesID, "2024-01-01", ForwardChanges{Capacity: &capacity})
	require.NoError(t, err)

	// The independently edited occurrence kept its own fields.
	assert.Equal(t, "Special edition", repo.events[detached.ID].Title)
	assert.Equal(t, 8, repo.slotOf(t, detached.ID).Capacity)
}

func TestDeleteCancelsFromDate(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	in := weeklyInput()
	in.Frequency = domain.FrequencyDaily
	in.Weekdays = nil
	in.StartDate = "2024-01-01"
	in.UntilDate = "2024-01-05"
	res, err := svc.Create(ctx, 1, in)
	require.NoError(t, err)

	events := repo.eventsOf(res.SeriesID)
	bID := repo.addBooking(repo.slotOf(t, events[3].ID).ID, 1, domain.BookingBooked)

	n, err := svc.Delete(ctx, 1, res.SeriesID, "2024-01-03")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	assert.Equal(t, domain.OccurrenceActive, repo.events[events[0].ID].OccurrenceStatus)
	assert.Equal(t, domain.OccurrenceActive, repo.events[events[1].ID].OccurrenceStatus)
	for _, e := range events[2:] {
		assert.Equal(t, domain.OccurrenceCancelled, repo.events[e.ID].OccurrenceStatus)
	}

	// Bookings on deleted occurrences go down with them.
	assert.Equal(t, domain.BookingCancelled, repo.bookings[bID].Status)

	_, err = svc.Delete(ctx, 2, res.SeriesID, "")
	assert.ErrorIs(t, err, ErrNotCreator)
}

type fakePublisher struct {
	mu        sync.Mutex
	published [][2]int64 // slotID, eventID pairs
}

func (p *fakePublisher) PublishSlotChanged(_ context.Context, slotID, eventID int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, [2]int64{slotID, eventID})
	return nil
}

func (p *fakePublisher) has(slotID, eventID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, pair := range p.published {
		if pair[0] == slotID && pair[1] == eventID {
			return true
		}
	}
	return false
}

func TestEditOccurrencePublishesSlotChanges(t *testing.T) {
	repo := newFakeRepo()
	pub := &fakePublisher{}
	svc := New(repo, nil, pub, clock.NewFixed(testNow))
	ctx := context.Background()

	res, err := svc.Create(ctx, 1, weeklyInput())
	require.NoError(t, err)
	require.Empty(t, pub.published)

	events := repo.eventsOf(res.SeriesID)
	first := repo.slotOf(t, events[0].ID)

	err = svc.EditOccurrence(ctx, 1, res.SeriesID, events[0].ID, ActionCancel, OccurrenceUpdate{})
	require.NoError(t, err)
	assert.True(t, pub.has(first.ID, events[0].ID))

	second := repo.slotOf(t, events[1].ID)
	title := "Extended session"
	err = svc.EditOccurrence(ctx, 1, res.SeriesID, events[1].ID, ActionUpdate, OccurrenceUpdate{Title: &title})
	require.NoError(t, err)
	assert.True(t, pub.has(second.ID, events[1].ID))
}

func TestDeletePublishesSlotChanges(t *testing.T) {
	repo := newFakeRepo()
	pub := &fakePublisher{}
	svc := New(repo, nil, pub, clock.NewFixed(testNow))
	ctx := context.Background()

	res, err := svc.Create(ctx, 1, weeklyInput())
	require.NoError(t, err)

	n, err := svc.Delete(ctx, 1, res.SeriesID, "2024-01-01")
	require.NoError(t, err)
	require.Equal(t, 5, n)

	for _, e := range repo.eventsOf(res.SeriesID) {
		assert.True(t, pub.has(repo.slotOf(t, e.ID).ID, e.ID))
	}
}

func TestEditForwardChangesTimezone(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	res, err := svc.Create(ctx, 1, weeklyInput())
	require.NoError(t, err)

	tz := "Europe/Madrid"
	_, err = svc.EditForward(ctx, 1, res.SeriesID, "2024-01-01", ForwardChanges{Timezone: &tz})
	require.NoError(t, err)

	s := repo.series[res.SeriesID]
	assert.Equal(t, "Europe/Madrid", s.Timezone)
	assert.Equal(t, 2, s.SeriesVersion)
}
