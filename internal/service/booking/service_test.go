package booking

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slotbook/internal/domain"
	"slotbook/internal/repository"
)

// fakeRepo is an in-memory Repository. WithTx serializes callers under a
// single mutex, which models the slot row lock closely enough for the
// concurrency tests: two allocations can never interleave.
type fakeRepo struct {
	mu            sync.Mutex
	slots         map[int64]*domain.Slot
	bookings      map[uuid.UUID]*domain.Booking
	order         []uuid.UUID // insertion order, FIFO tie-break
	notifications []domain.Notification
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		slots:    make(map[int64]*domain.Slot),
		bookings: make(map[uuid.UUID]*domain.Booking),
	}
}

func (f *fakeRepo) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fn(ctx)
}

func (f *fakeRepo) addSlot(id, eventID int64, start, end time.Time, capacity int) {
	f.slots[id] = &domain.Slot{ID: id, EventID: eventID, Start: start, End: end, Capacity: capacity}
}

func (f *fakeRepo) addBooking(b domain.Booking) {
	cp := b
	f.bookings[b.ID] = &cp
	f.order = append(f.order, b.ID)
}

func (f *fakeRepo) SlotForUpdate(_ context.Context, slotID int64) (*domain.Slot, error) {
	s, ok := f.slots[slotID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *s
	return &cp, nil
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

func (f *fakeRepo) HasOverlappingBooking(_ context.Context, userID, slotID int64, start, end time.Time) (bool, error) {
	for _, b := range f.bookings {
		if b.UserID != userID || b.SlotID == slotID {
			continue
		}
		// only confirmed bookings conflict, waitlist entries do not
		if b.Status != domain.BookingBooked {
			continue
		}
		s := f.slots[b.SlotID]
		if s != nil && s.Start.Before(end) && s.End.After(start) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRepo) HasEventBooking(_ context.Context, userID, eventID int64) (bool, error) {
	for _, b := range f.bookings {
		if b.UserID != userID {
			continue
		}
		if b.Status != domain.BookingBooked {
			continue
		}
		if s := f.slots[b.SlotID]; s != nil && s.EventID == eventID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRepo) InsertBooking(_ context.Context, b *domain.Booking) error {
	f.addBooking(*b)
	return nil
}

func (f *fakeRepo) BookingForUpdate(_ context.Context, id uuid.UUID) (*domain.Booking, error) {
	b, ok := f.bookings[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (f *fakeRepo) UpdateBookingSpots(_ context.Context, id uuid.UUID, spots int, now time.Time) error {
	b, ok := f.bookings[id]
	if !ok {
		return repository.ErrNotFound
	}
	b.Spots = spots
	b.UpdatedAt = now
	return nil
}

func (f *fakeRepo) MarkBookingCancelled(_ context.Context, id uuid.UUID, now time.Time) error {
	b, ok := f.bookings[id]
	if !ok {
		return repository.ErrNotFound
	}
	b.Status = domain.BookingCancelled
	t := now
	b.CancelledAt = &t
	b.UpdatedAt = now
	return nil
}

func (f *fakeRepo) RestoreBooking(_ context.Context, id uuid.UUID, now time.Time) error {
	b, ok := f.bookings[id]
	if !ok {
		return repository.ErrNotFound
	}
	b.Status = domain.BookingBooked
	b.CancelledAt = nil
	b.UpdatedAt = now
	return nil
}

func (f *fakeRepo) WaitlistBookings(_ context.Context, slotID int64) ([]domain.Booking, error) {
	var out []domain.Booking
	for _, id := range f.order {
		b := f.bookings[id]
		if b.SlotID == slotID && b.Status == domain.BookingWaitlist {
			out = append(out, *b)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (f *fakeRepo) PromoteBooking(_ context.Context, id uuid.UUID, now time.Time) error {
	b, ok := f.bookings[id]
	if !ok {
		return repository.ErrNotFound
	}
	b.Status = domain.BookingBooked
	b.UpdatedAt = now
	return nil
}

func (f *fakeRepo) InsertNotification(_ context.Context, n *domain.Notification) error {
	f.notifications = append(f.notifications, *n)
	return nil
}

// testClock is a settable clock. Each Now advances it by a second so
// consecutive bookings get distinct arrival times.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock(t time.Time) *testClock {
	return &testClock{t: t}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.t
	c.t = c.t.Add(time.Second)
	return now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

var baseTime = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

func newTestService(repo *fakeRepo, clk *testClock) *Service {
	return New(repo, nil, nil, nil, clk)
}

func slotWindow(h int) (time.Time, time.Time) {
	start := time.Date(2024, 6, 10, h, 0, 0, 0, time.UTC)
	return start, start.Add(time.Hour)
}

func TestAllocateBooksWhenCapacityFits(t *testing.T) {
	repo := newFakeRepo()
	start, end := slotWindow(10)
	repo.addSlot(1, 100, start, end, 10)

	svc := newTestService(repo, newTestClock(baseTime))

	res, err := svc.Allocate(context.Background(), 1, 1, 3, "")
	require.NoError(t, err)
	assert.Equal(t, domain.BookingBooked, res.Status)

	b := repo.bookings[res.BookingID]
	require.NotNil(t, b)
	assert.Equal(t, 3, b.Spots)
	assert.Nil(t, b.CancelledAt)
}

func TestAllocateWaitlistsWhenSlotFull(t *testing.T) {
	repo := newFakeRepo()
	start, end := slotWindow(10)
	repo.addSlot(1, 100, start, end, 4)

	svc := newTestService(repo, newTestClock(baseTime))

	res, err := svc.Allocate(context.Background(), 1, 1, 4, "")
	require.NoError(t, err)
	require.Equal(t, domain.BookingBooked, res.Status)

	res2, err := svc.Allocate(context.Background(), 2, 1, 2, "")
	require.NoError(t, err)
	assert.Equal(t, domain.BookingWaitlist, res2.Status)
}

func TestAllocateRejectsPartialFit(t *testing.T) {
	repo := newFakeRepo()
	start, end := slotWindow(10)
	repo.addSlot(1, 100, start, end, 5)

	svc := newTestService(repo, newTestClock(baseTime))

	_, err := svc.Allocate(context.Background(), 1, 1, 3, "")
	require.NoError(t, err)

	// 2 spots left, 4 requested: rejected, not waitlisted.
	_, err = svc.Allocate(context.Background(), 2, 1, 4, "")
	var nes *NotEnoughSpotsError
	require.ErrorAs(t, err, &nes)
	assert.Equal(t, 4, nes.Requested)
	assert.Equal(t, 2, nes.Available)

	for _, b := range repo.bookings {
		assert.NotEqual(t, domain.BookingWaitlist, b.Status)
	}
}

func TestAllocateValidatesSpots(t *testing.T) {
	repo := newFakeRepo()
	start, end := slotWindow(10)
	repo.addSlot(1, 100, start, end, 10)

	svc := newTestService(repo, newTestClock(baseTime))

	_, err := svc.Allocate(context.Background(), 1, 1, 0, "")
	assert.ErrorIs(t, err, ErrInvalidSpots)

	_, err = svc.Allocate(context.Background(), 1, 1, domain.MaxSpotsPerBooking+1, "")
	assert.ErrorIs(t, err, ErrInvalidSpots)
}

func TestAllocateSlotNotFound(t *testing.T) {
	svc := newTestService(newFakeRepo(), newTestClock(baseTime))

	_, err := svc.Allocate(context.Background(), 1, 42, 1, "")
	assert.ErrorIs(t, err, ErrSlotNotFound)
}

func TestAllocateRejectsOverlap(t *testing.T) {
	repo := newFakeRepo()
	repo.addSlot(1, 100,
		time.Date(2024, 6, 10, 10, 0, 0, 0, time.UTC),
		time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC), 10)
	repo.addSlot(2, 200,
		time.Date(2024, 6, 10, 11, 0, 0, 0, time.UTC),
		time.Date(2024, 6, 10, 13, 0, 0, 0, time.UTC), 10)

	svc := newTestService(repo, newTestClock(baseTime))

	_, err := svc.Allocate(context.Background(), 1, 1, 1, "")
	require.NoError(t, err)

	_, err = svc.Allocate(context.Background(), 1, 2, 1, "")
	assert.ErrorIs(t, err, ErrOverlapConflict)

	// A different user is unaffected.
	_, err = svc.Allocate(context.Background(), 2, 2, 1, "")
	assert.NoError(t, err)
}

func TestAllocateRejectsSecondSlotOfSameEvent(t *testing.T) {
	repo := newFakeRepo()
	repo.addSlot(1, 100,
		time.Date(2024, 6, 10, 10, 0, 0, 0, time.UTC),
		time.Date(2024, 6, 10, 11, 0, 0, 0, time.UTC), 10)
	repo.addSlot(2, 100,
		time.Date(2024, 6, 10, 14, 0, 0, 0, time.UTC),
		time.Date(2024, 6, 10, 15, 0, 0, 0, time.UTC), 10)

	svc := newTestService(repo, newTestClock(baseTime))

	_, err := svc.Allocate(context.Background(), 1, 1, 1, "")
	require.NoError(t, err)

	_, err = svc.Allocate(context.Background(), 1, 2, 1, "")
	assert.ErrorIs(t, err, ErrDuplicateEventBooking)
}

func TestWaitlistedBookingDoesNotBlock(t *testing.T) {
	repo := newFakeRepo()
	// full slot, so user 1's request lands on the waitlist
	repo.addSlot(1, 100,
		time.Date(2024, 6, 10, 10, 0, 0, 0, time.UTC),
		time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC), 2)
	// overlaps slot 1 in time
	repo.addSlot(2, 200,
		time.Date(2024, 6, 10, 11, 0, 0, 0, time.UTC),
		time.Date(2024, 6, 10, 13, 0, 0, 0, time.UTC), 10)
	// same event as slot 1, later in the day
	repo.addSlot(3, 100,
		time.Date(2024, 6, 10, 14, 0, 0, 0, time.UTC),
		time.Date(2024, 6, 10, 15, 0, 0, 0, time.UTC), 10)

	svc := newTestService(repo, newTestClock(baseTime))

	_, err := svc.Allocate(context.Background(), 2, 1, 2, "")
	require.NoError(t, err)

	res, err := svc.Allocate(context.Background(), 1, 1, 2, "")
	require.NoError(t, err)
	require.Equal(t, domain.BookingWaitlist, res.Status)

	// a waitlist entry holds no spots, so it neither overlaps in time
	// nor counts as already booking the event
	res2, err := svc.Allocate(context.Background(), 1, 2, 1, "")
	require.NoError(t, err)
	assert.Equal(t, domain.BookingBooked, res2.Status)

	_, err = svc.Allocate(context.Background(), 1, 3, 1, "")
	assert.NoError(t, err)
}

type fakeLimiter struct {
	allowed    bool
	retryAfter time.Duration
}

func (l *fakeLimiter) Allow(_ context.Context, _ string) (bool, int64, time.Duration, error) {
	return l.allowed, 0, l.retryAfter, nil
}

func TestAllocateRateLimited(t *testing.T) {
	repo := newFakeRepo()
	start, end := slotWindow(10)
	repo.addSlot(1, 100, start, end, 10)

	svc := New(repo, nil, nil, &fakeLimiter{retryAfter: 30 * time.Second}, newTestClock(baseTime))

	_, err := svc.Allocate(context.Background(), 1, 1, 1, "ip:10.0.0.1")
	var rl *RateLimitedError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 30*time.Second, rl.RetryAfter)

	// no booking row must exist for a throttled request
	assert.Empty(t, repo.bookings)
}

func TestCancelPromotesWaitlistFirstFit(t *testing.T) {
	repo := newFakeRepo()
	start, end := slotWindow(10)
	repo.addSlot(1, 100, start, end, 5)

	clk := newTestClock(baseTime)
	svc := newTestService(repo, clk)
	ctx := context.Background()

	res, err := svc.Allocate(ctx, 1, 1, 5, "")
	require.NoError(t, err)
	require.Equal(t, domain.BookingBooked, res.Status)

	// Waitlist, in arrival order: 3, 4, 2 spots.
	w1, err := svc.Allocate(ctx, 2, 1, 3, "")
	require.NoError(t, err)
	w2, err := svc.Allocate(ctx, 3, 1, 4, "")
	require.NoError(t, err)
	w3, err := svc.Allocate(ctx, 4, 1, 2, "")
	require.NoError(t, err)

	require.NoError(t, svc.Cancel(ctx, 1, res.BookingID, 0))

	// 5 freed: w1 takes 3, w2 (4) does not fit the remaining 2 and is
	// skipped, w3 takes the rest.
	assert.Equal(t, domain.BookingBooked, repo.bookings[w1.BookingID].Status)
	assert.Equal(t, domain.BookingWaitlist, repo.bookings[w2.BookingID].Status)
	assert.Equal(t, domain.BookingBooked, repo.bookings[w3.BookingID].Status)

	require.Len(t, repo.notifications, 2)
	assert.Equal(t, domain.NotificationWaitlistPromoted, repo.notifications[0].Type)
	assert.Equal(t, int64(2), repo.notifications[0].UserID)
	assert.Equal(t, int64(4), repo.notifications[1].UserID)
}

func TestCancelPartialKeepsBookingActive(t *testing.T) {
	repo := newFakeRepo()
	start, end := slotWindow(10)
	repo.addSlot(1, 100, start, end, 4)

	svc := newTestService(repo, newTestClock(baseTime))
	ctx := context.Background()

	res, err := svc.Allocate(ctx, 1, 1, 4, "")
	require.NoError(t, err)

	w, err := svc.Allocate(ctx, 2, 1, 2, "")
	require.NoError(t, err)
	require.Equal(t, domain.BookingWaitlist, w.Status)

	require.NoError(t, svc.Cancel(ctx, 1, res.BookingID, 2))

	b := repo.bookings[res.BookingID]
	assert.Equal(t, domain.BookingBooked, b.Status)
	assert.Equal(t, 2, b.Spots)
	assert.Nil(t, b.CancelledAt)

	assert.Equal(t, domain.BookingBooked, repo.bookings[w.BookingID].Status)

	// Partial cancellations never open an undo window.
	err = svc.Undo(ctx, 1, res.BookingID)
	assert.ErrorIs(t, err, ErrNotCancelled)
}

func TestCancelPartialMustLeaveSpots(t *testing.T) {
	repo := newFakeRepo()
	start, end := slotWindow(10)
	repo.addSlot(1, 100, start, end, 10)

	svc := newTestService(repo, newTestClock(baseTime))
	ctx := context.Background()

	res, err := svc.Allocate(ctx, 1, 1, 2, "")
	require.NoError(t, err)

	err = svc.Cancel(ctx, 1, res.BookingID, 2)
	assert.ErrorIs(t, err, ErrUseFullCancellation)

	err = svc.Cancel(ctx, 1, res.BookingID, -1)
	assert.ErrorIs(t, err, ErrInvalidSpots)
}

func TestCancelOwnershipAndState(t *testing.T) {
	repo := newFakeRepo()
	start, end := slotWindow(10)
	repo.addSlot(1, 100, start, end, 10)

	svc := newTestService(repo, newTestClock(baseTime))
	ctx := context.Background()

	res, err := svc.Allocate(ctx, 1, 1, 1, "")
	require.NoError(t, err)

	err = svc.Cancel(ctx, 2, res.BookingID, 0)
	assert.ErrorIs(t, err, ErrNotOwner)

	require.NoError(t, svc.Cancel(ctx, 1, res.BookingID, 0))

	err = svc.Cancel(ctx, 1, res.BookingID, 0)
	assert.ErrorIs(t, err, ErrAlreadyCancelled)

	err = svc.Cancel(ctx, 1, uuid.New(), 0)
	assert.ErrorIs(t, err, ErrBookingNotFound)
}

func TestUndoRestoresWithinGracePeriod(t *testing.T) {
	repo := newFakeRepo()
	start, end := slotWindow(10)
	repo.addSlot(1, 100, start, end, 10)

	clk := newTestClock(baseTime)
	svc := newTestService(repo, clk)
	ctx := context.Background()

	res, err := svc.Allocate(ctx, 1, 1, 3, "")
	require.NoError(t, err)
	require.NoError(t, svc.Cancel(ctx, 1, res.BookingID, 0))

	clk.Advance(23 * time.Hour)

	require.NoError(t, svc.Undo(ctx, 1, res.BookingID))

	b := repo.bookings[res.BookingID]
	assert.Equal(t, domain.BookingBooked, b.Status)
	assert.Nil(t, b.CancelledAt)
}

func TestUndoExpiresAfterGracePeriod(t *testing.T) {
	repo := newFakeRepo()
	start, end := slotWindow(10)
	repo.addSlot(1, 100, start, end, 10)

	clk := newTestClock(baseTime)
	svc := newTestService(repo, clk)
	ctx := context.Background()

	res, err := svc.Allocate(ctx, 1, 1, 1, "")
	require.NoError(t, err)
	require.NoError(t, svc.Cancel(ctx, 1, res.BookingID, 0))

	clk.Advance(25 * time.Hour)

	err = svc.Undo(ctx, 1, res.BookingID)
	assert.ErrorIs(t, err, ErrUndoExpired)
	assert.Equal(t, domain.BookingCancelled, repo.bookings[res.BookingID].Status)
}

func TestUndoFailsWhenCapacityTaken(t *testing.T) {
	repo := newFakeRepo()
	start, end := slotWindow(10)
	repo.addSlot(1, 100, start, end, 2)

	clk := newTestClock(baseTime)
	svc := newTestService(repo, clk)
	ctx := context.Background()

	res, err := svc.Allocate(ctx, 1, 1, 2, "")
	require.NoError(t, err)
	require.NoError(t, svc.Cancel(ctx, 1, res.BookingID, 0))

	// Someone else grabs the freed capacity before the undo.
	taken, err := svc.Allocate(ctx, 2, 1, 2, "")
	require.NoError(t, err)
	require.Equal(t, domain.BookingBooked, taken.Status)

	err = svc.Undo(ctx, 1, res.BookingID)
	assert.ErrorIs(t, err, ErrUndoCapacity)

	// Still cancelled, still undoable once capacity frees up again.
	require.NoError(t, svc.Cancel(ctx, 2, taken.BookingID, 0))
	require.NoError(t, svc.Undo(ctx, 1, res.BookingID))
	assert.Equal(t, domain.BookingBooked, repo.bookings[res.BookingID].Status)
}

func TestUndoOwnershipAndState(t *testing.T) {
	repo := newFakeRepo()
	start, end := slotWindow(10)
	repo.addSlot(1, 100, start, end, 10)

	svc := newTestService(repo, newTestClock(baseTime))
	ctx := context.Background()

	res, err := svc.Allocate(ctx, 1, 1, 1, "")
	require.NoError(t, err)

	err = svc.Undo(ctx, 1, res.BookingID)
	assert.ErrorIs(t, err, ErrNotCancelled)

	require.NoError(t, svc.Cancel(ctx, 1, res.BookingID, 0))

	err = svc.Undo(ctx, 2, res.BookingID)
	assert.ErrorIs(t, err, ErrNotOwner)

	err = svc.Undo(ctx, 1, uuid.New())
	assert.ErrorIs(t, err, ErrBookingNotFound)
}

func TestConcurrentAllocateSingleWinner(t *testing.T) {
	repo := newFakeRepo()
	start, end := slotWindow(10)
	repo.addSlot(1, 100, start, end, 1)

	svc := newTestService(repo, newTestClock(baseTime))

	const n = 20
	results := make([]Result, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.Allocate(context.Background(), int64(i+1), 1, 1, "")
		}(i)
	}
	wg.Wait()

	booked, waitlisted := 0, 0
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i], fmt.Sprintf("request %d", i))
		switch results[i].Status {
		case domain.BookingBooked:
			booked++
		case domain.BookingWaitlist:
			waitlisted++
		}
	}

	assert.Equal(t, 1, booked)
	assert.Equal(t, n-1, waitlisted)

	total, err := repo.BookedSpots(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}
