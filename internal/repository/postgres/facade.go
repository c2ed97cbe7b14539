package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"

	"slotbook/internal/domain"
)

// Flat delegations so *Store satisfies the narrow interfaces each service
// declares, without the services knowing about repo families.

func (s *Store) SlotForUpdate(ctx context.Context, slotID int64) (*domain.Slot, error) {
	return s.Bookings().SlotForUpdate(ctx, slotID)
}

func (s *Store) BookedSpots(ctx context.Context, slotID int64) (int, error) {
	return s.Bookings().BookedSpots(ctx, slotID)
}

func (s *Store) HasOverlappingBooking(ctx context.Context, userID, slotID int64, start, end time.Time) (bool, error) {
	return s.Bookings().HasOverlappingBooking(ctx, userID, slotID, start, end)
}

func (s *Store) HasEventBooking(ctx context.Context, userID, eventID int64) (bool, error) {
	return s.Bookings().HasEventBooking(ctx, userID, eventID)
}

func (s *Store) InsertBooking(ctx context.Context, b *domain.Booking) error {
	return s.Bookings().Insert(ctx, b)
}

func (s *Store) BookingForUpdate(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	return s.Bookings().ForUpdate(ctx, id)
}

func (s *Store) UpdateBookingSpots(ctx context.Context, id uuid.UUID, spots int, now time.Time) error {
	return s.Bookings().UpdateSpots(ctx, id, spots, now)
}

func (s *Store) MarkBookingCancelled(ctx context.Context, id uuid.UUID, now time.Time) error {
	return s.Bookings().MarkCancelled(ctx, id, now)
}

func (s *Store) RestoreBooking(ctx context.Context, id uuid.UUID, now time.Time) error {
	return s.Bookings().Restore(ctx, id, now)
}

func (s *Store) WaitlistBookings(ctx context.Context, slotID int64) ([]domain.Booking, error) {
	return s.Bookings().Waitlist(ctx, slotID)
}

func (s *Store) PromoteBooking(ctx context.Context, id uuid.UUID, now time.Time) error {
	return s.Bookings().Promote(ctx, id, now)
}

func (s *Store) CancelBookingsBySlots(ctx context.Context, slotIDs []int64, now time.Time) (int64, error) {
	return s.Bookings().CancelActiveBySlots(ctx, slotIDs, now)
}

func (s *Store) ActiveBookingCount(ctx context.Context, slotID int64) (int64, error) {
	return s.Bookings().ActiveCountBySlot(ctx, slotID)
}

func (s *Store) CreateEvent(ctx context.Context, e *domain.Event) (int64, error) {
	return s.Events().Create(ctx, e)
}

func (s *Store) GetEvent(ctx context.Context, id int64) (*domain.Event, error) {
	return s.Events().Get(ctx, id)
}

func (s *Store) EventForUpdate(ctx context.Context, id int64) (*domain.Event, error) {
	return s.Events().ForUpdate(ctx, id)
}

func (s *Store) UpdateEvent(ctx context.Context, e *domain.Event) error {
	return s.Events().Update(ctx, e)
}

func (s *Store) DeleteEvent(ctx context.Context, id int64) error {
	return s.Events().Delete(ctx, id)
}

func (s *Store) CreateSlot(ctx context.Context, slot *domain.Slot) (int64, error) {
	return s.Events().CreateSlot(ctx, slot)
}

func (s *Store) SlotsForUpdate(ctx context.Context, eventID int64) ([]domain.Slot, error) {
	return s.Events().SlotsForUpdate(ctx, eventID)
}

func (s *Store) PrimarySlotForUpdate(ctx context.Context, eventID int64) (*domain.Slot, error) {
	return s.Events().PrimarySlotForUpdate(ctx, eventID)
}

func (s *Store) UpdateSlot(ctx context.Context, slotID int64, start, end time.Time, capacity int) error {
	return s.Events().UpdateSlot(ctx, slotID, start, end, capacity)
}

func (s *Store) CreateSeries(ctx context.Context, series *domain.RecurrenceSeries) (int64, error) {
	return s.Series().Create(ctx, series)
}

func (s *Store) SeriesForUpdate(ctx context.Context, id int64) (*domain.RecurrenceSeries, error) {
	return s.Series().ForUpdate(ctx, id)
}

func (s *Store) UpdateSeries(ctx context.Context, series *domain.RecurrenceSeries) error {
	return s.Series().Update(ctx, series)
}

func (s *Store) ActiveOccurrencesFrom(ctx context.Context, seriesID int64, fromDate string) ([]domain.Event, error) {
	return s.Series().ActiveOccurrencesFrom(ctx, seriesID, fromDate)
}

func (s *Store) InsertNotification(ctx context.Context, n *domain.Notification) error {
	return s.Notifications().Insert(ctx, n)
}

func (s *Store) ListNotifications(ctx context.Context, userID int64, limit int) ([]domain.Notification, error) {
	return s.Notifications().ListForUser(ctx, userID, limit)
}

func (s *Store) MarkNotificationRead(ctx context.Context, id uuid.UUID, userID int64) error {
	return s.Notifications().MarkRead(ctx, id, userID)
}

func (s *Store) SlotAvailability(ctx context.Context, slotID int64) (*domain.SlotAvailability, error) {
	return s.Query().SlotAvailability(ctx, slotID)
}

func (s *Store) EventWithSlots(ctx context.Context, eventID int64) (*domain.EventWithSlots, error) {
	return s.Query().EventWithSlots(ctx, eventID)
}

func (s *Store) ListEvents(ctx context.Context, f domain.EventFilter) ([]domain.EventListItem, error) {
	return s.Query().ListEvents(ctx, f)
}

func (s *Store) ListUserBookings(ctx context.Context, userID int64) ([]domain.BookingWithSlot, error) {
	return s.Query().ListUserBookings(ctx, userID)
}
