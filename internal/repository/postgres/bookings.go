package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"slotbook/internal/domain"
)

type BookingRepo struct {
	store *Store
}

// SlotForUpdate loads a slot under an exclusive row lock. Every operation
// that reads-then-writes slot occupancy must go through this so concurrent
// allocators on the same slot serialize.
//
// Returns:
//   - *domain.Slot: the locked slot.
//   - error: repository.ErrNotFound if the slot does not exist.
func (r *BookingRepo) SlotForUpdate(ctx context.Context, slotID int64) (*domain.Slot, error) {
	const op = "postgres.BookingRepo.SlotForUpdate"

	var s domain.Slot
	err := r.store.db(ctx).QueryRow(ctx,
		`SELECT id, event_id, start_time, end_time, capacity
		 FROM slots
		 WHERE id = $1
		 FOR UPDATE`,
		slotID,
	).Scan(&s.ID, &s.EventID, &s.Start, &s.End, &s.Capacity)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return &s, nil
}

// BookedSpots computes the derived occupancy of a slot: the sum of spots over
// bookings with status 'booked'. Must be called after SlotForUpdate within
// the same transaction.
func (r *BookingRepo) BookedSpots(ctx context.Context, slotID int64) (int, error) {
	const op = "postgres.BookingRepo.BookedSpots"

	var taken int
	err := r.store.db(ctx).QueryRow(ctx,
		`SELECT COALESCE(SUM(spots), 0)
		 FROM bookings
		 WHERE slot_id = $1 AND status = 'booked'`,
		slotID,
	).Scan(&taken)
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return taken, nil
}

// HasOverlappingBooking reports whether the user already holds a booked
// booking on another slot whose time window overlaps [start, end).
func (r *BookingRepo) HasOverlappingBooking(
	ctx context.Context,
	userID, slotID int64,
	start, end time.Time,
) (bool, error) {
	const op = "postgres.BookingRepo.HasOverlappingBooking"

	var exists bool
	err := r.store.db(ctx).QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1
			FROM bookings b
			JOIN slots s ON s.id = b.slot_id
			WHERE b.user_id = $1
			  AND b.status = 'booked'
			  AND s.id <> $2
			  AND s.start_time < $4
			  AND s.end_time > $3
		 )`,
		userID, slotID, start, end,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return exists, nil
}

// HasEventBooking reports whether the user already holds a booked booking on
// any slot of the event.
func (r *BookingRepo) HasEventBooking(ctx context.Context, userID, eventID int64) (bool, error) {
	const op = "postgres.BookingRepo.HasEventBooking"

	var exists bool
	err := r.store.db(ctx).QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1
			FROM bookings b
			JOIN slots s ON s.id = b.slot_id
			WHERE b.user_id = $1
			  AND b.status = 'booked'
			  AND s.event_id = $2
		 )`,
		userID, eventID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return exists, nil
}

func (r *BookingRepo) Insert(ctx context.Context, b *domain.Booking) error {
	const op = "postgres.BookingRepo.Insert"

	_, err := r.store.db(ctx).Exec(ctx,
		`INSERT INTO bookings (id, user_id, slot_id, spots, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $6)`,
		b.ID, b.UserID, b.SlotID, b.Spots, b.Status, b.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return nil
}

// ForUpdate loads a booking under an exclusive row lock.
func (r *BookingRepo) ForUpdate(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	const op = "postgres.BookingRepo.ForUpdate"

	var b domain.Booking
	err := r.store.db(ctx).QueryRow(ctx,
		`SELECT id, user_id, slot_id, spots, status, cancelled_at, created_at, updated_at
		 FROM bookings
		 WHERE id = $1
		 FOR UPDATE`,
		id,
	).Scan(&b.ID, &b.UserID, &b.SlotID, &b.Spots, &b.Status, &b.CancelledAt, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return &b, nil
}

func (r *BookingRepo) UpdateSpots(ctx context.Context, id uuid.UUID, spots int, now time.Time) error {
	const op = "postgres.BookingRepo.UpdateSpots"

	_, err := r.store.db(ctx).Exec(ctx,
		`UPDATE bookings SET spots = $2, updated_at = $3 WHERE id = $1`,
		id, spots, now,
	)
	if err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return nil
}

// MarkCancelled performs a full cancellation: status 'cancelled' and the
// cancelled_at anchor for the undo window.
func (r *BookingRepo) MarkCancelled(ctx context.Context, id uuid.UUID, now time.Time) error {
	const op = "postgres.BookingRepo.MarkCancelled"

	_, err := r.store.db(ctx).Exec(ctx,
		`UPDATE bookings
		 SET status = 'cancelled', cancelled_at = $2, updated_at = $2
		 WHERE id = $1`,
		id, now,
	)
	if err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return nil
}

// Restore reverses a full cancellation: status back to 'booked' and the
// undo anchor cleared.
func (r *BookingRepo) Restore(ctx context.Context, id uuid.UUID, now time.Time) error {
	const op = "postgres.BookingRepo.Restore"

	_, err := r.store.db(ctx).Exec(ctx,
		`UPDATE bookings
		 SET status = 'booked', cancelled_at = NULL, updated_at = $2
		 WHERE id = $1`,
		id, now,
	)
	if err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return nil
}

// Waitlist returns the slot's waitlisted bookings in FIFO order by creation
// time, locked for promotion.
func (r *BookingRepo) Waitlist(ctx context.Context, slotID int64) ([]domain.Booking, error) {
	const op = "postgres.BookingRepo.Waitlist"

	rows, err := r.store.db(ctx).Query(ctx,
		`SELECT id, user_id, slot_id, spots, status, cancelled_at, created_at, updated_at
		 FROM bookings
		 WHERE slot_id = $1 AND status = 'waitlist'
		 ORDER BY created_at ASC
		 FOR UPDATE`,
		slotID,
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer rows.Close()

	var out []domain.Booking
	for rows.Next() {
		var b domain.Booking
		if err := rows.Scan(&b.ID, &b.UserID, &b.SlotID, &b.Spots, &b.Status, &b.CancelledAt, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}

// Promote flips a waitlisted booking to 'booked'.
func (r *BookingRepo) Promote(ctx context.Context, id uuid.UUID, now time.Time) error {
	const op = "postgres.BookingRepo.Promote"

	_, err := r.store.db(ctx).Exec(ctx,
		`UPDATE bookings
		 SET status = 'booked', updated_at = $2
		 WHERE id = $1 AND status = 'waitlist'`,
		id, now,
	)
	if err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return nil
}

// CancelActiveBySlots cancels every booked or waitlisted booking on the given
// slots. Used by series-driven occurrence cancellations; cancelled_at stays
// NULL so these cancellations are not undoable.
func (r *BookingRepo) CancelActiveBySlots(ctx context.Context, slotIDs []int64, now time.Time) (int64, error) {
	const op = "postgres.BookingRepo.CancelActiveBySlots"

	if len(slotIDs) == 0 {
		return 0, nil
	}

	tag, err := r.store.db(ctx).Exec(ctx,
		`UPDATE bookings
		 SET status = 'cancelled', updated_at = $2
		 WHERE slot_id = ANY($1) AND status IN ('booked', 'waitlist')`,
		slotIDs, now,
	)
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return tag.RowsAffected(), nil
}

// ActiveCountBySlot counts live (booked or waitlisted) bookings on a slot.
func (r *BookingRepo) ActiveCountBySlot(ctx context.Context, slotID int64) (int64, error) {
	const op = "postgres.BookingRepo.ActiveCountBySlot"

	var n int64
	err := r.store.db(ctx).QueryRow(ctx,
		`SELECT COUNT(*)
		 FROM bookings
		 WHERE slot_id = $1 AND status IN ('booked', 'waitlist')`,
		slotID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return n, nil
}
