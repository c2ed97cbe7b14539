package postgres

import (
	"context"
	"fmt"

	"slotbook/internal/domain"
)

type QueryRepo struct {
	store *Store
}

// SlotAvailability computes the derived ledger view for one slot. Intended
// for reads outside a write transaction; allocators use
// BookingRepo.SlotForUpdate + BookedSpots instead.
//
// Returns:
//   - *domain.SlotAvailability: capacity, taken and remaining for the slot.
//   - error: repository.ErrNotFound if the slot does not exist.
func (r *QueryRepo) SlotAvailability(ctx context.Context, slotID int64) (*domain.SlotAvailability, error) {
	const op = "postgres.QueryRepo.SlotAvailability"

	var a domain.SlotAvailability
	err := r.store.db(ctx).QueryRow(ctx,
		`SELECT s.id, s.capacity,
		        COALESCE((SELECT SUM(b.spots) FROM bookings b
		                  WHERE b.slot_id = s.id AND b.status = 'booked'), 0)
		 FROM slots s
		 WHERE s.id = $1`,
		slotID,
	).Scan(&a.SlotID, &a.Capacity, &a.Taken)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	a.Remaining = a.Capacity - a.Taken

	return &a, nil
}

// EventWithSlots returns an event together with its slots and their derived
// availability.
func (r *QueryRepo) EventWithSlots(ctx context.Context, eventID int64) (*domain.EventWithSlots, error) {
	const op = "postgres.QueryRepo.EventWithSlots"

	var out domain.EventWithSlots
	err := r.store.db(ctx).QueryRow(ctx,
		`SELECT id, title, description, date::text, location, category, created_by,
		        recurrence_series_id, occurrence_date::text, occurrence_status, modified_from_series
		 FROM events
		 WHERE id = $1`,
		eventID,
	).Scan(&out.ID, &out.Title, &out.Description, &out.Date, &out.Location, &out.Category, &out.CreatedBy,
		&out.RecurrenceSeriesID, &out.OccurrenceDate, &out.OccurrenceStatus, &out.ModifiedFromSeries)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	rows, err := r.store.db(ctx).Query(ctx,
		`SELECT s.id, s.event_id, s.start_time, s.end_time, s.capacity,
		        COALESCE((SELECT SUM(b.spots) FROM bookings b
		                  WHERE b.slot_id = s.id AND b.status = 'booked'), 0) AS taken
		 FROM slots s
		 WHERE s.event_id = $1
		 ORDER BY s.start_time ASC`,
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer rows.Close()

	for rows.Next() {
		var s domain.SlotWithAvailability
		if err := rows.Scan(&s.ID, &s.EventID, &s.Start, &s.End, &s.Capacity, &s.Taken); err != nil {
			return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}
		s.Remaining = s.Capacity - s.Taken
		out.Slots = append(out.Slots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return &out, nil
}

// ListEvents returns upcoming active events with their total remaining
// capacity, optionally filtered by a title/description search. The default
// order is soonest first; the smart order ranks events matching one of the
// caller's preference tags first, then by date, then by availability.
func (r *QueryRepo) ListEvents(ctx context.Context, f domain.EventFilter) ([]domain.EventListItem, error) {
	const op = "postgres.QueryRepo.ListEvents"

	orderBy := `e.date ASC, e.id ASC`
	if f.Smart {
		orderBy = `preference_score DESC, e.date ASC, available DESC, e.id ASC`
	}

	rows, err := r.store.db(ctx).Query(ctx,
		`SELECT e.id, e.title, e.description, e.date::text, e.location, e.category, e.created_by,
		        e.recurrence_series_id, e.occurrence_date::text, e.occurrence_status, e.modified_from_series,
		        COALESCE(SUM(s.capacity) - SUM(COALESCE(b.taken, 0)), 0) AS available,
		        CASE
		            WHEN $2::bigint = 0 THEN 0
		            WHEN EXISTS (
		                SELECT 1 FROM users u, unnest(u.tags) AS tag
		                WHERE u.id = $2 AND LOWER(tag) = LOWER(COALESCE(e.category, ''))
		            ) THEN 1
		            ELSE 0
		        END AS preference_score
		 FROM events e
		 JOIN slots s ON s.event_id = e.id
		 LEFT JOIN LATERAL (
		     SELECT COALESCE(SUM(spots), 0) AS taken
		     FROM bookings WHERE slot_id = s.id AND status = 'booked'
		 ) b ON true
		 WHERE e.occurrence_status = 'active'
		   AND e.date >= CURRENT_DATE
		   AND ($1 = '' OR e.title ILIKE '%' || $1 || '%' OR e.description ILIKE '%' || $1 || '%')
		 GROUP BY e.id
		 ORDER BY `+orderBy+`
		 LIMIT $3 OFFSET $4`,
		f.Search, f.UserID, f.Limit, f.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer rows.Close()

	var out []domain.EventListItem
	for rows.Next() {
		var e domain.EventListItem
		if err := rows.Scan(&e.ID, &e.Title, &e.Description, &e.Date, &e.Location, &e.Category, &e.CreatedBy,
			&e.RecurrenceSeriesID, &e.OccurrenceDate, &e.OccurrenceStatus, &e.ModifiedFromSeries,
			&e.Available, &e.PreferenceScore); err != nil {
			return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}

// ListUserBookings returns a user's bookings newest first, joined with their
// slot and event for display.
func (r *QueryRepo) ListUserBookings(ctx context.Context, userID int64) ([]domain.BookingWithSlot, error) {
	const op = "postgres.QueryRepo.ListUserBookings"

	rows, err := r.store.db(ctx).Query(ctx,
		`SELECT b.id, b.user_id, b.slot_id, b.spots, b.status, b.cancelled_at, b.created_at, b.updated_at,
		        s.id, s.event_id, s.start_time, s.end_time, s.capacity,
		        e.id, e.title
		 FROM bookings b
		 JOIN slots s ON s.id = b.slot_id
		 JOIN events e ON e.id = s.event_id
		 WHERE b.user_id = $1
		 ORDER BY b.created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer rows.Close()

	var out []domain.BookingWithSlot
	for rows.Next() {
		var bw domain.BookingWithSlot
		if err := rows.Scan(
			&bw.Booking.ID, &bw.UserID, &bw.SlotID, &bw.Spots, &bw.Status, &bw.CancelledAt, &bw.CreatedAt, &bw.UpdatedAt,
			&bw.Slot.ID, &bw.Slot.EventID, &bw.Slot.Start, &bw.Slot.End, &bw.Slot.Capacity,
			&bw.EventID, &bw.EventTitle,
		); err != nil {
			return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}
		out = append(out, bw)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}
