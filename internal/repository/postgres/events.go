package postgres

import (
	"context"
	"fmt"
	"time"

	"slotbook/internal/domain"
	"slotbook/internal/repository"
)

type EventRepo struct {
	store *Store
}

func (r *EventRepo) Create(ctx context.Context, e *domain.Event) (int64, error) {
	const op = "postgres.EventRepo.Create"

	var id int64
	err := r.store.db(ctx).QueryRow(ctx,
		`INSERT INTO events (title, description, date, location, category, created_by,
		                     recurrence_series_id, occurrence_date, occurrence_status, modified_from_series)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING id`,
		e.Title, e.Description, e.Date, e.Location, e.Category, e.CreatedBy,
		e.RecurrenceSeriesID, e.OccurrenceDate, e.OccurrenceStatus, e.ModifiedFromSeries,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return id, nil
}

func (r *EventRepo) Get(ctx context.Context, id int64) (*domain.Event, error) {
	const op = "postgres.EventRepo.Get"

	var e domain.Event
	err := r.store.db(ctx).QueryRow(ctx,
		`SELECT id, title, description, date::text, location, category, created_by,
		        recurrence_series_id, occurrence_date::text, occurrence_status, modified_from_series
		 FROM events
		 WHERE id = $1`,
		id,
	).Scan(&e.ID, &e.Title, &e.Description, &e.Date, &e.Location, &e.Category, &e.CreatedBy,
		&e.RecurrenceSeriesID, &e.OccurrenceDate, &e.OccurrenceStatus, &e.ModifiedFromSeries)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return &e, nil
}

// ForUpdate loads an event under an exclusive row lock. Event-level
// operations lock the event row before evaluating booking predicates on its
// slots.
func (r *EventRepo) ForUpdate(ctx context.Context, id int64) (*domain.Event, error) {
	const op = "postgres.EventRepo.ForUpdate"

	var e domain.Event
	err := r.store.db(ctx).QueryRow(ctx,
		`SELECT id, title, description, date::text, location, category, created_by,
		        recurrence_series_id, occurrence_date::text, occurrence_status, modified_from_series
		 FROM events
		 WHERE id = $1
		 FOR UPDATE`,
		id,
	).Scan(&e.ID, &e.Title, &e.Description, &e.Date, &e.Location, &e.Category, &e.CreatedBy,
		&e.RecurrenceSeriesID, &e.OccurrenceDate, &e.OccurrenceStatus, &e.ModifiedFromSeries)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return &e, nil
}

// Update writes the event's mutable fields back.
func (r *EventRepo) Update(ctx context.Context, e *domain.Event) error {
	const op = "postgres.EventRepo.Update"

	_, err := r.store.db(ctx).Exec(ctx,
		`UPDATE events
		 SET title = $2, description = $3, date = $4, location = $5, category = $6,
		     occurrence_date = $7, occurrence_status = $8, modified_from_series = $9
		 WHERE id = $1`,
		e.ID, e.Title, e.Description, e.Date, e.Location, e.Category,
		e.OccurrenceDate, e.OccurrenceStatus, e.ModifiedFromSeries,
	)
	if err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return nil
}

func (r *EventRepo) Delete(ctx context.Context, id int64) error {
	const op = "postgres.EventRepo.Delete"

	tag, err := r.store.db(ctx).Exec(ctx, `DELETE FROM events WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}

	return nil
}

func (r *EventRepo) CreateSlot(ctx context.Context, s *domain.Slot) (int64, error) {
	const op = "postgres.EventRepo.CreateSlot"

	var id int64
	err := r.store.db(ctx).QueryRow(ctx,
		`INSERT INTO slots (event_id, start_time, end_time, capacity)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		s.EventID, s.Start, s.End, s.Capacity,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return id, nil
}

// SlotsForUpdate locks and returns all slots of an event.
func (r *EventRepo) SlotsForUpdate(ctx context.Context, eventID int64) ([]domain.Slot, error) {
	const op = "postgres.EventRepo.SlotsForUpdate"

	rows, err := r.store.db(ctx).Query(ctx,
		`SELECT id, event_id, start_time, end_time, capacity
		 FROM slots
		 WHERE event_id = $1
		 ORDER BY start_time ASC
		 FOR UPDATE`,
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer rows.Close()

	var out []domain.Slot
	for rows.Next() {
		var s domain.Slot
		if err := rows.Scan(&s.ID, &s.EventID, &s.Start, &s.End, &s.Capacity); err != nil {
			return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}

// PrimarySlotForUpdate locks and returns the event's earliest slot.
//
// Returns:
//   - error: repository.ErrNotFound if the event has no slots.
func (r *EventRepo) PrimarySlotForUpdate(ctx context.Context, eventID int64) (*domain.Slot, error) {
	const op = "postgres.EventRepo.PrimarySlotForUpdate"

	var s domain.Slot
	err := r.store.db(ctx).QueryRow(ctx,
		`SELECT id, event_id, start_time, end_time, capacity
		 FROM slots
		 WHERE event_id = $1
		 ORDER BY start_time ASC
		 LIMIT 1
		 FOR UPDATE`,
		eventID,
	).Scan(&s.ID, &s.EventID, &s.Start, &s.End, &s.Capacity)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return &s, nil
}

func (r *EventRepo) UpdateSlot(ctx context.Context, slotID int64, start, end time.Time, capacity int) error {
	const op = "postgres.EventRepo.UpdateSlot"

	_, err := r.store.db(ctx).Exec(ctx,
		`UPDATE slots SET start_time = $2, end_time = $3, capacity = $4 WHERE id = $1`,
		slotID, start, end, capacity,
	)
	if err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return nil
}
