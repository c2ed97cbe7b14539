package postgres

import (
	"context"
	"fmt"

	"slotbook/internal/domain"
)

type SeriesRepo struct {
	store *Store
}

func weekdaysToInt32(weekdays []int) []int32 {
	out := make([]int32, len(weekdays))
	for i, v := range weekdays {
		out[i] = int32(v)
	}
	return out
}

func weekdaysFromInt32(weekdays []int32) []int {
	out := make([]int, len(weekdays))
	for i, v := range weekdays {
		out[i] = int(v)
	}
	return out
}

func (r *SeriesRepo) Create(ctx context.Context, s *domain.RecurrenceSeries) (int64, error) {
	const op = "postgres.SeriesRepo.Create"

	var id int64
	err := r.store.db(ctx).QueryRow(ctx,
		`INSERT INTO recurrence_series (title, description, location, category, created_by,
		                                frequency, interval_count, weekdays, start_date, until_date,
		                                start_time, end_time, capacity, timezone, series_version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, 1)
		 RETURNING id`,
		s.Title, s.Description, s.Location, s.Category, s.CreatedBy,
		s.Frequency, s.IntervalCount, weekdaysToInt32(s.Weekdays), s.StartDate, s.UntilDate,
		s.StartTime, s.EndTime, s.Capacity, s.Timezone,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return id, nil
}

// ForUpdate loads a series under an exclusive row lock. Forward edits and
// deletions lock the series row first so a racing edit cannot interleave.
func (r *SeriesRepo) ForUpdate(ctx context.Context, id int64) (*domain.RecurrenceSeries, error) {
	const op = "postgres.SeriesRepo.ForUpdate"

	var s domain.RecurrenceSeries
	var weekdays []int32
	err := r.store.db(ctx).QueryRow(ctx,
		`SELECT id, title, description, location, category, created_by,
		        frequency, interval_count, weekdays, start_date::text, until_date::text,
		        start_time::text, end_time::text, capacity, timezone, series_version
		 FROM recurrence_series
		 WHERE id = $1
		 FOR UPDATE`,
		id,
	).Scan(&s.ID, &s.Title, &s.Description, &s.Location, &s.Category, &s.CreatedBy,
		&s.Frequency, &s.IntervalCount, &weekdays, &s.StartDate, &s.UntilDate,
		&s.StartTime, &s.EndTime, &s.Capacity, &s.Timezone, &s.SeriesVersion)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	s.Weekdays = weekdaysFromInt32(weekdays)

	return &s, nil
}

// Update writes the rule fields back and bumps series_version.
func (r *SeriesRepo) Update(ctx context.Context, s *domain.RecurrenceSeries) error {
	const op = "postgres.SeriesRepo.Update"

	_, err := r.store.db(ctx).Exec(ctx,
		`UPDATE recurrence_series
		 SET title = $2, description = $3, location = $4, category = $5,
		     frequency = $6, interval_count = $7, weekdays = $8,
		     until_date = $9, start_time = $10, end_time = $11,
		     capacity = $12, timezone = $13,
		     series_version = series_version + 1,
		     updated_at = NOW()
		 WHERE id = $1`,
		s.ID, s.Title, s.Description, s.Location, s.Category,
		s.Frequency, s.IntervalCount, weekdaysToInt32(s.Weekdays),
		s.UntilDate, s.StartTime, s.EndTime,
		s.Capacity, s.Timezone,
	)
	if err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return nil
}

// ActiveOccurrencesFrom locks and returns the series' active occurrences
// with occurrence_date >= fromDate, ordered by occurrence date.
func (r *SeriesRepo) ActiveOccurrencesFrom(ctx context.Context, seriesID int64, fromDate string) ([]domain.Event, error) {
	const op = "postgres.SeriesRepo.ActiveOccurrencesFrom"

	rows, err := r.store.db(ctx).Query(ctx,
		`SELECT id, title, description, date::text, location, category, created_by,
		        recurrence_series_id, occurrence_date::text, occurrence_status, modified_from_series
		 FROM events
		 WHERE recurrence_series_id = $1
		   AND occurrence_status = 'active'
		   AND occurrence_date >= $2
		 ORDER BY occurrence_date ASC
		 FOR UPDATE`,
		seriesID, fromDate,
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer rows.Close()

	var out []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.Title, &e.Description, &e.Date, &e.Location, &e.Category, &e.CreatedBy,
			&e.RecurrenceSeriesID, &e.OccurrenceDate, &e.OccurrenceStatus, &e.ModifiedFromSeries); err != nil {
			return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}
