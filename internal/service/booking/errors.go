package booking

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrSlotNotFound is returned when the requested slot does not exist.
	ErrSlotNotFound = errors.New("slot not found")
	// ErrBookingNotFound is returned when the requested booking does not exist.
	ErrBookingNotFound = errors.New("booking not found")
	// ErrInvalidSpots is returned when the spot count is outside the allowed range.
	ErrInvalidSpots = errors.New("invalid number of spots")
	// ErrOverlapConflict is returned when the user already holds an active
	// booking whose slot overlaps the requested one in time.
	ErrOverlapConflict = errors.New("overlapping booking exists")
	// ErrDuplicateEventBooking is returned when the user already holds an
	// active booking for any slot of the same event.
	ErrDuplicateEventBooking = errors.New("event already booked")
	// ErrNotOwner is returned when the caller does not own the booking.
	ErrNotOwner = errors.New("booking belongs to another user")
	// ErrAlreadyCancelled is returned when cancelling a cancelled booking.
	ErrAlreadyCancelled = errors.New("booking already cancelled")
	// ErrNotCancelled is returned when undoing a booking that is not cancelled.
	ErrNotCancelled = errors.New("booking is not cancelled")
	// ErrUndoExpired is returned when the undo grace period has passed.
	ErrUndoExpired = errors.New("undo window expired")
	// ErrUndoCapacity is returned when the slot can no longer absorb the
	// restored booking.
	ErrUndoCapacity = errors.New("slot capacity exhausted since cancellation")
	// ErrUseFullCancellation is returned when a partial cancellation names
	// all (or more than) the booking's spots.
	ErrUseFullCancellation = errors.New("partial cancellation must leave at least one spot")
)

// NotEnoughSpotsError reports a request that neither fits the remaining
// capacity nor qualifies for the waitlist, because some capacity is still
// free. The caller may retry with fewer spots.
type NotEnoughSpotsError struct {
	Requested int
	Available int
}

func (e *NotEnoughSpotsError) Error() string {
	return fmt.Sprintf("requested %d spots, only %d available", e.Requested, e.Available)
}

// RateLimitedError reports that the caller exceeded the allocation rate
// limit. RetryAfter is the wait until the sliding window frees a seat.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry in %s", e.RetryAfter)
}
