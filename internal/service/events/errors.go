package events

import "errors"

var (
	// ErrEventNotFound is returned when the event does not exist.
	ErrEventNotFound = errors.New("event not found")
	// ErrSlotNotFound is returned when the event has no slots.
	ErrSlotNotFound = errors.New("slot not found")
	// ErrNotCreator is returned when the caller may not manage the event.
	ErrNotCreator = errors.New("only the event creator may do this")
	// ErrInvalidCapacity is returned for a non-positive capacity.
	ErrInvalidCapacity = errors.New("capacity must be positive")
	// ErrCapacityBelowBooked is returned when lowering capacity under the
	// spots already booked.
	ErrCapacityBelowBooked = errors.New("capacity cannot drop below booked spots")
	// ErrInvalidTimeWindow is returned when start time is not before end time.
	ErrInvalidTimeWindow = errors.New("start time must be before end time")
	// ErrHasLiveBookings is returned when deleting an event that still has
	// booked or waitlisted bookings.
	ErrHasLiveBookings = errors.New("event has live bookings")
)
