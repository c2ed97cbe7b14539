package series

import "errors"

var (
	// ErrSeriesNotFound is returned when the series does not exist.
	ErrSeriesNotFound = errors.New("series not found")
	// ErrEventNotFound is returned when the occurrence does not exist.
	ErrEventNotFound = errors.New("event not found")
	// ErrNotCreator is returned when the caller did not create the series.
	ErrNotCreator = errors.New("only the series creator may do this")
	// ErrNotInSeries is returned when the event does not belong to the series.
	ErrNotInSeries = errors.New("event does not belong to this series")
	// ErrOccurrenceCancelled is returned when editing a cancelled occurrence.
	ErrOccurrenceCancelled = errors.New("occurrence is cancelled")
	// ErrInvalidCapacity is returned for a non-positive capacity.
	ErrInvalidCapacity = errors.New("capacity must be positive")
	// ErrCapacityBelowBooked is returned when lowering capacity under the
	// spots already booked.
	ErrCapacityBelowBooked = errors.New("capacity cannot drop below booked spots")
	// ErrInvalidTimeWindow is returned when start time is not before end time.
	ErrInvalidTimeWindow = errors.New("start time must be before end time")
	// ErrInvalidAction is returned for an unknown occurrence edit action.
	ErrInvalidAction = errors.New("unknown action, use cancel or update")
)
