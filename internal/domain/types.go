package domain

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

type BookingStatus string

const (
	BookingBooked    BookingStatus = "booked"
	BookingCancelled BookingStatus = "cancelled"
	BookingWaitlist  BookingStatus = "waitlist"
)

type OccurrenceStatus string

const (
	OccurrenceActive    OccurrenceStatus = "active"
	OccurrenceCancelled OccurrenceStatus = "cancelled"
)

type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// Spots per booking are bounded; requests outside this range are rejected
// before any capacity evaluation.
const (
	MinSpotsPerBooking = 1
	MaxSpotsPerBooking = 5
)

type User struct {
	ID        int64
	Email     string
	Name      string
	Role      Role
	Timezone  string
	Tags      []string
	CreatedAt time.Time
}

type Event struct {
	ID                 int64
	Title              string
	Description        string
	Date               string // YYYY-MM-DD
	Location           string
	Category           string
	CreatedBy          int64
	RecurrenceSeriesID *int64
	OccurrenceDate     *string
	OccurrenceStatus   OccurrenceStatus
	ModifiedFromSeries bool
}

// Slot capacity is a ceiling, never a live counter. Occupancy is always
// derived by summing booked spots inside the owning transaction.
type Slot struct {
	ID       int64
	EventID  int64
	Start    time.Time
	End      time.Time
	Capacity int
}

type Booking struct {
	ID          uuid.UUID
	UserID      int64
	SlotID      int64
	Spots       int
	Status      BookingStatus
	CancelledAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type RecurrenceSeries struct {
	ID            int64
	Title         string
	Description   string
	Location      string
	Category      string
	CreatedBy     int64
	Frequency     Frequency
	IntervalCount int
	Weekdays      []int // 0=Sunday..6=Saturday
	StartDate     string
	UntilDate     string
	StartTime     string // HH:MM:SS
	EndTime       string
	Capacity      int
	Timezone      string
	SeriesVersion int
}

const NotificationWaitlistPromoted = "waitlist_promoted"

type Notification struct {
	ID        uuid.UUID
	UserID    int64
	Type      string
	Payload   []byte // jsonb raw
	Read      bool
	CreatedAt time.Time
}

// SlotAvailability is the derived capacity ledger for one slot.
type SlotAvailability struct {
	SlotID    int64
	Capacity  int
	Taken     int
	Remaining int
}

type SlotWithAvailability struct {
	Slot
	Taken     int
	Remaining int
}

type EventWithSlots struct {
	Event
	Slots []SlotWithAvailability
}

// EventFilter narrows and orders the public event listing. UserID enables
// preference scoring against the user's tags; zero means anonymous.
type EventFilter struct {
	Search string
	UserID int64
	Smart  bool
	Limit  int
	Offset int
}

// EventListItem is one row of the event catalogue: the event, its total
// remaining capacity across slots, and whether its category matches one of
// the caller's preference tags.
type EventListItem struct {
	Event
	Available       int
	PreferenceScore int
}

type BookingWithSlot struct {
	Booking
	Slot       Slot
	EventID    int64
	EventTitle string
}
