package httpgin

type CreateBookingRequest struct {
	Spots int `json:"spots" binding:"required,gte=1,lte=5"`
}

type CreateBookingResponse struct {
	BookingID string `json:"booking_id"`
	Status    string `json:"status"`
}

type CreateEventRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
	Date        string `json:"date" binding:"required,datetime=2006-01-02"`
	Location    string `json:"location"`
	Category    string `json:"category"`
	StartTime   string `json:"start_time" binding:"required"`
	EndTime     string `json:"end_time" binding:"required"`
	Capacity    int    `json:"capacity" binding:"required,gt=0"`
}

type CreateEventResponse struct {
	EventID int64 `json:"event_id"`
}

type UpdateEventRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Date        *string `json:"date" binding:"omitempty,datetime=2006-01-02"`
	Location    *string `json:"location"`
	Category    *string `json:"category"`
	StartTime   *string `json:"start_time"`
	EndTime     *string `json:"end_time"`
	Capacity    *int    `json:"capacity" binding:"omitempty,gt=0"`
}

type AddSlotRequest struct {
	StartTime string `json:"start_time" binding:"required"`
	EndTime   string `json:"end_time" binding:"required"`
	Capacity  int    `json:"capacity" binding:"required,gt=0"`
}

type AddSlotResponse struct {
	SlotID int64 `json:"slot_id"`
}

type CreateSeriesRequest struct {
	Title         string `json:"title" binding:"required"`
	Description   string `json:"description"`
	Location      string `json:"location"`
	Category      string `json:"category"`
	Frequency     string `json:"frequency" binding:"required,oneof=daily weekly monthly"`
	IntervalCount int    `json:"interval_count" binding:"omitempty,gte=1"`
	Weekdays      []int  `json:"weekdays" binding:"omitempty,dive,gte=0,lte=7"`
	StartDate     string `json:"start_date" binding:"required,datetime=2006-01-02"`
	UntilDate     string `json:"until_date" binding:"required,datetime=2006-01-02"`
	StartTime     string `json:"start_time" binding:"required"`
	EndTime       string `json:"end_time" binding:"required"`
	Capacity      int    `json:"capacity" binding:"required,gt=0"`
	Timezone      string `json:"timezone"`
}

type CreateSeriesResponse struct {
	SeriesID        int64  `json:"series_id"`
	OccurrenceCount int    `json:"occurrence_count"`
	FirstDate       string `json:"first_date"`
	LastDate        string `json:"last_date"`
}

type EditOccurrenceRequest struct {
	Action      string  `json:"action" binding:"required,oneof=cancel update"`
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Location    *string `json:"location"`
	Category    *string `json:"category"`
	Date        *string `json:"date" binding:"omitempty,datetime=2006-01-02"`
	StartTime   *string `json:"start_time"`
	EndTime     *string `json:"end_time"`
	Capacity    *int    `json:"capacity" binding:"omitempty,gt=0"`
}

type EditSeriesForwardRequest struct {
	EffectiveDate string  `json:"effective_date" binding:"required,datetime=2006-01-02"`
	Title         *string `json:"title"`
	Description   *string `json:"description"`
	Location      *string `json:"location"`
	Category      *string `json:"category"`
	Frequency     *string `json:"frequency" binding:"omitempty,oneof=daily weekly monthly"`
	IntervalCount *int    `json:"interval_count" binding:"omitempty,gte=1"`
	Weekdays      *[]int  `json:"weekdays" binding:"omitempty,dive,gte=0,lte=7"`
	UntilDate     *string `json:"until_date" binding:"omitempty,datetime=2006-01-02"`
	StartTime     *string `json:"start_time"`
	EndTime       *string `json:"end_time"`
	Capacity      *int    `json:"capacity" binding:"omitempty,gt=0"`
	Timezone      *string `json:"timezone"`
}

type EditSeriesForwardResponse struct {
	AppliedChanges        int `json:"applied_changes"`
	PreservedWithBookings int `json:"preserved_with_bookings"`
}

type DeleteSeriesResponse struct {
	CancelledOccurrences int `json:"cancelled_occurrences"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
