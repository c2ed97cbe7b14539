package httpgin

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"slotbook/internal/domain"
	"slotbook/internal/recurrence"
	"slotbook/internal/repository/postgres"
	redisrepo "slotbook/internal/repository/redis"
	"slotbook/internal/service"
	"slotbook/internal/service/booking"
	"slotbook/internal/service/events"
	"slotbook/internal/service/query"
	"slotbook/internal/service/series"
)

func NewRouter(
	svcs *service.Services,
	idem *redisrepo.IdempotencyStore,
	logger *slog.Logger,
	authSecret string,
	middlewares ...gin.HandlerFunc,
) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery(), LoggingMiddleware(logger), RequestIDMiddleware(), CORS())
	for _, m := range middlewares {
		if m != nil {
			r.Use(m)
		}
	}

	// Swagger UI
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// health
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Public API
	r.GET("/events", handleListEvents(svcs))
	r.GET("/events/:id", handleGetEvent(svcs))
	r.GET("/slots/:id/availability", handleGetAvailability(svcs))

	// Authenticated API
	authd := r.Group("", AuthMiddleware(authSecret))
	{
		authd.POST("/events", handleCreateEvent(svcs))
		authd.PUT("/events/:id", handleUpdateEvent(svcs))
		authd.DELETE("/events/:id", handleDeleteEvent(svcs))
		authd.POST("/events/:id/slots", handleAddSlot(svcs))

		authd.POST("/slots/:id/bookings", handleCreateBooking(svcs, idem))
		authd.DELETE("/bookings/:id", handleCancelBooking(svcs))
		authd.POST("/bookings/:id/undo", handleUndoBooking(svcs))

		authd.GET("/me/bookings", handleMyBookings(svcs))
		authd.GET("/me/notifications", handleMyNotifications(svcs))
		authd.POST("/me/notifications/:id/read", handleMarkNotificationRead(svcs))

		authd.POST("/series", handleCreateSeries(svcs))
		authd.PUT("/series/:id", handleEditSeriesForward(svcs))
		authd.DELETE("/series/:id", handleDeleteSeries(svcs))
		authd.POST("/series/:id/occurrences/:eventID", handleEditOccurrence(svcs))
	}

	return r
}

// --- Handlers with Swagger annotations ---

// @Summary  List upcoming events
// @Param    limit   query  int     false "page size"
// @Param    offset  query  int     false "offset"
// @Param    search  query  string  false "match against title and description"
// @Param    sort    query  string  false "date (default) or smart"
// @Param    user_id query  int     false "rank events matching this user's preference tags first (smart sort)"
// @Success  200  {array}  domain.EventListItem
// @Router   /events [get]
func handleListEvents(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		f := domain.EventFilter{
			Search: strings.TrimSpace(c.Query("search")),
			UserID: int64(parseIntDefault(c.Query("user_id"), 0)),
			Smart:  c.Query("sort") == "smart",
			Limit:  parseIntDefault(c.Query("limit"), 50),
			Offset: parseIntDefault(c.Query("offset"), 0),
		}

		evs, err := svcs.Query.ListEvents(c.Request.Context(), f)
		if err != nil {
			respondErr(c, err)
			return
		}
		writeJSONWithCache(c, http.StatusOK, evs, "public, max-age=15", true)
	}
}

// @Summary  Get event with slots and availability
// @Param    id  path  int  true  "Event ID"
// @Success  200  {object}  domain.EventWithSlots
// @Failure  404  {object}  ErrorResponse
// @Router   /events/{id} [get]
func handleGetEvent(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		ev, err := svcs.Query.EventSummary(c.Request.Context(), eventID)
		if err != nil {
			respondErr(c, err)
			return
		}
		writeJSONWithCache(c, http.StatusOK, ev, "public, max-age=15", true)
	}
}

// @Summary  Get slot availability
// @Param    id  path  int  true  "Slot ID"
// @Success  200  {object}  domain.SlotAvailability
// @Failure  404  {object}  ErrorResponse
// @Router   /slots/{id}/availability [get]
func handleGetAvailability(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		slotID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		av, err := svcs.Query.SlotAvailability(c.Request.Context(), slotID)
		if err != nil {
			respondErr(c, err)
			return
		}
		writeJSONWithCache(c, http.StatusOK, av, "public, max-age=5", true)
	}
}

// @Summary  Book spots on a slot (idempotent)
// @Param    id  path  int  true  "Slot ID"
// @Param    req body  CreateBookingRequest true "payload"
// @Header   201 {string} Idempotency-Key "echo"
// @Success  201 {object} CreateBookingResponse "status booked or waitlist"
// @Failure  400 {object} ErrorResponse
// @Failure  409 {object} ErrorResponse "overlap / duplicate / partial fit"
// @Failure  429 {object} ErrorResponse "rate limited"
// @Router   /slots/{id}/bookings [post]
func handleCreateBooking(
	svcs *service.Services,
	idem *redisrepo.IdempotencyStore,
) gin.HandlerFunc {
	return func(c *gin.Context) {
		slotID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		var req CreateBookingRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		userID, _ := currentUser(c)

		idemKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
		var idemStorageKey string
		if idem != nil && idemKey != "" {
			idemStorageKey = redisrepo.KeyIdemBooking(slotID, idemKey)

			if payload, ok, _ := idem.GetResult(c.Request.Context(), idemStorageKey); ok {
				c.Header("Idempotency-Key", idemKey)
				c.Data(http.StatusCreated, "application/json; charset=utf-8", []byte(payload))
				return
			}

			locked, err := idem.AcquireLock(c.Request.Context(), idemStorageKey, 60*time.Second)
			if err != nil {
				respondErr(c, err)
				return
			}
			if !locked {
				if payload, ok, _ := idem.GetResult(c.Request.Context(), idemStorageKey); ok {
					c.Header("Idempotency-Key", idemKey)
					c.Data(http.StatusCreated, "application/json; charset=utf-8", []byte(payload))
					return
				}
				c.Header("Retry-After", "1")
				c.JSON(http.StatusConflict, ErrorResponse{Error: "idempotency key in progress"})
				return
			}
		}

		rlKey := "ip:" + c.ClientIP()

		res, err := svcs.Booking.Allocate(c.Request.Context(), userID, slotID, req.Spots, rlKey)
		if err != nil {
			if idemStorageKey != "" && idem != nil {
				_ = idem.Release(c.Request.Context(), idemStorageKey)
			}
			var rl *booking.RateLimitedError
			if errors.As(err, &rl) {
				c.Header("Retry-After", retryAfterSeconds(rl.RetryAfter))
				c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: rl.Error()})
				return
			}
			respondErr(c, err)
			return
		}

		resp := CreateBookingResponse{
			BookingID: res.BookingID.String(),
			Status:    string(res.Status),
		}

		if idemStorageKey != "" && idem != nil {
			b, _ := json.Marshal(resp)
			_ = idem.SaveResult(c.Request.Context(), idemStorageKey, string(b))
			c.Header("Idempotency-Key", idemKey)
		}

		c.JSON(http.StatusCreated, resp)
	}
}

// @Summary  Cancel a booking, fully or partially
// @Param    id     path   string  true  "Booking ID (uuid)"
// @Param    spots  query  int     false "spots to release; omit for full cancellation"
// @Success  200 {object} MessageResponse
// @Failure  403 {object} ErrorResponse
// @Failure  404 {object} ErrorResponse
// @Router   /bookings/{id} [delete]
func handleCancelBooking(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		bookingID, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}
		spots := parseIntDefault(c.Query("spots"), 0)

		userID, _ := currentUser(c)

		if err := svcs.Booking.Cancel(c.Request.Context(), userID, bookingID, spots); err != nil {
			respondErr(c, err)
			return
		}

		msg := "booking cancelled"
		if spots > 0 {
			msg = "spots released"
		}
		c.JSON(http.StatusOK, MessageResponse{Message: msg})
	}
}

// @Summary  Undo a cancellation within the grace window
// @Param    id  path  string  true  "Booking ID (uuid)"
// @Success  200 {object} MessageResponse
// @Failure  409 {object} ErrorResponse "window expired / capacity taken"
// @Router   /bookings/{id}/undo [post]
func handleUndoBooking(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		bookingID, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}

		userID, _ := currentUser(c)

		if err := svcs.Booking.Undo(c.Request.Context(), userID, bookingID); err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusOK, MessageResponse{Message: "booking restored"})
	}
}

// @Summary  List my bookings
// @Success  200 {array} domain.BookingWithSlot
// @Router   /me/bookings [get]
func handleMyBookings(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, _ := currentUser(c)

		bs, err := svcs.Query.UserBookings(c.Request.Context(), userID)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, bs)
	}
}

// @Summary  List my notifications
// @Param    limit  query  int  false "page size"
// @Success  200 {array} domain.Notification
// @Router   /me/notifications [get]
func handleMyNotifications(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, _ := currentUser(c)
		limit := parseIntDefault(c.Query("limit"), 50)

		ns, err := svcs.Query.UserNotifications(c.Request.Context(), userID, limit)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, ns)
	}
}

// @Summary  Mark a notification read
// @Param    id  path  string  true  "Notification ID (uuid)"
// @Success  200 {object} MessageResponse
// @Failure  404 {object} ErrorResponse
// @Router   /me/notifications/{id}/read [post]
func handleMarkNotificationRead(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}

		userID, _ := currentUser(c)

		if err := svcs.Query.MarkNotificationRead(c.Request.Context(), userID, id); err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, MessageResponse{Message: "marked read"})
	}
}

// @Summary  Create event with its first slot
// @Param    req body  CreateEventRequest true "payload"
// @Success  201 {object} CreateEventResponse
// @Router   /events [post]
func handleCreateEvent(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateEventRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		userID, _ := currentUser(c)

		id, err := svcs.Events.Create(c.Request.Context(), userID, events.CreateInput{
			Title:       req.Title,
			Description: req.Description,
			Date:        req.Date,
			Location:    req.Location,
			Category:    req.Category,
			StartTime:   req.StartTime,
			EndTime:     req.EndTime,
			Capacity:    req.Capacity,
		})
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, CreateEventResponse{EventID: id})
	}
}

// @Summary  Update event and primary slot
// @Param    id  path  int  true  "Event ID"
// @Param    req body  UpdateEventRequest true "payload"
// @Success  200 {object} MessageResponse
// @Failure  409 {object} ErrorResponse "capacity below booked"
// @Router   /events/{id} [put]
func handleUpdateEvent(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		var req UpdateEventRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		userID, role := currentUser(c)

		err := svcs.Events.Update(c.Request.Context(), userID, role, eventID, events.UpdateInput{
			Title:       req.Title,
			Description: req.Description,
			Date:        req.Date,
			Location:    req.Location,
			Category:    req.Category,
			StartTime:   req.StartTime,
			EndTime:     req.EndTime,
			Capacity:    req.Capacity,
		})
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, MessageResponse{Message: "event updated"})
	}
}

// @Summary  Delete event without live bookings
// @Param    id  path  int  true  "Event ID"
// @Success  200 {object} MessageResponse
// @Failure  409 {object} ErrorResponse "live bookings"
// @Router   /events/{id} [delete]
func handleDeleteEvent(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}

		userID, role := currentUser(c)

		if err := svcs.Events.Delete(c.Request.Context(), userID, role, eventID); err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, MessageResponse{Message: "event deleted"})
	}
}

// @Summary  Add a slot to an event
// @Param    id  path  int  true  "Event ID"
// @Param    req body  AddSlotRequest true "payload"
// @Success  201 {object} AddSlotResponse
// @Router   /events/{id}/slots [post]
func handleAddSlot(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		var req AddSlotRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		userID, role := currentUser(c)

		id, err := svcs.Events.AddSlot(
			c.Request.Context(),
			userID,
			role,
			eventID,
			req.StartTime,
			req.EndTime,
			req.Capacity,
		)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, AddSlotResponse{SlotID: id})
	}
}

// @Summary  Create recurring series
// @Param    req body  CreateSeriesRequest true "payload"
// @Success  201 {object} CreateSeriesResponse
// @Failure  400 {object} ErrorResponse "invalid rule"
// @Router   /series [post]
func handleCreateSeries(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateSeriesRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		userID, _ := currentUser(c)

		res, err := svcs.Series.Create(c.Request.Context(), userID, series.CreateInput{
			Title:         req.Title,
			Description:   req.Description,
			Location:      req.Location,
			Category:      req.Category,
			Frequency:     domain.Frequency(req.Frequency),
			IntervalCount: req.IntervalCount,
			Weekdays:      req.Weekdays,
			StartDate:     req.StartDate,
			UntilDate:     req.UntilDate,
			StartTime:     req.StartTime,
			EndTime:       req.EndTime,
			Capacity:      req.Capacity,
			Timezone:      req.Timezone,
		})
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, CreateSeriesResponse{
			SeriesID:        res.SeriesID,
			OccurrenceCount: res.OccurrenceCount,
			FirstDate:       res.FirstDate,
			LastDate:        res.LastDate,
		})
	}
}

// @Summary  Cancel or update a single occurrence
// @Param    id       path  int  true  "Series ID"
// @Param    eventID  path  int  true  "Occurrence event ID"
// @Param    req body  EditOccurrenceRequest true "payload"
// @Success  200 {object} MessageResponse
// @Failure  403 {object} ErrorResponse
// @Router   /series/{id}/occurrences/{eventID} [post]
func handleEditOccurrence(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		seriesID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		eventID, ok := parseInt64Param(c, "eventID")
		if !ok {
			return
		}
		var req EditOccurrenceRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		userID, _ := currentUser(c)

		err := svcs.Series.EditOccurrence(
			c.Request.Context(),
			userID,
			seriesID,
			eventID,
			req.Action,
			series.OccurrenceUpdate{
				Title:       req.Title,
				Description: req.Description,
				Location:    req.Location,
				Category:    req.Category,
				Date:        req.Date,
				StartTime:   req.StartTime,
				EndTime:     req.EndTime,
				Capacity:    req.Capacity,
			},
		)
		if err != nil {
			respondErr(c, err)
			return
		}

		msg := "occurrence updated"
		if req.Action == series.ActionCancel {
			msg = "occurrence cancelled"
		}
		c.JSON(http.StatusOK, MessageResponse{Message: msg})
	}
}

// @Summary  Edit series from a date onward
// @Param    id  path  int  true  "Series ID"
// @Param    req body  EditSeriesForwardRequest true "payload"
// @Success  200 {object} EditSeriesForwardResponse
// @Failure  403 {object} ErrorResponse
// @Router   /series/{id} [put]
func handleEditSeriesForward(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		seriesID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		var req EditSeriesForwardRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		userID, _ := currentUser(c)

		var freq *domain.Frequency
		if req.Frequency != nil {
			f := domain.Frequency(*req.Frequency)
			freq = &f
		}

		res, err := svcs.Series.EditForward(
			c.Request.Context(),
			userID,
			seriesID,
			req.EffectiveDate,
			series.ForwardChanges{
				Title:         req.Title,
				Description:   req.Description,
				Location:      req.Location,
				Category:      req.Category,
				Frequency:     freq,
				IntervalCount: req.IntervalCount,
				Weekdays:      req.Weekdays,
				UntilDate:     req.UntilDate,
				StartTime:     req.StartTime,
				EndTime:       req.EndTime,
				Capacity:      req.Capacity,
				Timezone:      req.Timezone,
			},
		)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, EditSeriesForwardResponse{
			AppliedChanges:        res.AppliedChanges,
			PreservedWithBookings: res.PreservedWithBookings,
		})
	}
}

// @Summary  Cancel series occurrences from a date onward
// @Param    id    path   int     true  "Series ID"
// @Param    from  query  string  false "YYYY-MM-DD, defaults to today"
// @Success  200 {object} DeleteSeriesResponse
// @Failure  403 {object} ErrorResponse
// @Router   /series/{id} [delete]
func handleDeleteSeries(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		seriesID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}

		userID, _ := currentUser(c)

		n, err := svcs.Series.Delete(c.Request.Context(), userID, seriesID, c.Query("from"))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, DeleteSeriesResponse{CancelledOccurrences: n})
	}
}

// --- Helpers ---

func parseInt64Param(c *gin.Context, name string) (int64, bool) {
	s := c.Param(name)
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return v, true
}

func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	v, err := uuid.Parse(c.Param(name))
	if err != nil {
		badRequest(c, "invalid "+name)
		return uuid.Nil, false
	}
	return v, true
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}

// retryAfterSeconds renders a duration as whole seconds for the
// Retry-After header, rounding sub-second waits up to 1.
func retryAfterSeconds(d time.Duration) string {
	secs := int(d / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

func respondErr(c *gin.Context, err error) {
	if err == nil {
		c.Status(http.StatusNoContent)
		return
	}

	var partialFit *booking.NotEnoughSpotsError
	if errors.As(err, &partialFit) {
		c.JSON(http.StatusConflict, ErrorResponse{Error: partialFit.Error()})
		return
	}

	switch {
	// booking service
	case errors.Is(err, booking.ErrSlotNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "slot not found"})
	case errors.Is(err, booking.ErrBookingNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "booking not found"})
	case errors.Is(err, booking.ErrInvalidSpots):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid number of spots"})
	case errors.Is(err, booking.ErrUseFullCancellation):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "partial cancellation must leave at least one spot"})
	case errors.Is(err, booking.ErrOverlapConflict):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "overlapping booking exists"})
	case errors.Is(err, booking.ErrDuplicateEventBooking):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "event already booked"})
	case errors.Is(err, booking.ErrAlreadyCancelled):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "booking already cancelled"})
	case errors.Is(err, booking.ErrNotCancelled):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "booking is not cancelled"})
	case errors.Is(err, booking.ErrUndoExpired):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "undo window expired"})
	case errors.Is(err, booking.ErrUndoCapacity):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "not enough capacity, still pending"})
	case errors.Is(err, booking.ErrNotOwner):
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "not your booking"})

	// series service
	case errors.Is(err, series.ErrSeriesNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "series not found"})
	case errors.Is(err, series.ErrEventNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "event not found"})
	case errors.Is(err, series.ErrNotInSeries):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "event does not belong to this series"})
	case errors.Is(err, series.ErrNotCreator):
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "only the series creator may do this"})
	case errors.Is(err, series.ErrOccurrenceCancelled):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "occurrence is cancelled"})
	case errors.Is(err, series.ErrCapacityBelowBooked):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "capacity cannot drop below booked spots"})
	case errors.Is(err, series.ErrInvalidCapacity),
		errors.Is(err, series.ErrInvalidTimeWindow),
		errors.Is(err, series.ErrInvalidAction):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: trimOp(err)})

	// events service
	case errors.Is(err, events.ErrEventNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "event not found"})
	case errors.Is(err, events.ErrSlotNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "slot not found"})
	case errors.Is(err, events.ErrNotCreator):
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "only the event creator may do this"})
	case errors.Is(err, events.ErrCapacityBelowBooked):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "capacity cannot drop below booked spots"})
	case errors.Is(err, events.ErrHasLiveBookings):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "event has live bookings"})
	case errors.Is(err, events.ErrInvalidCapacity),
		errors.Is(err, events.ErrInvalidTimeWindow):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: trimOp(err)})

	// query service
	case errors.Is(err, query.ErrEventNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "event not found"})
	case errors.Is(err, query.ErrSlotNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "slot not found"})
	case errors.Is(err, query.ErrNotificationNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "notification not found"})

	// recurrence rules
	case errors.Is(err, recurrence.ErrStartAfterUntil),
		errors.Is(err, recurrence.ErrTooManyOccurrences),
		errors.Is(err, recurrence.ErrInvalidDate),
		errors.Is(err, recurrence.ErrInvalidTime),
		errors.Is(err, recurrence.ErrInvalidFrequency),
		errors.Is(err, recurrence.ErrNoOccurrences):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: trimOp(err)})

	// serialization failures and deadlocks are safe to retry
	case postgres.IsRetryable(err):
		c.Header("Retry-After", "1")
		c.JSON(http.StatusConflict, ErrorResponse{Error: "transient conflict, retry"})

	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
}

// trimOp strips the "service.xxx.Op:" prefixes the services wrap errors
// with, leaving the human-readable tail for the response body.
func trimOp(err error) string {
	msg := err.Error()
	for {
		i := strings.Index(msg, ":")
		if i <= 0 {
			return msg
		}
		prefix := msg[:i]
		if strings.ContainsAny(prefix, " ,") || !strings.Contains(prefix, ".") {
			return msg
		}
		msg = strings.TrimSpace(msg[i+1:])
	}
}
