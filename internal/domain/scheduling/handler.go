package scheduling

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/dentaldesk/dentaldesk/internal/platform/auth"
	"github.com/dentaldesk/dentaldesk/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the staff routes on api and the unauthenticated
// booking form on public.
func (h *Handler) RegisterRoutes(api *echo.Group, public *echo.Group) {
	// Read endpoints – front desk and clinicians
	readGroup := api.Group("", auth.RequireRole("dentist", "hygienist", "receptionist"))
	readGroup.GET("/appointment-types", h.ListAppointmentTypes)
	readGroup.GET("/providers/:id/availability", h.GetAvailability)
	readGroup.GET("/bookings", h.ListBookings)
	readGroup.GET("/bookings/:id", h.GetBooking)

	// Write endpoints – front desk and clinicians
	writeGroup := api.Group("", auth.RequireRole("dentist", "hygienist", "receptionist"))
	writeGroup.POST("/bookings", h.CreateBooking)
	writeGroup.POST("/bookings/:id/cancel", h.CancelBooking)

	// Outcome of a visit – clinicians only
	clinicalGroup := api.Group("", auth.RequireRole("dentist", "hygienist"))
	clinicalGroup.POST("/bookings/:id/complete", h.CompleteBooking)
	clinicalGroup.POST("/bookings/:id/no-show", h.MarkNoShow)

	if public != nil {
		public.GET("/availability", h.PublicAvailability)
		public.POST("/bookings", h.PublicCreateBooking)
	}
}

// bookingPayload is the wire form of a booking request. Date and time are
// strings so malformed values surface as field errors.
type bookingPayload struct {
	ProviderID      string `json:"provider_id"`
	PatientID       string `json:"patient_id"`
	Date            string `json:"date"`
	StartTime       string `json:"start_time"`
	AppointmentType string `json:"appointment_type"`
	DurationMinutes int    `json:"duration_minutes"`
	Notes           string `json:"notes"`
	RequestToken    string `json:"request_token"`
}

func (p bookingPayload) toRequest() (BookingRequest, error) {
	var req BookingRequest
	var err error
	if req.ProviderID, err = parseUUIDField("provider_id", p.ProviderID); err != nil {
		return req, err
	}
	if req.PatientID, err = parseUUIDField("patient_id", p.PatientID); err != nil {
		return req, err
	}
	if req.Date, err = parseDateField(p.Date); err != nil {
		return req, err
	}
	if strings.TrimSpace(p.StartTime) == "" {
		return req, invalid("start_time", "is required")
	}
	if req.StartTime, err = ParseClock(p.StartTime); err != nil {
		return req, invalid("start_time", "must be HH:MM")
	}
	req.AppointmentType = p.AppointmentType
	req.DurationMinutes = p.DurationMinutes
	req.Notes = p.Notes
	req.RequestToken = p.RequestToken
	return req, nil
}

func parseUUIDField(field, raw string) (uuid.UUID, error) {
	if strings.TrimSpace(raw) == "" {
		return uuid.Nil, invalid(field, "is required")
	}
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, invalid(field, "must be a UUID")
	}
	return id, nil
}

func parseDateField(raw string) (civil.Date, error) {
	if strings.TrimSpace(raw) == "" {
		return civil.Date{}, invalid("date", "is required")
	}
	d, err := civil.ParseDate(strings.TrimSpace(raw))
	if err != nil {
		return civil.Date{}, invalid("date", "must be YYYY-MM-DD")
	}
	return d, nil
}

// toHTTPError maps scheduling errors to status codes. Transient failures set
// Retry-After.
func toHTTPError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, ErrBookingNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "booking not found")
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrTransient):
		c.Response().Header().Set("Retry-After", "1")
		return echo.NewHTTPError(http.StatusServiceUnavailable, "booking store unavailable, retry shortly")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

// -- Appointment types --

func (h *Handler) ListAppointmentTypes(c echo.Context) error {
	items, err := h.svc.ListAppointmentTypes(c.Request().Context())
	if err != nil {
		return toHTTPError(c, err)
	}
	if items == nil {
		items = []*AppointmentType{}
	}
	return c.JSON(http.StatusOK, items)
}

// -- Availability --

// availabilityResponse always carries a slots array, empty on error.
type availabilityResponse struct {
	ProviderID      string   `json:"provider_id,omitempty"`
	Date            string   `json:"date,omitempty"`
	DurationMinutes int      `json:"duration_minutes,omitempty"`
	Slots           []string `json:"slots"`
	Error           string   `json:"error,omitempty"`
}

func (h *Handler) GetAvailability(c echo.Context) error {
	return h.availability(c, c.Param("id"))
}

func (h *Handler) PublicAvailability(c echo.Context) error {
	return h.availability(c, c.QueryParam("provider_id"))
}

func (h *Handler) availability(c echo.Context, rawProvider string) error {
	q, err := availabilityQuery(c, rawProvider)
	if err == nil {
		var a *Availability
		if a, err = h.svc.Availability(c.Request().Context(), q); err == nil {
			resp := availabilityResponse{
				ProviderID:      a.ProviderID.String(),
				Date:            a.Date.String(),
				DurationMinutes: a.DurationMinutes,
				Slots:           make([]string, len(a.Slots)),
			}
			for i, s := range a.Slots {
				resp.Slots[i] = FormatClock(s)
			}
			return c.JSON(http.StatusOK, resp)
		}
	}

	httpErr := toHTTPError(c, err).(*echo.HTTPError)
	msg, _ := httpErr.Message.(string)
	return c.JSON(httpErr.Code, availabilityResponse{Slots: []string{}, Error: msg})
}

func availabilityQuery(c echo.Context, rawProvider string) (AvailabilityQuery, error) {
	var q AvailabilityQuery
	var err error
	if q.ProviderID, err = parseUUIDField("provider_id", rawProvider); err != nil {
		return q, err
	}
	if q.Date, err = parseDateField(c.QueryParam("date")); err != nil {
		return q, err
	}
	q.AppointmentType = c.QueryParam("type")
	if raw := c.QueryParam("duration"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return q, invalid("duration", "must be a positive number of minutes")
		}
		q.DurationMinutes = n
	}
	return q, nil
}

// -- Booking commit --

func (h *Handler) CreateBooking(c echo.Context) error {
	return h.createBooking(c, false)
}

// PublicCreateBooking is the patient-facing form; it requires a request
// token so resubmits cannot double-book.
func (h *Handler) PublicCreateBooking(c echo.Context) error {
	return h.createBooking(c, true)
}

func (h *Handler) createBooking(c echo.Context, requireToken bool) error {
	var p bookingPayload
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if requireToken && strings.TrimSpace(p.RequestToken) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "request_token: is required")
	}
	req, err := p.toRequest()
	if err != nil {
		return toHTTPError(c, err)
	}
	commit, err := h.svc.CommitBooking(c.Request().Context(), req)
	if err != nil {
		return toHTTPError(c, err)
	}
	if commit.Replayed {
		return c.JSON(http.StatusOK, commit.Booking)
	}
	return c.JSON(http.StatusCreated, commit.Booking)
}

// -- Reads --

func (h *Handler) GetBooking(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	b, err := h.svc.GetBooking(c.Request().Context(), id)
	if err != nil {
		return toHTTPError(c, err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) ListBookings(c echo.Context) error {
	ctx := c.Request().Context()
	if raw := c.QueryParam("patient_id"); raw != "" {
		patientID, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		pg := pagination.FromContext(c)
		items, total, err := h.svc.ListPatientBookings(ctx, patientID, pg.Limit, pg.Offset)
		if err != nil {
			return toHTTPError(c, err)
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
	}

	providerID, err := parseUUIDField("provider_id", c.QueryParam("provider_id"))
	if err != nil {
		return toHTTPError(c, err)
	}
	date, err := parseDateField(c.QueryParam("date"))
	if err != nil {
		return toHTTPError(c, err)
	}
	items, err := h.svc.ListProviderDay(ctx, providerID, date)
	if err != nil {
		return toHTTPError(c, err)
	}
	if items == nil {
		items = []*Booking{}
	}
	return c.JSON(http.StatusOK, items)
}

// -- Status transitions --

func (h *Handler) CancelBooking(c echo.Context) error {
	return h.transition(c, StatusCancelled)
}

func (h *Handler) CompleteBooking(c echo.Context) error {
	return h.transition(c, StatusCompleted)
}

func (h *Handler) MarkNoShow(c echo.Context) error {
	return h.transition(c, StatusNoShow)
}

func (h *Handler) transition(c echo.Context, to Status) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	b, err := h.svc.Transition(c.Request().Context(), id, to)
	if err != nil {
		return toHTTPError(c, err)
	}
	return c.JSON(http.StatusOK, b)
}
