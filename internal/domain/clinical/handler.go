package clinical

import (
	"errors"
	"net/http"

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

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Chart access – clinicians only
	g := api.Group("", auth.RequireRole("dentist", "hygienist"))
	g.POST("/patients/:id/notes", h.CreateNote)
	g.GET("/patients/:id/notes", h.ListNotes)
	g.GET("/notes/:id", h.GetNote)
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, ErrNoteNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "note not found")
	case errors.Is(err, ErrPatientNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	case errors.Is(err, ErrInvalid):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

type notePayload struct {
	ProviderID uuid.UUID  `json:"provider_id"`
	BookingID  *uuid.UUID `json:"booking_id"`
	Amends     *uuid.UUID `json:"amends_id"`
	Kind       Kind       `json:"kind"`
	Tooth      *string    `json:"tooth"`
	Body       string     `json:"body"`
}

func (h *Handler) CreateNote(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	var body notePayload
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := c.Request().Context()
	n := &Note{
		PatientID:  patientID,
		ProviderID: body.ProviderID,
		BookingID:  body.BookingID,
		Amends:     body.Amends,
		Kind:       body.Kind,
		Tooth:      body.Tooth,
		Body:       body.Body,
		AuthorID:   auth.UserIDFromContext(ctx),
	}
	if err := h.svc.CreateNote(ctx, n); err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, n)
}

func (h *Handler) GetNote(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	n, err := h.svc.GetNote(c.Request().Context(), id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, n)
}

func (h *Handler) ListNotes(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	var f NoteFilter
	if raw := c.QueryParam("kind"); raw != "" {
		k := Kind(raw)
		if !k.Valid() {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid kind")
		}
		f.Kind = &k
	}
	if raw := c.QueryParam("booking_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid booking_id")
		}
		f.BookingID = &id
	}

	pg := pagination.FromContext(c)
	notes, total, err := h.svc.ListPatientNotes(c.Request().Context(), patientID, f, pg.Limit, pg.Offset)
	if err != nil {
		return toHTTPError(err)
	}
	if notes == nil {
		notes = []*Note{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(notes, total, pg.Limit, pg.Offset))
}
