package identity

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

// RegisterRoutes mounts staff routes on api and the bookable-provider
// directory on public.
func (h *Handler) RegisterRoutes(api *echo.Group, public *echo.Group) {
	// Read endpoints – front desk and clinicians
	readGroup := api.Group("", auth.RequireRole("dentist", "hygienist", "receptionist"))
	readGroup.GET("/patients", h.SearchPatients)
	readGroup.GET("/patients/:id", h.GetPatient)
	readGroup.GET("/providers", h.ListProviders)
	readGroup.GET("/providers/:id", h.GetProvider)

	// Write endpoints – admin, receptionist
	writeGroup := api.Group("", auth.RequireRole("receptionist"))
	writeGroup.POST("/patients", h.CreatePatient)
	writeGroup.PUT("/patients/:id", h.UpdatePatient)
	writeGroup.DELETE("/patients/:id", h.DeactivatePatient)
	writeGroup.POST("/providers", h.CreateProvider)
	writeGroup.PUT("/providers/:id", h.UpdateProvider)
	writeGroup.DELETE("/providers/:id", h.DeactivateProvider)

	if public != nil {
		public.GET("/providers", h.PublicProviders)
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, ErrPatientNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	case errors.Is(err, ErrProviderNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "provider not found")
	case errors.Is(err, ErrInvalid):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func parseBoolQuery(c echo.Context, name string) (*bool, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return &v, nil
}

// -- Patient Handlers --

type patientPayload struct {
	FirstName string      `json:"first_name"`
	LastName  string      `json:"last_name"`
	BirthDate *civil.Date `json:"birth_date"`
	Phone     *string     `json:"phone"`
	Email     *string     `json:"email"`
	Active    *bool       `json:"active"`
}

func (p patientPayload) apply(dst *Patient) {
	dst.FirstName = p.FirstName
	dst.LastName = p.LastName
	dst.BirthDate = p.BirthDate
	dst.Phone = p.Phone
	dst.Email = p.Email
	if p.Active != nil {
		dst.Active = *p.Active
	}
}

func (h *Handler) CreatePatient(c echo.Context) error {
	var body patientPayload
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	var p Patient
	body.apply(&p)
	if err := h.svc.CreatePatient(c.Request().Context(), &p); err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.GetPatient(c.Request().Context(), id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) SearchPatients(c echo.Context) error {
	q := PatientSearch{
		Name:  strings.TrimSpace(c.QueryParam("name")),
		Phone: strings.TrimSpace(c.QueryParam("phone")),
	}
	if raw := c.QueryParam("birth_date"); raw != "" {
		d, err := civil.ParseDate(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "birth_date must be YYYY-MM-DD")
		}
		q.BirthDate = &d
	}
	active, err := parseBoolQuery(c, "active")
	if err != nil {
		return err
	}
	q.ActiveOnly = active != nil && *active

	pg := pagination.FromContext(c)
	patients, total, err := h.svc.SearchPatients(c.Request().Context(), q, pg.Limit, pg.Offset)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(patients, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdatePatient(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var body patientPayload
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := c.Request().Context()
	p, err := h.svc.GetPatient(ctx, id)
	if err != nil {
		return toHTTPError(err)
	}
	body.apply(p)
	if err := h.svc.UpdatePatient(ctx, p); err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) DeactivatePatient(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeactivatePatient(c.Request().Context(), id); err != nil {
		return toHTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Provider Handlers --

type providerPayload struct {
	FirstName string  `json:"first_name"`
	LastName  string  `json:"last_name"`
	Role      Role    `json:"role"`
	Bookable  *bool   `json:"bookable"`
	Phone     *string `json:"phone"`
	Email     *string `json:"email"`
	Active    *bool   `json:"active"`
}

func (p providerPayload) apply(dst *Provider) {
	dst.FirstName = p.FirstName
	dst.LastName = p.LastName
	dst.Role = p.Role
	dst.Phone = p.Phone
	dst.Email = p.Email
	if p.Bookable != nil {
		dst.Bookable = *p.Bookable
	}
	if p.Active != nil {
		dst.Active = *p.Active
	}
}

func (h *Handler) CreateProvider(c echo.Context) error {
	var body providerPayload
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	var p Provider
	// Clinicians are bookable unless told otherwise.
	p.Bookable = body.Role.Clinical()
	body.apply(&p)
	if err := h.svc.CreateProvider(c.Request().Context(), &p); err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetProvider(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.GetProvider(c.Request().Context(), id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListProviders(c echo.Context) error {
	var f ProviderFilter
	if raw := c.QueryParam("role"); raw != "" {
		role := Role(raw)
		if !role.Valid() {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid role")
		}
		f.Role = &role
	}
	var err error
	if f.Bookable, err = parseBoolQuery(c, "bookable"); err != nil {
		return err
	}
	if f.Active, err = parseBoolQuery(c, "active"); err != nil {
		return err
	}

	pg := pagination.FromContext(c)
	providers, total, err := h.svc.ListProviders(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(providers, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateProvider(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var body providerPayload
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := c.Request().Context()
	p, err := h.svc.GetProvider(ctx, id)
	if err != nil {
		return toHTTPError(err)
	}
	body.apply(p)
	if err := h.svc.UpdateProvider(ctx, p); err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) DeactivateProvider(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeactivateProvider(c.Request().Context(), id); err != nil {
		return toHTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// publicProvider is what the booking form may see of a staff member.
type publicProvider struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
	Role Role      `json:"role"`
}

// PublicProviders lists the providers a patient can book with.
func (h *Handler) PublicProviders(c echo.Context) error {
	yes := true
	providers, _, err := h.svc.ListProviders(c.Request().Context(),
		ProviderFilter{Bookable: &yes, Active: &yes}, maxPageSize, 0)
	if err != nil {
		return toHTTPError(err)
	}
	out := make([]publicProvider, 0, len(providers))
	for _, p := range providers {
		out = append(out, publicProvider{ID: p.ID, Name: p.DisplayName(), Role: p.Role})
	}
	return c.JSON(http.StatusOK, out)
}
