package scheduling

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func newTestHandler() (*Handler, *fixture, *echo.Echo) {
	f := newFixture()
	return NewHandler(f.svc), f, echo.New()
}

func (f *fixture) bookingBody(start string, extra string) string {
	body := `{"provider_id":"` + f.dentist.String() + `","patient_id":"` + f.patient.String() +
		`","date":"2025-03-10","start_time":"` + start + `","appointment_type":"exam"`
	if extra != "" {
		body += "," + extra
	}
	return body + "}"
}

func postJSON(e *echo.Echo, body string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func httpStatus(t *testing.T, err error) int {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected *echo.HTTPError, got %v", err)
	}
	return he.Code
}

func TestHandler_CreateBooking(t *testing.T) {
	h, f, e := newTestHandler()
	c, rec := postJSON(e, f.bookingBody("09:00", ""))

	if err := h.CreateBooking(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var b Booking
	if err := json.Unmarshal(rec.Body.Bytes(), &b); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b.Status != StatusScheduled || b.DurationMinutes != 30 {
		t.Errorf("unexpected booking: %+v", b)
	}
}

func TestHandler_CreateBooking_Conflict(t *testing.T) {
	h, f, e := newTestHandler()
	c, _ := postJSON(e, f.bookingBody("09:00", ""))
	if err := h.CreateBooking(c); err != nil {
		t.Fatalf("first booking: %v", err)
	}

	c, _ = postJSON(e, f.bookingBody("09:15", ""))
	err := h.CreateBooking(c)
	if code := httpStatus(t, err); code != http.StatusConflict {
		t.Errorf("expected 409, got %d", code)
	}
}

func TestHandler_CreateBooking_BadRequest(t *testing.T) {
	h, f, e := newTestHandler()
	bodies := map[string]string{
		"malformed json":  `{`,
		"missing patient": `{"provider_id":"` + f.dentist.String() + `","date":"2025-03-10","start_time":"09:00","duration_minutes":30}`,
		"bad date":        `{"provider_id":"` + f.dentist.String() + `","patient_id":"` + f.patient.String() + `","date":"10/03/2025","start_time":"09:00","duration_minutes":30}`,
		"bad time":        f.bookingBody("9am", ""),
		"before opening":  f.bookingBody("07:00", ""),
		"unknown type":    strings.Replace(f.bookingBody("09:00", ""), `"exam"`, `"veneer"`, 1),
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			c, _ := postJSON(e, body)
			if code := httpStatus(t, h.CreateBooking(c)); code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", code)
			}
		})
	}
}

func TestHandler_CreateBooking_Transient(t *testing.T) {
	h, f, e := newTestHandler()
	f.repo.err = &TransientStoreError{Op: "begin transaction", Err: errors.New("connection refused")}
	c, rec := postJSON(e, f.bookingBody("09:00", ""))

	err := h.CreateBooking(c)
	if code := httpStatus(t, err); code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
}

func TestHandler_PublicCreateBooking_RequiresToken(t *testing.T) {
	h, f, e := newTestHandler()
	c, _ := postJSON(e, f.bookingBody("09:00", ""))
	if code := httpStatus(t, h.PublicCreateBooking(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_PublicCreateBooking_Replay(t *testing.T) {
	h, f, e := newTestHandler()
	body := f.bookingBody("10:00", `"request_token":"web-42"`)

	c, rec := postJSON(e, body)
	if err := h.PublicCreateBooking(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}

	c, rec = postJSON(e, body)
	if err := h.PublicCreateBooking(c); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 on replay, got %d", rec.Code)
	}
	if n := len(f.repo.stored()); n != 1 {
		t.Errorf("expected 1 stored booking, got %d", n)
	}
}

func TestHandler_GetAvailability(t *testing.T) {
	h, f, e := newTestHandler()
	f.mustCommit(t, f.request(at(9, 0), 30))

	req := httptest.NewRequest(http.MethodGet, "/?date=2025-03-10&type=filling", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(f.dentist.String())

	if err := h.GetAvailability(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp availabilityResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.DurationMinutes != 60 {
		t.Errorf("duration = %d, want 60", resp.DurationMinutes)
	}
	for _, s := range resp.Slots {
		if s == "08:30" || s == "09:00" {
			t.Errorf("slot %s overlaps the 09:00 booking", s)
		}
	}
	if resp.Slots[0] != "08:00" {
		t.Errorf("first slot = %s, want 08:00", resp.Slots[0])
	}
}

func TestHandler_GetAvailability_ErrorCarriesEmptySlots(t *testing.T) {
	h, f, e := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/?date=2025-03-10", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(f.dentist.String())

	if err := h.GetAvailability(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	slots, ok := resp["slots"].([]interface{})
	if !ok || len(slots) != 0 {
		t.Errorf("expected empty slots array, got %v", resp["slots"])
	}
	if resp["error"] == "" {
		t.Error("expected error message")
	}
}

func TestHandler_GetAvailability_OversizedDuration(t *testing.T) {
	h, f, e := newTestHandler()
	for _, raw := range []string{"9223372036854775807", "9223372036854775808", "601"} {
		req := httptest.NewRequest(http.MethodGet, "/?date=2025-03-10&duration="+raw, nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("id")
		c.SetParamValues(f.dentist.String())

		if err := h.GetAvailability(c); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rec.Code != http.StatusBadRequest {
			t.Errorf("duration %s: expected 400, got %d", raw, rec.Code)
		}
		if !strings.Contains(rec.Body.String(), `"slots":[]`) {
			t.Errorf("duration %s: expected empty slots, got %s", raw, rec.Body.String())
		}
	}
}

func TestHandler_CreateBooking_OversizedDuration(t *testing.T) {
	h, f, e := newTestHandler()
	body := `{"provider_id":"` + f.dentist.String() + `","patient_id":"` + f.patient.String() +
		`","date":"2025-03-10","start_time":"09:00","duration_minutes":9223372036854775807}`
	c, _ := postJSON(e, body)
	if code := httpStatus(t, h.CreateBooking(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
	if n := len(f.repo.stored()); n != 0 {
		t.Errorf("expected nothing stored, got %d", n)
	}
}

func TestHandler_PublicAvailability(t *testing.T) {
	h, f, e := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/?provider_id="+f.hygienist.String()+"&date=2025-03-10&duration=30", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.PublicAvailability(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp availabilityResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if len(resp.Slots) != 20 {
		t.Errorf("expected 20 slots, got %d", len(resp.Slots))
	}
}

func TestHandler_GetBooking_NotFound(t *testing.T) {
	h, _, e := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())

	if code := httpStatus(t, h.GetBooking(c)); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}
}

func TestHandler_GetBooking_InvalidID(t *testing.T) {
	h, _, e := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")

	if err := h.GetBooking(c); err == nil {
		t.Error("expected error for invalid id")
	}
}

func TestHandler_CancelBooking(t *testing.T) {
	h, f, e := newTestHandler()
	b := f.mustCommit(t, f.request(at(9, 0), 30))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(b.ID.String())

	if err := h.CancelBooking(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(b.ID.String())
	if code := httpStatus(t, h.CompleteBooking(c)); code != http.StatusBadRequest {
		t.Errorf("completing a cancelled booking: expected 400, got %d", code)
	}
}

func TestHandler_ListBookings(t *testing.T) {
	h, f, e := newTestHandler()
	f.mustCommit(t, f.request(at(9, 0), 30))
	f.mustCommit(t, f.request(at(11, 0), 30))

	req := httptest.NewRequest(http.MethodGet, "/?provider_id="+f.dentist.String()+"&date=2025-03-10", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if err := h.ListBookings(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var items []Booking
	if err := json.Unmarshal(rec.Body.Bytes(), &items); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(items) != 2 {
		t.Errorf("expected 2 bookings, got %d", len(items))
	}

	req = httptest.NewRequest(http.MethodGet, "/?patient_id="+f.patient.String(), nil)
	rec = httptest.NewRecorder()
	c = e.NewContext(req, rec)
	if err := h.ListBookings(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"total":2`) {
		t.Errorf("expected paginated response with total 2, got %s", rec.Body.String())
	}

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	if code := httpStatus(t, h.ListBookings(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400 without filters, got %d", code)
	}
}

func TestHandler_ListAppointmentTypes(t *testing.T) {
	h, _, e := newTestHandler()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	if err := h.ListAppointmentTypes(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var items []AppointmentType
	json.Unmarshal(rec.Body.Bytes(), &items)
	if len(items) != 6 {
		t.Errorf("expected 6 active types, got %d", len(items))
	}
}
