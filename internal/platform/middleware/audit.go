package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/dentaldesk/dentaldesk/internal/platform/auth"
)

// auditedPrefixes are the routes that expose patient records.
var auditedPrefixes = []string{
	"/api/v1/patients",
	"/api/v1/notes",
	"/api/v1/bookings",
}

// AuditEntry records who touched which patient record and how.
type AuditEntry struct {
	Timestamp  time.Time
	RequestID  string
	UserID     string
	UserRoles  []string
	Resource   string
	PatientID  string
	Action     string // read, create, update, delete
	Method     string
	Path       string
	IPAddress  string
	UserAgent  string
	StatusCode int
}

// Audit emits one "record_access" log line per request that reads or
// writes patient records. Other routes pass through untouched.
func Audit(logger zerolog.Logger) echo.MiddlewareFunc {
	logger = logger.With().Str("type", "audit").Logger()

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !isAuditablePath(req.URL.Path) {
				return next(c)
			}

			err := next(c)

			entry := buildAuditEntry(c)
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					entry.StatusCode = he.Code
				} else if entry.StatusCode < http.StatusBadRequest {
					entry.StatusCode = http.StatusInternalServerError
				}
			}

			evt := logger.Info()
			if entry.StatusCode == http.StatusForbidden || entry.StatusCode == http.StatusUnauthorized {
				evt = logger.Warn()
			}
			evt.
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Strs("user_roles", entry.UserRoles).
				Str("resource", entry.Resource).
				Str("patient_id", entry.PatientID).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("record_access")

			return err
		}
	}
}

func buildAuditEntry(c echo.Context) AuditEntry {
	req := c.Request()
	ctx := req.Context()
	entry := AuditEntry{
		Timestamp:  time.Now().UTC(),
		UserID:     auth.UserIDFromContext(ctx),
		UserRoles:  auth.RolesFromContext(ctx),
		Resource:   extractResource(req.URL.Path),
		PatientID:  extractPatientID(c),
		Action:     httpMethodToAction(req.Method, req.URL.Path),
		Method:     req.Method,
		Path:       req.URL.Path,
		IPAddress:  c.RealIP(),
		UserAgent:  req.UserAgent(),
		StatusCode: c.Response().Status,
	}
	if rid, ok := c.Get("request_id").(string); ok {
		entry.RequestID = rid
	}
	return entry
}

func isAuditablePath(path string) bool {
	for _, p := range auditedPrefixes {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

// httpMethodToAction maps a request to an audit action. Status changes on
// bookings are POSTs to a sub-resource and count as updates.
func httpMethodToAction(method, path string) string {
	switch method {
	case http.MethodPost:
		if strings.HasPrefix(path, "/api/v1/bookings/") {
			return "update"
		}
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

// extractResource returns the deepest record collection named in the path,
// so /api/v1/patients/<id>/notes audits as "notes".
func extractResource(path string) string {
	resource := "unknown"
	for _, s := range strings.Split(strings.TrimPrefix(path, "/api/v1/"), "/") {
		switch s {
		case "patients", "notes", "bookings":
			resource = s
		}
	}
	return resource
}

// extractPatientID finds the patient from /api/v1/patients/<id> or the
// patient_id query parameter.
func extractPatientID(c echo.Context) string {
	path := c.Request().URL.Path
	if strings.HasPrefix(path, "/api/v1/patients/") {
		segments := strings.Split(strings.TrimPrefix(path, "/api/v1/patients/"), "/")
		if len(segments) > 0 && isUUIDLike(segments[0]) {
			return segments[0]
		}
	}
	return c.QueryParam("patient_id")
}

func isUUIDLike(s string) bool {
	if s == "" {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}
