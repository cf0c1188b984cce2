package middleware

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

// BodyLimit caps request body size. defaultLimit applies to staff routes and
// publicLimit to the unauthenticated booking form under /api/v1/public/.
//
// Limits are human-readable sizes: "512", "16K", "1M", "1G". Oversized bodies
// get a 413 with a JSON error, whether detected from Content-Length or while
// the handler reads.
func BodyLimit(defaultLimit, publicLimit string) echo.MiddlewareFunc {
	defaultBytes := parseLimit(defaultLimit)
	publicBytes := parseLimit(publicLimit)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Body == nil || req.Body == http.NoBody {
				return next(c)
			}

			limit := defaultBytes
			if strings.HasPrefix(req.URL.Path, "/api/v1/public/") {
				limit = publicBytes
			}

			if req.ContentLength > limit {
				return payloadTooLarge(c, limit)
			}

			req.Body = &limitedReadCloser{ReadCloser: req.Body, remaining: limit}
			return next(c)
		}
	}
}

// limitedReadCloser fails reads once more than the limit has been consumed.
type limitedReadCloser struct {
	io.ReadCloser
	remaining int64
	exceeded  bool
}

func (r *limitedReadCloser) Read(p []byte) (int, error) {
	if r.exceeded {
		return 0, echo.NewHTTPError(http.StatusRequestEntityTooLarge, "request body too large")
	}

	// Read one byte past the limit to detect overflow.
	if int64(len(p)) > r.remaining+1 {
		p = p[:r.remaining+1]
	}
	n, err := r.ReadCloser.Read(p)
	r.remaining -= int64(n)
	if r.remaining < 0 {
		r.exceeded = true
		return 0, echo.NewHTTPError(http.StatusRequestEntityTooLarge, "request body too large")
	}
	return n, err
}

func payloadTooLarge(c echo.Context, limit int64) error {
	return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{
		"error": fmt.Sprintf("request body exceeds maximum allowed size of %d bytes", limit),
	})
}

// parseLimit converts "16K", "1M", "1G" (optionally with a trailing B) or a
// bare byte count. Unparseable input falls back to 1 MB.
func parseLimit(s string) int64 {
	const fallback = 1 << 20

	s = strings.TrimSuffix(strings.ToUpper(strings.TrimSpace(s)), "B")
	if s == "" {
		return fallback
	}

	var multiplier int64 = 1
	switch s[len(s)-1] {
	case 'K':
		multiplier = 1 << 10
	case 'M':
		multiplier = 1 << 20
	case 'G':
		multiplier = 1 << 30
	}
	if multiplier > 1 {
		s = s[:len(s)-1]
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return fallback
	}
	return n * multiplier
}
