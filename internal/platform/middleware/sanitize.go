package middleware

import (
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

const (
	// maxHeaderValueSize bounds any single header value.
	maxHeaderValueSize = 8192
	// maxParamLen bounds route parameters; filenames and ids are far shorter.
	maxParamLen = 255
)

var (
	// Logged, never blocked: ids and personnummer never legitimately match.
	sqlPatterns = regexp.MustCompile(`(?i)('+\s*;\s*DROP\b|UNION\s+SELECT\b|'\s+OR\s+1\s*=\s*1|1\s*=\s*1)`)

	scriptPatterns = regexp.MustCompile(`(?i)(<script|javascript\s*:|on\w+\s*=)`)
)

// Sanitize is SanitizeWithLogger without SQL pattern logging.
func Sanitize() echo.MiddlewareFunc {
	return SanitizeWithLogger(zerolog.Nop())
}

// SanitizeWithLogger rejects requests whose path, route parameters, headers
// or query carry traversal sequences, NUL or control bytes, header
// injection or script payloads. Route parameters (:filename, :id,
// :patientId) are checked after routing, so a filename such as
// "..%2fdb.sqlite" is refused before it reaches the file store. Rejections
// are 400 with an {"error"} body.
func SanitizeWithLogger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()

			if msg := checkPath(req.URL); msg != "" {
				return badRequest(c, msg)
			}
			if msg := checkParams(c.ParamNames(), c.ParamValues()); msg != "" {
				return badRequest(c, msg)
			}
			if msg := checkHeaders(req.Header); msg != "" {
				return badRequest(c, msg)
			}

			for key, values := range req.URL.Query() {
				for _, v := range values {
					if containsNullByte(key) || containsNullByte(v) {
						return badRequest(c, "Null byte injection detected in query parameter")
					}
					if scriptPatterns.MatchString(key) || scriptPatterns.MatchString(v) {
						return badRequest(c, "Script injection detected in query parameter")
					}
					if sqlPatterns.MatchString(v) {
						logger.Warn().
							Str("param", key).
							Str("path", req.URL.Path).
							Str("remote_ip", c.RealIP()).
							Msg("potential SQL injection pattern detected in query parameter")
					}
				}
			}

			return next(c)
		}
	}
}

func checkPath(u *url.URL) string {
	raw := u.RawPath
	if raw == "" {
		raw = u.Path
	}
	switch {
	case containsPathTraversal(u.Path) || containsPathTraversal(raw):
		return "Path traversal detected"
	case containsNullByte(u.Path) || containsNullByte(raw):
		return "Null byte injection detected"
	}
	return ""
}

// checkParams validates route parameters one by one. Echo hands them over
// still escaped, so each is decoded before it is inspected.
func checkParams(names, values []string) string {
	for i, name := range names {
		if i >= len(values) {
			break
		}
		v := values[i]
		if decoded, err := url.PathUnescape(v); err == nil {
			v = decoded
		}
		switch {
		case len(v) > maxParamLen:
			return fmt.Sprintf("Path parameter %s is too long", name)
		case containsNullByte(v) || hasControl(v):
			return fmt.Sprintf("Invalid characters in path parameter %s", name)
		case containsPathTraversal(v) || strings.ContainsAny(v, `/\`):
			return fmt.Sprintf("Path traversal detected in path parameter %s", name)
		}
	}
	return ""
}

func checkHeaders(h http.Header) string {
	for name, values := range h {
		for _, v := range values {
			if len(v) > maxHeaderValueSize {
				return "Header value exceeds maximum size: " + name
			}
			if strings.ContainsAny(v, "\r\n") {
				return "Header injection detected: " + name
			}
		}
	}
	return ""
}

// containsPathTraversal matches "..", including its percent-encoded and
// double-encoded forms.
func containsPathTraversal(s string) bool {
	lower := strings.ToLower(s)
	return strings.Contains(s, "..") ||
		strings.Contains(lower, "%2e%2e") ||
		strings.Contains(lower, "%252e")
}

func containsNullByte(s string) bool {
	return strings.ContainsRune(s, '\x00') || strings.Contains(s, "%00")
}

func hasControl(s string) bool {
	return strings.IndexFunc(s, unicode.IsControl) >= 0
}

func badRequest(c echo.Context, msg string) error {
	return jsonError(c, http.StatusBadRequest, msg)
}

// SanitizeString drops NUL and control characters other than \n, \r and \t
// from a form value and trims surrounding whitespace.
func SanitizeString(input string) string {
	clean := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, input)
	return strings.TrimSpace(clean)
}
