package wall

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type ErrorKind int

const (
	KindOther ErrorKind = iota
	KindRateLimit
	KindServer
	KindPermission
)

func (k ErrorKind) String() string {
	switch k {
	case KindRateLimit:
		return "rate_limit"
	case KindServer:
		return "server"
	case KindPermission:
		return "permission"
	default:
		return "other"
	}
}

// APIError is any failure reported by the platform. Code is zero when the
// endpoint (upload servers, media CDNs) has no structured error code.
type APIError struct {
	Code       int
	Message    string
	HTTPStatus int
}

func (e *APIError) Error() string {
	switch {
	case e.Code != 0:
		return fmt.Sprintf("wall API error %d: %s", e.Code, e.Message)
	case e.HTTPStatus != 0:
		return fmt.Sprintf("wall API HTTP %d: %s", e.HTTPStatus, e.Message)
	default:
		return "wall API error: " + e.Message
	}
}

var codeKinds = map[int]ErrorKind{
	6:   KindRateLimit, // too many requests per second
	9:   KindRateLimit, // flood control
	29:  KindRateLimit, // rate limit reached
	1:   KindServer,    // unknown error
	10:  KindServer,    // internal server error
	7:   KindPermission,
	15:  KindPermission,
	27:  KindPermission,
	200: KindPermission,
	203: KindPermission,
	214: KindPermission,
}

// Substrings are only consulted when the response carries no code.
var messageKinds = []struct {
	needle string
	kind   ErrorKind
}{
	{"too many requests", KindRateLimit},
	{"rate limit", KindRateLimit},
	{"flood control", KindRateLimit},
	{"internal server error", KindServer},
	{"service unavailable", KindServer},
	{"bad gateway", KindServer},
	{"permission", KindPermission},
	{"access denied", KindPermission},
	{"no access", KindPermission},
}

func (e *APIError) Kind() ErrorKind {
	if e.Code != 0 {
		if k, ok := codeKinds[e.Code]; ok {
			return k
		}
		return KindOther
	}

	switch {
	case e.HTTPStatus == http.StatusTooManyRequests:
		return KindRateLimit
	case e.HTTPStatus == http.StatusForbidden:
		return KindPermission
	case e.HTTPStatus >= 500:
		return KindServer
	}

	msg := strings.ToLower(e.Message)
	for _, m := range messageKinds {
		if strings.Contains(msg, m.needle) {
			return m.kind
		}
	}
	return KindOther
}

// KindOf classifies err, unwrapping as needed. Non-API errors are KindOther.
func KindOf(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind()
	}
	return KindOther
}

// IsTransient reports whether a retry can be expected to succeed.
func IsTransient(err error) bool {
	k := KindOf(err)
	return k == KindRateLimit || k == KindServer
}

func IsPermission(err error) bool {
	return KindOf(err) == KindPermission
}
