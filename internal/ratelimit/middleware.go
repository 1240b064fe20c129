package ratelimit

import (
	"fmt"
	"net/http"
	"regexp"
)

// KeyFunc derives the limiter key for an outbound request.
type KeyFunc func(r *http.Request) string

var numericSegment = regexp.MustCompile(`/\d+`)

// RouteKey groups requests by method and path with numeric ids collapsed, so
// every run's status poll shares one bucket ("GET /workbench/runs/:id").
func RouteKey(r *http.Request) string {
	return r.Method + " " + numericSegment.ReplaceAllString(r.URL.Path, "/:id")
}

// Transport wraps base so each request first waits on limiter.
func Transport(limiter Limiter, keyFunc KeyFunc, base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	if keyFunc == nil {
		keyFunc = RouteKey
	}
	return roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		if err := limiter.Wait(r.Context(), keyFunc(r)); err != nil {
			return nil, fmt.Errorf("ratelimit: %w", err)
		}
		return base.RoundTrip(r)
	})
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }
