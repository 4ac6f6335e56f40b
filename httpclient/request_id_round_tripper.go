/*
Copyright © 2025 Cartlabs, Inc.

Released under MIT license.
*/

package httpclient

import (
	"context"
	"net/http"

	"github.com/rs/xid"
)

type ctxKey int

const ctxKeyRequestID ctxKey = iota

// NewContextWithRequestID creates a new context with the request ID.
func NewContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, requestID)
}

// GetRequestIDFromContext extracts the request ID from the context.
func GetRequestIDFromContext(ctx context.Context) string {
	requestID, _ := ctx.Value(ctxKeyRequestID).(string)
	return requestID
}

// RequestIDRoundTripperOpts represents an options for RequestIDRoundTripper.
type RequestIDRoundTripperOpts struct {
	// RequestIDProvider is a function that provides a request ID.
	// The ID from the request context is used by default,
	// a new one is generated when the context carries none.
	RequestIDProvider func(ctx context.Context) string
}

// RequestIDRoundTripper adds the X-Request-ID header to outgoing requests.
type RequestIDRoundTripper struct {
	Delegate http.RoundTripper
	Opts     RequestIDRoundTripperOpts
}

// NewRequestIDRoundTripper creates an HTTP transport with X-Request-ID header support.
func NewRequestIDRoundTripper(delegate http.RoundTripper) http.RoundTripper {
	return NewRequestIDRoundTripperWithOpts(delegate, RequestIDRoundTripperOpts{})
}

// NewRequestIDRoundTripperWithOpts creates an HTTP transport with X-Request-ID header support with options.
func NewRequestIDRoundTripperWithOpts(
	delegate http.RoundTripper, opts RequestIDRoundTripperOpts,
) http.RoundTripper {
	return &RequestIDRoundTripper{
		Delegate: delegate,
		Opts:     opts,
	}
}

func (rt *RequestIDRoundTripper) getRequestID(ctx context.Context) string {
	if rt.Opts.RequestIDProvider != nil {
		return rt.Opts.RequestIDProvider(ctx)
	}
	if requestID := GetRequestIDFromContext(ctx); requestID != "" {
		return requestID
	}
	return xid.New().String()
}

// RoundTrip adds the X-Request-ID header to the request unless it's already set.
func (rt *RequestIDRoundTripper) RoundTrip(r *http.Request) (*http.Response, error) {
	if r.Header.Get("X-Request-ID") != "" {
		return rt.Delegate.RoundTrip(r)
	}

	requestID := rt.getRequestID(r.Context())
	if requestID == "" {
		return rt.Delegate.RoundTrip(r)
	}

	r = CloneHTTPRequest(r)
	r.Header.Set("X-Request-ID", requestID)
	return rt.Delegate.RoundTrip(r)
}
