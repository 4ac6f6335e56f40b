/*
Copyright © 2025 Cartlabs, Inc.

Released under MIT license.
*/

package httpclient

import (
	"fmt"
	"io"
	"net/http"
)

// BodyLimitRoundTripper wraps response bodies so that reading more than
// the configured number of bytes fails with ResponseBodyTooLargeError.
type BodyLimitRoundTripper struct {
	Delegate http.RoundTripper
	MaxSize  int64
}

// NewBodyLimitRoundTripper creates an HTTP transport limiting the size of response bodies.
func NewBodyLimitRoundTripper(delegate http.RoundTripper, maxSize int64) http.RoundTripper {
	return &BodyLimitRoundTripper{Delegate: delegate, MaxSize: maxSize}
}

// RoundTrip executes a single HTTP transaction, returning a Response for the provided Request.
func (rt *BodyLimitRoundTripper) RoundTrip(r *http.Request) (*http.Response, error) {
	resp, err := rt.Delegate.RoundTrip(r)
	if err != nil || resp == nil || resp.Body == nil {
		return resp, err
	}

	resp.Body = &limitedReadCloser{inner: resp.Body, remaining: rt.MaxSize, maxSize: rt.MaxSize}
	return resp, nil
}

// ResponseBodyTooLargeError is returned when a response body exceeds the configured limit.
type ResponseBodyTooLargeError struct {
	MaxSize int64
}

func (e *ResponseBodyTooLargeError) Error() string {
	return fmt.Sprintf("response body is larger than %d bytes", e.MaxSize)
}

type limitedReadCloser struct {
	inner     io.ReadCloser
	remaining int64
	maxSize   int64
}

func (lr *limitedReadCloser) Read(p []byte) (int, error) {
	if lr.remaining < 0 {
		return 0, &ResponseBodyTooLargeError{MaxSize: lr.maxSize}
	}
	// Allow reading one byte past the limit to tell a body of exactly
	// maxSize bytes from a truncated bigger one.
	if int64(len(p)) > lr.remaining+1 {
		p = p[:lr.remaining+1]
	}
	if len(p) == 0 {
		return 0, nil
	}
	n, err := lr.inner.Read(p)
	lr.remaining -= int64(n)
	if lr.remaining < 0 {
		return n - 1, &ResponseBodyTooLargeError{MaxSize: lr.maxSize}
	}
	return n, err
}

func (lr *limitedReadCloser) Close() error {
	return lr.inner.Close()
}
