/*
Copyright © 2025 Cartlabs, Inc.

Released under MIT license.
*/

package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Request represents one opaque operation against the remote gateway.
// Target is a relative path whose meaning the orchestration layer never interprets.
type Request struct {
	Target string
	Method string
	Header http.Header
	Body   []byte
}

// Response represents the outcome of a sent request.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Transport sends a single request attempt. Implementations must honor
// context cancellation and are not expected to retry.
type Transport interface {
	Send(ctx context.Context, req *Request) (*Response, error)
}

// TransportFunc is an adapter to allow the use of ordinary functions as Transport.
type TransportFunc func(ctx context.Context, req *Request) (*Response, error)

// Send implements Transport.
func (f TransportFunc) Send(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// TransportError wraps a failure of the underlying round trip.
type TransportError struct {
	Inner error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s", e.Inner.Error())
}

// Unwrap returns the next error in the error chain.
func (e *TransportError) Unwrap() error {
	return e.Inner
}

// HTTPTransport is a Transport implementation on top of *http.Client.
// The client is typically built with the httpclient package so that logging,
// metrics, rate limiting and body limiting round trippers are in place.
type HTTPTransport struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPTransport creates a new HTTPTransport sending requests to targets relative to baseURL.
func NewHTTPTransport(baseURL string, client *http.Client) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPTransport{BaseURL: strings.TrimSuffix(baseURL, "/"), Client: client}
}

// Send implements Transport.
func (t *HTTPTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	var bodyReader io.Reader
	if len(req.Body) != 0 {
		bodyReader = bytes.NewReader(req.Body)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	url := t.BaseURL + "/" + strings.TrimPrefix(req.Target, "/")
	httpReq, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, &TransportError{Inner: err}
	}
	for key, values := range req.Header {
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}

	httpResp, err := t.Client.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Inner: err}
	}
	defer func() {
		_ = httpResp.Body.Close()
	}()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &TransportError{Inner: err}
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       respBody,
	}, nil
}
