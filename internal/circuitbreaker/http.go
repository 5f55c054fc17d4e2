package circuitbreaker

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HTTPClient wraps an http.Client with a breaker, one per source or
// backend host. It satisfies the Do interface the source clients accept.
// Transport errors and 5xx responses count against the breaker; 4xx do
// not, since a bad credential or query should never blackhole the host.
type HTTPClient struct {
	client  *http.Client
	breaker *Breaker
}

// NewHTTPClient wraps client with a breaker named name.
func NewHTTPClient(client *http.Client, name string, logger *zap.Logger) *HTTPClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPClient{
		client:  client,
		breaker: New(name, DefaultConfig(), logger),
	}
}

// Do executes the request through the breaker. When the breaker counted a
// 5xx response as a failure the response is still returned to the caller;
// only ErrOpen and transport errors surface as errors.
func (c *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	err := c.breaker.Execute(req.Context(), func() error {
		var doErr error
		resp, doErr = c.client.Do(req)
		if doErr != nil {
			return doErr
		}
		if resp.StatusCode >= 500 {
			return &serverError{code: resp.StatusCode}
		}
		return nil
	})

	if _, ok := err.(*serverError); ok {
		return resp, nil
	}
	return resp, err
}

// State exposes the breaker state for the resources command.
func (c *HTTPClient) State() State { return c.breaker.State() }

type serverError struct{ code int }

func (e *serverError) Error() string { return http.StatusText(e.code) }
