package influx

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
)

// ServerError is a non-2xx response from an InfluxDB endpoint.
type ServerError struct {
	StatusCode int
	Op         string
	Body       string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("influxdb %s failed with status %d: %s", e.Op, e.StatusCode, e.Body)
}

// Retriable reports whether the failure is transient. 408, 429 and all 5xx
// responses are retried; every other 4xx is permanent (auth failures,
// malformed lines, schema conflicts).
func (e *ServerError) Retriable() bool {
	if e.StatusCode == 408 || e.StatusCode == 429 {
		return true
	}
	return e.StatusCode >= 500
}

// IsRetriable classifies an error under the transport retry policy: network
// errors and retriable server statuses are transient, everything else is
// permanent. Context cancellation is never retried.
func IsRetriable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	// Per-request deadline expiry is an ordinary timeout and stays retriable.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var serverErr *ServerError
	if errors.As(err, &serverErr) {
		return serverErr.Retriable()
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
