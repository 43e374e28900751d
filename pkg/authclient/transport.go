package authclient

import (
	"math/rand"
	"net/http"
	"time"
)

const (
	transportMaxRetries = 2
	transportBaseDelay  = 200 * time.Millisecond
)

// RetryTransport retries idempotent requests that fail at the network level
// or with a 5xx, using jittered exponential backoff. Auth failures (any 4xx)
// are never retried here; token refresh is the Refresher's job, not the
// transport's.
type RetryTransport struct {
	Base       http.RoundTripper
	MaxRetries int
	BaseDelay  time.Duration
}

func NewRetryTransport(base http.RoundTripper) *RetryTransport {
	return &RetryTransport{
		Base:       base,
		MaxRetries: transportMaxRetries,
		BaseDelay:  transportBaseDelay,
	}
}

func (t *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Only bodyless GETs are safe to replay blindly.
	if req.Method != http.MethodGet || req.Body != nil {
		return t.Base.RoundTrip(req)
	}

	var (
		resp *http.Response
		err  error
	)
	for attempt := 0; ; attempt++ {
		resp, err = t.Base.RoundTrip(req)
		if err == nil && resp.StatusCode < 500 {
			return resp, nil
		}
		if attempt >= t.MaxRetries {
			return resp, err
		}
		if resp != nil {
			resp.Body.Close()
		}

		delay := t.BaseDelay << attempt
		jitter := time.Duration(rand.Int63n(int64(delay)))
		select {
		case <-time.After(delay/2 + jitter):
		case <-req.Context().Done():
			return nil, req.Context().Err()
		}
	}
}
