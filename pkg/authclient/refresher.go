package authclient

import (
	"context"
	"sync"
	"time"

	"github.com/taskwheel/jobrouter/pkg/tokens"
)

const (
	defaultBaseDelay    = 500 * time.Millisecond
	defaultMaxDelay     = 8 * time.Second
	defaultMaxAttempts  = 3
	defaultExpiryLeeway = 30 * time.Second
)

type refreshResult struct {
	access  string
	refresh string
	err     error
}

// Refresher keeps one access/refresh pair current and guarantees at most one
// in-flight refresh call per process. Concurrent callers that find the access
// token expired join the in-flight attempt instead of issuing their own.
//
// Construct one per process and share it; the coordination lives in the
// instance, not in package state.
type Refresher struct {
	client *Client

	// BaseDelay is doubled per attempt; MaxAttempts bounds the whole cycle.
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
	ExpiryLeeway time.Duration

	// OnLogout performs the silent logout once every retry attempt has
	// failed (or the server definitively revokes the session mid-flight).
	OnLogout func()

	mu       sync.Mutex
	access   string
	refresh  string
	inflight bool
	waiters  []chan refreshResult
}

func NewRefresher(client *Client) *Refresher {
	return &Refresher{
		client:       client,
		BaseDelay:    defaultBaseDelay,
		MaxDelay:     defaultMaxDelay,
		MaxAttempts:  defaultMaxAttempts,
		ExpiryLeeway: defaultExpiryLeeway,
	}
}

// SetTokens seeds or replaces the cached pair, e.g. after an explicit login.
func (r *Refresher) SetTokens(access, refresh string) {
	r.mu.Lock()
	r.access = access
	r.refresh = refresh
	r.mu.Unlock()
}

// Clear drops both cached tokens.
func (r *Refresher) Clear() {
	r.SetTokens("", "")
}

// Token returns a currently valid access token, refreshing it first when the
// locally decoded expiry (minus leeway) has passed. No network call happens
// on the happy path.
func (r *Refresher) Token(ctx context.Context) (string, error) {
	r.mu.Lock()

	if r.access != "" && !r.expired(r.access) {
		tok := r.access
		r.mu.Unlock()
		return tok, nil
	}

	if r.inflight {
		ch := make(chan refreshResult, 1)
		r.waiters = append(r.waiters, ch)
		r.mu.Unlock()

		select {
		case res := <-ch:
			return res.access, res.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	r.inflight = true
	refresh := r.refresh
	r.mu.Unlock()

	res := r.refreshWithRetry(ctx, refresh)
	r.settle(res)

	if res.err != nil && r.OnLogout != nil {
		r.OnLogout()
	}
	return res.access, res.err
}

func (r *Refresher) expired(access string) bool {
	exp, err := tokens.ExpiryUnverified(access)
	if err != nil {
		return true
	}
	return !exp.After(time.Now().Add(r.ExpiryLeeway))
}

func (r *Refresher) refreshWithRetry(ctx context.Context, refresh string) refreshResult {
	if refresh == "" {
		return refreshResult{err: ErrUnauthorized}
	}

	var lastErr error
	for attempt := 1; attempt <= r.MaxAttempts; attempt++ {
		pair, err := r.client.Refresh(ctx, refresh)
		if err == nil {
			return refreshResult{access: pair.AccessToken, refresh: pair.RefreshToken}
		}
		lastErr = err

		if attempt == r.MaxAttempts {
			break
		}
		delay := r.BaseDelay << attempt
		if delay > r.MaxDelay {
			delay = r.MaxDelay
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return refreshResult{err: ctx.Err()}
		}
	}
	return refreshResult{err: lastErr}
}

// settle publishes the outcome: updates the cache, releases the in-flight
// slot, and resolves every queued waiter with the same result.
func (r *Refresher) settle(res refreshResult) {
	r.mu.Lock()
	r.inflight = false
	if res.err == nil {
		r.access = res.access
		r.refresh = res.refresh
	} else {
		r.access = ""
		r.refresh = ""
	}
	waiters := r.waiters
	r.waiters = nil
	r.mu.Unlock()

	for _, ch := range waiters {
		ch <- res
	}
}
