package authclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskwheel/jobrouter/pkg/tokens"
)

func testAccessToken(t *testing.T, ttl time.Duration) string {
	t.Helper()
	iss := &tokens.Issuer{
		AccessSecret:  []byte("test-jwt-secret"),
		RefreshSecret: []byte("unused"),
		AccessTTL:     ttl,
	}
	token, _, err := iss.IssueAccessToken("1", "alice", "REQUESTER", time.Now().UTC())
	require.NoError(t, err)
	return token
}

func writePair(w http.ResponseWriter, access, refresh string) {
	_ = json.NewEncoder(w).Encode(TokenPair{AccessToken: access, RefreshToken: refresh})
}

func TestToken_CachedTokenSkipsNetwork(t *testing.T) {
	t.Parallel()

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	r := NewRefresher(NewClient(srv.URL))
	access := testAccessToken(t, 15*time.Minute)
	r.SetTokens(access, "refresh-1")

	got, err := r.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, access, got)
	assert.EqualValues(t, 0, atomic.LoadInt32(&calls))
}

func TestToken_ConcurrentCallersShareOneRefresh(t *testing.T) {
	t.Parallel()

	newAccess := testAccessToken(t, 15*time.Minute)

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(100 * time.Millisecond) // hold the flight open so callers pile up
		writePair(w, newAccess, "refresh-2")
	}))
	defer srv.Close()

	r := NewRefresher(NewClient(srv.URL))
	r.SetTokens("", "refresh-1")

	const callers = 5
	results := make([]string, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = r.Token(context.Background())
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, newAccess, results[i])
	}
}

func TestToken_PresentsRotatedRefreshNextCycle(t *testing.T) {
	t.Parallel()

	// the returned access token is already expired, forcing a second cycle
	staleAccess := testAccessToken(t, -time.Minute)

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		var req struct {
			RefreshToken string `json:"refresh_token"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)

		switch n {
		case 1:
			if req.RefreshToken != "refresh-1" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			writePair(w, staleAccess, "refresh-2")
		default:
			if req.RefreshToken != "refresh-2" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			writePair(w, testAccessToken(t, 15*time.Minute), "refresh-3")
		}
	}))
	defer srv.Close()

	r := NewRefresher(NewClient(srv.URL))
	r.BaseDelay = time.Millisecond
	r.SetTokens("", "refresh-1")

	_, err := r.Token(context.Background())
	require.NoError(t, err)

	_, err = r.Token(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestToken_ExhaustedRetriesLogOut(t *testing.T) {
	t.Parallel()

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	var logouts int32
	r := NewRefresher(NewClient(srv.URL))
	r.BaseDelay = 5 * time.Millisecond
	r.OnLogout = func() { atomic.AddInt32(&logouts, 1) }
	r.SetTokens("", "refresh-1")

	start := time.Now()
	_, err := r.Token(context.Background())
	elapsed := time.Since(start)

	require.Error(t, err)
	// three attempts, two backoff sleeps in between
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
	assert.EqualValues(t, 1, atomic.LoadInt32(&logouts))
	assert.GreaterOrEqual(t, elapsed, 3*r.BaseDelay)

	// the cache was cleared: no refresh token means no further network calls
	_, err = r.Token(context.Background())
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestToken_NoRefreshTokenFailsFast(t *testing.T) {
	t.Parallel()

	var logouts int32
	r := NewRefresher(NewClient("http://127.0.0.1:0"))
	r.OnLogout = func() { atomic.AddInt32(&logouts, 1) }

	_, err := r.Token(context.Background())
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.EqualValues(t, 1, atomic.LoadInt32(&logouts))
}

func TestToken_WaiterHonorsContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		writePair(w, testAccessToken(t, 15*time.Minute), "refresh-2")
	}))
	defer srv.Close()
	defer close(release)

	r := NewRefresher(NewClient(srv.URL))
	r.SetTokens("", "refresh-1")

	leaderStarted := make(chan struct{})
	go func() {
		close(leaderStarted)
		_, _ = r.Token(context.Background())
	}()
	<-leaderStarted
	time.Sleep(10 * time.Millisecond) // let the leader take the slot

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := r.Token(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
