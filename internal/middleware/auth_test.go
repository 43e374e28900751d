package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskwheel/jobrouter/pkg/tokens"
)

var testSecret = []byte("test-jwt-secret")

func issueAccess(t *testing.T, role string, ttl time.Duration) string {
	t.Helper()
	iss := &tokens.Issuer{
		AccessSecret:  testSecret,
		RefreshSecret: []byte("unused"),
		AccessTTL:     ttl,
	}
	token, _, err := iss.IssueAccessToken("42", "alice", role, time.Now().UTC())
	require.NoError(t, err)
	return token
}

func invoke(t *testing.T, mw echo.MiddlewareFunc, authHeader string) (*httptest.ResponseRecorder, bool) {
	t.Helper()

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if authHeader != "" {
		req.Header.Set(echo.HeaderAuthorization, authHeader)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	called := false
	err := mw(func(c echo.Context) error {
		called = true
		return c.NoContent(http.StatusOK)
	})(c)
	if err != nil {
		e.HTTPErrorHandler(err, c)
	}
	return rec, called
}

func TestRequireAuth(t *testing.T) {
	t.Parallel()

	m := NewBearerAuth(testSecret)

	rec, called := invoke(t, m.RequireAuth, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, called)

	rec, called = invoke(t, m.RequireAuth, "Bearer garbage")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, called)

	expired := issueAccess(t, "REQUESTER", -time.Minute)
	rec, called = invoke(t, m.RequireAuth, "Bearer "+expired)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, called)

	valid := issueAccess(t, "REQUESTER", 15*time.Minute)
	rec, called = invoke(t, m.RequireAuth, "Bearer "+valid)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, called)
}

func TestRequireAuth_SetsContext(t *testing.T) {
	t.Parallel()

	m := NewBearerAuth(testSecret)
	valid := issueAccess(t, "RESOLVER", 15*time.Minute)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+valid)
	c := e.NewContext(req, httptest.NewRecorder())

	err := m.RequireAuth(func(c echo.Context) error {
		assert.Equal(t, "42", c.Get("user_id"))
		assert.Equal(t, "alice", c.Get("username"))
		assert.Equal(t, "RESOLVER", c.Get("role"))
		return nil
	})(c)
	require.NoError(t, err)
}

func TestRequireRole(t *testing.T) {
	t.Parallel()

	m := NewBearerAuth(testSecret)
	mw := m.RequireRole("SUPERVISOR")

	requester := issueAccess(t, "REQUESTER", 15*time.Minute)
	rec, called := invoke(t, mw, "Bearer "+requester)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.False(t, called)

	supervisor := issueAccess(t, "SUPERVISOR", 15*time.Minute)
	rec, called = invoke(t, mw, "Bearer "+supervisor)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, called)
}
