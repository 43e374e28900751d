package httpserver

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/taskwheel/jobrouter/internal/middleware"
	"github.com/taskwheel/jobrouter/internal/models"
)

type Deps struct {
	AuthHandler *AuthHTTP
	JWTSecret   []byte
	CORSOrigin  string
}

func Register(e *echo.Echo, d *Deps) {
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: []string{d.CORSOrigin},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization},
	}))

	e.GET("/health/live", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/health/ready", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	authMw := middleware.NewBearerAuth(d.JWTSecret)

	e.POST("/signup", d.AuthHandler.Signup)
	e.POST("/login", d.AuthHandler.Login)
	e.POST("/refresh", d.AuthHandler.Refresh)

	private := e.Group("")
	private.Use(authMw.RequireAuth)
	private.POST("/logout", d.AuthHandler.Logout)
	private.GET("/secure-data", d.AuthHandler.SecureData)
	private.GET("/me", d.AuthHandler.Me)

	supervisor := e.Group("")
	supervisor.Use(authMw.RequireRole(models.RoleSupervisor))
	supervisor.GET("/users", d.AuthHandler.Users)
}
