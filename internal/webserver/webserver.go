// Package webserver exposes the liveness endpoints used by the container
// orchestrator.
package webserver

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/mdouchement/logger"

	"github.com/dmytros/cursorbot/internal/store"
)

// A Controller is an Inversion Of Control pattern used to init the
// webserver package.
type Controller struct {
	Version string
	Logger  logger.Logger
	Store   *store.Store
}

// EchoEngine instantiates the ops web server.
func EchoEngine(ctrl Controller) *echo.Echo {
	engine := echo.New()
	engine.HideBanner = true
	engine.HidePort = true
	engine.Use(middleware.Recover())

	engine.GET("/version", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{
			"version": ctrl.Version,
		})
	})

	engine.GET("/healthz", func(c echo.Context) error {
		if err := ctrl.Store.Ping(); err != nil {
			ctrl.Logger.Errorf("Health check failed: %v", err)
			return c.JSON(http.StatusServiceUnavailable, echo.Map{
				"status": "unavailable",
			})
		}
		return c.JSON(http.StatusOK, echo.Map{
			"status": "ok",
		})
	})

	return engine
}
