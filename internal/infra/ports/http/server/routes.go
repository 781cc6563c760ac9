package server

import (
	"github.com/labstack/echo/v4"

	"github.com/takato23/sparkrelay/internal/infra/ports/http/handlers"
	"github.com/takato23/sparkrelay/internal/infra/ports/http/middleware"
)

func New(
	sessionHandler *handlers.SessionHandler,
	wsHandler *handlers.WebSocketHandler,
	pollHandler *handlers.PollHandler,
) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.SlogLogger())
	e.Use(middleware.PrometheusMiddleware())

	api := e.Group("/api")
	{
		api.POST("/sessions", sessionHandler.CreateSessionHandler)
		api.GET("/sessions/:code", sessionHandler.GetSessionHandler)
		api.DELETE("/sessions/:code", sessionHandler.EndSessionHandler)
	}

	e.GET("/ws", wsHandler.Handle)

	poll := e.Group("/poll")
	{
		poll.POST("", pollHandler.Open)
		poll.GET("/:sid", pollHandler.Poll)
		poll.POST("/:sid", pollHandler.Deliver)
		poll.DELETE("/:sid", pollHandler.Close)
	}

	return e
}
