package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/takato23/sparkrelay/internal/application/constant"
	"github.com/takato23/sparkrelay/internal/infra/adapters/postgres/repository"
	"github.com/takato23/sparkrelay/internal/infra/ports/http/dto"
	"github.com/takato23/sparkrelay/internal/usecase"
)

type SessionHandler struct {
	sessionUsecase usecase.SessionUsecase
}

func NewSessionHandler(sessionUsecase usecase.SessionUsecase) *SessionHandler {
	return &SessionHandler{sessionUsecase: sessionUsecase}
}

func (h *SessionHandler) CreateSessionHandler(c echo.Context) error {
	var req dto.CreateSessionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}

	session, err := h.sessionUsecase.Create(c.Request().Context(), req.Title)
	if err != nil {
		slog.Error("create session", slog.Any(constant.Error, err))

		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to create session"})
	}

	return c.JSON(http.StatusCreated, dto.NewSessionResponse(&usecase.SessionInfo{Session: session}))
}

func (h *SessionHandler) GetSessionHandler(c echo.Context) error {
	info, err := h.sessionUsecase.Get(c.Request().Context(), c.Param("code"))
	if err != nil {
		return sessionError(c, err, "failed to get session")
	}

	return c.JSON(http.StatusOK, dto.NewSessionResponse(info))
}

func (h *SessionHandler) EndSessionHandler(c echo.Context) error {
	if err := h.sessionUsecase.End(c.Request().Context(), c.Param("code")); err != nil {
		return sessionError(c, err, "failed to end session")
	}

	return c.NoContent(http.StatusNoContent)
}

func sessionError(c echo.Context, err error, msg string) error {
	switch {
	case errors.Is(err, usecase.ErrInvalidCode):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid session code"})
	case errors.Is(err, repository.ErrSessionNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "session not found"})
	default:
		slog.Error(msg, slog.Any(constant.Error, err), slog.String(constant.SessionCode, c.Param("code")))

		return c.JSON(http.StatusInternalServerError, map[string]string{"error": msg})
	}
}
