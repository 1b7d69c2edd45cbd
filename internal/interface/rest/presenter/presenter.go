package presenter

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/totegamma/pairdata/internal/domain"
)

type errorResponse struct {
	Error string `json:"error"`
}

// OK wraps a successful response.
func OK(c echo.Context, payload any) error {
	return c.JSON(http.StatusOK, payload)
}

func Created(c echo.Context, payload any) error {
	return c.JSON(http.StatusCreated, payload)
}

func NoContent(c echo.Context) error {
	return c.NoContent(http.StatusNoContent)
}

func BadRequestMessage(c echo.Context, msg string) error {
	c.Logger().Warnf("Bad request: %s", msg)
	return c.JSON(http.StatusBadRequest, errorResponse{Error: msg})
}

func Unauthorized(c echo.Context, msg string) error {
	c.Logger().Warnf("Unauthorized: %s", msg)
	return c.JSON(http.StatusUnauthorized, errorResponse{Error: msg})
}

func NotFound(c echo.Context, msg string) error {
	c.Logger().Warnf("Not found: %s", msg)
	return c.JSON(http.StatusNotFound, errorResponse{Error: msg})
}

func InternalError(c echo.Context, err error) error {
	c.Logger().Errorf("Internal error: %v", err)
	return c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal server error"})
}

// FieldError reports a malformed request attribute.
func FieldError(c echo.Context, field, reason string) error {
	c.Logger().Warnf("Bad request: %s: %s", field, reason)
	return c.JSON(http.StatusBadRequest, map[string][]string{field: {reason}})
}

// Rejected reports a validation failure keyed by the offending request attribute,
// e.g. {"filename": ["`x.xml` is already used. filename must be unique"]}.
func Rejected(c echo.Context, rej domain.RejectionError) error {
	c.Logger().Warnf("Rejected: %s %v", rej.Code, rej.Values)

	status := http.StatusBadRequest
	if rej.Code == domain.CodePermissionDenied {
		status = http.StatusForbidden
	}
	field := rej.Field
	if field == "" {
		field = "detail"
	}
	return c.JSON(status, map[string][]string{field: {rej.Reason()}})
}

// Error maps usecase errors onto responses.
func Error(c echo.Context, err error) error {
	var rej domain.RejectionError
	if errors.As(err, &rej) {
		return Rejected(c, rej)
	}
	var notFound domain.NotFoundError
	if errors.As(err, &notFound) {
		return NotFound(c, notFound.Error())
	}
	return InternalError(c, err)
}
