package middleware

import (
	"context"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/totegamma/pairdata/internal/domain"
	"github.com/totegamma/pairdata/internal/interface/rest/presenter"
)

var tracer = otel.Tracer("requester")

// IdentifyRequester takes the authenticated username set by the upstream gateway
// and tags the request with an id.
func IdentifyRequester(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, span := tracer.Start(c.Request().Context(), "Requester.Middleware.IdentifyRequester")
		defer span.End()

		requestID := c.Request().Header.Get(domain.RequestIdHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Response().Header().Set(domain.RequestIdHeader, requestID)
		ctx = context.WithValue(ctx, domain.RequestIdCtxKey, requestID)
		c.Set(domain.RequestIdCtxKey, requestID)
		span.SetAttributes(attribute.String("RequestId", requestID))

		requester := c.Request().Header.Get(domain.RequesterIdHeader)
		if requester != "" {
			ctx = context.WithValue(ctx, domain.RequesterIdCtxKey, requester)
			c.Set(domain.RequesterIdCtxKey, requester)
			span.SetAttributes(attribute.String("RequesterId", requester))
		}

		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

// RequireRequester rejects anonymous requests.
func RequireRequester(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if Requester(c) == "" {
			return presenter.Unauthorized(c, "requester is required")
		}
		return next(c)
	}
}

// Requester returns the identified requester or an empty string.
func Requester(c echo.Context) string {
	requester, _ := c.Get(domain.RequesterIdCtxKey).(string)
	return requester
}
