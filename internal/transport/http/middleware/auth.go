package middleware

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/kristianrpo/connectivity-microservice/internal/auth"
	"github.com/kristianrpo/connectivity-microservice/pkg/mylogger"
	"go.uber.org/zap"
)

const (
	LocalClientID = "clientId"
	LocalScope    = "scope"
)

type TokenValidator interface {
	Validate(token string) (*auth.TokenClaims, error)
}

// NewAuthMiddleware admits only requests carrying a valid client-credentials bearer token.
func NewAuthMiddleware(validator TokenValidator, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, err := auth.ExtractBearer(c.Get(fiber.HeaderAuthorization))
		if err != nil {
			return unauthorized(c, logger, err)
		}

		claims, err := validator.Validate(token)
		if err != nil {
			return unauthorized(c, logger, err)
		}

		c.Locals(LocalClientID, claims.ClientID)
		c.Locals(LocalScope, claims.Scope)
		return c.Next()
	}
}

func unauthorized(c *fiber.Ctx, logger *zap.Logger, err error) error {
	mylogger.Warn(
		c.UserContext(),
		logger,
		"Request denied",
		zap.String("path", c.Path()),
		zap.Error(err),
	)

	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error":   "Unauthorized",
		"message": denialMessage(err),
	})
}

func denialMessage(err error) string {
	switch {
	case errors.Is(err, auth.ErrMissingToken):
		return "Authentication credentials were not provided"
	case errors.Is(err, auth.ErrTokenExpired):
		return "Token has expired"
	case errors.Is(err, auth.ErrBadSignature):
		return "Invalid token signature"
	case errors.Is(err, auth.ErrWrongGrant):
		return "Invalid grant type. Expected client_credentials"
	default:
		return "Invalid token"
	}
}
