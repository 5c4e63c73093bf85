package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/kristianrpo/connectivity-microservice/internal/transport/http/handler"
	"github.com/kristianrpo/connectivity-microservice/internal/transport/http/middleware"
	"go.uber.org/zap"
)

type Handlers struct {
	Citizen *handler.CitizenHandler
}

func RegisterRoutes(app fiber.Router, h *Handlers, validator middleware.TokenValidator, logger *zap.Logger) {
	app.Get("/health", handler.Health)

	citizens := app.Group("/citizens", middleware.NewAuthMiddleware(validator, logger))
	citizens.Get("/:id/exists/", h.Citizen.Exists)
}
