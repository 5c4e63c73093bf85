package handler

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/kristianrpo/connectivity-microservice/internal/centralizer"
	"github.com/kristianrpo/connectivity-microservice/internal/metrics"
	"github.com/kristianrpo/connectivity-microservice/internal/service"
	"github.com/kristianrpo/connectivity-microservice/internal/transport/http/middleware"
	"github.com/kristianrpo/connectivity-microservice/pkg/mylogger"
	"go.uber.org/zap"
)

type CitizenHandler struct {
	lookup  service.LookupService
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewCitizenHandler(lookup service.LookupService, m *metrics.Metrics, logger *zap.Logger) *CitizenHandler {
	return &CitizenHandler{
		lookup:  lookup,
		metrics: m,
		logger:  logger,
	}
}

// Exists answers 200 when the citizen is known to the centralizer and 204 when it is not.
func (h *CitizenHandler) Exists(c *fiber.Ctx) error {
	ctx := c.UserContext()

	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		mylogger.Warn(
			ctx,
			h.logger,
			"Invalid citizen id",
			zap.String("id", c.Params("id")),
		)

		return h.status(c, fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid citizen ID"})
	}

	clientID, _ := c.Locals(middleware.LocalClientID).(string)

	mylogger.Info(
		ctx,
		h.logger,
		"Citizen existence check",
		zap.String("client_id", clientID),
		zap.Int64("id_citizen", id),
	)

	res, err := h.lookup.CheckCitizen(ctx, id)
	if err != nil {
		mylogger.Error(
			ctx,
			h.logger,
			"Error validating citizen",
			zap.Int64("id_citizen", id),
			zap.Error(err),
		)

		return h.status(c, fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal server error"})
	}

	switch res.Outcome {
	case centralizer.OutcomeExists:
		if len(res.Payload) == 0 {
			return h.status(c, fiber.StatusOK).JSON(fiber.Map{"exists": true})
		}

		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return h.status(c, fiber.StatusOK).Send(res.Payload)
	case centralizer.OutcomeNotExists:
		return h.status(c, fiber.StatusNoContent).Send(nil)
	}

	mylogger.Warn(
		ctx,
		h.logger,
		"Centralizer rejected citizen lookup",
		zap.Int64("id_citizen", id),
		zap.Int("upstream_status", res.StatusCode),
	)

	if res.StatusCode >= 400 && res.StatusCode < 500 {
		return h.status(c, fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "Invalid request",
			"message": res.Message,
		})
	}

	return h.status(c, fiber.StatusInternalServerError).JSON(fiber.Map{
		"error":   "Internal server error",
		"message": res.Message,
	})
}

func (h *CitizenHandler) status(c *fiber.Ctx, code int) *fiber.Ctx {
	h.metrics.ObserveLookup(code)
	return c.Status(code)
}
