package gateway

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/papercomputeco/recap/pkg/llm"
)

// fail writes err as a single-line JSON error with its mapped status.
func fail(c *fiber.Ctx, log *zap.Logger, err error) error {
	status := llm.StatusCode(err)
	if status >= fiber.StatusInternalServerError {
		log.Error("request failed", zap.Error(err))
	} else {
		log.Info("request rejected", zap.Int("status", status), zap.Error(err))
	}
	return c.Status(status).JSON(llm.ErrorResponse{Error: llm.ErrorMessage(err)})
}

func badBody(c *fiber.Ctx, log *zap.Logger, err error) error {
	log.Info("failed to parse request", zap.Error(err))
	return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: "invalid request body"})
}
