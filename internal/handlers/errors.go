package handlers

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"

	"github.com/codebuildervaibhav/transcribrr/internal/secure"
	"github.com/codebuildervaibhav/transcribrr/internal/types"
)

// errorStatus maps an error kind to an HTTP status and error code
func errorStatus(err error) (int, string) {
	var te *types.Error
	if errors.As(err, &te) && te.Constraint == types.ConstraintUnique {
		return fiber.StatusConflict, "ERR_DUPLICATE"
	}

	switch types.KindOf(err) {
	case types.ErrKindValidation:
		return fiber.StatusBadRequest, "ERR_VALIDATION"
	case types.ErrKindConfiguration:
		return fiber.StatusPreconditionFailed, "ERR_CONFIGURATION"
	case types.ErrKindInputNotFound:
		return fiber.StatusNotFound, "ERR_NOT_FOUND"
	case types.ErrKindUnsupportedFormat:
		return fiber.StatusUnsupportedMediaType, "ERR_INVALID_FORMAT"
	case types.ErrKindCorruptedInput:
		return fiber.StatusUnprocessableEntity, "ERR_CORRUPTED_INPUT"
	case types.ErrKindRemoteAPI:
		return fiber.StatusBadGateway, "ERR_REMOTE_API"
	case types.ErrKindCancelled:
		return fiber.StatusConflict, "ERR_CANCELLED"
	case types.ErrKindPersistence:
		return fiber.StatusInternalServerError, "ERR_PERSISTENCE"
	default:
		return fiber.StatusInternalServerError, "ERR_INTERNAL"
	}
}

// respondError writes the {"error", "code"} body for err. The message is
// the short user text; the full chain only goes to the log.
func respondError(c *fiber.Ctx, err error) error {
	status, code := errorStatus(err)
	if status >= fiber.StatusInternalServerError {
		log.Printf("%s %s failed: %v", c.Method(), c.Path(), err)
	}
	return c.Status(status).JSON(fiber.Map{
		"error": secure.Redact(types.UserMessage(err)),
		"code":  code,
	})
}

func badRequest(c *fiber.Ctx, message, code string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": message,
		"code":  code,
	})
}
