package api

import (
	"errors"

	"github.com/example/marketplace-chat/modules/auth"
	"github.com/example/marketplace-chat/modules/chat"
	"github.com/example/marketplace-chat/modules/room"
	"github.com/gofiber/fiber/v2"
)

// statusFor maps the error taxonomy to HTTP status codes and error slugs.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, chat.ErrValidation):
		return fiber.StatusBadRequest, "bad_request"
	case errors.Is(err, auth.ErrUnauthenticated):
		return fiber.StatusUnauthorized, "unauthorized"
	case errors.Is(err, chat.ErrForbidden):
		return fiber.StatusForbidden, "forbidden"
	case errors.Is(err, chat.ErrNotFound):
		return fiber.StatusNotFound, "not_found"
	case errors.Is(err, room.ErrRateLimited):
		return fiber.StatusTooManyRequests, "rate_limited"
	}
	return fiber.StatusInternalServerError, "server_error"
}

// writeError answers with the status and client-facing reason of err.
func writeError(c *fiber.Ctx, err error) error {
	status, slug := statusFor(err)
	message := chat.Reason(err)
	if errors.Is(err, room.ErrRateLimited) {
		message = room.ErrRateLimited.Error()
	}
	return c.Status(status).JSON(ErrorResponse{Error: slug, Message: message})
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
		Error:   "bad_request",
		Message: message,
	})
}

// customErrorHandler handles Fiber errors.
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(ErrorResponse{
		Error:   "server_error",
		Message: message,
	})
}
