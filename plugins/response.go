package plugins

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/linht/adrv-manager/internal/adrv9001"
)

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Action  string      `json:"action,omitempty"` // recovery action of a device error
	Message string      `json:"message,omitempty"`
}

// SendSuccess sends a successful response
func SendSuccess(c *fiber.Ctx, data interface{}, message string) error {
	return c.JSON(APIResponse{
		Success: true,
		Data:    data,
		Message: message,
	})
}

// SendError sends an error response
func SendError(c *fiber.Ctx, status int, err error) error {
	return c.Status(status).JSON(APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

// SendErrorMessage sends an error response with a custom message
func SendErrorMessage(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(APIResponse{
		Success: false,
		Error:   message,
	})
}

// SendDeviceError maps a driver error to an HTTP status and reports the
// recovery action with it.
func SendDeviceError(c *fiber.Ctx, err error) error {
	return c.Status(deviceErrorStatus(err)).JSON(APIResponse{
		Success: false,
		Error:   err.Error(),
		Action:  adrv9001.ActionOf(err).String(),
	})
}

func deviceErrorStatus(err error) int {
	switch {
	case errors.Is(err, adrv9001.ErrInvalidParameter):
		return fiber.StatusBadRequest
	case errors.Is(err, adrv9001.ErrInvalidState), errors.Is(err, adrv9001.ErrMailboxBusy):
		return fiber.StatusConflict
	case errors.Is(err, adrv9001.ErrTimeout):
		return fiber.StatusGatewayTimeout
	case errors.Is(err, adrv9001.ErrTransport), errors.Is(err, adrv9001.ErrArmCommand):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}
