package handlers

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// ConsumerStatus reports whether the event consumer is currently running.
type ConsumerStatus interface {
	Running() bool
}

// HealthHandler serves the container healthcheck endpoint
type HealthHandler struct {
	consumer ConsumerStatus
}

func NewHealthHandler(consumer ConsumerStatus) *HealthHandler {
	return &HealthHandler{consumer: consumer}
}

// HealthCheck reports service health. A down event bus is surfaced but does
// not fail the check; the REST and websocket surfaces still work without it.
func (h *HealthHandler) HealthCheck(c echo.Context) error {
	kafkaStatus := "UP"
	if h.consumer == nil || !h.consumer.Running() {
		kafkaStatus = "DOWN (service still available)"
	}
	return c.JSON(http.StatusOK, echo.Map{
		"status":    "UP",
		"kafka":     kafkaStatus,
		"timestamp": time.Now().Unix(),
	})
}
