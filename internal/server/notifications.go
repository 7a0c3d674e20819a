package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/alphagov/pay-connector-sub019/internal/notification"
)

// Provider payloads are small; anything larger is not a notification.
const maxNotificationBody = 1 << 20

// HandleNotification accepts a provider webhook. Providers retry on
// anything but a 2xx, so every processed notification is acknowledged with
// 200 regardless of whether it changed a charge. The only exception is a
// sender that fails verification, which gets a 403 and no processing.
func (s *Server) HandleNotification(c *gin.Context) {
	provider := strings.ToLower(strings.TrimSpace(c.Param("provider")))

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxNotificationBody))
	if err != nil {
		c.String(http.StatusBadRequest, "could not read payload")
		return
	}

	outcome := s.notifications.Handle(c.Request.Context(), provider, c.ClientIP(), payload)
	if outcome.Kind == notification.OutcomeRejected {
		c.String(http.StatusForbidden, "forbidden")
		return
	}
	c.String(http.StatusOK, "[OK]")
}
