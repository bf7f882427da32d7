package handler

import (
	"net/http"

	"beacon/internal/presence"

	"github.com/labstack/echo/v4"
	"go.uber.org/fx"
)

// PresenceHandler serves REST snapshots of the presence store. Clients use
// these for the initial board fill and for full refreshes after reconnects.
type PresenceHandler struct {
	store *presence.Store
}

// PresenceHandlerParams holds dependencies for the PresenceHandler
type PresenceHandlerParams struct {
	fx.In

	Store *presence.Store
}

// NewPresenceHandler creates the presence snapshot handler.
func NewPresenceHandler(params PresenceHandlerParams) *PresenceHandler {
	return &PresenceHandler{store: params.Store}
}

// HandleOnlineVendors returns every vendor currently broadcasting.
func (h *PresenceHandler) HandleOnlineVendors(c echo.Context) error {
	return c.JSON(http.StatusOK, h.store.Online())
}

// HandleVendorPresence returns the current state of one vendor.
func (h *PresenceHandler) HandleVendorPresence(c echo.Context) error {
	vendorID := c.Param("id")
	if vendorID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "vendor id is required")
	}

	current, ok := h.store.Get(c.Request().Context(), vendorID)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "vendor has no recorded presence")
	}

	return c.JSON(http.StatusOK, current)
}
