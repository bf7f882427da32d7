package handler

import (
	"net/http"

	"beacon/internal/domain/service"

	"github.com/labstack/echo/v4"
	"go.uber.org/fx"
)

// QRHandler serves vendor tracking QR codes.
type QRHandler struct {
	qrSvc service.QRCodeService
}

// QRHandlerParams holds dependencies for the QRHandler
type QRHandlerParams struct {
	fx.In

	QRSvc service.QRCodeService
}

// NewQRHandler creates the QR code handler.
func NewQRHandler(params QRHandlerParams) *QRHandler {
	return &QRHandler{qrSvc: params.QRSvc}
}

// HandleVendorQR returns a PNG QR code deep-linking to the vendor's live position.
func (h *QRHandler) HandleVendorQR(c echo.Context) error {
	vendorID := c.Param("id")
	if vendorID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "vendor id is required")
	}

	png, err := h.qrSvc.GenerateTrackingQR(vendorID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to generate QR code")
	}

	return c.Blob(http.StatusOK, "image/png", png)
}
