package service

// QRCodeService generates QR code images for vendor tracking links.
type QRCodeService interface {
	// GenerateTrackingQR renders a PNG QR code that deep-links a customer
	// app to the vendor's live position.
	GenerateTrackingQR(vendorID string) ([]byte, error)
	// ParseTrackingQR extracts the vendor id from scanned QR content.
	ParseTrackingQR(qrData string) (string, error)
}
