package whatsapp

import (
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

// RenderQR returns a pairing code as a compact block-character QR code for
// terminal output.
func RenderQR(code string) (string, error) {
	q, err := qrcode.New(code, qrcode.Low)
	if err != nil {
		return "", fmt.Errorf("encoding QR code: %w", err)
	}
	return q.ToSmallString(false), nil
}
