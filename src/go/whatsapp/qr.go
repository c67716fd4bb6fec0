package whatsapp

import (
	"fmt"

	"github.com/skip2/go-qrcode"
	"github.com/vincent-petithory/dataurl"
)

// QREncoder turns a raw pairing code into a displayable image string.
type QREncoder func(code string) (string, error)

// EncodeQRDataURL renders the pairing code as a 256px PNG and returns it as
// a data:image/png;base64 URL, ready for an <img> tag.
func EncodeQRDataURL(code string) (string, error) {
	if code == "" {
		return "", fmt.Errorf("empty QR code")
	}
	png, err := qrcode.Encode(code, qrcode.Medium, 256)
	if err != nil {
		return "", fmt.Errorf("failed to encode QR code: %w", err)
	}
	return dataurl.New(png, "image/png").String(), nil
}
