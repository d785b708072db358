package qrtoken

import (
	"encoding/base64"
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

// imageSize matches the 300px rendering the turnstile scanners are tuned for.
const imageSize = 300

// DataURL renders the token as a PNG data URL suitable for inline display.
func DataURL(token string) (string, error) {
	png, err := qrcode.Encode(token, qrcode.Medium, imageSize)
	if err != nil {
		return "", fmt.Errorf("encode qr image: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
