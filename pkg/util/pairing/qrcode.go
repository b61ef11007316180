package pairing

import (
	"encoding/base64"
	"fmt"

	"chatty_session_server/pkg/constants"

	qrcode "github.com/skip2/go-qrcode"
)

const dataURLPrefix = "data:image/png;base64,"

// RenderQR 把配对码渲染成可直接放进 <img src> 的 PNG data URL
func RenderQR(code string) (string, error) {
	if code == "" {
		return "", fmt.Errorf("empty pairing code")
	}
	png, err := qrcode.Encode(code, qrcode.Medium, constants.PAIRING_QR_SIZE)
	if err != nil {
		return "", fmt.Errorf("encode qr: %w", err)
	}
	return dataURLPrefix + base64.StdEncoding.EncodeToString(png), nil
}
