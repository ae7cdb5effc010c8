// Package qr renders BankID QR payloads to temporary PNG files.
package qr

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	qrcode "github.com/skip2/go-qrcode"
)

const imageSize = 512

// WritePNG renders the payload as a QR code PNG inside dir and returns the
// file path. The caller owns the file and should Remove it when done.
func WritePNG(payload, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create temp dir: %w", err)
	}

	path := filepath.Join(dir, "kivra_qr.png")
	// Low error correction matches what the Kivra app itself scans fine with
	if err := qrcode.WriteFile(payload, qrcode.Low, imageSize, path); err != nil {
		return "", fmt.Errorf("failed to render QR code: %w", err)
	}
	return path, nil
}

// Remove deletes a previously written QR image. Best effort: the image is
// worthless after authentication either way.
func Remove(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Printf("QR cleanup: could not remove %s: %v", path, err)
	}
}
