//go:build !linux || !cgo

package media

import (
	"errors"

	"github.com/pion/mediadevices"
)

// Capture drivers are wired for Linux only. Other platforms run the
// simulated binding or receive-only.
func newCodecSelector() (*mediadevices.CodecSelector, error) {
	return nil, nil
}

func captureUserMedia(_ *mediadevices.CodecSelector) (mediadevices.MediaStream, error) {
	return nil, errors.New("local media capture not supported on this platform")
}
