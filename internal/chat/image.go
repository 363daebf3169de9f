package chat

import (
	"encoding/base64"
	"errors"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// ErrInvalidImage is returned for image payloads that are not base64 image data URLs.
var ErrInvalidImage = errors.New("invalid image payload")

// validateImage checks that dataURL is "data:image/<x>;base64,<payload>" and
// that the decoded payload actually sniffs as an image.
func validateImage(dataURL string) error {
	rest, ok := strings.CutPrefix(strings.TrimSpace(dataURL), "data:")
	if !ok {
		return ErrInvalidImage
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return ErrInvalidImage
	}
	declared, encoding, _ := strings.Cut(meta, ";")
	if !strings.HasPrefix(strings.ToLower(declared), "image/") || !strings.EqualFold(encoding, "base64") {
		return ErrInvalidImage
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil || len(raw) == 0 {
		return ErrInvalidImage
	}
	if !strings.HasPrefix(mimetype.Detect(raw).String(), "image/") {
		return ErrInvalidImage
	}
	return nil
}
