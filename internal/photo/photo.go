// Package photo normalises face images before they are stored or sent to the
// recognition service.
package photo

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/disintegration/imaging"
)

// MaxSide bounds the longest edge of a normalised image.
const MaxSide = 640

// ErrEmpty is returned for an empty payload.
var ErrEmpty = errors.New("image payload is empty")

// Normalize decodes data, fits it inside MaxSide x MaxSide and re-encodes it
// as JPEG.
func Normalize(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	b := img.Bounds()
	if b.Dx() > MaxSide || b.Dy() > MaxSide {
		img = imaging.Fit(img, MaxSide, MaxSide, imaging.Lanczos)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	return buf.Bytes(), nil
}

// NormalizeOrRaw returns the normalised image, or data unchanged when it
// cannot be decoded. Reference images are opaque to the engine, so an
// undecodable payload is still passed through.
func NormalizeOrRaw(data []byte) []byte {
	out, err := Normalize(data)
	if err != nil {
		return data
	}
	return out
}

// DecodeDataURL accepts either a "data:image/...;base64,..." URL or bare
// base64 and returns the raw bytes.
func DecodeDataURL(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrEmpty
	}
	if strings.HasPrefix(s, "data:") {
		i := strings.IndexByte(s, ',')
		if i < 0 {
			return nil, errors.New("malformed data url")
		}
		s = s[i+1:]
	}
	return base64.StdEncoding.DecodeString(s)
}
