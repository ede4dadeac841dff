// Package media prepares image attachments for vision-capable models:
// mime sniffing, downscaling oversized images, and base64 encoding.
package media

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/quietloop/fennec/internal/providers"
)

// maxDimension is the longest edge vision APIs accept without server-side
// resizing; larger images are downscaled client-side to save tokens.
const maxDimension = 1568

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true, ".bmp": true,
}

// IsImagePath reports whether path looks like an image file.
func IsImagePath(path string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(path))]
}

// LoadImage reads an image file and returns it base64-encoded, downscaled
// when either edge exceeds the vision limit.
func LoadImage(path string) (providers.ImageContent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return providers.ImageContent{}, fmt.Errorf("read image %s: %w", path, err)
	}

	mimeType := http.DetectContentType(data)
	if !strings.HasPrefix(mimeType, "image/") {
		return providers.ImageContent{}, fmt.Errorf("%s is not an image (%s)", path, mimeType)
	}

	if resized, ok := downscale(data); ok {
		data = resized
		mimeType = "image/jpeg"
	}

	return providers.ImageContent{
		MimeType: mimeType,
		Data:     base64.StdEncoding.EncodeToString(data),
	}, nil
}

// downscale re-encodes an oversized image as JPEG fitted inside the vision
// limit. Returns ok=false when the image is small enough or undecodable
// (animated GIFs land here; they pass through untouched).
func downscale(data []byte) ([]byte, bool) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, false
	}
	bounds := img.Bounds()
	if bounds.Dx() <= maxDimension && bounds.Dy() <= maxDimension {
		return nil, false
	}

	fitted := imaging.Fit(img, maxDimension, maxDimension, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, fitted, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return nil, false
	}
	return buf.Bytes(), true
}
