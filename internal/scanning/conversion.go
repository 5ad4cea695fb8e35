package scanning

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"path/filepath"
	"strings"

	"github.com/gen2brain/heic"
	_ "golang.org/x/image/webp" // Register WebP decoder
)

// ImageError is returned when a file cannot be decoded as an image
type ImageError struct {
	ContentType string
	Cause       error
}

func (e *ImageError) Error() string {
	return fmt.Sprintf("decoding %s image: %v", e.ContentType, e.Cause)
}

func (e *ImageError) Unwrap() error {
	return e.Cause
}

// ContentType maps a file name to the MIME type implied by its extension
func ContentType(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}

// passthroughFormats are sent to the model in their original encoding
var passthroughFormats = map[string]bool{
	"png":  true,
	"jpeg": true,
	"webp": true,
}

// Image is an encoded image ready to send to a model
type Image struct {
	Data   []byte
	Format string // image/* subtype: png, jpeg or webp
}

// MIMEType returns the MIME type of the encoded data
func (i Image) MIMEType() string {
	return "image/" + i.Format
}

// PrepareImage checks that imageData is a decodable image and returns it ready
// for Extract. PNG, JPEG and WebP keep their original bytes; HEIC and anything
// else the decoders understand is re-encoded as PNG.
// The content type is only a hint: phones often save HEIC data under a .jpg name,
// so the bytes are sniffed first.
func PrepareImage(imageData []byte, contentType string) (Image, error) {
	mimeType := strings.ToLower(strings.TrimSpace(contentType))
	if mimeType == "" {
		mimeType = "image/jpeg" // default
	}

	if isHEICFormat(imageData) || isHEICMimeType(mimeType) {
		img, err := heic.Decode(bytes.NewReader(imageData))
		if err != nil {
			return Image{}, &ImageError{ContentType: mimeType, Cause: err}
		}
		return encodePNG(img)
	}

	_, format, err := image.DecodeConfig(bytes.NewReader(imageData))
	if err != nil {
		return Image{}, &ImageError{ContentType: mimeType, Cause: err}
	}
	if passthroughFormats[format] {
		return Image{Data: imageData, Format: format}, nil
	}

	img, _, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		return Image{}, &ImageError{ContentType: mimeType, Cause: err}
	}
	return encodePNG(img)
}

func encodePNG(img image.Image) (Image, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return Image{}, fmt.Errorf("encoding PNG: %w", err)
	}
	return Image{Data: buf.Bytes(), Format: "png"}, nil
}

// isHEICFormat checks if the image data is in HEIC/HEIF format
// HEIC files carry an ftyp box at offset 4 with a HEIF-family brand
func isHEICFormat(data []byte) bool {
	if len(data) < 12 {
		return false
	}
	if string(data[4:8]) == "ftyp" {
		brand := string(data[8:12])
		if brand == "heic" || brand == "heif" || brand == "mif1" || brand == "msf1" {
			return true
		}
	}
	return false
}

// isHEICMimeType checks if the MIME type indicates HEIC/HEIF format
func isHEICMimeType(mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	return strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}
