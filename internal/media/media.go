// Package media stores user-supplied images and returns their public URL.
package media

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// MaxImageBytes caps the decoded size of an uploaded image.
const MaxImageBytes = 5 << 20

var (
	// ErrInvalidImage is returned for malformed or unsupported data URIs.
	ErrInvalidImage = errors.New("media: invalid image")
	// ErrDisabled is returned when no object store is configured.
	ErrDisabled = errors.New("media: image uploads are disabled")
)

// Uploader stores an image given as a data URI and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, dataURI string) (string, error)
}

var extensions = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpg",
	"image/gif":  "gif",
	"image/webp": "webp",
}

// Image is a decoded data URI.
type Image struct {
	ContentType string
	Ext         string
	Data        []byte
}

// ParseDataURI decodes a base64 "data:<mime>;base64,<payload>" image URI.
func ParseDataURI(uri string) (Image, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return Image{}, fmt.Errorf("%w: not a data uri", ErrInvalidImage)
	}
	header, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return Image{}, fmt.Errorf("%w: missing payload", ErrInvalidImage)
	}
	contentType, ok := strings.CutSuffix(header, ";base64")
	if !ok {
		return Image{}, fmt.Errorf("%w: payload must be base64", ErrInvalidImage)
	}
	contentType = strings.ToLower(contentType)
	ext, ok := extensions[contentType]
	if !ok {
		return Image{}, fmt.Errorf("%w: unsupported type %q", ErrInvalidImage, contentType)
	}
	if base64.StdEncoding.DecodedLen(len(payload)) > MaxImageBytes+3 {
		return Image{}, fmt.Errorf("%w: exceeds %d bytes", ErrInvalidImage, MaxImageBytes)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Image{}, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if len(data) == 0 {
		return Image{}, fmt.Errorf("%w: empty payload", ErrInvalidImage)
	}
	if len(data) > MaxImageBytes {
		return Image{}, fmt.Errorf("%w: exceeds %d bytes", ErrInvalidImage, MaxImageBytes)
	}
	return Image{ContentType: contentType, Ext: ext, Data: data}, nil
}

// Disabled rejects every upload with ErrDisabled.
type Disabled struct{}

func (Disabled) Upload(context.Context, string) (string, error) {
	return "", ErrDisabled
}
