package imagestore

import (
	"github.com/gabriel-vasile/mimetype"

	"atelier/internal/services"
)

var allowedMIMEs = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpg",
	"image/webp": "webp",
	"image/gif":  "gif",
}

// Image is validated image data together with its sniffed type.
type Image struct {
	Data []byte
	MIME string
	Ext  string
}

// Detect sniffs data and accepts only the supported raster formats.
func Detect(data []byte) (Image, error) {
	if len(data) == 0 {
		return Image{}, services.Wrap(services.ErrInvalidImage, "imagestore", "detect", "image data is empty", nil)
	}
	mime := mimetype.Detect(data).String()
	ext, ok := allowedMIMEs[mime]
	if !ok {
		return Image{}, services.Wrap(services.ErrInvalidImage, "imagestore", "detect", "unsupported mime type "+mime, nil)
	}
	return Image{Data: data, MIME: mime, Ext: ext}, nil
}
