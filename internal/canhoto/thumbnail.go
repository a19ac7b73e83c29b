package canhoto

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"

	"github.com/vhfmag/canhotos-keeper/internal/recognition"
)

// Thumbnailer produces a downscaled preview of an image as a base64
// encoded JPEG payload.
type Thumbnailer interface {
	Thumbnail(imageData []byte, contentType string) (string, error)
}

// ImageThumbnailer implements Thumbnailer with in-process decoding and
// scaling. PDFs are rendered to an image first; HEIC photos decode
// through the same path recognition input does.
type ImageThumbnailer struct {
	MaxWidth int
	Quality  int
}

// NewImageThumbnailer returns a thumbnailer with the default preview
// geometry: max width 600, JPEG quality 80.
func NewImageThumbnailer() *ImageThumbnailer {
	return &ImageThumbnailer{MaxWidth: 600, Quality: 80}
}

// Thumbnail decodes the source, scales it down to MaxWidth preserving
// aspect ratio (never upscaling), and re-encodes as base64 JPEG.
func (t *ImageThumbnailer) Thumbnail(imageData []byte, contentType string) (string, error) {
	var img image.Image
	var err error
	if contentType == "application/pdf" {
		var pngData []byte
		pngData, err = recognition.PDFToImage(imageData)
		if err != nil {
			return "", err
		}
		img, err = recognition.DecodeImage(pngData, "image/png")
	} else {
		img, err = recognition.DecodeImage(imageData, contentType)
	}
	if err != nil {
		return "", err
	}

	scaled := t.scale(img)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, scaled, &jpeg.Options{Quality: t.Quality}); err != nil {
		return "", fmt.Errorf("encoding thumbnail: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func (t *ImageThumbnailer) scale(img image.Image) image.Image {
	bounds := img.Bounds()
	if bounds.Dx() <= t.MaxWidth {
		return img
	}
	w := t.MaxWidth
	h := bounds.Dy() * w / bounds.Dx()
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}
