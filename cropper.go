package main

import (
	"context"
	"fmt"
	"image"
	"io"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
)

// ImagingCropper is an implementation of the Cropper interface
// using the disintegration/imaging library
type ImagingCropper struct {
	Format  string
	Quality int
}

// Crop implements the Cropper interface using the imaging library.
// It reads an image from r, crops it according to the relative crop,
// and writes the result to w in the cropper's format.
func (c *ImagingCropper) Crop(ctx context.Context, r io.Reader, w io.Writer, crop Crop) error {
	src, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("failed to decode image: %w", err)
	}

	cropRect, err := crop.Rect(src.Bounds())
	if err != nil {
		return err
	}

	return c.encode(w, imaging.Crop(src, cropRect))
}

func (c *ImagingCropper) encode(w io.Writer, img image.Image) error {
	switch c.Format {
	case "png":
		return imaging.Encode(w, img, imaging.PNG)
	case "webp":
		return webp.Encode(w, img, &webp.Options{Quality: float32(c.Quality)})
	default:
		return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(c.Quality))
	}
}

// Extension returns the file extension matching the output format.
func (c *ImagingCropper) Extension() string {
	switch c.Format {
	case "png":
		return ".png"
	case "webp":
		return ".webp"
	default:
		return ".jpg"
	}
}

// NewImagingCropper creates a new instance of ImagingCropper
func NewImagingCropper(format string, quality int) *ImagingCropper {
	if quality <= 0 || quality > 100 {
		quality = 90
	}
	return &ImagingCropper{Format: format, Quality: quality}
}
