// Package dedup detects duplicate images within a survey using perceptual
// hashing and produces the stored artifacts for canonical images.
package dedup

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/corona10/goimagehash"
	"golang.org/x/image/draw"
)

const (
	// thumbnailMaxDim bounds both thumbnail dimensions. Images already
	// smaller are never upscaled.
	thumbnailMaxDim = 500

	jpegQuality = 85
)

// PerceptualHash computes the 64-bit perception hash of an image as a hex
// string. Re-encoding artifacts and resizing leave the hash unchanged, so
// the same photograph uploaded twice at different sizes collides here.
func PerceptualHash(img image.Image) (string, error) {
	h, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return "", fmt.Errorf("perception hash: %w", err)
	}
	return fmt.Sprintf("%016x", h.GetHash()), nil
}

// EncodeJPEG re-encodes an image as JPEG. All stored artifacts are JPEG
// regardless of the source format, so downstream consumers handle one
// format.
func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// Thumbnail scales an image to fit within the thumbnail bounding box,
// preserving aspect ratio. Images already inside the box are returned
// unchanged.
func Thumbnail(img image.Image) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= thumbnailMaxDim && h <= thumbnailMaxDim {
		return img
	}

	scale := float64(thumbnailMaxDim) / float64(w)
	if s := float64(thumbnailMaxDim) / float64(h); s < scale {
		scale = s
	}
	tw := int(float64(w) * scale)
	th := int(float64(h) * scale)
	if tw < 1 {
		tw = 1
	}
	if th < 1 {
		th = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, tw, th))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, bounds, draw.Src, nil)
	return dst
}
