// Package imaging validates skin image buffers and infers the skin
// variant (classic/slim), spec.md §4.3.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"net/http"

	"github.com/mineskin-go/generator/internal/apperr"
)

// Variant is the skin model geometry.
type Variant string

const (
	VariantClassic Variant = "classic"
	VariantSlim    Variant = "slim"
	VariantUnknown Variant = "unknown"
)

const (
	minBytes = 100
	maxBytes = 20_000

	requiredWidth = 64
	heightClassic = 64
	heightLegacy  = 32
)

// Options carries the caller-requested variant; "unknown" triggers
// inference.
type Options struct {
	Variant Variant
}

// ValidatedImage is the result of a successful validate call.
type ValidatedImage struct {
	Bytes   []byte
	MIME    string
	Width   int
	Height  int
	Variant Variant
}

// Validate runs the size, content-type, dimension, and variant-inference
// guards described in spec.md §4.3, in order.
func Validate(data []byte, opts Options) (*ValidatedImage, error) {
	if len(data) < minBytes || len(data) > maxBytes {
		return nil, apperr.ErrInvalidImage.WithMessage(
			fmt.Sprintf("image size %d bytes is outside [%d,%d]", len(data), minBytes, maxBytes))
	}

	mime := http.DetectContentType(data)
	if mime != "image/png" {
		return nil, apperr.ErrInvalidImage.WithMessage(fmt.Sprintf("unsupported content type %q", mime))
	}

	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrInvalidImage, err)
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width != requiredWidth || (height != heightClassic && height != heightLegacy) {
		return nil, apperr.ErrInvalidImage.WithMessage(
			fmt.Sprintf("invalid dimensions %dx%d, want 64x64 or 64x32", width, height))
	}

	variant := opts.Variant
	if variant == VariantUnknown || variant == "" {
		variant = inferVariant(img, height)
	}

	return &ValidatedImage{
		Bytes:   data,
		MIME:    mime,
		Width:   width,
		Height:  height,
		Variant: variant,
	}, nil
}

// inferVariant applies spec.md §4.3's variant-inference rule: legacy
// 64x32 skins are always classic; 64x64 skins are classic only if the
// right-arm overlay rectangle (x∈[54,56), y∈[20,32)) is fully opaque.
func inferVariant(img image.Image, height int) Variant {
	if height == heightLegacy {
		return VariantClassic
	}

	b := img.Bounds()
	for y := 20; y < 32; y++ {
		for x := 54; x < 56; x++ {
			_, _, _, a := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			// RGBA() returns alpha premultiplied & scaled to 16 bits;
			// 0xffff is fully opaque.
			if a != 0xffff {
				return VariantSlim
			}
		}
	}
	return VariantClassic
}
