// Package phash computes a deterministic perceptual hash over the
// canonicalized pixel data of a validated skin image (spec.md §4.2).
//
// The algorithm is a classic difference-hash: downscale to a fixed small
// grayscale grid, compare adjacent pixels, and pack the comparison bits
// into hex. It is invariant to PNG re-muxing of identical pixels because
// it operates purely on the decoded image.Image, never on the encoded
// bytes.
package phash

import (
	"bytes"
	"encoding/hex"
	"image"
	"image/color"
	"image/png"

	"github.com/disintegration/imaging"
)

// gridWidth/gridHeight produce (gridWidth-1)*gridHeight comparisons, each
// contributing one bit — at gridWidth=9,gridHeight=8 that is 8*8=64 bits,
// yielding a 64-bit hash (16 hex chars) per hashed plane.
// Two planes (pixel luma + alpha) give >=30 hex chars as spec.md §4.2
// requires.
const (
	gridWidth  = 9
	gridHeight = 8
)

// Hash computes the canonical hex phash for already-validated PNG bytes.
func Hash(data []byte) (string, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	return HashImage(img), nil
}

// HashImage hashes a decoded image directly, used by callers that already
// hold a decoded image.Image (avoids a second decode).
func HashImage(img image.Image) string {
	luma := downscaleGray(img, gridWidth, gridHeight, lumaValue)
	alpha := downscaleGray(img, gridWidth, gridHeight, alphaValue)

	lumaBits := diffHashBits(luma, gridWidth, gridHeight)
	alphaBits := diffHashBits(alpha, gridWidth, gridHeight)

	return packHex(lumaBits) + packHex(alphaBits)
}

func lumaValue(c color.Color) uint8 {
	r, g, b, _ := c.RGBA()
	// Rec. 601 luma, 8-bit.
	y := (299*uint32(r>>8) + 587*uint32(g>>8) + 114*uint32(b>>8)) / 1000
	return uint8(y)
}

func alphaValue(c color.Color) uint8 {
	_, _, _, a := c.RGBA()
	return uint8(a >> 8)
}

// downscaleGray resizes img to w x h and samples each pixel through
// extract, returning a flat row-major byte grid.
func downscaleGray(img image.Image, w, h int, extract func(color.Color) uint8) []uint8 {
	dst := imaging.Resize(img, w, h, imaging.Lanczos)

	out := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out[y*w+x] = extract(dst.At(x, y))
		}
	}
	return out
}

// diffHashBits compares each pixel to its right neighbor within a grid of
// gridWidth columns, producing (gridWidth-1)*gridHeight bits.
func diffHashBits(grid []uint8, w, h int) []bool {
	bitsOut := make([]bool, 0, (w-1)*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w-1; x++ {
			bitsOut = append(bitsOut, grid[y*w+x] < grid[y*w+x+1])
		}
	}
	return bitsOut
}

func packHex(bitsIn []bool) string {
	nBytes := (len(bitsIn) + 7) / 8
	out := make([]byte, nBytes)
	for i, b := range bitsIn {
		if b {
			out[i/8] |= 1 << uint(7-i%8)
		}
	}
	return hex.EncodeToString(out)
}
