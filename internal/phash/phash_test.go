package phash

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func sampleImage() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 4), G: uint8(y * 4), B: uint8((x + y) * 2), A: 255})
		}
	}
	return img
}

func encode(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func TestHashIsDeterministic(t *testing.T) {
	data := encode(t, sampleImage())
	h1, err := Hash(data)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	h2, err := Hash(data)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("hash not deterministic: %s != %s", h1, h2)
	}
	if len(h1) < 30 {
		t.Fatalf("hash too short: %d chars", len(h1))
	}
}

func TestHashDistinguishesDifferentPixels(t *testing.T) {
	a := sampleImage()
	b := sampleImage()
	b.Set(10, 10, color.NRGBA{R: 255, G: 0, B: 0, A: 255})
	b.Set(11, 10, color.NRGBA{R: 0, G: 0, B: 0, A: 255})
	b.Set(10, 11, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
	b.Set(11, 11, color.NRGBA{R: 0, G: 255, B: 0, A: 255})

	h1 := HashImage(a)
	h2 := HashImage(b)
	if h1 == h2 {
		t.Fatal("expected distinct hashes for distinct pixel content")
	}
}

func TestHashSurvivesReencode(t *testing.T) {
	img := sampleImage()
	data1 := encode(t, img)

	// Re-decode and re-encode: simulates an encoder re-muxing identical
	// pixel content into a fresh PNG byte stream.
	decoded, err := png.Decode(bytes.NewReader(data1))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	data2 := encode(t, decoded)

	h1, err := Hash(data1)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	h2, err := Hash(data2)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("hash changed across re-encode: %s != %s", h1, h2)
	}
}
