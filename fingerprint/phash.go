// Package fingerprint computes content fingerprints for journal pages:
// a perceptual hash of the page image tolerant of re-photographing noise,
// and an exact digest of normalized transcript text.
package fingerprint

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math/bits"

	"golang.org/x/image/draw"

	// Register HEIC (iPhone photos) and WebP decoders so image.Decode can handle them
	_ "github.com/gen2brain/heic"
	_ "golang.org/x/image/webp"
)

const (
	// hashGrid is the downsample grid edge; the hash is one bit per cell.
	// 32x32 = 1,024 bits = 256 hex chars, fixed end to end. Storage and
	// comparison always use this exact width.
	hashGrid = 32

	// HashBits is the fingerprint width in bits
	HashBits = hashGrid * hashGrid

	hashHexLen = HashBits / 4
)

// ErrUnreadable is returned when image bytes cannot be decoded.
// An unreadable image never yields a fingerprint: an empty or default value
// would falsely collide with every other empty fingerprint.
var ErrUnreadable = errors.New("unreadable image")

// Image computes the perceptual fingerprint of an image as a 256-char hex string.
// The hash is insensitive to resolution and small pixel variation: the image is
// downsampled to a 32x32 grid, grayscaled, and each cell emits a bit indicating
// whether its luminance is at or above the grid mean.
func Image(data []byte) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnreadable, err)
	}

	// Downsample to the fixed grid
	grid := image.NewRGBA(image.Rect(0, 0, hashGrid, hashGrid))
	draw.ApproxBiLinear.Scale(grid, grid.Bounds(), img, img.Bounds(), draw.Src, nil)

	// Grayscale luminance per cell
	var lum [HashBits]float64
	var sum float64
	for y := 0; y < hashGrid; y++ {
		for x := 0; x < hashGrid; x++ {
			r, g, b, _ := grid.At(x, y).RGBA()
			l := 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
			lum[y*hashGrid+x] = l
			sum += l
		}
	}
	mean := sum / HashBits

	// One bit per cell in raster order: 1 if luminance >= mean
	var packed [HashBits / 8]byte
	for i, l := range lum {
		if l >= mean {
			packed[i/8] |= 1 << (7 - uint(i%8))
		}
	}

	return hex.EncodeToString(packed[:]), nil
}

// Distance returns the Hamming distance between two image fingerprints.
// Both must be full-width hex strings; a width mismatch is an error rather
// than an implicit re-pad, which would corrupt the comparison.
func Distance(a, b string) (int, error) {
	if len(a) != hashHexLen || len(b) != hashHexLen {
		return 0, fmt.Errorf("fingerprint width mismatch: %d and %d hex chars, want %d", len(a), len(b), hashHexLen)
	}

	rawA, err := hex.DecodeString(a)
	if err != nil {
		return 0, fmt.Errorf("invalid fingerprint: %w", err)
	}
	rawB, err := hex.DecodeString(b)
	if err != nil {
		return 0, fmt.Errorf("invalid fingerprint: %w", err)
	}

	distance := 0
	for i := range rawA {
		distance += bits.OnesCount8(rawA[i] ^ rawB[i])
	}
	return distance, nil
}
