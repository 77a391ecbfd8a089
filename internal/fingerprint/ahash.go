package fingerprint

import (
	"fmt"
	"image"
	"math/bits"
	"strconv"

	"github.com/disintegration/imaging"
)

// HashSide is the edge of the grid an image is reduced to before hashing.
const HashSide = 8

// HashBits is the length of a perceptual hash.
const HashBits = HashSide * HashSide

// Hash is a 64-bit average hash. It serializes as a fixed-length string of
// 64 '0'/'1' characters.
type Hash uint64

// AverageHash reduces img to an 8×8 grayscale grid and sets one bit per cell
// whose intensity is above the grid mean. The cost is independent of the
// input resolution beyond the single downscale.
func AverageHash(img image.Image) Hash {
	small := imaging.Resize(imaging.Grayscale(img), HashSide, HashSide, imaging.Box)

	var (
		cells [HashBits]uint32
		sum   uint32
	)
	for y := 0; y < HashSide; y++ {
		for x := 0; x < HashSide; x++ {
			v := uint32(small.NRGBAAt(x, y).R)
			cells[y*HashSide+x] = v
			sum += v
		}
	}

	var h Hash
	for i, v := range cells {
		// v > mean, kept in integers: v*64 > sum
		if v*HashBits > sum {
			h |= 1 << (HashBits - 1 - i)
		}
	}
	return h
}

// Similarity returns the share of matching bits between two hashes, 0..100.
func Similarity(a, b Hash) float64 {
	diff := bits.OnesCount64(uint64(a ^ b))
	return 100 * float64(HashBits-diff) / HashBits
}

func (h Hash) String() string {
	return fmt.Sprintf("%064b", uint64(h))
}

func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Hash) UnmarshalText(b []byte) error {
	if len(b) != HashBits {
		return fmt.Errorf("perceptual hash: want %d bits, got %d", HashBits, len(b))
	}
	v, err := strconv.ParseUint(string(b), 2, 64)
	if err != nil {
		return fmt.Errorf("perceptual hash: %w", err)
	}
	*h = Hash(v)
	return nil
}
