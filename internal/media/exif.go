package media

import (
	"bytes"
	"image"
	"strconv"

	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
)

// Orientation returns the EXIF orientation tag (1-8) of an image, or 1 when
// the image carries no EXIF data or the tag is unreadable.
func Orientation(data []byte) int {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return 1 // no EXIF
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	if v, err := tag.Int(0); err == nil && v >= 1 && v <= 8 {
		return v
	}
	if s, err := tag.StringVal(); err == nil {
		if v, err := strconv.Atoi(s); err == nil && v >= 1 && v <= 8 {
			return v
		}
	}
	return 1
}

// Orient returns img transformed so that it displays upright for the given
// EXIF orientation value.
//
//	1 Normal                               5 Mirrored horizontal, rotated 90° CCW
//	2 Mirrored horizontal                  6 Rotated 90° CW
//	3 Rotated 180°                         7 Mirrored horizontal, rotated 90° CW
//	4 Mirrored vertical                    8 Rotated 90° CCW
func Orient(img image.Image, orientation int) image.Image {
	switch orientation {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		return imaging.Transpose(img)
	case 6:
		return imaging.Rotate270(img)
	case 7:
		return imaging.Transverse(img)
	case 8:
		return imaging.Rotate90(img)
	default:
		return img
	}
}
