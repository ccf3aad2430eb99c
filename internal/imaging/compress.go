package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

// Recompress decodes a JPEG, resamples it onto a canvas of identical size and
// re-encodes it with the encoder's default settings. The output always has the
// same pixel dimensions as the input.
func Recompress(data []byte) ([]byte, image.Point, error) {
	src, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, image.Point{}, fmt.Errorf("failed to decode jpeg: %w", err)
	}
	size := src.Bounds().Size()

	dst := image.NewRGBA(image.Rect(0, 0, size.X, size.Y))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, nil); err != nil {
		return nil, image.Point{}, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	if got := dst.Bounds().Size(); got != size {
		return nil, image.Point{}, fmt.Errorf("re-encoded image is %v, source is %v", got, size)
	}
	return buf.Bytes(), size, nil
}

// Decode decodes an image in any registered format.
func Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

// EncodeJPEG encodes img with the default JPEG settings.
func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
