package util

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	"github.com/nfnt/resize"
)

// DecodeImage decodes raw image bytes in any registered format.
func DecodeImage(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	return img, err
}

// EncodePNG encodes an image as lossless PNG bytes.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ResizeWithinMax downscales img so its longest side is at most maxSize.
// Images already within the bound are returned unchanged.
func ResizeWithinMax(img image.Image, maxSize int) image.Image {
	w := img.Bounds().Dx()
	h := img.Bounds().Dy()
	longest := max(w, h)

	if longest <= maxSize {
		return img
	}

	scale := float64(maxSize) / float64(longest)
	newW := uint(float64(w) * scale)
	newH := uint(float64(h) * scale)
	return resize.Resize(newW, newH, img, resize.Lanczos3)
}
