package composite

import "image"

func applyEffect(img *image.NRGBA, effect Effect) {
	intensity := clampIntensity(effect.Intensity)
	switch effect.Kind {
	case EffectBlur:
		applyBlur(img, intensity)
	case EffectBrightness:
		applyBrightness(img, intensity)
	case EffectContrast:
		applyContrast(img, intensity)
	}
}

func clampIntensity(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// applyBrightness scales each color channel by intensity/50, so 50 leaves the
// image unchanged, 100 doubles it and 0 blacks it out. Alpha is untouched.
func applyBrightness(img *image.NRGBA, intensity int) {
	factor := float64(intensity) / 50.0

	var lut [256]uint8
	for i := 0; i < 256; i++ {
		lut[i] = clamp255(float64(i) * factor)
	}

	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = lut[img.Pix[i]]
		img.Pix[i+1] = lut[img.Pix[i+1]]
		img.Pix[i+2] = lut[img.Pix[i+2]]
	}
}

// applyContrast remaps each color channel around the midpoint with
// factor = 259*(intensity+255) / (255*(259-intensity)). Alpha is untouched.
func applyContrast(img *image.NRGBA, intensity int) {
	factor := 259.0 * float64(intensity+255) / (255.0 * float64(259-intensity))

	var lut [256]uint8
	for i := 0; i < 256; i++ {
		lut[i] = clamp255(factor*(float64(i)-128) + 128)
	}

	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = lut[img.Pix[i]]
		img.Pix[i+1] = lut[img.Pix[i+1]]
		img.Pix[i+2] = lut[img.Pix[i+2]]
	}
}

// applyBlur smooths the image with a separable box blur whose radius grows
// monotonically with intensity (radius = intensity/10 output pixels). All
// four channels are blurred so soft alpha edges stay soft.
func applyBlur(img *image.NRGBA, intensity int) {
	radius := intensity / 10
	if radius < 1 {
		return
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	tmp := make([]uint8, len(img.Pix))

	// Horizontal pass: img.Pix -> tmp.
	for y := 0; y < h; y++ {
		row := y * img.Stride
		for x := 0; x < w; x++ {
			var sum [4]uint32
			count := uint32(0)
			for k := -radius; k <= radius; k++ {
				xx := x + k
				if xx < 0 || xx >= w {
					continue
				}
				p := row + xx*4
				sum[0] += uint32(img.Pix[p])
				sum[1] += uint32(img.Pix[p+1])
				sum[2] += uint32(img.Pix[p+2])
				sum[3] += uint32(img.Pix[p+3])
				count++
			}
			p := row + x*4
			tmp[p] = uint8(sum[0] / count)
			tmp[p+1] = uint8(sum[1] / count)
			tmp[p+2] = uint8(sum[2] / count)
			tmp[p+3] = uint8(sum[3] / count)
		}
	}

	// Vertical pass: tmp -> img.Pix.
	for y := 0; y < h; y++ {
		row := y * img.Stride
		for x := 0; x < w; x++ {
			var sum [4]uint32
			count := uint32(0)
			for k := -radius; k <= radius; k++ {
				yy := y + k
				if yy < 0 || yy >= h {
					continue
				}
				p := yy*img.Stride + x*4
				sum[0] += uint32(tmp[p])
				sum[1] += uint32(tmp[p+1])
				sum[2] += uint32(tmp[p+2])
				sum[3] += uint32(tmp[p+3])
				count++
			}
			p := row + x*4
			img.Pix[p] = uint8(sum[0] / count)
			img.Pix[p+1] = uint8(sum[1] / count)
			img.Pix[p+2] = uint8(sum[2] / count)
			img.Pix[p+3] = uint8(sum[3] / count)
		}
	}
}

func clamp255(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
