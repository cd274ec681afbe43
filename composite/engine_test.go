package composite

import (
	"image"
	"image/color"
	"image/draw"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chaos-io/cutout/util"
)

func newTestEngine() *Engine {
	return NewEngine(zap.NewNop())
}

// uniformRect builds a w×h image filled with a single color.
func uniformRect(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
	return img
}

func solidRed() Background {
	return Background{Kind: BackgroundSolid, Color: color.NRGBA{R: 255, A: 255}}
}

func TestRender_OpaqueForegroundOverSolidColor(t *testing.T) {
	fg := uniformRect(10, 10, color.NRGBA{B: 255, A: 255})
	e := newTestEngine()

	got, err := e.Render(fg, EditConfig{Background: solidRed(), Effect: Effect{Kind: EffectNone}})
	require.NoError(t, err)

	// Reference: fill the surface red, then overdraw the foreground.
	want := image.NewNRGBA(image.Rect(0, 0, 10, 10))
	draw.Draw(want, want.Bounds(), image.NewUniform(color.NRGBA{R: 255, A: 255}), image.Point{}, draw.Src)
	draw.Draw(want, want.Bounds(), fg, image.Point{}, draw.Over)

	assert.Equal(t, want.Pix, got.Pix, "composite must match fill-then-overdraw pixel by pixel")

	// A fully opaque foreground hides the background entirely.
	for i := 0; i < len(got.Pix); i += 4 {
		assert.Equal(t, uint8(0), got.Pix[i], "red channel at %d", i)
		assert.Equal(t, uint8(255), got.Pix[i+2], "blue channel at %d", i)
		assert.Equal(t, uint8(255), got.Pix[i+3], "alpha at %d", i)
	}
}

func TestRender_TransparentRegionShowsBackground(t *testing.T) {
	fg := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	// Top half opaque green, bottom half fully transparent.
	draw.Draw(fg, image.Rect(0, 0, 4, 2), image.NewUniform(color.NRGBA{G: 255, A: 255}), image.Point{}, draw.Src)

	e := newTestEngine()
	got, err := e.Render(fg, EditConfig{Background: solidRed(), Effect: Effect{Kind: EffectNone}})
	require.NoError(t, err)

	top := got.NRGBAAt(1, 0)
	assert.Equal(t, color.NRGBA{G: 255, A: 255}, top)

	bottom := got.NRGBAAt(1, 3)
	assert.Equal(t, color.NRGBA{R: 255, A: 255}, bottom)
}

func TestRender_PartialAlphaBlend(t *testing.T) {
	// 2×2 half-transparent white over solid black: out ≈ 50% gray.
	fg := uniformRect(2, 2, color.NRGBA{R: 255, G: 255, B: 255, A: 128})
	bg := Background{Kind: BackgroundSolid, Color: color.NRGBA{A: 255}}

	e := newTestEngine()
	got, err := e.Render(fg, EditConfig{Background: bg, Effect: Effect{Kind: EffectNone}})
	require.NoError(t, err)

	px := got.NRGBAAt(0, 0)
	assert.InDelta(t, 128, int(px.R), 2)
	assert.InDelta(t, 128, int(px.G), 2)
	assert.InDelta(t, 128, int(px.B), 2)
	assert.Equal(t, uint8(255), px.A)
}

func TestRender_Deterministic(t *testing.T) {
	fg := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	for i := range fg.Pix {
		fg.Pix[i] = uint8(i * 7)
	}

	cfg := EditConfig{
		Background: solidRed(),
		Effect:     Effect{Kind: EffectBlur, Intensity: 60},
	}

	e := newTestEngine()
	first, err := e.Render(fg, cfg)
	require.NoError(t, err)
	second, err := e.Render(fg, cfg)
	require.NoError(t, err)

	assert.Equal(t, first.Pix, second.Pix, "identical inputs must yield pixel-identical output")
}

func TestRender_ImageFillStretchedToOutput(t *testing.T) {
	// A 2×2 background behind an 8×4 foreground: the fill must cover the
	// whole surface, aspect ratio ignored.
	bgImg := uniformRect(2, 2, color.NRGBA{B: 200, A: 255})
	bgData, err := util.EncodePNG(bgImg)
	require.NoError(t, err)

	fg := image.NewNRGBA(image.Rect(0, 0, 8, 4)) // fully transparent

	e := newTestEngine()
	got, err := e.Render(fg, EditConfig{
		Background: Background{Kind: BackgroundImage, Image: bgData},
		Effect:     Effect{Kind: EffectNone},
	})
	require.NoError(t, err)

	assert.Equal(t, 8, got.Bounds().Dx())
	assert.Equal(t, 4, got.Bounds().Dy())
	for y := 0; y < 4; y++ {
		for x := 0; x < 8; x++ {
			assert.Equal(t, uint8(255), got.NRGBAAt(x, y).A, "fill must reach (%d,%d)", x, y)
		}
	}
}

func TestRender_CorruptBackgroundDegradesToTransparent(t *testing.T) {
	fg := image.NewNRGBA(image.Rect(0, 0, 3, 3)) // fully transparent

	e := newTestEngine()
	got, err := e.Render(fg, EditConfig{
		Background: Background{Kind: BackgroundImage, Image: []byte("not an image")},
		Effect:     Effect{Kind: EffectNone},
	})
	require.NoError(t, err, "a bad background fill must not abort the render")

	for i := 3; i < len(got.Pix); i += 4 {
		assert.Equal(t, uint8(0), got.Pix[i], "fill degrades to fully transparent")
	}
}

func TestRender_NilInput(t *testing.T) {
	e := newTestEngine()
	_, err := e.Render(nil, EditConfig{})
	assert.Error(t, err)
}

func TestRenderPNG_RoundTrip(t *testing.T) {
	fg := uniformRect(5, 5, color.NRGBA{G: 255, A: 255})

	e := newTestEngine()
	data, err := e.RenderPNG(fg, EditConfig{Background: solidRed(), Effect: Effect{Kind: EffectNone}})
	require.NoError(t, err)

	decoded, err := util.DecodeImage(data)
	require.NoError(t, err)
	assert.Equal(t, 5, decoded.Bounds().Dx())

	r, g, b, a := decoded.At(2, 2).RGBA()
	assert.Equal(t, uint32(0), r>>8)
	assert.Equal(t, uint32(255), g>>8)
	assert.Equal(t, uint32(0), b>>8)
	assert.Equal(t, uint32(255), a>>8)
}
