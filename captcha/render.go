package captcha

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"sync"

	"github.com/golang/freetype/truetype"
	"github.com/mojocn/base64Captcha"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/math/f64"
	"golang.org/x/image/math/fixed"
)

const (
	// maxTilt bounds the per-glyph rotation in radians, either way.
	maxTilt = 0.1
	// Stroke lines drawn across each image: minLines + rand[0, lineSpread).
	minLines    = 5
	lineSpread  = 40
	noiseSource = base64Captcha.TxtNumbers + base64Captcha.TxtAlphabet + ",.[]<>"
)

var (
	fontsOnce  sync.Once
	codeFont   *truetype.Font
	noiseFonts []*truetype.Font
)

func loadFonts() {
	fontsOnce.Do(func() {
		codeFont = base64Captcha.DefaultEmbeddedFonts.LoadFontByName("fonts/wqy-microhei.ttc")
		noiseFonts = base64Captcha.DefaultEmbeddedFonts.LoadFontsByNames([]string{
			"fonts/Comismsh.ttf",
			"fonts/RitaSmith.ttf",
			"fonts/actionj.ttf",
			"fonts/chromohv.ttf",
		})
	})
}

// Renderer draws codes into PNG images. Each glyph gets its own tilt, horizontal jitter,
// size and colour, over a random number of stroke lines and a sprinkle of faint noise glyphs.
type Renderer struct {
	width, height int
	slot          int
	margin        int
	bg            color.RGBA

	// knobs so tests can switch the clutter off
	lines func() int
	noise func() int
}

// NewRenderer prepares a renderer for width x height images of length-symbol codes.
func NewRenderer(width, height, length int) *Renderer {
	loadFonts()
	if length <= 0 {
		length = DefaultLength
	}
	margin := width / 20
	return &Renderer{
		width:  width,
		height: height,
		slot:   (width - 2*margin) / length,
		margin: margin,
		bg:     color.RGBA{R: 240, G: 240, B: 240, A: 255},
		lines:  func() int { return minLines + randIndex(lineSpread) },
		noise:  func() int { return 3 + randIndex(12) },
	}
}

// Render returns the PNG encoding of code.
func (r *Renderer) Render(code string) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, r.width, r.height))
	draw.Draw(img, img.Bounds(), image.NewUniform(r.bg), image.Point{}, draw.Src)

	for i, n := 0, r.lines(); i < n; i++ {
		drawLine(img,
			randIndex(r.width), randIndex(r.height),
			randIndex(r.width), randIndex(r.height),
			base64Captcha.RandColor())
	}
	r.drawNoise(img, r.noise())

	for i, ch := range []rune(code) {
		cx := float64(r.margin+r.slot*i+r.slot/2) + jitter(float64(r.slot)/6)
		cy := float64(r.height)/2 + jitter(float64(r.height)/12)
		r.drawGlyph(img, ch, cx, cy, jitter(maxTilt))
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// drawGlyph renders ch centred in a square tile, then maps the tile onto dst rotated by
// angle around its centre and placed at (cx, cy).
func (r *Renderer) drawGlyph(dst draw.Image, ch rune, cx, cy, angle float64) {
	size := float64(r.height) * (0.55 + float64(randIndex(16))/100)
	face := truetype.NewFace(codeFont, &truetype.Options{Size: size, DPI: 72, Hinting: font.HintingFull})
	defer face.Close()

	tileSize := r.height
	tile := image.NewRGBA(image.Rect(0, 0, tileSize, tileSize))
	bounds, _ := font.BoundString(face, string(ch))
	side := fixed.I(tileSize)
	d := font.Drawer{
		Dst:  tile,
		Src:  image.NewUniform(deepColor()),
		Face: face,
		Dot: fixed.Point26_6{
			X: (side - bounds.Min.X - bounds.Max.X) / 2,
			Y: (side - bounds.Min.Y - bounds.Max.Y) / 2,
		},
	}
	d.DrawString(string(ch))

	t := float64(tileSize) / 2
	sin, cos := math.Sincos(angle)
	s2d := f64.Aff3{
		cos, -sin, cx - cos*t + sin*t,
		sin, cos, cy - sin*t - cos*t,
	}
	xdraw.BiLinear.Transform(dst, s2d, tile, tile.Bounds(), xdraw.Over, nil)
}

func (r *Renderer) drawNoise(dst draw.Image, n int) {
	for i := 0; i < n; i++ {
		size := float64(r.height) / 3
		face := truetype.NewFace(noiseFonts[randIndex(len(noiseFonts))], &truetype.Options{Size: size, DPI: 72})
		d := font.Drawer{
			Dst:  dst,
			Src:  image.NewUniform(base64Captcha.RandLightColor()),
			Face: face,
			Dot:  fixed.P(randIndex(r.width), randIndex(r.height)),
		}
		d.DrawString(string(noiseSource[randIndex(len(noiseSource))]))
		face.Close()
	}
}

// drawLine is Bresenham's line, one pixel wide.
func drawLine(img draw.Image, x0, y0, x1, y1 int, c color.Color) {
	dx, dy := abs(x1-x0), -abs(y1-y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	e := dx + dy
	for {
		img.Set(x0, y0, c)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

// deepColor keeps every channel dark enough to stand out from the light background.
func deepColor() color.RGBA {
	return color.RGBA{R: uint8(randIndex(110)), G: uint8(randIndex(110)), B: uint8(randIndex(110)), A: 255}
}

// jitter returns a uniform value in [-limit, limit].
func jitter(limit float64) float64 {
	return (float64(randIndex(2001))/1000 - 1) * limit
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
