package imagediff

import (
	"image"

	"github.com/disintegration/imaging"
)

// MSE scores the mean squared error of all RGBA channels, each normalised
// to [0,1], and scales it to a percentage.
type MSE struct{}

// Name implements Strategy.
func (MSE) Name() string { return MethodMSE }

// Diff implements Strategy. The diff image is a faded grayscale copy of a with
// every differing pixel painted red.
func (MSE) Diff(a, b *image.NRGBA) (float64, *image.NRGBA) {
	out := imaging.AdjustContrast(imaging.Grayscale(a), -60)

	var sum float64
	n := len(a.Pix)
	for i := 0; i < n; i += 4 {
		changed := false
		for c := 0; c < 4; c++ {
			d := (float64(a.Pix[i+c]) - float64(b.Pix[i+c])) / 255
			if d != 0 {
				sum += d * d
				changed = true
			}
		}
		if changed {
			setPix(out.Pix, i)
		}
	}
	if n == 0 {
		return 0, out
	}
	return sum / float64(n) * 100, out
}

// PixelCount scores the share of pixels whose RGBA value differs.
type PixelCount struct{}

// Name implements Strategy.
func (PixelCount) Name() string { return MethodPixel }

// Diff implements Strategy. Differing pixels are red in the diff image,
// identical ones are copied from a.
func (PixelCount) Diff(a, b *image.NRGBA) (float64, *image.NRGBA) {
	out := imaging.Clone(a)

	differing := 0
	n := len(a.Pix)
	for i := 0; i < n; i += 4 {
		if a.Pix[i] != b.Pix[i] || a.Pix[i+1] != b.Pix[i+1] ||
			a.Pix[i+2] != b.Pix[i+2] || a.Pix[i+3] != b.Pix[i+3] {
			differing++
			setPix(out.Pix, i)
		}
	}
	total := n / 4
	if total == 0 {
		return 0, out
	}
	return float64(differing) / float64(total) * 100, out
}

func setPix(pix []uint8, i int) {
	pix[i] = highlight.R
	pix[i+1] = highlight.G
	pix[i+2] = highlight.B
	pix[i+3] = highlight.A
}
