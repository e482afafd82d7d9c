// Package imagediff compares two rendered pages pixel by pixel.
//
// Both images are placed on a shared canvas sized to the larger width and the
// larger height. Missing area is left transparent (all channels zero) rather
// than resizing, so a page that grew longer on one side shows up as a
// difference instead of being stretched away.
//
// Two strategies are available:
//
//   - mse: mean squared error across every canvas pixel and RGBA channel,
//     scaled to 0-100.
//   - pixel: share of canvas pixels whose RGBA value differs, scaled to 0-100.
package imagediff

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp" // register the WebP decoder for image.Decode

	"visualdiff/internal/core/errs"
)

// Method names.
const (
	MethodAuto  = "auto"
	MethodMSE   = "mse"
	MethodPixel = "pixel"
)

// highlight marks differing pixels in diff images.
var highlight = color.NRGBA{R: 255, A: 255}

// Strategy computes a difference metric over two canvases of equal size and
// renders the matching diff image.
type Strategy interface {
	Name() string
	Diff(a, b *image.NRGBA) (float64, *image.NRGBA)
}

// Comparator implements ports.Comparator.
type Comparator struct {
	strategy Strategy
}

// NewComparator selects the strategy for method. "auto" and "" resolve to mse.
func NewComparator(method string) (*Comparator, error) {
	switch strings.ToLower(method) {
	case "", MethodAuto, MethodMSE:
		return &Comparator{strategy: MSE{}}, nil
	case MethodPixel:
		return &Comparator{strategy: PixelCount{}}, nil
	default:
		return nil, errs.New(errs.CodeInvalidInput, "unknown comparison method %q (want auto, mse or pixel)", method)
	}
}

// Method returns the active strategy name.
func (c *Comparator) Method() string {
	return c.strategy.Name()
}

// Compare loads both images, diffs them and writes the diff image as PNG.
func (c *Comparator) Compare(pathA, pathB, diffPath string) (float64, error) {
	imgA, err := load("A", pathA)
	if err != nil {
		return 0, err
	}
	imgB, err := load("B", pathB)
	if err != nil {
		return 0, err
	}

	canvasA, canvasB := Normalize(imgA, imgB)
	if canvasA.Rect.Empty() {
		return 0, errs.New(errs.CodeComparison, "images %s and %s are empty", pathA, pathB)
	}

	pct, diff := c.strategy.Diff(canvasA, canvasB)

	if err := os.MkdirAll(filepath.Dir(diffPath), 0755); err != nil {
		return 0, errs.Wrap(errs.CodeComparison, err, "failed to create diff directory for %s", diffPath)
	}
	if err := writePNG(diffPath, diff); err != nil {
		return 0, err
	}
	return clamp(pct), nil
}

func load(side, path string) (image.Image, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, errs.New(errs.CodeComparison, "image %s not found: %s", side, path)
		}
		return nil, errs.Wrap(errs.CodeComparison, err, "image %s unreadable: %s", side, path)
	}
	img, err := imaging.Open(path)
	if err != nil {
		return nil, errs.Wrap(errs.CodeComparison, err, "failed to load image %s: %s", side, path)
	}
	return img, nil
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return errs.Wrap(errs.CodeComparison, err, "failed to create diff image %s", path)
	}
	if err := imaging.Encode(f, img, imaging.PNG); err != nil {
		f.Close()
		return errs.Wrap(errs.CodeComparison, err, "failed to encode diff image %s", path)
	}
	if err := f.Close(); err != nil {
		return errs.Wrap(errs.CodeComparison, err, "failed to write diff image %s", path)
	}
	return nil
}

// Normalize places a and b on transparent canvases of the larger width and
// the larger height, anchored at the top-left corner.
func Normalize(a, b image.Image) (*image.NRGBA, *image.NRGBA) {
	ab, bb := a.Bounds(), b.Bounds()
	w := max(ab.Dx(), bb.Dx())
	h := max(ab.Dy(), bb.Dy())
	return extend(a, w, h), extend(b, w, h)
}

func extend(img image.Image, w, h int) *image.NRGBA {
	canvas := imaging.New(w, h, color.NRGBA{})
	return imaging.Paste(canvas, img, image.Pt(0, 0))
}

func clamp(pct float64) float64 {
	switch {
	case pct < 0:
		return 0
	case pct > 100:
		return 100
	default:
		return pct
	}
}

// String implements fmt.Stringer for log output.
func (c *Comparator) String() string {
	return fmt.Sprintf("imagediff(%s)", c.Method())
}
