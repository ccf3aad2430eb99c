// Package histmatch remaps the colours of one image so that each channel's
// cumulative distribution follows the one of another image.
package histmatch

import (
	"errors"
	"image"
	"image/color"
	"math"
	"sort"

	"golang.org/x/image/draw"
)

// CanvasSize is the side of the square working canvas both inputs are
// resampled to before analysis.
const CanvasSize = 128

const levels = 256

// ErrChannelMismatch is returned when the two normalized inputs do not carry
// the same number of colour channels, or one of them carries none.
var ErrChannelMismatch = errors.New("source and target channel counts differ")

// Match returns a composite of three equal panels laid out left to right: the
// normalized source, the target resampled to the source size, and the source
// remapped to the target's per-channel distribution.
func Match(source, target image.Image) (*image.RGBA, error) {
	if source == nil || target == nil {
		return nil, errors.New("histmatch: nil image")
	}
	channels := channelCount(source)
	if channels == 0 || channels != channelCount(target) {
		return nil, ErrChannelMismatch
	}

	src := resample(source, CanvasSize, CanvasSize)
	tgt := resample(target, CanvasSize, CanvasSize)
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	if tw, th := tgt.Bounds().Dx(), tgt.Bounds().Dy(); tw != w || th != h {
		tgt = resample(tgt, w, h)
	}

	matched := image.NewRGBA(src.Bounds())
	copy(matched.Pix, src.Pix)
	for c := 0; c < channels; c++ {
		table := mappingTable(histogram(src, c), histogram(tgt, c))
		applyTable(matched, c, table)
	}

	out := image.NewRGBA(image.Rect(0, 0, 3*w, h))
	for i, panel := range []*image.RGBA{src, tgt, matched} {
		r := image.Rect(i*w, 0, (i+1)*w, h)
		draw.Draw(out, r, panel, panel.Bounds().Min, draw.Src)
	}
	return out, nil
}

// channelCount is the number of colour channels img has once drawn onto the
// RGB working canvas. Gray is replicated into all three; an alpha-only image
// has none.
func channelCount(img image.Image) int {
	switch img.ColorModel() {
	case color.AlphaModel, color.Alpha16Model:
		return 0
	default:
		return 3
	}
}

func resample(img image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	// Alpha is dropped so every panel is opaque.
	for i := 3; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = 0xff
	}
	return dst
}

func histogram(img *image.RGBA, channel int) [levels]int {
	var hist [levels]int
	for i := channel; i < len(img.Pix); i += 4 {
		hist[img.Pix[i]]++
	}
	return hist
}

func cdf(hist [levels]int) [levels]float64 {
	var total int
	for _, n := range hist {
		total += n
	}
	var out [levels]float64
	if total == 0 {
		return out
	}
	var running int
	for v, n := range hist {
		running += n
		out[v] = float64(running) / float64(total)
	}
	return out
}

func occupiedBins(hist [levels]int) int {
	var n int
	for _, count := range hist {
		if count > 0 {
			n++
		}
	}
	return n
}

func identityTable() [levels]uint8 {
	var table [levels]uint8
	for v := range table {
		table[v] = uint8(v)
	}
	return table
}

// mappingTable maps every source level to the target level whose cumulative
// probability reaches the source's, interpolating linearly between the two
// target levels that bracket it. A constant channel on either side has a
// single-step distribution and maps to itself.
func mappingTable(srcHist, tgtHist [levels]int) [levels]uint8 {
	if occupiedBins(srcHist) <= 1 || occupiedBins(tgtHist) <= 1 {
		return identityTable()
	}
	srcCDF := cdf(srcHist)
	tgtCDF := cdf(tgtHist)

	var table [levels]uint8
	for v := 0; v < levels; v++ {
		p := srcCDF[v]
		j := sort.Search(levels, func(i int) bool { return tgtCDF[i] >= p })
		var value float64
		switch {
		case j >= levels:
			value = levels - 1
		case j == 0 || tgtCDF[j] == p:
			value = float64(j)
		default:
			lo := tgtCDF[j-1]
			value = float64(j-1) + (p-lo)/(tgtCDF[j]-lo)
		}
		table[v] = uint8(math.Max(0, math.Min(levels-1, math.Round(value))))
	}
	return table
}

func applyTable(img *image.RGBA, channel int, table [levels]uint8) {
	for i := channel; i < len(img.Pix); i += 4 {
		img.Pix[i] = table[img.Pix[i]]
	}
}
