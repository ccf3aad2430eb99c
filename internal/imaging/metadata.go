// Package imaging holds the image transformations run by the pipeline stages:
// JPEG re-encoding and capture metadata extraction.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"
)

// MetadataHeader opens every metadata artifact.
const MetadataHeader = "**METADATA**"

// Metadata maps a metadata field name to its rendered value.
type Metadata map[string]string

// ExtractMetadata reads the basic image properties and, when present, the
// EXIF tags embedded in data. A missing EXIF block is not an error.
func ExtractMetadata(data []byte) (Metadata, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to read image header: %w", err)
	}

	md := Metadata{
		"Image Size":        fmt.Sprintf("(%d, %d)", cfg.Width, cfg.Height),
		"Image Width":       strconv.Itoa(cfg.Width),
		"Image Height":      strconv.Itoa(cfg.Height),
		"Image Format":      strings.ToUpper(format),
		"Image Mode":        colorMode(cfg.ColorModel),
		"Image is Animated": "false",
		"Frames in Image":   "1",
	}

	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		slog.Debug("No EXIF data found.", "error", err)
		return md, nil
	}
	if err := x.Walk(exifWalker(md)); err != nil {
		return md, fmt.Errorf("failed to walk exif tags: %w", err)
	}
	return md, nil
}

type exifWalker Metadata

func (w exifWalker) Walk(name exif.FieldName, tag *tiff.Tag) error {
	if tag == nil {
		return nil
	}
	w[string(name)] = strings.Trim(tag.String(), `"`)
	return nil
}

func colorMode(m color.Model) string {
	switch m {
	case color.YCbCrModel, color.NYCbCrAModel:
		return "RGB"
	case color.GrayModel, color.Gray16Model:
		return "L"
	case color.CMYKModel:
		return "CMYK"
	case color.RGBAModel, color.NRGBAModel, color.RGBA64Model, color.NRGBA64Model:
		return "RGBA"
	default:
		return fmt.Sprintf("%T", m)
	}
}

// FormatMetadata renders md as the text stored in the metadata artifact:
// a header line followed by one "key: value" line per field, sorted by key.
func FormatMetadata(md Metadata) string {
	names := make([]string, 0, len(md))
	for name := range md {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(MetadataHeader)
	b.WriteString("\n")
	for _, name := range names {
		fmt.Fprintf(&b, "%s: %s\n", name, md[name])
	}
	return b.String()
}
