package vision

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"strings"

	_ "golang.org/x/image/bmp"
	xdraw "golang.org/x/image/draw" // For high-quality resizing
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// AcceptedMimeTypes are the formats the vision API takes as-is.
var AcceptedMimeTypes = []string{"image/png", "image/jpeg", "image/webp", "image/gif"}

var (
	// ErrAnimated is returned when a multi-frame image is planned.
	ErrAnimated = errors.New("animated images are not supported")
	// ErrUnsupportedFormat is returned for sources that cannot be rasterized.
	ErrUnsupportedFormat = errors.New("image format is not supported")
)

// ImageProcessorConfig configures normalization limits.
type ImageProcessorConfig struct {
	MaxLongEdge      int   `json:"max_long_edge" yaml:"max_long_edge"`           // Landscape width / portrait height bound
	MaxShortEdge     int   `json:"max_short_edge" yaml:"max_short_edge"`         // Landscape height / portrait width bound
	LargeFileBytes   int64 `json:"large_file_bytes" yaml:"large_file_bytes"`     // Size above which quality is reduced
	LargeFileQuality int   `json:"large_file_quality" yaml:"large_file_quality"` // JPEG quality (1-100) for large files
	Quality          int   `json:"quality" yaml:"quality"`                       // JPEG quality (1-100) otherwise
}

// DefaultImageProcessorConfig returns default configuration.
func DefaultImageProcessorConfig() *ImageProcessorConfig {
	return &ImageProcessorConfig{
		MaxLongEdge:      2000,
		MaxShortEdge:     768,
		LargeFileBytes:   20 << 20,
		LargeFileQuality: 75,
		Quality:          85,
	}
}

// SourceInfo describes a source image before any bytes are transformed.
type SourceInfo struct {
	MimeType string
	Width    int
	Height   int
	Size     int64
}

// Transform describes the normalization to apply. The zero value means the
// source can be sent unchanged.
type Transform struct {
	Format    string // "jpeg" when the source must be converted
	MaxWidth  int    // fit box; 0 when no resize
	MaxHeight int
	Quality   int // JPEG quality; 0 for the processor default
}

// IsZero reports whether no transform is needed.
func (t Transform) IsZero() bool {
	return t == Transform{}
}

// IsAccepted reports whether mime is taken by the vision API unchanged.
func IsAccepted(mime string) bool {
	mime = strings.ToLower(mime)
	for _, m := range AcceptedMimeTypes {
		if m == mime {
			return true
		}
	}
	return false
}

// ImageProcessor plans and applies source normalization.
type ImageProcessor struct {
	cfg ImageProcessorConfig
}

// NewImageProcessor creates a new image processor.
func NewImageProcessor(cfg *ImageProcessorConfig) *ImageProcessor {
	def := DefaultImageProcessorConfig()
	if cfg == nil {
		cfg = def
	}
	c := *cfg
	if c.MaxLongEdge <= 0 {
		c.MaxLongEdge = def.MaxLongEdge
	}
	if c.MaxShortEdge <= 0 {
		c.MaxShortEdge = def.MaxShortEdge
	}
	if c.LargeFileBytes <= 0 {
		c.LargeFileBytes = def.LargeFileBytes
	}
	if c.LargeFileQuality <= 0 {
		c.LargeFileQuality = def.LargeFileQuality
	}
	if c.Quality <= 0 {
		c.Quality = def.Quality
	}
	return &ImageProcessor{cfg: c}
}

// Plan decides the transform for a source. SVG and other vector sources are
// rejected.
func (p *ImageProcessor) Plan(info SourceInfo) (Transform, error) {
	mime := strings.ToLower(info.MimeType)
	if strings.HasPrefix(mime, "image/svg") {
		return Transform{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, info.MimeType)
	}

	var t Transform
	if !IsAccepted(mime) {
		t.Format = "jpeg"
	}

	w, h := info.Width, info.Height
	long, short := p.cfg.MaxLongEdge, p.cfg.MaxShortEdge
	switch {
	case w > h && (w > long || h > short):
		t.MaxWidth, t.MaxHeight = long, short
	case h > w && (h > long || w > short):
		t.MaxWidth, t.MaxHeight = short, long
	case w == h && w > short:
		t.MaxWidth, t.MaxHeight = short, short
	}

	if t.IsZero() && info.Size > p.cfg.LargeFileBytes {
		t.Format = "jpeg"
		t.Quality = p.cfg.LargeFileQuality
	}
	return t, nil
}

// IsAnimated reports whether data holds more than one frame. GIF, APNG and
// animated WebP are recognized.
func IsAnimated(data []byte) bool {
	switch {
	case bytes.HasPrefix(data, []byte("GIF8")):
		// One graphic control extension per frame.
		return bytes.Count(data, []byte{0x21, 0xF9, 0x04}) > 1
	case bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")):
		idat := bytes.Index(data, []byte("IDAT"))
		if idat < 0 {
			idat = len(data)
		}
		return bytes.Contains(data[:idat], []byte("acTL"))
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP":
		return bytes.Contains(data, []byte("ANMF"))
	}
	return false
}

// Apply decodes data and applies t. It returns the new bytes and MIME type.
func (p *ImageProcessor) Apply(data []byte, t Transform) ([]byte, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	if t.MaxWidth > 0 && t.MaxHeight > 0 && (bounds.Dx() > t.MaxWidth || bounds.Dy() > t.MaxHeight) {
		img = p.resize(img, t.MaxWidth, t.MaxHeight)
	}

	outFormat := strings.ToLower(format)
	if t.Format != "" {
		outFormat = t.Format
	}

	var buf bytes.Buffer
	switch outFormat {
	case "png":
		err = png.Encode(&buf, img)
		format = "image/png"
	case "jpeg", "jpg":
		quality := t.Quality
		if quality <= 0 {
			quality = p.cfg.Quality
		}
		err = jpeg.Encode(&buf, flatten(img), &jpeg.Options{Quality: quality})
		format = "image/jpeg"
	default:
		// gif, webp, bmp, tiff: re-encode losslessly as PNG
		err = png.Encode(&buf, img)
		format = "image/png"
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), format, nil
}

// Dimensions returns the pixel size of an encoded image.
func (p *ImageProcessor) Dimensions(data []byte) (width, height int, err error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}

// resize resizes an image while maintaining aspect ratio.
func (p *ImageProcessor) resize(img image.Image, maxWidth, maxHeight int) image.Image {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	ratio := float64(width) / float64(height)
	newWidth := maxWidth
	newHeight := int(float64(maxWidth) / ratio)

	if newHeight > maxHeight {
		newHeight = maxHeight
		newWidth = int(float64(maxHeight) * ratio)
	}
	if newWidth < 1 {
		newWidth = 1
	}
	if newHeight < 1 {
		newHeight = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, xdraw.Over, nil)
	return dst
}

// flatten draws img over white so transparent pixels do not turn black in JPEG.
func flatten(img image.Image) image.Image {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)
	return dst
}
