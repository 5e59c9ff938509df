package transform

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"media-gateway/internal/models"
	"media-gateway/internal/preset"
)

// Params are the knobs of a single transform call.
type Params struct {
	MaxWidth  int
	MaxHeight int
	Quality   int
	Format    preset.Format
}

// ParamsFor converts a preset into transform params.
func ParamsFor(p preset.Preset) Params {
	return Params{MaxWidth: p.Width, MaxHeight: p.Height, Quality: p.Quality, Format: p.Format}
}

// Info describes the encoded output.
type Info struct {
	Width    int
	Height   int
	Format   preset.Format
	MimeType string
}

// Transformer is the synchronous transform primitive.
type Transformer interface {
	Transform(ctx context.Context, data []byte, mimeType string, p Params) ([]byte, Info, error)
}

// Imaging implements Transformer on top of disintegration/imaging.
// It never upscales.
type Imaging struct{}

// Transform decodes, fits the image inside the bounding box and re-encodes it.
func (Imaging) Transform(ctx context.Context, data []byte, _ string, p Params) ([]byte, Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, Info{}, err
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, Info{}, fmt.Errorf("%w: decode image: %v", models.ErrTransform, err)
	}
	bounds := img.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return nil, Info{}, fmt.Errorf("%w: invalid image dimensions", models.ErrTransform)
	}

	width, height := p.MaxWidth, p.MaxHeight
	if width <= 0 {
		width = bounds.Dx()
	}
	if height <= 0 {
		height = bounds.Dy()
	}
	var out image.Image = imaging.Fit(img, width, height, imaging.Lanczos)

	format := p.Format
	if format == "" {
		format = preset.JPEG
	}
	quality := p.Quality
	if quality <= 0 {
		quality = 85
	}

	buf := &bytes.Buffer{}
	if err := imaging.Encode(buf, out, imagingFormat(format), imaging.JPEGQuality(quality), imaging.PNGCompressionLevel(png.BestCompression)); err != nil {
		return nil, Info{}, fmt.Errorf("%w: encode image: %v", models.ErrTransform, err)
	}
	return buf.Bytes(), Info{
		Width:    out.Bounds().Dx(),
		Height:   out.Bounds().Dy(),
		Format:   format,
		MimeType: MimeForFormat(format),
	}, nil
}

func imagingFormat(f preset.Format) imaging.Format {
	switch f {
	case preset.PNG:
		return imaging.PNG
	case preset.GIF:
		return imaging.GIF
	case preset.TIFF:
		return imaging.TIFF
	default:
		return imaging.JPEG
	}
}

// MimeForFormat maps an output format to its content type.
func MimeForFormat(f preset.Format) string {
	switch f {
	case preset.PNG:
		return "image/png"
	case preset.GIF:
		return "image/gif"
	case preset.TIFF:
		return "image/tiff"
	default:
		return "image/jpeg"
	}
}

// ExtensionForMime returns a file extension (without dot) for a content type.
func ExtensionForMime(mimeType string) string {
	switch strings.ToLower(mimeType) {
	case "image/png":
		return "png"
	case "image/gif":
		return "gif"
	case "image/tiff":
		return "tiff"
	case "image/webp":
		return "webp"
	case "image/jpeg", "image/jpg":
		return "jpg"
	default:
		return "bin"
	}
}

// IsTransformable reports whether the primitive can decode the content type.
func IsTransformable(mimeType string) bool {
	mt := strings.ToLower(mimeType)
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	switch mt {
	case "image/jpeg", "image/jpg", "image/png", "image/gif", "image/tiff", "image/bmp", "image/webp":
		return true
	}
	return false
}
