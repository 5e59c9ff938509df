package transform

import (
	"context"
	"time"

	"media-gateway/internal/preset"
)

// Descriptor summarizes one local processing call.
type Descriptor struct {
	Processed    bool
	OriginalSize int64
	FinalSize    int64
	Reduction    float64
	Duration     time.Duration
	Reason       string
	MimeType     string
	Width        int
	Height       int
}

// Processor is the local processing path. It is stateless and safe for concurrent use.
type Processor struct {
	t Transformer
}

// NewProcessor wraps a transform primitive.
func NewProcessor(t Transformer) *Processor {
	return &Processor{t: t}
}

// Process transforms data with the preset. When the transform is skipped, the type
// is unsupported, or the output would not be smaller, the original bytes are returned
// with Processed=false and a reason.
func (p *Processor) Process(ctx context.Context, data []byte, mimeType string, ps preset.Preset, skip bool) ([]byte, Descriptor, error) {
	start := time.Now()
	desc := Descriptor{
		OriginalSize: int64(len(data)),
		FinalSize:    int64(len(data)),
		MimeType:     mimeType,
	}
	switch {
	case skip:
		desc.Reason = "processing skipped"
	case !IsTransformable(mimeType):
		desc.Reason = "unsupported content type"
	}
	if desc.Reason != "" {
		desc.Duration = time.Since(start)
		return data, desc, nil
	}

	out, info, err := p.t.Transform(ctx, data, mimeType, ParamsFor(ps))
	desc.Duration = time.Since(start)
	if err != nil {
		desc.Reason = err.Error()
		return nil, desc, err
	}
	if len(out) >= len(data) {
		desc.Reason = "no size reduction"
		return data, desc, nil
	}

	desc.Processed = true
	desc.FinalSize = int64(len(out))
	desc.Reduction = Reduction(desc.OriginalSize, desc.FinalSize)
	desc.MimeType = info.MimeType
	desc.Width = info.Width
	desc.Height = info.Height
	return out, desc, nil
}

// Reduction is the size saving in percent, never negative.
func Reduction(original, final int64) float64 {
	if original <= 0 || final >= original {
		return 0
	}
	return float64(original-final) / float64(original) * 100
}
