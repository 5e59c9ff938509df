package transform

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"media-gateway/internal/models"
	"media-gateway/internal/preset"
)

func gradientPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 7), G: uint8(y * 13), B: uint8((x * y) % 255), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestProcessResizesIntoPreset(t *testing.T) {
	data := gradientPNG(t, 400, 300)
	p := NewProcessor(Imaging{})

	out, desc, err := p.Process(context.Background(), data, "image/png", preset.Builtin().Resolve(preset.Thumbnail), false)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !desc.Processed {
		t.Fatalf("expected processed, reason=%q", desc.Reason)
	}
	if desc.Width > 150 || desc.Height > 150 {
		t.Fatalf("output exceeds preset box: %dx%d", desc.Width, desc.Height)
	}
	if desc.MimeType != "image/jpeg" || desc.FinalSize != int64(len(out)) {
		t.Fatalf("unexpected descriptor %+v", desc)
	}
	if desc.Reduction <= 0 || desc.Reduction >= 100 {
		t.Fatalf("reduction out of range: %f", desc.Reduction)
	}
	img, _, err := image.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if img.Bounds().Dx() != 150 {
		t.Fatalf("expected width 150, got %d", img.Bounds().Dx())
	}
}

func TestProcessReturnsOriginalWhenNotApplicable(t *testing.T) {
	p := NewProcessor(Imaging{})
	data := []byte("%PDF-1.4 not an image")

	out, desc, err := p.Process(context.Background(), data, "application/pdf", preset.Builtin().Resolve(preset.Default), false)
	if err != nil || desc.Processed || !bytes.Equal(out, data) || desc.Reason != "unsupported content type" {
		t.Fatalf("unsupported type: processed=%v reason=%q err=%v", desc.Processed, desc.Reason, err)
	}

	img := gradientPNG(t, 20, 20)
	out, desc, err = p.Process(context.Background(), img, "image/png", preset.Builtin().Resolve(preset.Default), true)
	if err != nil || desc.Processed || !bytes.Equal(out, img) || desc.Reason != "processing skipped" {
		t.Fatalf("skip: processed=%v reason=%q err=%v", desc.Processed, desc.Reason, err)
	}
}

func TestProcessKeepsOriginalWithoutSizeReduction(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 1, 1))
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	p := NewProcessor(Imaging{})
	out, desc, err := p.Process(context.Background(), buf.Bytes(), "image/png", preset.Builtin().Resolve(preset.Default), false)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if desc.Processed || desc.Reason != "no size reduction" || !bytes.Equal(out, buf.Bytes()) {
		t.Fatalf("expected original bytes, got processed=%v reason=%q", desc.Processed, desc.Reason)
	}
	if desc.Reduction != 0 {
		t.Fatalf("reduction must not be negative or positive here: %f", desc.Reduction)
	}
}

func TestProcessSurfacesTransformError(t *testing.T) {
	p := NewProcessor(Imaging{})
	_, _, err := p.Process(context.Background(), []byte("garbage"), "image/jpeg", preset.Builtin().Resolve(preset.Default), false)
	if !errors.Is(err, models.ErrTransform) {
		t.Fatalf("expected transform error, got %v", err)
	}
}

func TestPreview(t *testing.T) {
	out, err := Preview(gradientPNG(t, 320, 160))
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	img, format, err := image.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode preview: %v", err)
	}
	if format != "jpeg" || img.Bounds().Dx() != previewWidth || img.Bounds().Dy() != 32 {
		t.Fatalf("unexpected preview %s %v", format, img.Bounds())
	}
}
