package onnx

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/Brownie44l1/tagging-api/internal/model"
)

const (
	ResizeSize = 256
	CropSize   = 224
	Channels   = 3
)

// ImageNet channel statistics.
var (
	Mean = [Channels]float32{0.485, 0.456, 0.406}
	Std  = [Channels]float32{0.229, 0.224, 0.225}
)

// InputShape is the NCHW shape fed to the classifier.
var InputShape = []int64{1, Channels, CropSize, CropSize}

// DefaultMaxPixels bounds the decoded image size when no budget is configured.
const DefaultMaxPixels = 40_000_000

// Decode reads an image in any registered format, honoring EXIF orientation.
// Images whose header declares more than maxPixels pixels are rejected before
// any pixel buffer is allocated.
func Decode(data []byte, maxPixels int) (image.Image, error) {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrDecode, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: empty image %dx%d", model.ErrDecode, cfg.Width, cfg.Height)
	}
	if int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
		return nil, fmt.Errorf("%w: image %dx%d exceeds %d pixels", model.ErrDecode, cfg.Width, cfg.Height, maxPixels)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrDecode, err)
	}
	return img, nil
}

// Preprocess takes the centre square that a ResizeSize short-side resize
// followed by a CropSize centre crop would keep, scales it straight to
// CropSize and returns a normalized CHW tensor. Working in source coordinates
// keeps memory bounded by the source image for any aspect ratio.
func Preprocess(img image.Image) []float32 {
	b := img.Bounds()
	short := min(b.Dx(), b.Dy())
	side := max(1, int(math.Round(float64(short)*CropSize/ResizeSize)))

	square := imaging.CropCenter(img, side, side)
	scaled := resize.Resize(CropSize, CropSize, square, resize.Bilinear)

	// NRGBA keeps colour values unpremultiplied, so alpha is simply dropped.
	cropped := imaging.Clone(scaled)

	plane := CropSize * CropSize
	input := make([]float32, Channels*plane)
	for y := 0; y < CropSize; y++ {
		row := cropped.Pix[y*cropped.Stride:]
		for x := 0; x < CropSize; x++ {
			px := row[x*4 : x*4+3]
			idx := y*CropSize + x
			for c := 0; c < Channels; c++ {
				v := float32(px[c]) / 255.0
				input[c*plane+idx] = (v - Mean[c]) / Std[c]
			}
		}
	}
	return input
}
