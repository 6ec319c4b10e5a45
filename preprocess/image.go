// Package preprocess turns image files into fixed-size float32 tensors for the
// episodic datasets: decode, resize, optional horizontal flip, scale to [0, 1]
// and per-channel normalization, laid out in CHW order.
package preprocess

import (
	"hash/fnv"
	"image"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	"github.com/Noofbiz/fewshot/datasets"
)

// ImageNet channel statistics, used when normalizing RGB images without
// explicit Mean/Std.
var (
	ImageNetMean = []float32{0.485, 0.456, 0.406}
	ImageNetStd  = []float32{0.229, 0.224, 0.225}
)

// Options configures an ImageTransform.
type Options struct {
	// Size is the output height and width. 84 for miniImageNet, 28 for Omniglot.
	Size int

	// Channels is 3 (RGB) or 1 (grayscale).
	Channels int

	// Flip mirrors roughly half of the images horizontally. Whether an image
	// is flipped depends only on FlipSeed and its path, so repeated calls give
	// the same tensor.
	Flip     bool
	FlipSeed int64

	// Normalize subtracts Mean and divides by Std per channel. RGB defaults to
	// the ImageNet statistics; grayscale defaults to no change.
	Normalize bool
	Mean      []float32
	Std       []float32
}

// ImageTransform implements datasets.Transform. It holds no mutable state and
// is safe for concurrent use.
type ImageTransform struct {
	opts Options
}

// New validates opts and returns an ImageTransform.
func New(opts Options) (*ImageTransform, error) {
	if opts.Size <= 0 {
		return nil, errors.Errorf("image size must be positive, got %d", opts.Size)
	}
	if opts.Channels != 1 && opts.Channels != 3 {
		return nil, errors.Errorf("channels must be 1 or 3, got %d", opts.Channels)
	}
	if opts.Normalize {
		if len(opts.Mean) == 0 && len(opts.Std) == 0 {
			if opts.Channels == 3 {
				opts.Mean, opts.Std = ImageNetMean, ImageNetStd
			} else {
				opts.Mean, opts.Std = []float32{0}, []float32{1}
			}
		}
		if len(opts.Mean) != opts.Channels || len(opts.Std) != opts.Channels {
			return nil, errors.Errorf("normalization needs %d mean/std values, got %d/%d",
				opts.Channels, len(opts.Mean), len(opts.Std))
		}
		for i, s := range opts.Std {
			if s == 0 {
				return nil, errors.Errorf("std[%d] is zero", i)
			}
		}
	}
	return &ImageTransform{opts: opts}, nil
}

// Shape returns the per-sample tensor shape [C, H, W].
func (t *ImageTransform) Shape() []int {
	return []int{t.opts.Channels, t.opts.Size, t.opts.Size}
}

// Func returns t as a datasets.Transform.
func (t *ImageTransform) Func() datasets.Transform {
	return t.Apply
}

// Apply reads the image at path and returns its CHW tensor.
func (t *ImageTransform) Apply(path string) ([]float32, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open image %s", path)
	}
	return t.FromImage(img, path), nil
}

// FromImage converts an already decoded image. key decides the flip.
func (t *ImageTransform) FromImage(img image.Image, key string) []float32 {
	size := t.opts.Size
	resized := imaging.Resize(img, size, size, imaging.Linear)
	if t.opts.Flip && t.flipped(key) {
		resized = imaging.FlipH(resized)
	}
	if t.opts.Channels == 1 {
		resized = imaging.Grayscale(resized)
	}

	plane := size * size
	data := make([]float32, t.opts.Channels*plane)
	for y := range size {
		row := resized.Pix[y*resized.Stride:]
		for x := range size {
			px := row[x*4 : x*4+4]
			for c := range t.opts.Channels {
				v := float32(px[c]) / 255.0
				if t.opts.Normalize {
					v = (v - t.opts.Mean[c]) / t.opts.Std[c]
				}
				data[c*plane+y*size+x] = v
			}
		}
	}
	return data
}

func (t *ImageTransform) flipped(key string) bool {
	h := fnv.New64a()
	var seed [8]byte
	for i := range seed {
		seed[i] = byte(t.opts.FlipSeed >> (8 * i))
	}
	_, _ = h.Write(seed[:])
	_, _ = h.Write([]byte(key))
	return h.Sum64()&1 == 1
}
