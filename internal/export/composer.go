package export

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/herdlab/cowclip/internal/vision"
)

// Composer renders a detection onto the fixed-size output canvas. The
// second return value is false when the box degenerates to nothing after
// clamping; such detections are dropped for the frame.
type Composer interface {
	Compose(frame gocv.Mat, det vision.Detection) (gocv.Mat, bool)
}

// MaskOptions controls segmentation-based background removal. Method
// "binary" hard-cuts the animal out of the frame, "soft" dilates and blurs
// the mask edge before alpha-blending, "none" disables removal. Unknown
// methods fall back to soft.
type MaskOptions struct {
	Method             string
	DilationIterations int
	BlurKernelSize     int
}

// LetterboxComposer crops the detection region, replaces the background
// with the canvas color when an instance mask is available, scales the crop
// down if needed and centers it on a background-colored canvas. Aspect
// ratio is always preserved; small crops are padded, never stretched.
type LetterboxComposer struct {
	size    image.Point
	bg      gocv.Scalar
	padding int
	mask    MaskOptions
}

// NewLetterboxComposer creates a composer with a fixed canvas size and
// background color. padding inflates every box before cropping.
func NewLetterboxComposer(size image.Point, bg color.RGBA, padding int, mask MaskOptions) *LetterboxComposer {
	if mask.DilationIterations <= 0 {
		mask.DilationIterations = 2
	}
	if mask.BlurKernelSize <= 0 {
		mask.BlurKernelSize = 15
	}
	// Gaussian kernels must be odd
	if mask.BlurKernelSize%2 == 0 {
		mask.BlurKernelSize++
	}
	return &LetterboxComposer{
		size: size,
		// OpenCV mats are BGR
		bg:      gocv.NewScalar(float64(bg.B), float64(bg.G), float64(bg.R), 0),
		padding: padding,
		mask:    mask,
	}
}

// Compose returns a new canvas Mat the caller must Close
func (c *LetterboxComposer) Compose(frame gocv.Mat, det vision.Detection) (gocv.Mat, bool) {
	box := Inflate(det.Box, c.padding)
	box = Clamp(box, image.Rect(0, 0, frame.Cols(), frame.Rows()))
	if box.Empty() {
		return gocv.Mat{}, false
	}

	crop := frame.Region(box)
	defer crop.Close()
	src := crop

	if det.Mask != nil && c.mask.Method != "" && c.mask.Method != "none" {
		maskROI := det.Mask.Region(box)
		masked := c.removeBackground(crop, maskROI)
		maskROI.Close()
		defer masked.Close()
		src = masked
	}

	w, h := FitWithin(box.Dx(), box.Dy(), c.size.X, c.size.Y)

	canvas := gocv.NewMatWithSizeFromScalar(c.bg, c.size.Y, c.size.X, gocv.MatTypeCV8UC3)

	if w != box.Dx() || h != box.Dy() {
		resized := gocv.NewMat()
		gocv.Resize(src, &resized, image.Pt(w, h), 0, 0, gocv.InterpolationArea)
		defer resized.Close()
		src = resized
	}

	offX := (c.size.X - w) / 2
	offY := (c.size.Y - h) / 2
	roi := canvas.Region(image.Rect(offX, offY, offX+w, offY+h))
	src.CopyTo(&roi)
	roi.Close()

	return canvas, true
}

// removeBackground composites the crop onto the background color using the
// instance mask
func (c *LetterboxComposer) removeBackground(crop, mask gocv.Mat) gocv.Mat {
	if c.mask.Method == "binary" {
		bin := gocv.NewMat()
		defer bin.Close()
		gocv.Threshold(mask, &bin, 127, 255, gocv.ThresholdBinary)

		out := gocv.NewMatWithSizeFromScalar(c.bg, crop.Rows(), crop.Cols(), gocv.MatTypeCV8UC3)
		crop.CopyToWithMask(&out, bin)
		return out
	}
	return c.featherBackground(crop, mask)
}

// featherBackground dilates and blurs the mask into a soft alpha channel,
// then blends crop over background: out = fg*alpha + bg*(1-alpha)
func (c *LetterboxComposer) featherBackground(crop, mask gocv.Mat) gocv.Mat {
	work := mask.Clone()
	defer work.Close()

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(3, 3))
	defer kernel.Close()
	for i := 0; i < c.mask.DilationIterations; i++ {
		gocv.Dilate(work, &work, kernel)
	}

	ksize := image.Pt(c.mask.BlurKernelSize, c.mask.BlurKernelSize)
	gocv.GaussianBlur(work, &work, ksize, 0, 0, gocv.BorderDefault)

	alpha := gocv.NewMat()
	defer alpha.Close()
	work.ConvertToWithParams(&alpha, gocv.MatTypeCV32F, 1.0/255.0, 0)

	alpha3 := gocv.NewMat()
	defer alpha3.Close()
	gocv.Merge([]gocv.Mat{alpha, alpha, alpha}, &alpha3)

	fg := gocv.NewMat()
	defer fg.Close()
	crop.ConvertTo(&fg, gocv.MatTypeCV32FC3)

	bg := gocv.NewMatWithSizeFromScalar(c.bg, crop.Rows(), crop.Cols(), gocv.MatTypeCV32FC3)
	defer bg.Close()

	ones := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(1, 1, 1, 0), crop.Rows(), crop.Cols(), gocv.MatTypeCV32FC3)
	defer ones.Close()
	inv := gocv.NewMat()
	defer inv.Close()
	gocv.Subtract(ones, alpha3, &inv)

	gocv.Multiply(fg, alpha3, &fg)
	gocv.Multiply(bg, inv, &bg)

	blended := gocv.NewMat()
	defer blended.Close()
	gocv.Add(fg, bg, &blended)

	out := gocv.NewMat()
	blended.ConvertTo(&out, gocv.MatTypeCV8UC3)
	return out
}
