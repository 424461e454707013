package vision

import (
	"fmt"
	"image"
	"math"

	"gocv.io/x/gocv"
)

// buildMask combines one detection's mask coefficients with the model's mask
// prototypes into a full-frame CV_8UC1 instance mask. Prototype pixels are a
// linear basis; the sigmoid of the weighted sum gives per-pixel confidence,
// stored as 0-255. Only the area under the bounding box is evaluated, the
// rest of the frame stays 0.
func buildMask(protos gocv.Mat, coeffs []float32, box image.Rectangle, frameW, frameH int) (*gocv.Mat, error) {
	sizes := protos.Size() // [1, nm, mh, mw]
	nm, mh, mw := sizes[1], sizes[2], sizes[3]
	if len(coeffs) != nm {
		return nil, fmt.Errorf("got %d mask coefficients for %d prototypes", len(coeffs), nm)
	}

	data, err := protos.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("failed to access mask prototypes: %w", err)
	}

	full := gocv.Zeros(frameH, frameW, gocv.MatTypeCV8UC1)

	// Raw boxes can overshoot the frame; evaluate only the visible part
	box = box.Intersect(image.Rect(0, 0, frameW, frameH))
	if box.Empty() {
		return &full, nil
	}

	// Box corners in prototype coordinates, lower rounded down and upper
	// rounded up so the box is always covered
	px0 := box.Min.X * mw / frameW
	py0 := box.Min.Y * mh / frameH
	px1 := (box.Max.X*mw + frameW - 1) / frameW
	py1 := (box.Max.Y*mh + frameH - 1) / frameH
	if px1 > mw {
		px1 = mw
	}
	if py1 > mh {
		py1 = mh
	}
	if px1 <= px0 || py1 <= py0 {
		return &full, nil
	}

	small := gocv.NewMatWithSize(py1-py0, px1-px0, gocv.MatTypeCV8UC1)
	defer small.Close()

	plane := mh * mw
	for y := py0; y < py1; y++ {
		for x := px0; x < px1; x++ {
			var s float32
			base := y*mw + x
			for k := 0; k < nm; k++ {
				s += coeffs[k] * data[k*plane+base]
			}
			v := 1.0 / (1.0 + math.Exp(-float64(s)))
			small.SetUCharAt(y-py0, x-px0, uint8(v*255))
		}
	}

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(small, &resized, image.Pt(box.Dx(), box.Dy()), 0, 0, gocv.InterpolationLinear)

	roi := full.Region(box)
	resized.CopyTo(&roi)
	roi.Close()

	return &full, nil
}
