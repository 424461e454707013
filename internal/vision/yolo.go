package vision

import (
	"fmt"
	"image"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"
)

// YOLODetector runs a YOLOv8 ONNX model through gocv's DNN module and feeds
// the raw detections to an IoU tracker for id assignment. Segmentation
// variants additionally produce a per-detection instance mask.
type YOLODetector struct {
	logger   zerolog.Logger
	cfg      Config
	net      gocv.Net
	assigner *assigner
}

// NewYOLODetector loads the ONNX model and prepares the tracker
func NewYOLODetector(logger zerolog.Logger, cfg Config) (*YOLODetector, error) {
	if cfg.InputSize <= 0 {
		cfg.InputSize = 640
	}

	logger = logger.With().Str("component", "detector").Logger()
	logger.Info().
		Str("model", cfg.ModelPath).
		Bool("segmentation", cfg.Segmentation).
		Msg("loading YOLO model")

	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to read ONNX model from %s", cfg.ModelPath)
	}

	if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		net.Close()
		return nil, fmt.Errorf("failed to set DNN backend: %w", err)
	}
	if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		net.Close()
		return nil, fmt.Errorf("failed to set DNN target: %w", err)
	}

	return &YOLODetector{
		logger:   logger,
		cfg:      cfg,
		net:      net,
		assigner: newAssigner(cfg.IOUThreshold, cfg.MaxNoMatch, defaultFrameInterval),
	}, nil
}

// Track runs one inference pass and returns tracked detections
func (d *YOLODetector) Track(frame gocv.Mat) ([]Detection, error) {
	if frame.Empty() {
		return nil, fmt.Errorf("empty frame")
	}

	blob := gocv.BlobFromImage(frame, 1.0/255.0,
		image.Pt(d.cfg.InputSize, d.cfg.InputSize),
		gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")

	// Segmentation exports carry two outputs: output0 holds the boxes
	// plus mask coefficients, output1 the mask prototypes.
	var output, protos gocv.Mat
	if d.cfg.Segmentation {
		outs := d.net.ForwardLayers([]string{"output0", "output1"})
		if len(outs) != 2 {
			for i := range outs {
				outs[i].Close()
			}
			return nil, fmt.Errorf("segmentation model produced %d outputs, want 2", len(outs))
		}
		output, protos = outs[0], outs[1]
		defer protos.Close()
	} else {
		output = d.net.Forward("")
	}
	defer output.Close()

	nm := 0
	if d.cfg.Segmentation {
		ps := protos.Size()
		if len(ps) != 4 {
			return nil, fmt.Errorf("unexpected mask prototype rank %d", len(ps))
		}
		nm = ps[1]
	}

	boxes, scores, coeffs, err := d.decode(output, nm, frame.Cols(), frame.Rows())
	if err != nil {
		return nil, err
	}

	indices := gocv.NMSBoxes(boxes, scores, d.cfg.Confidence, d.cfg.NMS)

	dets := make([]Detection, 0, len(indices))
	for _, i := range indices {
		det := Detection{Box: boxes[i], Score: scores[i]}
		if nm > 0 {
			mask, err := buildMask(protos, coeffs[i], boxes[i], frame.Cols(), frame.Rows())
			if err != nil {
				CloseMasks(dets)
				return nil, err
			}
			det.Mask = mask
		}
		dets = append(dets, det)
	}

	out, err := d.assigner.assign(dets)
	if err != nil {
		CloseMasks(dets)
		return nil, err
	}
	return out, nil
}

// decode unpacks the YOLOv8 output tensor, shape [1, 4+classes+nm, anchors].
// Rows 0-3 are cx, cy, w, h in model input coordinates, then per-class
// scores, then nm mask coefficients for segmentation models. Only the
// target class survives.
func (d *YOLODetector) decode(output gocv.Mat, nm, frameW, frameH int) ([]image.Rectangle, []float32, [][]float32, error) {
	sizes := output.Size()
	if len(sizes) != 3 {
		return nil, nil, nil, fmt.Errorf("unexpected model output rank %d", len(sizes))
	}
	attrs, anchors := sizes[1], sizes[2]

	coeffStart := attrs - nm
	classRow := 4 + d.cfg.TargetClass
	if classRow >= coeffStart {
		return nil, nil, nil, fmt.Errorf("target class %d out of range for %d class rows", d.cfg.TargetClass, coeffStart-4)
	}

	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to access model output: %w", err)
	}

	scaleX := float32(frameW) / float32(d.cfg.InputSize)
	scaleY := float32(frameH) / float32(d.cfg.InputSize)

	var boxes []image.Rectangle
	var scores []float32
	var coeffs [][]float32

	for j := 0; j < anchors; j++ {
		score := data[classRow*anchors+j]
		if score < d.cfg.Confidence {
			continue
		}

		cx := data[0*anchors+j]
		cy := data[1*anchors+j]
		w := data[2*anchors+j]
		h := data[3*anchors+j]

		x0 := (cx - w/2) * scaleX
		y0 := (cy - h/2) * scaleY
		x1 := (cx + w/2) * scaleX
		y1 := (cy + h/2) * scaleY

		boxes = append(boxes, image.Rect(int(x0), int(y0), int(x1), int(y1)))
		scores = append(scores, score)

		if nm > 0 {
			c := make([]float32, nm)
			for k := 0; k < nm; k++ {
				c[k] = data[(coeffStart+k)*anchors+j]
			}
			coeffs = append(coeffs, c)
		}
	}

	return boxes, scores, coeffs, nil
}

// Reset clears tracking state for a new source video
func (d *YOLODetector) Reset(fps float64) {
	d.assigner.reset(fps)
}

// Close releases the model
func (d *YOLODetector) Close() error {
	return d.net.Close()
}
