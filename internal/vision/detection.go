// Package vision wraps the external detection and tracking stack. The
// detector is a YOLOv8 ONNX model run through OpenCV's DNN module; track
// identity across frames comes from an IoU/Kalman multi-object tracker.
// Everything downstream only sees Detection values with stable track ids.
package vision

import (
	"image"

	"gocv.io/x/gocv"
)

// Detection is one tracked bounding box on a single frame. Box is in pixel
// coordinates of the source frame. TrackID is stable for as long as the
// tracker keeps the same physical object matched.
//
// Mask is a full-frame CV_8UC1 instance mask (255 on the animal, 0 off it)
// when the model has a segmentation head, nil otherwise. Masks are owned by
// the caller of Track; release them with CloseMasks once the frame is done.
type Detection struct {
	TrackID int
	Box     image.Rectangle
	Score   float32
	Mask    *gocv.Mat
}

// CloseMasks releases the instance masks of a frame's detections. Safe on
// detections without masks.
func CloseMasks(dets []Detection) {
	for i := range dets {
		if dets[i].Mask != nil {
			dets[i].Mask.Close()
			dets[i].Mask = nil
		}
	}
}

// Tracker detects objects on successive frames and assigns stable track ids.
type Tracker interface {
	// Track runs detection on a frame. Results are already filtered by
	// confidence and target class.
	Track(frame gocv.Mat) ([]Detection, error)

	// Reset drops all tracking state. Call between source videos so ids
	// from one video never carry motion state into the next.
	Reset(fps float64)

	Close() error
}

// Config holds detector and tracker parameters
type Config struct {
	ModelPath    string
	InputSize    int
	TargetClass  int
	Confidence   float32
	NMS          float32
	Segmentation bool

	IOUThreshold float64
	MaxNoMatch   int
}
