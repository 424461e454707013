package vision

import "image"

// Smoother applies per-track exponential moving average smoothing to
// bounding boxes. Raw YOLO boxes jitter frame to frame; without smoothing
// the exported crops shake visibly.
type Smoother struct {
	alpha  float64
	tracks map[int][4]float64
}

// NewSmoother creates a smoother. Lower alpha means more smoothing.
func NewSmoother(alpha float64) *Smoother {
	return &Smoother{
		alpha:  alpha,
		tracks: make(map[int][4]float64),
	}
}

// Smooth blends the new observation with the track's running average.
// The first observation for a track passes through unchanged.
func (s *Smoother) Smooth(trackID int, box image.Rectangle) image.Rectangle {
	obs := [4]float64{
		float64(box.Min.X), float64(box.Min.Y),
		float64(box.Max.X), float64(box.Max.Y),
	}

	prev, ok := s.tracks[trackID]
	if !ok {
		s.tracks[trackID] = obs
		return box
	}

	var out [4]float64
	for i := range obs {
		out[i] = s.alpha*obs[i] + (1-s.alpha)*prev[i]
	}
	s.tracks[trackID] = out

	return image.Rect(int(out[0]), int(out[1]), int(out[2]), int(out[3]))
}

// Reset clears all track state. Call between source videos.
func (s *Smoother) Reset() {
	s.tracks = make(map[int][4]float64)
}
