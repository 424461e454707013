package vision

import (
	"fmt"

	"github.com/LdDl/mot-go/mot"
	"github.com/google/uuid"
)

const defaultFrameInterval = 1.0 / 25.0

// assigner maps the tracker's blob UUIDs onto compact integer track ids.
// The integer counter never rewinds, so an id that disappears and comes
// back after the tracker has dropped it gets a fresh number.
type assigner struct {
	tracker      *mot.IoUTracker[*mot.SimpleBlob]
	iouThreshold float64
	maxNoMatch   int
	ids          map[uuid.UUID]int
	next         int
	dt           float64
}

func newAssigner(iouThreshold float64, maxNoMatch int, dt float64) *assigner {
	if maxNoMatch <= 0 {
		maxNoMatch = 15
	}
	if dt <= 0 {
		dt = defaultFrameInterval
	}
	return &assigner{
		tracker:      mot.NewIoUTracker[*mot.SimpleBlob](maxNoMatch, iouThreshold),
		iouThreshold: iouThreshold,
		maxNoMatch:   maxNoMatch,
		ids:          make(map[uuid.UUID]int),
		dt:           dt,
	}
}

// assign matches detections against known tracks and fills in TrackID
func (a *assigner) assign(dets []Detection) ([]Detection, error) {
	blobs := make([]*mot.SimpleBlob, len(dets))
	for i := range dets {
		blobs[i] = mot.NewSimpleBlobWithTime(mot.NewRectFrom(dets[i].Box), a.dt)
	}

	if err := a.tracker.MatchObjects(blobs); err != nil {
		return nil, fmt.Errorf("tracker matching failed: %w", err)
	}

	for i := range dets {
		id := blobs[i].GetID()
		n, ok := a.ids[id]
		if !ok {
			a.next++
			n = a.next
			a.ids[id] = n
		}
		dets[i].TrackID = n
	}

	a.prune()
	return dets, nil
}

// prune drops id mappings for blobs the tracker has forgotten
func (a *assigner) prune() {
	for id := range a.ids {
		if _, ok := a.tracker.Objects[id]; !ok {
			delete(a.ids, id)
		}
	}
}

// reset drops all tracks. The id counter keeps counting so log lines stay
// unambiguous across videos.
func (a *assigner) reset(fps float64) {
	a.tracker = mot.NewIoUTracker[*mot.SimpleBlob](a.maxNoMatch, a.iouThreshold)
	a.ids = make(map[uuid.UUID]int)
	if fps > 0 {
		a.dt = 1.0 / fps
	}
}
