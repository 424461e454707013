package vision

import (
	"image"
	"testing"
)

func assignBoxes(t *testing.T, a *assigner, boxes ...image.Rectangle) []Detection {
	t.Helper()
	dets := make([]Detection, len(boxes))
	for i, b := range boxes {
		dets[i] = Detection{Box: b, Score: 0.9}
	}
	out, err := a.assign(dets)
	if err != nil {
		t.Fatalf("assign failed: %v", err)
	}
	return out
}

func TestAssignerKeepsIDAcrossFrames(t *testing.T) {
	a := newAssigner(0.3, 15, 1.0/25.0)

	first := assignBoxes(t, a, image.Rect(100, 100, 300, 300))
	id := first[0].TrackID
	if id == 0 {
		t.Fatal("track id not assigned")
	}

	// Same object drifting a few pixels per frame keeps its id
	for i := 1; i <= 10; i++ {
		box := image.Rect(100+i*2, 100+i, 300+i*2, 300+i)
		dets := assignBoxes(t, a, box)
		if dets[0].TrackID != id {
			t.Fatalf("frame %d: id changed %d -> %d", i, id, dets[0].TrackID)
		}
	}
}

func TestAssignerSeparatesDistantObjects(t *testing.T) {
	a := newAssigner(0.3, 15, 1.0/25.0)

	dets := assignBoxes(t, a,
		image.Rect(0, 0, 100, 100),
		image.Rect(1500, 900, 1700, 1080),
	)

	if dets[0].TrackID == dets[1].TrackID {
		t.Errorf("distant objects share track id %d", dets[0].TrackID)
	}
}

func TestAssignerIDsAreCompactIntegers(t *testing.T) {
	a := newAssigner(0.3, 15, 1.0/25.0)

	dets := assignBoxes(t, a,
		image.Rect(0, 0, 100, 100),
		image.Rect(1500, 900, 1700, 1080),
	)

	seen := map[int]bool{}
	for _, d := range dets {
		if d.TrackID < 1 || d.TrackID > 2 {
			t.Errorf("unexpected track id %d", d.TrackID)
		}
		seen[d.TrackID] = true
	}
	if len(seen) != 2 {
		t.Errorf("expected 2 distinct ids, got %v", seen)
	}
}

func TestAssignerResetDropsTracksButNotCounter(t *testing.T) {
	a := newAssigner(0.3, 15, 1.0/25.0)

	first := assignBoxes(t, a, image.Rect(100, 100, 300, 300))
	a.reset(30)

	second := assignBoxes(t, a, image.Rect(100, 100, 300, 300))
	if second[0].TrackID == first[0].TrackID {
		t.Errorf("id %d reused after reset", first[0].TrackID)
	}
	if second[0].TrackID <= first[0].TrackID {
		t.Errorf("counter went backwards: %d then %d", first[0].TrackID, second[0].TrackID)
	}
}

func TestAssignerEmptyFrame(t *testing.T) {
	a := newAssigner(0.3, 15, 1.0/25.0)

	assignBoxes(t, a, image.Rect(100, 100, 300, 300))
	out, err := a.assign(nil)
	if err != nil {
		t.Fatalf("assign on empty frame: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("expected no detections, got %d", len(out))
	}
}
