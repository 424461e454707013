package export

import (
	"errors"
	"image"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"github.com/herdlab/cowclip/internal/video"
	"github.com/herdlab/cowclip/internal/vision"
)

type fakeWriter struct {
	path      string
	frames    int
	closes    int
	failWrite bool
}

func (w *fakeWriter) Write(img gocv.Mat) error {
	if w.failWrite {
		return errors.New("no space left on device")
	}
	if w.closes > 0 {
		return errors.New("write after close")
	}
	w.frames++
	return nil
}

func (w *fakeWriter) Close() error {
	w.closes++
	return nil
}

type fakeOpener struct {
	writers   []*fakeWriter
	failAfter int // fail the n-th open (1-based), 0 disables
	failWrite bool
}

func (o *fakeOpener) Open(path string, fps float64, size image.Point) (video.Writer, error) {
	if o.failAfter > 0 && len(o.writers)+1 >= o.failAfter {
		return nil, errors.New("no space left on device")
	}
	// Real file so discard/abort removal has something to delete
	if err := os.WriteFile(path, []byte("stub"), 0644); err != nil {
		return nil, err
	}
	w := &fakeWriter{path: path, failWrite: o.failWrite}
	o.writers = append(o.writers, w)
	return w, nil
}

type fakeComposer struct{}

func (fakeComposer) Compose(frame gocv.Mat, det vision.Detection) (gocv.Mat, bool) {
	if det.Box.Empty() {
		return gocv.Mat{}, false
	}
	return gocv.NewMat(), true
}

func det(id int) vision.Detection {
	return vision.Detection{TrackID: id, Box: image.Rect(10, 10, 110, 110), Score: 0.9}
}

func newTestManager(t *testing.T, opener video.Opener, minDur time.Duration) *Manager {
	t.Helper()
	namer := NewNamer(t.TempDir(), "cow", ".mp4")
	return NewManager(zerolog.Nop(), opener, fakeComposer{}, namer, 30, image.Pt(640, 640), minDur)
}

func TestNoDetectionsNoFiles(t *testing.T) {
	opener := &fakeOpener{}
	m := newTestManager(t, opener, 0)

	frame := gocv.NewMat()
	defer frame.Close()

	for i := 0; i < 10; i++ {
		if err := m.ProcessFrame(frame, nil); err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
	}
	if err := m.FinalizeAll(); err != nil {
		t.Fatal(err)
	}

	if len(opener.writers) != 0 {
		t.Errorf("opened %d writers, want 0", len(opener.writers))
	}
	if len(m.Finalized()) != 0 {
		t.Errorf("finalized %v, want none", m.Finalized())
	}
}

func TestSingleTrackLifecycle(t *testing.T) {
	opener := &fakeOpener{}
	m := newTestManager(t, opener, 0)

	frame := gocv.NewMat()
	defer frame.Close()

	const k = 5
	for i := 0; i < k; i++ {
		if err := m.ProcessFrame(frame, []vision.Detection{det(7)}); err != nil {
			t.Fatal(err)
		}
	}
	// Track 7 disappears
	if err := m.ProcessFrame(frame, nil); err != nil {
		t.Fatal(err)
	}

	if len(opener.writers) != 1 {
		t.Fatalf("opened %d writers, want 1", len(opener.writers))
	}
	w := opener.writers[0]
	if w.frames != k {
		t.Errorf("wrote %d frames, want %d", w.frames, k)
	}
	if w.closes != 1 {
		t.Errorf("writer closed %d times, want 1", w.closes)
	}
	if got := m.Finalized(); len(got) != 1 || got[0] != w.path {
		t.Errorf("finalized = %v", got)
	}
	if m.Active() != 0 {
		t.Errorf("%d tracks still active", m.Active())
	}
}

func TestReappearanceStartsNewClip(t *testing.T) {
	opener := &fakeOpener{}
	m := newTestManager(t, opener, 0)

	frame := gocv.NewMat()
	defer frame.Close()

	for i := 0; i < 3; i++ {
		if err := m.ProcessFrame(frame, []vision.Detection{det(7)}); err != nil {
			t.Fatal(err)
		}
	}
	// Gap
	if err := m.ProcessFrame(frame, nil); err != nil {
		t.Fatal(err)
	}
	// Same id comes back
	for i := 0; i < 2; i++ {
		if err := m.ProcessFrame(frame, []vision.Detection{det(7)}); err != nil {
			t.Fatal(err)
		}
	}
	if err := m.FinalizeAll(); err != nil {
		t.Fatal(err)
	}

	if len(opener.writers) != 2 {
		t.Fatalf("opened %d writers, want 2 (one per continuous appearance)", len(opener.writers))
	}
	if opener.writers[0].frames != 3 || opener.writers[1].frames != 2 {
		t.Errorf("frame counts = %d, %d; want 3, 2",
			opener.writers[0].frames, opener.writers[1].frames)
	}
	if opener.writers[0].path == opener.writers[1].path {
		t.Error("both clips share one path")
	}
}

func TestTwoTracksAdvanceTogether(t *testing.T) {
	opener := &fakeOpener{}
	m := newTestManager(t, opener, 0)

	frame := gocv.NewMat()
	defer frame.Close()

	dets := []vision.Detection{det(7), det(9)}
	for i := 0; i < 3; i++ {
		if err := m.ProcessFrame(frame, dets); err != nil {
			t.Fatal(err)
		}
	}
	if err := m.FinalizeAll(); err != nil {
		t.Fatal(err)
	}

	if len(opener.writers) != 2 {
		t.Fatalf("opened %d writers, want 2", len(opener.writers))
	}
	for _, w := range opener.writers {
		if w.frames != 3 {
			t.Errorf("writer %s advanced %d frames, want 3", w.path, w.frames)
		}
	}
}

func TestFinalizeAllIdempotent(t *testing.T) {
	opener := &fakeOpener{}
	m := newTestManager(t, opener, 0)

	frame := gocv.NewMat()
	defer frame.Close()

	if err := m.ProcessFrame(frame, []vision.Detection{det(1)}); err != nil {
		t.Fatal(err)
	}

	if err := m.FinalizeAll(); err != nil {
		t.Fatalf("first FinalizeAll: %v", err)
	}
	if err := m.FinalizeAll(); err != nil {
		t.Fatalf("second FinalizeAll: %v", err)
	}

	if opener.writers[0].closes != 1 {
		t.Errorf("writer closed %d times, want 1", opener.writers[0].closes)
	}
	if len(m.Finalized()) != 1 {
		t.Errorf("finalized list = %v, want one entry", m.Finalized())
	}
}

func TestDegenerateDetectionDropped(t *testing.T) {
	opener := &fakeOpener{}
	m := newTestManager(t, opener, 0)

	frame := gocv.NewMat()
	defer frame.Close()

	if err := m.ProcessFrame(frame, []vision.Detection{det(7)}); err != nil {
		t.Fatal(err)
	}

	// Empty box: composer rejects, but the track must stay active
	bad := vision.Detection{TrackID: 7, Box: image.Rectangle{}}
	if err := m.ProcessFrame(frame, []vision.Detection{bad}); err != nil {
		t.Fatal(err)
	}

	if m.Active() != 1 {
		t.Errorf("track finalized by degenerate detection, active = %d", m.Active())
	}
	if opener.writers[0].frames != 1 {
		t.Errorf("degenerate detection wrote a frame: %d", opener.writers[0].frames)
	}

	// Track keeps going afterwards
	if err := m.ProcessFrame(frame, []vision.Detection{det(7)}); err != nil {
		t.Fatal(err)
	}
	if opener.writers[0].frames != 2 {
		t.Errorf("frames = %d, want 2", opener.writers[0].frames)
	}
}

func TestOpenFailureAbortsOpenStreams(t *testing.T) {
	opener := &fakeOpener{failAfter: 2}
	m := newTestManager(t, opener, 0)

	frame := gocv.NewMat()
	defer frame.Close()

	if err := m.ProcessFrame(frame, []vision.Detection{det(1)}); err != nil {
		t.Fatal(err)
	}

	err := m.ProcessFrame(frame, []vision.Detection{det(1), det(2)})
	if err == nil {
		t.Fatal("expected open failure")
	}

	if opener.writers[0].closes != 1 {
		t.Error("surviving stream was not closed on abort")
	}
	if _, statErr := os.Stat(opener.writers[0].path); !os.IsNotExist(statErr) {
		t.Error("partial file left behind after abort")
	}
	if m.Active() != 0 {
		t.Errorf("%d tracks still active after abort", m.Active())
	}
}

func TestWriteFailurePreservesFinalizedClips(t *testing.T) {
	opener := &fakeOpener{}
	m := newTestManager(t, opener, 0)

	frame := gocv.NewMat()
	defer frame.Close()

	// Finish one clip cleanly
	if err := m.ProcessFrame(frame, []vision.Detection{det(1)}); err != nil {
		t.Fatal(err)
	}
	if err := m.ProcessFrame(frame, nil); err != nil {
		t.Fatal(err)
	}
	done := m.Finalized()
	if len(done) != 1 {
		t.Fatalf("finalized = %v", done)
	}

	// Second clip's writer starts failing
	opener.failWrite = true
	if err := m.ProcessFrame(frame, []vision.Detection{det(2)}); err == nil {
		t.Fatal("expected write failure")
	}

	if _, err := os.Stat(done[0]); err != nil {
		t.Errorf("finalized clip damaged by abort: %v", err)
	}
	if m.Active() != 0 {
		t.Errorf("%d tracks still active after abort", m.Active())
	}
}

func TestMinDurationDiscard(t *testing.T) {
	opener := &fakeOpener{}
	// 30 fps, 1s minimum: 10 frames is far too short
	m := newTestManager(t, opener, time.Second)

	frame := gocv.NewMat()
	defer frame.Close()

	for i := 0; i < 10; i++ {
		if err := m.ProcessFrame(frame, []vision.Detection{det(5)}); err != nil {
			t.Fatal(err)
		}
	}
	if err := m.FinalizeAll(); err != nil {
		t.Fatal(err)
	}

	if len(m.Finalized()) != 0 {
		t.Errorf("short clip kept: %v", m.Finalized())
	}
	if _, err := os.Stat(opener.writers[0].path); !os.IsNotExist(err) {
		t.Error("short clip file not removed")
	}

	// A long enough clip is kept
	for i := 0; i < 60; i++ {
		if err := m.ProcessFrame(frame, []vision.Detection{det(6)}); err != nil {
			t.Fatal(err)
		}
	}
	if err := m.FinalizeAll(); err != nil {
		t.Fatal(err)
	}
	if len(m.Finalized()) != 1 {
		t.Errorf("finalized = %v, want one clip", m.Finalized())
	}
}
