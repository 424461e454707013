// Package export turns a per-frame stream of tracked detections into one
// finished clip file per continuous track appearance. It owns every output
// stream it opens: tracks are created on first sight, advanced one composed
// frame at a time, and finalized the moment their id goes missing.
package export

import (
	"fmt"
	"image"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"github.com/herdlab/cowclip/internal/video"
	"github.com/herdlab/cowclip/internal/vision"
)

// Track is one cow's clip in progress
type Track struct {
	ID     int
	Path   string
	Frames int

	writer video.Writer
}

// Manager maintains the per-track writer lifecycle for a single source
// video. It holds no reference to any other video's state except the
// shared Namer counter.
type Manager struct {
	logger   zerolog.Logger
	opener   video.Opener
	composer Composer
	namer    *Namer

	fps    float64
	canvas image.Point
	minDur time.Duration

	tracks    map[int]*Track
	finalized []string
}

// NewManager creates a manager for one source video. minDur below or equal
// to zero disables the short-clip discard.
func NewManager(logger zerolog.Logger, opener video.Opener, composer Composer, namer *Namer, fps float64, canvas image.Point, minDur time.Duration) *Manager {
	return &Manager{
		logger:   logger.With().Str("component", "export").Logger(),
		opener:   opener,
		composer: composer,
		namer:    namer,
		fps:      fps,
		canvas:   canvas,
		minDur:   minDur,
		tracks:   make(map[int]*Track),
	}
}

// ProcessFrame consumes one frame's detections. New track ids open a new
// output stream; known ids get the composed crop appended; active tracks
// absent from this frame are finalized. Any output I/O failure closes all
// open streams before returning.
func (m *Manager) ProcessFrame(frame gocv.Mat, dets []vision.Detection) error {
	seen := make(map[int]bool, len(dets))

	for _, det := range dets {
		seen[det.TrackID] = true

		trk, ok := m.tracks[det.TrackID]
		if !ok {
			path := m.namer.Next()
			writer, err := m.opener.Open(path, m.fps, m.canvas)
			if err != nil {
				m.Abort()
				return fmt.Errorf("failed to open output for track %d: %w", det.TrackID, err)
			}
			trk = &Track{ID: det.TrackID, Path: path, writer: writer}
			m.tracks[det.TrackID] = trk

			m.logger.Info().
				Int("track", trk.ID).
				Str("output", trk.Path).
				Msg("track appeared, clip started")
		}

		canvas, ok := m.composer.Compose(frame, det)
		if !ok {
			// Degenerate after clamping; the track just gets no
			// frame this cycle.
			m.logger.Debug().
				Int("track", det.TrackID).
				Msg("dropping degenerate detection")
			continue
		}

		err := trk.writer.Write(canvas)
		canvas.Close()
		if err != nil {
			m.Abort()
			return fmt.Errorf("failed to write frame for track %d: %w", det.TrackID, err)
		}
		trk.Frames++
	}

	// A track whose id vanished is complete; if it reappears later it
	// becomes a new clip.
	var firstErr error
	for id, trk := range m.tracks {
		if seen[id] {
			continue
		}
		if err := m.finalize(trk); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// FinalizeAll finalizes every remaining active track. Safe to call more
// than once.
func (m *Manager) FinalizeAll() error {
	var firstErr error
	for _, trk := range m.tracks {
		if err := m.finalize(trk); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// finalize closes the track's stream and either keeps or discards the file
func (m *Manager) finalize(trk *Track) error {
	delete(m.tracks, trk.ID)

	if err := trk.writer.Close(); err != nil {
		return fmt.Errorf("failed to close output for track %d: %w", trk.ID, err)
	}

	duration := time.Duration(float64(trk.Frames) / m.fps * float64(time.Second))
	if m.minDur > 0 && duration < m.minDur {
		m.logger.Info().
			Int("track", trk.ID).
			Dur("duration", duration).
			Dur("min", m.minDur).
			Msg("discarding short clip")
		if err := os.Remove(trk.Path); err != nil {
			m.logger.Warn().Err(err).Str("path", trk.Path).Msg("failed to remove short clip")
		}
		return nil
	}

	m.finalized = append(m.finalized, trk.Path)
	m.logger.Info().
		Int("track", trk.ID).
		Int("frames", trk.Frames).
		Dur("duration", duration).
		Str("output", trk.Path).
		Msg("clip finalized")
	return nil
}

// Abort closes and removes every still-open output. Called on fatal errors
// mid-video so no half-written, unclosed file is left behind. Clips already
// finalized are untouched.
func (m *Manager) Abort() {
	for id, trk := range m.tracks {
		if err := trk.writer.Close(); err != nil {
			m.logger.Warn().Err(err).Int("track", id).Msg("failed to close aborted output")
		}
		if err := os.Remove(trk.Path); err != nil {
			m.logger.Warn().Err(err).Str("path", trk.Path).Msg("failed to remove aborted output")
		}
		delete(m.tracks, id)
	}
}

// Active returns the number of currently open tracks
func (m *Manager) Active() int {
	return len(m.tracks)
}

// Finalized returns the paths of clips kept so far, in finalize order
func (m *Manager) Finalized() []string {
	return m.finalized
}
