// Package video wraps OpenCV video decode and encode behind small
// interfaces so the export pipeline can be tested without codecs.
package video

import (
	"fmt"
	"image"
	"math"

	"gocv.io/x/gocv"
)

// Source is a sequential decoder of a single video file
type Source interface {
	// Read decodes the next frame into dst. Returns false at end of stream.
	Read(dst *gocv.Mat) bool

	// FPS returns the container frame rate, 0 if the container reports
	// garbage (some phone recordings do).
	FPS() float64

	// Size returns frame dimensions in pixels
	Size() image.Point

	// FrameCount returns the total frame count, 0 if unknown
	FrameCount() int

	Close() error
}

// FileSource decodes a video file through OpenCV
type FileSource struct {
	cap  *gocv.VideoCapture
	path string
}

// OpenFile opens a video file for sequential decoding
func OpenFile(path string) (*FileSource, error) {
	cap, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open video %s: %w", path, err)
	}
	if !cap.IsOpened() {
		cap.Close()
		return nil, fmt.Errorf("failed to open video %s", path)
	}
	return &FileSource{cap: cap, path: path}, nil
}

// Read decodes the next frame
func (s *FileSource) Read(dst *gocv.Mat) bool {
	if !s.cap.Read(dst) {
		return false
	}
	return !dst.Empty()
}

// FPS returns the sanitized container frame rate. Fractional rates are
// rounded to the nearest integer; odd floats like 240.37 produce broken
// timebases in some players.
func (s *FileSource) FPS() float64 {
	fps := s.cap.Get(gocv.VideoCaptureFPS)
	if fps <= 0 || math.IsNaN(fps) || math.IsInf(fps, 0) {
		return 0
	}
	return math.Round(fps)
}

// Size returns frame dimensions
func (s *FileSource) Size() image.Point {
	return image.Pt(
		int(s.cap.Get(gocv.VideoCaptureFrameWidth)),
		int(s.cap.Get(gocv.VideoCaptureFrameHeight)),
	)
}

// FrameCount returns the container's total frame count
func (s *FileSource) FrameCount() int {
	n := int(s.cap.Get(gocv.VideoCaptureFrameCount))
	if n < 0 {
		return 0
	}
	return n
}

// Close releases the decoder
func (s *FileSource) Close() error {
	return s.cap.Close()
}
