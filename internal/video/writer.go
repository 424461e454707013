package video

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// Writer is an open output video stream
type Writer interface {
	Write(img gocv.Mat) error
	Close() error
}

// Opener creates output video streams
type Opener interface {
	Open(path string, fps float64, size image.Point) (Writer, error)
}

// MP4Opener creates OpenCV-backed mp4 writers
type MP4Opener struct {
	// Codec is the fourcc to encode with, defaults to mp4v
	Codec string
}

// Open creates a writer for the given path. Every frame written must match
// the size given here.
func (o MP4Opener) Open(path string, fps float64, size image.Point) (Writer, error) {
	codec := o.Codec
	if codec == "" {
		codec = "mp4v"
	}
	if fps <= 0 {
		fps = 30
	}

	w, err := gocv.VideoWriterFile(path, codec, fps, size.X, size.Y, true)
	if err != nil {
		return nil, fmt.Errorf("failed to open writer %s: %w", path, err)
	}
	if !w.IsOpened() {
		w.Close()
		return nil, fmt.Errorf("failed to open writer %s with codec %s", path, codec)
	}

	return &mp4Writer{w: w, path: path}, nil
}

type mp4Writer struct {
	w    *gocv.VideoWriter
	path string
}

func (m *mp4Writer) Write(img gocv.Mat) error {
	if err := m.w.Write(img); err != nil {
		return fmt.Errorf("failed to write frame to %s: %w", m.path, err)
	}
	return nil
}

func (m *mp4Writer) Close() error {
	return m.w.Close()
}
