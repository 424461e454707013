package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/herdlab/cowclip/pkg/util"
)

// TranscodeOptions defines re-encode parameters for finalized clips
type TranscodeOptions struct {
	CRF          int
	Preset       string
	ProgressFunc ProgressFunc
}

// Transcode re-encodes a clip to H.264 in place. OpenCV's mp4v output plays
// poorly outside of OpenCV itself, so finished clips can be normalized here.
// The original file is only replaced once the new encode succeeds.
func (e *Executor) Transcode(ctx context.Context, path string, opts TranscodeOptions) error {
	crf := opts.CRF
	if crf == 0 {
		crf = DefaultCRF
	}
	preset := opts.Preset
	if preset == "" {
		preset = DefaultPreset
	}

	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".h264.tmp.mp4")

	e.logger.Info().
		Str("input", path).
		Int("crf", crf).
		Str("preset", preset).
		Msg("transcoding clip")

	args := []string{
		"-i", path,
		"-c:v", DefaultCodec,
		"-crf", fmt.Sprintf("%d", crf),
		"-preset", preset,
		"-pix_fmt", "yuv420p",
		"-an",
		"-f", "mp4",
		tmp,
	}

	runOpts := RunOptions{
		Args:            args,
		ProgressHandler: opts.ProgressFunc,
		LogHandler: func(line string) {
			e.logger.Debug().Str("ffmpeg", line).Msg("transcode")
		},
	}

	if err := e.Run(ctx, runOpts); err != nil {
		util.CleanupFiles(tmp)
		return fmt.Errorf("transcode failed: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		util.CleanupFiles(tmp)
		return fmt.Errorf("failed to replace %s with transcoded clip: %w", path, err)
	}

	e.logger.Info().Str("output", path).Msg("transcode complete")
	return nil
}
