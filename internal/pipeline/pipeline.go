// Package pipeline drives the batch: for every video in the input
// directory it runs the detector, refines the boxes and feeds the export
// manager. One video failing never stops the batch.
package pipeline

import (
	"bufio"
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"github.com/herdlab/cowclip/internal/config"
	"github.com/herdlab/cowclip/internal/export"
	"github.com/herdlab/cowclip/internal/ffmpeg"
	"github.com/herdlab/cowclip/internal/video"
	"github.com/herdlab/cowclip/internal/vision"
	"github.com/herdlab/cowclip/pkg/util"
)

// doneLogName records source stems finished in earlier runs, one per line
const doneLogName = ".cowclip_done"

// Pipeline orchestrates detection, tracking and clip export for a batch
type Pipeline struct {
	logger   zerolog.Logger
	cfg      *config.Config
	detector vision.Tracker
	smoother *vision.Smoother
	opener   video.Opener
	composer export.Composer
	namer    *export.Namer
	ffmpeg   *ffmpeg.Executor // nil when ffmpeg is not installed

	openSource func(path string) (video.Source, error)
}

// New creates a pipeline instance and loads the detection model
func New(logger zerolog.Logger, cfg *config.Config) (*Pipeline, error) {
	if err := util.EnsureDir(cfg.OutputDir); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	bg, err := cfg.BackgroundColor()
	if err != nil {
		return nil, err
	}

	if !util.FileExists(cfg.Model.Path) {
		return nil, fmt.Errorf("model not found at %s", cfg.Model.Path)
	}

	detector, err := vision.NewYOLODetector(logger, vision.Config{
		ModelPath:    cfg.Model.Path,
		InputSize:    cfg.Model.InputSize,
		TargetClass:  cfg.Model.TargetClass,
		Confidence:   cfg.Model.Confidence,
		NMS:          cfg.Model.NMS,
		Segmentation: cfg.Model.Segmentation,
		IOUThreshold: cfg.Tracker.IOUThreshold,
		MaxNoMatch:   cfg.Tracker.MaxNoMatch,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize detector: %w", err)
	}

	namer := export.NewNamer(cfg.OutputDir, cfg.Output.Prefix, cfg.VideoExt)
	if err := namer.SeedFromDir(); err != nil {
		detector.Close()
		return nil, err
	}

	canvas := image.Pt(cfg.Output.Width, cfg.Output.Height)

	// ffmpeg is optional: without it there is no transcode step and no
	// FPS fallback, but processing still works.
	ffmpegExec, err := ffmpeg.New(logger, cfg.FFmpeg.Threads)
	if err != nil {
		logger.Warn().Err(err).Msg("ffmpeg unavailable, transcode disabled")
		ffmpegExec = nil
	}

	return &Pipeline{
		logger:   logger.With().Str("component", "pipeline").Logger(),
		cfg:      cfg,
		detector: detector,
		smoother: vision.NewSmoother(cfg.Processing.SmoothingAlpha),
		opener:   video.MP4Opener{},
		composer: export.NewLetterboxComposer(canvas, bg, cfg.Processing.CropPadding, export.MaskOptions{
			Method:             cfg.Processing.MaskMethod,
			DilationIterations: cfg.Processing.MaskDilation,
			BlurKernelSize:     cfg.Processing.MaskBlurKernel,
		}),
		namer:    namer,
		ffmpeg:   ffmpegExec,
		openSource: func(path string) (video.Source, error) {
			return video.OpenFile(path)
		},
	}, nil
}

// Close releases the detector
func (p *Pipeline) Close() error {
	if p.detector != nil {
		return p.detector.Close()
	}
	return nil
}

// ProcessAll runs every video in the input directory. Videos completed in
// a previous run are skipped. A failing video is logged and the batch
// moves on.
func (p *Pipeline) ProcessAll(ctx context.Context) (*Summary, error) {
	videos, err := p.listVideos()
	if err != nil {
		return nil, err
	}

	done, err := p.loadDoneLog()
	if err != nil {
		return nil, err
	}

	p.logger.Info().
		Int("videos", len(videos)).
		Int("already_done", len(done)).
		Str("input", p.cfg.InputDir).
		Msg("starting batch")

	summary := &Summary{}
	for _, path := range videos {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		stem := util.Stem(path)
		if done[stem] {
			p.logger.Info().Str("video", stem).Msg("already processed, skipping")
			summary.Skipped++
			continue
		}

		clips, err := p.ProcessVideo(ctx, path)
		if err != nil {
			if ctx.Err() != nil {
				return summary, err
			}
			p.logger.Error().Err(err).Str("video", path).Msg("video failed, continuing batch")
			summary.Failed++
			continue
		}

		summary.Videos++
		summary.Clips += clips
		if err := p.markDone(stem); err != nil {
			p.logger.Warn().Err(err).Str("video", stem).Msg("failed to record completion")
		}
	}

	p.logger.Info().
		Int("videos", summary.Videos).
		Int("skipped", summary.Skipped).
		Int("failed", summary.Failed).
		Int("clips", summary.Clips).
		Msg("batch complete")

	return summary, nil
}

// ProcessVideo runs the full per-frame loop for one video and returns the
// number of clips kept.
func (p *Pipeline) ProcessVideo(ctx context.Context, path string) (int, error) {
	p.logger.Info().Str("video", path).Msg("processing video")

	src, err := p.openSource(path)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	fps := p.resolveFPS(ctx, src, path)
	bounds := image.Rectangle{Max: src.Size()}

	p.logger.Debug().
		Float64("fps", fps).
		Int("width", bounds.Dx()).
		Int("height", bounds.Dy()).
		Int("frames", src.FrameCount()).
		Msg("source opened")

	p.detector.Reset(fps)
	p.smoother.Reset()

	minDur := time.Duration(p.cfg.Processing.MinTrackDuration * float64(time.Second))
	mgr := export.NewManager(p.logger, p.opener, p.composer, p.namer,
		fps, image.Pt(p.cfg.Output.Width, p.cfg.Output.Height), minDur)

	frame := gocv.NewMat()
	defer frame.Close()

	frameIdx := 0
	for {
		if err := ctx.Err(); err != nil {
			mgr.Abort()
			return 0, err
		}
		if !src.Read(&frame) {
			break
		}

		dets, err := p.detector.Track(frame)
		if err != nil {
			// A single bad frame is not worth losing the video over
			p.logger.Warn().Err(err).
				Str("video", path).
				Int("frame", frameIdx).
				Msg("detection failed, skipping frame")
			frameIdx++
			continue
		}

		refined := p.refine(dets, bounds)

		writeErr := mgr.ProcessFrame(frame, refined)
		vision.CloseMasks(dets)
		if writeErr != nil {
			return 0, fmt.Errorf("%s frame %d: %w", path, frameIdx, writeErr)
		}

		frameIdx++
		if frameIdx%250 == 0 {
			p.logger.Debug().
				Int("frame", frameIdx).
				Int("active_tracks", mgr.Active()).
				Msg("progress")
		}
	}

	if err := mgr.FinalizeAll(); err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}

	clips := mgr.Finalized()
	p.transcode(ctx, clips)

	p.logger.Info().
		Str("video", path).
		Int("frames", frameIdx).
		Int("clips", len(clips)).
		Msg("video complete")

	return len(clips), nil
}

// refine drops partial animals on the frame border and smooths the
// surviving boxes. Confidence filtering already happened in the detector.
func (p *Pipeline) refine(dets []vision.Detection, bounds image.Rectangle) []vision.Detection {
	out := make([]vision.Detection, 0, len(dets))
	for _, det := range dets {
		if export.TouchesBorder(det.Box, bounds, p.cfg.Processing.BorderMargin) {
			continue
		}
		det.Box = p.smoother.Smooth(det.TrackID, det.Box)
		out = append(out, det)
	}
	return out
}

// resolveFPS falls back to ffprobe, then 30, when the container lies
func (p *Pipeline) resolveFPS(ctx context.Context, src video.Source, path string) float64 {
	if fps := src.FPS(); fps > 0 {
		return fps
	}

	if p.ffmpeg != nil {
		if info, err := p.ffmpeg.ProbeVideo(ctx, path); err == nil && info.FPS > 0 {
			p.logger.Warn().
				Str("video", path).
				Float64("fps", info.FPS).
				Msg("container reported no FPS, using ffprobe value")
			return float64(int(info.FPS + 0.5))
		}
	}

	p.logger.Warn().Str("video", path).Msg("invalid FPS, defaulting to 30")
	return 30
}

// transcode normalizes finished clips to H.264 when enabled
func (p *Pipeline) transcode(ctx context.Context, clips []string) {
	if !p.cfg.FFmpeg.Transcode || p.ffmpeg == nil {
		return
	}
	for _, clip := range clips {
		opts := ffmpeg.TranscodeOptions{
			CRF:    p.cfg.FFmpeg.CRF,
			Preset: p.cfg.FFmpeg.Preset,
		}
		if err := p.ffmpeg.Transcode(ctx, clip, opts); err != nil {
			p.logger.Error().Err(err).Str("clip", clip).Msg("transcode failed, keeping original encode")
		}
	}
}

// listVideos returns the input videos in stable order
func (p *Pipeline) listVideos() ([]string, error) {
	pattern := filepath.Join(p.cfg.InputDir, "*"+p.cfg.VideoExt)
	videos, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to list input videos: %w", err)
	}
	sort.Strings(videos)
	return videos, nil
}

// loadDoneLog reads the stems completed by earlier runs
func (p *Pipeline) loadDoneLog() (map[string]bool, error) {
	done := make(map[string]bool)

	f, err := os.Open(filepath.Join(p.cfg.OutputDir, doneLogName))
	if err != nil {
		if os.IsNotExist(err) {
			return done, nil
		}
		return nil, fmt.Errorf("failed to read completion log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			done[line] = true
		}
	}
	return done, scanner.Err()
}

// markDone appends a stem to the completion log
func (p *Pipeline) markDone(stem string) error {
	f, err := os.OpenFile(filepath.Join(p.cfg.OutputDir, doneLogName),
		os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = fmt.Fprintln(f, stem)
	return err
}
