package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/herdlab/cowclip/internal/config"
	"github.com/herdlab/cowclip/internal/ffmpeg"
	"github.com/herdlab/cowclip/internal/logging"
	"github.com/herdlab/cowclip/internal/pipeline"
)

var (
	cfgFile string
	verbose bool

	inputDir  string
	outputDir string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "cowclip",
	Short: "cowclip - per-cow clip extraction from barn footage",
	Long:  "Runs a YOLOv8 detector over a folder of videos and writes one cropped, letterboxed clip per continuously tracked cow.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Initialize logging
		logging.Init(verbose)

		// Load config
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		// Flag overrides
		if inputDir != "" {
			cfg.InputDir = inputDir
		}
		if outputDir != "" {
			cfg.OutputDir = outputDir
		}

		// Store config in context
		ctx := config.WithConfig(cmd.Context(), cfg)
		cmd.SetContext(ctx)

		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&inputDir, "input", "i", "", "input video directory (overrides config)")
	rootCmd.PersistentFlags().StringVarP(&outputDir, "output", "o", "", "output clip directory (overrides config)")

	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(configCmd)
}

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Extract per-cow clips from every video in the input directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())

		pipe, err := pipeline.New(log.Logger, cfg)
		if err != nil {
			return err
		}
		defer pipe.Close()

		summary, err := pipe.ProcessAll(cmd.Context())
		if err != nil {
			return err
		}

		log.Info().
			Int("videos", summary.Videos).
			Int("skipped", summary.Skipped).
			Int("failed", summary.Failed).
			Int("clips", summary.Clips).
			Msg("done")

		if summary.Failed > 0 {
			return fmt.Errorf("%d videos failed", summary.Failed)
		}
		return nil
	},
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Find videos that only ever show one cow and copy them aside",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())

		pipe, err := pipeline.New(log.Logger, cfg)
		if err != nil {
			return err
		}
		defer pipe.Close()

		result, err := pipe.ScanAll(cmd.Context())
		if err != nil {
			return err
		}

		log.Info().
			Int("scanned", result.Scanned).
			Int("single_cow", len(result.SingleCow)).
			Int("copy_failed", len(result.CopyFailed)).
			Msg("scan done")

		return nil
	},
}

var probeCmd = &cobra.Command{
	Use:   "probe [video]",
	Short: "Show container metadata for a video",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())

		ff, err := ffmpeg.New(log.Logger, cfg.FFmpeg.Threads)
		if err != nil {
			return err
		}

		info, err := ff.ProbeVideo(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		log.Info().
			Str("video", info.FilePath).
			Dur("duration", info.Duration).
			Int("width", info.Width).
			Int("height", info.Height).
			Float64("fps", info.FPS).
			Int("frames", info.FrameCount).
			Str("codec", info.VideoCodec).
			Msg("probe complete")

		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Config management commands",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())

		out, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		fmt.Print(string(out))

		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
}
