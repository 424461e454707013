package config

import (
	"context"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type contextKey string

const configKey contextKey = "config"

// Config holds all application configuration
type Config struct {
	// Directory layout
	InputDir  string `yaml:"input_dir"`
	OutputDir string `yaml:"output_dir"`
	SingleDir string `yaml:"single_dir"`
	VideoExt  string `yaml:"video_ext"`

	// Detector settings
	Model ModelConfig `yaml:"model"`

	// Tracker settings
	Tracker TrackerConfig `yaml:"tracker"`

	// Per-frame processing settings
	Processing ProcessingConfig `yaml:"processing"`

	// Output canvas settings
	Output OutputConfig `yaml:"output"`

	// FFmpeg settings
	FFmpeg FFmpegConfig `yaml:"ffmpeg"`
}

type ModelConfig struct {
	Path        string  `yaml:"path"`
	InputSize   int     `yaml:"input_size"`
	TargetClass int     `yaml:"target_class"`
	Confidence  float32 `yaml:"confidence"`
	NMS         float32 `yaml:"nms"`

	// Segmentation marks the model as a -seg variant with a mask head.
	// Required for background removal.
	Segmentation bool `yaml:"segmentation"`
}

type TrackerConfig struct {
	IOUThreshold float64 `yaml:"iou_threshold"`
	MaxNoMatch   int     `yaml:"max_no_match"`
}

type ProcessingConfig struct {
	BorderMargin     int     `yaml:"border_margin"`
	CropPadding      int     `yaml:"crop_padding"`
	SmoothingAlpha   float64 `yaml:"smoothing_alpha"`
	MinTrackDuration float64 `yaml:"min_track_duration_sec"`
	ScanFrameStep    int     `yaml:"scan_frame_step"`

	// MaskMethod selects background removal: "binary" hard-cuts the cow
	// out of the frame, "soft" feathers the mask edge, "none" keeps the
	// full crop. Needs a segmentation model.
	MaskMethod     string `yaml:"mask_method"`
	MaskDilation   int    `yaml:"mask_dilation_iterations"`
	MaskBlurKernel int    `yaml:"mask_blur_kernel_size"`
}

type OutputConfig struct {
	Width      int    `yaml:"width"`
	Height     int    `yaml:"height"`
	Background string `yaml:"background"`
	Prefix     string `yaml:"prefix"`
}

type FFmpegConfig struct {
	Transcode bool   `yaml:"transcode"`
	CRF       int    `yaml:"crf"`
	Preset    string `yaml:"preset"`
	Threads   int    `yaml:"threads"`
}

// Load reads configuration from file or returns defaults
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path == "" {
		path = findConfigFile()
	}

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes configuration to file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// BackgroundColor resolves the configured canvas background
func (c *Config) BackgroundColor() (color.RGBA, error) {
	return ParseColor(c.Output.Background)
}

func defaultConfig() *Config {
	return &Config{
		InputDir:  "./videos",
		OutputDir: "./clips",
		SingleDir: "./single",
		VideoExt:  ".mp4",
		Model: ModelConfig{
			Path:         "./models/yolov8m-seg.onnx",
			InputSize:    640,
			TargetClass:  19, // COCO class id for 'cow'
			Confidence:   0.75,
			NMS:          0.45,
			Segmentation: true,
		},
		Tracker: TrackerConfig{
			IOUThreshold: 0.3,
			MaxNoMatch:   15,
		},
		Processing: ProcessingConfig{
			BorderMargin:     5,
			CropPadding:      0,
			SmoothingAlpha:   0.2,
			MinTrackDuration: 4.0,
			ScanFrameStep:    5,
			MaskMethod:       "soft",
			MaskDilation:     2,
			MaskBlurKernel:   15,
		},
		Output: OutputConfig{
			Width:      640,
			Height:     640,
			Background: "black",
			Prefix:     "cow",
		},
		FFmpeg: FFmpegConfig{
			Transcode: false,
			CRF:       23,
			Preset:    "medium",
			Threads:   0,
		},
	}
}

func findConfigFile() string {
	candidates := []string{
		"./config.yaml",
		"./config.yml",
		filepath.Join(os.Getenv("HOME"), ".cowclip", "config.yaml"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// namedColors are the chroma-friendly backgrounds the extractor supports.
// Green gives downstream segmentation models the cleanest separation.
var namedColors = map[string]color.RGBA{
	"black":   {0, 0, 0, 255},
	"white":   {255, 255, 255, 255},
	"green":   {0, 255, 0, 255},
	"blue":    {0, 0, 255, 255},
	"magenta": {255, 0, 255, 255},
}

// ParseColor resolves a color name or "#RRGGBB" hex value
func ParseColor(s string) (color.RGBA, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if c, ok := namedColors[name]; ok {
		return c, nil
	}

	if strings.HasPrefix(name, "#") && len(name) == 7 {
		var r, g, b uint8
		if _, err := fmt.Sscanf(name, "#%02x%02x%02x", &r, &g, &b); err == nil {
			return color.RGBA{r, g, b, 255}, nil
		}
	}

	return color.RGBA{}, fmt.Errorf("unknown background color %q", s)
}

// WithConfig stores config in context
func WithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey, cfg)
}

// FromContext retrieves config from context
func FromContext(ctx context.Context) *Config {
	if cfg, ok := ctx.Value(configKey).(*Config); ok {
		return cfg
	}
	return defaultConfig()
}
