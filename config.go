package quill

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned when a configuration fails validation.
var ErrInvalidConfig = errors.New("quill: invalid configuration")

// Size is a width and height in pixels.
type Size struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// Pt converts s to an image.Point.
func (s Size) Pt() image.Point { return image.Pt(s.Width, s.Height) }

// IsZero reports whether both dimensions are zero.
func (s Size) IsZero() bool { return s.Width == 0 && s.Height == 0 }

func (s Size) String() string { return fmt.Sprintf("%dx%d", s.Width, s.Height) }

// ParseSize parses "WIDTHxHEIGHT".
func ParseSize(v string) (Size, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(v)), "x")
	if !ok {
		return Size{}, fmt.Errorf("%w: size %q is not WIDTHxHEIGHT", ErrInvalidConfig, v)
	}
	wi, err := strconv.Atoi(w)
	if err != nil {
		return Size{}, fmt.Errorf("%w: size %q: %w", ErrInvalidConfig, v, err)
	}
	hi, err := strconv.Atoi(h)
	if err != nil {
		return Size{}, fmt.Errorf("%w: size %q: %w", ErrInvalidConfig, v, err)
	}
	return Size{Width: wi, Height: hi}, nil
}

// PreviewLevel configures one preview resolution level.
type PreviewLevel struct {
	// Size is the box the preview fits inside.
	Size Size `yaml:"size"`
	// Minimum, when set, selects a cropped preview covering Minimum.
	Minimum Size `yaml:"minimum,omitempty"`
	// Flavor is the thumbnail directory of the level; empty disables
	// thumbnails for it.
	Flavor string `yaml:"flavor,omitempty"`
}

// Config configures a Core.
type Config struct {
	// PreviewLevels lists the preview levels, smallest first. The full
	// image level comes after them.
	PreviewLevels []PreviewLevel `yaml:"preview_levels"`
	// TileSize enables tiling of the full image level when non-zero.
	TileSize Size `yaml:"tile_size"`
	// TileCacheSize bounds the number of cached tiles.
	TileCacheSize int `yaml:"tile_cache_size"`
	// ImageCacheSize bounds the unprotected images of each level.
	ImageCacheSize int `yaml:"image_cache_size"`
	// SaveBufferSize is the byte budget of one band of a tiled save.
	SaveBufferSize int `yaml:"save_buffer_size"`
	// JPEGQuality is the quality of JPEG saves, 1..100.
	JPEGQuality int `yaml:"jpeg_quality"`
	// Background is the color transparent pixels are flattened onto when
	// saving to a format without alpha, as #rrggbb.
	Background string `yaml:"background"`

	// EditHistoryPath is the directory of persisted edit histories;
	// empty disables persistence.
	EditHistoryPath string `yaml:"edit_history_path"`
	// ThumbnailBasePath is the thumbnail root; empty disables thumbnails.
	ThumbnailBasePath string `yaml:"thumbnail_base_path"`
	// ThumbnailExtension is the file extension of thumbnails.
	ThumbnailExtension string `yaml:"thumbnail_extension"`
	// ThumbnailCreation enables writing thumbnails.
	ThumbnailCreation bool `yaml:"thumbnail_creation"`

	// ImageSizeLimit rejects files wider or taller than the limit.
	ImageSizeLimit Size `yaml:"image_size_limit"`
	// ImagePixelsLimit rejects files with more pixels than the limit.
	ImagePixelsLimit int `yaml:"image_pixels_limit"`

	// WatchFiles refreshes open files changed by other programs.
	WatchFiles bool `yaml:"watch_files"`
	// WatchDebounce coalesces bursts of file-system events.
	WatchDebounce time.Duration `yaml:"watch_debounce"`

	// LogLevel is used by the command-line front end.
	LogLevel string `yaml:"log_level"`
}

// DefaultConfig returns the configuration used when no file is given.
// Persistence and thumbnails are disabled until paths are set.
func DefaultConfig() Config {
	return Config{
		PreviewLevels: []PreviewLevel{
			{Size: Size{128, 128}, Flavor: "normal"},
			{Size: Size{256, 256}, Flavor: "large"},
		},
		TileCacheSize:      256,
		ImageCacheSize:     16,
		SaveBufferSize:     16 << 20,
		JPEGQuality:        90,
		Background:         "#ffffff",
		ThumbnailExtension: ".png",
		ThumbnailCreation:  true,
		ImageSizeLimit:     Size{65535, 65535},
		ImagePixelsLimit:   1 << 28,
		WatchDebounce:      200 * time.Millisecond,
		LogLevel:           "warn",
	}
}

// LoadConfig reads a YAML configuration file over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("quill: read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, path, err)
	}
	return cfg, cfg.Validate()
}

// Marshal encodes the configuration as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// ApplyEnv overrides fields from QUILL_* variables found by lookup,
// which is usually os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	str("QUILL_EDIT_HISTORY_PATH", &c.EditHistoryPath)
	str("QUILL_THUMBNAIL_BASE_PATH", &c.ThumbnailBasePath)
	str("QUILL_THUMBNAIL_EXTENSION", &c.ThumbnailExtension)
	str("QUILL_BACKGROUND", &c.Background)
	str("QUILL_LOG_LEVEL", &c.LogLevel)

	ints := []struct {
		key string
		dst *int
	}{
		{"QUILL_TILE_CACHE_SIZE", &c.TileCacheSize},
		{"QUILL_IMAGE_CACHE_SIZE", &c.ImageCacheSize},
		{"QUILL_SAVE_BUFFER_SIZE", &c.SaveBufferSize},
		{"QUILL_JPEG_QUALITY", &c.JPEGQuality},
		{"QUILL_IMAGE_PIXELS_LIMIT", &c.ImagePixelsLimit},
	}
	for _, e := range ints {
		v, ok := lookup(e.key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidConfig, e.key, err)
		}
		*e.dst = n
	}

	if v, ok := lookup("QUILL_TILE_SIZE"); ok {
		s, err := ParseSize(v)
		if err != nil {
			return err
		}
		c.TileSize = s
	}
	if v, ok := lookup("QUILL_IMAGE_SIZE_LIMIT"); ok {
		s, err := ParseSize(v)
		if err != nil {
			return err
		}
		c.ImageSizeLimit = s
	}
	for key, dst := range map[string]*bool{
		"QUILL_THUMBNAIL_CREATION": &c.ThumbnailCreation,
		"QUILL_WATCH_FILES":        &c.WatchFiles,
	} {
		v, ok := lookup(key)
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidConfig, key, err)
		}
		*dst = b
	}
	if v, ok := lookup("QUILL_WATCH_DEBOUNCE"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: QUILL_WATCH_DEBOUNCE: %w", ErrInvalidConfig, err)
		}
		c.WatchDebounce = d
	}
	return c.Validate()
}

// Validate checks the configuration for values the core cannot run with.
func (c Config) Validate() error {
	for i, l := range c.PreviewLevels {
		if l.Size.Width <= 0 || l.Size.Height <= 0 {
			return fmt.Errorf("%w: preview level %d has size %v", ErrInvalidConfig, i, l.Size)
		}
		if l.Minimum.Width < 0 || l.Minimum.Height < 0 {
			return fmt.Errorf("%w: preview level %d has minimum %v", ErrInvalidConfig, i, l.Minimum)
		}
	}
	if (c.TileSize.Width <= 0) != (c.TileSize.Height <= 0) {
		return fmt.Errorf("%w: tile size %v", ErrInvalidConfig, c.TileSize)
	}
	if !c.TileSize.IsZero() && c.TileCacheSize <= 0 {
		return fmt.Errorf("%w: tiling needs a positive tile cache size", ErrInvalidConfig)
	}
	if c.ImageCacheSize < 0 || c.SaveBufferSize < 0 {
		return fmt.Errorf("%w: negative cache size", ErrInvalidConfig)
	}
	if c.JPEGQuality < 0 || c.JPEGQuality > 100 {
		return fmt.Errorf("%w: jpeg quality %d", ErrInvalidConfig, c.JPEGQuality)
	}
	if _, err := parseColor(c.Background); err != nil {
		return err
	}
	return nil
}

// tiled reports whether the full image level is tiled.
func (c Config) tiled() bool {
	return c.TileSize.Width > 0 && c.TileSize.Height > 0
}

// parseColor parses #rrggbb or #rgb. An empty string is opaque white.
func parseColor(s string) (color.NRGBA, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	switch len(s) {
	case 0:
		return color.NRGBA{0xff, 0xff, 0xff, 0xff}, nil
	case 3:
		s = string([]byte{s[0], s[0], s[1], s[1], s[2], s[2]})
	case 6:
	default:
		return color.NRGBA{}, fmt.Errorf("%w: color %q", ErrInvalidConfig, s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("%w: color %q: %w", ErrInvalidConfig, s, err)
	}
	return color.NRGBA{uint8(v >> 16), uint8(v >> 8), uint8(v), 0xff}, nil
}
