// Package config loads the engine configuration from TOML.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	GeoServer GeoServer `toml:"geoserver"`
	WMS       WMS       `toml:"wms"`
	WFS       WFS       `toml:"wfs"`
	Boundary  Boundary  `toml:"boundary"`
	View      View      `toml:"view"`
	Log       Log       `toml:"log"`
}

type GeoServer struct {
	BaseURL   string `toml:"base_url"`
	Workspace string `toml:"workspace"`
}

type WMS struct {
	Version      string   `toml:"version"`
	SRS          string   `toml:"srs"`
	Format       string   `toml:"format"`
	Styles       string   `toml:"styles"`
	TileSize     int      `toml:"tile_size"`
	Transparent  bool     `toml:"transparent"`
	FadeDuration Duration `toml:"fade_duration"`
}

type WFS struct {
	Version string `toml:"version"`
	// Path is appended to the base URL, "wfs" or "{workspace}/ows".
	Path    string   `toml:"path"`
	SRSName string   `toml:"srs_name"`
	Timeout Duration `toml:"timeout"`
	// RateLimit caps requests per second, 0 disables pacing.
	RateLimit float64 `toml:"rate_limit"`
	// Concurrency above 1 prefetches boundaries in parallel while keeping
	// declaration order on the surface.
	Concurrency int `toml:"concurrency"`
}

type Boundary struct {
	OutlineColor   string  `toml:"outline_color"`
	OutlineWidth   float64 `toml:"outline_width"`
	OutlineOpacity float64 `toml:"outline_opacity"`
	AutoColor      bool    `toml:"auto_color"`
	LabelSize      float64 `toml:"label_size"`
	LabelColor     string  `toml:"label_color"`
	LabelHalo      string  `toml:"label_halo"`
}

type View struct {
	FitPadding  int      `toml:"fit_padding"`
	FitDuration Duration `toml:"fit_duration"`
}

type Log struct {
	Level   string `toml:"level"`
	JSON    bool   `toml:"json"`
	NoColor bool   `toml:"no_color"`
}

// Duration decodes TOML strings such as "300ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func Default() Config {
	return Config{
		GeoServer: GeoServer{
			BaseURL:   "http://localhost:8080/geoserver",
			Workspace: "Crop_Scan",
		},
		WMS: WMS{
			Version:      "1.1.0",
			SRS:          "EPSG:3857",
			Format:       "image/png",
			TileSize:     256,
			Transparent:  true,
			FadeDuration: Duration{300 * time.Millisecond},
		},
		WFS: WFS{
			Version:     "1.1.0",
			Path:        "wfs",
			Timeout:     Duration{30 * time.Second},
			Concurrency: 1,
		},
		Boundary: Boundary{
			OutlineColor:   "#FF0000",
			OutlineWidth:   2,
			OutlineOpacity: 0.8,
			LabelSize:      12,
			LabelColor:     "#000000",
			LabelHalo:      "#FFFFFF",
		},
		View: View{
			FitPadding:  50,
			FitDuration: Duration{time.Second},
		},
		Log: Log{
			Level: "info",
		},
	}
}

// Load reads the TOML file at path on top of Default. An empty path
// returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := Decode(string(data), &cfg); err != nil {
		return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return cfg, nil
}

// Decode parses data into cfg and validates the result.
func Decode(data string, cfg *Config) error {
	md, err := toml.Decode(data, cfg)
	if err != nil {
		return err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}
	return Validate(*cfg)
}

func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.GeoServer.BaseURL) == "" {
		return fmt.Errorf("geoserver.base_url is required")
	}
	if strings.TrimSpace(cfg.GeoServer.Workspace) == "" {
		return fmt.Errorf("geoserver.workspace is required")
	}
	switch cfg.WMS.Version {
	case "1.1.0", "1.1.1", "1.3.0":
	default:
		return fmt.Errorf("wms.version %q not supported", cfg.WMS.Version)
	}
	switch cfg.WMS.SRS {
	case "EPSG:3857", "EPSG:4326":
	default:
		return fmt.Errorf("wms.srs %q not supported", cfg.WMS.SRS)
	}
	if cfg.WMS.TileSize <= 0 {
		return fmt.Errorf("wms.tile_size must be positive")
	}
	switch cfg.WFS.Version {
	case "1.1.0", "2.0.0":
	default:
		return fmt.Errorf("wfs.version %q not supported", cfg.WFS.Version)
	}
	if cfg.WFS.RateLimit < 0 {
		return fmt.Errorf("wfs.rate_limit must not be negative")
	}
	if cfg.WFS.Concurrency < 0 {
		return fmt.Errorf("wfs.concurrency must not be negative")
	}
	if cfg.Boundary.OutlineWidth <= 0 {
		return fmt.Errorf("boundary.outline_width must be positive")
	}
	if cfg.Boundary.OutlineOpacity < 0 || cfg.Boundary.OutlineOpacity > 1 {
		return fmt.Errorf("boundary.outline_opacity out of range [0,1]")
	}
	if !strings.HasPrefix(cfg.Boundary.OutlineColor, "#") {
		return fmt.Errorf("boundary.outline_color %q is not a hex color", cfg.Boundary.OutlineColor)
	}
	if cfg.View.FitPadding < 0 {
		return fmt.Errorf("view.fit_padding must not be negative")
	}
	return nil
}
