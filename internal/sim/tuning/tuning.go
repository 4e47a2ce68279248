package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	Vacate  Vacate  `yaml:"vacate" json:"vacate"`
	Map     Map     `yaml:"map" json:"map"`
	Log     Log     `yaml:"log" json:"log"`
	Journal Journal `yaml:"journal" json:"journal"`
}

type Vacate struct {
	// Rings scanned beyond the site. Must be >= 2.
	ScanMargin   int `yaml:"scan_margin" json:"scan_margin"`
	MaxMove      int `yaml:"max_move" json:"max_move"`
	QueueMove    int `yaml:"queue_move" json:"queue_move"`
	MaxScanCells int `yaml:"max_scan_cells" json:"max_scan_cells"`
	// Seed for the planner's random source; 0 seeds from the clock.
	Seed int64 `yaml:"seed" json:"seed"`
}

type Map struct {
	Width  int   `yaml:"width" json:"width"`
	Height int   `yaml:"height" json:"height"`
	Seed   int64 `yaml:"seed" json:"seed"`
	// Share of cells (0..1) generated as impassable rock.
	Rock float64 `yaml:"rock" json:"rock"`
	// Noise level above which land turns to water.
	SeaLevel float64 `yaml:"sea_level" json:"sea_level"`
}

type Log struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"` // text | json
	File   string `yaml:"file" json:"file"`
	// Rotation, only used with File.
	MaxSizeMB  int  `yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int  `yaml:"max_backups" json:"max_backups"`
	MaxAgeDays int  `yaml:"max_age_days" json:"max_age_days"`
	Compress   bool `yaml:"compress" json:"compress"`
}

type Journal struct {
	Dir     string `yaml:"dir" json:"dir"`
	IndexDB string `yaml:"index_db" json:"index_db"`
}

func Defaults() Tuning {
	return Tuning{
		Vacate: Vacate{
			ScanMargin:   2,
			MaxMove:      3,
			QueueMove:    1,
			MaxScanCells: 1 << 16,
		},
		Map: Map{
			Width:    200,
			Height:   200,
			Seed:     1337,
			Rock:     0.04,
			SeaLevel: 0.72,
		},
		Log: Log{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  64,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
	}
}

// Load reads a tuning file. Keys missing from the file keep their defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	v := t.Vacate
	if v.ScanMargin < 2 {
		return fmt.Errorf("vacate.scan_margin must be >= 2, got %d", v.ScanMargin)
	}
	if v.MaxMove < 1 || v.QueueMove < 1 {
		return fmt.Errorf("vacate.max_move and vacate.queue_move must be >= 1")
	}
	if v.MaxScanCells < (1+2*v.ScanMargin)*(1+2*v.ScanMargin) {
		return fmt.Errorf("vacate.max_scan_cells too small for a 1x1 site: %d", v.MaxScanCells)
	}
	if t.Map.Width < 1 || t.Map.Height < 1 {
		return fmt.Errorf("map size must be positive, got %dx%d", t.Map.Width, t.Map.Height)
	}
	if t.Map.Rock < 0 || t.Map.Rock > 1 {
		return fmt.Errorf("map.rock must be within [0,1], got %v", t.Map.Rock)
	}
	switch t.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", t.Log.Format)
	}
	return nil
}
