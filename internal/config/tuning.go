package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for tuning parameters.
// The schema matches the /api/params endpoint so the same JSON can be
// used for startup configuration and operator inspection.
type TuningConfig struct {
	// Camera / accumulator params
	FoliageGreenMin *int `json:"foliage_green_min,omitempty"` // 8-bit green level that counts as foliage
	MaxRows         *int `json:"max_rows,omitempty"`
	FrameQueueDepth *int `json:"frame_queue_depth,omitempty"`

	// Range finder params
	TriggerPeriod *string `json:"trigger_period,omitempty"` // duration string like "60ms"
	EchoShift     *int    `json:"echo_shift,omitempty"`     // distance_cm = echo_us >> echo_shift

	// Binarizer cut points (nibble scale, 0..15)
	GreennessCut  *int `json:"greenness_cut,omitempty"`
	ColorRatioCut *int `json:"color_ratio_cut,omitempty"`
	TextureCut    *int `json:"texture_cut,omitempty"`
	HeightCut     *int `json:"height_cut,omitempty"`

	// Control channel params
	SamplesPerBit     *int `json:"samples_per_bit,omitempty"`
	AlertAssertSymbol *int `json:"alert_assert_symbol,omitempty"`
	AlertClearSymbol  *int `json:"alert_clear_symbol,omitempty"`

	// Engine / reporting params
	EngineTick    *string `json:"engine_tick,omitempty"`    // duration string like "1ms"
	StatsInterval *string `json:"stats_interval,omitempty"` // duration string like "60s"

	// MQTT params
	MQTTRetain *bool `json:"mqtt_retain,omitempty"`
}

// Helper functions to create pointers
func ptrBool(v bool) *bool       { return &v }
func ptrString(v string) *string { return &v }
func ptrInt(v int) *int          { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the
// max file size. Fields omitted from the JSON file retain their default
// values, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse JSON into empty config. The Get* methods provide fallback
	// defaults for any fields not specified in the JSON.
	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	// Try paths from current dir up to repo root
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
		"../../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.FoliageGreenMin != nil {
		if *c.FoliageGreenMin < 0 || *c.FoliageGreenMin > 255 {
			return fmt.Errorf("foliage_green_min must be between 0 and 255, got %d", *c.FoliageGreenMin)
		}
	}

	if c.MaxRows != nil && *c.MaxRows < 1 {
		return fmt.Errorf("max_rows must be positive, got %d", *c.MaxRows)
	}

	if c.FrameQueueDepth != nil && *c.FrameQueueDepth < 1 {
		return fmt.Errorf("frame_queue_depth must be positive, got %d", *c.FrameQueueDepth)
	}

	if c.TriggerPeriod != nil && *c.TriggerPeriod != "" {
		if _, err := time.ParseDuration(*c.TriggerPeriod); err != nil {
			return fmt.Errorf("invalid trigger_period '%s': %w", *c.TriggerPeriod, err)
		}
	}

	if c.EchoShift != nil {
		if *c.EchoShift < 0 || *c.EchoShift > 16 {
			return fmt.Errorf("echo_shift must be between 0 and 16, got %d", *c.EchoShift)
		}
	}

	for name, cut := range map[string]*int{
		"greenness_cut":   c.GreennessCut,
		"color_ratio_cut": c.ColorRatioCut,
		"texture_cut":     c.TextureCut,
		"height_cut":      c.HeightCut,
	} {
		if cut != nil && (*cut < 0 || *cut > 15) {
			return fmt.Errorf("%s must be between 0 and 15, got %d", name, *cut)
		}
	}

	if c.SamplesPerBit != nil && *c.SamplesPerBit < 2 {
		return fmt.Errorf("samples_per_bit must be at least 2, got %d", *c.SamplesPerBit)
	}

	for name, sym := range map[string]*int{
		"alert_assert_symbol": c.AlertAssertSymbol,
		"alert_clear_symbol":  c.AlertClearSymbol,
	} {
		if sym != nil && (*sym < 0 || *sym > 255) {
			return fmt.Errorf("%s must be a byte value, got %d", name, *sym)
		}
	}
	if c.GetAlertAssertSymbol() == c.GetAlertClearSymbol() {
		return fmt.Errorf("alert_assert_symbol and alert_clear_symbol must differ")
	}

	if c.EngineTick != nil && *c.EngineTick != "" {
		if _, err := time.ParseDuration(*c.EngineTick); err != nil {
			return fmt.Errorf("invalid engine_tick '%s': %w", *c.EngineTick, err)
		}
	}

	if c.StatsInterval != nil && *c.StatsInterval != "" {
		if _, err := time.ParseDuration(*c.StatsInterval); err != nil {
			return fmt.Errorf("invalid stats_interval '%s': %w", *c.StatsInterval, err)
		}
	}

	return nil
}

// GetFoliageGreenMin returns the foliage_green_min value or the default.
func (c *TuningConfig) GetFoliageGreenMin() uint8 {
	if c.FoliageGreenMin == nil {
		return 100 // default
	}
	return uint8(*c.FoliageGreenMin)
}

// GetMaxRows returns the max_rows value or the default.
func (c *TuningConfig) GetMaxRows() int {
	if c.MaxRows == nil {
		return 240 // default: QVGA rows
	}
	return *c.MaxRows
}

// GetFrameQueueDepth returns the frame_queue_depth value or the default.
func (c *TuningConfig) GetFrameQueueDepth() int {
	if c.FrameQueueDepth == nil {
		return 8
	}
	return *c.FrameQueueDepth
}

// GetTriggerPeriod parses and returns the TriggerPeriod as a time.Duration.
func (c *TuningConfig) GetTriggerPeriod() time.Duration {
	if c.TriggerPeriod == nil || *c.TriggerPeriod == "" {
		return 60 * time.Millisecond // default
	}
	d, err := time.ParseDuration(*c.TriggerPeriod)
	if err != nil {
		return 60 * time.Millisecond // default on parse error
	}
	return d
}

// GetEchoShift returns the echo_shift value or the default.
func (c *TuningConfig) GetEchoShift() uint {
	if c.EchoShift == nil {
		return 6 // 2^6 = 64 us/cm, shift approximation of the 58 us/cm constant
	}
	return uint(*c.EchoShift)
}

// GetGreennessCut returns the greenness_cut value or the default.
func (c *TuningConfig) GetGreennessCut() uint8 {
	if c.GreennessCut == nil {
		return 7
	}
	return uint8(*c.GreennessCut)
}

// GetColorRatioCut returns the color_ratio_cut value or the default.
func (c *TuningConfig) GetColorRatioCut() uint8 {
	if c.ColorRatioCut == nil {
		return 3
	}
	return uint8(*c.ColorRatioCut)
}

// GetTextureCut returns the texture_cut value or the default.
func (c *TuningConfig) GetTextureCut() uint8 {
	if c.TextureCut == nil {
		return 7
	}
	return uint8(*c.TextureCut)
}

// GetHeightCut returns the height_cut value or the default.
func (c *TuningConfig) GetHeightCut() uint8 {
	if c.HeightCut == nil {
		return 7
	}
	return uint8(*c.HeightCut)
}

// GetSamplesPerBit returns the samples_per_bit value or the default.
func (c *TuningConfig) GetSamplesPerBit() int {
	if c.SamplesPerBit == nil {
		return 8
	}
	return *c.SamplesPerBit
}

// GetAlertAssertSymbol returns the alert_assert_symbol value or the default.
func (c *TuningConfig) GetAlertAssertSymbol() uint8 {
	if c.AlertAssertSymbol == nil {
		return 0xA5
	}
	return uint8(*c.AlertAssertSymbol)
}

// GetAlertClearSymbol returns the alert_clear_symbol value or the default.
func (c *TuningConfig) GetAlertClearSymbol() uint8 {
	if c.AlertClearSymbol == nil {
		return 0x5A
	}
	return uint8(*c.AlertClearSymbol)
}

// GetEngineTick parses and returns the EngineTick as a time.Duration.
func (c *TuningConfig) GetEngineTick() time.Duration {
	if c.EngineTick == nil || *c.EngineTick == "" {
		return time.Millisecond // default
	}
	d, err := time.ParseDuration(*c.EngineTick)
	if err != nil {
		return time.Millisecond // default on parse error
	}
	return d
}

// GetStatsInterval parses and returns the StatsInterval as a time.Duration.
func (c *TuningConfig) GetStatsInterval() time.Duration {
	if c.StatsInterval == nil || *c.StatsInterval == "" {
		return 60 * time.Second // default
	}
	d, err := time.ParseDuration(*c.StatsInterval)
	if err != nil {
		return 60 * time.Second // default on parse error
	}
	return d
}

// GetMQTTRetain returns the mqtt_retain value or the default.
func (c *TuningConfig) GetMQTTRetain() bool {
	if c.MQTTRetain == nil {
		return true // default: brokers hold the last decision for late joiners
	}
	return *c.MQTTRetain
}
