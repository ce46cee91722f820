// Package config loads the lamp controller's JSON configuration file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/banshee-data/adaptive-light/internal/light"
	"github.com/banshee-data/adaptive-light/internal/serialmux"
)

// DefaultConfigPath is the path to the canonical defaults file.
const DefaultConfigPath = "config/light.defaults.json"

// LightConfig is the root configuration. Every field is optional; the Get*
// methods supply defaults for omitted fields so partial files are safe.
type LightConfig struct {
	// Band thresholds in centimeters, strictly ascending.
	CloseCM  *int `json:"close_cm,omitempty"`
	MediumCM *int `json:"medium_cm,omitempty"`
	FarCM    *int `json:"far_cm,omitempty"`
	OffCM    *int `json:"off_cm,omitempty"`

	// Loop timing, as duration strings like "200ms".
	SamplePeriod  *string `json:"sample_period,omitempty"`
	SampleTimeout *string `json:"sample_timeout,omitempty"`
	ActuatePeriod *string `json:"actuate_period,omitempty"`

	MaxRangeCM *int  `json:"max_range_cm,omitempty"`
	Enabled    *bool `json:"enabled,omitempty"`

	// Modes overrides entries of the default command table, keyed by mode
	// name ("close", "medium", "far", "idle", "off").
	Modes map[string]ModeSetting `json:"modes,omitempty"`

	Serial *serialmux.PortOptions `json:"serial,omitempty"`
}

// ModeSetting overrides one mode's command. Omitted fields keep the default.
type ModeSetting struct {
	IntensityPercent *int `json:"intensity_percent,omitempty"`
	ApertureDegrees  *int `json:"aperture_degrees,omitempty"`
}

func ptrInt(v int) *int          { return &v }
func ptrBool(v bool) *bool       { return &v }
func ptrString(v string) *string { return &v }

// EmptyConfig returns a LightConfig with all fields unset.
func EmptyConfig() *LightConfig {
	return &LightConfig{}
}

// DefaultConfig returns a LightConfig with every field set to its default.
func DefaultConfig() *LightConfig {
	th := light.DefaultThresholds()
	table := light.DefaultModeTable()
	modes := make(map[string]ModeSetting, len(table))
	for _, m := range light.Modes() {
		modes[m.String()] = ModeSetting{
			IntensityPercent: ptrInt(table[m].IntensityPercent),
			ApertureDegrees:  ptrInt(table[m].ApertureDegrees),
		}
	}
	return &LightConfig{
		CloseCM:       ptrInt(th.CloseCM),
		MediumCM:      ptrInt(th.MediumCM),
		FarCM:         ptrInt(th.FarCM),
		OffCM:         ptrInt(th.OffCM),
		SamplePeriod:  ptrString(light.DefaultSamplePeriod.String()),
		SampleTimeout: ptrString(light.DefaultSampleTimeout.String()),
		ActuatePeriod: ptrString(light.DefaultActuatePeriod.String()),
		MaxRangeCM:    ptrInt(light.DefaultMaxRangeCM),
		Enabled:       ptrBool(true),
		Modes:         modes,
		Serial:        &serialmux.PortOptions{BaudRate: serialmux.DefaultBaudRate, DataBits: 8, StopBits: 1, Parity: "N"},
	}
}

// LoadConfig loads a LightConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
func LoadConfig(path string) (*LightConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

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

	cfg := EmptyConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching from the current
// directory up towards the repository root. Panics if the file cannot be
// loaded, intended for test setup.
func MustLoadDefaultConfig() *LightConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/<pkg>/
		"../../../" + DefaultConfigPath, // from cmd/<tool>/ subpackages
	}
	for _, path := range candidates {
		if cfg, err := LoadConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks every set field and the band invariants. Threshold and
// mode table violations wrap light.ErrInvalidThresholds and
// light.ErrInvalidModeTable.
func (c *LightConfig) Validate() error {
	for name, v := range map[string]*string{
		"sample_period":  c.SamplePeriod,
		"sample_timeout": c.SampleTimeout,
		"actuate_period": c.ActuatePeriod,
	} {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}

	if c.GetSampleTimeout() > c.GetSamplePeriod() {
		return fmt.Errorf("sample_timeout (%s) must not exceed sample_period (%s)", c.GetSampleTimeout(), c.GetSamplePeriod())
	}
	if c.GetSamplePeriod() >= c.GetActuatePeriod() {
		return fmt.Errorf("sample_period (%s) must be shorter than actuate_period (%s)", c.GetSamplePeriod(), c.GetActuatePeriod())
	}

	if c.MaxRangeCM != nil && *c.MaxRangeCM <= 0 {
		return fmt.Errorf("max_range_cm must be positive, got %d", *c.MaxRangeCM)
	}
	if th := c.Thresholds(); th.OffCM >= c.GetMaxRangeCM() {
		return fmt.Errorf("off_cm (%d) must be below max_range_cm (%d)", th.OffCM, c.GetMaxRangeCM())
	}

	if c.Serial != nil {
		if _, err := c.Serial.Normalise(); err != nil {
			return fmt.Errorf("invalid serial options: %w", err)
		}
	}

	_, err := c.Classifier()
	return err
}

// Thresholds returns the configured band thresholds with defaults applied.
func (c *LightConfig) Thresholds() light.Thresholds {
	th := light.DefaultThresholds()
	if c.CloseCM != nil {
		th.CloseCM = *c.CloseCM
	}
	if c.MediumCM != nil {
		th.MediumCM = *c.MediumCM
	}
	if c.FarCM != nil {
		th.FarCM = *c.FarCM
	}
	if c.OffCM != nil {
		th.OffCM = *c.OffCM
	}
	return th
}

// ModeTable applies the configured overrides to the default table.
func (c *LightConfig) ModeTable() (light.ModeTable, error) {
	table := light.DefaultModeTable()

	names := make([]string, 0, len(c.Modes))
	for name := range c.Modes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		mode, err := light.ParseMode(name)
		if err != nil {
			return table, fmt.Errorf("%w: %w", light.ErrInvalidModeTable, err)
		}
		setting := c.Modes[name]
		if setting.IntensityPercent != nil {
			table[mode].IntensityPercent = *setting.IntensityPercent
		}
		if setting.ApertureDegrees != nil {
			table[mode].ApertureDegrees = *setting.ApertureDegrees
		}
	}
	return table, nil
}

// Classifier builds the validated classifier for this configuration.
func (c *LightConfig) Classifier() (*light.Classifier, error) {
	table, err := c.ModeTable()
	if err != nil {
		return nil, err
	}
	return light.NewClassifier(c.Thresholds(), table)
}

func parseDurationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// GetSamplePeriod returns the sample_period value or the default.
func (c *LightConfig) GetSamplePeriod() time.Duration {
	return parseDurationOr(c.SamplePeriod, light.DefaultSamplePeriod)
}

// GetSampleTimeout returns the sample_timeout value or the default.
func (c *LightConfig) GetSampleTimeout() time.Duration {
	return parseDurationOr(c.SampleTimeout, light.DefaultSampleTimeout)
}

// GetActuatePeriod returns the actuate_period value or the default.
func (c *LightConfig) GetActuatePeriod() time.Duration {
	return parseDurationOr(c.ActuatePeriod, light.DefaultActuatePeriod)
}

// GetMaxRangeCM returns the max_range_cm value or the default.
func (c *LightConfig) GetMaxRangeCM() int {
	if c.MaxRangeCM == nil {
		return light.DefaultMaxRangeCM
	}
	return *c.MaxRangeCM
}

// GetEnabled returns the enabled value or the default.
func (c *LightConfig) GetEnabled() bool {
	if c.Enabled == nil {
		return true // default: light on at boot
	}
	return *c.Enabled
}

// GetSerialOptions returns the serial options or the 115200 8N1 default.
func (c *LightConfig) GetSerialOptions() serialmux.PortOptions {
	if c.Serial == nil {
		return serialmux.PortOptions{}
	}
	return *c.Serial
}

// SamplerConfig returns the sampler settings for this configuration.
func (c *LightConfig) SamplerConfig() light.SamplerConfig {
	return light.SamplerConfig{
		Period:     c.GetSamplePeriod(),
		Timeout:    c.GetSampleTimeout(),
		MaxRangeCM: c.GetMaxRangeCM(),
	}
}

// DriverConfig returns the driver settings for this configuration.
func (c *LightConfig) DriverConfig() light.DriverConfig {
	return light.DriverConfig{
		Period:  c.GetActuatePeriod(),
		Enabled: c.GetEnabled(),
	}
}
