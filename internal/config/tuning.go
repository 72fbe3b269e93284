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

// Tracker implementation selectors.
const (
	TrackerIoU    = "iou"
	TrackerKalman = "kalman"
)

// TuningConfig represents the root configuration for tuning parameters.
// All fields are pointers so that a partial JSON file only overrides the
// values it names; the Get* methods supply defaults for the rest.
type TuningConfig struct {
	// Tracker params
	Tracker           *string  `json:"tracker,omitempty"` // "iou" or "kalman"
	IoUThreshold      *float64 `json:"iou_threshold,omitempty"`
	FreezeAfterTicks  *int     `json:"freeze_after_ticks,omitempty"`
	DiscardAfterTicks *int     `json:"discard_after_ticks,omitempty"`
	RecoveryLookback  *string  `json:"recovery_lookback,omitempty"` // duration string like "60s"
	RecoveryLimit     *int     `json:"recovery_limit,omitempty"`

	// Room manager params
	MovementWindow    *string `json:"movement_window,omitempty"`     // duration string like "7s"
	MovementMinGap    *string `json:"movement_min_gap,omitempty"`    // duration string like "1s"
	DisappearedMaxAge *string `json:"disappeared_max_age,omitempty"` // duration string like "10s"
	SweepInterval     *string `json:"sweep_interval,omitempty"`      // duration string like "5s"

	// Group correlation params
	CorrelationWindow *string `json:"correlation_window,omitempty"` // duration string like "10s"

	// Detection filter params (detector boundary, not tracker)
	MinBoxHeight   *float64 `json:"min_box_height,omitempty"`
	MinBoxArea     *float64 `json:"min_box_area,omitempty"`
	MaxAspectRatio *float64 `json:"max_aspect_ratio,omitempty"`
	MinAspectRatio *float64 `json:"min_aspect_ratio,omitempty"`
	DuplicateIoU   *float64 `json:"duplicate_iou,omitempty"`
}

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
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
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/<pkg>/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are consistent. In
// particular it rejects a disappeared_max_age shorter than the movement
// window: the sweep would forget a vanished identity before a legitimate
// reappearance near the window's upper edge could be matched.
func (c *TuningConfig) Validate() error {
	if c.Tracker != nil {
		if *c.Tracker != TrackerIoU && *c.Tracker != TrackerKalman {
			return fmt.Errorf("tracker must be %q or %q, got %q", TrackerIoU, TrackerKalman, *c.Tracker)
		}
	}

	if c.IoUThreshold != nil {
		if *c.IoUThreshold <= 0 || *c.IoUThreshold > 1 {
			return fmt.Errorf("iou_threshold must be in (0, 1], got %f", *c.IoUThreshold)
		}
	}

	if c.FreezeAfterTicks != nil && *c.FreezeAfterTicks <= 0 {
		return fmt.Errorf("freeze_after_ticks must be positive, got %d", *c.FreezeAfterTicks)
	}
	if c.DiscardAfterTicks != nil && *c.DiscardAfterTicks <= 0 {
		return fmt.Errorf("discard_after_ticks must be positive, got %d", *c.DiscardAfterTicks)
	}
	if c.GetDiscardAfterTicks() < c.GetFreezeAfterTicks() {
		return fmt.Errorf("discard_after_ticks (%d) must be >= freeze_after_ticks (%d)",
			c.GetDiscardAfterTicks(), c.GetFreezeAfterTicks())
	}

	for name, v := range map[string]*string{
		"recovery_lookback":   c.RecoveryLookback,
		"movement_window":     c.MovementWindow,
		"movement_min_gap":    c.MovementMinGap,
		"disappeared_max_age": c.DisappearedMaxAge,
		"sweep_interval":      c.SweepInterval,
		"correlation_window":  c.CorrelationWindow,
	} {
		if v != nil && *v != "" {
			if _, err := time.ParseDuration(*v); err != nil {
				return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
			}
		}
	}

	if c.GetMovementMinGap() > c.GetMovementWindow() {
		return fmt.Errorf("movement_min_gap (%s) must be <= movement_window (%s)",
			c.GetMovementMinGap(), c.GetMovementWindow())
	}
	if c.GetDisappearedMaxAge() < c.GetMovementWindow() {
		return fmt.Errorf("disappeared_max_age (%s) must be >= movement_window (%s): "+
			"the sweep would forget vanished identities before they can be matched",
			c.GetDisappearedMaxAge(), c.GetMovementWindow())
	}

	if c.RecoveryLimit != nil && *c.RecoveryLimit < 0 {
		return fmt.Errorf("recovery_limit must be non-negative, got %d", *c.RecoveryLimit)
	}

	return nil
}

func (c *TuningConfig) duration(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

// GetTracker returns the tracker implementation selector or the default.
func (c *TuningConfig) GetTracker() string {
	if c.Tracker == nil {
		return TrackerIoU
	}
	return *c.Tracker
}

// GetIoUThreshold returns the iou_threshold value or the default.
func (c *TuningConfig) GetIoUThreshold() float64 {
	if c.IoUThreshold == nil {
		return 0.3
	}
	return *c.IoUThreshold
}

// GetFreezeAfterTicks returns the freeze_after_ticks value or the default.
func (c *TuningConfig) GetFreezeAfterTicks() int {
	if c.FreezeAfterTicks == nil {
		return 150
	}
	return *c.FreezeAfterTicks
}

// GetDiscardAfterTicks returns the discard_after_ticks value or the default.
func (c *TuningConfig) GetDiscardAfterTicks() int {
	if c.DiscardAfterTicks == nil {
		return 900
	}
	return *c.DiscardAfterTicks
}

// GetRecoveryLookback returns the recovery_lookback duration or the default.
func (c *TuningConfig) GetRecoveryLookback() time.Duration {
	return c.duration(c.RecoveryLookback, 60*time.Second)
}

// GetRecoveryLimit returns the recovery_limit value or the default.
func (c *TuningConfig) GetRecoveryLimit() int {
	if c.RecoveryLimit == nil {
		return 10
	}
	return *c.RecoveryLimit
}

// GetMovementWindow returns the movement_window duration or the default.
func (c *TuningConfig) GetMovementWindow() time.Duration {
	return c.duration(c.MovementWindow, 7*time.Second)
}

// GetMovementMinGap returns the movement_min_gap duration or the default.
func (c *TuningConfig) GetMovementMinGap() time.Duration {
	return c.duration(c.MovementMinGap, 1*time.Second)
}

// GetDisappearedMaxAge returns the disappeared_max_age duration or the default.
func (c *TuningConfig) GetDisappearedMaxAge() time.Duration {
	return c.duration(c.DisappearedMaxAge, 10*time.Second)
}

// GetSweepInterval returns the sweep_interval duration or the default.
func (c *TuningConfig) GetSweepInterval() time.Duration {
	return c.duration(c.SweepInterval, 5*time.Second)
}

// GetCorrelationWindow returns the correlation_window duration or the default.
func (c *TuningConfig) GetCorrelationWindow() time.Duration {
	return c.duration(c.CorrelationWindow, 10*time.Second)
}

// GetMinBoxHeight returns the min_box_height value or the default.
func (c *TuningConfig) GetMinBoxHeight() float64 {
	if c.MinBoxHeight == nil {
		return 150
	}
	return *c.MinBoxHeight
}

// GetMinBoxArea returns the min_box_area value or the default.
func (c *TuningConfig) GetMinBoxArea() float64 {
	if c.MinBoxArea == nil {
		return 22500
	}
	return *c.MinBoxArea
}

// GetMaxAspectRatio returns the max_aspect_ratio value or the default.
func (c *TuningConfig) GetMaxAspectRatio() float64 {
	if c.MaxAspectRatio == nil {
		return 1.2
	}
	return *c.MaxAspectRatio
}

// GetMinAspectRatio returns the min_aspect_ratio value or the default.
func (c *TuningConfig) GetMinAspectRatio() float64 {
	if c.MinAspectRatio == nil {
		return 0.33
	}
	return *c.MinAspectRatio
}

// GetDuplicateIoU returns the duplicate_iou value or the default.
func (c *TuningConfig) GetDuplicateIoU() float64 {
	if c.DuplicateIoU == nil {
		return 0.5
	}
	return *c.DuplicateIoU
}
