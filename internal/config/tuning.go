package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default policy values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig holds the tunable policy constants for the analysis pipeline.
// All fields are pointers so partial JSON configs are safe: fields omitted
// from the file fall back to the defaults baked into the Get* accessors.
// The schema matches the /api/params endpoint so the same JSON can be used
// for both startup configuration and runtime updates.
type TuningConfig struct {
	// Track association params
	MinIoUAffinity      *float64 `json:"min_iou_affinity,omitempty"`
	MaxCentroidDistance *float64 `json:"max_centroid_distance,omitempty"`
	UnseenFrameTimeout  *int     `json:"unseen_frame_timeout,omitempty"`
	MaxTracks           *int     `json:"max_tracks,omitempty"`

	// Detection filtering
	MinConfidence *float64 `json:"min_confidence,omitempty"`

	// Pipeline params
	FrameQueueDepth       *int     `json:"frame_queue_depth,omitempty"`
	TimelineBucketSeconds *float64 `json:"timeline_bucket_seconds,omitempty"`

	// Frame source params
	DefaultFPS *float64 `json:"default_fps,omitempty"`
}

// Fallback defaults. The association threshold and unseen timeout are
// deliberate policy choices documented in DESIGN.md: IoU ≥ 0.30 accepts a
// match, centroid fallback gates at 120 px, and a track unseen for more
// than 15 processed frames retires.
const (
	defaultMinIoUAffinity        = 0.30
	defaultMaxCentroidDistance   = 120.0
	defaultUnseenFrameTimeout    = 15
	defaultMaxTracks             = 200
	defaultMinConfidence         = 0.0
	defaultFrameQueueDepth       = 16
	defaultTimelineBucketSeconds = 5.0
	defaultFPS                   = 30.0
)

// EmptyTuningConfig returns a TuningConfig with all fields unset.
// Use LoadTuningConfig to load actual values from a defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file. The path must have
// a .json extension and the file must be under 1MB. Fields omitted from the
// JSON retain their accessor defaults, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
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

// MustLoadDefaultConfig loads the canonical tuning defaults from
// DefaultConfigPath, searching upward from the working directory so tests in
// nested packages find it. Panics if the file cannot be loaded.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
		"../../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run from repository root")
}

// Validate rejects out-of-range values for any set field.
func (c *TuningConfig) Validate() error {
	if c.MinIoUAffinity != nil && (*c.MinIoUAffinity < 0 || *c.MinIoUAffinity > 1) {
		return fmt.Errorf("min_iou_affinity must be in [0,1], got %v", *c.MinIoUAffinity)
	}
	if c.MaxCentroidDistance != nil && *c.MaxCentroidDistance <= 0 {
		return fmt.Errorf("max_centroid_distance must be positive, got %v", *c.MaxCentroidDistance)
	}
	if c.UnseenFrameTimeout != nil && *c.UnseenFrameTimeout < 1 {
		return fmt.Errorf("unseen_frame_timeout must be at least 1, got %d", *c.UnseenFrameTimeout)
	}
	if c.MaxTracks != nil && *c.MaxTracks < 1 {
		return fmt.Errorf("max_tracks must be at least 1, got %d", *c.MaxTracks)
	}
	if c.MinConfidence != nil && (*c.MinConfidence < 0 || *c.MinConfidence > 1) {
		return fmt.Errorf("min_confidence must be in [0,1], got %v", *c.MinConfidence)
	}
	if c.FrameQueueDepth != nil && *c.FrameQueueDepth < 1 {
		return fmt.Errorf("frame_queue_depth must be at least 1, got %d", *c.FrameQueueDepth)
	}
	if c.TimelineBucketSeconds != nil && *c.TimelineBucketSeconds <= 0 {
		return fmt.Errorf("timeline_bucket_seconds must be positive, got %v", *c.TimelineBucketSeconds)
	}
	if c.DefaultFPS != nil && *c.DefaultFPS <= 0 {
		return fmt.Errorf("default_fps must be positive, got %v", *c.DefaultFPS)
	}
	return nil
}

// GetMinIoUAffinity returns the minimum IoU to accept a track match.
func (c *TuningConfig) GetMinIoUAffinity() float64 {
	if c.MinIoUAffinity != nil {
		return *c.MinIoUAffinity
	}
	return defaultMinIoUAffinity
}

// GetMaxCentroidDistance returns the centroid-fallback gate in pixels.
func (c *TuningConfig) GetMaxCentroidDistance() float64 {
	if c.MaxCentroidDistance != nil {
		return *c.MaxCentroidDistance
	}
	return defaultMaxCentroidDistance
}

// GetUnseenFrameTimeout returns the frames a track may go unseen before it
// retires.
func (c *TuningConfig) GetUnseenFrameTimeout() int {
	if c.UnseenFrameTimeout != nil {
		return *c.UnseenFrameTimeout
	}
	return defaultUnseenFrameTimeout
}

// GetMaxTracks returns the maximum concurrent tracks per session.
func (c *TuningConfig) GetMaxTracks() int {
	if c.MaxTracks != nil {
		return *c.MaxTracks
	}
	return defaultMaxTracks
}

// GetMinConfidence returns the detector confidence floor (0 disables).
func (c *TuningConfig) GetMinConfidence() float64 {
	if c.MinConfidence != nil {
		return *c.MinConfidence
	}
	return defaultMinConfidence
}

// GetFrameQueueDepth returns the bounded producer/consumer queue depth.
func (c *TuningConfig) GetFrameQueueDepth() int {
	if c.FrameQueueDepth != nil {
		return *c.FrameQueueDepth
	}
	return defaultFrameQueueDepth
}

// GetTimelineBucketSeconds returns the timeline bucket width in seconds.
func (c *TuningConfig) GetTimelineBucketSeconds() float64 {
	if c.TimelineBucketSeconds != nil {
		return *c.TimelineBucketSeconds
	}
	return defaultTimelineBucketSeconds
}

// GetDefaultFPS returns the frame rate assumed when a source reports none.
func (c *TuningConfig) GetDefaultFPS() float64 {
	if c.DefaultFPS != nil {
		return *c.DefaultFPS
	}
	return defaultFPS
}
