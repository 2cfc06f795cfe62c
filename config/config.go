// Package config defines the constants that configure the depth pipeline. They are read once at
// startup and never re-read per frame.
package config

import (
	"fmt"

	"github.com/pkg/errors"
	"go.viam.com/utils"

	"go.viam.com/scampca/logging"
)

// A Config describes the whole pipeline: the stereo rig, edge detection, matching, the two octree
// levels, enclosure resolution and the frame pipeline itself.
type Config struct {
	Camera    CameraConfig                  `json:"camera"`
	Edges     EdgesConfig                   `json:"edges"`
	Matching  MatchingConfig                `json:"matching"`
	Octree    OctreeConfig                  `json:"octree"`
	Resolve   ResolveConfig                 `json:"resolve"`
	Pipeline  PipelineConfig                `json:"pipeline"`
	LogConfig []logging.LoggerPatternConfig `json:"log,omitempty"`

	ConfigFilePath string `json:"-"`
}

// CameraConfig describes the rectified stereo rig.
type CameraConfig struct {
	FocalLength float64 `json:"focal_length"`
	Baseline    float64 `json:"baseline"`
	// Width and Height are the size of every frame, in pixels.
	Width  int `json:"width"`
	Height int `json:"height"`
}

// EdgesConfig holds the Canny thresholds, as fractions of the strongest gradient of an image.
type EdgesConfig struct {
	LowThreshold  float64 `json:"low_threshold"`
	HighThreshold float64 `json:"high_threshold"`
	BlurRadius    float64 `json:"blur_radius"`
}

// MatchingConfig holds the region matcher constants.
type MatchingConfig struct {
	VerticalTolerance         float64 `json:"vertical_tolerance"`
	PlanarityThresholdDegrees float64 `json:"planarity_threshold_degrees"`
	MaxHorizontalSeparation   float64 `json:"max_horizontal_separation"`
	Epsilon                   float64 `json:"epsilon"`
	// ConstantZ is the z coordinate every edge point is inserted at.
	ConstantZ float64 `json:"constant_z"`
}

// LevelConfig configures one subdivision of the octree.
type LevelConfig struct {
	Level              int     `json:"level"`
	MaxDistanceToPlane float64 `json:"max_distance_to_plane"`
	MinIsotropy        float64 `json:"min_isotropy"`
}

// OctreeConfig holds the minimal (fine) and maximal (coarse) subdivision parameters.
type OctreeConfig struct {
	Minimal        LevelConfig `json:"minimal"`
	Maximal        LevelConfig `json:"maximal"`
	MinNodePoints  int         `json:"min_node_points"`
	MaxExtraLevels int         `json:"max_extra_levels"`
}

// ResolveConfig holds the enclosure resolver constants.
type ResolveConfig struct {
	OutlierSigma float64 `json:"outlier_sigma"`
	// EnvelopeScale is the number of standard deviations a maximal envelope spans along each
	// principal axis.
	EnvelopeScale    float64 `json:"envelope_scale"`
	WritePointDepths bool    `json:"write_point_depths"`
}

// DropPolicy is what a full frame queue does with a new frame.
type DropPolicy string

const (
	// DropPolicyBlock blocks the producer until the queue has room.
	DropPolicyBlock = DropPolicy("block")
	// DropPolicyDropOldest discards the oldest queued frame.
	DropPolicyDropOldest = DropPolicy("drop_oldest")
)

// PipelineConfig sizes the frame queue and the stage worker pools.
type PipelineConfig struct {
	QueueDepth int        `json:"queue_depth"`
	DropPolicy DropPolicy `json:"drop_policy"`
	MaxWorkers int        `json:"max_workers"`
}

// Default returns the configuration used for any field a config file leaves out.
func Default() *Config {
	return &Config{
		Camera: CameraConfig{
			FocalLength: 4.0,
			Baseline:    205,
			Width:       640,
			Height:      480,
		},
		Edges: EdgesConfig{
			LowThreshold:  0.2,
			HighThreshold: 0.5,
			BlurRadius:    1.0,
		},
		Matching: MatchingConfig{
			VerticalTolerance:         2.0,
			PlanarityThresholdDegrees: 10,
			MaxHorizontalSeparation:   400,
			Epsilon:                   1e-6,
			ConstantZ:                 1.0,
		},
		Octree: OctreeConfig{
			Minimal:        LevelConfig{Level: 5, MaxDistanceToPlane: 1.0},
			Maximal:        LevelConfig{Level: 3, MaxDistanceToPlane: 1.0},
			MinNodePoints:  3,
			MaxExtraLevels: 2,
		},
		Resolve: ResolveConfig{
			OutlierSigma:  2.0,
			EnvelopeScale: 2.0,
		},
		Pipeline: PipelineConfig{
			QueueDepth: 16,
			DropPolicy: DropPolicyBlock,
			MaxWorkers: 32,
		},
	}
}

// Validate returns an error describing the first invalid field.
func (c *Config) Validate() error {
	if err := c.Camera.Validate("camera"); err != nil {
		return err
	}
	if err := c.Edges.Validate("edges"); err != nil {
		return err
	}
	if err := c.Matching.Validate("matching"); err != nil {
		return err
	}
	if err := c.Octree.Validate("octree"); err != nil {
		return err
	}
	if err := c.Resolve.Validate("resolve"); err != nil {
		return err
	}
	if err := c.Pipeline.Validate("pipeline"); err != nil {
		return err
	}
	for idx, lpc := range c.LogConfig {
		if !logging.ValidatePattern(lpc.Pattern) {
			return utils.NewConfigValidationError(fmt.Sprintf("log.%d", idx), errors.Errorf("invalid logger pattern %q", lpc.Pattern))
		}
		if _, err := logging.LevelFromString(lpc.Level); err != nil {
			return utils.NewConfigValidationError(fmt.Sprintf("log.%d", idx), err)
		}
	}
	return nil
}

// Validate ensures all parts of the config are valid.
func (conf *CameraConfig) Validate(path string) error {
	if conf.FocalLength <= 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "focal_length")
	}
	if conf.Baseline <= 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "baseline")
	}
	if conf.Width <= 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "width")
	}
	if conf.Height <= 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "height")
	}
	return nil
}

// Validate ensures all parts of the config are valid.
func (conf *EdgesConfig) Validate(path string) error {
	if conf.HighThreshold <= 0 || conf.HighThreshold > 1 {
		return utils.NewConfigValidationError(path, errors.New("high_threshold must be in (0, 1]"))
	}
	if conf.LowThreshold < 0 || conf.LowThreshold > conf.HighThreshold {
		return utils.NewConfigValidationError(path, errors.New("low_threshold must be in [0, high_threshold]"))
	}
	if conf.BlurRadius < 0 {
		return utils.NewConfigValidationError(path, errors.New("blur_radius cannot be negative"))
	}
	return nil
}

// Validate ensures all parts of the config are valid.
func (conf *MatchingConfig) Validate(path string) error {
	if conf.VerticalTolerance < 0 {
		return utils.NewConfigValidationError(path, errors.New("vertical_tolerance cannot be negative"))
	}
	if conf.PlanarityThresholdDegrees <= 0 || conf.PlanarityThresholdDegrees > 180 {
		return utils.NewConfigValidationError(path, errors.New("planarity_threshold_degrees must be in (0, 180]"))
	}
	if conf.MaxHorizontalSeparation <= 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "max_horizontal_separation")
	}
	if conf.Epsilon <= 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "epsilon")
	}
	return nil
}

// Validate ensures all parts of the config are valid.
func (conf *LevelConfig) Validate(path string) error {
	if conf.Level < 0 {
		return utils.NewConfigValidationError(path, errors.New("level cannot be negative"))
	}
	if conf.MaxDistanceToPlane <= 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "max_distance_to_plane")
	}
	if conf.MinIsotropy < 0 || conf.MinIsotropy > 1 {
		return utils.NewConfigValidationError(path, errors.New("min_isotropy must be in [0, 1]"))
	}
	return nil
}

// Validate ensures all parts of the config are valid.
func (conf *OctreeConfig) Validate(path string) error {
	if err := conf.Minimal.Validate(path + ".minimal"); err != nil {
		return err
	}
	if err := conf.Maximal.Validate(path + ".maximal"); err != nil {
		return err
	}
	if conf.Maximal.Level >= conf.Minimal.Level {
		return utils.NewConfigValidationError(path, errors.Errorf(
			"maximal level %d must be coarser than minimal level %d", conf.Maximal.Level, conf.Minimal.Level))
	}
	if conf.MinNodePoints < 3 {
		return utils.NewConfigValidationError(path, errors.New("min_node_points must be at least 3"))
	}
	if conf.MaxExtraLevels < 0 {
		return utils.NewConfigValidationError(path, errors.New("max_extra_levels cannot be negative"))
	}
	return nil
}

// Validate ensures all parts of the config are valid.
func (conf *ResolveConfig) Validate(path string) error {
	if conf.OutlierSigma <= 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "outlier_sigma")
	}
	if conf.EnvelopeScale <= 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "envelope_scale")
	}
	return nil
}

// Validate ensures all parts of the config are valid.
func (conf *PipelineConfig) Validate(path string) error {
	if conf.QueueDepth <= 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "queue_depth")
	}
	switch conf.DropPolicy {
	case DropPolicyBlock, DropPolicyDropOldest:
	default:
		return utils.NewConfigValidationError(path, errors.Errorf("unknown drop_policy %q", conf.DropPolicy))
	}
	if conf.MaxWorkers <= 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "max_workers")
	}
	return nil
}
