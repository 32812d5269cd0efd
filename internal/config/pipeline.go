// Package config loads and validates the pipeline tuning configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/cloudmotion/internal/units"
)

// DefaultConfigPath is the path to the canonical pipeline defaults file.
const DefaultConfigPath = "config/pipeline.defaults.json"

// Velocity reference modes.
const (
	// VelocityReferenceSensor reports object velocities relative to the moving sensor.
	VelocityReferenceSensor = "sensor"
	// VelocityReferenceAbsolute adds the sensor's ego velocity to every matched object velocity.
	VelocityReferenceAbsolute = "absolute"
)

// PipelineConfig is the root configuration for both pipelines.
// Fields are pointers so partial JSON files are valid; the Get* methods
// supply defaults for anything left unset.
type PipelineConfig struct {
	// Coordinate frames
	ChildFrameName  *string `json:"child_frame_name,omitempty"`
	ParentFrameName *string `json:"parent_frame_name,omitempty"`

	// Change detection
	VoxelSize        *float64 `json:"voxel_size,omitempty"`
	MinPointsPerLeaf *int     `json:"min_points_per_leaf,omitempty"`

	// Clustering
	ClusterTolerance *float64 `json:"cluster_tolerance,omitempty"`
	MinClusterSize   *int     `json:"min_cluster_size,omitempty"`
	MaxClusterSize   *int     `json:"max_cluster_size,omitempty"`

	// Association
	AssociationDistance *float64 `json:"association_distance,omitempty"`
	VelocityReference   *string  `json:"velocity_reference,omitempty"`

	// Pose lookup
	PoseTimeout *string `json:"pose_timeout,omitempty"` // duration string like "1s"

	// Visualisation
	DisplayUnits *string `json:"display_units,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyPipelineConfig returns a PipelineConfig with all fields set to nil.
func EmptyPipelineConfig() *PipelineConfig {
	return &PipelineConfig{}
}

// DefaultPipelineConfig returns a PipelineConfig with every field populated
// from the built-in defaults.
func DefaultPipelineConfig() *PipelineConfig {
	c := EmptyPipelineConfig()
	return &PipelineConfig{
		ChildFrameName:      ptrString(c.GetChildFrameName()),
		ParentFrameName:     ptrString(c.GetParentFrameName()),
		VoxelSize:           ptrFloat64(c.GetVoxelSize()),
		MinPointsPerLeaf:    ptrInt(c.GetMinPointsPerLeaf()),
		ClusterTolerance:    ptrFloat64(c.GetClusterTolerance()),
		MinClusterSize:      ptrInt(c.GetMinClusterSize()),
		MaxClusterSize:      ptrInt(c.GetMaxClusterSize()),
		AssociationDistance: ptrFloat64(c.GetAssociationDistance()),
		VelocityReference:   ptrString(c.GetVelocityReference()),
		PoseTimeout:         ptrString(c.GetPoseTimeout().String()),
		DisplayUnits:        ptrString(c.GetDisplayUnits()),
	}
}

// LoadPipelineConfig loads a PipelineConfig from a JSON file.
// The file must have a .json extension and be at most 1MB.
func LoadPipelineConfig(path string) (*PipelineConfig, error) {
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

	cfg := EmptyPipelineConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath,
// searching the current directory and its parents. Panics if the file
// cannot be loaded; intended for test setup.
func MustLoadDefaultConfig() *PipelineConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,          // from internal/config/
		"../../../" + DefaultConfigPath,       // from internal/lidar/pipeline/
		"../../../../" + DefaultConfigPath,    // deeper packages
		"../../../../../" + DefaultConfigPath, // even deeper
	}
	for _, path := range candidates {
		if cfg, err := LoadPipelineConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *PipelineConfig) Validate() error {
	if c.ParentFrameName != nil && *c.ParentFrameName == "" {
		return fmt.Errorf("parent_frame_name must not be empty")
	}
	if c.VoxelSize != nil && !(*c.VoxelSize > 0) {
		return fmt.Errorf("voxel_size must be positive, got %f", *c.VoxelSize)
	}
	if c.MinPointsPerLeaf != nil && *c.MinPointsPerLeaf < 0 {
		return fmt.Errorf("min_points_per_leaf must be non-negative, got %d", *c.MinPointsPerLeaf)
	}
	if c.ClusterTolerance != nil && !(*c.ClusterTolerance > 0) {
		return fmt.Errorf("cluster_tolerance must be positive, got %f", *c.ClusterTolerance)
	}
	if c.MinClusterSize != nil && *c.MinClusterSize < 1 {
		return fmt.Errorf("min_cluster_size must be at least 1, got %d", *c.MinClusterSize)
	}
	if c.MaxClusterSize != nil && *c.MaxClusterSize < 0 {
		return fmt.Errorf("max_cluster_size must be non-negative, got %d", *c.MaxClusterSize)
	}
	if c.AssociationDistance != nil && !(*c.AssociationDistance >= 0) {
		return fmt.Errorf("association_distance must be non-negative, got %f", *c.AssociationDistance)
	}
	if c.VelocityReference != nil {
		switch *c.VelocityReference {
		case VelocityReferenceSensor, VelocityReferenceAbsolute:
		default:
			return fmt.Errorf("velocity_reference must be %q or %q, got %q",
				VelocityReferenceSensor, VelocityReferenceAbsolute, *c.VelocityReference)
		}
	}
	if c.PoseTimeout != nil && *c.PoseTimeout != "" {
		d, err := time.ParseDuration(*c.PoseTimeout)
		if err != nil {
			return fmt.Errorf("invalid pose_timeout '%s': %w", *c.PoseTimeout, err)
		}
		if d <= 0 {
			return fmt.Errorf("pose_timeout must be positive, got %s", d)
		}
	}
	if c.DisplayUnits != nil && !units.IsValid(*c.DisplayUnits) {
		return fmt.Errorf("display_units must be one of %s, got %q", units.GetValidUnitsString(), *c.DisplayUnits)
	}
	return nil
}

// GetChildFrameName returns the child_frame_name value or the default.
func (c *PipelineConfig) GetChildFrameName() string {
	if c.ChildFrameName == nil {
		return "/lidar"
	}
	return *c.ChildFrameName
}

// GetParentFrameName returns the parent_frame_name value or the default.
func (c *PipelineConfig) GetParentFrameName() string {
	if c.ParentFrameName == nil || *c.ParentFrameName == "" {
		return "/odom"
	}
	return *c.ParentFrameName
}

// GetVoxelSize returns the voxel_size value or the default.
func (c *PipelineConfig) GetVoxelSize() float64 {
	if c.VoxelSize == nil {
		return 1.0
	}
	return *c.VoxelSize
}

// GetMinPointsPerLeaf returns the min_points_per_leaf value or the default.
func (c *PipelineConfig) GetMinPointsPerLeaf() int {
	if c.MinPointsPerLeaf == nil {
		return 0
	}
	return *c.MinPointsPerLeaf
}

// GetClusterTolerance returns the cluster_tolerance value or the default.
func (c *PipelineConfig) GetClusterTolerance() float64 {
	if c.ClusterTolerance == nil {
		return 0.1
	}
	return *c.ClusterTolerance
}

// GetMinClusterSize returns the min_cluster_size value or the default.
func (c *PipelineConfig) GetMinClusterSize() int {
	if c.MinClusterSize == nil {
		return 100
	}
	return *c.MinClusterSize
}

// GetMaxClusterSize returns the max_cluster_size value or the default.
// Zero means unbounded.
func (c *PipelineConfig) GetMaxClusterSize() int {
	if c.MaxClusterSize == nil {
		return 0
	}
	return *c.MaxClusterSize
}

// GetAssociationDistance returns the association_distance value or the default.
func (c *PipelineConfig) GetAssociationDistance() float64 {
	if c.AssociationDistance == nil {
		return 1.0
	}
	return *c.AssociationDistance
}

// GetVelocityReference returns the velocity_reference value or the default.
func (c *PipelineConfig) GetVelocityReference() string {
	if c.VelocityReference == nil || *c.VelocityReference == "" {
		return VelocityReferenceSensor
	}
	return *c.VelocityReference
}

// GetPoseTimeout parses and returns PoseTimeout as a time.Duration.
func (c *PipelineConfig) GetPoseTimeout() time.Duration {
	if c.PoseTimeout == nil || *c.PoseTimeout == "" {
		return time.Second
	}
	d, err := time.ParseDuration(*c.PoseTimeout)
	if err != nil || d <= 0 {
		return time.Second
	}
	return d
}

// GetDisplayUnits returns the display_units value or the default.
func (c *PipelineConfig) GetDisplayUnits() string {
	if c.DisplayUnits == nil || *c.DisplayUnits == "" {
		return units.KPH
	}
	return *c.DisplayUnits
}
