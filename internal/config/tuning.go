package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is the path to the canonical verification defaults file.
const DefaultConfigPath = "config/verify.defaults.json"

// Engine names accepted by the engine key.
const (
	EngineGlobal = "global"
	EngineGreedy = "greedy"
)

// Default values returned by the Get* accessors when a field is unset.
const (
	DefaultResolution              = 0.005
	DefaultWorkers                 = 0 // 0 = runtime.GOMAXPROCS
	DefaultEngine                  = EngineGlobal
	DefaultUseNormals              = false
	DefaultInlierThreshold         = 0.005
	DefaultNormalAngleToleranceDeg = 45.0
	DefaultOcclusionThreshold      = 0.01
	DefaultAngularResolutionDeg    = 0.5
	DefaultMinVisiblePoints        = 10
	DefaultExplanationWeight       = 1.0
	DefaultOutlierWeight           = 1.0
	DefaultOverlapWeight           = 2.0
	DefaultUnexplainedWeight       = 0.5
	DefaultPlaneWeight             = 2.0
	DefaultPlaneMargin             = 0.01
	DefaultMoveBudget              = 2000
	DefaultInitialTemperature      = 0.2
	DefaultInitialAll              = false
	DefaultSeed                    = 1
	DefaultRefine                  = true
	DefaultRefineMaxIterations     = 30
	DefaultRefineMaxCorrespondence = 0.02
	DefaultRefineConvergence       = 1e-6
	DefaultRefineOutlierPercentile = 0.9
	DefaultNormalRadius            = 0.015
	DefaultRigidTolerance          = 1e-4
	DefaultDisplayResolution       = 0.01
)

// VerifyConfig holds every tunable of the verification stage. Nil fields
// fall back to the Default* constants through the Get* accessors, so
// partial files are safe.
type VerifyConfig struct {
	// Alignment
	Resolution *float64 `json:"resolution,omitempty" yaml:"resolution,omitempty"` // model assembly voxel size (m)
	Workers    *int     `json:"workers,omitempty" yaml:"workers,omitempty"`

	// Engine selection and scoring
	Engine                  *string  `json:"engine,omitempty" yaml:"engine,omitempty"`
	UseNormals              *bool    `json:"use_normals,omitempty" yaml:"use_normals,omitempty"`
	InlierThreshold         *float64 `json:"inlier_threshold,omitempty" yaml:"inlier_threshold,omitempty"`
	NormalAngleToleranceDeg *float64 `json:"normal_angle_tolerance_deg,omitempty" yaml:"normal_angle_tolerance_deg,omitempty"`
	OcclusionThreshold      *float64 `json:"occlusion_threshold,omitempty" yaml:"occlusion_threshold,omitempty"`
	AngularResolutionDeg    *float64 `json:"angular_resolution_deg,omitempty" yaml:"angular_resolution_deg,omitempty"`
	MinVisiblePoints        *int     `json:"min_visible_points,omitempty" yaml:"min_visible_points,omitempty"`
	ExplanationWeight       *float64 `json:"explanation_weight,omitempty" yaml:"explanation_weight,omitempty"`
	OutlierWeight           *float64 `json:"outlier_weight,omitempty" yaml:"outlier_weight,omitempty"`
	OverlapWeight           *float64 `json:"overlap_weight,omitempty" yaml:"overlap_weight,omitempty"`
	UnexplainedWeight       *float64 `json:"unexplained_weight,omitempty" yaml:"unexplained_weight,omitempty"`
	PlaneWeight             *float64 `json:"plane_weight,omitempty" yaml:"plane_weight,omitempty"`
	PlaneMargin             *float64 `json:"plane_margin,omitempty" yaml:"plane_margin,omitempty"`
	NormalRadius            *float64 `json:"normal_radius,omitempty" yaml:"normal_radius,omitempty"`

	// Local search
	MoveBudget         *int     `json:"move_budget,omitempty" yaml:"move_budget,omitempty"`
	InitialTemperature *float64 `json:"initial_temperature,omitempty" yaml:"initial_temperature,omitempty"`
	InitialAll         *bool    `json:"initial_all,omitempty" yaml:"initial_all,omitempty"`
	Seed               *uint64  `json:"seed,omitempty" yaml:"seed,omitempty"`

	// Pose refinement
	Refine                  *bool    `json:"refine,omitempty" yaml:"refine,omitempty"`
	RefineMaxIterations     *int     `json:"refine_max_iterations,omitempty" yaml:"refine_max_iterations,omitempty"`
	RefineMaxCorrespondence *float64 `json:"refine_max_correspondence,omitempty" yaml:"refine_max_correspondence,omitempty"`
	RefineConvergence       *float64 `json:"refine_convergence,omitempty" yaml:"refine_convergence,omitempty"`
	RefineOutlierPercentile *float64 `json:"refine_outlier_percentile,omitempty" yaml:"refine_outlier_percentile,omitempty"`

	// Input checks and presentation
	RigidTolerance    *float64 `json:"rigid_tolerance,omitempty" yaml:"rigid_tolerance,omitempty"`
	DisplayResolution *float64 `json:"display_resolution,omitempty" yaml:"display_resolution,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrUint64(v uint64) *uint64    { return &v }

// EmptyVerifyConfig returns a VerifyConfig with all fields set to nil.
func EmptyVerifyConfig() *VerifyConfig {
	return &VerifyConfig{}
}

// DefaultVerifyConfig returns a VerifyConfig with every field set to its
// default value.
func DefaultVerifyConfig() *VerifyConfig {
	return &VerifyConfig{
		Resolution:              ptrFloat64(DefaultResolution),
		Workers:                 ptrInt(DefaultWorkers),
		Engine:                  ptrString(DefaultEngine),
		UseNormals:              ptrBool(DefaultUseNormals),
		InlierThreshold:         ptrFloat64(DefaultInlierThreshold),
		NormalAngleToleranceDeg: ptrFloat64(DefaultNormalAngleToleranceDeg),
		OcclusionThreshold:      ptrFloat64(DefaultOcclusionThreshold),
		AngularResolutionDeg:    ptrFloat64(DefaultAngularResolutionDeg),
		MinVisiblePoints:        ptrInt(DefaultMinVisiblePoints),
		ExplanationWeight:       ptrFloat64(DefaultExplanationWeight),
		OutlierWeight:           ptrFloat64(DefaultOutlierWeight),
		OverlapWeight:           ptrFloat64(DefaultOverlapWeight),
		UnexplainedWeight:       ptrFloat64(DefaultUnexplainedWeight),
		PlaneWeight:             ptrFloat64(DefaultPlaneWeight),
		PlaneMargin:             ptrFloat64(DefaultPlaneMargin),
		NormalRadius:            ptrFloat64(DefaultNormalRadius),
		MoveBudget:              ptrInt(DefaultMoveBudget),
		InitialTemperature:      ptrFloat64(DefaultInitialTemperature),
		InitialAll:              ptrBool(DefaultInitialAll),
		Seed:                    ptrUint64(DefaultSeed),
		Refine:                  ptrBool(DefaultRefine),
		RefineMaxIterations:     ptrInt(DefaultRefineMaxIterations),
		RefineMaxCorrespondence: ptrFloat64(DefaultRefineMaxCorrespondence),
		RefineConvergence:       ptrFloat64(DefaultRefineConvergence),
		RefineOutlierPercentile: ptrFloat64(DefaultRefineOutlierPercentile),
		RigidTolerance:          ptrFloat64(DefaultRigidTolerance),
		DisplayResolution:       ptrFloat64(DefaultDisplayResolution),
	}
}

// LoadVerifyConfig loads a VerifyConfig from a .json, .yaml or .yml file.
// Fields omitted from the file keep their defaults.
func LoadVerifyConfig(path string) (*VerifyConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	switch ext {
	case ".json", ".yaml", ".yml":
	default:
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
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

	cfg := EmptyVerifyConfig()
	if ext == ".json" {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath.
// It searches the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *VerifyConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/x/y/
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadVerifyConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *VerifyConfig) Validate() error {
	if c.Resolution != nil && *c.Resolution < 0 {
		return fmt.Errorf("resolution must be non-negative, got %f", *c.Resolution)
	}
	if c.Workers != nil && *c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", *c.Workers)
	}
	if c.Engine != nil {
		switch *c.Engine {
		case EngineGlobal, EngineGreedy:
		default:
			return fmt.Errorf("engine must be %q or %q, got %q", EngineGlobal, EngineGreedy, *c.Engine)
		}
	}
	positive := []struct {
		name string
		v    *float64
	}{
		{"inlier_threshold", c.InlierThreshold},
		{"occlusion_threshold", c.OcclusionThreshold},
		{"angular_resolution_deg", c.AngularResolutionDeg},
		{"refine_max_correspondence", c.RefineMaxCorrespondence},
		{"normal_radius", c.NormalRadius},
		{"rigid_tolerance", c.RigidTolerance},
	}
	for _, p := range positive {
		if p.v != nil && *p.v <= 0 {
			return fmt.Errorf("%s must be positive, got %f", p.name, *p.v)
		}
	}
	nonNegative := []struct {
		name string
		v    *float64
	}{
		{"explanation_weight", c.ExplanationWeight},
		{"outlier_weight", c.OutlierWeight},
		{"overlap_weight", c.OverlapWeight},
		{"unexplained_weight", c.UnexplainedWeight},
		{"plane_weight", c.PlaneWeight},
		{"plane_margin", c.PlaneMargin},
		{"initial_temperature", c.InitialTemperature},
		{"refine_convergence", c.RefineConvergence},
		{"display_resolution", c.DisplayResolution},
	}
	for _, p := range nonNegative {
		if p.v != nil && *p.v < 0 {
			return fmt.Errorf("%s must be non-negative, got %f", p.name, *p.v)
		}
	}
	if c.NormalAngleToleranceDeg != nil && (*c.NormalAngleToleranceDeg < 0 || *c.NormalAngleToleranceDeg > 90) {
		return fmt.Errorf("normal_angle_tolerance_deg must be between 0 and 90, got %f", *c.NormalAngleToleranceDeg)
	}
	if c.RefineOutlierPercentile != nil && (*c.RefineOutlierPercentile <= 0 || *c.RefineOutlierPercentile > 1) {
		return fmt.Errorf("refine_outlier_percentile must be in (0, 1], got %f", *c.RefineOutlierPercentile)
	}
	if c.MinVisiblePoints != nil && *c.MinVisiblePoints < 0 {
		return fmt.Errorf("min_visible_points must be non-negative, got %d", *c.MinVisiblePoints)
	}
	if c.MoveBudget != nil && *c.MoveBudget < 0 {
		return fmt.Errorf("move_budget must be non-negative, got %d", *c.MoveBudget)
	}
	if c.RefineMaxIterations != nil && *c.RefineMaxIterations < 0 {
		return fmt.Errorf("refine_max_iterations must be non-negative, got %d", *c.RefineMaxIterations)
	}
	return nil
}

func getFloat(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func getInt(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func getBool(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

// GetResolution returns the model assembly resolution in metres.
func (c *VerifyConfig) GetResolution() float64 { return getFloat(c.Resolution, DefaultResolution) }

// GetWorkers returns the worker count; 0 means one per available CPU.
func (c *VerifyConfig) GetWorkers() int { return getInt(c.Workers, DefaultWorkers) }

// GetEngine returns the configured engine name.
func (c *VerifyConfig) GetEngine() string {
	if c.Engine == nil || *c.Engine == "" {
		return DefaultEngine
	}
	return *c.Engine
}

// GetUseNormals reports whether the global engine scores with normals.
func (c *VerifyConfig) GetUseNormals() bool { return getBool(c.UseNormals, DefaultUseNormals) }

// GetInlierThreshold returns the model-to-scene match distance (m).
func (c *VerifyConfig) GetInlierThreshold() float64 {
	return getFloat(c.InlierThreshold, DefaultInlierThreshold)
}

// GetNormalAngleToleranceDeg returns the maximum normal deviation for a match.
func (c *VerifyConfig) GetNormalAngleToleranceDeg() float64 {
	return getFloat(c.NormalAngleToleranceDeg, DefaultNormalAngleToleranceDeg)
}

// GetOcclusionThreshold returns the depth margin used for visibility (m).
func (c *VerifyConfig) GetOcclusionThreshold() float64 {
	return getFloat(c.OcclusionThreshold, DefaultOcclusionThreshold)
}

// GetAngularResolutionDeg returns the occlusion range-image bin size.
func (c *VerifyConfig) GetAngularResolutionDeg() float64 {
	return getFloat(c.AngularResolutionDeg, DefaultAngularResolutionDeg)
}

// GetMinVisiblePoints returns the minimum visible points for a non-zero score.
func (c *VerifyConfig) GetMinVisiblePoints() int {
	return getInt(c.MinVisiblePoints, DefaultMinVisiblePoints)
}

// GetExplanationWeight returns the weight of the explained fraction.
func (c *VerifyConfig) GetExplanationWeight() float64 {
	return getFloat(c.ExplanationWeight, DefaultExplanationWeight)
}

// GetOutlierWeight returns the weight of the unmatched visible fraction.
func (c *VerifyConfig) GetOutlierWeight() float64 {
	return getFloat(c.OutlierWeight, DefaultOutlierWeight)
}

// GetOverlapWeight returns the pairwise overlap penalty weight.
func (c *VerifyConfig) GetOverlapWeight() float64 {
	return getFloat(c.OverlapWeight, DefaultOverlapWeight)
}

// GetUnexplainedWeight returns the unexplained scene penalty weight.
func (c *VerifyConfig) GetUnexplainedWeight() float64 {
	return getFloat(c.UnexplainedWeight, DefaultUnexplainedWeight)
}

// GetPlaneWeight returns the support plane penetration penalty weight.
func (c *VerifyConfig) GetPlaneWeight() float64 { return getFloat(c.PlaneWeight, DefaultPlaneWeight) }

// GetPlaneMargin returns the tolerated penetration depth below a plane (m).
func (c *VerifyConfig) GetPlaneMargin() float64 { return getFloat(c.PlaneMargin, DefaultPlaneMargin) }

// GetNormalRadius returns the neighbourhood radius for scene normals (m).
func (c *VerifyConfig) GetNormalRadius() float64 {
	return getFloat(c.NormalRadius, DefaultNormalRadius)
}

// GetMoveBudget returns the local search move budget.
func (c *VerifyConfig) GetMoveBudget() int { return getInt(c.MoveBudget, DefaultMoveBudget) }

// GetInitialTemperature returns the annealing start temperature.
func (c *VerifyConfig) GetInitialTemperature() float64 {
	return getFloat(c.InitialTemperature, DefaultInitialTemperature)
}

// GetInitialAll reports whether the search starts from the full set.
func (c *VerifyConfig) GetInitialAll() bool { return getBool(c.InitialAll, DefaultInitialAll) }

// GetSeed returns the search RNG seed.
func (c *VerifyConfig) GetSeed() uint64 {
	if c.Seed == nil {
		return DefaultSeed
	}
	return *c.Seed
}

// GetRefine reports whether accepted hypotheses are refined.
func (c *VerifyConfig) GetRefine() bool { return getBool(c.Refine, DefaultRefine) }

// GetRefineMaxIterations returns the ICP iteration cap.
func (c *VerifyConfig) GetRefineMaxIterations() int {
	return getInt(c.RefineMaxIterations, DefaultRefineMaxIterations)
}

// GetRefineMaxCorrespondence returns the ICP correspondence gate (m).
func (c *VerifyConfig) GetRefineMaxCorrespondence() float64 {
	return getFloat(c.RefineMaxCorrespondence, DefaultRefineMaxCorrespondence)
}

// GetRefineConvergence returns the ICP RMSE change threshold (m).
func (c *VerifyConfig) GetRefineConvergence() float64 {
	return getFloat(c.RefineConvergence, DefaultRefineConvergence)
}

// GetRefineOutlierPercentile returns the fraction of closest
// correspondences kept per ICP iteration.
func (c *VerifyConfig) GetRefineOutlierPercentile() float64 {
	return getFloat(c.RefineOutlierPercentile, DefaultRefineOutlierPercentile)
}

// GetRigidTolerance returns the orthonormality tolerance for coarse poses.
func (c *VerifyConfig) GetRigidTolerance() float64 {
	return getFloat(c.RigidTolerance, DefaultRigidTolerance)
}

// GetDisplayResolution returns the model assembly resolution for rendering.
func (c *VerifyConfig) GetDisplayResolution() float64 {
	return getFloat(c.DisplayResolution, DefaultDisplayResolution)
}
