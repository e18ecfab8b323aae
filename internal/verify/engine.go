// Package verify decides which aligned hypotheses explain a scene.
//
// Verification selects the subset of hypotheses that best explains the
// observed scene cloud. Each hypothesis earns credit for the fraction of its
// visible surface that matches scene points, pays for the visible surface
// that does not, pays for sinking below a support plane, and pays in pairs
// for claiming the same scene points as another selected hypothesis. Scene
// points no selected hypothesis explains cost a small amount each.
//
// Two engines share that score: GlobalEngine searches subsets by annealed
// local search and GreedyEngine adds the best hypothesis until no addition
// helps. Either may then refine the accepted poses with ICP.
package verify

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/objverify/internal/config"
	"github.com/banshee-data/objverify/internal/geom"
)

var (
	// ErrMissingRequiredNormals is returned by Verify when the engine scores
	// with normals and an aligned hypothesis has none.
	ErrMissingRequiredNormals = errors.New("aligned hypothesis is missing required normals")

	// ErrRefinementNonConvergence marks a refinement that did not settle
	// within its iteration budget. It is logged, never returned by Verify.
	ErrRefinementNonConvergence = errors.New("pose refinement did not converge")
)

// IndexError attaches the engine-local hypothesis index to an error.
type IndexError struct {
	Index int
	Err   error
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("hypothesis %d: %v", e.Index, e.Err)
}

func (e *IndexError) Unwrap() error { return e.Err }

// Engine is a verification strategy. Call the setters, then Verify, then
// read the results. Result slices are indexed like the models passed to
// AddModels.
type Engine[A any] interface {
	SetSceneCloud(scene geom.Cloud[A])
	// SetOcclusionCloud sets the cloud used for visibility reasoning. When
	// unset the scene cloud is used.
	SetOcclusionCloud(occlusion geom.Cloud[A])
	SetSupportPlanes(planes []geom.Plane)
	// AddModels appends aligned hypotheses. normals may be nil when
	// RequiresNormals is false.
	AddModels(models []geom.Cloud[A], normals []geom.NormalCloud)
	Verify() error
	Mask() []bool
	// RefinedTransforms returns one entry per hypothesis; nil means no
	// refinement is available.
	RefinedTransforms() []*geom.Transform
	// Scores returns each hypothesis' standalone score.
	Scores() []float64
	// RequiresNormals reports whether every aligned hypothesis must carry
	// normals.
	RequiresNormals() bool
}

// Config holds scoring, search and refinement parameters.
type Config struct {
	Engine     string
	UseNormals bool
	// Viewpoint is the sensor origin in the scene frame.
	Viewpoint [3]float64
	Workers   int

	InlierThreshold         float64
	NormalAngleToleranceDeg float64
	NormalRadius            float64
	OcclusionThreshold      float64
	AngularResolutionDeg    float64
	MinVisiblePoints        int

	ExplanationWeight float64
	OutlierWeight     float64
	OverlapWeight     float64
	UnexplainedWeight float64
	PlaneWeight       float64
	PlaneMargin       float64

	MoveBudget         int
	InitialTemperature float64
	InitialAll         bool
	Seed               uint64

	Refine                  bool
	RefineMaxIterations     int
	RefineMaxCorrespondence float64
	RefineConvergence       float64
	RefineOutlierPercentile float64
}

// DefaultConfig returns the built-in tuning.
func DefaultConfig() Config {
	return ConfigFromTuning(config.EmptyVerifyConfig())
}

// ConfigFromTuning copies the engine parameters out of a tuning config. A nil
// config yields the defaults.
func ConfigFromTuning(c *config.VerifyConfig) Config {
	if c == nil {
		c = config.EmptyVerifyConfig()
	}
	return Config{
		Engine:                  c.GetEngine(),
		UseNormals:              c.GetUseNormals(),
		Workers:                 c.GetWorkers(),
		InlierThreshold:         c.GetInlierThreshold(),
		NormalAngleToleranceDeg: c.GetNormalAngleToleranceDeg(),
		NormalRadius:            c.GetNormalRadius(),
		OcclusionThreshold:      c.GetOcclusionThreshold(),
		AngularResolutionDeg:    c.GetAngularResolutionDeg(),
		MinVisiblePoints:        c.GetMinVisiblePoints(),
		ExplanationWeight:       c.GetExplanationWeight(),
		OutlierWeight:           c.GetOutlierWeight(),
		OverlapWeight:           c.GetOverlapWeight(),
		UnexplainedWeight:       c.GetUnexplainedWeight(),
		PlaneWeight:             c.GetPlaneWeight(),
		PlaneMargin:             c.GetPlaneMargin(),
		MoveBudget:              c.GetMoveBudget(),
		InitialTemperature:      c.GetInitialTemperature(),
		InitialAll:              c.GetInitialAll(),
		Seed:                    c.GetSeed(),
		Refine:                  c.GetRefine(),
		RefineMaxIterations:     c.GetRefineMaxIterations(),
		RefineMaxCorrespondence: c.GetRefineMaxCorrespondence(),
		RefineConvergence:       c.GetRefineConvergence(),
		RefineOutlierPercentile: c.GetRefineOutlierPercentile(),
	}
}

// NewEngine returns the engine named by cfg.Engine.
func NewEngine[A any](cfg Config) (Engine[A], error) {
	switch cfg.Engine {
	case config.EngineGlobal, "":
		return NewGlobalEngine[A](cfg), nil
	case config.EngineGreedy:
		return NewGreedyEngine[A](cfg), nil
	default:
		return nil, fmt.Errorf("unknown verification engine %q", cfg.Engine)
	}
}

// base holds the inputs and outputs shared by every engine.
type base[A any] struct {
	cfg       Config
	scene     geom.Cloud[A]
	occlusion geom.Cloud[A]
	planes    []geom.Plane
	models    []geom.Cloud[A]
	normals   []geom.NormalCloud

	mask    []bool
	refined []*geom.Transform
	scores  []float64
}

func (b *base[A]) SetSceneCloud(scene geom.Cloud[A])         { b.scene = scene }
func (b *base[A]) SetOcclusionCloud(occlusion geom.Cloud[A]) { b.occlusion = occlusion }
func (b *base[A]) SetSupportPlanes(planes []geom.Plane)      { b.planes = planes }

func (b *base[A]) AddModels(models []geom.Cloud[A], normals []geom.NormalCloud) {
	start := len(b.models)
	b.models = append(b.models, models...)
	// Keep normals index-aligned with models even when callers skip them.
	b.normals = append(b.normals, make([]geom.NormalCloud, len(models))...)
	for i := range normals {
		if i < len(models) {
			b.normals[start+i] = normals[i]
		}
	}
}

func (b *base[A]) Mask() []bool                         { return b.mask }
func (b *base[A]) RefinedTransforms() []*geom.Transform { return b.refined }
func (b *base[A]) Scores() []float64                    { return b.scores }

// checkNormals enforces the normals precondition.
func (b *base[A]) checkNormals() error {
	if !b.cfg.UseNormals {
		return nil
	}
	for i, m := range b.models {
		n := b.normals[i]
		if len(n) == 0 {
			return &IndexError{Index: i, Err: ErrMissingRequiredNormals}
		}
		if len(n) != len(m) {
			return &IndexError{Index: i, Err: fmt.Errorf("%w: %d normals for %d points", ErrMissingRequiredNormals, len(n), len(m))}
		}
	}
	return nil
}

// run scores the hypotheses, hands the problem to search, and refines the
// accepted subset.
func (b *base[A]) run(search func(p *problem) []bool) error {
	n := len(b.models)
	b.mask = make([]bool, n)
	b.refined = make([]*geom.Transform, n)
	b.scores = make([]float64, n)
	if n == 0 {
		return nil
	}
	if err := b.checkNormals(); err != nil {
		b.mask, b.refined, b.scores = nil, nil, nil
		return err
	}

	occ := b.occlusion
	if occ == nil {
		occ = b.scene
	}
	p, err := buildProblem(b.cfg, b.scene, occ, b.planes, b.models, b.normals)
	if err != nil {
		b.mask, b.refined, b.scores = nil, nil, nil
		return err
	}
	for i := range p.hyps {
		b.scores[i] = p.hyps[i].own
	}

	copy(b.mask, search(p))

	if b.cfg.Refine && len(b.scene) > 0 {
		if err := refineAccepted(b.cfg, b.scene, b.models, p, b.mask, b.refined); err != nil {
			b.mask, b.refined, b.scores = nil, nil, nil
			return err
		}
	}
	return nil
}

func cosDeg(deg float64) float64 {
	return math.Cos(deg * math.Pi / 180)
}
