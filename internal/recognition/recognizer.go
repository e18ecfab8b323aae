// Package recognition runs hypothesis verification end to end: it checks
// the coarse poses, aligns the models, runs a verification engine and
// assembles the per-hypothesis outcome.
package recognition

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/objverify/internal/align"
	"github.com/banshee-data/objverify/internal/config"
	"github.com/banshee-data/objverify/internal/geom"
	"github.com/banshee-data/objverify/internal/model"
	"github.com/banshee-data/objverify/internal/monitoring"
	"github.com/banshee-data/objverify/internal/timeutil"
	"github.com/banshee-data/objverify/internal/verify"
)

// Status is the verdict for one hypothesis.
type Status string

const (
	StatusAccepted    Status = "accepted"
	StatusRejected    Status = "rejected"
	StatusUnavailable Status = "unavailable"
)

// Scene is the observed input of one verification call.
type Scene[A any] struct {
	Cloud geom.Cloud[A]
	// Occlusion is the visibility cloud. Nil means use Cloud.
	Occlusion     geom.Cloud[A]
	SupportPlanes []geom.Plane
	// Viewpoint is the sensor origin in the scene frame.
	Viewpoint [3]float64
}

// Outcome is the verdict and final pose of one hypothesis.
type Outcome struct {
	Index   int
	ModelID string
	Coarse  geom.Transform
	// Final is Refined∘Coarse when Refined is set, else Coarse.
	Final    geom.Transform
	Refined  *geom.Transform
	Accepted bool
	Status   Status
	// Err explains an unavailable hypothesis.
	Err   error
	Score float64
}

// Result is the output of one verification call, ordered like the input
// hypotheses.
type Result struct {
	RunID      string
	Hypotheses []Outcome
}

// Mask returns the accepted flag of every hypothesis.
func (r *Result) Mask() []bool {
	mask := make([]bool, len(r.Hypotheses))
	for i, o := range r.Hypotheses {
		mask[i] = o.Accepted
	}
	return mask
}

// Accepted returns the accepted outcomes in input order.
func (r *Result) Accepted() []Outcome {
	var out []Outcome
	for _, o := range r.Hypotheses {
		if o.Accepted {
			out = append(out, o)
		}
	}
	return out
}

// Count returns the number of outcomes with status s.
func (r *Result) Count(s Status) int {
	n := 0
	for _, o := range r.Hypotheses {
		if o.Status == s {
			n++
		}
	}
	return n
}

// EngineFactory builds a fresh engine for one call.
type EngineFactory[A any] func(cfg verify.Config) (verify.Engine[A], error)

// Recognizer verifies hypothesis batches against scenes. A Recognizer may be
// reused; every call builds its own engine.
type Recognizer[A any] struct {
	Provider model.Provider[A]
	// Config is the tuning. Nil uses the defaults.
	Config *config.VerifyConfig
	// NewEngine overrides engine construction. Nil selects the engine
	// named in Config.
	NewEngine EngineFactory[A]
	// Metrics is optional.
	Metrics *monitoring.Metrics
	// Clock times each call. Nil uses the wall clock.
	Clock timeutil.Clock
}

// NewRecognizer returns a Recognizer using the engine named in cfg.
func NewRecognizer[A any](provider model.Provider[A], cfg *config.VerifyConfig, metrics *monitoring.Metrics) *Recognizer[A] {
	return &Recognizer[A]{Provider: provider, Config: cfg, Metrics: metrics}
}

// Verify decides which hypotheses the scene supports.
//
// An empty batch is not an error. Invalid tuning fails with ErrInvalidConfig
// before any work is done. A coarse pose that is not rigid, or an
// engine contract violation, aborts the call with a *HypothesisError naming
// the offending index. Hypotheses whose model cannot be resolved are marked
// unavailable and the rest are verified normally.
func (r *Recognizer[A]) Verify(ctx context.Context, scene Scene[A], hyps []model.Hypothesis) (*Result, error) {
	clock := r.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	cfg := r.Config
	if cfg == nil {
		cfg = config.EmptyVerifyConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	start := clock.Now()
	res := &Result{RunID: uuid.New().String(), Hypotheses: make([]Outcome, len(hyps))}
	if len(hyps) == 0 {
		monitoring.Opsf("run %s: no hypotheses to verify", res.RunID)
		r.Metrics.ObserveRun(clock.Since(start), 0, 0, 0, 0)
		return res, nil
	}

	tol := cfg.GetRigidTolerance()
	for i, h := range hyps {
		if err := h.Coarse.ValidateRigid(tol); err != nil {
			return nil, &HypothesisError{Index: i, Err: fmt.Errorf("%w: %w", ErrInvalidTransform, err)}
		}
	}

	vcfg := verify.ConfigFromTuning(cfg)
	vcfg.Viewpoint = scene.Viewpoint
	newEngine := r.NewEngine
	if newEngine == nil {
		newEngine = verify.NewEngine[A]
	}
	engine, err := newEngine(vcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	slots, err := align.Align(ctx, r.Provider, hyps, align.OptionsFromConfig(cfg, engine.RequiresNormals()))
	if err != nil {
		return nil, fmt.Errorf("alignment: %w", err)
	}

	// Only resolvable hypotheses reach the engine; local[k] is the input
	// index of engine slot k.
	var (
		local   []int
		clouds  []geom.Cloud[A]
		normals []geom.NormalCloud
		coarse  []geom.Transform
	)
	for i, s := range slots {
		h := hyps[i]
		res.Hypotheses[i] = Outcome{Index: i, ModelID: h.ModelID, Coarse: h.Coarse, Final: h.Coarse}
		if !s.OK() {
			res.Hypotheses[i].Status = StatusUnavailable
			res.Hypotheses[i].Err = s.Err
			monitoring.Opsf("run %s: hypothesis %d (%s) unavailable: %v", res.RunID, i, h.ModelID, s.Err)
			continue
		}
		local = append(local, i)
		clouds = append(clouds, s.Cloud)
		normals = append(normals, s.Normals)
		coarse = append(coarse, h.Coarse)
	}

	engine.SetSceneCloud(scene.Cloud)
	if scene.Occlusion != nil {
		engine.SetOcclusionCloud(scene.Occlusion)
	}
	engine.SetSupportPlanes(scene.SupportPlanes)
	engine.AddModels(clouds, normals)
	if err := engine.Verify(); err != nil {
		var ie *verify.IndexError
		if errors.As(err, &ie) && ie.Index >= 0 && ie.Index < len(local) {
			return nil, &HypothesisError{Index: local[ie.Index], Err: ie.Err}
		}
		return nil, fmt.Errorf("verification: %w", err)
	}

	mask := engine.Mask()
	refined := engine.RefinedTransforms()
	scores := engine.Scores()
	finals := FinalPoses(coarse, refined)
	nRefined := 0
	for k, i := range local {
		o := &res.Hypotheses[i]
		o.Final = finals[k]
		if k < len(scores) {
			o.Score = scores[k]
		}
		if k < len(mask) && mask[k] {
			o.Accepted = true
			o.Status = StatusAccepted
		} else {
			o.Status = StatusRejected
		}
		if k < len(refined) && refined[k] != nil {
			t := *refined[k]
			o.Refined = &t
			nRefined++
		}
	}

	accepted, rejected, unavailable := res.Count(StatusAccepted), res.Count(StatusRejected), res.Count(StatusUnavailable)
	elapsed := clock.Since(start)
	r.Metrics.ObserveRun(elapsed, accepted, rejected, unavailable, nRefined)
	monitoring.Opsf("run %s: %d hypotheses: %d accepted (%d refined), %d rejected, %d unavailable in %s",
		res.RunID, len(hyps), accepted, nRefined, rejected, unavailable, elapsed.Round(time.Millisecond))
	return res, nil
}
