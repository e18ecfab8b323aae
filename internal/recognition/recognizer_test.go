package recognition

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/objverify/internal/config"
	"github.com/banshee-data/objverify/internal/geom"
	"github.com/banshee-data/objverify/internal/model"
	"github.com/banshee-data/objverify/internal/monitoring"
	"github.com/banshee-data/objverify/internal/testutil"
	"github.com/banshee-data/objverify/internal/timeutil"
	"github.com/banshee-data/objverify/internal/verify"
)

func quietLogs(t *testing.T) *[]string {
	t.Helper()
	var lines []string
	original := monitoring.Logf
	monitoring.SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, format)
	})
	t.Cleanup(func() { monitoring.Logf = original })
	return &lines
}

func noRefine() *config.VerifyConfig {
	cfg := config.DefaultVerifyConfig()
	off := false
	cfg.Refine = &off
	return cfg
}

func TestVerify_NoHypotheses(t *testing.T) {
	logs := quietLogs(t)
	s := testutil.ThreeBoxes()
	r := NewRecognizer[geom.NoAttr](s.Registry, nil, nil)

	res, err := r.Verify(context.Background(), Scene[geom.NoAttr]{Cloud: s.Scene}, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Hypotheses)
	assert.Empty(t, res.Mask())
	assert.NotEmpty(t, res.RunID)

	found := false
	for _, l := range *logs {
		if strings.Contains(l, "no hypotheses to verify") {
			found = true
		}
	}
	assert.True(t, found, "empty batch should be reported")
}

func TestVerify_SeparateObjects(t *testing.T) {
	quietLogs(t)
	s := testutil.ThreeBoxes()
	r := NewRecognizer[geom.NoAttr](s.Registry, nil, nil)

	res, err := r.Verify(context.Background(), Scene[geom.NoAttr]{Cloud: s.Scene}, s.Hypotheses)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, true, true}, res.Mask())
	for i, o := range res.Hypotheses {
		assert.Equal(t, i, o.Index)
		assert.Equal(t, StatusAccepted, o.Status)
		if o.Refined == nil {
			assert.Equal(t, o.Coarse, o.Final)
		} else {
			assert.Equal(t, geom.Compose(*o.Refined, o.Coarse), o.Final)
		}
		// Coarse poses are exact, so refinement must not move them.
		testutil.AssertTransformNear(t, o.Final, o.Coarse, 1e-6)
	}
}

func TestVerify_DuplicateAcceptsOne(t *testing.T) {
	quietLogs(t)
	box := testutil.Box("box", testutil.BoxSize, testutil.BoxSpacing)
	reg := model.NewRegistry[geom.NoAttr]()
	require.NoError(t, reg.Add(box))
	pose := testutil.BoxPose(0, 0, 1.0)
	scene := testutil.Observed(box, pose, testutil.Origin)

	hyps := []model.Hypothesis{
		{ModelID: "box", Coarse: pose},
		{ModelID: "box", Coarse: geom.Compose(geom.Translation(0.002, 0, 0), pose)},
	}
	for _, engine := range []string{config.EngineGlobal, config.EngineGreedy} {
		t.Run(engine, func(t *testing.T) {
			cfg := noRefine()
			cfg.Engine = &engine
			r := NewRecognizer[geom.NoAttr](reg, cfg, nil)

			res, err := r.Verify(context.Background(), Scene[geom.NoAttr]{Cloud: scene}, hyps)
			require.NoError(t, err)
			assert.Len(t, res.Accepted(), 1)
			assert.Equal(t, 1, res.Count(StatusRejected))
		})
	}
}

func TestVerify_OccludedRejected(t *testing.T) {
	quietLogs(t)
	reg := model.NewRegistry[geom.NoAttr]()
	require.NoError(t, reg.Add(testutil.Box("box", testutil.BoxSize, testutil.BoxSpacing)))
	wall := testutil.Wall(0, 0, 1.0, 0.3, testutil.BoxSpacing)

	r := NewRecognizer[geom.NoAttr](reg, nil, nil)
	res, err := r.Verify(context.Background(),
		Scene[geom.NoAttr]{Cloud: wall, Occlusion: wall},
		[]model.Hypothesis{{ModelID: "box", Coarse: testutil.BoxPose(0, 0, 1.5)}})
	require.NoError(t, err)
	assert.Equal(t, []bool{false}, res.Mask())
	assert.Equal(t, StatusRejected, res.Hypotheses[0].Status)
	assert.Equal(t, res.Hypotheses[0].Coarse, res.Hypotheses[0].Final)
}

func TestVerify_UnavailableModel(t *testing.T) {
	quietLogs(t)
	s := testutil.ThreeBoxes()
	hyps := []model.Hypothesis{
		s.Hypotheses[0],
		{ModelID: "missing", Coarse: geom.Translation(0, 0, 1)},
		s.Hypotheses[1],
		s.Hypotheses[2],
	}

	r := NewRecognizer[geom.NoAttr](s.Registry, noRefine(), nil)
	res, err := r.Verify(context.Background(), Scene[geom.NoAttr]{Cloud: s.Scene}, hyps)
	require.NoError(t, err, "an unresolvable model must not abort the batch")

	assert.Equal(t, []bool{true, false, true, true}, res.Mask())
	assert.Equal(t, StatusUnavailable, res.Hypotheses[1].Status)
	assert.True(t, errors.Is(res.Hypotheses[1].Err, model.ErrModelUnavailable))
	assert.Equal(t, hyps[1].Coarse, res.Hypotheses[1].Final)
	for _, i := range []int{0, 2, 3} {
		assert.Equal(t, StatusAccepted, res.Hypotheses[i].Status, "hypothesis %d", i)
	}
}

func TestVerify_InvalidTransform(t *testing.T) {
	quietLogs(t)
	s := testutil.ThreeBoxes()
	hyps := append([]model.Hypothesis(nil), s.Hypotheses...)
	hyps[2].Coarse = geom.Transform{2, 0, 0, 0, 0, 2, 0, 0, 0, 0, 2, 1, 0, 0, 0, 1}

	r := NewRecognizer[geom.NoAttr](s.Registry, nil, nil)
	res, err := r.Verify(context.Background(), Scene[geom.NoAttr]{Cloud: s.Scene}, hyps)
	assert.Nil(t, res)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTransform))
	assert.True(t, errors.Is(err, geom.ErrNotRigid))

	var he *HypothesisError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, 2, he.Index)
}

func TestVerify_InvalidConfig(t *testing.T) {
	quietLogs(t)
	s := testutil.ThreeBoxes()
	cfg := config.DefaultVerifyConfig()
	zero := 0.0
	cfg.InlierThreshold = &zero

	r := NewRecognizer[geom.NoAttr](s.Registry, cfg, nil)
	for _, hyps := range [][]model.Hypothesis{s.Hypotheses, nil} {
		res, err := r.Verify(context.Background(), Scene[geom.NoAttr]{Cloud: s.Scene}, hyps)
		assert.Nil(t, res)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	}
}

func TestVerify_MissingRequiredNormals(t *testing.T) {
	quietLogs(t)
	box := testutil.Box("box", testutil.BoxSize, testutil.BoxSpacing)
	bare := box
	bare.ID = "bare"
	bare.Normals = nil

	reg := model.NewRegistry[geom.NoAttr]()
	require.NoError(t, reg.Add(box))
	require.NoError(t, reg.Add(bare))

	cfg := config.DefaultVerifyConfig()
	on := true
	cfg.UseNormals = &on

	hyps := []model.Hypothesis{
		{ModelID: "missing", Coarse: geom.Identity},
		{ModelID: "box", Coarse: testutil.BoxPose(0, 0, 1)},
		{ModelID: "bare", Coarse: testutil.BoxPose(0.3, 0, 1)},
	}
	r := NewRecognizer[geom.NoAttr](reg, cfg, nil)
	res, err := r.Verify(context.Background(), Scene[geom.NoAttr]{Cloud: testutil.ThreeBoxes().Scene}, hyps)
	assert.Nil(t, res, "no partial result on a contract violation")
	require.Error(t, err)
	assert.True(t, errors.Is(err, verify.ErrMissingRequiredNormals))

	var he *HypothesisError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, 2, he.Index, "index refers to the caller's slice")
}

func TestVerify_NonConvergentRefinement(t *testing.T) {
	quietLogs(t)
	s := testutil.ThreeBoxes()
	cfg := config.DefaultVerifyConfig()
	one := 1
	cfg.RefineMaxIterations = &one

	r := NewRecognizer[geom.NoAttr](s.Registry, cfg, nil)
	res, err := r.Verify(context.Background(), Scene[geom.NoAttr]{Cloud: s.Scene}, s.Hypotheses)
	require.NoError(t, err)
	for i, o := range res.Hypotheses {
		assert.True(t, o.Accepted, "hypothesis %d", i)
		assert.Nil(t, o.Refined, "hypothesis %d", i)
		if diff := cmp.Diff(o.Coarse, o.Final); diff != "" {
			t.Errorf("hypothesis %d final pose changed (-coarse +final):\n%s", i, diff)
		}
	}
}

func TestVerify_MaskLengthMatchesInput(t *testing.T) {
	quietLogs(t)
	s := testutil.ThreeBoxes()
	r := NewRecognizer[geom.NoAttr](s.Registry, noRefine(), nil)

	for n := 0; n <= 6; n++ {
		hyps := make([]model.Hypothesis, n)
		for i := range hyps {
			hyps[i] = s.Hypotheses[i%len(s.Hypotheses)]
		}
		res, err := r.Verify(context.Background(), Scene[geom.NoAttr]{Cloud: s.Scene}, hyps)
		require.NoError(t, err)
		require.Len(t, res.Mask(), n)
		for i, o := range res.Hypotheses {
			assert.Equal(t, i, o.Index)
			assert.Equal(t, hyps[i].ModelID, o.ModelID)
		}
	}
}

func TestVerify_ColouredPoints(t *testing.T) {
	quietLogs(t)
	plain := testutil.Box("box", testutil.BoxSize, testutil.BoxSpacing)
	box := model.Model[geom.RGB]{ID: "box", Normals: plain.Normals}
	for _, p := range plain.Cloud {
		box.Cloud = append(box.Cloud, geom.XYZRGB{X: p.X, Y: p.Y, Z: p.Z, Attr: geom.RGB{R: 200, G: 40, B: 40}})
	}
	reg := model.NewRegistry[geom.RGB]()
	require.NoError(t, reg.Add(box))
	pose := testutil.BoxPose(0, 0.1, 1.0)

	r := NewRecognizer[geom.RGB](reg, noRefine(), nil)
	res, err := r.Verify(context.Background(),
		Scene[geom.RGB]{Cloud: testutil.Observed(box, pose, testutil.Origin)},
		[]model.Hypothesis{{ModelID: "box", Coarse: pose}})
	require.NoError(t, err)
	assert.Equal(t, []bool{true}, res.Mask())
}

func TestVerify_RecordsMetrics(t *testing.T) {
	quietLogs(t)
	reg := prometheus.NewRegistry()
	m, err := monitoring.NewMetrics(reg)
	require.NoError(t, err)

	s := testutil.ThreeBoxes()
	hyps := append([]model.Hypothesis{{ModelID: "missing", Coarse: geom.Identity}}, s.Hypotheses...)
	clock := timeutil.NewMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	clock.SetStep(250 * time.Millisecond)
	r := NewRecognizer[geom.NoAttr](s.Registry, noRefine(), m)
	r.Clock = clock
	_, err = r.Verify(context.Background(), Scene[geom.NoAttr]{Cloud: s.Scene}, hyps)
	require.NoError(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)
	var sum float64
	byOutcome := map[string]float64{}
	for _, f := range families {
		switch f.GetName() {
		case "objverify_verify_duration_seconds":
			sum = f.GetMetric()[0].GetHistogram().GetSampleSum()
		case "objverify_hypotheses_total":
			for _, series := range f.GetMetric() {
				byOutcome[series.GetLabel()[0].GetValue()] = series.GetCounter().GetValue()
			}
		}
	}
	assert.InDelta(t, 0.25, sum, 1e-9)
	assert.Equal(t, map[string]float64{"accepted": 3, "rejected": 0, "unavailable": 1}, byOutcome)

	count, err := promtest.GatherAndCount(reg, "objverify_hypotheses_total")
	require.NoError(t, err)
	assert.Equal(t, 3, count, "one series per outcome")
	count, err = promtest.GatherAndCount(reg, "objverify_verify_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestVerify_CustomEngine(t *testing.T) {
	quietLogs(t)
	s := testutil.ThreeBoxes()
	calls := 0
	r := &Recognizer[geom.NoAttr]{
		Provider: s.Registry,
		Config:   noRefine(),
		NewEngine: func(cfg verify.Config) (verify.Engine[geom.NoAttr], error) {
			calls++
			return verify.NewGreedyEngine[geom.NoAttr](cfg), nil
		},
	}
	res, err := r.Verify(context.Background(), Scene[geom.NoAttr]{Cloud: s.Scene}, s.Hypotheses)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, []bool{true, true, true}, res.Mask())

	r.NewEngine = func(verify.Config) (verify.Engine[geom.NoAttr], error) {
		return nil, errors.New("no engine")
	}
	_, err = r.Verify(context.Background(), Scene[geom.NoAttr]{Cloud: s.Scene}, s.Hypotheses)
	assert.Error(t, err)
}
