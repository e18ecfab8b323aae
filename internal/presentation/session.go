// Package presentation renders verification results for people.
//
// A Session is created by the caller, used for any number of renders and
// torn down with Close. It reads scenes and results; it never changes them.
package presentation

import (
	"bytes"
	"errors"
	"fmt"
	"image/color"
	"io"
	"math"
	"sync"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/objverify/internal/geom"
	"github.com/banshee-data/objverify/internal/model"
	"github.com/banshee-data/objverify/internal/monitoring"
	"github.com/banshee-data/objverify/internal/recognition"
)

// ErrSessionClosed is returned by renders after Close.
var ErrSessionClosed = errors.New("presentation session closed")

// Layer colours.
var (
	sceneColor    = color.RGBA{R: 0x9e, G: 0x9e, B: 0x9e, A: 0xff}
	rejectedColor = color.RGBA{R: 0xff, G: 0x52, B: 0x52, A: 0xff}
	acceptedColor = color.RGBA{R: 0x35, G: 0xb7, B: 0x79, A: 0xff}
)

// Options configures a Session.
type Options struct {
	// DisplayResolution is the model assembly resolution used for drawing,
	// independent of the verification resolution.
	DisplayResolution float64
	Title             string
	// MaxPointsPerLayer caps each drawn layer by striding. Zero means no cap.
	MaxPointsPerLayer int
}

// Session owns the display-resolution model cache for a sequence of renders.
type Session[A any] struct {
	provider model.Provider[A]
	opts     Options

	mu     sync.Mutex
	closed bool
	models map[string]geom.Cloud[A]
}

// NewSession creates a session reading models from provider.
func NewSession[A any](provider model.Provider[A], opts Options) *Session[A] {
	if opts.Title == "" {
		opts.Title = "Hypothesis verification"
	}
	return &Session[A]{
		provider: provider,
		opts:     opts,
		models:   make(map[string]geom.Cloud[A]),
	}
}

// Close releases the session. Further renders fail with ErrSessionClosed.
func (s *Session[A]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.models = nil
	return nil
}

// layers are the three drawn point sets in XY around the scene centre.
type layers struct {
	scene, rejected, accepted plotter.XYs
	accN, rejN                int
	cx, cy                    float64
}

func (s *Session[A]) collect(scene geom.Cloud[A], res *recognition.Result) (*layers, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}

	// The scene is thinned to the display resolution like the models.
	display := geom.VoxelGrid(scene, s.opts.DisplayResolution)
	l := &layers{scene: s.xy(nil, display)}
	l.cx, l.cy, _ = display.Centroid()
	if res == nil {
		return l, nil
	}
	for _, o := range res.Hypotheses {
		if o.Status == recognition.StatusUnavailable {
			continue
		}
		cloud, err := s.model(o.ModelID)
		if err != nil {
			monitoring.Diagf("presentation: skipping hypothesis %d: %v", o.Index, err)
			continue
		}
		placed := geom.TransformCloud(cloud, o.Final)
		if o.Accepted {
			l.accepted = s.xy(l.accepted, placed)
			l.accN++
		} else {
			l.rejected = s.xy(l.rejected, placed)
			l.rejN++
		}
	}
	return l, nil
}

// model returns the display assembly of id. Callers hold s.mu.
func (s *Session[A]) model(id string) (geom.Cloud[A], error) {
	if c, ok := s.models[id]; ok {
		return c, nil
	}
	c, err := s.provider.Geometry(id, s.opts.DisplayResolution)
	if err != nil {
		return nil, err
	}
	s.models[id] = c
	return c, nil
}

func (s *Session[A]) xy(dst plotter.XYs, c geom.Cloud[A]) plotter.XYs {
	stride := 1
	if limit := s.opts.MaxPointsPerLayer; limit > 0 && len(c) > limit {
		stride = (len(c) + limit - 1) / limit
	}
	for i := 0; i < len(c); i += stride {
		dst = append(dst, plotter.XY{X: c[i].X, Y: c[i].Y})
	}
	return dst
}

// RenderPNG draws a top-down scatter of the scene and every hypothesis to
// path. Accepted hypotheses are green, rejected red, the scene grey.
func (s *Session[A]) RenderPNG(path string, scene geom.Cloud[A], res *recognition.Result) error {
	l, err := s.collect(scene, res)
	if err != nil {
		return err
	}

	p := plot.New()
	p.Title.Text = s.opts.Title
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Y (m)"

	for _, layer := range []struct {
		name string
		pts  plotter.XYs
		col  color.Color
		r    vg.Length
	}{
		{"scene", l.scene, sceneColor, vg.Points(1)},
		{fmt.Sprintf("rejected (%d)", l.rejN), l.rejected, rejectedColor, vg.Points(1.5)},
		{fmt.Sprintf("accepted (%d)", l.accN), l.accepted, acceptedColor, vg.Points(1.5)},
	} {
		if len(layer.pts) == 0 {
			continue
		}
		sc, err := plotter.NewScatter(layer.pts)
		if err != nil {
			return fmt.Errorf("failed to create %s layer: %w", layer.name, err)
		}
		sc.GlyphStyle.Color = layer.col
		sc.GlyphStyle.Radius = layer.r
		p.Add(sc)
		p.Legend.Add(layer.name, sc)
	}
	p.Legend.Top = true

	if err := p.Save(8*vg.Inch, 8*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save plot: %w", err)
	}
	return nil
}

// RenderHTML writes an interactive scatter of the scene and every
// hypothesis to w.
func (s *Session[A]) RenderHTML(w io.Writer, scene geom.Cloud[A], res *recognition.Result) error {
	l, err := s.collect(scene, res)
	if err != nil {
		return err
	}

	maxAbs := 0.0
	toData := func(pts plotter.XYs) []opts.ScatterData {
		data := make([]opts.ScatterData, 0, len(pts))
		for _, p := range pts {
			maxAbs = math.Max(maxAbs, math.Max(math.Abs(p.X-l.cx), math.Abs(p.Y-l.cy)))
			data = append(data, opts.ScatterData{Value: []interface{}{p.X, p.Y}})
		}
		return data
	}
	sceneData := toData(l.scene)
	rejData := toData(l.rejected)
	accData := toData(l.accepted)

	pad := maxAbs * 1.05
	if pad == 0 {
		pad = 1.0
	}
	subtitle := fmt.Sprintf("scene=%d accepted=%d rejected=%d", len(l.scene), l.accN, l.rejN)
	if res != nil {
		subtitle = fmt.Sprintf("run=%s %s", res.RunID, subtitle)
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: s.opts.Title, Theme: "dark", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: s.opts.Title, Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: l.cx - pad, Max: l.cx + pad, Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: l.cy - pad, Max: l.cy + pad, Name: "Y (m)", NameLocation: "middle", NameGap: 30}),
	)
	scatter.AddSeries("scene", sceneData, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}), charts.WithItemStyleOpts(opts.ItemStyle{Color: "#9e9e9e"}))
	scatter.AddSeries("rejected", rejData, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}), charts.WithItemStyleOpts(opts.ItemStyle{Color: "#ff5252"}))
	scatter.AddSeries("accepted", accData, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}), charts.WithItemStyleOpts(opts.ItemStyle{Color: "#35b779"}))

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		return fmt.Errorf("failed to render chart: %w", err)
	}
	_, err = w.Write(buf.Bytes())
	return err
}
