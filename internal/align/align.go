// Package align moves hypothesis models into the scene frame.
package align

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/objverify/internal/config"
	"github.com/banshee-data/objverify/internal/geom"
	"github.com/banshee-data/objverify/internal/model"
)

// Options controls model assembly and scheduling.
type Options struct {
	// Resolution is the model assembly resolution in metres. Zero means
	// full resolution.
	Resolution float64
	// WithNormals fetches and rotates model normals. Leave false when the
	// engine does not score with normals.
	WithNormals bool
	// Workers bounds the number of concurrent tasks. Zero uses GOMAXPROCS.
	Workers int
}

// OptionsFromConfig builds Options from a tuning config.
func OptionsFromConfig(cfg *config.VerifyConfig, withNormals bool) Options {
	return Options{
		Resolution:  cfg.GetResolution(),
		WithNormals: withNormals,
		Workers:     cfg.GetWorkers(),
	}
}

// Slot is the aligned output for one hypothesis. When Err is set Cloud and
// Normals are nil.
type Slot[A any] struct {
	Cloud   geom.Cloud[A]
	Normals geom.NormalCloud
	Err     error
}

// OK reports whether the slot holds aligned geometry.
func (s Slot[A]) OK() bool { return s.Err == nil }

// Align resolves and transforms every hypothesis. Slot i always belongs to
// hyps[i]. A hypothesis whose model cannot be resolved gets an error wrapping
// model.ErrModelUnavailable in its slot; the others are unaffected. The
// returned error is non-nil only when ctx is cancelled.
func Align[A any](ctx context.Context, provider model.Provider[A], hyps []model.Hypothesis, opts Options) ([]Slot[A], error) {
	slots := make([]Slot[A], len(hyps))
	if len(hyps) == 0 {
		return slots, nil
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range hyps {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			slots[i] = alignOne(provider, hyps[i], opts)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return slots, nil
}

func alignOne[A any](provider model.Provider[A], h model.Hypothesis, opts Options) Slot[A] {
	cloud, err := provider.Geometry(h.ModelID, opts.Resolution)
	if err != nil {
		return Slot[A]{Err: unavailable(h.ModelID, err)}
	}
	if len(cloud) == 0 {
		return Slot[A]{Err: fmt.Errorf("%w: model %q assembled to zero points", model.ErrModelUnavailable, h.ModelID)}
	}

	s := Slot[A]{Cloud: geom.TransformCloud(cloud, h.Coarse)}
	if !opts.WithNormals {
		return s
	}

	normals, err := provider.Normals(h.ModelID, opts.Resolution)
	if err != nil {
		return Slot[A]{Err: unavailable(h.ModelID, err)}
	}
	if len(normals) != 0 && len(normals) != len(cloud) {
		return Slot[A]{Err: fmt.Errorf("%w: model %q has %d normals for %d points",
			model.ErrModelUnavailable, h.ModelID, len(normals), len(cloud))}
	}
	s.Normals = geom.RotateNormals(normals, h.Coarse)
	return s
}

func unavailable(id string, err error) error {
	if errors.Is(err, model.ErrModelUnavailable) {
		return err
	}
	return fmt.Errorf("%w: model %q: %w", model.ErrModelUnavailable, id, err)
}
