// Package model resolves model identifiers to assembled geometry.
//
// A Provider is the only way verification reads model data. Registry is an
// in-memory Provider that downsamples each model to the requested
// resolution and caches the result per (id, resolution).
package model

import (
	"errors"
	"fmt"
	"sync"

	"github.com/banshee-data/objverify/internal/geom"
)

// ErrModelUnavailable is returned when a model id or resolution cannot be
// resolved.
var ErrModelUnavailable = errors.New("model unavailable")

// Provider resolves a model id to its assembled point and normal clouds at
// a resolution in metres. Smaller resolutions yield denser clouds; zero
// means full resolution. Implementations must be safe for concurrent use.
type Provider[A any] interface {
	Geometry(id string, resolution float64) (geom.Cloud[A], error)
	Normals(id string, resolution float64) (geom.NormalCloud, error)
}

// Hypothesis proposes that model ModelID sits in the scene at pose Coarse.
type Hypothesis struct {
	ModelID string
	Coarse  geom.Transform
}

// Model is an immutable full-resolution model. Normals is either empty or
// has one entry per point.
type Model[A any] struct {
	ID      string
	Cloud   geom.Cloud[A]
	Normals geom.NormalCloud
}

type assemblyKey struct {
	id         string
	resolution float64
}

type assembly[A any] struct {
	cloud   geom.Cloud[A]
	normals geom.NormalCloud
}

// Registry is an in-memory Provider.
type Registry[A any] struct {
	mu     sync.Mutex
	models map[string]Model[A]
	cache  map[assemblyKey]assembly[A]
}

// NewRegistry returns an empty registry.
func NewRegistry[A any]() *Registry[A] {
	return &Registry[A]{
		models: make(map[string]Model[A]),
		cache:  make(map[assemblyKey]assembly[A]),
	}
}

// Add registers m, replacing any model with the same id and dropping its
// cached assemblies.
func (r *Registry[A]) Add(m Model[A]) error {
	if m.ID == "" {
		return fmt.Errorf("model id must not be empty")
	}
	if len(m.Normals) != 0 && len(m.Normals) != len(m.Cloud) {
		return fmt.Errorf("model %q: %d normals for %d points", m.ID, len(m.Normals), len(m.Cloud))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[m.ID] = m
	for k := range r.cache {
		if k.id == m.ID {
			delete(r.cache, k)
		}
	}
	return nil
}

// Len returns the number of registered models.
func (r *Registry[A]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.models)
}

// Geometry returns the model cloud assembled at resolution. The returned
// slice is shared with the cache and must not be mutated.
func (r *Registry[A]) Geometry(id string, resolution float64) (geom.Cloud[A], error) {
	a, err := r.assemble(id, resolution)
	if err != nil {
		return nil, err
	}
	return a.cloud, nil
}

// Normals returns the model normals assembled at resolution. A model
// without normals yields an empty cloud and a nil error.
func (r *Registry[A]) Normals(id string, resolution float64) (geom.NormalCloud, error) {
	a, err := r.assemble(id, resolution)
	if err != nil {
		return nil, err
	}
	return a.normals, nil
}

func (r *Registry[A]) assemble(id string, resolution float64) (assembly[A], error) {
	if resolution < 0 {
		return assembly[A]{}, fmt.Errorf("%w: %q at negative resolution %g", ErrModelUnavailable, id, resolution)
	}
	key := assemblyKey{id: id, resolution: resolution}

	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.cache[key]; ok {
		return a, nil
	}
	m, ok := r.models[id]
	if !ok {
		return assembly[A]{}, fmt.Errorf("%w: unknown model %q", ErrModelUnavailable, id)
	}
	if len(m.Cloud) == 0 {
		return assembly[A]{}, fmt.Errorf("%w: model %q has no geometry", ErrModelUnavailable, id)
	}

	a := downsample(m, resolution)
	r.cache[key] = a
	return a, nil
}

// downsample keeps one point per voxel and averages the normals of the
// voxel's members.
func downsample[A any](m Model[A], resolution float64) assembly[A] {
	groups := geom.VoxelGroups(m.Cloud, resolution)
	a := assembly[A]{cloud: make(geom.Cloud[A], len(groups))}
	if len(m.Normals) > 0 {
		a.normals = make(geom.NormalCloud, len(groups))
	}
	for i, g := range groups {
		a.cloud[i] = m.Cloud[g.Representative]
		if a.normals == nil {
			continue
		}
		var sum geom.Normal
		for _, idx := range g.Members {
			n := m.Normals[idx]
			// Flip members that disagree with the representative so opposite
			// orientations do not cancel.
			if n.Dot(m.Normals[g.Representative]) < 0 {
				n = geom.Normal{X: -n.X, Y: -n.Y, Z: -n.Z}
			}
			sum.X += n.X
			sum.Y += n.Y
			sum.Z += n.Z
		}
		a.normals[i] = sum.Normalize()
	}
	return a
}
