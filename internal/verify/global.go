package verify

import (
	"math"
	"math/rand/v2"

	"github.com/banshee-data/objverify/internal/monitoring"
)

// GlobalEngine selects hypotheses by annealed local search over subsets.
//
// Each sweep visits the hypotheses in a seeded random order and proposes to
// toggle each one. A rejected addition is retried as a swap with the
// selected hypothesis it overlaps most. Improving moves are always taken;
// worsening moves are taken with probability exp(Δ/T), where T falls
// linearly from InitialTemperature to zero over MoveBudget moves. The search
// stops when the budget is spent or a full sweep accepts nothing, restores
// the best subset seen and finishes with a greedy polish.
type GlobalEngine[A any] struct {
	base[A]
}

// NewGlobalEngine returns an annealing engine.
func NewGlobalEngine[A any](cfg Config) *GlobalEngine[A] {
	return &GlobalEngine[A]{base: base[A]{cfg: cfg}}
}

// RequiresNormals reports whether scoring compares surface normals.
func (e *GlobalEngine[A]) RequiresNormals() bool { return e.cfg.UseNormals }

// Verify runs the search and, when enabled, pose refinement.
func (e *GlobalEngine[A]) Verify() error {
	return e.run(e.search)
}

func (e *GlobalEngine[A]) search(p *problem) []bool {
	s := newSelection(p)
	n := len(p.hyps)
	if e.cfg.InitialAll {
		for h := 0; h < n; h++ {
			s.toggle(h)
		}
	}

	seed := e.cfg.Seed
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	budget := e.cfg.MoveBudget
	t0 := e.cfg.InitialTemperature

	best := append([]bool(nil), s.selected...)
	bestScore := s.score
	moves, sweeps := 0, 0

	accept := func(d float64) bool {
		if d > scoreEpsilon {
			return true
		}
		if d >= -scoreEpsilon || t0 <= 0 || budget <= 0 {
			return false
		}
		t := t0 * (1 - float64(moves)/float64(budget))
		if t <= 0 {
			return false
		}
		return rng.Float64() < math.Exp(d/t)
	}

	for moves < budget {
		sweeps++
		accepted := 0
		for _, h := range rng.Perm(n) {
			if moves >= budget {
				break
			}
			moves++
			d := s.toggleDelta(h)
			if accept(d) {
				s.toggle(h)
				accepted++
				monitoring.Tracef("move %d: toggle %d delta=%.5f score=%.5f", moves, h, d, s.score)
			} else if !s.selected[h] {
				if g := s.mostOverlapping(h); g >= 0 && moves < budget {
					moves++
					before := s.score
					s.toggle(g)
					s.toggle(h)
					if d := s.score - before; accept(d) {
						accepted++
						monitoring.Tracef("move %d: swap %d for %d delta=%.5f score=%.5f", moves, g, h, d, s.score)
					} else {
						s.toggle(h)
						s.toggle(g)
					}
				}
			}
			if s.score > bestScore+scoreEpsilon {
				bestScore = s.score
				copy(best, s.selected)
			}
		}
		if accepted == 0 {
			break
		}
	}

	// Restore the best subset and polish it.
	for h := range best {
		if s.selected[h] != best[h] {
			s.toggle(h)
		}
	}
	s.polish()
	monitoring.Diagf("global search: hypotheses=%d sweeps=%d moves=%d score=%.5f", n, sweeps, moves, s.score)
	return s.selected
}
