package verify

import "github.com/banshee-data/objverify/internal/monitoring"

// GreedyEngine adds the hypothesis with the largest positive score gain
// until no addition helps. It is deterministic and never scores with
// normals.
type GreedyEngine[A any] struct {
	base[A]
}

// NewGreedyEngine returns a greedy engine. cfg.UseNormals is ignored.
func NewGreedyEngine[A any](cfg Config) *GreedyEngine[A] {
	cfg.UseNormals = false
	return &GreedyEngine[A]{base: base[A]{cfg: cfg}}
}

// RequiresNormals is always false.
func (e *GreedyEngine[A]) RequiresNormals() bool { return false }

// Verify runs the greedy selection and, when enabled, pose refinement.
func (e *GreedyEngine[A]) Verify() error {
	return e.run(e.search)
}

func (e *GreedyEngine[A]) search(p *problem) []bool {
	s := newSelection(p)
	for {
		best, bestD := -1, scoreEpsilon
		for h := range s.selected {
			if s.selected[h] {
				continue
			}
			if d := s.addDelta(h); d > bestD {
				best, bestD = h, d
			}
		}
		if best < 0 {
			break
		}
		s.toggle(best)
		monitoring.Tracef("greedy: add %d delta=%.5f score=%.5f", best, bestD, s.score)
	}
	return s.selected
}
