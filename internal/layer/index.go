package layer

import (
	"math"
	"slices"

	"github.com/dhconnelly/rtreego"
	"github.com/rotisserie/eris"

	"github.com/sells-group/overlap-cli/internal/geometry"
)

// Index kinds accepted by NewIndex.
const (
	IndexRTree  = "rtree"
	IndexLinear = "linear"
)

// SpatialIndex returns the positions of features whose envelope intersects
// a query box, in ascending (dataset) order. Boxes that only touch count as
// intersecting.
type SpatialIndex interface {
	Search(b geometry.Bounds) []int
	Len() int
}

// NewIndex builds an index over envelopes. Entries with ok[i] false (empty
// geometries) are never returned.
func NewIndex(kind string, envs []geometry.Bounds, ok []bool) (SpatialIndex, error) {
	switch kind {
	case "", IndexRTree:
		return newRTreeIndex(envs, ok), nil
	case IndexLinear:
		return &linearIndex{envs: envs, ok: ok}, nil
	}
	return nil, eris.Errorf("layer: unknown spatial index %q", kind)
}

// linearIndex scans every envelope.
type linearIndex struct {
	envs []geometry.Bounds
	ok   []bool
}

func (l *linearIndex) Search(b geometry.Bounds) []int {
	var out []int
	for i, e := range l.envs {
		if l.ok[i] && e.Intersects(b) {
			out = append(out, i)
		}
	}
	return out
}

func (l *linearIndex) Len() int { return len(l.envs) }

// rtreeIndex stores envelopes in an R-tree (2D, 25..50 children per node).
type rtreeIndex struct {
	tree *rtreego.Rtree
	envs []geometry.Bounds
	n    int
}

type indexedEnvelope struct {
	pos int
	env geometry.Bounds
}

// Bounds implements rtreego.Spatial.
func (e *indexedEnvelope) Bounds() rtreego.Rect {
	return toRect(e.env, 0)
}

// toRect pads the box by pad on every side and gives degenerate (point or
// line) envelopes a minimal extent, which the R-tree requires.
func toRect(b geometry.Bounds, pad float64) rtreego.Rect {
	const epsilon = 1e-9
	w := b.Width() + 2*pad
	h := b.Height() + 2*pad
	if w < epsilon {
		w = epsilon
	}
	if h < epsilon {
		h = epsilon
	}
	rect, _ := rtreego.NewRect(rtreego.Point{b.MinX - pad, b.MinY - pad}, []float64{w, h})
	return rect
}

func newRTreeIndex(envs []geometry.Bounds, ok []bool) *rtreeIndex {
	idx := &rtreeIndex{tree: rtreego.NewTree(2, 25, 50), envs: envs}
	for i, e := range envs {
		if !ok[i] {
			continue
		}
		idx.tree.Insert(&indexedEnvelope{pos: i, env: e})
		idx.n++
	}
	return idx
}

// Search queries the tree with a slightly padded box, since the tree treats
// touching rectangles as disjoint, then refines against the exact envelopes.
func (r *rtreeIndex) Search(b geometry.Bounds) []int {
	if r.n == 0 {
		return nil
	}
	scale := math.Max(math.Max(math.Abs(b.MinX), math.Abs(b.MinY)), math.Max(math.Abs(b.MaxX), math.Abs(b.MaxY)))
	pad := 1e-9 * math.Max(1, scale)
	hits := r.tree.SearchIntersect(toRect(b, pad))
	var out []int
	for _, h := range hits {
		e := h.(*indexedEnvelope)
		if e.env.Intersects(b) {
			out = append(out, e.pos)
		}
	}
	slices.Sort(out)
	return out
}

func (r *rtreeIndex) Len() int { return r.n }
