// Package index provides a spatial index over envelopes.
package index

import "github.com/paulmach/orb"

const (
	defaultCapacity = 8
	defaultMaxDepth = 12
)

type entry[T any] struct {
	bound orb.Bound
	value T
}

type node[T any] struct {
	bound    orb.Bound
	entries  []entry[T]
	children *[4]node[T]
	depth    int
}

// QuadTree indexes values by their envelope. Entries that straddle a node's
// split lines stay at that node. It is not safe for concurrent mutation;
// concurrent Query calls are fine once building is done.
type QuadTree[T any] struct {
	root     node[T]
	capacity int
	maxDepth int
	size     int
	// outside holds entries that do not fit the root bound.
	outside []entry[T]
}

// Option configures a QuadTree.
type Option func(*config)

type config struct {
	capacity, maxDepth int
}

// WithCapacity sets the number of entries a node holds before splitting.
func WithCapacity(n int) Option { return func(c *config) { c.capacity = n } }

// WithMaxDepth limits the tree depth.
func WithMaxDepth(n int) Option { return func(c *config) { c.maxDepth = n } }

// New returns an empty tree covering bound.
func New[T any](bound orb.Bound, opts ...Option) *QuadTree[T] {
	c := config{capacity: defaultCapacity, maxDepth: defaultMaxDepth}
	for _, o := range opts {
		o(&c)
	}
	return &QuadTree[T]{
		root:     node[T]{bound: bound},
		capacity: max(c.capacity, 1),
		maxDepth: max(c.maxDepth, 0),
	}
}

// Len returns the number of entries.
func (q *QuadTree[T]) Len() int { return q.size }

// Bound returns the root bound.
func (q *QuadTree[T]) Bound() orb.Bound { return q.root.bound }

// Insert adds v under bound b. Zero-area bounds are treated as points.
func (q *QuadTree[T]) Insert(b orb.Bound, v T) {
	q.size++
	e := entry[T]{bound: b, value: v}
	if !contains(q.root.bound, b) {
		q.outside = append(q.outside, e)
		return
	}
	q.root.insert(e, q.capacity, q.maxDepth)
}

// Query returns the values whose envelope intersects b. Touching edges count
// as intersecting. The result order is unspecified.
func (q *QuadTree[T]) Query(b orb.Bound) []T {
	var out []T
	for _, e := range q.outside {
		if intersects(e.bound, b) {
			out = append(out, e.value)
		}
	}
	q.root.query(b, &out)
	return out
}

// All returns every value.
func (q *QuadTree[T]) All() []T {
	out := make([]T, 0, q.size)
	for _, e := range q.outside {
		out = append(out, e.value)
	}
	q.root.walk(func(e entry[T]) { out = append(out, e.value) })
	return out
}

func (n *node[T]) insert(e entry[T], capacity, maxDepth int) {
	if n.children != nil {
		if i := n.childFor(e.bound); i >= 0 {
			n.children[i].insert(e, capacity, maxDepth)
			return
		}
		n.entries = append(n.entries, e)
		return
	}
	n.entries = append(n.entries, e)
	if len(n.entries) > capacity && n.depth < maxDepth {
		n.split(capacity, maxDepth)
	}
}

func (n *node[T]) split(capacity, maxDepth int) {
	c := n.bound.Center()
	lo, hi := n.bound.Min, n.bound.Max
	n.children = &[4]node[T]{
		{bound: orb.Bound{Min: lo, Max: c}, depth: n.depth + 1},
		{bound: orb.Bound{Min: orb.Point{c[0], lo[1]}, Max: orb.Point{hi[0], c[1]}}, depth: n.depth + 1},
		{bound: orb.Bound{Min: orb.Point{lo[0], c[1]}, Max: orb.Point{c[0], hi[1]}}, depth: n.depth + 1},
		{bound: orb.Bound{Min: c, Max: hi}, depth: n.depth + 1},
	}
	kept := n.entries[:0]
	for _, e := range n.entries {
		if i := n.childFor(e.bound); i >= 0 {
			n.children[i].insert(e, capacity, maxDepth)
			continue
		}
		kept = append(kept, e)
	}
	clear(n.entries[len(kept):])
	n.entries = kept
}

// childFor returns the child fully containing b, or -1.
func (n *node[T]) childFor(b orb.Bound) int {
	for i := range n.children {
		if contains(n.children[i].bound, b) {
			return i
		}
	}
	return -1
}

func (n *node[T]) query(b orb.Bound, out *[]T) {
	if !intersects(n.bound, b) {
		return
	}
	for _, e := range n.entries {
		if intersects(e.bound, b) {
			*out = append(*out, e.value)
		}
	}
	if n.children != nil {
		for i := range n.children {
			n.children[i].query(b, out)
		}
	}
}

func (n *node[T]) walk(fn func(entry[T])) {
	for _, e := range n.entries {
		fn(e)
	}
	if n.children != nil {
		for i := range n.children {
			n.children[i].walk(fn)
		}
	}
}

func contains(outer, inner orb.Bound) bool {
	return inner.Min[0] >= outer.Min[0] && inner.Max[0] <= outer.Max[0] &&
		inner.Min[1] >= outer.Min[1] && inner.Max[1] <= outer.Max[1]
}

func intersects(a, b orb.Bound) bool {
	return a.Min[0] <= b.Max[0] && b.Min[0] <= a.Max[0] &&
		a.Min[1] <= b.Max[1] && b.Min[1] <= a.Max[1]
}
