// Package sprite packs small PNG images into sprite sheets: a
// double-resolution sheet built from the sources and a single-resolution
// sheet that is its exact half, plus a stylesheet partial describing both.
package sprite

import "sort"

// Size is the pixel size of a tile.
type Size struct {
	W, H int
}

// Rect is a placed tile.
type Rect struct {
	X, Y, W, H int
}

type node struct {
	x, y, w, h  int
	used        bool
	right, down *node
}

func (n *node) find(w, h int) *node {
	if n == nil {
		return nil
	}
	if n.used {
		if f := n.right.find(w, h); f != nil {
			return f
		}
		return n.down.find(w, h)
	}
	if w <= n.w && h <= n.h {
		return n
	}
	return nil
}

func (n *node) split(w, h int) *node {
	n.used = true
	n.down = &node{x: n.x, y: n.y + h, w: n.w, h: n.h - h}
	n.right = &node{x: n.x + w, y: n.y, w: n.w - w, h: h}
	return n
}

type packer struct {
	root *node
}

func (p *packer) growRight(w, h int) *node {
	p.root = &node{
		used:  true,
		w:     p.root.w + w,
		h:     p.root.h,
		down:  p.root,
		right: &node{x: p.root.w, w: w, h: p.root.h},
	}
	if n := p.root.find(w, h); n != nil {
		return n.split(w, h)
	}
	return nil
}

func (p *packer) growDown(w, h int) *node {
	p.root = &node{
		used:  true,
		w:     p.root.w,
		h:     p.root.h + h,
		down:  &node{y: p.root.h, w: p.root.w, h: h},
		right: p.root,
	}
	if n := p.root.find(w, h); n != nil {
		return n.split(w, h)
	}
	return nil
}

// grow extends the canvas in the direction that keeps it closest to square.
func (p *packer) grow(w, h int) *node {
	canDown := w <= p.root.w
	canRight := h <= p.root.h
	shouldRight := canRight && p.root.h >= p.root.w+w
	shouldDown := canDown && p.root.w >= p.root.h+h

	switch {
	case shouldRight:
		return p.growRight(w, h)
	case shouldDown:
		return p.growDown(w, h)
	case canRight:
		return p.growRight(w, h)
	case canDown:
		return p.growDown(w, h)
	}
	return nil
}

func even(v int) int {
	return v + v%2
}

// Pack places tiles of the given sizes on a growing canvas with padding
// pixels between them. Every position and the canvas size are even, so the
// layout halves exactly. The result is indexed like sizes.
func Pack(sizes []Size, padding int) (rects []Rect, width, height int) {
	rects = make([]Rect, len(sizes))
	if len(sizes) == 0 {
		return rects, 0, 0
	}
	padding = even(padding)

	order := make([]int, len(sizes))
	for i := range order {
		order[i] = i
	}
	// Largest side first gives the tightest trees.
	sort.SliceStable(order, func(a, b int) bool {
		sa, sb := sizes[order[a]], sizes[order[b]]
		ma, mb := max(sa.W, sa.H), max(sb.W, sb.H)
		if ma != mb {
			return ma > mb
		}
		return sa.W*sa.H > sb.W*sb.H
	})

	cell := func(s Size) (int, int) {
		return even(s.W) + padding, even(s.H) + padding
	}

	first := sizes[order[0]]
	w0, h0 := cell(first)
	p := &packer{root: &node{w: w0, h: h0}}

	for _, i := range order {
		w, h := cell(sizes[i])
		n := p.root.find(w, h)
		if n != nil {
			n = n.split(w, h)
		} else {
			n = p.grow(w, h)
		}
		rects[i] = Rect{X: n.x, Y: n.y, W: sizes[i].W, H: sizes[i].H}
	}

	for _, r := range rects {
		width = max(width, r.X+even(r.W))
		height = max(height, r.Y+even(r.H))
	}
	return rects, width, height
}
