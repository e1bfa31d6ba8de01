package ngstore

import "sort"

type tpoint struct {
	x, y float64
}

// triangulate splits a polygon into triangles by ear clipping. rings[0] is
// the outer ring, the rest are holes; rings are open (no closing point).
// Holes are joined to the outer ring through bridge edges first. The result
// holds three vertex indices per triangle, counted over the concatenation of
// all rings.
func triangulate(rings [][]SimplePoint) []int {
	if len(rings) == 0 || len(rings[0]) < 3 {
		return nil
	}

	var pts []tpoint
	var offsets []int
	for _, r := range rings {
		offsets = append(offsets, len(pts))
		for _, p := range r {
			pts = append(pts, tpoint{float64(p.X), float64(p.Y)})
		}
	}

	ringIdx := func(i int) []int {
		out := make([]int, len(rings[i]))
		for j := range out {
			out[j] = offsets[i] + j
		}
		return out
	}

	outer := ringIdx(0)
	if signedArea(pts, outer) < 0 {
		reverseInts(outer)
	}

	var holes [][]int
	for i := 1; i < len(rings); i++ {
		h := ringIdx(i)
		if signedArea(pts, h) > 0 {
			reverseInts(h)
		}
		holes = append(holes, h)
	}
	// bridge holes from left to right
	sort.SliceStable(holes, func(a, b int) bool {
		return pts[leftmost(pts, holes[a])].x < pts[leftmost(pts, holes[b])].x
	})
	poly := outer
	for i, h := range holes {
		poly = bridgeHole(pts, poly, h, holes[i+1:])
	}

	return earClip(pts, poly)
}

func signedArea(pts []tpoint, ring []int) float64 {
	var sum float64
	for i := range ring {
		a := pts[ring[i]]
		b := pts[ring[(i+1)%len(ring)]]
		sum += a.x*b.y - b.x*a.y
	}
	return sum / 2
}

func reverseInts(s []int) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

func leftmost(pts []tpoint, ring []int) int {
	best := ring[0]
	for _, i := range ring {
		if pts[i].x < pts[best].x || (pts[i].x == pts[best].x && pts[i].y < pts[best].y) {
			best = i
		}
	}
	return best
}

func cross(o, a, b tpoint) float64 {
	return (a.x-o.x)*(b.y-o.y) - (a.y-o.y)*(b.x-o.x)
}

func samePoint(a, b tpoint) bool { return a.x == b.x && a.y == b.y }

// segmentsCross reports a proper crossing of p1p2 and q1q2. Touching at an
// endpoint does not count.
func segmentsCross(p1, p2, q1, q2 tpoint) bool {
	if samePoint(p1, q1) || samePoint(p1, q2) || samePoint(p2, q1) || samePoint(p2, q2) {
		return false
	}
	d1 := cross(q1, q2, p1)
	d2 := cross(q1, q2, p2)
	d3 := cross(p1, p2, q1)
	d4 := cross(p1, p2, q2)
	return ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0))
}

func ringCrossed(pts []tpoint, ring []int, a, b tpoint) bool {
	for i := range ring {
		if segmentsCross(a, b, pts[ring[i]], pts[ring[(i+1)%len(ring)]]) {
			return true
		}
	}
	return false
}

// bridgeHole joins hole into poly with a pair of edges between the leftmost
// hole vertex and the closest visible vertex of poly.
func bridgeHole(pts []tpoint, poly, hole []int, rest [][]int) []int {
	hi := 0
	h := leftmost(pts, hole)
	for i, v := range hole {
		if v == h {
			hi = i
			break
		}
	}
	hp := pts[h]

	best := -1
	bestDist := 0.0
	for i, v := range poly {
		vp := pts[v]
		d := (vp.x-hp.x)*(vp.x-hp.x) + (vp.y-hp.y)*(vp.y-hp.y)
		if best >= 0 && d >= bestDist {
			continue
		}
		if ringCrossed(pts, poly, hp, vp) || ringCrossed(pts, hole, hp, vp) {
			continue
		}
		crossed := false
		for _, r := range rest {
			if ringCrossed(pts, r, hp, vp) {
				crossed = true
				break
			}
		}
		if crossed {
			continue
		}
		best = i
		bestDist = d
	}
	if best < 0 {
		best = 0
	}

	out := make([]int, 0, len(poly)+len(hole)+2)
	out = append(out, poly[:best+1]...)
	for j := 0; j <= len(hole); j++ {
		out = append(out, hole[(hi+j)%len(hole)])
	}
	out = append(out, poly[best])
	out = append(out, poly[best+1:]...)
	return out
}

func pointInTriangle(p, a, b, c tpoint) bool {
	return cross(a, b, p) >= 0 && cross(b, c, p) >= 0 && cross(c, a, p) >= 0
}

// earClip triangulates a counter clockwise simple polygon.
func earClip(pts []tpoint, poly []int) []int {
	var out []int
	ring := append([]int(nil), poly...)
	guard := 0
	for len(ring) > 3 && guard < len(poly)*len(poly)+16 {
		guard++
		n := len(ring)
		clipped := false
		for i := 0; i < n; i++ {
			ia, ib, ic := ring[(i+n-1)%n], ring[i], ring[(i+1)%n]
			a, b, c := pts[ia], pts[ib], pts[ic]
			turn := cross(a, b, c)
			if turn == 0 {
				// collinear or duplicated vertex
				ring = append(ring[:i], ring[i+1:]...)
				clipped = true
				break
			}
			if turn < 0 {
				continue
			}
			ear := true
			for _, k := range ring {
				kp := pts[k]
				if samePoint(kp, a) || samePoint(kp, b) || samePoint(kp, c) {
					continue
				}
				if pointInTriangle(kp, a, b, c) {
					ear = false
					break
				}
			}
			if !ear {
				continue
			}
			out = append(out, ia, ib, ic)
			ring = append(ring[:i], ring[i+1:]...)
			clipped = true
			break
		}
		if !clipped {
			// self intersecting input, cut the first convex corner anyway
			ia, ib, ic := ring[n-1], ring[0], ring[1]
			if cross(pts[ia], pts[ib], pts[ic]) > 0 {
				out = append(out, ia, ib, ic)
			}
			ring = ring[1:]
		}
	}
	if len(ring) == 3 && cross(pts[ring[0]], pts[ring[1]], pts[ring[2]]) > 0 {
		out = append(out, ring[0], ring[1], ring[2])
	}
	return out
}
