package ngstore

import (
	"math"

	"github.com/dhconnelly/rtreego"
	vec2d "github.com/flywave/go3d/float64/vec2"
	"github.com/paulmach/orb"
)

const envelopeDelta = 0.0000001

// Envelope is an axis aligned bounding box. The zero value is not
// initialized.
type Envelope struct {
	MinX, MinY, MaxX, MaxY float64
}

var (
	DefaultBounds   = Envelope{MinX: DefaultMinX, MinY: DefaultMinY, MaxX: DefaultMaxX, MaxY: DefaultMaxY}
	DefaultBoundsX2 = Envelope{MinX: DefaultMinX * 2, MinY: DefaultMinY * 2, MaxX: DefaultMaxX * 2, MaxY: DefaultMaxY * 2}
)

func NewEnvelope(minX, minY, maxX, maxY float64) Envelope {
	return Envelope{MinX: minX, MinY: minY, MaxX: maxX, MaxY: maxY}
}

func EnvelopeFromBound(b orb.Bound) Envelope {
	return Envelope{MinX: b.Min[0], MinY: b.Min[1], MaxX: b.Max[0], MaxY: b.Max[1]}
}

func EnvelopeFromRect(r vec2d.Rect) Envelope {
	return Envelope{MinX: r.Min[0], MinY: r.Min[1], MaxX: r.Max[0], MaxY: r.Max[1]}
}

// GeometryEnvelope returns the envelope of g or the zero envelope for a nil
// or empty geometry.
func GeometryEnvelope(g orb.Geometry) Envelope {
	env, _ := geometryBounds(g)
	return env
}

// geometryBounds is GeometryEnvelope with an explicit flag, so a point at the
// origin is told apart from a missing geometry.
func geometryBounds(g orb.Geometry) (Envelope, bool) {
	if g == nil || isEmptyGeometry(g) {
		return Envelope{}, false
	}
	return EnvelopeFromBound(g.Bound()), true
}

func (e Envelope) IsInit() bool {
	return e.MinX != 0 || e.MinY != 0 || e.MaxX != 0 || e.MaxY != 0
}

func (e Envelope) Width() float64 { return e.MaxX - e.MinX }

func (e Envelope) Height() float64 { return e.MaxY - e.MinY }

func (e Envelope) Center() orb.Point {
	return orb.Point{e.MinX + e.Width()*.5, e.MinY + e.Height()*.5}
}

// Merge returns the union of both envelopes. An uninitialized side is
// ignored.
func (e Envelope) Merge(other Envelope) Envelope {
	if !e.IsInit() {
		return other
	}
	if !other.IsInit() {
		return e
	}
	return e.Extend(other)
}

// Extend returns the union of both envelopes, zero ones included.
func (e Envelope) Extend(other Envelope) Envelope {
	a, b := e.Rect(), other.Rect()
	return EnvelopeFromRect(vec2d.Joined(&a, &b))
}

// Intersect returns the overlap of both envelopes or the zero envelope when
// they are disjoint.
func (e Envelope) Intersect(other Envelope) Envelope {
	if !e.Intersects(other) {
		return Envelope{}
	}
	return Envelope{
		MinX: math.Max(e.MinX, other.MinX),
		MinY: math.Max(e.MinY, other.MinY),
		MaxX: math.Min(e.MaxX, other.MaxX),
		MaxY: math.Min(e.MaxY, other.MaxY),
	}
}

func (e Envelope) Intersects(other Envelope) bool {
	return e.MinX <= other.MaxX && e.MaxX >= other.MinX &&
		e.MinY <= other.MaxY && e.MaxY >= other.MinY
}

func (e Envelope) Contains(other Envelope) bool {
	return e.MinX <= other.MinX && e.MinY <= other.MinY &&
		e.MaxX >= other.MaxX && e.MaxY >= other.MaxY
}

// Resize scales the envelope around its center.
func (e Envelope) Resize(value float64) Envelope {
	w := e.Width() * .5
	h := e.Height() * .5
	x := e.MinX + w
	y := e.MinY + h
	w *= value
	h *= value
	return Envelope{MinX: x - w, MinY: y - h, MaxX: x + w, MaxY: y + h}
}

func (e Envelope) Move(dx, dy float64) Envelope {
	return Envelope{MinX: e.MinX + dx, MinY: e.MinY + dy, MaxX: e.MaxX + dx, MaxY: e.MaxY + dy}
}

// Rotate returns the bounding box of the four corners rotated by angle
// radians about the origin.
func (e Envelope) Rotate(angle float64) Envelope {
	cosA := math.Cos(angle)
	sinA := math.Sin(angle)
	corners := [4]orb.Point{
		{e.MinX, e.MinY},
		{e.MaxX, e.MinY},
		{e.MaxX, e.MaxY},
		{e.MinX, e.MaxY},
	}
	var out vec2d.Rect
	for i, pt := range corners {
		p := vec2d.T{pt[0]*cosA - pt[1]*sinA, pt[0]*sinA + pt[1]*cosA}
		if i == 0 {
			out = vec2d.Rect{Min: p, Max: p}
			continue
		}
		out.Extend(&p)
	}
	return EnvelopeFromRect(out)
}

// SetRatio grows one axis so that width/height equals ratio.
func (e Envelope) SetRatio(ratio float64) Envelope {
	halfWidth := e.Width() * .5
	halfHeight := e.Height() * .5
	center := orb.Point{e.MinX + halfWidth, e.MinY + halfHeight}
	envRatio := halfWidth / halfHeight
	if isEqual(envRatio, ratio) {
		return e
	}
	out := e
	if ratio > envRatio {
		width := halfHeight * ratio
		out.MinX = center[0] - width
		out.MaxX = center[0] + width
	} else {
		height := halfWidth / ratio
		out.MinY = center[1] - height
		out.MaxY = center[1] + height
	}
	return out
}

// Fix swaps inverted bounds and widens a degenerate axis.
func (e Envelope) Fix() Envelope {
	out := e
	if out.MinX > out.MaxX {
		out.MinX, out.MaxX = out.MaxX, out.MinX
	}
	if out.MinY > out.MaxY {
		out.MinY, out.MaxY = out.MaxY, out.MinY
	}
	if isEqual(out.MinX, out.MaxX) {
		out.MinX -= envelopeDelta
		out.MaxX += envelopeDelta
	}
	if isEqual(out.MinY, out.MaxY) {
		out.MinY -= envelopeDelta
		out.MaxY += envelopeDelta
	}
	return out
}

func (e Envelope) Rect() vec2d.Rect {
	return vec2d.Rect{Min: vec2d.T{e.MinX, e.MinY}, Max: vec2d.T{e.MaxX, e.MaxY}}
}

func (e Envelope) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{e.MinX, e.MinY}, Max: orb.Point{e.MaxX, e.MaxY}}
}

// ToGeometry returns the envelope as a closed polygon, or nil when the
// envelope is not initialized.
func (e Envelope) ToGeometry() orb.Geometry {
	if !e.IsInit() {
		return nil
	}
	return orb.Polygon{orb.Ring{
		{e.MinX, e.MinY},
		{e.MinX, e.MaxY},
		{e.MaxX, e.MaxY},
		{e.MaxX, e.MinY},
		{e.MinX, e.MinY},
	}}
}

func (e Envelope) rect() rtreego.Rect {
	f := e.Fix()
	r, _ := rtreego.NewRectFromPoints(rtreego.Point{f.MinX, f.MinY}, rtreego.Point{f.MaxX, f.MaxY})
	return r
}

func isEqual(a, b float64) bool {
	return math.Abs(a-b) < envelopeDelta
}
