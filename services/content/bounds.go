package content

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	KindBoxCollider    = "BoxCollider"
	KindSphereCollider = "SphereCollider"
)

// Bounds is an axis aligned box.
type Bounds struct {
	Center  Vector3
	Extents Vector3
}

func (b Bounds) min() Vector3 { return b.Center.Sub(b.Extents) }
func (b Bounds) max() Vector3 { return b.Center.Add(b.Extents) }

// Encapsulate grows b to contain o.
func (b Bounds) Encapsulate(o Bounds) Bounds {
	lo, hi := b.min(), b.max()
	olo, ohi := o.min(), o.max()
	lo = Vector3{math.Min(lo.X, olo.X), math.Min(lo.Y, olo.Y), math.Min(lo.Z, olo.Z)}
	hi = Vector3{math.Max(hi.X, ohi.X), math.Max(hi.Y, ohi.Y), math.Max(hi.Z, ohi.Z)}
	return Bounds{Center: lo.Add(hi).Scale(0.5), Extents: hi.Sub(lo).Scale(0.5)}
}

// CalculateBounds encapsulates every non-trigger collider in doc. The center is relative to the
// first root object. A document without colliders yields zero bounds.
func CalculateBounds(doc *Document) (Bounds, error) {
	if doc == nil {
		return Bounds{}, nil
	}
	var (
		bounds Bounds
		found  bool
	)
	err := doc.Walk(func(obj *Object, offset Vector3) error {
		world := offset.Add(obj.Position)
		for _, c := range obj.Components {
			if c == nil {
				continue
			}
			b, ok, err := colliderBounds(c, world)
			if err != nil {
				return fmt.Errorf("object %s: %w", obj.Name, err)
			}
			if !ok {
				continue
			}
			if !found {
				bounds = b
				found = true
				continue
			}
			bounds = bounds.Encapsulate(b)
		}
		return nil
	})
	if err != nil {
		return Bounds{}, err
	}
	if found && len(doc.Objects) > 0 && doc.Objects[0] != nil {
		bounds.Center = bounds.Center.Sub(doc.Objects[0].Position)
	}
	return bounds, nil
}

func colliderBounds(c *Component, world Vector3) (Bounds, bool, error) {
	if c.Kind != KindBoxCollider && c.Kind != KindSphereCollider {
		return Bounds{}, false, nil
	}
	if trigger, _ := strconv.ParseBool(strings.TrimSpace(c.Field("isTrigger"))); trigger {
		return Bounds{}, false, nil
	}
	center, err := ParseVector(c.Field("center"))
	if err != nil {
		return Bounds{}, false, err
	}
	var extents Vector3
	switch c.Kind {
	case KindBoxCollider:
		size, err := ParseVector(c.Field("size"))
		if err != nil {
			return Bounds{}, false, err
		}
		extents = size.Scale(0.5)
	case KindSphereCollider:
		radius := 0.5
		if raw := strings.TrimSpace(c.Field("radius")); raw != "" {
			r, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return Bounds{}, false, fmt.Errorf("sphere radius %q: %w", raw, err)
			}
			radius = r
		}
		extents = Vector3{radius, radius, radius}
	}
	return Bounds{Center: world.Add(center), Extents: extents}, true, nil
}
