package content

import (
	"fmt"
	"path"
	"strconv"
	"strings"
)

// AssetKind distinguishes object graphs from scenes.
type AssetKind string

const (
	KindUnknown AssetKind = ""
	KindObject  AssetKind = "object"
	KindScene   AssetKind = "scene"
)

const (
	objectExt = ".prefab"
	sceneExt  = ".scene"
)

// KindOf infers the asset kind from its file extension.
func KindOf(asset string) AssetKind {
	switch strings.ToLower(path.Ext(asset)) {
	case objectExt:
		return KindObject
	case sceneExt:
		return KindScene
	default:
		return KindUnknown
	}
}

// AssetName returns the asset file name without its extension.
func AssetName(asset string) string {
	base := path.Base(strings.ReplaceAll(asset, "\\", "/"))
	return strings.TrimSuffix(base, path.Ext(base))
}

// Vector3 is a position or extent in asset space.
type Vector3 struct {
	X float64 `yaml:"x" json:"x"`
	Y float64 `yaml:"y" json:"y"`
	Z float64 `yaml:"z" json:"z"`
}

func (v Vector3) Add(o Vector3) Vector3   { return Vector3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }
func (v Vector3) Sub(o Vector3) Vector3   { return Vector3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }
func (v Vector3) Scale(f float64) Vector3 { return Vector3{v.X * f, v.Y * f, v.Z * f} }

func (v Vector3) String() string {
	return fmt.Sprintf("(%.2f, %.2f, %.2f)", v.X, v.Y, v.Z)
}

// ParseVector reads "x,y,z". Missing components default to zero.
func ParseVector(raw string) (Vector3, error) {
	raw = strings.Trim(strings.TrimSpace(raw), "()")
	if raw == "" {
		return Vector3{}, nil
	}
	parts := strings.Split(raw, ",")
	if len(parts) > 3 {
		return Vector3{}, fmt.Errorf("vector %q has %d components", raw, len(parts))
	}
	var out [3]float64
	for i, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return Vector3{}, fmt.Errorf("vector %q: %w", raw, err)
		}
		out[i] = f
	}
	return Vector3{out[0], out[1], out[2]}, nil
}

// Document is the parsed form of an object graph or scene file.
type Document struct {
	Kind    AssetKind `yaml:"kind"`
	Objects []*Object `yaml:"objects"`
}

// Object is a node in the graph.
type Object struct {
	Name       string       `yaml:"name"`
	Position   Vector3      `yaml:"position"`
	Components []*Component `yaml:"components,omitempty"`
	Children   []*Object    `yaml:"children,omitempty"`
}

// Component is a typed bag of serialized fields attached to an object.
type Component struct {
	Kind   string            `yaml:"kind"`
	Fields map[string]string `yaml:"fields,omitempty"`
}

// Field returns the named field or "".
func (c *Component) Field(name string) string {
	if c == nil || c.Fields == nil {
		return ""
	}
	return c.Fields[name]
}

// SetField assigns a field, allocating the map on first use.
func (c *Component) SetField(name, value string) {
	if c.Fields == nil {
		c.Fields = map[string]string{}
	}
	c.Fields[name] = value
}

// Has reports whether the object carries a component of kind.
func (o *Object) Has(kind string) bool {
	return o.Component(kind) != nil
}

// Component returns the first component of kind, or nil.
func (o *Object) Component(kind string) *Component {
	for _, c := range o.Components {
		if c != nil && c.Kind == kind {
			return c
		}
	}
	return nil
}

// AddComponent appends a new component of kind and returns it.
func (o *Object) AddComponent(kind string) *Component {
	c := &Component{Kind: kind}
	o.Components = append(o.Components, c)
	return c
}

// RemoveComponents deletes every component whose kind is in kinds and returns how many were removed.
func (o *Object) RemoveComponents(kinds map[string]bool) int {
	kept := o.Components[:0]
	removed := 0
	for _, c := range o.Components {
		if c != nil && kinds[c.Kind] {
			removed++
			continue
		}
		kept = append(kept, c)
	}
	for i := len(kept); i < len(o.Components); i++ {
		o.Components[i] = nil
	}
	o.Components = kept
	return removed
}

// Walk visits every object depth-first, passing the accumulated world offset of its parent.
func (d *Document) Walk(fn func(obj *Object, parentOffset Vector3) error) error {
	var visit func(objs []*Object, offset Vector3) error
	visit = func(objs []*Object, offset Vector3) error {
		for _, obj := range objs {
			if obj == nil {
				continue
			}
			if err := fn(obj, offset); err != nil {
				return err
			}
			if err := visit(obj.Children, offset.Add(obj.Position)); err != nil {
				return err
			}
		}
		return nil
	}
	return visit(d.Objects, Vector3{})
}

// FindAll returns every object carrying a component of kind, in walk order.
func (d *Document) FindAll(kind string) []*Object {
	var out []*Object
	_ = d.Walk(func(obj *Object, _ Vector3) error {
		if obj.Has(kind) {
			out = append(out, obj)
		}
		return nil
	})
	return out
}
