package actors

import (
	"fmt"

	"github.com/pylonengine/netsync/pkg/codec"
)

// Built-in component type names.
const (
	TypeTransform   = "transform"
	TypePhysicsBody = "physics-body"
	TypeSprite      = "sprite"
	TypeHealth      = "health"
)

// Transform holds an actor's placement in the scene.
type Transform struct {
	Position codec.Vec2
	Rotation float64
	Scale    codec.Vec2
}

func NewTransform() *Transform {
	return &Transform{Scale: codec.Vec2{X: 1, Y: 1}}
}

func (t *Transform) Type() string { return TypeTransform }

func (t *Transform) SyncAttrs() []string {
	return []string{"position", "rotation", "scale"}
}

func (t *Transform) GetAttr(name string) (interface{}, error) {
	switch name {
	case "position":
		return t.Position, nil
	case "rotation":
		return t.Rotation, nil
	case "scale":
		return t.Scale, nil
	default:
		return nil, &ErrUnknownAttr{Component: TypeTransform, Attr: name}
	}
}

func (t *Transform) SetAttr(name string, value interface{}) error {
	switch name {
	case "position":
		return setVec2(&t.Position, name, value)
	case "rotation":
		return setFloat(&t.Rotation, name, value)
	case "scale":
		return setVec2(&t.Scale, name, value)
	default:
		return &ErrUnknownAttr{Component: TypeTransform, Attr: name}
	}
}

// PhysicsBody mirrors the simulated kinematics of an actor. The simulation
// itself runs in the wrapped physics library; only its observable state is
// synchronized.
type PhysicsBody struct {
	Velocity     codec.Vec2
	Acceleration codec.Vec2
	Mass         float64
}

func NewPhysicsBody() *PhysicsBody {
	return &PhysicsBody{Mass: 1}
}

func (p *PhysicsBody) Type() string { return TypePhysicsBody }

func (p *PhysicsBody) SyncAttrs() []string {
	return []string{"velocity", "acceleration", "mass"}
}

func (p *PhysicsBody) GetAttr(name string) (interface{}, error) {
	switch name {
	case "velocity":
		return p.Velocity, nil
	case "acceleration":
		return p.Acceleration, nil
	case "mass":
		return p.Mass, nil
	default:
		return nil, &ErrUnknownAttr{Component: TypePhysicsBody, Attr: name}
	}
}

func (p *PhysicsBody) SetAttr(name string, value interface{}) error {
	switch name {
	case "velocity":
		return setVec2(&p.Velocity, name, value)
	case "acceleration":
		return setVec2(&p.Acceleration, name, value)
	case "mass":
		return setFloat(&p.Mass, name, value)
	default:
		return &ErrUnknownAttr{Component: TypePhysicsBody, Attr: name}
	}
}

// Sprite holds the drawable state of an actor. Surfaces and textures stay
// local; only size, tint and visibility travel.
type Sprite struct {
	Size    codec.Vec2
	Tint    codec.Color
	Visible bool
}

func NewSprite() *Sprite {
	return &Sprite{
		Size:    codec.Vec2{X: 32, Y: 32},
		Tint:    codec.Color{R: 255, G: 255, B: 255, A: 255},
		Visible: true,
	}
}

func (s *Sprite) Type() string { return TypeSprite }

func (s *Sprite) SyncAttrs() []string {
	return []string{"size", "tint", "visible"}
}

func (s *Sprite) GetAttr(name string) (interface{}, error) {
	switch name {
	case "size":
		return s.Size, nil
	case "tint":
		return s.Tint, nil
	case "visible":
		return s.Visible, nil
	default:
		return nil, &ErrUnknownAttr{Component: TypeSprite, Attr: name}
	}
}

func (s *Sprite) SetAttr(name string, value interface{}) error {
	switch name {
	case "size":
		return setVec2(&s.Size, name, value)
	case "tint":
		v, ok := value.(codec.Color)
		if !ok {
			return attrTypeError(name, value)
		}
		s.Tint = v
		return nil
	case "visible":
		v, ok := value.(bool)
		if !ok {
			return attrTypeError(name, value)
		}
		s.Visible = v
		return nil
	default:
		return &ErrUnknownAttr{Component: TypeSprite, Attr: name}
	}
}

// Health tracks hitpoints.
type Health struct {
	Current int64
	Max     int64
}

func NewHealth(max int64) *Health {
	return &Health{Current: max, Max: max}
}

func (h *Health) Type() string { return TypeHealth }

func (h *Health) SyncAttrs() []string {
	return []string{"current", "max"}
}

func (h *Health) GetAttr(name string) (interface{}, error) {
	switch name {
	case "current":
		return h.Current, nil
	case "max":
		return h.Max, nil
	default:
		return nil, &ErrUnknownAttr{Component: TypeHealth, Attr: name}
	}
}

func (h *Health) SetAttr(name string, value interface{}) error {
	switch name {
	case "current":
		return setInt(&h.Current, name, value)
	case "max":
		return setInt(&h.Max, name, value)
	default:
		return &ErrUnknownAttr{Component: TypeHealth, Attr: name}
	}
}

func setVec2(dst *codec.Vec2, name string, value interface{}) error {
	v, ok := value.(codec.Vec2)
	if !ok {
		return attrTypeError(name, value)
	}
	*dst = v
	return nil
}

func setFloat(dst *float64, name string, value interface{}) error {
	switch v := value.(type) {
	case float64:
		*dst = v
	case int64:
		*dst = float64(v)
	default:
		return attrTypeError(name, value)
	}
	return nil
}

func setInt(dst *int64, name string, value interface{}) error {
	switch v := value.(type) {
	case int64:
		*dst = v
	case float64:
		*dst = int64(v)
	default:
		return attrTypeError(name, value)
	}
	return nil
}

func attrTypeError(name string, value interface{}) error {
	return fmt.Errorf("attribute %q cannot hold a %T", name, value)
}
