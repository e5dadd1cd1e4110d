package actors

import "fmt"

// Factory constructs components by type name when spawning mirrors of
// remote actors. Built-in component types are pre-registered; games
// register their own before hosting or connecting.
type Factory struct {
	constructors map[string]func() Component
}

// NewFactory creates a factory with the built-in component types
// registered.
func NewFactory() *Factory {
	f := &Factory{
		constructors: make(map[string]func() Component),
	}
	// Built-ins can't collide in a fresh factory.
	_ = f.Register(TypeTransform, func() Component { return NewTransform() })
	_ = f.Register(TypePhysicsBody, func() Component { return NewPhysicsBody() })
	_ = f.Register(TypeSprite, func() Component { return NewSprite() })
	_ = f.Register(TypeHealth, func() Component { return NewHealth(100) })
	return f
}

// Register adds a constructor for a component type name.
func (f *Factory) Register(typeName string, constructor func() Component) error {
	if typeName == "" {
		return fmt.Errorf("component type name is empty")
	}
	if _, exists := f.constructors[typeName]; exists {
		return fmt.Errorf("component type %q is already registered", typeName)
	}
	f.constructors[typeName] = constructor
	return nil
}

// New constructs a fresh component of the given type.
func (f *Factory) New(typeName string) (Component, error) {
	constructor, ok := f.constructors[typeName]
	if !ok {
		return nil, fmt.Errorf("unknown component type: %q", typeName)
	}
	return constructor(), nil
}
