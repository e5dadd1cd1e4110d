// Package actors provides the in-process game object model consumed by the
// synchronization layer. An actor is a named, ordered set of components.
// Every component declares the attributes it exposes for synchronization;
// the declaration is validated when the component is attached, so an
// undeclared or non-encodable attribute is a construction error instead of
// a runtime surprise.
package actors

import (
	"fmt"

	"github.com/pylonengine/netsync/pkg/codec"
)

// Component is a named bundle of actor state.
type Component interface {
	// Type returns the component's stable type name used on the wire.
	Type() string
	// SyncAttrs returns the names of the attributes this component
	// exposes for synchronization, in a stable order.
	SyncAttrs() []string
	// GetAttr returns the current value of a declared attribute.
	GetAttr(name string) (interface{}, error)
	// SetAttr overwrites a declared attribute with a received value.
	SetAttr(name string, value interface{}) error
}

// ErrUnknownAttr is returned by components for undeclared attribute names.
type ErrUnknownAttr struct {
	Component string
	Attr      string
}

func (e *ErrUnknownAttr) Error() string {
	return fmt.Sprintf("component %s has no attribute %q", e.Component, e.Attr)
}

// Actor is a named game object composed of components.
type Actor struct {
	Name string

	components []Component
	byType     map[string]Component
}

// NewActor creates an actor and attaches the given components, validating
// each one's attribute declaration.
func NewActor(name string, components ...Component) (*Actor, error) {
	a := &Actor{
		Name:   name,
		byType: make(map[string]Component),
	}
	for _, c := range components {
		if err := a.AddComponent(c); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// AddComponent attaches a component after validating its declared
// synchronizable attributes: every name must be readable and its current
// value encodable.
func (a *Actor) AddComponent(c Component) error {
	typeName := c.Type()
	if typeName == "" {
		return fmt.Errorf("component has an empty type name")
	}
	if _, exists := a.byType[typeName]; exists {
		return fmt.Errorf("actor %q already has a %s component", a.Name, typeName)
	}

	for _, attr := range c.SyncAttrs() {
		v, err := c.GetAttr(attr)
		if err != nil {
			return fmt.Errorf("component %s declares unreadable attribute %q: %v", typeName, attr, err)
		}
		if _, err := codec.Encode(v); err != nil {
			return fmt.Errorf("component %s attribute %q is not encodable: %v", typeName, attr, err)
		}
	}

	a.components = append(a.components, c)
	a.byType[typeName] = c
	return nil
}

// Component returns the component with the given type name.
func (a *Actor) Component(typeName string) (Component, bool) {
	c, ok := a.byType[typeName]
	return c, ok
}

// Components returns the actor's components in attach order.
func (a *Actor) Components() []Component {
	return a.components
}
