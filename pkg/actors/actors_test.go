package actors

import (
	"testing"

	"github.com/pylonengine/netsync/pkg/codec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewActorAttachesComponents(t *testing.T) {
	transform := NewTransform()
	body := NewPhysicsBody()

	actor, err := NewActor("crate", transform, body)
	require.NoError(t, err)

	got, ok := actor.Component(TypeTransform)
	require.True(t, ok)
	assert.Same(t, transform, got)

	assert.Len(t, actor.Components(), 2)
}

func TestAddComponentRejectsDuplicateType(t *testing.T) {
	actor, err := NewActor("crate", NewTransform())
	require.NoError(t, err)

	err = actor.AddComponent(NewTransform())
	assert.Error(t, err)
}

// brokenComponent declares an attribute it cannot read.
type brokenComponent struct{}

func (b *brokenComponent) Type() string        { return "broken" }
func (b *brokenComponent) SyncAttrs() []string { return []string{"ghost"} }
func (b *brokenComponent) GetAttr(name string) (interface{}, error) {
	return nil, &ErrUnknownAttr{Component: "broken", Attr: name}
}
func (b *brokenComponent) SetAttr(name string, value interface{}) error {
	return &ErrUnknownAttr{Component: "broken", Attr: name}
}

// opaqueComponent declares an attribute whose value the codec cannot carry.
type opaqueComponent struct{}

func (o *opaqueComponent) Type() string        { return "opaque" }
func (o *opaqueComponent) SyncAttrs() []string { return []string{"surface"} }
func (o *opaqueComponent) GetAttr(name string) (interface{}, error) {
	return make(chan int), nil
}
func (o *opaqueComponent) SetAttr(name string, value interface{}) error { return nil }

func TestConstructionValidatesDeclaredAttrs(t *testing.T) {
	_, err := NewActor("bad", &brokenComponent{})
	assert.Error(t, err)

	_, err = NewActor("opaque", &opaqueComponent{})
	assert.Error(t, err)
}

func TestBuiltinAttrsRoundTrip(t *testing.T) {
	tests := []struct {
		name      string
		component Component
		attr      string
		value     interface{}
	}{
		{"transform position", NewTransform(), "position", codec.Vec2{X: 50, Y: 10}},
		{"transform rotation", NewTransform(), "rotation", 1.57},
		{"body velocity", NewPhysicsBody(), "velocity", codec.Vec2{X: -3, Y: 0}},
		{"body acceleration", NewPhysicsBody(), "acceleration", codec.Vec2{X: 0, Y: 9.8}},
		{"sprite tint", NewSprite(), "tint", codec.Color{R: 10, G: 20, B: 30, A: 255}},
		{"sprite visible", NewSprite(), "visible", false},
		{"health current", NewHealth(100), "current", int64(42)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, tt.component.SetAttr(tt.attr, tt.value))
			got, err := tt.component.GetAttr(tt.attr)
			require.NoError(t, err)
			assert.Equal(t, tt.value, got)
		})
	}
}

func TestSetAttrRejectsWrongType(t *testing.T) {
	transform := NewTransform()
	assert.Error(t, transform.SetAttr("position", "not a vector"))
	assert.Error(t, transform.SetAttr("unknown", 1))
}

func TestFactoryBuiltins(t *testing.T) {
	f := NewFactory()
	for _, typeName := range []string{TypeTransform, TypePhysicsBody, TypeSprite, TypeHealth} {
		c, err := f.New(typeName)
		require.NoError(t, err)
		assert.Equal(t, typeName, c.Type())
	}

	_, err := f.New("nonexistent")
	assert.Error(t, err)
}

func TestFactoryRegisterRejectsDuplicates(t *testing.T) {
	f := NewFactory()
	assert.Error(t, f.Register(TypeTransform, func() Component { return NewTransform() }))

	require.NoError(t, f.Register("custom", func() Component { return NewHealth(1) }))
	c, err := f.New("custom")
	require.NoError(t, err)
	assert.Equal(t, TypeHealth, c.Type())
}
