package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		in   interface{}
		want interface{}
	}{
		{
			name: "nil",
			in:   nil,
			want: nil,
		},
		{
			name: "bool",
			in:   true,
			want: true,
		},
		{
			name: "int widens to int64",
			in:   int32(42),
			want: int64(42),
		},
		{
			name: "negative int",
			in:   -7,
			want: int64(-7),
		},
		{
			name: "float",
			in:   3.25,
			want: 3.25,
		},
		{
			name: "string",
			in:   "crate",
			want: "crate",
		},
		{
			name: "vec2",
			in:   Vec2{X: 10, Y: 10},
			want: Vec2{X: 10, Y: 10},
		},
		{
			name: "color",
			in:   Color{R: 255, G: 128, B: 0, A: 255},
			want: Color{R: 255, G: 128, B: 0, A: 255},
		},
		{
			name: "rect",
			in:   Rect{X: 1, Y: 2, W: 3, H: 4},
			want: Rect{X: 1, Y: 2, W: 3, H: 4},
		},
		{
			name: "list",
			in:   []interface{}{int64(1), "two", Vec2{X: 3, Y: 4}},
			want: []interface{}{int64(1), "two", Vec2{X: 3, Y: 4}},
		},
		{
			name: "nested map",
			in: map[string]interface{}{
				"position": Vec2{X: 50, Y: 10},
				"tags":     []interface{}{"solid", "pushable"},
				"meta": map[string]interface{}{
					"hp": int64(100),
				},
			},
			want: map[string]interface{}{
				"position": Vec2{X: 50, Y: 10},
				"tags":     []interface{}{"solid", "pushable"},
				"meta": map[string]interface{}{
					"hp": int64(100),
				},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Encode(tt.in)
			require.NoError(t, err)

			got, err := Decode(b)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// Re-encoding a decoded value must reproduce the exact wire bytes, so dirty
// detection can compare encoded forms.
func TestEncodeIsCanonical(t *testing.T) {
	values := []interface{}{
		true,
		int64(99),
		2.5,
		"hello",
		Vec2{X: -1.5, Y: 8},
		Color{R: 1, G: 2, B: 3, A: 4},
		Rect{X: 0, Y: 0, W: 32, H: 32},
		[]interface{}{int64(1), int64(2), int64(3)},
		map[string]interface{}{"b": "bee", "a": "ay", "v": Vec2{X: 1, Y: 2}},
	}
	for _, v := range values {
		first, err := Encode(v)
		require.NoError(t, err)

		decoded, err := Decode(first)
		require.NoError(t, err)

		second, err := Encode(decoded)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	}
}

func TestEncodeUnsupportedType(t *testing.T) {
	type handle struct{ fd int }

	_, err := Encode(handle{fd: 3})
	require.Error(t, err)
	assert.True(t, IsUnsupportedType(err))

	_, err = Encode(func() {})
	require.Error(t, err)
	assert.True(t, IsUnsupportedType(err))
}

func TestDecodeRejectsUnknownTag(t *testing.T) {
	_, err := Decode([]byte(`{"t":"exec","v":"rm -rf"}`))
	require.Error(t, err)
}
