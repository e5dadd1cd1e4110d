// Package codec converts attribute values to and from a transmissible
// representation. The value set is a fixed whitelist: booleans, integers,
// floats, strings, ordered sequences, string-keyed mappings, and the engine
// value types Vec2, Color, and Rect. Decoding never executes code: every
// wire value is a tagged JSON node and unknown tags are rejected.
package codec

import (
	"encoding/json"
	"fmt"
)

// Vec2 is a 2D vector engine value.
type Vec2 struct {
	X float64
	Y float64
}

// Color is an RGBA color engine value.
type Color struct {
	R uint8
	G uint8
	B uint8
	A uint8
}

// Rect is an axis-aligned rectangle engine value.
type Rect struct {
	X float64
	Y float64
	W float64
	H float64
}

// ErrUnsupportedType is returned when a value is outside the codec whitelist.
type ErrUnsupportedType struct {
	Value interface{}
}

func (e *ErrUnsupportedType) Error() string {
	return fmt.Sprintf("unsupported value type: %T", e.Value)
}

// IsUnsupportedType reports whether err is an ErrUnsupportedType.
func IsUnsupportedType(err error) bool {
	_, ok := err.(*ErrUnsupportedType)
	return ok
}

// Value type tags on the wire.
const (
	tagNil    = "nil"
	tagBool   = "bool"
	tagInt    = "int"
	tagNum    = "num"
	tagString = "str"
	tagList   = "list"
	tagMap    = "map"
	tagVec2   = "vec2"
	tagColor  = "rgba"
	tagRect   = "rect"
)

type node struct {
	T string          `json:"t"`
	V json.RawMessage `json:"v,omitempty"`
}

// Encode converts a whitelisted value into its wire representation.
func Encode(v interface{}) ([]byte, error) {
	n, err := toNode(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(n)
}

// Decode converts a wire representation back into a value. Integers decode
// as int64 and floats as float64, regardless of the width they had before
// encoding.
func Decode(b []byte) (interface{}, error) {
	n := &node{}
	if err := json.Unmarshal(b, n); err != nil {
		return nil, fmt.Errorf("failed to unmarshal value node: %v", err)
	}
	return fromNode(n)
}

func toNode(v interface{}) (*node, error) {
	switch val := v.(type) {
	case nil:
		return &node{T: tagNil}, nil
	case bool:
		return marshalNode(tagBool, val)
	case int:
		return marshalNode(tagInt, int64(val))
	case int8:
		return marshalNode(tagInt, int64(val))
	case int16:
		return marshalNode(tagInt, int64(val))
	case int32:
		return marshalNode(tagInt, int64(val))
	case int64:
		return marshalNode(tagInt, val)
	case uint8:
		return marshalNode(tagInt, int64(val))
	case uint16:
		return marshalNode(tagInt, int64(val))
	case uint32:
		return marshalNode(tagInt, int64(val))
	case float32:
		return marshalNode(tagNum, float64(val))
	case float64:
		return marshalNode(tagNum, val)
	case string:
		return marshalNode(tagString, val)
	case []interface{}:
		items := make([]*node, 0, len(val))
		for _, item := range val {
			n, err := toNode(item)
			if err != nil {
				return nil, err
			}
			items = append(items, n)
		}
		return marshalNode(tagList, items)
	case map[string]interface{}:
		entries := make(map[string]*node, len(val))
		for k, item := range val {
			n, err := toNode(item)
			if err != nil {
				return nil, err
			}
			entries[k] = n
		}
		return marshalNode(tagMap, entries)
	case Vec2:
		return marshalNode(tagVec2, [2]float64{val.X, val.Y})
	case Color:
		return marshalNode(tagColor, [4]uint8{val.R, val.G, val.B, val.A})
	case Rect:
		return marshalNode(tagRect, [4]float64{val.X, val.Y, val.W, val.H})
	default:
		return nil, &ErrUnsupportedType{Value: v}
	}
}

func marshalNode(tag string, v interface{}) (*node, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s node: %v", tag, err)
	}
	return &node{T: tag, V: b}, nil
}

func fromNode(n *node) (interface{}, error) {
	switch n.T {
	case tagNil:
		return nil, nil
	case tagBool:
		var v bool
		return v, unmarshalNode(n, &v)
	case tagInt:
		var v int64
		return v, unmarshalNode(n, &v)
	case tagNum:
		var v float64
		return v, unmarshalNode(n, &v)
	case tagString:
		var v string
		return v, unmarshalNode(n, &v)
	case tagList:
		var items []*node
		if err := unmarshalNode(n, &items); err != nil {
			return nil, err
		}
		out := make([]interface{}, 0, len(items))
		for _, item := range items {
			v, err := fromNode(item)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case tagMap:
		var entries map[string]*node
		if err := unmarshalNode(n, &entries); err != nil {
			return nil, err
		}
		out := make(map[string]interface{}, len(entries))
		for k, item := range entries {
			v, err := fromNode(item)
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
		return out, nil
	case tagVec2:
		var v [2]float64
		if err := unmarshalNode(n, &v); err != nil {
			return nil, err
		}
		return Vec2{X: v[0], Y: v[1]}, nil
	case tagColor:
		var v [4]uint8
		if err := unmarshalNode(n, &v); err != nil {
			return nil, err
		}
		return Color{R: v[0], G: v[1], B: v[2], A: v[3]}, nil
	case tagRect:
		var v [4]float64
		if err := unmarshalNode(n, &v); err != nil {
			return nil, err
		}
		return Rect{X: v[0], Y: v[1], W: v[2], H: v[3]}, nil
	default:
		return nil, fmt.Errorf("unknown value tag: %q", n.T)
	}
}

func unmarshalNode(n *node, out interface{}) error {
	if err := json.Unmarshal(n.V, out); err != nil {
		return fmt.Errorf("failed to unmarshal %s node: %v", n.T, err)
	}
	return nil
}
