// Package wire encodes invocation results for the transport.
//
// Encoding never fails. A result that cannot be serialized is replaced by
// null and the reason is appended to the error text, after which the
// document is encoded again. Reference cycles are detected by bounding the
// nesting depth of the result before it reaches the JSON encoder.
package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"unsafe"
)

// MaxDepth is the deepest nesting a result may have. Anything deeper is
// treated as a reference cycle.
const MaxDepth = 1000

const (
	circularMessage = "Failed to serialize result due to circular references."
	genericPrefix   = "Failed to serialize result: "
)

// ErrCircular reports a result nested deeper than [MaxDepth].
var ErrCircular = errors.New("circular reference")

// Stats carries execution metadata.
type Stats struct {
	ExecutionTimeMillis int64 `json:"executionTimeMillis"`
}

// Response is the document returned for every invocation.
type Response struct {
	Out    string `json:"out"`
	Err    string `json:"err"`
	Result any    `json:"result"`
	Stats  Stats  `json:"stats"`
}

// Unserializable stands in for a result that could not be converted for the
// wire. Encoding it fails with Err, which takes the generic fallback.
type Unserializable struct {
	Err error
}

func (u Unserializable) MarshalJSON() ([]byte, error) {
	return nil, u.Err
}

// Encode serializes r. If r.Result cannot be serialized it is replaced by
// null and a diagnostic is appended to r.Err.
func Encode(r Response) []byte {
	data, err := Marshal(r)
	if err == nil {
		return data
	}

	r.Result = nil
	if errors.Is(err, ErrCircular) {
		r.Err = appendLine(r.Err, circularMessage)
	} else {
		r.Err = appendLine(r.Err, genericPrefix+message(err))
	}
	data, err = Marshal(r)
	if err != nil {
		// Only Result can fail to encode.
		return []byte(`{"out":"","err":"Failed to serialize response","result":null,"stats":{"executionTimeMillis":0}}`)
	}
	return data
}

// Marshal encodes r without fallback. It returns an error wrapping
// [ErrCircular] when the result is nested too deeply.
func Marshal(r Response) ([]byte, error) {
	if err := CheckDepth(r.Result); err != nil {
		return nil, err
	}
	return encode(r)
}

// MarshalValue encodes a single result value with the checks of [Marshal].
func MarshalValue(v any) ([]byte, error) {
	if err := CheckDepth(v); err != nil {
		return nil, err
	}
	return encode(v)
}

func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func appendLine(text, line string) string {
	if text == "" {
		return line
	}
	return text + "\n" + line
}

// message strips the encoder's wrapping from err.
func message(err error) string {
	var me *json.MarshalerError
	if errors.As(err, &me) {
		return me.Unwrap().Error()
	}
	return err.Error()
}

type nodeKey struct {
	ptr unsafe.Pointer
	typ reflect.Type
	n   int
}

type depthChecker struct {
	heights map[nodeKey]int
}

// CheckDepth walks v and fails with [ErrCircular] when it nests deeper than
// [MaxDepth]. Shared subtrees are walked once.
func CheckDepth(v any) error {
	c := &depthChecker{heights: make(map[nodeKey]int)}
	_, err := c.walk(reflect.ValueOf(v), 0)
	return err
}

var marshalerType = reflect.TypeOf((*json.Marshaler)(nil)).Elem()

func (c *depthChecker) walk(v reflect.Value, depth int) (int, error) {
	if depth > MaxDepth {
		return 0, fmt.Errorf("%w: result nests deeper than %d levels", ErrCircular, MaxDepth)
	}
	if !v.IsValid() {
		return 0, nil
	}
	if v.Type().Implements(marshalerType) {
		return 0, nil
	}

	var key nodeKey
	switch v.Kind() {
	case reflect.Map, reflect.Pointer, reflect.Slice:
		if v.IsNil() {
			return 0, nil
		}
		key = nodeKey{ptr: v.UnsafePointer(), typ: v.Type()}
		if v.Kind() == reflect.Slice {
			key.n = v.Len()
		}
		if h, ok := c.heights[key]; ok {
			if depth+h > MaxDepth {
				return 0, fmt.Errorf("%w: result nests deeper than %d levels", ErrCircular, MaxDepth)
			}
			return h, nil
		}
	}

	height := 0
	visit := func(child reflect.Value) error {
		h, err := c.walk(child, depth+1)
		if err != nil {
			return err
		}
		height = max(height, h+1)
		return nil
	}

	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return 0, nil
		}
		h, err := c.walk(v.Elem(), depth)
		if err != nil {
			return 0, err
		}
		height = h
	case reflect.Pointer:
		if err := visit(v.Elem()); err != nil {
			return 0, err
		}
	case reflect.Map:
		iter := v.MapRange()
		for iter.Next() {
			if err := visit(iter.Value()); err != nil {
				return 0, err
			}
		}
	case reflect.Slice, reflect.Array:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			break
		}
		for i := 0; i < v.Len(); i++ {
			if err := visit(v.Index(i)); err != nil {
				return 0, err
			}
		}
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if !v.Type().Field(i).IsExported() {
				continue
			}
			if err := visit(v.Field(i)); err != nil {
				return 0, err
			}
		}
	}

	if key.ptr != nil {
		c.heights[key] = height
	}
	return height, nil
}
