package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
)

// FloatKey is the single key of the object that stands in for a non-finite
// float on the wire: {"$float":"NaN"}, {"$float":"Infinity"} or
// {"$float":"-Infinity"}.
const FloatKey = "$float"

// EncodeValue returns v with every non-finite float replaced by its
// sentinel object so that it can be marshaled as JSON.
func EncodeValue(v any) any {
	switch x := v.(type) {
	case float64:
		return encodeFloat(x)
	case float32:
		return encodeFloat(float64(x))
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = EncodeValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = EncodeValue(e)
		}
		return out
	}
	return v
}

func encodeFloat(f float64) any {
	switch {
	case math.IsNaN(f):
		return map[string]any{FloatKey: "NaN"}
	case math.IsInf(f, 1):
		return map[string]any{FloatKey: "Infinity"}
	case math.IsInf(f, -1):
		return map[string]any{FloatKey: "-Infinity"}
	}
	return f
}

// DecodeValue parses one JSON document into a language-neutral value.
// Numbers stay json.Number so integers keep their precision, and float
// sentinel objects become real NaN or infinite float64 values.
func DecodeValue(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data after value", ErrInvalidValue)
	}
	return decodeFloats(v), nil
}

func decodeFloats(v any) any {
	switch x := v.(type) {
	case []any:
		for i, e := range x {
			x[i] = decodeFloats(e)
		}
		return x
	case map[string]any:
		if len(x) == 1 {
			if s, ok := x[FloatKey].(string); ok {
				switch s {
				case "NaN":
					return math.NaN()
				case "Infinity":
					return math.Inf(1)
				case "-Infinity":
					return math.Inf(-1)
				}
			}
		}
		for k, e := range x {
			x[k] = decodeFloats(e)
		}
		return x
	}
	return v
}
