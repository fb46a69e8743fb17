// Package compare decides whether a value produced by a submission equals a
// problem's expected value.
package compare

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"

	"github.com/felixgeelhaar/drillgrade/internal/domain"
)

// Equal applies the expectation's compare mode to actual.
func Equal(exp domain.Expectation, actual any) bool {
	switch exp.Mode {
	case domain.CompareNone:
		return true
	case domain.CompareNaN:
		f, ok := Normalize(actual).(float64)
		return ok && math.IsNaN(f)
	case domain.CompareUnordered:
		return unordered(Normalize(exp.Value), Normalize(actual))
	case domain.CompareAnyOf:
		options, ok := Normalize(exp.Value).([]any)
		if !ok {
			return false
		}
		a := Normalize(actual)
		for _, o := range options {
			if equal(o, a) {
				return true
			}
		}
		return false
	default:
		return Values(exp.Value, actual)
	}
}

// Values is ordered deep equality of two language-neutral values. Integers
// and floats with the same numeric value are equal, mapping key order is
// irrelevant and NaN never equals anything.
func Values(a, b any) bool {
	return equal(Normalize(a), Normalize(b))
}

// Normalize converts a decoded value into the canonical shapes used for
// comparison: nil, bool, string, int64 or float64 numbers, []any and
// map[string]any. Catalog YAML, decoded JSON and in-process runtimes all
// produce slightly different Go types for the same value.
func Normalize(v any) any {
	switch x := v.(type) {
	case nil, bool, string, int64, float64:
		return x
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := strconv.ParseFloat(x.String(), 64); err == nil {
			return f
		}
		return x.String()
	case int:
		return int64(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = Normalize(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = Normalize(e)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[fmt.Sprint(k)] = Normalize(e)
		}
		return out
	}
	return normalizeReflect(reflect.ValueOf(v))
}

func normalizeReflect(v reflect.Value) any {
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := v.Uint()
		if u <= math.MaxInt64 {
			return int64(u)
		}
		return float64(u)
	case reflect.Float32, reflect.Float64:
		return v.Float()
	case reflect.Bool:
		return v.Bool()
	case reflect.String:
		return v.String()
	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.IsNil() {
			return nil
		}
		out := make([]any, v.Len())
		for i := range out {
			out[i] = Normalize(v.Index(i).Interface())
		}
		return out
	case reflect.Map:
		if v.IsNil() {
			return nil
		}
		out := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out[fmt.Sprint(iter.Key().Interface())] = Normalize(iter.Value().Interface())
		}
		return out
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return Normalize(v.Elem().Interface())
	}
	return fmt.Sprint(v.Interface())
}

func equal(a, b any) bool {
	if an, ok := number(a); ok {
		bn, ok := number(b)
		return ok && an.equal(bn)
	}

	switch x := a.(type) {
	case nil:
		return b == nil
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case string:
		y, ok := b.(string)
		return ok && x == y
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		y, ok := b.(map[string]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, xv := range x {
			yv, ok := y[k]
			if !ok || !equal(xv, yv) {
				return false
			}
		}
		return true
	}
	return false
}

// unordered compares top-level sequences as multisets. Anything that is
// not a pair of sequences falls back to ordered equality.
func unordered(a, b any) bool {
	x, ok := a.([]any)
	if !ok {
		return equal(a, b)
	}
	y, ok := b.([]any)
	if !ok || len(x) != len(y) {
		return false
	}

	used := make([]bool, len(y))
	for _, xv := range x {
		found := false
		for j, yv := range y {
			if !used[j] && equal(xv, yv) {
				used[j] = true
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

type numeric struct {
	i     int64
	f     float64
	isInt bool
}

func number(v any) (numeric, bool) {
	switch x := v.(type) {
	case int64:
		return numeric{i: x, f: float64(x), isInt: true}, true
	case float64:
		return numeric{f: x}, true
	}
	return numeric{}, false
}

func (n numeric) equal(o numeric) bool {
	if n.isInt && o.isInt {
		return n.i == o.i
	}
	return n.f == o.f
}

// Format renders a value for diagnostics as compact JSON with sorted keys.
func Format(v any) string {
	data, err := json.Marshal(domain.EncodeValue(Normalize(v)))
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// Describe explains why actual does not satisfy exp.
func Describe(exp domain.Expectation, actual any) []string {
	switch exp.Mode {
	case domain.CompareNaN:
		return []string{"expected: NaN", "actual: " + Format(actual)}
	case domain.CompareAnyOf:
		return []string{"expected one of: " + Format(exp.Value), "actual: " + Format(actual)}
	case domain.CompareUnordered:
		return []string{"expected (any order): " + Format(exp.Value), "actual: " + Format(actual)}
	}

	diags := []string{"expected: " + Format(exp.Value), "actual: " + Format(actual)}
	if path := firstDifference(Normalize(exp.Value), Normalize(actual), "$"); path != "" && path != "$" {
		diags = append(diags, "first difference at "+path)
	}
	return diags
}

func firstDifference(a, b any, path string) string {
	switch x := a.(type) {
	case []any:
		y, ok := b.([]any)
		if !ok {
			return path
		}
		for i := 0; i < len(x) && i < len(y); i++ {
			if !equal(x[i], y[i]) {
				return firstDifference(x[i], y[i], fmt.Sprintf("%s[%d]", path, i))
			}
		}
		if len(x) != len(y) {
			return fmt.Sprintf("%s[%d]", path, min(len(x), len(y)))
		}
		return ""
	case map[string]any:
		y, ok := b.(map[string]any)
		if !ok {
			return path
		}
		keys := make([]string, 0, len(x)+len(y))
		for k := range x {
			keys = append(keys, k)
		}
		for k := range y {
			if _, ok := x[k]; !ok {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			if !equal(x[k], y[k]) {
				return firstDifference(x[k], y[k], path+"."+k)
			}
		}
		return ""
	}
	if equal(a, b) {
		return ""
	}
	return path
}

// Decode parses a JSON-encoded value as produced by the sandboxes.
func Decode(data []byte) (any, error) {
	return domain.DecodeValue(data)
}
