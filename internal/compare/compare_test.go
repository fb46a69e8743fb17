package compare

import (
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/felixgeelhaar/drillgrade/internal/domain"
)

func ordered(v any) domain.Expectation {
	return domain.Expectation{Mode: domain.CompareOrdered, Value: v}
}

func TestEqual_Ordered(t *testing.T) {
	tests := []struct {
		name   string
		exp    any
		actual any
		want   bool
	}{
		{"same list", []any{1, 2, 3, 4}, []any{json.Number("1"), json.Number("2"), json.Number("3"), json.Number("4")}, true},
		{"order matters", []any{1, 2, 3}, []any{3, 2, 1}, false},
		{"different element", []any{1, 2, 3, 4}, []any{1, 2, 3, 5}, false},
		{"different length", []any{1, 2}, []any{1, 2, 3}, false},
		{"int equals float", 5, 5.0, true},
		{"json float", 5, json.Number("5.0"), true},
		{"map key order irrelevant", map[string]any{"a": 1, "b": 2}, map[string]any{"b": 2, "a": 1}, true},
		{"yaml map", map[any]any{"a": 1}, map[string]any{"a": json.Number("1")}, true},
		{"nested", map[string]any{"xs": []any{"a", true, nil}}, map[string]any{"xs": []any{"a", true, nil}}, true},
		{"typed slice", []any{1, 2}, []int{1, 2}, true},
		{"string vs number", "1", 1, false},
		{"nil vs empty list", nil, []any{}, false},
		{"large integers", int64(math.MaxInt64), json.Number("9223372036854775807"), true},
		{"large integers differ", int64(math.MaxInt64), json.Number("9223372036854775806"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Equal(ordered(tt.exp), tt.actual); got != tt.want {
				t.Errorf("Equal(%v, %v) = %v; want %v", tt.exp, tt.actual, got, tt.want)
			}
		})
	}
}

func TestEqual_NaNNeverEqual(t *testing.T) {
	if Values(math.NaN(), math.NaN()) {
		t.Error("NaN should not equal NaN under ordered comparison")
	}

	exp := domain.Expectation{Mode: domain.CompareNaN}
	if !Equal(exp, math.NaN()) {
		t.Error("nan mode should accept NaN")
	}
	if Equal(exp, 1.0) {
		t.Error("nan mode should reject 1.0")
	}
	if Equal(exp, "NaN") {
		t.Error("nan mode should reject the string NaN")
	}
}

func TestEqual_Unordered(t *testing.T) {
	exp := domain.Expectation{Mode: domain.CompareUnordered, Value: []any{1, 2, 2, 3}}

	tests := []struct {
		name   string
		actual any
		want   bool
	}{
		{"permutation", []any{2, 3, 1, 2}, true},
		{"multiset counts", []any{1, 2, 3, 3}, false},
		{"missing element", []any{1, 2, 3}, false},
		{"not a list", 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Equal(exp, tt.actual); got != tt.want {
				t.Errorf("Equal(%v) = %v; want %v", tt.actual, got, tt.want)
			}
		})
	}
}

func TestEqual_AnyOfAndNone(t *testing.T) {
	anyOf := domain.Expectation{Mode: domain.CompareAnyOf, Value: []any{"a", "b"}}
	if !Equal(anyOf, "b") {
		t.Error("any_of should accept a listed value")
	}
	if Equal(anyOf, "c") {
		t.Error("any_of should reject an unlisted value")
	}

	none := domain.Expectation{Mode: domain.CompareNone}
	if !Equal(none, nil) {
		t.Error("none should accept anything")
	}
}

func TestDescribe(t *testing.T) {
	diags := Describe(ordered([]any{1, 2, 3, 4}), []any{1, 2, 3, 5})

	want := []string{"expected: [1,2,3,4]", "actual: [1,2,3,5]", "first difference at $[3]"}
	if len(diags) != len(want) {
		t.Fatalf("Describe() = %q; want %q", diags, want)
	}
	for i := range want {
		if diags[i] != want[i] {
			t.Errorf("diags[%d] = %q; want %q", i, diags[i], want[i])
		}
	}
}

func TestDescribe_MapPath(t *testing.T) {
	diags := Describe(ordered(map[string]any{"a": 1, "b": 2}), map[string]any{"a": 1, "b": 3})
	last := diags[len(diags)-1]
	if !strings.Contains(last, "$.b") {
		t.Errorf("Describe() last diagnostic = %q; want path $.b", last)
	}
}

func TestFormat_NonFinite(t *testing.T) {
	if got := Format(math.Inf(-1)); got != `{"$float":"-Infinity"}` {
		t.Errorf("Format(-Inf) = %s", got)
	}
	if got := Format(map[string]any{"b": 1, "a": "x"}); got != `{"a":"x","b":1}` {
		t.Errorf("Format(map) = %s", got)
	}
}
