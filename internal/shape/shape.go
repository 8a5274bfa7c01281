// Package shape holds the batch discipline shared by the numeric wrappers:
// paired arguments must agree on their element count, vector arguments are
// flattened triples, and a batch of one is reported as a single value.
package shape

import (
	"encoding/json"
	"fmt"

	"github.com/starford/grandlibs/internal/apperr"
)

// Arg is a named batch argument.
type Arg struct {
	Name   string
	Values []float64
}

// Count returns the common element count of paired arguments. Every
// argument must have the same, non-zero, count; the error names the first
// argument and the one that disagrees with it.
func Count(op string, args ...Arg) (int, error) {
	if len(args) == 0 {
		return 0, apperr.Invalid(op, "no arguments")
	}
	first := args[0]
	n := len(first.Values)
	if n == 0 {
		return 0, apperr.Invalid(op, "must not be empty", first.Name)
	}
	for _, a := range args[1:] {
		if len(a.Values) != n {
			return 0, apperr.Invalid(op,
				fmt.Sprintf("must have the same size (%d != %d)", n, len(a.Values)),
				first.Name, a.Name)
		}
	}
	return n, nil
}

// Triples returns the number of 3-vectors in a flattened argument.
func Triples(op, name string, flat []float64) (int, error) {
	if len(flat) < 3 || len(flat)%3 != 0 {
		return 0, apperr.Invalid(op, fmt.Sprintf("must be n x 3, got %d values", len(flat)), name)
	}
	return len(flat) / 3, nil
}

// Scalars is a batch of scalar results.
type Scalars []float64

// Value returns the bare number for a batch of one and the slice otherwise.
func (s Scalars) Value() any {
	if len(s) == 1 {
		return s[0]
	}
	return []float64(s)
}

// MarshalJSON encodes Value.
func (s Scalars) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Value())
}

// Vectors is a batch of 3-vectors, row i holding the result for input i.
type Vectors [][3]float64

// Value returns the single triple for a batch of one and the n x 3 rows
// otherwise.
func (v Vectors) Value() any {
	if len(v) == 1 {
		return v[0]
	}
	return [][3]float64(v)
}

// MarshalJSON encodes Value.
func (v Vectors) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Value())
}

// Flat returns the rows as one row-major slice.
func (v Vectors) Flat() []float64 {
	out := make([]float64, 0, 3*len(v))
	for _, row := range v {
		out = append(out, row[:]...)
	}
	return out
}

// FromFlat splits a row-major slice into triples. len(flat) must be a
// multiple of 3.
func FromFlat(flat []float64) Vectors {
	out := make(Vectors, len(flat)/3)
	for i := range out {
		copy(out[i][:], flat[3*i:3*i+3])
	}
	return out
}

// Values decodes a JSON number or a (possibly nested) array of numbers into
// one flat slice, so that HTTP and MCP callers can pass a single point, a
// list, or a list of triples.
type Values []float64

// UnmarshalJSON implements json.Unmarshaler.
func (v *Values) UnmarshalJSON(b []byte) error {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out, err := flatten(raw, nil)
	if err != nil {
		return err
	}
	*v = out
	return nil
}

// Flatten converts decoded JSON (numbers and arrays) into a flat slice.
func Flatten(raw any) ([]float64, error) {
	return flatten(raw, nil)
}

func flatten(raw any, out []float64) ([]float64, error) {
	switch x := raw.(type) {
	case nil:
		return out, nil
	case float64:
		return append(out, x), nil
	case []any:
		for _, item := range x {
			var err error
			if out, err = flatten(item, out); err != nil {
				return nil, err
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected a number or an array of numbers, got %T", raw)
	}
}
