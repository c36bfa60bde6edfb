// Package dataset holds the in-memory tables handed to and returned by
// executors: ordered, named, typed columns of equal length with nullable
// cells.
package dataset

import (
	"fmt"
)

// Column is a named vector of nullable cells. Value returns nil for a null
// cell.
type Column interface {
	Name() string
	Len() int
	IsNull(i int) bool
	NullCount() int
	Value(i int) any
	Set(i int, v any) error
	SetNull(i int)
	// Zero returns the zero value of the element type.
	Zero() any
}

// Vector is a Column of element type T.
type Vector[T any] struct {
	name   string
	values []T
	valid  []bool
}

// NewVector returns a vector of n null cells.
func NewVector[T any](name string, n int) *Vector[T] {
	return &Vector[T]{
		name:   name,
		values: make([]T, n),
		valid:  make([]bool, n),
	}
}

// VectorOf returns a vector holding values, none of them null.
func VectorOf[T any](name string, values ...T) *Vector[T] {
	v := &Vector[T]{
		name:   name,
		values: append([]T(nil), values...),
		valid:  make([]bool, len(values)),
	}
	for i := range v.valid {
		v.valid[i] = true
	}
	return v
}

// NullableOf returns a vector built from pointers. A nil pointer is a null cell.
func NullableOf[T any](name string, values ...*T) *Vector[T] {
	v := NewVector[T](name, len(values))
	for i, p := range values {
		if p != nil {
			v.SetValue(i, *p)
		}
	}
	return v
}

func (v *Vector[T]) Name() string { return v.name }
func (v *Vector[T]) Len() int { return len(v.values) }

// Rename returns the vector under a new name, sharing its cells.
func (v *Vector[T]) Rename(name string) *Vector[T] {
	return &Vector[T]{name: name, values: v.values, valid: v.valid}
}

func (v *Vector[T]) IsNull(i int) bool { return !v.valid[i] }

func (v *Vector[T]) NullCount() int {
	n := 0
	for _, ok := range v.valid {
		if !ok {
			n++
		}
	}
	return n
}

// Get returns the cell value and whether it is non-null.
func (v *Vector[T]) Get(i int) (T, bool) {
	return v.values[i], v.valid[i]
}

func (v *Vector[T]) Value(i int) any {
	if !v.valid[i] {
		return nil
	}
	return v.values[i]
}

// Values exposes the backing slice. Null cells hold the zero value.
func (v *Vector[T]) Values() []T { return v.values }

func (v *Vector[T]) SetValue(i int, x T) {
	v.values[i] = x
	v.valid[i] = true
}

func (v *Vector[T]) SetNull(i int) {
	var zero T
	v.values[i] = zero
	v.valid[i] = false
}

// Set stores x, which must be nil or a T.
func (v *Vector[T]) Set(i int, x any) error {
	if x == nil {
		v.SetNull(i)
		return nil
	}
	t, ok := x.(T)
	if !ok {
		return fmt.Errorf("column %s: cannot store %T in %T column", v.name, x, v.Zero())
	}
	v.SetValue(i, t)
	return nil
}

// Append adds a non-null cell.
func (v *Vector[T]) Append(x T) {
	v.values = append(v.values, x)
	v.valid = append(v.valid, true)
}

// AppendNull adds a null cell.
func (v *Vector[T]) AppendNull() {
	var zero T
	v.values = append(v.values, zero)
	v.valid = append(v.valid, false)
}

func (v *Vector[T]) Zero() any {
	var zero T
	return zero
}
