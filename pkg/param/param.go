// Package param holds the scalar parameters of one session.
//
// Parameters arrive one at a time in wire form, are exposed to the executor
// as a name-keyed map, and are read back from that map after execution to
// produce the output values.
package param

import (
	"github.com/ha1tch/sqlext/pkg/arena"
	"github.com/ha1tch/sqlext/pkg/errors"
	"github.com/ha1tch/sqlext/pkg/sdk"
	"github.com/ha1tch/sqlext/pkg/sqltype"
	"github.com/ha1tch/sqlext/pkg/wire"
)

// Direction is the ODBC parameter direction.
type Direction int16

const (
	Input       Direction = 1 // SQL_PARAM_INPUT
	InputOutput Direction = 2 // SQL_PARAM_INPUT_OUTPUT
	Output      Direction = 4 // SQL_PARAM_OUTPUT
)

func (d Direction) String() string {
	switch d {
	case Input:
		return "input"
	case InputOutput:
		return "input-output"
	case Output:
		return "output"
	default:
		return "unknown"
	}
}

// IsOutput reports whether the engine reads the parameter back.
func (d Direction) IsOutput() bool {
	return d == InputOutput || d == Output
}

// Param is one declared scalar parameter.
type Param struct {
	Ordinal       int
	Name          string
	Type          sqltype.Type
	Size          uint64
	DecimalDigits int16
	Direction     Direction

	// Value is the decoded input value, or nil for a null.
	Value any
	// Length is the wire length indicator the value arrived with.
	Length int32
}

// Container holds the declared parameters of a session.
type Container struct {
	params []*Param
	values sdk.Params
}

// NewContainer returns a container for count parameters.
func NewContainer(count int) *Container {
	return &Container{
		params: make([]*Param, count),
		values: make(sdk.Params, count),
	}
}

// Count returns the declared parameter count.
func (c *Container) Count() int { return len(c.params) }

// Add decodes one parameter. A null (length sqltype.NullData) is recorded
// on the parameter but does not enter the executor's map.
func (c *Container) Add(ordinal int, name string, typ sqltype.Type, size uint64, decimalDigits int16,
	raw []byte, length int32, dir Direction) error {
	if name == "" {
		return errors.InvalidArgument("parameter %d has no name", ordinal).WithOp("Param.Add").Err()
	}
	if ordinal < 0 || ordinal >= len(c.params) {
		return errors.InvalidArgument("invalid parameter ordinal %d of %d", ordinal, len(c.params)).
			WithOp("Param.Add").WithField("name", name).Err()
	}

	p := &Param{
		Ordinal:       ordinal,
		Name:          name,
		Type:          typ,
		Size:          size,
		DecimalDigits: decimalDigits,
		Direction:     dir,
		Length:        length,
	}
	var v any
	if length != sqltype.NullData {
		var err error
		if v, err = wire.DecodeValue(typ, raw, length); err != nil {
			return errors.Wrapf(err, errors.GetCode(err), "parameter %s", name).WithOp("Param.Add").Err()
		}
	}

	if prev := c.params[ordinal]; prev != nil {
		delete(c.values, prev.Name)
	}
	p.Value = v
	c.params[ordinal] = p
	if v == nil {
		delete(c.values, name)
		return nil
	}
	c.values[name] = v
	return nil
}

// Get returns the parameter declared at ordinal, or nil.
func (c *Container) Get(ordinal int) *Param {
	if ordinal < 0 || ordinal >= len(c.params) {
		return nil
	}
	return c.params[ordinal]
}

// Missing returns the ordinals that were never added.
func (c *Container) Missing() []int {
	var out []int
	for i, p := range c.params {
		if p == nil {
			out = append(out, i)
		}
	}
	return out
}

// Params returns the executor-visible map. Executors write output values
// into it under the parameter's name.
func (c *Container) Params() sdk.Params { return c.values }

// Resolve encodes the current map value of the parameter at ordinal into
// the arena. An absent or nil value yields (nil, sqltype.NullData). A
// declared size of 0 leaves strings untruncated.
//
// Fixed-width values report their natural width. Strings report
// min(encoded bytes, declared size in bytes); WCHAR sizes are characters and
// count two bytes each. The returned buffer is truncated to that length, but
// an empty string still gets a buffer of one code unit.
func (c *Container) Resolve(a *arena.Arena, ordinal int) ([]byte, int32, error) {
	p := c.Get(ordinal)
	if p == nil {
		return nil, 0, errors.InvalidArgument("invalid parameter ordinal %d", ordinal).
			WithOp("Param.Resolve").Err()
	}
	v, ok := c.values[p.Name]
	if !ok || v == nil {
		return nil, sqltype.NullData, nil
	}

	enc, err := wire.EncodeValue(p.Type, v, p.Size, p.DecimalDigits)
	if err != nil {
		return nil, 0, errors.Wrapf(err, errors.GetCode(err), "parameter %s", p.Name).
			WithOp("Param.Resolve").Err()
	}

	length := len(enc)
	if sqltype.IsVariable(p.Type) {
		limit := int(p.Size) * sqltype.Unit(p.Type)
		if p.Size > 0 && length > limit {
			length = limit
		}
	}

	alloc := length
	if alloc == 0 {
		alloc = max(sqltype.Unit(p.Type), 1)
	}
	buf, err := a.Bytes(alloc)
	if err != nil {
		return nil, 0, err
	}
	copy(buf, enc[:length])
	return buf[:length:alloc], int32(length), nil
}
