package hostsim

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/ha1tch/sqlext/pkg/errors"
	"github.com/ha1tch/sqlext/pkg/param"
	"github.com/ha1tch/sqlext/pkg/sqltype"
)

// ParseParam parses a parameter written as name:TYPE=value or name:TYPE.
//
// TYPE is a catalog or SQL type name and may carry a size, as in
// NVARCHAR(20) or DECIMAL(10,2). With a value the parameter is input-output;
// without one it is an output parameter starting as null. The literal NULL
// gives a null input.
func ParseParam(s string) (Param, error) {
	var p Param
	spec, value, hasValue := strings.Cut(s, "=")
	name, typeName, ok := strings.Cut(spec, ":")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return p, errors.InvalidArgument("parameter %q: expected name:TYPE=value", s).WithOp("HostSim.ParseParam").Err()
	}
	if !strings.HasPrefix(name, "@") {
		name = "@" + name
	}
	p.Name = name

	typ, err := sqltype.ParseName(typeName)
	if err != nil {
		return p, err
	}
	p.Type = typ
	if err := parseSize(&p, typeName); err != nil {
		return p, err
	}

	if !hasValue {
		p.Direction = param.Output
		return p, nil
	}
	p.Direction = param.InputOutput
	if strings.EqualFold(strings.TrimSpace(value), "NULL") {
		return p, nil
	}
	if p.Value, err = Coerce(typ, value); err != nil {
		return p, err
	}
	if p.Size == 0 {
		switch {
		case sqltype.IsString(typ):
			p.Size = uint64(max(utf8.RuneCountInString(value), 1))
		case typ == sqltype.Binary:
			p.Size = uint64(max(len(value), 1))
		}
	}
	return p, nil
}

// parseSize reads "(n)" or "(p,s)" from a type name.
func parseSize(p *Param, typeName string) error {
	open := strings.IndexByte(typeName, '(')
	if open < 0 {
		return nil
	}
	end := strings.IndexByte(typeName, ')')
	if end < open {
		return errors.InvalidArgument("bad type size in %q", typeName).WithOp("HostSim.ParseParam").Err()
	}
	parts := strings.Split(typeName[open+1:end], ",")
	if strings.EqualFold(strings.TrimSpace(parts[0]), "MAX") {
		return nil
	}
	size, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 32)
	if err != nil {
		return errors.Wrapf(err, errors.ErrCodeInvalidArgument, "bad type size in %q", typeName).
			WithOp("HostSim.ParseParam").Err()
	}
	p.Size = size
	if len(parts) > 1 {
		digits, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 16)
		if err != nil {
			return errors.Wrapf(err, errors.ErrCodeInvalidArgument, "bad type scale in %q", typeName).
				WithOp("HostSim.ParseParam").Err()
		}
		p.DecimalDigits = int16(digits)
	}
	return nil
}
