package store

import (
	"fmt"
	"math"

	"github.com/fhs/go-netcdf/netcdf"
)

// Variable is a NetCDF variable read into float64 values in row-major order.
type Variable struct {
	Name  string
	Dims  []string // Dimension names, outermost first.
	Shape []int
	Data  []float64
}

// Len returns the number of values in the variable.
func (v *Variable) Len() int {
	return len(v.Data)
}

// ReadVariable reads a numeric variable of any rank. Values equal to
// _FillValue or missing_value become NaN.
func ReadVariable(ds netcdf.Dataset, name string) (*Variable, error) {
	v, err := ds.Var(name)
	if err != nil {
		return nil, fmt.Errorf("variable %q: %w", name, err)
	}

	dims, err := v.Dims()
	if err != nil {
		return nil, fmt.Errorf("failed to get dimensions of %q: %w", name, err)
	}
	out := &Variable{Name: name, Dims: make([]string, len(dims)), Shape: make([]int, len(dims))}
	total := 1
	for i, d := range dims {
		if out.Dims[i], err = d.Name(); err != nil {
			return nil, fmt.Errorf("failed to get dimension name of %q: %w", name, err)
		}
		n, err := d.Len()
		if err != nil {
			return nil, fmt.Errorf("failed to get dimension length of %q: %w", name, err)
		}
		out.Shape[i] = int(n)
		total *= int(n)
	}

	if out.Data, err = readFloat64s(v, total); err != nil {
		return nil, fmt.Errorf("failed to read %q: %w", name, err)
	}
	if fv, ok := fillValue(v); ok {
		for i, x := range out.Data {
			if x == fv {
				out.Data[i] = math.NaN()
			}
		}
	}
	return out, nil
}

// Has reports whether the dataset declares name as a variable or a dimension.
func Has(ds netcdf.Dataset, name string) bool {
	if _, err := ds.Var(name); err == nil {
		return true
	}
	if _, err := ds.Dim(name); err == nil {
		return true
	}
	return false
}

func readFloat64s(v netcdf.Var, total int) ([]float64, error) {
	t, err := v.Type()
	if err != nil {
		return nil, fmt.Errorf("failed to get var type: %w", err)
	}
	switch t {
	case netcdf.DOUBLE:
		data := make([]float64, total)
		if err := v.ReadFloat64s(data); err != nil {
			return nil, err
		}
		return data, nil
	case netcdf.FLOAT:
		tmp := make([]float32, total)
		if err := v.ReadFloat32s(tmp); err != nil {
			return nil, err
		}
		out := make([]float64, total)
		for i, val := range tmp {
			out[i] = float64(val)
		}
		return out, nil
	case netcdf.INT:
		tmp := make([]int32, total)
		if err := v.ReadInt32s(tmp); err != nil {
			return nil, err
		}
		out := make([]float64, total)
		for i, val := range tmp {
			out[i] = float64(val)
		}
		return out, nil
	case netcdf.SHORT:
		tmp := make([]int16, total)
		if err := v.ReadInt16s(tmp); err != nil {
			return nil, err
		}
		out := make([]float64, total)
		for i, val := range tmp {
			out[i] = float64(val)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported var type: %v", t)
	}
}

// fillValue returns the _FillValue or missing_value attribute if present as float64.
func fillValue(v netcdf.Var) (float64, bool) {
	for _, name := range []string{"_FillValue", "missing_value"} {
		a := v.Attr(name)
		if a == (netcdf.Attr{}) {
			continue
		}
		if n, err := a.Len(); err == nil && n > 0 {
			buf64 := make([]float64, 1)
			if err := a.ReadFloat64s(buf64); err == nil {
				return buf64[0], true
			}
			buf32 := make([]float32, 1)
			if err := a.ReadFloat32s(buf32); err == nil {
				return float64(buf32[0]), true
			}
			bufi := make([]int32, 1)
			if err := a.ReadInt32s(bufi); err == nil {
				return float64(bufi[0]), true
			}
		}
	}
	return 0, false
}
