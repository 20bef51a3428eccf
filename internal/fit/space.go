package fit

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/banshee-data/ddmfit/internal/ddm"
)

// Dimension names accepted in a parameter space.
const (
	DimD        = "d"
	DimTheta    = "theta"
	DimStd      = "std"
	DimBias     = "bias"
	DimStdRatio = "std_ratio"
)

const (
	// maxValuesPerParam limits the number of values a single dimension may
	// expand to.
	maxValuesPerParam = 10000

	// maxCombos limits the size of a cartesian product.
	maxCombos = 100000

	// minPositive is the smallest value allowed for dimensions that must be
	// strictly positive.
	minPositive = 1e-9
)

// ErrInvalidSpace is returned for malformed or inconsistent parameter spaces.
var ErrInvalidSpace = errors.New("invalid parameter space")

// Dimension is one searchable parameter with its candidate values and the
// closed domain that narrowed values are clamped to.
type Dimension struct {
	Name   string    `json:"name"`
	Values []float64 `json:"values"`
	Min    float64   `json:"min"`
	Max    float64   `json:"max"`
}

// Fixed reports whether the dimension holds a single value. Fixed
// dimensions are never narrowed.
func (d Dimension) Fixed() bool {
	return len(d.Values) == 1
}

// Domain returns the admissible interval for a dimension name.
func Domain(name string) (lo, hi float64, err error) {
	switch name {
	case DimD:
		return 0, math.Inf(1), nil
	case DimTheta:
		return 0, 1, nil
	case DimStd, DimStdRatio:
		return minPositive, math.Inf(1), nil
	case DimBias:
		return math.Inf(-1), math.Inf(1), nil
	}
	return 0, 0, fmt.Errorf("%w: unknown dimension %q", ErrInvalidSpace, name)
}

// NewDimension returns a dimension with the default domain for name.
func NewDimension(name string, values []float64) (Dimension, error) {
	lo, hi, err := Domain(name)
	if err != nil {
		return Dimension{}, err
	}
	if len(values) == 0 {
		return Dimension{}, fmt.Errorf("%w: dimension %q has no values", ErrInvalidSpace, name)
	}
	if len(values) > maxValuesPerParam {
		return Dimension{}, fmt.Errorf("%w: dimension %q has %d values, limit %d", ErrInvalidSpace, name, len(values), maxValuesPerParam)
	}
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < lo || v > hi {
			return Dimension{}, fmt.Errorf("%w: %s=%v outside [%v, %v]", ErrInvalidSpace, name, v, lo, hi)
		}
	}
	return Dimension{Name: name, Values: append([]float64(nil), values...), Min: lo, Max: hi}, nil
}

// ParseDimension parses "name=spec", where spec is either "min:max:step" or
// a comma-separated list of values.
func ParseDimension(s string) (Dimension, error) {
	name, spec, ok := strings.Cut(s, "=")
	if !ok {
		return Dimension{}, fmt.Errorf("%w: %q: expected name=values", ErrInvalidSpace, s)
	}
	values, err := ParseParamList(strings.TrimSpace(spec))
	if err != nil {
		return Dimension{}, fmt.Errorf("dimension %q: %w", name, err)
	}
	return NewDimension(strings.TrimSpace(name), values)
}

// RangeSpec defines an inclusive floating-point range.
type RangeSpec struct {
	Min  float64
	Max  float64
	Step float64
}

// ParseRangeSpec parses a "min:max:step" string into a RangeSpec.
func ParseRangeSpec(s string) (RangeSpec, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return RangeSpec{}, fmt.Errorf("invalid range format %q: expected min:max:step", s)
	}

	min, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return RangeSpec{}, fmt.Errorf("invalid min value %q: %w", parts[0], err)
	}
	max, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return RangeSpec{}, fmt.Errorf("invalid max value %q: %w", parts[1], err)
	}
	step, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
	if err != nil {
		return RangeSpec{}, fmt.Errorf("invalid step value %q: %w", parts[2], err)
	}

	if step <= 0 {
		return RangeSpec{}, fmt.Errorf("step must be positive, got %g", step)
	}
	if min > max {
		return RangeSpec{}, fmt.Errorf("min %g exceeds max %g", min, max)
	}
	return RangeSpec{Min: min, Max: max, Step: step}, nil
}

// GenerateRange returns min, min+step, ... up to max inclusive. Values are
// computed by multiplication rather than accumulation so long ranges of
// small steps stay on the lattice.
func GenerateRange(min, max, step float64) []float64 {
	if step <= 0 || min > max {
		return nil
	}
	n := int(math.Floor((max-min)/step+1e-9)) + 1
	if n > maxValuesPerParam || n < 0 {
		return nil
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = min + float64(i)*step
	}
	return out
}

// ParseParamList parses either a "min:max:step" range or comma-separated
// values.
func ParseParamList(s string) ([]float64, error) {
	if s == "" {
		return nil, nil
	}
	if strings.Contains(s, ":") {
		spec, err := ParseRangeSpec(s)
		if err != nil {
			return nil, err
		}
		values := GenerateRange(spec.Min, spec.Max, spec.Step)
		if values == nil {
			return nil, fmt.Errorf("range %q expands beyond %d values", s, maxValuesPerParam)
		}
		return values, nil
	}
	return ParseCSVFloat64s(s)
}

// ParseCSVFloat64s parses a comma-separated list of floats.
func ParseCSVFloat64s(s string) ([]float64, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid float %q: %w", p, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// ParamSpace is a cartesian product of dimensions. Parameters not covered by
// a dimension take their value from Base.
type ParamSpace struct {
	Dimensions []Dimension `json:"dimensions"`
	Base       ddm.Params  `json:"base"`
}

// Validate checks names, duplicates and the std/std_ratio exclusion.
func (s ParamSpace) Validate() error {
	seen := make(map[string]bool, len(s.Dimensions))
	for _, d := range s.Dimensions {
		if _, _, err := Domain(d.Name); err != nil {
			return err
		}
		if seen[d.Name] {
			return fmt.Errorf("%w: duplicate dimension %q", ErrInvalidSpace, d.Name)
		}
		seen[d.Name] = true
		if len(d.Values) == 0 {
			return fmt.Errorf("%w: dimension %q has no values", ErrInvalidSpace, d.Name)
		}
	}
	if seen[DimStd] && seen[DimStdRatio] {
		return fmt.Errorf("%w: %s and %s are mutually exclusive", ErrInvalidSpace, DimStd, DimStdRatio)
	}
	if seen[DimStdRatio] {
		ds := []float64{s.Base.D}
		if i := s.index(DimD); i >= 0 {
			ds = s.Dimensions[i].Values
		}
		for _, d := range ds {
			if d <= 0 {
				return fmt.Errorf("%w: %s requires d > 0, got %v", ErrInvalidSpace, DimStdRatio, d)
			}
		}
	}
	if _, err := s.Size(); err != nil {
		return err
	}
	return nil
}

func (s ParamSpace) index(name string) int {
	for i, d := range s.Dimensions {
		if d.Name == name {
			return i
		}
	}
	return -1
}

// Size returns the number of points in the space.
func (s ParamSpace) Size() (int, error) {
	total := int64(1)
	for _, d := range s.Dimensions {
		total *= int64(len(d.Values))
		if total > maxCombos || total < 0 {
			return 0, fmt.Errorf("%w: combinations exceed limit of %d", ErrInvalidSpace, maxCombos)
		}
	}
	return int(total), nil
}

// Point is one member of a ParamSpace: the coordinates in dimension order
// and the resulting model parameters.
type Point struct {
	Coords []float64  `json:"coords"`
	Params ddm.Params `json:"params"`
}

// Points expands the cartesian product. The last dimension varies fastest,
// so the order is stable for a given space.
func (s ParamSpace) Points() ([]Point, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	total, _ := s.Size()

	coords := make([][]float64, total)
	for i := range coords {
		coords[i] = make([]float64, len(s.Dimensions))
	}
	repeat := 1
	for dim := len(s.Dimensions) - 1; dim >= 0; dim-- {
		values := s.Dimensions[dim].Values
		cycle := len(values)
		for i := 0; i < total; i++ {
			coords[i][dim] = values[(i/repeat)%cycle]
		}
		repeat *= cycle
	}

	out := make([]Point, total)
	for i, c := range coords {
		out[i] = Point{Coords: c, Params: s.params(c)}
	}
	return out, nil
}

// params applies coordinates to the base parameters. A std_ratio coordinate
// is applied after d so that std tracks the drift scale.
func (s ParamSpace) params(coords []float64) ddm.Params {
	p := s.Base
	ratio, hasRatio := 0.0, false
	for i, d := range s.Dimensions {
		v := coords[i]
		switch d.Name {
		case DimD:
			p.D = v
		case DimTheta:
			p.Theta = v
		case DimStd:
			p.Std = v
		case DimBias:
			p.Bias = v
		case DimStdRatio:
			ratio, hasRatio = v, true
		}
	}
	if hasRatio {
		p.Std = ratio * p.D
	}
	return p
}
