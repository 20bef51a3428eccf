// Package report summarises observed and simulated trials as psychometric
// and chronometric curves, and renders them to CSV, PNG and HTML.
package report

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/ddmfit/internal/dataset"
	"github.com/banshee-data/ddmfit/internal/ddm"
)

// Value differences run from MinDiff to MaxDiff inclusive.
const (
	MinDiff = -3
	MaxDiff = 3
)

// diffTolerance is how far a value difference may sit from an integer and
// still be binned.
const diffTolerance = 1e-9

// Point is one bin of a curve.
type Point struct {
	ValueDiff int     `json:"value_diff"`
	Mean      float64 `json:"mean"`
	StdErr    float64 `json:"std_err"`
	N         int     `json:"n"`
}

// Curve has one point per value difference. Bins with no trials have N == 0
// and NaN statistics.
type Curve []Point

func bin(t ddm.Trial) (int, bool) {
	diff := t.ValueLeft - t.ValueRight
	if math.Abs(diff-math.Round(diff)) > diffTolerance {
		return 0, false
	}
	d := dataset.ValueDiff(t)
	if d < MinDiff || d > MaxDiff {
		return 0, false
	}
	return d - MinDiff, true
}

func newCurve() Curve {
	c := make(Curve, MaxDiff-MinDiff+1)
	for i := range c {
		c[i] = Point{ValueDiff: MinDiff + i, Mean: math.NaN(), StdErr: math.NaN()}
	}
	return c
}

// ChoiceCurve returns P(choose left) per value difference with its binomial
// standard error. Trials whose value difference is not an integer in
// [MinDiff, MaxDiff] are left out of every curve.
func ChoiceCurve(trials []ddm.Trial) Curve {
	return choiceCurve(trials, func(ddm.Trial) bool { return true })
}

func choiceCurve(trials []ddm.Trial, keep func(ddm.Trial) bool) Curve {
	c := newCurve()
	left := make([]int, len(c))
	for _, t := range trials {
		i, ok := bin(t)
		if !ok || !keep(t) {
			continue
		}
		c[i].N++
		if t.Choice == ddm.ChoiceLeft {
			left[i]++
		}
	}
	for i := range c {
		if c[i].N == 0 {
			continue
		}
		n := float64(c[i].N)
		p := float64(left[i]) / n
		c[i].Mean = p
		c[i].StdErr = math.Sqrt(p * (1 - p) / n)
	}
	return c
}

// RTCurve returns the mean reaction time per value difference with the
// standard error of the mean. Trials are binned as in ChoiceCurve.
func RTCurve(trials []ddm.Trial) Curve {
	c := newCurve()
	rts := make([][]float64, len(c))
	for _, t := range trials {
		if i, ok := bin(t); ok {
			rts[i] = append(rts[i], float64(t.RT))
		}
	}
	for i, xs := range rts {
		if len(xs) == 0 {
			continue
		}
		mean, std := stat.PopMeanStdDev(xs, nil)
		c[i].N = len(xs)
		c[i].Mean = mean
		c[i].StdErr = std / math.Sqrt(float64(len(xs)))
	}
	return c
}

// Grouped splits a choice curve by which item a fixation statistic favoured.
type Grouped struct {
	Left  Curve `json:"left"`
	Right Curve `json:"right"`
}

func itemFixations(t ddm.Trial) []ddm.Fixation {
	var out []ddm.Fixation
	for _, f := range t.Fixations {
		if f.Item != ddm.ItemOther {
			out = append(out, f)
		}
	}
	return out
}

func groupBy(trials []ddm.Trial, item func(ddm.Trial) ddm.Item) Grouped {
	return Grouped{
		Left:  choiceCurve(trials, func(t ddm.Trial) bool { return item(t) == ddm.ItemLeft }),
		Right: choiceCurve(trials, func(t ddm.Trial) bool { return item(t) == ddm.ItemRight }),
	}
}

// ByFirstFixation groups choices by the first fixated item.
func ByFirstFixation(trials []ddm.Trial) Grouped {
	return groupBy(trials, func(t ddm.Trial) ddm.Item {
		fs := itemFixations(t)
		if len(fs) == 0 {
			return ddm.ItemOther
		}
		return fs[0].Item
	})
}

// ByLastFixation groups choices by the last fixated item.
func ByLastFixation(trials []ddm.Trial) Grouped {
	return groupBy(trials, func(t ddm.Trial) ddm.Item {
		fs := itemFixations(t)
		if len(fs) == 0 {
			return ddm.ItemOther
		}
		return fs[len(fs)-1].Item
	})
}

// ByMostFixated groups choices by the item with the larger total fixation
// time. Equal totals count as left.
func ByMostFixated(trials []ddm.Trial) Grouped {
	return groupBy(trials, func(t ddm.Trial) ddm.Item {
		var left, right int
		for _, f := range t.Fixations {
			switch f.Item {
			case ddm.ItemLeft:
				left += f.Duration
			case ddm.ItemRight:
				right += f.Duration
			}
		}
		if left >= right {
			return ddm.ItemLeft
		}
		return ddm.ItemRight
	})
}
