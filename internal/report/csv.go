package report

import (
	"encoding/csv"
	"io"
	"strconv"
)

func formatStat(v float64, n int) string {
	if n == 0 {
		return ""
	}
	return strconv.FormatFloat(v, 'f', 6, 64)
}

func writeCurve(w io.Writer, meanCol string, c Curve) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"value_diff", meanCol, "std_err", "n"}); err != nil {
		return err
	}
	for _, p := range c {
		row := []string{
			strconv.Itoa(p.ValueDiff),
			formatStat(p.Mean, p.N),
			formatStat(p.StdErr, p.N),
			strconv.Itoa(p.N),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteChoiceCSV writes a choice curve. Empty bins have blank statistics.
func WriteChoiceCSV(w io.Writer, c Curve) error {
	return writeCurve(w, "prob_left", c)
}

// WriteRTCSV writes a reaction-time curve.
func WriteRTCSV(w io.Writer, c Curve) error {
	return writeCurve(w, "mean_rt", c)
}

// WriteGroupedCSV writes a grouped choice curve with left and right columns
// side by side.
func WriteGroupedCSV(w io.Writer, g Grouped) error {
	cw := csv.NewWriter(w)
	header := []string{"value_diff", "prob_left_given_left", "std_err_left", "n_left", "prob_left_given_right", "std_err_right", "n_right"}
	if err := cw.Write(header); err != nil {
		return err
	}
	for i := range g.Left {
		l, r := g.Left[i], g.Right[i]
		row := []string{
			strconv.Itoa(l.ValueDiff),
			formatStat(l.Mean, l.N),
			formatStat(l.StdErr, l.N),
			strconv.Itoa(l.N),
			formatStat(r.Mean, r.N),
			formatStat(r.StdErr, r.N),
			strconv.Itoa(r.N),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
