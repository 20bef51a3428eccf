package report

import (
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// Series is a labelled curve to draw.
type Series struct {
	Label string
	Curve Curve
}

type errorPoints struct {
	plotter.XYs
	plotter.YErrors
}

// PlotCurves draws curves with standard-error bars and saves the figure to
// path. The image format follows the file extension.
func PlotCurves(path, title, yLabel string, series ...Series) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Value difference"
	p.Y.Label.Text = yLabel
	p.Legend.Top = true
	p.Legend.Left = true

	colors := generateColors(len(series))
	for i, s := range series {
		pts := errorPoints{}
		for _, pt := range s.Curve {
			if pt.N == 0 {
				continue
			}
			pts.XYs = append(pts.XYs, plotter.XY{X: float64(pt.ValueDiff), Y: pt.Mean})
			pts.YErrors = append(pts.YErrors, struct{ Low, High float64 }{pt.StdErr, pt.StdErr})
		}
		if len(pts.XYs) == 0 {
			continue
		}

		line, points, err := plotter.NewLinePoints(pts.XYs)
		if err != nil {
			return fmt.Errorf("series %q: %w", s.Label, err)
		}
		line.Color = colors[i]
		line.Width = vg.Points(1.5)
		points.Color = colors[i]

		bars, err := plotter.NewYErrorBars(pts)
		if err != nil {
			return fmt.Errorf("series %q error bars: %w", s.Label, err)
		}
		bars.Color = colors[i]

		p.Add(line, points, bars)
		p.Legend.Add(s.Label, line, points)
	}

	if err := p.Save(8*vg.Inch, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

// generateColors spreads n hues around the colour wheel.
func generateColors(n int) []color.Color {
	colors := make([]color.Color, n)
	for i := 0; i < n; i++ {
		r, g, b := hslToRGB(float64(i)/float64(n), 0.7, 0.45)
		colors[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return colors
}

func hslToRGB(h, s, l float64) (r, g, b uint8) {
	var q float64
	if l < 0.5 {
		q = l * (1 + s)
	} else {
		q = l + s - l*s
	}
	p := 2*l - q
	return toByte(hueToRGB(p, q, h+1.0/3)), toByte(hueToRGB(p, q, h)), toByte(hueToRGB(p, q, h-1.0/3))
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t++
	}
	if t > 1 {
		t--
	}
	switch {
	case t < 1.0/6:
		return p + (q-p)*6*t
	case t < 0.5:
		return q
	case t < 2.0/3:
		return p + (q-p)*(2.0/3-t)*6
	}
	return p
}

func toByte(v float64) uint8 {
	return uint8(v*255 + 0.5)
}
