package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/ddmfit/internal/fit"
)

// PosteriorChart renders the final posterior as an HTML bar chart, one bar
// per model.
func PosteriorChart(w io.Writer, post *fit.Posterior, subtitle string) error {
	page := components.NewPage()
	page.PageTitle = "Model posterior"
	page.AddCharts(posteriorBar(post, subtitle))
	return page.Render(w)
}

// PosteriorReport renders the final posterior and, when trace is non-empty,
// the probability of every model after each trial.
func PosteriorReport(w io.Writer, post *fit.Posterior, trace [][]float64, subtitle string) error {
	page := components.NewPage()
	page.PageTitle = "Model posterior"
	page.AddCharts(posteriorBar(post, subtitle))
	if len(trace) > 0 {
		page.AddCharts(posteriorTrace(post, trace))
	}
	return page.Render(w)
}

func modelLabel(i int, post *fit.Posterior) string {
	m := post.Models[i]
	return fmt.Sprintf("d=%g θ=%g σ=%g", m.D, m.Theta, m.Std)
}

func posteriorBar(post *fit.Posterior, subtitle string) *charts.Bar {
	x := make([]string, len(post.Models))
	y := make([]opts.BarData, len(post.Probs))
	for i, p := range post.Probs {
		x[i] = modelLabel(i, post)
		y[i] = opts.BarData{Value: p}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Posterior over models", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "P(model | data)", Min: 0, Max: 1}),
	)
	bar.SetXAxis(x).AddSeries("posterior", y)
	return bar
}

func posteriorTrace(post *fit.Posterior, trace [][]float64) *charts.Line {
	x := make([]string, len(trace))
	for i := range trace {
		x[i] = strconv.Itoa(i + 1)
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Posterior by trial"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Trial"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Probability", Min: 0, Max: 1}),
	)
	line.SetXAxis(x)
	for m := range post.Models {
		data := make([]opts.LineData, len(trace))
		for t, probs := range trace {
			data[t] = opts.LineData{Value: probs[m]}
		}
		line.AddSeries(modelLabel(m, post), data)
	}
	return line
}
