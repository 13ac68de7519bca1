package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
)

const (
	chartWidth  = 1024
	chartHeight = 512
)

var sliceColors = []drawing.Color{
	drawing.ColorFromHex("ff6384"),
	drawing.ColorFromHex("36a2eb"),
	drawing.ColorFromHex("ffce56"),
	drawing.ColorFromHex("4bc0c0"),
	drawing.ColorFromHex("9966ff"),
}

// exportCharts writes one PNG per chart into dir and returns the written paths. Charts without
// any positive value are skipped.
func exportCharts(dir string, set ChartSeriesSet, scope ScopeFilter) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create chart dir: %w", err)
	}
	written := []string{}

	if seriesMax(set.Trend) > 0 {
		path := filepath.Join(dir, "trend.png")
		if err := writeChart(path, trendChart(trendTitle(scope), set.Trend)); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	pies := []struct {
		name   string
		title  string
		points []SeriesPoint
	}{
		{"scopes.png", "Emissions by Scope", set.Scopes},
		{"business_units.png", "Emissions by Unit", set.BusinessUnits},
	}
	for _, pie := range pies {
		if seriesMax(pie.points) <= 0 {
			continue
		}
		path := filepath.Join(dir, pie.name)
		if err := writeChart(path, pieChart(pie.title, pie.points)); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	return written, nil
}

type renderable interface {
	Render(rp chart.RendererProvider, w io.Writer) error
}

func writeChart(path string, graph renderable) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := graph.Render(chart.PNG, file); err != nil {
		_ = file.Close()
		return fmt.Errorf("render %s: %w", filepath.Base(path), err)
	}
	return file.Close()
}

func trendChart(title string, points []SeriesPoint) chart.Chart {
	xs := make([]float64, 0, len(points))
	ys := make([]float64, 0, len(points))
	ticks := make([]chart.Tick, 0, len(points))
	for i, point := range points {
		xs = append(xs, float64(i))
		ys = append(ys, point.Value)
		ticks = append(ticks, chart.Tick{Value: float64(i), Label: point.Label})
	}
	// a single month still needs an x range
	if len(xs) == 1 {
		xs = append(xs, 1)
		ys = append(ys, ys[0])
		ticks = append(ticks, chart.Tick{Value: 1})
	}
	return chart.Chart{
		Title:      title,
		Width:      chartWidth,
		Height:     chartHeight,
		Background: chart.Style{Padding: chart.Box{Top: 50, Left: 20, Right: 20, Bottom: 20}},
		XAxis:      chart.XAxis{Ticks: ticks},
		YAxis:      chart.YAxis{Name: emissionsUnit, Range: &chart.ContinuousRange{Min: 0, Max: seriesMax(points) * 1.1}},
		Series: []chart.Series{
			chart.ContinuousSeries{
				Name:    "Emissions",
				XValues: xs,
				YValues: ys,
				Style: chart.Style{
					StrokeColor: sliceColors[3],
					StrokeWidth: 2,
					DotColor:    sliceColors[3],
					DotWidth:    4,
				},
			},
		},
	}
}

func pieChart(title string, points []SeriesPoint) chart.PieChart {
	values := make([]chart.Value, 0, len(points))
	for i, point := range points {
		if point.Value <= 0 {
			continue
		}
		values = append(values, chart.Value{
			Label: point.Label,
			Value: point.Value,
			Style: chart.Style{FillColor: sliceColors[i%len(sliceColors)]},
		})
	}
	return chart.PieChart{
		Title:  title,
		Width:  chartHeight,
		Height: chartHeight,
		Values: values,
	}
}
