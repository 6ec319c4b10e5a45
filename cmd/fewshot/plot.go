package main

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/Noofbiz/fewshot/matching"
)

// plotAccuracy writes a histogram of per-episode accuracies.
func plotAccuracy(path, title string, results []matching.Result) error {
	if len(results) == 0 {
		return fmt.Errorf("no results to plot")
	}
	values := make(plotter.Values, len(results))
	for i, r := range results {
		values[i] = r.Accuracy
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "accuracy"
	p.Y.Label.Text = "episodes"

	hist, err := plotter.NewHist(values, 20)
	if err != nil {
		return err
	}
	hist.FillColor = color.RGBA{R: 20, G: 80, B: 200, A: 200}
	hist.LineStyle.Width = vg.Points(0.5)
	p.Add(hist)
	p.Add(plotter.NewGrid())
	p.X.Min = 0
	p.X.Max = 1

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return p.Save(8*vg.Inch, 5*vg.Inch, path)
}
