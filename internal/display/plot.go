package display

import (
	"fmt"
	"image/color"
	"math"
	"os"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

var plotColors = []color.Color{
	color.RGBA{R: 57, G: 106, B: 177, A: 255},
	color.RGBA{R: 218, G: 124, B: 48, A: 255},
	color.RGBA{R: 62, G: 150, B: 81, A: 255},
	color.RGBA{R: 204, G: 37, B: 41, A: 255},
}

type PlotOptions struct {
	SamplingInterval float64 // seconds
	SecondsBefore    float64
	SecondsAfter     float64
	Width            vg.Length
	Height           vg.Length
}

// xyForColumn places the newest value at x=0 and older ones at negative
// seconds. NaN readings are dropped.
func xyForColumn(values []float64, interval float64) plotter.XYs {
	pts := make(plotter.XYs, 0, len(values))
	n := len(values)
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		pts = append(pts, plotter.XY{X: -float64(n-1-i) * interval, Y: v})
	}
	return pts
}

// SavePlot writes a PNG with one plot per board, side by side, of the given
// display window.
func SavePlot(path string, panels []Panel, columns [][]float64, opts PlotOptions) error {
	if len(panels) == 0 {
		return fmt.Errorf("nothing to plot")
	}
	if opts.Width == 0 {
		opts.Width = vg.Length(len(panels)) * 6 * vg.Inch
	}
	if opts.Height == 0 {
		opts.Height = 4 * vg.Inch
	}

	row := make([]*plot.Plot, len(panels))
	offset := 0
	for j, panel := range panels {
		p := plot.New()
		p.Title.Text = panel.Title
		p.X.Label.Text = "time (s)"
		p.X.Min = -opts.SecondsAfter
		p.X.Max = opts.SecondsBefore
		p.Add(plotter.NewGrid())

		for i, name := range panel.Columns {
			idx := offset + i
			if idx >= len(columns) {
				break
			}
			pts := xyForColumn(columns[idx], opts.SamplingInterval)
			if len(pts) == 0 {
				continue
			}
			line, err := plotter.NewLine(pts)
			if err != nil {
				return fmt.Errorf("plotting %s: %w", name, err)
			}
			line.LineStyle.Width = vg.Points(1.5)
			line.LineStyle.Color = plotColors[i%len(plotColors)]
			p.Add(line)
			p.Legend.Add(name, line)
		}
		p.Legend.Top = true
		row[j] = p
		offset += len(panel.Columns)
	}

	img := vgimg.New(opts.Width, opts.Height)
	dc := draw.New(img)
	tiles := draw.Tiles{Rows: 1, Cols: len(panels), PadX: vg.Millimeter, PadY: vg.Millimeter}
	canvases := plot.Align([][]*plot.Plot{row}, tiles, dc)
	for j, p := range row {
		p.Draw(canvases[0][j])
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating plot file %s: %w", path, err)
	}
	png := vgimg.PngCanvas{Canvas: img}
	if _, err := png.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("writing plot file %s: %w", path, err)
	}
	return f.Close()
}
