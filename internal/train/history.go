package train

import (
	"fmt"
	"os"

	"go.uber.org/multierr"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

// EpochRecord is the state of a run at the first iteration of an epoch.
type EpochRecord struct {
	Epoch        int
	Iteration    int
	BatchTime    float64
	BatchTimeAvg float64
	NFEForward   float64
	NFEBackward  float64
	TrainAcc     float64
	TestAcc      float64
	Loss         float64
	LR           float64
}

// History collects the per-epoch records and batch timings of a run.
type History struct {
	RunID      string
	Records    []EpochRecord
	BatchTimes []float64
}

// Best returns the record with the highest test accuracy. Ties keep the
// earliest epoch.
func (h *History) Best() (EpochRecord, bool) {
	if h == nil || len(h.Records) == 0 {
		return EpochRecord{}, false
	}
	best := h.Records[0]
	for _, r := range h.Records[1:] {
		if r.TestAcc > best.TestAcc {
			best = r
		}
	}
	return best, true
}

const (
	plotWidth  = 10 * vg.Inch
	plotHeight = 4 * vg.Inch
)

// PlotHistory writes a PNG with two panels: train/test accuracy and
// forward/backward NFE against epoch.
func PlotHistory(h *History, path string) (err error) {
	if h == nil || len(h.Records) == 0 {
		return fmt.Errorf("plot: empty history")
	}
	train := make(plotter.XYs, len(h.Records))
	test := make(plotter.XYs, len(h.Records))
	nfeF := make(plotter.XYs, len(h.Records))
	nfeB := make(plotter.XYs, len(h.Records))
	for i, r := range h.Records {
		x := float64(r.Epoch)
		train[i] = plotter.XY{X: x, Y: r.TrainAcc}
		test[i] = plotter.XY{X: x, Y: r.TestAcc}
		nfeF[i] = plotter.XY{X: x, Y: r.NFEForward}
		nfeB[i] = plotter.XY{X: x, Y: r.NFEBackward}
	}

	acc := plot.New()
	acc.Title.Text = "Accuracy"
	acc.X.Label.Text = "epoch"
	acc.Y.Min, acc.Y.Max = 0, 1
	if err := plotutil.AddLinePoints(acc, "train", train, "test", test); err != nil {
		return fmt.Errorf("plot: %w", err)
	}

	nfe := plot.New()
	nfe.Title.Text = "NFE"
	nfe.X.Label.Text = "epoch"
	if err := plotutil.AddLinePoints(nfe, "forward", nfeF, "backward", nfeB); err != nil {
		return fmt.Errorf("plot: %w", err)
	}

	img := vgimg.New(plotWidth, plotHeight)
	dc := draw.New(img)
	tiles := draw.Tiles{
		Rows: 1,
		Cols: 2,
		PadX: vg.Millimeter,
		PadY: vg.Millimeter,

		PadTop:    vg.Points(2),
		PadBottom: vg.Points(2),
		PadLeft:   vg.Points(2),
		PadRight:  vg.Points(2),
	}
	canvases := plot.Align([][]*plot.Plot{{acc, nfe}}, tiles, dc)
	acc.Draw(canvases[0][0])
	nfe.Draw(canvases[0][1])

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("plot: %w", err)
	}
	defer func() { err = multierr.Combine(err, f.Close()) }()

	png := vgimg.PngCanvas{Canvas: img}
	if _, err := png.WriteTo(f); err != nil {
		return fmt.Errorf("plot: %w", err)
	}
	return nil
}
