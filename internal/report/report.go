// Package report renders nested cross-validation results for people: text
// summaries and plots of optimizer traces.
package report

import (
	"fmt"
	"io"
	"math"
	"text/tabwriter"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/copyleftdev/nestedcv/internal/errors"
	"github.com/copyleftdev/nestedcv/internal/optimization"
	"github.com/copyleftdev/nestedcv/internal/tuning"
)

// Summary writes one line per outer fold with the configuration that was
// used and its held-out score, followed by the nested cross-validation
// estimate.
func Summary(w io.Writer, r *tuning.Report) error {
	if r == nil {
		return errors.New(errors.ErrInvalidConfiguration, "nil report").WithComponent("report")
	}

	if _, err := fmt.Fprintf(w, "== %s ==\n", r.Name); err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "fold\ttrain\ttest\tinner\theld-out\tdropped\tconfiguration")
	for _, f := range r.Folds {
		cfg := f.Best.String()
		if cfg == "" {
			cfg = "(defaults)"
		}
		fmt.Fprintf(tw, "%d\t%d\t%d\t%s\t%.4f\t%d\t%s\n",
			f.Fold, f.TrainSize, f.TestSize, number(f.InnerScore), f.Score, f.Dropped, cfg)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "nested CV score: %.4f (std %s over %d folds)\n",
		r.Score, number(r.StdDev), len(r.Folds))
	return err
}

// Compare writes the estimates of several reports side by side, in order.
func Compare(w io.Writer, reports ...*tuning.Report) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "run\tscore\tstd")
	for _, r := range reports {
		if r == nil {
			continue
		}
		fmt.Fprintf(tw, "%s\t%.4f\t%s\n", r.Name, r.Score, number(r.StdDev))
	}
	return tw.Flush()
}

func number(v float64) string {
	if math.IsNaN(v) {
		return "-"
	}
	return fmt.Sprintf("%.4f", v)
}

// PlotTrace draws the score of every evaluation of trace and the running
// best, and saves the plot to path. The format follows the extension of
// path (png, svg, pdf, ...). Dropped evaluations are left out.
func PlotTrace(trace []optimization.Evaluation, title, path string) error {
	scores, best := traceSeries(trace)
	if len(scores) == 0 {
		return errors.New(errors.ErrNoValidConfiguration, "trace has no scored evaluations").
			WithComponent("report").WithOperation("PlotTrace")
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "evaluation"
	p.Y.Label.Text = "score"
	p.Add(plotter.NewGrid())

	points, err := plotter.NewScatter(scores)
	if err != nil {
		return errors.Wrap(err, errors.ErrInvalidConfiguration, "scatter")
	}
	points.GlyphStyle.Radius = vg.Points(2)

	line, err := plotter.NewLine(best)
	if err != nil {
		return errors.Wrap(err, errors.ErrInvalidConfiguration, "running best")
	}
	line.LineStyle.Width = vg.Points(1.5)

	p.Add(points, line)
	p.Legend.Add("score", points)
	p.Legend.Add("best so far", line)
	p.Legend.Top = true

	if err := p.Save(6*vg.Inch, 4*vg.Inch, path); err != nil {
		return errors.Wrapf(err, errors.ErrInvalidConfiguration, "save %s", path)
	}
	return nil
}

// traceSeries returns the scored evaluations as (index, score) points and
// the running minimum at each of them.
func traceSeries(trace []optimization.Evaluation) (plotter.XYs, plotter.XYs) {
	scores := make(plotter.XYs, 0, len(trace))
	best := make(plotter.XYs, 0, len(trace))
	running := math.Inf(1)
	for _, ev := range trace {
		if !ev.OK() || math.IsNaN(ev.Score) || math.IsInf(ev.Score, 0) {
			continue
		}
		running = math.Min(running, ev.Score)
		x := float64(ev.Index)
		scores = append(scores, plotter.XY{X: x, Y: ev.Score})
		best = append(best, plotter.XY{X: x, Y: running})
	}
	return scores, best
}
