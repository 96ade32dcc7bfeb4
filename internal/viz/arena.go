// Package viz renders run artifacts: a PNG of the arena with the planned
// trajectory and an HTML chart of the live bearing.
package viz

import (
	"fmt"
	"image/color"
	"io"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/supplybot/internal/geometry"
	"github.com/banshee-data/supplybot/internal/trajectory"
	"github.com/banshee-data/supplybot/internal/waypoint"
)

var (
	nodeColor   = color.RGBA{R: 90, G: 90, B: 90, A: 255}
	homeColor   = color.RGBA{R: 30, G: 120, B: 220, A: 255}
	originColor = color.RGBA{R: 0, G: 0, B: 0, A: 255}
	pathColor   = color.RGBA{R: 220, G: 60, B: 40, A: 255}
)

// arenaSize is the edge length of the rendered arena image.
const arenaSize = 8 * vg.Inch

func xy(p geometry.Point) plotter.XY { return plotter.XY{X: p.X, Y: p.Y} }

// ArenaPlot builds the arena plot. Every ordered node is labelled with its
// 1-based index and the trajectory is drawn from the priority stop through
// home. Image rows grow downward, so the Y axis is inverted.
func ArenaPlot(seq *waypoint.Sequence, traj *trajectory.Trajectory) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = "Arena"
	p.X.Label.Text = "x (px)"
	p.Y.Label.Text = "y (px)"
	p.Y.Scale = plot.InvertedScale{Normalizer: p.Y.Scale}
	p.Add(plotter.NewGrid())

	nodes := seq.Nodes()
	pts := make(plotter.XYs, 0, len(nodes))
	labels := make([]string, 0, len(nodes))
	for i, n := range nodes {
		pts = append(pts, xy(n.Position))
		labels = append(labels, fmt.Sprintf("%d", i+1))
	}

	scatter, err := plotter.NewScatter(pts)
	if err != nil {
		return nil, err
	}
	scatter.GlyphStyle.Color = nodeColor
	scatter.GlyphStyle.Radius = vg.Points(3)
	scatter.GlyphStyle.Shape = draw.CircleGlyph{}
	p.Add(scatter)
	p.Legend.Add("waypoint", scatter)

	lbls, err := plotter.NewLabels(plotter.XYLabels{XYs: pts, Labels: labels})
	if err != nil {
		return nil, err
	}
	for i := range lbls.TextStyle {
		lbls.TextStyle[i].XAlign = draw.XCenter
	}
	lbls.Offset = vg.Point{Y: vg.Points(6)}
	p.Add(lbls)

	home, err := plotter.NewScatter(plotter.XYs{xy(seq.Home().Position)})
	if err != nil {
		return nil, err
	}
	home.GlyphStyle.Color = homeColor
	home.GlyphStyle.Radius = vg.Points(5)
	home.GlyphStyle.Shape = draw.BoxGlyph{}
	p.Add(home)
	p.Legend.Add("home", home)

	origin, err := plotter.NewScatter(plotter.XYs{xy(seq.Origin())})
	if err != nil {
		return nil, err
	}
	origin.GlyphStyle.Color = originColor
	origin.GlyphStyle.Radius = vg.Points(4)
	origin.GlyphStyle.Shape = draw.CrossGlyph{}
	p.Add(origin)
	p.Legend.Add("origin", origin)

	route := make(plotter.XYs, 0, traj.Len())
	for _, s := range traj.Stops() {
		route = append(route, xy(s.Target()))
	}
	line, err := plotter.NewLine(route)
	if err != nil {
		return nil, err
	}
	line.Color = pathColor
	line.Width = vg.Points(1.5)
	line.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	p.Add(line)
	p.Legend.Add("trajectory", line)

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

// WriteArena renders the arena plot as PNG to w.
func WriteArena(w io.Writer, seq *waypoint.Sequence, traj *trajectory.Trajectory) error {
	p, err := ArenaPlot(seq, traj)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(arenaSize, arenaSize, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}

// SaveArena writes arena.png into dir and returns its path.
func SaveArena(dir string, seq *waypoint.Sequence, traj *trajectory.Trajectory) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create plot directory: %w", err)
	}
	p, err := ArenaPlot(seq, traj)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, "arena.png")
	if err := p.Save(arenaSize, arenaSize, path); err != nil {
		return "", fmt.Errorf("failed to save arena plot: %w", err)
	}
	return path, nil
}
