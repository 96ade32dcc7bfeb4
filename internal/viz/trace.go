package viz

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/supplybot/internal/navigation"
)

// BearingTrace collects ticks of a session and renders them as an HTML
// chart. It implements navigation.Recorder.
type BearingTrace struct {
	cfg navigation.Config

	mu    sync.Mutex
	ticks []navigation.Tick
}

// NewBearingTrace returns an empty trace. cfg supplies the threshold lines.
func NewBearingTrace(cfg navigation.Config) *BearingTrace {
	return &BearingTrace{cfg: cfg}
}

// RecordTick appends t.
func (b *BearingTrace) RecordTick(t navigation.Tick) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ticks = append(b.ticks, t)
}

// Len returns the number of recorded ticks.
func (b *BearingTrace) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.ticks)
}

func (b *BearingTrace) bearingChart(ticks []navigation.Tick) *charts.Line {
	xs := make([]string, 0, len(ticks))
	bearing := make([]opts.LineData, 0, len(ticks))
	target := make([]opts.LineData, 0, len(ticks))
	for _, t := range ticks {
		xs = append(xs, strconv.Itoa(t.Seq))
		if t.Snapshot.State == navigation.StateDone || t.Snapshot.State == navigation.StateFinished {
			// the bearing is not measured once the run is complete
			bearing = append(bearing, opts.LineData{Value: "-"})
		} else {
			bearing = append(bearing, opts.LineData{Value: t.Bearing})
		}
		target = append(target, opts.LineData{Value: t.Target + 1})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Supply bot run", Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Bearing to target",
			Subtitle: fmt.Sprintf("ticks=%d reset<%.2f° coin<%.2f°", len(ticks), b.cfg.ResetThresholdDeg, b.cfg.CoinThresholdDeg),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "tick", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "degrees", Min: 0, Max: 180}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", Start: 0, End: 100}),
	)
	line.SetXAxis(xs).
		AddSeries("bearing", bearing,
			charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
			charts.WithMarkLineNameYAxisItemOpts(
				opts.MarkLineNameYAxisItem{Name: "reset", YAxis: b.cfg.ResetThresholdDeg},
				opts.MarkLineNameYAxisItem{Name: "coin", YAxis: b.cfg.CoinThresholdDeg},
			),
		).
		AddSeries("target stop", target,
			charts.WithLineChartOpts(opts.LineChart{Step: "end", ShowSymbol: opts.Bool(false)}),
		)
	return line
}

func commandChart(ticks []navigation.Tick) *charts.Bar {
	order := []navigation.Command{
		navigation.CommandMove,
		navigation.CommandReset,
		navigation.CommandStop,
		navigation.CommandLongBeep,
	}
	counts := make(map[navigation.Command]int, len(order))
	for _, t := range ticks {
		for _, c := range t.Commands {
			counts[c]++
		}
	}
	names := make([]string, 0, len(order))
	data := make([]opts.BarData, 0, len(order))
	for _, c := range order {
		names = append(names, c.String())
		data = append(data, opts.BarData{Value: counts[c]})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "320px"}),
		charts.WithTitleOpts(opts.Title{Title: "Commands per tick loop", Subtitle: "excludes the start command"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(names).AddSeries("commands", data,
		charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
	)
	return bar
}

// Render writes the trace page to w.
func (b *BearingTrace) Render(w io.Writer) error {
	b.mu.Lock()
	ticks := make([]navigation.Tick, len(b.ticks))
	copy(ticks, b.ticks)
	b.mu.Unlock()

	page := components.NewPage()
	page.PageTitle = "Supply bot run"
	page.AddCharts(b.bearingChart(ticks), commandChart(ticks))
	return page.Render(w)
}

// Save writes bearing.html into dir and returns its path.
func (b *BearingTrace) Save(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create plot directory: %w", err)
	}
	path := filepath.Join(dir, "bearing.html")
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := b.Render(f); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to render bearing trace: %w", err)
	}
	return path, f.Close()
}
