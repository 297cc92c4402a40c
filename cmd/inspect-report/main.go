package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/coupling-works/inspect.station/internal/db"
	"github.com/coupling-works/inspect.station/internal/pipeline"
)

var (
	dbPath = flag.String("db", "inspections.db", "Station database to read")
	out    = flag.String("out", "inspect-report.html", "Output HTML file")
	window = flag.Duration("window", 24*time.Hour, "How far back to report")
)

// stageSeries maps chart series names to timing fields.
var stageSeries = []struct {
	name string
	get  func(pipeline.Timings) float64
}{
	{"capture", func(t pipeline.Timings) float64 { return t.CaptureMs }},
	{"classify", func(t pipeline.Timings) float64 { return t.ClassifyMs }},
	{"detect parts", func(t pipeline.Timings) float64 { return t.DetectPartsMs }},
	{"detect defects", func(t pipeline.Timings) float64 { return t.DetectDefectsMs }},
	{"segment defects", func(t pipeline.Timings) float64 { return t.SegmentDefectsMs }},
	{"segment parts", func(t pipeline.Timings) float64 { return t.SegmentPartsMs }},
	{"total", func(t pipeline.Timings) float64 { return t.TotalMs }},
}

func main() {
	flag.Parse()

	database, err := db.OpenDB(*dbPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer database.Close()

	since := time.Now().Add(-*window)
	timings, err := database.StageTimings(since)
	if err != nil {
		log.Fatalf("failed to read stage timings: %v", err)
	}
	if len(timings) == 0 {
		log.Fatalf("no inspections since %s", since.Format(time.RFC3339))
	}

	stats, err := database.Stats()
	if err != nil {
		log.Fatalf("failed to read stats: %v", err)
	}

	page := components.NewPage()
	page.AddCharts(timelineChart(timings, since), meanChart(timings))

	f, err := os.Create(*out)
	if err != nil {
		log.Fatalf("failed to create output file: %v", err)
	}
	defer f.Close()

	if err := page.Render(f); err != nil {
		log.Fatalf("failed to render report: %v", err)
	}
	log.Printf("wrote %s: %d runs in window, %d total recorded, %d with stage errors",
		*out, len(timings), stats.Count, stats.WithErrors)
}

// timelineChart plots per-stage latency across every run in the window.
func timelineChart(timings []db.StageTiming, since time.Time) components.Charter {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Inspection Station Report", Width: "1200px", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Stage latency",
			Subtitle: fmt.Sprintf("since %s, %d runs", since.Format(time.RFC3339), len(timings)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "ms"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)

	axis := make([]string, len(timings))
	for i, st := range timings {
		axis[i] = st.StartedAt.Format("15:04:05")
	}
	line.SetXAxis(axis)

	for _, s := range stageSeries {
		data := make([]opts.LineData, len(timings))
		for i, st := range timings {
			data[i] = opts.LineData{Value: s.get(st.Timings)}
		}
		line.AddSeries(s.name, data)
	}
	return line
}

// meanChart summarises mean latency per stage over the window.
func meanChart(timings []db.StageTiming) components.Charter {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "1200px", Height: "400px"}),
		charts.WithTitleOpts(opts.Title{Title: "Mean stage latency"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "ms"}),
	)

	names := make([]string, len(stageSeries))
	data := make([]opts.BarData, len(stageSeries))
	for i, s := range stageSeries {
		names[i] = s.name
		sum := 0.0
		for _, st := range timings {
			sum += s.get(st.Timings)
		}
		data[i] = opts.BarData{Value: sum / float64(len(timings))}
	}
	bar.SetXAxis(names).AddSeries("mean", data)
	return bar
}
