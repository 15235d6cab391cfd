// Command analyze runs the engagement pipeline against a recorded detection
// log and writes the session summary as JSON. Optionally renders the
// engagement timeline to a PNG for quick inspection.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"image/color"
	"log"
	"os"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/mindwatch-data/engagement.report/internal/config"
	"github.com/mindwatch-data/engagement.report/internal/engagement"
)

func main() {
	input := flag.String("i", "", "input detection log path")
	output := flag.String("o", "", "output summary JSON path (default: stdout)")
	plotPath := flag.String("plot", "", "optional output path for timeline PNG")
	configPath := flag.String("config", "", "tuning config JSON (default: bundled defaults)")
	flag.Parse()

	if *input == "" {
		flag.Usage()
		os.Exit(1)
	}

	var tuning *config.TuningConfig
	if *configPath != "" {
		var err error
		tuning, err = config.LoadTuningConfig(*configPath)
		if err != nil {
			log.Fatalf("failed to load tuning config: %v", err)
		}
	} else {
		tuning = config.MustLoadDefaultConfig()
	}

	src, err := engagement.OpenDetectionLog(*input)
	if err != nil {
		log.Fatalf("failed to open detection log: %v", err)
	}
	defer src.Close()

	pipe := engagement.NewPipeline(engagement.PipelineConfigFromTuning(tuning), func(fraction float64) {
		fmt.Fprintf(os.Stderr, "\rprogress: %4.0f%%", fraction*100)
	}, nil)

	summary, err := pipe.RunLog(context.Background(), src)
	fmt.Fprintln(os.Stderr)
	if err != nil && !errors.Is(err, engagement.ErrStreamInterrupted) {
		log.Fatalf("analysis failed: %v", err)
	}
	if errors.Is(err, engagement.ErrStreamInterrupted) {
		log.Printf("stream interrupted; summary is partial: %v", err)
	}

	out := os.Stdout
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			log.Fatalf("failed to create output file: %v", err)
		}
		defer f.Close()
		out = f
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		log.Fatalf("failed to write summary: %v", err)
	}

	if *plotPath != "" {
		if err := plotTimeline(summary, *plotPath); err != nil {
			log.Fatalf("failed to plot timeline: %v", err)
		}
		log.Printf("timeline written to %s", *plotPath)
	}
}

// plotTimeline renders attentive and distracted counts per bucket.
func plotTimeline(summary *engagement.SessionSummary, path string) error {
	if len(summary.Timeline) == 0 {
		return fmt.Errorf("summary has no timeline")
	}

	p := plot.New()
	p.Title.Text = "Engagement Timeline"
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "Detections"

	attentive := make(plotter.XYs, 0, len(summary.Timeline))
	distracted := make(plotter.XYs, 0, len(summary.Timeline))
	for _, b := range summary.Timeline {
		mid := (b.StartSeconds + b.EndSeconds) / 2
		attentive = append(attentive, plotter.XY{X: mid, Y: float64(b.Attentive)})
		distracted = append(distracted, plotter.XY{X: mid, Y: float64(b.Distracted)})
	}

	attentiveLine, err := plotter.NewLine(attentive)
	if err != nil {
		return err
	}
	attentiveLine.Color = color.RGBA{G: 180, A: 255}
	attentiveLine.Width = vg.Points(1.5)

	distractedLine, err := plotter.NewLine(distracted)
	if err != nil {
		return err
	}
	distractedLine.Color = color.RGBA{R: 220, A: 255}
	distractedLine.Width = vg.Points(1.5)

	p.Add(attentiveLine, distractedLine)
	p.Legend.Add("attentive", attentiveLine)
	p.Legend.Add("distracted", distractedLine)

	return p.Save(14*vg.Inch, 6*vg.Inch, path)
}
