// Command gen-detlog generates a synthetic classroom detection log for
// testing replay and the analysis pipeline. Output is deterministic for a
// given seed.
package main

import (
	"flag"
	"log"
	"math/rand"
	"os"

	"github.com/mindwatch-data/engagement.report/internal/engagement"
)

var activities = []engagement.Activity{
	engagement.ActivityListening,
	engagement.ActivityReading,
	engagement.ActivityWriting,
	engagement.ActivitySleeping,
	engagement.ActivityUsingMobile,
	engagement.ActivityTurning,
}

func main() {
	output := flag.String("o", "sample.ndjson", "output path")
	frames := flag.Int("n", 300, "number of frames")
	students := flag.Int("students", 12, "number of students")
	fps := flag.Float64("fps", 30, "frame rate recorded in the header")
	seed := flag.Int64("seed", 1, "random seed")
	dropout := flag.Float64("dropout", 0.05, "per-frame probability a student is missed by the detector")
	flag.Parse()

	f, err := os.Create(*output)
	if err != nil {
		log.Fatalf("failed to create output: %v", err)
	}
	defer f.Close()

	w, err := engagement.NewDetectionLogWriter(f, engagement.DetectionLogHeader{
		Kind:        engagement.SessionKindVideo,
		FPS:         *fps,
		TotalFrames: *frames,
		Source:      "gen-detlog",
	})
	if err != nil {
		log.Fatalf("failed to write header: %v", err)
	}

	rng := rand.New(rand.NewSource(*seed))

	// Seat each student in a loose grid; boxes jitter slightly per frame so
	// IoU matching is exercised without ever crossing seats.
	type student struct {
		baseX, baseY float64
		activity     engagement.Activity
	}
	roster := make([]student, *students)
	for i := range roster {
		roster[i] = student{
			baseX:    float64(i%4)*160 + 40,
			baseY:    float64(i/4)*180 + 60,
			activity: activities[rng.Intn(len(activities))],
		}
	}

	frameNanos := int64(1e9 / *fps)
	for frame := 0; frame < *frames; frame++ {
		var detections []engagement.Detection
		for i := range roster {
			if rng.Float64() < *dropout {
				continue
			}
			// Activities persist for stretches; switch rarely.
			if rng.Float64() < 0.02 {
				roster[i].activity = activities[rng.Intn(len(activities))]
			}
			jx := rng.Float64()*10 - 5
			jy := rng.Float64()*10 - 5
			detections = append(detections, engagement.Detection{
				Box: engagement.Box{
					X1: roster[i].baseX + jx,
					Y1: roster[i].baseY + jy,
					X2: roster[i].baseX + jx + 120,
					Y2: roster[i].baseY + jy + 150,
				},
				Activity:   roster[i].activity,
				Confidence: 0.6 + rng.Float64()*0.4,
			})
		}
		err := w.WriteFrame(engagement.Frame{
			Index:          frame,
			TimestampNanos: int64(frame) * frameNanos,
			Detections:     detections,
		})
		if err != nil {
			log.Fatalf("failed to write frame %d: %v", frame, err)
		}
	}

	if err := w.Flush(); err != nil {
		log.Fatalf("failed to flush: %v", err)
	}
	log.Printf("wrote %d frames for %d students to %s", *frames, *students, *output)
}
