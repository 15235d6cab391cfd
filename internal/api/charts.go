package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/mindwatch-data/engagement.report/internal/engagement"
	"github.com/mindwatch-data/engagement.report/internal/engagement/storage/sqlite"
)

// Debug chart endpoints rendered server-side with go-echarts. These exist so
// a summary can be eyeballed without the frontend.

func (s *Server) loadSummaryForChart(w http.ResponseWriter, sessionID string) *engagement.SessionSummary {
	summary, err := s.store.GetSummary(sessionID)
	if errors.Is(err, sqlite.ErrSessionNotFound) {
		s.writeJSONError(w, http.StatusNotFound, "no summary for session")
		return nil
	}
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to load summary: %v", err))
		return nil
	}
	return summary
}

func (s *Server) renderChart(w http.ResponseWriter, render func(io.Writer) error) {
	var buf bytes.Buffer
	if err := render(&buf); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleEngagementChart renders an attentive/distracted pie for a session.
func (s *Server) handleEngagementChart(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	summary := s.loadSummaryForChart(w, sessionID)
	if summary == nil {
		return
	}

	pie := charts.NewPie()
	pie.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Class Engagement", Theme: "dark", Width: "700px", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Class Engagement",
			Subtitle: fmt.Sprintf("session=%s students=%d rate=%.1f%%", sessionID, summary.TotalStudents, summary.EngagementRate),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	pie.AddSeries("engagement", []opts.PieData{
		{Name: "Attentive", Value: summary.AttentiveStudents, ItemStyle: &opts.ItemStyle{Color: "#35b779"}},
		{Name: "Distracted", Value: summary.DistractedStudents, ItemStyle: &opts.ItemStyle{Color: "#ff5252"}},
	}, charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Formatter: "{b}: {c}"}))

	s.renderChart(w, pie.Render)
}

// handleActivitiesChart renders the per-activity detection counts as a bar chart.
func (s *Server) handleActivitiesChart(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	summary := s.loadSummaryForChart(w, sessionID)
	if summary == nil {
		return
	}

	labels := make([]string, 0, len(summary.ActivityBreakdown))
	for label := range summary.ActivityBreakdown {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	values := make([]opts.BarData, 0, len(labels))
	for _, label := range labels {
		values = append(values, opts.BarData{Value: summary.ActivityBreakdown[label]})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Activity Breakdown", Theme: "dark", Width: "900px", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{Title: "Activity Breakdown", Subtitle: fmt.Sprintf("session=%s", sessionID)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(labels).
		AddSeries("detections", values,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	s.renderChart(w, bar.Render)
}

// handleTimelineChart renders attentive vs distracted detections per time
// bucket as stacked lines.
func (s *Server) handleTimelineChart(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	summary := s.loadSummaryForChart(w, sessionID)
	if summary == nil {
		return
	}
	if len(summary.Timeline) == 0 {
		s.writeJSONError(w, http.StatusNotFound, "no timeline for session")
		return
	}

	x := make([]string, 0, len(summary.Timeline))
	attentive := make([]opts.LineData, 0, len(summary.Timeline))
	distracted := make([]opts.LineData, 0, len(summary.Timeline))
	for _, bucket := range summary.Timeline {
		x = append(x, fmt.Sprintf("%.0fs", bucket.StartSeconds))
		attentive = append(attentive, opts.LineData{Value: bucket.Attentive})
		distracted = append(distracted, opts.LineData{Value: bucket.Distracted})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Engagement Timeline", Theme: "dark", Width: "1100px", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{Title: "Engagement Timeline", Subtitle: fmt.Sprintf("session=%s buckets=%d", sessionID, len(summary.Timeline))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	line.SetXAxis(x).
		AddSeries("attentive", attentive, charts.WithItemStyleOpts(opts.ItemStyle{Color: "#35b779"})).
		AddSeries("distracted", distracted, charts.WithItemStyleOpts(opts.ItemStyle{Color: "#ff5252"}))

	s.renderChart(w, line.Render)
}
