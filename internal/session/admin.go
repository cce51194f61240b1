package session

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"tailscale.com/tsweb"

	"github.com/banshee-data/hostlink/internal/httputil"
	"github.com/banshee-data/hostlink/internal/telemetry"
)

// AttachAdminRoutes mounts the session views on the tsweb debug page.
func (r *Recorder) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.Handle("session", "Link session state, counters and recent replies", http.HandlerFunc(r.handleStatus))
	debug.Handle("telemetry-chart", "CPU and memory sent in recent frames", http.HandlerFunc(r.handleChart))
}

func (r *Recorder) handleStatus(w http.ResponseWriter, req *http.Request) {
	if !httputil.RequireGet(w, req) {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, r.Status())
}

func (r *Recorder) handleChart(w http.ResponseWriter, req *http.Request) {
	frames := r.Frames()

	x := make([]string, 0, len(frames))
	cpu := make([]opts.LineData, 0, len(frames))
	mem := make([]opts.LineData, 0, len(frames))
	for _, f := range frames {
		x = append(x, f.At.Format(telemetry.TimeLayout+":05"))
		cpu = append(cpu, opts.LineData{Value: float64(f.Snapshot.CPUPercent)})
		mem = append(mem, opts.LineData{Value: float64(f.Snapshot.MemoryPercent)})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Host telemetry", Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: "Host telemetry", Subtitle: fmt.Sprintf("%d frames", len(frames))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "%", Min: 0, Max: 100}),
	)
	line.SetXAxis(x).
		AddSeries("cpu", cpu).
		AddSeries("memory", mem)

	page := components.NewPage()
	page.AddCharts(line)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.InternalServerError(w, "render chart", err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
