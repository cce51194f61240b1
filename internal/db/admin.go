package db

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"image/color"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"tailscale.com/tsweb"

	"github.com/banshee-data/hostlink/internal/httputil"
	"github.com/banshee-data/hostlink/internal/monitoring"
)

// defaultWindow is how far back the history views look unless ?hours= is
// given.
const defaultWindow = 24 * time.Hour

// AttachAdminRoutes mounts the history views and a tailsql console on the
// tsweb debug page.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		monitoring.Logf("tailsql disabled: %v", err)
	} else {
		tsql.SetDB("sqlite://hostlink.db", db.DB, &tailsql.DBOptions{
			Label: "Link history",
		})
		debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())
	}

	debug.Handle("history", "Recent sessions, reply counts and telemetry summary", http.HandlerFunc(db.handleHistory))
	debug.Handle("telemetry.png", "CPU and memory history plot", http.HandlerFunc(db.handleTelemetryPlot))
	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(db.handleBackup))
}

func windowStart(r *http.Request, now time.Time) time.Time {
	if h, err := strconv.ParseFloat(r.URL.Query().Get("hours"), 64); err == nil && h > 0 {
		return now.Add(-time.Duration(h * float64(time.Hour)))
	}
	return now.Add(-defaultWindow)
}

type historyView struct {
	Sessions  []SessionRecord  `json:"sessions"`
	Responses map[string]int   `json:"responses"`
	Telemetry TelemetrySummary `json:"telemetry"`
	Frames    []FrameRecord    `json:"frames"`
}

func (db *DB) handleHistory(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireGet(w, r) {
		return
	}
	since := windowStart(r, time.Now())

	var view historyView
	var err error
	if view.Sessions, err = db.RecentSessions(20); err != nil {
		httputil.InternalServerError(w, "sessions", err)
		return
	}
	if view.Responses, err = db.ResponseCounts(since); err != nil {
		httputil.InternalServerError(w, "responses", err)
		return
	}
	if view.Telemetry, err = db.TelemetryStats(since); err != nil {
		httputil.InternalServerError(w, "telemetry", err)
		return
	}
	if view.Frames, err = db.RecentFrames(10); err != nil {
		httputil.InternalServerError(w, "frames", err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, view)
}

// TelemetryPlot draws CPU and memory over time as a PNG.
func (db *DB) TelemetryPlot(w io.Writer, since time.Time) error {
	points, err := db.telemetryPoints(since)
	if err != nil {
		return err
	}

	p := plot.New()
	p.Title.Text = "Host telemetry"
	p.X.Label.Text = "time (UTC)"
	p.X.Tick.Marker = plot.TimeTicks{Format: "15:04"}
	p.Y.Label.Text = "%"
	p.Y.Min, p.Y.Max = 0, 100
	p.Legend.Top = true

	cpu := make(plotter.XYs, len(points))
	mem := make(plotter.XYs, len(points))
	for i, pt := range points {
		x := float64(pt.At.Unix())
		cpu[i] = plotter.XY{X: x, Y: pt.CPU}
		mem[i] = plotter.XY{X: x, Y: pt.Memory}
	}

	if len(points) > 0 {
		series := []struct {
			name  string
			xys   plotter.XYs
			color color.Color
		}{
			{"cpu", cpu, color.RGBA{R: 0xe5, G: 0x39, B: 0x35, A: 0xff}},
			{"memory", mem, color.RGBA{R: 0x1e, G: 0x88, B: 0xe5, A: 0xff}},
		}
		for _, s := range series {
			line, err := plotter.NewLine(s.xys)
			if err != nil {
				return err
			}
			line.Color = s.color
			line.Width = vg.Points(1)
			p.Add(line)
			p.Legend.Add(s.name, line)
		}
	}

	wt, err := p.WriterTo(10*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}

func (db *DB) handleTelemetryPlot(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := db.TelemetryPlot(&buf, windowStart(r, time.Now())); err != nil {
		httputil.InternalServerError(w, "plot", err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}

func (db *DB) handleBackup(w http.ResponseWriter, r *http.Request) {
	backupPath := filepath.Join(os.TempDir(), fmt.Sprintf("hostlink-backup-%d.db", time.Now().Unix()))
	if _, err := db.Exec("VACUUM INTO ?", backupPath); err != nil {
		httputil.InternalServerError(w, "create backup", err)
		return
	}
	defer func() {
		if err := os.Remove(backupPath); err != nil {
			monitoring.Logf("failed to remove backup file: %v", err)
		}
	}()

	backupFile, err := os.Open(backupPath)
	if err != nil {
		httputil.InternalServerError(w, "open backup", err)
		return
	}
	defer backupFile.Close()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", filepath.Base(backupPath)))
	w.Header().Set("Content-Type", "application/gzip")

	gz := gzip.NewWriter(w)
	defer gz.Close()
	if _, err := io.Copy(gz, backupFile); err != nil {
		monitoring.Logf("backup download interrupted: %v", err)
	}
}
