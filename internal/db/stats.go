package db

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Summary describes one series of percentages.
type Summary struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	P95    float64 `json:"p95"`
}

// TelemetrySummary aggregates the CPU and memory figures of the frames sent
// in a window.
type TelemetrySummary struct {
	Since  time.Time `json:"since"`
	Frames int       `json:"frames"`
	CPU    Summary   `json:"cpu"`
	Memory Summary   `json:"memory"`
}

func summarise(xs []float64) Summary {
	if len(xs) == 0 {
		return Summary{}
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)

	mean, std := stat.MeanStdDev(sorted, nil)
	if len(sorted) < 2 {
		std = 0
	}
	return Summary{
		Mean:   mean,
		StdDev: std,
		Min:    floats.Min(sorted),
		Max:    floats.Max(sorted),
		P95:    stat.Quantile(0.95, stat.Empirical, sorted, nil),
	}
}

// TelemetryStats summarises frames sent at or after since.
func (db *DB) TelemetryStats(since time.Time) (TelemetrySummary, error) {
	points, err := db.telemetryPoints(since)
	if err != nil {
		return TelemetrySummary{}, err
	}
	cpu := make([]float64, len(points))
	mem := make([]float64, len(points))
	for i, p := range points {
		cpu[i] = p.CPU
		mem[i] = p.Memory
	}
	return TelemetrySummary{
		Since:  since.UTC(),
		Frames: len(points),
		CPU:    summarise(cpu),
		Memory: summarise(mem),
	}, nil
}

type telemetryPoint struct {
	At     time.Time
	CPU    float64
	Memory float64
}

// telemetryPoints returns the figures of each frame in send order.
func (db *DB) telemetryPoints(since time.Time) ([]telemetryPoint, error) {
	rows, err := db.Query(
		`SELECT sent_at, cpu_percent, memory_percent FROM frames WHERE sent_at >= ? ORDER BY sent_at, frame_id`,
		unixSeconds(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []telemetryPoint
	for rows.Next() {
		var at float64
		var p telemetryPoint
		if err := rows.Scan(&at, &p.CPU, &p.Memory); err != nil {
			return nil, err
		}
		p.At = fromUnixSeconds(at)
		points = append(points, p)
	}
	return points, rows.Err()
}
