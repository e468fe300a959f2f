// Package summary reduces a results file to per-proof statistics.
package summary

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/dyluth/proofbench/pkg/timing"
	"github.com/olekukonko/tablewriter"
)

// Stats describes the recorded iterations of one proof. Durations are zero
// when no iteration produced a duration.
type Stats struct {
	Proof    timing.ProofName `json:"proof"`
	Count    int              `json:"count"`
	Failures int              `json:"failures"`
	Min      time.Duration    `json:"min_ns"`
	Median   time.Duration    `json:"median_ns"`
	Mean     time.Duration    `json:"mean_ns"`
	Max      time.Duration    `json:"max_ns"`
	// CV is the coefficient of variation (sample stddev / mean).
	// Zero with fewer than two durations.
	CV float64 `json:"cv"`
}

// Load reads a results file. Cells equal to marker count as failures.
func Load(path, marker string) (*timing.Matrix, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open results: %w", err)
	}
	defer f.Close()

	m, err := timing.ReadMatrix(f, marker)
	if err != nil {
		return nil, fmt.Errorf("failed to parse results %s: %w", path, err)
	}
	return m, nil
}

// Compute returns one Stats per row, in row order.
func Compute(m *timing.Matrix) []Stats {
	out := make([]Stats, 0, len(m.Rows()))
	for _, row := range m.Rows() {
		out = append(out, ForRow(row))
	}
	return out
}

// ForRow computes statistics for a single row.
func ForRow(row *timing.Row) Stats {
	s := Stats{Proof: row.Proof}

	var secs []float64
	for _, c := range row.Cells {
		if !c.Present {
			s.Failures++
			continue
		}
		secs = append(secs, c.Seconds)
	}
	s.Count = len(secs)
	if s.Count == 0 {
		return s
	}

	slices.Sort(secs)
	sum := 0.0
	for _, v := range secs {
		sum += v
	}
	mean := sum / float64(len(secs))

	var median float64
	if n := len(secs); n%2 == 1 {
		median = secs[n/2]
	} else {
		median = (secs[n/2-1] + secs[n/2]) / 2
	}

	s.Min = seconds(secs[0])
	s.Max = seconds(secs[len(secs)-1])
	s.Mean = seconds(mean)
	s.Median = seconds(median)

	if len(secs) > 1 && mean > 0 {
		ss := 0.0
		for _, v := range secs {
			ss += (v - mean) * (v - mean)
		}
		s.CV = math.Sqrt(ss/float64(len(secs)-1)) / mean
	}
	return s
}

func seconds(s float64) time.Duration {
	return timing.Cell{Seconds: s, Present: true}.Duration()
}

// WriteJSON writes stats as an indented JSON array.
func WriteJSON(w io.Writer, stats []Stats) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(stats)
}

// WriteTable renders stats as a text table. Durations are shown in seconds.
func WriteTable(w io.Writer, stats []Stats) error {
	table := tablewriter.NewWriter(w)
	table.Header("Proof", "N", "Failed", "Min", "Median", "Mean", "Max", "CV")

	rows := make([][]string, 0, len(stats))
	for _, s := range stats {
		row := []string{string(s.Proof), strconv.Itoa(s.Count), strconv.Itoa(s.Failures)}
		if s.Count == 0 {
			row = append(row, "-", "-", "-", "-", "-")
		} else {
			row = append(row,
				formatSeconds(s.Min), formatSeconds(s.Median), formatSeconds(s.Mean), formatSeconds(s.Max),
				fmt.Sprintf("%.1f%%", s.CV*100),
			)
		}
		rows = append(rows, row)
	}
	if err := table.Bulk(rows); err != nil {
		return fmt.Errorf("failed to build table: %w", err)
	}
	return table.Render()
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}
