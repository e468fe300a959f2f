package timing

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
)

// Cell is one iteration's entry in a result row. A cell that is not Present
// stands for a failed unit: the CSV carries no duration for it.
type Cell struct {
	Seconds float64
	Present bool
}

// CellFromRecord converts a record into its persisted cell.
func CellFromRecord(r TimingRecord) Cell {
	if !r.OK() {
		return Cell{}
	}
	return Cell{Seconds: r.Elapsed.Seconds(), Present: true}
}

// Duration converts the cell back into a time.Duration, rounded to the nanosecond.
func (c Cell) Duration() time.Duration {
	return time.Duration(math.Round(c.Seconds * float64(time.Second)))
}

// Row holds the recorded cells of one proof, in the order they were recorded.
type Row struct {
	Proof ProofName
	Cells []Cell
}

// Matrix is the persisted result of a run: one row per proof.
// Row order is preserved as inserted.
type Matrix struct {
	rows  []*Row
	index map[ProofName]int
}

// NewMatrix creates an empty matrix.
func NewMatrix() *Matrix {
	return &Matrix{index: make(map[ProofName]int)}
}

// Append adds a cell to the proof's row, creating the row if needed.
func (m *Matrix) Append(proof ProofName, c Cell) {
	i, ok := m.index[proof]
	if !ok {
		m.rows = append(m.rows, &Row{Proof: proof})
		i = len(m.rows) - 1
		m.index[proof] = i
	}
	m.rows[i].Cells = append(m.rows[i].Cells, c)
}

// Row returns the row for a proof, or nil if nothing was recorded for it.
func (m *Matrix) Row(proof ProofName) *Row {
	i, ok := m.index[proof]
	if !ok {
		return nil
	}
	return m.rows[i]
}

// Rows returns the rows in insertion order.
func (m *Matrix) Rows() []*Row {
	return m.rows
}

// Len returns the total number of cells across all rows.
func (m *Matrix) Len() int {
	n := 0
	for _, r := range m.rows {
		n += len(r.Cells)
	}
	return n
}

// Clone returns a deep copy.
func (m *Matrix) Clone() *Matrix {
	out := NewMatrix()
	for _, r := range m.rows {
		for _, c := range r.Cells {
			out.Append(r.Proof, c)
		}
	}
	return out
}

// FormatSeconds renders seconds using the shortest decimal form that parses
// back to the identical float64.
func FormatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', -1, 64)
}

// ValidateMarker checks that marker can stand in for a failed cell without
// being mistaken for a duration or breaking the CSV row.
func ValidateMarker(marker string) error {
	if marker == "" {
		return nil
	}
	if strings.ContainsAny(marker, ",\"\n\r") {
		return fmt.Errorf("failure marker must not contain commas, quotes or newlines")
	}
	if _, err := strconv.ParseFloat(marker, 64); err == nil {
		return fmt.Errorf("failure marker %q reads as a duration", marker)
	}
	return nil
}

// WriteMatrix writes rows ordered by the given proof order as name,d1,...,dN lines.
// Proofs without a row are skipped. Absent cells are written as marker
// (empty string = absence).
func WriteMatrix(w io.Writer, m *Matrix, order []ProofName, marker string) error {
	if err := ValidateMarker(marker); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	for _, p := range order {
		row := m.Row(p)
		if row == nil {
			continue
		}
		fields := make([]string, 0, len(row.Cells)+1)
		fields = append(fields, string(row.Proof))
		for _, c := range row.Cells {
			if c.Present {
				fields = append(fields, FormatSeconds(c.Seconds))
			} else {
				fields = append(fields, marker)
			}
		}
		if err := cw.Write(fields); err != nil {
			return fmt.Errorf("failed to write row for %s: %w", p, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadMatrix parses a result file written by WriteMatrix. Empty cells and cells
// equal to marker are read as absent.
func ReadMatrix(r io.Reader, marker string) (*Matrix, error) {
	if err := ValidateMarker(marker); err != nil {
		return nil, err
	}
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	m := NewMatrix()
	line := 0
	for {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if len(fields) == 0 || fields[0] == "" {
			return nil, fmt.Errorf("line %d: missing proof name", line)
		}
		proof := ProofName(fields[0])
		if m.Row(proof) != nil {
			return nil, fmt.Errorf("line %d: duplicate row for %s", line, proof)
		}
		m.rows = append(m.rows, &Row{Proof: proof, Cells: make([]Cell, 0, len(fields)-1)})
		m.index[proof] = len(m.rows) - 1
		for col, f := range fields[1:] {
			if f == "" || (marker != "" && f == marker) {
				m.Append(proof, Cell{})
				continue
			}
			s, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d column %d: invalid duration %q: %w", line, col+2, f, err)
			}
			m.Append(proof, Cell{Seconds: s, Present: true})
		}
	}
	return m, nil
}
