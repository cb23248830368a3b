// Package model contains domain models passed between layers.
package model

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Event is one time-stamped observation subject to clustering.
type Event struct {
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`         // unique key of the event
	Values    []float64 `json:"values" yaml:"values"`               // concentrations in element order (normalized once Normalize ran)
	Raw       []float64 `json:"raw,omitempty" yaml:"raw,omitempty"` // pre-normalization concentrations, nil until Normalize
}

// FeatureMatrix is an ordered, validated set of events sharing one element order.
// It is never mutated after construction.
type FeatureMatrix struct {
	elements []string
	index    map[string]int
	events   []Event
}

// NewFeatureMatrix validates events against the element list and returns an
// immutable matrix. Inputs are copied.
func NewFeatureMatrix(elements []string, events []Event) (*FeatureMatrix, error) {
	if len(elements) == 0 {
		return nil, fmt.Errorf("%w: element list is empty", ErrInvalidInput)
	}
	index := make(map[string]int, len(elements))
	for j, name := range elements {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("%w: element %d has an empty name", ErrInvalidInput, j)
		}
		if _, dup := index[name]; dup {
			return nil, fmt.Errorf("%w: element %q listed twice", ErrInvalidInput, name)
		}
		index[name] = j
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("%w: no events", ErrInvalidInput)
	}

	names := make([]string, len(elements))
	for name, j := range index {
		names[j] = name
	}

	seen := make(map[int64]int, len(events))
	rows := make([]Event, len(events))
	for i, e := range events {
		if err := checkVector(i, names, e.Values); err != nil {
			return nil, err
		}
		if e.Raw != nil {
			if err := checkVector(i, names, e.Raw); err != nil {
				return nil, fmt.Errorf("raw values: %w", err)
			}
		}
		key := e.Timestamp.UnixNano()
		if prev, dup := seen[key]; dup {
			return nil, fmt.Errorf("%w: row %d repeats timestamp %s of row %d",
				ErrInvalidInput, i, e.Timestamp.Format(time.RFC3339), prev)
		}
		seen[key] = i
		rows[i] = Event{
			Timestamp: e.Timestamp,
			Values:    append([]float64(nil), e.Values...),
			Raw:       cloneOrNil(e.Raw),
		}
	}

	return &FeatureMatrix{elements: names, index: index, events: rows}, nil
}

func checkVector(row int, elements []string, v []float64) error {
	if len(v) != len(elements) {
		return fmt.Errorf("%w: row %d has %d values, want %d", ErrInvalidInput, row, len(v), len(elements))
	}
	for j, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Errorf("%w: row %d column %q is not finite (%v)", ErrInvalidInput, row, elements[j], x)
		}
	}
	return nil
}

func cloneOrNil(v []float64) []float64 {
	if v == nil {
		return nil
	}
	return append([]float64(nil), v...)
}

// Normalize returns a new matrix with every column min-max scaled into [0,1].
// A constant column maps to 0. The receiver's values are kept as Raw.
func (m *FeatureMatrix) Normalize() *FeatureMatrix {
	cols := len(m.elements)
	lo := make([]float64, cols)
	hi := make([]float64, cols)
	for j := 0; j < cols; j++ {
		lo[j], hi[j] = math.Inf(1), math.Inf(-1)
	}
	for _, e := range m.events {
		for j, x := range e.Values {
			lo[j] = math.Min(lo[j], x)
			hi[j] = math.Max(hi[j], x)
		}
	}

	rows := make([]Event, len(m.events))
	for i, e := range m.events {
		scaled := make([]float64, cols)
		for j, x := range e.Values {
			if span := hi[j] - lo[j]; span > 0 {
				scaled[j] = (x - lo[j]) / span
			}
		}
		raw := e.Raw
		if raw == nil {
			raw = e.Values
		}
		rows[i] = Event{Timestamp: e.Timestamp, Values: scaled, Raw: append([]float64(nil), raw...)}
	}
	return &FeatureMatrix{elements: m.elements, index: m.index, events: rows}
}

// Rows returns the number of events.
func (m *FeatureMatrix) Rows() int { return len(m.events) }

// Cols returns the number of elements.
func (m *FeatureMatrix) Cols() int { return len(m.elements) }

// Elements returns a copy of the element names in column order.
func (m *FeatureMatrix) Elements() []string { return append([]string(nil), m.elements...) }

// ElementIndex returns the column of an element.
func (m *FeatureMatrix) ElementIndex(name string) (int, bool) {
	j, ok := m.index[name]
	return j, ok
}

// Row returns the feature vector of event i. Callers must not modify it.
func (m *FeatureMatrix) Row(i int) []float64 { return m.events[i].Values }

// RawRow returns the pre-normalization vector of event i, falling back to
// Row when the matrix was never normalized. Callers must not modify it.
func (m *FeatureMatrix) RawRow(i int) []float64 {
	if m.events[i].Raw != nil {
		return m.events[i].Raw
	}
	return m.events[i].Values
}

// Column returns a copy of one element's values.
func (m *FeatureMatrix) Column(name string) ([]float64, error) {
	j, ok := m.index[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown element %q", ErrInvalidInput, name)
	}
	out := make([]float64, len(m.events))
	for i, e := range m.events {
		out[i] = e.Values[j]
	}
	return out, nil
}

// Timestamps returns the event keys in row order.
func (m *FeatureMatrix) Timestamps() []time.Time {
	out := make([]time.Time, len(m.events))
	for i, e := range m.events {
		out[i] = e.Timestamp
	}
	return out
}

// Distinct counts events with pairwise different feature vectors.
func (m *FeatureMatrix) Distinct() int { return len(m.DistinctRows()) }

// DistinctRows returns the first row index of every distinct feature vector,
// in row order.
func (m *FeatureMatrix) DistinctRows() []int {
	seen := make(map[string]struct{}, len(m.events))
	var out []int
	for i, e := range m.events {
		key := vectorKey(e.Values)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, i)
	}
	return out
}

func vectorKey(v []float64) string {
	var b strings.Builder
	for j, x := range v {
		if j > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%x", math.Float64bits(x+0)) // -0 and 0 collide
	}
	return b.String()
}
