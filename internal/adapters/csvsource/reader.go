// Package csvsource reads event tables of the form
//
//	timestamp,Cl,Ca,Si,...
//	2021-02-03 14:00:00,1.2,0.4,3.3,...
//
// into events. Missing values are rejected rather than dropped.
package csvsource

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/t0270293/uk-source-attribution-fcm/internal/domain/model"
)

// TimestampColumn is the required name of the first header field.
const TimestampColumn = "timestamp"

var timeLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05"}

var missing = map[string]struct{}{"": {}, "na": {}, "nan": {}, "n/a": {}, "null": {}}

// Option applies a configuration option to Read.
type Option func(*reader)

type reader struct {
	elements []string
	comma    rune
	location *time.Location
}

// WithElements keeps only the named columns, in the given order.
func WithElements(names ...string) Option {
	return func(r *reader) {
		r.elements = names
	}
}

// WithComma sets the field delimiter.
func WithComma(c rune) Option {
	return func(r *reader) {
		r.comma = c
	}
}

// WithLocation sets the zone of timestamps that carry no offset. Default UTC.
func WithLocation(loc *time.Location) Option {
	return func(r *reader) {
		if loc != nil {
			r.location = loc
		}
	}
}

// Read parses a CSV event table and returns the element names and events.
func Read(in io.Reader, opts ...Option) ([]string, []model.Event, error) {
	rd := &reader{comma: ',', location: time.UTC}
	for _, opt := range opts {
		opt(rd)
	}

	cr := csv.NewReader(in)
	cr.Comma = rd.comma
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = false

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, fmt.Errorf("%w: empty input", model.ErrInvalidInput)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%w: header: %v", model.ErrInvalidInput, err)
	}
	if len(header) < 2 || !strings.EqualFold(strings.TrimSpace(header[0]), TimestampColumn) {
		return nil, nil, fmt.Errorf("%w: header must start with %q and name at least one element", model.ErrInvalidInput, TimestampColumn)
	}

	columns := make(map[string]int, len(header)-1)
	all := make([]string, 0, len(header)-1)
	for i, h := range header[1:] {
		name := strings.TrimSpace(h)
		columns[name] = i + 1
		all = append(all, name)
	}
	elements := all
	if len(rd.elements) > 0 {
		elements = rd.elements
	}
	picks := make([]int, len(elements))
	for j, name := range elements {
		col, ok := columns[name]
		if !ok {
			return nil, nil, fmt.Errorf("%w: element %q not in header", model.ErrInvalidInput, name)
		}
		picks[j] = col
	}

	var events []model.Event
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", model.ErrInvalidInput, err)
		}
		line, _ := cr.FieldPos(0)
		ts, err := rd.parseTime(rec[0])
		if err != nil {
			return nil, nil, fmt.Errorf("%w: line %d column %q: %v", model.ErrInvalidInput, line, TimestampColumn, err)
		}
		values := make([]float64, len(picks))
		for j, col := range picks {
			v, err := parseValue(rec[col])
			if err != nil {
				return nil, nil, fmt.Errorf("%w: line %d column %q: %v", model.ErrInvalidInput, line, elements[j], err)
			}
			values[j] = v
		}
		events = append(events, model.Event{Timestamp: ts, Values: values})
	}
	if len(events) == 0 {
		return nil, nil, fmt.Errorf("%w: no events after header", model.ErrInvalidInput)
	}
	return append([]string(nil), elements...), events, nil
}

func (rd *reader) parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, rd.location); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func parseValue(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if _, ok := missing[strings.ToLower(s)]; ok {
		return 0, fmt.Errorf("missing value %q", s)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	if math.IsInf(v, 0) {
		return 0, fmt.Errorf("non-finite value %q", s)
	}
	return v, nil
}

// Write emits events in the format Read accepts.
func Write(out io.Writer, elements []string, events []model.Event) error {
	cw := csv.NewWriter(out)
	if err := cw.Write(append([]string{TimestampColumn}, elements...)); err != nil {
		return err
	}
	rec := make([]string, len(elements)+1)
	for _, e := range events {
		if len(e.Values) != len(elements) {
			return fmt.Errorf("%w: event %s has %d values, want %d", model.ErrInvalidInput, e.Timestamp.Format(time.RFC3339), len(e.Values), len(elements))
		}
		rec[0] = e.Timestamp.UTC().Format(time.RFC3339)
		for j, v := range e.Values {
			rec[j+1] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
