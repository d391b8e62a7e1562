// Package series holds the time-series domain model shared by the upstream
// client, the measurement store and the imputation pipeline. A series is an
// hourly grid: every hour between start and end has a row, and a missing
// reading is an explicit nil value rather than a missing timestamp.
package series

import (
	"fmt"
	"sort"
	"time"
)

// Step is the nominal resolution of all station series.
const Step = time.Hour

// Observation is a single reading at one station for one parameter. A nil
// Value marks a gap; zero is a valid measurement and is distinct from a gap.
type Observation struct {
	Timestamp time.Time `json:"timestamp"`
	Value     *float64  `json:"value"`
}

// Series is an ordered hourly sequence of observations for one
// (station, parameter) pair.
type Series struct {
	StationID    string
	Parameter    string
	Observations []Observation
}

// Len returns the number of grid rows.
func (s *Series) Len() int { return len(s.Observations) }

// Gaps returns the indices of all rows without a value.
func (s *Series) Gaps() []int {
	var gaps []int
	for i, obs := range s.Observations {
		if obs.Value == nil {
			gaps = append(gaps, i)
		}
	}
	return gaps
}

// ObservedCount returns the number of rows carrying a value.
func (s *Series) ObservedCount() int {
	n := 0
	for _, obs := range s.Observations {
		if obs.Value != nil {
			n++
		}
	}
	return n
}

// Values returns one entry per grid row, nil where the row is a gap.
func (s *Series) Values() []*float64 {
	out := make([]*float64, len(s.Observations))
	for i, obs := range s.Observations {
		out[i] = obs.Value
	}
	return out
}

// Reindex sorts the observations, truncates timestamps to the hour and
// rebuilds the series on a complete hourly grid from the first to the last
// observation. Hours without a reading become explicit gaps. Duplicate hours
// keep the last reading seen.
func Reindex(stationID, parameter string, obs []Observation) (*Series, error) {
	if len(obs) == 0 {
		return nil, fmt.Errorf("series %s/%s: no observations", stationID, parameter)
	}

	byHour := make(map[time.Time]*float64, len(obs))
	for _, o := range obs {
		byHour[o.Timestamp.Truncate(Step)] = o.Value
	}

	hours := make([]time.Time, 0, len(byHour))
	for h := range byHour {
		hours = append(hours, h)
	}
	sort.Slice(hours, func(i, j int) bool { return hours[i].Before(hours[j]) })

	start, end := hours[0], hours[len(hours)-1]
	grid := make([]Observation, 0, int(end.Sub(start)/Step)+1)
	for t := start; !t.After(end); t = t.Add(Step) {
		grid = append(grid, Observation{Timestamp: t, Value: byHour[t]})
	}

	return &Series{StationID: stationID, Parameter: parameter, Observations: grid}, nil
}

// Float is a convenience for building observation values in callers and tests.
func Float(v float64) *float64 { return &v }
