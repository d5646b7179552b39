// Package locationhistory loads a Google Takeout-style location export and
// answers nearest-timestamp queries against it.
package locationhistory

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
)

// Point is a single GPS fix at a millisecond Unix timestamp, stored in E7
// fixed-point (degrees * 1e7) the way Takeout exports them.
type Point struct {
	TimestampMs uint64
	LatE7       int32
	LonE7       int32
}

// Lat returns the point's latitude in decimal degrees.
func (p Point) Lat() float64 { return float64(p.LatE7) / 1e7 }

// Lon returns the point's longitude in decimal degrees.
func (p Point) Lon() float64 { return float64(p.LonE7) / 1e7 }

// History is an immutable, timestamp-sorted sequence of Points.
type History struct {
	points []Point
}

// millisString unmarshals a JSON string of decimal digits into a uint64,
// the shape Takeout uses for timestampMs fields.
type millisString uint64

func (m *millisString) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("non-numeric timestampMs %q: %w", s, err)
	}
	*m = millisString(v)
	return nil
}

type rawActivity struct {
	TimestampMs millisString `json:"timestampMs"`
}

type rawLocation struct {
	TimestampMs millisString  `json:"timestampMs"`
	LatitudeE7  int32         `json:"latitudeE7"`
	LongitudeE7 int32         `json:"longitudeE7"`
	Activity    []rawActivity `json:"activity,omitempty"`
}

type rawDocument struct {
	Locations []rawLocation `json:"locations"`
}

// Load parses a Takeout-style location history JSON file into a
// timestamp-sorted History.
func Load(path string) (*History, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open location history: %w", err)
	}
	defer f.Close()

	var doc rawDocument
	if err := json.NewDecoder(f).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode location history: %w", err)
	}

	points := make([]Point, 0, len(doc.Locations))
	for _, loc := range doc.Locations {
		points = append(points, Point{
			TimestampMs: uint64(loc.TimestampMs),
			LatE7:       loc.LatitudeE7,
			LonE7:       loc.LongitudeE7,
		})
		for _, act := range loc.Activity {
			points = append(points, Point{
				TimestampMs: uint64(act.TimestampMs),
				LatE7:       loc.LatitudeE7,
				LonE7:       loc.LongitudeE7,
			})
		}
	}

	sort.Slice(points, func(i, j int) bool {
		return points[i].TimestampMs < points[j].TimestampMs
	})

	return &History{points: points}, nil
}

// Len reports how many points the history holds.
func (h *History) Len() int {
	if h == nil {
		return 0
	}
	return len(h.points)
}

// FindClosestPoints returns the immediate predecessor and successor of
// targetMs. On an exact timestamp match the same point is returned as both.
// A nil result on either side means targetMs falls outside that end of the
// sequence.
func (h *History) FindClosestPoints(targetMs uint64) (before, after *Point) {
	if h == nil || len(h.points) == 0 {
		return nil, nil
	}

	n := len(h.points)
	idx := sort.Search(n, func(i int) bool {
		return h.points[i].TimestampMs >= targetMs
	})

	if idx < n && h.points[idx].TimestampMs == targetMs {
		p := h.points[idx]
		return &p, &p
	}

	if idx > 0 {
		b := h.points[idx-1]
		before = &b
	}
	if idx < n {
		a := h.points[idx]
		after = &a
	}
	return before, after
}
