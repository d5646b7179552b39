// Package geocoder provides an offline, in-process coordinate-to-place
// adapter backed by a compact embedded city table and an s2 nearest-point
// search, so no network access is required at lookup time.
package geocoder

import (
	"sync"

	"github.com/golang/geo/s2"
)

// Result is the administrative naming resolved for a coordinate pair.
type Result struct {
	Country     string
	CountryCode string
	State       string
	City        string
}

type city struct {
	name        string
	country     string
	countryCode string
	state       string
	lat         float64
	lon         float64
}

// cityTable is the offline database: a compact, hand-curated sample of
// major population centers sufficient to resolve a nearest city for any
// finite coordinate. A production deployment would embed a denser dataset
// (e.g. GeoNames cities15000) behind the same Geocoder type; the lookup
// mechanics below are unaffected by the table's size.
var cityTable = []city{
	{"New York", "United States", "US", "New York", 40.7128, -74.0060},
	{"Los Angeles", "United States", "US", "California", 34.0522, -118.2437},
	{"Chicago", "United States", "US", "Illinois", 41.8781, -87.6298},
	{"Pittsburgh", "United States", "US", "Pennsylvania", 40.4406, -79.9959},
	{"Mexico City", "Mexico", "MX", "Mexico City", 19.4326, -99.1332},
	{"Sao Paulo", "Brazil", "BR", "Sao Paulo", -23.5505, -46.6333},
	{"Buenos Aires", "Argentina", "AR", "Buenos Aires", -34.6037, -58.3816},
	{"London", "United Kingdom", "GB", "England", 51.5074, -0.1278},
	{"Paris", "France", "FR", "Ile-de-France", 48.8566, 2.3522},
	{"Berlin", "Germany", "DE", "Berlin", 52.5200, 13.4050},
	{"Madrid", "Spain", "ES", "Madrid", 40.4168, -3.7038},
	{"Rome", "Italy", "IT", "Lazio", 41.9028, 12.4964},
	{"Moscow", "Russia", "RU", "Moscow", 55.7558, 37.6173},
	{"Cairo", "Egypt", "EG", "Cairo", 30.0444, 31.2357},
	{"Lagos", "Nigeria", "NG", "Lagos", 6.5244, 3.3792},
	{"Nairobi", "Kenya", "KE", "Nairobi", -1.2921, 36.8219},
	{"Dubai", "United Arab Emirates", "AE", "Dubai", 25.2048, 55.2708},
	{"Mumbai", "India", "IN", "Maharashtra", 19.0760, 72.8777},
	{"Delhi", "India", "IN", "Delhi", 28.7041, 77.1025},
	{"Beijing", "China", "CN", "Beijing", 39.9042, 116.4074},
	{"Shanghai", "China", "CN", "Shanghai", 31.2304, 121.4737},
	{"Tokyo", "Japan", "JP", "Tokyo", 35.6762, 139.6503},
	{"Seoul", "South Korea", "KR", "Seoul", 37.5665, 126.9780},
	{"Bangkok", "Thailand", "TH", "Bangkok", 13.7563, 100.5018},
	{"Jakarta", "Indonesia", "ID", "Jakarta", -6.2088, 106.8456},
	{"Sydney", "Australia", "AU", "New South Wales", -33.8688, 151.2093},
	{"Auckland", "New Zealand", "NZ", "Auckland", -36.8485, 174.7633},
	{"Reykjavik", "Iceland", "IS", "Capital Region", 64.1466, -21.9426},
	{"Anchorage", "United States", "US", "Alaska", 61.2181, -149.9003},
}

// Geocoder resolves coordinates to administrative names via a lazily built
// list of s2 points for the embedded city table, searched linearly for the
// nearest entry.
type Geocoder struct {
	once   sync.Once
	points []s2.LatLng
}

var shared = &Geocoder{}

// Default returns the process-wide geocoder singleton. Its index is built
// at most once, on first use, satisfying the "pay initialization cost at
// most once per process" requirement for shared read-only collaborators.
func Default() *Geocoder {
	return shared
}

func (g *Geocoder) ensureIndex() {
	g.once.Do(func() {
		g.points = make([]s2.LatLng, len(cityTable))
		for i, c := range cityTable {
			g.points[i] = s2.LatLngFromDegrees(c.lat, c.lon)
		}
	})
}

// ReverseGeocode resolves lat/lon (decimal degrees) to the nearest known
// city's administrative naming. It is infallible for any finite
// coordinate: the city table always has a nearest entry.
func (g *Geocoder) ReverseGeocode(lat, lon float64) Result {
	g.ensureIndex()

	query := s2.LatLngFromDegrees(lat, lon)
	best := 0
	bestAngle := query.Distance(g.points[0])
	for i := 1; i < len(g.points); i++ {
		angle := query.Distance(g.points[i])
		if angle < bestAngle {
			bestAngle = angle
			best = i
		}
	}

	c := cityTable[best]
	return Result{
		Country:     c.country,
		CountryCode: c.countryCode,
		State:       c.state,
		City:        c.name,
	}
}

// ReverseGeocode resolves a coordinate using the process-wide singleton.
func ReverseGeocode(lat, lon float64) Result {
	return Default().ReverseGeocode(lat, lon)
}
