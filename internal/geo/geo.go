// Package geo holds the small amount of spherical geometry the converter
// needs for station merging.
package geo

import "math"

// RadiusOfEarthInMeters is the mean Earth radius.
const RadiusOfEarthInMeters = 6371010.0

type Point struct {
	Lat float64
	Lon float64
}

// Bounds is a latitude/longitude bounding box.
type Bounds struct {
	MinLat float64
	MaxLat float64
	MinLon float64
	MaxLon float64
}

// Min and Max return the corners in (lon, lat) order, as used by spatial
// indexes keyed on x/y.
func (b Bounds) Min() [2]float64 { return [2]float64{b.MinLon, b.MinLat} }
func (b Bounds) Max() [2]float64 { return [2]float64{b.MaxLon, b.MaxLat} }

func (b Bounds) Contains(p Point) bool {
	return p.Lat >= b.MinLat && p.Lat <= b.MaxLat && p.Lon >= b.MinLon && p.Lon <= b.MaxLon
}

func toRadians(deg float64) float64 { return deg * math.Pi / 180 }

// Distance returns the great-circle distance in meters (haversine).
func Distance(a, b Point) float64 {
	lat1, lat2 := toRadians(a.Lat), toRadians(b.Lat)
	dLat := lat2 - lat1
	dLon := toRadians(b.Lon - a.Lon)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * RadiusOfEarthInMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

// BoundsAround returns a box containing every point within meters of p.
func BoundsAround(p Point, meters float64) Bounds {
	latOffset := meters / RadiusOfEarthInMeters * 180 / math.Pi
	lonRadius := math.Cos(toRadians(p.Lat)) * RadiusOfEarthInMeters
	lonOffset := meters / lonRadius * 180 / math.Pi

	return Bounds{
		MinLat: p.Lat - latOffset,
		MaxLat: p.Lat + latOffset,
		MinLon: p.Lon - lonOffset,
		MaxLon: p.Lon + lonOffset,
	}
}

// Centroid averages the points, rounded to 8 decimal places.
func Centroid(points []Point) Point {
	if len(points) == 0 {
		return Point{}
	}
	var lat, lon float64
	for _, p := range points {
		lat += p.Lat
		lon += p.Lon
	}
	n := float64(len(points))
	return Point{Lat: round8(lat / n), Lon: round8(lon / n)}
}

func round8(v float64) float64 { return math.Round(v*1e8) / 1e8 }
