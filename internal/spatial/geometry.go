package spatial

import (
	"math"

	"github.com/onichip/pettrack-backend-go/internal/apperr"
)

// Point represents a 2D point with latitude and longitude
type Point struct {
	Lat float64
	Lon float64
}

// Valid reports whether the point lies within lat [-90,90] and lon [-180,180].
func (p Point) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

// Shape is a geofence geometry. The set of implementations is closed:
// Circle and Polygon are the only shapes.
type Shape interface {
	isShape()
}

// Circle is a disc of RadiusMeters around Center.
type Circle struct {
	Center       Point
	RadiusMeters float64
}

// Polygon is a single ring of vertices, implicitly closed.
type Polygon struct {
	Ring []Point
}

func (Circle) isShape()  {}
func (Polygon) isShape() {}

// Validate rejects degenerate or unknown shapes.
func Validate(s Shape) error {
	switch g := s.(type) {
	case Circle:
		if !g.Center.Valid() {
			return apperr.InvalidGeometry("circle center out of range (%f, %f)", g.Center.Lat, g.Center.Lon)
		}
		if !(g.RadiusMeters > 0) || math.IsInf(g.RadiusMeters, 0) {
			return apperr.InvalidGeometry("circle radius must be positive, got %f", g.RadiusMeters)
		}
		return nil
	case Polygon:
		ring := openRing(g.Ring)
		if len(ring) < 3 {
			return apperr.InvalidGeometry("polygon ring needs at least 3 vertices, got %d", len(ring))
		}
		for i, v := range ring {
			if !v.Valid() {
				return apperr.InvalidGeometry("polygon vertex %d out of range (%f, %f)", i, v.Lat, v.Lon)
			}
		}
		return nil
	case nil:
		return apperr.InvalidGeometry("missing geometry")
	default:
		return apperr.InvalidGeometry("unsupported geometry %T", s)
	}
}

// Contains tests membership of p in the shape. Points on the boundary are
// outside for both circles and polygons.
func Contains(s Shape, p Point) (bool, error) {
	switch g := s.(type) {
	case Circle:
		return PointInCircle(p, g.Center, g.RadiusMeters)
	case Polygon:
		return PointInPolygon(p, g.Ring)
	default:
		return false, Validate(s)
	}
}

// DistanceToBoundary returns the distance in meters from p to the nearest
// point of the shape's edge: the circle rim or the closest polygon edge.
func DistanceToBoundary(s Shape, p Point) (float64, error) {
	if err := Validate(s); err != nil {
		return 0, err
	}
	switch g := s.(type) {
	case Circle:
		return math.Abs(Distance(p, g.Center) - g.RadiusMeters), nil
	case Polygon:
		ring := openRing(g.Ring)
		best := math.Inf(1)
		j := len(ring) - 1
		for i := range ring {
			if d := DistanceToSegment(p, ring[j], ring[i]); d < best {
				best = d
			}
			j = i
		}
		return best, nil
	}
	return 0, apperr.InvalidGeometry("unsupported geometry %T", s)
}

// PointInCircle checks whether p lies strictly within radiusMeters of center,
// using the haversine great-circle distance.
func PointInCircle(p, center Point, radiusMeters float64) (bool, error) {
	if !(radiusMeters > 0) {
		return false, apperr.InvalidGeometry("circle radius must be positive, got %f", radiusMeters)
	}
	return Distance(p, center) < radiusMeters, nil
}

// PointInPolygon checks if a point is inside a polygon using ray casting.
// The ring is implicitly closed; a repeated closing vertex is ignored.
// Points lying on an edge are reported as outside.
func PointInPolygon(point Point, polygon []Point) (bool, error) {
	polygon = openRing(polygon)
	if len(polygon) < 3 {
		return false, apperr.InvalidGeometry("polygon ring needs at least 3 vertices, got %d", len(polygon))
	}

	minLat, minLon, maxLat, maxLon := BoundingBox(polygon)
	if point.Lat < minLat || point.Lat > maxLat || point.Lon < minLon || point.Lon > maxLon {
		return false, nil
	}

	inside := false
	j := len(polygon) - 1

	for i := 0; i < len(polygon); i++ {
		if onSegment(point, polygon[i], polygon[j]) {
			return false, nil
		}
		if ((polygon[i].Lat > point.Lat) != (polygon[j].Lat > point.Lat)) &&
			(point.Lon < (polygon[j].Lon-polygon[i].Lon)*(point.Lat-polygon[i].Lat)/(polygon[j].Lat-polygon[i].Lat)+polygon[i].Lon) {
			inside = !inside
		}
		j = i
	}

	return inside, nil
}

// BoundingBox calculates the bounding box of a set of points
// Returns (minLat, minLon, maxLat, maxLon)
func BoundingBox(points []Point) (float64, float64, float64, float64) {
	if len(points) == 0 {
		return 0, 0, 0, 0
	}

	minLat, maxLat := points[0].Lat, points[0].Lat
	minLon, maxLon := points[0].Lon, points[0].Lon

	for _, p := range points[1:] {
		minLat = math.Min(minLat, p.Lat)
		maxLat = math.Max(maxLat, p.Lat)
		minLon = math.Min(minLon, p.Lon)
		maxLon = math.Max(maxLon, p.Lon)
	}

	return minLat, minLon, maxLat, maxLon
}

const collinearEpsilon = 1e-12

// onSegment reports whether p lies on the edge a-b in planar lon/lat space.
func onSegment(p, a, b Point) bool {
	cross := (b.Lon-a.Lon)*(p.Lat-a.Lat) - (b.Lat-a.Lat)*(p.Lon-a.Lon)
	if math.Abs(cross) > collinearEpsilon {
		return false
	}
	return p.Lon >= math.Min(a.Lon, b.Lon) && p.Lon <= math.Max(a.Lon, b.Lon) &&
		p.Lat >= math.Min(a.Lat, b.Lat) && p.Lat <= math.Max(a.Lat, b.Lat)
}

// openRing drops an explicit closing vertex equal to the first one.
func openRing(ring []Point) []Point {
	if len(ring) > 1 && ring[0] == ring[len(ring)-1] {
		return ring[:len(ring)-1]
	}
	return ring
}
