package spatial

import (
	"errors"
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onichip/pettrack-backend-go/internal/apperr"
)

// referenceHaversine is an independent implementation used to cross-check
// the s2-backed distance.
func referenceHaversine(lat1, lon1, lat2, lon2 float64) float64 {
	const r = 6371000.0
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return r * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

var unitSquare = []Point{{Lat: 0, Lon: 0}, {Lat: 1, Lon: 0}, {Lat: 1, Lon: 1}, {Lat: 0, Lon: 1}}

func TestPointInCircle_Scenario(t *testing.T) {
	center := Point{Lat: 40.0, Lon: -3.0}

	inside, err := PointInCircle(Point{Lat: 40.0001, Lon: -3.0}, center, 50)
	require.NoError(t, err)
	assert.True(t, inside, "~11m from center should be inside a 50m circle")

	inside, err = PointInCircle(Point{Lat: 40.001, Lon: -3.0}, center, 50)
	require.NoError(t, err)
	assert.False(t, inside, "~111m from center should be outside a 50m circle")
}

func TestPointInCircle_RejectsNonPositiveRadius(t *testing.T) {
	for _, r := range []float64{0, -5, math.NaN()} {
		_, err := PointInCircle(Point{}, Point{}, r)
		assert.True(t, errors.Is(err, apperr.ErrInvalidGeometry), "radius %v", r)
	}
}

func TestHaversineDistance_KnownValue(t *testing.T) {
	// One thousandth of a degree of latitude is ~111.19m.
	d := HaversineDistance(40.0, -3.0, 40.001, -3.0)
	assert.InDelta(t, 111.19, d, 0.5)
}

func TestProperty_Circle(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("center is always inside its own circle", prop.ForAll(
		func(lat, lon, radius float64) bool {
			c := Point{Lat: lat, Lon: lon}
			inside, err := PointInCircle(c, c, radius)
			return err == nil && inside
		},
		gen.Float64Range(-80, 80),
		gen.Float64Range(-179, 179),
		gen.Float64Range(1, 5000),
	))

	properties.Property("points beyond the radius are outside, points within are inside", prop.ForAll(
		func(lat, lon, radius, bearing, factor float64) bool {
			c := Point{Lat: lat, Lon: lon}
			outLat, outLon := DestinationPoint(lat, lon, bearing, radius*factor)
			inLat, inLon := DestinationPoint(lat, lon, bearing, radius/factor)

			outside, err := PointInCircle(Point{Lat: outLat, Lon: outLon}, c, radius)
			if err != nil || outside {
				return false
			}
			inside, err := PointInCircle(Point{Lat: inLat, Lon: inLon}, c, radius)
			return err == nil && inside
		},
		gen.Float64Range(-60, 60),
		gen.Float64Range(-170, 170),
		gen.Float64Range(10, 1000),
		gen.Float64Range(0, 360),
		gen.Float64Range(1.05, 3),
	))

	properties.Property("distance agrees with an independent haversine within 0.01%", prop.ForAll(
		func(lat, lon, dLat, dLon float64) bool {
			got := HaversineDistance(lat, lon, lat+dLat, lon+dLon)
			want := referenceHaversine(lat, lon, lat+dLat, lon+dLon)
			if want < 1 {
				return math.Abs(got-want) < 1e-3
			}
			return math.Abs(got-want)/want < 1e-4
		},
		gen.Float64Range(-60, 60),
		gen.Float64Range(-170, 170),
		gen.Float64Range(-0.01, 0.01),
		gen.Float64Range(-0.01, 0.01),
	))

	properties.TestingRun(t)
}

func TestPointInPolygon_Basic(t *testing.T) {
	inside, err := PointInPolygon(Point{Lat: 0.5, Lon: 0.5}, unitSquare)
	require.NoError(t, err)
	assert.True(t, inside)

	inside, err = PointInPolygon(Point{Lat: 1.5, Lon: 0.5}, unitSquare)
	require.NoError(t, err)
	assert.False(t, inside)
}

func TestPointInPolygon_BoundaryIsOutside(t *testing.T) {
	cases := []Point{
		{Lat: 0, Lon: 0.5}, // bottom edge
		{Lat: 1, Lon: 0.5}, // top edge
		{Lat: 0.5, Lon: 0}, // left edge
		{Lat: 0.5, Lon: 1}, // right edge
		{Lat: 0, Lon: 0},   // vertex
		{Lat: 1, Lon: 1},   // vertex
	}
	for _, p := range cases {
		inside, err := PointInPolygon(p, unitSquare)
		require.NoError(t, err)
		assert.False(t, inside, "boundary point %+v", p)
	}
}

func TestPointInPolygon_ClosedRingAccepted(t *testing.T) {
	closed := append(append([]Point{}, unitSquare...), unitSquare[0])
	inside, err := PointInPolygon(Point{Lat: 0.25, Lon: 0.75}, closed)
	require.NoError(t, err)
	assert.True(t, inside)
}

func TestPointInPolygon_DegenerateRing(t *testing.T) {
	_, err := PointInPolygon(Point{}, []Point{{Lat: 0, Lon: 0}, {Lat: 1, Lon: 1}})
	assert.True(t, errors.Is(err, apperr.ErrInvalidGeometry))

	// Three points where the last closes the ring are only two distinct vertices.
	_, err = PointInPolygon(Point{}, []Point{{Lat: 0, Lon: 0}, {Lat: 1, Lon: 1}, {Lat: 0, Lon: 0}})
	assert.True(t, errors.Is(err, apperr.ErrInvalidGeometry))
}

func TestProperty_PolygonFarOutside(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("points far outside the bounding box are never inside", prop.ForAll(
		func(lat, lon, size float64, n int, offsetLat, offsetLon float64) bool {
			ring := make([]Point, n)
			for i := 0; i < n; i++ {
				angle := 2 * math.Pi * float64(i) / float64(n)
				ring[i] = Point{Lat: lat + size*math.Sin(angle), Lon: lon + size*math.Cos(angle)}
			}
			p := Point{Lat: lat + size + offsetLat, Lon: lon + size + offsetLon}
			inside, err := PointInPolygon(p, ring)
			return err == nil && !inside
		},
		gen.Float64Range(-60, 60),
		gen.Float64Range(-170, 170),
		gen.Float64Range(0.0005, 0.5),
		gen.IntRange(3, 16),
		gen.Float64Range(0.5, 5),
		gen.Float64Range(0.5, 5),
	))

	properties.Property("the centroid of a regular polygon is inside", prop.ForAll(
		func(lat, lon, size float64, n int) bool {
			ring := make([]Point, n)
			for i := 0; i < n; i++ {
				angle := 2 * math.Pi * float64(i) / float64(n)
				ring[i] = Point{Lat: lat + size*math.Sin(angle), Lon: lon + size*math.Cos(angle)}
			}
			inside, err := PointInPolygon(Point{Lat: lat, Lon: lon}, ring)
			return err == nil && inside
		},
		gen.Float64Range(-60, 60),
		gen.Float64Range(-170, 170),
		gen.Float64Range(0.0005, 0.5),
		gen.IntRange(3, 16),
	))

	properties.TestingRun(t)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(Circle{Center: Point{Lat: 1, Lon: 1}, RadiusMeters: 10}))
	assert.NoError(t, Validate(Polygon{Ring: unitSquare}))

	bad := []Shape{
		nil,
		Circle{Center: Point{Lat: 91, Lon: 0}, RadiusMeters: 10},
		Circle{Center: Point{Lat: 0, Lon: 0}, RadiusMeters: 0},
		Polygon{Ring: unitSquare[:2]},
		Polygon{Ring: []Point{{Lat: 0, Lon: 0}, {Lat: 0, Lon: 200}, {Lat: 1, Lon: 1}}},
	}
	for _, s := range bad {
		assert.True(t, errors.Is(Validate(s), apperr.ErrInvalidGeometry), "shape %#v", s)
	}
}

func TestContains_Dispatch(t *testing.T) {
	inside, err := Contains(Circle{Center: Point{Lat: 40, Lon: -3}, RadiusMeters: 50}, Point{Lat: 40.0001, Lon: -3})
	require.NoError(t, err)
	assert.True(t, inside)

	inside, err = Contains(Polygon{Ring: unitSquare}, Point{Lat: 0.5, Lon: 0.5})
	require.NoError(t, err)
	assert.True(t, inside)

	_, err = Contains(nil, Point{})
	assert.True(t, errors.Is(err, apperr.ErrInvalidGeometry))
}

func TestDistanceToBoundary(t *testing.T) {
	c := Circle{Center: Point{Lat: 40, Lon: -3}, RadiusMeters: 50}
	d, err := DistanceToBoundary(c, c.Center)
	require.NoError(t, err)
	assert.InDelta(t, 50, d, 1e-6)

	d, err = DistanceToBoundary(c, Point{Lat: 40.001, Lon: -3})
	require.NoError(t, err)
	assert.InDelta(t, 61.19, d, 0.5)

	// 0.001 degrees north of the top edge of a small square at latitude 40.
	square := Polygon{Ring: []Point{{Lat: 40, Lon: -3}, {Lat: 40.01, Lon: -3}, {Lat: 40.01, Lon: -2.99}, {Lat: 40, Lon: -2.99}}}
	d, err = DistanceToBoundary(square, Point{Lat: 40.011, Lon: -2.995})
	require.NoError(t, err)
	assert.InDelta(t, 111.19, d, 1.0)
}
