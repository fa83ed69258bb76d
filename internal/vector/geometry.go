package vector

import (
	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"go.uber.org/zap"
)

// ToGeom converts a shapefile shape to a 2D go-geom geometry tagged with
// srid. Z and M ordinates are dropped. Null shapes yield nil, nil.
func ToGeom(shape shp.Shape, srid int) (geom.T, error) {
	switch s := shape.(type) {
	case nil, *shp.Null:
		return nil, nil
	case *shp.Point:
		return geom.NewPointFlat(geom.XY, []float64{s.X, s.Y}).SetSRID(srid), nil
	case *shp.PointZ:
		return geom.NewPointFlat(geom.XY, []float64{s.X, s.Y}).SetSRID(srid), nil
	case *shp.PointM:
		return geom.NewPointFlat(geom.XY, []float64{s.X, s.Y}).SetSRID(srid), nil
	case *shp.MultiPoint:
		return multiPoint(s.Points, srid), nil
	case *shp.MultiPointZ:
		return multiPoint(s.Points, srid), nil
	case *shp.MultiPointM:
		return multiPoint(s.Points, srid), nil
	case *shp.PolyLine:
		return multiLineString(s.Points, s.Parts, srid), nil
	case *shp.PolyLineZ:
		return multiLineString(s.Points, s.Parts, srid), nil
	case *shp.PolyLineM:
		return multiLineString(s.Points, s.Parts, srid), nil
	case *shp.Polygon:
		return multiPolygon(s.Points, s.Parts, srid), nil
	case *shp.PolygonZ:
		return multiPolygon(s.Points, s.Parts, srid), nil
	case *shp.PolygonM:
		return multiPolygon(s.Points, s.Parts, srid), nil
	default:
		return nil, eris.Errorf("vector: unsupported shape %T", shape)
	}
}

// EncodeEWKB encodes g as little-endian EWKB, carrying its SRID.
func EncodeEWKB(g geom.T) ([]byte, error) {
	if g == nil {
		return nil, nil
	}
	data, err := ewkb.Marshal(g, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "vector: encode ewkb")
	}
	return data, nil
}

func multiPoint(pts []shp.Point, srid int) geom.T {
	flat := make([]float64, 0, len(pts)*2)
	for _, p := range pts {
		flat = append(flat, p.X, p.Y)
	}
	return geom.NewMultiPointFlat(geom.XY, flat).SetSRID(srid)
}

// partRanges splits a shapefile point array into [start, end) ranges.
func partRanges(parts []int32, n int) [][2]int {
	out := make([][2]int, 0, len(parts))
	for i, start := range parts {
		end := n
		if i+1 < len(parts) {
			end = int(parts[i+1])
		}
		if int(start) < 0 || int(start) >= end || end > n {
			continue
		}
		out = append(out, [2]int{int(start), end})
	}
	return out
}

func flatRange(pts []shp.Point, r [2]int) []float64 {
	flat := make([]float64, 0, (r[1]-r[0])*2)
	for _, p := range pts[r[0]:r[1]] {
		flat = append(flat, p.X, p.Y)
	}
	return flat
}

func multiLineString(pts []shp.Point, parts []int32, srid int) geom.T {
	mls := geom.NewMultiLineString(geom.XY).SetSRID(srid)
	for i, r := range partRanges(parts, len(pts)) {
		ls := geom.NewLineStringFlat(geom.XY, flatRange(pts, r))
		if err := mls.Push(ls); err != nil {
			zap.L().Debug("vector: skipping malformed line part", zap.Int("part", i), zap.Error(err))
		}
	}
	if mls.NumLineStrings() == 0 {
		return nil
	}
	return mls
}

type ringGroup struct {
	outer []float64
	holes [][]float64
}

// multiPolygon groups shapefile rings into polygons. Clockwise rings are
// outer boundaries and counter-clockwise rings are holes of the outer ring
// that contains them (or of the preceding outer ring). When a shape has no
// clockwise ring at all, every ring is treated as an outer boundary.
func multiPolygon(pts []shp.Point, parts []int32, srid int) geom.T {
	var rings [][]float64
	var areas []float64
	for _, r := range partRanges(parts, len(pts)) {
		flat := flatRange(pts, r)
		if len(flat) < 8 {
			continue
		}
		a := signedArea(flat)
		if a == 0 {
			continue
		}
		rings = append(rings, flat)
		areas = append(areas, a)
	}

	anyClockwise := false
	for _, a := range areas {
		if a < 0 {
			anyClockwise = true
			break
		}
	}

	var groups []*ringGroup
	for i, ring := range rings {
		if areas[i] < 0 || !anyClockwise {
			groups = append(groups, &ringGroup{outer: ring})
			continue
		}
		owner := -1
		for j := len(groups) - 1; j >= 0; j-- {
			if ringContains(groups[j].outer, ring[0], ring[1]) {
				owner = j
				break
			}
		}
		if owner < 0 {
			owner = len(groups) - 1
		}
		if owner < 0 {
			groups = append(groups, &ringGroup{outer: ring})
			continue
		}
		groups[owner].holes = append(groups[owner].holes, ring)
	}

	mp := geom.NewMultiPolygon(geom.XY).SetSRID(srid)
	for i, g := range groups {
		poly := geom.NewPolygon(geom.XY)
		if err := poly.Push(geom.NewLinearRingFlat(geom.XY, g.outer)); err != nil {
			zap.L().Debug("vector: skipping malformed polygon ring", zap.Int("part", i), zap.Error(err))
			continue
		}
		for _, h := range g.holes {
			if err := poly.Push(geom.NewLinearRingFlat(geom.XY, h)); err != nil {
				zap.L().Debug("vector: skipping malformed hole", zap.Int("part", i), zap.Error(err))
			}
		}
		if err := mp.Push(poly); err != nil {
			zap.L().Debug("vector: skipping malformed polygon part", zap.Int("part", i), zap.Error(err))
		}
	}
	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}

// signedArea is the shoelace area of a flat XY ring; negative when the ring
// runs clockwise.
func signedArea(flat []float64) float64 {
	var sum float64
	n := len(flat) / 2
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		sum += flat[2*i]*flat[2*j+1] - flat[2*j]*flat[2*i+1]
	}
	return sum / 2
}

// ringContains is an even-odd ray cast against one flat XY ring.
func ringContains(flat []float64, x, y float64) bool {
	inside := false
	n := len(flat) / 2
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := flat[2*i], flat[2*i+1]
		xj, yj := flat[2*j], flat[2*j+1]
		if (yi > y) != (yj > y) && x < (xj-xi)*(y-yi)/(yj-yi)+xi {
			inside = !inside
		}
	}
	return inside
}

// PolygonContains reports whether (x, y) is inside p, honouring holes.
func PolygonContains(p *geom.Polygon, x, y float64) bool {
	inside := false
	for i := 0; i < p.NumLinearRings(); i++ {
		if ringContains(p.LinearRing(i).FlatCoords(), x, y) {
			inside = !inside
		}
	}
	return inside
}

// Contains reports whether (x, y) is inside a polygonal geometry. Other
// geometry types never contain a point.
func Contains(g geom.T, x, y float64) bool {
	switch t := g.(type) {
	case *geom.Polygon:
		return PolygonContains(t, x, y)
	case *geom.MultiPolygon:
		for i := 0; i < t.NumPolygons(); i++ {
			if PolygonContains(t.Polygon(i), x, y) {
				return true
			}
		}
	}
	return false
}
