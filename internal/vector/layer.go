// Package vector reads ESRI shapefiles into feature layers and edits their
// attribute tables.
package vector

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/sells-group/drastic-cli/internal/failure"
)

// Field describes one dBase attribute column.
type Field struct {
	Name     string
	Type     byte
	Size     int
	Decimals int
}

// Numeric reports whether the column holds N or F values.
func (f Field) Numeric() bool { return f.Type == 'N' || f.Type == 'F' }

func (f Field) dbf() shp.Field {
	out := shp.Field{Fieldtype: f.Type, Size: uint8(f.Size), Precision: uint8(f.Decimals)}
	copy(out.Name[:], f.Name)
	return out
}

// Feature is one shapefile record. Attrs holds the raw cell text of every
// field; an empty string is a null value.
type Feature struct {
	Index    int
	Shape    shp.Shape
	Geometry geom.T
	Attrs    []string
}

// Layer is a fully loaded shapefile.
type Layer struct {
	Path      string
	ShapeType shp.ShapeType
	Fields    []Field
	Features  []Feature
	Bounds    shp.Box
	EPSG      int

	enc encoding.Encoding
}

// Open loads the shapefile at path together with its .dbf table. A .prj
// sidecar supplies the EPSG code when it can be recognised and a .cpg
// sidecar selects the attribute character set. Any failure is a LayerLoad
// error.
func Open(path string) (*Layer, error) {
	l, err := open(path)
	if err != nil {
		return nil, failure.New(failure.LayerLoad, err)
	}
	return l, nil
}

func open(path string) (*Layer, error) {
	if !strings.EqualFold(filepath.Ext(path), ".shp") {
		return nil, eris.Errorf("vector: %s is not a .shp file", path)
	}
	stem := strings.TrimSuffix(path, filepath.Ext(path))
	if _, err := os.Stat(path); err != nil {
		return nil, eris.Wrapf(err, "vector: open %s", path)
	}
	if _, err := os.Stat(stem + ".dbf"); err != nil {
		return nil, eris.Wrapf(err, "vector: attribute table for %s", path)
	}

	enc, err := readCodePage(stem + ".cpg")
	if err != nil {
		return nil, err
	}

	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "vector: open shapefile %s", path)
	}
	defer reader.Close() //nolint:errcheck

	l := &Layer{
		Path:      path,
		ShapeType: reader.GeometryType,
		Bounds:    reader.BBox(),
		EPSG:      readPrj(stem + ".prj"),
		enc:       enc,
	}
	for _, f := range reader.Fields() {
		l.Fields = append(l.Fields, Field{
			Name:     strings.TrimSpace(f.String()),
			Type:     f.Fieldtype,
			Size:     int(f.Size),
			Decimals: int(f.Precision),
		})
	}

	records := reader.AttributeCount()
	var skipped int
	for reader.Next() {
		idx, shape := reader.Shape()
		if idx >= records {
			return nil, eris.Errorf("vector: %s has more shapes than attribute rows (%d)", path, records)
		}
		g, gErr := ToGeom(shape, l.EPSG)
		if gErr != nil || g == nil {
			skipped++
		}
		attrs := make([]string, len(l.Fields))
		for i := range l.Fields {
			v, dErr := l.decode(cleanCell(reader.ReadAttribute(idx, i)))
			if dErr != nil {
				return nil, eris.Wrapf(dErr, "vector: decode %s row %d", l.Fields[i].Name, idx)
			}
			attrs[i] = v
		}
		l.Features = append(l.Features, Feature{Index: idx, Shape: shape, Geometry: g, Attrs: attrs})
	}
	if err := reader.Err(); err != nil {
		return nil, eris.Wrapf(err, "vector: read %s", path)
	}

	if skipped > 0 {
		zap.L().Debug("vector: features without usable geometry",
			zap.String("path", path),
			zap.Int("skipped", skipped),
		)
	}
	return l, nil
}

func cleanCell(s string) string {
	return strings.TrimSpace(strings.Trim(s, "\x00"))
}

func (l *Layer) decode(s string) (string, error) {
	if l.enc == nil || s == "" {
		return s, nil
	}
	return l.enc.NewDecoder().String(s)
}

func (l *Layer) encode(s string) (string, error) {
	if l.enc == nil || s == "" {
		return s, nil
	}
	return l.enc.NewEncoder().String(s)
}

// readCodePage resolves a .cpg sidecar to a text encoding. A missing file or
// a UTF-8 code page means cell bytes are used as-is.
func readCodePage(path string) (encoding.Encoding, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "vector: read %s", path)
	}

	name := strings.ToLower(strings.TrimSpace(string(raw)))
	switch name {
	case "", "utf-8", "utf8", "65001":
		return nil, nil
	case "88591", "latin1":
		name = "iso-8859-1"
	case "885915":
		name = "iso-8859-15"
	}
	if _, numErr := strconv.Atoi(name); numErr == nil {
		name = "windows-" + name
	}

	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, eris.Wrapf(err, "vector: unknown code page %q in %s", strings.TrimSpace(string(raw)), path)
	}
	return enc, nil
}

var (
	prjAuthorityRe = regexp.MustCompile(`AUTHORITY\s*\[\s*"EPSG"\s*,\s*"?(\d+)"?\s*\]\s*\]\s*$`)
	prjNameRe      = regexp.MustCompile(`^\s*(PROJCS|GEOGCS)\s*\[\s*"([^"]+)"`)
)

// knownPrj maps ESRI WKT coordinate system names, which usually carry no
// authority clause, to EPSG codes.
var knownPrj = map[string]int{
	"ETRS_1989_Portugal_TM06":                3763,
	"ETRS89_Portugal_TM06":                   3763,
	"ETRS89 / Portugal TM06":                 3763,
	"Datum_73_Hayford_Gauss_IPCC":            27492,
	"Datum_Lisboa_Hayford_Gauss_IGeoE":       20790,
	"GCS_WGS_1984":                           4326,
	"WGS 84":                                 4326,
	"GCS_ETRS_1989":                          4258,
	"WGS_1984_Web_Mercator_Auxiliary_Sphere": 3857,
	"ETRS_1989_UTM_Zone_29N":                 25829,
}

// readPrj extracts the EPSG code of a .prj file, or 0 when absent or
// unrecognised.
func readPrj(path string) int {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	wkt := strings.TrimSpace(string(raw))
	if m := prjAuthorityRe.FindStringSubmatch(wkt); m != nil {
		if code, err := strconv.Atoi(m[1]); err == nil {
			return code
		}
	}
	if m := prjNameRe.FindStringSubmatch(wkt); m != nil {
		return knownPrj[m[2]]
	}
	return 0
}

// FieldIndex returns the index of the named field (case-insensitive), or
// -1.
func (l *Layer) FieldIndex(name string) int {
	for i, f := range l.Fields {
		if strings.EqualFold(f.Name, name) {
			return i
		}
	}
	return -1
}

// Value returns the text of field on feature; ok is false for a null cell.
func (l *Layer) Value(feature, field int) (string, bool) {
	v := l.Features[feature].Attrs[field]
	return v, v != ""
}

// Float parses field on feature as a number. ok is false for a null cell.
func (l *Layer) Float(feature, field int) (v float64, ok bool, err error) {
	raw, ok := l.Value(feature, field)
	if !ok {
		return 0, false, nil
	}
	v, err = strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, true, eris.Errorf("vector: %s feature %d: %s value %q is not numeric",
			filepath.Base(l.Path), feature, l.Fields[field].Name, raw)
	}
	return v, true, nil
}

// IsPoint reports whether the layer stores point or multipoint shapes.
func (l *Layer) IsPoint() bool {
	switch l.ShapeType {
	case shp.POINT, shp.POINTZ, shp.POINTM, shp.MULTIPOINT, shp.MULTIPOINTZ, shp.MULTIPOINTM:
		return true
	}
	return false
}

// Observation is one sampled value at a map location.
type Observation struct {
	X, Y  float64
	Value float64
}

// Observations returns the numeric attr values of a point layer, one per
// point. Features whose attr is null are skipped. A non-point layer, a
// missing field or a non-numeric value is an InputValidation error.
func (l *Layer) Observations(attr string) ([]Observation, error) {
	if !l.IsPoint() {
		return nil, failure.Newf(failure.InputValidation,
			"vector: %s is a %s layer, need points", filepath.Base(l.Path), shapeTypeName(l.ShapeType))
	}
	field := l.FieldIndex(attr)
	if field < 0 {
		return nil, failure.Newf(failure.InputValidation,
			"vector: %s has no field %q", filepath.Base(l.Path), attr)
	}

	obs := make([]Observation, 0, len(l.Features))
	var nulls int
	for i, f := range l.Features {
		v, ok, err := l.Float(i, field)
		if err != nil {
			return nil, failure.New(failure.InputValidation, err)
		}
		if !ok {
			nulls++
			continue
		}
		switch g := f.Geometry.(type) {
		case *geom.Point:
			obs = append(obs, Observation{X: g.X(), Y: g.Y(), Value: v})
		case *geom.MultiPoint:
			flat := g.FlatCoords()
			for j := 0; j+1 < len(flat); j += 2 {
				obs = append(obs, Observation{X: flat[j], Y: flat[j+1], Value: v})
			}
		}
	}
	if nulls > 0 {
		zap.L().Debug("vector: skipped null observations",
			zap.String("path", l.Path),
			zap.String("field", attr),
			zap.Int("skipped", nulls),
		)
	}
	return obs, nil
}

func shapeTypeName(t shp.ShapeType) string {
	switch t {
	case shp.NULL:
		return "null"
	case shp.POINT, shp.POINTZ, shp.POINTM:
		return "point"
	case shp.MULTIPOINT, shp.MULTIPOINTZ, shp.MULTIPOINTM:
		return "multipoint"
	case shp.POLYLINE, shp.POLYLINEZ, shp.POLYLINEM:
		return "polyline"
	case shp.POLYGON, shp.POLYGONZ, shp.POLYGONM:
		return "polygon"
	case shp.MULTIPATCH:
		return "multipatch"
	}
	return "type " + strconv.Itoa(int(t))
}
