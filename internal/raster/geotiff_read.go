package raster

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/image/tiff/lzw"
)

type tiffField struct {
	typ   uint16
	count uint32
	raw   []byte
}

type tiffReader struct {
	data   []byte
	order  binary.ByteOrder
	fields map[uint16]tiffField
}

// ReadGeoTIFF decodes the first band of a GeoTIFF. Strip-organised files
// with no, LZW or Deflate compression are supported; tiled and BigTIFF
// files are rejected.
func ReadGeoTIFF(path string) (*Grid, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "raster: read %s", path)
	}
	g, err := decodeGeoTIFF(data)
	if err != nil {
		return nil, eris.Wrapf(err, "raster: decode %s", path)
	}
	return g, nil
}

func decodeGeoTIFF(data []byte) (*Grid, error) {
	if len(data) < 8 {
		return nil, eris.New("file too short for a TIFF header")
	}

	r := &tiffReader{data: data, fields: make(map[uint16]tiffField)}
	switch string(data[:2]) {
	case "II":
		r.order = binary.LittleEndian
	case "MM":
		r.order = binary.BigEndian
	default:
		return nil, eris.New("not a TIFF file")
	}
	switch magic := r.order.Uint16(data[2:4]); magic {
	case 42:
	case 43:
		return nil, eris.New("BigTIFF is not supported")
	default:
		return nil, eris.Errorf("bad TIFF magic %d", magic)
	}

	if err := r.readIFD(r.order.Uint32(data[4:8])); err != nil {
		return nil, err
	}
	if _, tiled := r.fields[tagTileWidth]; tiled {
		return nil, eris.New("tiled TIFF is not supported")
	}

	width := int(r.uint(tagImageWidth, 0))
	height := int(r.uint(tagImageLength, 0))
	if width <= 0 || height <= 0 {
		return nil, eris.Errorf("invalid image size %dx%d", width, height)
	}

	spp := int(r.uint(tagSamplesPerPixel, 1))
	bps := int(r.uint(tagBitsPerSample, 8))
	format := int(r.uint(tagSampleFormat, 1))
	compression := int(r.uint(tagCompression, 1))
	predictor := int(r.uint(tagPredictor, 1))
	planar := int(r.uint(tagPlanarConfiguration, 1))
	rowsPerStrip := int(r.uint(tagRowsPerStrip, uint64(height)))
	if rowsPerStrip <= 0 || rowsPerStrip > height {
		rowsPerStrip = height
	}
	if bps%8 != 0 || bps == 0 {
		return nil, eris.Errorf("unsupported bits per sample %d", bps)
	}

	offsets := r.uints(tagStripOffsets)
	counts := r.uints(tagStripByteCounts)
	if len(offsets) == 0 || len(offsets) != len(counts) {
		return nil, eris.New("missing or inconsistent strip tables")
	}

	// Only the first band is decoded. With planar configuration 2 the first
	// band occupies the first strips; with 1 samples are interleaved.
	pixelStride := spp
	stripsPerBand := (height + rowsPerStrip - 1) / rowsPerStrip
	if planar == 2 {
		pixelStride = 1
		if len(offsets) < stripsPerBand {
			return nil, eris.New("strip table shorter than one band")
		}
		offsets, counts = offsets[:stripsPerBand], counts[:stripsPerBand]
	}

	bytesPerSample := bps / 8
	rowBytes := width * pixelStride * bytesPerSample
	raw := make([]byte, 0, rowBytes*height)
	for i, off := range offsets {
		end := off + counts[i]
		if end > uint64(len(data)) || off > end {
			return nil, eris.Errorf("strip %d out of file bounds", i)
		}
		strip, err := decompress(data[off:end], compression)
		if err != nil {
			return nil, eris.Wrapf(err, "strip %d", i)
		}
		rows := rowsPerStrip
		if remaining := height - i*rowsPerStrip; remaining < rows {
			rows = remaining
		}
		want := rows * rowBytes
		if len(strip) < want {
			return nil, eris.Errorf("strip %d holds %d bytes, want %d", i, len(strip), want)
		}
		raw = append(raw, strip[:want]...)
	}

	switch predictor {
	case 1:
	case 2:
		if format == 3 {
			return nil, eris.New("horizontal predictor on floating point samples is not supported")
		}
		undoHorizontalDifferencing(raw, r.order, width, height, pixelStride, bytesPerSample)
	default:
		return nil, eris.Errorf("unsupported predictor %d", predictor)
	}

	decode, err := sampleDecoder(r.order, format, bps)
	if err != nil {
		return nil, err
	}

	spec, err := r.gridSpec(width, height)
	if err != nil {
		return nil, err
	}
	g := New(spec)
	sampleBytes := pixelStride * bytesPerSample
	for i := range g.Values {
		pos := i * sampleBytes
		g.Values[i] = decode(raw[pos : pos+bytesPerSample])
	}

	if f, ok := r.fields[tagGDALNoData]; ok {
		s := strings.TrimSpace(strings.TrimRight(string(f.raw), "\x00"))
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			g.SetNoData(v)
		}
	}
	return g, nil
}

func (r *tiffReader) readIFD(offset uint32) error {
	d := r.data
	if uint64(offset)+2 > uint64(len(d)) {
		return eris.New("IFD offset out of bounds")
	}
	n := int(r.order.Uint16(d[offset:]))
	pos := int(offset) + 2
	if pos+12*n > len(d) {
		return eris.New("IFD truncated")
	}
	for i := 0; i < n; i++ {
		e := d[pos+12*i : pos+12*i+12]
		tag := r.order.Uint16(e[0:2])
		typ := r.order.Uint16(e[2:4])
		count := r.order.Uint32(e[4:8])
		size, ok := typeSizes[typ]
		if !ok {
			continue
		}
		total := uint64(size) * uint64(count)
		var raw []byte
		if total <= 4 {
			raw = e[8 : 8+total]
		} else {
			off := uint64(r.order.Uint32(e[8:12]))
			if off+total > uint64(len(d)) {
				return eris.Errorf("tag %d value out of bounds", tag)
			}
			raw = d[off : off+total]
		}
		r.fields[tag] = tiffField{typ: typ, count: count, raw: raw}
	}
	return nil
}

func (r *tiffReader) uints(tag uint16) []uint64 {
	f, ok := r.fields[tag]
	if !ok {
		return nil
	}
	out := make([]uint64, 0, f.count)
	for i := 0; i < int(f.count); i++ {
		switch f.typ {
		case typeByte, typeUndefined:
			out = append(out, uint64(f.raw[i]))
		case typeShort:
			out = append(out, uint64(r.order.Uint16(f.raw[i*2:])))
		case typeLong:
			out = append(out, uint64(r.order.Uint32(f.raw[i*4:])))
		default:
			return out
		}
	}
	return out
}

func (r *tiffReader) uint(tag uint16, def uint64) uint64 {
	if vs := r.uints(tag); len(vs) > 0 {
		return vs[0]
	}
	return def
}

func (r *tiffReader) doubles(tag uint16) []float64 {
	f, ok := r.fields[tag]
	if !ok || f.typ != typeDouble {
		return nil
	}
	out := make([]float64, f.count)
	for i := range out {
		out[i] = math.Float64frombits(r.order.Uint64(f.raw[i*8:]))
	}
	return out
}

func (r *tiffReader) gridSpec(width, height int) (GridSpec, error) {
	scale := r.doubles(tagModelPixelScale)
	tie := r.doubles(tagModelTiepoint)
	if len(scale) < 2 || len(tie) < 6 {
		return GridSpec{}, eris.New("missing GeoTIFF pixel scale or tiepoint")
	}
	sx, sy := scale[0], scale[1]
	if !(sx > 0) || !(sy > 0) {
		return GridSpec{}, eris.Errorf("invalid pixel scale %v x %v", sx, sy)
	}
	if math.Abs(sx-sy) > 1e-6*sx {
		return GridSpec{}, eris.Errorf("non-square cells %v x %v are not supported", sx, sy)
	}

	xmin := tie[3] - tie[0]*sx
	ymax := tie[4] + tie[1]*sy
	return GridSpec{
		Extent: Extent{
			XMin: xmin,
			YMin: ymax - float64(height)*sx,
			XMax: xmin + float64(width)*sx,
			YMax: ymax,
		},
		CellSize: sx,
		Width:    width,
		Height:   height,
		EPSG:     r.epsg(),
	}, nil
}

func (r *tiffReader) epsg() int {
	keys := r.uints(tagGeoKeyDirectory)
	if len(keys) < 4 {
		return 0
	}
	n := int(keys[3])
	for i := 0; i < n && 4+i*4+3 < len(keys); i++ {
		k := keys[4+i*4 : 8+i*4]
		if (k[0] == keyProjectedCSType || k[0] == keyGeographicType) && k[1] == 0 && k[3] != userDefinedKey {
			return int(k[3])
		}
	}
	return 0
}

func decompress(b []byte, compression int) ([]byte, error) {
	switch compression {
	case 1:
		return b, nil
	case 5:
		rc := lzw.NewReader(bytes.NewReader(b), lzw.MSB, 8)
		defer rc.Close() //nolint:errcheck
		out, err := io.ReadAll(rc)
		return out, eris.Wrap(err, "lzw")
	case 8, 32946:
		zr, err := zlib.NewReader(bytes.NewReader(b))
		if err != nil {
			return nil, eris.Wrap(err, "deflate")
		}
		defer zr.Close() //nolint:errcheck
		out, err := io.ReadAll(zr)
		return out, eris.Wrap(err, "deflate")
	default:
		return nil, eris.Errorf("unsupported compression %d", compression)
	}
}

func undoHorizontalDifferencing(raw []byte, order binary.ByteOrder, width, height, stride, size int) {
	rowBytes := width * stride * size
	for row := 0; row < height; row++ {
		line := raw[row*rowBytes : (row+1)*rowBytes]
		for i := stride * size; i < len(line); i += size {
			prev := i - stride*size
			switch size {
			case 1:
				line[i] += line[prev]
			case 2:
				order.PutUint16(line[i:], order.Uint16(line[i:])+order.Uint16(line[prev:]))
			case 4:
				order.PutUint32(line[i:], order.Uint32(line[i:])+order.Uint32(line[prev:]))
			}
		}
	}
}

func sampleDecoder(order binary.ByteOrder, format, bps int) (func([]byte) float64, error) {
	switch {
	case format == 3 && bps == 32:
		return func(b []byte) float64 { return float64(math.Float32frombits(order.Uint32(b))) }, nil
	case format == 3 && bps == 64:
		return func(b []byte) float64 { return math.Float64frombits(order.Uint64(b)) }, nil
	case format == 2 && bps == 8:
		return func(b []byte) float64 { return float64(int8(b[0])) }, nil
	case format == 2 && bps == 16:
		return func(b []byte) float64 { return float64(int16(order.Uint16(b))) }, nil
	case format == 2 && bps == 32:
		return func(b []byte) float64 { return float64(int32(order.Uint32(b))) }, nil
	case format == 1 && bps == 8:
		return func(b []byte) float64 { return float64(b[0]) }, nil
	case format == 1 && bps == 16:
		return func(b []byte) float64 { return float64(order.Uint16(b)) }, nil
	case format == 1 && bps == 32:
		return func(b []byte) float64 { return float64(order.Uint32(b)) }, nil
	default:
		return nil, eris.Errorf("unsupported sample format %d with %d bits", format, bps)
	}
}
