package raster

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/rotisserie/eris"
)

// TIFF tag numbers used by the codec.
const (
	tagImageWidth          = 256
	tagImageLength         = 257
	tagBitsPerSample       = 258
	tagCompression         = 259
	tagPhotometric         = 262
	tagStripOffsets        = 273
	tagSamplesPerPixel     = 277
	tagRowsPerStrip        = 278
	tagStripByteCounts     = 279
	tagPlanarConfiguration = 284
	tagPredictor           = 317
	tagTileWidth           = 322
	tagSampleFormat        = 339
	tagModelPixelScale     = 33550
	tagModelTiepoint       = 33922
	tagGeoKeyDirectory     = 34735
	tagGDALNoData          = 42113
)

// TIFF field types.
const (
	typeByte      = 1
	typeASCII     = 2
	typeShort     = 3
	typeLong      = 4
	typeRational  = 5
	typeSByte     = 6
	typeUndefined = 7
	typeSShort    = 8
	typeSLong     = 9
	typeSRational = 10
	typeFloat     = 11
	typeDouble    = 12
)

var typeSizes = map[uint16]int{
	typeByte: 1, typeASCII: 1, typeShort: 2, typeLong: 4, typeRational: 8,
	typeSByte: 1, typeUndefined: 1, typeSShort: 2, typeSLong: 4,
	typeSRational: 8, typeFloat: 4, typeDouble: 8,
}

// GeoKey ids.
const (
	keyModelType        = 1024
	keyRasterType       = 1025
	keyGeographicType   = 2048
	keyProjectedCSType  = 3072
	modelTypeProjected  = 1
	modelTypeGeographic = 2
	rasterPixelIsArea   = 1
	userDefinedKey      = 32767
)

type ifdEntry struct {
	tag     uint16
	typ     uint16
	count   uint32
	payload []byte
}

// WriteGeoTIFF writes g as an uncompressed single-band float32 GeoTIFF.
// The file is written to a sibling temp file and renamed into place so
// readers never observe a partial raster.
func WriteGeoTIFF(path string, g *Grid) error {
	if err := g.Validate(); err != nil {
		return eris.Wrapf(err, "raster: write %s", path)
	}

	data, err := encodeGeoTIFF(g)
	if err != nil {
		return eris.Wrapf(err, "raster: encode %s", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "raster: create directory for %s", path)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return eris.Wrapf(err, "raster: write %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return eris.Wrapf(err, "raster: rename %s", tmp)
	}
	return nil
}

func encodeGeoTIFF(g *Grid) ([]byte, error) {
	le := binary.LittleEndian
	imageBytes := g.Width * g.Height * 4
	if uint64(imageBytes) > math.MaxUint32-(1<<20) {
		return nil, eris.Errorf("raster: %dx%d grid exceeds classic TIFF size", g.Width, g.Height)
	}

	short := func(v uint16) []byte { b := make([]byte, 2); le.PutUint16(b, v); return b }
	long := func(v uint32) []byte { b := make([]byte, 4); le.PutUint32(b, v); return b }
	doubles := func(vs ...float64) []byte {
		b := make([]byte, 8*len(vs))
		for i, v := range vs {
			le.PutUint64(b[i*8:], math.Float64bits(v))
		}
		return b
	}

	entries := []ifdEntry{
		{tagImageWidth, typeLong, 1, long(uint32(g.Width))},
		{tagImageLength, typeLong, 1, long(uint32(g.Height))},
		{tagBitsPerSample, typeShort, 1, short(32)},
		{tagCompression, typeShort, 1, short(1)},
		{tagPhotometric, typeShort, 1, short(1)},
		{tagStripOffsets, typeLong, 1, long(0)}, // patched below
		{tagSamplesPerPixel, typeShort, 1, short(1)},
		{tagRowsPerStrip, typeLong, 1, long(uint32(g.Height))},
		{tagStripByteCounts, typeLong, 1, long(uint32(imageBytes))},
		{tagPlanarConfiguration, typeShort, 1, short(1)},
		{tagSampleFormat, typeShort, 1, short(3)},
		{tagModelPixelScale, typeDouble, 3, doubles(g.CellSize, g.CellSize, 0)},
		{tagModelTiepoint, typeDouble, 6, doubles(0, 0, 0, g.Extent.XMin, g.Extent.YMax, 0)},
	}

	keys := geoKeys(g.EPSG)
	keyBytes := make([]byte, 0, len(keys)*2)
	for _, k := range keys {
		keyBytes = append(keyBytes, short(k)...)
	}
	entries = append(entries, ifdEntry{tagGeoKeyDirectory, typeShort, uint32(len(keys)), keyBytes})

	if g.HasNoData {
		nd := []byte(strconv.FormatFloat(g.NoData, 'g', -1, 64) + "\x00")
		entries = append(entries, ifdEntry{tagGDALNoData, typeASCII, uint32(len(nd)), nd})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })

	// Layout: header | IFD | out-of-line values | image data.
	ifdSize := 2 + 12*len(entries) + 4
	offset := 8 + ifdSize
	extOffsets := make([]int, len(entries))
	for i, e := range entries {
		if len(e.payload) <= 4 {
			continue
		}
		if offset%2 == 1 {
			offset++
		}
		extOffsets[i] = offset
		offset += len(e.payload)
	}
	if offset%4 != 0 {
		offset += 4 - offset%4
	}
	dataOffset := offset
	for i := range entries {
		if entries[i].tag == tagStripOffsets {
			entries[i].payload = long(uint32(dataOffset))
		}
	}

	buf := bytes.NewBuffer(make([]byte, 0, dataOffset+imageBytes))
	buf.WriteString("II")
	buf.Write(short(42))
	buf.Write(long(8))

	buf.Write(short(uint16(len(entries))))
	for i, e := range entries {
		buf.Write(short(e.tag))
		buf.Write(short(e.typ))
		buf.Write(long(e.count))
		if len(e.payload) <= 4 {
			inline := make([]byte, 4)
			copy(inline, e.payload)
			buf.Write(inline)
		} else {
			buf.Write(long(uint32(extOffsets[i])))
		}
	}
	buf.Write(long(0))

	for i, e := range entries {
		if len(e.payload) <= 4 {
			continue
		}
		for buf.Len() < extOffsets[i] {
			buf.WriteByte(0)
		}
		buf.Write(e.payload)
	}
	for buf.Len() < dataOffset {
		buf.WriteByte(0)
	}

	cell := make([]byte, 4)
	for _, v := range g.Values {
		le.PutUint32(cell, math.Float32bits(float32(v)))
		buf.Write(cell)
	}
	return buf.Bytes(), nil
}

func geoKeys(epsg int) []uint16 {
	modelType := uint16(modelTypeProjected)
	crsKey := uint16(keyProjectedCSType)
	if epsg == 4326 || epsg == 4258 || epsg == 4269 {
		modelType = modelTypeGeographic
		crsKey = keyGeographicType
	}

	keys := [][4]uint16{
		{keyModelType, 0, 1, modelType},
		{keyRasterType, 0, 1, rasterPixelIsArea},
	}
	if epsg > 0 && epsg < math.MaxUint16 {
		keys = append(keys, [4]uint16{crsKey, 0, 1, uint16(epsg)})
	}

	out := []uint16{1, 1, 0, uint16(len(keys))}
	for _, k := range keys {
		out = append(out, k[:]...)
	}
	return out
}
