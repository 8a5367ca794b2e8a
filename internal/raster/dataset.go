package raster

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/paulmach/orb"

	"rastermap/internal/geo"
)

// TIFF tag IDs we care about
const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagPhotometric     = 262
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagPlanarConfig    = 284
	tagPredictor       = 317
	tagTileWidth       = 322
	tagTileLength      = 323
	tagTileOffsets     = 324
	tagTileByteCounts  = 325
	tagSampleFormat    = 339
	tagNewSubfileType  = 254
	tagModelPixelScale = 33550
	tagModelTiepoint   = 33922
	tagGeoKeyDirectory = 34735
	tagGDALNoData      = 42113
)

// TIFF data types
const (
	tiffByte   = 1
	tiffASCII  = 2
	tiffShort  = 3
	tiffLong   = 4
	tiffFloat  = 11
	tiffDouble = 12
)

// GeoKey IDs
const (
	geoKeyProjectedCSType = 3072
	geoKeyGeographicType  = 2048
)

// Dataset is a GeoTIFF opened for reading: decoded samples plus
// georeferencing. Supports uncompressed and DEFLATE strip/tile layouts
// with band-interleaved (chunky) pixels.
type Dataset struct {
	Width, Height int
	Count         int
	DType         DataType
	Data          []float64 // band-major, Count*Height*Width
	NoData        float64
	HasNoData     bool
	Bounds        orb.Bound
	CRS           geo.CRS
	Transform     geo.Affine
}

// OpenDataset reads and decodes a GeoTIFF from disk.
func OpenDataset(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("raster: opening %s: %w", path, err)
	}
	ds, err := ParseGeoTIFF(data)
	if err != nil {
		return nil, fmt.Errorf("raster: %s: %w", path, err)
	}
	return ds, nil
}

// ParseGeoTIFF decodes a GeoTIFF from raw bytes.
func ParseGeoTIFF(data []byte) (*Dataset, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("geotiff: data too short")
	}

	var bo binary.ByteOrder
	switch string(data[:2]) {
	case "II":
		bo = binary.LittleEndian
	case "MM":
		bo = binary.BigEndian
	default:
		return nil, fmt.Errorf("geotiff: invalid byte order marker")
	}

	magic := bo.Uint16(data[2:4])
	if magic != 42 {
		return nil, fmt.Errorf("geotiff: not a TIFF file (magic=%d)", magic)
	}

	ifdOffset := bo.Uint32(data[4:8])
	return parseIFD(data, bo, ifdOffset)
}

type ifdEntry struct {
	tag    uint16
	dtype  uint16
	count  uint32
	valOff uint32
}

func parseIFD(data []byte, bo binary.ByteOrder, offset uint32) (*Dataset, error) {
	if int(offset)+2 > len(data) {
		return nil, fmt.Errorf("geotiff: IFD offset out of range")
	}

	numEntries := int(bo.Uint16(data[offset:]))
	entries := make([]ifdEntry, numEntries)

	pos := int(offset) + 2
	for i := 0; i < numEntries; i++ {
		if pos+12 > len(data) {
			return nil, fmt.Errorf("geotiff: truncated IFD entry")
		}
		entries[i] = ifdEntry{
			tag:    bo.Uint16(data[pos:]),
			dtype:  bo.Uint16(data[pos+2:]),
			count:  bo.Uint32(data[pos+4:]),
			valOff: bo.Uint32(data[pos+8:]),
		}
		pos += 12
	}

	getEntry := func(tag uint16) *ifdEntry {
		for i := range entries {
			if entries[i].tag == tag {
				return &entries[i]
			}
		}
		return nil
	}

	getUint32Value := func(tag uint16) uint32 {
		e := getEntry(tag)
		if e == nil {
			return 0
		}
		sz := typeSize(e.dtype) * int(e.count)
		if sz <= 4 {
			// Inline SHORT values (one or two) occupy the low bytes of
			// the value field; return the first.
			if e.dtype == tiffShort {
				buf := make([]byte, 4)
				bo.PutUint32(buf, e.valOff)
				return uint32(bo.Uint16(buf))
			}
			return e.valOff
		}
		off := e.valOff
		if e.dtype == tiffLong {
			return bo.Uint32(data[off:])
		}
		if e.dtype == tiffShort {
			return uint32(bo.Uint16(data[off:]))
		}
		return e.valOff
	}

	readUint32Array := func(e *ifdEntry) []uint32 {
		if e == nil {
			return nil
		}
		n := int(e.count)
		arr := make([]uint32, n)
		sz := typeSize(e.dtype) * n
		var src []byte
		if sz <= 4 {
			buf := make([]byte, 4)
			bo.PutUint32(buf, e.valOff)
			src = buf
		} else {
			off := int(e.valOff)
			if off+sz > len(data) {
				return nil
			}
			src = data[off:]
		}
		for i := 0; i < n; i++ {
			if e.dtype == tiffShort {
				arr[i] = uint32(bo.Uint16(src[i*2:]))
			} else {
				arr[i] = bo.Uint32(src[i*4:])
			}
		}
		return arr
	}

	readFloat64Array := func(e *ifdEntry) []float64 {
		if e == nil {
			return nil
		}
		n := int(e.count)
		off := int(e.valOff)
		if off+n*8 > len(data) {
			return nil
		}
		arr := make([]float64, n)
		for i := 0; i < n; i++ {
			arr[i] = math.Float64frombits(bo.Uint64(data[off+i*8:]))
		}
		return arr
	}

	width := int(getUint32Value(tagImageWidth))
	height := int(getUint32Value(tagImageLength))
	compression := getUint32Value(tagCompression)
	if compression == 0 {
		compression = 1
	}
	bitsPerSample := getUint32Value(tagBitsPerSample)
	sampleFormat := getUint32Value(tagSampleFormat)
	if sampleFormat == 0 {
		sampleFormat = 1
	}
	count := int(getUint32Value(tagSamplesPerPixel))
	if count == 0 {
		count = 1
	}
	planar := getUint32Value(tagPlanarConfig)
	predictor := getUint32Value(tagPredictor)

	if width == 0 || height == 0 {
		return nil, fmt.Errorf("geotiff: zero image dimensions")
	}
	if planar > 1 {
		return nil, fmt.Errorf("geotiff: planar configuration %d not supported", planar)
	}
	dt, err := DataTypeFromTIFF(bitsPerSample, sampleFormat)
	if err != nil {
		return nil, err
	}

	// Read NoData (GDAL stores it as an ASCII tag)
	var noData float64
	var hasNoData bool
	if e := getEntry(tagGDALNoData); e != nil {
		var s string
		sz := typeSize(e.dtype) * int(e.count)
		if sz <= 4 {
			buf := make([]byte, 4)
			bo.PutUint32(buf, e.valOff)
			s = trimASCII(buf)
		} else {
			off := int(e.valOff)
			end := off
			for end < len(data) && data[end] != 0 {
				end++
			}
			s = string(data[off:end])
		}
		var f float64
		if _, err := fmt.Sscanf(s, "%f", &f); err == nil {
			noData = f
			hasNoData = true
		}
	}

	pixels := make([]float64, count*width*height)
	if hasNoData {
		for i := range pixels {
			pixels[i] = noData
		}
	}

	sampleSize := dt.Size()
	readSample := func(raw []byte, idx int) float64 {
		off := idx * sampleSize
		if off+sampleSize > len(raw) {
			return noData
		}
		return decodeSample(raw[off:], dt, bo)
	}

	// writeChunk deinterleaves a decoded chunk into the band-major pixel
	// buffer at the given origin.
	writeChunk := func(raw []byte, startX, startY, cw, ch int) {
		if predictor > 1 && compression == 1 {
			// Uncompressed chunks alias the input buffer; the predictor
			// undo mutates, so take a copy.
			raw = append([]byte(nil), raw...)
		}
		switch predictor {
		case 2:
			undoHorizontalPredictor(raw, dt, bo, cw, ch, count)
		case 3:
			undoFloatPredictor(raw, dt, cw, ch, count)
		}
		bandStride := width * height
		for row := 0; row < ch; row++ {
			y := startY + row
			if y >= height {
				break
			}
			for col := 0; col < cw; col++ {
				x := startX + col
				if x >= width {
					continue
				}
				base := (row*cw + col) * count
				for b := 0; b < count; b++ {
					pixels[b*bandStride+y*width+x] = readSample(raw, base+b)
				}
			}
		}
	}

	if getEntry(tagTileWidth) != nil {
		tw := int(getUint32Value(tagTileWidth))
		th := int(getUint32Value(tagTileLength))
		offsets := readUint32Array(getEntry(tagTileOffsets))
		byteCounts := readUint32Array(getEntry(tagTileByteCounts))
		if len(offsets) == 0 {
			return nil, fmt.Errorf("geotiff: no tile offsets")
		}

		tilesX := (width + tw - 1) / tw
		tilesY := (height + th - 1) / th
		for ty := 0; ty < tilesY; ty++ {
			for tx := 0; tx < tilesX; tx++ {
				idx := ty*tilesX + tx
				if idx >= len(offsets) {
					break
				}
				raw, err := decompressChunk(data, offsets[idx], byteCounts[idx], compression)
				if err != nil {
					return nil, fmt.Errorf("geotiff: tile (%d,%d): %w", tx, ty, err)
				}
				writeChunk(raw, tx*tw, ty*th, tw, th)
			}
		}
	} else {
		rowsPerStrip := int(getUint32Value(tagRowsPerStrip))
		if rowsPerStrip == 0 {
			rowsPerStrip = height
		}
		offsets := readUint32Array(getEntry(tagStripOffsets))
		byteCounts := readUint32Array(getEntry(tagStripByteCounts))
		if len(offsets) == 0 {
			return nil, fmt.Errorf("geotiff: no strip offsets")
		}

		y := 0
		for i, off := range offsets {
			bc := uint32(0)
			if i < len(byteCounts) {
				bc = byteCounts[i]
			}
			raw, err := decompressChunk(data, off, bc, compression)
			if err != nil {
				return nil, fmt.Errorf("geotiff: strip %d: %w", i, err)
			}
			rows := rowsPerStrip
			if y+rows > height {
				rows = height - y
			}
			writeChunk(raw, 0, y, width, rows)
			y += rows
		}
	}

	ds := &Dataset{
		Width:     width,
		Height:    height,
		Count:     count,
		DType:     dt,
		Data:      pixels,
		NoData:    noData,
		HasNoData: hasNoData,
	}

	// ModelPixelScaleTag + ModelTiepointTag → transform and bounds
	scales := readFloat64Array(getEntry(tagModelPixelScale))
	tiepoints := readFloat64Array(getEntry(tagModelTiepoint))
	if len(scales) >= 2 && len(tiepoints) >= 6 {
		scaleX := scales[0]
		scaleY := scales[1]
		tieI, tieJ := tiepoints[0], tiepoints[1]
		tieX, tieY := tiepoints[3], tiepoints[4]

		xMin := tieX - tieI*scaleX
		yMax := tieY + tieJ*scaleY
		ds.Transform = geo.FromOrigin(xMin, yMax, scaleX, scaleY)
		ds.Bounds = orb.Bound{
			Min: orb.Point{xMin, yMax - float64(height)*scaleY},
			Max: orb.Point{xMin + float64(width)*scaleX, yMax},
		}
	}

	// GeoKeyDirectory: groups of 4 SHORTs after the 4-value header
	if e := getEntry(tagGeoKeyDirectory); e != nil {
		keys := readUint32Array(e)
		if len(keys) > 4 {
			nKeys := int(keys[3])
			epsg := 0
			for k := 0; k < nKeys && 4+k*4+3 < len(keys); k++ {
				keyID := keys[4+k*4]
				loc := keys[4+k*4+1]
				val := keys[4+k*4+3]
				if keyID == geoKeyProjectedCSType && loc == 0 {
					epsg = int(val)
				}
				if keyID == geoKeyGeographicType && loc == 0 && epsg == 0 {
					epsg = int(val)
				}
			}
			if epsg != 0 {
				ds.CRS = geo.CRSFromEPSG(epsg)
			}
		}
	}

	return ds, nil
}

// ReadPart resamples the dataset into the requested grid: every output
// pixel center is inverse-projected into the native CRS and sampled
// nearest-neighbor. Pixels outside the source, or equal to the nodata
// value, get mask 0.
func (ds *Dataset) ReadPart(bounds orb.Bound, dstCRS geo.CRS, height, width int, bandNames []string) (*ImageData, error) {
	out := NewImageData(bandNames, height, width, bounds, dstCRS)
	if len(bandNames) != ds.Count {
		return nil, fmt.Errorf("raster: band name count %d does not match dataset count %d", len(bandNames), ds.Count)
	}

	outTransform := geo.FromBounds(bounds, width, height)
	bandStride := ds.Width * ds.Height
	n := width * height

	for row := 0; row < height; row++ {
		for col := 0; col < width; col++ {
			// Pixel center in the output grid
			x, y := outTransform.Apply(float64(col)+0.5, float64(row)+0.5)
			sx, sy, err := geo.Transform(x, y, dstCRS, ds.CRS)
			if err != nil {
				return nil, err
			}
			fc, fr := ds.Transform.Invert(sx, sy)
			sc, sr := int(math.Floor(fc)), int(math.Floor(fr))
			if sc < 0 || sc >= ds.Width || sr < 0 || sr >= ds.Height {
				continue
			}

			valid := true
			for b := 0; b < ds.Count; b++ {
				v := ds.Data[b*bandStride+sr*ds.Width+sc]
				if ds.HasNoData && v == ds.NoData {
					valid = false
				}
				out.Data[b*n+row*width+col] = v
			}
			if valid {
				out.Mask[row*width+col] = 255
			}
		}
	}
	return out, nil
}

func typeSize(dtype uint16) int {
	switch dtype {
	case tiffByte, tiffASCII:
		return 1
	case tiffShort:
		return 2
	case tiffLong, tiffFloat:
		return 4
	case tiffDouble:
		return 8
	default:
		return 1
	}
}

func trimASCII(buf []byte) string {
	end := 0
	for end < len(buf) && buf[end] != 0 {
		end++
	}
	return string(buf[:end])
}

func decodeSample(raw []byte, dt DataType, bo binary.ByteOrder) float64 {
	switch dt {
	case DTUint8:
		return float64(raw[0])
	case DTInt8:
		return float64(int8(raw[0]))
	case DTUint16:
		return float64(bo.Uint16(raw))
	case DTInt16:
		return float64(int16(bo.Uint16(raw)))
	case DTUint32:
		return float64(bo.Uint32(raw))
	case DTInt32:
		return float64(int32(bo.Uint32(raw)))
	case DTFloat32:
		return float64(math.Float32frombits(bo.Uint32(raw)))
	case DTFloat64:
		return math.Float64frombits(bo.Uint64(raw))
	default:
		return 0
	}
}

// undoHorizontalPredictor reverses TIFF predictor 2 (horizontal
// differencing of integer samples) in place.
func undoHorizontalPredictor(raw []byte, dt DataType, bo binary.ByteOrder, cw, ch, count int) {
	if dt.IsFloat() {
		return // predictor 2 applies to integer samples only
	}
	ss := dt.Size()
	rowBytes := cw * count * ss
	for row := 0; row < ch; row++ {
		base := row * rowBytes
		if base+rowBytes > len(raw) {
			break
		}
		for i := count; i < cw*count; i++ {
			off := base + i*ss
			prev := off - count*ss
			switch ss {
			case 1:
				raw[off] += raw[prev]
			case 2:
				bo.PutUint16(raw[off:], bo.Uint16(raw[off:])+bo.Uint16(raw[prev:]))
			case 4:
				bo.PutUint32(raw[off:], bo.Uint32(raw[off:])+bo.Uint32(raw[prev:]))
			}
		}
	}
}

func decompressChunk(data []byte, offset, byteCount, compression uint32) ([]byte, error) {
	off := int(offset)
	bc := int(byteCount)
	if off+bc > len(data) {
		return nil, fmt.Errorf("chunk out of bounds (off=%d bc=%d len=%d)", off, bc, len(data))
	}
	chunk := data[off : off+bc]

	switch compression {
	case 1: // None
		return chunk, nil
	case 8, 32946: // DEFLATE / new-style DEFLATE
		r, err := zlib.NewReader(bytes.NewReader(chunk))
		if err != nil {
			return nil, fmt.Errorf("zlib init: %w", err)
		}
		defer r.Close()
		return io.ReadAll(r)
	default:
		return nil, fmt.Errorf("unsupported compression type %d", compression)
	}
}
