package raster

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"rastermap/internal/geo"
)

// COGBlockSize is the internal tiling edge of written files.
const COGBlockSize = 512

// COGWriter streams a tiled, DEFLATE-compressed cloud-optimized GeoTIFF
// to disk. Pixel windows arrive row-major through WriteWindow; block
// data is compressed and appended immediately, and the IFDs (main image
// plus a full-resolution validity mask) are assembled on Close with the
// header back-patched to point at them. Peak memory is one window plus
// one compressed block.
//
// Windows must be aligned to the block grid (offsets that are multiples
// of COGBlockSize) so that every 512×512 block is covered by exactly one
// window; the export writer's window edge is a multiple of the block
// size, which guarantees this.
type COGWriter struct {
	f         *os.File
	width     int
	height    int
	count     int
	dtype     DataType
	crs       geo.CRS
	transform geo.Affine

	blocksX int
	blocksY int

	tileOffsets    []uint32
	tileByteCounts []uint32
	maskOffsets    []uint32
	maskByteCounts []uint32

	pos uint32
}

// NewCOGWriter creates the destination file (and its parent directory
// if missing) and writes the TIFF header.
func NewCOGWriter(path string, width, height, count int, dtype DataType, crs geo.CRS, transform geo.Affine) (*COGWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("cog: creating directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("cog: creating %s: %w", path, err)
	}

	w := &COGWriter{
		f:         f,
		width:     width,
		height:    height,
		count:     count,
		dtype:     dtype,
		crs:       crs,
		transform: transform,
		blocksX:   (width + COGBlockSize - 1) / COGBlockSize,
		blocksY:   (height + COGBlockSize - 1) / COGBlockSize,
	}
	nBlocks := w.blocksX * w.blocksY
	w.tileOffsets = make([]uint32, nBlocks)
	w.tileByteCounts = make([]uint32, nBlocks)
	w.maskOffsets = make([]uint32, nBlocks)
	w.maskByteCounts = make([]uint32, nBlocks)

	// Header: byte order, magic, IFD offset placeholder (patched on Close)
	hdr := []byte{'I', 'I', 42, 0, 0, 0, 0, 0}
	if _, err := f.Write(hdr); err != nil {
		f.Close()
		return nil, fmt.Errorf("cog: writing header: %w", err)
	}
	w.pos = 8
	return w, nil
}

// predictor returns the TIFF predictor for the sample type: horizontal
// differencing for integers, floating-point differencing for floats.
func (w *COGWriter) predictor() uint16 {
	if w.dtype.IsFloat() {
		return 3
	}
	return 2
}

// WriteWindow writes one materialized window at the given offset. data
// is band-major (count×h×w float64), mask is h×w.
func (w *COGWriter) WriteWindow(win geo.Window, data []float64, mask []uint8) error {
	if win.ColOff%COGBlockSize != 0 || win.RowOff%COGBlockSize != 0 {
		return fmt.Errorf("cog: window offset (%d,%d) not aligned to %d-pixel blocks", win.ColOff, win.RowOff, COGBlockSize)
	}
	if len(data) != w.count*win.Width*win.Height {
		return fmt.Errorf("cog: window data length %d does not match %d×%d×%d", len(data), w.count, win.Height, win.Width)
	}

	bx0 := win.ColOff / COGBlockSize
	by0 := win.RowOff / COGBlockSize
	nbx := (win.Width + COGBlockSize - 1) / COGBlockSize
	nby := (win.Height + COGBlockSize - 1) / COGBlockSize

	ss := w.dtype.Size()
	blockPixels := COGBlockSize * COGBlockSize
	blockBuf := make([]byte, blockPixels*w.count*ss)
	maskBuf := make([]byte, blockPixels)
	winStride := win.Width * win.Height

	for by := 0; by < nby; by++ {
		for bx := 0; bx < nbx; bx++ {
			gbx, gby := bx0+bx, by0+by
			if gbx >= w.blocksX || gby >= w.blocksY {
				continue
			}

			// Assemble the block, pixel-interleaved, padding past-edge
			// pixels with zeros.
			for i := range blockBuf {
				blockBuf[i] = 0
			}
			for i := range maskBuf {
				maskBuf[i] = 0
			}
			for row := 0; row < COGBlockSize; row++ {
				wy := by*COGBlockSize + row
				if wy >= win.Height {
					break
				}
				for col := 0; col < COGBlockSize; col++ {
					wx := bx*COGBlockSize + col
					if wx >= win.Width {
						break
					}
					dst := (row*COGBlockSize + col) * w.count * ss
					for b := 0; b < w.count; b++ {
						v := data[b*winStride+wy*win.Width+wx]
						encodeSample(blockBuf[dst+b*ss:], v, w.dtype)
					}
					maskBuf[row*COGBlockSize+col] = mask[wy*win.Width+wx]
				}
			}

			idx := gby*w.blocksX + gbx
			if err := w.writeBlock(blockBuf, idx, true); err != nil {
				return err
			}
			if err := w.writeBlock(maskBuf, idx, false); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *COGWriter) writeBlock(raw []byte, idx int, isData bool) error {
	buf := raw
	if isData {
		buf = make([]byte, len(raw))
		copy(buf, raw)
		switch w.predictor() {
		case 2:
			applyHorizontalPredictor(buf, w.dtype, COGBlockSize, COGBlockSize, w.count)
		case 3:
			applyFloatPredictor(buf, w.dtype, COGBlockSize, COGBlockSize, w.count)
		}
	}

	var comp bytes.Buffer
	zw := zlib.NewWriter(&comp)
	if _, err := zw.Write(buf); err != nil {
		return fmt.Errorf("cog: compressing block %d: %w", idx, err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("cog: compressing block %d: %w", idx, err)
	}

	if _, err := w.f.Write(comp.Bytes()); err != nil {
		return fmt.Errorf("cog: writing block %d: %w", idx, err)
	}
	if isData {
		w.tileOffsets[idx] = w.pos
		w.tileByteCounts[idx] = uint32(comp.Len())
	} else {
		w.maskOffsets[idx] = w.pos
		w.maskByteCounts[idx] = uint32(comp.Len())
	}
	w.pos += uint32(comp.Len())
	return nil
}

// Close writes the image and mask IFDs, patches the header, and closes
// the file.
func (w *COGWriter) Close() error {
	defer w.f.Close()

	mainIFDOffset := w.pos
	main, next := w.buildMainIFD(mainIFDOffset)
	if _, err := w.f.Write(main); err != nil {
		return fmt.Errorf("cog: writing IFD: %w", err)
	}
	w.pos = next

	maskIFD := w.buildMaskIFD(w.pos)
	if _, err := w.f.Write(maskIFD); err != nil {
		return fmt.Errorf("cog: writing mask IFD: %w", err)
	}

	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], mainIFDOffset)
	if _, err := w.f.WriteAt(hdr[:], 4); err != nil {
		return fmt.Errorf("cog: patching header: %w", err)
	}

	return w.f.Sync()
}

// ifdBuilder accumulates TIFF IFD entries with external value storage.
type ifdBuilder struct {
	entries []ifdRaw
	extra   bytes.Buffer
	// External values are recorded as offsets relative to extra; build
	// adds the file offset they start at once the entry count is fixed.
	pending []int // indexes of entries whose valOff is extra-relative
}

type ifdRaw struct {
	tag    uint16
	dtype  uint16
	count  uint32
	valOff uint32
}

func (b *ifdBuilder) addShort(tag uint16, v uint16) {
	b.entries = append(b.entries, ifdRaw{tag, tiffShort, 1, uint32(v)})
}

func (b *ifdBuilder) addLong(tag uint16, v uint32) {
	b.entries = append(b.entries, ifdRaw{tag, tiffLong, 1, v})
}

func (b *ifdBuilder) addShorts(tag uint16, vs []uint16) {
	if len(vs) == 1 {
		b.addShort(tag, vs[0])
		return
	}
	if len(vs) == 2 {
		var packed [4]byte
		binary.LittleEndian.PutUint16(packed[0:], vs[0])
		binary.LittleEndian.PutUint16(packed[2:], vs[1])
		b.entries = append(b.entries, ifdRaw{tag, tiffShort, 2, binary.LittleEndian.Uint32(packed[:])})
		return
	}
	off := b.extra.Len()
	for _, v := range vs {
		binary.Write(&b.extra, binary.LittleEndian, v)
	}
	b.entries = append(b.entries, ifdRaw{tag, tiffShort, uint32(len(vs)), uint32(off)})
	b.pending = append(b.pending, len(b.entries)-1)
}

func (b *ifdBuilder) addLongs(tag uint16, vs []uint32) {
	if len(vs) == 1 {
		b.addLong(tag, vs[0])
		return
	}
	off := b.extra.Len()
	for _, v := range vs {
		binary.Write(&b.extra, binary.LittleEndian, v)
	}
	b.entries = append(b.entries, ifdRaw{tag, tiffLong, uint32(len(vs)), uint32(off)})
	b.pending = append(b.pending, len(b.entries)-1)
}

func (b *ifdBuilder) addDoubles(tag uint16, vs []float64) {
	off := b.extra.Len()
	for _, v := range vs {
		binary.Write(&b.extra, binary.LittleEndian, v)
	}
	b.entries = append(b.entries, ifdRaw{tag, tiffDouble, uint32(len(vs)), uint32(off)})
	b.pending = append(b.pending, len(b.entries)-1)
}

// build serializes the IFD at fileOffset. nextIFD is the offset of the
// following IFD, or 0. Returns the serialized bytes and the file offset
// just past them.
func (b *ifdBuilder) build(fileOffset, nextIFD uint32) ([]byte, uint32) {
	// sort entries by tag, as the TIFF spec requires
	for i := 1; i < len(b.entries); i++ {
		for j := i; j > 0 && b.entries[j].tag < b.entries[j-1].tag; j-- {
			b.entries[j], b.entries[j-1] = b.entries[j-1], b.entries[j]
			for pi, p := range b.pending {
				if p == j {
					b.pending[pi] = j - 1
				} else if p == j-1 {
					b.pending[pi] = j
				}
			}
		}
	}

	ifdSize := uint32(2 + 12*len(b.entries) + 4)
	extBase := fileOffset + ifdSize
	for _, i := range b.pending {
		b.entries[i].valOff += extBase
	}

	var out bytes.Buffer
	binary.Write(&out, binary.LittleEndian, uint16(len(b.entries)))
	for _, e := range b.entries {
		binary.Write(&out, binary.LittleEndian, e.tag)
		binary.Write(&out, binary.LittleEndian, e.dtype)
		binary.Write(&out, binary.LittleEndian, e.count)
		binary.Write(&out, binary.LittleEndian, e.valOff)
	}
	binary.Write(&out, binary.LittleEndian, nextIFD)
	out.Write(b.extra.Bytes())
	return out.Bytes(), fileOffset + uint32(out.Len())
}

func (w *COGWriter) buildMainIFD(fileOffset uint32) ([]byte, uint32) {
	b := &ifdBuilder{}
	b.addLong(tagImageWidth, uint32(w.width))
	b.addLong(tagImageLength, uint32(w.height))

	bits := make([]uint16, w.count)
	formats := make([]uint16, w.count)
	for i := range bits {
		bits[i] = uint16(w.dtype.Size() * 8)
		formats[i] = w.dtype.tiffSampleFormat()
	}
	b.addShorts(tagBitsPerSample, bits)
	b.addShorts(tagSampleFormat, formats)
	b.addShort(tagCompression, 8) // DEFLATE
	b.addShort(tagPhotometric, 1) // BlackIsZero
	b.addShort(tagSamplesPerPixel, uint16(w.count))
	b.addShort(tagPlanarConfig, 1) // chunky
	b.addShort(tagPredictor, w.predictor())
	b.addLong(tagTileWidth, COGBlockSize)
	b.addLong(tagTileLength, COGBlockSize)
	b.addLongs(tagTileOffsets, w.tileOffsets)
	b.addLongs(tagTileByteCounts, w.tileByteCounts)

	// Georeferencing
	b.addDoubles(tagModelPixelScale, []float64{w.transform.A, -w.transform.E, 0})
	b.addDoubles(tagModelTiepoint, []float64{0, 0, 0, w.transform.C, w.transform.F, 0})
	b.addShorts(tagGeoKeyDirectory, w.geoKeyDirectory())

	// The mask IFD starts immediately after this one; the size is known
	// before serializing, so the next-IFD pointer can be filled directly.
	end := fileOffset + uint32(2+12*len(b.entries)+4+b.extra.Len())
	out, next := b.build(fileOffset, end)
	return out, next
}

func (w *COGWriter) geoKeyDirectory() []uint16 {
	modelType := uint16(2) // projected
	epsgKey := uint16(geoKeyProjectedCSType)
	if !w.crs.IsProjected() {
		modelType = 1
		epsgKey = geoKeyGeographicType
	}
	return []uint16{
		1, 1, 0, 3, // version, revision, minor, key count
		1024, 0, 1, modelType, // GTModelType
		1025, 0, 1, 1, // GTRasterType: PixelIsArea
		epsgKey, 0, 1, uint16(w.crs.EPSG()),
	}
}

func (w *COGWriter) buildMaskIFD(fileOffset uint32) []byte {
	b := &ifdBuilder{}
	b.addLong(tagNewSubfileType, 4) // transparency mask
	b.addLong(tagImageWidth, uint32(w.width))
	b.addLong(tagImageLength, uint32(w.height))
	b.addShort(tagBitsPerSample, 8)
	b.addShort(tagCompression, 8)
	b.addShort(tagPhotometric, 4) // mask
	b.addShort(tagSamplesPerPixel, 1)
	b.addShort(tagPlanarConfig, 1)
	b.addLong(tagTileWidth, COGBlockSize)
	b.addLong(tagTileLength, COGBlockSize)
	b.addLongs(tagTileOffsets, w.maskOffsets)
	b.addLongs(tagTileByteCounts, w.maskByteCounts)
	out, _ := b.build(fileOffset, 0)
	return out
}

func encodeSample(dst []byte, v float64, dt DataType) {
	switch dt {
	case DTUint8:
		dst[0] = uint8(clamp(v, 0, 255))
	case DTInt8:
		dst[0] = byte(int8(clamp(v, -128, 127)))
	case DTUint16:
		binary.LittleEndian.PutUint16(dst, uint16(clamp(v, 0, 65535)))
	case DTInt16:
		binary.LittleEndian.PutUint16(dst, uint16(int16(clamp(v, -32768, 32767))))
	case DTUint32:
		binary.LittleEndian.PutUint32(dst, uint32(clamp(v, 0, 4294967295)))
	case DTInt32:
		binary.LittleEndian.PutUint32(dst, uint32(int32(clamp(v, -2147483648, 2147483647))))
	case DTFloat32:
		binary.LittleEndian.PutUint32(dst, math.Float32bits(float32(v)))
	case DTFloat64:
		binary.LittleEndian.PutUint64(dst, math.Float64bits(v))
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// applyHorizontalPredictor applies TIFF predictor 2 in place (integer
// samples, little-endian buffers).
func applyHorizontalPredictor(raw []byte, dt DataType, cw, ch, count int) {
	ss := dt.Size()
	rowBytes := cw * count * ss
	bo := binary.LittleEndian
	for row := 0; row < ch; row++ {
		base := row * rowBytes
		for i := cw*count - 1; i >= count; i-- {
			off := base + i*ss
			prev := off - count*ss
			switch ss {
			case 1:
				raw[off] -= raw[prev]
			case 2:
				bo.PutUint16(raw[off:], bo.Uint16(raw[off:])-bo.Uint16(raw[prev:]))
			case 4:
				bo.PutUint32(raw[off:], bo.Uint32(raw[off:])-bo.Uint32(raw[prev:]))
			}
		}
	}
}

// applyFloatPredictor applies TIFF predictor 3: per row, sample bytes
// are split big-endian into byte planes and then byte-differenced.
func applyFloatPredictor(raw []byte, dt DataType, cw, ch, count int) {
	ss := dt.Size()
	n := cw * count
	rowBytes := n * ss
	tmp := make([]byte, rowBytes)
	for row := 0; row < ch; row++ {
		base := row * rowBytes
		rowBuf := raw[base : base+rowBytes]
		for i := 0; i < n; i++ {
			for k := 0; k < ss; k++ {
				// little-endian storage → big-endian plane order
				tmp[k*n+i] = rowBuf[i*ss+(ss-1-k)]
			}
		}
		for j := rowBytes - 1; j >= 1; j-- {
			tmp[j] -= tmp[j-1]
		}
		copy(rowBuf, tmp)
	}
}

// undoFloatPredictor reverses predictor 3, rebuilding little-endian
// samples.
func undoFloatPredictor(raw []byte, dt DataType, cw, ch, count int) {
	ss := dt.Size()
	n := cw * count
	rowBytes := n * ss
	tmp := make([]byte, rowBytes)
	for row := 0; row < ch; row++ {
		base := row * rowBytes
		if base+rowBytes > len(raw) {
			break
		}
		rowBuf := raw[base : base+rowBytes]
		for j := 1; j < rowBytes; j++ {
			rowBuf[j] += rowBuf[j-1]
		}
		for i := 0; i < n; i++ {
			for k := 0; k < ss; k++ {
				tmp[i*ss+(ss-1-k)] = rowBuf[k*n+i]
			}
		}
		copy(rowBuf, tmp)
	}
}
