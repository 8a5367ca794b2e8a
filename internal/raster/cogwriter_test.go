package raster

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"rastermap/internal/geo"
)

func writeTestCOG(t *testing.T, dt DataType, width, height, count int, fill func(b, i int) float64) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "out", "test.tif")
	transform := geo.FromOrigin(0, float64(height), 1, 1)

	w, err := NewCOGWriter(path, width, height, count, dt, geo.WebMercator, transform)
	require.NoError(t, err)

	n := width * height
	data := make([]float64, count*n)
	mask := make([]uint8, n)
	for b := 0; b < count; b++ {
		for i := 0; i < n; i++ {
			data[b*n+i] = fill(b, i)
		}
	}
	for i := range mask {
		mask[i] = 255
	}
	if n > 0 {
		mask[0] = 0 // one nodata pixel to exercise the mask plane
	}

	win := geo.Window{ColOff: 0, RowOff: 0, Width: width, Height: height}
	require.NoError(t, w.WriteWindow(win, data, mask))
	require.NoError(t, w.Close())
	return path
}

func TestCOGRoundTripFloat(t *testing.T) {
	path := writeTestCOG(t, DTFloat64, 16, 12, 1, func(b, i int) float64 {
		return float64(i) * 1.5
	})

	ds, err := OpenDataset(path)
	require.NoError(t, err)
	require.Equal(t, 16, ds.Width)
	require.Equal(t, 12, ds.Height)
	require.Equal(t, 1, ds.Count)
	require.Equal(t, DTFloat64, ds.DType)
	require.Equal(t, geo.WebMercator, ds.CRS)
	require.Equal(t, 0.0, ds.Bounds.Min[0])
	require.Equal(t, 12.0, ds.Bounds.Max[1])

	for i := 0; i < 16*12; i++ {
		require.Equal(t, float64(i)*1.5, ds.Data[i], "pixel %d", i)
	}
}

func TestCOGRoundTripInteger(t *testing.T) {
	path := writeTestCOG(t, DTUint16, 20, 8, 1, func(b, i int) float64 {
		return float64(i * 3)
	})

	ds, err := OpenDataset(path)
	require.NoError(t, err)
	require.Equal(t, DTUint16, ds.DType)
	for i := 0; i < 20*8; i++ {
		require.Equal(t, float64(i*3), ds.Data[i], "pixel %d", i)
	}
}

func TestCOGRoundTripMultiBand(t *testing.T) {
	path := writeTestCOG(t, DTFloat32, 8, 8, 3, func(b, i int) float64 {
		return float64(b*100 + i)
	})

	ds, err := OpenDataset(path)
	require.NoError(t, err)
	require.Equal(t, 3, ds.Count)
	n := 64
	for b := 0; b < 3; b++ {
		for i := 0; i < n; i++ {
			require.Equal(t, float64(b*100+i), ds.Data[b*n+i], "band %d pixel %d", b, i)
		}
	}
}

// The mask is stored as a second IFD flagged as a transparency mask.
func TestCOGHasMaskIFD(t *testing.T) {
	path := writeTestCOG(t, DTUint8, 8, 8, 1, func(b, i int) float64 { return 7 })

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	bo := binary.LittleEndian
	ifdOff := bo.Uint32(raw[4:8])
	numEntries := int(bo.Uint16(raw[ifdOff:]))
	nextOff := bo.Uint32(raw[int(ifdOff)+2+numEntries*12:])
	require.NotZero(t, nextOff, "main IFD should chain to the mask IFD")

	// The mask IFD carries NewSubfileType = 4.
	maskEntries := int(bo.Uint16(raw[nextOff:]))
	found := false
	for i := 0; i < maskEntries; i++ {
		base := int(nextOff) + 2 + i*12
		if bo.Uint16(raw[base:]) == tagNewSubfileType {
			require.EqualValues(t, 4, bo.Uint32(raw[base+8:]))
			found = true
		}
	}
	require.True(t, found, "mask IFD missing NewSubfileType tag")
}

func TestCOGWindowAlignment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aligned.tif")
	w, err := NewCOGWriter(path, 1024, 1024, 1, DTUint8, geo.WebMercator, geo.FromOrigin(0, 1024, 1, 1))
	require.NoError(t, err)
	defer w.Close()

	win := geo.Window{ColOff: 100, RowOff: 0, Width: 100, Height: 100}
	err = w.WriteWindow(win, make([]float64, 100*100), make([]uint8, 100*100))
	require.Error(t, err, "unaligned window must be rejected")
}

func TestCOGCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "c.tif")
	w, err := NewCOGWriter(path, 8, 8, 1, DTUint8, geo.WebMercator, geo.FromOrigin(0, 8, 1, 1))
	require.NoError(t, err)
	win := geo.Window{Width: 8, Height: 8}
	require.NoError(t, w.WriteWindow(win, make([]float64, 64), make([]uint8, 64)))
	require.NoError(t, w.Close())

	_, err = os.Stat(path)
	require.NoError(t, err)
}
