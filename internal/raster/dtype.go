package raster

import (
	"fmt"
	"math"
)

// DataType enumerates the pixel sample types carried by rasters.
type DataType int

const (
	DTUnknown DataType = iota
	DTUint8
	DTInt8
	DTUint16
	DTInt16
	DTUint32
	DTInt32
	DTFloat32
	DTFloat64
)

func (d DataType) String() string {
	switch d {
	case DTUint8:
		return "uint8"
	case DTInt8:
		return "int8"
	case DTUint16:
		return "uint16"
	case DTInt16:
		return "int16"
	case DTUint32:
		return "uint32"
	case DTInt32:
		return "int32"
	case DTFloat32:
		return "float32"
	case DTFloat64:
		return "float64"
	default:
		return "unknown"
	}
}

// Size returns the sample size in bytes.
func (d DataType) Size() int {
	switch d {
	case DTUint8, DTInt8:
		return 1
	case DTUint16, DTInt16:
		return 2
	case DTUint32, DTInt32, DTFloat32:
		return 4
	case DTFloat64:
		return 8
	default:
		return 0
	}
}

// IsFloat reports whether the type stores IEEE floating point samples.
func (d DataType) IsFloat() bool {
	return d == DTFloat32 || d == DTFloat64
}

// MinScalarType returns the smallest type that holds v exactly:
// unsigned then signed integers for whole values, floats otherwise.
func MinScalarType(v float64) DataType {
	if v != math.Trunc(v) || math.IsNaN(v) || math.IsInf(v, 0) {
		if float64(float32(v)) == v {
			return DTFloat32
		}
		return DTFloat64
	}
	switch {
	case v >= 0 && v <= math.MaxUint8:
		return DTUint8
	case v >= math.MinInt8 && v <= math.MaxInt8:
		return DTInt8
	case v >= 0 && v <= math.MaxUint16:
		return DTUint16
	case v >= math.MinInt16 && v <= math.MaxInt16:
		return DTInt16
	case v >= 0 && v <= math.MaxUint32:
		return DTUint32
	case v >= math.MinInt32 && v <= math.MaxInt32:
		return DTInt32
	default:
		return DTFloat64
	}
}

// DataTypeFromTIFF maps BitsPerSample + SampleFormat to a DataType.
// SampleFormat: 1 unsigned int, 2 signed int, 3 IEEE float.
func DataTypeFromTIFF(bitsPerSample, sampleFormat uint32) (DataType, error) {
	switch {
	case bitsPerSample == 8 && sampleFormat == 1:
		return DTUint8, nil
	case bitsPerSample == 8 && sampleFormat == 2:
		return DTInt8, nil
	case bitsPerSample == 16 && sampleFormat == 1:
		return DTUint16, nil
	case bitsPerSample == 16 && sampleFormat == 2:
		return DTInt16, nil
	case bitsPerSample == 32 && sampleFormat == 1:
		return DTUint32, nil
	case bitsPerSample == 32 && sampleFormat == 2:
		return DTInt32, nil
	case bitsPerSample == 32 && sampleFormat == 3:
		return DTFloat32, nil
	case bitsPerSample == 64 && sampleFormat == 3:
		return DTFloat64, nil
	default:
		return DTUnknown, fmt.Errorf("raster: unsupported sample layout (bits=%d format=%d)", bitsPerSample, sampleFormat)
	}
}

// tiffSampleFormat returns the TIFF SampleFormat value for a type.
func (d DataType) tiffSampleFormat() uint16 {
	switch {
	case d.IsFloat():
		return 3
	case d == DTInt8 || d == DTInt16 || d == DTInt32:
		return 2
	default:
		return 1
	}
}
