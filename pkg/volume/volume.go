// Package volume loads CT volumes in MetaImage (.mhd/.raw) format and
// provides Hounsfield-unit normalization plus diameter-style candidate
// masks. It is the volume-providing collaborator of the reconstruction core:
// it supplies the origin, spacing and shape that define a target frame.
package volume

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"nodulemask/internal/models"
)

// Lung window defaults: air to bone.
const (
	DefaultMinHU = -1000.0
	DefaultMaxHU = 400.0
)

// Volume is a loaded CT volume: voxel intensities in Hounsfield units plus
// the frame locating the voxel grid in physical space. Data is row-major in
// (z, y, x) order.
type Volume struct {
	Data  []float64
	Frame models.Frame
}

// LoadMetaImage reads a MetaImage header (.mhd) and its raw voxel data.
//
// MetaImage stores axes as (x, y, z); origin, spacing and shape are reversed
// to this package's (z, y, x) convention on load. Supported element types
// are MET_SHORT, MET_FLOAT and MET_UCHAR, little-endian (the header may say
// otherwise via ElementByteOrderMSB / BinaryDataByteOrderMSB).
func LoadMetaImage(path string) (*Volume, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening MetaImage header: %w", err)
	}
	defer f.Close()

	var (
		dims        [3]int
		spacing     = [3]float64{1, 1, 1}
		origin      [3]float64
		elementType string
		dataFile    string
		bigEndian   bool
		haveDims    bool
	)

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("malformed MetaImage header line %q", line)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch key {
		case "NDims":
			if value != "3" {
				return nil, fmt.Errorf("unsupported NDims %s, want 3", value)
			}
		case "DimSize":
			v, err := parseInts(value, 3)
			if err != nil {
				return nil, fmt.Errorf("parsing DimSize: %w", err)
			}
			dims = [3]int{v[0], v[1], v[2]}
			haveDims = true
		case "ElementSpacing", "ElementSize":
			v, err := parseFloats(value, 3)
			if err != nil {
				return nil, fmt.Errorf("parsing %s: %w", key, err)
			}
			spacing = [3]float64{v[0], v[1], v[2]}
		case "Offset", "Origin", "Position":
			v, err := parseFloats(value, 3)
			if err != nil {
				return nil, fmt.Errorf("parsing %s: %w", key, err)
			}
			origin = [3]float64{v[0], v[1], v[2]}
		case "ElementType":
			elementType = value
		case "ElementDataFile":
			dataFile = value
		case "ElementByteOrderMSB", "BinaryDataByteOrderMSB":
			bigEndian = strings.EqualFold(value, "true")
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading MetaImage header: %w", err)
	}
	if !haveDims {
		return nil, fmt.Errorf("MetaImage header %s has no DimSize", path)
	}
	if dataFile == "" || strings.EqualFold(dataFile, "LOCAL") {
		return nil, fmt.Errorf("MetaImage header %s: only external ElementDataFile is supported", path)
	}

	// The header orders axes (x, y, z); reverse into (z, y, x).
	frame := models.Frame{
		Origin:  [3]float64{origin[2], origin[1], origin[0]},
		Spacing: [3]float64{spacing[2], spacing[1], spacing[0]},
		Shape:   [3]int{dims[2], dims[1], dims[0]},
	}
	if err := frame.Validate(); err != nil {
		return nil, fmt.Errorf("MetaImage header %s: %w", path, err)
	}

	raw, err := os.ReadFile(filepath.Join(filepath.Dir(path), dataFile))
	if err != nil {
		return nil, fmt.Errorf("reading MetaImage data: %w", err)
	}

	data, err := decodeElements(raw, elementType, frame.NumVoxels(), bigEndian)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", dataFile, err)
	}
	return &Volume{Data: data, Frame: frame}, nil
}

// decodeElements converts raw bytes to float64 voxels. The raw stream is
// x-fastest, z-slowest, which is exactly row-major (z, y, x).
func decodeElements(raw []byte, elementType string, n int, bigEndian bool) ([]float64, error) {
	var order binary.ByteOrder = binary.LittleEndian
	if bigEndian {
		order = binary.BigEndian
	}

	data := make([]float64, n)
	switch elementType {
	case "MET_SHORT":
		if len(raw) < 2*n {
			return nil, fmt.Errorf("want %d voxels, raw data has %d bytes", n, len(raw))
		}
		for i := 0; i < n; i++ {
			data[i] = float64(int16(order.Uint16(raw[2*i:])))
		}
	case "MET_FLOAT":
		if len(raw) < 4*n {
			return nil, fmt.Errorf("want %d voxels, raw data has %d bytes", n, len(raw))
		}
		for i := 0; i < n; i++ {
			data[i] = float64(math.Float32frombits(order.Uint32(raw[4*i:])))
		}
	case "MET_UCHAR":
		if len(raw) < n {
			return nil, fmt.Errorf("want %d voxels, raw data has %d bytes", n, len(raw))
		}
		for i := 0; i < n; i++ {
			data[i] = float64(raw[i])
		}
	default:
		return nil, fmt.Errorf("unsupported ElementType %q", elementType)
	}
	return data, nil
}

// NormalizeHU clips Hounsfield units to [minHU, maxHU] and scales them to
// [0, 1]. The input is not modified.
func NormalizeHU(data []float64, minHU, maxHU float64) []float64 {
	out := make([]float64, len(data))
	span := maxHU - minHU
	for i, v := range data {
		switch {
		case v < minHU:
			out[i] = 0
		case v > maxHU:
			out[i] = 1
		default:
			out[i] = (v - minHU) / span
		}
	}
	return out
}

func parseInts(s string, n int) ([]int, error) {
	fields := strings.Fields(s)
	if len(fields) != n {
		return nil, fmt.Errorf("want %d values, got %d", n, len(fields))
	}
	out := make([]int, n)
	for i, f := range fields {
		v, err := strconv.Atoi(f)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func parseFloats(s string, n int) ([]float64, error) {
	fields := strings.Fields(s)
	if len(fields) != n {
		return nil, fmt.Errorf("want %d values, got %d", n, len(fields))
	}
	out := make([]float64, n)
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
