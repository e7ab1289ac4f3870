// Package geotiff writes uncompressed RGBA TIFF files with caller-supplied
// GeoTIFF tags. It implements the small subset of TIFF 6.0 needed for
// single-strip georeferenced rasters, which keeps GIS-heavy dependencies
// out of the module.
package geotiff

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"io"
	"math"
	"sort"
)

// TIFF field data types
const (
	typeByte     = 1
	typeASCII    = 2
	typeShort    = 3
	typeLong     = 4
	typeRational = 5
	typeDouble   = 12
)

// Baseline TIFF tags
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
	tagXResolution     = 282
	tagYResolution     = 283
	tagResolutionUnit  = 296
)

// GeoTIFF tags, per the OGC GeoTIFF 1.1 spec
const (
	TagModelPixelScale = 33550
	TagModelTiepoint   = 33922
	TagGeoKeyDirectory = 34735
	TagGeoDoubleParams = 34736
	TagGeoASCIIParams  = 34737
)

var enc = binary.LittleEndian

type ifdEntry struct {
	tag      uint16
	datatype uint16
	count    uint32
	data     []byte
}

// Encode writes img to w as an uncompressed 8-bit RGBA TIFF with the given
// extra tags appended to the IFD. Supported extra tag value types are
// []uint16 (SHORT), []float64 (DOUBLE), and string (ASCII).
func Encode(w io.Writer, img image.Image, extraTags map[uint16]interface{}) error {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	// Little-endian header, version 42, first IFD at byte 8
	if _, err := w.Write([]byte{'I', 'I', 0x2A, 0x00, 0x08, 0x00, 0x00, 0x00}); err != nil {
		return err
	}

	// One uncompressed strip of interleaved 8-bit RGBA
	pixelBuf := new(bytes.Buffer)
	pixelBuf.Grow(width * height * 4)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, a := img.At(x, y).RGBA()
			pixelBuf.WriteByte(uint8(r >> 8))
			pixelBuf.WriteByte(uint8(g >> 8))
			pixelBuf.WriteByte(uint8(b >> 8))
			pixelBuf.WriteByte(uint8(a >> 8))
		}
	}
	pixels := pixelBuf.Bytes()

	var entries []ifdEntry
	add := func(tag uint16, datatype uint16, count uint32, data []byte) {
		entries = append(entries, ifdEntry{tag, datatype, count, data})
	}

	add(tagImageWidth, typeShort, 1, encShort(uint16(width)))
	add(tagImageLength, typeShort, 1, encShort(uint16(height)))
	add(tagBitsPerSample, typeShort, 4, encShorts([]uint16{8, 8, 8, 8}))
	add(tagCompression, typeShort, 1, encShort(1)) // none
	add(tagPhotometric, typeShort, 1, encShort(2)) // RGB
	add(tagSamplesPerPixel, typeShort, 1, encShort(4))
	add(tagRowsPerStrip, typeShort, 1, encShort(uint16(height)))
	add(tagXResolution, typeRational, 1, encRational(72, 1))
	add(tagYResolution, typeRational, 1, encRational(72, 1))
	add(tagResolutionUnit, typeShort, 1, encShort(2)) // inch

	// Strip location is patched in once the IFD size is known
	add(tagStripOffsets, typeLong, 1, make([]byte, 4))
	add(tagStripByteCounts, typeLong, 1, encLong(uint32(len(pixels))))

	for tag, val := range extraTags {
		switch v := val.(type) {
		case []uint16:
			add(tag, typeShort, uint32(len(v)), encShorts(v))
		case []float64:
			add(tag, typeDouble, uint32(len(v)), encDoubles(v))
		case string:
			b := append([]byte(v), 0) // ASCII values are NUL-terminated
			add(tag, typeASCII, uint32(len(b)), b)
		default:
			return fmt.Errorf("unsupported tag value type for tag %d", tag)
		}
	}

	// IFD entries must be sorted by tag number
	sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })

	// Layout: header (8) | IFD | out-of-line values | pixel strip
	ifdSize := 2 + 12*len(entries) + 4
	valueOffset := 8 + ifdSize

	// Values wider than the 4-byte field move to the value area and
	// leave an offset behind
	var valueBuf bytes.Buffer
	for i := range entries {
		e := &entries[i]
		if len(e.data) > 4 {
			offset := uint32(valueOffset + valueBuf.Len())
			valueBuf.Write(e.data)
			e.data = encLong(offset)
		}
	}

	stripOffset := uint32(valueOffset + valueBuf.Len())
	for i := range entries {
		if entries[i].tag == tagStripOffsets {
			entries[i].data = encLong(stripOffset)
		}
	}

	if err := binary.Write(w, enc, uint16(len(entries))); err != nil {
		return err
	}
	for _, e := range entries {
		if err := binary.Write(w, enc, e.tag); err != nil {
			return err
		}
		if err := binary.Write(w, enc, e.datatype); err != nil {
			return err
		}
		if err := binary.Write(w, enc, e.count); err != nil {
			return err
		}
		var field [4]byte
		copy(field[:], e.data)
		if _, err := w.Write(field[:]); err != nil {
			return err
		}
	}
	// No next IFD
	if err := binary.Write(w, enc, uint32(0)); err != nil {
		return err
	}

	if _, err := valueBuf.WriteTo(w); err != nil {
		return err
	}
	_, err := w.Write(pixels)
	return err
}

func encShort(v uint16) []byte {
	b := make([]byte, 2)
	enc.PutUint16(b, v)
	return b
}

func encLong(v uint32) []byte {
	b := make([]byte, 4)
	enc.PutUint32(b, v)
	return b
}

func encShorts(vs []uint16) []byte {
	b := make([]byte, 2*len(vs))
	for i, v := range vs {
		enc.PutUint16(b[i*2:], v)
	}
	return b
}

func encDoubles(vs []float64) []byte {
	b := make([]byte, 8*len(vs))
	for i, v := range vs {
		enc.PutUint64(b[i*8:], math.Float64bits(v))
	}
	return b
}

func encRational(num, den uint32) []byte {
	b := make([]byte, 8)
	enc.PutUint32(b[:4], num)
	enc.PutUint32(b[4:], den)
	return b
}
