// Package stack reads and writes the stamp stack: a multi-page 8-bit
// grayscale TIFF with one frame per well, in the canonical enumeration order.
//
// Each frame carries its well index in the ImageDescription tag
// ("well=subCol,subRow,col,row") so that a frame can be matched to its
// coordinate table row by content, not just by position. Frames are written
// as a single uncompressed strip.
package stack

import (
	"encoding/binary"
	"fmt"
	"image"
	"os"
	"strconv"
	"strings"

	"github.com/FordyceLab/MicrowellProcessor-old/internal/grid"
)

// Frame is one stamp image plus the well index it belongs to.
type Frame struct {
	Index grid.Index
	Image *image.Gray
}

// TIFF tag IDs used by the stack format.
const (
	tagImageWidth       = 256
	tagImageLength      = 257
	tagBitsPerSample    = 258
	tagCompression      = 259
	tagPhotometric      = 262
	tagImageDescription = 270
	tagStripOffsets     = 273
	tagSamplesPerPixel  = 277
	tagRowsPerStrip     = 278
	tagStripByteCounts  = 279
)

// TIFF field types.
const (
	typeByte  = 1
	typeASCII = 2
	typeShort = 3
	typeLong  = 4
)

// FormatIndexTag renders a well index as the frame description string.
func FormatIndexTag(idx grid.Index) string {
	return fmt.Sprintf("well=%d,%d,%d,%d", idx.SubCol, idx.SubRow, idx.Col, idx.Row)
}

// ParseIndexTag parses a frame description written by FormatIndexTag.
func ParseIndexTag(desc string) (grid.Index, error) {
	var idx grid.Index
	desc = strings.TrimSpace(strings.TrimRight(desc, "\x00"))
	value, ok := strings.CutPrefix(desc, "well=")
	if !ok {
		return idx, fmt.Errorf("frame description %q has no well index", desc)
	}
	parts := strings.Split(value, ",")
	if len(parts) != 4 {
		return idx, fmt.Errorf("frame description %q: want 4 index components, got %d", desc, len(parts))
	}
	fields := []*int{&idx.SubCol, &idx.SubRow, &idx.Col, &idx.Row}
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return idx, fmt.Errorf("frame description %q: %w", desc, err)
		}
		*fields[i] = n
	}
	return idx, nil
}

// Write writes frames to path as a multi-page grayscale TIFF, little-endian.
func Write(path string, frames []Frame) error {
	if len(frames) == 0 {
		return fmt.Errorf("stack has no frames")
	}

	buf := make([]byte, 8)
	buf[0], buf[1] = 'I', 'I'
	binary.LittleEndian.PutUint16(buf[2:4], 42)
	// First IFD offset is patched once the first frame is laid out.

	ifdOffsets := make([]uint32, len(frames))
	var nextPtrPos []int // positions of next-IFD pointers to patch

	for i, frame := range frames {
		img := frame.Image
		if img == nil {
			return fmt.Errorf("frame %d has no image", i)
		}
		b := img.Bounds()
		w, h := b.Dx(), b.Dy()
		if w == 0 || h == 0 {
			return fmt.Errorf("frame %d is empty", i)
		}

		// Strip data: rows packed tightly regardless of source stride.
		dataOffset := uint32(len(buf))
		for y := b.Min.Y; y < b.Max.Y; y++ {
			row := img.Pix[(y-b.Min.Y)*img.Stride : (y-b.Min.Y)*img.Stride+w]
			buf = append(buf, row...)
		}
		if len(buf)%2 != 0 {
			buf = append(buf, 0)
		}

		desc := FormatIndexTag(frame.Index) + "\x00"
		descOffset := uint32(len(buf))
		buf = append(buf, desc...)
		if len(buf)%2 != 0 {
			buf = append(buf, 0)
		}

		ifdOffsets[i] = uint32(len(buf))
		entries := []ifdEntry{
			{tagImageWidth, typeLong, 1, uint32(w)},
			{tagImageLength, typeLong, 1, uint32(h)},
			{tagBitsPerSample, typeShort, 1, 8},
			{tagCompression, typeShort, 1, 1},
			{tagPhotometric, typeShort, 1, 1}, // BlackIsZero
			{tagImageDescription, typeASCII, uint32(len(desc)), descOffset},
			{tagStripOffsets, typeLong, 1, dataOffset},
			{tagSamplesPerPixel, typeShort, 1, 1},
			{tagRowsPerStrip, typeLong, 1, uint32(h)},
			{tagStripByteCounts, typeLong, 1, uint32(w * h)},
		}
		buf = appendUint16(buf, uint16(len(entries)))
		for _, e := range entries {
			buf = appendEntry(buf, e)
		}
		nextPtrPos = append(nextPtrPos, len(buf))
		buf = appendUint32(buf, 0)
	}

	binary.LittleEndian.PutUint32(buf[4:8], ifdOffsets[0])
	for i := 0; i < len(frames)-1; i++ {
		binary.LittleEndian.PutUint32(buf[nextPtrPos[i]:nextPtrPos[i]+4], ifdOffsets[i+1])
	}

	if err := os.WriteFile(path, buf, 0644); err != nil {
		return fmt.Errorf("write stack: %w", err)
	}
	return nil
}

type ifdEntry struct {
	tag   uint16
	typ   uint16
	count uint32
	value uint32 // inline value or offset
}

func appendUint16(buf []byte, v uint16) []byte {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendEntry(buf []byte, e ifdEntry) []byte {
	buf = appendUint16(buf, e.tag)
	buf = appendUint16(buf, e.typ)
	buf = appendUint32(buf, e.count)
	if e.typ == typeShort && e.count == 1 {
		buf = appendUint16(buf, uint16(e.value))
		buf = appendUint16(buf, 0)
		return buf
	}
	return appendUint32(buf, e.value)
}

// Read reads a stack written by Write. It walks the IFD chain and decodes
// each uncompressed grayscale frame along with its well index tag. Frame
// order matches the file order, which is the canonical enumeration order.
func Read(path string) ([]Frame, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read stack: %w", err)
	}
	if len(data) < 8 {
		return nil, fmt.Errorf("stack %s: truncated header", path)
	}

	var order binary.ByteOrder
	switch {
	case data[0] == 'I' && data[1] == 'I':
		order = binary.LittleEndian
	case data[0] == 'M' && data[1] == 'M':
		order = binary.BigEndian
	default:
		return nil, fmt.Errorf("stack %s: not a TIFF file", path)
	}
	if order.Uint16(data[2:4]) != 42 {
		return nil, fmt.Errorf("stack %s: bad TIFF magic", path)
	}

	var frames []Frame
	ifdOffset := order.Uint32(data[4:8])
	for ifdOffset != 0 {
		frame, next, err := readIFD(data, order, ifdOffset)
		if err != nil {
			return nil, fmt.Errorf("stack %s frame %d: %w", path, len(frames), err)
		}
		frames = append(frames, frame)
		ifdOffset = next
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("stack %s has no frames", path)
	}
	return frames, nil
}

func readIFD(data []byte, order binary.ByteOrder, offset uint32) (Frame, uint32, error) {
	var frame Frame
	if int(offset)+2 > len(data) {
		return frame, 0, fmt.Errorf("IFD offset %d out of range", offset)
	}
	count := int(order.Uint16(data[offset : offset+2]))
	entriesEnd := int(offset) + 2 + count*12 + 4
	if entriesEnd > len(data) {
		return frame, 0, fmt.Errorf("IFD at %d truncated", offset)
	}

	var width, height, stripOffset, stripCount uint32
	var bits, compression uint32 = 8, 1
	var desc string

	for i := 0; i < count; i++ {
		base := int(offset) + 2 + i*12
		tag := order.Uint16(data[base : base+2])
		typ := order.Uint16(data[base+2 : base+4])
		n := order.Uint32(data[base+4 : base+8])

		switch tag {
		case tagImageWidth:
			width = entryValue(data, order, base, typ)
		case tagImageLength:
			height = entryValue(data, order, base, typ)
		case tagBitsPerSample:
			bits = entryValue(data, order, base, typ)
		case tagCompression:
			compression = entryValue(data, order, base, typ)
		case tagStripOffsets:
			if n != 1 {
				return frame, 0, fmt.Errorf("multi-strip frames are not supported")
			}
			stripOffset = entryValue(data, order, base, typ)
		case tagStripByteCounts:
			if n != 1 {
				return frame, 0, fmt.Errorf("multi-strip frames are not supported")
			}
			stripCount = entryValue(data, order, base, typ)
		case tagImageDescription:
			descOffset := order.Uint32(data[base+8 : base+12])
			if n <= 4 {
				desc = string(data[base+8 : base+8+int(n)])
			} else if int(descOffset)+int(n) <= len(data) {
				desc = string(data[descOffset : descOffset+n])
			}
		}
	}

	if bits != 8 {
		return frame, 0, fmt.Errorf("unsupported bit depth %d, want 8", bits)
	}
	if compression != 1 {
		return frame, 0, fmt.Errorf("unsupported compression %d, want none", compression)
	}
	if width == 0 || height == 0 {
		return frame, 0, fmt.Errorf("missing image dimensions")
	}
	if stripCount != width*height {
		return frame, 0, fmt.Errorf("strip size %d does not match %dx%d frame", stripCount, width, height)
	}
	if int(stripOffset)+int(stripCount) > len(data) {
		return frame, 0, fmt.Errorf("strip data out of range")
	}

	img := image.NewGray(image.Rect(0, 0, int(width), int(height)))
	copy(img.Pix, data[stripOffset:stripOffset+stripCount])
	frame.Image = img

	idx, err := ParseIndexTag(desc)
	if err != nil {
		return frame, 0, err
	}
	frame.Index = idx

	next := order.Uint32(data[entriesEnd-4 : entriesEnd])
	return frame, next, nil
}

// entryValue reads a single SHORT or LONG entry value stored inline.
func entryValue(data []byte, order binary.ByteOrder, base int, typ uint16) uint32 {
	if typ == typeShort {
		return uint32(order.Uint16(data[base+8 : base+10]))
	}
	return order.Uint32(data[base+8 : base+12])
}
