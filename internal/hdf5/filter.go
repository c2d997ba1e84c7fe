package hdf5

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

// Registered filter identifiers.
const (
	FilterDeflate     uint16 = 1
	FilterShuffle     uint16 = 2
	FilterFletcher32  uint16 = 3
	FilterSzip        uint16 = 4
	FilterNbit        uint16 = 5
	FilterScaleOffset uint16 = 6
)

// Filter is one stage of a chunk filter pipeline, stored in application
// order: decoding runs the pipeline backwards.
type Filter struct {
	ID         uint16
	Flags      uint16
	Name       string
	ClientData []uint32
}

func parseFilterPipeline(r *reader) ([]Filter, error) {
	version, err := r.u8()
	if err != nil {
		return nil, err
	}
	if version != 1 && version != 2 {
		return nil, fmt.Errorf("%w: filter pipeline version %d", ErrUnsupported, version)
	}
	count, err := r.u8()
	if err != nil {
		return nil, err
	}
	if version == 1 {
		r.skip(6)
	}
	filters := make([]Filter, 0, count)
	for i := 0; i < int(count); i++ {
		var flt Filter
		if flt.ID, err = r.u16(); err != nil {
			return nil, err
		}
		nameLen := uint16(0)
		if version == 1 || flt.ID >= 256 {
			if nameLen, err = r.u16(); err != nil {
				return nil, err
			}
		}
		if flt.Flags, err = r.u16(); err != nil {
			return nil, err
		}
		numCD, err := r.u16()
		if err != nil {
			return nil, err
		}
		if nameLen > 0 {
			padded := int(nameLen)
			if version == 1 && padded%8 != 0 {
				padded += 8 - padded%8
			}
			raw, err := r.bytes(padded)
			if err != nil {
				return nil, err
			}
			if i := bytes.IndexByte(raw, 0); i >= 0 {
				raw = raw[:i]
			}
			flt.Name = string(raw)
		}
		for j := 0; j < int(numCD); j++ {
			v, err := r.u32()
			if err != nil {
				return nil, err
			}
			flt.ClientData = append(flt.ClientData, v)
		}
		if version == 1 && numCD%2 == 1 {
			r.skip(4)
		}
		filters = append(filters, flt)
	}
	return filters, nil
}

// encodeFilterPipeline emits a version 1 message with empty filter names.
func encodeFilterPipeline(w *wbuf, filters []Filter) {
	w.putU8(1)
	w.putU8(uint8(len(filters)))
	w.putZeros(6)
	for _, flt := range filters {
		w.putU16(flt.ID)
		w.putU16(0) // no name
		w.putU16(flt.Flags)
		w.putU16(uint16(len(flt.ClientData)))
		for _, v := range flt.ClientData {
			w.putU32(v)
		}
		if len(flt.ClientData)%2 == 1 {
			w.putZeros(4)
		}
	}
}

// filterFlagOptional marks a filter that may be skipped when it fails on
// a chunk; the corresponding bit in the chunk's filter mask records that.
const filterFlagOptional uint16 = 1

// decodeChunk reverses the pipeline over one stored chunk. Bit i of mask
// set means filter i was skipped when the chunk was written. elemSize is
// the fallback shuffle element size when the stored client data lacks one.
func decodeChunk(data []byte, filters []Filter, mask uint32, elemSize int) ([]byte, error) {
	out := data
	for i := len(filters) - 1; i >= 0; i-- {
		if mask&(1<<uint(i)) != 0 {
			continue
		}
		flt := filters[i]
		var err error
		switch flt.ID {
		case FilterFletcher32:
			out, err = verifyFletcher32(out)
		case FilterDeflate:
			out, err = inflateChunk(out)
		case FilterShuffle:
			size := elemSize
			if len(flt.ClientData) > 0 && flt.ClientData[0] > 0 {
				size = int(flt.ClientData[0])
			}
			out = unshuffle(out, size)
		default:
			return nil, fmt.Errorf("%w: filter %d (%s)", ErrUnsupported, flt.ID, flt.Name)
		}
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// encodeChunkData applies the pipeline forward for the write path.
func encodeChunkData(data []byte, filters []Filter) ([]byte, error) {
	out := data
	for _, flt := range filters {
		switch flt.ID {
		case FilterShuffle:
			size := 1
			if len(flt.ClientData) > 0 {
				size = int(flt.ClientData[0])
			}
			out = shuffle(out, size)
		case FilterDeflate:
			level := 6
			if len(flt.ClientData) > 0 {
				level = int(flt.ClientData[0])
			}
			var buf bytes.Buffer
			zw, err := zlib.NewWriterLevel(&buf, level)
			if err != nil {
				return nil, err
			}
			if _, err := zw.Write(out); err != nil {
				return nil, err
			}
			if err := zw.Close(); err != nil {
				return nil, err
			}
			out = buf.Bytes()
		case FilterFletcher32:
			sum := fletcher32(out)
			out = binary.LittleEndian.AppendUint32(append([]byte{}, out...), sum)
		default:
			return nil, fmt.Errorf("%w: cannot encode filter %d", ErrUnsupported, flt.ID)
		}
	}
	return out, nil
}

// verifyFletcher32 checks and strips the trailing checksum.
func verifyFletcher32(data []byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: fletcher32 chunk shorter than its checksum", ErrCorrupted)
	}
	payload := data[:len(data)-4]
	stored := binary.LittleEndian.Uint32(data[len(data)-4:])
	if got := fletcher32(payload); got != stored {
		return nil, fmt.Errorf("%w: fletcher32 mismatch (got %#x, stored %#x)", ErrCorrupted, got, stored)
	}
	return payload, nil
}

func inflateChunk(data []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: deflate chunk: %v", ErrCorrupted, err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("%w: deflate chunk: %v", ErrCorrupted, err)
	}
	return out, nil
}

// unshuffle restores byte order after the shuffle filter: the stored form
// groups byte 0 of every element, then byte 1, and so on. A tail shorter
// than one element passes through unchanged.
func unshuffle(data []byte, elemSize int) []byte {
	if elemSize <= 1 || len(data) < elemSize {
		return data
	}
	n := len(data) / elemSize
	out := make([]byte, len(data))
	for j := 0; j < elemSize; j++ {
		for i := 0; i < n; i++ {
			out[i*elemSize+j] = data[j*n+i]
		}
	}
	copy(out[n*elemSize:], data[n*elemSize:])
	return out
}

func shuffle(data []byte, elemSize int) []byte {
	if elemSize <= 1 || len(data) < elemSize {
		return data
	}
	n := len(data) / elemSize
	out := make([]byte, len(data))
	for i := 0; i < n; i++ {
		for j := 0; j < elemSize; j++ {
			out[j*n+i] = data[i*elemSize+j]
		}
	}
	copy(out[n*elemSize:], data[n*elemSize:])
	return out
}

// deflateFilter returns a pipeline stage for the given zlib level.
func deflateFilter(level int) Filter {
	return Filter{ID: FilterDeflate, Flags: filterFlagOptional, ClientData: []uint32{uint32(level)}}
}

// shuffleFilter returns a pipeline stage recording the element size.
func shuffleFilter(elemSize int) Filter {
	return Filter{ID: FilterShuffle, ClientData: []uint32{uint32(elemSize)}}
}

func fletcherFilter() Filter {
	return Filter{ID: FilterFletcher32}
}
