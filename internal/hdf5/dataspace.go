package hdf5

import "fmt"

// Dataspace types as stored in version 2 messages. Version 1 has no type
// field; a rank of zero means scalar.
const (
	SpaceScalar uint8 = 0
	SpaceSimple uint8 = 1
	SpaceNull   uint8 = 2
)

// Dataspace is a decoded dataspace message: the extent of a dataset.
type Dataspace struct {
	Version uint8
	Type    uint8
	Dims    []uint64
	MaxDims []uint64
}

func (ds *Dataspace) Rank() int {
	return len(ds.Dims)
}

// NumElements returns the number of elements in the extent. A scalar
// dataspace holds exactly one element, a null dataspace none.
func (ds *Dataspace) NumElements() uint64 {
	switch ds.Type {
	case SpaceNull:
		return 0
	case SpaceScalar:
		return 1
	}
	n := uint64(1)
	for _, d := range ds.Dims {
		n *= d
	}
	return n
}

func parseDataspace(r *reader) (*Dataspace, error) {
	version, err := r.u8()
	if err != nil {
		return nil, err
	}
	rank, err := r.u8()
	if err != nil {
		return nil, err
	}
	flags, err := r.u8()
	if err != nil {
		return nil, err
	}
	ds := &Dataspace{Version: version}
	switch version {
	case 1:
		// Reserved byte plus four reserved bytes pad the header to eight.
		r.skip(5)
		if rank == 0 {
			ds.Type = SpaceScalar
		} else {
			ds.Type = SpaceSimple
		}
	case 2:
		t, err := r.u8()
		if err != nil {
			return nil, err
		}
		ds.Type = t
	default:
		return nil, fmt.Errorf("%w: dataspace version %d", ErrUnsupported, version)
	}
	for i := 0; i < int(rank); i++ {
		d, err := r.length()
		if err != nil {
			return nil, err
		}
		ds.Dims = append(ds.Dims, d)
	}
	if flags&1 != 0 {
		for i := 0; i < int(rank); i++ {
			d, err := r.length()
			if err != nil {
				return nil, err
			}
			ds.MaxDims = append(ds.MaxDims, d)
		}
	}
	if version == 1 && flags&2 != 0 {
		// Permutation indices, never emitted by the C library.
		r.skip(int64(rank) * int64(r.lengthSize))
	}
	return ds, nil
}

// ScalarSpace returns a rank-0 dataspace holding one element.
func ScalarSpace() *Dataspace {
	return &Dataspace{Version: 1, Type: SpaceScalar}
}

// SimpleSpace returns a fixed-extent dataspace over dims.
func SimpleSpace(dims ...uint64) *Dataspace {
	return &Dataspace{Version: 1, Type: SpaceSimple, Dims: dims}
}

// encodeDataspace emits a version 1 message with 8-byte dimension sizes
// and no maximum dimensions.
func encodeDataspace(w *wbuf, ds *Dataspace) {
	w.putU8(1)
	w.putU8(uint8(len(ds.Dims)))
	w.putU8(0) // flags: no max dims
	w.putZeros(5)
	for _, d := range ds.Dims {
		w.putU64(d)
	}
}
