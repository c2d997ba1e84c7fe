package hdf5

import (
	"encoding/binary"
	"fmt"
)

// TypeClass identifies the datatype message class.
type TypeClass uint8

const (
	ClassFixed     TypeClass = 0
	ClassFloat     TypeClass = 1
	ClassTime      TypeClass = 2
	ClassString    TypeClass = 3
	ClassBitfield  TypeClass = 4
	ClassOpaque    TypeClass = 5
	ClassCompound  TypeClass = 6
	ClassReference TypeClass = 7
	ClassEnum      TypeClass = 8
	ClassVarLen    TypeClass = 9
	ClassArray     TypeClass = 10
)

func (c TypeClass) String() string {
	switch c {
	case ClassFixed:
		return "fixed-point"
	case ClassFloat:
		return "floating-point"
	case ClassTime:
		return "time"
	case ClassString:
		return "string"
	case ClassBitfield:
		return "bitfield"
	case ClassOpaque:
		return "opaque"
	case ClassCompound:
		return "compound"
	case ClassReference:
		return "reference"
	case ClassEnum:
		return "enum"
	case ClassVarLen:
		return "variable-length"
	case ClassArray:
		return "array"
	default:
		return fmt.Sprintf("class-%d", uint8(c))
	}
}

// String padding variants. Trailing bytes beyond the logical value are
// NULs or spaces depending on the stored variant.
const (
	StrPadNullTerm uint8 = 0
	StrPadNullPad  uint8 = 1
	StrPadSpace    uint8 = 2
)

// Member is one field of a compound datatype, at its on-disk byte offset
// within the element.
type Member struct {
	Name   string
	Offset uint32
	Type   *Datatype
}

// Datatype is a decoded datatype message. Only the fields relevant to the
// parsed class are populated.
type Datatype struct {
	Class   TypeClass
	Version uint8
	Size    uint32

	// Fixed-point and floating-point.
	Order  binary.ByteOrder
	Signed bool

	// Floating-point layout, kept for IEEE validation.
	BitOffset uint16
	Precision uint16
	ExpLoc    uint8
	ExpSize   uint8
	MantLoc   uint8
	MantSize  uint8
	ExpBias   uint32

	// String padding and character set.
	StrPad  uint8
	Charset uint8

	// Compound members in on-disk order.
	Members []Member

	// Enum and array base type; also the element type of variable-length
	// sequences.
	Base *Datatype

	// Enum members. Values are decoded through the base type.
	EnumNames  []string
	EnumValues []int64

	// Fixed-array dimension sizes.
	Dims []uint32

	// True for variable-length strings (as opposed to sequences).
	VarLenString bool
}

// maxTypeDepth bounds recursion while parsing nested datatypes so a
// corrupted file cannot run the parser into the stack limit.
const maxTypeDepth = 16

func parseDatatype(r *reader) (*Datatype, error) {
	return parseDatatypeDepth(r, 0)
}

func parseDatatypeDepth(r *reader, depth int) (*Datatype, error) {
	if depth > maxTypeDepth {
		return nil, fmt.Errorf("%w: datatype nesting exceeds %d levels", ErrCorrupted, maxTypeDepth)
	}
	head, err := r.bytes(8)
	if err != nil {
		return nil, err
	}
	dt := &Datatype{
		Class:   TypeClass(head[0] & 0x0f),
		Version: head[0] >> 4,
		Size:    binary.LittleEndian.Uint32(head[4:]),
	}
	if dt.Version == 0 || dt.Version > 3 {
		return nil, fmt.Errorf("%w: datatype version %d", ErrUnsupported, dt.Version)
	}
	classBits := uint32(head[1]) | uint32(head[2])<<8 | uint32(head[3])<<16

	switch dt.Class {
	case ClassFixed:
		if err := parseOrder(dt, classBits); err != nil {
			return nil, err
		}
		dt.Signed = classBits&(1<<3) != 0
		if dt.BitOffset, err = r.u16(); err != nil {
			return nil, err
		}
		if dt.Precision, err = r.u16(); err != nil {
			return nil, err
		}

	case ClassFloat:
		if err := parseOrder(dt, classBits); err != nil {
			return nil, err
		}
		props, err := r.bytes(12)
		if err != nil {
			return nil, err
		}
		dt.BitOffset = binary.LittleEndian.Uint16(props[0:])
		dt.Precision = binary.LittleEndian.Uint16(props[2:])
		dt.ExpLoc = props[4]
		dt.ExpSize = props[5]
		dt.MantLoc = props[6]
		dt.MantSize = props[7]
		dt.ExpBias = binary.LittleEndian.Uint32(props[8:])

	case ClassString:
		dt.StrPad = uint8(classBits & 0x0f)
		dt.Charset = uint8(classBits >> 4 & 0x0f)

	case ClassCompound:
		count := int(classBits & 0xffff)
		for i := 0; i < count; i++ {
			m, err := parseMember(r, dt, depth)
			if err != nil {
				return nil, err
			}
			dt.Members = append(dt.Members, m)
		}

	case ClassEnum:
		if dt.Base, err = parseDatatypeDepth(r, depth+1); err != nil {
			return nil, err
		}
		count := int(classBits & 0xffff)
		for i := 0; i < count; i++ {
			var name string
			if dt.Version < 3 {
				name, err = readPaddedName(r)
			} else {
				name, err = readCName(r)
			}
			if err != nil {
				return nil, err
			}
			dt.EnumNames = append(dt.EnumNames, name)
		}
		for i := 0; i < count; i++ {
			v, err := readEnumValue(r, dt.Base)
			if err != nil {
				return nil, err
			}
			dt.EnumValues = append(dt.EnumValues, v)
		}

	case ClassVarLen:
		dt.VarLenString = classBits&0x0f == 1
		if dt.Base, err = parseDatatypeDepth(r, depth+1); err != nil {
			return nil, err
		}

	case ClassArray:
		if dt.Version < 2 {
			return nil, fmt.Errorf("%w: array datatype version %d", ErrUnsupported, dt.Version)
		}
		ndims, err := r.u8()
		if err != nil {
			return nil, err
		}
		if dt.Version == 2 {
			r.skip(3)
		}
		for i := 0; i < int(ndims); i++ {
			d, err := r.u32()
			if err != nil {
				return nil, err
			}
			dt.Dims = append(dt.Dims, d)
		}
		if dt.Version == 2 {
			// Permutation indices, one per dimension, unused since the
			// feature was never implemented by the C library.
			r.skip(4 * int64(ndims))
		}
		if dt.Base, err = parseDatatypeDepth(r, depth+1); err != nil {
			return nil, err
		}

	case ClassTime, ClassBitfield:
		// Byte order in the class bits, bit offset and precision in the
		// properties for bitfield, precision only for time.
		if dt.Class == ClassBitfield {
			r.skip(4)
		} else {
			r.skip(2)
		}

	case ClassOpaque:
		// The low class bits carry the ASCII tag length.
		r.skip(int64(classBits & 0xff))

	case ClassReference:
		// No properties.

	default:
		return nil, fmt.Errorf("%w: datatype class %d", ErrUnsupported, uint8(dt.Class))
	}
	return dt, nil
}

func parseOrder(dt *Datatype, classBits uint32) error {
	if classBits&(1<<6) != 0 {
		return fmt.Errorf("%w: VAX byte order", ErrUnsupported)
	}
	if classBits&1 != 0 {
		dt.Order = binary.BigEndian
	} else {
		dt.Order = binary.LittleEndian
	}
	return nil
}

// parseMember decodes one compound member. Version 1 carries a fixed
// 28-byte dimensionality block after the offset; version 3 shrinks the
// offset field to the minimum width that can address the compound size.
func parseMember(r *reader, parent *Datatype, depth int) (Member, error) {
	var m Member
	var err error
	if parent.Version < 3 {
		m.Name, err = readPaddedName(r)
	} else {
		m.Name, err = readCName(r)
	}
	if err != nil {
		return m, err
	}
	switch parent.Version {
	case 1:
		off, err := r.u32()
		if err != nil {
			return m, err
		}
		m.Offset = off
		// Dimensionality, three reserved bytes, permutation, reserved,
		// four dimension sizes.
		r.skip(1 + 3 + 4 + 4 + 16)
	case 2:
		off, err := r.u32()
		if err != nil {
			return m, err
		}
		m.Offset = off
	default:
		off, err := r.uintN(offsetFieldWidth(parent.Size))
		if err != nil {
			return m, err
		}
		m.Offset = uint32(off)
	}
	m.Type, err = parseDatatypeDepth(r, depth+1)
	return m, err
}

// offsetFieldWidth returns the byte width of version 3 member offsets for
// a compound of the given size.
func offsetFieldWidth(size uint32) int {
	switch {
	case size < 1<<8:
		return 1
	case size < 1<<16:
		return 2
	default:
		return 4
	}
}

// readPaddedName reads a NUL-terminated name padded to a multiple of
// eight bytes.
func readPaddedName(r *reader) (string, error) {
	var name []byte
	for {
		block, err := r.bytes(8)
		if err != nil {
			return "", err
		}
		for _, b := range block {
			if b == 0 {
				return string(name), nil
			}
			name = append(name, b)
		}
	}
}

// readCName reads an unpadded NUL-terminated name.
func readCName(r *reader) (string, error) {
	var name []byte
	for {
		b, err := r.u8()
		if err != nil {
			return "", err
		}
		if b == 0 {
			return string(name), nil
		}
		name = append(name, b)
		if len(name) > 64*1024 {
			return "", fmt.Errorf("%w: unterminated name", ErrCorrupted)
		}
	}
}

// readEnumValue decodes one enum member value through the base type.
func readEnumValue(r *reader, base *Datatype) (int64, error) {
	if base == nil || base.Class != ClassFixed {
		return 0, fmt.Errorf("%w: enum base is not fixed-point", ErrUnsupported)
	}
	buf, err := r.bytes(int(base.Size))
	if err != nil {
		return 0, err
	}
	var u uint64
	if base.Order == binary.BigEndian {
		for _, b := range buf {
			u = u<<8 | uint64(b)
		}
	} else {
		for i := len(buf) - 1; i >= 0; i-- {
			u = u<<8 | uint64(buf[i])
		}
	}
	if base.Signed {
		shift := 64 - 8*uint(len(buf))
		return int64(u<<shift) >> shift, nil
	}
	return int64(u), nil
}

// ElemCount returns the total element count of a fixed-array datatype.
func (dt *Datatype) ElemCount() uint64 {
	n := uint64(1)
	for _, d := range dt.Dims {
		n *= uint64(d)
	}
	return n
}

// Constructors for the write path. Numeric types are little-endian.

// FixedType returns a fixed-point type of the given byte size.
func FixedType(size int, signed bool) *Datatype {
	return &Datatype{
		Class:     ClassFixed,
		Version:   1,
		Size:      uint32(size),
		Order:     binary.LittleEndian,
		Signed:    signed,
		Precision: uint16(8 * size),
	}
}

// FloatType returns an IEEE 754 type of 4 or 8 bytes.
func FloatType(size int) *Datatype {
	dt := &Datatype{
		Class:     ClassFloat,
		Version:   1,
		Size:      uint32(size),
		Order:     binary.LittleEndian,
		Precision: uint16(8 * size),
	}
	if size == 4 {
		dt.ExpLoc = 23
		dt.ExpSize = 8
		dt.MantSize = 23
		dt.ExpBias = 127
	} else {
		dt.ExpLoc = 52
		dt.ExpSize = 11
		dt.MantSize = 52
		dt.ExpBias = 1023
	}
	return dt
}

// StringType returns a fixed-size NUL-terminated ASCII string type.
func StringType(size int) *Datatype {
	return &Datatype{Class: ClassString, Version: 1, Size: uint32(size), StrPad: StrPadNullTerm}
}

// BoolType returns the conventional boolean encoding: a one-byte enum over
// a signed 8-bit base with members FALSE=0 and TRUE=1.
func BoolType() *Datatype {
	return EnumType(FixedType(1, true), []string{"FALSE", "TRUE"}, []int64{0, 1})
}

// EnumType returns an enumeration over the given fixed-point base.
func EnumType(base *Datatype, names []string, values []int64) *Datatype {
	return &Datatype{
		Class:      ClassEnum,
		Version:    3,
		Size:       base.Size,
		Base:       base,
		EnumNames:  names,
		EnumValues: values,
	}
}

// CompoundType returns a compound of the given total element size. Member
// offsets are taken as given so callers control padding.
func CompoundType(size uint32, members []Member) *Datatype {
	return &Datatype{Class: ClassCompound, Version: 3, Size: size, Members: members}
}

// ArrayType returns a one-dimensional fixed array of n base elements.
func ArrayType(base *Datatype, n uint32) *Datatype {
	return &Datatype{
		Class:   ClassArray,
		Version: 3,
		Size:    base.Size * n,
		Base:    base,
		Dims:    []uint32{n},
	}
}

// VarLenStringType returns a variable-length string type. The reader
// rejects it; it exists so tests can produce files that exercise the
// rejection path.
func VarLenStringType() *Datatype {
	return &Datatype{
		Class:        ClassVarLen,
		Version:      1,
		Size:         16, // global heap ID
		Base:         StringType(1),
		VarLenString: true,
	}
}

func encodeDatatype(w *wbuf, dt *Datatype) error {
	var classBits uint32
	switch dt.Class {
	case ClassFixed:
		if dt.Order == binary.BigEndian {
			classBits |= 1
		}
		if dt.Signed {
			classBits |= 1 << 3
		}
	case ClassFloat:
		if dt.Order == binary.BigEndian {
			classBits |= 1
		}
		// Sign location present, at the top bit of the value.
		classBits |= 1 << 5
		classBits |= uint32(dt.Precision-1) << 8
	case ClassString:
		classBits = uint32(dt.StrPad) | uint32(dt.Charset)<<4
	case ClassCompound:
		classBits = uint32(len(dt.Members))
	case ClassEnum:
		classBits = uint32(len(dt.EnumNames))
	case ClassVarLen:
		if dt.VarLenString {
			classBits = 1
		}
	case ClassArray:
		// No class bits.
	default:
		return fmt.Errorf("%w: cannot encode datatype class %s", ErrUnsupported, dt.Class)
	}

	w.putU8(uint8(dt.Class) | dt.Version<<4)
	w.putU8(uint8(classBits))
	w.putU8(uint8(classBits >> 8))
	w.putU8(uint8(classBits >> 16))
	w.putU32(dt.Size)

	switch dt.Class {
	case ClassFixed:
		w.putU16(dt.BitOffset)
		w.putU16(dt.Precision)
	case ClassFloat:
		w.putU16(dt.BitOffset)
		w.putU16(dt.Precision)
		w.putU8(dt.ExpLoc)
		w.putU8(dt.ExpSize)
		w.putU8(dt.MantLoc)
		w.putU8(dt.MantSize)
		w.putU32(dt.ExpBias)
	case ClassString:
		// No properties.
	case ClassCompound:
		width := offsetFieldWidth(dt.Size)
		for _, m := range dt.Members {
			w.putBytes([]byte(m.Name))
			w.putU8(0)
			w.putUintN(uint64(m.Offset), width)
			if err := encodeDatatype(w, m.Type); err != nil {
				return err
			}
		}
	case ClassEnum:
		if err := encodeDatatype(w, dt.Base); err != nil {
			return err
		}
		for _, name := range dt.EnumNames {
			w.putBytes([]byte(name))
			w.putU8(0)
		}
		for _, v := range dt.EnumValues {
			w.putUintN(uint64(v), int(dt.Base.Size))
		}
	case ClassVarLen:
		if err := encodeDatatype(w, dt.Base); err != nil {
			return err
		}
	case ClassArray:
		w.putU8(uint8(len(dt.Dims)))
		for _, d := range dt.Dims {
			w.putU32(d)
		}
		if err := encodeDatatype(w, dt.Base); err != nil {
			return err
		}
	}
	return nil
}
