package castor

import (
	"fmt"

	"github.com/achilleasa/castor/types"
)

// ElementType describes the layout of a single buffer element.
type ElementType uint8

const (
	Float ElementType = iota
	Float2
	Float3
	UInt
	UInt3
	UInt4
)

func (et ElementType) String() string {
	switch et {
	case Float:
		return "float"
	case Float2:
		return "float2"
	case Float3:
		return "float3"
	case UInt:
		return "uint"
	case UInt3:
		return "uint3"
	case UInt4:
		return "uint4"
	}
	panic("castor: unsupported element type")
}

// Stride returns the element size in bytes.
func (et ElementType) Stride() int {
	return et.lanes() * 4
}

func (et ElementType) lanes() int {
	switch et {
	case Float, UInt:
		return 1
	case Float2:
		return 2
	case Float3, UInt3:
		return 3
	case UInt4:
		return 4
	}
	panic("castor: unsupported element type")
}

func (et ElementType) isFloat() bool {
	return et <= Float3
}

// Buffer is a typed, bounds checked region of vertex/index/attribute data.
// A buffer starts with one counted reference; Share adds references and
// Release drops them. The storage is freed once the reference count and the
// number of geometry slots holding the buffer both reach zero.
type Buffer struct {
	dev   *Device
	elem  ElementType
	count int

	// Flat storage; exactly one of the two is allocated depending on the
	// element class.
	floats []float32
	uints  []uint32

	refs   int
	holds  int
	frozen int
	closed bool
}

// NewBuffer allocates zero filled storage for count elements of the given
// type.
func (d *Device) NewBuffer(elem ElementType, count int) (*Buffer, error) {
	if d.closed {
		return nil, ErrClosed
	}
	if elem > UInt4 {
		return nil, fmt.Errorf("%w: unknown element type %d", ErrTypeMismatch, elem)
	}
	if count < 0 {
		return nil, fmt.Errorf("%w: buffer element count %d", ErrOutOfBounds, count)
	}

	buf := &Buffer{dev: d, elem: elem, count: count, refs: 1}
	if elem.isFloat() {
		buf.floats = make([]float32, count*elem.lanes())
	} else {
		buf.uints = make([]uint32, count*elem.lanes())
	}
	d.retain()
	return buf, nil
}

// ElementType returns the buffer's element layout.
func (b *Buffer) ElementType() ElementType {
	return b.elem
}

// Count returns the buffer capacity in elements.
func (b *Buffer) Count() int {
	return b.count
}

// Share adds a counted reference and returns the same buffer so it can be
// bound to additional geometries.
func (b *Buffer) Share() *Buffer {
	if b.closed {
		panic("castor: share of released buffer")
	}
	b.refs++
	return b
}

// Release drops one counted reference. The storage survives as long as a
// geometry slot still holds the buffer.
func (b *Buffer) Release() error {
	if b.closed || b.refs == 0 {
		return ErrClosed
	}
	b.refs--
	b.maybeFree()
	return nil
}

func (b *Buffer) hold() {
	b.holds++
}

func (b *Buffer) unhold() {
	b.holds--
	b.maybeFree()
}

func (b *Buffer) maybeFree() {
	if b.closed || b.refs > 0 || b.holds > 0 {
		return
	}
	b.closed = true
	b.floats, b.uints = nil, nil
	b.dev.release()
}

func (b *Buffer) freeze() {
	b.frozen++
}

func (b *Buffer) unfreeze() {
	b.frozen--
}

func (b *Buffer) writeGuard(want ElementType, offset, n int) error {
	if b.closed {
		return ErrClosed
	}
	if b.elem != want {
		return fmt.Errorf("%w: buffer holds %s elements; tried to write %s", ErrTypeMismatch, b.elem, want)
	}
	if b.frozen > 0 {
		return ErrMutationAfterCommit
	}
	if offset < 0 || n < 0 || offset+n > b.count {
		return fmt.Errorf("%w: write of %d elements at offset %d into a buffer of %d", ErrOutOfBounds, n, offset, b.count)
	}
	return nil
}

func (b *Buffer) readGuard(want ElementType, offset, n int) error {
	if b.closed {
		return ErrClosed
	}
	if b.elem != want {
		return fmt.Errorf("%w: buffer holds %s elements; tried to read %s", ErrTypeMismatch, b.elem, want)
	}
	if offset < 0 || n < 0 || offset+n > b.count {
		return fmt.Errorf("%w: read of %d elements at offset %d from a buffer of %d", ErrOutOfBounds, n, offset, b.count)
	}
	return nil
}

// WriteFloat copies data into a Float buffer starting at the given element
// offset. Writes fail with ErrMutationAfterCommit while the buffer is held
// by a geometry attached to a committed scene.
func (b *Buffer) WriteFloat(offset int, data []float32) error {
	if err := b.writeGuard(Float, offset, len(data)); err != nil {
		return err
	}
	copy(b.floats[offset:], data)
	return nil
}

// WriteFloat2 copies data into a Float2 buffer.
func (b *Buffer) WriteFloat2(offset int, data []types.Vec2) error {
	if err := b.writeGuard(Float2, offset, len(data)); err != nil {
		return err
	}
	for i, v := range data {
		copy(b.floats[(offset+i)*2:], v[:])
	}
	return nil
}

// WriteFloat3 copies data into a Float3 buffer.
func (b *Buffer) WriteFloat3(offset int, data []types.Vec3) error {
	if err := b.writeGuard(Float3, offset, len(data)); err != nil {
		return err
	}
	for i, v := range data {
		copy(b.floats[(offset+i)*3:], v[:])
	}
	return nil
}

// WriteUInt copies data into a UInt buffer.
func (b *Buffer) WriteUInt(offset int, data []uint32) error {
	if err := b.writeGuard(UInt, offset, len(data)); err != nil {
		return err
	}
	copy(b.uints[offset:], data)
	return nil
}

// WriteUInt3 copies data into a UInt3 buffer.
func (b *Buffer) WriteUInt3(offset int, data [][3]uint32) error {
	if err := b.writeGuard(UInt3, offset, len(data)); err != nil {
		return err
	}
	for i, v := range data {
		copy(b.uints[(offset+i)*3:], v[:])
	}
	return nil
}

// WriteUInt4 copies data into a UInt4 buffer.
func (b *Buffer) WriteUInt4(offset int, data [][4]uint32) error {
	if err := b.writeGuard(UInt4, offset, len(data)); err != nil {
		return err
	}
	for i, v := range data {
		copy(b.uints[(offset+i)*4:], v[:])
	}
	return nil
}

// ReadFloat copies elements out of a Float buffer into dst.
func (b *Buffer) ReadFloat(offset int, dst []float32) error {
	if err := b.readGuard(Float, offset, len(dst)); err != nil {
		return err
	}
	copy(dst, b.floats[offset:])
	return nil
}

// ReadFloat2 copies elements out of a Float2 buffer into dst.
func (b *Buffer) ReadFloat2(offset int, dst []types.Vec2) error {
	if err := b.readGuard(Float2, offset, len(dst)); err != nil {
		return err
	}
	for i := range dst {
		copy(dst[i][:], b.floats[(offset+i)*2:])
	}
	return nil
}

// ReadFloat3 copies elements out of a Float3 buffer into dst.
func (b *Buffer) ReadFloat3(offset int, dst []types.Vec3) error {
	if err := b.readGuard(Float3, offset, len(dst)); err != nil {
		return err
	}
	for i := range dst {
		copy(dst[i][:], b.floats[(offset+i)*3:])
	}
	return nil
}

// ReadUInt copies elements out of a UInt buffer into dst.
func (b *Buffer) ReadUInt(offset int, dst []uint32) error {
	if err := b.readGuard(UInt, offset, len(dst)); err != nil {
		return err
	}
	copy(dst, b.uints[offset:])
	return nil
}

// ReadUInt3 copies elements out of a UInt3 buffer into dst.
func (b *Buffer) ReadUInt3(offset int, dst [][3]uint32) error {
	if err := b.readGuard(UInt3, offset, len(dst)); err != nil {
		return err
	}
	for i := range dst {
		copy(dst[i][:], b.uints[(offset+i)*3:])
	}
	return nil
}

// ReadUInt4 copies elements out of a UInt4 buffer into dst.
func (b *Buffer) ReadUInt4(offset int, dst [][4]uint32) error {
	if err := b.readGuard(UInt4, offset, len(dst)); err != nil {
		return err
	}
	for i := range dst {
		copy(dst[i][:], b.uints[(offset+i)*4:])
	}
	return nil
}

// Unchecked single element accessors used by commit after it has validated
// index ranges.

func (b *Buffer) vec3At(i int) types.Vec3 {
	j := i * 3
	return types.Vec3{b.floats[j], b.floats[j+1], b.floats[j+2]}
}

func (b *Buffer) floatAt(i int) float32 {
	return b.floats[i]
}

func (b *Buffer) uintAt(i int) uint32 {
	return b.uints[i]
}

func (b *Buffer) uint3At(i int) [3]uint32 {
	j := i * 3
	return [3]uint32{b.uints[j], b.uints[j+1], b.uints[j+2]}
}

func (b *Buffer) uint4At(i int) [4]uint32 {
	j := i * 4
	return [4]uint32{b.uints[j], b.uints[j+1], b.uints[j+2], b.uints[j+3]}
}
