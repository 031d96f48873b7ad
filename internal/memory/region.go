// Package memory implements the CosmWasm linear memory conventions: the
// Region descriptor contracts use to exchange buffers with the host, and the
// section encoding used for lists of buffers.
package memory

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/tetratelabs/wazero/api"
)

// RegionSize is the size of an encoded Region: three little endian u32.
const RegionSize = 12

// Region describes a buffer in guest memory.
type Region struct {
	Offset   uint32
	Capacity uint32
	Length   uint32
}

// Memory is bounds checked access to one guest linear memory.
type Memory interface {
	ReadMemory(offset, length uint32) ([]byte, error)
	WriteMemory(offset uint32, data []byte) error
}

// Allocator asks the guest for a fresh region of the given capacity and
// returns a pointer to its descriptor.
type Allocator func(ctx context.Context, capacity uint32) (uint32, error)

var (
	// ErrLowLevelRead is returned when guest memory cannot be read.
	ErrLowLevelRead = errors.New("low level memory read error")
	// ErrLowLevelWrite is returned when guest memory cannot be written.
	ErrLowLevelWrite = errors.New("low level memory write error")
	// ErrNullPointer is returned for a zero region pointer.
	ErrNullPointer = errors.New("region pointer is null")
)

// RegionError reports a descriptor that violates the region invariants.
type RegionError struct {
	Ptr    uint32
	Region Region
	Reason string
}

func (e *RegionError) Error() string {
	return fmt.Sprintf("invalid region at %d (offset=%d capacity=%d length=%d): %s",
		e.Ptr, e.Region.Offset, e.Region.Capacity, e.Region.Length, e.Reason)
}

// TooLargeError is returned when a region holds more data than its consumer accepts.
type TooLargeError struct {
	Length uint32
	Max    uint32
}

func (e *TooLargeError) Error() string {
	return fmt.Sprintf("region length %d exceeds limit %d", e.Length, e.Max)
}

// Linear adapts a wazero memory.
func Linear(mem api.Memory) Memory {
	return linear{mem: mem}
}

type linear struct {
	mem api.Memory
}

func (l linear) ReadMemory(offset, length uint32) ([]byte, error) {
	data, ok := l.mem.Read(offset, length)
	if !ok {
		return nil, ErrLowLevelRead
	}
	// the view aliases guest memory
	return append([]byte(nil), data...), nil
}

func (l linear) WriteMemory(offset uint32, data []byte) error {
	if !l.mem.Write(offset, data) {
		return ErrLowLevelWrite
	}
	return nil
}

// Bytes returns the wire form of r.
func (r Region) Bytes() []byte {
	buf := make([]byte, RegionSize)
	binary.LittleEndian.PutUint32(buf[0:4], r.Offset)
	binary.LittleEndian.PutUint32(buf[4:8], r.Capacity)
	binary.LittleEndian.PutUint32(buf[8:12], r.Length)
	return buf
}

func (r Region) validate(ptr uint32) error {
	if r.Offset == 0 {
		return &RegionError{Ptr: ptr, Region: r, Reason: "zero offset"}
	}
	if r.Length > r.Capacity {
		return &RegionError{Ptr: ptr, Region: r, Reason: "length exceeds capacity"}
	}
	if uint64(r.Offset)+uint64(r.Capacity) > 1<<32 {
		return &RegionError{Ptr: ptr, Region: r, Reason: "capacity overflows address space"}
	}
	return nil
}

// ReadRegion decodes and validates the descriptor at ptr.
func ReadRegion(mem Memory, ptr uint32) (Region, error) {
	if ptr == 0 {
		return Region{}, ErrNullPointer
	}
	raw, err := mem.ReadMemory(ptr, RegionSize)
	if err != nil {
		return Region{}, err
	}
	r := Region{
		Offset:   binary.LittleEndian.Uint32(raw[0:4]),
		Capacity: binary.LittleEndian.Uint32(raw[4:8]),
		Length:   binary.LittleEndian.Uint32(raw[8:12]),
	}
	if err := r.validate(ptr); err != nil {
		return Region{}, err
	}
	return r, nil
}

// Read returns a copy of the data the region at ptr points to. A max of zero
// disables the length limit.
func Read(mem Memory, ptr uint32, max uint32) ([]byte, error) {
	r, err := ReadRegion(mem, ptr)
	if err != nil {
		return nil, err
	}
	if max > 0 && r.Length > max {
		return nil, &TooLargeError{Length: r.Length, Max: max}
	}
	return mem.ReadMemory(r.Offset, r.Length)
}

// Write stores data into the region at ptr and updates its length.
func Write(mem Memory, ptr uint32, data []byte) error {
	r, err := ReadRegion(mem, ptr)
	if err != nil {
		return err
	}
	if uint64(len(data)) > uint64(r.Capacity) {
		return &RegionError{Ptr: ptr, Region: r, Reason: fmt.Sprintf("%d bytes do not fit", len(data))}
	}
	if err := mem.WriteMemory(r.Offset, data); err != nil {
		return err
	}
	r.Length = uint32(len(data))
	return mem.WriteMemory(ptr, r.Bytes())
}

// Allocate requests a region big enough for data from the guest, fills it and
// returns the descriptor pointer.
func Allocate(ctx context.Context, mem Memory, alloc Allocator, data []byte) (uint32, error) {
	ptr, err := alloc(ctx, uint32(len(data)))
	if err != nil {
		return 0, err
	}
	if err := Write(mem, ptr, data); err != nil {
		return 0, err
	}
	return ptr, nil
}
