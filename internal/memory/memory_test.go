package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flat is a byte slice memory with a bump allocator starting at 1024.
type flat struct {
	buf  []byte
	next uint32
}

func newFlat() *flat {
	return &flat{buf: make([]byte, 64*1024), next: 1024}
}

func (f *flat) ReadMemory(offset, length uint32) ([]byte, error) {
	if uint64(offset)+uint64(length) > uint64(len(f.buf)) {
		return nil, ErrLowLevelRead
	}
	return append([]byte(nil), f.buf[offset:offset+length]...), nil
}

func (f *flat) WriteMemory(offset uint32, data []byte) error {
	if uint64(offset)+uint64(len(data)) > uint64(len(f.buf)) {
		return ErrLowLevelWrite
	}
	copy(f.buf[offset:], data)
	return nil
}

func (f *flat) alloc(_ context.Context, capacity uint32) (uint32, error) {
	data := f.next
	ptr := data + capacity
	f.next = ptr + RegionSize
	return ptr, f.WriteMemory(ptr, Region{Offset: data, Capacity: capacity}.Bytes())
}

func TestRegionRoundTrip(t *testing.T) {
	mem := newFlat()
	ptr, err := Allocate(context.Background(), mem, mem.alloc, []byte("hello"))
	require.NoError(t, err)

	r, err := ReadRegion(mem, ptr)
	require.NoError(t, err)
	assert.Equal(t, uint32(1024), r.Offset)
	assert.Equal(t, uint32(5), r.Capacity)
	assert.Equal(t, uint32(5), r.Length)

	data, err := Read(mem, ptr, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)
}

func TestWriteUpdatesLength(t *testing.T) {
	mem := newFlat()
	ptr, err := mem.alloc(context.Background(), 16)
	require.NoError(t, err)

	require.NoError(t, Write(mem, ptr, []byte("abc")))
	data, err := Read(mem, ptr, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), data)

	err = Write(mem, ptr, make([]byte, 17))
	var regionErr *RegionError
	require.ErrorAs(t, err, &regionErr)
	assert.Equal(t, ptr, regionErr.Ptr)
}

func TestReadRejectsBadRegions(t *testing.T) {
	mem := newFlat()

	_, err := Read(mem, 0, 0)
	require.ErrorIs(t, err, ErrNullPointer)

	require.NoError(t, mem.WriteMemory(100, Region{Offset: 200, Capacity: 4, Length: 8}.Bytes()))
	_, err = Read(mem, 100, 0)
	var regionErr *RegionError
	require.ErrorAs(t, err, &regionErr)
	assert.Equal(t, "length exceeds capacity", regionErr.Reason)

	require.NoError(t, mem.WriteMemory(100, Region{Offset: 0, Capacity: 4, Length: 4}.Bytes()))
	_, err = Read(mem, 100, 0)
	require.ErrorAs(t, err, &regionErr)
	assert.Equal(t, "zero offset", regionErr.Reason)

	// descriptor past the end of memory
	_, err = Read(mem, 64*1024-4, 0)
	require.ErrorIs(t, err, ErrLowLevelRead)
}

func TestReadEnforcesLimit(t *testing.T) {
	mem := newFlat()
	ptr, err := Allocate(context.Background(), mem, mem.alloc, make([]byte, 33))
	require.NoError(t, err)

	_, err = Read(mem, ptr, 32)
	var tooLarge *TooLargeError
	require.ErrorAs(t, err, &tooLarge)
	assert.Equal(t, uint32(33), tooLarge.Length)
	assert.Equal(t, uint32(32), tooLarge.Max)

	_, err = Read(mem, ptr, 33)
	require.NoError(t, err)
}

func TestSections(t *testing.T) {
	enc := EncodeSections([]byte("key"), []byte{}, []byte("value"))
	assert.Equal(t, []byte("key\x00\x00\x00\x03\x00\x00\x00\x00value\x00\x00\x00\x05"), enc)

	parts, err := DecodeSections(enc)
	require.NoError(t, err)
	require.Len(t, parts, 3)
	assert.Equal(t, []byte("key"), parts[0])
	assert.Empty(t, parts[1])
	assert.Equal(t, []byte("value"), parts[2])

	parts, err = DecodeSections(nil)
	require.NoError(t, err)
	assert.Empty(t, parts)

	_, err = DecodeSections([]byte{0, 0, 9})
	require.ErrorIs(t, err, ErrMalformedSections)
	_, err = DecodeSections([]byte("ab\x00\x00\x00\x07"))
	require.ErrorIs(t, err, ErrMalformedSections)
}
