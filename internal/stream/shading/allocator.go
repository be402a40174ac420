package shading

import (
	"errors"
	"fmt"
)

// MaxSlotSize is the largest slot handed out; a brick never has more than 512
// surface voxels.
const MaxSlotSize = 512

var (
	ErrAddressOutOfRange = errors.New("shading: address out of range")
	ErrMisaligned        = errors.New("shading: address not aligned to slot size")
	ErrNotAllocated      = errors.New("shading: address not allocated")
)

type bucket struct {
	globalOffset uint32
	slotCount    uint32
	slotSize     uint32

	free []uint32 // LIFO stack of free local indices
	used []bool
}

func newBucket(globalOffset, slotCount, slotSize uint32) *bucket {
	b := &bucket{
		globalOffset: globalOffset,
		slotCount:    slotCount,
		slotSize:     slotSize,
		free:         make([]uint32, 0, slotCount),
		used:         make([]bool, slotCount),
	}
	// Pushed in reverse so the first pop hands out local index 0.
	for i := slotCount; i > 0; i-- {
		b.free = append(b.free, i-1)
	}
	return b
}

func (b *bucket) contains(addr uint32) bool {
	end := b.globalOffset + b.slotCount*b.slotSize
	return b.globalOffset <= addr && addr < end
}

func (b *bucket) tryAlloc() (uint32, bool) {
	n := len(b.free)
	if n == 0 {
		return 0, false
	}
	local := b.free[n-1]
	b.free = b.free[:n-1]
	b.used[local] = true
	return b.globalOffset + local*b.slotSize, true
}

func (b *bucket) tryDealloc(addr uint32) error {
	if !b.contains(addr) {
		return fmt.Errorf("%w: %d", ErrAddressOutOfRange, addr)
	}
	rel := addr - b.globalOffset
	if rel%b.slotSize != 0 {
		return fmt.Errorf("%w: %d (slot size %d)", ErrMisaligned, addr, b.slotSize)
	}
	local := rel / b.slotSize
	if !b.used[local] {
		return fmt.Errorf("%w: %d", ErrNotAllocated, addr)
	}
	b.used[local] = false
	b.free = append(b.free, local)
	return nil
}

// BucketStats describes one bucket for metrics and logs.
type BucketStats struct {
	GlobalOffset uint32 `json:"global_offset"`
	SlotSize     uint32 `json:"slot_size"`
	SlotCount    uint32 `json:"slot_count"`
	Free         uint32 `json:"free"`
}

// Allocator sub-allocates the shading table into buckets of power-of-two
// slots. Bucket i (counting from the largest) starts at i*elementsPerBucket
// and holds slots of 2^(9-i) elements.
type Allocator struct {
	// buckets are ordered by ascending slot size, so buckets[0] is the last
	// bucket in address space.
	buckets           []*bucket
	bucketCount       uint32
	elementsPerBucket uint32
	totalElements     uint32
	usedElements      uint32
}

func New(bucketCount, elementsPerBucket uint32) (*Allocator, error) {
	if bucketCount == 0 || bucketCount > 10 {
		return nil, fmt.Errorf("shading: bucket count %d out of range [1,10]", bucketCount)
	}
	if elementsPerBucket < MaxSlotSize {
		return nil, fmt.Errorf("shading: elements per bucket %d below %d", elementsPerBucket, MaxSlotSize)
	}
	a := &Allocator{
		buckets:           make([]*bucket, 0, bucketCount),
		bucketCount:       bucketCount,
		elementsPerBucket: elementsPerBucket,
		totalElements:     bucketCount * elementsPerBucket,
	}
	for i := bucketCount; i > 0; i-- {
		idx := i - 1
		slotSize := uint32(1) << (9 - idx)
		a.buckets = append(a.buckets, newBucket(idx*elementsPerBucket, elementsPerBucket/slotSize, slotSize))
	}
	return a, nil
}

// TryAlloc returns the address of a free slot of at least size elements,
// preferring the smallest slot size that fits.
func (a *Allocator) TryAlloc(size uint32) (uint32, bool) {
	if size == 0 || size > MaxSlotSize {
		return 0, false
	}
	for _, b := range a.buckets {
		if b.slotSize < size {
			continue
		}
		if addr, ok := b.tryAlloc(); ok {
			a.usedElements += b.slotSize
			return addr, true
		}
	}
	return 0, false
}

// TryDealloc returns the slot at addr to its bucket. A failed dealloc leaves
// every bucket untouched.
func (a *Allocator) TryDealloc(addr uint32) error {
	if addr >= a.totalElements {
		return fmt.Errorf("%w: %d (capacity %d)", ErrAddressOutOfRange, addr, a.totalElements)
	}
	b := a.buckets[a.bucketCount-addr/a.elementsPerBucket-1]
	if err := b.tryDealloc(addr); err != nil {
		return err
	}
	a.usedElements -= b.slotSize
	return nil
}

// SlotSize reports the slot size of the bucket owning addr, or 0 if addr is
// outside the table.
func (a *Allocator) SlotSize(addr uint32) uint32 {
	if addr >= a.totalElements {
		return 0
	}
	return a.buckets[a.bucketCount-addr/a.elementsPerBucket-1].slotSize
}

func (a *Allocator) TotalElements() uint32 { return a.totalElements }
func (a *Allocator) UsedElements() uint32  { return a.usedElements }

// Buckets lists bucket state ordered by ascending slot size.
func (a *Allocator) Buckets() []BucketStats {
	out := make([]BucketStats, 0, len(a.buckets))
	for _, b := range a.buckets {
		out = append(out, BucketStats{
			GlobalOffset: b.globalOffset,
			SlotSize:     b.slotSize,
			SlotCount:    b.slotCount,
			Free:         uint32(len(b.free)),
		})
	}
	return out
}
